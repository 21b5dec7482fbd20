package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/adder/pkg/bytecode"
)

// cacheEntry is the content of one .adc file.
type cacheEntry struct {
	Version int               `cbor:"1,keyasint"`
	Path    string            `cbor:"2,keyasint"`
	Digest  [sha256.Size]byte `cbor:"3,keyasint"`
	Code    []byte            `cbor:"4,keyasint"`
}

// diskCache stores compiled modules as <sha256 of source>.adc files.
type diskCache struct {
	dir string
}

func newDiskCache(dir string) *diskCache {
	return &diskCache{dir: dir}
}

func (c *diskCache) file(digest [sha256.Size]byte) string {
	return filepath.Join(c.dir, hex.EncodeToString(digest[:])+".adc")
}

// Load returns the cached code for source, if an entry compiled from the
// same text at the same path exists. Unreadable entries count as misses.
func (c *diskCache) Load(path string, source []byte) (*bytecode.CodeObject, bool) {
	digest := sha256.Sum256(source)
	data, err := os.ReadFile(c.file(digest))
	if err != nil {
		return nil, false
	}
	var e cacheEntry
	if err := cbor.Unmarshal(data, &e); err != nil {
		log.Warningf("discarding cache entry for %s: %s", path, err.Error())
		return nil, false
	}
	if e.Version != bytecode.FormatVersion || e.Path != path || e.Digest != digest {
		return nil, false
	}
	code, err := bytecode.Unmarshal(e.Code)
	if err != nil {
		log.Warningf("discarding cache entry for %s: %s", path, err.Error())
		return nil, false
	}
	log.Debugf("cache hit for %s", path)
	return code, true
}

// Store writes code for source. The file is renamed into place so readers
// never see a partial entry.
func (c *diskCache) Store(path string, source []byte, code *bytecode.CodeObject) error {
	blob, err := bytecode.Marshal(code)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(source)
	data, err := cbor.Marshal(cacheEntry{
		Version: bytecode.FormatVersion,
		Path:    path,
		Digest:  digest,
		Code:    blob,
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".adc-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.file(digest))
}
