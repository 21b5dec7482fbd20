package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[runtime]
recursion-limit = 200
optimize = 1
trace = true
hash-seed = 7

[modules]
path = ["src", "lib"]
frozen = ["__hello__"]

[dependencies]
helper = { path = "../helper" }

[log]
verbosity = 2
file = "adder.log"

[cache]
dir = "build/cache"
enabled = false
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	want := Runtime{RecursionLimit: 200, Optimize: 1, Trace: true, HashSeed: 7}
	if m.Runtime != want {
		t.Errorf("runtime = %+v, want %+v", m.Runtime, want)
	}
	if !reflect.DeepEqual(m.Modules.Path, []string{"src", "lib"}) {
		t.Errorf("module path = %v", m.Modules.Path)
	}
	if !reflect.DeepEqual(m.Modules.Frozen, []string{"__hello__"}) {
		t.Errorf("frozen = %v", m.Modules.Frozen)
	}
	if dep, ok := m.Dependencies["helper"]; !ok || dep.Path != "../helper" {
		t.Errorf("helper dep = %v, want path ../helper", m.Dependencies["helper"])
	}
	if m.Log.Verbosity != 2 || m.Log.File != "adder.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if m.CacheDir() != "" {
		t.Errorf("disabled cache dir = %q", m.CacheDir())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"minimal\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Modules.Path) != 1 || m.Modules.Path[0] != "." {
		t.Errorf("default module path = %v, want [.]", m.Modules.Path)
	}
	if m.CacheDir() != filepath.Join(m.Dir, ".adder", "cache") {
		t.Errorf("default cache dir = %q", m.CacheDir())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[project\n", "parse error"},
		{"unknown key", "[runtime]\nrecursion_limit = 5\n", "unknown key runtime.recursion_limit"},
		{"negative limit", "[runtime]\nrecursion-limit = -1\n", "recursion-limit must be positive"},
		{"wrong type", "[runtime]\noptimize = \"yes\"\n", "parse error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no adder.toml exists")
	}
}

func TestModulePaths(t *testing.T) {
	m := &Manifest{
		Dir:     "/app",
		Modules: Modules{Path: []string{"src", "/opt/shared"}},
	}

	paths := m.ModulePaths()
	if !reflect.DeepEqual(paths, []string{"/app/src", "/opt/shared"}) {
		t.Errorf("paths = %v", paths)
	}
}

func TestSettings(t *testing.T) {
	m := &Manifest{
		Dir:     "/app",
		Runtime: Runtime{RecursionLimit: 300, Optimize: 2, Trace: true, HashSeed: 9},
		Modules: Modules{Path: []string{"src"}},
	}
	s := m.Settings([]ResolvedDep{{Name: "dep", Paths: []string{"/deps/dep/src"}}})
	if s.RecursionLimit != 300 || s.Optimize != 2 || !s.TraceInstructions || s.HashSeed != 9 {
		t.Errorf("settings = %+v", s)
	}
	if !reflect.DeepEqual(s.Path, []string{"/app/src", "/deps/dep/src"}) {
		t.Errorf("path = %v", s.Path)
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lock.toml")

	lf := &LockFile{
		Deps: []LockedDep{
			{Name: "vectors", Git: "https://example.com/vectors.git", Commit: "abc123", Tag: "v0.5.0"},
			{Name: "helper", Path: "../helper"},
		},
	}
	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	if len(loaded.Deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(loaded.Deps))
	}
	// sorted by name on write
	if loaded.Deps[0].Name != "helper" || loaded.Deps[1].Commit != "abc123" {
		t.Errorf("deps = %+v", loaded.Deps)
	}

	if found := loaded.FindLockedDep("helper"); found == nil || found.Path != "../helper" {
		t.Errorf("FindLockedDep(helper) = %v, want path ../helper", found)
	}
	if notFound := loaded.FindLockedDep("nonexistent"); notFound != nil {
		t.Errorf("FindLockedDep(nonexistent) = %v, want nil", notFound)
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/lock.toml")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
	if lf.FindLockedDep("x") != nil {
		t.Error("nil lock file should find nothing")
	}
}
