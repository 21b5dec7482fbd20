package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/adder/pkg/bytecode"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newPathVM(t *testing.T, files map[string]string) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	vm := New(Settings{Stdout: &out, Path: []string{writeTree(t, files)}})
	vm.Initialize()
	return vm, &out
}

func TestImportFrozen(t *testing.T) {
	vm, out := newTestVM(t)
	runModule(t, vm, "import __hello__\nimport __hello__\nprint(__hello__.initialized)\n")
	if out.String() != "Hello world!\nTrue\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestImportBuiltinModules(t *testing.T) {
	out := runOutput(t, `import math, sys
from math import sqrt as root
print(root(16.0), math.floor(2.5), "math" in sys.builtin_module_names)
print(sys.modules["math"] is math)
`)
	if out != "4.0 2 True\nTrue\n" {
		t.Errorf("output = %q", out)
	}
}

func TestImportFromPath(t *testing.T) {
	vm, out := newPathVM(t, map[string]string{
		"helper.py": "print('loading helper')\nvalue = 41\ndef bump(x):\n    return x + 1\n",
		"pkg/__init__.py": "from .sub import name\n",
		"pkg/sub.py": "name = 'sub of ' + __package__\n",
		"pkg/deep/__init__.py": "",
		"pkg/deep/leaf.py": "from .. import sub\nfrom ..sub import name as n\nleaf = n\n",
	})
	runModule(t, vm, `import helper
import helper
print(helper.bump(helper.value))
import pkg.deep.leaf
print(pkg.name, pkg.deep.leaf.leaf)
from pkg import sub
print(sub.__name__, sub.__file__.endswith("sub.py"))
`)
	want := "loading helper\n42\nsub of pkg sub of pkg\npkg.sub True\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestImportStar(t *testing.T) {
	vm, out := newPathVM(t, map[string]string{
		"public.py":  "a = 1\n_hidden = 2\n",
		"limited.py": "__all__ = ['x']\nx = 'x'\ny = 'y'\n",
	})
	runModule(t, vm, `from public import *
from limited import *
print(a, "_hidden" in globals(), x, "y" in globals())
`)
	if out.String() != "1 False x False\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestImportErrors(t *testing.T) {
	vm, out := newPathVM(t, map[string]string{
		"broken.py": "raise ValueError('bad module')\n",
		"plain.py":  "z = 1\n",
	})
	runModule(t, vm, `import sys
try:
    import nowhere
except ModuleNotFoundError as e:
    print(e, e.name)
try:
    import broken
except ValueError:
    print("broken not cached:", "broken" not in sys.modules)
try:
    from plain import missing
except ImportError as e:
    print(str(e).startswith("cannot import name 'missing' from 'plain'"))
try:
    import plain.child
except ModuleNotFoundError as e:
    print("not a package" in str(e))
try:
    from . import x
except ImportError as e:
    print(e)
`)
	want := "No module named 'nowhere' nowhere\n" +
		"broken not cached: True\n" +
		"True\n" +
		"True\n" +
		"attempted relative import with no known parent package\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestRegisterBuiltinModule(t *testing.T) {
	vm := New(Settings{})
	calls := 0
	vm.RegisterBuiltinModule("native", func(vm *VM, m *Object) error {
		calls++
		m.dict.SetStr(vm.Context, "answer", vm.NewInt(42))
		return nil
	})
	vm.Initialize()
	d := runModule(t, vm, "import native\nimport native as again\nr = again.answer\n")
	wantInt(t, global(t, d, "r"), 42)
	if calls != 1 {
		t.Errorf("init ran %d times", calls)
	}
}

type memoryCache struct {
	entries map[string]*bytecode.CodeObject
	loads   int
}

func (c *memoryCache) Load(path string, source []byte) (*bytecode.CodeObject, bool) {
	code, ok := c.entries[path+"\x00"+string(source)]
	if ok {
		c.loads++
	}
	return code, ok
}

func (c *memoryCache) Store(path string, source []byte, code *bytecode.CodeObject) error {
	c.entries[path+"\x00"+string(source)] = code
	return nil
}

func TestImportUsesCodeCache(t *testing.T) {
	root := writeTree(t, map[string]string{"cached.py": "v = 3\n"})
	cache := &memoryCache{entries: map[string]*bytecode.CodeObject{}}
	for range 2 {
		vm := New(Settings{Path: []string{root}, Cache: cache})
		vm.Initialize()
		d := runModule(t, vm, "import cached\nr = cached.v\n")
		wantInt(t, global(t, d, "r"), 3)
	}
	if len(cache.entries) != 1 || cache.loads != 1 {
		t.Errorf("entries %d, loads %d", len(cache.entries), cache.loads)
	}
}

func TestRunModule(t *testing.T) {
	vm, out := newPathVM(t, map[string]string{"script.py": "print(__name__)\n"})
	if _, err := vm.RunModule("script"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "__main__" {
		t.Errorf("output = %q", out.String())
	}
	if _, err := vm.RunModule("absent"); !vm.errorMatches(err, vm.Exceptions.ModuleNotFoundError) {
		t.Errorf("expected ModuleNotFoundError, got %v", err)
	}
}
