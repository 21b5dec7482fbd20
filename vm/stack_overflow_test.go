package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Recursion limit
// ---------------------------------------------------------------------------

func TestUnboundedRecursionRaises(t *testing.T) {
	exc := runError(t, "def f(n):\n    return f(n + 1)\nf(0)\n")
	if exc.Type().Name != "RecursionError" {
		t.Fatalf("expected RecursionError, got %s", exc.Type().Name)
	}
	if !strings.HasPrefix(exc.Error(), "RecursionError: maximum recursion depth exceeded") {
		t.Errorf("message = %q", exc.Error())
	}
}

func TestRecursionErrorIsCatchable(t *testing.T) {
	vm, out := newTestVM(t)
	runModule(t, vm, `def f():
    return f()
try:
    f()
except RecursionError:
    print("caught")
print(f.__name__)
`)
	if out.String() != "caught\nf\n" {
		t.Errorf("output = %q", out.String())
	}
	if vm.depth != 0 {
		t.Errorf("depth after run = %d, want 0", vm.depth)
	}
}

func TestRecursionWithinLimit(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, "def f(n):\n    return 0 if n == 0 else 1 + f(n - 1)\nr = f(500)\n")
	wantInt(t, global(t, d, "r"), 500)
}

func TestSetRecursionLimit(t *testing.T) {
	vm, out := newTestVM(t)
	runModule(t, vm, `import sys
sys.setrecursionlimit(60)
print(sys.getrecursionlimit())
def f(n):
    return f(n + 1)
try:
    f(0)
except RecursionError:
    print("limited")
try:
    sys.setrecursionlimit(0)
except ValueError:
    print("rejected")
`)
	if out.String() != "60\nlimited\nrejected\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRecursiveReprIsGuarded(t *testing.T) {
	exc := runError(t, `class Loop:
    def __repr__(self):
        return repr(self)
repr(Loop())
`)
	if exc.Type().Name != "RecursionError" {
		t.Fatalf("expected RecursionError, got %s", exc.Type().Name)
	}
}

func TestSelfReferentialListRepr(t *testing.T) {
	out := runOutput(t, "l = [1]\nl.append(l)\nd = {}\nd['me'] = d\nprint(l, d)\n")
	if out != "[1, [...]] {'me': {...}}\n" {
		t.Errorf("output = %q", out)
	}
}
