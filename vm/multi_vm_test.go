package vm

import (
	"bytes"
	"testing"
)

// ---------------------------------------------------------------------------
// Multi-VM isolation: two instances share no objects or registries
// ---------------------------------------------------------------------------

func TestMultiVM_IndependentTypes(t *testing.T) {
	vm1, _ := newTestVM(t)
	vm2, _ := newTestVM(t)
	if vm1.IntType == vm2.IntType || vm1.None == vm2.None || vm1.True == vm2.True {
		t.Fatal("builtin types and singletons must be per instance")
	}
	if vm1.Exceptions.ValueError == vm2.Exceptions.ValueError {
		t.Fatal("exception classes must be per instance")
	}
	if vm1.NewInt(7) == vm2.NewInt(7) {
		t.Error("small int caches must be per instance")
	}
	if vm1.NewInt(7) != vm1.NewInt(7) {
		t.Error("small ints should be cached within an instance")
	}
	if vm1.ID == vm2.ID {
		t.Error("instances should have distinct ids")
	}
}

func TestMultiVM_IndependentModules(t *testing.T) {
	vm1, _ := newTestVM(t)
	vm2, _ := newTestVM(t)
	runModule(t, vm1, "import sys\nsys.marker = 1\n")
	d := runModule(t, vm2, "import sys\nseen = hasattr(sys, 'marker')\n")
	if global(t, d, "seen") != vm2.False {
		t.Error("sys of one VM leaked into the other")
	}
	if vm1.Module("__main__") == vm2.Module("__main__") {
		t.Error("__main__ modules must differ")
	}
}

func TestMultiVM_IndependentBuiltins(t *testing.T) {
	vm1, out1 := newTestVM(t)
	vm2, out2 := newTestVM(t)
	runModule(t, vm1, "import builtins\nbuiltins.len = lambda x: -1\nprint(len([1]))\n")
	runModule(t, vm2, "print(len([1]))\n")
	if out1.String() != "-1\n" || out2.String() != "1\n" {
		t.Errorf("outputs %q and %q", out1.String(), out2.String())
	}
}

func TestMultiVM_IndependentRecursionLimits(t *testing.T) {
	vm1, _ := newTestVM(t)
	vm2, _ := newTestVM(t)
	if err := vm1.SetRecursionLimit(50); err != nil {
		t.Fatalf("set: %v", err)
	}
	if vm2.Settings().RecursionLimit != DefaultRecursionLimit {
		t.Error("recursion limit leaked between instances")
	}
}

func TestMultiVM_InterleavedGenerators(t *testing.T) {
	src := "def g():\n    for i in range(3):\n        yield i\nit = g()\n"
	vm1, _ := newTestVM(t)
	vm2, _ := newTestVM(t)
	it1 := global(t, runModule(t, vm1, src), "it")
	it2 := global(t, runModule(t, vm2, src), "it")
	for i := range int64(3) {
		a, err := vm1.Next(it1)
		if err != nil {
			t.Fatalf("vm1 next: %v", err)
		}
		b, err := vm2.Next(it2)
		if err != nil {
			t.Fatalf("vm2 next: %v", err)
		}
		wantInt(t, a, i)
		wantInt(t, b, i)
	}
}

func TestMultiVM_SeparateOutput(t *testing.T) {
	var a, b bytes.Buffer
	vm1 := New(Settings{Stdout: &a})
	vm2 := New(Settings{Stdout: &b})
	vm1.Initialize()
	vm2.Initialize()
	if _, err := vm1.RunSource("print('one')", "<a>"); err != nil {
		t.Fatal(err)
	}
	if _, err := vm2.RunSource("print('two')", "<b>"); err != nil {
		t.Fatal(err)
	}
	if a.String() != "one\n" || b.String() != "two\n" {
		t.Errorf("outputs %q and %q", a.String(), b.String())
	}
}
