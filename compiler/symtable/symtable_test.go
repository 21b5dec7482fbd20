package symtable

import (
	"strings"
	"testing"

	"github.com/chazu/adder/pkg/ast"
	"github.com/chazu/adder/pkg/parser"
)

func build(t *testing.T, src string) (*ast.Module, *Table) {
	t.Helper()
	mod, err := parser.ParseModule(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	table, err := Build(mod)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return mod, table
}

func scopeOf(t *testing.T, table *Table, name string) Scope {
	t.Helper()
	sym := table.Lookup(name)
	if sym == nil {
		t.Fatalf("%s: no symbol %q\n%s", table.Name, name, table.Dump())
	}
	return sym.Scope
}

func TestModuleAndFunctionScopes(t *testing.T) {
	mod, top := build(t, `
x = 1
def f(a):
    b = a + x
    return len(b)
`)
	if got := scopeOf(t, top, "x"); got != ScopeLocal {
		t.Errorf("module x = %v, want local", got)
	}
	f := top.ScopeFor(mod.Body[1])
	if f == nil || f.Type != TableFunction {
		t.Fatalf("missing function table")
	}
	tests := []struct {
		name string
		want Scope
	}{
		{"a", ScopeLocal},
		{"b", ScopeLocal},
		{"x", ScopeGlobalImplicit},
		{"len", ScopeGlobalImplicit},
	}
	for _, tt := range tests {
		if got := scopeOf(t, f, tt.name); got != tt.want {
			t.Errorf("f.%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if !f.Lookup("a").IsParameter() {
		t.Error("a should be a parameter")
	}
}

func TestClosureCellAndFree(t *testing.T) {
	mod, top := build(t, `
def outer():
    n = 0
    def middle():
        def inner():
            nonlocal n
            n += 1
        return inner
    return middle
`)
	outer := top.ScopeFor(mod.Body[0])
	if got := scopeOf(t, outer, "n"); got != ScopeCell {
		t.Errorf("outer.n = %v, want cell", got)
	}
	middleDef := mod.Body[0].(*ast.FunctionDef).Body[1]
	middle := top.ScopeFor(middleDef)
	if got := scopeOf(t, middle, "n"); got != ScopeFree {
		t.Errorf("middle.n = %v, want free pass-through", got)
	}
	inner := top.ScopeFor(middleDef.(*ast.FunctionDef).Body[0])
	if got := scopeOf(t, inner, "n"); got != ScopeFree {
		t.Errorf("inner.n = %v, want free", got)
	}
	if cells := outer.Scoped(ScopeCell); len(cells) != 1 || cells[0] != "n" {
		t.Errorf("outer cells = %v", cells)
	}
}

func TestParameterCapturedBecomesCell(t *testing.T) {
	mod, top := build(t, "def f(a):\n    return lambda: a\n")
	f := top.ScopeFor(mod.Body[0])
	sym := f.Lookup("a")
	if sym.Scope != ScopeCell || !sym.IsParameter() {
		t.Errorf("a = %v, parameter=%v", sym.Scope, sym.IsParameter())
	}
	if len(f.Children) != 1 || scopeOf(t, f.Children[0], "a") != ScopeFree {
		t.Errorf("lambda does not see a as free\n%s", top.Dump())
	}
}

func TestClassScopeIsSkipped(t *testing.T) {
	mod, top := build(t, `
def f():
    y = 1
    class C:
        y = 2
        def m(self):
            return y
    return C
`)
	fn := mod.Body[0].(*ast.FunctionDef)
	c := top.ScopeFor(fn.Body[1])
	m := top.ScopeFor(fn.Body[1].(*ast.ClassDef).Body[1])
	if got := scopeOf(t, m, "y"); got != ScopeFree {
		t.Errorf("m.y = %v, want free (function binding, not class)", got)
	}
	if got := scopeOf(t, c, "y"); got != ScopeLocal {
		t.Errorf("C.y = %v, want local", got)
	}
	if !c.Lookup("y").IsFreeClass() {
		t.Error("C.y should be marked as passing through the class")
	}
	if got := scopeOf(t, top.ScopeFor(fn), "y"); got != ScopeCell {
		t.Errorf("f.y = %v, want cell", got)
	}
}

func TestSuperCreatesClassCell(t *testing.T) {
	mod, top := build(t, `
class A:
    def m(self):
        return super().m()
    def plain(self):
        return 1
`)
	cls := top.ScopeFor(mod.Body[0])
	if !cls.NeedsClassCell() {
		t.Fatalf("class should need a __class__ cell\n%s", top.Dump())
	}
	m := top.ScopeFor(mod.Body[0].(*ast.ClassDef).Body[0])
	if got := scopeOf(t, m, "__class__"); got != ScopeFree {
		t.Errorf("m.__class__ = %v", got)
	}
	plain := top.ScopeFor(mod.Body[0].(*ast.ClassDef).Body[1])
	if plain.Lookup("__class__") != nil {
		t.Error("plain method should not capture __class__")
	}
}

func TestGlobalDeclaration(t *testing.T) {
	mod, top := build(t, "def f():\n    global g\n    g = 1\n")
	f := top.ScopeFor(mod.Body[0])
	if got := scopeOf(t, f, "g"); got != ScopeGlobalExplicit {
		t.Errorf("g = %v", got)
	}
}

func TestComprehensionScope(t *testing.T) {
	mod, top := build(t, "def f(xs, k):\n    return [x * k for x in xs]\n")
	f := top.ScopeFor(mod.Body[0])
	if len(f.Children) != 1 {
		t.Fatalf("children = %d", len(f.Children))
	}
	comp := f.Children[0]
	if !comp.Comprehension {
		t.Error("comprehension flag not set")
	}
	if !comp.Lookup(".0").IsParameter() {
		t.Error(".0 should be a parameter")
	}
	if got := scopeOf(t, comp, "k"); got != ScopeFree {
		t.Errorf("comp.k = %v", got)
	}
	if comp.Lookup("xs") != nil {
		t.Error("outermost iterable should be evaluated in the enclosing scope")
	}
	if got := scopeOf(t, f, "k"); got != ScopeCell {
		t.Errorf("f.k = %v", got)
	}
}

func TestScopeErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"nonlocal x\n", "nonlocal declaration not allowed at module level"},
		{"def f():\n    nonlocal x\n", "no binding for nonlocal 'x' found"},
		{"def f(a):\n    global a\n", "is parameter and global"},
		{"def f():\n    x = 1\n    global x\n", "assigned to before global declaration"},
		{"def f():\n    print(x)\n    global x\n", "used prior to global declaration"},
		{"def f():\n    from m import *\n", "import * only allowed at module level"},
	}
	for _, tt := range tests {
		mod, err := parser.ParseModule(tt.src)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.src, err)
		}
		_, err = Build(mod)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%q: got %v, want %q", tt.src, err, tt.want)
		}
	}
}
