package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/adder/pkg/bytecode"
)

func compile(t *testing.T, src string) *bytecode.CodeObject {
	t.Helper()
	code, err := CompileSource(src, bytecode.ModeExec, "<test>", CompileOpts{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return code
}

func ops(code *bytecode.CodeObject) []bytecode.Opcode {
	out := make([]bytecode.Opcode, len(code.Instructions))
	for i, ins := range code.Instructions {
		out[i] = ins.Op
	}
	return out
}

func opsEqual(a, b []bytecode.Opcode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// walk visits code and every code object nested in its constants.
func walk(code *bytecode.CodeObject, fn func(*bytecode.CodeObject)) {
	fn(code)
	for _, k := range code.Constants {
		if cc, ok := k.(bytecode.CodeConst); ok {
			walk(cc.Code, fn)
		}
	}
}

func findCode(t *testing.T, root *bytecode.CodeObject, name string) *bytecode.CodeObject {
	t.Helper()
	var found *bytecode.CodeObject
	walk(root, func(c *bytecode.CodeObject) {
		if c.ObjName == name && found == nil {
			found = c
		}
	})
	if found == nil {
		t.Fatalf("no code object named %q", name)
	}
	return found
}

func TestSimpleAssignment(t *testing.T) {
	code := compile(t, "x = 1\n")
	want := []bytecode.Opcode{bytecode.LoadConst, bytecode.StoreLocal, bytecode.LoadConst, bytecode.ReturnValue}
	if got := ops(code); !opsEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if code.Names[0] != "x" {
		t.Errorf("names = %v", code.Names)
	}
	if len(code.Constants) != 2 {
		t.Errorf("constants = %v", code.Constants)
	}
}

func TestConstantsAreInterned(t *testing.T) {
	code := compile(t, "a = 'x'\nb = 'x'\nc = (1, 2)\nd = (1, 2)\n")
	seen := map[string]int{}
	for _, k := range code.Constants {
		seen[k.String()]++
	}
	for k, n := range seen {
		if n > 1 {
			t.Errorf("constant %s stored %d times", k, n)
		}
	}
}

const sampleProgram = `
import os.path as p
from . import sibling
from pkg.mod import a, b as c

def outer(x, *args, y=2, **kw):
    total = 0
    def inner():
        nonlocal total
        total += x
        return total
    for i in range(10):
        if i % 2 == 0 and i > 4 or not i:
            continue
        elif i == 9:
            break
        total += i
    else:
        total = -1
    while total > 100:
        total //= 2
    try:
        inner()
    except (ValueError, TypeError) as e:
        raise RuntimeError("bad") from e
    except Exception:
        pass
    else:
        total = 1
    finally:
        total = 0
    with open("f") as f, open("g"):
        data = [line for line in f if line]
    return {k: v for k, v in kw.items()}, {*args}, (lambda q: q + x)(1)

class Base:
    "doc"
    attr: int = 3
    def method(self):
        return super().method()

class Derived(Base, metaclass=type):
    @staticmethod
    def helper(a, /, b, *, c):
        a, *rest, z = b
        del rest
        assert a, "a must be set"
        return f"{a!r:>{c}} and {z}"

def gen(n):
    yield n
    x = yield from range(n)
    return [i * j for i in range(3) for j in range(i) if j]

async def coro(session):
    async with session as s:
        async for item in s:
            await item
    return s

x = 1 < 2 < 3
y = x if x else None
z = [*range(3), 4]
w = {**{'a': 1}, 'b': 2}
print(*z, sep=", ", **w)
obj.attr[1:2] += 4
`

func TestStackDepthIsConsistent(t *testing.T) {
	code := compile(t, sampleProgram)
	walk(code, func(c *bytecode.CodeObject) {
		if c.MaxStackSize <= 0 {
			t.Errorf("%s: max stack %d", c.ObjName, c.MaxStackSize)
		}
		if len(c.Locations) != len(c.Instructions) {
			t.Errorf("%s: %d locations for %d instructions", c.ObjName, len(c.Locations), len(c.Instructions))
		}
		for i, ins := range c.Instructions {
			if target, ok := ins.Label(); ok && int(target) > len(c.Instructions) {
				t.Errorf("%s: instruction %d jumps to %d past end", c.ObjName, i, target)
			}
		}
	})
}

func TestOperandsIndexTheirTables(t *testing.T) {
	code := compile(t, sampleProgram)
	walk(code, func(c *bytecode.CodeObject) {
		cells := len(c.Cellvars) + len(c.Freevars)
		for i, ins := range c.Instructions {
			info := bytecode.GetOpcodeInfo(ins.Op)
			switch {
			case info.HasName && int(ins.Arg) >= len(c.Names):
				t.Errorf("%s@%d %s: name index out of range", c.ObjName, i, ins)
			case info.HasConst && int(ins.Arg) >= len(c.Constants):
				t.Errorf("%s@%d %s: const index out of range", c.ObjName, i, ins)
			case info.HasLocal && int(ins.Arg) >= len(c.Varnames):
				t.Errorf("%s@%d %s: local index out of range", c.ObjName, i, ins)
			case info.HasCell && int(ins.Arg) >= cells:
				t.Errorf("%s@%d %s: cell index out of range", c.ObjName, i, ins)
			}
		}
	})
}

func TestFunctionSignature(t *testing.T) {
	code := compile(t, sampleProgram)
	outer := findCode(t, code, "outer")
	if outer.ArgCount != 1 || outer.KwOnlyArgCount != 1 {
		t.Errorf("outer counts = %d/%d", outer.ArgCount, outer.KwOnlyArgCount)
	}
	if !strings.HasPrefix(strings.Join(outer.Varnames, ","), "x,y,args,kw") {
		t.Errorf("outer varnames = %v", outer.Varnames)
	}
	if outer.Flags&bytecode.FlagHasVarargs == 0 || outer.Flags&bytecode.FlagHasVarKeywords == 0 {
		t.Errorf("outer flags = %s", outer.Flags)
	}
	helper := findCode(t, code, "helper")
	if helper.PosOnlyArgCount != 1 || helper.ArgCount != 2 || helper.KwOnlyArgCount != 1 {
		t.Errorf("helper counts = %d/%d/%d", helper.PosOnlyArgCount, helper.ArgCount, helper.KwOnlyArgCount)
	}
}

func TestClosureCells(t *testing.T) {
	code := compile(t, sampleProgram)
	outer := findCode(t, code, "outer")
	inner := findCode(t, code, "inner")

	hasCell := func(names []string, want string) bool {
		for _, n := range names {
			if n == want {
				return true
			}
		}
		return false
	}
	for _, name := range []string{"total", "x"} {
		if !hasCell(outer.Cellvars, name) {
			t.Errorf("outer cellvars %v missing %s", outer.Cellvars, name)
		}
		if !hasCell(inner.Freevars, name) {
			t.Errorf("inner freevars %v missing %s", inner.Freevars, name)
		}
	}
	// x is an argument, so its cell is seeded from the argument slot.
	if outer.Cell2Arg == nil {
		t.Fatalf("outer has no cell2arg")
	}
	for i, name := range outer.Cellvars {
		if name == "x" && outer.Cell2Arg[i] != 0 {
			t.Errorf("cell2arg[x] = %d, want 0", outer.Cell2Arg[i])
		}
	}
}

func TestClassCell(t *testing.T) {
	code := compile(t, sampleProgram)
	base := findCode(t, code, "Base")
	if len(base.Cellvars) != 1 || base.Cellvars[0] != "__class__" {
		t.Fatalf("Base cellvars = %v", base.Cellvars)
	}
	method := findCode(t, code, "method")
	if len(method.Freevars) != 1 || method.Freevars[0] != "__class__" {
		t.Errorf("method freevars = %v", method.Freevars)
	}
	n := len(base.Instructions)
	if base.Instructions[n-1].Op != bytecode.ReturnValue || base.Instructions[n-2].Op != bytecode.StoreLocal {
		t.Errorf("class body does not return its cell:\n%s", base.DisassembleString(false))
	}
}

func TestQualifiedNames(t *testing.T) {
	code := compile(t, `
def f():
    def g():
        pass
    class C:
        def m(self):
            pass
`)
	var qualnames []string
	walk(code, func(c *bytecode.CodeObject) {
		for i, ins := range c.Instructions {
			if ins.Op != bytecode.MakeFunction {
				continue
			}
			if s, ok := c.Constants[c.Instructions[i-1].Arg].(bytecode.StrConst); ok {
				qualnames = append(qualnames, string(s))
			}
		}
	})
	want := map[string]bool{"f": true, "f.<locals>.g": true, "f.<locals>.C.m": true}
	for _, q := range qualnames {
		delete(want, q)
	}
	if len(want) > 0 {
		t.Errorf("missing qualnames %v in %v", want, qualnames)
	}
}

func TestGeneratorAndCoroutineFlags(t *testing.T) {
	code := compile(t, sampleProgram)
	if !findCode(t, code, "gen").IsGenerator() {
		t.Errorf("gen not marked as generator")
	}
	if !findCode(t, code, "coro").IsCoroutine() {
		t.Errorf("coro not marked as coroutine")
	}
	if findCode(t, code, "<listcomp>").IsGenerator() {
		t.Errorf("list comprehension marked as generator")
	}
}

func TestGeneratorExpression(t *testing.T) {
	code := compile(t, "g = (x * 2 for x in data)\n")
	genexpr := findCode(t, code, "<genexpr>")
	if !genexpr.IsGenerator() {
		t.Fatalf("genexpr not a generator")
	}
	if genexpr.ArgCount != 1 || genexpr.Varnames[0] != ".0" {
		t.Errorf("genexpr args = %d %v", genexpr.ArgCount, genexpr.Varnames)
	}
}

func TestAssertStrippedWhenOptimized(t *testing.T) {
	src := "assert x, 'msg'\n"
	plain := compile(t, src)
	optimized, err := CompileSource(src, bytecode.ModeExec, "<test>", CompileOpts{Optimize: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(optimized.Instructions) >= len(plain.Instructions) {
		t.Errorf("optimized %d instructions, plain %d", len(optimized.Instructions), len(plain.Instructions))
	}
}

func TestDocstringDroppedAtOptimizeTwo(t *testing.T) {
	src := "\"module doc\"\n"
	code, err := CompileSource(src, bytecode.ModeExec, "<test>", CompileOpts{Optimize: 2})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range code.Names {
		if n == "__doc__" {
			t.Errorf("__doc__ stored with Optimize=2")
		}
	}
	if !strings.Contains(compile(t, src).DisassembleString(false), "__doc__") {
		t.Errorf("__doc__ not stored by default")
	}
}

func TestEvalAndSingleModes(t *testing.T) {
	code, err := CompileSource("1 + 2", bytecode.ModeEval, "<eval>", CompileOpts{})
	if err != nil {
		t.Fatal(err)
	}
	want := []bytecode.Opcode{bytecode.LoadConst, bytecode.LoadConst, bytecode.BinaryOperation, bytecode.ReturnValue}
	if got := ops(code); !opsEqual(got, want) {
		t.Errorf("eval ops = %v, want %v", got, want)
	}

	code, err = CompileSource("x\n", bytecode.ModeSingle, "<stdin>", CompileOpts{})
	if err != nil {
		t.Fatal(err)
	}
	want = []bytecode.Opcode{bytecode.LoadNameAny, bytecode.Duplicate, bytecode.PrintExpr, bytecode.ReturnValue}
	if got := ops(code); !opsEqual(got, want) {
		t.Errorf("single ops = %v, want %v", got, want)
	}
}

func TestDeadCodeIsRemoved(t *testing.T) {
	code := compile(t, "def f():\n    return 1\n    x = 2\n")
	f := findCode(t, code, "f")
	for _, ins := range f.Instructions {
		if ins.Op == bytecode.StoreFast {
			t.Fatalf("unreachable store kept:\n%s", f.DisassembleString(false))
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind CompileErrorType
	}{
		{"break outside loop", "break\n", ErrInvalidBreak},
		{"continue outside loop", "continue\n", ErrInvalidContinue},
		{"return outside function", "return 1\n", ErrInvalidReturn},
		{"yield outside function", "yield 1\n", ErrInvalidYield},
		{"await outside async", "def f():\n    await x\n", ErrInvalidAwait},
		{"yield in async", "async def f():\n    yield 1\n", ErrAsyncYield},
		{"yield from in async", "async def f():\n    yield from x\n", ErrInvalidYieldFrom},
		{"async with outside async", "def f():\n    async with x:\n        pass\n", ErrAsyncOutsideFunction},
		{"two starred targets", "a, *b, *c = d\n", ErrMultipleStarArgs},
		{"starred load", "x = *a\n", ErrInvalidStarExpr},
		{"assign to call", "f() = 1\n", ErrSyntax},
		{"delete literal", "del 1\n", ErrSyntax},
		{"delete __debug__", "del __debug__\n", ErrForbiddenName},
		{"keyword __debug__", "f(__debug__=1)\n", ErrForbiddenName},
		{"nonlocal at module", "nonlocal x\n", ErrScope},
		{"star import in function", "def f():\n    from m import *\n", ErrScope},
		{"syntax", "x = = 1\n", ErrSyntax},
		{"indentation", "if x:\npass\n", ErrIndentation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource(tt.src, bytecode.ModeExec, "<test>", CompileOpts{})
			if err == nil {
				t.Fatalf("expected error")
			}
			ce, ok := err.(*CompileError)
			if !ok {
				t.Fatalf("error %T %v is not a CompileError", err, err)
			}
			if ce.Kind != tt.kind {
				t.Errorf("kind = %d (%s), want %d", ce.Kind, ce.Message(), tt.kind)
			}
			if ce.Location.Line == 0 {
				t.Errorf("error has no location: %v", ce)
			}
		})
	}
}

func TestBreakMessage(t *testing.T) {
	_, err := CompileSource("while 1:\n    pass\nbreak\n", bytecode.ModeExec, "<test>", CompileOpts{})
	if err == nil || !strings.Contains(err.Error(), "'break' outside loop") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("err = %v, want line 3", err)
	}
}

func TestIncompleteInput(t *testing.T) {
	_, err := CompileSource("def f():\n", bytecode.ModeSingle, "<stdin>", CompileOpts{})
	ce, ok := err.(*CompileError)
	if !ok || !ce.Incomplete {
		t.Fatalf("err = %#v, want incomplete CompileError", err)
	}
}
