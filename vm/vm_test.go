package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/joomcode/errorx"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	vm := New(Settings{Stdout: &out, Stderr: &out})
	vm.Initialize()
	return vm, &out
}

// runModule runs src as __main__ and returns the module namespace.
func runModule(t *testing.T, vm *VM, src string) *Dict {
	t.Helper()
	m, err := vm.RunSource(src, "<test>")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return m.dict
}

// runOutput runs src in a fresh VM and returns what it printed.
func runOutput(t *testing.T, src string) string {
	t.Helper()
	vm, out := newTestVM(t)
	runModule(t, vm, src)
	return out.String()
}

// runError runs src in a fresh VM and returns the uncaught exception.
func runError(t *testing.T, src string) *BaseException {
	t.Helper()
	vm, _ := newTestVM(t)
	_, err := vm.RunSource(src, "<test>")
	if err == nil {
		t.Fatalf("expected an exception")
	}
	exc, ok := AsException(err)
	if !ok {
		t.Fatalf("expected a language exception, got %v", err)
	}
	return exc
}

func global(t *testing.T, d *Dict, name string) *Object {
	t.Helper()
	v := d.GetStr(name)
	if v == nil {
		t.Fatalf("%s is not defined", name)
	}
	return v
}

func wantInt(t *testing.T, o *Object, want int64) {
	t.Helper()
	got, ok := asInt(o)
	if !ok || o.typ.Name != "int" {
		t.Fatalf("expected int %d, got %s object", want, o.typ.Name)
	}
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

type programCase struct {
	name string
	src  string
	want string
}

func runPrograms(t *testing.T, cases []programCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := runOutput(t, tc.src); got != tc.want {
				t.Errorf("output mismatch\n got: %q\nwant: %q", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestNewVM(t *testing.T) {
	vm := New(Settings{})
	if vm.Settings().RecursionLimit != DefaultRecursionLimit {
		t.Errorf("recursion limit = %d, want %d", vm.Settings().RecursionLimit, DefaultRecursionLimit)
	}
	if vm.Builtins() != nil {
		t.Error("builtins should not exist before Initialize")
	}
	vm.Initialize()
	if vm.Builtins() == nil || vm.Sys() == nil {
		t.Fatal("Initialize should create builtins and sys")
	}
	if vm.Module("builtins") != vm.Builtins() {
		t.Error("builtins should be registered in sys.modules")
	}
}

func TestInitializeTwicePanics(t *testing.T) {
	vm := New(Settings{})
	vm.Initialize()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("second Initialize should panic")
		}
		if err, ok := r.(error); !ok || !errorx.IsOfType(err, errorx.IllegalState) {
			t.Errorf("unexpected panic value %v", r)
		}
	}()
	vm.Initialize()
}

func TestRunBeforeInitialize(t *testing.T) {
	vm := New(Settings{})
	code, err := compiler.CompileSource("x = 1", bytecode.ModeExec, "<test>", compiler.CompileOpts{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := vm.RunCode(code, NewDict()); err == nil {
		t.Fatal("running an uninitialized VM should fail")
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestFunctionReturnsSum(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, "def f(): return 1 + 2\n")
	res, err := vm.CallPositional(global(t, d, "f"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	wantInt(t, res, 3)
}

func TestTryExceptFinallyAssignments(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, `x = 0
try:
    x = 1
    raise ValueError("boom")
except ValueError:
    x = 2
finally:
    x += 10
`)
	wantInt(t, global(t, d, "x"), 12)
	if exc := vm.currentException(); exc != nil {
		t.Errorf("no exception should remain handled, got %v", exc)
	}
}

func TestBreakLeavesLoopVariable(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, `def f():
    for i in range(3):
        if i == 1:
            break
    return i

r = f()
`)
	wantInt(t, global(t, d, "r"), 1)
}

func TestGeneratorYieldsThenStops(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, "def g():\n    yield 1\n    yield 2\n\ngen = g()\n")
	gen := global(t, d, "gen")
	co, ok := gen.Payload.(*Coro)
	if !ok {
		t.Fatalf("g() returned %s", gen.typ.Name)
	}
	for _, want := range []int64{1, 2} {
		v, err := vm.coroResult(co.send(vm, vm.None))
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		wantInt(t, v, want)
	}
	_, err := vm.coroResult(co.send(vm, vm.None))
	if !vm.errorMatches(err, vm.Exceptions.StopIteration) {
		t.Fatalf("third send: expected StopIteration, got %v", err)
	}
}

func TestMultipleInheritanceMRO(t *testing.T) {
	vm, _ := newTestVM(t)
	d := runModule(t, vm, "class A: pass\nclass B: pass\nclass C(A, B): pass\n")
	c, ok := asType(global(t, d, "C"))
	if !ok {
		t.Fatal("C is not a type")
	}
	var names []string
	for _, m := range c.MRO {
		names = append(names, m.Name)
	}
	if got := strings.Join(names, " "); got != "C A B object" {
		t.Errorf("MRO = %s", got)
	}
}

func TestFinallyRaiseReplacesReturn(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "return replaced",
			src: `def f():
    try:
        try:
            return 1
        finally:
            raise KeyError("inner")
    finally:
        pass

try:
    f()
except KeyError as e:
    print(e.args[0], e.__context__ is None)
`,
			want: "inner True\n",
		},
		{
			name: "raise replaced",
			src: `def f():
    try:
        raise ValueError("outer")
    finally:
        raise KeyError("inner")

try:
    f()
except KeyError as e:
    print(type(e.__context__).__name__, e.__context__.args[0], e.__cause__)
`,
			want: "ValueError outer None\n",
		},
	})
}

func TestInconsistentMRO(t *testing.T) {
	exc := runError(t, `class A: pass
class B: pass
class C(A, B): pass
class D(B, A): pass
class E(C, D): pass
`)
	if exc.Type().Name != "TypeError" {
		t.Fatalf("expected TypeError, got %s", exc.Type().Name)
	}
	if !strings.Contains(exc.Error(), "consistent method resolution") {
		t.Errorf("unexpected message %q", exc.Error())
	}
}

// ---------------------------------------------------------------------------
// Language features end to end
// ---------------------------------------------------------------------------

func TestClosures(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "counter",
			src: `def counter():
    n = 0
    def inc():
        nonlocal n
        n += 1
        return n
    return inc

c = counter()
c()
print(c(), c())
`,
			want: "2 3\n",
		},
		{
			name: "captured argument",
			src: `def adder(k):
    return lambda x: x + k

print(adder(5)(10))
`,
			want: "15\n",
		},
		{
			name: "pass through intermediate scope",
			src: `def outer():
    v = "deep"
    def middle():
        def inner():
            return v
        return inner
    return middle()()

print(outer())
`,
			want: "deep\n",
		},
	})
}

func TestClasses(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "super and init",
			src: `class Base:
    def __init__(self, x):
        self.x = x
    def describe(self):
        return "base %d" % self.x

class Child(Base):
    def __init__(self):
        super().__init__(7)
    def describe(self):
        return "child/" + super().describe()

print(Child().describe())
`,
			want: "child/base 7\n",
		},
		{
			name: "property",
			src: `class Temp:
    def __init__(self):
        self._c = 0
    @property
    def c(self):
        return self._c
    @c.setter
    def c(self, v):
        self._c = v * 2

t = Temp()
t.c = 21
print(t.c)
`,
			want: "42\n",
		},
		{
			name: "static and class methods",
			src: `class K:
    count = 3
    @staticmethod
    def twice(x):
        return 2 * x
    @classmethod
    def total(cls):
        return cls.count

print(K.twice(4), K().total(), K.total())
`,
			want: "8 3 3\n",
		},
		{
			name: "reflected operator",
			src: `class Meters:
    def __init__(self, n):
        self.n = n
    def __radd__(self, other):
        return Meters(other + self.n)

print((5 + Meters(2)).n)
`,
			want: "7\n",
		},
		{
			name: "dunder repr and eq",
			src: `class P:
    def __init__(self, a):
        self.a = a
    def __repr__(self):
        return "P(%r)" % (self.a,)
    def __eq__(self, other):
        return isinstance(other, P) and other.a == self.a

print([P("x")], P(1) == P(1), P(1) != P(2))
`,
			want: "[P('x')] True True\n",
		},
	})
}

func TestUnsupportedOperandMessage(t *testing.T) {
	exc := runError(t, "1 + 'a'\n")
	if got := exc.Error(); got != "TypeError: unsupported operand type(s) for +: 'int' and 'str'" {
		t.Errorf("message = %q", got)
	}
}

func TestComprehensionsAndUnpacking(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "list dict set",
			src: `sq = [x * x for x in range(5) if x % 2 == 0]
d = {k: v for k, v in zip("ab", (1, 2))}
s = {c for c in "hello"}
print(sq, d, len(s))
`,
			want: "[0, 4, 16] {'a': 1, 'b': 2} 4\n",
		},
		{
			name: "starred",
			src: `first, *rest = [1, 2, 3]
print(first, rest, [*rest, *"ab"])
`,
			want: "1 [2, 3] [2, 3, 'a', 'b']\n",
		},
		{
			name: "keyword and star args",
			src: `def f(a, b=2, *args, c, **kw):
    return (a, b, args, c, sorted(kw))

print(f(1, c=3), f(1, 2, 3, c=4, z=5, y=6))
`,
			want: "(1, 2, (), 3, []) (1, 2, (3,), 4, ['y', 'z'])\n",
		},
	})
}

const contextManager = `class CM:
    def __init__(self, name, suppress=False):
        self.name = name
        self.suppress = suppress
    def __enter__(self):
        print("enter", self.name)
        return self.name
    def __exit__(self, t, v, tb):
        print("exit", self.name, t.__name__ if t else None)
        return self.suppress
`

func TestWithStatement(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "normal exit",
			src: contextManager + `with CM("a") as v:
    print("body", v)
print("after")
`,
			want: "enter a\nbody a\nexit a None\nafter\n",
		},
		{
			name: "suppressed",
			src: contextManager + `with CM("a", True):
    raise ValueError("x")
print("after")
`,
			want: "enter a\nexit a ValueError\nafter\n",
		},
		{
			name: "propagated",
			src: contextManager + `try:
    with CM("a"):
        raise KeyError("k")
    print("not reached")
except KeyError as e:
    print("caught", e.args)
`,
			want: "enter a\nexit a KeyError\ncaught ('k',)\n",
		},
		{
			name: "exit raises",
			src: `class Bad:
    def __enter__(self):
        return self
    def __exit__(self, t, v, tb):
        raise RuntimeError("from exit")
for body in (False, True):
    try:
        with Bad():
            if body:
                raise ValueError("body")
    except RuntimeError as e:
        print(e)
`,
			want: "from exit\nfrom exit\n",
		},
		{
			name: "return",
			src: contextManager + `def f():
    with CM("r"):
        return "ret"
print(f())
`,
			want: "enter r\nexit r None\nret\n",
		},
		{
			name: "break",
			src: contextManager + `for i in range(3):
    with CM(i):
        if i == 1:
            break
print("done", i)
`,
			want: "enter 0\nexit 0 None\nenter 1\nexit 1 None\ndone 1\n",
		},
		{
			name: "several items",
			src: contextManager + `with CM("x") as a, CM("y") as b:
    print(a, b)
`,
			want: "enter x\nenter y\nx y\nexit y None\nexit x None\n",
		},
	})
}

func TestEvalAndInteractive(t *testing.T) {
	vm, out := newTestVM(t)
	globals := NewDict()
	v, err := vm.Eval("6 * 7", globals)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	wantInt(t, v, 42)

	if err := vm.Interactive("x = 5", globals); err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if err := vm.Interactive("x + 1", globals); err != nil {
		t.Fatalf("interactive: %v", err)
	}
	if got := out.String(); got != "6\n" {
		t.Errorf("displayhook output = %q", got)
	}
	wantInt(t, vm.Builtins().dict.GetStr("_"), 6)
}

func TestSyntaxErrorFromRunSource(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.RunSource("def (:\n", "<bad>")
	if !vm.errorMatches(err, vm.Exceptions.SyntaxError) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}
