package vm

import (
	"testing"
)

func evalRepr(t *testing.T, vm *VM, expr string) string {
	t.Helper()
	v, err := vm.Eval(expr, NewDict())
	if err != nil {
		t.Fatalf("eval %s: %v", expr, err)
	}
	s, err := vm.Repr(v)
	if err != nil {
		t.Fatalf("repr %s: %v", expr, err)
	}
	return s
}

func TestBuiltinFunctions(t *testing.T) {
	vm, _ := newTestVM(t)
	cases := []struct {
		expr string
		want string
	}{
		{"len('héllo')", "5"},
		{"abs(-3), abs(-2.5)", "(3, 2.5)"},
		{"min(3, 1, 2), max([4, 9, 2])", "(1, 9)"},
		{"min([], default='none')", "'none'"},
		{"max(['aa', 'b', 'ccc'], key=len)", "'ccc'"},
		{"sum([1, 2, 3]), sum([0.5, 0.25], 1)", "(6, 1.75)"},
		{"any([0, '', 3]), all([1, []]), all([])", "(True, False, True)"},
		{"sorted([3, 1, 2], reverse=True)", "[3, 2, 1]"},
		{"sorted(['b', 'A', 'c'], key=str.lower)", "['A', 'b', 'c']"},
		{"list(reversed([1, 2, 3])), list(reversed(range(3)))", "([3, 2, 1], [2, 1, 0])"},
		{"list(enumerate('ab', 1))", "[(1, 'a'), (2, 'b')]"},
		{"list(zip([1, 2, 3], 'ab'))", "[(1, 'a'), (2, 'b')]"},
		{"list(map(lambda a, b: a * b, [1, 2], [3, 4]))", "[3, 8]"},
		{"list(filter(None, [0, 1, '', 'x']))", "[1, 'x']"},
		{"next(iter([]), 'empty')", "'empty'"},
		{"list(iter([5, 6, 0, 7].pop, 0))", "[7]"},
		{"isinstance(True, int), isinstance(1, (str, float))", "(True, False)"},
		{"issubclass(bool, int), issubclass(int, (str, object))", "(True, True)"},
		{"callable(len), callable(3)", "(True, False)"},
		{"getattr(1, 'missing', 'dflt'), hasattr('', 'upper')", "('dflt', True)"},
		{"chr(65), ord('é')", "('A', 233)"},
		{"divmod(7, -2), divmod(7.5, 2)", "((-4, -1), (3.0, 1.5))"},
		{"pow(2, 10), pow(3, 4, 5), pow(2, -1)", "(1024, 1, 0.5)"},
		{"pow(7, 2, -5)", "-1"},
		{"hex(255), oct(8), bin(-5)", "('0xff', '0o10', '-0b101')"},
		{"round(2.675, 2), round(7), round(0.5), round(1.5)", "(2.67, 7, 0, 2)"},
		{"repr('a\\nb'), ascii('ü')", "(\"'a\\\\nb'\", \"'\\\\xfc'\")"},
		{"format(3.14159, '.2f'), format(42, '>5')", "('3.14', '   42')"},
		{"hash(7) == hash(7.0)", "True"},
		{"type(3).__name__, type('x') is str", "('int', True)"},
		{"eval('a + 1', {'a': 2})", "3"},
		{"compile('1 + 1', '<c>', 'eval').co_name", "'<module>'"},
		{"dir([]) == sorted(dir([]))", "True"},
		{"None, NotImplemented, ...", "(None, NotImplemented, Ellipsis)"},
		{"repr(None), str(...), str(NotImplemented)", "('None', 'Ellipsis', 'NotImplemented')"},
		{"[None], f'{None}', {'k': None}", "([None], 'None', {'k': None})"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := evalRepr(t, vm, tc.expr); got != tc.want {
				t.Errorf("%s = %s, want %s", tc.expr, got, tc.want)
			}
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	vm, _ := newTestVM(t)
	cases := []struct {
		expr string
		exc  string
		msg  string
	}{
		{"len(5)", "TypeError", "object of type 'int' has no len()"},
		{"sum(['a'], '')", "TypeError", "sum() can't sum strings [use ''.join(seq) instead]"},
		{"min([])", "ValueError", "min() arg is an empty sequence"},
		{"chr(-1)", "ValueError", "chr() arg not in range(0x110000)"},
		{"ord('ab')", "TypeError", "ord() expected a character, but string of length 2 found"},
		{"next(5)", "TypeError", "'int' object is not an iterator"},
		{"pow(2, 3, 0)", "ValueError", "pow() 3rd argument cannot be 0"},
		{"abs('x')", "TypeError", "bad operand type for abs(): 'str'"},
		{"getattr(1, 'nope')", "AttributeError", "'int' object has no attribute 'nope'"},
		{"compile('x', 'f', 'bogus')", "ValueError", "compile() mode must be 'exec', 'eval' or 'single'"},
		{"zip(1)", "TypeError", "zip argument #1 must support iteration"},
		{"print(**{'sep': '', 1: 2})", "TypeError", "print() keywords must be strings"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			_, err := vm.Eval(tc.expr, NewDict())
			exc, ok := AsException(err)
			if !ok {
				t.Fatalf("expected an exception, got %v", err)
			}
			if exc.Type().Name != tc.exc || exc.message() != tc.msg {
				t.Errorf("got %s: %s", exc.Type().Name, exc.message())
			}
		})
	}
}

func TestPrintKeywords(t *testing.T) {
	out := runOutput(t, `import sys
print(1, 2, sep="-", end="!\n")
print("to stdout", file=sys.stdout)
class Sink:
    def __init__(self):
        self.parts = []
    def write(self, s):
        self.parts.append(s)
s = Sink()
print("a", "b", file=s)
print(s.parts)
`)
	if out != "1-2!\nto stdout\n['a b\\n']\n" {
		t.Errorf("output = %q", out)
	}
}

func TestExecAndNamespaces(t *testing.T) {
	out := runOutput(t, `ns = {}
exec("x = 5\ndef f():\n    return x * 2", ns)
print(ns["f"](), "__builtins__" in ns)
def local_view():
    a = 1
    b = 2
    return sorted(locals())
print(local_view())
code = compile("y = 3", "<c>", "exec")
exec(code)
print(y)
`)
	if out != "10 True\n['a', 'b']\n3\n" {
		t.Errorf("output = %q", out)
	}
}

func TestBuildClassAndVars(t *testing.T) {
	out := runOutput(t, `class Point:
    dims = 2
    def __init__(self):
        self.x = 1
p = Point()
print(vars(p), Point.__name__, Point.__qualname__, Point.__module__)
print(type("Dyn", (Point,), {"z": 3})().z)
`)
	if out != "{'x': 1} Point Point __main__\n3\n" {
		t.Errorf("output = %q", out)
	}
}
