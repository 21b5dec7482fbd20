package parser

import (
	"testing"

	"github.com/chazu/adder/pkg/ast"
)

func mustParse(t *testing.T, src string) *ast.Module {
	t.Helper()
	mod, err := ParseModule(src)
	if err != nil {
		t.Fatalf("ParseModule(%q): %v", src, err)
	}
	return mod
}

func TestTokenizeIndentation(t *testing.T) {
	tokens, err := Tokenize("if x:\n    y\n\n    # note\n    z\nw\n")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	var types []TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	want := []TokenType{
		TokenName, TokenName, TokenOp, TokenNewline,
		TokenIndent, TokenName, TokenNewline,
		TokenName, TokenNewline,
		TokenDedent, TokenName, TokenNewline,
		TokenEOF,
	}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("token %d: got %v, want %v (all: %v)", i, types[i], want[i], types)
		}
	}
}

func TestTokenizeBracketsJoinLines(t *testing.T) {
	tokens, err := Tokenize("x = (1,\n     2)\n")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	newlines := 0
	for _, tok := range tokens {
		if tok.Type == TokenNewline {
			newlines++
		}
	}
	if newlines != 1 {
		t.Errorf("expected one logical line, got %d NEWLINE tokens", newlines)
	}
}

func TestStringLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`'a\tb'`, "a\tb"},
		{`r'a\tb'`, `a\tb`},
		{`"ab" 'cd'`, "abcd"},
		{`b'\x41\n'`, []byte("A\n")},
		{`'\u00e9'`, "é"},
		{`"""two
lines"""`, "two\nlines"},
	}
	for _, tt := range tests {
		mod := mustParse(t, tt.src)
		c, ok := mod.Body[0].(*ast.ExprStmt).Value.(*ast.Constant)
		if !ok {
			t.Errorf("%s: not a constant", tt.src)
			continue
		}
		switch want := tt.want.(type) {
		case string:
			if c.Value != want {
				t.Errorf("%s: got %q, want %q", tt.src, c.Value, want)
			}
		case []byte:
			if got, _ := c.Value.([]byte); string(got) != string(want) {
				t.Errorf("%s: got %v, want %v", tt.src, c.Value, want)
			}
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"42", int64(42)},
		{"1_000", int64(1000)},
		{"0x1F", int64(31)},
		{"0o17", int64(15)},
		{"0b101", int64(5)},
		{"3.5", 3.5},
		{"1e3", 1000.0},
		{"-7", int64(-7)},
	}
	for _, tt := range tests {
		mod := mustParse(t, tt.src)
		c := mod.Body[0].(*ast.ExprStmt).Value.(*ast.Constant)
		if c.Value != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.src, c.Value, tt.want)
		}
	}
	if _, err := ParseModule("99999999999999999999"); err == nil {
		t.Error("expected overflow error")
	}
}

func TestOperatorPrecedence(t *testing.T) {
	mod := mustParse(t, "1 + 2 * 3 ** 2")
	add, ok := mod.Body[0].(*ast.ExprStmt).Value.(*ast.BinOp)
	if !ok || add.Op != ast.Add {
		t.Fatalf("top node is not +: %#v", mod.Body[0])
	}
	mul, ok := add.Right.(*ast.BinOp)
	if !ok || mul.Op != ast.Mult {
		t.Fatalf("right of + is not *")
	}
	if pow, ok := mul.Right.(*ast.BinOp); !ok || pow.Op != ast.Pow {
		t.Fatalf("right of * is not **")
	}
}

func TestChainedComparison(t *testing.T) {
	mod := mustParse(t, "a < b <= c is not d not in e")
	cmp := mod.Body[0].(*ast.ExprStmt).Value.(*ast.Compare)
	want := []ast.CmpOperator{ast.Lt, ast.LtE, ast.IsNot, ast.NotIn}
	if len(cmp.Ops) != len(want) {
		t.Fatalf("ops = %v", cmp.Ops)
	}
	for i := range want {
		if cmp.Ops[i] != want[i] {
			t.Errorf("op %d = %v, want %v", i, cmp.Ops[i], want[i])
		}
	}
}

func TestAssignmentForms(t *testing.T) {
	mod := mustParse(t, "a = b = 1\nx, *y = z\nc += 2\nd: int = 3\n(e): int\n")
	if as := mod.Body[0].(*ast.Assign); len(as.Targets) != 2 {
		t.Errorf("chained assign has %d targets", len(as.Targets))
	}
	tuple := mod.Body[1].(*ast.Assign).Targets[0].(*ast.Tuple)
	if star, ok := tuple.Elts[1].(*ast.Starred); !ok || star.Ctx != ast.Store {
		t.Errorf("starred target not in store context")
	}
	if aug := mod.Body[2].(*ast.AugAssign); aug.Op != ast.Add {
		t.Errorf("aug op = %v", aug.Op)
	}
	if ann := mod.Body[3].(*ast.AnnAssign); !ann.Simple || ann.Value == nil {
		t.Errorf("annotated assignment not simple with value")
	}
	if ann := mod.Body[4].(*ast.AnnAssign); ann.Simple {
		t.Errorf("parenthesized annotation target should not be simple")
	}
}

func TestInvalidTargets(t *testing.T) {
	for _, src := range []string{"f() = 1", "1 = x", "a + b += 1", "del f()"} {
		if _, err := ParseModule(src); err == nil {
			t.Errorf("%q: expected syntax error", src)
		}
	}
}

func TestCompoundStatements(t *testing.T) {
	src := `
@dec
async def f(a, /, b=1, *args, c, d=2, **kw) -> int:
    async with x as y, z:
        pass
    async for i in g():
        await i
    try:
        pass
    except (A, B) as e:
        raise C from e
    except:
        pass
    else:
        pass
    finally:
        return
class K(Base, metaclass=M):
    x = 1
while True:
    break
else:
    pass
`
	mod := mustParse(t, src)
	fn := mod.Body[0].(*ast.FunctionDef)
	if !fn.IsAsync || len(fn.DecoratorList) != 1 || fn.Returns == nil {
		t.Fatalf("function header parsed wrong: %#v", fn)
	}
	args := fn.Args
	if len(args.PosOnlyArgs) != 1 || len(args.Args) != 1 || args.Vararg == nil ||
		len(args.KwOnlyArgs) != 2 || args.Kwarg == nil || len(args.Defaults) != 1 {
		t.Fatalf("arguments parsed wrong: %#v", args)
	}
	if args.KwDefaults[0] != nil || args.KwDefaults[1] == nil {
		t.Errorf("kw defaults misaligned")
	}
	with := fn.Body[0].(*ast.With)
	if !with.IsAsync || len(with.Items) != 2 {
		t.Errorf("async with parsed wrong")
	}
	try := fn.Body[2].(*ast.Try)
	if len(try.Handlers) != 2 || try.Handlers[0].Name != "e" || try.Orelse == nil || try.Finalbody == nil {
		t.Errorf("try parsed wrong: %#v", try)
	}
	cls := mod.Body[1].(*ast.ClassDef)
	if len(cls.Bases) != 1 || len(cls.Keywords) != 1 || cls.Keywords[0].Arg != "metaclass" {
		t.Errorf("class header parsed wrong")
	}
}

func TestComprehensionsAndDisplays(t *testing.T) {
	mod := mustParse(t, "[x for x in y if x]\n{k: v for k, v in d}\n{1, 2}\n{**a, 'b': 1}\n(i for i in r)\nf(x for x in y)\n")
	if _, ok := mod.Body[0].(*ast.ExprStmt).Value.(*ast.ListComp); !ok {
		t.Error("list comprehension")
	}
	if _, ok := mod.Body[1].(*ast.ExprStmt).Value.(*ast.DictComp); !ok {
		t.Error("dict comprehension")
	}
	if _, ok := mod.Body[2].(*ast.ExprStmt).Value.(*ast.Set); !ok {
		t.Error("set display")
	}
	d := mod.Body[3].(*ast.ExprStmt).Value.(*ast.Dict)
	if d.Keys[0] != nil || d.Keys[1] == nil {
		t.Error("dict unpack keys")
	}
	if _, ok := mod.Body[4].(*ast.ExprStmt).Value.(*ast.GeneratorExp); !ok {
		t.Error("generator expression")
	}
	call := mod.Body[5].(*ast.ExprStmt).Value.(*ast.Call)
	if _, ok := call.Args[0].(*ast.GeneratorExp); !ok {
		t.Error("generator argument")
	}
}

func TestFString(t *testing.T) {
	mod := mustParse(t, `f"a{x!r:>{w}}b{{c}}" "d"`)
	js, ok := mod.Body[0].(*ast.ExprStmt).Value.(*ast.JoinedStr)
	if !ok {
		t.Fatalf("not a JoinedStr")
	}
	if len(js.Values) != 3 {
		t.Fatalf("values = %d, want 3", len(js.Values))
	}
	fv := js.Values[1].(*ast.FormattedValue)
	if fv.Conversion != 'r' || fv.FormatSpec == nil {
		t.Errorf("formatted value = %#v", fv)
	}
	if tail := js.Values[2].(*ast.Constant).Value; tail != "b{c}d" {
		t.Errorf("tail literal = %q", tail)
	}
}

func TestIncompleteInput(t *testing.T) {
	for _, src := range []string{"def f():\n", "x = (1,\n", "s = '''abc\n"} {
		_, err := ParseModule(src)
		pe, ok := err.(*Error)
		if !ok || !pe.Incomplete {
			t.Errorf("%q: expected incomplete error, got %v", src, err)
		}
	}
	_, err := ParseModule("x = )")
	if pe, ok := err.(*Error); !ok || pe.Incomplete {
		t.Errorf("expected complete syntax error, got %v", err)
	}
}

func TestIndentationError(t *testing.T) {
	_, err := ParseModule("if x:\n        a\n    b\n")
	pe, ok := err.(*Error)
	if !ok || !pe.Indent {
		t.Fatalf("expected indentation error, got %v", err)
	}
}

func TestPositions(t *testing.T) {
	mod := mustParse(t, "x = 1\n\nif y:\n    z = 2\n")
	if got := mod.Body[1].Position(); got != (ast.Pos{Line: 3, Column: 1}) {
		t.Errorf("if position = %v", got)
	}
	inner := mod.Body[1].(*ast.If).Body[0]
	if got := inner.Position(); got != (ast.Pos{Line: 4, Column: 5}) {
		t.Errorf("inner position = %v", got)
	}
}
