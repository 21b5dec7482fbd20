// Package parser turns source text into the syntax tree defined by package
// ast.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/adder/pkg/ast"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent over the token stream
// ---------------------------------------------------------------------------

// Parser parses a token stream into statements and expressions.
type Parser struct {
	tokens []Token
	pos    int
	tok    Token

	// Origin of the text in the enclosing source, for f-string
	// replacement fields parsed by a sub-parser.
	base ast.Pos
}

// NewParser lexes input and prepares a parser over it.
func NewParser(input string) (*Parser, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	p.tok = tokens[0]
	return p, nil
}

// ParseModule parses a whole file.
func ParseModule(input string) (mod *ast.Module, err error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	defer p.recoverError(&err)
	return &ast.Module{Body: p.parseFile()}, nil
}

// ParseInteractive parses one REPL entry.
func ParseInteractive(input string) (mod *ast.Interactive, err error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	defer p.recoverError(&err)
	return &ast.Interactive{Body: p.parseFile()}, nil
}

// ParseExpression parses input as a single expression, as eval() does.
func ParseExpression(input string) (mod *ast.Expression, err error) {
	p, err := NewParser(strings.TrimSpace(input))
	if err != nil {
		return nil, err
	}
	defer p.recoverError(&err)
	for p.tok.Type == TokenNewline {
		p.next()
	}
	body := p.parseTestList()
	for p.tok.Type == TokenNewline {
		p.next()
	}
	if p.tok.Type != TokenEOF {
		p.fail("invalid syntax")
	}
	return &ast.Expression{Body: body}, nil
}

// Parse parses input according to mode, one of "exec", "eval" or "single".
func Parse(input, mode string) (ast.Mod, error) {
	switch mode {
	case "eval":
		return ParseExpression(input)
	case "single":
		return ParseInteractive(input)
	}
	return ParseModule(input)
}

func (p *Parser) recoverError(err *error) {
	if r := recover(); r != nil {
		if pe, ok := r.(*Error); ok {
			*err = pe
			return
		}
		panic(r)
	}
}

func (p *Parser) fail(format string, args ...any) {
	e := &Error{Msg: fmt.Sprintf(format, args...), Pos: p.at(p.tok.Pos)}
	if p.tok.Type == TokenEOF {
		e.Incomplete = true
	}
	panic(e)
}

func (p *Parser) failAt(pos ast.Pos, format string, args ...any) {
	panic(&Error{Msg: fmt.Sprintf(format, args...), Pos: p.at(pos)})
}

// at translates a position of a sub-parser into the enclosing source.
func (p *Parser) at(pos ast.Pos) ast.Pos {
	if p.base.Line == 0 {
		return pos
	}
	if pos.Line == 1 {
		return ast.Pos{Line: p.base.Line, Column: p.base.Column + pos.Column - 1}
	}
	return ast.Pos{Line: p.base.Line + pos.Line - 1, Column: pos.Column}
}

func (p *Parser) next() Token {
	t := p.tok
	if p.pos < len(p.tokens)-1 {
		p.pos++
		p.tok = p.tokens[p.pos]
	}
	return t
}

func (p *Parser) peek() Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) accept(value string) bool {
	if p.tok.is(value) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expect(value string) Token {
	if !p.tok.is(value) {
		p.fail("expected '%s'", value)
	}
	return p.next()
}

func (p *Parser) expectName() Token {
	if p.tok.Type != TokenName || IsKeyword(p.tok.Value) {
		p.fail("invalid syntax")
	}
	return p.next()
}

func (p *Parser) expectNewline() {
	if p.tok.Type == TokenEOF {
		return
	}
	if p.tok.Type != TokenNewline {
		p.fail("invalid syntax")
	}
	p.next()
}

func (p *Parser) sn(pos ast.Pos) ast.StmtNode { return ast.StmtNode{Loc: p.at(pos)} }
func (p *Parser) en(pos ast.Pos) ast.ExprNode { return ast.ExprNode{Loc: p.at(pos)} }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseFile() []ast.Stmt {
	var body []ast.Stmt
	for p.tok.Type != TokenEOF {
		if p.tok.Type == TokenNewline {
			p.next()
			continue
		}
		if p.tok.Type == TokenIndent {
			p.fail("unexpected indent")
		}
		body = append(body, p.parseStatement()...)
	}
	return body
}

func (p *Parser) parseStatement() []ast.Stmt {
	if p.tok.Type == TokenName {
		switch p.tok.Value {
		case "if":
			return []ast.Stmt{p.parseIf()}
		case "while":
			return []ast.Stmt{p.parseWhile()}
		case "for":
			return []ast.Stmt{p.parseFor(false, p.tok.Pos)}
		case "try":
			return []ast.Stmt{p.parseTry()}
		case "with":
			return []ast.Stmt{p.parseWith(false, p.tok.Pos)}
		case "def":
			return []ast.Stmt{p.parseFuncDef(nil, false, p.tok.Pos)}
		case "class":
			return []ast.Stmt{p.parseClassDef(nil)}
		case "async":
			return []ast.Stmt{p.parseAsync(nil)}
		}
	}
	if p.tok.is("@") {
		return []ast.Stmt{p.parseDecorated()}
	}
	return p.parseSimpleStatements()
}

func (p *Parser) parseSimpleStatements() []ast.Stmt {
	stmts := []ast.Stmt{p.parseSmallStatement()}
	for p.accept(";") {
		if p.tok.Type == TokenNewline || p.tok.Type == TokenEOF {
			break
		}
		stmts = append(stmts, p.parseSmallStatement())
	}
	p.expectNewline()
	return stmts
}

// parseSuite parses the body following a ':'.
func (p *Parser) parseSuite() []ast.Stmt {
	p.expect(":")
	if p.tok.Type != TokenNewline {
		return p.parseSimpleStatements()
	}
	p.next()
	if p.tok.Type != TokenIndent {
		if p.tok.Type == TokenEOF {
			p.fail("expected an indented block")
		}
		panic(&Error{Msg: "expected an indented block", Pos: p.at(p.tok.Pos), Indent: true})
	}
	p.next()
	var body []ast.Stmt
	for p.tok.Type != TokenDedent && p.tok.Type != TokenEOF {
		if p.tok.Type == TokenNewline {
			p.next()
			continue
		}
		body = append(body, p.parseStatement()...)
	}
	if p.tok.Type == TokenDedent {
		p.next()
	}
	return body
}

func (p *Parser) parseSmallStatement() ast.Stmt {
	start := p.tok
	if start.Type == TokenName {
		switch start.Value {
		case "pass":
			p.next()
			return &ast.Pass{StmtNode: p.sn(start.Pos)}
		case "break":
			p.next()
			return &ast.Break{StmtNode: p.sn(start.Pos)}
		case "continue":
			p.next()
			return &ast.Continue{StmtNode: p.sn(start.Pos)}
		case "return":
			p.next()
			s := &ast.Return{StmtNode: p.sn(start.Pos)}
			if p.atExprStart() {
				s.Value = p.parseTestListStarExpr()
			}
			return s
		case "raise":
			p.next()
			s := &ast.Raise{StmtNode: p.sn(start.Pos)}
			if p.atExprStart() {
				s.Exc = p.parseTest()
				if p.accept("from") {
					s.Cause = p.parseTest()
				}
			}
			return s
		case "global", "nonlocal":
			p.next()
			names := []string{p.expectName().Value}
			for p.accept(",") {
				names = append(names, p.expectName().Value)
			}
			if start.Value == "global" {
				return &ast.Global{StmtNode: p.sn(start.Pos), Names: names}
			}
			return &ast.Nonlocal{StmtNode: p.sn(start.Pos), Names: names}
		case "del":
			p.next()
			paren := p.tok.is("(")
			targets := p.parseExprList()
			var list []ast.Expr
			if t, ok := targets.(*ast.Tuple); ok && !paren {
				list = t.Elts
			} else {
				list = []ast.Expr{targets}
			}
			for _, t := range list {
				p.setContext(t, ast.Del)
			}
			return &ast.Delete{StmtNode: p.sn(start.Pos), Targets: list}
		case "assert":
			p.next()
			s := &ast.Assert{StmtNode: p.sn(start.Pos), Test: p.parseTest()}
			if p.accept(",") {
				s.Msg = p.parseTest()
			}
			return s
		case "import":
			return p.parseImport()
		case "from":
			return p.parseImportFrom()
		}
	}
	return p.parseExprStatement()
}

func (p *Parser) parseExprStatement() ast.Stmt {
	start := p.tok
	var first ast.Expr
	if p.tok.is("yield") {
		first = p.parseYieldExpr()
	} else {
		first = p.parseTestListStarExpr()
	}

	// Annotated assignment.
	if p.tok.is(":") {
		p.next()
		s := &ast.AnnAssign{StmtNode: p.sn(start.Pos), Target: first}
		s.Annotation = p.parseTest()
		if p.accept("=") {
			s.Value = p.parseYieldOrTestList()
		}
		switch first.(type) {
		case *ast.Name:
			s.Simple = !start.is("(")
		case *ast.Attribute, *ast.Subscript:
		default:
			p.failAt(start.Pos, "illegal target for annotation")
		}
		p.setContext(first, ast.Store)
		return s
	}

	// Augmented assignment.
	if p.tok.Type == TokenOp && len(p.tok.Value) >= 2 && strings.HasSuffix(p.tok.Value, "=") {
		if op, ok := augOperators[p.tok.Value]; ok {
			p.next()
			switch first.(type) {
			case *ast.Name, *ast.Attribute, *ast.Subscript:
			default:
				p.failAt(start.Pos, "'%s' is an illegal expression for augmented assignment", describeExpr(first))
			}
			p.setContext(first, ast.Store)
			return &ast.AugAssign{StmtNode: p.sn(start.Pos), Target: first, Op: op, Value: p.parseYieldOrTestList()}
		}
	}

	if p.tok.is("=") {
		targets := []ast.Expr{first}
		var value ast.Expr
		for p.accept("=") {
			if p.tok.is("yield") {
				value = p.parseYieldExpr()
			} else {
				value = p.parseTestListStarExpr()
			}
			targets = append(targets, value)
		}
		targets = targets[:len(targets)-1]
		for _, t := range targets {
			p.setContext(t, ast.Store)
		}
		return &ast.Assign{StmtNode: p.sn(start.Pos), Targets: targets, Value: value}
	}

	if s, ok := first.(*ast.Starred); ok {
		p.failAt(s.Loc, "can't use starred expression here")
	}
	return &ast.ExprStmt{StmtNode: p.sn(start.Pos), Value: first}
}

var augOperators = map[string]ast.Operator{
	"+=": ast.Add, "-=": ast.Sub, "*=": ast.Mult, "@=": ast.MatMult, "/=": ast.Div,
	"%=": ast.Modulo, "**=": ast.Pow, "<<=": ast.LShift, ">>=": ast.RShift,
	"|=": ast.BitOr, "^=": ast.BitXor, "&=": ast.BitAnd, "//=": ast.FloorDiv,
}

func (p *Parser) parseYieldOrTestList() ast.Expr {
	if p.tok.is("yield") {
		return p.parseYieldExpr()
	}
	return p.parseTestListStarExpr()
}

func (p *Parser) parseImport() ast.Stmt {
	start := p.next()
	s := &ast.Import{StmtNode: p.sn(start.Pos)}
	for {
		alias := &ast.Alias{Name: p.parseDottedName()}
		if p.accept("as") {
			alias.AsName = p.expectName().Value
		}
		s.Names = append(s.Names, alias)
		if !p.accept(",") {
			break
		}
	}
	return s
}

func (p *Parser) parseDottedName() string {
	name := p.expectName().Value
	for p.tok.is(".") {
		p.next()
		name += "." + p.expectName().Value
	}
	return name
}

func (p *Parser) parseImportFrom() ast.Stmt {
	start := p.next()
	s := &ast.ImportFrom{StmtNode: p.sn(start.Pos)}
	for {
		if p.accept(".") {
			s.Level++
		} else if p.accept("...") {
			s.Level += 3
		} else {
			break
		}
	}
	if !p.tok.is("import") {
		s.Module = p.parseDottedName()
	}
	p.expect("import")
	if p.accept("*") {
		s.Names = []*ast.Alias{{Name: "*"}}
		return s
	}
	paren := p.accept("(")
	for {
		alias := &ast.Alias{Name: p.expectName().Value}
		if p.accept("as") {
			alias.AsName = p.expectName().Value
		}
		s.Names = append(s.Names, alias)
		if !p.accept(",") {
			break
		}
		if paren && p.tok.is(")") {
			break
		}
	}
	if paren {
		p.expect(")")
	}
	return s
}

func (p *Parser) parseIf() ast.Stmt {
	start := p.next()
	s := &ast.If{StmtNode: p.sn(start.Pos), Test: p.parseNamedExprTest()}
	s.Body = p.parseSuite()
	switch {
	case p.tok.is("elif"):
		s.Orelse = []ast.Stmt{p.parseIf()}
	case p.tok.is("else"):
		p.next()
		s.Orelse = p.parseSuite()
	}
	return s
}

func (p *Parser) parseWhile() ast.Stmt {
	start := p.next()
	s := &ast.While{StmtNode: p.sn(start.Pos), Test: p.parseNamedExprTest()}
	s.Body = p.parseSuite()
	if p.accept("else") {
		s.Orelse = p.parseSuite()
	}
	return s
}

func (p *Parser) parseFor(async bool, pos ast.Pos) ast.Stmt {
	p.expect("for")
	s := &ast.For{StmtNode: p.sn(pos), IsAsync: async}
	s.Target = p.parseExprList()
	p.setContext(s.Target, ast.Store)
	p.expect("in")
	s.Iter = p.parseTestList()
	s.Body = p.parseSuite()
	if p.accept("else") {
		s.Orelse = p.parseSuite()
	}
	return s
}

func (p *Parser) parseTry() ast.Stmt {
	start := p.next()
	s := &ast.Try{StmtNode: p.sn(start.Pos)}
	s.Body = p.parseSuite()
	for p.tok.is("except") {
		h := &ast.ExceptHandler{Loc: p.at(p.next().Pos)}
		if !p.tok.is(":") {
			h.Type = p.parseTest()
			if p.accept("as") {
				h.Name = p.expectName().Value
			}
		}
		h.Body = p.parseSuite()
		if len(s.Handlers) > 0 && s.Handlers[len(s.Handlers)-1].Type == nil {
			p.failAt(s.Handlers[len(s.Handlers)-1].Loc, "default 'except:' must be last")
		}
		s.Handlers = append(s.Handlers, h)
	}
	if p.accept("else") {
		if len(s.Handlers) == 0 {
			p.failAt(start.Pos, "invalid syntax")
		}
		s.Orelse = p.parseSuite()
	}
	if p.accept("finally") {
		s.Finalbody = p.parseSuite()
	}
	if len(s.Handlers) == 0 && s.Finalbody == nil {
		p.fail("expected 'except' or 'finally' block")
	}
	return s
}

func (p *Parser) parseWith(async bool, pos ast.Pos) ast.Stmt {
	p.expect("with")
	s := &ast.With{StmtNode: p.sn(pos), IsAsync: async}
	for {
		item := &ast.WithItem{ContextExpr: p.parseTest()}
		if p.accept("as") {
			item.OptionalVars = p.parseExpr()
			p.setContext(item.OptionalVars, ast.Store)
		}
		s.Items = append(s.Items, item)
		if !p.accept(",") {
			break
		}
	}
	s.Body = p.parseSuite()
	return s
}

func (p *Parser) parseAsync(decorators []ast.Expr) ast.Stmt {
	start := p.next()
	switch {
	case p.tok.is("def"):
		return p.parseFuncDef(decorators, true, start.Pos)
	case p.tok.is("for") && decorators == nil:
		return p.parseFor(true, start.Pos)
	case p.tok.is("with") && decorators == nil:
		return p.parseWith(true, start.Pos)
	}
	p.fail("invalid syntax")
	return nil
}

func (p *Parser) parseDecorated() ast.Stmt {
	var decorators []ast.Expr
	for p.accept("@") {
		decorators = append(decorators, p.parseNamedExprTest())
		p.expectNewline()
	}
	switch {
	case p.tok.is("def"):
		return p.parseFuncDef(decorators, false, p.tok.Pos)
	case p.tok.is("class"):
		return p.parseClassDef(decorators)
	case p.tok.is("async"):
		return p.parseAsync(decorators)
	}
	p.fail("invalid syntax")
	return nil
}

func (p *Parser) parseFuncDef(decorators []ast.Expr, async bool, pos ast.Pos) ast.Stmt {
	p.expect("def")
	s := &ast.FunctionDef{StmtNode: p.sn(pos), DecoratorList: decorators, IsAsync: async}
	s.Name = p.expectName().Value
	p.expect("(")
	s.Args = p.parseParameters(")", true)
	p.expect(")")
	if p.accept("->") {
		s.Returns = p.parseTest()
	}
	s.Body = p.parseSuite()
	return s
}

func (p *Parser) parseClassDef(decorators []ast.Expr) ast.Stmt {
	start := p.expect("class")
	s := &ast.ClassDef{StmtNode: p.sn(start.Pos), DecoratorList: decorators}
	s.Name = p.expectName().Value
	if p.accept("(") {
		s.Bases, s.Keywords = p.parseArgList()
		p.expect(")")
	}
	s.Body = p.parseSuite()
	return s
}

// parseParameters parses a def or lambda parameter list up to end.
func (p *Parser) parseParameters(end string, annotations bool) *ast.Arguments {
	args := &ast.Arguments{}
	seenDefault := false
	kwOnly := false
	parseArg := func() *ast.Arg {
		t := p.expectName()
		a := &ast.Arg{Loc: p.at(t.Pos), Name: t.Value}
		if annotations && p.accept(":") {
			a.Annotation = p.parseTest()
		}
		return a
	}
	for !p.tok.is(end) {
		switch {
		case p.accept("/"):
			if len(args.Args) == 0 || kwOnly || len(args.PosOnlyArgs) > 0 {
				p.fail("invalid syntax")
			}
			args.PosOnlyArgs = args.Args
			args.Args = nil
		case p.accept("**"):
			args.Kwarg = parseArg()
			p.accept(",")
			if !p.tok.is(end) {
				p.fail("arguments cannot follow var-keyword argument")
			}
			return args
		case p.accept("*"):
			if kwOnly {
				p.fail("* argument may appear only once")
			}
			kwOnly = true
			if p.tok.Type == TokenName {
				args.Vararg = parseArg()
			} else if p.tok.is(end) || !p.tok.is(",") {
				p.fail("named arguments must follow bare *")
			}
		default:
			a := parseArg()
			var def ast.Expr
			if p.accept("=") {
				def = p.parseTest()
			}
			if kwOnly {
				args.KwOnlyArgs = append(args.KwOnlyArgs, a)
				args.KwDefaults = append(args.KwDefaults, def)
			} else {
				if def != nil {
					seenDefault = true
					args.Defaults = append(args.Defaults, def)
				} else if seenDefault {
					p.failAt(a.Loc, "non-default argument follows default argument")
				}
				args.Args = append(args.Args, a)
			}
		}
		if !p.accept(",") {
			break
		}
	}
	if kwOnly && args.Vararg == nil && len(args.KwOnlyArgs) == 0 {
		p.fail("named arguments must follow bare *")
	}
	seen := map[string]bool{}
	for _, a := range args.All() {
		if seen[a.Name] {
			p.failAt(a.Loc, "duplicate argument '%s' in function definition", a.Name)
		}
		seen[a.Name] = true
	}
	return args
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// atExprStart reports whether the current token can begin an expression.
func (p *Parser) atExprStart() bool {
	switch p.tok.Type {
	case TokenName:
		switch p.tok.Value {
		case "None", "True", "False", "not", "lambda", "await":
			return true
		}
		return !IsKeyword(p.tok.Value)
	case TokenNumber, TokenString:
		return true
	case TokenOp:
		switch p.tok.Value {
		case "(", "[", "{", "-", "+", "~", "*", "...":
			return true
		}
	}
	return false
}

// parseTestList parses test (',' test)* [','] producing a Tuple when a comma
// is present.
func (p *Parser) parseTestList() ast.Expr {
	return p.parseSequence(p.parseTest)
}

// parseTestListStarExpr is parseTestList allowing starred items.
func (p *Parser) parseTestListStarExpr() ast.Expr {
	return p.parseSequence(p.parseTestOrStar)
}

// parseExprList parses the target list of for/del/comprehensions.
func (p *Parser) parseExprList() ast.Expr {
	return p.parseSequence(func() ast.Expr {
		if p.tok.is("*") {
			return p.parseStarExpr()
		}
		return p.parseExpr()
	})
}

func (p *Parser) parseSequence(item func() ast.Expr) ast.Expr {
	start := p.tok
	first := item()
	if !p.tok.is(",") {
		return first
	}
	elts := []ast.Expr{first}
	for p.accept(",") {
		if !p.atExprStart() {
			break
		}
		elts = append(elts, item())
	}
	return &ast.Tuple{ExprNode: p.en(start.Pos), Elts: elts}
}

func (p *Parser) parseTestOrStar() ast.Expr {
	if p.tok.is("*") {
		return p.parseStarExpr()
	}
	return p.parseNamedExprTest()
}

func (p *Parser) parseStarExpr() ast.Expr {
	start := p.expect("*")
	return &ast.Starred{ExprNode: p.en(start.Pos), Value: p.parseExpr()}
}

func (p *Parser) parseNamedExprTest() ast.Expr {
	e := p.parseTest()
	if p.tok.is(":=") {
		p.fail("assignment expressions are not supported")
	}
	return e
}

func (p *Parser) parseYieldExpr() ast.Expr {
	start := p.expect("yield")
	if p.accept("from") {
		return &ast.YieldFrom{ExprNode: p.en(start.Pos), Value: p.parseTest()}
	}
	y := &ast.Yield{ExprNode: p.en(start.Pos)}
	if p.atExprStart() {
		y.Value = p.parseTestListStarExpr()
	}
	return y
}

func (p *Parser) parseTest() ast.Expr {
	if p.tok.is("lambda") {
		return p.parseLambda(true)
	}
	start := p.tok
	body := p.parseOrTest()
	if p.tok.is("if") {
		p.next()
		test := p.parseOrTest()
		p.expect("else")
		orelse := p.parseTest()
		return &ast.IfExp{ExprNode: p.en(start.Pos), Test: test, Body: body, Orelse: orelse}
	}
	return body
}

func (p *Parser) parseTestNoCond() ast.Expr {
	if p.tok.is("lambda") {
		return p.parseLambda(false)
	}
	return p.parseOrTest()
}

func (p *Parser) parseLambda(allowCond bool) ast.Expr {
	start := p.expect("lambda")
	args := p.parseParameters(":", false)
	p.expect(":")
	var body ast.Expr
	if allowCond {
		body = p.parseTest()
	} else {
		body = p.parseTestNoCond()
	}
	return &ast.Lambda{ExprNode: p.en(start.Pos), Args: args, Body: body}
}

func (p *Parser) parseOrTest() ast.Expr {
	start := p.tok
	first := p.parseAndTest()
	if !p.tok.is("or") {
		return first
	}
	values := []ast.Expr{first}
	for p.accept("or") {
		values = append(values, p.parseAndTest())
	}
	return &ast.BoolOp{ExprNode: p.en(start.Pos), Op: ast.Or, Values: values}
}

func (p *Parser) parseAndTest() ast.Expr {
	start := p.tok
	first := p.parseNotTest()
	if !p.tok.is("and") {
		return first
	}
	values := []ast.Expr{first}
	for p.accept("and") {
		values = append(values, p.parseNotTest())
	}
	return &ast.BoolOp{ExprNode: p.en(start.Pos), Op: ast.And, Values: values}
}

func (p *Parser) parseNotTest() ast.Expr {
	if p.tok.is("not") {
		start := p.next()
		return &ast.UnaryOp{ExprNode: p.en(start.Pos), Op: ast.Not, Operand: p.parseNotTest()}
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() ast.Expr {
	start := p.tok
	left := p.parseExpr()
	var ops []ast.CmpOperator
	var comparators []ast.Expr
	for {
		var op ast.CmpOperator
		switch {
		case p.tok.is("<"):
			op = ast.Lt
		case p.tok.is(">"):
			op = ast.Gt
		case p.tok.is("=="):
			op = ast.Eq
		case p.tok.is(">="):
			op = ast.GtE
		case p.tok.is("<="):
			op = ast.LtE
		case p.tok.is("!="):
			op = ast.NotEq
		case p.tok.is("in"):
			op = ast.In
		case p.tok.is("not") && p.peek().is("in"):
			p.next()
			op = ast.NotIn
		case p.tok.is("is"):
			if p.peek().is("not") {
				p.next()
				op = ast.IsNot
			} else {
				op = ast.Is
			}
		default:
			if len(ops) == 0 {
				return left
			}
			return &ast.Compare{ExprNode: p.en(start.Pos), Left: left, Ops: ops, Comparators: comparators}
		}
		p.next()
		ops = append(ops, op)
		comparators = append(comparators, p.parseExpr())
	}
}

// parseExpr parses a bitwise-or expression, the "expr" of the grammar.
func (p *Parser) parseExpr() ast.Expr {
	return p.parseBinary(0)
}

var binaryLevels = []map[string]ast.Operator{
	{"|": ast.BitOr},
	{"^": ast.BitXor},
	{"&": ast.BitAnd},
	{"<<": ast.LShift, ">>": ast.RShift},
	{"+": ast.Add, "-": ast.Sub},
	{"*": ast.Mult, "/": ast.Div, "//": ast.FloorDiv, "%": ast.Modulo, "@": ast.MatMult},
}

func (p *Parser) parseBinary(level int) ast.Expr {
	if level == len(binaryLevels) {
		return p.parseFactor()
	}
	start := p.tok
	left := p.parseBinary(level + 1)
	for p.tok.Type == TokenOp {
		op, ok := binaryLevels[level][p.tok.Value]
		if !ok {
			break
		}
		p.next()
		right := p.parseBinary(level + 1)
		left = &ast.BinOp{ExprNode: p.en(start.Pos), Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) parseFactor() ast.Expr {
	start := p.tok
	var op ast.UnaryOperator
	switch {
	case p.tok.is("-"):
		op = ast.USub
	case p.tok.is("+"):
		op = ast.UAdd
	case p.tok.is("~"):
		op = ast.Invert
	default:
		return p.parsePower()
	}
	p.next()
	operand := p.parseFactor()
	if c, ok := operand.(*ast.Constant); ok && op == ast.USub {
		switch v := c.Value.(type) {
		case int64:
			return &ast.Constant{ExprNode: p.en(start.Pos), Value: -v}
		case float64:
			return &ast.Constant{ExprNode: p.en(start.Pos), Value: -v}
		}
	}
	return &ast.UnaryOp{ExprNode: p.en(start.Pos), Op: op, Operand: operand}
}

func (p *Parser) parsePower() ast.Expr {
	start := p.tok
	var base ast.Expr
	if p.tok.is("await") {
		p.next()
		base = &ast.Await{ExprNode: p.en(start.Pos), Value: p.parseAtomExpr()}
	} else {
		base = p.parseAtomExpr()
	}
	if p.accept("**") {
		return &ast.BinOp{ExprNode: p.en(start.Pos), Left: base, Op: ast.Pow, Right: p.parseFactor()}
	}
	return base
}

func (p *Parser) parseAtomExpr() ast.Expr {
	start := p.tok
	e := p.parseAtom()
	for {
		switch {
		case p.tok.is("("):
			p.next()
			args, kws := p.parseArgList()
			p.expect(")")
			e = &ast.Call{ExprNode: p.en(start.Pos), Func: e, Args: args, Keywords: kws}
		case p.tok.is("["):
			p.next()
			slice := p.parseSubscriptList()
			p.expect("]")
			e = &ast.Subscript{ExprNode: p.en(start.Pos), Value: e, Slice: slice}
		case p.tok.is("."):
			p.next()
			name := p.expectName()
			e = &ast.Attribute{ExprNode: p.en(start.Pos), Value: e, Attr: name.Value}
		default:
			return e
		}
	}
}

func (p *Parser) parseArgList() ([]ast.Expr, []*ast.Keyword) {
	var args []ast.Expr
	var kws []*ast.Keyword
	for !p.tok.is(")") {
		start := p.tok
		switch {
		case p.accept("**"):
			kws = append(kws, &ast.Keyword{Loc: p.at(start.Pos), Value: p.parseTest()})
		case p.tok.is("*"):
			if len(kws) > 0 && kws[len(kws)-1].Arg == "" {
				p.fail("iterable argument unpacking follows keyword argument unpacking")
			}
			args = append(args, p.parseStarExpr())
		case p.tok.Type == TokenName && !IsKeyword(p.tok.Value) && p.peek().is("="):
			name := p.next()
			p.next()
			kws = append(kws, &ast.Keyword{Loc: p.at(start.Pos), Arg: name.Value, Value: p.parseTest()})
		default:
			e := p.parseNamedExprTest()
			if p.tok.is("for") || p.tok.is("async") {
				e = &ast.GeneratorExp{ExprNode: p.en(start.Pos), Elt: e, Generators: p.parseCompFor()}
			}
			if len(kws) > 0 {
				if kws[len(kws)-1].Arg == "" {
					p.failAt(start.Pos, "positional argument follows keyword argument unpacking")
				}
				p.failAt(start.Pos, "positional argument follows keyword argument")
			}
			args = append(args, e)
		}
		if !p.accept(",") {
			break
		}
	}
	return args, kws
}

func (p *Parser) parseSubscriptList() ast.Expr {
	start := p.tok
	first := p.parseSubscript()
	if !p.tok.is(",") {
		return first
	}
	elts := []ast.Expr{first}
	for p.accept(",") {
		if p.tok.is("]") {
			break
		}
		elts = append(elts, p.parseSubscript())
	}
	return &ast.Tuple{ExprNode: p.en(start.Pos), Elts: elts}
}

func (p *Parser) parseSubscript() ast.Expr {
	start := p.tok
	var lower ast.Expr
	if !p.tok.is(":") {
		lower = p.parseTest()
		if !p.tok.is(":") {
			return lower
		}
	}
	p.expect(":")
	s := &ast.Slice{ExprNode: p.en(start.Pos), Lower: lower}
	if !p.tok.is(":") && !p.tok.is("]") && !p.tok.is(",") {
		s.Upper = p.parseTest()
	}
	if p.accept(":") {
		if !p.tok.is("]") && !p.tok.is(",") {
			s.Step = p.parseTest()
		}
	}
	return s
}

func (p *Parser) parseCompFor() []*ast.Comprehension {
	var gens []*ast.Comprehension
	for p.tok.is("for") || p.tok.is("async") {
		c := &ast.Comprehension{}
		if p.accept("async") {
			c.IsAsync = true
		}
		p.expect("for")
		c.Target = p.parseExprList()
		p.setContext(c.Target, ast.Store)
		p.expect("in")
		c.Iter = p.parseOrTest()
		for p.tok.is("if") {
			p.next()
			c.Ifs = append(c.Ifs, p.parseTestNoCond())
		}
		gens = append(gens, c)
	}
	return gens
}

func (p *Parser) parseAtom() ast.Expr {
	t := p.tok
	switch t.Type {
	case TokenNumber:
		p.next()
		return &ast.Constant{ExprNode: p.en(t.Pos), Value: p.parseNumber(t)}
	case TokenString:
		return p.parseStrings()
	case TokenName:
		switch t.Value {
		case "None":
			p.next()
			return &ast.Constant{ExprNode: p.en(t.Pos), Value: nil}
		case "True":
			p.next()
			return &ast.Constant{ExprNode: p.en(t.Pos), Value: true}
		case "False":
			p.next()
			return &ast.Constant{ExprNode: p.en(t.Pos), Value: false}
		}
		if IsKeyword(t.Value) {
			p.fail("invalid syntax")
		}
		p.next()
		return &ast.Name{ExprNode: p.en(t.Pos), ID: t.Value}
	case TokenOp:
		switch t.Value {
		case "...":
			p.next()
			return &ast.Constant{ExprNode: p.en(t.Pos), Value: ast.EllipsisValue{}}
		case "(":
			return p.parseParenAtom()
		case "[":
			return p.parseListAtom()
		case "{":
			return p.parseBraceAtom()
		}
	case TokenIndent:
		p.fail("unexpected indent")
	case TokenEOF:
		p.fail("unexpected EOF while parsing")
	}
	p.fail("invalid syntax")
	return nil
}

func (p *Parser) parseNumber(t Token) any {
	text := strings.ReplaceAll(t.Value, "_", "")
	lower := strings.ToLower(text)
	isFloat := !strings.HasPrefix(lower, "0x") && strings.ContainsAny(lower, ".e")
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.failAt(t.Pos, "invalid float literal")
		}
		return f
	}
	base := 10
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, text = 16, text[2:]
	case strings.HasPrefix(lower, "0o"):
		base, text = 8, text[2:]
	case strings.HasPrefix(lower, "0b"):
		base, text = 2, text[2:]
	default:
		if len(text) > 1 && text[0] == '0' && strings.Trim(text, "0") != "" {
			p.failAt(t.Pos, "leading zeros in decimal integer literals are not permitted")
		}
	}
	v, err := strconv.ParseInt(text, base, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			p.failAt(t.Pos, "integer literal too large")
		}
		p.failAt(t.Pos, "invalid integer literal")
	}
	return v
}

func (p *Parser) parseParenAtom() ast.Expr {
	start := p.expect("(")
	if p.accept(")") {
		return &ast.Tuple{ExprNode: p.en(start.Pos)}
	}
	if p.tok.is("yield") {
		e := p.parseYieldExpr()
		p.expect(")")
		return e
	}
	first := p.parseTestOrStar()
	if p.tok.is("for") || p.tok.is("async") {
		g := &ast.GeneratorExp{ExprNode: p.en(start.Pos), Elt: first, Generators: p.parseCompFor()}
		p.expect(")")
		return g
	}
	if p.accept(")") {
		if s, ok := first.(*ast.Starred); ok {
			p.failAt(s.Loc, "can't use starred expression here")
		}
		return first
	}
	elts := []ast.Expr{first}
	for p.accept(",") {
		if p.tok.is(")") {
			break
		}
		elts = append(elts, p.parseTestOrStar())
	}
	p.expect(")")
	return &ast.Tuple{ExprNode: p.en(start.Pos), Elts: elts}
}

func (p *Parser) parseListAtom() ast.Expr {
	start := p.expect("[")
	if p.accept("]") {
		return &ast.List{ExprNode: p.en(start.Pos)}
	}
	first := p.parseTestOrStar()
	if p.tok.is("for") || p.tok.is("async") {
		c := &ast.ListComp{ExprNode: p.en(start.Pos), Elt: first, Generators: p.parseCompFor()}
		p.expect("]")
		return c
	}
	elts := []ast.Expr{first}
	for p.accept(",") {
		if p.tok.is("]") {
			break
		}
		elts = append(elts, p.parseTestOrStar())
	}
	p.expect("]")
	return &ast.List{ExprNode: p.en(start.Pos), Elts: elts}
}

func (p *Parser) parseBraceAtom() ast.Expr {
	start := p.expect("{")
	if p.accept("}") {
		return &ast.Dict{ExprNode: p.en(start.Pos)}
	}
	if p.accept("**") {
		d := &ast.Dict{ExprNode: p.en(start.Pos), Keys: []ast.Expr{nil}, Values: []ast.Expr{p.parseExpr()}}
		p.parseDictRest(d)
		return d
	}
	first := p.parseTestOrStar()
	if p.accept(":") {
		value := p.parseTest()
		if p.tok.is("for") || p.tok.is("async") {
			c := &ast.DictComp{ExprNode: p.en(start.Pos), Key: first, Value: value, Generators: p.parseCompFor()}
			p.expect("}")
			return c
		}
		d := &ast.Dict{ExprNode: p.en(start.Pos), Keys: []ast.Expr{first}, Values: []ast.Expr{value}}
		p.parseDictRest(d)
		return d
	}
	if p.tok.is("for") || p.tok.is("async") {
		c := &ast.SetComp{ExprNode: p.en(start.Pos), Elt: first, Generators: p.parseCompFor()}
		p.expect("}")
		return c
	}
	elts := []ast.Expr{first}
	for p.accept(",") {
		if p.tok.is("}") {
			break
		}
		elts = append(elts, p.parseTestOrStar())
	}
	p.expect("}")
	return &ast.Set{ExprNode: p.en(start.Pos), Elts: elts}
}

func (p *Parser) parseDictRest(d *ast.Dict) {
	for p.accept(",") {
		if p.tok.is("}") {
			break
		}
		if p.accept("**") {
			d.Keys = append(d.Keys, nil)
			d.Values = append(d.Values, p.parseExpr())
			continue
		}
		k := p.parseTest()
		p.expect(":")
		d.Keys = append(d.Keys, k)
		d.Values = append(d.Values, p.parseTest())
	}
	p.expect("}")
}

// ---------------------------------------------------------------------------
// Targets
// ---------------------------------------------------------------------------

// setContext marks an expression as an assignment or deletion target,
// rejecting expressions that cannot be targets.
func (p *Parser) setContext(e ast.Expr, ctx ast.Context) {
	switch n := e.(type) {
	case *ast.Name:
		if ctx == ast.Store && n.ID == "__debug__" {
			p.failAt(n.Loc, "cannot assign to __debug__")
		}
		n.Ctx = ctx
	case *ast.Attribute:
		n.Ctx = ctx
	case *ast.Subscript:
		n.Ctx = ctx
	case *ast.Starred:
		if ctx == ast.Del {
			p.failAt(n.Loc, "cannot delete starred")
		}
		n.Ctx = ctx
		p.setContext(n.Value, ctx)
	case *ast.Tuple:
		n.Ctx = ctx
		for _, elt := range n.Elts {
			p.setContext(elt, ctx)
		}
	case *ast.List:
		n.Ctx = ctx
		for _, elt := range n.Elts {
			p.setContext(elt, ctx)
		}
	default:
		verb := "assign to"
		if ctx == ast.Del {
			verb = "delete"
		}
		p.failAt(e.Position(), "cannot %s %s", verb, describeExpr(e))
	}
}

func describeExpr(e ast.Expr) string {
	switch n := e.(type) {
	case *ast.Call:
		return "function call"
	case *ast.Constant:
		return "literal"
	case *ast.BinOp, *ast.UnaryOp, *ast.BoolOp:
		return "operator"
	case *ast.Compare:
		return "comparison"
	case *ast.Lambda:
		return "lambda"
	case *ast.IfExp:
		return "conditional expression"
	case *ast.Yield, *ast.YieldFrom:
		return "yield expression"
	case *ast.Await:
		return "await expression"
	case *ast.Dict:
		return "dict display"
	case *ast.Set:
		return "set display"
	case *ast.ListComp:
		return "list comprehension"
	case *ast.SetComp:
		return "set comprehension"
	case *ast.DictComp:
		return "dict comprehension"
	case *ast.GeneratorExp:
		return "generator expression"
	case *ast.JoinedStr, *ast.FormattedValue:
		return "f-string expression"
	case *ast.Tuple:
		return "tuple"
	case *ast.Name:
		return "name " + n.ID
	}
	return "expression"
}
