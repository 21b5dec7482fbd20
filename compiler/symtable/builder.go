package symtable

import (
	"fmt"
	"strings"

	"github.com/chazu/adder/pkg/ast"
)

// usage is how a single occurrence of a name binds or reads it.
type usage uint8

const (
	useGlobal usage = iota
	useNonlocal
	useUsed
	useAssigned
	useImported
	useAnnotationAssigned
	useParameter
	useAnnotationParameter
	useIter
)

// builder is the first pass: it records flags per scope.
type builder struct {
	tables []*Table
	index  map[ast.Node]*Table
}

func (b *builder) run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	fn()
	return nil
}

func (b *builder) fail(pos ast.Pos, format string, args ...any) {
	panic(&Error{Msg: fmt.Sprintf(format, args...), Loc: pos})
}

func (b *builder) current() *Table {
	return b.tables[len(b.tables)-1]
}

func (b *builder) enter(node ast.Node, name string, typ TableType, line int) *Table {
	t := newTable(name, typ, line, b.index)
	parent := b.current()
	parent.Children = append(parent.Children, t)
	b.index[node] = t
	b.tables = append(b.tables, t)
	return t
}

func (b *builder) leave() {
	b.tables = b.tables[:len(b.tables)-1]
}

func (b *builder) register(name string, role usage, pos ast.Pos) {
	t := b.current()
	if role == useNonlocal && len(b.tables) < 2 {
		b.fail(pos, "nonlocal declaration not allowed at module level")
	}

	if sym, ok := t.Symbols[name]; ok {
		switch role {
		case useGlobal:
			if !sym.IsGlobal() {
				b.checkDeclaration(sym, "global", pos)
			}
		case useNonlocal:
			b.checkDeclaration(sym, "nonlocal", pos)
		}
	}

	sym := t.symbol(name)
	switch role {
	case useNonlocal:
		if sym.Scope == ScopeGlobalExplicit {
			b.fail(pos, "name '%s' is nonlocal and global", name)
		}
		sym.Scope = ScopeFree
		sym.Flags |= FlagNonlocal
	case useGlobal:
		if sym.IsNonlocal() {
			b.fail(pos, "name '%s' is nonlocal and global", name)
		}
		sym.Scope = ScopeGlobalExplicit
	case useImported:
		sym.Flags |= FlagAssigned | FlagImported
	case useParameter:
		sym.Flags |= FlagParameter
	case useAnnotationParameter:
		sym.Flags |= FlagParameter | FlagAnnotated
	case useAnnotationAssigned:
		sym.Flags |= FlagAssigned | FlagAnnotated
	case useAssigned:
		sym.Flags |= FlagAssigned
	case useUsed:
		sym.Flags |= FlagReferenced
	case useIter:
		sym.Flags |= FlagIter
	}
}

func (b *builder) checkDeclaration(sym *Symbol, kind string, pos ast.Pos) {
	switch {
	case sym.IsParameter():
		b.fail(pos, "name '%s' is parameter and %s", sym.Name, kind)
	case sym.IsReferenced():
		b.fail(pos, "name '%s' is used prior to %s declaration", sym.Name, kind)
	case sym.IsAnnotated():
		b.fail(pos, "annotated name '%s' can't be %s", sym.Name, kind)
	case sym.IsAssigned():
		b.fail(pos, "name '%s' is assigned to before %s declaration", sym.Name, kind)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (b *builder) scanStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		b.scanStmt(s)
	}
}

func (b *builder) scanStmt(stmt ast.Stmt) {
	pos := stmt.Position()
	switch s := stmt.(type) {
	case *ast.Global:
		for _, name := range s.Names {
			b.register(name, useGlobal, pos)
		}
	case *ast.Nonlocal:
		for _, name := range s.Names {
			b.register(name, useNonlocal, pos)
		}
	case *ast.FunctionDef:
		b.scanExprs(s.DecoratorList)
		b.scanParameterDefaults(s.Args)
		b.scanParameterAnnotations(s.Args)
		if s.Returns != nil {
			b.scanExpr(s.Returns, ast.Load)
		}
		b.register(s.Name, useAssigned, pos)
		b.enter(s, s.Name, TableFunction, pos.Line)
		b.scanParameters(s.Args)
		b.scanStmts(s.Body)
		b.leave()
	case *ast.ClassDef:
		b.scanExprs(s.DecoratorList)
		b.scanExprs(s.Bases)
		for _, kw := range s.Keywords {
			b.scanExpr(kw.Value, ast.Load)
		}
		b.enter(s, s.Name, TableClass, pos.Line)
		b.register("__module__", useAssigned, pos)
		b.register("__qualname__", useAssigned, pos)
		b.register("__doc__", useAssigned, pos)
		b.register("__class__", useAssigned, pos)
		b.scanStmts(s.Body)
		b.leave()
		b.register(s.Name, useAssigned, pos)
	case *ast.Return:
		if s.Value != nil {
			b.scanExpr(s.Value, ast.Load)
		}
	case *ast.Delete:
		for _, target := range s.Targets {
			b.scanExpr(target, ast.Del)
		}
	case *ast.Assign:
		b.scanExpr(s.Value, ast.Load)
		for _, target := range s.Targets {
			b.scanExpr(target, ast.Store)
		}
	case *ast.AugAssign:
		b.scanExpr(s.Value, ast.Load)
		b.scanExpr(s.Target, ast.Store)
	case *ast.AnnAssign:
		if name, ok := s.Target.(*ast.Name); ok && s.Simple {
			if sym := b.current().Symbols[name.ID]; sym != nil && sym.IsGlobal() && s.Value == nil {
				// "global x" followed by "x: int" annotates without binding.
				b.scanExpr(s.Annotation, ast.Load)
				break
			}
			b.register(name.ID, useAnnotationAssigned, pos)
		} else {
			b.scanExpr(s.Target, ast.Store)
		}
		b.scanExpr(s.Annotation, ast.Load)
		if s.Value != nil {
			b.scanExpr(s.Value, ast.Load)
		}
	case *ast.For:
		b.scanExpr(s.Target, ast.Store)
		b.scanExpr(s.Iter, ast.Load)
		b.scanStmts(s.Body)
		b.scanStmts(s.Orelse)
	case *ast.While:
		b.scanExpr(s.Test, ast.Load)
		b.scanStmts(s.Body)
		b.scanStmts(s.Orelse)
	case *ast.If:
		b.scanExpr(s.Test, ast.Load)
		b.scanStmts(s.Body)
		b.scanStmts(s.Orelse)
	case *ast.With:
		for _, item := range s.Items {
			b.scanExpr(item.ContextExpr, ast.Load)
			if item.OptionalVars != nil {
				b.scanExpr(item.OptionalVars, ast.Store)
			}
		}
		b.scanStmts(s.Body)
	case *ast.Raise:
		if s.Exc != nil {
			b.scanExpr(s.Exc, ast.Load)
		}
		if s.Cause != nil {
			b.scanExpr(s.Cause, ast.Load)
		}
	case *ast.Try:
		b.scanStmts(s.Body)
		for _, h := range s.Handlers {
			if h.Type != nil {
				b.scanExpr(h.Type, ast.Load)
			}
			if h.Name != "" {
				b.register(h.Name, useAssigned, h.Loc)
			}
			b.scanStmts(h.Body)
		}
		b.scanStmts(s.Orelse)
		b.scanStmts(s.Finalbody)
	case *ast.Assert:
		b.scanExpr(s.Test, ast.Load)
		if s.Msg != nil {
			b.scanExpr(s.Msg, ast.Load)
		}
	case *ast.Import:
		for _, alias := range s.Names {
			name := alias.AsName
			if name == "" {
				name, _, _ = strings.Cut(alias.Name, ".")
			}
			b.register(name, useImported, pos)
		}
	case *ast.ImportFrom:
		for _, alias := range s.Names {
			if alias.Name == "*" {
				if b.current().Type != TableModule {
					b.fail(pos, "import * only allowed at module level")
				}
				continue
			}
			name := alias.AsName
			if name == "" {
				name = alias.Name
			}
			b.register(name, useImported, pos)
		}
	case *ast.ExprStmt:
		b.scanExpr(s.Value, ast.Load)
	case *ast.Pass, *ast.Break, *ast.Continue:
	default:
		b.fail(pos, "unsupported statement %T", stmt)
	}
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// scanParameterDefaults visits default values, which are evaluated in the
// enclosing scope when the function is defined.
func (b *builder) scanParameterDefaults(args *ast.Arguments) {
	b.scanExprs(args.Defaults)
	for _, d := range args.KwDefaults {
		if d != nil {
			b.scanExpr(d, ast.Load)
		}
	}
}

func (b *builder) scanParameterAnnotations(args *ast.Arguments) {
	for _, arg := range args.All() {
		if arg.Annotation != nil {
			b.scanExpr(arg.Annotation, ast.Load)
		}
	}
}

func (b *builder) scanParameters(args *ast.Arguments) {
	for _, arg := range args.All() {
		role := useParameter
		if arg.Annotation != nil {
			role = useAnnotationParameter
		}
		b.register(arg.Name, role, arg.Loc)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (b *builder) scanExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		b.scanExpr(e, ast.Load)
	}
}

func (b *builder) scanExpr(expr ast.Expr, ctx ast.Context) {
	pos := expr.Position()
	switch e := expr.(type) {
	case *ast.Name:
		switch ctx {
		case ast.Load:
			b.register(e.ID, useUsed, pos)
			// super() with no arguments needs the class cell.
			if e.ID == "super" && b.current().Type == TableFunction && !b.current().Comprehension {
				b.register("__class__", useUsed, pos)
			}
		default:
			b.register(e.ID, useAssigned, pos)
		}
	case *ast.BoolOp:
		b.scanExprs(e.Values)
	case *ast.BinOp:
		b.scanExpr(e.Left, ast.Load)
		b.scanExpr(e.Right, ast.Load)
	case *ast.UnaryOp:
		b.scanExpr(e.Operand, ast.Load)
	case *ast.Lambda:
		b.scanParameterDefaults(e.Args)
		b.enter(e, "lambda", TableFunction, pos.Line)
		b.scanParameters(e.Args)
		b.scanExpr(e.Body, ast.Load)
		b.leave()
	case *ast.IfExp:
		b.scanExpr(e.Test, ast.Load)
		b.scanExpr(e.Body, ast.Load)
		b.scanExpr(e.Orelse, ast.Load)
	case *ast.Dict:
		for i, v := range e.Values {
			if e.Keys[i] != nil {
				b.scanExpr(e.Keys[i], ast.Load)
			}
			b.scanExpr(v, ast.Load)
		}
	case *ast.Set:
		b.scanExprs(e.Elts)
	case *ast.ListComp:
		b.scanComprehension(e, "listcomp", e.Generators, e.Elt)
	case *ast.SetComp:
		b.scanComprehension(e, "setcomp", e.Generators, e.Elt)
	case *ast.DictComp:
		b.scanComprehension(e, "dictcomp", e.Generators, e.Key, e.Value)
	case *ast.GeneratorExp:
		b.scanComprehension(e, "genexpr", e.Generators, e.Elt)
	case *ast.Await:
		b.scanExpr(e.Value, ast.Load)
	case *ast.Yield:
		if e.Value != nil {
			b.scanExpr(e.Value, ast.Load)
		}
	case *ast.YieldFrom:
		b.scanExpr(e.Value, ast.Load)
	case *ast.Compare:
		b.scanExpr(e.Left, ast.Load)
		b.scanExprs(e.Comparators)
	case *ast.Call:
		b.scanExpr(e.Func, ast.Load)
		b.scanExprs(e.Args)
		for _, kw := range e.Keywords {
			b.scanExpr(kw.Value, ast.Load)
		}
	case *ast.FormattedValue:
		b.scanExpr(e.Value, ast.Load)
		if e.FormatSpec != nil {
			b.scanExpr(e.FormatSpec, ast.Load)
		}
	case *ast.JoinedStr:
		b.scanExprs(e.Values)
	case *ast.Constant:
	case *ast.Attribute:
		b.scanExpr(e.Value, ast.Load)
	case *ast.Subscript:
		b.scanExpr(e.Value, ast.Load)
		b.scanExpr(e.Slice, ast.Load)
	case *ast.Starred:
		b.scanExpr(e.Value, ctx)
	case *ast.List:
		for _, elt := range e.Elts {
			b.scanExpr(elt, ctx)
		}
	case *ast.Tuple:
		for _, elt := range e.Elts {
			b.scanExpr(elt, ctx)
		}
	case *ast.Slice:
		for _, part := range []ast.Expr{e.Lower, e.Upper, e.Step} {
			if part != nil {
				b.scanExpr(part, ast.Load)
			}
		}
	default:
		b.fail(pos, "unsupported expression %T", expr)
	}
}

// scanComprehension gives the comprehension its own function scope. The
// outermost iterable is evaluated in the enclosing scope and passed in as
// the parameter ".0".
func (b *builder) scanComprehension(node ast.Expr, kind string, gens []*ast.Comprehension, elts ...ast.Expr) {
	pos := node.Position()
	t := b.enter(node, "<"+kind+">", TableFunction, pos.Line)
	t.Comprehension = true
	b.register(".0", useParameter, pos)
	for _, elt := range elts {
		b.scanExpr(elt, ast.Load)
	}
	for i, gen := range gens {
		b.scanExpr(gen.Target, ast.Store)
		if i > 0 {
			b.scanExpr(gen.Iter, ast.Load)
		}
		b.scanExprs(gen.Ifs)
	}
	b.leave()
	b.scanExpr(gens[0].Iter, ast.Load)
}
