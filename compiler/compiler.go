// Package compiler lowers a syntax tree into bytecode.
//
// Each function, class body, lambda and comprehension is compiled into its
// own CodeInfo: a graph of basic blocks linked in emission order. When a
// scope is finished, finalizeCode computes the maximum value-stack depth,
// strips unreachable instructions and resolves block labels to instruction
// offsets, producing an immutable bytecode.CodeObject.
//
// Name resolution is delegated to the symtable package; the compiler only
// maps each resolved scope onto a family of load/store/delete instructions.
package compiler

import (
	"strings"

	"github.com/joomcode/errorx"
	"github.com/tliron/commonlog"

	"github.com/chazu/adder/compiler/symtable"
	"github.com/chazu/adder/pkg/ast"
	"github.com/chazu/adder/pkg/bytecode"
	"github.com/chazu/adder/pkg/parser"
)

var log = commonlog.GetLogger("adder.compiler")

// CompileOpts tunes code generation.
type CompileOpts struct {
	// Optimize mirrors -O: 1 drops assert statements, 2 also drops
	// docstrings.
	Optimize uint8
}

type functionKind uint8

const (
	noFunction functionKind = iota
	plainFunction
	asyncFunction
)

type loopLabels struct {
	start bytecode.Label
	end   bytecode.Label
}

// compileContext is the lexical situation of the code being emitted.
type compileContext struct {
	loop     *loopLabels
	inClass  bool
	function functionKind
}

func (c compileContext) inFunction() bool { return c.function != noFunction }

// Compiler holds the state of one compilation.
type Compiler struct {
	codeStack     []*CodeInfo
	tableStack    []*symtable.Table
	root          *symtable.Table
	sourcePath    string
	location      bytecode.Location
	ctx           compileContext
	qualifiedPath []string
	opts          CompileOpts
}

func newCompiler(root *symtable.Table, sourcePath string, opts CompileOpts) *Compiler {
	module := newCodeInfo(bytecode.FlagNewLocals, "<module>", sourcePath, 1)
	return &Compiler{
		codeStack:  []*CodeInfo{module},
		tableStack: []*symtable.Table{root},
		root:       root,
		sourcePath: sourcePath,
		opts:       opts,
	}
}

// Compile turns a parsed module, interactive entry or expression into a
// code object.
func Compile(mod ast.Mod, mode bytecode.Mode, sourcePath string, opts CompileOpts) (code *bytecode.CodeObject, err error) {
	table, err := symtable.Build(mod)
	if err != nil {
		return nil, fromScopeError(err, sourcePath)
	}
	c := newCompiler(table, sourcePath, opts)

	defer func() {
		if r := recover(); r != nil {
			code = nil
			if ce, ok := r.(*CompileError); ok {
				err = ce
				return
			}
			if e, ok := errorx.ErrorFromPanic(r); ok {
				err = errorx.Decorate(e, "compiling %s", sourcePath)
				return
			}
			panic(r)
		}
	}()

	switch m := mod.(type) {
	case *ast.Module:
		if mode == bytecode.ModeSingle {
			c.compileInteractive(m.Body)
		} else {
			c.compileProgram(m.Body)
		}
	case *ast.Interactive:
		c.compileInteractive(m.Body)
	case *ast.Expression:
		c.compileExpression(m.Body)
		c.emit(bytecode.ReturnValue, 0)
	default:
		return nil, errorx.IllegalArgument.New("cannot compile %T", mod)
	}

	if len(c.codeStack) != 1 {
		internalError("unbalanced code stack: %d entries", len(c.codeStack))
	}
	code = c.codeStack[0].finalizeCode()
	log.Debugf("compiled %s: %d instructions, stack %d", sourcePath, len(code.Instructions), code.MaxStackSize)
	return code, nil
}

// CompileSource parses and compiles source text.
func CompileSource(source string, mode bytecode.Mode, sourcePath string, opts CompileOpts) (*bytecode.CodeObject, error) {
	mod, err := parser.Parse(source, mode.String())
	if err != nil {
		return nil, fromParseError(err, sourcePath)
	}
	return Compile(mod, mode, sourcePath, opts)
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (c *Compiler) code() *CodeInfo {
	return c.codeStack[len(c.codeStack)-1]
}

func (c *Compiler) table() *symtable.Table {
	return c.tableStack[len(c.tableStack)-1]
}

func (c *Compiler) setLocation(pos ast.Pos) {
	c.location = bytecode.Location{Line: pos.Line, Column: pos.Column}
}

func (c *Compiler) emit(op bytecode.Opcode, arg uint32) {
	c.code().emit(bytecode.Instruction{Op: op, Arg: arg}, c.location)
}

func (c *Compiler) emitIns(ins bytecode.Instruction) {
	c.code().emit(ins, c.location)
}

func (c *Compiler) emitJump(op bytecode.Opcode, target bytecode.Label) {
	c.emit(op, uint32(target))
}

func (c *Compiler) emitConst(k bytecode.Constant) {
	c.emit(bytecode.LoadConst, c.code().addConstant(k))
}

func (c *Compiler) emitNone() {
	c.emitConst(bytecode.NoneConst{})
}

func (c *Compiler) name(name string) uint32 {
	return c.code().names.insert(name)
}

func (c *Compiler) newBlock() bytecode.Label {
	return c.code().newBlock()
}

func (c *Compiler) switchToBlock(b bytecode.Label) {
	c.code().switchToBlock(b)
}

func (c *Compiler) fail(kind CompileErrorType, args ...any) {
	panic(&CompileError{Kind: kind, Args: args, Location: c.location, SourcePath: c.sourcePath})
}

func (c *Compiler) markGenerator() {
	c.code().flags |= bytecode.FlagIsGenerator
}

func (c *Compiler) qualify(name string) string {
	if len(c.qualifiedPath) == 0 {
		return name
	}
	return strings.Join(c.qualifiedPath, ".") + "." + name
}

// pushOutput starts a new code object for the scope created by node.
func (c *Compiler) pushOutput(node ast.Node, flags bytecode.CodeFlags, posOnly, argCount, kwOnly int, name string) {
	table := c.root.ScopeFor(node)
	if table == nil {
		internalError("no symbol table for %s", name)
	}
	info := newCodeInfo(flags, name, c.sourcePath, node.Position().Line)
	info.posOnlyArgCount = posOnly
	info.argCount = argCount
	info.kwOnlyArgCount = kwOnly
	info.cellvars = newIndexSet(table.Scoped(symtable.ScopeCell))

	var frees []string
	for _, n := range table.Names() {
		sym := table.Lookup(n)
		if sym.Scope == symtable.ScopeFree || sym.IsFreeClass() {
			frees = append(frees, n)
		}
	}
	info.freevars = newIndexSet(sortedNames(frees))

	c.codeStack = append(c.codeStack, info)
	c.tableStack = append(c.tableStack, table)
}

func (c *Compiler) popCodeObject() *bytecode.CodeObject {
	info := c.code()
	c.codeStack = c.codeStack[:len(c.codeStack)-1]
	c.tableStack = c.tableStack[:len(c.tableStack)-1]
	return info.finalizeCode()
}

// ---------------------------------------------------------------------------
// Top level
// ---------------------------------------------------------------------------

func (c *Compiler) compileProgram(body []ast.Stmt) {
	body, doc, hasDoc := c.splitDocstring(body)
	if hasDoc {
		c.emitConst(bytecode.StrConst(doc))
		c.emit(bytecode.StoreGlobal, c.name("__doc__"))
	}
	if findAnnotations(body) {
		c.emit(bytecode.SetupAnnotation, 0)
	}
	c.compileStatements(body)
	c.emitNone()
	c.emit(bytecode.ReturnValue, 0)
}

// compileInteractive prints the value of every expression statement and
// returns the value of a trailing one.
func (c *Compiler) compileInteractive(body []ast.Stmt) {
	if findAnnotations(body) {
		c.emit(bytecode.SetupAnnotation, 0)
	}
	returned := false
	for i, stmt := range body {
		es, ok := stmt.(*ast.ExprStmt)
		if !ok {
			c.compileStatement(stmt)
			continue
		}
		c.setLocation(es.Position())
		c.compileExpression(es.Value)
		if i == len(body)-1 {
			c.emit(bytecode.Duplicate, 0)
			c.emit(bytecode.PrintExpr, 0)
			c.emit(bytecode.ReturnValue, 0)
			returned = true
		} else {
			c.emit(bytecode.PrintExpr, 0)
		}
	}
	if !returned {
		c.emitNone()
		c.emit(bytecode.ReturnValue, 0)
	}
}

// splitDocstring separates a leading string literal from the body. With
// Optimize >= 2 the docstring is dropped.
func (c *Compiler) splitDocstring(body []ast.Stmt) ([]ast.Stmt, string, bool) {
	if len(body) == 0 {
		return body, "", false
	}
	es, ok := body[0].(*ast.ExprStmt)
	if !ok {
		return body, "", false
	}
	k, ok := es.Value.(*ast.Constant)
	if !ok {
		return body, "", false
	}
	s, ok := k.Value.(string)
	if !ok {
		return body, "", false
	}
	if c.opts.Optimize >= 2 {
		return body[1:], "", false
	}
	return body[1:], s, true
}

// findAnnotations reports whether a module or class body contains an
// annotated assignment outside nested scopes.
func findAnnotations(body []ast.Stmt) bool {
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *ast.AnnAssign:
			return true
		case *ast.For:
			if findAnnotations(s.Body) || findAnnotations(s.Orelse) {
				return true
			}
		case *ast.While:
			if findAnnotations(s.Body) || findAnnotations(s.Orelse) {
				return true
			}
		case *ast.If:
			if findAnnotations(s.Body) || findAnnotations(s.Orelse) {
				return true
			}
		case *ast.With:
			if findAnnotations(s.Body) {
				return true
			}
		case *ast.Try:
			if findAnnotations(s.Body) || findAnnotations(s.Orelse) || findAnnotations(s.Finalbody) {
				return true
			}
			for _, h := range s.Handlers {
				if findAnnotations(h.Body) {
					return true
				}
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

type nameUsage uint8

const (
	nameLoad nameUsage = iota
	nameStore
	nameDelete
)

var nameOps = [...][3]bytecode.Opcode{
	{bytecode.LoadFast, bytecode.StoreFast, bytecode.DeleteFast},
	{bytecode.LoadGlobal, bytecode.StoreGlobal, bytecode.DeleteGlobal},
	{bytecode.LoadDeref, bytecode.StoreDeref, bytecode.DeleteDeref},
	{bytecode.LoadNameAny, bytecode.StoreLocal, bytecode.DeleteLocal},
}

const (
	opsFast = iota
	opsGlobal
	opsDeref
	opsName
)

func (c *Compiler) loadName(name string)  { c.compileName(name, nameLoad) }
func (c *Compiler) storeName(name string) { c.compileName(name, nameStore) }

func (c *Compiler) checkForbiddenName(name string, usage nameUsage) {
	if usage != nameLoad && name == "__debug__" {
		c.fail(ErrForbiddenName, name)
	}
}

// compileName emits the load, store or delete instruction matching the
// scope the symbol table assigned to name.
func (c *Compiler) compileName(name string, usage nameUsage) {
	c.checkForbiddenName(name, usage)
	sym := c.table().Lookup(name)
	if sym == nil {
		internalError("name %q missing from symbol table %s", name, c.table().Name)
	}
	info := c.code()
	inFunc := c.ctx.inFunction()

	family := opsName
	var idx uint32
	switch sym.Scope {
	case symtable.ScopeLocal:
		if inFunc {
			family = opsFast
			idx = info.varnames.insert(name)
		} else {
			idx = info.names.insert(name)
		}
	case symtable.ScopeGlobalExplicit:
		family = opsGlobal
		idx = info.names.insert(name)
	case symtable.ScopeGlobalImplicit, symtable.ScopeUnknown:
		if inFunc {
			family = opsGlobal
		}
		idx = info.names.insert(name)
	case symtable.ScopeFree:
		family = opsDeref
		i, ok := info.freevars.lookup(name)
		if !ok {
			internalError("free variable %q not in freevars of %s", name, info.objName)
		}
		idx = i + uint32(info.cellvars.len())
	case symtable.ScopeCell:
		family = opsDeref
		i, ok := info.cellvars.lookup(name)
		if !ok {
			internalError("cell variable %q not in cellvars of %s", name, info.objName)
		}
		idx = i
	}

	op := nameOps[family][usage]
	if op == bytecode.LoadDeref && !inFunc && c.ctx.inClass {
		op = bytecode.LoadClassDeref
	}
	c.emit(op, idx)
}

// buildClosure pushes a tuple of the cells an inner code object closes
// over. It reports whether anything was pushed.
func (c *Compiler) buildClosure(code *bytecode.CodeObject) bool {
	if len(code.Freevars) == 0 {
		return false
	}
	info := c.code()
	table := c.table()
	for _, name := range code.Freevars {
		sym := table.Lookup(name)
		if sym == nil {
			internalError("closure variable %q missing from %s", name, table.Name)
		}
		var idx uint32
		var ok bool
		switch {
		case sym.Scope == symtable.ScopeCell:
			idx, ok = info.cellvars.lookup(name)
		case sym.Scope == symtable.ScopeFree || sym.IsFreeClass():
			idx, ok = info.freevars.lookup(name)
			idx += uint32(info.cellvars.len())
		}
		if !ok {
			internalError("closure variable %q has scope %s in %s", name, sym.Scope, table.Name)
		}
		c.emit(bytecode.LoadClosure, idx)
	}
	c.emit(bytecode.BuildTuple, uint32(len(code.Freevars)))
	return true
}
