package compiler

import (
	"strings"

	"github.com/chazu/adder/pkg/ast"
	"github.com/chazu/adder/pkg/bytecode"
)

func (c *Compiler) compileStatements(body []ast.Stmt) {
	for _, stmt := range body {
		c.compileStatement(stmt)
	}
}

func (c *Compiler) compileStatement(stmt ast.Stmt) {
	c.setLocation(stmt.Position())
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		c.compileExpression(s.Value)
		c.emit(bytecode.Pop, 0)
	case *ast.Assign:
		c.compileExpression(s.Value)
		for i, target := range s.Targets {
			if i < len(s.Targets)-1 {
				c.emit(bytecode.Duplicate, 0)
			}
			c.compileStore(target)
		}
	case *ast.AugAssign:
		c.compileAugAssign(s)
	case *ast.AnnAssign:
		c.compileAnnAssign(s)
	case *ast.Delete:
		for _, target := range s.Targets {
			c.compileDelete(target)
		}
	case *ast.Pass, *ast.Global, *ast.Nonlocal:
	case *ast.If:
		c.compileIf(s)
	case *ast.While:
		c.compileWhile(s)
	case *ast.For:
		c.compileFor(s)
	case *ast.Break:
		if c.ctx.loop == nil {
			c.fail(ErrInvalidBreak)
		}
		c.emit(bytecode.Break, 0)
	case *ast.Continue:
		if c.ctx.loop == nil {
			c.fail(ErrInvalidContinue)
		}
		c.emitJump(bytecode.Continue, c.ctx.loop.start)
	case *ast.Return:
		c.compileReturn(s)
	case *ast.Raise:
		c.compileRaise(s)
	case *ast.Try:
		c.compileTry(s)
	case *ast.With:
		c.compileWith(s)
	case *ast.Assert:
		c.compileAssert(s)
	case *ast.Import:
		c.compileImport(s)
	case *ast.ImportFrom:
		c.compileImportFrom(s)
	case *ast.FunctionDef:
		c.compileFunctionDef(s)
	case *ast.ClassDef:
		c.compileClassDef(s)
	default:
		internalError("unsupported statement %T", stmt)
	}
}

// ---------------------------------------------------------------------------
// Assignment targets
// ---------------------------------------------------------------------------

func (c *Compiler) compileStore(target ast.Expr) {
	switch t := target.(type) {
	case *ast.Name:
		c.storeName(t.ID)
	case *ast.Subscript:
		c.compileExpression(t.Value)
		c.compileExpression(t.Slice)
		c.emit(bytecode.StoreSubscript, 0)
	case *ast.Attribute:
		c.compileExpression(t.Value)
		c.emit(bytecode.StoreAttr, c.name(t.Attr))
	case *ast.List:
		c.compileUnpackTarget(target, t.Elts)
	case *ast.Tuple:
		c.compileUnpackTarget(target, t.Elts)
	case *ast.Starred:
		c.fail(ErrInvalidStarExpr)
	default:
		c.fail(ErrAssign, describe(target))
	}
}

func (c *Compiler) compileUnpackTarget(target ast.Expr, elts []ast.Expr) {
	seenStar := false
	for i, elt := range elts {
		if _, ok := elt.(*ast.Starred); !ok {
			continue
		}
		if seenStar {
			c.fail(ErrMultipleStarArgs)
		}
		seenStar = true
		before, after := i, len(elts)-i-1
		if before > 255 || after > 255 {
			c.fail(ErrTooManyStarUnpack)
		}
		c.emitIns(bytecode.Instruction{Op: bytecode.UnpackEx, Arg: uint32(before), Arg2: uint32(after)})
	}
	if !seenStar {
		c.emit(bytecode.UnpackSequence, uint32(len(elts)))
	}
	for _, elt := range elts {
		if star, ok := elt.(*ast.Starred); ok {
			c.compileStore(star.Value)
		} else {
			c.compileStore(elt)
		}
	}
}

func (c *Compiler) compileDelete(target ast.Expr) {
	switch t := target.(type) {
	case *ast.Name:
		c.compileName(t.ID, nameDelete)
	case *ast.Attribute:
		c.compileExpression(t.Value)
		c.emit(bytecode.DeleteAttr, c.name(t.Attr))
	case *ast.Subscript:
		c.compileExpression(t.Value)
		c.compileExpression(t.Slice)
		c.emit(bytecode.DeleteSubscript, 0)
	case *ast.Tuple:
		for _, elt := range t.Elts {
			c.compileDelete(elt)
		}
	case *ast.List:
		for _, elt := range t.Elts {
			c.compileDelete(elt)
		}
	default:
		c.fail(ErrDelete, describe(target))
	}
}

func (c *Compiler) compileAugAssign(s *ast.AugAssign) {
	op := binaryOperator(s.Op)
	switch t := s.Target.(type) {
	case *ast.Name:
		c.loadName(t.ID)
		c.compileExpression(s.Value)
		c.emit(bytecode.BinaryOperationInplace, uint32(op))
		c.storeName(t.ID)
	case *ast.Subscript:
		c.compileExpression(t.Value)
		c.compileExpression(t.Slice)
		c.emit(bytecode.Duplicate2, 0)
		c.emit(bytecode.Subscript, 0)
		c.compileExpression(s.Value)
		c.emit(bytecode.BinaryOperationInplace, uint32(op))
		c.emit(bytecode.Rotate3, 0)
		c.emit(bytecode.StoreSubscript, 0)
	case *ast.Attribute:
		c.compileExpression(t.Value)
		c.emit(bytecode.Duplicate, 0)
		c.emit(bytecode.LoadAttr, c.name(t.Attr))
		c.compileExpression(s.Value)
		c.emit(bytecode.BinaryOperationInplace, uint32(op))
		c.emit(bytecode.Rotate2, 0)
		c.emit(bytecode.StoreAttr, c.name(t.Attr))
	default:
		c.fail(ErrAssign, describe(s.Target))
	}
}

// compileAnnAssign stores the value and, in module and class bodies,
// records a simple target's annotation in __annotations__.
func (c *Compiler) compileAnnAssign(s *ast.AnnAssign) {
	if s.Value != nil {
		c.compileExpression(s.Value)
		c.compileStore(s.Target)
	}
	if c.ctx.inFunction() {
		return
	}
	name, ok := s.Target.(*ast.Name)
	if !ok || !s.Simple {
		c.compileExpression(s.Annotation)
		c.emit(bytecode.Pop, 0)
		return
	}
	c.compileExpression(s.Annotation)
	c.emit(bytecode.LoadNameAny, c.name("__annotations__"))
	c.emitConst(bytecode.StrConst(name.ID))
	c.emit(bytecode.StoreSubscript, 0)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (c *Compiler) compileIf(s *ast.If) {
	after := c.newBlock()
	if len(s.Orelse) == 0 {
		c.compileJumpIf(s.Test, false, after)
		c.compileStatements(s.Body)
	} else {
		orelse := c.newBlock()
		c.compileJumpIf(s.Test, false, orelse)
		c.compileStatements(s.Body)
		c.emitJump(bytecode.Jump, after)
		c.switchToBlock(orelse)
		c.compileStatements(s.Orelse)
	}
	c.switchToBlock(after)
}

func (c *Compiler) compileWhile(s *ast.While) {
	start := c.newBlock()
	orelse := c.newBlock()
	after := c.newBlock()

	c.emitJump(bytecode.SetupLoop, after)
	c.switchToBlock(start)
	c.compileJumpIf(s.Test, false, orelse)

	saved := c.ctx.loop
	c.ctx.loop = &loopLabels{start: start, end: after}
	c.compileStatements(s.Body)
	c.ctx.loop = saved
	c.emitJump(bytecode.Jump, start)

	c.switchToBlock(orelse)
	c.emit(bytecode.PopBlock, 0)
	c.compileStatements(s.Orelse)
	c.switchToBlock(after)
}

func (c *Compiler) compileFor(s *ast.For) {
	start := c.newBlock()
	orelse := c.newBlock()
	after := c.newBlock()

	c.emitJump(bytecode.SetupLoop, after)
	if s.IsAsync {
		if c.ctx.function != asyncFunction {
			c.fail(ErrAsyncOutsideFunction, "async for")
		}
		c.compileExpression(s.Iter)
		c.emit(bytecode.GetAIter, 0)
		c.switchToBlock(start)
		c.setLocation(s.Position())
		c.emitJump(bytecode.SetupExcept, orelse)
		c.emit(bytecode.GetANext, 0)
		c.emitNone()
		c.emit(bytecode.YieldFrom, 0)
		c.compileStore(s.Target)
		c.emit(bytecode.PopBlock, 0)
	} else {
		c.compileExpression(s.Iter)
		c.emit(bytecode.GetIter, 0)
		c.switchToBlock(start)
		c.setLocation(s.Position())
		c.emitJump(bytecode.ForIter, orelse)
		c.compileStore(s.Target)
	}

	saved := c.ctx.loop
	c.ctx.loop = &loopLabels{start: start, end: after}
	c.compileStatements(s.Body)
	c.ctx.loop = saved
	c.emitJump(bytecode.Jump, start)

	c.switchToBlock(orelse)
	if s.IsAsync {
		c.emit(bytecode.EndAsyncFor, 0)
	}
	c.emit(bytecode.PopBlock, 0)
	c.compileStatements(s.Orelse)
	c.switchToBlock(after)
}

// compileJumpIf jumps to target when expr's truth equals condition,
// short-circuiting through and/or/not without materializing booleans.
func (c *Compiler) compileJumpIf(expr ast.Expr, condition bool, target bytecode.Label) {
	switch e := expr.(type) {
	case *ast.BoolOp:
		last := len(e.Values) - 1
		// "and" jumps on true only when every value is true; "or" is the mirror.
		all := e.Op == ast.And
		if condition == all {
			end := c.newBlock()
			for _, v := range e.Values[:last] {
				c.compileJumpIf(v, !all, end)
			}
			c.compileJumpIf(e.Values[last], condition, target)
			c.switchToBlock(end)
		} else {
			for _, v := range e.Values {
				c.compileJumpIf(v, condition, target)
			}
		}
	case *ast.UnaryOp:
		if e.Op == ast.Not {
			c.compileJumpIf(e.Operand, !condition, target)
			return
		}
		c.compileExpression(expr)
		c.emitCondJump(condition, target)
	default:
		c.compileExpression(expr)
		c.emitCondJump(condition, target)
	}
}

func (c *Compiler) emitCondJump(condition bool, target bytecode.Label) {
	if condition {
		c.emitJump(bytecode.JumpIfTrue, target)
	} else {
		c.emitJump(bytecode.JumpIfFalse, target)
	}
}

func (c *Compiler) compileReturn(s *ast.Return) {
	if !c.ctx.inFunction() {
		c.fail(ErrInvalidReturn)
	}
	if s.Value != nil {
		c.compileExpression(s.Value)
	} else {
		c.emitNone()
	}
	c.emit(bytecode.ReturnValue, 0)
}

func (c *Compiler) compileRaise(s *ast.Raise) {
	switch {
	case s.Exc == nil:
		c.emit(bytecode.Raise, uint32(bytecode.RaiseReraise))
	case s.Cause == nil:
		c.compileExpression(s.Exc)
		c.emit(bytecode.Raise, uint32(bytecode.RaiseException))
	default:
		c.compileExpression(s.Exc)
		c.compileExpression(s.Cause)
		c.emit(bytecode.Raise, uint32(bytecode.RaiseCause))
	}
}

func (c *Compiler) compileAssert(s *ast.Assert) {
	if c.opts.Optimize > 0 {
		return
	}
	after := c.newBlock()
	c.compileJumpIf(s.Test, true, after)
	c.emit(bytecode.LoadGlobal, c.name("AssertionError"))
	if s.Msg != nil {
		c.compileExpression(s.Msg)
		c.emit(bytecode.CallFunctionPositional, 1)
	} else {
		c.emit(bytecode.CallFunctionPositional, 0)
	}
	c.emit(bytecode.Raise, uint32(bytecode.RaiseException))
	c.switchToBlock(after)
}

// compileTry lowers try/except/else/finally onto SetupFinally and
// SetupExcept blocks. The exception being handled sits on the value stack
// when a handler starts; an unmatched exception is re-raised after the
// last clause.
func (c *Compiler) compileTry(s *ast.Try) {
	hasFinally := len(s.Finalbody) > 0
	finally := c.newBlock()
	if hasFinally {
		c.emitJump(bytecode.SetupFinally, finally)
	}

	if len(s.Handlers) == 0 {
		c.compileStatements(s.Body)
		c.compileStatements(s.Orelse)
		if hasFinally {
			c.emit(bytecode.PopBlock, 0)
			c.emit(bytecode.EnterFinally, 0)
		}
		c.switchToBlock(finally)
		if hasFinally {
			c.compileStatements(s.Finalbody)
			c.emit(bytecode.EndFinally, 0)
		}
		return
	}

	handler := c.newBlock()
	orelse := c.newBlock()
	c.emitJump(bytecode.SetupExcept, handler)
	c.compileStatements(s.Body)
	c.emit(bytecode.PopBlock, 0)
	c.emitJump(bytecode.Jump, orelse)

	c.switchToBlock(handler)
	for _, h := range s.Handlers {
		c.location = bytecode.Location{Line: h.Loc.Line, Column: h.Loc.Column}
		next := c.newBlock()
		if h.Type != nil {
			c.emit(bytecode.Duplicate, 0)
			c.compileExpression(h.Type)
			c.emit(bytecode.CompareOperation, uint32(bytecode.CmpExceptionMatch))
			c.emitJump(bytecode.JumpIfFalse, next)
			if h.Name != "" {
				c.storeName(h.Name)
			} else {
				c.emit(bytecode.Pop, 0)
			}
		} else {
			c.emit(bytecode.Pop, 0)
		}

		c.compileStatements(h.Body)
		if h.Name != "" {
			// The name is unbound when the handler ends.
			c.emitNone()
			c.storeName(h.Name)
			c.compileName(h.Name, nameDelete)
		}
		c.emit(bytecode.PopException, 0)
		if hasFinally {
			c.emit(bytecode.PopBlock, 0)
			c.emit(bytecode.EnterFinally, 0)
		}
		c.emitJump(bytecode.Jump, finally)
		c.switchToBlock(next)
	}
	c.emit(bytecode.Raise, uint32(bytecode.RaiseReraise))

	c.switchToBlock(orelse)
	c.compileStatements(s.Orelse)
	if hasFinally {
		c.emit(bytecode.PopBlock, 0)
		c.emit(bytecode.EnterFinally, 0)
	}

	c.switchToBlock(finally)
	if hasFinally {
		c.compileStatements(s.Finalbody)
		c.emit(bytecode.EndFinally, 0)
	}
}

// compileWith nests one SetupWith block per item; the cleanups run in
// reverse order.
func (c *Compiler) compileWith(s *ast.With) {
	if s.IsAsync && c.ctx.function != asyncFunction {
		c.fail(ErrAsyncOutsideFunction, "async with")
	}
	loc := c.location
	ends := make([]bytecode.Label, 0, len(s.Items))
	for _, item := range s.Items {
		end := c.newBlock()
		c.compileExpression(item.ContextExpr)
		c.location = loc
		if s.IsAsync {
			c.emit(bytecode.BeforeAsyncWith, 0)
			c.emit(bytecode.GetAwaitable, 0)
			c.emitNone()
			c.emit(bytecode.YieldFrom, 0)
			c.emitJump(bytecode.SetupAsyncWith, end)
		} else {
			c.emitJump(bytecode.SetupWith, end)
		}
		if item.OptionalVars != nil {
			c.compileStore(item.OptionalVars)
		} else {
			c.emit(bytecode.Pop, 0)
		}
		ends = append(ends, end)
	}

	c.compileStatements(s.Body)

	c.location = loc
	for i := len(ends) - 1; i >= 0; i-- {
		c.emit(bytecode.PopBlock, 0)
		c.emit(bytecode.EnterFinally, 0)
		c.switchToBlock(ends[i])
		c.emit(bytecode.WithCleanupStart, 0)
		if s.IsAsync {
			c.emit(bytecode.GetAwaitable, 0)
			c.emitNone()
			c.emit(bytecode.YieldFrom, 0)
		}
		c.emit(bytecode.WithCleanupFinish, 0)
	}
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func (c *Compiler) compileImport(s *ast.Import) {
	for _, alias := range s.Names {
		c.emitConst(bytecode.IntConst(0))
		c.emitNone()
		c.emit(bytecode.ImportName, c.name(alias.Name))
		if alias.AsName != "" {
			parts := strings.Split(alias.Name, ".")
			for _, part := range parts[1:] {
				c.emit(bytecode.LoadAttr, c.name(part))
			}
			c.storeName(alias.AsName)
		} else {
			first, _, _ := strings.Cut(alias.Name, ".")
			c.storeName(first)
		}
	}
}

func (c *Compiler) compileImportFrom(s *ast.ImportFrom) {
	star := false
	fromList := make(bytecode.TupleConst, 0, len(s.Names))
	for _, alias := range s.Names {
		if alias.Name == "*" {
			star = true
		}
		fromList = append(fromList, bytecode.StrConst(alias.Name))
	}
	if star && c.ctx.inFunction() {
		c.fail(ErrFunctionImportStar)
	}

	c.emitConst(bytecode.IntConst(s.Level))
	c.emitConst(fromList)
	c.emit(bytecode.ImportName, c.name(s.Module))
	if star {
		c.emit(bytecode.ImportStar, 0)
		return
	}
	for _, alias := range s.Names {
		c.emit(bytecode.ImportFrom, c.name(alias.Name))
		if alias.AsName != "" {
			c.storeName(alias.AsName)
		} else {
			c.storeName(alias.Name)
		}
	}
	c.emit(bytecode.Pop, 0)
}

// ---------------------------------------------------------------------------
// Functions and classes
// ---------------------------------------------------------------------------

// enterFunction evaluates defaults in the enclosing scope and then opens
// the function's code object with its parameters as the first varnames.
func (c *Compiler) enterFunction(node ast.Node, name string, args *ast.Arguments) bytecode.MakeFunctionFlags {
	var flags bytecode.MakeFunctionFlags
	if len(args.Defaults) > 0 {
		for _, d := range args.Defaults {
			c.compileExpression(d)
		}
		c.emit(bytecode.BuildTuple, uint32(len(args.Defaults)))
		flags |= bytecode.FuncHasDefaults
	}

	kwDefaults := 0
	for i, arg := range args.KwOnlyArgs {
		if i < len(args.KwDefaults) && args.KwDefaults[i] != nil {
			c.emitConst(bytecode.StrConst(arg.Name))
			c.compileExpression(args.KwDefaults[i])
			kwDefaults++
		}
	}
	if kwDefaults > 0 {
		c.emit(bytecode.BuildMap, uint32(kwDefaults))
		flags |= bytecode.FuncHasKwOnlyDefaults
	}

	posOnly := len(args.PosOnlyArgs)
	c.pushOutput(node, bytecode.FlagNewLocals|bytecode.FlagIsOptimized,
		posOnly, posOnly+len(args.Args), len(args.KwOnlyArgs), name)

	info := c.code()
	for _, group := range [][]*ast.Arg{args.PosOnlyArgs, args.Args, args.KwOnlyArgs} {
		for _, arg := range group {
			info.varnames.insert(arg.Name)
		}
	}
	if args.Vararg != nil {
		info.flags |= bytecode.FlagHasVarargs
		info.varnames.insert(args.Vararg.Name)
	}
	if args.Kwarg != nil {
		info.flags |= bytecode.FlagHasVarKeywords
		info.varnames.insert(args.Kwarg.Name)
	}
	return flags
}

func (c *Compiler) compileDecorators(decorators []ast.Expr) {
	for _, d := range decorators {
		c.compileExpression(d)
	}
}

func (c *Compiler) applyDecorators(decorators []ast.Expr) {
	for range decorators {
		c.emit(bytecode.CallFunctionPositional, 1)
	}
}

func (c *Compiler) compileFunctionDef(s *ast.FunctionDef) {
	c.compileDecorators(s.DecoratorList)
	flags := c.enterFunction(s, s.Name, s.Args)

	saved := c.ctx
	c.ctx = compileContext{inClass: saved.inClass, function: plainFunction}
	if s.IsAsync {
		c.ctx.function = asyncFunction
		c.code().flags |= bytecode.FlagIsCoroutine
	}
	qualname := c.qualify(s.Name)
	c.qualifiedPath = append(c.qualifiedPath, s.Name, "<locals>")

	body, doc, hasDoc := c.splitDocstring(s.Body)
	c.compileStatements(body)
	if len(body) == 0 {
		c.emitNone()
		c.emit(bytecode.ReturnValue, 0)
	} else if _, ok := body[len(body)-1].(*ast.Return); !ok {
		c.emitNone()
		c.emit(bytecode.ReturnValue, 0)
	}

	code := c.popCodeObject()
	c.qualifiedPath = c.qualifiedPath[:len(c.qualifiedPath)-2]
	c.ctx = saved
	c.setLocation(s.Position())

	annotations := 0
	if s.Returns != nil {
		c.emitConst(bytecode.StrConst("return"))
		c.compileExpression(s.Returns)
		annotations++
	}
	for _, group := range [][]*ast.Arg{s.Args.PosOnlyArgs, s.Args.Args, s.Args.KwOnlyArgs, {s.Args.Vararg}, {s.Args.Kwarg}} {
		for _, arg := range group {
			if arg == nil || arg.Annotation == nil {
				continue
			}
			c.emitConst(bytecode.StrConst(arg.Name))
			c.compileExpression(arg.Annotation)
			annotations++
		}
	}
	if annotations > 0 {
		c.emit(bytecode.BuildMap, uint32(annotations))
		flags |= bytecode.FuncHasAnnotations
	}

	if c.buildClosure(code) {
		flags |= bytecode.FuncHasClosure
	}
	c.emitConst(bytecode.CodeConst{Code: code})
	c.emitConst(bytecode.StrConst(qualname))
	c.emit(bytecode.MakeFunction, uint32(flags))

	if hasDoc {
		c.emit(bytecode.Duplicate, 0)
		c.emitConst(bytecode.StrConst(doc))
		c.emit(bytecode.Rotate2, 0)
		c.emit(bytecode.StoreAttr, c.name("__doc__"))
	}
	c.applyDecorators(s.DecoratorList)
	c.storeName(s.Name)
}

// compileClassDef compiles the class body as a function run by
// __build_class__ with a fresh namespace as its locals. The body returns
// the __class__ cell when a method uses zero-argument super().
func (c *Compiler) compileClassDef(s *ast.ClassDef) {
	c.compileDecorators(s.DecoratorList)
	c.emit(bytecode.LoadBuildClass, 0)

	saved := c.ctx
	c.ctx = compileContext{inClass: true}
	qualname := c.qualify(s.Name)
	c.qualifiedPath = append(c.qualifiedPath, s.Name)

	c.pushOutput(s, 0, 0, 0, 0, s.Name)
	body, doc, hasDoc := c.splitDocstring(s.Body)

	c.emit(bytecode.LoadGlobal, c.name("__name__"))
	c.emit(bytecode.StoreLocal, c.name("__module__"))
	c.emitConst(bytecode.StrConst(qualname))
	c.emit(bytecode.StoreLocal, c.name("__qualname__"))
	if hasDoc {
		c.emitConst(bytecode.StrConst(doc))
	} else {
		c.emitNone()
	}
	c.emit(bytecode.StoreLocal, c.name("__doc__"))
	if findAnnotations(body) {
		c.emit(bytecode.SetupAnnotation, 0)
	}
	c.compileStatements(body)

	if idx, ok := c.code().cellvars.lookup("__class__"); ok {
		c.emit(bytecode.LoadClosure, idx)
		c.emit(bytecode.Duplicate, 0)
		c.emit(bytecode.StoreLocal, c.name("__classcell__"))
	} else {
		c.emitNone()
	}
	c.emit(bytecode.ReturnValue, 0)

	code := c.popCodeObject()
	c.qualifiedPath = c.qualifiedPath[:len(c.qualifiedPath)-1]
	c.ctx = saved
	c.setLocation(s.Position())

	var flags bytecode.MakeFunctionFlags
	if c.buildClosure(code) {
		flags |= bytecode.FuncHasClosure
	}
	c.emitConst(bytecode.CodeConst{Code: code})
	c.emitConst(bytecode.StrConst(s.Name))
	c.emit(bytecode.MakeFunction, uint32(flags))
	c.emitConst(bytecode.StrConst(s.Name))

	call := c.compileCallInner(2, s.Bases, s.Keywords)
	c.emitCall(call, false)

	c.applyDecorators(s.DecoratorList)
	c.storeName(s.Name)
}
