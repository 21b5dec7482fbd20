package compiler

import (
	"fmt"

	"github.com/chazu/adder/pkg/ast"
	"github.com/chazu/adder/pkg/bytecode"
)

func (c *Compiler) compileExpression(expr ast.Expr) {
	c.setLocation(expr.Position())
	switch e := expr.(type) {
	case *ast.Constant:
		c.emitConst(constantFor(e.Value))
	case *ast.Name:
		c.loadName(e.ID)
	case *ast.Attribute:
		c.compileExpression(e.Value)
		c.emit(bytecode.LoadAttr, c.name(e.Attr))
	case *ast.Subscript:
		c.compileExpression(e.Value)
		c.compileExpression(e.Slice)
		c.emit(bytecode.Subscript, 0)
	case *ast.Slice:
		c.compileOptional(e.Lower)
		c.compileOptional(e.Upper)
		var step uint32
		if e.Step != nil {
			c.compileExpression(e.Step)
			step = 1
		}
		c.emit(bytecode.BuildSlice, step)
	case *ast.BinOp:
		c.compileExpression(e.Left)
		c.compileExpression(e.Right)
		c.emit(bytecode.BinaryOperation, uint32(binaryOperator(e.Op)))
	case *ast.UnaryOp:
		c.compileExpression(e.Operand)
		c.emit(bytecode.UnaryOperation, uint32(unaryOperator(e.Op)))
	case *ast.BoolOp:
		c.compileBoolOp(e)
	case *ast.Compare:
		c.compileCompare(e)
	case *ast.IfExp:
		orelse := c.newBlock()
		after := c.newBlock()
		c.compileJumpIf(e.Test, false, orelse)
		c.compileExpression(e.Body)
		c.emitJump(bytecode.Jump, after)
		c.switchToBlock(orelse)
		c.compileExpression(e.Orelse)
		c.switchToBlock(after)
	case *ast.Call:
		c.compileCall(e)
	case *ast.Tuple:
		size, unpack := c.gatherElements(0, e.Elts)
		c.emitIns(bytecode.Instruction{Op: bytecode.BuildTuple, Arg: size, Unpack: unpack})
	case *ast.List:
		size, unpack := c.gatherElements(0, e.Elts)
		c.emitIns(bytecode.Instruction{Op: bytecode.BuildList, Arg: size, Unpack: unpack})
	case *ast.Set:
		size, unpack := c.gatherElements(0, e.Elts)
		c.emitIns(bytecode.Instruction{Op: bytecode.BuildSet, Arg: size, Unpack: unpack})
	case *ast.Dict:
		c.compileDict(e)
	case *ast.Starred:
		c.fail(ErrInvalidStarExpr)
	case *ast.JoinedStr:
		if s, ok := constantString(e.Values); ok {
			c.emitConst(bytecode.StrConst(s))
			return
		}
		for _, v := range e.Values {
			c.compileExpression(v)
		}
		c.emit(bytecode.BuildString, uint32(len(e.Values)))
	case *ast.FormattedValue:
		if e.FormatSpec != nil {
			c.compileExpression(e.FormatSpec)
		} else {
			c.emitConst(bytecode.StrConst(""))
		}
		c.compileExpression(e.Value)
		c.emit(bytecode.FormatValue, uint32(conversion(e.Conversion)))
	case *ast.Lambda:
		c.compileLambda(e)
	case *ast.ListComp:
		c.compileComprehension(e, "<listcomp>", e.Generators, func() {
			c.compileExpression(e.Elt)
			c.emit(bytecode.ListAppend, uint32(len(e.Generators)+1))
		}, bytecode.BuildList)
	case *ast.SetComp:
		c.compileComprehension(e, "<setcomp>", e.Generators, func() {
			c.compileExpression(e.Elt)
			c.emit(bytecode.SetAdd, uint32(len(e.Generators)+1))
		}, bytecode.BuildSet)
	case *ast.DictComp:
		c.compileComprehension(e, "<dictcomp>", e.Generators, func() {
			c.compileExpression(e.Key)
			c.compileExpression(e.Value)
			c.emit(bytecode.MapAdd, uint32(len(e.Generators)+2))
		}, bytecode.BuildMap)
	case *ast.GeneratorExp:
		c.compileComprehension(e, "<genexpr>", e.Generators, func() {
			c.markGenerator()
			c.compileExpression(e.Elt)
			c.emit(bytecode.YieldValue, 0)
			c.emit(bytecode.Pop, 0)
		}, bytecode.Nop)
	case *ast.Yield:
		c.checkYield()
		c.markGenerator()
		c.compileOptional(e.Value)
		c.emit(bytecode.YieldValue, 0)
	case *ast.YieldFrom:
		switch c.ctx.function {
		case noFunction:
			c.fail(ErrInvalidYield)
		case asyncFunction:
			c.fail(ErrInvalidYieldFrom)
		}
		c.markGenerator()
		c.compileExpression(e.Value)
		c.emit(bytecode.GetIter, 0)
		c.emitNone()
		c.emit(bytecode.YieldFrom, 0)
	case *ast.Await:
		if c.ctx.function != asyncFunction {
			c.fail(ErrInvalidAwait)
		}
		c.compileExpression(e.Value)
		c.emit(bytecode.GetAwaitable, 0)
		c.emitNone()
		c.emit(bytecode.YieldFrom, 0)
	default:
		internalError("unsupported expression %T", expr)
	}
}

func (c *Compiler) compileOptional(e ast.Expr) {
	if e == nil {
		c.emitNone()
		return
	}
	c.compileExpression(e)
}

func (c *Compiler) checkYield() {
	switch c.ctx.function {
	case noFunction:
		c.fail(ErrInvalidYield)
	case asyncFunction:
		c.fail(ErrAsyncYield)
	}
}

func constantFor(v any) bytecode.Constant {
	switch v := v.(type) {
	case nil:
		return bytecode.NoneConst{}
	case bool:
		return bytecode.BoolConst(v)
	case int64:
		return bytecode.IntConst(v)
	case float64:
		return bytecode.FloatConst(v)
	case string:
		return bytecode.StrConst(v)
	case []byte:
		return bytecode.BytesConst(v)
	case ast.EllipsisValue:
		return bytecode.EllipsisConst{}
	}
	internalError("unsupported constant %T", v)
	return nil
}

// constantString folds an f-string with no replacement fields.
func constantString(values []ast.Expr) (string, bool) {
	s := ""
	for _, v := range values {
		k, ok := v.(*ast.Constant)
		if !ok {
			return "", false
		}
		str, ok := k.Value.(string)
		if !ok {
			return "", false
		}
		s += str
	}
	return s, true
}

func conversion(r rune) bytecode.Conversion {
	switch r {
	case 's':
		return bytecode.ConvStr
	case 'r':
		return bytecode.ConvRepr
	case 'a':
		return bytecode.ConvASCII
	}
	return bytecode.ConvNone
}

var binaryOperators = [...]bytecode.BinaryOperator{
	ast.Add:      bytecode.OpAdd,
	ast.Sub:      bytecode.OpSubtract,
	ast.Mult:     bytecode.OpMultiply,
	ast.MatMult:  bytecode.OpMatrixMultiply,
	ast.Div:      bytecode.OpDivide,
	ast.Modulo:   bytecode.OpModulo,
	ast.Pow:      bytecode.OpPower,
	ast.LShift:   bytecode.OpLshift,
	ast.RShift:   bytecode.OpRshift,
	ast.BitOr:    bytecode.OpOr,
	ast.BitXor:   bytecode.OpXor,
	ast.BitAnd:   bytecode.OpAnd,
	ast.FloorDiv: bytecode.OpFloorDivide,
}

func binaryOperator(op ast.Operator) bytecode.BinaryOperator {
	return binaryOperators[op]
}

func unaryOperator(op ast.UnaryOperator) bytecode.UnaryOperator {
	switch op {
	case ast.Not:
		return bytecode.OpNot
	case ast.Invert:
		return bytecode.OpInvert
	case ast.USub:
		return bytecode.OpMinus
	}
	return bytecode.OpPlus
}

var comparisonOperators = [...]bytecode.ComparisonOperator{
	ast.Eq:    bytecode.CmpEqual,
	ast.NotEq: bytecode.CmpNotEqual,
	ast.Lt:    bytecode.CmpLess,
	ast.LtE:   bytecode.CmpLessOrEqual,
	ast.Gt:    bytecode.CmpGreater,
	ast.GtE:   bytecode.CmpGreaterOrEqual,
	ast.Is:    bytecode.CmpIs,
	ast.IsNot: bytecode.CmpIsNot,
	ast.In:    bytecode.CmpIn,
	ast.NotIn: bytecode.CmpNotIn,
}

// describe names an invalid target for error messages.
func describe(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.Call:
		return "function call"
	case *ast.Constant:
		switch e.Value.(type) {
		case nil, bool:
			return fmt.Sprint(constantFor(e.Value))
		case ast.EllipsisValue:
			return "Ellipsis"
		}
		return "literal"
	case *ast.BinOp, *ast.UnaryOp, *ast.BoolOp:
		return "operator"
	case *ast.Compare:
		return "comparison"
	case *ast.Lambda:
		return "lambda"
	case *ast.IfExp:
		return "conditional expression"
	case *ast.Await:
		return "await expression"
	case *ast.Yield, *ast.YieldFrom:
		return "yield expression"
	case *ast.JoinedStr, *ast.FormattedValue:
		return "f-string expression"
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
	}
	return "expression"
}

// ---------------------------------------------------------------------------
// Boolean operators and comparisons
// ---------------------------------------------------------------------------

func (c *Compiler) compileBoolOp(e *ast.BoolOp) {
	after := c.newBlock()
	last := len(e.Values) - 1
	for _, v := range e.Values[:last] {
		c.compileExpression(v)
		if e.Op == ast.And {
			c.emitJump(bytecode.JumpIfFalseOrPop, after)
		} else {
			c.emitJump(bytecode.JumpIfTrueOrPop, after)
		}
	}
	c.compileExpression(e.Values[last])
	c.switchToBlock(after)
}

// compileCompare evaluates a chain a < b < c with each middle operand
// evaluated once. A false link exits early, leaving its result.
func (c *Compiler) compileCompare(e *ast.Compare) {
	c.compileExpression(e.Left)
	last := len(e.Ops) - 1
	var breakBlock, after bytecode.Label
	if last > 0 {
		breakBlock = c.newBlock()
		after = c.newBlock()
	}
	for i := 0; i < last; i++ {
		c.compileExpression(e.Comparators[i])
		c.emit(bytecode.Duplicate, 0)
		c.emit(bytecode.Rotate3, 0)
		c.emit(bytecode.CompareOperation, uint32(comparisonOperators[e.Ops[i]]))
		c.emitJump(bytecode.JumpIfFalseOrPop, breakBlock)
	}
	c.compileExpression(e.Comparators[last])
	c.emit(bytecode.CompareOperation, uint32(comparisonOperators[e.Ops[last]]))
	if last > 0 {
		c.emitJump(bytecode.Jump, after)
		c.switchToBlock(breakBlock)
		c.emit(bytecode.Rotate2, 0)
		c.emit(bytecode.Pop, 0)
		c.switchToBlock(after)
	}
}

// ---------------------------------------------------------------------------
// Displays
// ---------------------------------------------------------------------------

// gatherElements pushes elements for a builder. Without starred elements
// it pushes them one by one. Otherwise runs of plain elements are packed
// into tuples so that every pushed value is an iterable to spread, and the
// second result is true.
func (c *Compiler) gatherElements(before uint32, elts []ast.Expr) (uint32, bool) {
	hasStars := false
	for _, e := range elts {
		if _, ok := e.(*ast.Starred); ok {
			hasStars = true
			break
		}
	}
	if !hasStars {
		for _, e := range elts {
			c.compileExpression(e)
		}
		return before + uint32(len(elts)), false
	}

	var size uint32
	if before > 0 {
		c.emit(bytecode.BuildTuple, before)
		size++
	}
	run := uint32(0)
	flush := func() {
		if run > 0 {
			c.emit(bytecode.BuildTuple, run)
			size++
			run = 0
		}
	}
	for _, e := range elts {
		if star, ok := e.(*ast.Starred); ok {
			flush()
			c.compileExpression(star.Value)
			size++
			continue
		}
		c.compileExpression(e)
		run++
	}
	flush()
	return size, true
}

// compileDict builds runs of key/value pairs as maps and merges them with
// the ** operands in source order.
func (c *Compiler) compileDict(e *ast.Dict) {
	hasUnpack := false
	for _, k := range e.Keys {
		if k == nil {
			hasUnpack = true
			break
		}
	}
	if !hasUnpack {
		for i, k := range e.Keys {
			c.compileExpression(k)
			c.compileExpression(e.Values[i])
		}
		c.emit(bytecode.BuildMap, uint32(len(e.Keys)))
		return
	}

	var parts uint32
	pairs := uint32(0)
	flush := func() {
		if pairs > 0 {
			c.emit(bytecode.BuildMap, pairs)
			parts++
			pairs = 0
		}
	}
	for i, k := range e.Keys {
		if k == nil {
			flush()
			c.compileExpression(e.Values[i])
			parts++
			continue
		}
		c.compileExpression(k)
		c.compileExpression(e.Values[i])
		pairs++
	}
	flush()
	c.emitIns(bytecode.Instruction{Op: bytecode.BuildMap, Arg: parts, Unpack: true})
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

type callKind uint8

const (
	callPositional callKind = iota
	callKeyword
	callEx
)

type callShape struct {
	kind      callKind
	nargs     uint32
	hasKwargs bool
}

func (c *Compiler) compileCall(e *ast.Call) {
	if attr, ok := e.Func.(*ast.Attribute); ok {
		c.compileExpression(attr.Value)
		c.setLocation(attr.Position())
		c.emit(bytecode.LoadMethod, c.name(attr.Attr))
		call := c.compileCallInner(0, e.Args, e.Keywords)
		c.setLocation(e.Position())
		c.emitCall(call, true)
		return
	}
	c.compileExpression(e.Func)
	call := c.compileCallInner(0, e.Args, e.Keywords)
	c.setLocation(e.Position())
	c.emitCall(call, false)
}

// compileCallInner pushes the arguments. before counts positional values
// already on the stack, such as the class body and name of a class
// statement.
func (c *Compiler) compileCallInner(before uint32, args []ast.Expr, keywords []*ast.Keyword) callShape {
	count := before + uint32(len(args)+len(keywords))
	size, unpack := c.gatherElements(before, args)

	doubleStar := false
	for _, kw := range keywords {
		if kw.Arg == "" {
			doubleStar = true
		} else {
			c.checkForbiddenName(kw.Arg, nameStore)
		}
	}

	switch {
	case unpack || doubleStar:
		c.emitIns(bytecode.Instruction{Op: bytecode.BuildTuple, Arg: size, Unpack: unpack})
		if len(keywords) > 0 {
			c.compileKeywords(keywords)
		}
		return callShape{kind: callEx, hasKwargs: len(keywords) > 0}
	case len(keywords) > 0:
		names := make(bytecode.TupleConst, 0, len(keywords))
		for _, kw := range keywords {
			names = append(names, bytecode.StrConst(kw.Arg))
			c.compileExpression(kw.Value)
		}
		c.emitConst(names)
		return callShape{kind: callKeyword, nargs: count}
	}
	return callShape{kind: callPositional, nargs: count}
}

// compileKeywords builds the keyword mapping of a CallFunctionEx.
func (c *Compiler) compileKeywords(keywords []*ast.Keyword) {
	var size uint32
	pairs := uint32(0)
	flush := func() {
		if pairs > 0 {
			c.emit(bytecode.BuildMap, pairs)
			size++
			pairs = 0
		}
	}
	for _, kw := range keywords {
		if kw.Arg == "" {
			flush()
			c.compileExpression(kw.Value)
			size++
			continue
		}
		c.emitConst(bytecode.StrConst(kw.Arg))
		c.compileExpression(kw.Value)
		pairs++
	}
	flush()
	if size > 1 {
		c.emitIns(bytecode.Instruction{Op: bytecode.BuildMap, Arg: size, Arg2: 1, Unpack: true})
	}
}

func (c *Compiler) emitCall(call callShape, method bool) {
	var op bytecode.Opcode
	arg := call.nargs
	switch call.kind {
	case callPositional:
		op = bytecode.CallFunctionPositional
		if method {
			op = bytecode.CallMethodPositional
		}
	case callKeyword:
		op = bytecode.CallFunctionKeyword
		if method {
			op = bytecode.CallMethodKeyword
		}
	case callEx:
		op = bytecode.CallFunctionEx
		if method {
			op = bytecode.CallMethodEx
		}
		arg = 0
		if call.hasKwargs {
			arg = 1
		}
	}
	c.emit(op, arg)
}

// ---------------------------------------------------------------------------
// Lambdas and comprehensions
// ---------------------------------------------------------------------------

func (c *Compiler) compileLambda(e *ast.Lambda) {
	flags := c.enterFunction(e, "<lambda>", e.Args)
	saved := c.ctx
	c.ctx = compileContext{inClass: saved.inClass, function: plainFunction}
	qualname := c.qualify("<lambda>")
	c.qualifiedPath = append(c.qualifiedPath, "<lambda>", "<locals>")

	c.compileExpression(e.Body)
	c.emit(bytecode.ReturnValue, 0)
	code := c.popCodeObject()

	c.qualifiedPath = c.qualifiedPath[:len(c.qualifiedPath)-2]
	c.ctx = saved
	c.setLocation(e.Position())
	if c.buildClosure(code) {
		flags |= bytecode.FuncHasClosure
	}
	c.emitConst(bytecode.CodeConst{Code: code})
	c.emitConst(bytecode.StrConst(qualname))
	c.emit(bytecode.MakeFunction, uint32(flags))
}

// compileComprehension compiles the comprehension as a nested function
// taking the outermost iterator as its only argument ".0", then calls it.
// build creates the empty result container; Nop marks a generator
// expression, which has none.
func (c *Compiler) compileComprehension(node ast.Expr, name string, gens []*ast.Comprehension, element func(), build bytecode.Opcode) {
	for _, g := range gens {
		if g.IsAsync {
			c.fail(ErrSyntax, "asynchronous comprehension outside of an asynchronous function")
		}
	}

	saved := c.ctx
	c.ctx = compileContext{inClass: saved.inClass, function: plainFunction}
	qualname := c.qualify(name)
	c.pushOutput(node, bytecode.FlagNewLocals|bytecode.FlagIsOptimized, 0, 1, 0, name)
	arg0 := c.code().varnames.insert(".0")
	c.qualifiedPath = append(c.qualifiedPath, name, "<locals>")

	if build != bytecode.Nop {
		c.emit(build, 0)
	}

	type loop struct{ start, end bytecode.Label }
	loops := make([]loop, 0, len(gens))
	for i, g := range gens {
		l := loop{start: c.newBlock(), end: c.newBlock()}
		if i == 0 {
			c.emit(bytecode.LoadFast, arg0)
		} else {
			c.compileExpression(g.Iter)
			c.emit(bytecode.GetIter, 0)
		}
		loops = append(loops, l)
		c.switchToBlock(l.start)
		c.emitJump(bytecode.ForIter, l.end)
		c.compileStore(g.Target)
		for _, cond := range g.Ifs {
			c.compileJumpIf(cond, false, l.start)
		}
	}

	element()

	for i := len(loops) - 1; i >= 0; i-- {
		c.emitJump(bytecode.Jump, loops[i].start)
		c.switchToBlock(loops[i].end)
	}
	if build == bytecode.Nop {
		c.emitNone()
	}
	c.emit(bytecode.ReturnValue, 0)
	code := c.popCodeObject()

	c.qualifiedPath = c.qualifiedPath[:len(c.qualifiedPath)-2]
	c.ctx = saved
	c.setLocation(node.Position())

	var flags bytecode.MakeFunctionFlags
	if c.buildClosure(code) {
		flags |= bytecode.FuncHasClosure
	}
	c.emitConst(bytecode.CodeConst{Code: code})
	c.emitConst(bytecode.StrConst(qualname))
	c.emit(bytecode.MakeFunction, uint32(flags))

	c.compileExpression(gens[0].Iter)
	c.emit(bytecode.GetIter, 0)
	c.emit(bytecode.CallFunctionPositional, 1)
}
