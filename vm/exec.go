package vm

import (
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes instructions until the frame returns, yields, or lets an
// exception escape. Exceptions raised by an instruction get a traceback
// record for this frame and are routed through the block stack.
func (f *Frame) run(vm *VM) (*ExecutionResult, error) {
	code := f.Code
	for {
		idx := f.lasti
		if idx >= len(code.Instructions) {
			f.fatal("ran past the end of the code")
		}
		ins := code.Instructions[idx]
		f.lasti++
		if vm.settings.TraceInstructions {
			log.Debugf("%s:%d %4d %s depth=%d", code.ObjName, code.LineAt(idx), idx, ins, len(f.stack))
		}

		res, err := f.execute(vm, ins)
		if err == nil {
			if res != nil {
				return res, nil
			}
			continue
		}

		exc, ok := AsException(err)
		if !ok {
			return nil, err
		}
		f.recordTraceback(exc, idx)
		vm.contextualize(exc)
		res, err = f.unwindBlocks(vm, Raising{Exception: exc})
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
}

// recordTraceback prepends a record for this frame unless the exception
// already passed through it.
func (f *Frame) recordTraceback(exc *BaseException, idx int) {
	if tb := exc.Traceback; tb != nil && tb.frame == f {
		return
	}
	exc.Traceback = &Traceback{
		Next:  exc.Traceback,
		Code:  f.Code,
		Lasti: idx,
		Line:  f.Code.LineAt(idx),
		frame: f,
	}
}

// execute runs one instruction. A non-nil result ends the run loop; an
// error is an exception to unwind.
func (f *Frame) execute(vm *VM, ins bytecode.Instruction) (*ExecutionResult, error) {
	arg := int(ins.Arg)
	switch ins.Op {

	// Imports

	case bytecode.ImportName:
		fromlist := f.pop()
		level := f.pop()
		mod, err := vm.importName(f.Code.Names[arg], f.Globals, fromlist, level)
		if err != nil {
			return nil, err
		}
		f.push(mod)
	case bytecode.ImportStar:
		mod := f.pop()
		return nil, vm.importStar(f, mod)
	case bytecode.ImportFrom:
		v, err := vm.importFrom(f.top(), f.Code.Names[arg])
		if err != nil {
			return nil, err
		}
		f.push(v)

	// Names

	case bytecode.LoadFast:
		v := f.fastlocals[arg]
		if v == nil {
			return nil, vm.unboundLocal(f.Code.Varnames[arg])
		}
		f.push(v)
	case bytecode.LoadNameAny:
		v, err := f.loadName(vm, f.Code.Names[arg])
		if err != nil {
			return nil, err
		}
		f.push(v)
	case bytecode.LoadGlobal:
		v, err := f.loadGlobal(vm, f.Code.Names[arg])
		if err != nil {
			return nil, err
		}
		f.push(v)
	case bytecode.LoadDeref:
		v := f.cellsFrees[arg].Payload.(*Cell).Value
		if v == nil {
			return nil, f.unboundDeref(vm, arg)
		}
		f.push(v)
	case bytecode.LoadClassDeref:
		v, err := f.lookupLocal(vm, f.Code.CellFreeName(arg))
		if err != nil {
			return nil, err
		}
		if v == nil {
			if v = f.cellsFrees[arg].Payload.(*Cell).Value; v == nil {
				return nil, f.unboundDeref(vm, arg)
			}
		}
		f.push(v)
	case bytecode.StoreFast:
		f.fastlocals[arg] = f.pop()
	case bytecode.StoreLocal:
		return nil, f.storeLocal(vm, f.Code.Names[arg], f.pop())
	case bytecode.StoreGlobal:
		f.Globals.SetStr(vm.Context, f.Code.Names[arg], f.pop())
	case bytecode.StoreDeref:
		f.cellsFrees[arg].Payload.(*Cell).Value = f.pop()
	case bytecode.DeleteFast:
		if f.fastlocals[arg] == nil {
			return nil, vm.unboundLocal(f.Code.Varnames[arg])
		}
		f.fastlocals[arg] = nil
	case bytecode.DeleteLocal:
		return nil, f.deleteLocal(vm, f.Code.Names[arg])
	case bytecode.DeleteGlobal:
		if !f.Globals.DelStr(f.Code.Names[arg]) {
			return nil, vm.NewNameError(f.Code.Names[arg])
		}
	case bytecode.DeleteDeref:
		c := f.cellsFrees[arg].Payload.(*Cell)
		if c.Value == nil {
			return nil, f.unboundDeref(vm, arg)
		}
		c.Value = nil
	case bytecode.LoadClosure:
		f.push(f.cellsFrees[arg])

	// Subscripts and attributes

	case bytecode.Subscript:
		key := f.pop()
		container := f.pop()
		v, err := vm.GetItem(container, key)
		if err != nil {
			return nil, err
		}
		f.push(v)
	case bytecode.StoreSubscript:
		key := f.pop()
		container := f.pop()
		value := f.pop()
		return nil, vm.SetItem(container, key, value)
	case bytecode.DeleteSubscript:
		key := f.pop()
		container := f.pop()
		return nil, vm.DelItem(container, key)
	case bytecode.StoreAttr:
		owner := f.pop()
		value := f.pop()
		return nil, vm.SetAttr(owner, f.Code.Names[arg], value)
	case bytecode.DeleteAttr:
		return nil, vm.DelAttr(f.pop(), f.Code.Names[arg])
	case bytecode.LoadAttr:
		v, err := vm.GetAttr(f.top(), f.Code.Names[arg])
		if err != nil {
			return nil, err
		}
		f.setTop(v)

	// Constants and operators

	case bytecode.LoadConst:
		f.push(f.consts[arg])
	case bytecode.UnaryOperation:
		v, err := vm.UnaryOp(f.top(), bytecode.UnaryOperator(arg))
		if err != nil {
			return nil, err
		}
		f.setTop(v)
	case bytecode.BinaryOperation, bytecode.BinaryOperationInplace:
		b := f.pop()
		a := f.top()
		var v *Object
		var err error
		if ins.Op == bytecode.BinaryOperation {
			v, err = vm.BinaryOp(a, b, bytecode.BinaryOperator(arg))
		} else {
			v, err = vm.InplaceOp(a, b, bytecode.BinaryOperator(arg))
		}
		if err != nil {
			return nil, err
		}
		f.setTop(v)
	case bytecode.CompareOperation:
		b := f.pop()
		v, err := vm.compare(f.top(), b, bytecode.ComparisonOperator(arg))
		if err != nil {
			return nil, err
		}
		f.setTop(v)

	// Stack shuffles

	case bytecode.Pop:
		f.pop()
	case bytecode.Rotate2:
		s := f.stack
		n := len(s)
		s[n-1], s[n-2] = s[n-2], s[n-1]
	case bytecode.Rotate3:
		s := f.stack
		n := len(s)
		s[n-3], s[n-2], s[n-1] = s[n-1], s[n-3], s[n-2]
	case bytecode.Duplicate:
		f.push(f.top())
	case bytecode.Duplicate2:
		a, b := f.nth(1), f.nth(0)
		f.push(a)
		f.push(b)
	case bytecode.Reverse:
		s := f.stack[len(f.stack)-arg:]
		for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
	case bytecode.GetIter:
		it, err := vm.Iter(f.top())
		if err != nil {
			return nil, err
		}
		f.setTop(it)

	// Control flow

	case bytecode.Continue:
		return f.unwindBlocks(vm, Continuing{Target: bytecode.Label(arg)})
	case bytecode.Break:
		return f.unwindBlocks(vm, Breaking{})
	case bytecode.Jump:
		f.jump(bytecode.Label(arg))
	case bytecode.JumpIfTrue, bytecode.JumpIfFalse:
		t, err := vm.Truthy(f.pop())
		if err != nil {
			return nil, err
		}
		if t == (ins.Op == bytecode.JumpIfTrue) {
			f.jump(bytecode.Label(arg))
		}
	case bytecode.JumpIfTrueOrPop, bytecode.JumpIfFalseOrPop:
		t, err := vm.Truthy(f.top())
		if err != nil {
			return nil, err
		}
		if t == (ins.Op == bytecode.JumpIfTrueOrPop) {
			f.jump(bytecode.Label(arg))
		} else {
			f.pop()
		}
	case bytecode.ForIter:
		v, err := vm.Next(f.top())
		if err != nil {
			return nil, err
		}
		if v == nil {
			f.pop()
			f.jump(bytecode.Label(arg))
		} else {
			f.push(v)
		}
	case bytecode.ReturnValue:
		return f.unwindBlocks(vm, Returning{Value: f.pop()})
	case bytecode.Raise:
		return nil, f.raise(vm, bytecode.RaiseKind(arg))

	// Functions and calls

	case bytecode.MakeFunction:
		return nil, f.makeFunction(vm, bytecode.MakeFunctionFlags(arg))
	case bytecode.CallFunctionPositional:
		args := f.popMultiple(arg)
		return nil, f.callAndPush(vm, f.pop(), Args{Pos: args})
	case bytecode.CallFunctionKeyword:
		args := f.keywordArgs(arg)
		return nil, f.callAndPush(vm, f.pop(), args)
	case bytecode.CallFunctionEx:
		args, err := f.exArgs(vm, arg != 0)
		if err != nil {
			return nil, err
		}
		return nil, f.callAndPush(vm, f.pop(), args)
	case bytecode.LoadMethod:
		target, isMethod, fn, err := vm.loadMethod(f.pop(), f.Code.Names[arg])
		if err != nil {
			return nil, err
		}
		f.push(target)
		f.push(vm.NewBool(isMethod))
		f.push(fn)
	case bytecode.CallMethodPositional:
		args := f.popMultiple(arg)
		return nil, f.callMethodAndPush(vm, Args{Pos: args})
	case bytecode.CallMethodKeyword:
		args := f.keywordArgs(arg)
		return nil, f.callMethodAndPush(vm, args)
	case bytecode.CallMethodEx:
		args, err := f.exArgs(vm, arg != 0)
		if err != nil {
			return nil, err
		}
		return nil, f.callMethodAndPush(vm, args)

	// Generators and coroutines

	case bytecode.YieldValue:
		return &ExecutionResult{Kind: ResultYield, Value: f.pop()}, nil
	case bytecode.YieldFrom:
		v := f.pop()
		value, done, err := vm.sendTo(f.top(), v)
		if err != nil {
			return nil, err
		}
		if done {
			f.setTop(value)
			return nil, nil
		}
		f.lasti--
		return &ExecutionResult{Kind: ResultYield, Value: value}, nil
	case bytecode.GetAwaitable:
		aw, err := vm.awaitable(f.top())
		if err != nil {
			return nil, err
		}
		f.setTop(aw)
	case bytecode.BeforeAsyncWith:
		mgr := f.pop()
		enter, exit, err := vm.contextMethods(mgr, "__aenter__", "__aexit__")
		if err != nil {
			return nil, err
		}
		f.push(exit)
		res, err := vm.Call(enter, Args{})
		if err != nil {
			return nil, err
		}
		f.push(res)
	case bytecode.SetupAsyncWith:
		res := f.pop()
		f.pushBlock(FinallyBlock{Handler: bytecode.Label(arg)})
		f.push(res)
	case bytecode.GetAIter:
		o := f.top()
		res, found, err := vm.callSpecial(o, "__aiter__")
		if !found {
			return nil, vm.NewTypeError("'async for' requires an object with __aiter__ method, got %s", o.typ.Name)
		}
		if err != nil {
			return nil, err
		}
		f.setTop(res)
	case bytecode.GetANext:
		aiter := f.top()
		res, found, err := vm.callSpecial(aiter, "__anext__")
		if !found {
			return nil, vm.NewTypeError("'async for' requires an iterator with __anext__ method, got %s", aiter.typ.Name)
		}
		if err != nil {
			return nil, err
		}
		aw, err := vm.awaitable(res)
		if err != nil {
			return nil, vm.NewTypeError("'async for' received an invalid object from __anext__: %s", res.typ.Name)
		}
		f.push(aw)
	case bytecode.EndAsyncFor:
		excObj := f.pop()
		popHandler[ExceptHandlerBlock](vm, f, "an except handler")
		f.pop()
		exc, ok := excObj.Payload.(*BaseException)
		if !ok {
			f.fatal("async for handler without an exception")
		}
		if !exc.Type().IsSubtype(vm.Exceptions.StopAsyncIteration) {
			return nil, exc
		}

	// Block management

	case bytecode.SetupAnnotation:
		return nil, f.setupAnnotations(vm)
	case bytecode.SetupLoop:
		f.pushBlock(LoopBlock{BreakTarget: bytecode.Label(arg)})
	case bytecode.SetupFinally:
		f.pushBlock(FinallyBlock{Handler: bytecode.Label(arg)})
	case bytecode.SetupExcept:
		f.pushBlock(TryExceptBlock{Handler: bytecode.Label(arg)})
	case bytecode.EnterFinally:
		f.pushBlock(FinallyHandlerBlock{PrevExc: vm.currentException()})
	case bytecode.EndFinally:
		h := popHandler[FinallyHandlerBlock](vm, f, "a finally handler")
		return f.resume(vm, h.Reason)
	case bytecode.SetupWith:
		mgr := f.pop()
		enter, exit, err := vm.contextMethods(mgr, "__enter__", "__exit__")
		if err != nil {
			return nil, err
		}
		f.push(exit)
		res, err := vm.Call(enter, Args{})
		if err != nil {
			return nil, err
		}
		f.pushBlock(FinallyBlock{Handler: bytecode.Label(arg)})
		f.push(res)
	case bytecode.WithCleanupStart:
		// __exit__ sits at the handler's level; its result takes that slot.
		exit := f.top()
		b, _ := f.currentBlock()
		h, ok := b.Typ.(FinallyHandlerBlock)
		if !ok {
			f.fatal("with cleanup outside a finally handler")
		}
		args := []*Object{vm.None, vm.None, vm.None}
		if r, ok := h.Reason.(Raising); ok {
			e := r.Exception
			args = []*Object{e.Type().self, e.obj, vm.tracebackObject(e.Traceback)}
		}
		res, err := vm.CallPositional(exit, args...)
		if err != nil {
			return nil, err
		}
		f.setTop(res)
	case bytecode.WithCleanupFinish:
		h := popHandler[FinallyHandlerBlock](vm, f, "a finally handler")
		res := f.pop()
		if _, ok := h.Reason.(Raising); ok {
			suppress, err := vm.Truthy(res)
			if err != nil {
				return nil, err
			}
			if suppress {
				return nil, nil
			}
		}
		return f.resume(vm, h.Reason)
	case bytecode.PopBlock:
		f.popBlock()
	case bytecode.PopException:
		popHandler[ExceptHandlerBlock](vm, f, "an except handler")

	// Builders

	case bytecode.BuildString:
		parts := f.popMultiple(arg)
		var sb strings.Builder
		for _, p := range parts {
			s, ok := asStr(p)
			if !ok {
				f.fatal("BuildString over a non-str value")
			}
			sb.WriteString(s)
		}
		f.push(vm.NewStr(sb.String()))
	case bytecode.BuildTuple, bytecode.BuildList, bytecode.BuildSet:
		items, err := f.collect(vm, arg, ins.Unpack)
		if err != nil {
			return nil, err
		}
		switch ins.Op {
		case bytecode.BuildTuple:
			f.push(vm.NewTuple(items))
		case bytecode.BuildList:
			f.push(vm.NewList(items))
		default:
			s, err := vm.NewSet(items)
			if err != nil {
				return nil, err
			}
			f.push(s)
		}
	case bytecode.BuildMap:
		return nil, f.buildMap(vm, ins)
	case bytecode.BuildSlice:
		var step *Object
		if arg != 0 {
			step = f.pop()
		}
		stop := f.pop()
		start := f.pop()
		f.push(vm.NewSlice(start, stop, step))
	case bytecode.ListAppend:
		v := f.pop()
		l, ok := asList(f.nth(arg - 1))
		if !ok {
			f.fatal("ListAppend target is not a list")
		}
		l.Items = append(l.Items, v)
	case bytecode.SetAdd:
		v := f.pop()
		s, ok := asSet(f.nth(arg - 1))
		if !ok {
			f.fatal("SetAdd target is not a set")
		}
		return nil, s.Add(vm, v)
	case bytecode.MapAdd:
		value := f.pop()
		key := f.pop()
		d, ok := asDict(f.nth(arg - 2))
		if !ok {
			f.fatal("MapAdd target is not a dict")
		}
		return nil, d.SetItem(vm, key, value)
	case bytecode.UnpackSequence:
		return nil, f.unpackSequence(vm, arg)
	case bytecode.UnpackEx:
		return nil, f.unpackEx(vm, arg, int(ins.Arg2))
	case bytecode.FormatValue:
		return nil, f.formatValue(vm, bytecode.Conversion(arg))

	// Miscellaneous

	case bytecode.PrintExpr:
		v := f.pop()
		hook := vm.sysAttr("displayhook")
		if hook == nil {
			return nil, vm.NewRuntimeError("lost sys.displayhook")
		}
		_, err := vm.CallPositional(hook, v)
		return nil, err
	case bytecode.LoadBuildClass:
		bc := f.Builtins.GetStr("__build_class__")
		if bc == nil {
			return nil, vm.newError(vm.Exceptions.NameError, "__build_class__ not found")
		}
		f.push(bc)
	case bytecode.Nop:

	default:
		f.fatal("unknown opcode " + ins.Op.String())
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Instruction helpers
// ---------------------------------------------------------------------------

func (vm *VM) unboundLocal(name string) error {
	return vm.newError(vm.Exceptions.UnboundLocalError, "local variable '%s' referenced before assignment", name)
}

func (f *Frame) unboundDeref(vm *VM, i int) error {
	name := f.Code.CellFreeName(i)
	if i < len(f.Code.Cellvars) {
		return vm.unboundLocal(name)
	}
	return vm.newError(vm.Exceptions.NameError,
		"free variable '%s' referenced before assignment in enclosing scope", name)
}

func (f *Frame) raise(vm *VM, kind bytecode.RaiseKind) error {
	switch kind {
	case bytecode.RaiseReraise:
		exc := vm.topmostException()
		if exc == nil {
			return vm.NewRuntimeError("No active exception to reraise")
		}
		return exc
	case bytecode.RaiseException:
		exc, err := vm.makeException(f.pop(), "exceptions must derive from BaseException")
		if err != nil {
			return err
		}
		return exc
	}
	causeObj := f.pop()
	exc, err := vm.makeException(f.pop(), "exceptions must derive from BaseException")
	if err != nil {
		return err
	}
	if causeObj == vm.None {
		exc.Cause = nil
	} else {
		cause, err := vm.makeException(causeObj, "exception causes must derive from BaseException")
		if err != nil {
			return err
		}
		exc.Cause = cause
	}
	exc.SuppressContext = true
	return exc
}

// makeException turns the operand of raise into an exception instance,
// instantiating classes.
func (vm *VM) makeException(o *Object, msg string) (*BaseException, error) {
	if t, ok := asType(o); ok && t.IsSubtype(vm.Exceptions.BaseException) {
		inst, err := vm.CallPositional(o)
		if err != nil {
			return nil, err
		}
		exc, ok := inst.Payload.(*BaseException)
		if !ok {
			return nil, vm.NewTypeError("calling %s should have returned an instance of BaseException, not %s",
				t.Name, inst.typ.Name)
		}
		return exc, nil
	}
	if exc, ok := o.Payload.(*BaseException); ok {
		return exc, nil
	}
	return nil, vm.NewTypeError("%s", msg)
}

func (f *Frame) makeFunction(vm *VM, flags bytecode.MakeFunctionFlags) error {
	qualname, ok := asStr(f.pop())
	if !ok {
		f.fatal("MakeFunction without a qualified name")
	}
	code, ok := f.pop().Payload.(*Code)
	if !ok {
		f.fatal("MakeFunction without a code object")
	}
	fnObj := vm.NewFunction(code.Code, f.Globals, qualname)
	fn := funcOf(fnObj)
	if flags&bytecode.FuncHasClosure != 0 {
		fn.Closure = append([]*Object(nil), f.pop().Payload.(Tuple)...)
	}
	if flags&bytecode.FuncHasAnnotations != 0 {
		fn.Annotations = f.pop().Payload.(*Dict)
	}
	if flags&bytecode.FuncHasKwOnlyDefaults != 0 {
		fn.KwDefaults = f.pop().Payload.(*Dict)
	}
	if flags&bytecode.FuncHasDefaults != 0 {
		fn.Defaults = append([]*Object(nil), f.pop().Payload.(Tuple)...)
	}
	f.push(fnObj)
	return nil
}

func (f *Frame) callAndPush(vm *VM, fn *Object, args Args) error {
	res, err := vm.Call(fn, args)
	if err != nil {
		return err
	}
	f.push(res)
	return nil
}

// callMethodAndPush completes a LoadMethod triple.
func (f *Frame) callMethodAndPush(vm *VM, args Args) error {
	fn := f.pop()
	isMethod := f.pop() == vm.True
	target := f.pop()
	if isMethod {
		return f.callAndPush(vm, fn, args.Prepend(target))
	}
	return f.callAndPush(vm, fn, args)
}

// keywordArgs pops a kwnames tuple and the n values it describes.
func (f *Frame) keywordArgs(n int) Args {
	names := f.pop().Payload.(Tuple)
	values := f.popMultiple(n)
	split := n - len(names)
	kw := make([]KwArg, len(names))
	for i, name := range names {
		kw[i] = KwArg{Name: name.Payload.(string), Value: values[split+i]}
	}
	return Args{Pos: values[:split], Kw: kw}
}

// exArgs pops the tuple and optional mapping of a star call, leaving the
// callable on top.
func (f *Frame) exArgs(vm *VM, hasKwargs bool) (Args, error) {
	var kwObj *Object
	if hasKwargs {
		kwObj = f.pop()
	}
	posObj := f.pop()
	pos, ok := asTuple(posObj)
	if !ok {
		items, err := vm.ToSlice(posObj)
		if err != nil {
			return Args{}, err
		}
		pos = items
	}
	args := Args{Pos: []*Object(pos)}
	if kwObj == nil {
		return args, nil
	}
	fn := f.top()
	d, ok := asDict(kwObj)
	if !ok {
		d = NewDict()
		if err := vm.mergeKeywords(d, kwObj, fn); err != nil {
			return Args{}, err
		}
	}
	keys, values := d.Keys(), d.Values()
	args.Kw = make([]KwArg, 0, len(keys))
	for i, k := range keys {
		name, ok := asStr(k)
		if !ok {
			return Args{}, vm.NewTypeError("%s keywords must be strings", vm.callableName(fn))
		}
		args.Kw = append(args.Kw, KwArg{Name: name, Value: values[i]})
	}
	return args, nil
}

// loadMethod resolves name on obj for a method call. When the attribute is
// a plain function found on the type, the bound method is never built.
func (vm *VM) loadMethod(obj *Object, name string) (target *Object, isMethod bool, fn *Object, err error) {
	if obj.typ.mroFindSlot(hasGetAttro) == &vm.ObjectType.Slots {
		attr := obj.typ.Lookup(name)
		if attr != nil && (attr.typ == vm.FunctionType || attr.typ == vm.MethodDescriptorType) && obj.dict.GetStr(name) == nil {
			return obj, true, attr, nil
		}
	}
	fn, err = vm.GetAttr(obj, name)
	return vm.None, false, fn, err
}

// callableName describes a callable in argument errors.
func (vm *VM) callableName(fn *Object) string {
	switch p := fn.Payload.(type) {
	case *Function:
		return p.QualName + "()"
	case *BuiltinFunction:
		return p.Name + "()"
	case *BoundMethod:
		return vm.callableName(p.Func)
	case *Type:
		return p.Name + "()"
	}
	return fn.typ.Name + " object"
}

// mergeKeywords adds the items of mapping m to the keyword dict d,
// rejecting non-string and duplicate names.
func (vm *VM) mergeKeywords(d *Dict, m, fn *Object) error {
	return vm.mergeMapping(m, func(k, v *Object) error {
		name, ok := asStr(k)
		if !ok {
			return vm.NewTypeError("%s keywords must be strings", vm.callableName(fn))
		}
		if d.GetStr(name) != nil {
			return vm.NewTypeError("%s got multiple values for keyword argument '%s'", vm.callableName(fn), name)
		}
		d.SetStr(vm.Context, name, v)
		return nil
	}, func() error {
		return vm.NewTypeError("%s argument after ** must be a mapping, not %s", vm.callableName(fn), m.typ.Name)
	})
}

// mergeMapping calls add for each item of a mapping; notMapping builds the
// error for objects without keys().
func (vm *VM) mergeMapping(m *Object, add func(k, v *Object) error, notMapping func() error) error {
	if d, ok := asDict(m); ok {
		var err error
		d.Each(func(k, v *Object) {
			if err == nil {
				err = add(k, v)
			}
		})
		return err
	}
	keysFn, err := vm.GetAttrOpt(m, "keys")
	if err != nil {
		return err
	}
	if keysFn == nil {
		return notMapping()
	}
	keys, err := vm.CallPositional(keysFn)
	if err != nil {
		return err
	}
	return vm.Iterate(keys, func(k *Object) (bool, error) {
		v, err := vm.GetItem(m, k)
		if err != nil {
			return false, err
		}
		return true, add(k, v)
	})
}

func (f *Frame) buildMap(vm *VM, ins bytecode.Instruction) error {
	n := int(ins.Arg)
	d := NewDict()
	if !ins.Unpack {
		items := f.popMultiple(2 * n)
		for i := 0; i < len(items); i += 2 {
			if err := d.SetItem(vm, items[i], items[i+1]); err != nil {
				return err
			}
		}
		f.push(vm.NewDict(d))
		return nil
	}
	if ins.Arg2 != 0 {
		fn := f.nth(n + 1)
		for _, m := range f.popMultiple(n) {
			if err := vm.mergeKeywords(d, m, fn); err != nil {
				return err
			}
		}
		f.push(vm.NewDict(d))
		return nil
	}
	for _, m := range f.popMultiple(n) {
		err := vm.mergeMapping(m, func(k, v *Object) error {
			return d.SetItem(vm, k, v)
		}, func() error {
			return vm.NewTypeError("'%s' object is not a mapping", m.typ.Name)
		})
		if err != nil {
			return err
		}
	}
	f.push(vm.NewDict(d))
	return nil
}

// collect pops n values, spreading each one when unpack is set.
func (f *Frame) collect(vm *VM, n int, unpack bool) ([]*Object, error) {
	values := f.popMultiple(n)
	if !unpack {
		return values, nil
	}
	var out []*Object
	for _, v := range values {
		err := vm.Iterate(v, func(x *Object) (bool, error) {
			out = append(out, x)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *Frame) unpackSequence(vm *VM, n int) error {
	seq := f.pop()
	var items []*Object
	if s, ok := sequenceItems(seq); ok && (seq.typ == vm.TupleType || seq.typ == vm.ListType) {
		items = s
	} else {
		if !vm.isIterable(seq) {
			return vm.NewTypeError("cannot unpack non-iterable %s object", seq.typ.Name)
		}
		err := vm.Iterate(seq, func(x *Object) (bool, error) {
			items = append(items, x)
			return len(items) <= n, nil
		})
		if err != nil {
			return err
		}
	}
	switch {
	case len(items) < n:
		return vm.NewValueError("not enough values to unpack (expected %d, got %d)", n, len(items))
	case len(items) > n:
		return vm.NewValueError("too many values to unpack (expected %d)", n)
	}
	for i := n - 1; i >= 0; i-- {
		f.push(items[i])
	}
	return nil
}

func (f *Frame) unpackEx(vm *VM, before, after int) error {
	seq := f.pop()
	if !vm.isIterable(seq) {
		return vm.NewTypeError("cannot unpack non-iterable %s object", seq.typ.Name)
	}
	items, err := vm.ToSlice(seq)
	if err != nil {
		return err
	}
	if len(items) < before+after {
		return vm.NewValueError("not enough values to unpack (expected at least %d, got %d)", before+after, len(items))
	}
	end := len(items) - after
	for i := len(items) - 1; i >= end; i-- {
		f.push(items[i])
	}
	f.push(vm.NewList(append([]*Object(nil), items[before:end]...)))
	for i := before - 1; i >= 0; i-- {
		f.push(items[i])
	}
	return nil
}

func (f *Frame) formatValue(vm *VM, conv bytecode.Conversion) error {
	value := f.pop()
	spec, ok := asStr(f.pop())
	if !ok {
		f.fatal("FormatValue spec is not a str")
	}
	var err error
	switch conv {
	case bytecode.ConvStr:
		value, err = vm.StrObject(value)
	case bytecode.ConvRepr:
		value, err = vm.ReprObject(value)
	case bytecode.ConvASCII:
		var s string
		if s, err = vm.Repr(value); err == nil {
			value = vm.NewStr(asciiEscape(s))
		}
	}
	if err != nil {
		return err
	}
	if s, ok := asStr(value); ok && spec == "" && value.typ == vm.StrType {
		f.push(vm.NewStr(s))
		return nil
	}
	res, err := vm.Format(value, spec)
	if err != nil {
		return err
	}
	f.push(res)
	return nil
}

func (f *Frame) setupAnnotations(vm *VM) error {
	if f.Locals == nil {
		return vm.NewSystemError("no locals found when setting up annotations")
	}
	if d, ok := f.Locals.Payload.(*Dict); ok && f.Locals.typ == vm.DictType {
		if d.GetStr("__annotations__") == nil {
			d.SetStr(vm.Context, "__annotations__", vm.NewDict(nil))
		}
		return nil
	}
	key := vm.NewStr("__annotations__")
	_, err := vm.GetItem(f.Locals, key)
	if err == nil {
		return nil
	}
	if !vm.errorMatches(err, vm.Exceptions.KeyError) && !vm.errorMatches(err, vm.Exceptions.NameError) {
		return err
	}
	return vm.SetItem(f.Locals, key, vm.NewDict(nil))
}

// contextMethods looks up the enter and exit methods of a context manager
// on its type and binds them.
func (vm *VM) contextMethods(mgr *Object, enterName, exitName string) (enter, exit *Object, err error) {
	e := mgr.typ.Lookup(enterName)
	if e == nil {
		return nil, nil, vm.NewAttributeError("%s", enterName)
	}
	x := mgr.typ.Lookup(exitName)
	if x == nil {
		return nil, nil, vm.NewAttributeError("%s", exitName)
	}
	if enter, err = vm.bindDescr(e, mgr); err != nil {
		return nil, nil, err
	}
	if exit, err = vm.bindDescr(x, mgr); err != nil {
		return nil, nil, err
	}
	return enter, exit, nil
}
