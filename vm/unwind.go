package vm

// ---------------------------------------------------------------------------
// Block unwinding
// ---------------------------------------------------------------------------

// unwindBlocks transfers control for reason. It pops blocks until one
// claims the reason and jumps to its handler, returning nil, nil. When the
// block stack empties, a return produces the frame's result and an
// exception is returned as the error.
func (f *Frame) unwindBlocks(vm *VM, reason UnwindReason) (*ExecutionResult, error) {
	for {
		b, ok := f.currentBlock()
		if !ok {
			break
		}
		switch t := b.Typ.(type) {
		case LoopBlock:
			switch r := reason.(type) {
			case Breaking:
				f.popBlock()
				f.jump(t.BreakTarget)
				return nil, nil
			case Continuing:
				f.jump(r.Target)
				return nil, nil
			}
			f.popBlock()

		case FinallyBlock:
			f.popBlock()
			prev := vm.currentException()
			if r, ok := reason.(Raising); ok {
				vm.setException(r.Exception)
			}
			f.pushBlock(FinallyHandlerBlock{Reason: reason, PrevExc: prev})
			f.jump(t.Handler)
			return nil, nil

		case TryExceptBlock:
			r, ok := reason.(Raising)
			f.popBlock()
			if !ok {
				continue
			}
			f.pushBlock(ExceptHandlerBlock{PrevExc: vm.currentException()})
			vm.setException(r.Exception)
			f.push(r.Exception.obj)
			f.jump(t.Handler)
			return nil, nil

		case FinallyHandlerBlock:
			f.popBlock()
			vm.setException(t.PrevExc)

		case ExceptHandlerBlock:
			f.popBlock()
			vm.setException(t.PrevExc)

		default:
			f.fatal("unknown block type")
		}
	}

	switch r := reason.(type) {
	case Raising:
		return nil, r.Exception
	case Returning:
		return &ExecutionResult{Kind: ResultReturn, Value: r.Value}, nil
	}
	f.fatal("break or continue outside of a loop")
	return nil, nil
}

// resume continues the reason saved by a finally handler. A nil reason
// falls through to the next instruction.
func (f *Frame) resume(vm *VM, reason UnwindReason) (*ExecutionResult, error) {
	switch r := reason.(type) {
	case nil:
		return nil, nil
	case Raising:
		return nil, r.Exception
	default:
		return f.unwindBlocks(vm, r)
	}
}

// popHandler removes the innermost handler block, which must be of kind
// T, and restores the exception it saved.
func popHandler[T FinallyHandlerBlock | ExceptHandlerBlock](vm *VM, f *Frame, what string) T {
	b := f.popBlock()
	h, ok := b.Typ.(T)
	if !ok {
		f.fatal("block stack does not end with " + what)
	}
	switch x := any(h).(type) {
	case FinallyHandlerBlock:
		vm.setException(x.PrevExc)
	case ExceptHandlerBlock:
		vm.setException(x.PrevExc)
	}
	return h
}

// inject raises exc at the point where a suspended frame stopped, then
// keeps running if a handler claims it.
func (f *Frame) inject(vm *VM, exc *BaseException) (*ExecutionResult, error) {
	f.recordTraceback(exc, max(f.lasti-1, 0))
	vm.contextualize(exc)
	res, err := f.unwindBlocks(vm, Raising{Exception: exc})
	if err != nil || res != nil {
		return res, err
	}
	return f.run(vm)
}
