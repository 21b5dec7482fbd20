package vm

import (
	"fmt"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Coro: suspended frames of generators and coroutines
// ---------------------------------------------------------------------------

type coroKind uint8

const (
	generatorKind coroKind = iota
	coroutineKind
)

func (k coroKind) String() string {
	if k == coroutineKind {
		return "coroutine"
	}
	return "generator"
}

// Coro is the payload of generator and coroutine objects. It owns a frame
// that runs in steps between yields.
type Coro struct {
	Name     string
	QualName string

	frame   *Frame
	kind    coroKind
	closed  bool
	running bool
	// exc is the exception the frame was handling when it last yielded.
	exc *BaseException
}

func (vm *VM) newCoro(f *Frame, name, qualname string, kind coroKind) *Object {
	c := &Coro{Name: name, QualName: qualname, frame: f, kind: kind}
	t := vm.GeneratorType
	if kind == coroutineKind {
		t = vm.CoroutineType
	}
	return &Object{typ: t, Payload: c}
}

// Closed reports whether the frame has finished.
func (c *Coro) Closed() bool {
	return c.closed
}

// send resumes the frame with v as the value of the pending yield.
func (c *Coro) send(vm *VM, v *Object) (*ExecutionResult, error) {
	if err := c.checkResumable(vm); err != nil {
		return nil, err
	}
	if c.frame.lasti == 0 {
		if v != vm.None {
			return nil, vm.NewTypeError("can't send non-None value to a just-started %s", c.kind)
		}
	} else {
		c.frame.push(v)
	}
	return c.step(vm, nil)
}

func (c *Coro) checkResumable(vm *VM) error {
	if c.running {
		return vm.NewValueError("%s already executing", c.kind)
	}
	if c.closed {
		if c.kind == coroutineKind {
			return vm.NewRuntimeError("cannot reuse already awaited coroutine")
		}
		return vm.NewStopIteration(nil)
	}
	return nil
}

// step runs the frame until it yields or finishes. A non-nil throw is
// raised at the suspension point first.
func (c *Coro) step(vm *VM, throw *BaseException) (*ExecutionResult, error) {
	c.running = true
	res, saved, err := vm.execFrame(c.frame, c.exc, throw)
	c.running = false
	c.exc = saved
	if err != nil {
		c.closed = true
		if exc, ok := AsException(err); ok && exc.Type().IsSubtype(vm.Exceptions.StopIteration) {
			wrapped := vm.NewRuntimeError("%s raised StopIteration", c.kind)
			wrapped.Cause = exc
			wrapped.Context = exc
			wrapped.SuppressContext = true
			return nil, wrapped
		}
		return nil, err
	}
	if res.Kind == ResultReturn {
		c.closed = true
	}
	return res, nil
}

// delegate returns the object a suspended yield from is waiting on, or nil.
func (c *Coro) delegate() *Object {
	f := c.frame
	if c.closed || f.lasti == 0 || f.lasti >= len(f.Code.Instructions) {
		return nil
	}
	if f.Code.Instructions[f.lasti].Op != bytecode.YieldFrom || len(f.stack) == 0 {
		return nil
	}
	return f.top()
}

// throw raises exc inside the frame. A frame suspended in yield from
// passes the exception to its delegate first.
func (c *Coro) throw(vm *VM, exc *BaseException) (*ExecutionResult, error) {
	if c.running {
		return nil, vm.NewValueError("%s already executing", c.kind)
	}
	if c.closed {
		return nil, exc
	}
	if yf := c.delegate(); yf != nil {
		if exc.Type().IsSubtype(vm.Exceptions.GeneratorExit) {
			c.running = true
			err := vm.closeIter(yf)
			c.running = false
			if err != nil {
				if e, ok := AsException(err); ok {
					return c.step(vm, e)
				}
				return nil, err
			}
			return c.step(vm, exc)
		}
		c.running = true
		v, done, err, handled := vm.throwTo(yf, exc)
		c.running = false
		if handled {
			if err != nil {
				e, ok := AsException(err)
				if !ok {
					return nil, err
				}
				return c.step(vm, e)
			}
			if !done {
				return &ExecutionResult{Kind: ResultYield, Value: v}, nil
			}
			c.frame.setTop(v)
			c.frame.lasti++
			return c.step(vm, nil)
		}
	}
	return c.step(vm, exc)
}

// close raises GeneratorExit at the suspension point.
func (c *Coro) close(vm *VM) error {
	if c.closed {
		return nil
	}
	if c.frame.lasti == 0 {
		c.closed = true
		return nil
	}
	res, err := c.throw(vm, vm.NewException(vm.Exceptions.GeneratorExit))
	if err == nil {
		if res.Kind == ResultYield {
			return vm.NewRuntimeError("%s ignored GeneratorExit", c.kind)
		}
		return nil
	}
	if vm.errorMatches(err, vm.Exceptions.GeneratorExit) || vm.errorMatches(err, vm.Exceptions.StopIteration) {
		return nil
	}
	return err
}

// coroOf returns the frame wrapper behind generators, coroutines and
// coroutine wrappers.
func (vm *VM) coroOf(o *Object) (*Coro, bool) {
	switch o.typ {
	case vm.GeneratorType, vm.CoroutineType, vm.CoroutineWrapperType:
		return o.Payload.(*Coro), true
	}
	return nil, false
}

// sendTo advances the delegate of a yield from. done reports that the
// delegate finished with value.
func (vm *VM) sendTo(recv, v *Object) (value *Object, done bool, err error) {
	if c, ok := vm.coroOf(recv); ok {
		res, err := c.send(vm, v)
		if err != nil {
			if exc, ok := AsException(err); ok && exc.Type().IsSubtype(vm.Exceptions.StopIteration) {
				return vm.stopIterationValue(exc), true, nil
			}
			return nil, false, err
		}
		return res.Value, res.Kind == ResultReturn, nil
	}
	var res *Object
	switch {
	case v != vm.None:
		res, err = vm.CallMethod(recv, "send", v)
	case recv.typ.Heap:
		res, err = vm.CallMethod(recv, "__next__")
	default:
		res, err = vm.Next(recv)
		if err == nil && res == nil {
			return vm.None, true, nil
		}
	}
	if err != nil {
		if exc, ok := AsException(err); ok && exc.Type().IsSubtype(vm.Exceptions.StopIteration) {
			return vm.stopIterationValue(exc), true, nil
		}
		return nil, false, err
	}
	return res, false, nil
}

// throwTo passes exc to a delegate. handled is false when the delegate
// has no throw method, in which case the caller raises exc itself.
func (vm *VM) throwTo(yf *Object, exc *BaseException) (value *Object, done bool, err error, handled bool) {
	if c, ok := vm.coroOf(yf); ok {
		res, err := c.throw(vm, exc)
		if err != nil {
			if e, ok := AsException(err); ok && e.Type().IsSubtype(vm.Exceptions.StopIteration) {
				return vm.stopIterationValue(e), true, nil, true
			}
			return nil, false, err, true
		}
		return res.Value, res.Kind == ResultReturn, nil, true
	}
	m, err := vm.GetAttrOpt(yf, "throw")
	if err != nil {
		return nil, false, err, true
	}
	if m == nil {
		return nil, false, nil, false
	}
	res, err := vm.CallPositional(m, exc.Type().self, exc.obj, vm.tracebackObject(exc.Traceback))
	if err != nil {
		if e, ok := AsException(err); ok && e.Type().IsSubtype(vm.Exceptions.StopIteration) {
			return vm.stopIterationValue(e), true, nil, true
		}
		return nil, false, err, true
	}
	return res, false, nil, true
}

// closeIter closes a delegate when GeneratorExit passes through it.
func (vm *VM) closeIter(yf *Object) error {
	if c, ok := vm.coroOf(yf); ok {
		return c.close(vm)
	}
	m, err := vm.GetAttrOpt(yf, "close")
	if err != nil || m == nil {
		return err
	}
	_, err = vm.CallPositional(m)
	return err
}

// awaitable returns the iterator driving an await expression on o.
func (vm *VM) awaitable(o *Object) (*Object, error) {
	if o.typ == vm.CoroutineType {
		if o.Payload.(*Coro).delegate() != nil {
			return nil, vm.NewRuntimeError("coroutine is being awaited already")
		}
		return o, nil
	}
	res, found, err := vm.callSpecial(o, "__await__")
	if !found {
		return nil, vm.NewTypeError("object %s can't be used in 'await' expression", o.typ.Name)
	}
	if err != nil {
		return nil, err
	}
	if res.typ == vm.CoroutineType {
		return nil, vm.NewTypeError("__await__() returned a coroutine")
	}
	if res.typ.mroFindSlot(hasIterNext) == nil {
		return nil, vm.NewTypeError("__await__() returned non-iterator of type '%s'", res.typ.Name)
	}
	return res, nil
}

// throwArgs builds the exception of a throw(type[, value[, tb]]) call.
func (vm *VM) throwArgs(args Args) (*BaseException, error) {
	if err := vm.expectArgs("throw", args, 1, 3); err != nil {
		return nil, err
	}
	typ := args.Pos[0]
	val, tb := vm.None, vm.None
	if len(args.Pos) > 1 {
		val = args.Pos[1]
	}
	if len(args.Pos) > 2 {
		tb = args.Pos[2]
	}
	if tb != vm.None && tb.typ != vm.TracebackType {
		return nil, vm.NewTypeError("throw() third argument must be a traceback object")
	}

	var exc *BaseException
	if t, ok := asType(typ); ok && t.IsSubtype(vm.Exceptions.BaseException) {
		switch {
		case val.typ.IsSubtype(t):
			exc = val.Payload.(*BaseException)
		default:
			var ctorArgs []*Object
			if items, ok := asTuple(val); ok {
				ctorArgs = items
			} else if val != vm.None {
				ctorArgs = []*Object{val}
			}
			inst, err := vm.Call(typ, Args{Pos: ctorArgs})
			if err != nil {
				return nil, err
			}
			e, ok := inst.Payload.(*BaseException)
			if !ok {
				return nil, vm.NewTypeError("calling %s should have returned an instance of BaseException, not %s",
					t.Name, inst.typ.Name)
			}
			exc = e
		}
	} else if e, ok := typ.Payload.(*BaseException); ok {
		if val != vm.None {
			return nil, vm.NewTypeError("instance exception may not have a separate value")
		}
		exc = e
	} else {
		return nil, vm.NewTypeError("exceptions must be classes or instances deriving from BaseException, not %s", typ.typ.Name)
	}
	if tb != vm.None {
		exc.Traceback = tb.Payload.(*Traceback)
	}
	return exc, nil
}

// ---------------------------------------------------------------------------
// Type setup
// ---------------------------------------------------------------------------

// coroResult converts a step of the frame into the value of send() or
// __next__: a yield gives the value, a return raises StopIteration.
func (vm *VM) coroResult(res *ExecutionResult, err error) (*Object, error) {
	if err != nil {
		return nil, err
	}
	if res.Kind == ResultYield {
		return res.Value, nil
	}
	if res.Value == vm.None {
		return nil, vm.NewStopIteration(nil)
	}
	return nil, vm.NewStopIteration(res.Value)
}

func coroMethod(fn func(vm *VM, c *Coro, args Args) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if len(args.Pos) == 0 {
			return nil, vm.NewTypeError("descriptor needs an argument")
		}
		c, ok := vm.coroOf(args.Pos[0])
		if !ok {
			return nil, downcastError("generator", args.Pos[0])
		}
		return fn(vm, c, Args{Pos: args.Pos[1:], Kw: args.Kw})
	}
}

var coroMethods = []methodDef{
	{name: "send", fn: coroMethod(func(vm *VM, c *Coro, args Args) (*Object, error) {
		if err := vm.expectArgs("send", args, 1, 1); err != nil {
			return nil, err
		}
		return vm.coroResult(c.send(vm, args.Pos[0]))
	})},
	{name: "throw", fn: coroMethod(func(vm *VM, c *Coro, args Args) (*Object, error) {
		exc, err := vm.throwArgs(args)
		if err != nil {
			return nil, err
		}
		return vm.coroResult(c.throw(vm, exc))
	})},
	{name: "close", fn: coroMethod(func(vm *VM, c *Coro, args Args) (*Object, error) {
		if err := vm.expectArgs("close", args, 0, 0); err != nil {
			return nil, err
		}
		return vm.None, c.close(vm)
	})},
}

var nextMethod = methodDef{name: "__next__", fn: coroMethod(func(vm *VM, c *Coro, args Args) (*Object, error) {
	if err := vm.expectArgs("__next__", args, 0, 0); err != nil {
		return nil, err
	}
	return vm.coroResult(c.send(vm, vm.None))
})}

func coroIterNext(vm *VM, o *Object) (*Object, error) {
	c, _ := vm.coroOf(o)
	res, err := c.send(vm, vm.None)
	if err != nil {
		if vm.errorMatches(err, vm.Exceptions.StopIteration) && c.closed {
			return nil, nil
		}
		return nil, err
	}
	if res.Kind == ResultReturn {
		return nil, nil
	}
	return res.Value, nil
}

func selfIter(vm *VM, o *Object) (*Object, error) {
	return o, nil
}

func coroGetSets(prefix string) []getsetDef {
	return []getsetDef{
		{name: "__name__", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewStr(o.Payload.(*Coro).Name), nil
		}, set: func(vm *VM, o *Object, value *Object) error {
			return setFuncName(vm, value, "__name__", func(s string) { o.Payload.(*Coro).Name = s })
		}},
		{name: "__qualname__", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewStr(o.Payload.(*Coro).QualName), nil
		}, set: func(vm *VM, o *Object, value *Object) error {
			return setFuncName(vm, value, "__qualname__", func(s string) { o.Payload.(*Coro).QualName = s })
		}},
		{name: prefix + "_running", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewBool(o.Payload.(*Coro).running), nil
		}},
		{name: prefix + "_code", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewCode(o.Payload.(*Coro).frame.Code), nil
		}},
		{name: map[string]string{"gi": "gi_yieldfrom", "cr": "cr_await"}[prefix], get: func(vm *VM, o *Object) (*Object, error) {
			return orNone(vm, o.Payload.(*Coro).delegate()), nil
		}},
	}
}

func (c *Context) initCoroutines() {
	g := c.GeneratorType
	g.Slots = TypeSlots{
		Iter:     selfIter,
		IterNext: coroIterNext,
		Repr: func(vm *VM, o *Object) (string, error) {
			return fmt.Sprintf("<generator object %s at 0x%x>", o.Payload.(*Coro).QualName, o.id()), nil
		},
	}
	c.addMethods(g, append([]methodDef{nextMethod}, coroMethods...))
	c.addGetSets(g, coroGetSets("gi"))

	co := c.CoroutineType
	co.Slots = TypeSlots{
		Repr: func(vm *VM, o *Object) (string, error) {
			return fmt.Sprintf("<coroutine object %s at 0x%x>", o.Payload.(*Coro).QualName, o.id()), nil
		},
	}
	c.addMethods(co, append([]methodDef{{name: "__await__", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("__await__", args, 1, 1); err != nil {
			return nil, err
		}
		return &Object{typ: vm.CoroutineWrapperType, Payload: args.Pos[0].Payload}, nil
	}}}, coroMethods...))
	c.addGetSets(co, coroGetSets("cr"))

	w := c.CoroutineWrapperType
	w.Slots = TypeSlots{
		Iter:     selfIter,
		IterNext: coroIterNext,
		Repr: func(vm *VM, o *Object) (string, error) {
			return fmt.Sprintf("<coroutine_wrapper object at 0x%x>", o.id()), nil
		},
	}
	c.addMethods(w, append([]methodDef{nextMethod}, coroMethods...))
}
