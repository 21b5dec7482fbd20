package vm

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Exception hierarchy
// ---------------------------------------------------------------------------

// ExceptionTypes holds the builtin exception classes of one Context.
type ExceptionTypes struct {
	BaseException     *Type
	SystemExit        *Type
	KeyboardInterrupt *Type
	GeneratorExit     *Type
	Exception         *Type

	StopIteration       *Type
	StopAsyncIteration  *Type
	ArithmeticError     *Type
	OverflowError       *Type
	ZeroDivisionError   *Type
	AssertionError      *Type
	AttributeError      *Type
	EOFError            *Type
	ImportError         *Type
	ModuleNotFoundError *Type
	LookupError         *Type
	IndexError          *Type
	KeyError            *Type
	MemoryError         *Type
	NameError           *Type
	UnboundLocalError   *Type
	OSError             *Type
	FileNotFoundError   *Type
	RuntimeError        *Type
	NotImplementedError *Type
	RecursionError      *Type
	SyntaxError         *Type
	IndentationError    *Type
	SystemError         *Type
	TypeError           *Type
	ValueError          *Type
	UnicodeError        *Type

	Warning            *Type
	DeprecationWarning *Type
	RuntimeWarning     *Type
	UserWarning        *Type
}

// all lists the exception classes in definition order for the builtins
// module.
func (e *ExceptionTypes) all() []*Type {
	return []*Type{
		e.BaseException, e.SystemExit, e.KeyboardInterrupt, e.GeneratorExit, e.Exception,
		e.StopIteration, e.StopAsyncIteration, e.ArithmeticError, e.OverflowError,
		e.ZeroDivisionError, e.AssertionError, e.AttributeError, e.EOFError, e.ImportError,
		e.ModuleNotFoundError, e.LookupError, e.IndexError, e.KeyError, e.MemoryError,
		e.NameError, e.UnboundLocalError, e.OSError, e.FileNotFoundError, e.RuntimeError,
		e.NotImplementedError, e.RecursionError, e.SyntaxError, e.IndentationError,
		e.SystemError, e.TypeError, e.ValueError, e.UnicodeError, e.Warning,
		e.DeprecationWarning, e.RuntimeWarning, e.UserWarning,
	}
}

// BaseException is the payload of exception instances. It implements error
// so a raised exception travels through ordinary Go error returns.
type BaseException struct {
	Args Tuple
	// Traceback is the chain of frame records the exception passed
	// through, outermost first.
	Traceback       *Traceback
	Cause           *BaseException
	Context         *BaseException
	SuppressContext bool

	obj *Object
}

// Object returns the exception instance.
func (e *BaseException) Object() *Object {
	return e.obj
}

// Type returns the class of the exception.
func (e *BaseException) Type() *Type {
	return e.obj.typ
}

// Error renders "Type: message" without calling back into a VM.
func (e *BaseException) Error() string {
	msg := e.message()
	if msg == "" {
		return e.obj.typ.Name
	}
	return e.obj.typ.Name + ": " + msg
}

func (e *BaseException) message() string {
	switch len(e.Args) {
	case 0:
		return ""
	case 1:
		return plainText(e.Args[0])
	}
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = plainText(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// plainText formats simple payloads for messages produced outside a VM.
func plainText(o *Object) string {
	switch v := o.Payload.(type) {
	case string:
		return v
	case int64:
		if o.typ.Name == "bool" {
			if v != 0 {
				return "True"
			}
			return "False"
		}
		return fmt.Sprint(v)
	case float64:
		return formatFloatRepr(v)
	}
	return "<" + o.typ.Name + " object>"
}

// AsException extracts a language exception from err.
func AsException(err error) (*BaseException, bool) {
	var exc *BaseException
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

// errorMatches reports whether err is an exception of class t.
func (vm *VM) errorMatches(err error, t *Type) bool {
	exc, ok := AsException(err)
	return ok && exc.Type().IsSubtype(t)
}

// Traceback is one frame record of an exception's traceback.
type Traceback struct {
	Next  *Traceback
	Code  *bytecode.CodeObject
	Lasti int
	Line  int

	frame *Frame
	obj   *Object
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// NewException instantiates the builtin exception class t with args.
func (vm *VM) NewException(t *Type, args ...*Object) *BaseException {
	exc := &BaseException{Args: Tuple(args)}
	exc.obj = vm.newObject(t, exc)
	if s := t.mroFindSlot(hasInit); s != nil && !t.Heap {
		_ = s.Init(vm, exc.obj, Args{Pos: args})
	}
	return exc
}

func (vm *VM) newError(t *Type, format string, a ...any) *BaseException {
	return vm.NewException(t, vm.NewStr(fmt.Sprintf(format, a...)))
}

// NewTypeError returns a TypeError with a formatted message.
func (vm *VM) NewTypeError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.TypeError, format, a...)
}

// NewValueError returns a ValueError with a formatted message.
func (vm *VM) NewValueError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.ValueError, format, a...)
}

// NewAttributeError returns an AttributeError with a formatted message.
func (vm *VM) NewAttributeError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.AttributeError, format, a...)
}

// NewIndexError returns an IndexError with a formatted message.
func (vm *VM) NewIndexError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.IndexError, format, a...)
}

// NewKeyError returns a KeyError carrying key.
func (vm *VM) NewKeyError(key *Object) *BaseException {
	return vm.NewException(vm.Exceptions.KeyError, key)
}

// NewNameError returns a NameError for an undefined name.
func (vm *VM) NewNameError(name string) *BaseException {
	exc := vm.newError(vm.Exceptions.NameError, "name '%s' is not defined", name)
	exc.obj.dict.SetStr(vm.Context, "name", vm.NewStr(name))
	return exc
}

// NewOverflowError returns an OverflowError with a formatted message.
func (vm *VM) NewOverflowError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.OverflowError, format, a...)
}

// NewZeroDivisionError returns a ZeroDivisionError with a formatted message.
func (vm *VM) NewZeroDivisionError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.ZeroDivisionError, format, a...)
}

// NewRuntimeError returns a RuntimeError with a formatted message.
func (vm *VM) NewRuntimeError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.RuntimeError, format, a...)
}

// NewSystemError reports an internal inconsistency visible to programs.
func (vm *VM) NewSystemError(format string, a ...any) *BaseException {
	return vm.newError(vm.Exceptions.SystemError, format, a...)
}

// NewImportError returns an ImportError naming the module.
func (vm *VM) NewImportError(name string, format string, a ...any) *BaseException {
	exc := vm.newError(vm.Exceptions.ImportError, format, a...)
	exc.obj.dict.SetStr(vm.Context, "name", vm.NewStr(name))
	return exc
}

// NewModuleNotFoundError returns a ModuleNotFoundError for name.
func (vm *VM) NewModuleNotFoundError(name string) *BaseException {
	exc := vm.newError(vm.Exceptions.ModuleNotFoundError, "No module named '%s'", name)
	exc.obj.dict.SetStr(vm.Context, "name", vm.NewStr(name))
	return exc
}

// NewStopIteration returns a StopIteration carrying value, or no value when
// value is nil.
func (vm *VM) NewStopIteration(value *Object) *BaseException {
	if value == nil {
		return vm.NewException(vm.Exceptions.StopIteration)
	}
	return vm.NewException(vm.Exceptions.StopIteration, value)
}

// stopIterationValue returns the value a StopIteration carries.
func (vm *VM) stopIterationValue(exc *BaseException) *Object {
	if v := exc.obj.dict.GetStr("value"); v != nil {
		return v
	}
	if len(exc.Args) > 0 {
		return exc.Args[0]
	}
	return vm.None
}

// syntaxError converts a compiler rejection into SyntaxError or
// IndentationError; other errors pass through.
func (vm *VM) syntaxError(err error, source string) error {
	var ce *compiler.CompileError
	if !errors.As(err, &ce) {
		return err
	}
	t := vm.Exceptions.SyntaxError
	if ce.IsIndentation() {
		t = vm.Exceptions.IndentationError
	}
	text := vm.None
	if lines := strings.Split(source, "\n"); ce.Location.Line > 0 && ce.Location.Line <= len(lines) {
		text = vm.NewStr(lines[ce.Location.Line-1] + "\n")
	}
	details := vm.NewTuple([]*Object{
		vm.NewStr(ce.SourcePath),
		vm.NewInt(int64(ce.Location.Line)),
		vm.NewInt(int64(ce.Location.Column)),
		text,
	})
	return vm.NewException(t, vm.NewStr(ce.Message()), details)
}

// ---------------------------------------------------------------------------
// Exception stack
// ---------------------------------------------------------------------------

// ExceptionStack is the chain of exceptions being handled. Every running
// frame owns one entry; a nil Exc means the frame handles nothing.
type ExceptionStack struct {
	Exc  *BaseException
	Prev *ExceptionStack
}

func (vm *VM) pushExceptionEntry(exc *BaseException) {
	vm.excStack = &ExceptionStack{Exc: exc, Prev: vm.excStack}
}

func (vm *VM) popExceptionEntry() *BaseException {
	top := vm.excStack
	vm.excStack = top.Prev
	return top.Exc
}

// currentException is the exception handled by the innermost frame.
func (vm *VM) currentException() *BaseException {
	if vm.excStack == nil {
		return nil
	}
	return vm.excStack.Exc
}

func (vm *VM) setException(exc *BaseException) {
	vm.excStack.Exc = exc
}

// topmostException is the innermost exception being handled by any frame,
// the one sys.exc_info() and a bare raise see.
func (vm *VM) topmostException() *BaseException {
	for s := vm.excStack; s != nil; s = s.Prev {
		if s.Exc != nil {
			return s.Exc
		}
	}
	return nil
}

// contextualize links exc.__context__ to the exception being handled,
// breaking any cycle the new link would close.
func (vm *VM) contextualize(exc *BaseException) {
	ctx := vm.topmostException()
	if ctx == nil || ctx == exc || exc.Context != nil {
		return
	}
	for o := ctx; o.Context != nil; o = o.Context {
		if o.Context == exc {
			o.Context = nil
			break
		}
	}
	exc.Context = ctx
}

// ---------------------------------------------------------------------------
// Type setup
// ---------------------------------------------------------------------------

func excPayload(o *Object) (*BaseException, error) {
	e, ok := o.Payload.(*BaseException)
	if !ok {
		return nil, downcastError("BaseException", o)
	}
	return e, nil
}

func (c *Context) initExceptions() {
	e := &c.Exceptions
	base := c.newType("BaseException", c.ObjectType)
	base.HasInstanceDict = true
	base.Slots.New = exceptionNew
	base.Slots.Init = exceptionInit
	base.Slots.Repr = exceptionRepr
	base.Slots.Str = exceptionStr
	c.addGetSets(base, exceptionGetSets)
	c.addMethods(base, []methodDef{
		{name: "with_traceback", fn: exceptionWithTraceback},
	})
	e.BaseException = base

	sub := c.newType
	e.SystemExit = sub("SystemExit", base)
	e.KeyboardInterrupt = sub("KeyboardInterrupt", base)
	e.GeneratorExit = sub("GeneratorExit", base)
	e.Exception = sub("Exception", base)

	exc := e.Exception
	e.StopIteration = sub("StopIteration", exc)
	e.StopAsyncIteration = sub("StopAsyncIteration", exc)
	e.ArithmeticError = sub("ArithmeticError", exc)
	e.OverflowError = sub("OverflowError", e.ArithmeticError)
	e.ZeroDivisionError = sub("ZeroDivisionError", e.ArithmeticError)
	e.AssertionError = sub("AssertionError", exc)
	e.AttributeError = sub("AttributeError", exc)
	e.EOFError = sub("EOFError", exc)
	e.ImportError = sub("ImportError", exc)
	e.ModuleNotFoundError = sub("ModuleNotFoundError", e.ImportError)
	e.LookupError = sub("LookupError", exc)
	e.IndexError = sub("IndexError", e.LookupError)
	e.KeyError = sub("KeyError", e.LookupError)
	e.MemoryError = sub("MemoryError", exc)
	e.NameError = sub("NameError", exc)
	e.UnboundLocalError = sub("UnboundLocalError", e.NameError)
	e.OSError = sub("OSError", exc)
	e.FileNotFoundError = sub("FileNotFoundError", e.OSError)
	e.RuntimeError = sub("RuntimeError", exc)
	e.NotImplementedError = sub("NotImplementedError", e.RuntimeError)
	e.RecursionError = sub("RecursionError", e.RuntimeError)
	e.SyntaxError = sub("SyntaxError", exc)
	e.IndentationError = sub("IndentationError", e.SyntaxError)
	e.SystemError = sub("SystemError", exc)
	e.TypeError = sub("TypeError", exc)
	e.ValueError = sub("ValueError", exc)
	e.UnicodeError = sub("UnicodeError", e.ValueError)
	e.Warning = sub("Warning", exc)
	e.DeprecationWarning = sub("DeprecationWarning", e.Warning)
	e.RuntimeWarning = sub("RuntimeWarning", e.Warning)
	e.UserWarning = sub("UserWarning", e.Warning)

	e.StopIteration.Slots.Init = stopIterationInit
	e.SystemExit.Slots.Init = systemExitInit
	e.ImportError.Slots.Init = importErrorInit
	e.KeyError.Slots.Str = keyErrorStr
	e.SyntaxError.Slots.Init = syntaxErrorInit
	e.SyntaxError.Slots.Str = syntaxErrorStr

	c.addGetSets(c.TracebackType, tracebackGetSets)
}

func exceptionNew(vm *VM, cls *Type, args Args) (*Object, error) {
	exc := &BaseException{Args: append(Tuple(nil), args.Pos...)}
	exc.obj = vm.newObject(cls, exc)
	return exc.obj, nil
}

func exceptionInit(vm *VM, o *Object, args Args) error {
	if len(args.Kw) > 0 {
		return vm.NewTypeError("%s() takes no keyword arguments", o.typ.Name)
	}
	e, err := excPayload(o)
	if err != nil {
		return err
	}
	e.Args = append(Tuple(nil), args.Pos...)
	return nil
}

func exceptionRepr(vm *VM, o *Object) (string, error) {
	e, err := excPayload(o)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		if parts[i], err = vm.Repr(a); err != nil {
			return "", err
		}
	}
	return o.typ.Name + "(" + strings.Join(parts, ", ") + ")", nil
}

func exceptionStr(vm *VM, o *Object) (string, error) {
	e, err := excPayload(o)
	if err != nil {
		return "", err
	}
	switch len(e.Args) {
	case 0:
		return "", nil
	case 1:
		return vm.Str(e.Args[0])
	}
	return vm.Repr(vm.NewTuple(e.Args))
}

func exceptionWithTraceback(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("with_traceback", args, 2, 2); err != nil {
		return nil, err
	}
	if err := setTraceback(vm, args.Pos[0], args.Pos[1]); err != nil {
		return nil, err
	}
	return args.Pos[0], nil
}

func setTraceback(vm *VM, o, value *Object) error {
	e, err := excPayload(o)
	if err != nil {
		return err
	}
	if value == vm.None {
		e.Traceback = nil
		return nil
	}
	tb, ok := value.Payload.(*Traceback)
	if !ok {
		return vm.NewTypeError("__traceback__ must be a traceback or None")
	}
	e.Traceback = tb
	return nil
}

// exceptionLink converts an optional exception pointer to an object.
func (vm *VM) exceptionLink(e *BaseException) *Object {
	if e == nil {
		return vm.None
	}
	return e.obj
}

func (vm *VM) toExceptionLink(value *Object, what string) (*BaseException, error) {
	if value == vm.None {
		return nil, nil
	}
	e, ok := value.Payload.(*BaseException)
	if !ok {
		return nil, vm.NewTypeError("exception %s must be None or derive from BaseException", what)
	}
	return e, nil
}

var exceptionGetSets = []getsetDef{
	{
		name: "args",
		get: func(vm *VM, o *Object) (*Object, error) {
			e, err := excPayload(o)
			if err != nil {
				return nil, err
			}
			return vm.NewTuple(e.Args), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			e, err := excPayload(o)
			if err != nil {
				return err
			}
			items, err := vm.ToSlice(value)
			if err != nil {
				return err
			}
			e.Args = items
			return nil
		},
	},
	{
		name: "__traceback__",
		get: func(vm *VM, o *Object) (*Object, error) {
			e, err := excPayload(o)
			if err != nil {
				return nil, err
			}
			return vm.tracebackObject(e.Traceback), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			return setTraceback(vm, o, value)
		},
	},
	{
		name: "__cause__",
		get: func(vm *VM, o *Object) (*Object, error) {
			e, err := excPayload(o)
			if err != nil {
				return nil, err
			}
			return vm.exceptionLink(e.Cause), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			e, err := excPayload(o)
			if err != nil {
				return err
			}
			cause, err := vm.toExceptionLink(value, "cause")
			if err != nil {
				return err
			}
			e.Cause = cause
			e.SuppressContext = true
			return nil
		},
	},
	{
		name: "__context__",
		get: func(vm *VM, o *Object) (*Object, error) {
			e, err := excPayload(o)
			if err != nil {
				return nil, err
			}
			return vm.exceptionLink(e.Context), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			e, err := excPayload(o)
			if err != nil {
				return err
			}
			ctx, err := vm.toExceptionLink(value, "context")
			if err != nil {
				return err
			}
			e.Context = ctx
			return nil
		},
	},
	{
		name: "__suppress_context__",
		get: func(vm *VM, o *Object) (*Object, error) {
			e, err := excPayload(o)
			if err != nil {
				return nil, err
			}
			return vm.NewBool(e.SuppressContext), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			e, err := excPayload(o)
			if err != nil {
				return err
			}
			e.SuppressContext, err = vm.Truthy(value)
			return err
		},
	},
}

func stopIterationInit(vm *VM, o *Object, args Args) error {
	if err := exceptionInit(vm, o, args); err != nil {
		return err
	}
	value := vm.None
	if len(args.Pos) > 0 {
		value = args.Pos[0]
	}
	o.dict.SetStr(vm.Context, "value", value)
	return nil
}

func systemExitInit(vm *VM, o *Object, args Args) error {
	if err := exceptionInit(vm, o, args); err != nil {
		return err
	}
	code := vm.None
	switch len(args.Pos) {
	case 0:
	case 1:
		code = args.Pos[0]
	default:
		code = vm.NewTuple(append([]*Object(nil), args.Pos...))
	}
	o.dict.SetStr(vm.Context, "code", code)
	return nil
}

func importErrorInit(vm *VM, o *Object, args Args) error {
	e, err := excPayload(o)
	if err != nil {
		return err
	}
	e.Args = append(Tuple(nil), args.Pos...)
	for _, kw := range []string{"name", "path"} {
		v := args.Kwarg(kw)
		if v == nil {
			v = vm.None
		}
		o.dict.SetStr(vm.Context, kw, v)
		args = args.WithoutKwarg(kw)
	}
	if len(args.Kw) > 0 {
		return vm.NewTypeError("'%s' is an invalid keyword argument for ImportError()", args.Kw[0].Name)
	}
	msg := vm.None
	if len(e.Args) == 1 {
		msg = e.Args[0]
	}
	o.dict.SetStr(vm.Context, "msg", msg)
	return nil
}

func keyErrorStr(vm *VM, o *Object) (string, error) {
	e, err := excPayload(o)
	if err != nil {
		return "", err
	}
	if len(e.Args) == 1 {
		return vm.Repr(e.Args[0])
	}
	return exceptionStr(vm, o)
}

func syntaxErrorInit(vm *VM, o *Object, args Args) error {
	if err := exceptionInit(vm, o, args); err != nil {
		return err
	}
	d := o.dict
	for _, name := range []string{"msg", "filename", "lineno", "offset", "text"} {
		d.SetStr(vm.Context, name, vm.None)
	}
	if len(args.Pos) > 0 {
		d.SetStr(vm.Context, "msg", args.Pos[0])
	}
	if len(args.Pos) == 2 {
		info, err := vm.ToSlice(args.Pos[1])
		if err != nil {
			return err
		}
		if len(info) != 4 {
			return vm.NewIndexError("tuple index out of range")
		}
		d.SetStr(vm.Context, "filename", info[0])
		d.SetStr(vm.Context, "lineno", info[1])
		d.SetStr(vm.Context, "offset", info[2])
		d.SetStr(vm.Context, "text", info[3])
	}
	return nil
}

func syntaxErrorStr(vm *VM, o *Object) (string, error) {
	msg := o.dict.GetStr("msg")
	if msg == nil || msg == vm.None {
		return exceptionStr(vm, o)
	}
	text, err := vm.Str(msg)
	if err != nil {
		return "", err
	}
	filename, _ := asStr(orNone(vm, o.dict.GetStr("filename")))
	lineno, hasLine := asInt(orNone(vm, o.dict.GetStr("lineno")))
	switch {
	case filename != "" && hasLine:
		return fmt.Sprintf("%s (%s, line %d)", text, filepath.Base(filename), lineno), nil
	case filename != "":
		return fmt.Sprintf("%s (%s)", text, filepath.Base(filename)), nil
	case hasLine:
		return fmt.Sprintf("%s (line %d)", text, lineno), nil
	}
	return text, nil
}

func orNone(vm *VM, o *Object) *Object {
	if o == nil {
		return vm.None
	}
	return o
}

// ---------------------------------------------------------------------------
// Traceback objects
// ---------------------------------------------------------------------------

func (vm *VM) tracebackObject(tb *Traceback) *Object {
	if tb == nil {
		return vm.None
	}
	if tb.obj == nil {
		tb.obj = &Object{typ: vm.TracebackType, Payload: tb}
	}
	return tb.obj
}

var tracebackGetSets = []getsetDef{
	{name: "tb_next", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.tracebackObject(o.Payload.(*Traceback).Next), nil
	}},
	{name: "tb_lineno", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(o.Payload.(*Traceback).Line)), nil
	}},
	{name: "tb_lasti", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(o.Payload.(*Traceback).Lasti)), nil
	}},
}
