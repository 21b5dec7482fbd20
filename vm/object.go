package vm

import (
	"unsafe"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Object: the shared, dynamically typed cell every instruction operates on
// ---------------------------------------------------------------------------

// Object is a value of the running program. Identity is pointer identity.
// The payload carries the builtin representation; instances of heap types
// that extend a builtin type share the builtin's payload shape.
type Object struct {
	typ     *Type
	dict    *Dict
	Payload any
}

// Type returns the object's type. It is never nil.
func (o *Object) Type() *Type {
	return o.typ
}

// Dict returns the instance attribute dictionary, or nil when the object
// has none.
func (o *Object) Dict() *Dict {
	return o.dict
}

// id is the value returned by id() and the identity hash.
func (o *Object) id() int64 {
	return int64(uintptr(unsafe.Pointer(o)))
}

// Tuple is the payload of tuple objects.
type Tuple []*Object

// List is the payload of list objects.
type List struct {
	Items []*Object
}

// Cell boxes a variable captured by a closure. A nil Value is an empty cell.
type Cell struct {
	Value *Object
}

// Module is the payload of module objects. The namespace is the object's
// dict.
type Module struct {
	Name string
}

// Slice is the payload of slice objects; absent bounds are None.
type Slice struct {
	Start, Stop, Step *Object
}

// Range is the payload of range objects.
type Range struct {
	Start, Stop, Step int64
}

// Len returns the number of values the range produces.
func (r *Range) Len() int64 {
	if r.Step > 0 && r.Start < r.Stop {
		return (r.Stop-r.Start-1)/r.Step + 1
	}
	if r.Step < 0 && r.Start > r.Stop {
		return (r.Start-r.Stop-1)/(-r.Step) + 1
	}
	return 0
}

// Code wraps a compiled code object so it can live in constant pools and
// be passed to exec() and eval().
type Code struct {
	Code *bytecode.CodeObject
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// KwArg is one keyword argument of a call.
type KwArg struct {
	Name  string
	Value *Object
}

// Args holds the arguments of a call: positional values followed by
// keyword arguments in call order.
type Args struct {
	Pos []*Object
	Kw  []KwArg
}

// PosArgs builds an Args of positional values.
func PosArgs(values ...*Object) Args {
	return Args{Pos: values}
}

// Prepend returns a copy of the arguments with self in front.
func (a Args) Prepend(self *Object) Args {
	pos := make([]*Object, 0, len(a.Pos)+1)
	pos = append(pos, self)
	pos = append(pos, a.Pos...)
	return Args{Pos: pos, Kw: a.Kw}
}

// Kwarg returns the keyword argument called name, or nil.
func (a Args) Kwarg(name string) *Object {
	for _, kw := range a.Kw {
		if kw.Name == name {
			return kw.Value
		}
	}
	return nil
}

// WithoutKwarg returns the arguments minus the keyword called name.
func (a Args) WithoutKwarg(name string) Args {
	kw := make([]KwArg, 0, len(a.Kw))
	for _, k := range a.Kw {
		if k.Name != name {
			kw = append(kw, k)
		}
	}
	return Args{Pos: a.Pos, Kw: kw}
}

// BuiltinFn implements a function or method written in Go. Methods receive
// self as the first positional argument.
type BuiltinFn func(vm *VM, args Args) (*Object, error)

// BuiltinFunction is the payload of builtin functions and method
// descriptors. Owner is the class a method descriptor belongs to; Self is
// set once it has been bound.
type BuiltinFunction struct {
	Name   string
	Fn     BuiltinFn
	Owner  *Type
	Self   *Object
	Module string
	Doc    string
}

// BoundMethod pairs a callable with the instance it was looked up on.
type BoundMethod struct {
	Func *Object
	Self *Object
}

// Property is the payload of property objects.
type Property struct {
	Get, Set, Del *Object
	Doc           *Object
}

// StaticMethod is the payload of staticmethod objects.
type StaticMethod struct {
	Func *Object
}

// ClassMethod is the payload of classmethod objects.
type ClassMethod struct {
	Func *Object
}

// Super is the payload of super objects.
type Super struct {
	Type    *Type
	Obj     *Object
	ObjType *Type
}

// GetSet is a data descriptor backed by Go accessors. A nil Set makes the
// attribute read-only.
type GetSet struct {
	Name  string
	Owner *Type
	Get   func(vm *VM, o *Object) (*Object, error)
	Set   func(vm *VM, o *Object, value *Object) error
}

// iterator is the payload of iterators implemented in Go. next returns
// nil, nil when exhausted.
type iterator struct {
	next func(vm *VM) (*Object, error)
	done bool
}

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

func asInt(o *Object) (int64, bool) {
	v, ok := o.Payload.(int64)
	return v, ok
}

func asFloat(o *Object) (float64, bool) {
	v, ok := o.Payload.(float64)
	return v, ok
}

func asStr(o *Object) (string, bool) {
	v, ok := o.Payload.(string)
	return v, ok
}

func asBytes(o *Object) ([]byte, bool) {
	v, ok := o.Payload.([]byte)
	return v, ok
}

func asTuple(o *Object) (Tuple, bool) {
	v, ok := o.Payload.(Tuple)
	return v, ok
}

func asList(o *Object) (*List, bool) {
	v, ok := o.Payload.(*List)
	return v, ok
}

func asDict(o *Object) (*Dict, bool) {
	v, ok := o.Payload.(*Dict)
	return v, ok
}

func asSet(o *Object) (*Set, bool) {
	v, ok := o.Payload.(*Set)
	return v, ok
}

func asType(o *Object) (*Type, bool) {
	v, ok := o.Payload.(*Type)
	return v, ok
}

// sequenceItems returns the items of a tuple or list without copying.
func sequenceItems(o *Object) ([]*Object, bool) {
	switch p := o.Payload.(type) {
	case Tuple:
		return p, true
	case *List:
		return p.Items, true
	}
	return nil, false
}

// IntValue returns the payload of an int (or bool) object.
func IntValue(o *Object) (int64, error) {
	v, ok := asInt(o)
	if !ok {
		return 0, downcastError("int", o)
	}
	return v, nil
}

// StrValue returns the payload of a str object.
func StrValue(o *Object) (string, error) {
	v, ok := asStr(o)
	if !ok {
		return "", downcastError("str", o)
	}
	return v, nil
}

// TupleValue returns the payload of a tuple object.
func TupleValue(o *Object) (Tuple, error) {
	v, ok := asTuple(o)
	if !ok {
		return nil, downcastError("tuple", o)
	}
	return v, nil
}

// DictValue returns the payload of a dict object.
func DictValue(o *Object) (*Dict, error) {
	v, ok := asDict(o)
	if !ok {
		return nil, downcastError("dict", o)
	}
	return v, nil
}
