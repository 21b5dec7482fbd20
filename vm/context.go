package vm

import (
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Context: the per-VM registry of types and singletons
// ---------------------------------------------------------------------------

// Context owns every builtin type object, the exception hierarchy and the
// interned singletons of one VM. Nothing in it is shared between VMs.
type Context struct {
	TypeType           *Type
	ObjectType         *Type
	NoneType           *Type
	NotImplementedType *Type
	EllipsisType       *Type

	IntType   *Type
	BoolType  *Type
	FloatType *Type
	StrType   *Type
	BytesType *Type

	TupleType     *Type
	ListType      *Type
	DictType      *Type
	SetType       *Type
	FrozenSetType *Type
	RangeType     *Type
	SliceType     *Type
	IteratorType  *Type

	FunctionType         *Type
	BoundMethodType      *Type
	BuiltinFunctionType  *Type
	MethodDescriptorType *Type
	CodeType             *Type
	CellType             *Type
	ModuleType           *Type

	PropertyType     *Type
	StaticMethodType *Type
	ClassMethodType  *Type
	SuperType        *Type
	GetSetType       *Type

	GeneratorType        *Type
	CoroutineType        *Type
	CoroutineWrapperType *Type
	TracebackType        *Type

	Exceptions ExceptionTypes

	None           *Object
	NotImplemented *Object
	Ellipsis       *Object
	True           *Object
	False          *Object
	EmptyTuple     *Object
	EmptyStr       *Object

	smallInts    [smallIntMax - smallIntMin + 1]*Object
	builtinTypes []*Type
	hashSeed     uint64
}

const (
	smallIntMin = -5
	smallIntMax = 256
)

// NewContext builds a fresh set of builtin types. hashSeed perturbs the
// hashes of str and bytes.
func NewContext(hashSeed uint64) *Context {
	c := &Context{hashSeed: hashSeed}
	c.bootstrap()
	c.initSingletons()

	c.initObjectAndType()
	c.initNumbers()
	c.initStr()
	c.initSequences()
	c.initDicts()
	c.initFunctions()
	c.initDescriptors()
	c.initExceptions()
	c.initCoroutines()

	for _, t := range c.builtinTypes {
		c.addSlotWrappers(t)
	}
	return c
}

// bootstrap creates type and object, whose type objects refer to each
// other, and then the shells of the other builtin types so that method
// tables can refer to any of them.
func (c *Context) bootstrap() {
	typ := &Type{Name: "type", QualName: "type"}
	obj := &Type{Name: "object", QualName: "object"}
	typ.self = &Object{Payload: typ, dict: NewDict()}
	obj.self = &Object{Payload: obj, dict: NewDict()}
	typ.self.typ = typ
	obj.self.typ = typ

	obj.MRO = []*Type{obj}
	typ.Base = obj
	typ.Bases = []*Type{obj}
	typ.MRO = []*Type{typ, obj}
	typ.HasInstanceDict = true
	obj.addSubclass(typ)

	c.TypeType = typ
	c.ObjectType = obj
	c.builtinTypes = append(c.builtinTypes, obj, typ)

	c.StrType = c.newType("str", obj)
	c.NoneType = c.newFinalType("NoneType", obj)
	c.NotImplementedType = c.newFinalType("NotImplementedType", obj)
	c.EllipsisType = c.newFinalType("ellipsis", obj)

	c.IntType = c.newType("int", obj)
	c.BoolType = c.newFinalType("bool", c.IntType)
	c.FloatType = c.newType("float", obj)
	c.BytesType = c.newType("bytes", obj)

	c.TupleType = c.newType("tuple", obj)
	c.ListType = c.newType("list", obj)
	c.DictType = c.newType("dict", obj)
	c.SetType = c.newType("set", obj)
	c.FrozenSetType = c.newType("frozenset", obj)
	c.RangeType = c.newFinalType("range", obj)
	c.SliceType = c.newFinalType("slice", obj)
	c.IteratorType = c.newFinalType("iterator", obj)

	c.FunctionType = c.newFinalType("function", obj)
	c.BoundMethodType = c.newFinalType("method", obj)
	c.BuiltinFunctionType = c.newFinalType("builtin_function_or_method", obj)
	c.MethodDescriptorType = c.newFinalType("method_descriptor", obj)
	c.CodeType = c.newFinalType("code", obj)
	c.CellType = c.newFinalType("cell", obj)
	c.ModuleType = c.newType("module", obj)

	c.PropertyType = c.newType("property", obj)
	c.StaticMethodType = c.newType("staticmethod", obj)
	c.ClassMethodType = c.newType("classmethod", obj)
	c.SuperType = c.newType("super", obj)
	c.GetSetType = c.newFinalType("getset_descriptor", obj)

	c.GeneratorType = c.newFinalType("generator", obj)
	c.CoroutineType = c.newFinalType("coroutine", obj)
	c.CoroutineWrapperType = c.newFinalType("coroutine_wrapper", obj)
	c.TracebackType = c.newFinalType("traceback", obj)

	c.None = &Object{typ: c.NoneType}
	c.NotImplemented = &Object{typ: c.NotImplementedType}
	c.Ellipsis = &Object{typ: c.EllipsisType}
}

func (c *Context) newFinalType(name string, base *Type) *Type {
	t := c.newType(name, base)
	t.Final = true
	return t
}

// newType creates a builtin type with a single base.
func (c *Context) newType(name string, base *Type) *Type {
	t := &Type{
		Name:            name,
		QualName:        name,
		Base:            base,
		Bases:           []*Type{base},
		HasInstanceDict: base.HasInstanceDict,
	}
	t.MRO = append([]*Type{t}, base.MRO...)
	t.self = &Object{typ: c.TypeType, dict: NewDict(), Payload: t}
	base.addSubclass(t)
	c.builtinTypes = append(c.builtinTypes, t)
	return t
}

func (c *Context) initSingletons() {
	for i := range c.smallInts {
		c.smallInts[i] = &Object{typ: c.IntType, Payload: int64(i + smallIntMin)}
	}
	c.True = &Object{typ: c.BoolType, Payload: int64(1)}
	c.False = &Object{typ: c.BoolType, Payload: int64(0)}
	c.EmptyTuple = &Object{typ: c.TupleType, Payload: Tuple{}}
	c.EmptyStr = &Object{typ: c.StrType, Payload: ""}

	for t, name := range map[*Type]string{
		c.NoneType:           "None",
		c.NotImplementedType: "NotImplemented",
		c.EllipsisType:       "Ellipsis",
	} {
		t.Slots.Repr = func(*VM, *Object) (string, error) { return name, nil }
	}
}

// ---------------------------------------------------------------------------
// Method tables
// ---------------------------------------------------------------------------

type methodKind uint8

const (
	instanceMethod methodKind = iota
	staticMethod
	classMethod
)

type methodDef struct {
	name string
	fn   BuiltinFn
	kind methodKind
}

type getsetDef struct {
	name string
	get  func(vm *VM, o *Object) (*Object, error)
	set  func(vm *VM, o *Object, value *Object) error
}

func (c *Context) addMethods(t *Type, defs []methodDef) {
	for _, d := range defs {
		switch d.kind {
		case staticMethod:
			f := c.NewBuiltinFunction(d.name, d.fn)
			f.Payload.(*BuiltinFunction).Module = t.Name
			t.self.dict.SetStr(c, d.name, f)
		case classMethod:
			f := c.NewBuiltinFunction(d.name, d.fn)
			t.self.dict.SetStr(c, d.name, &Object{typ: c.ClassMethodType, Payload: &ClassMethod{Func: f}})
		default:
			t.self.dict.SetStr(c, d.name, c.newMethodDescriptor(t, d.name, d.fn))
		}
	}
}

func (c *Context) addGetSets(t *Type, defs []getsetDef) {
	for _, d := range defs {
		gs := &GetSet{Name: d.name, Owner: t, Get: d.get, Set: d.set}
		t.self.dict.SetStr(c, d.name, &Object{typ: c.GetSetType, Payload: gs})
	}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewInt returns an int object, shared for small values.
func (c *Context) NewInt(v int64) *Object {
	if v >= smallIntMin && v <= smallIntMax {
		return c.smallInts[v-smallIntMin]
	}
	return &Object{typ: c.IntType, Payload: v}
}

// NewBool returns True or False.
func (c *Context) NewBool(b bool) *Object {
	if b {
		return c.True
	}
	return c.False
}

// NewFloat returns a float object.
func (c *Context) NewFloat(f float64) *Object {
	return &Object{typ: c.FloatType, Payload: f}
}

// NewStr returns a str object.
func (c *Context) NewStr(s string) *Object {
	if s == "" && c.EmptyStr != nil {
		return c.EmptyStr
	}
	return &Object{typ: c.StrType, Payload: s}
}

// NewBytes returns a bytes object owning b.
func (c *Context) NewBytes(b []byte) *Object {
	return &Object{typ: c.BytesType, Payload: b}
}

// NewTuple returns a tuple owning items.
func (c *Context) NewTuple(items []*Object) *Object {
	if len(items) == 0 && c.EmptyTuple != nil {
		return c.EmptyTuple
	}
	return &Object{typ: c.TupleType, Payload: Tuple(items)}
}

// NewList returns a list owning items.
func (c *Context) NewList(items []*Object) *Object {
	return &Object{typ: c.ListType, Payload: &List{Items: items}}
}

// NewDict wraps d, or a fresh dictionary when d is nil, in a dict object.
func (c *Context) NewDict(d *Dict) *Object {
	if d == nil {
		d = NewDict()
	}
	return &Object{typ: c.DictType, Payload: d}
}

// NewCell returns a cell holding v.
func (c *Context) NewCell(v *Object) *Object {
	return &Object{typ: c.CellType, Payload: &Cell{Value: v}}
}

// NewCode wraps a code object.
func (c *Context) NewCode(code *bytecode.CodeObject) *Object {
	return &Object{typ: c.CodeType, Payload: &Code{Code: code}}
}

// NewBuiltinFunction wraps fn as a callable that is not a descriptor.
func (c *Context) NewBuiltinFunction(name string, fn BuiltinFn) *Object {
	return &Object{typ: c.BuiltinFunctionType, Payload: &BuiltinFunction{Name: name, Fn: fn}}
}

func (c *Context) newMethodDescriptor(owner *Type, name string, fn BuiltinFn) *Object {
	return &Object{typ: c.MethodDescriptorType, Payload: &BuiltinFunction{Name: name, Fn: fn, Owner: owner}}
}

// NewModule returns an empty module with __name__ and __doc__ set.
func (c *Context) NewModule(name string) *Object {
	m := &Object{typ: c.ModuleType, dict: NewDict(), Payload: &Module{Name: name}}
	m.dict.SetStr(c, "__name__", c.NewStr(name))
	m.dict.SetStr(c, "__doc__", c.None)
	m.dict.SetStr(c, "__package__", c.None)
	return m
}

// newObject allocates an instance of t, with an attribute dictionary when
// the type calls for one.
func (c *Context) newObject(t *Type, payload any) *Object {
	o := &Object{typ: t, Payload: payload}
	if t.HasInstanceDict {
		o.dict = NewDict()
	}
	return o
}

func (c *Context) newIterator(next func(vm *VM) (*Object, error)) *Object {
	return &Object{typ: c.IteratorType, Payload: &iterator{next: next}}
}

// iteratorOver yields the given items in order.
func (c *Context) iteratorOver(items []*Object) *Object {
	i := 0
	return c.newIterator(func(*VM) (*Object, error) {
		if i >= len(items) {
			return nil, nil
		}
		i++
		return items[i-1], nil
	})
}
