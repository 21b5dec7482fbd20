package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// object
// ---------------------------------------------------------------------------

func (c *Context) initObjectAndType() {
	o := c.ObjectType
	o.Doc = "The base class of the class hierarchy."
	o.Slots = TypeSlots{
		Hash:        objectHash,
		RichCompare: objectRichCompare,
		GetAttro:    genericGetAttr,
		SetAttro:    genericSetAttr,
		New:         objectNew,
		Init:        objectInit,
		Repr:        objectRepr,
		Str:         objectStr,
	}
	c.addMethods(o, []methodDef{
		{name: "__format__", fn: objectFormat},
		{name: "__dir__", fn: objectDir},
		{name: "__init_subclass__", fn: func(vm *VM, args Args) (*Object, error) {
			if len(args.Kw) > 0 {
				return nil, vm.NewTypeError("%s.__init_subclass__() takes no keyword arguments", typeOf(args.Pos[0]).Name)
			}
			return vm.None, nil
		}, kind: classMethod},
	})
	c.addGetSets(o, []getsetDef{
		{name: "__class__", get: func(vm *VM, o *Object) (*Object, error) {
			return o.typ.self, nil
		}, set: objectSetClass},
	})

	t := c.TypeType
	t.Doc = "type(object) -> the object's type\ntype(name, bases, dict, **kwds) -> a new type"
	t.Slots = TypeSlots{
		Call:     typeCall,
		GetAttro: typeGetAttr,
		SetAttro: typeSetAttr,
		New:      typeNew,
		Init:     typeInit,
		Repr:     typeRepr,
	}
	c.addMethods(t, []methodDef{
		{name: "mro", fn: func(vm *VM, args Args) (*Object, error) {
			typ, err := receiver[*Type](vm, args, "type")
			if err != nil {
				return nil, err
			}
			return vm.NewList(typeObjects(typ.MRO)), nil
		}},
		{name: "__subclasses__", fn: func(vm *VM, args Args) (*Object, error) {
			typ, err := receiver[*Type](vm, args, "type")
			if err != nil {
				return nil, err
			}
			return vm.NewList(typeObjects(typ.Subclasses())), nil
		}},
		{name: "__prepare__", fn: func(vm *VM, args Args) (*Object, error) {
			return vm.NewDict(nil), nil
		}, kind: classMethod},
		{name: "__instancecheck__", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__instancecheck__", args, 2, 2); err != nil {
				return nil, err
			}
			ok, err := vm.isInstanceOf(args.Pos[1], args.Pos[0])
			return vm.NewBool(ok), err
		}},
		{name: "__subclasscheck__", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__subclasscheck__", args, 2, 2); err != nil {
				return nil, err
			}
			sub, ok := asType(args.Pos[1])
			if !ok {
				return nil, vm.NewTypeError("issubclass() arg 1 must be a class")
			}
			ok, err := vm.isSubclassOf(sub, args.Pos[0])
			return vm.NewBool(ok), err
		}},
	})
	c.addGetSets(t, typeGetSets)
}

func typeObjects(types []*Type) []*Object {
	out := make([]*Object, len(types))
	for i, t := range types {
		out[i] = t.self
	}
	return out
}

func objectHash(vm *VM, o *Object) (int64, error) {
	id := uint64(o.id())
	return int64(id>>4 | id<<60), nil
}

// objectRichCompare provides identity equality. != inverts whatever == of
// the receiver's type answers.
func objectRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	switch op {
	case bytecode.CmpEqual:
		if a == b {
			return vm.True, nil
		}
		return vm.NotImplemented, nil
	case bytecode.CmpNotEqual:
		s := a.typ.mroFindSlot(hasRichCompare)
		res, err := s.RichCompare(vm, a, b, bytecode.CmpEqual)
		if err != nil || res == vm.NotImplemented {
			return res, err
		}
		t, err := vm.Truthy(res)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(!t), nil
	}
	return vm.NotImplemented, nil
}

func excessArgs(args Args) bool {
	return len(args.Pos) > 0 || len(args.Kw) > 0
}

func objectNew(vm *VM, cls *Type, args Args) (*Object, error) {
	if excessArgs(args) {
		if cls.mroFindSlot(hasNew) != &vm.ObjectType.Slots {
			return nil, vm.NewTypeError("object.__new__() takes exactly one argument (the type to instantiate)")
		}
		if cls.mroFindSlot(hasInit) == &vm.ObjectType.Slots {
			return nil, vm.NewTypeError("%s() takes no arguments", cls.Name)
		}
	}
	if base := cls.solidBase(); base != vm.ObjectType {
		return nil, vm.NewTypeError("object.__new__(%s) is not safe, use %s.__new__()", cls.Name, base.Name)
	}
	return vm.newObject(cls, nil), nil
}

func objectInit(vm *VM, o *Object, args Args) error {
	if excessArgs(args) {
		if o.typ.mroFindSlot(hasInit) != &vm.ObjectType.Slots {
			return vm.NewTypeError("object.__init__() takes exactly one argument (the instance to initialize)")
		}
		if o.typ.mroFindSlot(hasNew) == &vm.ObjectType.Slots {
			return vm.NewTypeError("%s() takes no arguments", o.typ.Name)
		}
	}
	return nil
}

func defaultRepr(o *Object) string {
	return fmt.Sprintf("<%s object at %#x>", o.typ.FullName(), o.id())
}

func objectRepr(vm *VM, o *Object) (string, error) {
	return defaultRepr(o), nil
}

func objectStr(vm *VM, o *Object) (string, error) {
	return vm.Repr(o)
}

func objectFormat(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("__format__", args, 2, 2); err != nil {
		return nil, err
	}
	spec, err := vm.strArg("format", args.Pos[1])
	if err != nil {
		return nil, err
	}
	if spec != "" {
		return nil, vm.NewTypeError("unsupported format string passed to %s.__format__", args.Pos[0].typ.Name)
	}
	return vm.StrObject(args.Pos[0])
}

func objectDir(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("__dir__", args, 1, 1); err != nil {
		return nil, err
	}
	o := args.Pos[0]
	seen := map[string]bool{}
	o.dict.eachStr(func(name string, _ *Object) { seen[name] = true })
	types := o.typ.MRO
	if t, ok := asType(o); ok {
		types = t.MRO
	}
	for _, t := range types {
		t.self.dict.eachStr(func(name string, _ *Object) { seen[name] = true })
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	items := make([]*Object, len(names))
	for i, n := range names {
		items[i] = vm.NewStr(n)
	}
	return vm.NewList(items), nil
}

func objectSetClass(vm *VM, o *Object, value *Object) error {
	if value == nil {
		return vm.NewTypeError("can't delete __class__ attribute")
	}
	t, ok := asType(value)
	if !ok {
		return vm.NewTypeError("__class__ must be set to a class, not '%s' object", value.typ.Name)
	}
	if !t.Heap || !o.typ.Heap {
		return vm.NewTypeError("__class__ assignment only supported for heap types")
	}
	if t.solidBase() != o.typ.solidBase() || t.HasInstanceDict != o.typ.HasInstanceDict {
		return vm.NewTypeError("__class__ assignment: '%s' object layout differs from '%s'", t.Name, o.typ.Name)
	}
	o.typ = t
	return nil
}

// ---------------------------------------------------------------------------
// Generic attribute access
// ---------------------------------------------------------------------------

// genericGetAttr looks name up with the descriptor protocol: data
// descriptors on the type win over the instance dictionary, which wins
// over other class attributes.
func genericGetAttr(vm *VM, o *Object, name string) (*Object, error) {
	t := o.typ
	descr := t.Lookup(name)
	var get func(vm *VM, descr, obj, owner *Object) (*Object, error)
	if descr != nil {
		if s := descr.typ.mroFindSlot(hasDescrGet); s != nil {
			get = s.DescrGet
			if descr.typ.mroFindSlot(hasDescrSet) != nil {
				return get(vm, descr, o, t.self)
			}
		}
	}
	if v := o.dict.GetStr(name); v != nil {
		return v, nil
	}
	if get != nil {
		return get(vm, descr, o, t.self)
	}
	if descr != nil {
		return descr, nil
	}
	return nil, vm.noAttribute(o, name)
}

func (vm *VM) noAttribute(o *Object, name string) error {
	exc := vm.NewAttributeError("'%s' object has no attribute '%s'", o.typ.Name, name)
	exc.obj.dict.SetStr(vm.Context, "name", vm.NewStr(name))
	exc.obj.dict.SetStr(vm.Context, "obj", o)
	return exc
}

// genericSetAttr stores into the instance dictionary unless a data
// descriptor on the type intercepts the assignment. A nil value deletes.
func genericSetAttr(vm *VM, o *Object, name string, value *Object) error {
	descr := o.typ.Lookup(name)
	if descr != nil {
		if s := descr.typ.mroFindSlot(hasDescrSet); s != nil {
			return s.DescrSet(vm, descr, o, value)
		}
	}
	if o.dict == nil {
		if descr == nil {
			return vm.noAttribute(o, name)
		}
		return vm.NewAttributeError("'%s' object attribute '%s' is read-only", o.typ.Name, name)
	}
	if value == nil {
		if !o.dict.DelStr(name) {
			return vm.noAttribute(o, name)
		}
		return nil
	}
	o.dict.SetStr(vm.Context, name, value)
	return nil
}

// ---------------------------------------------------------------------------
// type
// ---------------------------------------------------------------------------

// typeGetAttr resolves attributes of class objects: data descriptors of
// the metatype, then the class MRO, then other metatype attributes.
func typeGetAttr(vm *VM, o *Object, name string) (*Object, error) {
	t, ok := asType(o)
	if !ok {
		return nil, downcastError("type", o)
	}
	meta := o.typ
	metaAttr := meta.Lookup(name)
	var metaGet func(vm *VM, descr, obj, owner *Object) (*Object, error)
	if metaAttr != nil {
		if s := metaAttr.typ.mroFindSlot(hasDescrGet); s != nil {
			metaGet = s.DescrGet
			if metaAttr.typ.mroFindSlot(hasDescrSet) != nil {
				return metaGet(vm, metaAttr, o, meta.self)
			}
		}
	}
	if attr := t.Lookup(name); attr != nil {
		if s := attr.typ.mroFindSlot(hasDescrGet); s != nil {
			return s.DescrGet(vm, attr, nil, o)
		}
		return attr, nil
	}
	if metaGet != nil {
		return metaGet(vm, metaAttr, o, meta.self)
	}
	if metaAttr != nil {
		return metaAttr, nil
	}
	exc := vm.NewAttributeError("type object '%s' has no attribute '%s'", t.Name, name)
	exc.obj.dict.SetStr(vm.Context, "name", vm.NewStr(name))
	return nil, exc
}

// typeSetAttr updates a class dictionary and recomputes the slot the
// attribute feeds. Builtin types are immutable.
func typeSetAttr(vm *VM, o *Object, name string, value *Object) error {
	t, ok := asType(o)
	if !ok {
		return downcastError("type", o)
	}
	if metaAttr := o.typ.Lookup(name); metaAttr != nil {
		if s := metaAttr.typ.mroFindSlot(hasDescrSet); s != nil {
			return s.DescrSet(vm, metaAttr, o, value)
		}
	}
	if !t.Heap {
		return vm.NewTypeError("cannot set '%s' attribute of immutable type '%s'", name, t.Name)
	}
	if value == nil {
		if !t.self.dict.DelStr(name) {
			return vm.NewAttributeError("type object '%s' has no attribute '%s'", t.Name, name)
		}
	} else {
		t.self.dict.SetStr(vm.Context, name, value)
	}
	t.updateSlot(name)
	return nil
}

func typeRepr(vm *VM, o *Object) (string, error) {
	t, ok := asType(o)
	if !ok {
		return "", downcastError("type", o)
	}
	return "<class '" + t.FullName() + "'>", nil
}

// typeCall creates an instance: type(x) with a single argument returns the
// type of x; otherwise __new__ is called and, when it returns an instance
// of the class, __init__.
func typeCall(vm *VM, callee *Object, args Args) (*Object, error) {
	t, ok := asType(callee)
	if !ok {
		return nil, downcastError("type", callee)
	}
	if t == vm.TypeType && len(args.Pos) == 1 && len(args.Kw) == 0 {
		return args.Pos[0].typ.self, nil
	}
	s := t.mroFindSlot(hasNew)
	if s == nil {
		return nil, vm.NewTypeError("cannot create '%s' instances", t.Name)
	}
	obj, err := s.New(vm, t, args)
	if err != nil {
		return nil, err
	}
	if !obj.typ.IsSubtype(t) {
		return obj, nil
	}
	if s := obj.typ.mroFindSlot(hasInit); s != nil {
		if err := s.Init(vm, obj, args); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func typeInit(vm *VM, o *Object, args Args) error {
	if n := len(args.Pos); n != 1 && n != 3 {
		return vm.NewTypeError("type.__init__() takes 1 or 3 arguments")
	}
	return nil
}

// typeNew implements type(name, bases, dict, **kwds).
func typeNew(vm *VM, meta *Type, args Args) (*Object, error) {
	if meta == vm.TypeType && len(args.Pos) == 1 && len(args.Kw) == 0 {
		return args.Pos[0].typ.self, nil
	}
	if len(args.Pos) != 3 {
		return nil, vm.NewTypeError("type() takes 1 or 3 arguments")
	}
	name, ok := asStr(args.Pos[0])
	if !ok {
		return nil, vm.NewTypeError("type.__new__() argument 1 must be str, not %s", args.Pos[0].typ.Name)
	}
	baseItems, ok := asTuple(args.Pos[1])
	if !ok {
		return nil, vm.NewTypeError("type.__new__() argument 2 must be tuple, not %s", args.Pos[1].typ.Name)
	}
	ns, ok := asDict(args.Pos[2])
	if !ok {
		return nil, vm.NewTypeError("type.__new__() argument 3 must be dict, not %s", args.Pos[2].typ.Name)
	}
	bases := make([]*Type, len(baseItems))
	for i, b := range baseItems {
		bt, ok := asType(b)
		if !ok {
			return nil, vm.NewTypeError("bases must be types")
		}
		bases[i] = bt
	}
	winner, err := vm.calculateMetaclass(meta, bases)
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		bases = []*Type{vm.ObjectType}
	}
	return vm.newHeapType(winner, name, bases, ns.Copy(), args.Kw)
}

// calculateMetaclass returns the most derived metaclass among meta and the
// metaclasses of the bases.
func (vm *VM) calculateMetaclass(meta *Type, bases []*Type) (*Type, error) {
	winner := meta
	for _, b := range bases {
		bm := b.self.typ
		if winner.IsSubtype(bm) {
			continue
		}
		if bm.IsSubtype(winner) {
			winner = bm
			continue
		}
		return nil, vm.NewTypeError("metaclass conflict: the metaclass of a derived class must be a (non-strict) subclass of the metaclasses of all its bases")
	}
	return winner, nil
}

// bestBase picks the base whose instance layout every other base is
// compatible with.
func (vm *VM) bestBase(bases []*Type) (*Type, error) {
	var base, winner *Type
	for _, b := range bases {
		if b.Final {
			return nil, vm.NewTypeError("type '%s' is not an acceptable base type", b.Name)
		}
		candidate := b.solidBase()
		switch {
		case winner == nil:
			winner, base = candidate, b
		case winner.IsSubtype(candidate):
		case candidate.IsSubtype(winner):
			winner, base = candidate, b
		default:
			return nil, vm.NewTypeError("multiple bases have instance lay-out conflict")
		}
	}
	return base, nil
}

func (vm *VM) newHeapType(meta *Type, name string, bases []*Type, ns *Dict, kw []KwArg) (*Object, error) {
	base, err := vm.bestBase(bases)
	if err != nil {
		return nil, err
	}
	t := &Type{
		Name:            name,
		QualName:        name,
		Base:            base,
		Bases:           bases,
		Heap:            true,
		HasInstanceDict: true,
	}
	t.self = &Object{typ: meta, dict: ns, Payload: t}
	mro, ok := linearizeMRO(t, bases)
	if !ok {
		names := make([]string, len(bases))
		for i, b := range bases {
			names[i] = b.Name
		}
		return nil, vm.NewTypeError("Cannot create a consistent method resolution order (MRO) for bases %s",
			strings.Join(names, ", "))
	}
	t.MRO = mro

	if q := ns.GetStr("__qualname__"); q != nil {
		qs, ok := asStr(q)
		if !ok {
			return nil, vm.NewTypeError("type __qualname__ must be a str, not %s", q.typ.Name)
		}
		t.QualName = qs
		ns.DelStr("__qualname__")
	}
	if ns.GetStr("__module__") == nil {
		if f := vm.currentFrame(); f != nil {
			if m := f.Globals.GetStr("__name__"); m != nil {
				ns.SetStr(vm.Context, "__module__", m)
			}
		}
	}
	if ns.GetStr("__doc__") == nil {
		ns.SetStr(vm.Context, "__doc__", vm.None)
	}
	if f := ns.GetStr("__new__"); f != nil && f.typ == vm.FunctionType {
		ns.SetStr(vm.Context, "__new__", &Object{typ: vm.StaticMethodType, Payload: &StaticMethod{Func: f}})
	}
	for _, cm := range []string{"__init_subclass__", "__class_getitem__"} {
		if f := ns.GetStr(cm); f != nil && f.typ == vm.FunctionType {
			ns.SetStr(vm.Context, cm, &Object{typ: vm.ClassMethodType, Payload: &ClassMethod{Func: f}})
		}
	}
	if ns.GetStr("__eq__") != nil && ns.GetStr("__hash__") == nil {
		ns.SetStr(vm.Context, "__hash__", vm.None)
	}
	if t.Lookup("__dict__") == nil {
		ns.SetStr(vm.Context, "__dict__", vm.instanceDictDescriptor(t))
	}
	cell := ns.GetStr("__classcell__")
	if cell != nil {
		ns.DelStr("__classcell__")
	}

	t.initHeapSlots()
	for _, b := range bases {
		b.addSubclass(t)
	}

	if cell != nil {
		c, ok := cell.Payload.(*Cell)
		if !ok {
			return nil, vm.NewTypeError("__classcell__ must be a nonlocal cell, not %s", cell.typ.Name)
		}
		c.Value = t.self
	}

	var setNameErr error
	ns.Each(func(k, v *Object) {
		if setNameErr != nil {
			return
		}
		if _, _, err := vm.callSpecial(v, "__set_name__", t.self, k); err != nil {
			setNameErr = err
		}
	})
	if setNameErr != nil {
		return nil, setNameErr
	}

	if init := t.lookupAfter(t, "__init_subclass__"); init != nil {
		bound, err := vm.bindDescrOwner(init, t.self)
		if err != nil {
			return nil, err
		}
		if _, err := vm.Call(bound, Args{Kw: kw}); err != nil {
			return nil, err
		}
	}
	return t.self, nil
}

// bindDescrOwner applies the descriptor protocol to an attribute found on
// a class and accessed through that class.
func (vm *VM) bindDescrOwner(attr, owner *Object) (*Object, error) {
	if s := attr.typ.mroFindSlot(hasDescrGet); s != nil {
		return s.DescrGet(vm, attr, nil, owner)
	}
	return attr, nil
}

func (vm *VM) instanceDictDescriptor(owner *Type) *Object {
	gs := &GetSet{
		Name:  "__dict__",
		Owner: owner,
		Get: func(vm *VM, o *Object) (*Object, error) {
			if o.dict == nil {
				return nil, vm.noAttribute(o, "__dict__")
			}
			return vm.NewDict(o.dict), nil
		},
		Set: func(vm *VM, o *Object, value *Object) error {
			if value == nil {
				return vm.NewTypeError("cannot delete __dict__")
			}
			d, ok := asDict(value)
			if !ok {
				return vm.NewTypeError("__dict__ must be set to a dictionary, not a '%s'", value.typ.Name)
			}
			o.dict = d
			return nil
		},
	}
	return &Object{typ: vm.GetSetType, Payload: gs}
}

func typeOf(o *Object) *Type {
	return o.Payload.(*Type)
}

var typeGetSets = []getsetDef{
	{
		name: "__name__",
		get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewStr(typeOf(o).Name), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			return setTypeName(vm, o, value, func(t *Type, s string) { t.Name = s })
		},
	},
	{
		name: "__qualname__",
		get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewStr(typeOf(o).QualName), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			return setTypeName(vm, o, value, func(t *Type, s string) { t.QualName = s })
		},
	},
	{
		name: "__module__",
		get: func(vm *VM, o *Object) (*Object, error) {
			t := typeOf(o)
			if t.Heap {
				if m := t.self.dict.GetStr("__module__"); m != nil {
					return m, nil
				}
			}
			return vm.NewStr("builtins"), nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			return setTypeDictEntry(vm, o, "__module__", value)
		},
	},
	{
		name: "__doc__",
		get: func(vm *VM, o *Object) (*Object, error) {
			t := typeOf(o)
			if d := t.self.dict.GetStr("__doc__"); d != nil {
				return d, nil
			}
			if t.Doc != "" {
				return vm.NewStr(t.Doc), nil
			}
			return vm.None, nil
		},
		set: func(vm *VM, o *Object, value *Object) error {
			return setTypeDictEntry(vm, o, "__doc__", value)
		},
	},
	{
		name: "__bases__",
		get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewTuple(typeObjects(typeOf(o).Bases)), nil
		},
	},
	{
		name: "__base__",
		get: func(vm *VM, o *Object) (*Object, error) {
			if b := typeOf(o).Base; b != nil {
				return b.self, nil
			}
			return vm.None, nil
		},
	},
	{
		name: "__mro__",
		get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewTuple(typeObjects(typeOf(o).MRO)), nil
		},
	},
	{
		name: "__dict__",
		get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewDict(typeOf(o).self.dict.Copy()), nil
		},
	},
}

func setTypeName(vm *VM, o, value *Object, assign func(*Type, string)) error {
	t := typeOf(o)
	if !t.Heap {
		return vm.NewTypeError("cannot set '__name__' attribute of immutable type '%s'", t.Name)
	}
	s, ok := asStr(value)
	if value == nil || !ok {
		return vm.NewTypeError("can only assign string to %s.__name__", t.Name)
	}
	assign(t, s)
	return nil
}

func setTypeDictEntry(vm *VM, o *Object, name string, value *Object) error {
	t := typeOf(o)
	if !t.Heap {
		return vm.NewTypeError("cannot set '%s' attribute of immutable type '%s'", name, t.Name)
	}
	if value == nil {
		t.self.dict.DelStr(name)
		return nil
	}
	t.self.dict.SetStr(vm.Context, name, value)
	return nil
}

// ---------------------------------------------------------------------------
// Class statement
// ---------------------------------------------------------------------------

// buildClass implements __build_class__(func, name, *bases, metaclass=...,
// **kwds): choose the metaclass, prepare the namespace, run the class body
// in it and call the metaclass.
func buildClass(vm *VM, args Args) (*Object, error) {
	if len(args.Pos) < 2 {
		return nil, vm.NewTypeError("__build_class__: not enough arguments")
	}
	body, nameObj := args.Pos[0], args.Pos[1]
	fn, ok := body.Payload.(*Function)
	if !ok {
		return nil, vm.NewTypeError("__build_class__: func must be a function")
	}
	name, ok := asStr(nameObj)
	if !ok {
		return nil, vm.NewTypeError("__build_class__: name is not a string")
	}
	bases := args.Pos[2:]

	kw := args.Kw
	meta := args.Kwarg("metaclass")
	if meta != nil {
		kw = args.WithoutKwarg("metaclass").Kw
	} else if len(bases) > 0 {
		meta = bases[0].typ.self
	} else {
		meta = vm.TypeType.self
	}
	if mt, ok := asType(meta); ok {
		baseTypes := make([]*Type, 0, len(bases))
		for _, b := range bases {
			if bt, ok := asType(b); ok {
				baseTypes = append(baseTypes, bt)
			}
		}
		winner, err := vm.calculateMetaclass(mt, baseTypes)
		if err != nil {
			return nil, err
		}
		meta = winner.self
	}

	basesTuple := vm.NewTuple(append([]*Object(nil), bases...))
	ns := vm.NewDict(nil)
	if prep, err := vm.GetAttrOpt(meta, "__prepare__"); err != nil {
		return nil, err
	} else if prep != nil {
		ns, err = vm.Call(prep, Args{Pos: []*Object{nameObj, basesTuple}, Kw: kw})
		if err != nil {
			return nil, err
		}
	}

	cell, err := vm.runClassBody(fn, ns)
	if err != nil {
		return nil, err
	}
	if cell != vm.None {
		if err := vm.SetItem(ns, vm.NewStr("__classcell__"), cell); err != nil {
			return nil, err
		}
	}
	cls, err := vm.Call(meta, Args{Pos: []*Object{nameObj, basesTuple, ns}, Kw: kw})
	if err != nil {
		return nil, err
	}
	if c, ok := cell.Payload.(*Cell); ok && c.Value != cls && c.Value != nil {
		return nil, vm.NewTypeError("__class__ set to %s defining '%s' as %s",
			plainText(c.Value), name, plainText(cls))
	}
	return cls, nil
}
