package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Descriptors: property, staticmethod, classmethod, super, getset
// ---------------------------------------------------------------------------

func (c *Context) initDescriptors() {
	c.initProperty()
	c.initStaticAndClassMethod()
	c.initSuper()
	c.initGetSet()
}

// ---------------------------------------------------------------------------
// property
// ---------------------------------------------------------------------------

func propertyOf(o *Object) (*Property, error) {
	p, ok := o.Payload.(*Property)
	if !ok {
		return nil, downcastError("property", o)
	}
	return p, nil
}

func (c *Context) initProperty() {
	t := c.PropertyType
	t.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		return vm.newObject(cls, &Property{}), nil
	}
	t.Slots.Init = func(vm *VM, o *Object, args Args) error {
		p, err := propertyOf(o)
		if err != nil {
			return err
		}
		bound, err := vm.bindArgs("property", args, []string{"fget", "fset", "fdel", "doc"}, 0)
		if err != nil {
			return err
		}
		p.Get, p.Set, p.Del, p.Doc = noneToNil(vm, bound[0]), noneToNil(vm, bound[1]), noneToNil(vm, bound[2]), noneToNil(vm, bound[3])
		if p.Doc == nil && p.Get != nil {
			if d, err := vm.GetAttrOpt(p.Get, "__doc__"); err == nil && d != nil && d != vm.None {
				p.Doc = d
			}
		}
		return nil
	}
	t.Slots.DescrGet = func(vm *VM, descr, obj, owner *Object) (*Object, error) {
		if obj == nil {
			return descr, nil
		}
		p, err := propertyOf(descr)
		if err != nil {
			return nil, err
		}
		if p.Get == nil {
			return nil, vm.NewAttributeError("unreadable attribute")
		}
		return vm.CallPositional(p.Get, obj)
	}
	t.Slots.DescrSet = func(vm *VM, descr, obj, value *Object) error {
		p, err := propertyOf(descr)
		if err != nil {
			return err
		}
		if value == nil {
			if p.Del == nil {
				return vm.NewAttributeError("can't delete attribute")
			}
			_, err = vm.CallPositional(p.Del, obj)
			return err
		}
		if p.Set == nil {
			return vm.NewAttributeError("can't set attribute")
		}
		_, err = vm.CallPositional(p.Set, obj, value)
		return err
	}

	// getter, setter and deleter return a copy with one accessor replaced.
	copyWith := func(name string, update func(p *Property, fn *Object)) methodDef {
		return methodDef{name: name, fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs(name, args, 2, 2); err != nil {
				return nil, err
			}
			p, err := propertyOf(args.Pos[0])
			if err != nil {
				return nil, err
			}
			cp := *p
			update(&cp, noneToNil(vm, args.Pos[1]))
			return vm.newObject(args.Pos[0].typ, &cp), nil
		}}
	}
	c.addMethods(t, []methodDef{
		copyWith("getter", func(p *Property, fn *Object) { p.Get = fn }),
		copyWith("setter", func(p *Property, fn *Object) { p.Set = fn }),
		copyWith("deleter", func(p *Property, fn *Object) { p.Del = fn }),
	})
	accessor := func(name string, field func(p *Property) *Object) getsetDef {
		return getsetDef{name: name, get: func(vm *VM, o *Object) (*Object, error) {
			p, err := propertyOf(o)
			if err != nil {
				return nil, err
			}
			return orNone(vm, field(p)), nil
		}}
	}
	c.addGetSets(t, []getsetDef{
		accessor("fget", func(p *Property) *Object { return p.Get }),
		accessor("fset", func(p *Property) *Object { return p.Set }),
		accessor("fdel", func(p *Property) *Object { return p.Del }),
		{name: "__doc__", get: func(vm *VM, o *Object) (*Object, error) {
			p, err := propertyOf(o)
			if err != nil {
				return nil, err
			}
			return orNone(vm, p.Doc), nil
		}, set: func(vm *VM, o *Object, value *Object) error {
			p, err := propertyOf(o)
			if err != nil {
				return err
			}
			p.Doc = value
			return nil
		}},
	})
}

func noneToNil(vm *VM, o *Object) *Object {
	if o == vm.None {
		return nil
	}
	return o
}

// ---------------------------------------------------------------------------
// staticmethod and classmethod
// ---------------------------------------------------------------------------

func (c *Context) initStaticAndClassMethod() {
	st := c.StaticMethodType
	st.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		if err := vm.expectArgs("staticmethod", args, 1, 1); err != nil {
			return nil, err
		}
		return vm.newObject(cls, &StaticMethod{Func: args.Pos[0]}), nil
	}
	st.Slots.Init = func(vm *VM, o *Object, args Args) error { return nil }
	st.Slots.DescrGet = func(vm *VM, descr, obj, owner *Object) (*Object, error) {
		sm, ok := descr.Payload.(*StaticMethod)
		if !ok {
			return nil, downcastError("staticmethod", descr)
		}
		return sm.Func, nil
	}
	c.addGetSets(st, []getsetDef{{name: "__func__", get: func(vm *VM, o *Object) (*Object, error) {
		return o.Payload.(*StaticMethod).Func, nil
	}}})

	ct := c.ClassMethodType
	ct.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		if err := vm.expectArgs("classmethod", args, 1, 1); err != nil {
			return nil, err
		}
		return vm.newObject(cls, &ClassMethod{Func: args.Pos[0]}), nil
	}
	ct.Slots.Init = func(vm *VM, o *Object, args Args) error { return nil }
	ct.Slots.DescrGet = func(vm *VM, descr, obj, owner *Object) (*Object, error) {
		cm, ok := descr.Payload.(*ClassMethod)
		if !ok {
			return nil, downcastError("classmethod", descr)
		}
		if owner == nil {
			owner = obj.typ.self
		}
		return vm.NewBoundMethod(cm.Func, owner), nil
	}
	c.addGetSets(ct, []getsetDef{{name: "__func__", get: func(vm *VM, o *Object) (*Object, error) {
		return o.Payload.(*ClassMethod).Func, nil
	}}})
}

// ---------------------------------------------------------------------------
// super
// ---------------------------------------------------------------------------

func superOf(o *Object) (*Super, error) {
	s, ok := o.Payload.(*Super)
	if !ok {
		return nil, downcastError("super", o)
	}
	return s, nil
}

func (c *Context) initSuper() {
	t := c.SuperType
	t.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		return vm.newObject(cls, &Super{}), nil
	}
	t.Slots.Init = superInit
	t.Slots.GetAttro = superGetAttr
	t.Slots.DescrGet = func(vm *VM, descr, obj, owner *Object) (*Object, error) {
		s, err := superOf(descr)
		if err != nil {
			return nil, err
		}
		if obj == nil || s.Obj != nil {
			return descr, nil
		}
		return vm.Call(descr.typ.self, PosArgs(s.Type.self, obj))
	}
	t.Slots.Repr = func(vm *VM, o *Object) (string, error) {
		s, err := superOf(o)
		if err != nil {
			return "", err
		}
		if s.ObjType == nil {
			return fmt.Sprintf("<super: <class '%s'>, NULL>", s.Type.Name), nil
		}
		return fmt.Sprintf("<super: <class '%s'>, <%s object>>", s.Type.Name, s.ObjType.Name), nil
	}
	field := func(name string, get func(vm *VM, s *Super) *Object) getsetDef {
		return getsetDef{name: name, get: func(vm *VM, o *Object) (*Object, error) {
			s, err := superOf(o)
			if err != nil {
				return nil, err
			}
			return orNone(vm, get(vm, s)), nil
		}}
	}
	c.addGetSets(t, []getsetDef{
		field("__thisclass__", func(vm *VM, s *Super) *Object { return typeObject(s.Type) }),
		field("__self__", func(vm *VM, s *Super) *Object { return s.Obj }),
		field("__self_class__", func(vm *VM, s *Super) *Object { return typeObject(s.ObjType) }),
	})
}

func typeObject(t *Type) *Object {
	if t == nil {
		return nil
	}
	return t.self
}

func superInit(vm *VM, o *Object, args Args) error {
	s, err := superOf(o)
	if err != nil {
		return err
	}
	if err := vm.expectArgs("super", args, 0, 2); err != nil {
		return err
	}
	var typ, obj *Object
	if len(args.Pos) == 0 {
		if typ, obj, err = vm.implicitSuperArgs(); err != nil {
			return err
		}
	} else {
		typ = args.Pos[0]
		if len(args.Pos) > 1 && args.Pos[1] != vm.None {
			obj = args.Pos[1]
		}
	}
	t, ok := asType(typ)
	if !ok {
		return vm.NewTypeError("super() argument 1 must be type, not %s", typ.typ.Name)
	}
	s.Type, s.Obj, s.ObjType = t, nil, nil
	if obj == nil {
		return nil
	}
	objType, err := vm.superCheck(t, obj)
	if err != nil {
		return err
	}
	s.Obj, s.ObjType = obj, objType
	return nil
}

// implicitSuperArgs recovers the arguments of a zero-argument super() call
// from the calling frame: the __class__ cell and the first argument.
func (vm *VM) implicitSuperArgs() (typ, obj *Object, err error) {
	f := vm.currentFrame()
	if f == nil {
		return nil, nil, vm.NewRuntimeError("super(): no current frame")
	}
	code := f.Code
	if code.ArgCount == 0 {
		return nil, nil, vm.NewRuntimeError("super(): no arguments")
	}
	obj = f.fastlocals[0]
	if obj == nil {
		for i, arg := range code.Cell2Arg {
			if arg == 0 {
				obj = f.cellsFrees[i].Payload.(*Cell).Value
				break
			}
		}
	}
	if obj == nil {
		return nil, nil, vm.NewRuntimeError("super(): arg[0] deleted")
	}
	i := slices.Index(code.Freevars, "__class__")
	if i < 0 {
		return nil, nil, vm.NewRuntimeError("super(): __class__ cell not found")
	}
	typ = f.cellsFrees[len(code.Cellvars)+i].Payload.(*Cell).Value
	if typ == nil {
		return nil, nil, vm.NewRuntimeError("super(): empty __class__ cell")
	}
	if _, ok := asType(typ); !ok {
		return nil, nil, vm.NewRuntimeError("super(): __class__ is not a type (%s)", typ.typ.Name)
	}
	return typ, obj, nil
}

// superCheck returns the type whose MRO a super object searches.
func (vm *VM) superCheck(t *Type, obj *Object) (*Type, error) {
	if ot, ok := asType(obj); ok && ot.IsSubtype(t) {
		return ot, nil
	}
	if obj.typ.IsSubtype(t) {
		return obj.typ, nil
	}
	if cls, err := vm.GetAttrOpt(obj, "__class__"); err == nil && cls != nil {
		if ct, ok := asType(cls); ok && ct != obj.typ && ct.IsSubtype(t) {
			return ct, nil
		}
	}
	return nil, vm.NewTypeError("super(type, obj): obj must be an instance or subtype of type")
}

func superGetAttr(vm *VM, o *Object, name string) (*Object, error) {
	s, err := superOf(o)
	if err != nil {
		return nil, err
	}
	if s.ObjType == nil || name == "__class__" {
		return genericGetAttr(vm, o, name)
	}
	attr := s.ObjType.lookupAfter(s.Type, name)
	if attr == nil {
		return genericGetAttr(vm, o, name)
	}
	if d := attr.typ.mroFindSlot(hasDescrGet); d != nil {
		obj := s.Obj
		if obj == s.ObjType.self {
			obj = nil
		}
		return d.DescrGet(vm, attr, obj, s.ObjType.self)
	}
	return attr, nil
}

// ---------------------------------------------------------------------------
// getset_descriptor
// ---------------------------------------------------------------------------

func (c *Context) initGetSet() {
	t := c.GetSetType
	t.Slots.DescrGet = func(vm *VM, descr, obj, owner *Object) (*Object, error) {
		gs := descr.Payload.(*GetSet)
		if obj == nil {
			return descr, nil
		}
		if !obj.typ.IsSubtype(gs.Owner) {
			return nil, vm.NewTypeError("descriptor '%s' for '%s' objects doesn't apply to a '%s' object",
				gs.Name, gs.Owner.Name, obj.typ.Name)
		}
		return gs.Get(vm, obj)
	}
	t.Slots.DescrSet = func(vm *VM, descr, obj, value *Object) error {
		gs := descr.Payload.(*GetSet)
		if !obj.typ.IsSubtype(gs.Owner) {
			return vm.NewTypeError("descriptor '%s' for '%s' objects doesn't apply to a '%s' object",
				gs.Name, gs.Owner.Name, obj.typ.Name)
		}
		if gs.Set == nil {
			if value == nil {
				return vm.NewAttributeError("attribute '%s' of '%s' objects is not deletable", gs.Name, gs.Owner.Name)
			}
			return vm.NewAttributeError("attribute '%s' of '%s' objects is not writable", gs.Name, gs.Owner.Name)
		}
		return gs.Set(vm, obj, value)
	}
	t.Slots.Repr = func(vm *VM, o *Object) (string, error) {
		gs := o.Payload.(*GetSet)
		return fmt.Sprintf("<attribute '%s' of '%s' objects>", gs.Name, gs.Owner.Name), nil
	}
	c.addGetSets(t, []getsetDef{
		{name: "__name__", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewStr(o.Payload.(*GetSet).Name), nil
		}},
		{name: "__objclass__", get: func(vm *VM, o *Object) (*Object, error) {
			return o.Payload.(*GetSet).Owner.self, nil
		}},
	})
}
