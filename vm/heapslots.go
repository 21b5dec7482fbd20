package vm

import (
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Heap slots: dispatch from a slot to the special method found by name
// ---------------------------------------------------------------------------

// The heap wrappers below are installed on classes defined at run time.
// Each looks its special method up along the MRO of the receiver's type,
// so overriding in a subclass and inheriting from a builtin both work.

func heapHash(vm *VM, o *Object) (int64, error) {
	m := o.typ.Lookup("__hash__")
	if m == nil || m == vm.None {
		return 0, vm.unhashable(o)
	}
	res, err := vm.callBound(m, o)
	if err != nil {
		return 0, err
	}
	v, ok := asInt(res)
	if !ok {
		return 0, vm.NewTypeError("__hash__ method should return an integer")
	}
	if v == -1 {
		v = -2
	}
	return v, nil
}

func heapRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	m := a.typ.Lookup(op.Method())
	if m == nil || m == vm.None {
		return vm.NotImplemented, nil
	}
	return vm.callBound(m, a, b)
}

func heapCall(vm *VM, callee *Object, args Args) (*Object, error) {
	m := callee.typ.Lookup("__call__")
	if m == nil || m == vm.None {
		return nil, vm.NewTypeError("'%s' object is not callable", callee.typ.Name)
	}
	return vm.callBoundArgs(m, callee, args)
}

func heapGetAttro(vm *VM, o *Object, name string) (*Object, error) {
	var res *Object
	var err error
	ga := o.typ.Lookup("__getattribute__")
	if ga == nil || ga == vm.ObjectType.Dict().GetStr("__getattribute__") {
		res, err = genericGetAttr(vm, o, name)
	} else {
		res, err = vm.callBound(ga, o, vm.NewStr(name))
	}
	if err != nil && vm.errorMatches(err, vm.Exceptions.AttributeError) {
		if g := o.typ.Lookup("__getattr__"); g != nil {
			return vm.callBound(g, o, vm.NewStr(name))
		}
	}
	return res, err
}

func heapSetAttro(vm *VM, o *Object, name string, value *Object) error {
	var err error
	if value == nil {
		m := o.typ.Lookup("__delattr__")
		if m == nil {
			return genericSetAttr(vm, o, name, nil)
		}
		_, err = vm.callBound(m, o, vm.NewStr(name))
	} else {
		m := o.typ.Lookup("__setattr__")
		if m == nil {
			return genericSetAttr(vm, o, name, value)
		}
		_, err = vm.callBound(m, o, vm.NewStr(name), value)
	}
	return err
}

func heapIter(vm *VM, o *Object) (*Object, error) {
	m := o.typ.Lookup("__iter__")
	if m == nil {
		return nil, protocolError("__iter__", o)
	}
	if m == vm.None {
		return nil, vm.NewTypeError("'%s' object is not iterable", o.typ.Name)
	}
	return vm.callBound(m, o)
}

func heapIterNext(vm *VM, o *Object) (*Object, error) {
	m := o.typ.Lookup("__next__")
	if m == nil {
		return nil, vm.NewTypeError("'%s' object is not an iterator", o.typ.Name)
	}
	res, err := vm.callBound(m, o)
	if err != nil && vm.errorMatches(err, vm.Exceptions.StopIteration) {
		return nil, nil
	}
	return res, err
}

func heapDescrGet(vm *VM, descr, obj, owner *Object) (*Object, error) {
	m := descr.typ.Lookup("__get__")
	if m == nil {
		return descr, nil
	}
	if obj == nil {
		obj = vm.None
	}
	if owner == nil {
		owner = vm.None
	}
	return vm.callBound(m, descr, obj, owner)
}

func heapDescrSet(vm *VM, descr, obj, value *Object) error {
	var err error
	if value == nil {
		m := descr.typ.Lookup("__delete__")
		if m == nil {
			return vm.NewAttributeError("__delete__")
		}
		_, err = vm.callBound(m, descr, obj)
	} else {
		m := descr.typ.Lookup("__set__")
		if m == nil {
			return vm.NewAttributeError("__set__")
		}
		_, err = vm.callBound(m, descr, obj, value)
	}
	return err
}

func heapNew(vm *VM, cls *Type, args Args) (*Object, error) {
	m := cls.Lookup("__new__")
	if m == nil {
		return nil, vm.NewTypeError("cannot create '%s' instances", cls.Name)
	}
	if sm, ok := m.Payload.(*StaticMethod); ok {
		m = sm.Func
	}
	return vm.Call(m, args.Prepend(cls.self))
}

func heapInit(vm *VM, o *Object, args Args) error {
	m := o.typ.Lookup("__init__")
	if m == nil {
		return nil
	}
	res, err := vm.callBoundArgs(m, o, args)
	if err != nil {
		return err
	}
	if res != vm.None {
		return vm.NewTypeError("__init__() should return None, not '%s'", res.typ.Name)
	}
	return nil
}

func heapDel(vm *VM, o *Object) error {
	_, _, err := vm.callSpecial(o, "__del__")
	return err
}

func heapRepr(vm *VM, o *Object) (string, error) {
	return heapText(vm, o, "__repr__")
}

func heapStr(vm *VM, o *Object) (string, error) {
	return heapText(vm, o, "__str__")
}

func heapText(vm *VM, o *Object, name string) (string, error) {
	res, found, err := vm.callSpecial(o, name)
	if err != nil {
		return "", err
	}
	if !found {
		return defaultRepr(o), nil
	}
	s, ok := asStr(res)
	if !ok {
		return "", vm.NewTypeError("%s returned non-string (type %s)", name, res.typ.Name)
	}
	return s, nil
}

var heapNumberSlots = &NumberSlots{
	Binary: func(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
		name := op.Method()
		if reflected {
			name = op.ReflectedMethod()
		}
		res, found, err := vm.callSpecial(self, name, other)
		if !found {
			return vm.NotImplemented, nil
		}
		return res, err
	},
	Inplace: func(vm *VM, self, other *Object, op bytecode.BinaryOperator) (*Object, error) {
		res, found, err := vm.callSpecial(self, op.InplaceMethod(), other)
		if !found {
			return vm.NotImplemented, nil
		}
		return res, err
	},
	Unary: func(vm *VM, self *Object, op bytecode.UnaryOperator) (*Object, error) {
		name := unaryMethods[op]
		res, found, err := vm.callSpecial(self, name)
		if !found {
			return nil, protocolError(name, self)
		}
		return res, err
	},
	Bool: func(vm *VM, self *Object) (bool, error) {
		res, found, err := vm.callSpecial(self, "__bool__")
		if !found {
			return false, protocolError("__bool__", self)
		}
		if err != nil {
			return false, err
		}
		if res.typ != vm.BoolType {
			return false, vm.NewTypeError("__bool__ should return bool, returned %s", res.typ.Name)
		}
		return res == vm.True, nil
	},
	Index: func(vm *VM, self *Object) (int64, error) {
		res, found, err := vm.callSpecial(self, "__index__")
		if !found {
			return 0, protocolError("__index__", self)
		}
		if err != nil {
			return 0, err
		}
		v, ok := asInt(res)
		if !ok {
			return 0, vm.NewTypeError("__index__ returned non-int (type %s)", res.typ.Name)
		}
		return v, nil
	},
	Int: func(vm *VM, self *Object) (*Object, error) {
		res, found, err := vm.callSpecial(self, "__int__")
		if !found {
			return nil, protocolError("__int__", self)
		}
		if err != nil {
			return nil, err
		}
		if _, ok := asInt(res); !ok {
			return nil, vm.NewTypeError("__int__ returned non-int (type %s)", res.typ.Name)
		}
		return res, nil
	},
	Float: func(vm *VM, self *Object) (float64, error) {
		res, found, err := vm.callSpecial(self, "__float__")
		if !found {
			return 0, protocolError("__float__", self)
		}
		if err != nil {
			return 0, err
		}
		f, ok := asFloat(res)
		if !ok {
			return 0, vm.NewTypeError("%s.__float__ returned non-float (type %s)", self.typ.Name, res.typ.Name)
		}
		return f, nil
	},
}

var unaryMethods = map[bytecode.UnaryOperator]string{
	bytecode.OpMinus:  "__neg__",
	bytecode.OpPlus:   "__pos__",
	bytecode.OpInvert: "__invert__",
}

var heapMappingSlots = &MappingSlots{
	Len: func(vm *VM, o *Object) (int, error) {
		res, found, err := vm.callSpecial(o, "__len__")
		if !found {
			return 0, protocolError("__len__", o)
		}
		if err != nil {
			return 0, err
		}
		n, err := vm.Index(res)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, vm.NewValueError("__len__() should return >= 0")
		}
		return int(n), nil
	},
	GetItem: func(vm *VM, o, key *Object) (*Object, error) {
		res, found, err := vm.callSpecial(o, "__getitem__", key)
		if !found {
			return nil, protocolError("__getitem__", o)
		}
		return res, err
	},
	SetItem: func(vm *VM, o, key, value *Object) error {
		var found bool
		var err error
		if value == nil {
			_, found, err = vm.callSpecial(o, "__delitem__", key)
		} else {
			_, found, err = vm.callSpecial(o, "__setitem__", key, value)
		}
		if !found {
			return protocolError("__setitem__", o)
		}
		return err
	},
}

var heapSequenceSlots = &SequenceSlots{
	Contains: func(vm *VM, o, item *Object) (bool, error) {
		res, found, err := vm.callSpecial(o, "__contains__", item)
		if !found {
			return false, protocolError("__contains__", o)
		}
		if err != nil {
			return false, err
		}
		return vm.Truthy(res)
	},
}

// ---------------------------------------------------------------------------
// Slot wrappers: special methods of builtin types, callable by name
// ---------------------------------------------------------------------------

// addSlotWrappers publishes the slots a builtin type defines itself as
// method descriptors, so int.__add__, object.__init__ and
// super().__eq__ resolve like any other attribute. Names already present in
// the type dictionary are left alone.
func (c *Context) addSlotWrappers(t *Type) {
	s := &t.Slots
	add := func(name string, fn BuiltinFn) {
		if t.self.dict.GetStr(name) == nil {
			t.self.dict.SetStr(c, name, c.newMethodDescriptor(t, name, fn))
		}
	}

	if slot := s.Hash; slot != nil {
		add("__hash__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__hash__", args, 1, 1); err != nil {
				return nil, err
			}
			h, err := slot(vm, args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewInt(h), nil
		})
	}
	if slot := s.RichCompare; slot != nil {
		for op := bytecode.CmpLess; op <= bytecode.CmpGreaterOrEqual; op++ {
			add(op.Method(), func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs(op.Method(), args, 2, 2); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], args.Pos[1], op)
			})
		}
	}
	if slot := s.Call; slot != nil {
		add("__call__", func(vm *VM, args Args) (*Object, error) {
			return slot(vm, args.Pos[0], Args{Pos: args.Pos[1:], Kw: args.Kw})
		})
	}
	if slot := s.GetAttro; slot != nil {
		add("__getattribute__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__getattribute__", args, 2, 2); err != nil {
				return nil, err
			}
			name, err := vm.attrName(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return slot(vm, args.Pos[0], name)
		})
	}
	if slot := s.SetAttro; slot != nil {
		add("__setattr__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__setattr__", args, 3, 3); err != nil {
				return nil, err
			}
			name, err := vm.attrName(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return vm.None, slot(vm, args.Pos[0], name, args.Pos[2])
		})
		add("__delattr__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__delattr__", args, 2, 2); err != nil {
				return nil, err
			}
			name, err := vm.attrName(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return vm.None, slot(vm, args.Pos[0], name, nil)
		})
	}
	if slot := s.Iter; slot != nil {
		add("__iter__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__iter__", args, 1, 1); err != nil {
				return nil, err
			}
			return slot(vm, args.Pos[0])
		})
	}
	if slot := s.IterNext; slot != nil {
		add("__next__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__next__", args, 1, 1); err != nil {
				return nil, err
			}
			v, err := slot(vm, args.Pos[0])
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, vm.NewStopIteration(nil)
			}
			return v, nil
		})
	}
	if slot := s.DescrGet; slot != nil {
		add("__get__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__get__", args, 2, 3); err != nil {
				return nil, err
			}
			obj := args.Pos[1]
			var owner *Object
			if len(args.Pos) == 3 && args.Pos[2] != vm.None {
				owner = args.Pos[2]
			}
			if obj == vm.None {
				if owner == nil {
					return nil, vm.NewTypeError("__get__(None, None) is invalid")
				}
				obj = nil
			}
			if owner == nil {
				owner = obj.typ.self
			}
			return slot(vm, args.Pos[0], obj, owner)
		})
	}
	if slot := s.DescrSet; slot != nil {
		add("__set__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__set__", args, 3, 3); err != nil {
				return nil, err
			}
			return vm.None, slot(vm, args.Pos[0], args.Pos[1], args.Pos[2])
		})
		add("__delete__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__delete__", args, 2, 2); err != nil {
				return nil, err
			}
			return vm.None, slot(vm, args.Pos[0], args.Pos[1], nil)
		})
	}
	if slot := s.New; slot != nil && t.self.dict.GetStr("__new__") == nil {
		fn := c.NewBuiltinFunction("__new__", func(vm *VM, args Args) (*Object, error) {
			if len(args.Pos) == 0 {
				return nil, vm.NewTypeError("%s.__new__(): not enough arguments", t.Name)
			}
			cls, ok := asType(args.Pos[0])
			if !ok {
				return nil, vm.NewTypeError("%s.__new__(X): X is not a type object (%s)", t.Name, args.Pos[0].typ.Name)
			}
			if !cls.IsSubtype(t) {
				return nil, vm.NewTypeError("%s.__new__(%s): %s is not a subtype of %s", t.Name, cls.Name, cls.Name, t.Name)
			}
			return slot(vm, cls, Args{Pos: args.Pos[1:], Kw: args.Kw})
		})
		t.self.dict.SetStr(c, "__new__", fn)
	}
	if slot := s.Init; slot != nil {
		add("__init__", func(vm *VM, args Args) (*Object, error) {
			if len(args.Pos) == 0 {
				return nil, vm.NewTypeError("descriptor '__init__' needs an argument")
			}
			return vm.None, slot(vm, args.Pos[0], Args{Pos: args.Pos[1:], Kw: args.Kw})
		})
	}
	if slot := s.Repr; slot != nil {
		add("__repr__", textWrapper("__repr__", slot))
	}
	if slot := s.Str; slot != nil {
		add("__str__", textWrapper("__str__", slot))
	}
	if n := s.Number; n != nil {
		c.addNumberWrappers(t, n, add)
	}
	if m := s.Mapping; m != nil {
		if slot := m.Len; slot != nil {
			add("__len__", func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs("__len__", args, 1, 1); err != nil {
					return nil, err
				}
				n, err := slot(vm, args.Pos[0])
				if err != nil {
					return nil, err
				}
				return vm.NewInt(int64(n)), nil
			})
		}
		if slot := m.GetItem; slot != nil {
			add("__getitem__", func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs("__getitem__", args, 2, 2); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], args.Pos[1])
			})
		}
		if slot := m.SetItem; slot != nil {
			add("__setitem__", func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs("__setitem__", args, 3, 3); err != nil {
					return nil, err
				}
				return vm.None, slot(vm, args.Pos[0], args.Pos[1], args.Pos[2])
			})
			add("__delitem__", func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs("__delitem__", args, 2, 2); err != nil {
					return nil, err
				}
				return vm.None, slot(vm, args.Pos[0], args.Pos[1], nil)
			})
		}
	}
	if sq := s.Sequence; sq != nil && sq.Contains != nil {
		slot := sq.Contains
		add("__contains__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__contains__", args, 2, 2); err != nil {
				return nil, err
			}
			ok, err := slot(vm, args.Pos[0], args.Pos[1])
			if err != nil {
				return nil, err
			}
			return vm.NewBool(ok), nil
		})
	}
}

func textWrapper(name string, slot func(vm *VM, o *Object) (string, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		s, err := slot(vm, args.Pos[0])
		if err != nil {
			return nil, err
		}
		return vm.NewStr(s), nil
	}
}

func (c *Context) addNumberWrappers(t *Type, n *NumberSlots, add func(string, BuiltinFn)) {
	if slot := n.Binary; slot != nil {
		for op := bytecode.OpPower; op <= bytecode.OpOr; op++ {
			add(op.Method(), func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs(op.Method(), args, 2, 2); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], args.Pos[1], op, false)
			})
			add(op.ReflectedMethod(), func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs(op.ReflectedMethod(), args, 2, 2); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], args.Pos[1], op, true)
			})
		}
	}
	if slot := n.Inplace; slot != nil {
		for op := bytecode.OpPower; op <= bytecode.OpOr; op++ {
			add(op.InplaceMethod(), func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs(op.InplaceMethod(), args, 2, 2); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], args.Pos[1], op)
			})
		}
	}
	if slot := n.Unary; slot != nil {
		for op, name := range unaryMethods {
			add(name, func(vm *VM, args Args) (*Object, error) {
				if err := vm.expectArgs(name, args, 1, 1); err != nil {
					return nil, err
				}
				return slot(vm, args.Pos[0], op)
			})
		}
	}
	if slot := n.Bool; slot != nil {
		add("__bool__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__bool__", args, 1, 1); err != nil {
				return nil, err
			}
			b, err := slot(vm, args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewBool(b), nil
		})
	}
	if slot := n.Index; slot != nil {
		add("__index__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__index__", args, 1, 1); err != nil {
				return nil, err
			}
			v, err := slot(vm, args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewInt(v), nil
		})
	}
	if slot := n.Int; slot != nil {
		add("__int__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__int__", args, 1, 1); err != nil {
				return nil, err
			}
			return slot(vm, args.Pos[0])
		})
	}
	if slot := n.Float; slot != nil {
		add("__float__", func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__float__", args, 1, 1); err != nil {
				return nil, err
			}
			f, err := slot(vm, args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewFloat(f), nil
		})
	}
}
