package vm

import (
	"github.com/joomcode/errorx"

	"github.com/chazu/adder/pkg/bytecode"
)

const (
	cmpEq = bytecode.CmpEqual
	cmpNe = bytecode.CmpNotEqual
	cmpLt = bytecode.CmpLess
)

func isProtocolError(err error) bool {
	return err != nil && errorx.IsOfType(err, ErrProtocol)
}

// ---------------------------------------------------------------------------
// Conversion to text
// ---------------------------------------------------------------------------

// Repr returns repr(o).
func (vm *VM) Repr(o *Object) (string, error) {
	s := o.typ.mroFindSlot(hasRepr)
	if s == nil {
		return defaultRepr(o), nil
	}
	return withRecursion(vm, " while getting the repr of an object", func() (string, error) {
		return s.Repr(vm, o)
	})
}

// Str returns str(o).
func (vm *VM) Str(o *Object) (string, error) {
	if v, ok := asStr(o); ok && o.typ == vm.StrType {
		return v, nil
	}
	if s := o.typ.mroFindSlot(hasStr); s != nil {
		return s.Str(vm, o)
	}
	return vm.Repr(o)
}

// ReprObject returns repr(o) as a str object.
func (vm *VM) ReprObject(o *Object) (*Object, error) {
	s, err := vm.Repr(o)
	if err != nil {
		return nil, err
	}
	return vm.NewStr(s), nil
}

// StrObject returns str(o) as a str object.
func (vm *VM) StrObject(o *Object) (*Object, error) {
	if o.typ == vm.StrType {
		return o, nil
	}
	s, err := vm.Str(o)
	if err != nil {
		return nil, err
	}
	return vm.NewStr(s), nil
}

// Format applies format(v, spec).
func (vm *VM) Format(v *Object, spec string) (*Object, error) {
	if spec == "" && v.typ == vm.StrType {
		return v, nil
	}
	res, found, err := vm.callSpecial(v, "__format__", vm.NewStr(spec))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vm.NewTypeError("unsupported format string passed to %s.__format__", v.typ.Name)
	}
	if _, ok := asStr(res); !ok {
		return nil, vm.NewTypeError("__format__ must return a str, not %s", res.typ.Name)
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Hashing, truth and comparison
// ---------------------------------------------------------------------------

// Hash returns hash(o).
func (vm *VM) Hash(o *Object) (int64, error) {
	switch o.typ {
	case vm.StrType:
		return hashBytes(vm.hashSeed, []byte(o.Payload.(string))), nil
	case vm.IntType, vm.BoolType:
		return hashInt(o.Payload.(int64)), nil
	}
	s := o.typ.mroFindSlot(hasHash)
	if s == nil {
		return 0, vm.unhashable(o)
	}
	return s.Hash(vm, o)
}

func (vm *VM) unhashable(o *Object) error {
	return vm.NewTypeError("unhashable type: '%s'", o.typ.Name)
}

// Truthy returns bool(o).
func (vm *VM) Truthy(o *Object) (bool, error) {
	switch o {
	case vm.True:
		return true, nil
	case vm.False, vm.None:
		return false, nil
	}
	if s := o.typ.mroFindSlot(hasBool); s != nil {
		b, err := s.Number.Bool(vm, o)
		if !isProtocolError(err) {
			return b, err
		}
	}
	if s := o.typ.mroFindSlot(hasLen); s != nil {
		n, err := s.Mapping.Len(vm, o)
		if !isProtocolError(err) {
			return n > 0, err
		}
	}
	return true, nil
}

// RichCompare evaluates a rich comparison. A strict subclass of a's type
// on the right gets the first chance to answer with the swapped operator.
func (vm *VM) RichCompare(a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	if err := vm.enterRecursion(" in comparison"); err != nil {
		return nil, err
	}
	defer vm.leaveRecursion()

	checkedReverse := false
	if a.typ != b.typ && b.typ.IsSubtype(a.typ) {
		if s := b.typ.mroFindSlot(hasRichCompare); s != nil {
			checkedReverse = true
			res, err := s.RichCompare(vm, b, a, op.Swapped())
			if err != nil || res != vm.NotImplemented {
				return res, err
			}
		}
	}
	if s := a.typ.mroFindSlot(hasRichCompare); s != nil {
		res, err := s.RichCompare(vm, a, b, op)
		if err != nil || res != vm.NotImplemented {
			return res, err
		}
	}
	if !checkedReverse {
		if s := b.typ.mroFindSlot(hasRichCompare); s != nil {
			res, err := s.RichCompare(vm, b, a, op.Swapped())
			if err != nil || res != vm.NotImplemented {
				return res, err
			}
		}
	}
	switch op {
	case bytecode.CmpEqual:
		return vm.NewBool(a == b), nil
	case bytecode.CmpNotEqual:
		return vm.NewBool(a != b), nil
	}
	return nil, vm.NewTypeError("'%s' not supported between instances of '%s' and '%s'",
		op.Token(), a.typ.Name, b.typ.Name)
}

// RichCompareBool is RichCompare followed by a truth test. Identical
// objects compare equal without dispatch.
func (vm *VM) RichCompareBool(a, b *Object, op bytecode.ComparisonOperator) (bool, error) {
	if a == b {
		switch op {
		case bytecode.CmpEqual:
			return true, nil
		case bytecode.CmpNotEqual:
			return false, nil
		}
	}
	res, err := vm.RichCompare(a, b, op)
	if err != nil {
		return false, err
	}
	return vm.Truthy(res)
}

// Equal reports a == b.
func (vm *VM) Equal(a, b *Object) (bool, error) {
	return vm.RichCompareBool(a, b, cmpEq)
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// GetAttr returns o.name.
func (vm *VM) GetAttr(o *Object, name string) (*Object, error) {
	s := o.typ.mroFindSlot(hasGetAttro)
	if s == nil {
		return genericGetAttr(vm, o, name)
	}
	return s.GetAttro(vm, o, name)
}

// GetAttrOpt returns o.name, or nil when the lookup raises AttributeError.
func (vm *VM) GetAttrOpt(o *Object, name string) (*Object, error) {
	v, err := vm.GetAttr(o, name)
	if err != nil && vm.errorMatches(err, vm.Exceptions.AttributeError) {
		return nil, nil
	}
	return v, err
}

// SetAttr performs o.name = value.
func (vm *VM) SetAttr(o *Object, name string, value *Object) error {
	s := o.typ.mroFindSlot(hasSetAttro)
	if s == nil {
		return genericSetAttr(vm, o, name, value)
	}
	return s.SetAttro(vm, o, name, value)
}

// DelAttr performs del o.name.
func (vm *VM) DelAttr(o *Object, name string) error {
	return vm.SetAttr(o, name, nil)
}

// bindDescr applies the descriptor protocol to a class attribute found for
// obj.
func (vm *VM) bindDescr(attr, obj *Object) (*Object, error) {
	if s := attr.typ.mroFindSlot(hasDescrGet); s != nil {
		return s.DescrGet(vm, attr, obj, obj.typ.self)
	}
	return attr, nil
}

// callBound calls a class attribute as a method of self.
func (vm *VM) callBound(attr, self *Object, args ...*Object) (*Object, error) {
	return vm.callBoundArgs(attr, self, Args{Pos: args})
}

func (vm *VM) callBoundArgs(attr, self *Object, args Args) (*Object, error) {
	switch attr.typ {
	case vm.FunctionType:
		return vm.callFunction(attr, args.Prepend(self))
	case vm.MethodDescriptorType:
		return vm.callBuiltin(attr.Payload.(*BuiltinFunction), args.Prepend(self))
	}
	bound, err := vm.bindDescr(attr, self)
	if err != nil {
		return nil, err
	}
	return vm.Call(bound, args)
}

// callSpecial looks name up on the type of o, skipping the instance
// dictionary, and calls it as a method. found is false when the type does
// not define it.
func (vm *VM) callSpecial(o *Object, name string, args ...*Object) (res *Object, found bool, err error) {
	attr := o.typ.Lookup(name)
	if attr == nil {
		return nil, false, nil
	}
	res, err = vm.callBound(attr, o, args...)
	return res, true, err
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call invokes callable with args.
func (vm *VM) Call(callable *Object, args Args) (*Object, error) {
	s := callable.typ.mroFindSlot(hasCall)
	if s == nil {
		return nil, vm.NewTypeError("'%s' object is not callable", callable.typ.Name)
	}
	return s.Call(vm, callable, args)
}

// CallPositional invokes callable with positional arguments.
func (vm *VM) CallPositional(callable *Object, args ...*Object) (*Object, error) {
	return vm.Call(callable, Args{Pos: args})
}

// CallMethod looks up o.name and calls it.
func (vm *VM) CallMethod(o *Object, name string, args ...*Object) (*Object, error) {
	attr := o.typ.Lookup(name)
	if attr != nil && o.dict.GetStr(name) == nil {
		return vm.callBound(attr, o, args...)
	}
	m, err := vm.GetAttr(o, name)
	if err != nil {
		return nil, err
	}
	return vm.Call(m, Args{Pos: args})
}

// IsCallable reports whether o can be called.
func (vm *VM) IsCallable(o *Object) bool {
	return o.typ.mroFindSlot(hasCall) != nil
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// GetItem returns o[key].
func (vm *VM) GetItem(o, key *Object) (*Object, error) {
	if s := o.typ.mroFindSlot(hasGetItem); s != nil {
		v, err := s.Mapping.GetItem(vm, o, key)
		if !isProtocolError(err) {
			return v, err
		}
	}
	if t, ok := asType(o); ok {
		if m := t.Lookup("__class_getitem__"); m != nil {
			bound, err := vm.bindDescr(m, o)
			if err != nil {
				return nil, err
			}
			return vm.CallPositional(bound, key)
		}
		return nil, vm.NewTypeError("'type' object is not subscriptable")
	}
	return nil, vm.NewTypeError("'%s' object is not subscriptable", o.typ.Name)
}

// SetItem performs o[key] = value.
func (vm *VM) SetItem(o, key, value *Object) error {
	if s := o.typ.mroFindSlot(hasSetItem); s != nil {
		err := s.Mapping.SetItem(vm, o, key, value)
		if !isProtocolError(err) {
			return err
		}
	}
	return vm.NewTypeError("'%s' object does not support item assignment", o.typ.Name)
}

// DelItem performs del o[key].
func (vm *VM) DelItem(o, key *Object) error {
	if s := o.typ.mroFindSlot(hasSetItem); s != nil {
		err := s.Mapping.SetItem(vm, o, key, nil)
		if !isProtocolError(err) {
			return err
		}
	}
	return vm.NewTypeError("'%s' object does not support item deletion", o.typ.Name)
}

// Len returns len(o).
func (vm *VM) Len(o *Object) (int, error) {
	if s := o.typ.mroFindSlot(hasLen); s != nil {
		n, err := s.Mapping.Len(vm, o)
		if !isProtocolError(err) {
			return n, err
		}
	}
	return 0, vm.NewTypeError("object of type '%s' has no len()", o.typ.Name)
}

// Contains reports item in container, falling back to iteration.
func (vm *VM) Contains(container, item *Object) (bool, error) {
	if s := container.typ.mroFindSlot(hasContains); s != nil {
		ok, err := s.Sequence.Contains(vm, container, item)
		if !isProtocolError(err) {
			return ok, err
		}
	}
	if !vm.isIterable(container) {
		return false, vm.NewTypeError("argument of type '%s' is not iterable", container.typ.Name)
	}
	found := false
	err := vm.Iterate(container, func(x *Object) (bool, error) {
		eq, err := vm.Equal(x, item)
		if err != nil {
			return false, err
		}
		found = eq
		return !eq, nil
	})
	return found, err
}

func (vm *VM) isIterable(o *Object) bool {
	return o.typ.mroFindSlot(hasIter) != nil || o.typ.mroFindSlot(hasGetItem) != nil
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// Iter returns iter(o). Objects without __iter__ but with __getitem__ are
// iterated by index until IndexError.
func (vm *VM) Iter(o *Object) (*Object, error) {
	if s := o.typ.mroFindSlot(hasIter); s != nil {
		it, err := s.Iter(vm, o)
		if err == nil {
			if it.typ.mroFindSlot(hasIterNext) == nil {
				return nil, vm.NewTypeError("iter() returned non-iterator of type '%s'", it.typ.Name)
			}
			return it, nil
		}
		if !isProtocolError(err) {
			return nil, err
		}
	}
	if s := o.typ.mroFindSlot(hasGetItem); s != nil {
		return vm.sequenceIterator(o, s.Mapping.GetItem), nil
	}
	return nil, vm.NewTypeError("'%s' object is not iterable", o.typ.Name)
}

func (vm *VM) sequenceIterator(o *Object, getitem func(vm *VM, o, key *Object) (*Object, error)) *Object {
	i := int64(0)
	return vm.newIterator(func(vm *VM) (*Object, error) {
		v, err := getitem(vm, o, vm.NewInt(i))
		if err != nil {
			if vm.errorMatches(err, vm.Exceptions.IndexError) || vm.errorMatches(err, vm.Exceptions.StopIteration) {
				return nil, nil
			}
			if isProtocolError(err) {
				return nil, vm.NewTypeError("'%s' object is not iterable", o.typ.Name)
			}
			return nil, err
		}
		i++
		return v, nil
	})
}

// Next advances an iterator. It returns nil, nil when exhausted.
func (vm *VM) Next(it *Object) (*Object, error) {
	s := it.typ.mroFindSlot(hasIterNext)
	if s == nil {
		return nil, vm.NewTypeError("'%s' object is not an iterator", it.typ.Name)
	}
	return s.IterNext(vm, it)
}

// Iterate calls fn with each item of o until fn returns false or the
// iterator is exhausted.
func (vm *VM) Iterate(o *Object, fn func(item *Object) (bool, error)) error {
	switch p := o.Payload.(type) {
	case Tuple:
		if o.typ == vm.TupleType {
			for _, x := range p {
				if more, err := fn(x); err != nil || !more {
					return err
				}
			}
			return nil
		}
	case *List:
		if o.typ == vm.ListType {
			for i := 0; i < len(p.Items); i++ {
				if more, err := fn(p.Items[i]); err != nil || !more {
					return err
				}
			}
			return nil
		}
	}
	it, err := vm.Iter(o)
	if err != nil {
		return err
	}
	for {
		x, err := vm.Next(it)
		if err != nil || x == nil {
			return err
		}
		if more, err := fn(x); err != nil || !more {
			return err
		}
	}
}

// ToSlice collects the items of an iterable into a new slice.
func (vm *VM) ToSlice(o *Object) ([]*Object, error) {
	if items, ok := sequenceItems(o); ok && (o.typ == vm.TupleType || o.typ == vm.ListType) {
		return append([]*Object(nil), items...), nil
	}
	var out []*Object
	err := vm.Iterate(o, func(x *Object) (bool, error) {
		out = append(out, x)
		return true, nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// Index converts o to an integer through __index__.
func (vm *VM) Index(o *Object) (int64, error) {
	if v, ok := asInt(o); ok {
		return v, nil
	}
	if s := o.typ.mroFindSlot(hasIndex); s != nil {
		v, err := s.Number.Index(vm, o)
		if !isProtocolError(err) {
			return v, err
		}
	}
	return 0, vm.NewTypeError("'%s' object cannot be interpreted as an integer", o.typ.Name)
}

// ---------------------------------------------------------------------------
// Type relations
// ---------------------------------------------------------------------------

// IsInstance reports whether o is an instance of t or a subclass.
func (vm *VM) IsInstance(o *Object, t *Type) bool {
	return o.typ.IsSubtype(t)
}

// isInstanceOf implements isinstance(o, cls) where cls may be a tuple of
// classes.
func (vm *VM) isInstanceOf(o, cls *Object) (bool, error) {
	if t, ok := asType(cls); ok {
		return o.typ.IsSubtype(t), nil
	}
	if items, ok := asTuple(cls); ok {
		for _, c := range items {
			ok, err := vm.isInstanceOf(o, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, vm.NewTypeError("isinstance() arg 2 must be a type or tuple of types")
}

func (vm *VM) isSubclassOf(t *Type, cls *Object) (bool, error) {
	if c, ok := asType(cls); ok {
		return t.IsSubtype(c), nil
	}
	if items, ok := asTuple(cls); ok {
		for _, c := range items {
			ok, err := vm.isSubclassOf(t, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, vm.NewTypeError("issubclass() arg 2 must be a class or tuple of classes")
}
