package vm

import (
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// dict
// ---------------------------------------------------------------------------

func (c *Context) initDicts() {
	d := c.DictType
	d.Doc = "dict() -> new empty dictionary\ndict(mapping) -> new dictionary initialized from a mapping object's\n    (key, value) pairs\ndict(**kwargs) -> new dictionary initialized with the name=value pairs"
	d.Slots = TypeSlots{
		RichCompare: dictRichCompare,
		New: func(vm *VM, cls *Type, args Args) (*Object, error) {
			return vm.newObject(cls, NewDict()), nil
		},
		Init: dictInit,
		Repr: dictRepr,
		Iter: func(vm *VM, o *Object) (*Object, error) {
			return vm.dictIterator(o.Payload.(*Dict), func(k, _ *Object) *Object { return k }), nil
		},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return o.Payload.(*Dict).Len(), nil },
			GetItem: dictGetItem,
			SetItem: dictSetItem,
		},
		Sequence: &SequenceSlots{
			Contains: func(vm *VM, o, key *Object) (bool, error) { return o.Payload.(*Dict).Contains(vm, key) },
		},
	}
	c.markUnhashable(d)
	c.addMethods(d, []methodDef{
		{name: "keys", fn: dictMethod("keys", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			return vm.NewList(d.Keys()), nil
		})},
		{name: "values", fn: dictMethod("values", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			return vm.NewList(d.Values()), nil
		})},
		{name: "items", fn: dictMethod("items", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			out := make([]*Object, 0, d.Len())
			d.Each(func(k, v *Object) {
				out = append(out, vm.NewTuple([]*Object{k, v}))
			})
			return vm.NewList(out), nil
		})},
		{name: "get", fn: dictMethod("get", 1, 2, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			v, err := d.GetItem(vm, args[0])
			if err != nil || v != nil {
				return v, err
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return vm.None, nil
		})},
		{name: "setdefault", fn: dictMethod("setdefault", 1, 2, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			v, err := d.GetItem(vm, args[0])
			if err != nil || v != nil {
				return v, err
			}
			def := vm.None
			if len(args) == 2 {
				def = args[1]
			}
			return def, d.SetItem(vm, args[0], def)
		})},
		{name: "pop", fn: dictMethod("pop", 1, 2, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			v, err := d.GetItem(vm, args[0])
			if err != nil {
				return nil, err
			}
			if v == nil {
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, vm.NewKeyError(args[0])
			}
			_, err = d.DelItem(vm, args[0])
			return v, err
		})},
		{name: "popitem", fn: dictMethod("popitem", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			k, v, ok := d.PopLast()
			if !ok {
				return nil, vm.newError(vm.Exceptions.KeyError, "popitem(): dictionary is empty")
			}
			return vm.NewTuple([]*Object{k, v}), nil
		})},
		{name: "update", fn: func(vm *VM, args Args) (*Object, error) {
			d, err := receiver[*Dict](vm, args, "dict")
			if err != nil {
				return nil, err
			}
			if err := vm.expectPositional("update", args, 1, 2); err != nil {
				return nil, err
			}
			return vm.None, vm.dictUpdate(d, args.Pos[1:], args.Kw)
		}},
		{name: "clear", fn: dictMethod("clear", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			d.Clear()
			return vm.None, nil
		})},
		{name: "copy", fn: dictMethod("copy", 0, 0, func(vm *VM, d *Dict, args []*Object) (*Object, error) {
			return vm.NewDict(d.Copy()), nil
		})},
		{name: "fromkeys", kind: classMethod, fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("fromkeys", args, 2, 3); err != nil {
				return nil, err
			}
			value := vm.None
			if len(args.Pos) == 3 {
				value = args.Pos[2]
			}
			res, err := vm.CallPositional(args.Pos[0])
			if err != nil {
				return nil, err
			}
			err = vm.Iterate(args.Pos[1], func(k *Object) (bool, error) {
				return true, vm.SetItem(res, k, value)
			})
			return res, err
		}},
	})

	c.initSets()
}

func dictMethod(name string, min, max int, fn func(vm *VM, d *Dict, args []*Object) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		d, err := receiver[*Dict](vm, args, "dict")
		if err != nil {
			return nil, err
		}
		rest := Args{Pos: args.Pos[1:], Kw: args.Kw}
		if err := vm.expectArgs(name, rest, min, max); err != nil {
			return nil, err
		}
		return fn(vm, d, rest.Pos)
	}
}

// dictIterator walks the live entries of d, raising RuntimeError when the
// dictionary is resized underneath it.
func (vm *VM) dictIterator(d *Dict, project func(k, v *Object) *Object) *Object {
	size := d.Len()
	i := 0
	return vm.newIterator(func(vm *VM) (*Object, error) {
		if d.Len() != size {
			return nil, vm.NewRuntimeError("dictionary changed size during iteration")
		}
		j := d.entryAt(i)
		if j < 0 {
			return nil, nil
		}
		i = j + 1
		e := d.entries[j]
		return project(e.key, e.value), nil
	})
}

func dictInit(vm *VM, o *Object, args Args) error {
	if err := vm.expectPositional("dict", args, 0, 1); err != nil {
		return err
	}
	return vm.dictUpdate(o.Payload.(*Dict), args.Pos, args.Kw)
}

// dictUpdate merges a mapping or an iterable of pairs, then keyword
// arguments, into d.
func (vm *VM) dictUpdate(d *Dict, pos []*Object, kw []KwArg) error {
	if len(pos) == 1 {
		src := pos[0]
		if other, ok := asDict(src); ok {
			if err := d.Update(vm, other); err != nil {
				return err
			}
		} else if keys, err := vm.GetAttrOpt(src, "keys"); err != nil {
			return err
		} else if keys != nil {
			ks, err := vm.CallPositional(keys)
			if err != nil {
				return err
			}
			err = vm.Iterate(ks, func(k *Object) (bool, error) {
				v, err := vm.GetItem(src, k)
				if err != nil {
					return false, err
				}
				return true, d.SetItem(vm, k, v)
			})
			if err != nil {
				return err
			}
		} else {
			n := 0
			err := vm.Iterate(src, func(item *Object) (bool, error) {
				pair, err := vm.ToSlice(item)
				if err != nil {
					if vm.errorMatches(err, vm.Exceptions.TypeError) {
						return false, vm.NewTypeError("cannot convert dictionary update sequence element #%d to a sequence", n)
					}
					return false, err
				}
				if len(pair) != 2 {
					return false, vm.NewValueError("dictionary update sequence element #%d has length %d; 2 is required", n, len(pair))
				}
				n++
				return true, d.SetItem(vm, pair[0], pair[1])
			})
			if err != nil {
				return err
			}
		}
	}
	for _, k := range kw {
		d.SetStr(vm.Context, k.Name, k.Value)
	}
	return nil
}

func dictRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asDict(a)
	y, ok2 := asDict(b)
	if !ok1 || !ok2 || (op != bytecode.CmpEqual && op != bytecode.CmpNotEqual) {
		return vm.NotImplemented, nil
	}
	eq, err := vm.dictEqual(x, y)
	if err != nil {
		return nil, err
	}
	return vm.NewBool(eq == (op == bytecode.CmpEqual)), nil
}

func (vm *VM) dictEqual(x, y *Dict) (bool, error) {
	if x.Len() != y.Len() {
		return false, nil
	}
	for _, k := range x.Keys() {
		v1, err := x.GetItem(vm, k)
		if err != nil {
			return false, err
		}
		v2, err := y.GetItem(vm, k)
		if err != nil || v2 == nil {
			return false, err
		}
		eq, err := vm.RichCompareBool(v1, v2, cmpEq)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func dictRepr(vm *VM, o *Object) (string, error) {
	if !vm.reprEnter(o) {
		return "{...}", nil
	}
	defer vm.reprLeave(o)
	var b strings.Builder
	b.WriteByte('{')
	var err error
	first := true
	o.Payload.(*Dict).Each(func(k, v *Object) {
		if err != nil {
			return
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		var ks, vs string
		if ks, err = vm.Repr(k); err != nil {
			return
		}
		if vs, err = vm.Repr(v); err != nil {
			return
		}
		b.WriteString(ks)
		b.WriteString(": ")
		b.WriteString(vs)
	})
	if err != nil {
		return "", err
	}
	b.WriteByte('}')
	return b.String(), nil
}

// dictGetItem consults __missing__ on subclasses before raising KeyError.
func dictGetItem(vm *VM, o, key *Object) (*Object, error) {
	v, err := o.Payload.(*Dict).GetItem(vm, key)
	if err != nil || v != nil {
		return v, err
	}
	if o.typ != vm.DictType {
		if res, found, err := vm.callSpecial(o, "__missing__", key); found {
			return res, err
		}
	}
	return nil, vm.NewKeyError(key)
}

func dictSetItem(vm *VM, o, key, value *Object) error {
	d := o.Payload.(*Dict)
	if value != nil {
		return d.SetItem(vm, key, value)
	}
	ok, err := d.DelItem(vm, key)
	if err != nil {
		return err
	}
	if !ok {
		return vm.NewKeyError(key)
	}
	return nil
}

// ---------------------------------------------------------------------------
// set and frozenset
// ---------------------------------------------------------------------------

func (c *Context) initSets() {
	for _, t := range []*Type{c.SetType, c.FrozenSetType} {
		t.Slots = TypeSlots{
			RichCompare: setRichCompare,
			Repr:        setRepr,
			Iter: func(vm *VM, o *Object) (*Object, error) {
				s := o.Payload.(*Set)
				return vm.dictIterator(&s.d, func(k, _ *Object) *Object { return k }), nil
			},
			Number: &NumberSlots{Binary: setBinary},
			Mapping: &MappingSlots{
				Len: func(vm *VM, o *Object) (int, error) { return o.Payload.(*Set).Len(), nil },
			},
			Sequence: &SequenceSlots{
				Contains: func(vm *VM, o, item *Object) (bool, error) { return o.Payload.(*Set).Contains(vm, item) },
			},
		}
		c.addMethods(t, []methodDef{
			{name: "copy", fn: setMethod("copy", 0, 0, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
				if o.typ == vm.FrozenSetType {
					return o, nil
				}
				return vm.newObject(o.typ, s.Copy()), nil
			})},
			{name: "union", fn: setMethod("union", 0, -1, setAlgebra(bytecode.OpOr))},
			{name: "intersection", fn: setMethod("intersection", 0, -1, setAlgebra(bytecode.OpAnd))},
			{name: "difference", fn: setMethod("difference", 0, -1, setAlgebra(bytecode.OpSubtract))},
			{name: "symmetric_difference", fn: setMethod("symmetric_difference", 1, 1, setAlgebra(bytecode.OpXor))},
			{name: "issubset", fn: setMethod("issubset", 1, 1, setRelation(bytecode.CmpLessOrEqual))},
			{name: "issuperset", fn: setMethod("issuperset", 1, 1, setRelation(bytecode.CmpGreaterOrEqual))},
			{name: "isdisjoint", fn: setMethod("isdisjoint", 1, 1, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
				disjoint := true
				err := vm.Iterate(args[0], func(x *Object) (bool, error) {
					in, err := s.Contains(vm, x)
					disjoint = !in
					return !in, err
				})
				return vm.NewBool(disjoint), err
			})},
		})
	}

	s := c.SetType
	s.Doc = "set() -> new empty set object\nset(iterable) -> new set object"
	s.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		return vm.newObject(cls, &Set{}), nil
	}
	s.Slots.Init = func(vm *VM, o *Object, args Args) error {
		if err := vm.expectArgs("set", args, 0, 1); err != nil {
			return err
		}
		st := o.Payload.(*Set)
		st.d.Clear()
		if len(args.Pos) == 0 {
			return nil
		}
		return vm.setExtend(st, args.Pos[0])
	}
	s.Slots.Number.Inplace = setInplace
	c.markUnhashable(s)
	c.addMethods(s, []methodDef{
		{name: "add", fn: setMethod("add", 1, 1, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			return vm.None, s.Add(vm, args[0])
		})},
		{name: "remove", fn: setMethod("remove", 1, 1, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			ok, err := s.Discard(vm, args[0])
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, vm.NewKeyError(args[0])
			}
			return vm.None, nil
		})},
		{name: "discard", fn: setMethod("discard", 1, 1, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			_, err := s.Discard(vm, args[0])
			return vm.None, err
		})},
		{name: "pop", fn: setMethod("pop", 0, 0, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			k, _, ok := s.d.PopLast()
			if !ok {
				return nil, vm.newError(vm.Exceptions.KeyError, "pop from an empty set")
			}
			return k, nil
		})},
		{name: "clear", fn: setMethod("clear", 0, 0, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			s.d.Clear()
			return vm.None, nil
		})},
		{name: "update", fn: setMethod("update", 0, -1, func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
			for _, a := range args {
				if err := vm.setExtend(s, a); err != nil {
					return nil, err
				}
			}
			return vm.None, nil
		})},
		{name: "intersection_update", fn: setMethod("intersection_update", 1, 1, setUpdateWith(bytecode.OpAnd))},
		{name: "difference_update", fn: setMethod("difference_update", 1, 1, setUpdateWith(bytecode.OpSubtract))},
		{name: "symmetric_difference_update", fn: setMethod("symmetric_difference_update", 1, 1, setUpdateWith(bytecode.OpXor))},
	})

	f := c.FrozenSetType
	f.Doc = "frozenset() -> empty frozenset object\nfrozenset(iterable) -> frozenset object"
	f.Slots.Hash = frozenSetHash
	f.Slots.New = func(vm *VM, cls *Type, args Args) (*Object, error) {
		if err := vm.expectArgs("frozenset", args, 0, 1); err != nil {
			return nil, err
		}
		st := &Set{}
		if len(args.Pos) == 1 {
			if src := args.Pos[0]; src.typ == vm.FrozenSetType && cls == vm.FrozenSetType {
				return src, nil
			}
			if err := vm.setExtend(st, args.Pos[0]); err != nil {
				return nil, err
			}
		}
		return vm.newObject(cls, st), nil
	}
}

func setMethod(name string, min, max int, fn func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		s, err := receiver[*Set](vm, args, "set")
		if err != nil {
			return nil, err
		}
		rest := Args{Pos: args.Pos[1:], Kw: args.Kw}
		if err := vm.expectArgs(name, rest, min, max); err != nil {
			return nil, err
		}
		return fn(vm, args.Pos[0], s, rest.Pos)
	}
}

// NewSet returns a set holding items.
func (vm *VM) NewSet(items []*Object) (*Object, error) {
	s := &Set{}
	for _, x := range items {
		if err := s.Add(vm, x); err != nil {
			return nil, err
		}
	}
	return vm.newObject(vm.SetType, s), nil
}

func (vm *VM) setExtend(s *Set, src *Object) error {
	if other, ok := asSet(src); ok {
		for _, x := range other.Items() {
			if err := s.Add(vm, x); err != nil {
				return err
			}
		}
		return nil
	}
	return vm.Iterate(src, func(x *Object) (bool, error) {
		return true, s.Add(vm, x)
	})
}

// toSet returns the elements of o as a Set, converting non-set iterables.
func (vm *VM) toSet(o *Object) (*Set, error) {
	if s, ok := asSet(o); ok {
		return s, nil
	}
	s := &Set{}
	return s, vm.setExtend(s, o)
}

func frozenSetHash(vm *VM, o *Object) (int64, error) {
	s := o.Payload.(*Set)
	h := uint64(1927868237) * uint64(s.Len()+1)
	for _, x := range s.Items() {
		xh, err := vm.Hash(x)
		if err != nil {
			return 0, err
		}
		u := uint64(xh)
		h ^= (u ^ (u << 16) ^ 89869747) * 3644798167
	}
	h = h*69069 + 907133923
	return hashInt(int64(h)), nil
}

func setRepr(vm *VM, o *Object) (string, error) {
	s := o.Payload.(*Set)
	name := o.typ.Name
	if s.Len() == 0 {
		return name + "()", nil
	}
	body, err := vm.reprItems(o, "{", "}", s.Items())
	if err != nil {
		return "", err
	}
	if o.typ == vm.SetType {
		return body, nil
	}
	return name + "(" + body + ")", nil
}

// setCombine computes a <op> b for |, &, - and ^.
func (vm *VM) setCombine(a, b *Set, op bytecode.BinaryOperator) (*Set, error) {
	out := &Set{}
	switch op {
	case bytecode.OpOr:
		out = a.Copy()
		for _, x := range b.Items() {
			if err := out.Add(vm, x); err != nil {
				return nil, err
			}
		}
	case bytecode.OpAnd, bytecode.OpSubtract:
		want := op == bytecode.OpAnd
		for _, x := range a.Items() {
			in, err := b.Contains(vm, x)
			if err != nil {
				return nil, err
			}
			if in == want {
				if err := out.Add(vm, x); err != nil {
					return nil, err
				}
			}
		}
	case bytecode.OpXor:
		for _, pair := range [2][2]*Set{{a, b}, {b, a}} {
			for _, x := range pair[0].Items() {
				in, err := pair[1].Contains(vm, x)
				if err != nil {
					return nil, err
				}
				if !in {
					if err := out.Add(vm, x); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return out, nil
}

func setBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	switch op {
	case bytecode.OpOr, bytecode.OpAnd, bytecode.OpSubtract, bytecode.OpXor:
	default:
		return vm.NotImplemented, nil
	}
	o, ok := asSet(other)
	if !ok {
		return vm.NotImplemented, nil
	}
	a, b := self.Payload.(*Set), o
	resultType := self.typ
	if reflected {
		a, b = b, a
		resultType = other.typ
	}
	res, err := vm.setCombine(a, b, op)
	if err != nil {
		return nil, err
	}
	return vm.newObject(baseSetType(vm, resultType), res), nil
}

// baseSetType maps subclasses onto the builtin type results are built
// with.
func baseSetType(vm *VM, t *Type) *Type {
	if t.IsSubtype(vm.FrozenSetType) {
		return vm.FrozenSetType
	}
	return vm.SetType
}

func setInplace(vm *VM, self, other *Object, op bytecode.BinaryOperator) (*Object, error) {
	switch op {
	case bytecode.OpOr, bytecode.OpAnd, bytecode.OpSubtract, bytecode.OpXor:
	default:
		return vm.NotImplemented, nil
	}
	o, ok := asSet(other)
	if !ok {
		return vm.NotImplemented, nil
	}
	s := self.Payload.(*Set)
	res, err := vm.setCombine(s, o, op)
	if err != nil {
		return nil, err
	}
	*s = *res
	return self, nil
}

func setAlgebra(op bytecode.BinaryOperator) func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
	return func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
		res := s.Copy()
		for _, a := range args {
			other, err := vm.toSet(a)
			if err != nil {
				return nil, err
			}
			if res, err = vm.setCombine(res, other, op); err != nil {
				return nil, err
			}
		}
		return vm.newObject(baseSetType(vm, o.typ), res), nil
	}
}

func setUpdateWith(op bytecode.BinaryOperator) func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
	return func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
		other, err := vm.toSet(args[0])
		if err != nil {
			return nil, err
		}
		res, err := vm.setCombine(s, other, op)
		if err != nil {
			return nil, err
		}
		*s = *res
		return vm.None, nil
	}
}

func setRelation(op bytecode.ComparisonOperator) func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
	return func(vm *VM, o *Object, s *Set, args []*Object) (*Object, error) {
		other, err := vm.toSet(args[0])
		if err != nil {
			return nil, err
		}
		ok, err := vm.setCompare(s, other, op)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(ok), nil
	}
}

// isSubset reports whether every element of a is in b.
func (vm *VM) isSubset(a, b *Set) (bool, error) {
	if a.Len() > b.Len() {
		return false, nil
	}
	for _, x := range a.Items() {
		in, err := b.Contains(vm, x)
		if err != nil || !in {
			return false, err
		}
	}
	return true, nil
}

func (vm *VM) setCompare(a, b *Set, op bytecode.ComparisonOperator) (bool, error) {
	switch op {
	case bytecode.CmpEqual, bytecode.CmpNotEqual:
		eq := a.Len() == b.Len()
		if eq {
			var err error
			if eq, err = vm.isSubset(a, b); err != nil {
				return false, err
			}
		}
		return eq == (op == bytecode.CmpEqual), nil
	case bytecode.CmpLessOrEqual:
		return vm.isSubset(a, b)
	case bytecode.CmpLess:
		if a.Len() >= b.Len() {
			return false, nil
		}
		return vm.isSubset(a, b)
	case bytecode.CmpGreaterOrEqual:
		return vm.isSubset(b, a)
	case bytecode.CmpGreater:
		if b.Len() >= a.Len() {
			return false, nil
		}
		return vm.isSubset(b, a)
	}
	return false, nil
}

func setRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asSet(a)
	y, ok2 := asSet(b)
	if !ok1 || !ok2 {
		return vm.NotImplemented, nil
	}
	ok, err := vm.setCompare(x, y, op)
	if err != nil {
		return nil, err
	}
	return vm.NewBool(ok), nil
}
