package vm

import (
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Indexing helpers shared by every sequence
// ---------------------------------------------------------------------------

// seqIndex converts key to an index into a sequence of length n, counting
// negative values from the end.
func (vm *VM) seqIndex(key *Object, n int, what string) (int, error) {
	v, ok := asInt(key)
	if !ok {
		if key.typ.mroFindSlot(hasIndex) == nil {
			return 0, vm.NewTypeError("%s indices must be integers or slices, not %s", what, key.typ.Name)
		}
		var err error
		if v, err = vm.Index(key); err != nil {
			return 0, err
		}
	}
	if v < 0 {
		v += int64(n)
	}
	if v < 0 || v >= int64(n) {
		return 0, vm.NewIndexError("%s index out of range", what)
	}
	return int(v), nil
}

// sliceIndices resolves a slice against a sequence of length n. count is
// the number of selected items.
func (vm *VM) sliceIndices(sl *Slice, n int) (start, stop, step, count int, err error) {
	bound := func(o *Object) (int64, bool, error) {
		if o == nil || o == vm.None {
			return 0, false, nil
		}
		if v, ok := asInt(o); ok {
			return v, true, nil
		}
		if o.typ.mroFindSlot(hasIndex) == nil {
			return 0, false, vm.NewTypeError("slice indices must be integers or None or have an __index__ method")
		}
		v, err := vm.Index(o)
		return v, true, err
	}
	st, hasStep, err := bound(sl.Step)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if !hasStep {
		st = 1
	}
	if st == 0 {
		return 0, 0, 0, 0, vm.NewValueError("slice step cannot be zero")
	}
	length := int64(n)
	lower, upper := int64(0), length
	if st < 0 {
		lower, upper = -1, length-1
	}
	clamp := func(o *Object, def int64) (int64, error) {
		v, ok, err := bound(o)
		if err != nil || !ok {
			return def, err
		}
		if v < 0 {
			v += length
			if v < lower {
				v = lower
			}
		} else if v > upper {
			v = upper
		}
		return v, nil
	}
	defStart, defStop := lower, upper
	if st < 0 {
		defStart, defStop = upper, lower
	}
	b, err := clamp(sl.Start, defStart)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	e, err := clamp(sl.Stop, defStop)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	var cnt int64
	switch {
	case st > 0 && b < e:
		cnt = (e-b-1)/st + 1
	case st < 0 && e < b:
		cnt = (b-e-1)/(-st) + 1
	}
	return int(b), int(e), int(st), int(cnt), nil
}

// sliceItems returns the items selected by sl.
func (vm *VM) sliceItems(items []*Object, sl *Slice) ([]*Object, error) {
	start, stop, step, n, err := vm.sliceIndices(sl, len(items))
	if err != nil {
		return nil, err
	}
	if step == 1 {
		if n == 0 {
			return nil, nil
		}
		return append([]*Object(nil), items[start:stop]...), nil
	}
	out := make([]*Object, 0, n)
	for i, j := 0, start; i < n; i, j = i+1, j+step {
		out = append(out, items[j])
	}
	return out, nil
}

// seqCompare compares two sequences lexicographically.
func (vm *VM) seqCompare(a, b []*Object, op bytecode.ComparisonOperator) (*Object, error) {
	if len(a) != len(b) && (op == bytecode.CmpEqual || op == bytecode.CmpNotEqual) {
		return vm.NewBool(op == bytecode.CmpNotEqual), nil
	}
	i := 0
	for ; i < len(a) && i < len(b); i++ {
		eq, err := vm.Equal(a[i], b[i])
		if err != nil {
			return nil, err
		}
		if !eq {
			break
		}
	}
	if i >= len(a) || i >= len(b) {
		return vm.NewBool(cmpResult(compareOrdered(int64(len(a)), int64(len(b))), op)), nil
	}
	switch op {
	case bytecode.CmpEqual:
		return vm.False, nil
	case bytecode.CmpNotEqual:
		return vm.True, nil
	}
	return vm.RichCompare(a[i], b[i], op)
}

// seqContains reports whether item is in items, by identity or equality.
func (vm *VM) seqContains(items []*Object, item *Object) (bool, error) {
	for _, x := range items {
		eq, err := vm.RichCompareBool(x, item, cmpEq)
		if err != nil || eq {
			return eq, err
		}
	}
	return false, nil
}

// reprEnter guards repr() of containers against cycles. It reports false
// when o is already being rendered.
func (vm *VM) reprEnter(o *Object) bool {
	if vm.reprActive == nil {
		vm.reprActive = map[*Object]bool{}
	}
	if vm.reprActive[o] {
		return false
	}
	vm.reprActive[o] = true
	return true
}

func (vm *VM) reprLeave(o *Object) {
	delete(vm.reprActive, o)
}

// reprItems renders items between the given delimiters.
func (vm *VM) reprItems(o *Object, open, close string, items []*Object) (string, error) {
	if !vm.reprEnter(o) {
		return open + "..." + close, nil
	}
	defer vm.reprLeave(o)
	var b strings.Builder
	b.WriteString(open)
	for i, x := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := vm.Repr(x)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	b.WriteString(close)
	return b.String(), nil
}

func hashNotImplemented(vm *VM, o *Object) (int64, error) {
	return 0, vm.unhashable(o)
}

// markUnhashable makes hash() of t's instances raise TypeError and
// publishes __hash__ = None.
func (c *Context) markUnhashable(t *Type) {
	t.Slots.Hash = hashNotImplemented
	t.self.dict.SetStr(c, "__hash__", c.None)
}

// ---------------------------------------------------------------------------
// tuple
// ---------------------------------------------------------------------------

func (c *Context) initSequences() {
	t := c.TupleType
	t.Doc = "tuple(iterable=()) -> tuple"
	t.Slots = TypeSlots{
		Hash:        tupleHash,
		RichCompare: tupleRichCompare,
		New:         tupleNew,
		Repr:        tupleRepr,
		Iter: func(vm *VM, o *Object) (*Object, error) {
			return vm.iteratorOver(o.Payload.(Tuple)), nil
		},
		Number: &NumberSlots{Binary: tupleBinary},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return len(o.Payload.(Tuple)), nil },
			GetItem: tupleGetItem,
		},
		Sequence: &SequenceSlots{
			Contains: func(vm *VM, o, item *Object) (bool, error) { return vm.seqContains(o.Payload.(Tuple), item) },
		},
	}
	c.addMethods(t, []methodDef{
		{name: "index", fn: seqIndexMethod("tuple")},
		{name: "count", fn: seqCountMethod},
		{name: "__getnewargs__", fn: func(vm *VM, args Args) (*Object, error) {
			items, err := receiver[Tuple](vm, args, "tuple")
			if err != nil {
				return nil, err
			}
			return vm.NewTuple([]*Object{vm.NewTuple(items)}), nil
		}},
	})

	c.initList()
	c.initRange()
	c.initSlice()

	it := c.IteratorType
	it.Slots = TypeSlots{
		Iter:     func(vm *VM, o *Object) (*Object, error) { return o, nil },
		IterNext: iteratorNext,
	}
}

// tupleHash mixes the item hashes the way xxHash combines lanes.
func tupleHash(vm *VM, o *Object) (int64, error) {
	const (
		prime1 = 11400714785074694791
		prime2 = 14029467366897019727
		prime5 = 2870177450012600261
	)
	items := o.Payload.(Tuple)
	acc := uint64(prime5)
	for _, x := range items {
		h, err := vm.Hash(x)
		if err != nil {
			return 0, err
		}
		acc += uint64(h) * prime2
		acc = bits.RotateLeft64(acc, 31)
		acc *= prime1
	}
	acc += uint64(len(items)) ^ (prime5 ^ 3527539)
	return hashInt(int64(acc)), nil
}

func tupleRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asTuple(a)
	y, ok2 := asTuple(b)
	if !ok1 || !ok2 {
		return vm.NotImplemented, nil
	}
	return vm.seqCompare(x, y, op)
}

func tupleNew(vm *VM, cls *Type, args Args) (*Object, error) {
	params, err := vm.bindArgs("tuple", args, []string{"iterable"}, 0)
	if err != nil {
		return nil, err
	}
	var items []*Object
	if src := params[0]; src != nil {
		if cls == vm.TupleType && src.typ == vm.TupleType {
			return src, nil
		}
		if items, err = vm.ToSlice(src); err != nil {
			return nil, err
		}
	}
	if cls == vm.TupleType {
		return vm.NewTuple(items), nil
	}
	return vm.newObject(cls, Tuple(items)), nil
}

func tupleRepr(vm *VM, o *Object) (string, error) {
	items := o.Payload.(Tuple)
	if len(items) == 1 {
		s, err := vm.Repr(items[0])
		if err != nil {
			return "", err
		}
		return "(" + s + ",)", nil
	}
	return vm.reprItems(o, "(", ")", items)
}

func tupleBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	items := self.Payload.(Tuple)
	switch op {
	case bytecode.OpAdd:
		o, ok := asTuple(other)
		if !ok {
			if reflected {
				return vm.NotImplemented, nil
			}
			return nil, vm.NewTypeError("can only concatenate tuple (not \"%s\") to tuple", other.typ.Name)
		}
		a, b := []*Object(items), []*Object(o)
		if reflected {
			a, b = b, a
		}
		out := make([]*Object, 0, len(a)+len(b))
		return vm.NewTuple(append(append(out, a...), b...)), nil
	case bytecode.OpMultiply:
		n, ok := repeatCount(vm, other)
		if !ok {
			return vm.NotImplemented, nil
		}
		return vm.NewTuple(repeatItems(items, n)), nil
	}
	return vm.NotImplemented, nil
}

func repeatItems(items []*Object, n int64) []*Object {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	out := make([]*Object, 0, len(items)*int(n))
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return out
}

func tupleGetItem(vm *VM, o, key *Object) (*Object, error) {
	items := o.Payload.(Tuple)
	if sl, ok := key.Payload.(*Slice); ok {
		out, err := vm.sliceItems(items, sl)
		if err != nil {
			return nil, err
		}
		return vm.NewTuple(out), nil
	}
	i, err := vm.seqIndex(key, len(items), "tuple")
	if err != nil {
		return nil, err
	}
	return items[i], nil
}

func seqIndexMethod(what string) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("index", args, 2, 4); err != nil {
			return nil, err
		}
		items, ok := sequenceItems(args.Pos[0])
		if !ok {
			return nil, downcastError(what, args.Pos[0])
		}
		start, stop := 0, len(items)
		if len(args.Pos) > 2 {
			sl := &Slice{Start: args.Pos[2], Stop: vm.None, Step: vm.None}
			if len(args.Pos) > 3 {
				sl.Stop = args.Pos[3]
			}
			var err error
			if start, stop, _, _, err = vm.sliceIndices(sl, len(items)); err != nil {
				return nil, err
			}
		}
		for i := start; i < stop && i < len(items); i++ {
			eq, err := vm.RichCompareBool(items[i], args.Pos[1], cmpEq)
			if err != nil {
				return nil, err
			}
			if eq {
				return vm.NewInt(int64(i)), nil
			}
		}
		if what == "list" {
			r, err := vm.Repr(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return nil, vm.NewValueError("%s is not in list", r)
		}
		return nil, vm.NewValueError("tuple.index(x): x not in tuple")
	}
}

func seqCountMethod(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("count", args, 2, 2); err != nil {
		return nil, err
	}
	items, ok := sequenceItems(args.Pos[0])
	if !ok {
		return nil, downcastError("sequence", args.Pos[0])
	}
	n := int64(0)
	for _, x := range items {
		eq, err := vm.RichCompareBool(x, args.Pos[1], cmpEq)
		if err != nil {
			return nil, err
		}
		if eq {
			n++
		}
	}
	return vm.NewInt(n), nil
}

// ---------------------------------------------------------------------------
// list
// ---------------------------------------------------------------------------

func (c *Context) initList() {
	l := c.ListType
	l.Doc = "list(iterable=()) -> new list"
	l.Slots = TypeSlots{
		RichCompare: listRichCompare,
		New: func(vm *VM, cls *Type, args Args) (*Object, error) {
			return vm.newObject(cls, &List{}), nil
		},
		Init: listInit,
		Repr: func(vm *VM, o *Object) (string, error) {
			return vm.reprItems(o, "[", "]", o.Payload.(*List).Items)
		},
		Iter: listIter,
		Number: &NumberSlots{
			Binary:  listBinary,
			Inplace: listInplace,
		},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return len(o.Payload.(*List).Items), nil },
			GetItem: listGetItem,
			SetItem: listSetItem,
		},
		Sequence: &SequenceSlots{
			Contains: func(vm *VM, o, item *Object) (bool, error) {
				return vm.seqContains(o.Payload.(*List).Items, item)
			},
		},
	}
	c.markUnhashable(l)
	c.addMethods(l, []methodDef{
		{name: "append", fn: listMethod("append", 1, 1, func(vm *VM, l *List, args []*Object) (*Object, error) {
			l.Items = append(l.Items, args[0])
			return vm.None, nil
		})},
		{name: "extend", fn: listMethod("extend", 1, 1, func(vm *VM, l *List, args []*Object) (*Object, error) {
			items, err := vm.ToSlice(args[0])
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, items...)
			return vm.None, nil
		})},
		{name: "insert", fn: listMethod("insert", 2, 2, listInsert)},
		{name: "pop", fn: listMethod("pop", 0, 1, listPop)},
		{name: "remove", fn: listMethod("remove", 1, 1, listRemove)},
		{name: "clear", fn: listMethod("clear", 0, 0, func(vm *VM, l *List, args []*Object) (*Object, error) {
			l.Items = nil
			return vm.None, nil
		})},
		{name: "copy", fn: listMethod("copy", 0, 0, func(vm *VM, l *List, args []*Object) (*Object, error) {
			return vm.NewList(append([]*Object(nil), l.Items...)), nil
		})},
		{name: "reverse", fn: listMethod("reverse", 0, 0, func(vm *VM, l *List, args []*Object) (*Object, error) {
			reverseItems(l.Items)
			return vm.None, nil
		})},
		{name: "__reversed__", fn: listMethod("__reversed__", 0, 0, func(vm *VM, l *List, args []*Object) (*Object, error) {
			i := len(l.Items)
			return vm.newIterator(func(vm *VM) (*Object, error) {
				if i > len(l.Items) {
					i = len(l.Items)
				}
				if i <= 0 {
					return nil, nil
				}
				i--
				return l.Items[i], nil
			}), nil
		})},
		{name: "index", fn: seqIndexMethod("list")},
		{name: "count", fn: seqCountMethod},
		{name: "sort", fn: listSort},
	})
}

func listMethod(name string, min, max int, fn func(vm *VM, l *List, args []*Object) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		l, err := receiver[*List](vm, args, "list")
		if err != nil {
			return nil, err
		}
		rest := Args{Pos: args.Pos[1:], Kw: args.Kw}
		if err := vm.expectArgs(name, rest, min, max); err != nil {
			return nil, err
		}
		return fn(vm, l, rest.Pos)
	}
}

func reverseItems(items []*Object) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func listInit(vm *VM, o *Object, args Args) error {
	params, err := vm.bindArgs("list", args, []string{"iterable"}, 0)
	if err != nil {
		return err
	}
	l := o.Payload.(*List)
	l.Items = nil
	if params[0] != nil {
		items, err := vm.ToSlice(params[0])
		if err != nil {
			return err
		}
		l.Items = items
	}
	return nil
}

func listRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asList(a)
	y, ok2 := asList(b)
	if !ok1 || !ok2 {
		return vm.NotImplemented, nil
	}
	return vm.seqCompare(x.Items, y.Items, op)
}

// listIter reads the live list so appends during iteration are seen.
func listIter(vm *VM, o *Object) (*Object, error) {
	l := o.Payload.(*List)
	i := 0
	return vm.newIterator(func(vm *VM) (*Object, error) {
		if i >= len(l.Items) {
			return nil, nil
		}
		i++
		return l.Items[i-1], nil
	}), nil
}

func listBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	items := self.Payload.(*List).Items
	switch op {
	case bytecode.OpAdd:
		o, ok := asList(other)
		if !ok {
			if reflected {
				return vm.NotImplemented, nil
			}
			return nil, vm.NewTypeError("can only concatenate list (not \"%s\") to list", other.typ.Name)
		}
		a, b := items, o.Items
		if reflected {
			a, b = b, a
		}
		out := make([]*Object, 0, len(a)+len(b))
		return vm.NewList(append(append(out, a...), b...)), nil
	case bytecode.OpMultiply:
		n, ok := repeatCount(vm, other)
		if !ok {
			return vm.NotImplemented, nil
		}
		return vm.NewList(repeatItems(items, n)), nil
	}
	return vm.NotImplemented, nil
}

// listInplace implements += as extend and *= as in-place repetition.
func listInplace(vm *VM, self, other *Object, op bytecode.BinaryOperator) (*Object, error) {
	l := self.Payload.(*List)
	switch op {
	case bytecode.OpAdd:
		items, err := vm.ToSlice(other)
		if err != nil {
			if vm.errorMatches(err, vm.Exceptions.TypeError) {
				return vm.NotImplemented, nil
			}
			return nil, err
		}
		l.Items = append(l.Items, items...)
		return self, nil
	case bytecode.OpMultiply:
		n, ok := repeatCount(vm, other)
		if !ok {
			return vm.NotImplemented, nil
		}
		l.Items = repeatItems(l.Items, n)
		return self, nil
	}
	return vm.NotImplemented, nil
}

func listGetItem(vm *VM, o, key *Object) (*Object, error) {
	l := o.Payload.(*List)
	if sl, ok := key.Payload.(*Slice); ok {
		out, err := vm.sliceItems(l.Items, sl)
		if err != nil {
			return nil, err
		}
		return vm.NewList(out), nil
	}
	i, err := vm.seqIndex(key, len(l.Items), "list")
	if err != nil {
		return nil, err
	}
	return l.Items[i], nil
}

// listSetItem assigns or, when value is nil, deletes an index or a slice.
func listSetItem(vm *VM, o, key, value *Object) error {
	l := o.Payload.(*List)
	sl, isSlice := key.Payload.(*Slice)
	if !isSlice {
		i, err := vm.seqIndex(key, len(l.Items), "list assignment")
		if err != nil {
			return err
		}
		if value == nil {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
		} else {
			l.Items[i] = value
		}
		return nil
	}
	start, stop, step, n, err := vm.sliceIndices(sl, len(l.Items))
	if err != nil {
		return err
	}
	if value == nil {
		if step == 1 {
			if n > 0 {
				l.Items = append(l.Items[:start], l.Items[stop:]...)
			}
			return nil
		}
		drop := map[int]bool{}
		for i, j := 0, start; i < n; i, j = i+1, j+step {
			drop[j] = true
		}
		kept := l.Items[:0]
		for i, x := range l.Items {
			if !drop[i] {
				kept = append(kept, x)
			}
		}
		l.Items = kept
		return nil
	}
	var repl []*Object
	if value == o {
		repl = append([]*Object(nil), l.Items...)
	} else if repl, err = vm.ToSlice(value); err != nil {
		if vm.errorMatches(err, vm.Exceptions.TypeError) {
			return vm.NewTypeError("can only assign an iterable")
		}
		return err
	}
	if step == 1 {
		if stop < start {
			stop = start
		}
		tail := append([]*Object(nil), l.Items[stop:]...)
		l.Items = append(append(l.Items[:start], repl...), tail...)
		return nil
	}
	if len(repl) != n {
		return vm.NewValueError("attempt to assign sequence of size %d to extended slice of size %d", len(repl), n)
	}
	for i, j := 0, start; i < n; i, j = i+1, j+step {
		l.Items[j] = repl[i]
	}
	return nil
}

func listInsert(vm *VM, l *List, args []*Object) (*Object, error) {
	i, err := vm.Index(args[0])
	if err != nil {
		return nil, err
	}
	n := int64(len(l.Items))
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	l.Items = append(l.Items, nil)
	copy(l.Items[i+1:], l.Items[i:])
	l.Items[i] = args[1]
	return vm.None, nil
}

func listPop(vm *VM, l *List, args []*Object) (*Object, error) {
	if len(l.Items) == 0 {
		return nil, vm.NewIndexError("pop from empty list")
	}
	i := int64(len(l.Items) - 1)
	if len(args) == 1 {
		var err error
		if i, err = vm.Index(args[0]); err != nil {
			return nil, err
		}
		if i < 0 {
			i += int64(len(l.Items))
		}
		if i < 0 || i >= int64(len(l.Items)) {
			return nil, vm.NewIndexError("pop index out of range")
		}
	}
	v := l.Items[i]
	l.Items = append(l.Items[:i], l.Items[i+1:]...)
	return v, nil
}

func listRemove(vm *VM, l *List, args []*Object) (*Object, error) {
	for i, x := range l.Items {
		eq, err := vm.RichCompareBool(x, args[0], cmpEq)
		if err != nil {
			return nil, err
		}
		if eq {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			return vm.None, nil
		}
	}
	return nil, vm.NewValueError("list.remove(x): x not in list")
}

// listSort is a stable sort by < on the items or their keys. The first
// comparison error aborts the sort and leaves the list unchanged.
func listSort(vm *VM, args Args) (*Object, error) {
	l, err := receiver[*List](vm, args, "list")
	if err != nil {
		return nil, err
	}
	if len(args.Pos) > 1 {
		return nil, vm.NewTypeError("sort() takes no positional arguments")
	}
	params, err := vm.bindArgs("sort", Args{Kw: args.Kw}, []string{"key", "reverse"}, 0)
	if err != nil {
		return nil, err
	}
	reverse := false
	if params[1] != nil {
		if reverse, err = vm.Truthy(params[1]); err != nil {
			return nil, err
		}
	}
	sorted, err := vm.sortItems(l.Items, params[0], reverse)
	if err != nil {
		return nil, err
	}
	l.Items = sorted
	return vm.None, nil
}

// sortItems returns a sorted copy of items; it backs list.sort and
// sorted().
func (vm *VM) sortItems(items []*Object, key *Object, reverse bool) ([]*Object, error) {
	type entry struct{ key, value *Object }
	entries := make([]entry, len(items))
	for i, x := range items {
		entries[i] = entry{x, x}
		if key != nil && key != vm.None {
			k, err := vm.CallPositional(key, x)
			if err != nil {
				return nil, err
			}
			entries[i].key = k
		}
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	var sortErr error
	sort.SliceStable(entries, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		less, err := vm.RichCompareBool(entries[i].key, entries[j].key, cmpLt)
		if err != nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	out := make([]*Object, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// range
// ---------------------------------------------------------------------------

func (c *Context) initRange() {
	r := c.RangeType
	r.Doc = "range(stop) -> range object\nrange(start, stop[, step]) -> range object"
	r.Slots = TypeSlots{
		Hash: func(vm *VM, o *Object) (int64, error) {
			rg := o.Payload.(*Range)
			return tupleHash(vm, vm.NewTuple([]*Object{vm.NewInt(rg.Len()), vm.NewInt(rg.Start), vm.NewInt(rg.Step)}))
		},
		RichCompare: rangeRichCompare,
		New:         rangeNew,
		Repr: func(vm *VM, o *Object) (string, error) {
			rg := o.Payload.(*Range)
			s := "range(" + strconv.FormatInt(rg.Start, 10) + ", " + strconv.FormatInt(rg.Stop, 10)
			if rg.Step != 1 {
				s += ", " + strconv.FormatInt(rg.Step, 10)
			}
			return s + ")", nil
		},
		Iter: func(vm *VM, o *Object) (*Object, error) {
			rg := *o.Payload.(*Range)
			i, n := int64(0), rg.Len()
			return vm.newIterator(func(vm *VM) (*Object, error) {
				if i >= n {
					return nil, nil
				}
				v := rg.Start + i*rg.Step
				i++
				return vm.NewInt(v), nil
			}), nil
		},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return int(o.Payload.(*Range).Len()), nil },
			GetItem: rangeGetItem,
		},
		Sequence: &SequenceSlots{Contains: rangeContains},
	}
	c.addGetSets(r, []getsetDef{
		{name: "start", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(*Range).Start), nil }},
		{name: "stop", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(*Range).Stop), nil }},
		{name: "step", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(*Range).Step), nil }},
	})
	c.addMethods(r, []methodDef{
		{name: "index", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("index", args, 2, 2); err != nil {
				return nil, err
			}
			rg, err := receiver[*Range](vm, args, "range")
			if err != nil {
				return nil, err
			}
			if v, ok := asInt(args.Pos[1]); ok && rangeHas(rg, v) {
				return vm.NewInt((v - rg.Start) / rg.Step), nil
			}
			r, err := vm.Repr(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return nil, vm.NewValueError("%s is not in range", r)
		}},
		{name: "count", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("count", args, 2, 2); err != nil {
				return nil, err
			}
			ok, err := rangeContains(vm, args.Pos[0], args.Pos[1])
			if err != nil {
				return nil, err
			}
			if ok {
				return vm.NewInt(1), nil
			}
			return vm.NewInt(0), nil
		}},
	})
}

func rangeNew(vm *VM, cls *Type, args Args) (*Object, error) {
	if err := vm.expectArgs("range", args, 1, 3); err != nil {
		return nil, err
	}
	vals := make([]int64, len(args.Pos))
	for i, a := range args.Pos {
		v, err := vm.Index(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	rg := &Range{Step: 1}
	switch len(vals) {
	case 1:
		rg.Stop = vals[0]
	case 2:
		rg.Start, rg.Stop = vals[0], vals[1]
	case 3:
		rg.Start, rg.Stop, rg.Step = vals[0], vals[1], vals[2]
		if rg.Step == 0 {
			return nil, vm.NewValueError("range() arg 3 must not be zero")
		}
	}
	return vm.newObject(cls, rg), nil
}

func rangeHas(rg *Range, v int64) bool {
	if rg.Step > 0 && (v < rg.Start || v >= rg.Stop) || rg.Step < 0 && (v > rg.Start || v <= rg.Stop) {
		return false
	}
	return (v-rg.Start)%rg.Step == 0
}

func rangeContains(vm *VM, o, item *Object) (bool, error) {
	rg := o.Payload.(*Range)
	if v, ok := asInt(item); ok {
		return rangeHas(rg, v), nil
	}
	found := false
	err := vm.Iterate(o, func(x *Object) (bool, error) {
		eq, err := vm.Equal(x, item)
		found = eq
		return !eq, err
	})
	return found, err
}

func rangeGetItem(vm *VM, o, key *Object) (*Object, error) {
	rg := o.Payload.(*Range)
	n := rg.Len()
	if sl, ok := key.Payload.(*Slice); ok {
		start, stop, step, _, err := vm.sliceIndices(sl, int(n))
		if err != nil {
			return nil, err
		}
		return vm.newObject(vm.RangeType, &Range{
			Start: rg.Start + int64(start)*rg.Step,
			Stop:  rg.Start + int64(stop)*rg.Step,
			Step:  rg.Step * int64(step),
		}), nil
	}
	i, err := vm.seqIndex(key, int(n), "range object")
	if err != nil {
		return nil, err
	}
	return vm.NewInt(rg.Start + int64(i)*rg.Step), nil
}

// rangeRichCompare compares ranges as the sequences they produce.
func rangeRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := a.Payload.(*Range)
	y, ok2 := b.Payload.(*Range)
	if !ok1 || !ok2 || (op != bytecode.CmpEqual && op != bytecode.CmpNotEqual) {
		return vm.NotImplemented, nil
	}
	eq := x.Len() == y.Len()
	if eq && x.Len() > 0 {
		eq = x.Start == y.Start && (x.Len() == 1 || x.Step == y.Step)
	}
	return vm.NewBool(eq == (op == bytecode.CmpEqual)), nil
}

// ---------------------------------------------------------------------------
// slice
// ---------------------------------------------------------------------------

func (c *Context) initSlice() {
	s := c.SliceType
	s.Doc = "slice(stop)\nslice(start, stop[, step])"
	s.Slots = TypeSlots{
		RichCompare: func(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
			x, ok1 := a.Payload.(*Slice)
			y, ok2 := b.Payload.(*Slice)
			if !ok1 || !ok2 {
				return vm.NotImplemented, nil
			}
			return vm.seqCompare([]*Object{x.Start, x.Stop, x.Step}, []*Object{y.Start, y.Stop, y.Step}, op)
		},
		New: func(vm *VM, cls *Type, args Args) (*Object, error) {
			if err := vm.expectArgs("slice", args, 1, 3); err != nil {
				return nil, err
			}
			sl := &Slice{Start: vm.None, Stop: vm.None, Step: vm.None}
			switch len(args.Pos) {
			case 1:
				sl.Stop = args.Pos[0]
			case 2:
				sl.Start, sl.Stop = args.Pos[0], args.Pos[1]
			case 3:
				sl.Start, sl.Stop, sl.Step = args.Pos[0], args.Pos[1], args.Pos[2]
			}
			return vm.newObject(cls, sl), nil
		},
		Repr: func(vm *VM, o *Object) (string, error) {
			sl := o.Payload.(*Slice)
			return vm.reprItems(o, "slice(", ")", []*Object{sl.Start, sl.Stop, sl.Step})
		},
	}
	c.markUnhashable(s)
	c.addGetSets(s, []getsetDef{
		{name: "start", get: func(vm *VM, o *Object) (*Object, error) { return o.Payload.(*Slice).Start, nil }},
		{name: "stop", get: func(vm *VM, o *Object) (*Object, error) { return o.Payload.(*Slice).Stop, nil }},
		{name: "step", get: func(vm *VM, o *Object) (*Object, error) { return o.Payload.(*Slice).Step, nil }},
	})
	c.addMethods(s, []methodDef{
		{name: "indices", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("indices", args, 2, 2); err != nil {
				return nil, err
			}
			sl, err := receiver[*Slice](vm, args, "slice")
			if err != nil {
				return nil, err
			}
			n, err := vm.Index(args.Pos[1])
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, vm.NewValueError("length should not be negative")
			}
			start, stop, step, _, err := vm.sliceIndices(sl, int(n))
			if err != nil {
				return nil, err
			}
			return vm.NewTuple([]*Object{vm.NewInt(int64(start)), vm.NewInt(int64(stop)), vm.NewInt(int64(step))}), nil
		}},
	})
}

// NewSlice builds a slice object; nil bounds become None.
func (vm *VM) NewSlice(start, stop, step *Object) *Object {
	return vm.newObject(vm.SliceType, &Slice{Start: orNone(vm, start), Stop: orNone(vm, stop), Step: orNone(vm, step)})
}

// ---------------------------------------------------------------------------
// iterator
// ---------------------------------------------------------------------------

// iteratorNext advances a Go-backed iterator. Once exhausted it stays
// exhausted.
func iteratorNext(vm *VM, o *Object) (*Object, error) {
	it := o.Payload.(*iterator)
	if it.done {
		return nil, nil
	}
	v, err := it.next(vm)
	if err != nil || v == nil {
		it.done = true
	}
	return v, err
}
