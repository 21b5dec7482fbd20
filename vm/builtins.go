package vm

import (
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// The builtins module
// ---------------------------------------------------------------------------

var builtinFunctions = []methodDef{
	{name: "print", fn: builtinPrint},
	{name: "len", fn: builtinLen},
	{name: "repr", fn: builtinRepr},
	{name: "ascii", fn: builtinASCII},
	{name: "format", fn: builtinFormat},
	{name: "abs", fn: builtinAbs},
	{name: "round", fn: builtinRound},
	{name: "divmod", fn: builtinDivmod},
	{name: "pow", fn: builtinPow},
	{name: "hex", fn: radixFormatter("hex", 16, "0x")},
	{name: "oct", fn: radixFormatter("oct", 8, "0o")},
	{name: "bin", fn: radixFormatter("bin", 2, "0b")},
	{name: "chr", fn: builtinChr},
	{name: "ord", fn: builtinOrd},
	{name: "min", fn: minMax("min", bytecode.CmpLess)},
	{name: "max", fn: minMax("max", bytecode.CmpGreater)},
	{name: "sum", fn: builtinSum},
	{name: "any", fn: anyAll("any", true)},
	{name: "all", fn: anyAll("all", false)},
	{name: "sorted", fn: builtinSorted},
	{name: "reversed", fn: builtinReversed},
	{name: "enumerate", fn: builtinEnumerate},
	{name: "zip", fn: builtinZip},
	{name: "map", fn: builtinMap},
	{name: "filter", fn: builtinFilter},
	{name: "iter", fn: builtinIter},
	{name: "next", fn: builtinNext},
	{name: "hash", fn: builtinHash},
	{name: "id", fn: builtinID},
	{name: "isinstance", fn: builtinIsInstance},
	{name: "issubclass", fn: builtinIsSubclass},
	{name: "callable", fn: builtinCallable},
	{name: "getattr", fn: builtinGetAttr},
	{name: "setattr", fn: builtinSetAttr},
	{name: "hasattr", fn: builtinHasAttr},
	{name: "delattr", fn: builtinDelAttr},
	{name: "globals", fn: builtinGlobals},
	{name: "locals", fn: builtinLocals},
	{name: "vars", fn: builtinVars},
	{name: "dir", fn: builtinDir},
	{name: "__build_class__", fn: buildClass},
	{name: "__import__", fn: builtinImport},
	{name: "exec", fn: builtinExec},
	{name: "eval", fn: builtinEval},
	{name: "compile", fn: builtinCompile},
}

func initBuiltinsModule(vm *VM, m *Object) error {
	d := m.dict
	d.SetStr(vm.Context, "__doc__", vm.NewStr("Built-in functions, exceptions, and other objects."))
	for _, def := range builtinFunctions {
		f := vm.NewBuiltinFunction(def.name, def.fn)
		f.Payload.(*BuiltinFunction).Module = "builtins"
		d.SetStr(vm.Context, def.name, f)
	}
	for _, t := range []*Type{
		vm.ObjectType, vm.TypeType, vm.IntType, vm.BoolType, vm.FloatType, vm.StrType, vm.BytesType,
		vm.TupleType, vm.ListType, vm.DictType, vm.SetType, vm.FrozenSetType, vm.RangeType,
		vm.SliceType, vm.PropertyType, vm.StaticMethodType, vm.ClassMethodType, vm.SuperType,
	} {
		d.SetStr(vm.Context, t.Name, t.self)
	}
	for _, t := range vm.Exceptions.all() {
		d.SetStr(vm.Context, t.Name, t.self)
	}
	d.SetStr(vm.Context, "None", vm.None)
	d.SetStr(vm.Context, "Ellipsis", vm.Ellipsis)
	d.SetStr(vm.Context, "NotImplemented", vm.NotImplemented)
	d.SetStr(vm.Context, "True", vm.True)
	d.SetStr(vm.Context, "False", vm.False)
	d.SetStr(vm.Context, "__debug__", vm.NewBool(vm.settings.Optimize == 0))
	return nil
}

// ---------------------------------------------------------------------------
// Output and conversion
// ---------------------------------------------------------------------------

func builtinPrint(vm *VM, args Args) (*Object, error) {
	sep, end := " ", "\n"
	var file *Object
	for _, kw := range args.Kw {
		switch kw.Name {
		case "sep", "end":
			s := "\n"
			if kw.Name == "sep" {
				s = " "
			}
			if kw.Value != vm.None {
				v, ok := asStr(kw.Value)
				if !ok {
					return nil, vm.NewTypeError("%s must be None or a string, not %s", kw.Name, kw.Value.typ.Name)
				}
				s = v
			}
			if kw.Name == "sep" {
				sep = s
			} else {
				end = s
			}
		case "file":
			if kw.Value != vm.None {
				file = kw.Value
			}
		case "flush":
		default:
			return nil, vm.NewTypeError("'%s' is an invalid keyword argument for print()", kw.Name)
		}
	}
	var b strings.Builder
	for i, a := range args.Pos {
		if i > 0 {
			b.WriteString(sep)
		}
		s, err := vm.Str(a)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	b.WriteString(end)
	return vm.None, vm.writeTo(file, b.String())
}

// writeTo writes s to a file-like object, or to sys.stdout when file is
// nil.
func (vm *VM) writeTo(file *Object, s string) error {
	if file == nil {
		file = vm.sysAttr("stdout")
	}
	if file == nil || file == vm.None {
		_, err := io.WriteString(vm.settings.Stdout, s)
		return err
	}
	if w, ok := file.Payload.(io.Writer); ok {
		_, err := io.WriteString(w, s)
		return err
	}
	_, err := vm.CallMethod(file, "write", vm.NewStr(s))
	return err
}

func builtinLen(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("len", args, 1, 1); err != nil {
		return nil, err
	}
	n, err := vm.Len(args.Pos[0])
	if err != nil {
		return nil, err
	}
	return vm.NewInt(int64(n)), nil
}

func builtinRepr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("repr", args, 1, 1); err != nil {
		return nil, err
	}
	return vm.ReprObject(args.Pos[0])
}

func builtinASCII(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("ascii", args, 1, 1); err != nil {
		return nil, err
	}
	s, err := vm.Repr(args.Pos[0])
	if err != nil {
		return nil, err
	}
	return vm.NewStr(asciiEscape(s)), nil
}

func builtinFormat(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("format", args, 1, 2); err != nil {
		return nil, err
	}
	spec := ""
	if len(args.Pos) == 2 {
		s, err := vm.strArg("format", args.Pos[1])
		if err != nil {
			return nil, err
		}
		spec = s
	}
	return vm.Format(args.Pos[0], spec)
}

func builtinAbs(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("abs", args, 1, 1); err != nil {
		return nil, err
	}
	res, found, err := vm.callSpecial(args.Pos[0], "__abs__")
	if !found {
		return nil, vm.NewTypeError("bad operand type for abs(): '%s'", args.Pos[0].typ.Name)
	}
	return res, err
}

func builtinRound(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("round", args, []string{"number", "ndigits"}, 1)
	if err != nil {
		return nil, err
	}
	var extra []*Object
	if bound[1] != nil && bound[1] != vm.None {
		extra = append(extra, bound[1])
	}
	res, found, err := vm.callSpecial(bound[0], "__round__", extra...)
	if !found {
		return nil, vm.NewTypeError("type %s doesn't define __round__ method", bound[0].typ.Name)
	}
	return res, err
}

func builtinDivmod(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("divmod", args, 2, 2); err != nil {
		return nil, err
	}
	a, b := args.Pos[0], args.Pos[1]
	q, err := vm.BinaryOp(a, b, bytecode.OpFloorDivide)
	if err != nil {
		return nil, err
	}
	r, err := vm.BinaryOp(a, b, bytecode.OpModulo)
	if err != nil {
		return nil, err
	}
	return vm.NewTuple([]*Object{q, r}), nil
}

func builtinPow(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("pow", args, []string{"base", "exp", "mod"}, 2)
	if err != nil {
		return nil, err
	}
	if bound[2] == nil || bound[2] == vm.None {
		return vm.BinaryOp(bound[0], bound[1], bytecode.OpPower)
	}
	base, ok1 := asInt(bound[0])
	exp, ok2 := asInt(bound[1])
	mod, ok3 := asInt(bound[2])
	if !ok1 || !ok2 || !ok3 {
		return nil, vm.NewTypeError("pow() 3rd argument not allowed unless all arguments are integers")
	}
	if mod == 0 {
		return nil, vm.NewValueError("pow() 3rd argument cannot be 0")
	}
	if exp < 0 {
		return nil, vm.NewValueError("pow() 2nd argument cannot be negative when 3rd argument specified")
	}
	m := absInt(mod)
	result, b := int64(1)%m, floorMod(base, m)
	for ; exp > 0; exp >>= 1 {
		if exp&1 == 1 {
			result = mulMod(result, b, m)
		}
		b = mulMod(b, b, m)
	}
	if mod < 0 && result != 0 {
		result += mod
	}
	return vm.NewInt(result), nil
}

// mulMod computes a*b mod m for 0 <= a, b < m without overflow.
func mulMod(a, b, m int64) int64 {
	var r int64
	for a %= m; b > 0; b >>= 1 {
		if b&1 == 1 {
			r = (r + a) % m
		}
		a = (a * 2) % m
	}
	return r
}

func radixFormatter(name string, base int, prefix string) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		v, err := vm.Index(args.Pos[0])
		if err != nil {
			return nil, err
		}
		sign := ""
		if v < 0 {
			sign = "-"
		}
		return vm.NewStr(sign + prefix + strconv.FormatUint(absUint(v), base)), nil
	}
}

func builtinChr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("chr", args, 1, 1); err != nil {
		return nil, err
	}
	v, err := vm.Index(args.Pos[0])
	if err != nil {
		return nil, err
	}
	if v < 0 || v > utf8.MaxRune {
		return nil, vm.NewValueError("chr() arg not in range(0x110000)")
	}
	return vm.NewStr(string(rune(v))), nil
}

func builtinOrd(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("ord", args, 1, 1); err != nil {
		return nil, err
	}
	switch p := args.Pos[0].Payload.(type) {
	case string:
		if n := utf8.RuneCountInString(p); n != 1 {
			return nil, vm.NewTypeError("ord() expected a character, but string of length %d found", n)
		}
		r, _ := utf8.DecodeRuneInString(p)
		return vm.NewInt(int64(r)), nil
	case []byte:
		if len(p) != 1 {
			return nil, vm.NewTypeError("ord() expected a character, but string of length %d found", len(p))
		}
		return vm.NewInt(int64(p[0])), nil
	}
	return nil, vm.NewTypeError("ord() expected string of length 1, but %s found", args.Pos[0].typ.Name)
}

// ---------------------------------------------------------------------------
// Reductions
// ---------------------------------------------------------------------------

func minMax(name string, op bytecode.ComparisonOperator) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		key, dflt := args.Kwarg("key"), args.Kwarg("default")
		for _, kw := range args.Kw {
			if kw.Name != "key" && kw.Name != "default" {
				return nil, vm.NewTypeError("%s() got an unexpected keyword argument '%s'", name, kw.Name)
			}
		}
		if key == vm.None {
			key = nil
		}
		var items []*Object
		switch len(args.Pos) {
		case 0:
			return nil, vm.NewTypeError("%s expected 1 arguments, got 0", name)
		case 1:
			var err error
			if items, err = vm.ToSlice(args.Pos[0]); err != nil {
				return nil, err
			}
		default:
			if dflt != nil {
				return nil, vm.NewTypeError("Cannot specify a default for %s() with multiple positional arguments", name)
			}
			items = args.Pos
		}
		if len(items) == 0 {
			if dflt != nil {
				return dflt, nil
			}
			return nil, vm.NewValueError("%s() arg is an empty sequence", name)
		}
		var best, bestKey *Object
		for _, x := range items {
			k := x
			if key != nil {
				var err error
				if k, err = vm.CallPositional(key, x); err != nil {
					return nil, err
				}
			}
			if best == nil {
				best, bestKey = x, k
				continue
			}
			better, err := vm.RichCompareBool(k, bestKey, op)
			if err != nil {
				return nil, err
			}
			if better {
				best, bestKey = x, k
			}
		}
		return best, nil
	}
}

func builtinSum(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("sum", args, []string{"iterable", "start"}, 1)
	if err != nil {
		return nil, err
	}
	acc := vm.NewInt(0)
	if bound[1] != nil {
		acc = bound[1]
		switch acc.typ {
		case vm.StrType:
			return nil, vm.NewTypeError("sum() can't sum strings [use ''.join(seq) instead]")
		case vm.BytesType:
			return nil, vm.NewTypeError("sum() can't sum bytes [use b''.join(seq) instead]")
		}
	}
	err = vm.Iterate(bound[0], func(x *Object) (bool, error) {
		var err error
		acc, err = vm.Add(acc, x)
		return err == nil, err
	})
	return acc, err
}

func anyAll(name string, want bool) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		found := false
		err := vm.Iterate(args.Pos[0], func(x *Object) (bool, error) {
			t, err := vm.Truthy(x)
			if err != nil {
				return false, err
			}
			if t == want {
				found = true
				return false, nil
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return vm.NewBool(found == want), nil
	}
}

func builtinSorted(vm *VM, args Args) (*Object, error) {
	if len(args.Pos) != 1 {
		return nil, vm.NewTypeError("sorted expected 1 argument, got %d", len(args.Pos))
	}
	items, err := vm.ToSlice(args.Pos[0])
	if err != nil {
		return nil, err
	}
	var key *Object
	reverse := false
	for _, kw := range args.Kw {
		switch kw.Name {
		case "key":
			if kw.Value != vm.None {
				key = kw.Value
			}
		case "reverse":
			if reverse, err = vm.Truthy(kw.Value); err != nil {
				return nil, err
			}
		default:
			return nil, vm.NewTypeError("'%s' is an invalid keyword argument for sort()", kw.Name)
		}
	}
	sorted, err := vm.sortItems(items, key, reverse)
	if err != nil {
		return nil, err
	}
	return vm.NewList(sorted), nil
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

func builtinReversed(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("reversed", args, 1, 1); err != nil {
		return nil, err
	}
	seq := args.Pos[0]
	if res, found, err := vm.callSpecial(seq, "__reversed__"); found {
		return res, err
	}
	if items, ok := sequenceItems(seq); ok {
		snapshot := slices.Clone(items)
		slices.Reverse(snapshot)
		return vm.iteratorOver(snapshot), nil
	}
	if seq.typ.mroFindSlot(hasLen) == nil || seq.typ.mroFindSlot(hasGetItem) == nil || seq.typ.IsSubtype(vm.DictType) {
		return nil, vm.NewTypeError("'%s' object is not reversible", seq.typ.Name)
	}
	n, err := vm.Len(seq)
	if err != nil {
		return nil, err
	}
	i := n - 1
	return vm.newIterator(func(vm *VM) (*Object, error) {
		if i < 0 {
			return nil, nil
		}
		i--
		return vm.GetItem(seq, vm.NewInt(int64(i+1)))
	}), nil
}

func builtinEnumerate(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("enumerate", args, []string{"iterable", "start"}, 1)
	if err != nil {
		return nil, err
	}
	it, err := vm.Iter(bound[0])
	if err != nil {
		return nil, err
	}
	var n int64
	if bound[1] != nil {
		if n, err = vm.Index(bound[1]); err != nil {
			return nil, err
		}
	}
	return vm.newIterator(func(vm *VM) (*Object, error) {
		x, err := vm.Next(it)
		if err != nil || x == nil {
			return nil, err
		}
		n++
		return vm.NewTuple([]*Object{vm.NewInt(n - 1), x}), nil
	}), nil
}

func builtinZip(vm *VM, args Args) (*Object, error) {
	if len(args.Kw) > 0 {
		return nil, vm.NewTypeError("zip() takes no keyword arguments")
	}
	its := make([]*Object, len(args.Pos))
	for i, a := range args.Pos {
		it, err := vm.Iter(a)
		if err != nil {
			if vm.errorMatches(err, vm.Exceptions.TypeError) {
				return nil, vm.NewTypeError("zip argument #%d must support iteration", i+1)
			}
			return nil, err
		}
		its[i] = it
	}
	return vm.newIterator(func(vm *VM) (*Object, error) {
		if len(its) == 0 {
			return nil, nil
		}
		row := make([]*Object, len(its))
		for i, it := range its {
			x, err := vm.Next(it)
			if err != nil || x == nil {
				return nil, err
			}
			row[i] = x
		}
		return vm.NewTuple(row), nil
	}), nil
}

func builtinMap(vm *VM, args Args) (*Object, error) {
	if len(args.Kw) > 0 {
		return nil, vm.NewTypeError("map() takes no keyword arguments")
	}
	if len(args.Pos) < 2 {
		return nil, vm.NewTypeError("map() must have at least two arguments.")
	}
	fn := args.Pos[0]
	its := make([]*Object, len(args.Pos)-1)
	for i, a := range args.Pos[1:] {
		it, err := vm.Iter(a)
		if err != nil {
			return nil, err
		}
		its[i] = it
	}
	return vm.newIterator(func(vm *VM) (*Object, error) {
		row := make([]*Object, len(its))
		for i, it := range its {
			x, err := vm.Next(it)
			if err != nil || x == nil {
				return nil, err
			}
			row[i] = x
		}
		return vm.Call(fn, Args{Pos: row})
	}), nil
}

func builtinFilter(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("filter", args, 2, 2); err != nil {
		return nil, err
	}
	pred := args.Pos[0]
	it, err := vm.Iter(args.Pos[1])
	if err != nil {
		return nil, err
	}
	return vm.newIterator(func(vm *VM) (*Object, error) {
		for {
			x, err := vm.Next(it)
			if err != nil || x == nil {
				return nil, err
			}
			test := x
			if pred != vm.None {
				if test, err = vm.CallPositional(pred, x); err != nil {
					return nil, err
				}
			}
			ok, err := vm.Truthy(test)
			if err != nil {
				return nil, err
			}
			if ok {
				return x, nil
			}
		}
	}), nil
}

func builtinIter(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("iter", args, 1, 2); err != nil {
		return nil, err
	}
	if len(args.Pos) == 1 {
		return vm.Iter(args.Pos[0])
	}
	fn, sentinel := args.Pos[0], args.Pos[1]
	if !vm.IsCallable(fn) {
		return nil, vm.NewTypeError("iter(v, w): v must be callable")
	}
	return vm.newIterator(func(vm *VM) (*Object, error) {
		x, err := vm.CallPositional(fn)
		if err != nil {
			if vm.errorMatches(err, vm.Exceptions.StopIteration) {
				return nil, nil
			}
			return nil, err
		}
		eq, err := vm.Equal(x, sentinel)
		if err != nil || eq {
			return nil, err
		}
		return x, nil
	}), nil
}

func builtinNext(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("next", args, 1, 2); err != nil {
		return nil, err
	}
	it := args.Pos[0]
	if it.typ.mroFindSlot(hasIterNext) == nil {
		return nil, vm.NewTypeError("'%s' object is not an iterator", it.typ.Name)
	}
	if c, ok := vm.coroOf(it); ok {
		// A generator's return value travels on the StopIteration.
		x, err := vm.coroResult(c.send(vm, vm.None))
		if err != nil && len(args.Pos) == 2 && vm.errorMatches(err, vm.Exceptions.StopIteration) {
			return args.Pos[1], nil
		}
		return x, err
	}
	x, err := vm.Next(it)
	if err != nil {
		return nil, err
	}
	if x == nil {
		if len(args.Pos) == 2 {
			return args.Pos[1], nil
		}
		return nil, vm.NewStopIteration(nil)
	}
	return x, nil
}

// ---------------------------------------------------------------------------
// Identity, types and attributes
// ---------------------------------------------------------------------------

func builtinHash(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("hash", args, 1, 1); err != nil {
		return nil, err
	}
	h, err := vm.Hash(args.Pos[0])
	if err != nil {
		return nil, err
	}
	return vm.NewInt(h), nil
}

func builtinID(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("id", args, 1, 1); err != nil {
		return nil, err
	}
	return vm.NewInt(args.Pos[0].id()), nil
}

func builtinIsInstance(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("isinstance", args, 2, 2); err != nil {
		return nil, err
	}
	ok, err := vm.isInstanceOf(args.Pos[0], args.Pos[1])
	if err != nil {
		return nil, err
	}
	return vm.NewBool(ok), nil
}

func builtinIsSubclass(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("issubclass", args, 2, 2); err != nil {
		return nil, err
	}
	t, ok := asType(args.Pos[0])
	if !ok {
		return nil, vm.NewTypeError("issubclass() arg 1 must be a class")
	}
	res, err := vm.isSubclassOf(t, args.Pos[1])
	if err != nil {
		return nil, err
	}
	return vm.NewBool(res), nil
}

func builtinCallable(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("callable", args, 1, 1); err != nil {
		return nil, err
	}
	return vm.NewBool(vm.IsCallable(args.Pos[0])), nil
}

func builtinGetAttr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("getattr", args, 2, 3); err != nil {
		return nil, err
	}
	name, err := vm.attrName(args.Pos[1])
	if err != nil {
		return nil, err
	}
	v, err := vm.GetAttr(args.Pos[0], name)
	if err != nil && len(args.Pos) == 3 && vm.errorMatches(err, vm.Exceptions.AttributeError) {
		return args.Pos[2], nil
	}
	return v, err
}

func builtinSetAttr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("setattr", args, 3, 3); err != nil {
		return nil, err
	}
	name, err := vm.attrName(args.Pos[1])
	if err != nil {
		return nil, err
	}
	return vm.None, vm.SetAttr(args.Pos[0], name, args.Pos[2])
}

func builtinHasAttr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("hasattr", args, 2, 2); err != nil {
		return nil, err
	}
	name, err := vm.attrName(args.Pos[1])
	if err != nil {
		return nil, err
	}
	_, err = vm.GetAttr(args.Pos[0], name)
	if err != nil {
		if vm.errorMatches(err, vm.Exceptions.AttributeError) {
			return vm.False, nil
		}
		return nil, err
	}
	return vm.True, nil
}

func builtinDelAttr(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("delattr", args, 2, 2); err != nil {
		return nil, err
	}
	name, err := vm.attrName(args.Pos[1])
	if err != nil {
		return nil, err
	}
	return vm.None, vm.DelAttr(args.Pos[0], name)
}

func (vm *VM) callerFrame(name string) (*Frame, error) {
	f := vm.currentFrame()
	if f == nil {
		return nil, vm.NewSystemError("%s(): no current frame", name)
	}
	return f, nil
}

func builtinGlobals(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("globals", args, 0, 0); err != nil {
		return nil, err
	}
	f, err := vm.callerFrame("globals")
	if err != nil {
		return nil, err
	}
	return vm.NewDict(f.Globals), nil
}

func builtinLocals(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("locals", args, 0, 0); err != nil {
		return nil, err
	}
	f, err := vm.callerFrame("locals")
	if err != nil {
		return nil, err
	}
	return f.localsMapping(vm), nil
}

func builtinVars(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("vars", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args.Pos) == 0 {
		return builtinLocals(vm, Args{})
	}
	d, err := vm.GetAttr(args.Pos[0], "__dict__")
	if err != nil {
		if vm.errorMatches(err, vm.Exceptions.AttributeError) {
			return nil, vm.NewTypeError("vars() argument must have __dict__ attribute")
		}
		return nil, err
	}
	return d, nil
}

func builtinDir(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("dir", args, 0, 1); err != nil {
		return nil, err
	}
	var names []*Object
	if len(args.Pos) == 0 {
		f, err := vm.callerFrame("dir")
		if err != nil {
			return nil, err
		}
		if names, err = vm.ToSlice(f.localsMapping(vm)); err != nil {
			return nil, err
		}
	} else {
		res, found, err := vm.callSpecial(args.Pos[0], "__dir__")
		if !found {
			return nil, vm.NewTypeError("object does not provide __dir__")
		}
		if err != nil {
			return nil, err
		}
		if names, err = vm.ToSlice(res); err != nil {
			return nil, err
		}
	}
	sorted, err := vm.sortItems(names, nil, false)
	if err != nil {
		return nil, err
	}
	return vm.NewList(sorted), nil
}

// ---------------------------------------------------------------------------
// Dynamic code
// ---------------------------------------------------------------------------

func builtinImport(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("__import__", args, []string{"name", "globals", "locals", "fromlist", "level"}, 1)
	if err != nil {
		return nil, err
	}
	name, err := vm.strArg("__import__", bound[0])
	if err != nil {
		return nil, err
	}
	var globals *Dict
	if bound[1] != nil && bound[1] != vm.None {
		if globals, err = DictValue(bound[1]); err != nil {
			return nil, err
		}
	}
	fromlist := orNone(vm, bound[3])
	level := bound[4]
	if level == nil {
		level = vm.NewInt(0)
	}
	return vm.importName(name, globals, fromlist, level)
}

// codeArg turns the first argument of exec, eval and compile into a code
// object.
func (vm *VM) codeArg(fname string, src *Object, mode bytecode.Mode, path string, optimize uint8) (*bytecode.CodeObject, error) {
	var source string
	switch p := src.Payload.(type) {
	case *Code:
		return p.Code, nil
	case string:
		source = p
	case []byte:
		source = string(p)
	default:
		return nil, vm.NewTypeError("%s() arg 1 must be a string, bytes or code object", fname)
	}
	if mode == bytecode.ModeEval {
		source = strings.TrimLeft(source, " \t")
	}
	code, err := compiler.CompileSource(source, mode, path, compiler.CompileOpts{Optimize: optimize})
	if err != nil {
		return nil, vm.syntaxError(err, source)
	}
	return code, nil
}

// namespaces resolves the globals and locals arguments of exec and eval,
// defaulting to the caller's.
func (vm *VM) namespaces(fname string, g, l *Object) (*Dict, *Object, error) {
	if g == nil || g == vm.None {
		f, err := vm.callerFrame(fname)
		if err != nil {
			return nil, nil, err
		}
		if l == nil || l == vm.None {
			l = f.localsMapping(vm)
		}
		return f.Globals, l, nil
	}
	globals, ok := asDict(g)
	if !ok {
		return nil, nil, vm.NewTypeError("%s() globals must be a dict, not %s", fname, g.typ.Name)
	}
	if l == nil || l == vm.None {
		l = g
	} else if l.typ.mroFindSlot(hasGetItem) == nil {
		return nil, nil, vm.NewTypeError("locals must be a mapping")
	}
	return globals, l, nil
}

func builtinExec(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("exec", args, []string{"source", "globals", "locals"}, 1)
	if err != nil {
		return nil, err
	}
	globals, locals, err := vm.namespaces("exec", bound[1], bound[2])
	if err != nil {
		return nil, err
	}
	code, err := vm.codeArg("exec", bound[0], bytecode.ModeExec, "<string>", vm.settings.Optimize)
	if err != nil {
		return nil, err
	}
	if globals.GetStr("__builtins__") == nil {
		globals.SetStr(vm.Context, "__builtins__", vm.builtins)
	}
	if _, err := vm.runFrame(vm.newFrame(code, globals, locals, nil)); err != nil {
		return nil, err
	}
	return vm.None, nil
}

func builtinEval(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("eval", args, []string{"source", "globals", "locals"}, 1)
	if err != nil {
		return nil, err
	}
	globals, locals, err := vm.namespaces("eval", bound[1], bound[2])
	if err != nil {
		return nil, err
	}
	code, err := vm.codeArg("eval", bound[0], bytecode.ModeEval, "<string>", vm.settings.Optimize)
	if err != nil {
		return nil, err
	}
	if globals.GetStr("__builtins__") == nil {
		globals.SetStr(vm.Context, "__builtins__", vm.builtins)
	}
	return vm.runFrame(vm.newFrame(code, globals, locals, nil))
}

func builtinCompile(vm *VM, args Args) (*Object, error) {
	bound, err := vm.bindArgs("compile", args,
		[]string{"source", "filename", "mode", "flags", "dont_inherit", "optimize"}, 3)
	if err != nil {
		return nil, err
	}
	filename, err := vm.strArg("compile", bound[1])
	if err != nil {
		return nil, err
	}
	modeName, err := vm.strArg("compile", bound[2])
	if err != nil {
		return nil, err
	}
	mode, err := bytecode.ParseMode(modeName)
	if err != nil {
		return nil, vm.NewValueError("compile() mode must be 'exec', 'eval' or 'single'")
	}
	optimize := vm.settings.Optimize
	if bound[5] != nil {
		n, err := vm.Index(bound[5])
		if err != nil {
			return nil, err
		}
		if n >= 0 {
			optimize = uint8(min(n, 2))
		}
	}
	code, err := vm.codeArg("compile", bound[0], mode, filename, optimize)
	if err != nil {
		return nil, err
	}
	return vm.NewCode(code), nil
}
