package vm

import (
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// int and bool
// ---------------------------------------------------------------------------

func (c *Context) initNumbers() {
	i := c.IntType
	i.Doc = "int(x=0) -> integer\nint(x, base=10) -> integer"
	i.Slots = TypeSlots{
		Hash:        intHash,
		RichCompare: numberRichCompare,
		New:         intNew,
		Repr:        intRepr,
		Number: &NumberSlots{
			Binary: intBinary,
			Unary:  intUnary,
			Bool:   func(vm *VM, o *Object) (bool, error) { return o.Payload.(int64) != 0, nil },
			Index:  func(vm *VM, o *Object) (int64, error) { return o.Payload.(int64), nil },
			Int:    func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(int64)), nil },
			Float:  func(vm *VM, o *Object) (float64, error) { return float64(o.Payload.(int64)), nil },
		},
	}
	c.addMethods(i, []methodDef{
		{name: "bit_length", fn: intBitLength},
		{name: "conjugate", fn: intIdentity},
		{name: "__trunc__", fn: intIdentity},
		{name: "__floor__", fn: intIdentity},
		{name: "__ceil__", fn: intIdentity},
		{name: "__abs__", fn: intAbs},
		{name: "__round__", fn: intRound},
		{name: "__format__", fn: intFormat},
		{name: "__getnewargs__", fn: func(vm *VM, args Args) (*Object, error) {
			v, err := receiver[int64](vm, args, "int")
			if err != nil {
				return nil, err
			}
			return vm.NewTuple([]*Object{vm.NewInt(v)}), nil
		}},
	})
	c.addGetSets(i, []getsetDef{
		{name: "real", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(int64)), nil }},
		{name: "imag", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(0), nil }},
		{name: "numerator", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(o.Payload.(int64)), nil }},
		{name: "denominator", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewInt(1), nil }},
	})

	b := c.BoolType
	b.Doc = "bool(x) -> bool"
	b.Slots = TypeSlots{
		New:  boolNew,
		Repr: boolRepr,
		Number: &NumberSlots{
			Binary: boolBinary,
		},
	}

	f := c.FloatType
	f.Doc = "float(x=0) -> floating point number"
	f.Slots = TypeSlots{
		Hash:        floatHash,
		RichCompare: numberRichCompare,
		New:         floatNew,
		Repr:        floatRepr,
		Number: &NumberSlots{
			Binary: floatBinary,
			Unary:  floatUnary,
			Bool:   func(vm *VM, o *Object) (bool, error) { return o.Payload.(float64) != 0, nil },
			Int:    floatToInt,
			Float:  func(vm *VM, o *Object) (float64, error) { return o.Payload.(float64), nil },
		},
	}
	c.addMethods(f, []methodDef{
		{name: "is_integer", fn: floatIsInteger},
		{name: "conjugate", fn: floatIdentity},
		{name: "__trunc__", fn: floatTrunc},
		{name: "__floor__", fn: floatFloor},
		{name: "__ceil__", fn: floatCeil},
		{name: "__abs__", fn: floatAbs},
		{name: "__round__", fn: floatRound},
		{name: "__format__", fn: floatFormat},
	})
	c.addGetSets(f, []getsetDef{
		{name: "real", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewFloat(o.Payload.(float64)), nil }},
		{name: "imag", get: func(vm *VM, o *Object) (*Object, error) { return vm.NewFloat(0), nil }},
	})
}

// hashInt is the hash of an integer: the value itself, with -1 reserved.
func hashInt(v int64) int64 {
	if v == -1 {
		return -2
	}
	return v
}

func intHash(vm *VM, o *Object) (int64, error) {
	return hashInt(o.Payload.(int64)), nil
}

func intRepr(vm *VM, o *Object) (string, error) {
	return strconv.FormatInt(o.Payload.(int64), 10), nil
}

func boolRepr(vm *VM, o *Object) (string, error) {
	if o.Payload.(int64) != 0 {
		return "True", nil
	}
	return "False", nil
}

// toNumber returns the value of an int, bool or float operand.
func toNumber(o *Object) (i int64, f float64, isFloat, ok bool) {
	switch v := o.Payload.(type) {
	case int64:
		return v, float64(v), false, true
	case float64:
		return 0, v, true, true
	}
	return 0, 0, false, false
}

func numberRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	ai, af, aFloat, ok := toNumber(a)
	if !ok {
		return vm.NotImplemented, nil
	}
	bi, bf, bFloat, ok := toNumber(b)
	if !ok {
		return vm.NotImplemented, nil
	}
	var cmp int
	if !aFloat && !bFloat {
		cmp = compareOrdered(ai, bi)
	} else {
		if math.IsNaN(af) || math.IsNaN(bf) {
			return vm.NewBool(op == bytecode.CmpNotEqual), nil
		}
		cmp = compareOrdered(af, bf)
	}
	return vm.NewBool(cmpResult(cmp, op)), nil
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpResult maps a three-way comparison onto a rich comparison operator.
func cmpResult(cmp int, op bytecode.ComparisonOperator) bool {
	switch op {
	case bytecode.CmpLess:
		return cmp < 0
	case bytecode.CmpLessOrEqual:
		return cmp <= 0
	case bytecode.CmpEqual:
		return cmp == 0
	case bytecode.CmpNotEqual:
		return cmp != 0
	case bytecode.CmpGreater:
		return cmp > 0
	case bytecode.CmpGreaterOrEqual:
		return cmp >= 0
	}
	return false
}

func intNew(vm *VM, cls *Type, args Args) (*Object, error) {
	params, err := vm.bindArgs("int", args, []string{"x", "base"}, 0)
	if err != nil {
		return nil, err
	}
	var v int64
	switch x, base := params[0], params[1]; {
	case x == nil:
		if base != nil {
			return nil, vm.NewTypeError("int() missing string argument")
		}
	case base != nil:
		b, err := vm.Index(base)
		if err != nil {
			return nil, err
		}
		if b != 0 && (b < 2 || b > 36) {
			return nil, vm.NewValueError("int() base must be >= 2 and <= 36, or 0")
		}
		s, ok := textOf(x)
		if !ok {
			return nil, vm.NewTypeError("int() can't convert non-string with explicit base")
		}
		if v, err = vm.parseInt(s, int(b)); err != nil {
			return nil, err
		}
	default:
		if v, err = vm.toInt(x); err != nil {
			return nil, err
		}
	}
	if cls == vm.IntType {
		return vm.NewInt(v), nil
	}
	return vm.newObject(cls, v), nil
}

// textOf returns the text of a str or bytes object.
func textOf(o *Object) (string, bool) {
	switch v := o.Payload.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

// toInt implements the conversion done by int(x).
func (vm *VM) toInt(x *Object) (int64, error) {
	switch v := x.Payload.(type) {
	case int64:
		return v, nil
	case float64:
		return vm.floatToInt64(v)
	case string:
		return vm.parseInt(v, 10)
	case []byte:
		return vm.parseInt(string(v), 10)
	}
	if s := x.typ.mroFindSlot(hasIntConv); s != nil {
		r, err := s.Number.Int(vm, x)
		if err == nil {
			return r.Payload.(int64), nil
		}
		if !isProtocolError(err) {
			return 0, err
		}
	}
	if res, found, err := vm.callSpecial(x, "__trunc__"); found {
		if err != nil {
			return 0, err
		}
		return vm.Index(res)
	}
	if s := x.typ.mroFindSlot(hasIndex); s != nil {
		v, err := s.Number.Index(vm, x)
		if !isProtocolError(err) {
			return v, err
		}
	}
	return 0, vm.NewTypeError("int() argument must be a string, a bytes-like object or a number, not '%s'", x.typ.Name)
}

func (vm *VM) floatToInt64(f float64) (int64, error) {
	switch {
	case math.IsNaN(f):
		return 0, vm.NewValueError("cannot convert float NaN to integer")
	case math.IsInf(f, 0):
		return 0, vm.NewOverflowError("cannot convert float infinity to integer")
	}
	t := math.Trunc(f)
	if t < -9.223372036854775808e18 || t >= 9.223372036854775808e18 {
		return 0, vm.NewOverflowError("int too large to convert to int64")
	}
	return int64(t), nil
}

// parseInt parses an integer literal the way int(s, base) does: surrounding
// whitespace, a sign, a base prefix and single underscores between digits
// are accepted.
func (vm *VM) parseInt(s string, base int) (int64, error) {
	invalid := func() error {
		return vm.NewValueError("invalid literal for int() with base %d: %s", base, quoteStr(s))
	}
	t := strings.TrimSpace(s)
	neg := false
	if t != "" && (t[0] == '+' || t[0] == '-') {
		neg = t[0] == '-'
		t = t[1:]
	}
	lower := strings.ToLower(t)
	prefixBase := 0
	if len(lower) > 1 && lower[0] == '0' {
		switch lower[1] {
		case 'x':
			prefixBase = 16
		case 'o':
			prefixBase = 8
		case 'b':
			prefixBase = 2
		}
	}
	b := base
	if prefixBase != 0 && (base == 0 || base == prefixBase) {
		b = prefixBase
		t = t[2:]
		if strings.HasPrefix(t, "_") {
			t = t[1:]
		}
	} else if base == 0 {
		b = 10
		if len(t) > 1 && t[0] == '0' && strings.Trim(t, "0_") != "" {
			return 0, invalid()
		}
	}
	if t == "" || strings.HasPrefix(t, "_") || strings.HasSuffix(t, "_") || strings.Contains(t, "__") {
		return 0, invalid()
	}
	t = strings.ReplaceAll(t, "_", "")
	u, err := strconv.ParseUint(t, b, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, vm.NewOverflowError("int too large to convert to int64")
		}
		return 0, invalid()
	}
	if neg {
		if u > 1<<63 {
			return 0, vm.NewOverflowError("int too large to convert to int64")
		}
		return int64(-u), nil
	}
	if u > math.MaxInt64 {
		return 0, vm.NewOverflowError("int too large to convert to int64")
	}
	return int64(u), nil
}

func intBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	a := self.Payload.(int64)
	switch o := other.Payload.(type) {
	case int64:
		if reflected {
			return vm.intOp(o, a, op)
		}
		return vm.intOp(a, o, op)
	case float64:
		if reflected {
			return vm.floatOp(o, float64(a), op)
		}
		return vm.floatOp(float64(a), o, op)
	}
	return vm.NotImplemented, nil
}

func (vm *VM) intOverflow() error {
	return vm.NewOverflowError("integer overflow")
}

// intOp computes a <op> b on 64-bit integers, raising OverflowError when
// the result does not fit.
func (vm *VM) intOp(a, b int64, op bytecode.BinaryOperator) (*Object, error) {
	switch op {
	case bytecode.OpAdd:
		r := a + b
		if (r > a) != (b > 0) {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(r), nil
	case bytecode.OpSubtract:
		r := a - b
		if (r < a) != (b > 0) {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(r), nil
	case bytecode.OpMultiply:
		r, ok := mulInt(a, b)
		if !ok {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(r), nil
	case bytecode.OpDivide:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("division by zero")
		}
		return vm.NewFloat(float64(a) / float64(b)), nil
	case bytecode.OpFloorDivide:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("integer division or modulo by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(floorDiv(a, b)), nil
	case bytecode.OpModulo:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("integer division or modulo by zero")
		}
		if b == -1 {
			return vm.NewInt(0), nil
		}
		return vm.NewInt(floorMod(a, b)), nil
	case bytecode.OpPower:
		if b < 0 {
			if a == 0 {
				return nil, vm.NewZeroDivisionError("0.0 cannot be raised to a negative power")
			}
			return vm.NewFloat(math.Pow(float64(a), float64(b))), nil
		}
		r, ok := powInt(a, b)
		if !ok {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(r), nil
	case bytecode.OpLshift:
		if b < 0 {
			return nil, vm.NewValueError("negative shift count")
		}
		if a == 0 {
			return vm.NewInt(0), nil
		}
		if b >= 63 || (a<<b)>>b != a {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(a << b), nil
	case bytecode.OpRshift:
		if b < 0 {
			return nil, vm.NewValueError("negative shift count")
		}
		if b >= 63 {
			b = 63
		}
		return vm.NewInt(a >> b), nil
	case bytecode.OpAnd:
		return vm.NewInt(a & b), nil
	case bytecode.OpOr:
		return vm.NewInt(a | b), nil
	case bytecode.OpXor:
		return vm.NewInt(a ^ b), nil
	}
	return vm.NotImplemented, nil
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(uint64(absInt(a)), uint64(absInt(b)))
	neg := (a < 0) != (b < 0)
	if hi != 0 || (a == math.MinInt64 || b == math.MinInt64) && !(neg && lo == 1<<63) {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return int64(-lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func powInt(a, b int64) (int64, bool) {
	r := int64(1)
	for b > 0 {
		if b&1 == 1 {
			var ok bool
			if r, ok = mulInt(r, a); !ok {
				return 0, false
			}
		}
		b >>= 1
		if b > 0 {
			var ok bool
			if a, ok = mulInt(a, a); !ok {
				return 0, false
			}
		}
	}
	return r, true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

func intUnary(vm *VM, self *Object, op bytecode.UnaryOperator) (*Object, error) {
	v := self.Payload.(int64)
	switch op {
	case bytecode.OpMinus:
		if v == math.MinInt64 {
			return nil, vm.intOverflow()
		}
		return vm.NewInt(-v), nil
	case bytecode.OpPlus:
		return vm.NewInt(v), nil
	case bytecode.OpInvert:
		return vm.NewInt(^v), nil
	}
	return nil, protocolError("unary operator", self)
}

func boolNew(vm *VM, cls *Type, args Args) (*Object, error) {
	if err := vm.expectArgs("bool", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args.Pos) == 0 {
		return vm.False, nil
	}
	t, err := vm.Truthy(args.Pos[0])
	if err != nil {
		return nil, err
	}
	return vm.NewBool(t), nil
}

// boolBinary keeps &, | and ^ of two bools in bool and defers everything
// else to int.
func boolBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	if other.typ == vm.BoolType {
		a, b := self.Payload.(int64) != 0, other.Payload.(int64) != 0
		switch op {
		case bytecode.OpAnd:
			return vm.NewBool(a && b), nil
		case bytecode.OpOr:
			return vm.NewBool(a || b), nil
		case bytecode.OpXor:
			return vm.NewBool(a != b), nil
		}
	}
	return intBinary(vm, self, other, op, reflected)
}

func intBitLength(vm *VM, args Args) (*Object, error) {
	v, err := receiver[int64](vm, args, "int")
	if err != nil {
		return nil, err
	}
	return vm.NewInt(int64(bits.Len64(uint64(absInt(v))))), nil
}

func intIdentity(vm *VM, args Args) (*Object, error) {
	v, err := receiver[int64](vm, args, "int")
	if err != nil {
		return nil, err
	}
	return vm.NewInt(v), nil
}

func intAbs(vm *VM, args Args) (*Object, error) {
	v, err := receiver[int64](vm, args, "int")
	if err != nil {
		return nil, err
	}
	if v == math.MinInt64 {
		return nil, vm.intOverflow()
	}
	return vm.NewInt(absInt(v)), nil
}

// intRound rounds to a power of ten when ndigits is negative, half to
// even.
func intRound(vm *VM, args Args) (*Object, error) {
	v, err := receiver[int64](vm, args, "int")
	if err != nil {
		return nil, err
	}
	if len(args.Pos) < 2 || args.Pos[1] == vm.None {
		return vm.NewInt(v), nil
	}
	n, err := vm.Index(args.Pos[1])
	if err != nil {
		return nil, err
	}
	if n >= 0 {
		return vm.NewInt(v), nil
	}
	if n < -18 {
		return vm.NewInt(0), nil
	}
	p, _ := powInt(10, -n)
	q, r := floorDiv(v, p), floorMod(v, p)
	if 2*r > p || 2*r == p && q%2 != 0 {
		q++
	}
	res, ok := mulInt(q, p)
	if !ok {
		return nil, vm.intOverflow()
	}
	return vm.NewInt(res), nil
}

func intFormat(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("__format__", args, 2, 2); err != nil {
		return nil, err
	}
	v, err := receiver[int64](vm, args, "int")
	if err != nil {
		return nil, err
	}
	spec, err := vm.strArg("format", args.Pos[1])
	if err != nil {
		return nil, err
	}
	if args.Pos[0].typ == vm.BoolType && spec == "" {
		return vm.StrObject(args.Pos[0])
	}
	s, err := vm.formatInt(v, spec)
	if err != nil {
		return nil, err
	}
	return vm.NewStr(s), nil
}

// ---------------------------------------------------------------------------
// float
// ---------------------------------------------------------------------------

// floatHash agrees with intHash for integral values so that 1 == 1.0 keys
// collide.
func floatHash(vm *VM, o *Object) (int64, error) {
	f := o.Payload.(float64)
	if f == math.Trunc(f) && f >= -9.2e18 && f <= 9.2e18 {
		return hashInt(int64(f)), nil
	}
	if math.IsNaN(f) {
		return objectHash(vm, o)
	}
	return hashInt(int64(math.Float64bits(f) >> 1)), nil
}

func floatRepr(vm *VM, o *Object) (string, error) {
	return formatFloatRepr(o.Payload.(float64)), nil
}

func floatNew(vm *VM, cls *Type, args Args) (*Object, error) {
	if err := vm.expectArgs("float", args, 0, 1); err != nil {
		return nil, err
	}
	f := 0.0
	if len(args.Pos) == 1 {
		var err error
		if f, err = vm.toFloat(args.Pos[0]); err != nil {
			return nil, err
		}
	}
	if cls == vm.FloatType {
		return vm.NewFloat(f), nil
	}
	return vm.newObject(cls, f), nil
}

// toFloat implements the conversion done by float(x).
func (vm *VM) toFloat(x *Object) (float64, error) {
	switch v := x.Payload.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		return vm.parseFloat(v)
	case []byte:
		return vm.parseFloat(string(v))
	}
	if s := x.typ.mroFindSlot(hasFloatConv); s != nil {
		f, err := s.Number.Float(vm, x)
		if !isProtocolError(err) {
			return f, err
		}
	}
	if s := x.typ.mroFindSlot(hasIndex); s != nil {
		v, err := s.Number.Index(vm, x)
		if !isProtocolError(err) {
			return float64(v), err
		}
	}
	return 0, vm.NewTypeError("float() argument must be a string or a number, not '%s'", x.typ.Name)
}

func (vm *VM) parseFloat(s string) (float64, error) {
	t := strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimLeft(t, "+-")) {
	case "inf", "infinity":
		if strings.HasPrefix(t, "-") {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	case "nan":
		return math.NaN(), nil
	}
	if t == "" || strings.HasPrefix(t, "_") || strings.HasSuffix(t, "_") || strings.Contains(t, "__") ||
		strings.ContainsAny(t, "xXpP") {
		return 0, vm.NewValueError("could not convert string to float: %s", quoteStr(s))
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(t, "_", ""), 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, nil
		}
		return 0, vm.NewValueError("could not convert string to float: %s", quoteStr(s))
	}
	return f, nil
}

func floatBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	a := self.Payload.(float64)
	var b float64
	switch o := other.Payload.(type) {
	case float64:
		b = o
	case int64:
		b = float64(o)
	default:
		return vm.NotImplemented, nil
	}
	if reflected {
		a, b = b, a
	}
	return vm.floatOp(a, b, op)
}

func (vm *VM) floatOp(a, b float64, op bytecode.BinaryOperator) (*Object, error) {
	switch op {
	case bytecode.OpAdd:
		return vm.NewFloat(a + b), nil
	case bytecode.OpSubtract:
		return vm.NewFloat(a - b), nil
	case bytecode.OpMultiply:
		return vm.NewFloat(a * b), nil
	case bytecode.OpDivide:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("float division by zero")
		}
		return vm.NewFloat(a / b), nil
	case bytecode.OpFloorDivide:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("float divmod()")
		}
		return vm.NewFloat(math.Floor(a / b)), nil
	case bytecode.OpModulo:
		if b == 0 {
			return nil, vm.NewZeroDivisionError("float modulo")
		}
		return vm.NewFloat(floatMod(a, b)), nil
	case bytecode.OpPower:
		if a == 0 && b < 0 {
			return nil, vm.NewZeroDivisionError("0.0 cannot be raised to a negative power")
		}
		if a < 0 && b != math.Trunc(b) {
			return nil, vm.NewValueError("math domain error")
		}
		r := math.Pow(a, b)
		if math.IsInf(r, 0) && !math.IsInf(a, 0) && !math.IsInf(b, 0) {
			return nil, vm.NewOverflowError("(34, 'Numerical result out of range')")
		}
		return vm.NewFloat(r), nil
	}
	return vm.NotImplemented, nil
}

func floatMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	if m == 0 {
		m = math.Copysign(0, b)
	}
	return m
}

func floatUnary(vm *VM, self *Object, op bytecode.UnaryOperator) (*Object, error) {
	f := self.Payload.(float64)
	switch op {
	case bytecode.OpMinus:
		return vm.NewFloat(-f), nil
	case bytecode.OpPlus:
		return vm.NewFloat(f), nil
	}
	return nil, protocolError("__invert__", self)
}

func floatToInt(vm *VM, o *Object) (*Object, error) {
	v, err := vm.floatToInt64(o.Payload.(float64))
	if err != nil {
		return nil, err
	}
	return vm.NewInt(v), nil
}

func floatIsInteger(vm *VM, args Args) (*Object, error) {
	f, err := receiver[float64](vm, args, "float")
	if err != nil {
		return nil, err
	}
	return vm.NewBool(!math.IsInf(f, 0) && f == math.Trunc(f)), nil
}

func floatIdentity(vm *VM, args Args) (*Object, error) {
	f, err := receiver[float64](vm, args, "float")
	if err != nil {
		return nil, err
	}
	return vm.NewFloat(f), nil
}

func floatAbs(vm *VM, args Args) (*Object, error) {
	f, err := receiver[float64](vm, args, "float")
	if err != nil {
		return nil, err
	}
	return vm.NewFloat(math.Abs(f)), nil
}

func floatIntegral(round func(float64) float64) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		f, err := receiver[float64](vm, args, "float")
		if err != nil {
			return nil, err
		}
		v, err := vm.floatToInt64(round(f))
		if err != nil {
			return nil, err
		}
		return vm.NewInt(v), nil
	}
}

var (
	floatTrunc = floatIntegral(math.Trunc)
	floatFloor = floatIntegral(math.Floor)
	floatCeil  = floatIntegral(math.Ceil)
)

// floatRound rounds half to even. Without ndigits the result is an int.
func floatRound(vm *VM, args Args) (*Object, error) {
	f, err := receiver[float64](vm, args, "float")
	if err != nil {
		return nil, err
	}
	if len(args.Pos) < 2 || args.Pos[1] == vm.None {
		v, err := vm.floatToInt64(math.RoundToEven(f))
		if err != nil {
			return nil, err
		}
		return vm.NewInt(v), nil
	}
	n, err := vm.Index(args.Pos[1])
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return vm.NewFloat(f), nil
	}
	if n > 22 {
		return vm.NewFloat(f), nil
	}
	if n < -22 {
		return vm.NewFloat(math.Copysign(0, f)), nil
	}
	if n >= 0 {
		r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', int(n), 64), 64)
		if err != nil {
			return nil, err
		}
		return vm.NewFloat(r), nil
	}
	p := math.Pow(10, float64(-n))
	return vm.NewFloat(math.RoundToEven(f/p) * p), nil
}

func floatFormat(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("__format__", args, 2, 2); err != nil {
		return nil, err
	}
	f, err := receiver[float64](vm, args, "float")
	if err != nil {
		return nil, err
	}
	spec, err := vm.strArg("format", args.Pos[1])
	if err != nil {
		return nil, err
	}
	s, err := vm.formatFloat(f, spec)
	if err != nil {
		return nil, err
	}
	return vm.NewStr(s), nil
}
