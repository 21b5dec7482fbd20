package vm

import (
	"math"
)

// realArg converts a math function argument to float64. Unlike float(),
// strings are rejected.
func (vm *VM) realArg(x *Object) (float64, error) {
	switch x.Payload.(type) {
	case string, []byte:
		return 0, vm.NewTypeError("must be real number, not %s", x.typ.Name)
	}
	return vm.toFloat(x)
}

func mathUnary(name string, fn func(float64) float64) methodDef {
	return methodDef{name: name, fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		x, err := vm.realArg(args.Pos[0])
		if err != nil {
			return nil, err
		}
		r := fn(x)
		if math.IsNaN(r) && !math.IsNaN(x) {
			return nil, vm.NewValueError("math domain error")
		}
		if math.IsInf(r, 0) && !math.IsInf(x, 0) {
			return nil, vm.NewOverflowError("math range error")
		}
		return vm.NewFloat(r), nil
	}}
}

// mathRounding applies fn and converts the result to int, as floor and
// ceil do.
func mathRounding(name, special string, fn func(float64) float64) methodDef {
	return methodDef{name: name, fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		x := args.Pos[0]
		if v, ok := asInt(x); ok {
			return vm.NewInt(v), nil
		}
		if x.typ.Heap {
			if res, found, err := vm.callSpecial(x, special); found {
				return res, err
			}
		}
		f, err := vm.realArg(x)
		if err != nil {
			return nil, err
		}
		n, err := vm.floatToInt64(fn(f))
		if err != nil {
			return nil, err
		}
		return vm.NewInt(n), nil
	}}
}

var mathMethods = []methodDef{
	mathUnary("sqrt", math.Sqrt),
	mathUnary("exp", math.Exp),
	mathUnary("sin", math.Sin),
	mathUnary("cos", math.Cos),
	mathUnary("tan", math.Tan),
	mathUnary("atan", math.Atan),
	mathUnary("fabs", math.Abs),
	mathRounding("floor", "__floor__", math.Floor),
	mathRounding("ceil", "__ceil__", math.Ceil),
	mathRounding("trunc", "__trunc__", math.Trunc),
	{name: "log", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("log", args, 1, 2); err != nil {
			return nil, err
		}
		x, err := vm.realArg(args.Pos[0])
		if err != nil {
			return nil, err
		}
		if x <= 0 {
			return nil, vm.NewValueError("math domain error")
		}
		r := math.Log(x)
		if len(args.Pos) == 2 {
			base, err := vm.realArg(args.Pos[1])
			if err != nil {
				return nil, err
			}
			if base <= 0 || base == 1 {
				return nil, vm.NewValueError("math domain error")
			}
			r /= math.Log(base)
		}
		return vm.NewFloat(r), nil
	}},
	{name: "pow", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("pow", args, 2, 2); err != nil {
			return nil, err
		}
		x, err := vm.realArg(args.Pos[0])
		if err != nil {
			return nil, err
		}
		y, err := vm.realArg(args.Pos[1])
		if err != nil {
			return nil, err
		}
		if x == 0 && y < 0 {
			return nil, vm.NewValueError("math domain error")
		}
		return vm.NewFloat(math.Pow(x, y)), nil
	}},
	{name: "isnan", fn: mathPredicate("isnan", math.IsNaN)},
	{name: "isinf", fn: mathPredicate("isinf", func(f float64) bool { return math.IsInf(f, 0) })},
	{name: "isfinite", fn: mathPredicate("isfinite", func(f float64) bool { return !math.IsInf(f, 0) && !math.IsNaN(f) })},
	{name: "gcd", fn: func(vm *VM, args Args) (*Object, error) {
		var g int64
		for _, a := range args.Pos {
			n, err := vm.Index(a)
			if err != nil {
				return nil, err
			}
			for n = absInt(n); n != 0; {
				g, n = n, g%n
			}
		}
		return vm.NewInt(g), nil
	}},
}

func mathPredicate(name string, fn func(float64) bool) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		x, err := vm.realArg(args.Pos[0])
		if err != nil {
			return nil, err
		}
		return vm.NewBool(fn(x)), nil
	}
}

func initMathModule(vm *VM, m *Object) error {
	for _, def := range mathMethods {
		f := vm.NewBuiltinFunction(def.name, def.fn)
		f.Payload.(*BuiltinFunction).Module = "math"
		m.dict.SetStr(vm.Context, def.name, f)
	}
	m.dict.SetStr(vm.Context, "pi", vm.NewFloat(math.Pi))
	m.dict.SetStr(vm.Context, "e", vm.NewFloat(math.E))
	m.dict.SetStr(vm.Context, "tau", vm.NewFloat(2*math.Pi))
	m.dict.SetStr(vm.Context, "inf", vm.NewFloat(math.Inf(1)))
	m.dict.SetStr(vm.Context, "nan", vm.NewFloat(math.NaN()))
	return nil
}
