package vm

// ---------------------------------------------------------------------------
// Argument checking for builtins
// ---------------------------------------------------------------------------

// expectArgs rejects keyword arguments and checks that the positional count
// lies in [min, max]. A negative max means no upper bound.
func (vm *VM) expectArgs(name string, args Args, min, max int) error {
	if len(args.Kw) > 0 {
		return vm.NewTypeError("%s() takes no keyword arguments", name)
	}
	return vm.expectPositional(name, args, min, max)
}

func (vm *VM) expectPositional(name string, args Args, min, max int) error {
	n := len(args.Pos)
	switch {
	case min == max && n != min:
		if min == 1 {
			return vm.NewTypeError("%s() takes exactly one argument (%d given)", name, n)
		}
		return vm.NewTypeError("%s expected %d arguments, got %d", name, min, n)
	case n < min:
		return vm.NewTypeError("%s expected at least %d arguments, got %d", name, min, n)
	case max >= 0 && n > max:
		return vm.NewTypeError("%s expected at most %d arguments, got %d", name, max, n)
	}
	return nil
}

// bindArgs maps the arguments of a builtin onto named parameters. Every
// parameter may be passed by position or keyword; the result has one entry
// per parameter, nil when the argument was not supplied.
func (vm *VM) bindArgs(fname string, args Args, params []string, required int) ([]*Object, error) {
	if len(args.Pos) > len(params) {
		return nil, vm.NewTypeError("%s() takes at most %d arguments (%d given)", fname, len(params), len(args.Pos))
	}
	out := make([]*Object, len(params))
	copy(out, args.Pos)
	for _, kw := range args.Kw {
		i := indexOf(params, kw.Name)
		if i < 0 {
			return nil, vm.NewTypeError("%s() got an unexpected keyword argument '%s'", fname, kw.Name)
		}
		if out[i] != nil {
			return nil, vm.NewTypeError("argument for %s() given by name ('%s') and position (%d)", fname, kw.Name, i+1)
		}
		out[i] = kw.Value
	}
	for i := 0; i < required; i++ {
		if out[i] == nil {
			return nil, vm.NewTypeError("%s() missing required argument '%s' (pos %d)", fname, params[i], i+1)
		}
	}
	return out, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// attrName checks that an attribute name argument is a str.
func (vm *VM) attrName(o *Object) (string, error) {
	s, ok := asStr(o)
	if !ok {
		return "", vm.NewTypeError("attribute name must be string, not '%s'", o.typ.Name)
	}
	return s, nil
}

// intArg converts an argument that must be an integer.
func (vm *VM) intArg(o *Object) (int64, error) {
	return vm.Index(o)
}

// strArg converts an argument that must be a str.
func (vm *VM) strArg(fname string, o *Object) (string, error) {
	s, ok := asStr(o)
	if !ok {
		return "", vm.NewTypeError("%s() argument must be str, not %s", fname, o.typ.Name)
	}
	return s, nil
}

// receiver extracts the receiver of a builtin method with payload type P.
func receiver[P any](vm *VM, args Args, typeName string) (P, error) {
	var zero P
	if len(args.Pos) == 0 {
		return zero, vm.NewTypeError("descriptor needs an argument")
	}
	p, ok := args.Pos[0].Payload.(P)
	if !ok {
		return zero, downcastError(typeName, args.Pos[0])
	}
	return p, nil
}
