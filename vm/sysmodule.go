package vm

import (
	"io"
	"runtime"
)

// sysMethods are the functions of the sys module.
var sysMethods = []methodDef{
	{name: "getrecursionlimit", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("getrecursionlimit", args, 0, 0); err != nil {
			return nil, err
		}
		return vm.NewInt(int64(vm.settings.RecursionLimit)), nil
	}},
	{name: "setrecursionlimit", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("setrecursionlimit", args, 1, 1); err != nil {
			return nil, err
		}
		n, err := vm.intArg(args.Pos[0])
		if err != nil {
			return nil, err
		}
		return vm.None, vm.SetRecursionLimit(int(n))
	}},
	{name: "exc_info", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("exc_info", args, 0, 0); err != nil {
			return nil, err
		}
		exc := vm.topmostException()
		if exc == nil {
			return vm.NewTuple([]*Object{vm.None, vm.None, vm.None}), nil
		}
		return vm.NewTuple([]*Object{exc.Type().self, exc.obj, vm.tracebackObject(exc.Traceback)}), nil
	}},
	{name: "displayhook", fn: sysDisplayHook},
	{name: "exit", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("exit", args, 0, 1); err != nil {
			return nil, err
		}
		o, err := vm.Call(vm.Exceptions.SystemExit.self, PosArgs(args.Pos...))
		if err != nil {
			return nil, err
		}
		exc, err := excPayload(o)
		if err != nil {
			return nil, err
		}
		return nil, exc
	}},
	{name: "intern", fn: func(vm *VM, args Args) (*Object, error) {
		if err := vm.expectArgs("intern", args, 1, 1); err != nil {
			return nil, err
		}
		if _, err := vm.strArg("intern", args.Pos[0]); err != nil {
			return nil, err
		}
		return args.Pos[0], nil
	}},
}

// sysDisplayHook prints the repr of a non-None value and remembers it as
// builtins._.
func sysDisplayHook(vm *VM, args Args) (*Object, error) {
	if err := vm.expectArgs("displayhook", args, 1, 1); err != nil {
		return nil, err
	}
	v := args.Pos[0]
	if v == vm.None {
		return vm.None, nil
	}
	vm.builtins.dict.SetStr(vm.Context, "_", vm.None)
	s, err := vm.Repr(v)
	if err != nil {
		return nil, err
	}
	if err := vm.writeTo(nil, s+"\n"); err != nil {
		return nil, err
	}
	vm.builtins.dict.SetStr(vm.Context, "_", v)
	return vm.None, nil
}

func initSysModule(vm *VM, m *Object) error {
	d := m.dict
	for _, def := range sysMethods {
		f := vm.NewBuiltinFunction(def.name, def.fn)
		f.Payload.(*BuiltinFunction).Module = "sys"
		d.SetStr(vm.Context, def.name, f)
	}
	d.SetStr(vm.Context, "__displayhook__", d.GetStr("displayhook"))
	d.SetStr(vm.Context, "modules", vm.NewDict(vm.modules))

	path := make([]*Object, len(vm.settings.Path))
	for i, p := range vm.settings.Path {
		path[i] = vm.NewStr(p)
	}
	d.SetStr(vm.Context, "path", vm.NewList(path))
	argv := []*Object{vm.EmptyStr}
	if len(vm.settings.Argv) > 0 {
		argv = argv[:0]
		for _, a := range vm.settings.Argv {
			argv = append(argv, vm.NewStr(a))
		}
	}
	d.SetStr(vm.Context, "argv", vm.NewList(argv))

	stream := vm.newStreamType()
	d.SetStr(vm.Context, "stdout", vm.newObject(stream, vm.settings.Stdout))
	d.SetStr(vm.Context, "stderr", vm.newObject(stream, vm.settings.Stderr))
	d.SetStr(vm.Context, "__stdout__", d.GetStr("stdout"))
	d.SetStr(vm.Context, "__stderr__", d.GetStr("stderr"))

	d.SetStr(vm.Context, "_vm_id", vm.NewStr(vm.ID.String()))
	d.SetStr(vm.Context, "platform", vm.NewStr(runtime.GOOS))
	d.SetStr(vm.Context, "maxsize", vm.NewInt(1<<63-1))
	d.SetStr(vm.Context, "byteorder", vm.NewStr("little"))
	d.SetStr(vm.Context, "implementation", vm.NewStr("adder"))
	d.SetStr(vm.Context, "version_info", vm.NewTuple([]*Object{vm.NewInt(3), vm.NewInt(8), vm.NewInt(0)}))
	d.SetStr(vm.Context, "builtin_module_names", vm.builtinModuleNames())

	flags := map[string]int64{"optimize": int64(vm.settings.Optimize)}
	d.SetStr(vm.Context, "flags", vm.NewDict(dictOfInts(vm, flags)))
	return nil
}

func dictOfInts(vm *VM, m map[string]int64) *Dict {
	d := NewDict()
	for k, v := range m {
		d.SetStr(vm.Context, k, vm.NewInt(v))
	}
	return d
}

// newStreamType builds the type of sys.stdout and sys.stderr: thin
// writers over the host io.Writer given in Settings.
func (vm *VM) newStreamType() *Type {
	t := vm.newFinalType("TextIOWrapper", vm.ObjectType)
	t.HasInstanceDict = false
	vm.addMethods(t, []methodDef{
		{name: "write", fn: func(vm *VM, args Args) (*Object, error) {
			self, err := receiver[io.Writer](vm, args, "TextIOWrapper")
			if err != nil {
				return nil, err
			}
			if err := vm.expectArgs("write", args, 2, 2); err != nil {
				return nil, err
			}
			s, err := vm.strArg("write", args.Pos[1])
			if err != nil {
				return nil, err
			}
			if _, err := io.WriteString(self, s); err != nil {
				return nil, vm.newError(vm.Exceptions.OSError, "%s", err)
			}
			return vm.NewInt(int64(len([]rune(s)))), nil
		}},
		{name: "flush", fn: func(vm *VM, args Args) (*Object, error) {
			return vm.None, nil
		}},
	})
	return t
}
