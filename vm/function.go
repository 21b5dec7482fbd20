package vm

import (
	"fmt"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// Function is the payload of functions defined by def, lambda and
// comprehensions. Closure holds the cell objects of the code's free
// variables in order.
type Function struct {
	Code        *bytecode.CodeObject
	Globals     *Dict
	Closure     []*Object
	Defaults    []*Object
	KwDefaults  *Dict
	Annotations *Dict
	Name        string
	QualName    string
	Module      *Object
	Doc         *Object
}

// NewFunction creates a function over code executing in globals.
func (vm *VM) NewFunction(code *bytecode.CodeObject, globals *Dict, qualname string) *Object {
	if qualname == "" {
		qualname = code.ObjName
	}
	fn := &Function{
		Code:     code,
		Globals:  globals,
		Name:     code.ObjName,
		QualName: qualname,
		Module:   orNone(vm, globals.GetStr("__name__")),
		Doc:      vm.None,
	}
	return vm.newObject(vm.FunctionType, fn)
}

func funcOf(o *Object) *Function {
	return o.Payload.(*Function)
}

// callFunction runs a call of a function object. Generator and coroutine
// code returns a suspended frame wrapper instead of running the body.
func (vm *VM) callFunction(fnObj *Object, args Args) (*Object, error) {
	fn, ok := fnObj.Payload.(*Function)
	if !ok {
		return nil, downcastError("function", fnObj)
	}
	f := vm.newFrame(fn.Code, fn.Globals, nil, fn.Closure)
	if err := vm.bindArguments(fn, f, args); err != nil {
		return nil, err
	}
	f.captureArgs()
	switch {
	case fn.Code.IsCoroutine():
		return vm.newCoro(f, fn.Name, fn.QualName, coroutineKind), nil
	case fn.Code.IsGenerator():
		return vm.newCoro(f, fn.Name, fn.QualName, generatorKind), nil
	}
	return vm.runFrame(f)
}

// runClassBody executes a class body with ns as its local namespace and
// returns what the body returns: the __class__ cell or None.
func (vm *VM) runClassBody(fn *Function, ns *Object) (*Object, error) {
	f := vm.newFrame(fn.Code, fn.Globals, ns, fn.Closure)
	return vm.runFrame(f)
}

// bindArguments fills the argument slots of f from a call.
func (vm *VM) bindArguments(fn *Function, f *Frame, args Args) error {
	co := fn.Code
	name := co.ObjName
	total := co.ArgCount + co.KwOnlyArgCount
	locals := f.fastlocals
	n := len(args.Pos)

	var kwdict *Dict
	if co.Flags&bytecode.FlagHasVarKeywords != 0 {
		kwdict = NewDict()
		i := total
		if co.Flags&bytecode.FlagHasVarargs != 0 {
			i++
		}
		locals[i] = vm.NewDict(kwdict)
	}

	copy(locals, args.Pos[:min(n, co.ArgCount)])
	if co.Flags&bytecode.FlagHasVarargs != 0 {
		var rest []*Object
		if n > co.ArgCount {
			rest = append(rest, args.Pos[co.ArgCount:]...)
		}
		locals[total] = vm.NewTuple(rest)
	}

	var posOnlyAsKw []string
	for _, kw := range args.Kw {
		j := -1
		for k := co.PosOnlyArgCount; k < total; k++ {
			if co.Varnames[k] == kw.Name {
				j = k
				break
			}
		}
		if j < 0 {
			if kwdict != nil {
				kwdict.SetStr(vm.Context, kw.Name, kw.Value)
				continue
			}
			if indexOf(co.Varnames[:co.PosOnlyArgCount], kw.Name) >= 0 {
				posOnlyAsKw = append(posOnlyAsKw, kw.Name)
				continue
			}
			return vm.NewTypeError("%s() got an unexpected keyword argument '%s'", name, kw.Name)
		}
		if locals[j] != nil {
			return vm.NewTypeError("%s() got multiple values for argument '%s'", name, kw.Name)
		}
		locals[j] = kw.Value
	}
	if len(posOnlyAsKw) > 0 {
		return vm.NewTypeError("%s() got some positional-only arguments passed as keyword arguments: '%s'",
			name, strings.Join(posOnlyAsKw, ", "))
	}

	if n > co.ArgCount && co.Flags&bytecode.FlagHasVarargs == 0 {
		return vm.tooManyPositional(fn, n, locals)
	}

	if n < co.ArgCount {
		firstDefault := co.ArgCount - len(fn.Defaults)
		var missing []string
		for i := n; i < firstDefault; i++ {
			if locals[i] == nil {
				missing = append(missing, co.Varnames[i])
			}
		}
		if len(missing) > 0 {
			return vm.missingArguments(name, "positional", missing)
		}
		for i := max(n, firstDefault); i < co.ArgCount; i++ {
			if locals[i] == nil {
				locals[i] = fn.Defaults[i-firstDefault]
			}
		}
	}

	var missing []string
	for i := co.ArgCount; i < total; i++ {
		if locals[i] != nil {
			continue
		}
		if d := fn.KwDefaults.GetStr(co.Varnames[i]); d != nil {
			locals[i] = d
			continue
		}
		missing = append(missing, co.Varnames[i])
	}
	if len(missing) > 0 {
		return vm.missingArguments(name, "keyword-only", missing)
	}
	return nil
}

func (vm *VM) tooManyPositional(fn *Function, given int, locals []*Object) error {
	co := fn.Code
	kwGiven := 0
	for i := co.ArgCount; i < co.ArgCount+co.KwOnlyArgCount; i++ {
		if locals[i] != nil {
			kwGiven++
		}
	}
	plural := co.ArgCount != 1
	var sig string
	if len(fn.Defaults) > 0 {
		sig = fmt.Sprintf("from %d to %d", co.ArgCount-len(fn.Defaults), co.ArgCount)
		plural = true
	} else {
		sig = fmt.Sprint(co.ArgCount)
	}
	kwSig := ""
	if kwGiven > 0 {
		kwSig = fmt.Sprintf(" positional argument%s (and %d keyword-only argument%s)", plural2(given != 1), kwGiven, plural2(kwGiven != 1))
	}
	verb := "were"
	if given == 1 && kwGiven == 0 {
		verb = "was"
	}
	return vm.NewTypeError("%s() takes %s positional argument%s but %d%s %s given",
		co.ObjName, sig, plural2(plural), given, kwSig, verb)
}

func (vm *VM) missingArguments(fname, kind string, names []string) error {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	var list string
	switch len(quoted) {
	case 1:
		list = quoted[0]
	case 2:
		list = quoted[0] + " and " + quoted[1]
	default:
		list = strings.Join(quoted[:len(quoted)-1], ", ") + ", and " + quoted[len(quoted)-1]
	}
	return vm.NewTypeError("%s() missing %d required %s argument%s: %s",
		fname, len(names), kind, plural2(len(names) != 1), list)
}

func plural2(many bool) string {
	if many {
		return "s"
	}
	return ""
}

// constants converts the constant pool of code once per VM.
func (vm *VM) constants(code *bytecode.CodeObject) []*Object {
	if c, ok := vm.constCache[code]; ok {
		return c
	}
	out := make([]*Object, len(code.Constants))
	for i, c := range code.Constants {
		out[i] = vm.constantObject(c)
	}
	vm.constCache[code] = out
	return out
}

func (vm *VM) constantObject(c bytecode.Constant) *Object {
	switch c := c.(type) {
	case bytecode.NoneConst:
		return vm.None
	case bytecode.EllipsisConst:
		return vm.Ellipsis
	case bytecode.BoolConst:
		return vm.NewBool(bool(c))
	case bytecode.IntConst:
		return vm.NewInt(int64(c))
	case bytecode.FloatConst:
		return vm.NewFloat(float64(c))
	case bytecode.StrConst:
		return vm.NewStr(string(c))
	case bytecode.BytesConst:
		return vm.NewBytes(append([]byte(nil), c...))
	case bytecode.TupleConst:
		items := make([]*Object, len(c))
		for i, e := range c {
			items[i] = vm.constantObject(e)
		}
		return vm.NewTuple(items)
	case bytecode.CodeConst:
		return vm.NewCode(c.Code)
	}
	panic(ErrFatal.New("unknown constant %T", c))
}

// ---------------------------------------------------------------------------
// Builtin functions and method descriptors
// ---------------------------------------------------------------------------

// callBuiltin invokes a Go function. Unbound method descriptors check their
// receiver; recoverable host errors surface as TypeError.
func (vm *VM) callBuiltin(b *BuiltinFunction, args Args) (*Object, error) {
	if b.Self != nil {
		args = args.Prepend(b.Self)
	} else if b.Owner != nil {
		if len(args.Pos) == 0 {
			return nil, vm.NewTypeError("descriptor '%s' of '%s' object needs an argument", b.Name, b.Owner.Name)
		}
		if self := args.Pos[0]; !self.typ.IsSubtype(b.Owner) {
			return nil, vm.NewTypeError("descriptor '%s' for '%s' objects doesn't apply to a '%s' object",
				b.Name, b.Owner.Name, self.typ.Name)
		}
	}
	res, err := b.Fn(vm, args)
	if err != nil && isHostError(err) {
		return nil, vm.NewTypeError("%s", errorx.Cast(err).Message())
	}
	return res, err
}

func builtinOf(o *Object) *BuiltinFunction {
	return o.Payload.(*BuiltinFunction)
}

// ---------------------------------------------------------------------------
// Type setup
// ---------------------------------------------------------------------------

func (c *Context) initFunctions() {
	fn := c.FunctionType
	fn.HasInstanceDict = true
	fn.Doc = "Create a function object."
	fn.Slots = TypeSlots{
		Call: func(vm *VM, callee *Object, args Args) (*Object, error) {
			return vm.callFunction(callee, args)
		},
		DescrGet: func(vm *VM, descr, obj, owner *Object) (*Object, error) {
			if obj == nil {
				return descr, nil
			}
			return vm.NewBoundMethod(descr, obj), nil
		},
		Repr: func(vm *VM, o *Object) (string, error) {
			return fmt.Sprintf("<function %s at 0x%x>", funcOf(o).QualName, o.id()), nil
		},
	}
	c.addGetSets(fn, functionGetSets)

	bm := c.BoundMethodType
	bm.Slots = TypeSlots{
		Call: func(vm *VM, callee *Object, args Args) (*Object, error) {
			m := callee.Payload.(*BoundMethod)
			if m.Func.typ == vm.FunctionType {
				return vm.callFunction(m.Func, args.Prepend(m.Self))
			}
			return vm.Call(m.Func, args.Prepend(m.Self))
		},
		GetAttro: func(vm *VM, o *Object, name string) (*Object, error) {
			v, err := genericGetAttr(vm, o, name)
			if err != nil && vm.errorMatches(err, vm.Exceptions.AttributeError) {
				return vm.GetAttr(o.Payload.(*BoundMethod).Func, name)
			}
			return v, err
		},
		RichCompare: func(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
			mb, ok := b.Payload.(*BoundMethod)
			if !ok || (op != bytecode.CmpEqual && op != bytecode.CmpNotEqual) {
				return vm.NotImplemented, nil
			}
			ma := a.Payload.(*BoundMethod)
			eq := ma.Self == mb.Self
			if eq {
				var err error
				if eq, err = vm.Equal(ma.Func, mb.Func); err != nil {
					return nil, err
				}
			}
			return vm.NewBool(eq == (op == bytecode.CmpEqual)), nil
		},
		Hash: func(vm *VM, o *Object) (int64, error) {
			m := o.Payload.(*BoundMethod)
			h, err := vm.Hash(m.Func)
			if err != nil {
				return 0, err
			}
			return h ^ m.Self.id(), nil
		},
		Repr: func(vm *VM, o *Object) (string, error) {
			m := o.Payload.(*BoundMethod)
			name := "?"
			for _, attr := range []string{"__qualname__", "__name__"} {
				v, err := vm.GetAttrOpt(m.Func, attr)
				if err != nil {
					return "", err
				}
				if s, ok := asStr(orNone(vm, v)); ok {
					name = s
					break
				}
			}
			self, err := vm.Repr(m.Self)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("<bound method %s of %s>", name, self), nil
		},
	}
	c.addGetSets(bm, []getsetDef{
		{name: "__func__", get: func(vm *VM, o *Object) (*Object, error) {
			return o.Payload.(*BoundMethod).Func, nil
		}},
		{name: "__self__", get: func(vm *VM, o *Object) (*Object, error) {
			return o.Payload.(*BoundMethod).Self, nil
		}},
	})

	bf := c.BuiltinFunctionType
	bf.Slots = TypeSlots{
		Call: func(vm *VM, callee *Object, args Args) (*Object, error) {
			return vm.callBuiltin(builtinOf(callee), args)
		},
		Repr: func(vm *VM, o *Object) (string, error) {
			b := builtinOf(o)
			if b.Self == nil || b.Self.typ == vm.ModuleType {
				return fmt.Sprintf("<built-in function %s>", b.Name), nil
			}
			return fmt.Sprintf("<built-in method %s of %s object at 0x%x>", b.Name, b.Self.typ.Name, b.Self.id()), nil
		},
	}
	c.addGetSets(bf, builtinGetSets)

	md := c.MethodDescriptorType
	md.Slots = TypeSlots{
		Call: func(vm *VM, callee *Object, args Args) (*Object, error) {
			return vm.callBuiltin(builtinOf(callee), args)
		},
		DescrGet: func(vm *VM, descr, obj, owner *Object) (*Object, error) {
			if obj == nil {
				return descr, nil
			}
			b := builtinOf(descr)
			if !obj.typ.IsSubtype(b.Owner) {
				return nil, vm.NewTypeError("descriptor '%s' for '%s' objects doesn't apply to a '%s' object",
					b.Name, b.Owner.Name, obj.typ.Name)
			}
			bound := *b
			bound.Self = obj
			return &Object{typ: vm.BuiltinFunctionType, Payload: &bound}, nil
		},
		Repr: func(vm *VM, o *Object) (string, error) {
			b := builtinOf(o)
			return fmt.Sprintf("<method '%s' of '%s' objects>", b.Name, b.Owner.Name), nil
		},
	}
	c.addGetSets(md, builtinGetSets)

	cell := c.CellType
	cell.Slots = TypeSlots{
		Repr: func(vm *VM, o *Object) (string, error) {
			v := o.Payload.(*Cell).Value
			if v == nil {
				return fmt.Sprintf("<cell at 0x%x: empty>", o.id()), nil
			}
			return fmt.Sprintf("<cell at 0x%x: %s object at 0x%x>", o.id(), v.typ.Name, v.id()), nil
		},
	}
	c.addGetSets(cell, []getsetDef{
		{name: "cell_contents", get: func(vm *VM, o *Object) (*Object, error) {
			v := o.Payload.(*Cell).Value
			if v == nil {
				return nil, vm.NewValueError("Cell is empty")
			}
			return v, nil
		}, set: func(vm *VM, o *Object, value *Object) error {
			o.Payload.(*Cell).Value = value
			return nil
		}},
	})

	code := c.CodeType
	code.Slots = TypeSlots{
		Repr: func(vm *VM, o *Object) (string, error) {
			co := o.Payload.(*Code).Code
			return fmt.Sprintf("<code object %s at 0x%x, file \"%s\", line %d>", co.ObjName, o.id(), co.Source, co.FirstLineNo), nil
		},
	}
	c.addGetSets(code, codeGetSets)

	c.initModuleType()
}

func (c *Context) initModuleType() {
	m := c.ModuleType
	m.HasInstanceDict = true
	m.Doc = "Create a module object."
	m.Slots = TypeSlots{
		New: func(vm *VM, cls *Type, args Args) (*Object, error) {
			o := vm.newObject(cls, &Module{})
			return o, nil
		},
		Init: func(vm *VM, o *Object, args Args) error {
			vals, err := vm.bindArgs("module", args, []string{"name", "doc"}, 1)
			if err != nil {
				return err
			}
			name, err := vm.strArg("module", vals[0])
			if err != nil {
				return err
			}
			o.Payload.(*Module).Name = name
			o.dict.SetStr(vm.Context, "__name__", vals[0])
			o.dict.SetStr(vm.Context, "__doc__", orNone(vm, vals[1]))
			if o.dict.GetStr("__package__") == nil {
				o.dict.SetStr(vm.Context, "__package__", vm.None)
			}
			return nil
		},
		GetAttro: moduleGetAttr,
		Repr: func(vm *VM, o *Object) (string, error) {
			name := moduleName(o)
			if file, ok := asStr(orNone(vm, o.dict.GetStr("__file__"))); ok {
				return fmt.Sprintf("<module '%s' from '%s'>", name, file), nil
			}
			return fmt.Sprintf("<module '%s'>", name), nil
		},
	}
	c.addGetSets(m, []getsetDef{
		{name: "__dict__", get: func(vm *VM, o *Object) (*Object, error) {
			return vm.NewDict(o.dict), nil
		}},
	})
	c.addMethods(m, []methodDef{
		{name: "__dir__", fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("__dir__", args, 1, 1); err != nil {
				return nil, err
			}
			return vm.NewList(args.Pos[0].dict.Keys()), nil
		}},
	})
}

func moduleName(o *Object) string {
	if s, ok := asStr(o.dict.GetStr("__name__")); ok {
		return s
	}
	if m, ok := o.Payload.(*Module); ok && m.Name != "" {
		return m.Name
	}
	return "?"
}

// moduleGetAttr falls back to a module-level __getattr__ function.
func moduleGetAttr(vm *VM, o *Object, name string) (*Object, error) {
	v, err := genericGetAttr(vm, o, name)
	if err == nil || !vm.errorMatches(err, vm.Exceptions.AttributeError) {
		return v, err
	}
	if hook := o.dict.GetStr("__getattr__"); hook != nil {
		return vm.CallPositional(hook, vm.NewStr(name))
	}
	return nil, vm.NewAttributeError("module '%s' has no attribute '%s'", moduleName(o), name)
}

// NewBoundMethod binds fn to self.
func (vm *VM) NewBoundMethod(fn, self *Object) *Object {
	return &Object{typ: vm.BoundMethodType, Payload: &BoundMethod{Func: fn, Self: self}}
}

// ---------------------------------------------------------------------------
// Attribute tables
// ---------------------------------------------------------------------------

func setFuncName(vm *VM, value *Object, attr string, assign func(string)) error {
	s, ok := asStr(orNone(vm, value))
	if !ok {
		return vm.NewTypeError("%s must be set to a string object", attr)
	}
	assign(s)
	return nil
}

var functionGetSets = []getsetDef{
	{name: "__name__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewStr(funcOf(o).Name), nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		return setFuncName(vm, value, "__name__", func(s string) { funcOf(o).Name = s })
	}},
	{name: "__qualname__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewStr(funcOf(o).QualName), nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		return setFuncName(vm, value, "__qualname__", func(s string) { funcOf(o).QualName = s })
	}},
	{name: "__doc__", get: func(vm *VM, o *Object) (*Object, error) {
		return funcOf(o).Doc, nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		funcOf(o).Doc = orNone(vm, value)
		return nil
	}},
	{name: "__module__", get: func(vm *VM, o *Object) (*Object, error) {
		return funcOf(o).Module, nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		funcOf(o).Module = orNone(vm, value)
		return nil
	}},
	{name: "__defaults__", get: func(vm *VM, o *Object) (*Object, error) {
		if d := funcOf(o).Defaults; d != nil {
			return vm.NewTuple(append([]*Object(nil), d...)), nil
		}
		return vm.None, nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		if value == nil || value == vm.None {
			funcOf(o).Defaults = nil
			return nil
		}
		t, ok := asTuple(value)
		if !ok {
			return vm.NewTypeError("__defaults__ must be set to a tuple object")
		}
		funcOf(o).Defaults = append([]*Object(nil), t...)
		return nil
	}},
	{name: "__kwdefaults__", get: func(vm *VM, o *Object) (*Object, error) {
		if d := funcOf(o).KwDefaults; d != nil {
			return vm.NewDict(d), nil
		}
		return vm.None, nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		if value == nil || value == vm.None {
			funcOf(o).KwDefaults = nil
			return nil
		}
		d, ok := asDict(value)
		if !ok {
			return vm.NewTypeError("__kwdefaults__ must be set to a dict object")
		}
		funcOf(o).KwDefaults = d
		return nil
	}},
	{name: "__annotations__", get: func(vm *VM, o *Object) (*Object, error) {
		fn := funcOf(o)
		if fn.Annotations == nil {
			fn.Annotations = NewDict()
		}
		return vm.NewDict(fn.Annotations), nil
	}, set: func(vm *VM, o *Object, value *Object) error {
		if value == nil || value == vm.None {
			funcOf(o).Annotations = nil
			return nil
		}
		d, ok := asDict(value)
		if !ok {
			return vm.NewTypeError("__annotations__ must be set to a dict object")
		}
		funcOf(o).Annotations = d
		return nil
	}},
	{name: "__code__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewCode(funcOf(o).Code), nil
	}},
	{name: "__globals__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewDict(funcOf(o).Globals), nil
	}},
	{name: "__closure__", get: func(vm *VM, o *Object) (*Object, error) {
		if c := funcOf(o).Closure; len(c) > 0 {
			return vm.NewTuple(append([]*Object(nil), c...)), nil
		}
		return vm.None, nil
	}},
	{name: "__dict__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewDict(o.dict), nil
	}},
}

var builtinGetSets = []getsetDef{
	{name: "__name__", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewStr(builtinOf(o).Name), nil
	}},
	{name: "__qualname__", get: func(vm *VM, o *Object) (*Object, error) {
		b := builtinOf(o)
		if b.Owner != nil {
			return vm.NewStr(b.Owner.Name + "." + b.Name), nil
		}
		return vm.NewStr(b.Name), nil
	}},
	{name: "__self__", get: func(vm *VM, o *Object) (*Object, error) {
		return orNone(vm, builtinOf(o).Self), nil
	}},
	{name: "__doc__", get: func(vm *VM, o *Object) (*Object, error) {
		if d := builtinOf(o).Doc; d != "" {
			return vm.NewStr(d), nil
		}
		return vm.None, nil
	}},
	{name: "__module__", get: func(vm *VM, o *Object) (*Object, error) {
		if m := builtinOf(o).Module; m != "" {
			return vm.NewStr(m), nil
		}
		return vm.None, nil
	}},
	{name: "__objclass__", get: func(vm *VM, o *Object) (*Object, error) {
		if t := builtinOf(o).Owner; t != nil {
			return t.self, nil
		}
		return nil, vm.noAttribute(o, "__objclass__")
	}},
}

func codeOf(o *Object) *bytecode.CodeObject {
	return o.Payload.(*Code).Code
}

func (vm *VM) strTuple(names []string) *Object {
	items := make([]*Object, len(names))
	for i, n := range names {
		items[i] = vm.NewStr(n)
	}
	return vm.NewTuple(items)
}

var codeGetSets = []getsetDef{
	{name: "co_name", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewStr(codeOf(o).ObjName), nil
	}},
	{name: "co_filename", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewStr(codeOf(o).Source), nil
	}},
	{name: "co_firstlineno", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).FirstLineNo)), nil
	}},
	{name: "co_argcount", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).ArgCount)), nil
	}},
	{name: "co_posonlyargcount", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).PosOnlyArgCount)), nil
	}},
	{name: "co_kwonlyargcount", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).KwOnlyArgCount)), nil
	}},
	{name: "co_flags", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).Flags)), nil
	}},
	{name: "co_stacksize", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewInt(int64(codeOf(o).MaxStackSize)), nil
	}},
	{name: "co_varnames", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.strTuple(codeOf(o).Varnames), nil
	}},
	{name: "co_names", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.strTuple(codeOf(o).Names), nil
	}},
	{name: "co_cellvars", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.strTuple(codeOf(o).Cellvars), nil
	}},
	{name: "co_freevars", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.strTuple(codeOf(o).Freevars), nil
	}},
	{name: "co_consts", get: func(vm *VM, o *Object) (*Object, error) {
		return vm.NewTuple(append([]*Object(nil), vm.constants(codeOf(o))...)), nil
	}},
}
