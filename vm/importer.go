package vm

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/chazu/adder/pkg/bytecode"
)

//go:embed lib/*.py
var embeddedLib embed.FS

// ---------------------------------------------------------------------------
// Module registry
// ---------------------------------------------------------------------------

// RegisterBuiltinModule makes name importable; init runs on first import.
func (vm *VM) RegisterBuiltinModule(name string, init ModuleInit) {
	vm.moduleInits[name] = init
}

// RegisterFrozen makes name importable from a marshalled code object.
func (vm *VM) RegisterFrozen(name string, blob []byte) {
	vm.frozen[name] = blob
}

// registerEmbedded freezes the modules shipped with the VM.
func (vm *VM) registerEmbedded() error {
	return fs.WalkDir(embeddedLib, "lib", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		source, err := embeddedLib.ReadFile(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(path), ".py")
		code, err := vm.Compile(string(source), bytecode.ModeExec, "<frozen "+name+">")
		if err != nil {
			return errorx.Decorate(err, "compiling %s", path)
		}
		blob, err := bytecode.Marshal(code)
		if err != nil {
			return err
		}
		vm.RegisterFrozen(name, blob)
		return nil
	})
}

func (vm *VM) builtinModuleNames() *Object {
	names := make([]string, 0, len(vm.moduleInits))
	for name := range vm.moduleInits {
		names = append(names, name)
	}
	slices.Sort(names)
	items := make([]*Object, len(names))
	for i, n := range names {
		items[i] = vm.NewStr(n)
	}
	return vm.NewTuple(items)
}

// Module returns the imported module name, or nil.
func (vm *VM) Module(name string) *Object {
	return vm.modules.GetStr(name)
}

// ImportBuiltin imports a module registered with RegisterBuiltinModule.
func (vm *VM) ImportBuiltin(name string) (*Object, error) {
	if m := vm.modules.GetStr(name); m != nil {
		return m, nil
	}
	init, ok := vm.moduleInits[name]
	if !ok {
		return nil, vm.NewModuleNotFoundError(name)
	}
	m := vm.NewModule(name)
	vm.modules.SetStr(vm.Context, name, m)
	if err := init(vm, m); err != nil {
		vm.modules.DelStr(name)
		return nil, err
	}
	log.Debugf("vm %s: builtin module %s", vm.ID, name)
	return m, nil
}

// ImportFrozen imports a module registered with RegisterFrozen.
func (vm *VM) ImportFrozen(name string) (*Object, error) {
	if m := vm.modules.GetStr(name); m != nil {
		return m, nil
	}
	blob, ok := vm.frozen[name]
	if !ok {
		return nil, vm.NewModuleNotFoundError(name)
	}
	code, err := bytecode.Unmarshal(blob)
	if err != nil {
		return nil, vm.NewImportError(name, "bad frozen module %s: %s", name, err)
	}
	m := vm.NewModule(name)
	return m, vm.execModule(name, m, code)
}

// execModule runs code as the body of module m, which is registered in
// sys.modules first and removed again when the body fails.
func (vm *VM) execModule(name string, m *Object, code *bytecode.CodeObject) error {
	vm.modules.SetStr(vm.Context, name, m)
	if _, err := vm.runCode(code, m.dict, vm.NewDict(m.dict)); err != nil {
		vm.modules.DelStr(name)
		return err
	}
	log.Infof("vm %s: imported %s from %s", vm.ID, name, code.Source)
	return nil
}

// ---------------------------------------------------------------------------
// Source modules
// ---------------------------------------------------------------------------

// searchPath is sys.path as strings, or the configured path when sys.path
// has been replaced by something that is not a list.
func (vm *VM) searchPath() []string {
	if p := vm.sysAttr("path"); p != nil {
		if l, ok := p.Payload.(*List); ok {
			var dirs []string
			for _, item := range l.Items {
				if s, ok := asStr(item); ok {
					dirs = append(dirs, s)
				}
			}
			return dirs
		}
	}
	return vm.settings.Path
}

// findSource locates name (the last dotted component) in dirs, as a
// module file or as a package directory.
func findSource(dirs []string, name string) (file string, isPackage bool, ok bool) {
	for _, dir := range dirs {
		if dir == "" {
			dir = "."
		}
		pkg := filepath.Join(dir, name, "__init__.py")
		if st, err := os.Stat(pkg); err == nil && !st.IsDir() {
			return pkg, true, true
		}
		mod := filepath.Join(dir, name+".py")
		if st, err := os.Stat(mod); err == nil && !st.IsDir() {
			return mod, false, true
		}
	}
	return "", false, false
}

// ImportFile runs the source file path as module name.
func (vm *VM) ImportFile(name, path string, isPackage bool) (*Object, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, vm.NewImportError(name, "%s", err)
	}
	code, err := vm.compileCached(path, source)
	if err != nil {
		return nil, err
	}
	m := vm.NewModule(name)
	m.dict.SetStr(vm.Context, "__file__", vm.NewStr(path))
	if isPackage {
		m.dict.SetStr(vm.Context, "__path__", vm.NewList([]*Object{vm.NewStr(filepath.Dir(path))}))
		m.dict.SetStr(vm.Context, "__package__", vm.NewStr(name))
	} else if i := strings.LastIndexByte(name, '.'); i >= 0 {
		m.dict.SetStr(vm.Context, "__package__", vm.NewStr(name[:i]))
	} else {
		m.dict.SetStr(vm.Context, "__package__", vm.EmptyStr)
	}
	return m, vm.execModule(name, m, code)
}

func (vm *VM) compileCached(path string, source []byte) (*bytecode.CodeObject, error) {
	if vm.settings.Cache != nil {
		if code, ok := vm.settings.Cache.Load(path, source); ok {
			return code, nil
		}
	}
	code, err := vm.Compile(string(source), bytecode.ModeExec, path)
	if err != nil {
		return nil, err
	}
	if vm.settings.Cache != nil {
		if err := vm.settings.Cache.Store(path, source, code); err != nil {
			log.Warningf("vm %s: caching %s: %s", vm.ID, path, err)
		}
	}
	return code, nil
}

// ---------------------------------------------------------------------------
// The import statement
// ---------------------------------------------------------------------------

// ImportModule imports the fully qualified name, importing each parent
// package first, and returns the leaf module.
func (vm *VM) ImportModule(name string) (*Object, error) {
	if m := vm.modules.GetStr(name); m != nil {
		return m, nil
	}
	dirs := vm.searchPath()
	var parent *Object
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		var err error
		if parent, err = vm.ImportModule(name[:i]); err != nil {
			return nil, err
		}
		if m := vm.modules.GetStr(name); m != nil {
			return m, nil
		}
		p := parent.dict.GetStr("__path__")
		if p == nil {
			return nil, vm.newError(vm.Exceptions.ModuleNotFoundError,
				"No module named '%s'; '%s' is not a package", name, name[:i])
		}
		items, err := vm.ToSlice(p)
		if err != nil {
			return nil, err
		}
		dirs = dirs[:0:0]
		for _, item := range items {
			if s, ok := asStr(item); ok {
				dirs = append(dirs, s)
			}
		}
	}

	var m *Object
	var err error
	leaf := name[strings.LastIndexByte(name, '.')+1:]
	switch {
	case vm.moduleInits[name] != nil:
		m, err = vm.ImportBuiltin(name)
	case vm.frozen[name] != nil:
		m, err = vm.ImportFrozen(name)
	default:
		file, isPackage, ok := findSource(dirs, leaf)
		if !ok {
			return nil, vm.NewModuleNotFoundError(name)
		}
		m, err = vm.ImportFile(name, file, isPackage)
	}
	if err != nil {
		return nil, err
	}
	if parent != nil {
		parent.dict.SetStr(vm.Context, leaf, m)
	}
	return m, nil
}

// resolveName turns a relative import into an absolute one using the
// importing module's package.
func (vm *VM) resolveName(name string, globals *Dict, level int64) (string, error) {
	if level == 0 {
		return name, nil
	}
	var pkg string
	if globals != nil {
		if p, ok := asStr(orNone(vm, globals.GetStr("__package__"))); ok {
			pkg = p
		} else if n, ok := asStr(orNone(vm, globals.GetStr("__name__"))); ok {
			pkg = n
			if globals.GetStr("__path__") == nil {
				if i := strings.LastIndexByte(pkg, '.'); i >= 0 {
					pkg = pkg[:i]
				} else {
					pkg = ""
				}
			}
		}
	}
	if pkg == "" {
		return "", vm.NewImportError(name, "attempted relative import with no known parent package")
	}
	base := pkg
	for i := int64(1); i < level; i++ {
		j := strings.LastIndexByte(base, '.')
		if j < 0 {
			return "", vm.NewImportError(name, "attempted relative import beyond top-level package")
		}
		base = base[:j]
	}
	if name == "" {
		return base, nil
	}
	return base + "." + name, nil
}

// importName implements __import__: the top-level package is returned
// unless a fromlist is given, in which case the named module is.
func (vm *VM) importName(name string, globals *Dict, fromlist, level *Object) (*Object, error) {
	lvl, err := vm.Index(level)
	if err != nil {
		return nil, err
	}
	if lvl < 0 {
		return nil, vm.NewValueError("level must be >= 0")
	}
	if name == "" && lvl == 0 {
		return nil, vm.NewValueError("Empty module name")
	}
	abs, err := vm.resolveName(name, globals, lvl)
	if err != nil {
		return nil, err
	}
	m, err := vm.ImportModule(abs)
	if err != nil {
		return nil, err
	}
	hasFrom, err := vm.Truthy(fromlist)
	if err != nil {
		return nil, err
	}
	if hasFrom || name == "" {
		return vm.importFromList(m, abs, fromlist)
	}
	top, _, _ := strings.Cut(name, ".")
	if lvl > 0 {
		top = abs[:len(abs)-len(name)] + top
	}
	if t := vm.modules.GetStr(top); t != nil {
		return t, nil
	}
	return m, nil
}

// importFromList imports the submodules a from-import names when m is a
// package.
func (vm *VM) importFromList(m *Object, name string, fromlist *Object) (*Object, error) {
	if m.dict.GetStr("__path__") == nil || fromlist == vm.None {
		return m, nil
	}
	err := vm.Iterate(fromlist, func(item *Object) (bool, error) {
		sub, ok := asStr(item)
		if !ok || sub == "*" || m.dict.GetStr(sub) != nil {
			return true, nil
		}
		if _, err := vm.ImportModule(name + "." + sub); err != nil && !vm.errorMatches(err, vm.Exceptions.ModuleNotFoundError) {
			return false, err
		}
		return true, nil
	})
	return m, err
}

// importFrom reads one name of a from-import, falling back to a submodule
// already present in sys.modules.
func (vm *VM) importFrom(mod *Object, name string) (*Object, error) {
	v, err := vm.GetAttr(mod, name)
	if err == nil {
		return v, nil
	}
	if !vm.errorMatches(err, vm.Exceptions.AttributeError) {
		return nil, err
	}
	modName := "<unknown module name>"
	if n, nerr := vm.GetAttr(mod, "__name__"); nerr == nil {
		if s, ok := asStr(n); ok {
			modName = s
			if sub := vm.modules.GetStr(s + "." + name); sub != nil {
				return sub, nil
			}
		}
	}
	where := "unknown location"
	if f := mod.dict.GetStr("__file__"); f != nil {
		if s, ok := asStr(f); ok {
			where = s
		}
	}
	return nil, vm.NewImportError(modName, "cannot import name '%s' from '%s' (%s)", name, modName, where)
}

// importStar binds the public names of mod in the frame's locals: those
// in __all__, or every name not starting with an underscore.
func (vm *VM) importStar(f *Frame, mod *Object) error {
	var names []*Object
	if all, err := vm.GetAttr(mod, "__all__"); err == nil {
		if names, err = vm.ToSlice(all); err != nil {
			return err
		}
	} else if !vm.errorMatches(err, vm.Exceptions.AttributeError) {
		return err
	} else {
		if mod.dict == nil {
			return vm.NewImportError("", "from-import-* object has no __dict__ and no __all__")
		}
		for _, k := range mod.dict.Keys() {
			if s, ok := asStr(k); ok && !strings.HasPrefix(s, "_") {
				names = append(names, k)
			}
		}
	}
	for _, n := range names {
		name, ok := asStr(n)
		if !ok {
			return vm.NewTypeError("attribute name must be string, not '%s'", n.typ.Name)
		}
		v, err := vm.GetAttr(mod, name)
		if err != nil {
			return err
		}
		if err := f.storeLocal(vm, name, v); err != nil {
			return err
		}
	}
	return nil
}

// RunModule runs the module name as __main__, as "adder -m" does.
func (vm *VM) RunModule(name string) (*Object, error) {
	if blob, ok := vm.frozen[name]; ok {
		code, err := bytecode.Unmarshal(blob)
		if err != nil {
			return nil, vm.NewImportError(name, "bad frozen module %s: %s", name, err)
		}
		return vm.RunMain(code, "")
	}
	file, _, ok := findSource(vm.searchPath(), name)
	if !ok {
		return nil, vm.NewModuleNotFoundError(name)
	}
	source, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, vm.NewModuleNotFoundError(name)
		}
		return nil, vm.NewImportError(name, "%s", err)
	}
	code, err := vm.compileCached(file, source)
	if err != nil {
		return nil, err
	}
	return vm.RunMain(code, file)
}
