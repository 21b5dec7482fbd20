package vm

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/tliron/commonlog"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
)

var log = commonlog.GetLogger("adder.vm")

// ---------------------------------------------------------------------------
// VM: one interpreter instance
// ---------------------------------------------------------------------------

// DefaultRecursionLimit is the frame depth at which RecursionError is
// raised unless Settings says otherwise.
const DefaultRecursionLimit = 1000

// Settings configures a VM. The zero value is usable; missing fields take
// their defaults in New.
type Settings struct {
	RecursionLimit int
	// Optimize is passed to the compiler for code compiled at run time.
	Optimize uint8
	// TraceInstructions logs every executed instruction at debug level.
	TraceInstructions bool
	HashSeed          uint64
	// Path lists the directories searched for source modules.
	Path []string
	Argv []string
	// Cache, when set, stores the compiled form of imported source files.
	Cache CodeCache

	Stdout io.Writer
	Stderr io.Writer
}

// CodeCache persists compiled code objects keyed by their source text.
type CodeCache interface {
	Load(path string, source []byte) (*bytecode.CodeObject, bool)
	Store(path string, source []byte, code *bytecode.CodeObject) error
}

// ModuleInit builds a builtin module on first import.
type ModuleInit func(vm *VM, module *Object) error

// VM executes code objects. Every type, singleton and module lives in the
// instance; two VMs share nothing. A VM must not be used from more than one
// goroutine at a time.
type VM struct {
	*Context

	// ID distinguishes instances in logs and as sys._vm_id.
	ID uuid.UUID

	settings    Settings
	initialized bool

	frames     []*Frame
	excStack   *ExceptionStack
	depth      int
	reprActive map[*Object]bool
	constCache map[*bytecode.CodeObject][]*Object

	builtins    *Object
	sys         *Object
	modules     *Dict
	moduleInits map[string]ModuleInit
	frozen      map[string][]byte
}

// New creates a VM. Call Initialize before running code.
func New(settings Settings) *VM {
	if settings.RecursionLimit <= 0 {
		settings.RecursionLimit = DefaultRecursionLimit
	}
	if settings.Stdout == nil {
		settings.Stdout = os.Stdout
	}
	if settings.Stderr == nil {
		settings.Stderr = os.Stderr
	}
	vm := &VM{
		Context:     NewContext(settings.HashSeed),
		ID:          uuid.New(),
		settings:    settings,
		constCache:  map[*bytecode.CodeObject][]*Object{},
		modules:     NewDict(),
		moduleInits: map[string]ModuleInit{},
		frozen:      map[string][]byte{},
	}
	vm.RegisterBuiltinModule("builtins", initBuiltinsModule)
	vm.RegisterBuiltinModule("sys", initSysModule)
	vm.RegisterBuiltinModule("math", initMathModule)
	return vm
}

// Initialize creates the builtins and sys modules and registers the
// embedded frozen modules. It panics when called twice.
func (vm *VM) Initialize() {
	if vm.initialized {
		panic(errorx.IllegalState.New("vm %s initialized twice", vm.ID))
	}
	vm.initialized = true

	var err error
	if vm.builtins, err = vm.ImportBuiltin("builtins"); err != nil {
		panic(errorx.Decorate(err, "initializing builtins"))
	}
	if vm.sys, err = vm.ImportBuiltin("sys"); err != nil {
		panic(errorx.Decorate(err, "initializing sys"))
	}
	if err := vm.registerEmbedded(); err != nil {
		panic(errorx.Decorate(err, "freezing embedded modules"))
	}
	log.Infof("vm %s initialized, recursion limit %d", vm.ID, vm.settings.RecursionLimit)
}

// Settings returns the configuration the VM was created with.
func (vm *VM) Settings() Settings {
	return vm.settings
}

// Builtins returns the builtins module.
func (vm *VM) Builtins() *Object {
	return vm.builtins
}

// Sys returns the sys module.
func (vm *VM) Sys() *Object {
	return vm.sys
}

func (vm *VM) sysAttr(name string) *Object {
	if vm.sys == nil {
		return nil
	}
	return vm.sys.dict.GetStr(name)
}

// ---------------------------------------------------------------------------
// Running frames
// ---------------------------------------------------------------------------

// runFrame runs a function or module frame to completion.
func (vm *VM) runFrame(f *Frame) (*Object, error) {
	res, _, err := vm.execFrame(f, nil, nil)
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultReturn {
		f.fatal("frame suspended outside a generator")
	}
	return res.Value, nil
}

// execFrame makes f the current frame while it runs. exc is the exception
// the frame was handling when it last ran; the value at exit is returned
// as saved. A non-nil throw is raised at the frame's current position
// before any instruction runs.
func (vm *VM) execFrame(f *Frame, exc, throw *BaseException) (res *ExecutionResult, saved *BaseException, err error) {
	if err := vm.enterRecursion(""); err != nil {
		return nil, exc, err
	}
	defer vm.leaveRecursion()

	vm.frames = append(vm.frames, f)
	vm.pushExceptionEntry(exc)
	defer func() {
		saved = vm.popExceptionEntry()
		vm.frames[len(vm.frames)-1] = nil
		vm.frames = vm.frames[:len(vm.frames)-1]
	}()

	if throw != nil {
		res, err = f.inject(vm, throw)
		return
	}
	res, err = f.run(vm)
	return
}

// currentFrame is the innermost running frame, or nil.
func (vm *VM) currentFrame() *Frame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

// enterRecursion counts one level of nesting. where is appended to the
// RecursionError message.
func (vm *VM) enterRecursion(where string) error {
	if vm.depth >= vm.settings.RecursionLimit {
		return vm.newError(vm.Exceptions.RecursionError, "maximum recursion depth exceeded%s", where)
	}
	vm.depth++
	return nil
}

func (vm *VM) leaveRecursion() {
	vm.depth--
}

// withRecursion runs fn one nesting level deeper.
func withRecursion[T any](vm *VM, where string, fn func() (T, error)) (T, error) {
	if err := vm.enterRecursion(where); err != nil {
		var zero T
		return zero, err
	}
	defer vm.leaveRecursion()
	return fn()
}

// SetRecursionLimit changes the maximum nesting depth.
func (vm *VM) SetRecursionLimit(n int) error {
	if n < 1 {
		return vm.NewValueError("recursion limit must be greater or equal than 1")
	}
	if n <= vm.depth {
		return vm.newError(vm.Exceptions.RecursionError,
			"cannot set the recursion limit to %d at the recursion depth %d: the limit is too low", n, vm.depth)
	}
	log.Noticef("vm %s recursion limit %d -> %d", vm.ID, vm.settings.RecursionLimit, n)
	vm.settings.RecursionLimit = n
	return nil
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Compile compiles source with the VM's optimization level. Syntax errors
// come back as SyntaxError exceptions.
func (vm *VM) Compile(source string, mode bytecode.Mode, path string) (*bytecode.CodeObject, error) {
	code, err := compiler.CompileSource(source, mode, path, compiler.CompileOpts{Optimize: vm.settings.Optimize})
	if err != nil {
		return nil, vm.syntaxError(err, source)
	}
	return code, nil
}

// RunCode executes code with globals as both namespaces and returns the
// value of the code object. A fatal engine error is recovered here and
// returned; the VM's frame and exception stacks are reset.
func (vm *VM) RunCode(code *bytecode.CodeObject, globals *Dict) (result *Object, err error) {
	return vm.runCode(code, globals, vm.NewDict(globals))
}

func (vm *VM) runCode(code *bytecode.CodeObject, globals *Dict, locals *Object) (result *Object, err error) {
	if !vm.initialized {
		return nil, errorx.IllegalState.New("vm %s is not initialized", vm.ID)
	}
	frames, excStack, depth := len(vm.frames), vm.excStack, vm.depth
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := errorx.ErrorFromPanic(r)
		if !ok || !IsFatal(e) {
			panic(r)
		}
		log.Errorf("vm %s: %s", vm.ID, e)
		clear(vm.frames[frames:])
		vm.frames = vm.frames[:frames]
		vm.excStack, vm.depth = excStack, depth
		vm.reprActive = nil
		result, err = nil, e
	}()

	if globals.GetStr("__builtins__") == nil {
		globals.SetStr(vm.Context, "__builtins__", vm.builtins)
	}
	f := vm.newFrame(code, globals, locals, nil)
	return vm.runFrame(f)
}

// RunSource compiles and runs source as the __main__ module.
func (vm *VM) RunSource(source, path string) (*Object, error) {
	code, err := vm.Compile(source, bytecode.ModeExec, path)
	if err != nil {
		return nil, err
	}
	return vm.RunMain(code, path)
}

// RunMain runs code as the __main__ module and returns the module.
func (vm *VM) RunMain(code *bytecode.CodeObject, path string) (*Object, error) {
	m := vm.NewModule("__main__")
	if path != "" && path[0] != '<' {
		m.dict.SetStr(vm.Context, "__file__", vm.NewStr(path))
	}
	vm.modules.SetStr(vm.Context, "__main__", m)
	if _, err := vm.RunCode(code, m.dict); err != nil {
		return m, err
	}
	return m, nil
}

// Eval evaluates one expression in globals.
func (vm *VM) Eval(source string, globals *Dict) (*Object, error) {
	code, err := vm.Compile(source, bytecode.ModeEval, "<string>")
	if err != nil {
		return nil, err
	}
	return vm.RunCode(code, globals)
}

// Interactive runs one REPL entry; expression statements are echoed
// through sys.displayhook.
func (vm *VM) Interactive(source string, globals *Dict) error {
	code, err := vm.Compile(source, bytecode.ModeSingle, "<stdin>")
	if err != nil {
		return err
	}
	_, err = vm.RunCode(code, globals)
	return err
}
