package vm

import (
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Frame: execution state of one code object activation
// ---------------------------------------------------------------------------

// Frame executes a code object. Locals is the name mapping of module and
// class bodies; functions keep their variables in the fast slots and their
// captured variables in cell objects.
type Frame struct {
	Code     *bytecode.CodeObject
	Globals  *Dict
	Builtins *Dict
	Locals   *Object

	fastlocals []*Object
	// cellsFrees holds the cell objects of Cellvars followed by those of
	// Freevars.
	cellsFrees []*Object
	consts     []*Object

	lasti  int
	stack  []*Object
	blocks []Block
}

// ResultKind tells how a frame stopped running.
type ResultKind uint8

const (
	ResultReturn ResultKind = iota
	ResultYield
)

// ExecutionResult is produced when a frame returns or suspends.
type ExecutionResult struct {
	Kind  ResultKind
	Value *Object
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// BlockType is the kind of an entry of the block stack.
type BlockType interface {
	blockType()
}

// LoopBlock is pushed by SetupLoop.
type LoopBlock struct {
	BreakTarget bytecode.Label
}

// TryExceptBlock is pushed by SetupExcept; exceptions jump to Handler with
// the exception on the stack.
type TryExceptBlock struct {
	Handler bytecode.Label
}

// FinallyBlock is pushed by SetupFinally, SetupWith and SetupAsyncWith.
type FinallyBlock struct {
	Handler bytecode.Label
}

// FinallyHandlerBlock marks a running finally body. Reason is resumed by
// EndFinally; nil means the body was entered normally.
type FinallyHandlerBlock struct {
	Reason  UnwindReason
	PrevExc *BaseException
}

// ExceptHandlerBlock marks a running except clause.
type ExceptHandlerBlock struct {
	PrevExc *BaseException
}

func (LoopBlock) blockType()           {}
func (TryExceptBlock) blockType()      {}
func (FinallyBlock) blockType()        {}
func (FinallyHandlerBlock) blockType() {}
func (ExceptHandlerBlock) blockType()  {}

// Block is one entry of the block stack. Level is the value-stack depth to
// restore when the block is popped.
type Block struct {
	Typ   BlockType
	Level int
}

// UnwindReason is why control is leaving a block.
type UnwindReason interface {
	unwindReason()
}

// Returning carries the value of a return statement.
type Returning struct {
	Value *Object
}

// Raising carries an exception in flight.
type Raising struct {
	Exception *BaseException
}

// Breaking leaves the innermost loop.
type Breaking struct{}

// Continuing jumps back to the loop start at Target.
type Continuing struct {
	Target bytecode.Label
}

func (Returning) unwindReason()  {}
func (Raising) unwindReason()    {}
func (Breaking) unwindReason()   {}
func (Continuing) unwindReason() {}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// newFrame prepares a frame for code. closure supplies the cells of the
// free variables; fresh cells are created for the code's own cellvars.
func (vm *VM) newFrame(code *bytecode.CodeObject, globals *Dict, locals *Object, closure []*Object) *Frame {
	f := &Frame{
		Code:       code,
		Globals:    globals,
		Builtins:   vm.builtinsFor(globals),
		Locals:     locals,
		fastlocals: make([]*Object, len(code.Varnames)),
		cellsFrees: make([]*Object, len(code.Cellvars)+len(code.Freevars)),
		consts:     vm.constants(code),
		stack:      make([]*Object, 0, code.MaxStackSize),
	}
	for i := range code.Cellvars {
		f.cellsFrees[i] = vm.NewCell(nil)
	}
	copy(f.cellsFrees[len(code.Cellvars):], closure)
	return f
}

// builtinsFor returns the builtins namespace seen by code running in
// globals.
func (vm *VM) builtinsFor(globals *Dict) *Dict {
	if b := globals.GetStr("__builtins__"); b != nil {
		if d, ok := asDict(b); ok {
			return d
		}
		if b.typ.IsSubtype(vm.ModuleType) {
			return b.dict
		}
	}
	return vm.builtins.dict
}

// captureArgs moves arguments that are captured by inner functions into
// their cells.
func (f *Frame) captureArgs() {
	for i, arg := range f.Code.Cell2Arg {
		if arg >= 0 {
			f.cellsFrees[i].Payload.(*Cell).Value = f.fastlocals[arg]
			f.fastlocals[arg] = nil
		}
	}
}

// Lasti is the index of the next instruction to run.
func (f *Frame) Lasti() int {
	return f.lasti
}

// Line is the source line of the instruction being executed.
func (f *Frame) Line() int {
	return f.Code.LineAt(f.lasti - 1)
}

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

func (f *Frame) push(v *Object) {
	if len(f.stack) >= f.Code.MaxStackSize {
		f.fatal("value stack overflow")
	}
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() *Object {
	n := len(f.stack)
	if n == 0 {
		f.fatal("value stack underflow")
	}
	v := f.stack[n-1]
	f.stack[n-1] = nil
	f.stack = f.stack[:n-1]
	return v
}

func (f *Frame) top() *Object {
	return f.nth(0)
}

// nth returns the value i slots below the top; nth(0) is TOS.
func (f *Frame) nth(i int) *Object {
	n := len(f.stack)
	if i >= n {
		f.fatal("value stack underflow")
	}
	return f.stack[n-1-i]
}

func (f *Frame) setTop(v *Object) {
	f.stack[len(f.stack)-1] = v
}

// popMultiple removes the top n values and returns them in push order.
func (f *Frame) popMultiple(n int) []*Object {
	k := len(f.stack) - n
	if k < 0 {
		f.fatal("value stack underflow")
	}
	out := make([]*Object, n)
	copy(out, f.stack[k:])
	clear(f.stack[k:])
	f.stack = f.stack[:k]
	return out
}

func (f *Frame) truncate(level int) {
	if level > len(f.stack) {
		f.fatal("block level above the value stack")
	}
	clear(f.stack[level:])
	f.stack = f.stack[:level]
}

// ---------------------------------------------------------------------------
// Block stack
// ---------------------------------------------------------------------------

func (f *Frame) pushBlock(t BlockType) {
	f.blocks = append(f.blocks, Block{Typ: t, Level: len(f.stack)})
}

// popBlock removes the innermost block and drops the values pushed since
// it was entered.
func (f *Frame) popBlock() Block {
	n := len(f.blocks)
	if n == 0 {
		f.fatal("block stack underflow")
	}
	b := f.blocks[n-1]
	f.blocks = f.blocks[:n-1]
	f.truncate(b.Level)
	return b
}

func (f *Frame) currentBlock() (Block, bool) {
	if len(f.blocks) == 0 {
		return Block{}, false
	}
	return f.blocks[len(f.blocks)-1], true
}

func (f *Frame) jump(l bytecode.Label) {
	f.lasti = int(l)
}

// fatal aborts execution on a broken engine invariant.
func (f *Frame) fatal(msg string) {
	panic(ErrFatal.New("%s in %s at instruction %d", msg, f.Code.ObjName, f.lasti-1))
}

// ---------------------------------------------------------------------------
// Name lookup
// ---------------------------------------------------------------------------

// lookupLocal reads name from the locals mapping, returning nil when it is
// absent.
func (f *Frame) lookupLocal(vm *VM, name string) (*Object, error) {
	if f.Locals == nil {
		return nil, nil
	}
	if d, ok := f.Locals.Payload.(*Dict); ok && f.Locals.typ == vm.DictType {
		return d.GetStr(name), nil
	}
	v, err := vm.GetItem(f.Locals, vm.NewStr(name))
	if err != nil {
		if vm.errorMatches(err, vm.Exceptions.KeyError) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (f *Frame) storeLocal(vm *VM, name string, v *Object) error {
	if f.Locals == nil {
		return vm.NewSystemError("no locals found when storing '%s'", name)
	}
	if d, ok := f.Locals.Payload.(*Dict); ok && f.Locals.typ == vm.DictType {
		d.SetStr(vm.Context, name, v)
		return nil
	}
	return vm.SetItem(f.Locals, vm.NewStr(name), v)
}

func (f *Frame) deleteLocal(vm *VM, name string) error {
	if f.Locals == nil {
		return vm.NewSystemError("no locals when deleting '%s'", name)
	}
	if d, ok := f.Locals.Payload.(*Dict); ok && f.Locals.typ == vm.DictType {
		if !d.DelStr(name) {
			return vm.NewNameError(name)
		}
		return nil
	}
	err := vm.DelItem(f.Locals, vm.NewStr(name))
	if err != nil && vm.errorMatches(err, vm.Exceptions.KeyError) {
		return vm.NewNameError(name)
	}
	return err
}

// loadName resolves a name through locals, globals and builtins.
func (f *Frame) loadName(vm *VM, name string) (*Object, error) {
	v, err := f.lookupLocal(vm, name)
	if err != nil || v != nil {
		return v, err
	}
	return f.loadGlobal(vm, name)
}

func (f *Frame) loadGlobal(vm *VM, name string) (*Object, error) {
	if v := f.Globals.GetStr(name); v != nil {
		return v, nil
	}
	if v := f.Builtins.GetStr(name); v != nil {
		return v, nil
	}
	return nil, vm.NewNameError(name)
}

// localsMapping returns the locals of the frame as a mapping, synthesizing
// a dict for optimized function frames.
func (f *Frame) localsMapping(vm *VM) *Object {
	if f.Locals != nil {
		return f.Locals
	}
	d := NewDict()
	for i, v := range f.fastlocals {
		if v != nil {
			d.SetStr(vm.Context, f.Code.Varnames[i], v)
		}
	}
	for i, c := range f.cellsFrees {
		if v := c.Payload.(*Cell).Value; v != nil {
			d.SetStr(vm.Context, f.Code.CellFreeName(i), v)
		}
	}
	return vm.NewDict(d)
}
