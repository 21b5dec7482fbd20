package bytecode

import "fmt"

// Opcode identifies an instruction variant. The numeric values are internal
// and carry no compatibility promise.
type Opcode uint8

const (
	// ========================================================================
	// Imports
	// ========================================================================

	ImportName Opcode = iota // Pop fromlist and level, push module: <name>
	ImportStar               // Pop module, copy its public names into locals
	ImportFrom               // Push attribute of module at TOS: <name>

	// ========================================================================
	// Name access
	// ========================================================================

	LoadFast       // Push fastlocals[arg]
	LoadNameAny    // Push name from locals, globals, then builtins: <name>
	LoadGlobal     // Push name from globals, then builtins: <name>
	LoadDeref      // Push contents of cells_frees[arg]
	LoadClassDeref // Like LoadDeref, but consult class locals first
	StoreFast      // Pop into fastlocals[arg]
	StoreLocal     // Pop into locals mapping: <name>
	StoreGlobal    // Pop into globals: <name>
	StoreDeref     // Pop into cells_frees[arg]
	DeleteFast     // Unbind fastlocals[arg]
	DeleteLocal    // Delete name from locals: <name>
	DeleteGlobal   // Delete name from globals: <name>
	DeleteDeref    // Empty cells_frees[arg]
	LoadClosure    // Push the cell object cells_frees[arg]

	// ========================================================================
	// Subscript and attributes
	// ========================================================================

	Subscript       // Pop index, container; push container[index]
	StoreSubscript  // Pop index, container, value; container[index] = value
	DeleteSubscript // Pop index, container; del container[index]
	StoreAttr       // Pop owner, value; owner.name = value: <name>
	DeleteAttr      // Pop owner; del owner.name: <name>
	LoadAttr        // Replace TOS with TOS.name: <name>

	// ========================================================================
	// Constants and operators
	// ========================================================================

	LoadConst              // Push constants[arg]
	UnaryOperation         // Apply UnaryOperator(arg) to TOS
	BinaryOperation        // Pop b, a; push a <op> b
	BinaryOperationInplace // Pop b, a; push a <op>= b
	CompareOperation       // Pop b, a; push compare(a, b)

	// ========================================================================
	// Stack shuffles
	// ========================================================================

	Pop        // Discard TOS
	Rotate2    // a b -> b a
	Rotate3    // a b c -> c a b
	Duplicate  // a -> a a
	Duplicate2 // a b -> a b a b
	Reverse    // Reverse the top arg values
	GetIter    // Replace TOS with iter(TOS)

	// ========================================================================
	// Control flow
	// ========================================================================

	Continue         // Unwind to the enclosing loop, then jump to target
	Break            // Unwind to the enclosing loop's break target
	Jump             // Jump to target
	JumpIfTrue       // Pop; jump if truthy
	JumpIfFalse      // Pop; jump if falsy
	JumpIfTrueOrPop  // Jump leaving TOS if truthy, else pop
	JumpIfFalseOrPop // Jump leaving TOS if falsy, else pop
	ForIter          // Push next(TOS) or pop TOS and jump on exhaustion
	ReturnValue      // Pop and return through enclosing blocks
	Raise            // Raise according to RaiseKind(arg)

	// ========================================================================
	// Functions and calls
	// ========================================================================

	MakeFunction           // Pop qualname, code and MakeFunctionFlags(arg) extras
	CallFunctionPositional // Call with arg positional arguments
	CallFunctionKeyword    // Call with arg arguments and a kwnames tuple on TOS
	CallFunctionEx         // Call with *args tuple and optional **kwargs mapping
	LoadMethod             // Push (target, is_method, callable) for TOS.name: <name>
	CallMethodPositional   // Call the LoadMethod triple with arg positionals
	CallMethodKeyword      // Call the LoadMethod triple with kwnames on TOS
	CallMethodEx           // Call the LoadMethod triple with *args/**kwargs

	// ========================================================================
	// Generators and coroutines
	// ========================================================================

	YieldValue      // Suspend the frame with TOS
	YieldFrom       // Delegate one step to the iterator below TOS
	GetAwaitable    // Replace TOS with its awaitable iterator
	BeforeAsyncWith // Pop manager; push __aexit__ and __aenter__()
	SetupAsyncWith  // Push a finally block below the awaited enter value
	GetAIter        // Replace TOS with aiter(TOS)
	GetANext        // Push the awaitable of anext(TOS)
	EndAsyncFor     // Finish an async for on StopAsyncIteration

	// ========================================================================
	// Block management
	// ========================================================================

	SetupAnnotation   // Ensure __annotations__ exists in locals
	SetupLoop         // Push a loop block with break target
	SetupFinally      // Push a finally block with handler target
	EnterFinally      // Push a finally handler with no pending reason
	EndFinally        // Pop the finally handler and resume its reason
	SetupExcept       // Push a try/except block with handler target
	SetupWith         // Call __enter__ and push a finally block for __exit__
	WithCleanupStart  // Call the saved __exit__ with the pending exception
	WithCleanupFinish // Pop the handler; resume unless the exception was suppressed
	PopBlock          // Pop the innermost block
	PopException      // Pop an except handler, restoring the previous exception

	// ========================================================================
	// Builders
	// ========================================================================

	BuildString  // Concatenate arg strings
	BuildTuple   // Build a tuple from arg values (or iterables when unpacking)
	BuildList    // Build a list from arg values (or iterables when unpacking)
	BuildSet     // Build a set from arg values (or iterables when unpacking)
	BuildMap     // Build a dict from arg pairs (or mappings when unpacking)
	BuildSlice   // Build a slice from two values, or three with a step
	ListAppend   // Pop; append to the list arg slots below TOS
	SetAdd       // Pop; add to the set arg slots below TOS
	MapAdd       // Pop value, key; store into the dict arg slots below
	UnpackSequence
	UnpackEx
	FormatValue // Pop spec, value; push format(convert(value), spec)

	// ========================================================================
	// Miscellaneous
	// ========================================================================

	PrintExpr      // Pop and pass to sys.displayhook
	LoadBuildClass // Push builtins.__build_class__
	Nop

	opcodeCount
)

// OpcodeInfo describes an opcode for disassembly and validation.
type OpcodeInfo struct {
	Name     string
	HasLabel bool // Arg is a jump target
	HasName  bool // Arg indexes Names
	HasConst bool // Arg indexes Constants
	HasLocal bool // Arg indexes Varnames
	HasCell  bool // Arg indexes cellvars then freevars
}

var opcodeInfoTable = [opcodeCount]OpcodeInfo{
	ImportName: {Name: "ImportName", HasName: true},
	ImportStar: {Name: "ImportStar"},
	ImportFrom: {Name: "ImportFrom", HasName: true},

	LoadFast:       {Name: "LoadFast", HasLocal: true},
	LoadNameAny:    {Name: "LoadNameAny", HasName: true},
	LoadGlobal:     {Name: "LoadGlobal", HasName: true},
	LoadDeref:      {Name: "LoadDeref", HasCell: true},
	LoadClassDeref: {Name: "LoadClassDeref", HasCell: true},
	StoreFast:      {Name: "StoreFast", HasLocal: true},
	StoreLocal:     {Name: "StoreLocal", HasName: true},
	StoreGlobal:    {Name: "StoreGlobal", HasName: true},
	StoreDeref:     {Name: "StoreDeref", HasCell: true},
	DeleteFast:     {Name: "DeleteFast", HasLocal: true},
	DeleteLocal:    {Name: "DeleteLocal", HasName: true},
	DeleteGlobal:   {Name: "DeleteGlobal", HasName: true},
	DeleteDeref:    {Name: "DeleteDeref", HasCell: true},
	LoadClosure:    {Name: "LoadClosure", HasCell: true},

	Subscript:       {Name: "Subscript"},
	StoreSubscript:  {Name: "StoreSubscript"},
	DeleteSubscript: {Name: "DeleteSubscript"},
	StoreAttr:       {Name: "StoreAttr", HasName: true},
	DeleteAttr:      {Name: "DeleteAttr", HasName: true},
	LoadAttr:        {Name: "LoadAttr", HasName: true},

	LoadConst:              {Name: "LoadConst", HasConst: true},
	UnaryOperation:         {Name: "UnaryOperation"},
	BinaryOperation:        {Name: "BinaryOperation"},
	BinaryOperationInplace: {Name: "BinaryOperationInplace"},
	CompareOperation:       {Name: "CompareOperation"},

	Pop:        {Name: "Pop"},
	Rotate2:    {Name: "Rotate2"},
	Rotate3:    {Name: "Rotate3"},
	Duplicate:  {Name: "Duplicate"},
	Duplicate2: {Name: "Duplicate2"},
	Reverse:    {Name: "Reverse"},
	GetIter:    {Name: "GetIter"},

	Continue:         {Name: "Continue", HasLabel: true},
	Break:            {Name: "Break"},
	Jump:             {Name: "Jump", HasLabel: true},
	JumpIfTrue:       {Name: "JumpIfTrue", HasLabel: true},
	JumpIfFalse:      {Name: "JumpIfFalse", HasLabel: true},
	JumpIfTrueOrPop:  {Name: "JumpIfTrueOrPop", HasLabel: true},
	JumpIfFalseOrPop: {Name: "JumpIfFalseOrPop", HasLabel: true},
	ForIter:          {Name: "ForIter", HasLabel: true},
	ReturnValue:      {Name: "ReturnValue"},
	Raise:            {Name: "Raise"},

	MakeFunction:           {Name: "MakeFunction"},
	CallFunctionPositional: {Name: "CallFunctionPositional"},
	CallFunctionKeyword:    {Name: "CallFunctionKeyword"},
	CallFunctionEx:         {Name: "CallFunctionEx"},
	LoadMethod:             {Name: "LoadMethod", HasName: true},
	CallMethodPositional:   {Name: "CallMethodPositional"},
	CallMethodKeyword:      {Name: "CallMethodKeyword"},
	CallMethodEx:           {Name: "CallMethodEx"},

	YieldValue:      {Name: "YieldValue"},
	YieldFrom:       {Name: "YieldFrom"},
	GetAwaitable:    {Name: "GetAwaitable"},
	BeforeAsyncWith: {Name: "BeforeAsyncWith"},
	SetupAsyncWith:  {Name: "SetupAsyncWith", HasLabel: true},
	GetAIter:        {Name: "GetAIter"},
	GetANext:        {Name: "GetANext"},
	EndAsyncFor:     {Name: "EndAsyncFor"},

	SetupAnnotation:   {Name: "SetupAnnotation"},
	SetupLoop:         {Name: "SetupLoop", HasLabel: true},
	SetupFinally:      {Name: "SetupFinally", HasLabel: true},
	EnterFinally:      {Name: "EnterFinally"},
	EndFinally:        {Name: "EndFinally"},
	SetupExcept:       {Name: "SetupExcept", HasLabel: true},
	SetupWith:         {Name: "SetupWith", HasLabel: true},
	WithCleanupStart:  {Name: "WithCleanupStart"},
	WithCleanupFinish: {Name: "WithCleanupFinish"},
	PopBlock:          {Name: "PopBlock"},
	PopException:      {Name: "PopException"},

	BuildString:    {Name: "BuildString"},
	BuildTuple:     {Name: "BuildTuple"},
	BuildList:      {Name: "BuildList"},
	BuildSet:       {Name: "BuildSet"},
	BuildMap:       {Name: "BuildMap"},
	BuildSlice:     {Name: "BuildSlice"},
	ListAppend:     {Name: "ListAppend"},
	SetAdd:         {Name: "SetAdd"},
	MapAdd:         {Name: "MapAdd"},
	UnpackSequence: {Name: "UnpackSequence"},
	UnpackEx:       {Name: "UnpackEx"},
	FormatValue:    {Name: "FormatValue"},

	PrintExpr:      {Name: "PrintExpr"},
	LoadBuildClass: {Name: "LoadBuildClass"},
	Nop:            {Name: "Nop"},
}

// GetOpcodeInfo returns metadata for an opcode.
// Unknown opcodes yield a zero OpcodeInfo with a synthesized name.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op < opcodeCount {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", uint8(op))}
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(opcodeCount)
}

// OpcodeByName looks up an opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	for op := Opcode(0); op < opcodeCount; op++ {
		if opcodeInfoTable[op].Name == name {
			return op, true
		}
	}
	return 0, false
}
