package bytecode

import (
	"fmt"
	"math/bits"
)

// Label is a jump target. During compilation it names a basic block; in a
// finished CodeObject it is an index into Instructions.
type Label uint32

// Instruction is a single decoded operation. Arg carries the primary operand
// (an index, a count, a label, or a sub-operator); Arg2 carries the second
// operand of the few instructions that need one. Unpack marks builders that
// spread iterables instead of consuming single values.
type Instruction struct {
	Op     Opcode
	Arg    uint32
	Arg2   uint32
	Unpack bool
}

// Label returns the jump target of a branching instruction.
func (i Instruction) Label() (Label, bool) {
	if GetOpcodeInfo(i.Op).HasLabel {
		return Label(i.Arg), true
	}
	return 0, false
}

// WithLabel returns a copy of the instruction targeting l.
func (i Instruction) WithLabel(l Label) Instruction {
	i.Arg = uint32(l)
	return i
}

// UnconditionalBranch reports whether control never falls through to the
// next instruction.
func (i Instruction) UnconditionalBranch() bool {
	switch i.Op {
	case Jump, Continue, Break, ReturnValue, Raise:
		return true
	}
	return false
}

// StackEffect returns the net change in value-stack depth caused by the
// instruction. jump selects the taken edge for branching instructions whose
// two successors see different depths.
func (i Instruction) StackEffect(jump bool) int {
	n := int(i.Arg)
	switch i.Op {
	case ImportName:
		return -1
	case ImportStar:
		return -1
	case ImportFrom:
		return 1
	case LoadFast, LoadNameAny, LoadGlobal, LoadDeref, LoadClassDeref, LoadClosure, LoadConst:
		return 1
	case StoreFast, StoreLocal, StoreGlobal, StoreDeref:
		return -1
	case DeleteFast, DeleteLocal, DeleteGlobal, DeleteDeref:
		return 0
	case Subscript:
		return -1
	case StoreSubscript:
		return -3
	case DeleteSubscript:
		return -2
	case StoreAttr:
		return -2
	case DeleteAttr:
		return -1
	case LoadAttr:
		return 0
	case UnaryOperation:
		return 0
	case BinaryOperation, BinaryOperationInplace, CompareOperation:
		return -1
	case Pop:
		return -1
	case Rotate2, Rotate3, Reverse:
		return 0
	case Duplicate:
		return 1
	case Duplicate2:
		return 2
	case GetIter:
		return 0
	case Continue, Break, Jump:
		return 0
	case JumpIfTrue, JumpIfFalse:
		return -1
	case JumpIfTrueOrPop, JumpIfFalseOrPop:
		if jump {
			return 0
		}
		return -1
	case ForIter:
		if jump {
			return -1
		}
		return 1
	case ReturnValue:
		return -1
	case Raise:
		switch RaiseKind(i.Arg) {
		case RaiseReraise:
			return 0
		case RaiseException:
			return -1
		default:
			return -2
		}
	case MakeFunction:
		return -1 - MakeFunctionFlags(i.Arg).Count()
	case CallFunctionPositional:
		return -n
	case CallFunctionKeyword:
		return -n - 1
	case CallFunctionEx:
		return -1 - boolArg(i.Arg)
	case LoadMethod:
		return 2
	case CallMethodPositional:
		return -n - 2
	case CallMethodKeyword:
		return -n - 3
	case CallMethodEx:
		return -3 - boolArg(i.Arg)
	case YieldValue:
		return 0
	case YieldFrom:
		return -1
	case GetAwaitable, GetAIter:
		return 0
	case BeforeAsyncWith, GetANext:
		return 1
	case SetupAsyncWith:
		if jump {
			return -1
		}
		return 0
	case EndAsyncFor:
		return -2
	case SetupAnnotation, SetupLoop, SetupFinally, EnterFinally, EndFinally, PopBlock, PopException:
		return 0
	case SetupExcept:
		if jump {
			return 1
		}
		return 0
	case SetupWith:
		if jump {
			return 0
		}
		return 1
	case WithCleanupStart:
		return 0
	case WithCleanupFinish:
		return -1
	case BuildString, BuildTuple, BuildList, BuildSet:
		return 1 - n
	case BuildMap:
		if i.Unpack {
			return 1 - n
		}
		return 1 - 2*n
	case BuildSlice:
		if i.Arg != 0 {
			return -2
		}
		return -1
	case ListAppend, SetAdd:
		return -1
	case MapAdd:
		return -2
	case UnpackSequence:
		return n - 1
	case UnpackEx:
		return n + int(i.Arg2)
	case FormatValue:
		return -1
	case PrintExpr:
		return -1
	case LoadBuildClass:
		return 1
	case Nop:
		return 0
	}
	panic(fmt.Sprintf("bytecode: stack effect of unknown opcode %d", uint8(i.Op)))
}

func boolArg(arg uint32) int {
	if arg != 0 {
		return 1
	}
	return 0
}

// String renders the instruction without resolving operands against a
// code object.
func (i Instruction) String() string {
	info := GetOpcodeInfo(i.Op)
	switch i.Op {
	case UnaryOperation:
		return fmt.Sprintf("%s %s", info.Name, UnaryOperator(i.Arg))
	case BinaryOperation, BinaryOperationInplace:
		return fmt.Sprintf("%s %s", info.Name, BinaryOperator(i.Arg))
	case CompareOperation:
		return fmt.Sprintf("%s %s", info.Name, ComparisonOperator(i.Arg))
	case Raise:
		return fmt.Sprintf("%s %s", info.Name, RaiseKind(i.Arg))
	case MakeFunction:
		return fmt.Sprintf("%s %s", info.Name, MakeFunctionFlags(i.Arg))
	case UnpackEx, BuildMap:
		if i.Unpack {
			return fmt.Sprintf("%s %d %d unpack", info.Name, i.Arg, i.Arg2)
		}
		return fmt.Sprintf("%s %d %d", info.Name, i.Arg, i.Arg2)
	case BuildTuple, BuildList, BuildSet:
		if i.Unpack {
			return fmt.Sprintf("%s %d unpack", info.Name, i.Arg)
		}
	case FormatValue:
		return fmt.Sprintf("%s %s", info.Name, Conversion(i.Arg))
	}
	switch i.Op {
	case Break, Duplicate, Duplicate2, Pop, Rotate2, Rotate3, GetIter, ReturnValue,
		YieldValue, YieldFrom, GetAwaitable, BeforeAsyncWith, GetAIter, GetANext,
		EndAsyncFor, SetupAnnotation, EnterFinally, EndFinally, WithCleanupStart,
		WithCleanupFinish, PopBlock, PopException, PrintExpr, LoadBuildClass, Nop,
		Subscript, StoreSubscript, DeleteSubscript, ImportStar:
		return info.Name
	}
	return fmt.Sprintf("%s %d", info.Name, i.Arg)
}

// ---------------------------------------------------------------------------
// Operand enums
// ---------------------------------------------------------------------------

// BinaryOperator selects the arithmetic or bitwise operation of
// BinaryOperation and BinaryOperationInplace.
type BinaryOperator uint32

const (
	OpPower BinaryOperator = iota
	OpMultiply
	OpMatrixMultiply
	OpDivide
	OpFloorDivide
	OpModulo
	OpAdd
	OpSubtract
	OpLshift
	OpRshift
	OpAnd
	OpXor
	OpOr
)

var binaryOperatorInfo = [...]struct{ name, token, dunder string }{
	OpPower:          {"Power", "**", "pow"},
	OpMultiply:       {"Multiply", "*", "mul"},
	OpMatrixMultiply: {"MatrixMultiply", "@", "matmul"},
	OpDivide:         {"Divide", "/", "truediv"},
	OpFloorDivide:    {"FloorDivide", "//", "floordiv"},
	OpModulo:         {"Modulo", "%", "mod"},
	OpAdd:            {"Add", "+", "add"},
	OpSubtract:       {"Subtract", "-", "sub"},
	OpLshift:         {"Lshift", "<<", "lshift"},
	OpRshift:         {"Rshift", ">>", "rshift"},
	OpAnd:            {"And", "&", "and"},
	OpXor:            {"Xor", "^", "xor"},
	OpOr:             {"Or", "|", "or"},
}

func (op BinaryOperator) String() string {
	if int(op) < len(binaryOperatorInfo) {
		return binaryOperatorInfo[op].name
	}
	return fmt.Sprintf("BinaryOperator(%d)", uint32(op))
}

// Token is the source spelling of the operator, e.g. "+".
func (op BinaryOperator) Token() string { return binaryOperatorInfo[op].token }

// Method is the forward special method name, e.g. "__add__".
func (op BinaryOperator) Method() string { return "__" + binaryOperatorInfo[op].dunder + "__" }

// ReflectedMethod is the reflected special method name, e.g. "__radd__".
func (op BinaryOperator) ReflectedMethod() string { return "__r" + binaryOperatorInfo[op].dunder + "__" }

// InplaceMethod is the in-place special method name, e.g. "__iadd__".
func (op BinaryOperator) InplaceMethod() string { return "__i" + binaryOperatorInfo[op].dunder + "__" }

// UnaryOperator selects the operation of UnaryOperation.
type UnaryOperator uint32

const (
	OpNot UnaryOperator = iota
	OpInvert
	OpMinus
	OpPlus
)

func (op UnaryOperator) String() string {
	switch op {
	case OpNot:
		return "Not"
	case OpInvert:
		return "Invert"
	case OpMinus:
		return "Minus"
	case OpPlus:
		return "Plus"
	}
	return fmt.Sprintf("UnaryOperator(%d)", uint32(op))
}

// ComparisonOperator selects the comparison performed by CompareOperation.
// The first six are rich comparisons; the rest are handled by the VM
// directly.
type ComparisonOperator uint32

const (
	CmpLess ComparisonOperator = iota
	CmpLessOrEqual
	CmpEqual
	CmpNotEqual
	CmpGreater
	CmpGreaterOrEqual
	CmpIn
	CmpNotIn
	CmpIs
	CmpIsNot
	CmpExceptionMatch
)

var comparisonInfo = [...]struct{ name, token, dunder string }{
	CmpLess:           {"Less", "<", "__lt__"},
	CmpLessOrEqual:    {"LessOrEqual", "<=", "__le__"},
	CmpEqual:          {"Equal", "==", "__eq__"},
	CmpNotEqual:       {"NotEqual", "!=", "__ne__"},
	CmpGreater:        {"Greater", ">", "__gt__"},
	CmpGreaterOrEqual: {"GreaterOrEqual", ">=", "__ge__"},
	CmpIn:             {"In", "in", ""},
	CmpNotIn:          {"NotIn", "not in", ""},
	CmpIs:             {"Is", "is", ""},
	CmpIsNot:          {"IsNot", "is not", ""},
	CmpExceptionMatch: {"ExceptionMatch", "exception match", ""},
}

func (op ComparisonOperator) String() string {
	if int(op) < len(comparisonInfo) {
		return comparisonInfo[op].name
	}
	return fmt.Sprintf("ComparisonOperator(%d)", uint32(op))
}

// Token is the source spelling, e.g. "<=".
func (op ComparisonOperator) Token() string { return comparisonInfo[op].token }

// Method is the rich comparison special method, e.g. "__le__".
func (op ComparisonOperator) Method() string { return comparisonInfo[op].dunder }

// IsRich reports whether the operator dispatches through rich comparison.
func (op ComparisonOperator) IsRich() bool { return op <= CmpGreaterOrEqual }

// Swapped returns the operator to use when the operands are exchanged.
func (op ComparisonOperator) Swapped() ComparisonOperator {
	switch op {
	case CmpLess:
		return CmpGreater
	case CmpLessOrEqual:
		return CmpGreaterOrEqual
	case CmpGreater:
		return CmpLess
	case CmpGreaterOrEqual:
		return CmpLessOrEqual
	}
	return op
}

// RaiseKind distinguishes the three forms of the raise statement.
type RaiseKind uint32

const (
	RaiseReraise   RaiseKind = iota // bare raise
	RaiseException                  // raise exc
	RaiseCause                      // raise exc from cause
)

func (k RaiseKind) String() string {
	switch k {
	case RaiseReraise:
		return "Reraise"
	case RaiseException:
		return "Raise"
	case RaiseCause:
		return "RaiseCause"
	}
	return fmt.Sprintf("RaiseKind(%d)", uint32(k))
}

// MakeFunctionFlags records which optional values MakeFunction pops. They
// are pushed in the order defaults, kw-defaults, annotations, closure.
type MakeFunctionFlags uint32

const (
	FuncHasDefaults MakeFunctionFlags = 1 << iota
	FuncHasKwOnlyDefaults
	FuncHasAnnotations
	FuncHasClosure
)

// Count returns how many extra stack values the flags consume.
func (f MakeFunctionFlags) Count() int {
	return bits.OnesCount32(uint32(f))
}

func (f MakeFunctionFlags) String() string {
	s := ""
	add := func(flag MakeFunctionFlags, name string) {
		if f&flag != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FuncHasDefaults, "defaults")
	add(FuncHasKwOnlyDefaults, "kwdefaults")
	add(FuncHasAnnotations, "annotations")
	add(FuncHasClosure, "closure")
	if s == "" {
		return "none"
	}
	return s
}

// Conversion is the !s / !r / !a conversion of a formatted value.
type Conversion uint32

const (
	ConvNone Conversion = iota
	ConvStr
	ConvRepr
	ConvASCII
)

func (c Conversion) String() string {
	switch c {
	case ConvStr:
		return "!s"
	case ConvRepr:
		return "!r"
	case ConvASCII:
		return "!a"
	}
	return "none"
}
