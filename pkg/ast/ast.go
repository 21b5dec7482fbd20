// Package ast defines the syntax tree consumed by the compiler.
package ast

import "fmt"

// ---------------------------------------------------------------------------
// Positions and node interfaces
// ---------------------------------------------------------------------------

// Pos is a 1-based source position.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is implemented by every syntax tree node.
type Node interface {
	Position() Pos
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Mod is the interface for the three top-level forms.
type Mod interface {
	modNode()
}

// StmtNode is embedded by every statement.
type StmtNode struct{ Loc Pos }

func (n *StmtNode) Position() Pos { return n.Loc }
func (*StmtNode) stmtNode()       {}

// ExprNode is embedded by every expression.
type ExprNode struct{ Loc Pos }

func (n *ExprNode) Position() Pos { return n.Loc }
func (*ExprNode) exprNode()       {}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// Module is a file or exec() string.
type Module struct {
	Body []Stmt
}

// Interactive is one REPL entry.
type Interactive struct {
	Body []Stmt
}

// Expression is the body of eval().
type Expression struct {
	Body Expr
}

func (*Module) modNode()      {}
func (*Interactive) modNode() {}
func (*Expression) modNode()  {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

type FunctionDef struct {
	StmtNode
	Name          string
	Args          *Arguments
	Body          []Stmt
	DecoratorList []Expr
	Returns       Expr
	IsAsync       bool
}

type ClassDef struct {
	StmtNode
	Name          string
	Bases         []Expr
	Keywords      []*Keyword
	Body          []Stmt
	DecoratorList []Expr
}

type Return struct {
	StmtNode
	Value Expr // may be nil
}

type Delete struct {
	StmtNode
	Targets []Expr
}

type Assign struct {
	StmtNode
	Targets []Expr
	Value   Expr
}

type AugAssign struct {
	StmtNode
	Target Expr
	Op     Operator
	Value  Expr
}

// AnnAssign is an annotated assignment. Simple is set when the target is a
// bare name not enclosed in parentheses.
type AnnAssign struct {
	StmtNode
	Target     Expr
	Annotation Expr
	Value      Expr // may be nil
	Simple     bool
}

type For struct {
	StmtNode
	Target  Expr
	Iter    Expr
	Body    []Stmt
	Orelse  []Stmt
	IsAsync bool
}

type While struct {
	StmtNode
	Test   Expr
	Body   []Stmt
	Orelse []Stmt
}

type If struct {
	StmtNode
	Test   Expr
	Body   []Stmt
	Orelse []Stmt
}

type With struct {
	StmtNode
	Items   []*WithItem
	Body    []Stmt
	IsAsync bool
}

type Raise struct {
	StmtNode
	Exc   Expr // may be nil
	Cause Expr // may be nil
}

type Try struct {
	StmtNode
	Body      []Stmt
	Handlers  []*ExceptHandler
	Orelse    []Stmt
	Finalbody []Stmt
}

type Assert struct {
	StmtNode
	Test Expr
	Msg  Expr // may be nil
}

type Import struct {
	StmtNode
	Names []*Alias
}

type ImportFrom struct {
	StmtNode
	Module string // empty for "from . import x"
	Names  []*Alias
	Level  int
}

type Global struct {
	StmtNode
	Names []string
}

type Nonlocal struct {
	StmtNode
	Names []string
}

type ExprStmt struct {
	StmtNode
	Value Expr
}

type Pass struct{ StmtNode }
type Break struct{ StmtNode }
type Continue struct{ StmtNode }

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type BoolOp struct {
	ExprNode
	Op     BoolOperator
	Values []Expr
}

type BinOp struct {
	ExprNode
	Left  Expr
	Op    Operator
	Right Expr
}

type UnaryOp struct {
	ExprNode
	Op      UnaryOperator
	Operand Expr
}

type Lambda struct {
	ExprNode
	Args *Arguments
	Body Expr
}

type IfExp struct {
	ExprNode
	Test   Expr
	Body   Expr
	Orelse Expr
}

// Dict is a dict display. A nil key marks a **mapping unpack of the
// corresponding value.
type Dict struct {
	ExprNode
	Keys   []Expr
	Values []Expr
}

type Set struct {
	ExprNode
	Elts []Expr
}

type ListComp struct {
	ExprNode
	Elt        Expr
	Generators []*Comprehension
}

type SetComp struct {
	ExprNode
	Elt        Expr
	Generators []*Comprehension
}

type DictComp struct {
	ExprNode
	Key        Expr
	Value      Expr
	Generators []*Comprehension
}

type GeneratorExp struct {
	ExprNode
	Elt        Expr
	Generators []*Comprehension
}

type Await struct {
	ExprNode
	Value Expr
}

type Yield struct {
	ExprNode
	Value Expr // may be nil
}

type YieldFrom struct {
	ExprNode
	Value Expr
}

// Compare is a possibly chained comparison: Left Ops[0] Comparators[0] ...
type Compare struct {
	ExprNode
	Left        Expr
	Ops         []CmpOperator
	Comparators []Expr
}

type Call struct {
	ExprNode
	Func     Expr
	Args     []Expr
	Keywords []*Keyword
}

type FormattedValue struct {
	ExprNode
	Value      Expr
	Conversion rune // 0, 's', 'r' or 'a'
	FormatSpec Expr // *JoinedStr or nil
}

type JoinedStr struct {
	ExprNode
	Values []Expr
}

// Constant holds a literal. Value is one of nil, bool, int64, float64,
// string, []byte or EllipsisValue.
type Constant struct {
	ExprNode
	Value any
}

// EllipsisValue is the Constant value of "...".
type EllipsisValue struct{}

type Attribute struct {
	ExprNode
	Value Expr
	Attr  string
	Ctx   Context
}

type Subscript struct {
	ExprNode
	Value Expr
	Slice Expr
	Ctx   Context
}

type Starred struct {
	ExprNode
	Value Expr
	Ctx   Context
}

type Name struct {
	ExprNode
	ID  string
	Ctx Context
}

type List struct {
	ExprNode
	Elts []Expr
	Ctx  Context
}

type Tuple struct {
	ExprNode
	Elts []Expr
	Ctx  Context
}

type Slice struct {
	ExprNode
	Lower Expr // may be nil
	Upper Expr // may be nil
	Step  Expr // may be nil
}

// ---------------------------------------------------------------------------
// Supporting nodes
// ---------------------------------------------------------------------------

// Arguments is a function signature.
type Arguments struct {
	PosOnlyArgs []*Arg
	Args        []*Arg
	Vararg      *Arg
	KwOnlyArgs  []*Arg
	KwDefaults  []Expr // parallel to KwOnlyArgs; nil entries have no default
	Kwarg       *Arg
	Defaults    []Expr // for the last len(Defaults) positional parameters
}

// All returns every parameter in slot order.
func (a *Arguments) All() []*Arg {
	var out []*Arg
	out = append(out, a.PosOnlyArgs...)
	out = append(out, a.Args...)
	if a.Vararg != nil {
		out = append(out, a.Vararg)
	}
	out = append(out, a.KwOnlyArgs...)
	if a.Kwarg != nil {
		out = append(out, a.Kwarg)
	}
	return out
}

type Arg struct {
	Loc        Pos
	Name       string
	Annotation Expr
}

// Keyword is name=value in a call or class header. An empty Arg means
// **value.
type Keyword struct {
	Loc   Pos
	Arg   string
	Value Expr
}

type Alias struct {
	Name   string
	AsName string
}

type WithItem struct {
	ContextExpr  Expr
	OptionalVars Expr // may be nil
}

type ExceptHandler struct {
	Loc  Pos
	Type Expr   // may be nil
	Name string // empty when there is no "as"
	Body []Stmt
}

type Comprehension struct {
	Target  Expr
	Iter    Expr
	Ifs     []Expr
	IsAsync bool
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Context tells whether a target expression is read, written or deleted.
type Context uint8

const (
	Load Context = iota
	Store
	Del
)

type BoolOperator uint8

const (
	And BoolOperator = iota
	Or
)

type Operator uint8

const (
	Add Operator = iota
	Sub
	Mult
	MatMult
	Div
	Modulo
	Pow
	LShift
	RShift
	BitOr
	BitXor
	BitAnd
	FloorDiv
)

var operatorTokens = [...]string{
	Add: "+", Sub: "-", Mult: "*", MatMult: "@", Div: "/", Modulo: "%", Pow: "**",
	LShift: "<<", RShift: ">>", BitOr: "|", BitXor: "^", BitAnd: "&", FloorDiv: "//",
}

func (o Operator) String() string { return operatorTokens[o] }

type UnaryOperator uint8

const (
	Invert UnaryOperator = iota
	Not
	UAdd
	USub
)

type CmpOperator uint8

const (
	Eq CmpOperator = iota
	NotEq
	Lt
	LtE
	Gt
	GtE
	Is
	IsNot
	In
	NotIn
)

var cmpTokens = [...]string{
	Eq: "==", NotEq: "!=", Lt: "<", LtE: "<=", Gt: ">", GtE: ">=",
	Is: "is", IsNot: "is not", In: "in", NotIn: "not in",
}

func (o CmpOperator) String() string { return cmpTokens[o] }
