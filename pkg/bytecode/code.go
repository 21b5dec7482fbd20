package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Location is a 1-based source position. The zero Location means unknown.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// CodeFlags is the bit-set stored on each CodeObject.
type CodeFlags uint16

const (
	FlagNewLocals CodeFlags = 1 << iota
	FlagIsGenerator
	FlagIsCoroutine
	FlagHasVarargs
	FlagHasVarKeywords
	FlagIsOptimized
)

func (f CodeFlags) String() string {
	names := []string{"NEW_LOCALS", "GENERATOR", "COROUTINE", "VARARGS", "VARKEYWORDS", "OPTIMIZED"}
	var parts []string
	for i, n := range names {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Mode selects how a top-level module is compiled.
type Mode uint8

const (
	ModeExec   Mode = iota // a sequence of statements
	ModeEval               // a single expression whose value is returned
	ModeSingle             // one interactive statement; expression values are printed
)

// ParseMode converts the names accepted by compile() into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "exec":
		return ModeExec, nil
	case "eval":
		return ModeEval, nil
	case "single":
		return ModeSingle, nil
	}
	return 0, fmt.Errorf("compile() mode must be 'exec', 'eval' or 'single', not %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeEval:
		return "eval"
	case ModeSingle:
		return "single"
	}
	return "exec"
}

// CodeObject is the immutable product of compiling one function, class
// body, lambda, comprehension or module.
type CodeObject struct {
	Instructions    []Instruction
	Locations       []Location
	Flags           CodeFlags
	PosOnlyArgCount int
	ArgCount        int
	KwOnlyArgCount  int
	Source          string
	FirstLineNo     int
	ObjName         string
	MaxStackSize    int
	Constants       []Constant
	Names           []string
	Varnames        []string
	Cellvars        []string
	Freevars        []string
	// Cell2Arg maps each cell slot to the argument slot it is initialized
	// from, or -1. Nil when no argument is captured.
	Cell2Arg []int
}

// TotalArgCount is the number of argument slots at the start of Varnames,
// including *args and **kwargs.
func (c *CodeObject) TotalArgCount() int {
	n := c.ArgCount + c.KwOnlyArgCount
	if c.Flags&FlagHasVarargs != 0 {
		n++
	}
	if c.Flags&FlagHasVarKeywords != 0 {
		n++
	}
	return n
}

// ArgNames returns the names of the argument slots.
func (c *CodeObject) ArgNames() []string {
	return c.Varnames[:c.TotalArgCount()]
}

// CellFreeName returns the name of the cell or free variable at index i of
// the combined cells/frees array.
func (c *CodeObject) CellFreeName(i int) string {
	if i < len(c.Cellvars) {
		return c.Cellvars[i]
	}
	return c.Freevars[i-len(c.Cellvars)]
}

// LineAt returns the source line of the instruction at index i, or 0.
func (c *CodeObject) LineAt(i int) int {
	if i >= 0 && i < len(c.Locations) {
		return c.Locations[i].Line
	}
	return 0
}

// IsGenerator reports whether calling the code creates a generator.
func (c *CodeObject) IsGenerator() bool { return c.Flags&FlagIsGenerator != 0 }

// IsCoroutine reports whether calling the code creates a coroutine.
func (c *CodeObject) IsCoroutine() bool { return c.Flags&FlagIsCoroutine != 0 }

func (c *CodeObject) String() string {
	return fmt.Sprintf("<code object %s at %q, line %d>", c.ObjName, c.Source, c.FirstLineNo)
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Constant is one entry of a code object's constant pool.
type Constant interface {
	constant()
	String() string
}

type (
	NoneConst     struct{}
	EllipsisConst struct{}
	BoolConst     bool
	IntConst      int64
	FloatConst    float64
	StrConst      string
	BytesConst    []byte
	TupleConst    []Constant
	CodeConst     struct{ Code *CodeObject }
)

func (NoneConst) constant()     {}
func (EllipsisConst) constant() {}
func (BoolConst) constant()     {}
func (IntConst) constant()      {}
func (FloatConst) constant()    {}
func (StrConst) constant()      {}
func (BytesConst) constant()    {}
func (TupleConst) constant()    {}
func (CodeConst) constant()     {}

func (NoneConst) String() string     { return "None" }
func (EllipsisConst) String() string { return "Ellipsis" }

func (c BoolConst) String() string {
	if c {
		return "True"
	}
	return "False"
}

func (c IntConst) String() string { return strconv.FormatInt(int64(c), 10) }

func (c FloatConst) String() string {
	s := strconv.FormatFloat(float64(c), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func (c StrConst) String() string   { return strconv.Quote(string(c)) }
func (c BytesConst) String() string { return "b" + strconv.Quote(string(c)) }

func (c TupleConst) String() string {
	parts := make([]string, len(c))
	for i, e := range c {
		parts[i] = e.String()
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (c CodeConst) String() string { return c.Code.String() }
