// Package symtable resolves the scope of every name in a module before
// code generation.
//
// Build runs in two passes. The first walks the syntax tree and records,
// per scope, how each name is used (assigned, referenced, declared global
// or nonlocal, bound as a parameter). The second pass visits the scopes
// innermost first and decides where each name lives: in the frame's fast
// locals, in a cell shared with an inner function, in an enclosing
// function's cell, or in the global namespace.
package symtable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/adder/pkg/ast"
)

// TableType is the kind of scope a Table describes.
type TableType uint8

const (
	TableModule TableType = iota
	TableClass
	TableFunction
)

func (t TableType) String() string {
	switch t {
	case TableModule:
		return "module"
	case TableClass:
		return "class"
	case TableFunction:
		return "function"
	}
	return fmt.Sprintf("TableType(%d)", int(t))
}

// Scope is where a symbol's value is stored at run time.
type Scope uint8

const (
	ScopeUnknown Scope = iota
	ScopeLocal
	ScopeGlobalExplicit
	ScopeGlobalImplicit
	ScopeFree
	ScopeCell
)

var scopeNames = [...]string{
	ScopeUnknown:        "unknown",
	ScopeLocal:          "local",
	ScopeGlobalExplicit: "global_explicit",
	ScopeGlobalImplicit: "global_implicit",
	ScopeFree:           "free",
	ScopeCell:           "cell",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// Flags record how a name is used inside one scope.
type Flags uint16

const (
	FlagReferenced Flags = 1 << iota
	FlagAssigned
	FlagParameter
	FlagAnnotated
	FlagImported
	FlagNonlocal
	FlagIter
	// FlagFreeClass marks a name that a class body passes through to a
	// method while also possibly binding it itself.
	FlagFreeClass
)

const boundFlags = FlagAssigned | FlagParameter | FlagImported | FlagIter

// Symbol is one name in one scope.
type Symbol struct {
	Name  string
	Scope Scope
	Flags Flags
}

func (s *Symbol) IsReferenced() bool { return s.Flags&FlagReferenced != 0 }
func (s *Symbol) IsAssigned() bool   { return s.Flags&FlagAssigned != 0 }
func (s *Symbol) IsParameter() bool  { return s.Flags&FlagParameter != 0 }
func (s *Symbol) IsAnnotated() bool  { return s.Flags&FlagAnnotated != 0 }
func (s *Symbol) IsImported() bool   { return s.Flags&FlagImported != 0 }
func (s *Symbol) IsNonlocal() bool   { return s.Flags&FlagNonlocal != 0 }
func (s *Symbol) IsFreeClass() bool  { return s.Flags&FlagFreeClass != 0 }

// IsBound reports whether the scope itself gives the name a value.
func (s *Symbol) IsBound() bool { return s.Flags&boundFlags != 0 }

// IsGlobal reports whether the name resolves in the module namespace.
func (s *Symbol) IsGlobal() bool {
	return s.Scope == ScopeGlobalExplicit || s.Scope == ScopeGlobalImplicit
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s: %s", s.Name, s.Scope)
}

// Table is the symbol table of a single scope.
type Table struct {
	Name     string
	Type     TableType
	Line     int
	Symbols  map[string]*Symbol
	Children []*Table

	// Comprehension is set for the implicit function of a list, set or
	// dict comprehension or a generator expression.
	Comprehension bool

	order []string
	index map[ast.Node]*Table
}

func newTable(name string, typ TableType, line int, index map[ast.Node]*Table) *Table {
	return &Table{
		Name:    name,
		Type:    typ,
		Line:    line,
		Symbols: make(map[string]*Symbol),
		index:   index,
	}
}

// Lookup returns the symbol for name, or nil.
func (t *Table) Lookup(name string) *Symbol {
	return t.Symbols[name]
}

// Names returns the symbol names in first-use order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Scoped returns the sorted names of the symbols with the given scope.
func (t *Table) Scoped(scope Scope) []string {
	var out []string
	for name, sym := range t.Symbols {
		if sym.Scope == scope {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ScopeFor returns the table created for a function, lambda, class or
// comprehension node anywhere in the module.
func (t *Table) ScopeFor(node ast.Node) *Table {
	return t.index[node]
}

// NeedsClassCell reports whether a class body must create a __class__ cell
// for zero-argument super() in its methods.
func (t *Table) NeedsClassCell() bool {
	if t.Type != TableClass {
		return false
	}
	sym := t.Symbols["__class__"]
	return sym != nil && sym.Scope == ScopeCell
}

func (t *Table) symbol(name string) *Symbol {
	sym, ok := t.Symbols[name]
	if !ok {
		sym = &Symbol{Name: name}
		t.Symbols[name] = sym
		t.order = append(t.order, name)
	}
	return sym
}

// Dump writes an indented listing of the table tree, used in tests and by
// the disassembler's verbose mode.
func (t *Table) Dump() string {
	var b strings.Builder
	t.dump(&b, 0)
	return b.String()
}

func (t *Table) dump(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s %s\n", indent, t.Type, t.Name)
	names := append([]string(nil), t.order...)
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "%s  %s\n", indent, t.Symbols[name])
	}
	for _, child := range t.Children {
		child.dump(b, depth+1)
	}
}

// Error is a scoping error such as a misplaced nonlocal declaration. The
// compiler reports it as a SyntaxError.
type Error struct {
	Msg string
	Loc ast.Pos
}

func (e *Error) Error() string {
	if e.Loc.Line == 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d: %s", e.Loc.Line, e.Msg)
}

// Build produces the symbol table tree for a module, interactive entry or
// eval expression.
func Build(mod ast.Mod) (*Table, error) {
	b := &builder{index: make(map[ast.Node]*Table)}
	root := newTable("top", TableModule, 0, b.index)
	b.tables = []*Table{root}

	if err := b.run(func() {
		switch m := mod.(type) {
		case *ast.Module:
			b.scanStmts(m.Body)
		case *ast.Interactive:
			b.scanStmts(m.Body)
		case *ast.Expression:
			b.scanExpr(m.Body, ast.Load)
		default:
			b.fail(ast.Pos{}, "unsupported module kind %T", mod)
		}
	}); err != nil {
		return nil, err
	}

	a := &analyzer{}
	if err := a.run(root); err != nil {
		return nil, err
	}
	return root, nil
}
