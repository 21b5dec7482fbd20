package compiler

import (
	"fmt"

	"github.com/joomcode/errorx"

	"github.com/chazu/adder/compiler/symtable"
	"github.com/chazu/adder/pkg/bytecode"
	"github.com/chazu/adder/pkg/parser"
)

// CompileErrorType is the closed set of reasons compilation can fail.
type CompileErrorType int

const (
	ErrAssign CompileErrorType = iota
	ErrDelete
	ErrSyntax
	ErrIndentation
	ErrScope
	ErrMultipleStarArgs
	ErrInvalidStarExpr
	ErrInvalidBreak
	ErrInvalidContinue
	ErrInvalidReturn
	ErrInvalidYield
	ErrInvalidYieldFrom
	ErrAsyncYield
	ErrInvalidAwait
	ErrAsyncOutsideFunction
	ErrFunctionImportStar
	ErrTooManyStarUnpack
	ErrForbiddenName
)

var errorTemplates = [...]string{
	ErrAssign:               "cannot assign to %s",
	ErrDelete:               "cannot delete %s",
	ErrSyntax:               "%s",
	ErrIndentation:          "%s",
	ErrScope:                "%s",
	ErrMultipleStarArgs:     "multiple starred expressions in assignment",
	ErrInvalidStarExpr:      "can't use starred expression here",
	ErrInvalidBreak:         "'break' outside loop",
	ErrInvalidContinue:      "'continue' not properly in loop",
	ErrInvalidReturn:        "'return' outside function",
	ErrInvalidYield:         "'yield' outside function",
	ErrInvalidYieldFrom:     "'yield from' inside async function",
	ErrAsyncYield:           "'yield' inside async function",
	ErrInvalidAwait:         "'await' outside async function",
	ErrAsyncOutsideFunction: "'%s' outside async function",
	ErrFunctionImportStar:   "import * only allowed at module level",
	ErrTooManyStarUnpack:    "too many expressions in star-unpacking assignment",
	ErrForbiddenName:        "cannot assign to %s",
}

// CompileError reports a program the compiler rejects. The VM surfaces it
// as SyntaxError (or IndentationError).
type CompileError struct {
	Kind       CompileErrorType
	Args       []any
	Location   bytecode.Location
	SourcePath string

	// Incomplete is set when the source ended in the middle of a construct.
	Incomplete bool
}

// Message is the error text without location.
func (e *CompileError) Message() string {
	return fmt.Sprintf(errorTemplates[e.Kind], e.Args...)
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s at line %d column %d", e.Message(), e.Location.Line, e.Location.Column)
}

// IsIndentation reports whether the error is an IndentationError.
func (e *CompileError) IsIndentation() bool {
	return e.Kind == ErrIndentation
}

func fromParseError(err error, path string) error {
	pe, ok := err.(*parser.Error)
	if !ok {
		return err
	}
	kind := ErrSyntax
	if pe.Indent {
		kind = ErrIndentation
	}
	return &CompileError{
		Kind:       kind,
		Args:       []any{pe.Msg},
		Location:   bytecode.Location{Line: pe.Pos.Line, Column: pe.Pos.Column},
		SourcePath: path,
		Incomplete: pe.Incomplete,
	}
}

func fromScopeError(err error, path string) error {
	se, ok := err.(*symtable.Error)
	if !ok {
		return err
	}
	return &CompileError{
		Kind:       ErrScope,
		Args:       []any{se.Msg},
		Location:   bytecode.Location{Line: se.Loc.Line, Column: se.Loc.Column},
		SourcePath: path,
	}
}

// internalError aborts compilation on a broken compiler invariant.
func internalError(format string, args ...any) {
	errorx.Panic(errorx.IllegalState.New(format, args...))
}
