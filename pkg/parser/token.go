package parser

import (
	"fmt"

	"github.com/chazu/adder/pkg/ast"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIndent
	TokenDedent
	TokenName   // identifiers and keywords
	TokenNumber // 42, 0x1F, 3.5e2
	TokenString // one string literal, prefix already applied
	TokenOp     // operators and delimiters
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenNewline: "NEWLINE",
	TokenIndent:  "INDENT",
	TokenDedent:  "DEDENT",
	TokenName:    "NAME",
	TokenNumber:  "NUMBER",
	TokenString:  "STRING",
	TokenOp:      "OP",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is a single lexical token.
type Token struct {
	Type  TokenType
	Value string // identifier, operator, number text, or decoded string body
	Pos   ast.Pos

	// String literal details.
	Bytes  bool
	Format bool // f-string; Value holds the undecoded body
	Raw    bool
}

func (t Token) String() string {
	switch t.Type {
	case TokenName, TokenNumber, TokenOp:
		return fmt.Sprintf("%s %q", t.Type, t.Value)
	case TokenString:
		return fmt.Sprintf("STRING %q", t.Value)
	}
	return t.Type.String()
}

// is reports whether the token is the given operator or keyword.
func (t Token) is(value string) bool {
	return (t.Type == TokenOp || t.Type == TokenName) && t.Value == value
}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// IsKeyword reports whether name is reserved.
func IsKeyword(name string) bool {
	return keywords[name]
}

// Operators ordered longest first so the lexer can match greedily.
var operators = []string{
	"**=", "//=", ">>=", "<<=", "...", "->",
	"**", "//", "<<", ">>", "<=", ">=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=", ":=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", ";", "=",
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a syntax error. Incomplete is set when the input ended before
// the construct was finished, which lets a REPL ask for more lines.
type Error struct {
	Msg        string
	Pos        ast.Pos
	Indent     bool // an IndentationError rather than a plain SyntaxError
	Incomplete bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg)
}
