package parser

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/adder/pkg/ast"
)

// ---------------------------------------------------------------------------
// Lexer: indentation-aware tokenizer
// ---------------------------------------------------------------------------

// Lexer turns source text into tokens, synthesizing NEWLINE, INDENT and
// DEDENT from the physical layout.
type Lexer struct {
	input     string
	pos       int
	line      int
	lineStart int

	indents    []int
	parenDepth int
	atLineHead bool
	tokens     []Token
}

// NewLexer creates a lexer for input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, indents: []int{0}, atLineHead: true}
}

// Tokenize lexes the whole input.
func Tokenize(input string) ([]Token, error) {
	return NewLexer(input).Run()
}

// Run lexes the whole input and returns the token stream terminated by EOF.
func (l *Lexer) Run() ([]Token, error) {
	for {
		if l.atLineHead && l.parenDepth == 0 {
			if err := l.handleIndentation(); err != nil {
				return nil, err
			}
			if l.pos >= len(l.input) {
				break
			}
		}
		l.skipSpaces()
		if l.pos >= len(l.input) {
			break
		}
		c := l.input[l.pos]
		switch {
		case c == '#':
			l.skipComment()
		case c == '\n':
			nlPos := l.posAt(l.pos)
			l.advanceLine()
			if l.parenDepth == 0 {
				l.emit(TokenNewline, "", nlPos)
				l.atLineHead = true
			}
		case c == '\r':
			l.pos++
		case c == '\\':
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\n' {
				l.pos++
				l.advanceLine()
				continue
			}
			if l.pos+2 < len(l.input) && l.input[l.pos+1] == '\r' && l.input[l.pos+2] == '\n' {
				l.pos += 2
				l.advanceLine()
				continue
			}
			return nil, l.errorf(l.pos, "unexpected character after line continuation character")
		case isDigit(c) || (c == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
			if err := l.readNumber(); err != nil {
				return nil, err
			}
		case c == '"' || c == '\'':
			if err := l.readString(l.pos, ""); err != nil {
				return nil, err
			}
		default:
			r, size := utf8.DecodeRuneInString(l.input[l.pos:])
			if isIdentStart(r) {
				start := l.pos
				l.pos += size
				for l.pos < len(l.input) {
					r, size = utf8.DecodeRuneInString(l.input[l.pos:])
					if !isIdentContinue(r) {
						break
					}
					l.pos += size
				}
				word := l.input[start:l.pos]
				if l.pos < len(l.input) && (l.input[l.pos] == '"' || l.input[l.pos] == '\'') && isStringPrefix(word) {
					if err := l.readString(start, strings.ToLower(word)); err != nil {
						return nil, err
					}
					continue
				}
				l.emit(TokenName, word, l.posAt(start))
				continue
			}
			if err := l.readOperator(); err != nil {
				return nil, err
			}
		}
	}

	if l.parenDepth > 0 {
		e := l.errorf(l.pos, "unexpected EOF in multi-line statement")
		e.Incomplete = true
		return nil, e
	}
	eofPos := l.posAt(l.pos)
	if n := len(l.tokens); n > 0 && l.tokens[n-1].Type != TokenNewline && l.tokens[n-1].Type != TokenDedent {
		l.emit(TokenNewline, "", eofPos)
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(TokenDedent, "", eofPos)
	}
	l.emit(TokenEOF, "", eofPos)
	return l.tokens, nil
}

func (l *Lexer) emit(t TokenType, value string, pos ast.Pos) {
	if t != TokenNewline && t != TokenIndent && t != TokenDedent && t != TokenEOF {
		l.atLineHead = false
	}
	l.tokens = append(l.tokens, Token{Type: t, Value: value, Pos: pos})
}

func (l *Lexer) posAt(offset int) ast.Pos {
	return ast.Pos{Line: l.line, Column: utf8.RuneCountInString(l.input[l.lineStart:offset]) + 1}
}

func (l *Lexer) errorf(offset int, msg string) *Error {
	if offset > len(l.input) {
		offset = len(l.input)
	}
	if offset < l.lineStart {
		offset = l.lineStart
	}
	return &Error{Msg: msg, Pos: l.posAt(offset)}
}

func (l *Lexer) advanceLine() {
	l.pos++
	l.line++
	l.lineStart = l.pos
}

func (l *Lexer) skipSpaces() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\f':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) skipComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.pos++
	}
}

// handleIndentation measures the indentation of the next non-blank line and
// emits INDENT or DEDENT tokens as needed.
func (l *Lexer) handleIndentation() error {
	for {
		col := 0
		p := l.pos
		for p < len(l.input) {
			switch l.input[p] {
			case ' ':
				col++
			case '\t':
				col = (col/8 + 1) * 8
			case '\f':
				col = 0
			default:
				goto measured
			}
			p++
		}
	measured:
		if p >= len(l.input) {
			l.pos = p
			return nil
		}
		switch l.input[p] {
		case '\n':
			l.pos = p
			l.advanceLine()
			continue
		case '\r':
			l.pos = p + 1
			continue
		case '#':
			l.pos = p
			l.skipComment()
			continue
		}
		l.pos = p
		l.atLineHead = false
		top := l.indents[len(l.indents)-1]
		switch {
		case col > top:
			l.indents = append(l.indents, col)
			l.tokens = append(l.tokens, Token{Type: TokenIndent, Pos: l.posAt(p)})
		case col < top:
			for col < l.indents[len(l.indents)-1] {
				l.indents = l.indents[:len(l.indents)-1]
				l.tokens = append(l.tokens, Token{Type: TokenDedent, Pos: l.posAt(p)})
			}
			if col != l.indents[len(l.indents)-1] {
				e := l.errorf(p, "unindent does not match any outer indentation level")
				e.Indent = true
				return e
			}
		}
		return nil
	}
}

func (l *Lexer) readOperator() error {
	start := l.pos
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			switch op {
			case "(", "[", "{":
				l.parenDepth++
			case ")", "]", "}":
				if l.parenDepth > 0 {
					l.parenDepth--
				}
			}
			l.emit(TokenOp, op, l.posAt(start))
			return nil
		}
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return l.errorf(start, "invalid character '"+string(r)+"'")
}

func (l *Lexer) readNumber() error {
	start := l.pos
	in := l.input
	if in[l.pos] == '0' && l.pos+1 < len(in) && strings.ContainsRune("xXoObB", rune(in[l.pos+1])) {
		l.pos += 2
		for l.pos < len(in) && (isHexDigit(in[l.pos]) || in[l.pos] == '_') {
			l.pos++
		}
		l.emit(TokenNumber, in[start:l.pos], l.posAt(start))
		return nil
	}
	for l.pos < len(in) && (isDigit(in[l.pos]) || in[l.pos] == '_') {
		l.pos++
	}
	if l.pos < len(in) && in[l.pos] == '.' {
		l.pos++
		for l.pos < len(in) && (isDigit(in[l.pos]) || in[l.pos] == '_') {
			l.pos++
		}
	}
	if l.pos < len(in) && (in[l.pos] == 'e' || in[l.pos] == 'E') {
		p := l.pos + 1
		if p < len(in) && (in[p] == '+' || in[p] == '-') {
			p++
		}
		if p < len(in) && isDigit(in[p]) {
			l.pos = p
			for l.pos < len(in) && (isDigit(in[l.pos]) || in[l.pos] == '_') {
				l.pos++
			}
		}
	}
	if l.pos < len(in) && (in[l.pos] == 'j' || in[l.pos] == 'J') {
		return l.errorf(start, "complex literals are not supported")
	}
	l.emit(TokenNumber, in[start:l.pos], l.posAt(start))
	return nil
}

func (l *Lexer) readString(start int, prefix string) error {
	tok := Token{
		Type:   TokenString,
		Pos:    l.posAt(start),
		Bytes:  strings.Contains(prefix, "b"),
		Format: strings.Contains(prefix, "f"),
		Raw:    strings.Contains(prefix, "r"),
	}
	quote := l.input[l.pos]
	triple := strings.HasPrefix(l.input[l.pos:], strings.Repeat(string(quote), 3))
	if triple {
		l.pos += 3
	} else {
		l.pos++
	}
	bodyStart := l.pos
	for {
		if l.pos >= len(l.input) {
			e := l.errorf(start, "unterminated string literal")
			if triple {
				e.Msg = "unterminated triple-quoted string literal"
				e.Incomplete = true
			}
			return e
		}
		c := l.input[l.pos]
		if c == '\\' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\n' {
				l.pos++
				l.advanceLine()
				continue
			}
			l.pos += 2
			continue
		}
		if c == '\n' {
			if !triple {
				return l.errorf(start, "unterminated string literal")
			}
			l.advanceLine()
			continue
		}
		if c == quote {
			if !triple {
				break
			}
			if strings.HasPrefix(l.input[l.pos:], strings.Repeat(string(quote), 3)) {
				break
			}
		}
		l.pos++
	}
	body := l.input[bodyStart:l.pos]
	if triple {
		l.pos += 3
	} else {
		l.pos++
	}

	switch {
	case tok.Format:
		tok.Value = body
	case tok.Raw:
		tok.Value = strings.ReplaceAll(body, "\r\n", "\n")
	default:
		decoded, err := decodeEscapes(body, tok.Bytes)
		if err != nil {
			return l.errorf(start, err.Error())
		}
		tok.Value = decoded
	}
	l.atLineHead = false
	l.tokens = append(l.tokens, tok)
	return nil
}

type escapeError string

func (e escapeError) Error() string { return string(e) }

// decodeEscapes processes backslash escapes in a string or bytes body.
func decodeEscapes(s string, bytesLit bool) (string, error) {
	if !strings.Contains(s, "\\") {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
		case '\\', '\'', '"':
			sb.WriteByte(e)
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 32)
			writeCode(&sb, rune(v), bytesLit)
			i = j - 1
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if bytesLit && e != 'x' {
				sb.WriteByte('\\')
				sb.WriteByte(e)
				continue
			}
			if i+1+width > len(s) {
				return "", escapeError("truncated \\" + string(e) + " escape")
			}
			v, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32)
			if err != nil {
				return "", escapeError("truncated \\" + string(e) + " escape")
			}
			writeCode(&sb, rune(v), bytesLit)
			i += width
		default:
			sb.WriteByte('\\')
			sb.WriteByte(e)
		}
	}
	return sb.String(), nil
}

func writeCode(sb *strings.Builder, r rune, bytesLit bool) {
	if bytesLit {
		sb.WriteByte(byte(r))
		return
	}
	sb.WriteRune(r)
}

func isStringPrefix(word string) bool {
	switch strings.ToLower(word) {
	case "r", "b", "f", "u", "rb", "br", "fr", "rf":
		return true
	}
	return false
}

func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
