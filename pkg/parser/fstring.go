package parser

import (
	"strings"

	"github.com/chazu/adder/pkg/ast"
)

// parseStrings parses one or more adjacent string literals, concatenating
// them and expanding f-string replacement fields.
func (p *Parser) parseStrings() ast.Expr {
	start := p.tok
	var parts []ast.Expr
	var literal strings.Builder
	haveLiteral := false
	formatted := false
	isBytes := start.Bytes

	flush := func(pos ast.Pos) {
		if haveLiteral {
			parts = append(parts, &ast.Constant{ExprNode: p.en(pos), Value: literal.String()})
			literal.Reset()
			haveLiteral = false
		}
	}

	for p.tok.Type == TokenString {
		t := p.next()
		if t.Bytes != isBytes {
			p.failAt(t.Pos, "cannot mix bytes and nonbytes literals")
		}
		if !t.Format {
			literal.WriteString(t.Value)
			haveLiteral = true
			continue
		}
		formatted = true
		for _, part := range p.parseFStringBody(t.Value, t.Raw, t.Pos) {
			if c, ok := part.(*ast.Constant); ok {
				literal.WriteString(c.Value.(string))
				haveLiteral = true
				continue
			}
			flush(t.Pos)
			parts = append(parts, part)
		}
	}

	if isBytes {
		return &ast.Constant{ExprNode: p.en(start.Pos), Value: []byte(literal.String())}
	}
	if !formatted {
		return &ast.Constant{ExprNode: p.en(start.Pos), Value: literal.String()}
	}
	flush(start.Pos)
	return &ast.JoinedStr{ExprNode: p.en(start.Pos), Values: parts}
}

// parseFStringBody splits an f-string body into literal Constants and
// FormattedValue nodes.
func (p *Parser) parseFStringBody(body string, raw bool, pos ast.Pos) []ast.Expr {
	var parts []ast.Expr
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() == 0 {
			return
		}
		text := lit.String()
		if !raw {
			decoded, err := decodeEscapes(text, false)
			if err != nil {
				p.failAt(pos, "%s", err.Error())
			}
			text = decoded
		}
		parts = append(parts, &ast.Constant{ExprNode: p.en(pos), Value: text})
		lit.Reset()
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			p.failAt(pos, "f-string: single '}' is not allowed")
		case c == '{':
			flushLit()
			end, fv := p.parseReplacementField(body, i+1, raw, pos)
			parts = append(parts, fv)
			i = end
		default:
			lit.WriteByte(c)
		}
	}
	flushLit()
	return parts
}

// parseReplacementField parses the field starting after '{' at body[start]
// and returns the index of its closing '}'.
func (p *Parser) parseReplacementField(body string, start int, raw bool, pos ast.Pos) (int, ast.Expr) {
	depth := 0
	i := start
	var quote byte
	exprEnd := -1
	for ; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case '}':
			if depth == 0 {
				goto done
			}
			depth--
		case '!':
			if depth == 0 && i+1 < len(body) && body[i+1] != '=' && exprEnd < 0 {
				goto done
			}
		case ':':
			if depth == 0 {
				goto done
			}
		}
	}
	p.failAt(pos, "f-string: expecting '}'")
done:
	exprEnd = i
	exprText := body[start:exprEnd]
	if strings.TrimSpace(exprText) == "" {
		p.failAt(pos, "f-string: empty expression not allowed")
	}
	fv := &ast.FormattedValue{ExprNode: p.en(pos)}
	fv.Value = p.parseSubExpression(exprText, pos)

	if i < len(body) && body[i] == '!' {
		if i+1 >= len(body) {
			p.failAt(pos, "f-string: expecting '}'")
		}
		switch body[i+1] {
		case 's', 'r', 'a':
			fv.Conversion = rune(body[i+1])
		default:
			p.failAt(pos, "f-string: invalid conversion character: expected 's', 'r', or 'a'")
		}
		i += 2
	}
	if i < len(body) && body[i] == ':' {
		specStart := i + 1
		depth = 0
		for i = specStart; i < len(body); i++ {
			if body[i] == '{' {
				depth++
			} else if body[i] == '}' {
				if depth == 0 {
					break
				}
				depth--
			}
		}
		spec := p.parseFStringBody(body[specStart:i], raw, pos)
		fv.FormatSpec = &ast.JoinedStr{ExprNode: p.en(pos), Values: spec}
	}
	if i >= len(body) || body[i] != '}' {
		p.failAt(pos, "f-string: expecting '}'")
	}
	return i, fv
}

func (p *Parser) parseSubExpression(text string, pos ast.Pos) ast.Expr {
	sub, err := NewParser("(" + strings.TrimSpace(text) + ")")
	if err != nil {
		if pe, ok := err.(*Error); ok {
			pe.Incomplete = false
			pe.Pos = pos
			panic(pe)
		}
		p.failAt(pos, "f-string: invalid expression")
	}
	sub.base = p.at(pos)
	e := sub.parseTestList()
	if sub.tok.Type == TokenNewline {
		sub.next()
	}
	if sub.tok.Type != TokenEOF {
		p.failAt(pos, "f-string: invalid syntax")
	}
	return e
}
