package lang

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokInt
	tokFloat
	tokString
	tokIdent
	tokModule
	tokKeyword
	tokOp
)

var keywords = map[string]bool{
	"true":  true,
	"false": true,
	"nil":   true,
	"fn":    true,
	"if":    true,
	"else":  true,
	"while": true,
	"for":   true,
	"in":    true,
	"alias": true,
}

// Longest operators first so that ".." wins over ".".
var operators = []string{
	"..", "==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "!", "=",
	".", ",", ";", "(", ")", "[", "]", "{", "}",
}

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "newline"
	case tokString:
		return fmt.Sprintf("%q", t.text)
	default:
		return t.text
	}
}

type lexer struct {
	src  []rune
	off  int
	line int
	col  int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: []rune(src), line: 1, col: 1}
	var out []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (lx *lexer) peek(n int) rune {
	if lx.off+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.off+n]
}

func (lx *lexer) advance() rune {
	r := lx.src[lx.off]
	lx.off++
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) next() (token, error) {
	for lx.off < len(lx.src) {
		r := lx.peek(0)
		if r == '#' {
			for lx.off < len(lx.src) && lx.peek(0) != '\n' {
				lx.advance()
			}
			continue
		}
		if r == '\n' || !unicode.IsSpace(r) {
			break
		}
		lx.advance()
	}

	pos := Pos{Line: lx.line, Col: lx.col}
	if lx.off >= len(lx.src) {
		return token{kind: tokEOF, pos: pos}, nil
	}

	r := lx.peek(0)
	switch {
	case r == '\n':
		lx.advance()
		return token{kind: tokNewline, text: "\n", pos: pos}, nil
	case unicode.IsDigit(r):
		return lx.number(pos), nil
	case r == '"':
		return lx.str(pos)
	case r == '_' || unicode.IsLetter(r):
		var b strings.Builder
		for lx.off < len(lx.src) && (lx.peek(0) == '_' || unicode.IsLetter(lx.peek(0)) || unicode.IsDigit(lx.peek(0))) {
			b.WriteRune(lx.advance())
		}
		word := b.String()
		switch {
		case keywords[word]:
			return token{kind: tokKeyword, text: word, pos: pos}, nil
		case unicode.IsUpper([]rune(word)[0]):
			return token{kind: tokModule, text: word, pos: pos}, nil
		default:
			return token{kind: tokIdent, text: word, pos: pos}, nil
		}
	}

	rest := string(lx.src[lx.off:min(lx.off+2, len(lx.src))])
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range op {
				lx.advance()
			}
			return token{kind: tokOp, text: op, pos: pos}, nil
		}
	}
	return token{}, &SyntaxError{Line: pos.Line, Col: pos.Col, Message: "unexpected character", Token: string(r)}
}

func (lx *lexer) number(pos Pos) token {
	var b strings.Builder
	kind := tokInt
	for lx.off < len(lx.src) {
		r := lx.peek(0)
		if unicode.IsDigit(r) || r == '_' {
			if r != '_' {
				b.WriteRune(r)
			}
			lx.advance()
			continue
		}
		// A single dot followed by a digit continues a float; ".." is a range.
		if r == '.' && kind == tokInt && unicode.IsDigit(lx.peek(1)) {
			kind = tokFloat
			b.WriteRune(lx.advance())
			continue
		}
		break
	}
	return token{kind: kind, text: b.String(), pos: pos}
}

func (lx *lexer) str(pos Pos) (token, error) {
	lx.advance()
	var b strings.Builder
	for {
		if lx.off >= len(lx.src) {
			return token{}, &SyntaxError{Line: pos.Line, Col: pos.Col, Message: "unterminated string", Token: `"` + b.String()}
		}
		r := lx.advance()
		switch r {
		case '"':
			return token{kind: tokString, text: b.String(), pos: pos}, nil
		case '\\':
			if lx.off >= len(lx.src) {
				continue
			}
			esc := lx.advance()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(esc)
			default:
				return token{}, &SyntaxError{Line: lx.line, Col: lx.col - 2, Message: "unknown escape sequence", Token: `\` + string(esc)}
			}
		default:
			b.WriteRune(r)
		}
	}
}
