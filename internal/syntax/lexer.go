package syntax

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// Lexer turns rule source into tokens on demand. Whitespace and comments
// ("% ..." to end of line, "%* ... *%" blocks) are skipped but still advance
// the position.
type Lexer struct {
	src string
	pos Position
}

// NewLexer returns a lexer positioned at the start of src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, pos: Position{Line: 1, Column: 1}}
}

// All yields every token of the source, ending with EOF, or stops at the
// first LexError. Each call starts again from the beginning of the source.
func (l *Lexer) All() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		lx := NewLexer(l.src)
		for {
			tok, err := lx.Next()
			if err != nil {
				yield(Token{}, err)
				return
			}
			if !yield(tok, nil) || tok.Kind == EOF {
				return
			}
		}
	}
}

// Tokenize lexes the whole source. The returned slice always ends in EOF.
func Tokenize(src string) ([]Token, error) {
	var toks []Token
	for tok, err := range NewLexer(src).All() {
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

// Next returns the next token. After EOF it keeps returning EOF.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipSpace(); err != nil {
		return Token{}, err
	}
	start := l.pos
	if l.pos.Offset >= len(l.src) {
		return Token{Kind: EOF, Pos: start}, nil
	}

	c := l.src[l.pos.Offset]
	switch {
	case isLower(c):
		word := l.takeWhile(isWordChar)
		if word == "not" {
			return Token{Kind: Not, Text: word, Pos: start}, nil
		}
		return Token{Kind: Ident, Text: word, Pos: start}, nil
	case isUpper(c) || c == '_':
		return Token{Kind: Variable, Text: l.takeWhile(isWordChar), Pos: start}, nil
	case isDigit(c):
		return Token{Kind: Int, Text: l.takeWhile(isDigit), Pos: start}, nil
	case c == '"':
		return l.lexString()
	case c == '#':
		l.advance(1)
		word := l.takeWhile(isWordChar)
		if word != "count" {
			return Token{}, &LexError{Pos: start, Char: '#', Msg: "unknown directive #" + word}
		}
		return Token{Kind: Count, Text: "#count", Pos: start}, nil
	}

	if kind, width, ok := l.operator(); ok {
		text := l.src[l.pos.Offset : l.pos.Offset+width]
		l.advance(width)
		if kind == Eq {
			text = "="
		}
		return Token{Kind: kind, Text: text, Pos: start}, nil
	}

	r, _ := utf8.DecodeRuneInString(l.src[l.pos.Offset:])
	return Token{}, &LexError{Pos: start, Char: r}
}

func (l *Lexer) operator() (Kind, int, bool) {
	rest := l.src[l.pos.Offset:]
	two := []struct {
		text string
		kind Kind
	}{
		{":-", If}, {"!=", Neq}, {"<=", Le}, {">=", Ge}, {"==", Eq}, {"**", Power}, {`\+`, Not},
	}
	for _, op := range two {
		if strings.HasPrefix(rest, op.text) {
			return op.kind, 2, true
		}
	}
	switch rest[0] {
	case '(':
		return LParen, 1, true
	case ')':
		return RParen, 1, true
	case '{':
		return LBrace, 1, true
	case '}':
		return RBrace, 1, true
	case ',':
		return Comma, 1, true
	case '.':
		return Period, 1, true
	case ';':
		return Semicolon, 1, true
	case ':':
		return Colon, 1, true
	case '=':
		return Eq, 1, true
	case '<':
		return Lt, 1, true
	case '>':
		return Gt, 1, true
	case '+':
		return Plus, 1, true
	case '-':
		return Minus, 1, true
	case '*':
		return Star, 1, true
	case '/':
		return Slash, 1, true
	case '\\':
		return Backslash, 1, true
	}
	return EOF, 0, false
}

func (l *Lexer) lexString() (Token, error) {
	start := l.pos
	l.advance(1)
	var b strings.Builder
	for {
		if l.pos.Offset >= len(l.src) {
			return Token{}, &LexError{Pos: start, Char: '"', Msg: "unterminated string"}
		}
		c := l.src[l.pos.Offset]
		switch c {
		case '"':
			l.advance(1)
			return Token{Kind: String, Text: b.String(), Pos: start}, nil
		case '\n':
			return Token{}, &LexError{Pos: start, Char: '"', Msg: "unterminated string"}
		case '\\':
			if l.pos.Offset+1 >= len(l.src) {
				return Token{}, &LexError{Pos: start, Char: '"', Msg: "unterminated string"}
			}
			switch esc := l.src[l.pos.Offset+1]; esc {
			case '"', '\\':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				return Token{}, &LexError{Pos: l.pos, Char: rune(esc), Msg: "unknown escape sequence"}
			}
			l.advance(2)
		default:
			b.WriteByte(c)
			l.advance(1)
		}
	}
}

func (l *Lexer) skipSpace() error {
	for l.pos.Offset < len(l.src) {
		c := l.src[l.pos.Offset]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case strings.HasPrefix(l.src[l.pos.Offset:], "%*"):
			start := l.pos
			end := strings.Index(l.src[l.pos.Offset+2:], "*%")
			if end < 0 {
				return &LexError{Pos: start, Char: '%', Msg: "unterminated block comment"}
			}
			l.advance(end + 4)
		case c == '%':
			for l.pos.Offset < len(l.src) && l.src[l.pos.Offset] != '\n' {
				l.advance(1)
			}
		default:
			return nil
		}
	}
	return nil
}

// advance moves n bytes forward, keeping line and column in step.
func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.pos.Offset < len(l.src); i++ {
		if l.src[l.pos.Offset] == '\n' {
			l.pos.Line++
			l.pos.Column = 1
		} else {
			l.pos.Column++
		}
		l.pos.Offset++
	}
}

func (l *Lexer) takeWhile(pred func(byte) bool) string {
	start := l.pos.Offset
	for l.pos.Offset < len(l.src) && pred(l.src[l.pos.Offset]) {
		l.advance(1)
	}
	return l.src[start:l.pos.Offset]
}

func isLower(c byte) bool    { return c >= 'a' && c <= 'z' }
func isUpper(c byte) bool    { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isWordChar(c byte) bool { return isLower(c) || isUpper(c) || isDigit(c) || c == '_' }
