package equation

import (
	"fmt"
	"strconv"
	"unicode"
)

// SyntaxError reports equation text that cannot be parsed.
type SyntaxError struct {
	Text   string
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("equation %q: offset %d: %s", e.Text, e.Offset, e.Reason)
}

// Parse reads an equation such as "3x^2 + 4 = 0". Subtraction becomes an
// add node with a negated operand, so Parse(q.String()) renders as q.
func Parse(text string) (Equation, error) {
	p := &parser{src: text}
	left, err := p.expr()
	if err != nil {
		return Equation{}, err
	}
	if !p.accept('=') {
		return Equation{}, p.fail("expected '='")
	}
	right, err := p.expr()
	if err != nil {
		return Equation{}, err
	}
	if p.skip(); p.pos < len(p.src) {
		return Equation{}, p.fail("unexpected %q", p.src[p.pos:])
	}
	return Equation{Left: left, Right: right}, nil
}

// ParseExpr reads one side of an equation.
func ParseExpr(text string) (*Expr, error) {
	p := &parser{src: text}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.skip(); p.pos < len(p.src) {
		return nil, p.fail("unexpected %q", p.src[p.pos:])
	}
	return e, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(format string, args ...any) error {
	return &SyntaxError{Text: p.src, Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skip() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skip()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (*Expr, error) {
	first, err := p.term()
	if err != nil {
		return nil, err
	}
	children := []*Expr{first}
	for {
		switch {
		case p.accept('+'):
			t, err := p.term()
			if err != nil {
				return nil, err
			}
			children = append(children, t)
		case p.accept('-'):
			t, err := p.term()
			if err != nil {
				return nil, err
			}
			children = append(children, &Expr{Kind: KindNeg, Children: []*Expr{t}})
		default:
			if len(children) == 1 {
				return first, nil
			}
			return &Expr{Kind: KindAdd, Children: children}, nil
		}
	}
}

// term := unary (("*" | "/" | implicit) unary)*
func (p *parser) term() (*Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	var factors []*Expr
	for {
		switch c := p.peek(); {
		case c == '*' || c == '(':
			if c == '*' {
				p.pos++
			}
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			if factors == nil {
				factors = []*Expr{left}
			}
			factors = append(factors, r)
		case c == '/':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			if factors != nil {
				left = &Expr{Kind: KindMul, Children: factors}
				factors = nil
			}
			left = &Expr{Kind: KindDiv, Children: []*Expr{left, r}}
		default:
			if factors != nil {
				return &Expr{Kind: KindMul, Children: factors}, nil
			}
			return left, nil
		}
	}
}

// unary := "-" unary | primary
func (p *parser) unary() (*Expr, error) {
	if p.accept('-') {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Expr{Kind: KindNeg, Children: []*Expr{x}}, nil
	}
	return p.primary()
}

// primary := number [letter ["^" number]] | letter ["^" number] | "(" expr ")"
func (p *parser) primary() (*Expr, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if !p.accept(')') {
			return nil, p.fail("expected ')'")
		}
		return e, nil
	case isDigit(c):
		coeff, err := p.number()
		if err != nil {
			return nil, err
		}
		if p.pos < len(p.src) && isLetter(p.src[p.pos]) {
			return p.variable(coeff)
		}
		return Mono(coeff, 0), nil
	case isLetter(c):
		return p.variable(1)
	case c == 0:
		return nil, p.fail("unexpected end of equation")
	}
	return nil, p.fail("unexpected %q", c)
}

func (p *parser) variable(coeff int64) (*Expr, error) {
	m := Mono(coeff, 1).withVar(p.src[p.pos : p.pos+1])
	p.pos++
	if p.accept('^') {
		if !isDigit(p.peek()) {
			return nil, p.fail("expected an exponent")
		}
		d, err := p.number()
		if err != nil {
			return nil, err
		}
		m.Degree = d
	}
	return m, nil
}

func (p *parser) number() (int64, error) {
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	n, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		p.pos = start
		return 0, p.fail("bad number: %v", err)
	}
	return n, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
