// Package equation renders polynomial equation trees and measures how far
// apart two equations are. Trees come either from node atoms in a model or
// from equation text such as "3x^2 + 4 = 0".
package equation

import (
	"strconv"
	"strings"
)

// Kind is the operator of a tree node.
type Kind string

const (
	KindAdd  Kind = "add"
	KindMul  Kind = "mul"
	KindDiv  Kind = "div"
	KindNeg  Kind = "neg"
	KindMono Kind = "mono"
)

// Expr is one node of an expression tree. Monomials carry Coeff, Degree
// and Var; div nodes have exactly two children (numerator, denominator)
// and neg nodes exactly one.
type Expr struct {
	Kind     Kind
	Coeff    int64
	Degree   int64
	Var      string
	Children []*Expr
}

// Mono returns the monomial coeff*x^degree.
func Mono(coeff, degree int64) *Expr {
	return &Expr{Kind: KindMono, Coeff: coeff, Degree: degree, Var: "x"}
}

// Equation is a left and a right side.
type Equation struct {
	Left, Right *Expr
}

func (q Equation) String() string {
	return q.Left.String() + " = " + q.Right.String()
}

func (e *Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

// Size counts the nodes of the tree.
func (e *Expr) Size() int {
	if e == nil {
		return 0
	}
	n := 1
	for _, c := range e.Children {
		n += c.Size()
	}
	return n
}

func (e *Expr) prec() int {
	switch e.Kind {
	case KindAdd:
		return 1
	case KindMul, KindDiv:
		return 2
	case KindNeg:
		return 3
	}
	if e.Coeff < 0 {
		return 3
	}
	return 4
}

func (e *Expr) write(b *strings.Builder) {
	switch e.Kind {
	case KindMono:
		b.WriteString(e.monomial())
	case KindNeg:
		c := e.Children[0]
		b.WriteByte('-')
		c.wrap(b, c.Kind != KindMono || c.Coeff < 0)
	case KindAdd:
		for i, c := range e.Children {
			if i == 0 {
				c.write(b)
				continue
			}
			switch {
			case c.Kind == KindNeg:
				b.WriteString(" - ")
				c.Children[0].wrap(b, c.Children[0].prec() < 2)
			case c.Kind == KindMono && c.Coeff < 0:
				b.WriteString(" - ")
				b.WriteString(Mono(-c.Coeff, c.Degree).withVar(c.Var).monomial())
			default:
				b.WriteString(" + ")
				c.write(b)
			}
		}
	case KindMul:
		for i, c := range e.Children {
			if i > 0 {
				b.WriteByte('*')
			}
			c.wrap(b, c.prec() < 2)
		}
	case KindDiv:
		e.Children[0].wrap(b, e.Children[0].prec() < 2)
		b.WriteByte('/')
		e.Children[1].wrap(b, e.Children[1].prec() <= 2)
	}
}

func (e *Expr) wrap(b *strings.Builder, parens bool) {
	if parens {
		b.WriteByte('(')
	}
	e.write(b)
	if parens {
		b.WriteByte(')')
	}
}

func (e *Expr) withVar(v string) *Expr {
	e.Var = v
	return e
}

func (e *Expr) monomial() string {
	v := e.Var
	if v == "" {
		v = "x"
	}
	c := strconv.FormatInt(e.Coeff, 10)
	if e.Degree != 1 {
		v += "^" + strconv.FormatInt(e.Degree, 10)
	}
	switch {
	case e.Coeff == 0 || e.Degree == 0:
		return c
	case e.Coeff == 1:
		return v
	case e.Coeff == -1:
		return "-" + v
	}
	return c + v
}
