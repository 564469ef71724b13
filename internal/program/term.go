// Package program holds the normalized form of a rule-language program:
// terms, atoms, rules, the predicate dependency graph and the validation that
// runs while building them.
package program

import (
	"strconv"
	"strings"
)

// Term is an argument value. Implementations: Int, Str, Sym, Var, Compound,
// Expr and Neg.
type Term interface {
	String() string
	term()
}

// Int is an integer constant.
type Int int64

// Str is a quoted string constant.
type Str string

// Sym is a symbolic constant such as subtract_both_sides.
type Sym string

// Var is a variable. "_" is the anonymous variable.
type Var string

// Compound is a function term f(a, b).
type Compound struct {
	Functor string
	Args    []Term
}

// Expr is a binary arithmetic expression.
type Expr struct {
	Op    string
	Left  Term
	Right Term
}

// Neg is unary minus applied to a non-constant.
type Neg struct {
	X Term
}

func (Int) term()      {}
func (Str) term()      {}
func (Sym) term()      {}
func (Var) term()      {}
func (Compound) term() {}
func (Expr) term()     {}
func (Neg) term()      {}

func (t Int) String() string { return strconv.FormatInt(int64(t), 10) }
func (t Str) String() string { return quote(string(t)) }
func (t Sym) String() string { return string(t) }
func (t Var) String() string { return string(t) }

func (t Compound) String() string {
	var b strings.Builder
	b.WriteString(t.Functor)
	writeArgs(&b, t.Args)
	return b.String()
}

func (t Neg) String() string {
	if _, ok := t.X.(Expr); ok {
		return "-(" + t.X.String() + ")"
	}
	return "-" + t.X.String()
}

func (t Expr) String() string {
	prec, right := precedence(t.Op)
	return operand(t.Left, prec, right) + " " + t.Op + " " + operand(t.Right, prec, !right)
}

// operand parenthesizes child expressions that would otherwise rebind.
// tight is set on the side where an operator of equal precedence needs
// parentheses.
func operand(t Term, prec int, tight bool) string {
	switch c := t.(type) {
	case Expr:
		cp, _ := precedence(c.Op)
		if cp < prec || (cp == prec && tight) {
			return "(" + c.String() + ")"
		}
	case Int:
		if c < 0 {
			return "(" + c.String() + ")"
		}
	case Neg:
		if prec == 3 {
			return "(" + c.String() + ")"
		}
	}
	return t.String()
}

// precedence returns the binding level of op and whether it associates to
// the right.
func precedence(op string) (int, bool) {
	switch op {
	case "+", "-":
		return 1, false
	case "*", "/", `\`:
		return 2, false
	case "**":
		return 3, true
	}
	return 0, false
}

func writeArgs(b *strings.Builder, args []Term) {
	if len(args) == 0 {
		return
	}
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Equal reports structural equality of two terms.
func Equal(a, b Term) bool {
	return a.String() == b.String()
}

// Vars appends the variables of t, in order of first appearance, to dst.
// The anonymous variable is skipped.
func Vars(t Term, dst []Var) []Var {
	switch t := t.(type) {
	case Var:
		if t == "_" {
			return dst
		}
		for _, v := range dst {
			if v == t {
				return dst
			}
		}
		return append(dst, t)
	case Compound:
		for _, a := range t.Args {
			dst = Vars(a, dst)
		}
	case Expr:
		dst = Vars(t.Left, dst)
		dst = Vars(t.Right, dst)
	case Neg:
		dst = Vars(t.X, dst)
	}
	return dst
}

// IsGround reports whether t contains no variables.
func IsGround(t Term) bool {
	switch t := t.(type) {
	case Var:
		return false
	case Compound:
		for _, a := range t.Args {
			if !IsGround(a) {
				return false
			}
		}
	case Expr:
		return IsGround(t.Left) && IsGround(t.Right)
	case Neg:
		return IsGround(t.X)
	}
	return true
}

// Text returns the display text of a constant: strings unquoted, everything
// else in canonical form.
func Text(t Term) string {
	if s, ok := t.(Str); ok {
		return string(s)
	}
	return t.String()
}
