package program

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
)

// Bindings maps variables to ground terms.
type Bindings map[Var]Term

// Clone returns an independent copy.
func (b Bindings) Clone() Bindings {
	if b == nil {
		return Bindings{}
	}
	return maps.Clone(b)
}

// ErrUnbound is returned when evaluation meets a variable with no binding.
var ErrUnbound = errors.New("unbound variable")

// Substitute replaces bound variables in t without evaluating arithmetic.
func Substitute(t Term, b Bindings) Term {
	switch t := t.(type) {
	case Var:
		if v, ok := b[t]; ok {
			return v
		}
	case Compound:
		args := make([]Term, len(t.Args))
		for i, a := range t.Args {
			args[i] = Substitute(a, b)
		}
		return Compound{Functor: t.Functor, Args: args}
	case Expr:
		return Expr{Op: t.Op, Left: Substitute(t.Left, b), Right: Substitute(t.Right, b)}
	case Neg:
		return Neg{X: Substitute(t.X, b)}
	}
	return t
}

// Eval substitutes b into t and evaluates any arithmetic, yielding a ground
// term.
func Eval(t Term, b Bindings) (Term, error) {
	switch t := t.(type) {
	case Var:
		if v, ok := b[t]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w %s", ErrUnbound, t)
	case Compound:
		args := make([]Term, len(t.Args))
		for i, a := range t.Args {
			v, err := Eval(a, b)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return Compound{Functor: t.Functor, Args: args}, nil
	case Neg:
		x, err := evalInt(t.X, b)
		if err != nil {
			return nil, err
		}
		return -x, nil
	case Expr:
		l, err := evalInt(t.Left, b)
		if err != nil {
			return nil, err
		}
		r, err := evalInt(t.Right, b)
		if err != nil {
			return nil, err
		}
		return arith(t.Op, l, r)
	}
	return t, nil
}

func evalInt(t Term, b Bindings) (Int, error) {
	v, err := Eval(t, b)
	if err != nil {
		return 0, err
	}
	n, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("arithmetic on non-integer %s", v)
	}
	return n, nil
}

func arith(op string, l, r Int) (Int, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/", `\`:
		if r == 0 {
			return 0, fmt.Errorf("division by zero in %d %s %d", l, op, r)
		}
		if op == "/" {
			return l / r, nil
		}
		return l % r, nil
	case "**":
		if r < 0 {
			return 0, fmt.Errorf("negative exponent in %d ** %d", l, r)
		}
		return power(l, r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

// power computes base**exp by squaring, wrapping like repeated
// multiplication.
func power(base, exp Int) Int {
	switch base {
	case 0:
		if exp == 0 {
			return 1
		}
		return 0
	case 1:
		return 1
	case -1:
		if exp%2 == 0 {
			return 1
		}
		return -1
	}
	out := Int(1)
	for exp > 0 {
		if exp&1 == 1 {
			out *= base
		}
		base *= base
		exp >>= 1
	}
	return out
}

// Compare evaluates both sides and applies op. Ordering follows the usual
// ASP term order: integers, then symbols, then strings, then compound terms.
func Compare(l Term, op CompareOp, r Term, b Bindings) (bool, error) {
	lv, err := Eval(l, b)
	if err != nil {
		return false, err
	}
	rv, err := Eval(r, b)
	if err != nil {
		return false, err
	}
	c := CompareTerms(lv, rv)
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpGt:
		return c > 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}

// CompareTerms orders two ground terms.
func CompareTerms(a, b Term) int {
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	switch a := a.(type) {
	case Int:
		return cmp.Compare(a, b.(Int))
	case Compound:
		bc := b.(Compound)
		if c := cmp.Compare(len(a.Args), len(bc.Args)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Functor, bc.Functor); c != 0 {
			return c
		}
		for i := range a.Args {
			if c := CompareTerms(a.Args[i], bc.Args[i]); c != 0 {
				return c
			}
		}
		return 0
	}
	return cmp.Compare(a.String(), b.String())
}

func rank(t Term) int {
	switch t.(type) {
	case Int:
		return 0
	case Sym:
		return 1
	case Str:
		return 2
	case Compound:
		return 3
	}
	return 4
}
