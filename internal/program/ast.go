package program

import (
	"fmt"
	"strings"

	"stepwise/internal/syntax"
)

// PredicateKey identifies a predicate by name and arity.
type PredicateKey struct {
	Name  string
	Arity int
}

func (k PredicateKey) String() string {
	return fmt.Sprintf("%s/%d", k.Name, k.Arity)
}

// Atom is a predicate applied to arguments. Two atoms are equal when their
// canonical text is equal.
type Atom struct {
	Predicate string
	Args      []Term
}

// Key returns the predicate/arity pair of the atom.
func (a Atom) Key() PredicateKey {
	return PredicateKey{Name: a.Predicate, Arity: len(a.Args)}
}

// String returns the canonical text of the atom, e.g. step(1,eq(1,"x+2=5")).
func (a Atom) String() string {
	var b strings.Builder
	b.WriteString(a.Predicate)
	writeArgs(&b, a.Args)
	return b.String()
}

// IsGround reports whether no argument contains a variable.
func (a Atom) IsGround() bool {
	for _, t := range a.Args {
		if !IsGround(t) {
			return false
		}
	}
	return true
}

// Vars returns the variables of the atom in order of first appearance.
func (a Atom) Vars() []Var {
	var vs []Var
	for _, t := range a.Args {
		vs = Vars(t, vs)
	}
	return vs
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpGt CompareOp = ">"
	OpLe CompareOp = "<="
	OpGe CompareOp = ">="
)

// BodyElement is one conjunct of a rule body: Literal, Comparison or
// CountAggregate.
type BodyElement interface {
	String() string
	bodyElement()
}

// Literal is a possibly negated atom.
type Literal struct {
	Atom    Atom
	Negated bool
}

// Comparison is "left op right".
type Comparison struct {
	Left  Term
	Op    CompareOp
	Right Term
}

// Bound limits a count: Lower bounds read "value op count", upper bounds
// read "count op value".
type Bound struct {
	Op    CompareOp
	Value Term
}

// AggregateElement is "terms : conditions" inside #count{...}. Conditions
// hold only Literals and Comparisons.
type AggregateElement struct {
	Terms      []Term
	Conditions []BodyElement
}

// CountAggregate counts the distinct term tuples of its elements whose
// conditions hold.
type CountAggregate struct {
	Elements []AggregateElement
	Lower    *Bound
	Upper    *Bound
}

func (Literal) bodyElement()        {}
func (Comparison) bodyElement()     {}
func (CountAggregate) bodyElement() {}

func (l Literal) String() string {
	if l.Negated {
		return "not " + l.Atom.String()
	}
	return l.Atom.String()
}

func (c Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

func (c CountAggregate) String() string {
	var b strings.Builder
	if c.Lower != nil {
		b.WriteString(c.Lower.Value.String() + " " + string(c.Lower.Op) + " ")
	}
	b.WriteString("#count{ ")
	for i, e := range c.Elements {
		if i > 0 {
			b.WriteString("; ")
		}
		for j, t := range e.Terms {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.String())
		}
		writeConditions(&b, e.Conditions)
	}
	b.WriteString(" }")
	if c.Upper != nil {
		b.WriteString(" " + string(c.Upper.Op) + " " + c.Upper.Value.String())
	}
	return b.String()
}

func writeConditions(b *strings.Builder, conds []BodyElement) {
	if len(conds) == 0 {
		return
	}
	b.WriteString(" : ")
	for i, c := range conds {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.String())
	}
}

// Kind distinguishes the rule forms.
type Kind int

const (
	KindFact Kind = iota
	KindNormal
	KindConstraint
	KindGuess
)

func (k Kind) String() string {
	switch k {
	case KindFact:
		return "fact"
	case KindNormal:
		return "rule"
	case KindConstraint:
		return "constraint"
	case KindGuess:
		return "guess"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ChoiceElement is "atom : conditions" in a choice head.
type ChoiceElement struct {
	Atom       Atom
	Conditions []BodyElement
}

// Choice is the head of a guess rule: pick a subset of the elements whose
// size lies within the bounds.
type Choice struct {
	Elements []ChoiceElement
	Lower    *Bound
	Upper    *Bound
}

func (c Choice) String() string {
	var b strings.Builder
	if c.Lower != nil {
		b.WriteString(c.Lower.Value.String() + " " + string(c.Lower.Op) + " ")
	}
	b.WriteString("{ ")
	for i, e := range c.Elements {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Atom.String())
		writeConditions(&b, e.Conditions)
	}
	b.WriteString(" }")
	if c.Upper != nil {
		b.WriteString(" " + string(c.Upper.Op) + " " + c.Upper.Value.String())
	}
	return b.String()
}

// Rule is a normalized declaration. Facts have a head and no body,
// constraints a body and no head, guess rules a Choice instead of a Head.
type Rule struct {
	Kind   Kind
	Head   *Atom
	Choice *Choice
	Body   []BodyElement
	Pos    syntax.Position
}

// String renders the rule in canonical source form.
func (r Rule) String() string {
	var b strings.Builder
	switch {
	case r.Head != nil:
		b.WriteString(r.Head.String())
	case r.Choice != nil:
		b.WriteString(r.Choice.String())
	}
	if len(r.Body) > 0 {
		if r.Kind == KindConstraint {
			b.WriteString(":- ")
		} else {
			b.WriteString(" :- ")
		}
		for i, e := range r.Body {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
	}
	b.WriteByte('.')
	return b.String()
}

// HeadAtoms returns the atoms a rule can derive: its head, or the elements
// of its choice.
func (r Rule) HeadAtoms() []Atom {
	if r.Head != nil {
		return []Atom{*r.Head}
	}
	if r.Choice != nil {
		out := make([]Atom, len(r.Choice.Elements))
		for i, e := range r.Choice.Elements {
			out[i] = e.Atom
		}
		return out
	}
	return nil
}

// PositiveAtoms returns the atoms of the non-negated literals of the body,
// in order.
func (r Rule) PositiveAtoms() []Atom {
	var out []Atom
	for _, e := range r.Body {
		if l, ok := e.(Literal); ok && !l.Negated {
			out = append(out, l.Atom)
		}
	}
	return out
}
