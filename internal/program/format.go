package program

import (
	"strings"

	"stepwise/internal/syntax"
)

// Format renders the program in canonical source form, one declaration per
// line. Parsing the output yields an equal program.
func Format(p *Program) string {
	var b strings.Builder
	for _, r := range p.Rules {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseAtom parses a single atom, such as one printed by a solver.
func ParseAtom(src string) (Atom, error) {
	pred, err := syntax.ParseAtom(src)
	if err != nil {
		return Atom{}, err
	}
	a := Atom{Predicate: pred.Name.Name}
	if pred.Args != nil {
		for _, arg := range pred.Args.List {
			t, err := convertTerm(arg.Expr)
			if err != nil {
				return Atom{}, err
			}
			a.Args = append(a.Args, t)
		}
	}
	return a, nil
}

// ParseTerm parses a single term.
func ParseTerm(src string) (Term, error) {
	e, err := syntax.ParseExpr(src)
	if err != nil {
		return nil, err
	}
	return convertTerm(e)
}

// Facts returns the heads of all fact declarations.
func (p *Program) Facts() []Atom {
	var out []Atom
	for _, r := range p.Rules {
		if r.Kind == KindFact {
			out = append(out, *r.Head)
		}
	}
	return out
}

// Deriving returns the rules, facts included, that can derive atoms of k,
// in declaration order.
func (p *Program) Deriving(k PredicateKey) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		for _, h := range r.HeadAtoms() {
			if h.Key() == k {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
