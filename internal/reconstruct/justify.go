package reconstruct

import (
	"slices"
	"strings"

	"stepwise/internal/model"
	"stepwise/internal/program"
)

// justification is one rule instantiation deriving a step atom.
type justification struct {
	rule       string
	supporting []program.Atom
	texts      []string
}

func (j justification) less(o justification) bool {
	return slices.Compare(j.texts, o.texts) < 0
}

// justify finds the lexicographically first set of positive body atoms of
// a rule instantiation deriving target. The second result is false when no
// rule derives it; facts of the program derive it with no support.
func (r *Reconstructor) justify(m *model.Model, target program.Atom) (justification, bool) {
	var (
		best  justification
		found bool
	)
	budget := r.candidateLimit
	for _, rule := range r.prog.Deriving(target.Key()) {
		if rule.Kind == program.KindFact {
			if rule.Head.String() == target.String() {
				return justification{rule: rule.String()}, true
			}
			continue
		}
		for _, head := range derivations(rule, target.Key()) {
			b, deferred, ok := program.MatchAtom(head.atom, target, nil)
			if !ok {
				continue
			}
			s := &search{m: m, budget: &budget}
			shared := sharedVars(head.atom.Vars(), head.body)
			s.conj(head.body, shared, b, nil, func(b program.Bindings, used []program.Atom) bool {
				for _, d := range deferred {
					v, err := program.Eval(d[0], b)
					if err != nil || !program.Equal(v, d[1]) {
						return true
					}
				}
				j := newJustification(rule.String(), used)
				if !found || j.less(best) {
					best, found = j, true
				}
				return true
			})
		}
	}
	return best, found
}

func newJustification(rule string, used []program.Atom) justification {
	byText := make(map[string]program.Atom, len(used))
	for _, a := range used {
		byText[a.String()] = a
	}
	j := justification{rule: rule}
	for t := range byText {
		j.texts = append(j.texts, t)
	}
	slices.Sort(j.texts)
	for _, t := range j.texts {
		j.supporting = append(j.supporting, byText[t])
	}
	return j
}

type derivation struct {
	atom program.Atom
	body []program.BodyElement
}

// derivations lists the heads of rule that can produce atoms of k, each
// with the conditions that must hold for it.
func derivations(rule program.Rule, k program.PredicateKey) []derivation {
	if rule.Head != nil {
		return []derivation{{atom: *rule.Head, body: rule.Body}}
	}
	var out []derivation
	if rule.Choice != nil {
		for _, el := range rule.Choice.Elements {
			if el.Atom.Key() != k {
				continue
			}
			body := append(slices.Clone(el.Conditions), rule.Body...)
			out = append(out, derivation{atom: el.Atom, body: body})
		}
	}
	return out
}

// search enumerates instantiations of a conjunction over one model.
// Positive literals are joined in order; other elements are evaluated as
// soon as the variables they share with the rest of the rule are bound.
type search struct {
	m      *model.Model
	budget *int
}

type emitFunc func(b program.Bindings, used []program.Atom) bool

// conj returns false once emit asks to stop or the budget runs out.
func (s *search) conj(elems []program.BodyElement, shared []map[program.Var]bool, b program.Bindings, used []program.Atom, emit emitFunc) bool {
	if len(elems) == 0 {
		if *s.budget <= 0 {
			return false
		}
		*s.budget--
		return emit(b, used)
	}

	for i, e := range elems {
		nb, ok, ready := s.filter(e, shared[i], b)
		if !ready {
			continue
		}
		if !ok {
			return true
		}
		return s.conj(without(elems, i), without(shared, i), nb, used, emit)
	}

	i := s.next(elems, b)
	if i < 0 {
		// Nothing left can bind the remaining variables.
		return true
	}
	l := elems[i].(program.Literal)
	for g, nb := range s.m.Matches(l.Atom, b) {
		if !s.conj(without(elems, i), without(shared, i), nb, append(slices.Clone(used), g), emit) {
			return false
		}
	}
	return true
}

// next picks the positive literal to join: the first one whose arithmetic
// arguments are evaluable under b, else the first one. -1 when none is left.
func (s *search) next(elems []program.BodyElement, b program.Bindings) int {
	first := -1
	for i, e := range elems {
		l, ok := e.(program.Literal)
		if !ok || l.Negated {
			continue
		}
		if !pendingArith(l.Atom.Args, b) {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

// pendingArith reports whether any of ts holds arithmetic over a variable
// that b does not bind yet.
func pendingArith(ts []program.Term, b program.Bindings) bool {
	for _, t := range ts {
		switch t := t.(type) {
		case program.Expr, program.Neg:
			for _, v := range program.Vars(t, nil) {
				if _, ok := b[v]; !ok {
					return true
				}
			}
		case program.Compound:
			if pendingArith(t.Args, b) {
				return true
			}
		}
	}
	return false
}

// filter evaluates a non-generating element. ready is false while shared
// variables it depends on are still unbound.
func (s *search) filter(e program.BodyElement, shared map[program.Var]bool, b program.Bindings) (program.Bindings, bool, bool) {
	switch e := e.(type) {
	case program.Literal:
		if !e.Negated || !allBound(shared, b, "") {
			return nil, false, false
		}
		return b, len(s.m.Match(e.Atom, b)) == 0, true
	case program.Comparison:
		if v, val, ok := assignment(e, b); ok {
			nb := b.Clone()
			nb[v] = val
			return nb, true, true
		}
		if !termBound(e.Left, b) || !termBound(e.Right, b) {
			return nil, false, false
		}
		ok, err := program.Compare(e.Left, e.Op, e.Right, b)
		return b, err == nil && ok, true
	case program.CountAggregate:
		assign := assignedVar(e, b)
		if !allBound(shared, b, assign) {
			return nil, false, false
		}
		n, ok := s.count(e, b)
		if !ok {
			return b, false, true
		}
		nb := b
		if assign != "" {
			nb = b.Clone()
			nb[assign] = program.Int(n)
		}
		return nb, boundsHold(e, n, nb), true
	}
	return nil, false, false
}

// count evaluates the number of distinct term tuples of the aggregate.
func (s *search) count(agg program.CountAggregate, b program.Bindings) (int, bool) {
	seen := make(map[string]bool)
	for _, el := range agg.Elements {
		var extra []program.Var
		for _, t := range el.Terms {
			extra = program.Vars(t, extra)
		}
		for v := range b {
			extra = append(extra, v)
		}
		budget := *s.budget
		inner := &search{m: s.m, budget: &budget}
		failed := false
		inner.conj(el.Conditions, sharedVars(extra, el.Conditions), b, nil, func(nb program.Bindings, _ []program.Atom) bool {
			parts := make([]string, len(el.Terms))
			for i, t := range el.Terms {
				v, err := program.Eval(t, nb)
				if err != nil {
					failed = true
					return false
				}
				parts[i] = v.String()
			}
			seen[strings.Join(parts, ",")] = true
			return true
		})
		if failed || budget <= 0 {
			return 0, false
		}
	}
	return len(seen), true
}

func boundsHold(agg program.CountAggregate, n int, b program.Bindings) bool {
	if agg.Lower != nil {
		ok, err := program.Compare(agg.Lower.Value, agg.Lower.Op, program.Int(n), b)
		if err != nil || !ok {
			return false
		}
	}
	if agg.Upper != nil {
		ok, err := program.Compare(program.Int(n), agg.Upper.Op, agg.Upper.Value, b)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// assignedVar returns the unbound variable that "N = #count{...}" or
// "#count{...} = N" defines, if any.
func assignedVar(agg program.CountAggregate, b program.Bindings) program.Var {
	for _, bound := range []*program.Bound{agg.Lower, agg.Upper} {
		if bound == nil || bound.Op != program.OpEq {
			continue
		}
		if v, ok := bound.Value.(program.Var); ok && v != "_" {
			if _, isBound := b[v]; !isBound {
				return v
			}
		}
	}
	return ""
}

// assignment recognizes "V = expr" with V unbound and expr evaluable.
func assignment(c program.Comparison, b program.Bindings) (program.Var, program.Term, bool) {
	if c.Op != program.OpEq {
		return "", nil, false
	}
	try := func(lhs, rhs program.Term) (program.Var, program.Term, bool) {
		v, ok := lhs.(program.Var)
		if !ok || v == "_" {
			return "", nil, false
		}
		if _, isBound := b[v]; isBound {
			return "", nil, false
		}
		val, err := program.Eval(rhs, b)
		if err != nil {
			return "", nil, false
		}
		return v, val, true
	}
	if v, val, ok := try(c.Left, c.Right); ok {
		return v, val, true
	}
	return try(c.Right, c.Left)
}

func termBound(t program.Term, b program.Bindings) bool {
	for _, v := range program.Vars(t, nil) {
		if _, ok := b[v]; !ok {
			return false
		}
	}
	return true
}

func allBound(vs map[program.Var]bool, b program.Bindings, except program.Var) bool {
	for v := range vs {
		if v == except {
			continue
		}
		if _, ok := b[v]; !ok {
			return false
		}
	}
	return true
}

// sharedVars returns, per element, the variables it shares with extra or
// with any other element.
func sharedVars(extra []program.Var, elems []program.BodyElement) []map[program.Var]bool {
	vars := make([][]program.Var, len(elems))
	for i, e := range elems {
		vars[i] = elementVars(e)
	}
	out := make([]map[program.Var]bool, len(elems))
	for i := range elems {
		out[i] = make(map[program.Var]bool)
		for _, v := range vars[i] {
			if slices.Contains(extra, v) {
				out[i][v] = true
				continue
			}
			for j := range elems {
				if j != i && slices.Contains(vars[j], v) {
					out[i][v] = true
					break
				}
			}
		}
	}
	return out
}

func elementVars(e program.BodyElement) []program.Var {
	switch e := e.(type) {
	case program.Literal:
		return e.Atom.Vars()
	case program.Comparison:
		return program.Vars(e.Right, program.Vars(e.Left, nil))
	case program.CountAggregate:
		var vs []program.Var
		for _, el := range e.Elements {
			for _, t := range el.Terms {
				vs = program.Vars(t, vs)
			}
			for _, c := range el.Conditions {
				for _, v := range elementVars(c) {
					if !slices.Contains(vs, v) {
						vs = append(vs, v)
					}
				}
			}
		}
		for _, bound := range []*program.Bound{e.Lower, e.Upper} {
			if bound != nil {
				vs = program.Vars(bound.Value, vs)
			}
		}
		return vs
	}
	return nil
}

func without[T any](xs []T, i int) []T {
	out := make([]T, 0, len(xs)-1)
	out = append(out, xs[:i]...)
	return append(out, xs[i+1:]...)
}
