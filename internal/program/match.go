package program

import "errors"

// Match unifies pattern with the ground term g, extending b. Arithmetic in
// the pattern is evaluated if all its variables are bound; otherwise the
// pair is returned in deferred for the caller to check later.
func Match(pattern, g Term, b Bindings) (out Bindings, deferred [][2]Term, ok bool) {
	out = b.Clone()
	deferred, ok = match(pattern, g, out, nil)
	return out, deferred, ok
}

func match(pattern, g Term, b Bindings, deferred [][2]Term) ([][2]Term, bool) {
	switch p := pattern.(type) {
	case Var:
		if p == "_" {
			return deferred, true
		}
		if v, ok := b[p]; ok {
			return deferred, Equal(v, g)
		}
		b[p] = g
		return deferred, true
	case Compound:
		c, ok := g.(Compound)
		if !ok || c.Functor != p.Functor || len(c.Args) != len(p.Args) {
			return deferred, false
		}
		for i := range p.Args {
			if deferred, ok = match(p.Args[i], c.Args[i], b, deferred); !ok {
				return deferred, false
			}
		}
		return deferred, true
	case Expr, Neg:
		v, err := Eval(p, b)
		if errors.Is(err, ErrUnbound) {
			return append(deferred, [2]Term{p, g}), true
		}
		if err != nil {
			return deferred, false
		}
		return deferred, Equal(v, g)
	}
	return deferred, Equal(pattern, g)
}

// MatchAtom unifies a pattern atom with a ground atom.
func MatchAtom(pattern, g Atom, b Bindings) (Bindings, [][2]Term, bool) {
	if pattern.Predicate != g.Predicate || len(pattern.Args) != len(g.Args) {
		return nil, nil, false
	}
	out := b.Clone()
	var deferred [][2]Term
	for i := range pattern.Args {
		var ok bool
		if deferred, ok = match(pattern.Args[i], g.Args[i], out, deferred); !ok {
			return nil, nil, false
		}
	}
	return out, deferred, true
}

// GroundAtom evaluates every argument of a under b.
func GroundAtom(a Atom, b Bindings) (Atom, error) {
	out := Atom{Predicate: a.Predicate, Args: make([]Term, len(a.Args))}
	for i, t := range a.Args {
		v, err := Eval(t, b)
		if err != nil {
			return Atom{}, err
		}
		out.Args[i] = v
	}
	return out, nil
}
