package program

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"stepwise/internal/syntax"
)

// Program is a validated rule set with its dependency graph. It is
// read-only after Build and safe to share between goroutines.
type Program struct {
	Rules []Rule
	Graph *DependencyGraph
	Arity map[string]int
}

// Compile parses and builds src.
func Compile(src string) (*Program, error) {
	tree, err := syntax.Parse(src)
	if err != nil {
		return nil, err
	}
	return Build(tree)
}

// Build normalizes a parse tree in a single pass and validates range
// restriction, arity consistency and stratification. All violations are
// reported together; no program is returned if there is any.
func Build(tree *syntax.Program) (*Program, error) {
	acc := fold(tree.Things, newAccumulator(), func(acc accumulator, t *syntax.PrologThing) accumulator {
		return acc.declaration(t.Decl)
	})
	errs := append(acc.errs, *acc.arityErrs...)
	errs = append(errs, acc.graph.stratify()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	arity := make(map[string]int, len(acc.arity))
	for name, use := range acc.arity {
		arity[name] = use.arity
	}
	return &Program{Rules: acc.rules, Graph: acc.graph, Arity: arity}, nil
}

func fold[T, A any](xs []T, acc A, f func(A, T) A) A {
	for _, x := range xs {
		acc = f(acc, x)
	}
	return acc
}

type arityUse struct {
	arity int
	pos   syntax.Position
}

// accumulator is threaded through the fold over declarations. The graph
// and arity table are reference types shared by every copy.
type accumulator struct {
	rules     []Rule
	errs      []error
	graph     *DependencyGraph
	arity     map[string]arityUse
	reported  map[PredicateKey]bool
	arityErrs *[]error
}

func newAccumulator() accumulator {
	return accumulator{
		graph:     newDependencyGraph(),
		arity:     make(map[string]arityUse),
		reported:  make(map[PredicateKey]bool),
		arityErrs: new([]error),
	}
}

func (acc accumulator) declaration(n syntax.Node) accumulator {
	var (
		r   Rule
		err error
	)
	switch d := n.(type) {
	case *syntax.Fact:
		r, err = acc.fact(d)
	case *syntax.Rule:
		r, err = acc.rule(d)
	case *syntax.Constraint:
		r, err = acc.constraint(d)
	case *syntax.GuessRule:
		r, err = acc.guess(d)
	default:
		err = fmt.Errorf("%s: unexpected declaration %T", n.Pos(), n)
	}
	if err != nil {
		acc.errs = append(acc.errs, err)
		return acc
	}
	if unsafe := unsafeVars(r); len(unsafe) > 0 {
		acc.errs = append(acc.errs, &RangeRestrictionError{Rule: r.String(), Variables: unsafe, Pos: r.Pos})
		return acc
	}
	acc.link(r)
	acc.rules = append(acc.rules, r)
	return acc
}

func (acc accumulator) fact(d *syntax.Fact) (Rule, error) {
	head, err := acc.atom(d.Head)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindFact, Head: &head, Pos: d.Pos()}, nil
}

func (acc accumulator) rule(d *syntax.Rule) (Rule, error) {
	head, err := acc.atom(d.Head)
	if err != nil {
		return Rule{}, err
	}
	body, err := acc.body(d.Body.Elems)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindNormal, Head: &head, Body: body, Pos: d.Pos()}, nil
}

func (acc accumulator) constraint(d *syntax.Constraint) (Rule, error) {
	body, err := acc.body(d.Body.Elems)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindConstraint, Body: body, Pos: d.Pos()}, nil
}

func (acc accumulator) guess(d *syntax.GuessRule) (Rule, error) {
	choice := &Choice{}
	for _, el := range d.Head.Elements {
		if len(el.Terms) != 1 {
			return Rule{}, fmt.Errorf("%s: choice element must be a single atom", el.Pos())
		}
		pred, ok := leafPredicate(el.Terms[0].Expr)
		if !ok {
			return Rule{}, fmt.Errorf("%s: choice element must be an atom", el.Pos())
		}
		a, err := acc.atom(pred)
		if err != nil {
			return Rule{}, err
		}
		conds, err := acc.conditions(el.Conditions)
		if err != nil {
			return Rule{}, err
		}
		choice.Elements = append(choice.Elements, ChoiceElement{Atom: a, Conditions: conds})
	}
	var err error
	if choice.Lower, choice.Upper, err = bounds(d.Head); err != nil {
		return Rule{}, err
	}
	r := Rule{Kind: KindGuess, Choice: choice, Pos: d.Pos()}
	if d.Body != nil {
		if r.Body, err = acc.body(d.Body.Elems); err != nil {
			return Rule{}, err
		}
	}
	return r, nil
}

func (acc accumulator) body(elems []syntax.Node) ([]BodyElement, error) {
	out := make([]BodyElement, 0, len(elems))
	for _, e := range elems {
		var (
			be  BodyElement
			err error
		)
		switch e := e.(type) {
		case *syntax.PredicateCount:
			be, err = acc.count(e)
		default:
			be, err = acc.condition(e)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, be)
	}
	return out, nil
}

func (acc accumulator) conditions(nodes []syntax.Node) ([]BodyElement, error) {
	var out []BodyElement
	for _, n := range nodes {
		c, err := acc.condition(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (acc accumulator) condition(n syntax.Node) (BodyElement, error) {
	switch n := n.(type) {
	case *syntax.Predicate:
		a, err := acc.atom(n)
		return Literal{Atom: a}, err
	case *syntax.NegatedPredicate:
		a, err := acc.atom(n.Pred)
		return Literal{Atom: a, Negated: true}, err
	case *syntax.Comparator:
		l, err := convertTerm(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := convertTerm(n.Right)
		if err != nil {
			return nil, err
		}
		return Comparison{Left: l, Op: CompareOp(n.Op), Right: r}, nil
	}
	return nil, fmt.Errorf("%s: unexpected body element %T", n.Pos(), n)
}

func (acc accumulator) count(n *syntax.PredicateCount) (BodyElement, error) {
	agg := CountAggregate{}
	for _, el := range n.Elements {
		var e AggregateElement
		for _, t := range el.Terms {
			term, err := convertTerm(t.Expr)
			if err != nil {
				return nil, err
			}
			e.Terms = append(e.Terms, term)
		}
		conds, err := acc.conditions(el.Conditions)
		if err != nil {
			return nil, err
		}
		e.Conditions = conds
		// { p(X) : q(X) } in a body counts the atom itself.
		if !n.Aggregate && len(e.Terms) == 1 {
			if pred, ok := leafPredicate(el.Terms[0].Expr); ok {
				a, err := acc.atom(pred)
				if err != nil {
					return nil, err
				}
				e.Conditions = append([]BodyElement{Literal{Atom: a}}, e.Conditions...)
			}
		}
		agg.Elements = append(agg.Elements, e)
	}
	var err error
	agg.Lower, agg.Upper, err = bounds(n)
	return agg, err
}

// atom converts a predicate and records its arity.
func (acc accumulator) atom(p *syntax.Predicate) (Atom, error) {
	a := Atom{Predicate: p.Name.Name}
	if p.Args != nil {
		for _, arg := range p.Args.List {
			t, err := convertTerm(arg.Expr)
			if err != nil {
				return Atom{}, err
			}
			a.Args = append(a.Args, t)
		}
	}
	acc.useArity(a.Predicate, len(a.Args), p.Pos())
	acc.graph.node(a.Key())
	return a, nil
}

func (acc accumulator) useArity(name string, arity int, pos syntax.Position) {
	first, ok := acc.arity[name]
	if !ok {
		acc.arity[name] = arityUse{arity: arity, pos: pos}
		return
	}
	key := PredicateKey{Name: name, Arity: arity}
	if first.arity != arity && !acc.reported[key] {
		acc.reported[key] = true
		*acc.arityErrs = append(*acc.arityErrs, &ArityError{
			Predicate: name, Expected: first.arity, Got: arity, Pos: pos, FirstPos: first.pos,
		})
	}
}

// link adds the dependency edges of r.
func (acc accumulator) link(r Rule) {
	heads := r.HeadAtoms()
	for _, h := range heads {
		for _, e := range r.Body {
			for _, dep := range dependencies(e) {
				acc.graph.addEdge(h.Key(), dep.key, dep.kind)
			}
		}
	}
	if r.Choice != nil {
		for _, el := range r.Choice.Elements {
			for _, c := range el.Conditions {
				for _, dep := range dependencies(c) {
					acc.graph.addEdge(el.Atom.Key(), dep.key, dep.kind)
				}
			}
		}
	}
}

type dependency struct {
	key  PredicateKey
	kind EdgeKind
}

func dependencies(e BodyElement) []dependency {
	switch e := e.(type) {
	case Literal:
		if e.Negated {
			return []dependency{{e.Atom.Key(), EdgeNegated}}
		}
		return []dependency{{e.Atom.Key(), EdgePositive}}
	case CountAggregate:
		var out []dependency
		for _, el := range e.Elements {
			for _, c := range el.Conditions {
				for _, d := range dependencies(c) {
					out = append(out, dependency{d.key, d.kind&^EdgePositive | EdgeAggregate})
				}
			}
		}
		return out
	}
	return nil
}

// unsafeVars returns head variables, and variables of negated literals, that
// no positive body literal binds. Aggregate and choice elements may also bind
// their own variables through their positive conditions.
func unsafeVars(r Rule) []Var {
	bound := make(map[Var]bool)
	for _, a := range r.PositiveAtoms() {
		for _, v := range a.Vars() {
			bound[v] = true
		}
	}

	var unsafe []Var
	check := func(vs []Var, local map[Var]bool) {
		for _, v := range vs {
			if !bound[v] && !local[v] && !slices.Contains(unsafe, v) {
				unsafe = append(unsafe, v)
			}
		}
	}

	if r.Head != nil {
		if hasAnonymous(r.Head.Args) && !slices.Contains(unsafe, "_") {
			unsafe = append(unsafe, "_")
		}
		check(r.Head.Vars(), nil)
	}
	for _, e := range r.Body {
		switch e := e.(type) {
		case Literal:
			if e.Negated {
				check(e.Atom.Vars(), nil)
			}
		case CountAggregate:
			for _, el := range e.Elements {
				local := localBindings(el.Conditions)
				var vs []Var
				for _, t := range el.Terms {
					vs = Vars(t, vs)
				}
				check(vs, local)
				checkNegated(el.Conditions, local, check)
			}
		}
	}
	if r.Choice != nil {
		for _, el := range r.Choice.Elements {
			local := localBindings(el.Conditions)
			if hasAnonymous(el.Atom.Args) && !slices.Contains(unsafe, "_") {
				unsafe = append(unsafe, "_")
			}
			check(el.Atom.Vars(), local)
			checkNegated(el.Conditions, local, check)
		}
	}
	return unsafe
}

func localBindings(conds []BodyElement) map[Var]bool {
	local := make(map[Var]bool)
	for _, c := range conds {
		if l, ok := c.(Literal); ok && !l.Negated {
			for _, v := range l.Atom.Vars() {
				local[v] = true
			}
		}
	}
	return local
}

func checkNegated(conds []BodyElement, local map[Var]bool, check func([]Var, map[Var]bool)) {
	for _, c := range conds {
		if l, ok := c.(Literal); ok && l.Negated {
			check(l.Atom.Vars(), local)
		}
	}
}

func hasAnonymous(args []Term) bool {
	for _, a := range args {
		switch a := a.(type) {
		case Var:
			if a == "_" {
				return true
			}
		case Compound:
			if hasAnonymous(a.Args) {
				return true
			}
		case Expr:
			if hasAnonymous([]Term{a.Left, a.Right}) {
				return true
			}
		case Neg:
			if hasAnonymous([]Term{a.X}) {
				return true
			}
		}
	}
	return false
}

// bounds normalizes count bounds; a bound written without a comparator
// means "at least" below and "at most" above.
func bounds(n *syntax.PredicateCount) (lower, upper *Bound, err error) {
	if n.Lower != nil {
		t, err := convertTerm(n.Lower.Expr)
		if err != nil {
			return nil, nil, err
		}
		lower = &Bound{Op: boundOp(n.LowerOp), Value: t}
	}
	if n.Upper != nil {
		t, err := convertTerm(n.Upper.Expr)
		if err != nil {
			return nil, nil, err
		}
		upper = &Bound{Op: boundOp(n.UpperOp), Value: t}
	}
	return lower, upper, nil
}

func boundOp(op string) CompareOp {
	if op == "" {
		return OpLe
	}
	return CompareOp(op)
}

func leafPredicate(e *syntax.MathExpr) (*syntax.Predicate, bool) {
	switch leaf := e.Leaf.(type) {
	case *syntax.Predicate:
		return leaf, true
	case *syntax.Atom:
		if leaf.Tok.Kind == syntax.Ident {
			return &syntax.Predicate{Name: &syntax.Identifier{At: leaf.Tok.Pos, Name: leaf.Tok.Text}}, true
		}
	}
	return nil, false
}

// convertTerm turns an expression into a Term. Unary minus on an integer
// literal folds into a negative Int.
func convertTerm(e *syntax.MathExpr) (Term, error) {
	switch {
	case e.Leaf != nil:
		switch leaf := e.Leaf.(type) {
		case *syntax.Atom:
			switch leaf.Tok.Kind {
			case syntax.Ident:
				return Sym(leaf.Tok.Text), nil
			case syntax.Variable:
				return Var(leaf.Tok.Text), nil
			case syntax.String:
				return Str(leaf.Tok.Text), nil
			case syntax.Int:
				n, err := strconv.ParseInt(leaf.Tok.Text, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: integer %s out of range", leaf.Tok.Pos, leaf.Tok.Text)
				}
				return Int(n), nil
			}
		case *syntax.Predicate:
			c := Compound{Functor: leaf.Name.Name}
			if leaf.Args != nil {
				for _, arg := range leaf.Args.List {
					t, err := convertTerm(arg.Expr)
					if err != nil {
						return nil, err
					}
					c.Args = append(c.Args, t)
				}
			}
			if len(c.Args) == 0 {
				return Sym(c.Functor), nil
			}
			return c, nil
		}
		return nil, fmt.Errorf("%s: unexpected term %T", e.At, e.Leaf)
	case e.Unary:
		x, err := convertTerm(e.Left)
		if err != nil {
			return nil, err
		}
		if n, ok := x.(Int); ok {
			return -n, nil
		}
		return Neg{X: x}, nil
	}
	l, err := convertTerm(e.Left)
	if err != nil {
		return nil, err
	}
	r, err := convertTerm(e.Right)
	if err != nil {
		return nil, err
	}
	return Expr{Op: e.Op, Left: l, Right: r}, nil
}
