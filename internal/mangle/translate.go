package mangle

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/mangle/ast"

	"stepwise/internal/program"
)

// compoundTag prefixes the canonical text of a ground compound term stored
// as a Mangle string.
const compoundTag = "§term:"

// auxPrefix names the predicates introduced for aggregates and constraints.
const auxPrefix = "stepwise_aux_"

var errGuess = errors.New("choice rules need a solver with answer set semantics")

// translation is a program rewritten for Mangle: rule source text plus the
// ground facts that go straight into the store.
type translation struct {
	source     string
	facts      []ast.Atom
	violations []ast.PredicateSym
}

type translator struct {
	consts     map[string]program.Term
	clauses    []ast.Clause
	idb        map[program.PredicateKey]bool
	used       map[program.PredicateKey]bool
	facts      []ast.Atom
	violations []ast.PredicateSym
	aux        int
}

func translate(p *program.Program, extra []program.Atom, consts map[string]program.Term) (*translation, error) {
	tr := &translator{
		consts: consts,
		idb:    make(map[program.PredicateKey]bool),
		used:   make(map[program.PredicateKey]bool),
	}
	var errs []error
	if p != nil {
		for _, r := range p.Rules {
			if err := tr.rule(r); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r, err))
			}
		}
	}
	for _, f := range extra {
		if err := tr.fact(f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var b strings.Builder
	keys := slices.SortedFunc(maps.Keys(tr.used), func(a, b program.PredicateKey) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.Arity - b.Arity
	})
	for _, k := range keys {
		if tr.idb[k] {
			continue
		}
		vars := make([]string, k.Arity)
		for i := range vars {
			vars[i] = "X" + strconv.Itoa(i)
		}
		fmt.Fprintf(&b, "Decl %s(%s).\n", k.Name, strings.Join(vars, ", "))
	}
	for _, c := range tr.clauses {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return &translation{source: b.String(), facts: tr.facts, violations: tr.violations}, nil
}

func (tr *translator) rule(r program.Rule) error {
	for _, a := range append(r.HeadAtoms(), bodyAtoms(r.Body)...) {
		if strings.HasPrefix(a.Predicate, auxPrefix) {
			return fmt.Errorf("predicate prefix %q is reserved", auxPrefix)
		}
	}
	switch r.Kind {
	case program.KindFact:
		return tr.fact(*r.Head)
	case program.KindGuess:
		return errGuess
	case program.KindConstraint:
		tr.aux++
		head := program.Atom{Predicate: auxPrefix + "violation" + strconv.Itoa(tr.aux)}
		tr.violations = append(tr.violations, ast.PredicateSym{Symbol: head.Predicate, Arity: 0})
		return tr.normal(head, r.Body)
	default:
		return tr.normal(*r.Head, r.Body)
	}
}

func (tr *translator) fact(a program.Atom) error {
	a = tr.substAtom(a)
	args := make([]ast.BaseTerm, len(a.Args))
	for i, t := range a.Args {
		if !program.IsGround(t) {
			return fmt.Errorf("fact argument %s is not ground", t)
		}
		c, err := constant(t)
		if err != nil {
			return err
		}
		args[i] = c
	}
	tr.used[a.Key()] = true
	tr.facts = append(tr.facts, ast.NewAtom(a.Predicate, args...))
	return nil
}

// variant is one aggregate-free rendering of a rule.
type variant struct {
	body  []program.BodyElement
	subst program.Bindings
}

func (tr *translator) normal(head program.Atom, body []program.BodyElement) error {
	head = tr.substAtom(head)
	body = tr.substBody(body)
	tr.idb[head.Key()] = true
	tr.markUsed(body)
	if names := renameVars(head, body); len(names) > 0 {
		head = substituteAtom(head, names)
		body = substituteBody(body, names)
	}

	variants := []variant{{}}
	for i, e := range body {
		agg, ok := e.(program.CountAggregate)
		if !ok {
			for j := range variants {
				variants[j].body = append(variants[j].body, e)
			}
			continue
		}
		nonzero, zero, err := tr.aggregate(agg, head, body, i)
		if err != nil {
			return err
		}
		var next []variant
		for _, v := range variants {
			next = append(next, variant{body: append(slices.Clone(v.body), nonzero...), subst: v.subst})
			if zero != nil {
				subst := v.subst.Clone()
				maps.Copy(subst, zero.subst)
				next = append(next, variant{body: append(slices.Clone(v.body), zero.body...), subst: subst})
			}
		}
		variants = next
	}

	for _, v := range variants {
		h, b := head, v.body
		if len(v.subst) > 0 {
			h = substituteAtom(h, v.subst)
			b = substituteBody(b, v.subst)
		}
		c, err := buildClause(h, b)
		if err != nil {
			return err
		}
		tr.clauses = append(tr.clauses, c)
	}
	return nil
}

// renameVars maps the rule's variables to V0, V1, ... in order of
// appearance. Mangle variables are a capital letter followed by letters and
// digits; rule variables may also contain or start with an underscore.
func renameVars(head program.Atom, body []program.BodyElement) program.Bindings {
	vars := head.Vars()
	for _, e := range body {
		vars = append(vars, elementVars(e)...)
	}
	names := make(program.Bindings)
	for _, v := range vars {
		if _, ok := names[v]; ok || v == "_" {
			continue
		}
		names[v] = program.Var("V" + strconv.Itoa(len(names)))
	}
	return names
}

func (tr *translator) markUsed(body []program.BodyElement) {
	for _, a := range bodyAtoms(body) {
		tr.used[a.Key()] = true
	}
}

// aggregate introduces the auxiliary predicates of a count aggregate and
// returns the body elements replacing it when the count is positive, and,
// when a count of zero can satisfy the bounds, the replacement for that
// case.
func (tr *translator) aggregate(agg program.CountAggregate, head program.Atom, body []program.BodyElement, at int) ([]program.BodyElement, *variant, error) {
	outside := make(map[program.Var]bool)
	for _, v := range head.Vars() {
		outside[v] = true
	}
	var positives []program.BodyElement
	positiveVars := make(map[program.Var]bool)
	for i, e := range body {
		if i == at {
			continue
		}
		for _, v := range elementVars(e) {
			outside[v] = true
		}
		if l, ok := e.(program.Literal); ok && !l.Negated {
			positives = append(positives, l)
			for _, v := range l.Atom.Vars() {
				positiveVars[v] = true
			}
		}
	}

	if len(agg.Elements) == 0 {
		return nil, nil, errors.New("empty count")
	}
	inner := make(map[program.Var]bool)
	width := -1
	for _, el := range agg.Elements {
		if width >= 0 && len(el.Terms) != width {
			return nil, nil, errors.New("count elements of different widths")
		}
		width = len(el.Terms)
		for _, t := range el.Terms {
			for _, v := range program.Vars(t, nil) {
				inner[v] = true
			}
		}
		for _, c := range el.Conditions {
			for _, v := range elementVars(c) {
				inner[v] = true
			}
		}
	}
	var group []program.Term
	for _, v := range slices.Sorted(maps.Keys(inner)) {
		if v != "_" && outside[v] {
			group = append(group, v)
		}
	}

	tr.aux++
	n := strconv.Itoa(tr.aux)
	proj := auxPrefix + "proj" + n
	count := auxPrefix + "count" + n
	present := auxPrefix + "any" + n
	tr.idb[program.PredicateKey{Name: proj, Arity: len(group) + width}] = true
	tr.idb[program.PredicateKey{Name: count, Arity: len(group) + 1}] = true
	tr.idb[program.PredicateKey{Name: present, Arity: len(group)}] = true

	for _, el := range agg.Elements {
		h := program.Atom{Predicate: proj, Args: append(slices.Clone(group), el.Terms...)}
		c, err := buildClause(h, append(slices.Clone(positives), el.Conditions...))
		if err != nil {
			return nil, nil, fmt.Errorf("count element: %w", err)
		}
		tr.clauses = append(tr.clauses, c)
		tr.markUsed(el.Conditions)
	}
	tr.clauses = append(tr.clauses, countClause(proj, count, group, width), presentClause(proj, present, group, width))

	var (
		countVar program.Var
		checks   []*program.Bound
	)
	for _, b := range []*program.Bound{agg.Lower, agg.Upper} {
		if b == nil {
			continue
		}
		if v, ok := b.Value.(program.Var); ok && b.Op == program.OpEq && countVar == "" && !positiveVars[v] {
			countVar = v
			continue
		}
		checks = append(checks, b)
	}
	assigned := countVar != ""
	if !assigned {
		countVar = freshVar("Count"+n, head, body)
	}

	nonzero := []program.BodyElement{program.Literal{Atom: program.Atom{Predicate: count, Args: append(slices.Clone(group), countVar)}}}
	for _, c := range boundChecks(agg, checks, countVar) {
		nonzero = append(nonzero, c)
	}

	zero := &variant{body: []program.BodyElement{program.Literal{Atom: program.Atom{Predicate: present, Args: group}, Negated: true}}}
	if assigned {
		zero.subst = program.Bindings{countVar: program.Int(0)}
	}
	for _, c := range boundChecks(agg, checks, program.Int(0)) {
		if !program.IsGround(c.Left) || !program.IsGround(c.Right) {
			zero.body = append(zero.body, c)
			continue
		}
		if ok, err := program.Compare(c.Left, c.Op, c.Right, nil); err != nil || !ok {
			zero = nil
			break
		}
	}
	return nonzero, zero, nil
}

func boundChecks(agg program.CountAggregate, checks []*program.Bound, count program.Term) []program.Comparison {
	var out []program.Comparison
	for _, b := range checks {
		if b == agg.Lower {
			out = append(out, program.Comparison{Left: b.Value, Op: b.Op, Right: count})
		} else {
			out = append(out, program.Comparison{Left: count, Op: b.Op, Right: b.Value})
		}
	}
	return out
}

func countClause(proj, count string, group []program.Term, width int) ast.Clause {
	groupArgs := variables(group)
	projArgs := slices.Clone(groupArgs)
	for i := 0; i < width; i++ {
		projArgs = append(projArgs, ast.Variable{Symbol: "T" + strconv.Itoa(i)})
	}
	n := ast.Variable{Symbol: "N"}
	return ast.Clause{
		Head:     ast.NewAtom(count, append(slices.Clone(groupArgs), n)...),
		Premises: []ast.Term{ast.NewAtom(proj, projArgs...)},
		Transform: &ast.Transform{Statements: []ast.TransformStmt{
			{Fn: ast.ApplyFn{Function: ast.FunctionSym{Symbol: "fn:group_by", Arity: len(groupArgs)}, Args: groupArgs}},
			{Var: &n, Fn: ast.ApplyFn{Function: ast.FunctionSym{Symbol: "fn:count", Arity: 0}}},
		}},
	}
}

func presentClause(proj, present string, group []program.Term, width int) ast.Clause {
	groupArgs := variables(group)
	projArgs := slices.Clone(groupArgs)
	for i := 0; i < width; i++ {
		projArgs = append(projArgs, ast.Variable{Symbol: "_"})
	}
	return ast.Clause{
		Head:     ast.NewAtom(present, groupArgs...),
		Premises: []ast.Term{ast.NewAtom(proj, projArgs...)},
	}
}

func variables(ts []program.Term) []ast.BaseTerm {
	out := make([]ast.BaseTerm, len(ts))
	for i, t := range ts {
		out[i] = ast.Variable{Symbol: string(t.(program.Var))}
	}
	return out
}

// freshVar returns base, suffixed until it clashes with no variable of the
// rule. Rule variables are already renamed to V0, V1, ... here.
func freshVar(base string, head program.Atom, body []program.BodyElement) program.Var {
	taken := make(map[program.Var]bool)
	for _, v := range head.Vars() {
		taken[v] = true
	}
	for _, e := range body {
		for _, v := range elementVars(e) {
			taken[v] = true
		}
	}
	v := program.Var(base)
	for taken[v] {
		v += "X"
	}
	return v
}

func (tr *translator) subst(t program.Term) program.Term {
	switch t := t.(type) {
	case program.Sym:
		if c, ok := tr.consts[string(t)]; ok {
			return c
		}
	case program.Compound:
		args := make([]program.Term, len(t.Args))
		for i, a := range t.Args {
			args[i] = tr.subst(a)
		}
		return program.Compound{Functor: t.Functor, Args: args}
	case program.Expr:
		return program.Expr{Op: t.Op, Left: tr.subst(t.Left), Right: tr.subst(t.Right)}
	case program.Neg:
		return program.Neg{X: tr.subst(t.X)}
	}
	return t
}

func (tr *translator) substAtom(a program.Atom) program.Atom {
	if len(tr.consts) == 0 {
		return a
	}
	args := make([]program.Term, len(a.Args))
	for i, t := range a.Args {
		args[i] = tr.subst(t)
	}
	return program.Atom{Predicate: a.Predicate, Args: args}
}

func (tr *translator) substBody(body []program.BodyElement) []program.BodyElement {
	if len(tr.consts) == 0 {
		return body
	}
	return mapBody(body, tr.substAtom, tr.subst)
}

func substituteAtom(a program.Atom, b program.Bindings) program.Atom {
	args := make([]program.Term, len(a.Args))
	for i, t := range a.Args {
		args[i] = program.Substitute(t, b)
	}
	return program.Atom{Predicate: a.Predicate, Args: args}
}

func substituteBody(body []program.BodyElement, b program.Bindings) []program.BodyElement {
	return mapBody(body,
		func(a program.Atom) program.Atom { return substituteAtom(a, b) },
		func(t program.Term) program.Term { return program.Substitute(t, b) })
}

func mapBody(body []program.BodyElement, atom func(program.Atom) program.Atom, term func(program.Term) program.Term) []program.BodyElement {
	out := make([]program.BodyElement, len(body))
	for i, e := range body {
		switch e := e.(type) {
		case program.Literal:
			out[i] = program.Literal{Atom: atom(e.Atom), Negated: e.Negated}
		case program.Comparison:
			out[i] = program.Comparison{Left: term(e.Left), Op: e.Op, Right: term(e.Right)}
		case program.CountAggregate:
			agg := program.CountAggregate{}
			for _, el := range e.Elements {
				terms := make([]program.Term, len(el.Terms))
				for j, t := range el.Terms {
					terms[j] = term(t)
				}
				agg.Elements = append(agg.Elements, program.AggregateElement{Terms: terms, Conditions: mapBody(el.Conditions, atom, term)})
			}
			if e.Lower != nil {
				agg.Lower = &program.Bound{Op: e.Lower.Op, Value: term(e.Lower.Value)}
			}
			if e.Upper != nil {
				agg.Upper = &program.Bound{Op: e.Upper.Op, Value: term(e.Upper.Value)}
			}
			out[i] = agg
		}
	}
	return out
}

func bodyAtoms(body []program.BodyElement) []program.Atom {
	var out []program.Atom
	for _, e := range body {
		switch e := e.(type) {
		case program.Literal:
			out = append(out, e.Atom)
		case program.CountAggregate:
			for _, el := range e.Elements {
				out = append(out, bodyAtoms(el.Conditions)...)
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
				vs = append(vs, elementVars(c)...)
			}
		}
		for _, b := range []*program.Bound{e.Lower, e.Upper} {
			if b != nil {
				vs = program.Vars(b.Value, vs)
			}
		}
		return vs
	}
	return nil
}
