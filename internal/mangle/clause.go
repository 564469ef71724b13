package mangle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/mangle/ast"

	"stepwise/internal/program"
)

var arithmetic = map[string]string{
	"+": "fn:plus",
	"-": "fn:minus",
	"*": "fn:mult",
	"/": "fn:div",
}

var comparisons = map[program.CompareOp]string{
	program.OpLt: ":lt",
	program.OpLe: ":le",
	program.OpGt: ":gt",
	program.OpGe: ":ge",
}

// pendingEq binds a fresh variable to an arithmetic term once the term's
// variables are bound.
type pendingEq struct {
	v program.Var
	t program.Term
}

type clauseBuilder struct {
	taken    map[program.Var]bool
	fresh    int
	bound    map[program.Var]bool
	premises []ast.Term
}

// buildClause renders an aggregate-free rule. Positive atoms come first,
// then comparisons in an order that binds every variable before use, then
// negated atoms.
func buildClause(head program.Atom, body []program.BodyElement) (ast.Clause, error) {
	cb := &clauseBuilder{taken: make(map[program.Var]bool), bound: make(map[program.Var]bool)}
	for _, v := range head.Vars() {
		cb.taken[v] = true
	}
	for _, e := range body {
		for _, v := range elementVars(e) {
			cb.taken[v] = true
		}
	}

	var (
		pending []pendingEq
		checks  []program.Comparison
		negs    []program.Atom
	)
	for _, e := range body {
		switch e := e.(type) {
		case program.Literal:
			if e.Negated {
				negs = append(negs, e.Atom)
				continue
			}
			args, eqs, err := cb.args(e.Atom.Args)
			if err != nil {
				return ast.Clause{}, err
			}
			cb.premises = append(cb.premises, ast.NewAtom(e.Atom.Predicate, args...))
			for _, t := range e.Atom.Args {
				if v, ok := t.(program.Var); ok && v != "_" {
					cb.bound[v] = true
				}
			}
			for _, eq := range eqs {
				cb.bound[eq.v] = true
			}
			pending = append(pending, eqs...)
		case program.Comparison:
			checks = append(checks, e)
		default:
			return ast.Clause{}, fmt.Errorf("unexpected body element %s", e)
		}
	}

	for len(pending)+len(checks) > 0 {
		progress := false
		var waiting []pendingEq
		for _, p := range pending {
			if !cb.allBound(p.t) {
				waiting = append(waiting, p)
				continue
			}
			if err := cb.emitEq(p); err != nil {
				return ast.Clause{}, err
			}
			progress = true
		}
		pending = waiting

		var later []program.Comparison
		for _, c := range checks {
			done, err := cb.comparison(c)
			if err != nil {
				return ast.Clause{}, err
			}
			if !done {
				later = append(later, c)
				continue
			}
			progress = true
		}
		checks = later

		if !progress {
			if len(checks) > 0 {
				return ast.Clause{}, fmt.Errorf("cannot order %s: variables are never bound", checks[0])
			}
			return ast.Clause{}, fmt.Errorf("cannot evaluate %s: variables are never bound", pending[0].t)
		}
	}

	for _, a := range negs {
		args, err := cb.boundArgs(a.Args)
		if err != nil {
			return ast.Clause{}, err
		}
		cb.premises = append(cb.premises, ast.NegAtom{Atom: ast.NewAtom(a.Predicate, args...)})
	}
	args, err := cb.boundArgs(head.Args)
	if err != nil {
		return ast.Clause{}, err
	}
	for _, v := range head.Vars() {
		if !cb.bound[v] {
			return ast.Clause{}, fmt.Errorf("head variable %s is not bound", v)
		}
	}
	return ast.Clause{Head: ast.NewAtom(head.Predicate, args...), Premises: cb.premises}, nil
}

func (cb *clauseBuilder) freshVar() program.Var {
	for {
		cb.fresh++
		v := program.Var("Aux" + strconv.Itoa(cb.fresh))
		if !cb.taken[v] {
			cb.taken[v] = true
			return v
		}
	}
}

func (cb *clauseBuilder) allBound(t program.Term) bool {
	for _, v := range program.Vars(t, nil) {
		if !cb.bound[v] {
			return false
		}
	}
	return true
}

// args converts atom arguments. Non-ground arithmetic is replaced by a
// fresh variable and returned as a pending equation.
func (cb *clauseBuilder) args(ts []program.Term) ([]ast.BaseTerm, []pendingEq, error) {
	out := make([]ast.BaseTerm, len(ts))
	var eqs []pendingEq
	for i, t := range ts {
		switch t := t.(type) {
		case program.Var:
			out[i] = ast.Variable{Symbol: string(t)}
			continue
		case program.Expr, program.Neg:
			if !program.IsGround(t) {
				v := cb.freshVar()
				out[i] = ast.Variable{Symbol: string(v)}
				eqs = append(eqs, pendingEq{v: v, t: t})
				continue
			}
		case program.Compound:
			if !program.IsGround(t) {
				return nil, nil, fmt.Errorf("non-ground compound term %s", t)
			}
		}
		c, err := constant(t)
		if err != nil {
			return nil, nil, err
		}
		out[i] = c
	}
	return out, eqs, nil
}

// boundArgs converts arguments whose variables must already be bound.
func (cb *clauseBuilder) boundArgs(ts []program.Term) ([]ast.BaseTerm, error) {
	args, eqs, err := cb.args(ts)
	if err != nil {
		return nil, err
	}
	for _, eq := range eqs {
		if !cb.allBound(eq.t) {
			return nil, fmt.Errorf("cannot evaluate %s: variables are never bound", eq.t)
		}
		if err := cb.emitEq(eq); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (cb *clauseBuilder) emitEq(p pendingEq) error {
	var (
		rhs ast.BaseTerm
		err error
	)
	switch t := p.t.(type) {
	case program.Var:
		rhs = ast.Variable{Symbol: string(t)}
	case program.Expr, program.Neg:
		if program.IsGround(t) {
			rhs, err = constant(t)
		} else {
			rhs, err = fn(t)
		}
	case program.Compound:
		if !program.IsGround(t) {
			return fmt.Errorf("non-ground compound term %s", t)
		}
		rhs, err = constant(t)
	default:
		rhs, err = constant(t)
	}
	if err != nil {
		return err
	}
	cb.premises = append(cb.premises, ast.Eq{Left: ast.Variable{Symbol: string(p.v)}, Right: rhs})
	cb.bound[p.v] = true
	return nil
}

// comparison emits c once its variables allow it. An equation with one
// unbound variable side binds that variable.
func (cb *clauseBuilder) comparison(c program.Comparison) (bool, error) {
	lb, rb := cb.allBound(c.Left), cb.allBound(c.Right)
	if c.Op == program.OpEq {
		if v, ok := c.Left.(program.Var); ok && !lb && rb && v != "_" {
			return true, cb.emitEq(pendingEq{v: v, t: c.Right})
		}
		if v, ok := c.Right.(program.Var); ok && !rb && lb && v != "_" {
			return true, cb.emitEq(pendingEq{v: v, t: c.Left})
		}
	}
	if !lb || !rb {
		return false, nil
	}
	l, err := cb.operand(c.Left)
	if err != nil {
		return false, err
	}
	r, err := cb.operand(c.Right)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case program.OpEq:
		cb.premises = append(cb.premises, ast.Eq{Left: l, Right: r})
	case program.OpNe:
		cb.premises = append(cb.premises, ast.Ineq{Left: l, Right: r})
	default:
		name, ok := comparisons[c.Op]
		if !ok {
			return false, fmt.Errorf("unsupported comparison %s", c.Op)
		}
		cb.premises = append(cb.premises, ast.NewAtom(name, l, r))
	}
	return true, nil
}

// operand converts a bound comparison side, evaluating arithmetic into a
// fresh variable first.
func (cb *clauseBuilder) operand(t program.Term) (ast.BaseTerm, error) {
	switch t := t.(type) {
	case program.Var:
		return ast.Variable{Symbol: string(t)}, nil
	case program.Expr, program.Neg:
		if program.IsGround(t) {
			return constant(t)
		}
		v := cb.freshVar()
		if err := cb.emitEq(pendingEq{v: v, t: t}); err != nil {
			return nil, err
		}
		return ast.Variable{Symbol: string(v)}, nil
	case program.Compound:
		if !program.IsGround(t) {
			return nil, fmt.Errorf("non-ground compound term %s", t)
		}
	}
	return constant(t)
}

// fn converts an integer expression into nested Mangle function calls.
func fn(t program.Term) (ast.BaseTerm, error) {
	switch t := t.(type) {
	case program.Var:
		return ast.Variable{Symbol: string(t)}, nil
	case program.Int:
		return ast.Number(int64(t)), nil
	case program.Neg:
		x, err := fn(t.X)
		if err != nil {
			return nil, err
		}
		return ast.ApplyFn{Function: ast.FunctionSym{Symbol: "fn:minus", Arity: 2}, Args: []ast.BaseTerm{ast.Number(0), x}}, nil
	case program.Expr:
		name, ok := arithmetic[t.Op]
		if !ok {
			return nil, fmt.Errorf("operator %s is not supported", t.Op)
		}
		l, err := fn(t.Left)
		if err != nil {
			return nil, err
		}
		r, err := fn(t.Right)
		if err != nil {
			return nil, err
		}
		return ast.ApplyFn{Function: ast.FunctionSym{Symbol: name, Arity: 2}, Args: []ast.BaseTerm{l, r}}, nil
	}
	return nil, fmt.Errorf("%s is not an integer expression", t)
}

// constant converts a ground term. Arithmetic is evaluated; compound terms
// become tagged strings.
func constant(t program.Term) (ast.BaseTerm, error) {
	t, err := normalize(t)
	if err != nil {
		return nil, err
	}
	switch t := t.(type) {
	case program.Int:
		return ast.Number(int64(t)), nil
	case program.Str:
		return ast.String(string(t)), nil
	case program.Sym:
		c, err := ast.Name("/" + string(t))
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", t, err)
		}
		return c, nil
	case program.Compound:
		return ast.String(compoundTag + t.String()), nil
	}
	return nil, fmt.Errorf("%s is not a constant", t)
}

func normalize(t program.Term) (program.Term, error) {
	switch t := t.(type) {
	case program.Expr, program.Neg:
		return program.Eval(t, nil)
	case program.Compound:
		args := make([]program.Term, len(t.Args))
		for i, a := range t.Args {
			n, err := normalize(a)
			if err != nil {
				return nil, err
			}
			args[i] = n
		}
		return program.Compound{Functor: t.Functor, Args: args}, nil
	}
	return t, nil
}

// term converts a Mangle constant back into a rule-language term.
func term(c ast.Constant) (program.Term, error) {
	switch c.Type {
	case ast.NumberType:
		return program.Int(c.NumValue), nil
	case ast.NameType:
		return program.Sym(strings.TrimPrefix(c.Symbol, "/")), nil
	case ast.StringType:
		if text, ok := strings.CutPrefix(c.Symbol, compoundTag); ok {
			return program.ParseTerm(text)
		}
		return program.Str(c.Symbol), nil
	}
	return nil, fmt.Errorf("unsupported constant %s", c)
}
