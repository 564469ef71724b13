package equation

import (
	"fmt"

	"stepwise/internal/logging"
	"stepwise/internal/model"
	"stepwise/internal/program"
)

// Layout names the atoms that store equation trees in a model:
//
//	root(State, lhs, Node).  root(State, rhs, Node).
//	node(Node, type, add).   node(Node, child, Child).
//	node(Node, coeff, 3).    node(Node, degree, 2).
//	node(Node, numer, N).    node(Node, denom, D).
type Layout struct {
	Node  string `yaml:"node" json:"node"`
	Root  string `yaml:"root" json:"root"`
	Left  string `yaml:"left" json:"left"`
	Right string `yaml:"right" json:"right"`
}

// DefaultLayout is node/3 plus root/3 with lhs and rhs sides.
func DefaultLayout() Layout {
	return Layout{Node: "node", Root: "root", Left: "lhs", Right: "rhs"}
}

// Resolver renders the equation of a state id from its tree atoms. It is a
// fallback state resolver for the step reconstructor.
type Resolver struct {
	layout Layout
}

// NewResolver creates a Resolver. Empty layout fields take their defaults.
func NewResolver(l Layout) *Resolver {
	d := DefaultLayout()
	if l.Node == "" {
		l.Node = d.Node
	}
	if l.Root == "" {
		l.Root = d.Root
	}
	if l.Left == "" {
		l.Left = d.Left
	}
	if l.Right == "" {
		l.Right = d.Right
	}
	return &Resolver{layout: l}
}

// StateText renders state id, reporting false when the model holds no
// complete tree for it.
func (r *Resolver) StateText(m *model.Model, id program.Term) (string, bool) {
	q, err := r.Equation(m, id)
	if err != nil {
		logging.Get(logging.CategoryReconstruct).Debug("no equation tree for %s: %v", id, err)
		return "", false
	}
	return q.String(), true
}

// Equation builds the tree of a state from the model.
func (r *Resolver) Equation(m *model.Model, state program.Term) (Equation, error) {
	var left, right program.Term
	for _, a := range m.AtomsOf(program.PredicateKey{Name: r.layout.Root, Arity: 3}) {
		if !program.Equal(a.Args[0], state) {
			continue
		}
		switch program.Text(a.Args[1]) {
		case r.layout.Left:
			left = a.Args[2]
		case r.layout.Right:
			right = a.Args[2]
		}
	}
	if left == nil || right == nil {
		return Equation{}, fmt.Errorf("state %s has no %s and %s roots", state, r.layout.Left, r.layout.Right)
	}

	b := &treeBuilder{fields: make(map[string][][2]program.Term), visiting: make(map[string]bool)}
	for _, a := range m.AtomsOf(program.PredicateKey{Name: r.layout.Node, Arity: 3}) {
		id := a.Args[0].String()
		b.fields[id] = append(b.fields[id], [2]program.Term{a.Args[1], a.Args[2]})
	}
	l, err := b.build(left)
	if err != nil {
		return Equation{}, err
	}
	rt, err := b.build(right)
	if err != nil {
		return Equation{}, err
	}
	return Equation{Left: l, Right: rt}, nil
}

type treeBuilder struct {
	fields   map[string][][2]program.Term
	visiting map[string]bool
}

func (b *treeBuilder) build(id program.Term) (*Expr, error) {
	key := id.String()
	fields, ok := b.fields[key]
	if !ok {
		return nil, fmt.Errorf("node %s has no fields", key)
	}
	if b.visiting[key] {
		return nil, fmt.Errorf("node %s contains itself", key)
	}
	b.visiting[key] = true
	defer delete(b.visiting, key)

	var (
		kind          Kind
		coeff, degree *int64
		children      []program.Term
		numer, denom  program.Term
	)
	for _, f := range fields {
		switch program.Text(f[0]) {
		case "type":
			kind = Kind(program.Text(f[1]))
		case "coeff":
			n, err := integer(key, "coeff", f[1])
			if err != nil {
				return nil, err
			}
			coeff = &n
		case "degree":
			n, err := integer(key, "degree", f[1])
			if err != nil {
				return nil, err
			}
			degree = &n
		case "child":
			children = append(children, f[1])
		case "numer":
			numer = f[1]
		case "denom":
			denom = f[1]
		}
	}

	switch kind {
	case KindMono:
		if coeff == nil {
			return nil, fmt.Errorf("monomial %s has no coeff", key)
		}
		m := Mono(*coeff, 0)
		if degree != nil {
			m.Degree = *degree
		}
		return m, nil
	case KindDiv:
		if numer == nil || denom == nil {
			return nil, fmt.Errorf("fraction %s needs numer and denom", key)
		}
		children = []program.Term{numer, denom}
	case KindNeg:
		if len(children) != 1 {
			return nil, fmt.Errorf("negation %s has %d children, want 1", key, len(children))
		}
	case KindAdd, KindMul:
		if len(children) == 0 {
			return nil, fmt.Errorf("%s node %s has no children", kind, key)
		}
	case "":
		return nil, fmt.Errorf("node %s has no type", key)
	default:
		return nil, fmt.Errorf("node %s has unknown type %s", key, kind)
	}

	e := &Expr{Kind: kind, Children: make([]*Expr, len(children))}
	for i, c := range children {
		sub, err := b.build(c)
		if err != nil {
			return nil, err
		}
		e.Children[i] = sub
	}
	return e, nil
}

func integer(node, field string, t program.Term) (int64, error) {
	n, err := program.Eval(t, nil)
	if err != nil {
		return 0, fmt.Errorf("node %s: %s: %w", node, field, err)
	}
	i, ok := n.(program.Int)
	if !ok {
		return 0, fmt.Errorf("node %s: %s %s is not an integer", node, field, t)
	}
	return int64(i), nil
}
