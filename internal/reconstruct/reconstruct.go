package reconstruct

import (
	"fmt"
	"slices"
	"strings"

	"stepwise/internal/logging"
	"stepwise/internal/model"
	"stepwise/internal/program"
)

// StateResolver renders a state that a model stores only by id, such as an
// equation tree spread over node atoms.
type StateResolver interface {
	StateText(m *model.Model, id program.Term) (string, bool)
}

// Reconstructor rebuilds step chains. It only reads the manager, program
// and schema, so one Reconstructor can serve many goroutines.
type Reconstructor struct {
	mgr            *model.Manager
	prog           *program.Program
	schema         Schema
	resolvers      []StateResolver
	candidateLimit int
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithResolver adds a fallback resolver for id-only state references.
func WithResolver(sr StateResolver) Option {
	return func(r *Reconstructor) { r.resolvers = append(r.resolvers, sr) }
}

// WithCandidateLimit caps the rule instantiations examined per step.
func WithCandidateLimit(n int) Option {
	return func(r *Reconstructor) {
		if n > 0 {
			r.candidateLimit = n
		}
	}
}

// DefaultCandidateLimit bounds the justification search of one step.
const DefaultCandidateLimit = 10000

// New creates a Reconstructor. The schema must be valid.
func New(mgr *model.Manager, prog *program.Program, schema Schema, opts ...Option) (*Reconstructor, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	r := &Reconstructor{mgr: mgr, prog: prog, schema: schema, candidateLimit: DefaultCandidateLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Schema returns the schema in use.
func (r *Reconstructor) Schema() Schema { return r.schema }

type stepAtom struct {
	index int
	atom  program.Atom
}

// Reconstruct returns the step chain of model id, or an OrderingError when
// the step atoms are missing or do not form one chain.
func (r *Reconstructor) Reconstruct(id model.ID) ([]AlgebraNode, error) {
	m, err := r.mgr.Model(id)
	if err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryReconstruct, "reconstruct "+string(id))
	defer timer.Stop()

	fail := func(format string, args ...any) error {
		return &OrderingError{Model: string(id), Reason: fmt.Sprintf(format, args...)}
	}

	steps, err := r.orderedSteps(m, fail)
	if err != nil {
		return nil, err
	}
	if err := r.checkChain(m, steps, fail); err != nil {
		return nil, err
	}

	s := r.schema
	nodes := make([]AlgebraNode, len(steps))
	for i, st := range steps {
		before, err := r.state(m, st.atom.Args[s.Before], fail)
		if err != nil {
			return nil, err
		}
		after, err := r.state(m, st.atom.Args[s.After], fail)
		if err != nil {
			return nil, err
		}
		node := AlgebraNode{
			Index:       st.index,
			Before:      before,
			After:       after,
			Operation:   st.atom.Args[s.Operation],
			StepAtom:    st.atom,
			Predecessor: i - 1,
		}
		if j, ok := r.justify(m, st.atom); ok {
			node.Supporting = j.supporting
			node.Rule = j.rule
		} else {
			logging.Get(logging.CategoryReconstruct).Warn("no rule justifies %s in model %s", st.atom, id)
		}
		nodes[i] = node
	}
	logging.Get(logging.CategoryReconstruct).Debug("model %s: %d steps", id, len(nodes))
	return nodes, nil
}

func (r *Reconstructor) orderedSteps(m *model.Model, fail func(string, ...any) error) ([]stepAtom, error) {
	s := r.schema
	atoms := m.AtomsOf(s.Step)
	if len(atoms) == 0 {
		return nil, fail("no %s atoms", s.Step)
	}
	steps := make([]stepAtom, len(atoms))
	for i, a := range atoms {
		n, ok := a.Args[s.Index].(program.Int)
		if !ok {
			return nil, fail("step index %s of %s is not an integer", a.Args[s.Index], a)
		}
		steps[i] = stepAtom{index: int(n), atom: a}
	}
	slices.SortStableFunc(steps, func(a, b stepAtom) int { return a.index - b.index })

	for i := 1; i < len(steps); i++ {
		prev, cur := steps[i-1], steps[i]
		switch {
		case cur.index == prev.index:
			return nil, fail("duplicate step index %d: %s and %s", cur.index, prev.atom, cur.atom)
		case cur.index != prev.index+1:
			return nil, fail("step indices are not contiguous: %d follows %d", cur.index, prev.index)
		}
	}
	return steps, nil
}

// checkChain verifies that every step starts where the previous one ended,
// that no state repeats and that the terminal marker agrees.
func (r *Reconstructor) checkChain(m *model.Model, steps []stepAtom, fail func(string, ...any) error) error {
	s := r.schema
	seen := make(map[string]int)
	for i, st := range steps {
		before := r.stateKey(st.atom.Args[s.Before])
		if i > 0 {
			prevAfter := r.stateKey(steps[i-1].atom.Args[s.After])
			if !program.Equal(before, prevAfter) {
				return fail("step %d starts from %s but step %d ended in %s", st.index, before, steps[i-1].index, prevAfter)
			}
		}
		if j, dup := seen[before.String()]; dup {
			return fail("state %s repeats at steps %d and %d", before, j, st.index)
		}
		seen[before.String()] = st.index
	}
	last := steps[len(steps)-1]
	terminal := r.stateKey(last.atom.Args[s.After])
	if j, dup := seen[terminal.String()]; dup {
		return fail("terminal state %s already occurs at step %d", terminal, j)
	}

	if s.Terminal.Name == "" {
		return nil
	}
	markers := m.AtomsOf(s.Terminal)
	switch {
	case len(markers) == 0:
		return nil
	case len(markers) > 1:
		texts := make([]string, len(markers))
		for i, a := range markers {
			texts[i] = a.String()
		}
		return fail("%d terminal states: %s", len(markers), strings.Join(texts, ", "))
	}
	if marked := r.stateKey(markers[0].Args[0]); !program.Equal(marked, terminal) {
		return fail("terminal marker %s does not name the final state %s", markers[0], terminal)
	}
	return nil
}

// stateKey reduces a state reference to its id.
func (r *Reconstructor) stateKey(t program.Term) program.Term {
	if c, ok := r.stateCompound(t); ok {
		return c.Args[r.schema.StateID]
	}
	return t
}

func (r *Reconstructor) stateCompound(t program.Term) (program.Compound, bool) {
	c, ok := t.(program.Compound)
	if !ok || c.Functor != r.schema.State.Name || len(c.Args) != r.schema.State.Arity {
		return program.Compound{}, false
	}
	return c, true
}

// state resolves a reference: an embedded state term, then a state atom by
// id, then a holder-wrapped state, then the fallback resolvers.
func (r *Reconstructor) state(m *model.Model, ref program.Term, fail func(string, ...any) error) (State, error) {
	s := r.schema
	if c, ok := r.stateCompound(ref); ok {
		a := program.Atom{Predicate: c.Functor, Args: c.Args}
		return State{ID: c.Args[s.StateID], Text: program.Text(c.Args[s.StateText]), Atom: &a}, nil
	}
	for _, a := range m.AtomsOf(s.State) {
		if program.Equal(a.Args[s.StateID], ref) {
			return State{ID: ref, Text: program.Text(a.Args[s.StateText]), Atom: &a}, nil
		}
	}
	for _, h := range s.Holders {
		for _, a := range m.AtomsOf(h) {
			c, ok := r.stateCompound(a.Args[0])
			if ok && program.Equal(c.Args[s.StateID], ref) {
				inner := program.Atom{Predicate: c.Functor, Args: c.Args}
				return State{ID: ref, Text: program.Text(c.Args[s.StateText]), Atom: &inner}, nil
			}
		}
	}
	for _, sr := range r.resolvers {
		if text, ok := sr.StateText(m, ref); ok {
			return State{ID: ref, Text: text}, nil
		}
	}
	return State{}, fail("state %s is not defined in the model", ref)
}
