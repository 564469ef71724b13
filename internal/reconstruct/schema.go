// Package reconstruct recovers the ordered chain of algebra steps from one
// model and attaches the body atoms of the rule instantiation that
// justifies each step.
package reconstruct

import (
	"fmt"

	"stepwise/internal/program"
)

// Schema names the predicates that carry step and state information.
type Schema struct {
	// Step atoms carry the index, before state, after state and operation
	// at the given argument positions.
	Step      program.PredicateKey
	Index     int
	Before    int
	After     int
	Operation int

	// State atoms pair a state id with its display text.
	State     program.PredicateKey
	StateID   int
	StateText int

	// Holders are unary predicates that wrap a state atom, e.g. fact/1.
	Holders []program.PredicateKey

	// Terminal optionally names a unary marker of the final state id.
	// An empty name disables the check.
	Terminal program.PredicateKey
}

// DefaultSchema matches the algebra rule corpus: step/4, eq/2, fact/1 and
// solved/1.
func DefaultSchema() Schema {
	return Schema{
		Step:      program.PredicateKey{Name: "step", Arity: 4},
		Index:     0,
		Before:    1,
		After:     2,
		Operation: 3,
		State:     program.PredicateKey{Name: "eq", Arity: 2},
		StateID:   0,
		StateText: 1,
		Holders:   []program.PredicateKey{{Name: "fact", Arity: 1}},
		Terminal:  program.PredicateKey{Name: "solved", Arity: 1},
	}
}

// Validate checks that every argument position fits its predicate.
func (s Schema) Validate() error {
	positions := []struct {
		name string
		pos  int
		of   program.PredicateKey
	}{
		{"index", s.Index, s.Step},
		{"before", s.Before, s.Step},
		{"after", s.After, s.Step},
		{"operation", s.Operation, s.Step},
		{"state id", s.StateID, s.State},
		{"state text", s.StateText, s.State},
	}
	for _, p := range positions {
		if p.pos < 0 || p.pos >= p.of.Arity {
			return fmt.Errorf("schema: %s position %d outside %s", p.name, p.pos, p.of)
		}
	}
	for _, h := range s.Holders {
		if h.Arity != 1 {
			return fmt.Errorf("schema: holder %s must be unary", h)
		}
	}
	if s.Terminal.Name != "" && s.Terminal.Arity != 1 {
		return fmt.Errorf("schema: terminal marker %s must be unary", s.Terminal)
	}
	return nil
}

// State is one equation state of the chain.
type State struct {
	ID   program.Term
	Text string
	// Atom is the state atom the text came from, when there is one.
	Atom *program.Atom
}

// AlgebraNode is one reconstructed step. Nodes form a linear chain;
// Predecessor is the position of the previous node, or -1.
type AlgebraNode struct {
	Index       int
	Before      State
	After       State
	Operation   program.Term
	StepAtom    program.Atom
	Supporting  []program.Atom
	Rule        string
	Predecessor int
}

// OrderingError reports step atoms that do not form a single chain.
type OrderingError struct {
	Model  string
	Reason string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("model %s: cannot order steps: %s", e.Model, e.Reason)
}
