// Package model holds the answer sets returned by a reasoning engine. Models
// are deduplicated by content, indexed by predicate and never mutated after
// they are added.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"stepwise/internal/logging"
	"stepwise/internal/program"
)

// ID identifies a model: the first 16 hex digits of the SHA-256 of its
// canonical text, so set-equal models share an ID.
type ID string

// UnknownModelError is returned for lookups of an ID that was never added.
type UnknownModelError struct {
	ID ID
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", string(e.ID))
}

// NonGroundAtomError is returned when a model atom contains a variable or
// unevaluated arithmetic.
type NonGroundAtomError struct {
	Atom program.Atom
}

func (e *NonGroundAtomError) Error() string {
	return fmt.Sprintf("model atom %s is not ground", e.Atom)
}

// Model is an immutable set of ground atoms.
type Model struct {
	ID    ID
	Atoms []program.Atom

	index map[program.PredicateKey][]program.Atom
	set   map[string]struct{}
}

func newModel(atoms []program.Atom) (*Model, error) {
	byText := make(map[string]program.Atom, len(atoms))
	for _, a := range atoms {
		if !a.IsGround() || hasArithmetic(a.Args) {
			return nil, &NonGroundAtomError{Atom: a}
		}
		byText[a.String()] = a
	}
	keys := make([]string, 0, len(byText))
	for k := range byText {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	m := &Model{
		Atoms: make([]program.Atom, len(keys)),
		index: make(map[program.PredicateKey][]program.Atom),
		set:   make(map[string]struct{}, len(keys)),
	}
	for i, k := range keys {
		a := byText[k]
		m.Atoms[i] = a
		m.index[a.Key()] = append(m.index[a.Key()], a)
		m.set[k] = struct{}{}
	}
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	m.ID = ID(hex.EncodeToString(sum[:])[:16])
	return m, nil
}

func hasArithmetic(ts []program.Term) bool {
	for _, t := range ts {
		switch t := t.(type) {
		case program.Expr, program.Neg:
			return true
		case program.Compound:
			if hasArithmetic(t.Args) {
				return true
			}
		}
	}
	return false
}

// Len returns the number of atoms.
func (m *Model) Len() int { return len(m.Atoms) }

// Contains reports whether the ground atom a is in the model.
func (m *Model) Contains(a program.Atom) bool {
	_, ok := m.set[a.String()]
	return ok
}

// AtomsOf returns a copy of the atoms of predicate k, sorted by text.
func (m *Model) AtomsOf(k program.PredicateKey) []program.Atom {
	return slices.Clone(m.index[k])
}

// Predicates returns the predicates present in the model, sorted.
func (m *Model) Predicates() []program.PredicateKey {
	out := make([]program.PredicateKey, 0, len(m.index))
	for k := range m.index {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b program.PredicateKey) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.Arity - b.Arity
	})
	return out
}

// Match unifies pattern against every atom of its predicate and returns the
// extended bindings, in atom order. Pattern arithmetic that is still
// unbound after matching counts as a mismatch.
func (m *Model) Match(pattern program.Atom, b program.Bindings) []program.Bindings {
	var out []program.Bindings
	for _, nb := range m.Matches(pattern, b) {
		out = append(out, nb)
	}
	return out
}

// Matches yields each atom that unifies with pattern together with the
// extended bindings.
func (m *Model) Matches(pattern program.Atom, b program.Bindings) iter.Seq2[program.Atom, program.Bindings] {
	return func(yield func(program.Atom, program.Bindings) bool) {
		for _, a := range m.index[pattern.Key()] {
			nb, deferred, ok := program.MatchAtom(pattern, a, b)
			if !ok || !checkDeferred(deferred, nb) {
				continue
			}
			if !yield(a, nb) {
				return
			}
		}
	}
}

func checkDeferred(deferred [][2]program.Term, b program.Bindings) bool {
	for _, d := range deferred {
		v, err := program.Eval(d[0], b)
		if err != nil || !program.Equal(v, d[1]) {
			return false
		}
	}
	return true
}

// Manager stores models by ID. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	models map[ID]*Model
	order  []ID
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{models: make(map[ID]*Model)}
}

// AddModel stores a model and returns its ID. Adding a model set-equal to
// one already stored returns the existing ID.
func (mgr *Manager) AddModel(atoms []program.Atom) (ID, error) {
	m, err := newModel(atoms)
	if err != nil {
		return "", err
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if _, ok := mgr.models[m.ID]; ok {
		logging.Get(logging.CategoryModel).Debug("model %s already stored", m.ID)
		return m.ID, nil
	}
	mgr.models[m.ID] = m
	mgr.order = append(mgr.order, m.ID)
	logging.Get(logging.CategoryModel).Debug("stored model %s with %d atoms", m.ID, m.Len())
	return m.ID, nil
}

// Model returns the stored model.
func (mgr *Manager) Model(id ID) (*Model, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.models[id]
	if !ok {
		return nil, &UnknownModelError{ID: id}
	}
	return m, nil
}

// AtomsOf returns the atoms of predicate/arity in model id, sorted by text.
func (mgr *Manager) AtomsOf(id ID, predicate string, arity int) ([]program.Atom, error) {
	m, err := mgr.Model(id)
	if err != nil {
		return nil, err
	}
	return m.AtomsOf(program.PredicateKey{Name: predicate, Arity: arity}), nil
}

// AllModels returns the IDs in the order they were first added.
func (mgr *Manager) AllModels() []ID {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return slices.Clone(mgr.order)
}

// Match unifies pattern against model id. See Model.Match.
func (mgr *Manager) Match(id ID, pattern program.Atom, b program.Bindings) ([]program.Bindings, error) {
	m, err := mgr.Model(id)
	if err != nil {
		return nil, err
	}
	return m.Match(pattern, b), nil
}

// AddAll adds several models and returns their IDs in order. It stops at
// the first invalid model.
func (mgr *Manager) AddAll(models [][]program.Atom) ([]ID, error) {
	ids := make([]ID, 0, len(models))
	for i, atoms := range models {
		id, err := mgr.AddModel(atoms)
		if err != nil {
			return ids, fmt.Errorf("model %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsUnknown reports whether err is an UnknownModelError.
func IsUnknown(err error) bool {
	var u *UnknownModelError
	return errors.As(err, &u)
}
