package config

import (
	"fmt"
	"strconv"
	"strings"

	"stepwise/internal/equation"
	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
)

// SchemaConfig names the step and state predicates as name/arity pairs.
type SchemaConfig struct {
	Step      string `yaml:"step" json:"step" validate:"predicate"`
	Index     int    `yaml:"index" json:"index" validate:"gte=0"`
	Before    int    `yaml:"before" json:"before" validate:"gte=0"`
	After     int    `yaml:"after" json:"after" validate:"gte=0"`
	Operation int    `yaml:"operation" json:"operation" validate:"gte=0"`

	State     string `yaml:"state" json:"state" validate:"predicate"`
	StateID   int    `yaml:"state_id" json:"state_id" validate:"gte=0"`
	StateText int    `yaml:"state_text" json:"state_text" validate:"gte=0"`

	Holders  []string `yaml:"holders" json:"holders" validate:"dive,predicate"`
	Terminal string   `yaml:"terminal" json:"terminal" validate:"omitempty,predicate"`

	// Trees enables rendering id-only states from equation tree atoms.
	Trees  bool            `yaml:"trees" json:"trees"`
	Layout equation.Layout `yaml:"layout" json:"layout"`
}

// DefaultSchemaConfig mirrors reconstruct.DefaultSchema.
func DefaultSchemaConfig() SchemaConfig {
	d := reconstruct.DefaultSchema()
	sc := SchemaConfig{
		Step:      d.Step.String(),
		Index:     d.Index,
		Before:    d.Before,
		After:     d.After,
		Operation: d.Operation,
		State:     d.State.String(),
		StateID:   d.StateID,
		StateText: d.StateText,
		Terminal:  d.Terminal.String(),
		Trees:     true,
		Layout:    equation.DefaultLayout(),
	}
	for _, h := range d.Holders {
		sc.Holders = append(sc.Holders, h.String())
	}
	return sc
}

// Build converts the configuration into a validated schema.
func (s SchemaConfig) Build() (reconstruct.Schema, error) {
	step, err := parsePredicate(s.Step)
	if err != nil {
		return reconstruct.Schema{}, fmt.Errorf("schema step: %w", err)
	}
	state, err := parsePredicate(s.State)
	if err != nil {
		return reconstruct.Schema{}, fmt.Errorf("schema state: %w", err)
	}
	out := reconstruct.Schema{
		Step:      step,
		Index:     s.Index,
		Before:    s.Before,
		After:     s.After,
		Operation: s.Operation,
		State:     state,
		StateID:   s.StateID,
		StateText: s.StateText,
	}
	for _, h := range s.Holders {
		k, err := parsePredicate(h)
		if err != nil {
			return reconstruct.Schema{}, fmt.Errorf("schema holder: %w", err)
		}
		out.Holders = append(out.Holders, k)
	}
	if s.Terminal != "" {
		if out.Terminal, err = parsePredicate(s.Terminal); err != nil {
			return reconstruct.Schema{}, fmt.Errorf("schema terminal: %w", err)
		}
	}
	return out, out.Validate()
}

// parsePredicate reads "name/arity".
func parsePredicate(s string) (program.PredicateKey, error) {
	name, arity, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return program.PredicateKey{}, fmt.Errorf("predicate %q is not name/arity", s)
	}
	n, err := strconv.Atoi(arity)
	if err != nil || n < 0 {
		return program.PredicateKey{}, fmt.Errorf("predicate %q has a bad arity", s)
	}
	return program.PredicateKey{Name: name, Arity: n}, nil
}
