// Package solver defines the boundary to the reasoning engines that compute
// models (answer sets) of a validated program.
package solver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"stepwise/internal/program"
)

// Engine computes the models of a program. Solve blocks until the engine
// finishes, the request timeout expires or ctx is cancelled.
type Engine interface {
	Name() string
	Solve(ctx context.Context, req Request) (*Result, error)
}

// Request is one engine invocation.
type Request struct {
	Program *program.Program
	Facts   []program.Atom
	// Timeout bounds the call; zero leaves only ctx in charge.
	Timeout time.Duration
	// MaxModels caps the models returned; zero asks for all of them.
	MaxModels int
	// Constants overrides program constants by name.
	Constants map[string]string
}

// Result is the outcome of a successful call. An unsatisfiable program is a
// result, not an error.
type Result struct {
	Models        [][]program.Atom
	Unsatisfiable bool
	Duration      time.Duration
}

// EngineTimeoutError reports that the engine did not finish in time. The
// same request may be retried.
type EngineTimeoutError struct {
	Engine  string
	Timeout time.Duration
}

func (e *EngineTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: timed out after %s", e.Engine, e.Timeout)
	}
	return fmt.Sprintf("%s: deadline exceeded", e.Engine)
}

// EngineFailureError reports that the engine could not be run or rejected
// the program.
type EngineFailureError struct {
	Engine string
	Reason string
	Stderr string
	Err    error
}

func (e *EngineFailureError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Engine, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *EngineFailureError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is an EngineTimeoutError.
func IsTimeout(err error) bool {
	var te *EngineTimeoutError
	return errors.As(err, &te)
}

// WithTimeout derives the context a Solve call should run under.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Source renders the program and the extra facts as rule-language text.
func (r Request) Source() string {
	var b strings.Builder
	if r.Program != nil {
		b.WriteString(program.Format(r.Program))
	}
	for _, f := range r.Facts {
		b.WriteString(f.String())
		b.WriteString(".\n")
	}
	return b.String()
}

// ConstantTerms parses the constant overrides, sorted by name.
func (r Request) ConstantTerms() ([]string, map[string]program.Term, error) {
	names := slices.Sorted(maps.Keys(r.Constants))
	terms := make(map[string]program.Term, len(names))
	for _, name := range names {
		t, err := program.ParseTerm(r.Constants[name])
		if err != nil {
			return nil, nil, fmt.Errorf("constant %s: %w", name, err)
		}
		if !program.IsGround(t) {
			return nil, nil, fmt.Errorf("constant %s: %s is not ground", name, t)
		}
		terms[name] = t
	}
	return names, terms, nil
}
