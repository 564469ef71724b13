// Package mangle evaluates stratified programs in-process with Google
// Mangle. A stratified program has exactly one model, so the engine needs
// no external solver for the deterministic part of the rule language.
package mangle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"stepwise/internal/logging"
	"stepwise/internal/program"
	"stepwise/internal/solver"
)

// Name is the engine name reported in errors and logs.
const Name = "mangle"

// Config holds Mangle engine configuration.
type Config struct {
	// FactLimit stops evaluations that derive more facts; zero disables it.
	FactLimit int `yaml:"fact_limit" json:"fact_limit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FactLimit: 100000}
}

// Engine is a solver.Engine evaluating programs with Mangle. Every call
// builds its own store, so one Engine serves concurrent calls.
type Engine struct {
	config Config
}

// NewEngine creates a Mangle engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{config: cfg}
}

// Name implements solver.Engine.
func (e *Engine) Name() string { return Name }

func (e *Engine) fail(reason string, err error) error {
	return &solver.EngineFailureError{Engine: Name, Reason: reason, Err: err}
}

// Solve translates the program, evaluates it and returns its single model.
// A violated constraint makes the program unsatisfiable.
func (e *Engine) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	res, dur, err := e.solve(ctx, req)
	logging.Audit().Solved(Name, len(resultModels(res)), dur, err, solver.IsTimeout(err))
	return res, err
}

func resultModels(r *solver.Result) [][]program.Atom {
	if r == nil {
		return nil
	}
	return r.Models
}

func (e *Engine) solve(ctx context.Context, req solver.Request) (*solver.Result, time.Duration, error) {
	log := logging.Get(logging.CategoryEngine)
	start := time.Now()

	_, consts, err := req.ConstantTerms()
	if err != nil {
		return nil, 0, e.fail("invalid request", err)
	}
	tr, err := translate(req.Program, req.Facts, consts)
	if err != nil {
		return nil, 0, e.fail("program not supported", err)
	}
	log.Debug("translated program:\n%s", tr.source)

	unit, err := parse.Unit(strings.NewReader(tr.source))
	if err != nil {
		return nil, 0, e.fail("failed to parse translation", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, 0, e.fail("failed to analyze translation", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range tr.facts {
		store.Add(f)
	}

	ctx, cancel := solver.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var opts []mengine.EvalOption
	if e.config.FactLimit > 0 {
		opts = append(opts, mengine.WithCreatedFactLimit(e.config.FactLimit))
	}
	done := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(info, store, opts...)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil && e.config.FactLimit > 0 && strings.Contains(err.Error(), "fact size limit") {
			return nil, time.Since(start), e.fail(fmt.Sprintf("too many derived facts, limit is %d", e.config.FactLimit), err)
		}
		if err != nil {
			return nil, time.Since(start), e.fail("evaluation failed", err)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, time.Since(start), &solver.EngineTimeoutError{Engine: Name, Timeout: req.Timeout}
		}
		return nil, time.Since(start), e.fail("cancelled", ctx.Err())
	}

	for _, sym := range tr.violations {
		violated := false
		_ = store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			violated = true
			return nil
		})
		if violated {
			dur := time.Since(start)
			log.Info("mangle: constraint violated, program is unsatisfiable")
			return &solver.Result{Unsatisfiable: true, Duration: dur}, dur, nil
		}
	}

	atoms, err := collect(store)
	if err != nil {
		return nil, time.Since(start), e.fail("unreadable model", err)
	}
	dur := time.Since(start)
	log.Info("mangle derived %d atoms in %s", len(atoms), dur)
	return &solver.Result{Models: [][]program.Atom{atoms}, Duration: dur}, dur, nil
}

// collect reads every non-auxiliary fact of the store.
func collect(store factstore.FactStore) ([]program.Atom, error) {
	var out []program.Atom
	for _, sym := range store.ListPredicates() {
		if strings.HasPrefix(sym.Symbol, auxPrefix) || strings.HasPrefix(sym.Symbol, ":") {
			continue
		}
		err := store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
			args := make([]program.Term, len(a.Args))
			for i, arg := range a.Args {
				c, ok := arg.(ast.Constant)
				if !ok {
					return fmt.Errorf("%s: argument %d is not a constant", a, i)
				}
				t, err := term(c)
				if err != nil {
					return err
				}
				args[i] = t
			}
			out = append(out, program.Atom{Predicate: sym.Symbol, Args: args})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
