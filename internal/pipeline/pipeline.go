// Package pipeline runs the whole explanation flow for a rule file: compile,
// solve, then reconstruct and explain every model in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stepwise/internal/explain"
	"stepwise/internal/logging"
	"stepwise/internal/model"
	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
	"stepwise/internal/solver"
)

// DefaultConcurrency is the number of models explained at once when
// Options.Concurrency is not set.
const DefaultConcurrency = 4

// Options configures a Pipeline. Engine and Library are required.
type Options struct {
	Engine  solver.Engine
	Library *explain.Library
	Schema  reconstruct.Schema

	// Resolvers render id-only states, e.g. equation trees.
	Resolvers []reconstruct.StateResolver
	// Distance backs the {distance} placeholder when set.
	Distance func(a, b string) (int, error)

	CandidateLimit int
	Concurrency    int
	Retry          RetryPolicy

	// Request defaults for every Solve.
	Timeout   time.Duration
	MaxModels int
	Constants map[string]string
}

// Pipeline is safe for concurrent use once built; the library and the
// options are never modified.
type Pipeline struct {
	opts Options
}

// New checks the options and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("pipeline: no engine")
	}
	if opts.Library == nil {
		return nil, errors.New("pipeline: no template library")
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Pipeline{opts: opts}, nil
}

// Engine returns the configured engine.
func (p *Pipeline) Engine() solver.Engine { return p.opts.Engine }

// Report is the outcome of one Run.
type Report struct {
	RunID         string
	Source        string
	Engine        string
	Started       time.Time
	Duration      time.Duration
	Program       *program.Program
	Unsatisfiable bool
	Models        []ModelReport
}

// ModelReport is the outcome for one model. Err is set when the model
// could not be reconstructed or explained; other models are unaffected.
type ModelReport struct {
	ID    model.ID
	Atoms []program.Atom
	Nodes []reconstruct.AlgebraNode
	Steps []explain.StepExplanation
	Err   error
}

// Failed counts the models with an error.
func (r *Report) Failed() int {
	n := 0
	for _, m := range r.Models {
		if m.Err != nil {
			n++
		}
	}
	return n
}

// Compile parses and validates source. Validation errors stop the run
// before the engine is invoked.
func (p *Pipeline) Compile(name, src string) (*program.Program, error) {
	prog, err := program.Compile(src)
	logging.Audit().Parsed(logging.AuditBuild, name, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	logging.Get(logging.CategoryBuild).Debug("%s: %d rules, %d predicates", name, len(prog.Rules), len(prog.Graph.Nodes()))
	return prog, nil
}

// Run compiles source, solves it and explains every model.
func (p *Pipeline) Run(ctx context.Context, name, src string, facts []program.Atom) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), Source: name, Engine: p.opts.Engine.Name(), Started: time.Now()}
	log := logging.Get(logging.CategoryPipeline).With("run", rep.RunID)
	defer func() { rep.Duration = time.Since(rep.Started) }()

	prog, err := p.Compile(name, src)
	if err != nil {
		runsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	rep.Program = prog

	res, err := p.Solve(ctx, prog, facts)
	if err != nil {
		runsTotal.WithLabelValues("engine_error").Inc()
		return nil, err
	}
	if res.Unsatisfiable {
		log.Info("%s is unsatisfiable", name)
		rep.Unsatisfiable = true
		runsTotal.WithLabelValues("unsatisfiable").Inc()
		return rep, nil
	}

	rep.Models, err = p.explain(ctx, rep.RunID, prog, res.Models)
	if err != nil {
		runsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	outcome := "ok"
	if rep.Failed() > 0 {
		outcome = "partial"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	log.Info("%s: %d models, %d failed", name, len(rep.Models), rep.Failed())
	return rep, nil
}

// Solve invokes the engine with the configured request defaults, retrying
// timeouts according to the retry policy.
func (p *Pipeline) Solve(ctx context.Context, prog *program.Program, facts []program.Atom) (*solver.Result, error) {
	req := solver.Request{
		Program:   prog,
		Facts:     facts,
		Timeout:   p.opts.Timeout,
		MaxModels: p.opts.MaxModels,
		Constants: p.opts.Constants,
	}
	engine := p.opts.Engine
	var res *solver.Result
	err := p.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			engineRetries.WithLabelValues(engine.Name()).Inc()
			logging.Get(logging.CategoryPipeline).Warn("%s timed out, retry %d", engine.Name(), attempt)
		}
		start := time.Now()
		r, err := engine.Solve(ctx, req)
		engineDuration.WithLabelValues(engine.Name()).Observe(time.Since(start).Seconds())
		engineCalls.WithLabelValues(engine.Name(), outcomeOf(err)).Inc()
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case solver.IsTimeout(err):
		return "timeout"
	}
	return "error"
}

// Explain reconstructs and explains models in parallel. Each model's
// failure is recorded on its report; the error return is reserved for
// cancellation.
func (p *Pipeline) Explain(ctx context.Context, prog *program.Program, models [][]program.Atom) ([]ModelReport, error) {
	return p.explain(ctx, "", prog, models)
}

func (p *Pipeline) explain(ctx context.Context, runID string, prog *program.Program, models [][]program.Atom) ([]ModelReport, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("explain %d models", len(models)))
	defer timer.Stop()

	mgr := model.NewManager()
	reports := make([]ModelReport, len(models))
	for i, atoms := range models {
		reports[i].Atoms = atoms
		id, err := mgr.AddModel(atoms)
		if err != nil {
			reports[i].Err = err
			continue
		}
		reports[i].ID = id
	}

	var ropts []reconstruct.Option
	for _, sr := range p.opts.Resolvers {
		ropts = append(ropts, reconstruct.WithResolver(sr))
	}
	if p.opts.CandidateLimit > 0 {
		ropts = append(ropts, reconstruct.WithCandidateLimit(p.opts.CandidateLimit))
	}
	rec, err := reconstruct.New(mgr, prog, p.opts.Schema, ropts...)
	if err != nil {
		return nil, err
	}
	var xopts []explain.Option
	if p.opts.Distance != nil {
		xopts = append(xopts, explain.WithDistance(p.opts.Distance))
	}
	ext := explain.NewExtractor(p.opts.Library, prog.Graph, xopts...)
	audit := logging.AuditWithRun(runID)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.Concurrency)
	for i := range reports {
		if reports[i].Err != nil {
			modelsTotal.WithLabelValues("invalid").Inc()
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			r := &reports[i]
			start := time.Now()
			r.Nodes, r.Steps, r.Err = p.explainModel(mgr, rec, ext, r.ID)
			explainDuration.Observe(time.Since(start).Seconds())
			audit.ModelProcessed(logging.AuditExplain, string(r.ID), len(r.Steps), r.Err)
			if r.Err != nil {
				modelsTotal.WithLabelValues("failed").Inc()
				logging.Get(logging.CategoryPipeline).Warn("model %s: %v", r.ID, r.Err)
				return nil
			}
			modelsTotal.WithLabelValues("explained").Inc()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// explainModel orders the steps before any template is consulted, so an
// ordering failure is reported as such even when no template would match.
func (p *Pipeline) explainModel(mgr *model.Manager, rec *reconstruct.Reconstructor, ext *explain.Extractor, id model.ID) ([]reconstruct.AlgebraNode, []explain.StepExplanation, error) {
	nodes, err := rec.Reconstruct(id)
	if err != nil {
		return nil, nil, err
	}
	m, err := mgr.Model(id)
	if err != nil {
		return nodes, nil, err
	}
	steps, err := ext.Extract(m, nodes)
	if err != nil {
		return nodes, nil, err
	}
	return nodes, steps, nil
}
