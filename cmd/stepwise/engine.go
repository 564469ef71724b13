package main

import (
	"fmt"

	"go.uber.org/zap"

	"stepwise/internal/config"
	"stepwise/internal/equation"
	"stepwise/internal/explain"
	"stepwise/internal/mangle"
	"stepwise/internal/pipeline"
	"stepwise/internal/reconstruct"
	"stepwise/internal/solver"
	"stepwise/internal/solver/clingo"
)

// newEngine returns the engine named in the configuration.
func newEngine(cfg *config.Config) (solver.Engine, error) {
	switch cfg.Engine.Name {
	case clingo.Name:
		return clingo.New(cfg.Engine.Clingo), nil
	case mangle.Name:
		return mangle.NewEngine(cfg.Engine.Mangle), nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Name)
}

// newPipeline wires the engine, schema, templates and resolvers from cfg.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	schema, err := cfg.Schema.Build()
	if err != nil {
		return nil, err
	}
	lib, err := explain.LoadLibrary(cfg.Templates)
	if err != nil {
		return nil, err
	}
	logger.Debug("templates loaded", zap.String("path", cfg.Templates), zap.Int("count", lib.Len()))

	opts := pipeline.Options{
		Engine:         engine,
		Library:        lib,
		Schema:         schema,
		CandidateLimit: cfg.Explain.CandidateLimit,
		Concurrency:    cfg.Pipeline.Concurrency,
		Retry:          pipeline.RetryPolicy{Retries: cfg.Pipeline.Retries, Backoff: cfg.RetryBackoff()},
		Timeout:        cfg.EngineTimeout(),
		MaxModels:      cfg.Engine.MaxModels,
		Constants:      cfg.Engine.Constants,
	}
	if cfg.Schema.Trees {
		opts.Resolvers = []reconstruct.StateResolver{equation.NewResolver(cfg.Schema.Layout)}
	}
	if cfg.Explain.Distance {
		opts.Distance = equation.Distance
	}
	return pipeline.New(opts)
}
