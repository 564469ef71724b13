// Package clingo runs the clingo answer set solver as a subprocess.
package clingo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"stepwise/internal/logging"
	"stepwise/internal/program"
	"stepwise/internal/solver"
)

// Name is the engine name reported in errors and logs.
const Name = "clingo"

// Exit codes clingo uses for a completed search.
const (
	exitSat       = 10
	exitUnsat     = 20
	exitExhausted = 30
)

// Config configures the subprocess.
type Config struct {
	// Path of the clingo binary; looked up on PATH when empty.
	Path string `yaml:"path" json:"path"`
	// Args are extra command line arguments.
	Args []string `yaml:"args" json:"args"`
	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes"`
}

// DefaultMaxOutputBytes is used when Config.MaxOutputBytes is not set.
const DefaultMaxOutputBytes = 64 << 20

// Engine is a solver.Engine backed by clingo.
type Engine struct {
	cfg Config
}

// New creates a clingo engine.
func New(cfg Config) *Engine {
	if cfg.Path == "" {
		cfg.Path = "clingo"
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Engine{cfg: cfg}
}

// Name implements solver.Engine.
func (e *Engine) Name() string { return Name }

// Args returns the command line for req, without the binary.
func (e *Engine) Args(req solver.Request) ([]string, error) {
	names, _, err := req.ConstantTerms()
	if err != nil {
		return nil, err
	}
	args := []string{"--outf=2", "-n", strconv.Itoa(max(req.MaxModels, 0))}
	for _, name := range names {
		args = append(args, "-c", name+"="+req.Constants[name])
	}
	return append(args, e.cfg.Args...), nil
}

// Solve runs clingo with the program on stdin and parses its JSON output.
func (e *Engine) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	log := logging.Get(logging.CategoryEngine)
	args, err := e.Args(req)
	if err != nil {
		return nil, &solver.EngineFailureError{Engine: Name, Reason: "invalid request", Err: err}
	}

	ctx, cancel := solver.WithTimeout(ctx, req.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Path, args...)
	cmd.Stdin = strings.NewReader(req.Source())
	var stdout, stderr bytes.Buffer
	out := &limitedWriter{w: &stdout, max: e.cfg.MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = &limitedWriter{w: &stderr, max: e.cfg.MaxOutputBytes}

	log.Debug("running %s %s", e.cfg.Path, strings.Join(args, " "))
	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	res, err := e.result(ctx, runErr, stdout.Bytes(), stderr.String(), req.Timeout)
	if err == nil && out.truncated {
		err = &solver.EngineFailureError{Engine: Name, Reason: fmt.Sprintf("output exceeded %d bytes", e.cfg.MaxOutputBytes)}
		res = nil
	}
	logging.Audit().Solved(Name, countModels(res), dur, err, solver.IsTimeout(err))
	if err != nil {
		log.Warn("clingo failed after %s: %v", dur, err)
		return nil, err
	}
	res.Duration = dur
	log.Info("clingo returned %d models in %s (unsat=%v)", len(res.Models), dur, res.Unsatisfiable)
	return res, nil
}

func (e *Engine) result(ctx context.Context, runErr error, stdout []byte, stderr string, timeout time.Duration) (*solver.Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &solver.EngineTimeoutError{Engine: Name, Timeout: timeout}
	}
	if ctx.Err() != nil {
		return nil, &solver.EngineFailureError{Engine: Name, Reason: "cancelled", Err: ctx.Err()}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &solver.EngineFailureError{Engine: Name, Reason: "could not start", Err: runErr}
		}
		switch exitErr.ExitCode() {
		case exitSat, exitUnsat, exitExhausted:
		default:
			return nil, &solver.EngineFailureError{
				Engine: Name,
				Reason: fmt.Sprintf("exit code %d", exitErr.ExitCode()),
				Stderr: stderr,
			}
		}
	}
	res, err := ParseOutput(stdout)
	if err != nil {
		return nil, &solver.EngineFailureError{Engine: Name, Reason: "unreadable output", Stderr: stderr, Err: err}
	}
	return res, nil
}

func countModels(r *solver.Result) int {
	if r == nil {
		return 0
	}
	return len(r.Models)
}

type output struct {
	Result string `json:"Result"`
	Call   []struct {
		Witnesses []struct {
			Value []string `json:"Value"`
		} `json:"Witnesses"`
	} `json:"Call"`
}

// ParseOutput decodes clingo's --outf=2 document. Witnesses of all calls
// are returned in order.
func ParseOutput(data []byte) (*solver.Result, error) {
	var doc output
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode clingo output: %w", err)
	}
	res := &solver.Result{Unsatisfiable: doc.Result == "UNSATISFIABLE"}
	for _, call := range doc.Call {
		for i, w := range call.Witnesses {
			atoms := make([]program.Atom, 0, len(w.Value))
			for _, v := range w.Value {
				a, err := program.ParseAtom(v)
				if err != nil {
					return nil, fmt.Errorf("witness %d: atom %q: %w", i+1, v, err)
				}
				atoms = append(atoms, a)
			}
			res.Models = append(res.Models, atoms)
		}
	}
	return res, nil
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	if room := lw.max - lw.written; int64(n) > room {
		p = p[:room]
		lw.truncated = true
	}
	w, err := lw.w.Write(p)
	lw.written += int64(w)
	if err != nil {
		return w, err
	}
	return n, nil
}
