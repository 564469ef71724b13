package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stepwise/internal/explain"
	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
	"stepwise/internal/solver"
)

// fakeEngine returns canned models and fails the first timeouts calls.
type fakeEngine struct {
	mu       sync.Mutex
	models   [][]program.Atom
	unsat    bool
	timeouts int
	err      error
	calls    int
	last     solver.Request
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Solve(ctx context.Context, req solver.Request) (*solver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.calls <= f.timeouts {
		return nil, &solver.EngineTimeoutError{Engine: "fake", Timeout: req.Timeout}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &solver.Result{Models: f.models, Unsatisfiable: f.unsat}, nil
}

const scenario = `
fact(eq(1, "x+2=5")).
operand(1, 2).
step(1, eq(1, T), eq(2, "x=3"), subtract_both_sides) :- fact(eq(1, T)), operand(1, A), A > 0.
`

const templates = `
templates:
  - name: subtract
    trigger: {predicate: step, arity: 4, guards: [{arg: "3", equals: subtract_both_sides}]}
    references: [{name: amount, path: [{predicate: operand, arity: 2, join: {"0": "0"}}]}]
    sentences: ["Subtract {ref.amount.1} from both sides: {before} becomes {after}"]
`

func atoms(t *testing.T, texts ...string) []program.Atom {
	t.Helper()
	out := make([]program.Atom, len(texts))
	for i, s := range texts {
		a, err := program.ParseAtom(s)
		require.NoError(t, err, s)
		out[i] = a
	}
	return out
}

func solvedModel(t *testing.T) []program.Atom {
	return atoms(t,
		`fact(eq(1,"x+2=5"))`,
		`operand(1,2)`,
		`step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`,
		`solved(2)`,
	)
}

func newPipeline(t *testing.T, engine solver.Engine, mutate ...func(*Options)) *Pipeline {
	t.Helper()
	lib, err := explain.ParseLibrary([]byte(templates))
	require.NoError(t, err)
	opts := Options{Engine: engine, Library: lib, Schema: reconstruct.DefaultSchema(), Concurrency: 2}
	for _, m := range mutate {
		m(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestNewRequiresEngineAndLibrary(t *testing.T) {
	lib, err := explain.ParseLibrary([]byte(templates))
	require.NoError(t, err)

	_, err = New(Options{Library: lib, Schema: reconstruct.DefaultSchema()})
	assert.ErrorContains(t, err, "no engine")
	_, err = New(Options{Engine: &fakeEngine{}, Schema: reconstruct.DefaultSchema()})
	assert.ErrorContains(t, err, "no template library")

	bad := reconstruct.DefaultSchema()
	bad.Operation = 7
	_, err = New(Options{Engine: &fakeEngine{}, Library: lib, Schema: bad})
	assert.Error(t, err)
}

func TestRunExplainsScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{models: [][]program.Atom{solvedModel(t)}}
	p := newPipeline(t, engine, func(o *Options) {
		o.Timeout = 5 * time.Second
		o.Constants = map[string]string{"limit": "3"}
	})

	rep, err := p.Run(context.Background(), "algebra.lp", scenario, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "fake", rep.Engine)
	assert.False(t, rep.Unsatisfiable)
	require.Len(t, rep.Models, 1)

	m := rep.Models[0]
	require.NoError(t, m.Err)
	require.Len(t, m.Steps, 1)
	assert.Equal(t, []string{"Subtract 2 from both sides: x+2=5 becomes x=3"}, m.Steps[0].Sentences)
	require.Len(t, m.Nodes, 1)
	assert.Equal(t, "x+2=5", m.Nodes[0].Before.Text)
	assert.Equal(t, 0, rep.Failed())

	assert.Equal(t, 5*time.Second, engine.last.Timeout)
	assert.Equal(t, "3", engine.last.Constants["limit"])
}

func TestRunStopsOnInvalidProgram(t *testing.T) {
	engine := &fakeEngine{}
	p := newPipeline(t, engine)

	_, err := p.Run(context.Background(), "bad.lp", "p(X) :- not q(X).", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.lp")
	assert.Zero(t, engine.calls, "engine must not run for an invalid program")
}

func TestRunUnsatisfiable(t *testing.T) {
	p := newPipeline(t, &fakeEngine{unsat: true})
	rep, err := p.Run(context.Background(), "unsat.lp", scenario, nil)
	require.NoError(t, err)
	assert.True(t, rep.Unsatisfiable)
	assert.Empty(t, rep.Models)
}

func TestRunEngineFailure(t *testing.T) {
	boom := &solver.EngineFailureError{Engine: "fake", Reason: "exit status 1"}
	p := newPipeline(t, &fakeEngine{err: boom})
	_, err := p.Run(context.Background(), "x.lp", scenario, nil)
	var fe *solver.EngineFailureError
	assert.ErrorAs(t, err, &fe)
}

func TestOrderingFailureComesBeforeTemplateLookup(t *testing.T) {
	prog, err := program.Compile(scenario)
	require.NoError(t, err)

	// Two steps with the same index and no template for "divide_both_sides".
	broken := atoms(t,
		`step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`,
		`step(1,eq(1,"x+2=5"),eq(3,"x=1"),divide_both_sides)`,
	)
	p := newPipeline(t, &fakeEngine{})
	reports, err := p.Explain(context.Background(), prog, [][]program.Atom{broken})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	var oe *reconstruct.OrderingError
	require.ErrorAs(t, reports[0].Err, &oe)
	assert.Contains(t, oe.Reason, "duplicate step index 1")
	assert.Empty(t, reports[0].Steps)
}

func TestPerModelErrorsAreIsolated(t *testing.T) {
	prog, err := program.Compile(scenario)
	require.NoError(t, err)

	noTemplate := atoms(t,
		`fact(eq(1,"x+2=5"))`,
		`step(1,eq(1,"x+2=5"),eq(2,"x=3"),divide_both_sides)`,
	)
	nonGround := []program.Atom{{Predicate: "p", Args: []program.Term{program.Var("X")}}}
	models := [][]program.Atom{solvedModel(t), noTemplate, nonGround, solvedModel(t)}

	p := newPipeline(t, &fakeEngine{})
	reports, err := p.Explain(context.Background(), prog, models)
	require.NoError(t, err)
	require.Len(t, reports, 4)

	assert.NoError(t, reports[0].Err)
	var nt *explain.NoTemplateMatchError
	assert.ErrorAs(t, reports[1].Err, &nt)
	assert.Len(t, reports[1].Nodes, 1, "nodes survive a rendering failure")
	assert.Error(t, reports[2].Err)
	assert.NoError(t, reports[3].Err)
	assert.Equal(t, reports[0].Steps, reports[3].Steps)
}

func TestExplainCancelled(t *testing.T) {
	prog, err := program.Compile(scenario)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(t, &fakeEngine{})
	_, err = p.Explain(ctx, prog, [][]program.Atom{solvedModel(t)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveRetriesTimeouts(t *testing.T) {
	before := testutil.ToFloat64(engineRetries.WithLabelValues("fake"))

	engine := &fakeEngine{timeouts: 2, models: [][]program.Atom{solvedModel(t)}}
	p := newPipeline(t, engine, func(o *Options) {
		o.Retry = RetryPolicy{Retries: 2, Backoff: time.Millisecond}
	})
	prog, err := program.Compile(scenario)
	require.NoError(t, err)

	res, err := p.Solve(context.Background(), prog, nil)
	require.NoError(t, err)
	assert.Len(t, res.Models, 1)
	assert.Equal(t, 3, engine.calls)
	assert.Equal(t, before+2, testutil.ToFloat64(engineRetries.WithLabelValues("fake")))
}

func TestSolveGivesUpAfterRetries(t *testing.T) {
	engine := &fakeEngine{timeouts: 5}
	p := newPipeline(t, engine, func(o *Options) { o.Retry = RetryPolicy{Retries: 1} })
	prog, err := program.Compile(scenario)
	require.NoError(t, err)

	_, err = p.Solve(context.Background(), prog, nil)
	assert.True(t, solver.IsTimeout(err))
	assert.Equal(t, 2, engine.calls)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{Retries: 3}.Do(context.Background(), func(int) error {
			calls++
			return errors.New("bad program")
		})
		assert.EqualError(t, err, "bad program")
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation interrupts backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryPolicy{Retries: 3, Backoff: time.Hour}.Do(ctx, func(int) error {
			calls++
			cancel()
			return &solver.EngineTimeoutError{Engine: "fake"}
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempts are numbered", func(t *testing.T) {
		var seen []int
		_ = RetryPolicy{Retries: 2}.Do(context.Background(), func(attempt int) error {
			seen = append(seen, attempt)
			return &solver.EngineTimeoutError{Engine: "fake"}
		})
		assert.Equal(t, []int{0, 1, 2}, seen)
	})
}

func TestReportArchiveAndSolutions(t *testing.T) {
	p := newPipeline(t, &fakeEngine{models: [][]program.Atom{solvedModel(t), atoms(t, `solved(1)`)}})
	rep, err := p.Run(context.Background(), "algebra.lp", scenario, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed())

	run := rep.Archive()
	assert.Equal(t, rep.RunID, run.ID)
	assert.Equal(t, "algebra.lp", run.Source)
	require.Len(t, run.Models, 2)
	assert.Contains(t, run.Models[0].Atoms, `operand(1,2)`)
	require.Len(t, run.Models[0].Steps, 1)
	assert.Equal(t, "subtract", run.Models[0].Steps[0].Template)
	assert.Empty(t, run.Models[0].Error)
	assert.Contains(t, run.Models[1].Error, "cannot order steps")

	sols := rep.Solutions()
	require.Len(t, sols, 1)
	assert.Equal(t, "x+2=5", sols[0].Problem)
	assert.Equal(t, []string{"subtract_both_sides"}, sols[0].Operations)
}
