package reconstruct

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepwise/internal/model"
	"stepwise/internal/program"
)

func setup(t *testing.T, src string, modelAtoms ...string) (*Reconstructor, model.ID) {
	t.Helper()
	prog, err := program.Compile(src)
	require.NoError(t, err)

	atoms := make([]program.Atom, len(modelAtoms))
	for i, s := range modelAtoms {
		a, err := program.ParseAtom(s)
		require.NoError(t, err, s)
		atoms[i] = a
	}
	mgr := model.NewManager()
	id, err := mgr.AddModel(atoms)
	require.NoError(t, err)

	r, err := New(mgr, prog, DefaultSchema())
	require.NoError(t, err)
	return r, id
}

func texts(atoms []program.Atom) []string {
	out := make([]string, len(atoms))
	for i, a := range atoms {
		out[i] = a.String()
	}
	return out
}

const scenario = `
fact(eq(1, "x+2=5")).
step(1, eq(1, T), eq(2, "x=3"), subtract_both_sides) :- fact(eq(1, T)).
`

func TestSingleStepScenario(t *testing.T) {
	r, id := setup(t, scenario,
		`fact(eq(1,"x+2=5"))`,
		`step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`,
		`solved(2)`,
	)

	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	n := nodes[0]
	assert.Equal(t, 1, n.Index)
	assert.Equal(t, "x+2=5", n.Before.Text)
	assert.Equal(t, "x=3", n.After.Text)
	assert.Equal(t, program.Int(1), n.Before.ID)
	assert.Equal(t, program.Int(2), n.After.ID)
	assert.Equal(t, program.Sym("subtract_both_sides"), n.Operation)
	assert.Equal(t, -1, n.Predecessor)
	assert.Equal(t, []string{`fact(eq(1,"x+2=5"))`}, texts(n.Supporting))
	assert.True(t, strings.HasPrefix(n.Rule, "step(1,eq(1,T)"), n.Rule)
}

const multi = `
eq(1, "2x+4=10"). eq(2, "2x=6"). eq(3, "x=3").
op(1, subtract_both_sides). op(2, divide_both_sides).
amount(1, 4). amount(1, 2). amount(2, 2).
step(I, S, T, O) :- eq(S, _), eq(T, _), T = S + 1, I = S, op(I, O), amount(I, A), A > 0, not blocked(I).
blocked(9).
`

var multiModel = []string{
	`eq(1,"2x+4=10")`, `eq(2,"2x=6")`, `eq(3,"x=3")`,
	`op(1,subtract_both_sides)`, `op(2,divide_both_sides)`,
	`amount(1,4)`, `amount(1,2)`, `amount(2,2)`, `blocked(9)`,
	`step(2,2,3,divide_both_sides)`, `step(1,1,2,subtract_both_sides)`,
	`solved(3)`,
}

func TestMultiStepChain(t *testing.T) {
	r, id := setup(t, multi, multiModel...)

	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, []int{1, 2}, []int{nodes[0].Index, nodes[1].Index})
	assert.Equal(t, "2x+4=10", nodes[0].Before.Text)
	assert.Equal(t, "2x=6", nodes[0].After.Text)
	assert.Equal(t, "x=3", nodes[1].After.Text)
	assert.Equal(t, 0, nodes[1].Predecessor)
	require.NotNil(t, nodes[1].After.Atom)
	assert.Equal(t, `eq(3,"x=3")`, nodes[1].After.Atom.String())

	// amount(1,2) sorts before amount(1,4), so that instantiation wins.
	assert.Equal(t, []string{
		`amount(1,2)`, `eq(1,"2x+4=10")`, `eq(2,"2x=6")`, `op(1,subtract_both_sides)`,
	}, texts(nodes[0].Supporting))
}

func TestNegationBlocksJustification(t *testing.T) {
	src := strings.Replace(multi, "blocked(9).", "blocked(2).", 1)
	atoms := append([]string{}, multiModel...)
	for i, a := range atoms {
		if a == "blocked(9)" {
			atoms[i] = "blocked(2)"
		}
	}
	r, id := setup(t, src, atoms...)

	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	assert.NotEmpty(t, nodes[0].Supporting)
	assert.Empty(t, nodes[1].Supporting, "step 2 has no instantiation once blocked(2) holds")
	assert.Empty(t, nodes[1].Rule)
}

func TestJustificationJoinsBindingLiteralFirst(t *testing.T) {
	for name, body := range map[string]string{
		"arithmetic first": "go(J + 1), idx(J)",
		"binding first":    "idx(J), go(J + 1)",
	} {
		t.Run(name, func(t *testing.T) {
			src := `step(1, eq(1, "a"), eq(2, "b"), op) :- ` + body + ".\n"
			r, id := setup(t, src, `go(2)`, `idx(1)`, `step(1,eq(1,"a"),eq(2,"b"),op)`)

			nodes, err := r.Reconstruct(id)
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, []string{`go(2)`, `idx(1)`}, texts(nodes[0].Supporting))
			assert.NotEmpty(t, nodes[0].Rule)
		})
	}
}

func TestDeterminism(t *testing.T) {
	r, id := setup(t, multi, multiModel...)

	first, err := r.Reconstruct(id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Reconstruct(id)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("reconstruction changed (-first +again):\n%s", diff)
		}
		assert.Equal(t, fmt.Sprintf("%+v", first), fmt.Sprintf("%+v", again))
	}
}

func TestAggregateJustification(t *testing.T) {
	src := `
amount(1, 4). amount(1, 2).
eq(1, "a"). eq(2, "b").
step(I, I, J, split) :- eq(I, _), eq(J, _), J = I + 1, #count{ A : amount(I, A) } >= 2.
`
	r, id := setup(t, src, `amount(1,4)`, `amount(1,2)`, `eq(1,"a")`, `eq(2,"b")`, `step(1,1,2,split)`)
	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	assert.Equal(t, []string{`eq(1,"a")`, `eq(2,"b")`}, texts(nodes[0].Supporting))

	src = strings.Replace(src, ">= 2", ">= 3", 1)
	r, id = setup(t, src, `amount(1,4)`, `amount(1,2)`, `eq(1,"a")`, `eq(2,"b")`, `step(1,1,2,split)`)
	nodes, err = r.Reconstruct(id)
	require.NoError(t, err)
	assert.Empty(t, nodes[0].Supporting)
}

func TestFactAndChoiceJustification(t *testing.T) {
	src := `
step(1, eq(1, "a"), eq(2, "b"), rewrite).
move(eq(2, "b"), eq(3, "c"), flip).
{ step(2, S, T, O) : move(S, T, O) }.
`
	r, id := setup(t, src,
		`step(1,eq(1,"a"),eq(2,"b"),rewrite)`,
		`move(eq(2,"b"),eq(3,"c"),flip)`,
		`step(2,eq(2,"b"),eq(3,"c"),flip)`,
	)
	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Empty(t, nodes[0].Supporting)
	assert.Equal(t, `step(1,eq(1,"a"),eq(2,"b"),rewrite).`, nodes[0].Rule)
	assert.Equal(t, []string{`move(eq(2,"b"),eq(3,"c"),flip)`}, texts(nodes[1].Supporting))
}

func TestOrderingErrors(t *testing.T) {
	tests := []struct {
		name   string
		atoms  []string
		reason string
	}{
		{"no steps", []string{`eq(1,"a")`, `solved(1)`}, "no step/4 atoms"},
		{"non integer index", []string{`step(a,eq(1,"a"),eq(2,"b"),op)`}, "not an integer"},
		{"duplicate index", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `step(1,eq(2,"b"),eq(3,"c"),op)`,
		}, "duplicate step index 1"},
		{"gap", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `step(3,eq(2,"b"),eq(3,"c"),op)`,
		}, "not contiguous"},
		{"broken chain", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `step(2,eq(3,"c"),eq(4,"d"),op)`,
		}, "starts from 3"},
		{"cycle", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `step(2,eq(2,"b"),eq(1,"a"),op)`,
		}, "terminal state 1 already occurs"},
		{"wrong terminal marker", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `solved(1)`,
		}, "does not name the final state"},
		{"two terminal markers", []string{
			`step(1,eq(1,"a"),eq(2,"b"),op)`, `solved(2)`, `solved(3)`,
		}, "2 terminal states"},
		{"undefined state", []string{`step(1,7,8,op)`}, "state 7 is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, id := setup(t, scenario, tt.atoms...)
			nodes, err := r.Reconstruct(id)
			assert.Nil(t, nodes, "no partial sequence")
			var oe *OrderingError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, string(id), oe.Model)
			assert.Contains(t, oe.Reason, tt.reason)
		})
	}
}

func TestUnknownModel(t *testing.T) {
	r, _ := setup(t, scenario, `solved(2)`)
	_, err := r.Reconstruct("missing")
	var unknown *model.UnknownModelError
	assert.ErrorAs(t, err, &unknown)
}

type fixedResolver map[string]string

func (f fixedResolver) StateText(_ *model.Model, id program.Term) (string, bool) {
	s, ok := f[id.String()]
	return s, ok
}

func TestStateResolution(t *testing.T) {
	prog, err := program.Compile(`fact(eq(1, "x+2=5")).`)
	require.NoError(t, err)
	atoms := []program.Atom{}
	for _, s := range []string{`fact(eq(1,"x+2=5"))`, `step(1,1,2,subtract_both_sides)`} {
		a, err := program.ParseAtom(s)
		require.NoError(t, err)
		atoms = append(atoms, a)
	}
	mgr := model.NewManager()
	id, err := mgr.AddModel(atoms)
	require.NoError(t, err)

	r, err := New(mgr, prog, DefaultSchema(), WithResolver(fixedResolver{"2": "x=3"}), WithCandidateLimit(10))
	require.NoError(t, err)
	nodes, err := r.Reconstruct(id)
	require.NoError(t, err)
	assert.Equal(t, "x+2=5", nodes[0].Before.Text, "holder-wrapped state")
	assert.Equal(t, "x=3", nodes[0].After.Text, "resolver fallback")
	assert.Nil(t, nodes[0].After.Atom)
}

func TestSchemaValidate(t *testing.T) {
	assert.NoError(t, DefaultSchema().Validate())

	s := DefaultSchema()
	s.Operation = 4
	assert.ErrorContains(t, s.Validate(), "operation position 4")

	s = DefaultSchema()
	s.Holders = []program.PredicateKey{{Name: "fact", Arity: 2}}
	assert.ErrorContains(t, s.Validate(), "must be unary")

	s = DefaultSchema()
	s.Terminal = program.PredicateKey{}
	assert.NoError(t, s.Validate())

	_, err := New(model.NewManager(), &program.Program{}, Schema{})
	assert.Error(t, err)
}
