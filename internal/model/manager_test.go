package model

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepwise/internal/program"
)

func atoms(t *testing.T, srcs ...string) []program.Atom {
	t.Helper()
	out := make([]program.Atom, len(srcs))
	for i, s := range srcs {
		a, err := program.ParseAtom(s)
		require.NoError(t, err, s)
		out[i] = a
	}
	return out
}

func TestAddModelDeduplicates(t *testing.T) {
	mgr := NewManager()

	id1, err := mgr.AddModel(atoms(t, `eq(1,"x+2=5")`, `solved(2)`, `eq(2,"x=3")`))
	require.NoError(t, err)
	id2, err := mgr.AddModel(atoms(t, `eq(2,"x=3")`, `solved(2)`, `eq(1,"x+2=5")`, `solved(2)`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "set-equal models share an ID")
	assert.Len(t, string(id1), 16)

	id3, err := mgr.AddModel(atoms(t, `solved(1)`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, []ID{id1, id3}, mgr.AllModels())

	m, err := mgr.Model(id1)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, `eq(1,"x+2=5")`, m.Atoms[0].String())
}

func TestAddModelRejectsNonGround(t *testing.T) {
	mgr := NewManager()
	for _, src := range []string{`p(X)`, `p(f(_))`, `p(1 + 2)`} {
		_, err := mgr.AddModel(atoms(t, `q(1)`, src))
		var ng *NonGroundAtomError
		require.ErrorAs(t, err, &ng, src)
		assert.Equal(t, src, ng.Atom.String())
	}
	assert.Empty(t, mgr.AllModels())
}

func TestAtomsOf(t *testing.T) {
	mgr := NewManager()
	id, err := mgr.AddModel(atoms(t, `eq(2,"x=3")`, `eq(1,"x+2=5")`, `eq(1)`, `solved(2)`))
	require.NoError(t, err)

	got, err := mgr.AtomsOf(id, "eq", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, `eq(1,"x+2=5")`, got[0].String())
	assert.Equal(t, `eq(2,"x=3")`, got[1].String())

	got[0] = program.Atom{Predicate: "mutated"}
	again, err := mgr.AtomsOf(id, "eq", 2)
	require.NoError(t, err)
	assert.Equal(t, "eq", again[0].Predicate, "callers get a copy")

	none, err := mgr.AtomsOf(id, "step", 4)
	require.NoError(t, err)
	assert.Empty(t, none)

	m, err := mgr.Model(id)
	require.NoError(t, err)
	assert.Equal(t, []program.PredicateKey{{Name: "eq", Arity: 1}, {Name: "eq", Arity: 2}, {Name: "solved", Arity: 1}}, m.Predicates())
	assert.True(t, m.Contains(atoms(t, `solved(2)`)[0]))
	assert.False(t, m.Contains(atoms(t, `solved(3)`)[0]))
}

func TestUnknownModel(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.AtomsOf("nope", "eq", 2)
	var unknown *UnknownModelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, ID("nope"), unknown.ID)
	assert.True(t, IsUnknown(err))

	_, err = mgr.Match("nope", program.Atom{Predicate: "p"}, nil)
	assert.True(t, IsUnknown(err))
}

func TestMatch(t *testing.T) {
	mgr := NewManager()
	id, err := mgr.AddModel(atoms(t,
		`step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`,
		`step(2,eq(2,"x=3"),eq(3,"x=3"),simplify)`,
		`operand(subtract_both_sides,2)`,
	))
	require.NoError(t, err)

	pattern := atoms(t, `step(I,eq(A,_),S,Op)`)[0]
	all, err := mgr.Match(id, pattern, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, program.Int(1), all[0]["I"])
	assert.Equal(t, program.Sym("simplify"), all[1]["Op"])

	bound, err := mgr.Match(id, pattern, program.Bindings{"Op": program.Sym("subtract_both_sides")})
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, program.Int(1), bound[0]["A"])

	arith, err := mgr.Match(id, atoms(t, `step(N + 1,_,_,_)`)[0], program.Bindings{"N": program.Int(1)})
	require.NoError(t, err)
	assert.Len(t, arith, 1)

	unbound, err := mgr.Match(id, atoms(t, `step(N + 1,_,_,_)`)[0], nil)
	require.NoError(t, err)
	assert.Empty(t, unbound)
}

func TestConcurrentAdd(t *testing.T) {
	mgr := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.AddModel(atoms(t, fmt.Sprintf("n(%d)", i%5)))
			assert.NoError(t, err)
			_ = mgr.AllModels()
		}(i)
	}
	wg.Wait()
	assert.Len(t, mgr.AllModels(), 5)
}

func TestAddAll(t *testing.T) {
	mgr := NewManager()
	ids, err := mgr.AddAll([][]program.Atom{atoms(t, `a`), atoms(t, `b`), atoms(t, `p(X)`)})
	require.Error(t, err)
	assert.Len(t, ids, 2)
	assert.ErrorContains(t, err, "model 2")
}
