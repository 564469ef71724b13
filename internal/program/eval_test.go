package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTerm(t *testing.T, src string) Term {
	t.Helper()
	term, err := ParseTerm(src)
	require.NoError(t, err, src)
	return term
}

func TestEval(t *testing.T) {
	b := Bindings{"X": Int(7), "Y": Int(2), "S": Sym("a")}
	tests := []struct {
		src  string
		want Term
	}{
		{"X + Y * 3", Int(13)},
		{"X / Y", Int(3)},
		{`X \ Y`, Int(1)},
		{"Y ** 3", Int(8)},
		{"-(X - 10)", Int(3)},
		{"f(X + 1, S)", Compound{Functor: "f", Args: []Term{Int(8), Sym("a")}}},
		{`"lit"`, Str("lit")},
	}
	for _, tt := range tests {
		got, err := Eval(mustTerm(t, tt.src), b)
		require.NoError(t, err, tt.src)
		assert.Equal(t, tt.want, got, tt.src)
	}
}

func TestEvalLargeExponent(t *testing.T) {
	tests := []struct {
		base, exp, want Int
	}{
		{1, 1 << 40, 1},
		{-1, 1<<40 + 1, -1},
		{-1, 1 << 40, 1},
		{0, 1 << 40, 0},
		{0, 0, 1},
		{2, 62, 1 << 62},
		{2, 1 << 40, 0},
		{3, 5, 243},
		{-2, 3, -8},
	}
	for _, tt := range tests {
		got, err := Eval(Expr{Op: "**", Left: tt.base, Right: tt.exp}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%d ** %d", tt.base, tt.exp)
	}
}

func TestEvalErrors(t *testing.T) {
	_, err := Eval(mustTerm(t, "X + 1"), nil)
	assert.ErrorIs(t, err, ErrUnbound)

	_, err = Eval(mustTerm(t, "4 / (2 - 2)"), nil)
	assert.ErrorContains(t, err, "division by zero")

	_, err = Eval(mustTerm(t, "a + 1"), nil)
	assert.ErrorContains(t, err, "non-integer")
}

func TestCompare(t *testing.T) {
	tests := []struct {
		l, r string
		op   CompareOp
		want bool
	}{
		{"1 + 1", "2", OpEq, true},
		{"3", "2", OpGt, true},
		{"a", "b", OpLt, true},
		{"100", "a", OpLt, true},
		{"a", `"a"`, OpNe, true},
		{`"z"`, "f(1)", OpLt, true},
		{"f(2)", "g(1)", OpLt, true},
		{"f(1, 2)", "g(1)", OpGt, true},
		{"2", "2", OpGe, true},
		{"2", "3", OpLe, true},
	}
	for _, tt := range tests {
		got, err := Compare(mustTerm(t, tt.l), tt.op, mustTerm(t, tt.r), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s %s", tt.l, tt.op, tt.r)
	}
}

func TestMatchAtom(t *testing.T) {
	head, err := ParseAtom(`step(I + 1, eq(A, _), S, op)`)
	require.NoError(t, err)
	ground, err := ParseAtom(`step(2, eq(1, "x+2=5"), eq(2, "x=3"), op)`)
	require.NoError(t, err)

	b, deferred, ok := MatchAtom(head, ground, nil)
	require.True(t, ok)
	assert.Equal(t, Int(1), b["A"])
	assert.Equal(t, `eq(2,"x=3")`, b["S"].String())
	require.Len(t, deferred, 1, "I + 1 cannot be inverted")

	b["I"] = Int(1)
	v, err := Eval(deferred[0][0], b)
	require.NoError(t, err)
	assert.True(t, Equal(v, deferred[0][1]))

	_, _, ok = MatchAtom(head, Atom{Predicate: "step", Args: ground.Args[:3]}, nil)
	assert.False(t, ok)

	other, err := ParseAtom(`step(2, eq(1, "y"), eq(2, "x=3"), other)`)
	require.NoError(t, err)
	_, _, ok = MatchAtom(head, other, nil)
	assert.False(t, ok)
}

func TestMatchBoundVariable(t *testing.T) {
	pattern, err := ParseAtom(`pair(X, X)`)
	require.NoError(t, err)
	same, err := ParseAtom(`pair(1, 1)`)
	require.NoError(t, err)
	diff, err := ParseAtom(`pair(1, 2)`)
	require.NoError(t, err)

	_, _, ok := MatchAtom(pattern, same, nil)
	assert.True(t, ok)
	_, _, ok = MatchAtom(pattern, diff, nil)
	assert.False(t, ok)

	start := Bindings{"X": Int(1)}
	b, _, ok := MatchAtom(pattern, same, start)
	require.True(t, ok)
	b["Y"] = Int(9)
	assert.NotContains(t, start, Var("Y"), "input bindings are not modified")
}

func TestGroundAtom(t *testing.T) {
	a, err := ParseAtom(`next(I + 1, S)`)
	require.NoError(t, err)
	g, err := GroundAtom(a, Bindings{"I": Int(1), "S": Sym("s")})
	require.NoError(t, err)
	assert.Equal(t, "next(2,s)", g.String())

	_, err = GroundAtom(a, Bindings{"I": Int(1)})
	assert.ErrorIs(t, err, ErrUnbound)
}
