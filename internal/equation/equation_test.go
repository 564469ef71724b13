package equation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepwise/internal/model"
	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
)

func TestRender(t *testing.T) {
	x := Mono(1, 1)
	one := Mono(1, 0)
	sum := &Expr{Kind: KindAdd, Children: []*Expr{x, one}}
	tests := []struct {
		name string
		expr *Expr
		want string
	}{
		{"polynomial", &Expr{Kind: KindAdd, Children: []*Expr{Mono(3, 2), Mono(4, 0)}}, "3x^2 + 4"},
		{"zero coefficient", Mono(0, 3), "0"},
		{"unit coefficient", Mono(1, 2), "x^2"},
		{"negative unit", Mono(-1, 2), "-x^2"},
		{"fraction", &Expr{Kind: KindDiv, Children: []*Expr{sum, Mono(2, 0)}}, "(x + 1)/2"},
		{"negated sum", &Expr{Kind: KindNeg, Children: []*Expr{sum}}, "-(x + 1)"},
		{"negated monomial", &Expr{Kind: KindNeg, Children: []*Expr{x}}, "-x"},
		{"product", &Expr{Kind: KindMul, Children: []*Expr{Mono(2, 0), sum}}, "2*(x + 1)"},
		{"subtraction", &Expr{Kind: KindAdd, Children: []*Expr{x, {Kind: KindNeg, Children: []*Expr{Mono(3, 0)}}}}, "x - 3"},
		{"negative term", &Expr{Kind: KindAdd, Children: []*Expr{x, Mono(-3, 0)}}, "x - 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.String())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, src := range []string{
		"3x^2 + 4 = 0",
		"x - 3 = 5",
		"(x + 1)/2 = 3",
		"2*(x + 1) = -(x + 1)",
		"-x^2 = 4",
		"y^3 + 2y = 0",
	} {
		q, err := Parse(src)
		require.NoError(t, err, src)
		assert.Equal(t, src, q.String())
	}

	q, err := Parse("x+2=5")
	require.NoError(t, err)
	assert.Equal(t, "x + 2 = 5", q.String())

	q, err = Parse("2(x+1)=4")
	require.NoError(t, err)
	assert.Equal(t, KindMul, q.Left.Kind)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"x + = 3":  `unexpected '='`,
		"x = 3 )":  `unexpected ")"`,
		"3x":       "expected '='",
		"(x = 3":   "expected ')'",
		"x^ = 1":   "expected an exponent",
		"x = ":     "unexpected end",
		"x = 3 = 4": `unexpected "= 4"`,
	}
	for src, want := range tests {
		_, err := Parse(src)
		var se *SyntaxError
		if assert.ErrorAs(t, err, &se, src) {
			assert.Contains(t, se.Error(), want, src)
		}
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"x=3", "x=3", 0},
		{"x+2=5", "x=3", 2},
		{"3x^2 + 4 = 0", "x^2 + 4x + 6 = 2", 4},
		{"2x = 6", "x = 3", 2},
		{"0x = 1", "0x^2 = 1", 0},
	}
	for _, tt := range tests {
		got, err := Distance(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
		back, err := Distance(tt.b, tt.a)
		require.NoError(t, err)
		assert.Equal(t, got, back, "distance must be symmetric")
	}

	_, err := Distance("x+", "x=1")
	assert.Error(t, err)
}

const trees = `
root(0, lhs, n1). root(0, rhs, n4).
node(n1, type, add). node(n1, child, n2). node(n1, child, n3).
node(n2, type, mono). node(n2, coeff, 3). node(n2, degree, 2).
node(n3, type, mono). node(n3, coeff, 4). node(n3, degree, 0).
node(n4, type, mono). node(n4, coeff, 0).
root(1, lhs, m1). root(1, rhs, m3).
node(m1, type, div). node(m1, numer, m2). node(m1, denom, m3).
node(m2, type, mono). node(m2, coeff, 1). node(m2, degree, 1).
node(m3, type, mono). node(m3, coeff, 2). node(m3, degree, 0).
`

func modelOf(t *testing.T, src string) (*program.Program, *model.Manager, *model.Model) {
	t.Helper()
	prog, err := program.Compile(src)
	require.NoError(t, err)
	mgr := model.NewManager()
	id, err := mgr.AddModel(prog.Facts())
	require.NoError(t, err)
	m, err := mgr.Model(id)
	require.NoError(t, err)
	return prog, mgr, m
}

func TestResolver(t *testing.T) {
	_, _, m := modelOf(t, trees)
	r := NewResolver(Layout{})

	text, ok := r.StateText(m, program.Int(0))
	require.True(t, ok)
	assert.Equal(t, "3x^2 + 4 = 0", text)

	text, ok = r.StateText(m, program.Int(1))
	require.True(t, ok)
	assert.Equal(t, "x/2 = 2", text)

	_, ok = r.StateText(m, program.Int(7))
	assert.False(t, ok)
}

func TestResolverErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"missing root", "root(0, lhs, a). node(a, type, mono). node(a, coeff, 1).", "no lhs and rhs roots"},
		{"missing node", "root(0, lhs, a). root(0, rhs, b). node(a, type, mono). node(a, coeff, 1).", "node b has no fields"},
		{"untyped node", "root(0, lhs, a). root(0, rhs, a). node(a, coeff, 1).", "has no type"},
		{"unknown type", "root(0, lhs, a). root(0, rhs, a). node(a, type, pow).", "unknown type pow"},
		{"cycle", "root(0, lhs, a). root(0, rhs, a). node(a, type, neg). node(a, child, a).", "contains itself"},
		{"bad fraction", "root(0, lhs, a). root(0, rhs, a). node(a, type, div). node(a, numer, a).", "needs numer and denom"},
		{"symbolic coeff", "root(0, lhs, a). root(0, rhs, a). node(a, type, mono). node(a, coeff, two).", "not an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, m := modelOf(t, tt.src)
			_, err := NewResolver(DefaultLayout()).Equation(m, program.Int(0))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolverFeedsReconstruction(t *testing.T) {
	src := strings.Join([]string{
		"root(0, lhs, a1). root(0, rhs, a2).",
		"node(a1, type, mono). node(a1, coeff, 2). node(a1, degree, 1).",
		"node(a2, type, mono). node(a2, coeff, 6).",
		"root(1, lhs, b1). root(1, rhs, b2).",
		"node(b1, type, mono). node(b1, coeff, 1). node(b1, degree, 1).",
		"node(b2, type, mono). node(b2, coeff, 3).",
		"step(1, 0, 1, divide_both_sides).",
	}, "\n")
	prog, mgr, m := modelOf(t, src)
	r, err := reconstruct.New(mgr, prog, reconstruct.DefaultSchema(), reconstruct.WithResolver(NewResolver(DefaultLayout())))
	require.NoError(t, err)

	nodes, err := r.Reconstruct(m.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "2x = 6", nodes[0].Before.Text)
	assert.Equal(t, "x = 3", nodes[0].After.Text)

	d, err := Distance(nodes[0].Before.Text, nodes[0].After.Text)
	require.NoError(t, err)
	assert.Equal(t, 2, d)
}
