package syntax

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Declarations(t *testing.T) {
	src := `
fact(eq(1, "x+2=5")).
step(1, S, T, subtract_both_sides) :- fact(S), rewrite(S, T).
:- step(I, S, T, _), not valid(T).
1 { pick(X) : cand(X) } 1 :- ready.
{ flag }.
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Things, 5)

	fact, ok := prog.Things[0].Decl.(*Fact)
	require.True(t, ok, "first declaration is %T", prog.Things[0].Decl)
	assert.Equal(t, "fact", fact.Head.Name.Name)
	require.Len(t, fact.Head.Args.List, 1)
	inner, ok := fact.Head.Args.List[0].Expr.Leaf.(*Predicate)
	require.True(t, ok)
	assert.Equal(t, "eq", inner.Name.Name)

	rule, ok := prog.Things[1].Decl.(*Rule)
	require.True(t, ok)
	assert.Equal(t, "step", rule.Head.Name.Name)
	assert.Len(t, rule.Body.Elems, 2)

	con, ok := prog.Things[2].Decl.(*Constraint)
	require.True(t, ok)
	require.Len(t, con.Body.Elems, 2)
	neg, ok := con.Body.Elems[1].(*NegatedPredicate)
	require.True(t, ok)
	assert.Equal(t, "valid", neg.Pred.Name.Name)

	guess, ok := prog.Things[3].Decl.(*GuessRule)
	require.True(t, ok)
	require.NotNil(t, guess.Body)
	require.NotNil(t, guess.Head.Lower)
	require.NotNil(t, guess.Head.Upper)
	assert.Equal(t, "", guess.Head.LowerOp)
	require.Len(t, guess.Head.Elements, 1)
	assert.Len(t, guess.Head.Elements[0].Conditions, 1)

	bare, ok := prog.Things[4].Decl.(*GuessRule)
	require.True(t, ok)
	assert.Nil(t, bare.Body)
	assert.Nil(t, bare.Head.Lower)
}

func TestParse_CountAggregateInBody(t *testing.T) {
	prog, err := Parse(`many(S) :- state(S), N = #count{ X, Y : term(S, X, Y), X > 0 ; z : extra(S) }, N >= 2.`)
	require.NoError(t, err)

	rule := prog.Things[0].Decl.(*Rule)
	require.Len(t, rule.Body.Elems, 3)
	count, ok := rule.Body.Elems[1].(*PredicateCount)
	require.True(t, ok, "got %T", rule.Body.Elems[1])
	assert.True(t, count.Aggregate)
	assert.Equal(t, "=", count.LowerOp)
	require.Len(t, count.Elements, 2)
	assert.Len(t, count.Elements[0].Terms, 2)
	assert.Len(t, count.Elements[0].Conditions, 2)
	assert.IsType(t, &Comparator{}, count.Elements[0].Conditions[1])

	cmp, ok := rule.Body.Elems[2].(*Comparator)
	require.True(t, ok)
	assert.Equal(t, ">=", cmp.Op)
}

func TestParseExpr_Precedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"2 ** 3 ** 2", "(2 ** (3 ** 2))"},
		{"-X ** 2", "-(X ** 2)"},
		{"-X * 2", "(-X * 2)"},
		{"(1 + 2) * f(a, B)", "((1 + 2) * f(a,B))"},
		{`7 \ 2 / 1`, `((7 \ 2) / 1)`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := ParseExpr(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sexpr(e))
		})
	}
}

// sexpr prints an expression fully parenthesized.
func sexpr(e *MathExpr) string {
	switch {
	case e.Leaf != nil:
		switch leaf := e.Leaf.(type) {
		case *Atom:
			return leaf.Tok.Text
		case *Predicate:
			s := leaf.Name.Name + "("
			for i, a := range leaf.Args.List {
				if i > 0 {
					s += ","
				}
				s += sexpr(a.Expr)
			}
			return s + ")"
		}
	case e.Unary:
		return "-" + sexpr(e.Left)
	}
	return "(" + sexpr(e.Left) + " " + e.Op + " " + sexpr(e.Right) + ")"
}

func TestParseAtom(t *testing.T) {
	pred, err := ParseAtom(`step(1,eq(1,"x+2=5"),eq(2,"x=3"),subtract_both_sides)`)
	require.NoError(t, err)
	assert.Equal(t, "step", pred.Name.Name)
	assert.Len(t, pred.Args.List, 4)

	pred, err = ParseAtom("solved.")
	require.NoError(t, err)
	assert.Nil(t, pred.Args)

	_, err = ParseAtom("p(1) q")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "end of atom", perr.Expected)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
		found    Kind
		line     int
	}{
		{"missing period", "p(a)\nq(b).", "'.' or ':-'", Ident, 2},
		{"empty body", "p :- .", "term", Period, 1},
		{"unclosed args", "p(a, b.", "')'", Period, 1},
		{"headless junk", "p. 42.", "fact, rule, constraint or guess rule", Int, 1},
		{"arithmetic literal", "p :- X + 1.", "comparison operator", Period, 1},
		{"aggregate head", "#count{ X : p(X) } = 1 :- q.", "choice head", Count, 1},
		{"negated non-predicate", "p :- not 3.", "predicate name", Int, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Parse(tt.src)
			assert.Nil(t, prog)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.expected, perr.Expected)
			assert.Equal(t, tt.found, perr.Found.Kind)
			assert.Equal(t, tt.line, perr.Pos.Line)
		})
	}
}

func TestParse_OneBadDeclarationFailsWhole(t *testing.T) {
	_, err := Parse("a. b. c :- . d.")
	require.Error(t, err)
}

func TestValidate_RejectsMalformedTrees(t *testing.T) {
	bad := []Node{
		&RuleBody{},
		&MathExpr{Op: "+", Left: &MathExpr{Leaf: &Atom{Tok: Token{Kind: Int, Text: "1"}}}},
		&Comparator{Left: &MathExpr{Leaf: &Atom{Tok: Token{Kind: Int, Text: "1"}}}, Op: "~", Right: &MathExpr{Leaf: &Atom{Tok: Token{Kind: Int, Text: "1"}}}},
		&PrologThing{Decl: &Predicate{Name: &Identifier{Name: "p"}}},
		&PredicateCount{},
	}
	for _, n := range bad {
		assert.Error(t, Validate(n), "%T should be rejected", n)
	}
}
