package explain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentence(t *testing.T) {
	s, err := ParseSentence("Subtract {ref.amount.1} from {before}, giving {{x}} {2.0}")
	require.NoError(t, err)

	want := Sentence{
		Fragments: []string{"Subtract ", " from ", ", giving {x} ", ""},
		Slots: []Slot{
			{Kind: SlotRef, Raw: "ref.amount.1", Ref: "amount", Path: []int{1}},
			{Kind: SlotBefore, Raw: "before"},
			{Kind: SlotArg, Raw: "2.0", Path: []int{2, 0}},
		},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("sentence mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSentenceErrors(t *testing.T) {
	for text, msg := range map[string]string{
		"open {before":   "unclosed placeholder",
		"close } here":   "unmatched '}'",
		"{colour}":       "unknown placeholder {colour}",
		"{ref.}":         "missing reference name",
		"{ref.amount.x}": "invalid argument path",
		"{1..2}":         "unknown placeholder",
	} {
		_, err := ParseSentence(text)
		assert.ErrorContains(t, err, msg, text)
	}
}

func TestLibraryValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"unknown field", `
templates:
  - name: a
    trigger: {predicate: step, arity: 4}
    sentence: ["x"]
`, "field sentence not found"},
		{"duplicate name", `
templates:
  - {name: a, trigger: {predicate: step, arity: 4}, sentences: ["x"]}
  - {name: a, trigger: {predicate: step, arity: 4}, sentences: ["y"]}
`, `"a" declared twice`},
		{"no sentences", `
templates:
  - {name: a, trigger: {predicate: step, arity: 4}}
`, "at least one sentence"},
		{"guard outside arity", `
templates:
  - name: a
    trigger: {predicate: step, arity: 4, guards: [{arg: "4", equals: x}]}
    sentences: ["x"]
`, "argument 4 outside step/4"},
		{"argument slot outside arity", `
templates:
  - {name: a, trigger: {predicate: solved, arity: 1}, sentences: ["{1}"]}
`, "argument 1 outside solved/1"},
		{"unknown reference", `
templates:
  - {name: a, trigger: {predicate: step, arity: 4}, sentences: ["{ref.nope}"]}
`, `unknown reference "nope"`},
		{"path too long", `
max_reference_depth: 1
templates:
  - name: a
    trigger: {predicate: step, arity: 4}
    references: [{name: r, path: [{predicate: p, arity: 1}, {predicate: q, arity: 1}]}]
    sentences: ["{ref.r}"]
`, "exceeds max_reference_depth 1"},
		{"bad join", `
templates:
  - name: a
    trigger: {predicate: step, arity: 4}
    references: [{name: r, path: [{predicate: p, arity: 1, join: {"2": "0"}}]}]
    sentences: ["{ref.r}"]
`, "join argument 2 outside p/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLibrary([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLoadLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(multiTemplates), 0o644))

	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	assert.Equal(t, 3, lib.Len())
	assert.Equal(t, DefaultMaxReferenceDepth, lib.MaxReferenceDepth())

	names := []string{}
	for _, tmpl := range lib.Templates() {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"any-step", "subtract", "divide"}, names)
	assert.Equal(t, 1, lib.Templates()[1].Specificity())

	_, err = LoadLibrary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLibraryDoesNotAliasInput(t *testing.T) {
	in := []Template{{
		Trigger: Trigger{Predicate: "step", Arity: 4, Guards: []Guard{{Arg: "3", Equals: "op"}}},
		Text:    []string{"{op}"},
	}}
	lib, err := NewLibrary(in, 0)
	require.NoError(t, err)
	in[0].Trigger.Guards[0].Equals = "changed"

	got := lib.Templates()[0]
	assert.Equal(t, "template1", got.Name)
	assert.Equal(t, "op", got.Trigger.Guards[0].Equals)
}
