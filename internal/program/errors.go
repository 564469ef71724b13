package program

import (
	"fmt"
	"strings"

	"stepwise/internal/syntax"
)

// RangeRestrictionError reports head (or negated-literal) variables that no
// positive body literal binds.
type RangeRestrictionError struct {
	Rule      string
	Variables []Var
	Pos       syntax.Position
}

func (e *RangeRestrictionError) Error() string {
	names := make([]string, len(e.Variables))
	for i, v := range e.Variables {
		names[i] = string(v)
	}
	return fmt.Sprintf("%s: unsafe variables %s in %s", e.Pos, strings.Join(names, ", "), e.Rule)
}

// ArityError reports a predicate used with two different argument counts.
type ArityError struct {
	Predicate string
	Expected  int
	Got       int
	Pos       syntax.Position
	FirstPos  syntax.Position
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s: predicate %s used with %d arguments, but with %d at %s",
		e.Pos, e.Predicate, e.Got, e.Expected, e.FirstPos)
}

// StratificationError reports a dependency cycle that passes through
// negation or a count aggregate.
type StratificationError struct {
	Cycle []PredicateKey
	Via   Edge
}

func (e *StratificationError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, k := range e.Cycle {
		names[i] = k.String()
	}
	return fmt.Sprintf("program is not stratified: %s depends on %s through %s within cycle {%s}",
		e.Via.From, e.Via.To, e.Via.Kind, strings.Join(names, ", "))
}
