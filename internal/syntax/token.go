// Package syntax implements the lexer and parser for the stepwise rule language,
// a small ASP/Prolog dialect with facts, rules, constraints, negation,
// comparisons, arithmetic, count aggregates and choice ("guess") rules.
package syntax

import "fmt"

// Position is a location in rule source. Line and Column are 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Variable
	Int
	String

	LParen
	RParen
	LBrace
	RBrace
	Comma
	Period
	Semicolon
	Colon
	If // :-

	Eq
	Neq
	Lt
	Gt
	Le
	Ge

	Plus
	Minus
	Star
	Slash
	Backslash
	Power

	Not   // not, \+
	Count // #count
)

var kindNames = map[Kind]string{
	EOF:       "end of input",
	Ident:     "identifier",
	Variable:  "variable",
	Int:       "integer",
	String:    "string",
	LParen:    "'('",
	RParen:    "')'",
	LBrace:    "'{'",
	RBrace:    "'}'",
	Comma:     "','",
	Period:    "'.'",
	Semicolon: "';'",
	Colon:     "':'",
	If:        "':-'",
	Eq:        "'='",
	Neq:       "'!='",
	Lt:        "'<'",
	Gt:        "'>'",
	Le:        "'<='",
	Ge:        "'>='",
	Plus:      "'+'",
	Minus:     "'-'",
	Star:      "'*'",
	Slash:     "'/'",
	Backslash: "'\\'",
	Power:     "'**'",
	Not:       "'not'",
	Count:     "'#count'",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsComparison reports whether k is one of = != < > <= >=.
func (k Kind) IsComparison() bool {
	return k >= Eq && k <= Ge
}

// Token is a single lexeme. Text holds the literal source text, except for
// strings where it holds the unescaped value.
type Token struct {
	Kind Kind
	Text string
	Pos  Position
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return t.Kind.String()
	case String:
		return fmt.Sprintf("string %q", t.Text)
	case Ident, Variable, Int:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	}
	return t.Kind.String()
}
