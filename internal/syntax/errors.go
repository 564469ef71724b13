package syntax

import "fmt"

// LexError reports a character the lexer cannot start a token with, or an
// unterminated string or block comment.
type LexError struct {
	Pos  Position
	Char rune
	Msg  string
}

func (e *LexError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: unexpected character %q", e.Pos, e.Char)
}

// ParseError reports the production the parser expected and the token it
// found instead.
type ParseError struct {
	Expected string
	Found    Token
	Pos      Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}
