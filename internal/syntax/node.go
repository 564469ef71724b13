package syntax

import "fmt"

// Node is a parse-tree node. The set of implementations is closed: one type
// per grammar production.
type Node interface {
	Pos() Position
	node()
}

// Program is the root of a parse tree.
type Program struct {
	Things []*PrologThing
}

// PrologThing is one top-level declaration. Decl is a *Fact, *Rule,
// *Constraint or *GuessRule.
type PrologThing struct {
	Decl Node
}

// Fact is "head."
type Fact struct {
	Head *Predicate
}

// Rule is "head :- body."
type Rule struct {
	Head *Predicate
	Body *RuleBody
}

// Constraint is ":- body."
type Constraint struct {
	At   Position
	Body *RuleBody
}

// GuessRule is a choice head with an optional body: "1 { p(X) : q(X) } 1 :- r."
type GuessRule struct {
	Head *PredicateCount
	Body *RuleBody // nil when the rule has no body
}

// RuleBody is a non-empty conjunction. Each element is a *Predicate,
// *NegatedPredicate, *PredicateCount or *Comparator.
type RuleBody struct {
	Elems []Node
}

// Predicate is "name" or "name(args)". It is also used for compound terms
// appearing as arguments.
type Predicate struct {
	Name *Identifier
	Args *Args // nil for zero arity
}

// NegatedPredicate is "not p(...)".
type NegatedPredicate struct {
	At   Position
	Pred *Predicate
}

// PredicateCount is a set expression with optional bounds, either a choice
// "{ ... }" or an aggregate "#count{ ... }".
type PredicateCount struct {
	At        Position
	Aggregate bool // written with #count
	Lower     *OneArg
	LowerOp   string // "" when the bound has no explicit comparator
	Elements  []*CountElement
	UpperOp   string
	Upper     *OneArg
}

// CountElement is "terms : conditions". Conditions are *Predicate,
// *NegatedPredicate or *Comparator.
type CountElement struct {
	Terms      []*OneArg
	Conditions []Node
}

// Comparator is "left op right".
type Comparator struct {
	Left  *MathExpr
	Op    string
	Right *MathExpr
}

// MathExpr is an arithmetic expression. A leaf has Leaf set (an *Atom or a
// compound *Predicate); a unary minus has Op "-", Unary set and Left as
// operand; a binary node has Op, Left and Right.
type MathExpr struct {
	At    Position
	Op    string
	Unary bool
	Left  *MathExpr
	Right *MathExpr
	Leaf  Node
}

// Args is a non-empty argument list.
type Args struct {
	List []*OneArg
}

// OneArg is a single argument.
type OneArg struct {
	Expr *MathExpr
}

// Atom is a lexical constant or variable: identifier, variable, integer or
// string.
type Atom struct {
	Tok Token
}

// Identifier names a predicate or functor.
type Identifier struct {
	At   Position
	Name string
}

func (n *Program) Pos() Position {
	if len(n.Things) == 0 {
		return Position{Line: 1, Column: 1}
	}
	return n.Things[0].Pos()
}
func (n *PrologThing) Pos() Position      { return n.Decl.Pos() }
func (n *Fact) Pos() Position             { return n.Head.Pos() }
func (n *Rule) Pos() Position             { return n.Head.Pos() }
func (n *Constraint) Pos() Position       { return n.At }
func (n *GuessRule) Pos() Position        { return n.Head.Pos() }
func (n *RuleBody) Pos() Position         { return n.Elems[0].Pos() }
func (n *Predicate) Pos() Position        { return n.Name.At }
func (n *NegatedPredicate) Pos() Position { return n.At }
func (n *PredicateCount) Pos() Position   { return n.At }
func (n *CountElement) Pos() Position     { return n.Terms[0].Pos() }
func (n *Comparator) Pos() Position       { return n.Left.Pos() }
func (n *MathExpr) Pos() Position         { return n.At }
func (n *Args) Pos() Position             { return n.List[0].Pos() }
func (n *OneArg) Pos() Position           { return n.Expr.Pos() }
func (n *Atom) Pos() Position             { return n.Tok.Pos }
func (n *Identifier) Pos() Position       { return n.At }

func (*Program) node()          {}
func (*PrologThing) node()      {}
func (*Fact) node()             {}
func (*Rule) node()             {}
func (*Constraint) node()       {}
func (*GuessRule) node()        {}
func (*RuleBody) node()         {}
func (*Predicate) node()        {}
func (*NegatedPredicate) node() {}
func (*PredicateCount) node()   {}
func (*CountElement) node()     {}
func (*Comparator) node()       {}
func (*MathExpr) node()         {}
func (*Args) node()             {}
func (*OneArg) node()           {}
func (*Atom) node()             {}
func (*Identifier) node()       {}

// Validate checks that every node has the children its production
// prescribes. Parse runs it on every tree it returns.
func Validate(n Node) error {
	switch n := n.(type) {
	case *Program:
		for _, t := range n.Things {
			if err := Validate(t); err != nil {
				return err
			}
		}
	case *PrologThing:
		switch n.Decl.(type) {
		case *Fact, *Rule, *Constraint, *GuessRule:
			return Validate(n.Decl)
		}
		return shapeError(Position{}, "declaration")
	case *Fact:
		if n.Head == nil {
			return shapeError(Position{}, "fact head")
		}
		return Validate(n.Head)
	case *Rule:
		if n.Head == nil || n.Body == nil {
			return shapeError(Position{}, "rule head and body")
		}
		return validateAll(n.Head, n.Body)
	case *Constraint:
		if n.Body == nil {
			return shapeError(n.At, "constraint body")
		}
		return Validate(n.Body)
	case *GuessRule:
		if n.Head == nil || n.Head.Aggregate {
			return shapeError(Position{}, "choice head")
		}
		if err := Validate(n.Head); err != nil {
			return err
		}
		if n.Body != nil {
			return Validate(n.Body)
		}
	case *RuleBody:
		if len(n.Elems) == 0 {
			return shapeError(Position{}, "body element")
		}
		for _, e := range n.Elems {
			switch e.(type) {
			case *Predicate, *NegatedPredicate, *PredicateCount, *Comparator:
			default:
				return shapeError(e.Pos(), "body element")
			}
			if err := Validate(e); err != nil {
				return err
			}
		}
	case *Predicate:
		if n.Name == nil || n.Name.Name == "" {
			return shapeError(Position{}, "predicate name")
		}
		if n.Args != nil {
			return Validate(n.Args)
		}
	case *NegatedPredicate:
		if n.Pred == nil {
			return shapeError(n.At, "negated predicate")
		}
		return Validate(n.Pred)
	case *PredicateCount:
		if len(n.Elements) == 0 {
			return shapeError(n.At, "count element")
		}
		if (n.Lower == nil && n.LowerOp != "") || (n.Upper == nil && n.UpperOp != "") {
			return shapeError(n.At, "count bound")
		}
		for _, e := range n.Elements {
			if err := Validate(e); err != nil {
				return err
			}
		}
		for _, b := range []*OneArg{n.Lower, n.Upper} {
			if b != nil {
				if err := Validate(b); err != nil {
					return err
				}
			}
		}
	case *CountElement:
		if len(n.Terms) == 0 {
			return shapeError(Position{}, "count element term")
		}
		for _, t := range n.Terms {
			if err := Validate(t); err != nil {
				return err
			}
		}
		for _, c := range n.Conditions {
			switch c.(type) {
			case *Predicate, *NegatedPredicate, *Comparator:
			default:
				return shapeError(c.Pos(), "condition")
			}
			if err := Validate(c); err != nil {
				return err
			}
		}
	case *Comparator:
		if n.Left == nil || n.Right == nil || !validComparison(n.Op) {
			return shapeError(Position{}, "comparison")
		}
		return validateAll(n.Left, n.Right)
	case *MathExpr:
		switch {
		case n.Leaf != nil:
			if n.Op != "" || n.Left != nil || n.Right != nil {
				return shapeError(n.At, "expression leaf")
			}
			switch n.Leaf.(type) {
			case *Atom, *Predicate:
				return Validate(n.Leaf)
			}
			return shapeError(n.At, "expression leaf")
		case n.Unary:
			if n.Op != "-" || n.Left == nil || n.Right != nil {
				return shapeError(n.At, "unary minus")
			}
			return Validate(n.Left)
		default:
			if n.Left == nil || n.Right == nil || !validArithmetic(n.Op) {
				return shapeError(n.At, "binary expression")
			}
			return validateAll(n.Left, n.Right)
		}
	case *Args:
		if len(n.List) == 0 {
			return shapeError(Position{}, "argument")
		}
		for _, a := range n.List {
			if err := Validate(a); err != nil {
				return err
			}
		}
	case *OneArg:
		if n.Expr == nil {
			return shapeError(Position{}, "argument expression")
		}
		return Validate(n.Expr)
	case *Atom:
		switch n.Tok.Kind {
		case Ident, Variable, Int, String:
		default:
			return shapeError(n.Tok.Pos, "atom")
		}
	case *Identifier:
	default:
		return fmt.Errorf("syntax: unknown node %T", n)
	}
	return nil
}

func validateAll(nodes ...Node) error {
	for _, n := range nodes {
		if err := Validate(n); err != nil {
			return err
		}
	}
	return nil
}

// shapeError reports a node whose children do not fit its production. Such
// trees can only be built by hand; the parser never produces them.
func shapeError(pos Position, expected string) error {
	return &ParseError{Expected: expected, Found: Token{Kind: EOF, Pos: pos}, Pos: pos}
}

func validComparison(op string) bool {
	switch op {
	case "=", "!=", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func validArithmetic(op string) bool {
	switch op {
	case "+", "-", "*", "/", `\`, "**":
		return true
	}
	return false
}
