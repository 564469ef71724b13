package syntax

// Parse parses a whole program. Any malformed declaration fails the parse;
// there is no error recovery.
func Parse(src string) (*Program, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	prog := &Program{}
	for p.peek().Kind != EOF {
		thing, err := p.prologThing()
		if err != nil {
			return nil, err
		}
		prog.Things = append(prog.Things, thing)
	}
	if err := Validate(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// ParseAtom parses a single predicate such as an atom printed by a solver.
// A trailing period is allowed.
func ParseAtom(src string) (*Predicate, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	pred, err := p.predicate()
	if err != nil {
		return nil, err
	}
	p.match(Period)
	if _, err := p.need(EOF, "end of atom"); err != nil {
		return nil, err
	}
	return pred, Validate(pred)
}

// ParseExpr parses a single arithmetic expression.
func ParseExpr(src string) (*MathExpr, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(EOF, "end of expression"); err != nil {
		return nil, err
	}
	return e, Validate(e)
}

type parser struct {
	toks []Token
	i    int
}

func (p *parser) peek() Token {
	return p.toks[p.i]
}

func (p *parser) peekAt(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != EOF {
		p.i++
	}
	return t
}

func (p *parser) match(kinds ...Kind) bool {
	for _, k := range kinds {
		if p.peek().Kind == k {
			p.next()
			return true
		}
	}
	return false
}

func (p *parser) need(k Kind, expected string) (Token, error) {
	if p.peek().Kind == k {
		return p.next(), nil
	}
	return Token{}, p.errorf(expected)
}

func (p *parser) errorf(expected string) error {
	t := p.peek()
	return &ParseError{Expected: expected, Found: t, Pos: t.Pos}
}

// prologThing dispatches on the first tokens of a declaration. A choice head
// is recognized by a '{' or '#count' before any ':-' or '.' at nesting depth
// zero, which may need arbitrary lookahead ("X+1 { p(X) }").
func (p *parser) prologThing() (*PrologThing, error) {
	start := p.peek()
	if start.Kind == If {
		p.next()
		body, err := p.ruleBody()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(Period, "'.' after constraint"); err != nil {
			return nil, err
		}
		return &PrologThing{Decl: &Constraint{At: start.Pos, Body: body}}, nil
	}

	if p.choiceAhead() {
		head, err := p.choiceHead()
		if err != nil {
			return nil, err
		}
		if head.Aggregate {
			return nil, &ParseError{Expected: "choice head", Found: start, Pos: head.At}
		}
		g := &GuessRule{Head: head}
		if p.match(If) {
			if g.Body, err = p.ruleBody(); err != nil {
				return nil, err
			}
		}
		if _, err := p.need(Period, "'.' after guess rule"); err != nil {
			return nil, err
		}
		return &PrologThing{Decl: g}, nil
	}

	if start.Kind != Ident {
		return nil, p.errorf("fact, rule, constraint or guess rule")
	}
	head, err := p.predicate()
	if err != nil {
		return nil, err
	}
	switch {
	case p.match(Period):
		return &PrologThing{Decl: &Fact{Head: head}}, nil
	case p.match(If):
		body, err := p.ruleBody()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(Period, "'.' after rule"); err != nil {
			return nil, err
		}
		return &PrologThing{Decl: &Rule{Head: head, Body: body}}, nil
	}
	return nil, p.errorf("'.' or ':-'")
}

func (p *parser) choiceAhead() bool {
	depth := 0
	for j := p.i; j < len(p.toks); j++ {
		switch p.toks[j].Kind {
		case LParen:
			depth++
		case RParen:
			depth--
		case LBrace, Count:
			if depth == 0 {
				return true
			}
		case If, Period, EOF:
			if depth <= 0 {
				return false
			}
		}
	}
	return false
}

func (p *parser) choiceHead() (*PredicateCount, error) {
	if k := p.peek().Kind; k == LBrace || k == Count {
		return p.predicateCount(nil, "")
	}
	lower, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	op := ""
	if t := p.peek(); t.Kind.IsComparison() {
		p.next()
		op = t.Text
	}
	return p.predicateCount(&OneArg{Expr: lower}, op)
}

func (p *parser) ruleBody() (*RuleBody, error) {
	body := &RuleBody{}
	for {
		elem, err := p.bodyElem()
		if err != nil {
			return nil, err
		}
		body.Elems = append(body.Elems, elem)
		if !p.match(Comma) {
			return body, nil
		}
	}
}

// bodyElem parses a negated predicate, a count, a comparison or a
// predicate. The last three share a prefix, so an expression is parsed first
// and the following token decides.
func (p *parser) bodyElem() (Node, error) {
	switch p.peek().Kind {
	case Not:
		return p.negated()
	case LBrace, Count:
		return p.predicateCount(nil, "")
	}
	left, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	switch t := p.peek(); {
	case t.Kind == LBrace:
		return p.predicateCount(&OneArg{Expr: left}, "")
	case t.Kind.IsComparison():
		p.next()
		if k := p.peek().Kind; k == LBrace || k == Count {
			return p.predicateCount(&OneArg{Expr: left}, t.Text)
		}
		right, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		return &Comparator{Left: left, Op: t.Text, Right: right}, nil
	}
	if pred, ok := exprPredicate(left); ok {
		return pred, nil
	}
	return nil, p.errorf("comparison operator")
}

// condition is a body element without counts, used inside count elements.
func (p *parser) condition() (Node, error) {
	if p.peek().Kind == Not {
		return p.negated()
	}
	left, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind.IsComparison() {
		p.next()
		right, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		return &Comparator{Left: left, Op: t.Text, Right: right}, nil
	}
	if pred, ok := exprPredicate(left); ok {
		return pred, nil
	}
	return nil, p.errorf("comparison operator")
}

func (p *parser) negated() (*NegatedPredicate, error) {
	not := p.next()
	pred, err := p.predicate()
	if err != nil {
		return nil, err
	}
	return &NegatedPredicate{At: not.Pos, Pred: pred}, nil
}

// predicateCount parses "{ elems } [op] [upper]" or "#count{ elems } [op] [upper]".
// The lower bound, if any, has already been consumed by the caller.
func (p *parser) predicateCount(lower *OneArg, lowerOp string) (*PredicateCount, error) {
	at := p.peek().Pos
	if lower != nil {
		at = lower.Pos()
	}
	pc := &PredicateCount{At: at, Lower: lower, LowerOp: lowerOp}
	pc.Aggregate = p.match(Count)
	if _, err := p.need(LBrace, "'{'"); err != nil {
		return nil, err
	}
	for {
		elem, err := p.countElement()
		if err != nil {
			return nil, err
		}
		pc.Elements = append(pc.Elements, elem)
		if !p.match(Semicolon) {
			break
		}
	}
	if _, err := p.need(RBrace, "'}'"); err != nil {
		return nil, err
	}

	if t := p.peek(); t.Kind.IsComparison() {
		p.next()
		pc.UpperOp = t.Text
		upper, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		pc.Upper = &OneArg{Expr: upper}
	} else if startsExpr(t.Kind) {
		upper, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		pc.Upper = &OneArg{Expr: upper}
	}
	return pc, nil
}

func (p *parser) countElement() (*CountElement, error) {
	elem := &CountElement{}
	for {
		e, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		elem.Terms = append(elem.Terms, &OneArg{Expr: e})
		if !p.match(Comma) {
			break
		}
	}
	if p.match(Colon) {
		for {
			c, err := p.condition()
			if err != nil {
				return nil, err
			}
			elem.Conditions = append(elem.Conditions, c)
			if !p.match(Comma) {
				break
			}
		}
	}
	return elem, nil
}

func (p *parser) predicate() (*Predicate, error) {
	name, err := p.need(Ident, "predicate name")
	if err != nil {
		return nil, err
	}
	pred := &Predicate{Name: &Identifier{At: name.Pos, Name: name.Text}}
	if p.match(LParen) {
		if pred.Args, err = p.args(); err != nil {
			return nil, err
		}
		if _, err := p.need(RParen, "')'"); err != nil {
			return nil, err
		}
	}
	return pred, nil
}

func (p *parser) args() (*Args, error) {
	args := &Args{}
	for {
		e, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		args.List = append(args.List, &OneArg{Expr: e})
		if !p.match(Comma) {
			return args, nil
		}
	}
}

// Binding powers. Unary minus binds tighter than * but looser than **, so
// -X**2 is -(X**2).
const (
	bpAdd   = 10
	bpMul   = 20
	bpUnary = 25
	bpPow   = 30
)

func infix(k Kind) (op string, lbp int, rightAssoc bool, ok bool) {
	switch k {
	case Plus:
		return "+", bpAdd, false, true
	case Minus:
		return "-", bpAdd, false, true
	case Star:
		return "*", bpMul, false, true
	case Slash:
		return "/", bpMul, false, true
	case Backslash:
		return `\`, bpMul, false, true
	case Power:
		return "**", bpPow, true, true
	}
	return "", 0, false, false
}

func startsExpr(k Kind) bool {
	switch k {
	case Ident, Variable, Int, String, LParen, Minus:
		return true
	}
	return false
}

func (p *parser) expr(minBP int) (*MathExpr, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		op, lbp, rightAssoc, ok := infix(p.peek().Kind)
		if !ok || lbp <= minBP {
			return left, nil
		}
		p.next()
		rbp := lbp
		if rightAssoc {
			rbp = lbp - 1
		}
		right, err := p.expr(rbp)
		if err != nil {
			return nil, err
		}
		left = &MathExpr{At: left.At, Op: op, Left: left, Right: right}
	}
}

func (p *parser) prefix() (*MathExpr, error) {
	t := p.peek()
	switch t.Kind {
	case Minus:
		p.next()
		operand, err := p.expr(bpUnary)
		if err != nil {
			return nil, err
		}
		return &MathExpr{At: t.Pos, Op: "-", Unary: true, Left: operand}, nil
	case LParen:
		p.next()
		inner, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case Variable, Int, String:
		p.next()
		return &MathExpr{At: t.Pos, Leaf: &Atom{Tok: t}}, nil
	case Ident:
		if p.peekAt(1).Kind == LParen {
			pred, err := p.predicate()
			if err != nil {
				return nil, err
			}
			return &MathExpr{At: t.Pos, Leaf: pred}, nil
		}
		p.next()
		return &MathExpr{At: t.Pos, Leaf: &Atom{Tok: t}}, nil
	}
	return nil, p.errorf("term")
}

// exprPredicate converts an expression that is just a name or compound term
// into a predicate.
func exprPredicate(e *MathExpr) (*Predicate, bool) {
	switch leaf := e.Leaf.(type) {
	case *Predicate:
		return leaf, true
	case *Atom:
		if leaf.Tok.Kind == Ident {
			return &Predicate{Name: &Identifier{At: leaf.Tok.Pos, Name: leaf.Tok.Text}}, true
		}
	}
	return nil, false
}
