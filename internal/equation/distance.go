package equation

// Distance parses two equations and compares their trees side by side.
func Distance(a, b string) (int, error) {
	qa, err := Parse(a)
	if err != nil {
		return 0, err
	}
	qb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return TreeDistance(qa, qb), nil
}

// TreeDistance sums the differences of the left sides and of the right
// sides. Nodes of different kinds cost one without descending, a monomial
// that changed costs one, and an unmatched subtree costs its size.
func TreeDistance(a, b Equation) int {
	return diff(a.Left, b.Left) + diff(a.Right, b.Right)
}

func diff(a, b *Expr) int {
	switch {
	case a == nil:
		return b.Size()
	case b == nil:
		return a.Size()
	case a.Kind != b.Kind:
		return 1
	case a.Kind == KindMono:
		if a.Coeff == b.Coeff && (a.Degree == b.Degree || a.Coeff == 0) {
			return 0
		}
		return 1
	}
	n := 0
	for i := range max(len(a.Children), len(b.Children)) {
		n += diff(child(a, i), child(b, i))
	}
	return n
}

func child(e *Expr, i int) *Expr {
	if i < len(e.Children) {
		return e.Children[i]
	}
	return nil
}
