package program

import (
	"cmp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// EdgeKind records how a rule head depends on a body predicate. A pair of
// predicates can be linked in several ways at once.
type EdgeKind uint8

const (
	EdgePositive EdgeKind = 1 << iota
	EdgeNegated
	EdgeAggregate
)

func (k EdgeKind) String() string {
	var parts []string
	if k&EdgePositive != 0 {
		parts = append(parts, "positive")
	}
	if k&EdgeNegated != 0 {
		parts = append(parts, "negation")
	}
	if k&EdgeAggregate != 0 {
		parts = append(parts, "aggregate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Edge points from a head predicate to a predicate its body uses.
type Edge struct {
	From PredicateKey
	To   PredicateKey
	Kind EdgeKind
}

// DependencyGraph is the predicate dependency graph of a program. It is
// immutable once Build returns it.
type DependencyGraph struct {
	ids   map[PredicateKey]int64
	keys  []PredicateKey
	g     *simple.DirectedGraph
	kinds map[[2]int64]EdgeKind
}

func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		ids:   make(map[PredicateKey]int64),
		g:     simple.NewDirectedGraph(),
		kinds: make(map[[2]int64]EdgeKind),
	}
}

func (d *DependencyGraph) node(k PredicateKey) int64 {
	if id, ok := d.ids[k]; ok {
		return id
	}
	id := int64(len(d.keys))
	d.ids[k] = id
	d.keys = append(d.keys, k)
	d.g.AddNode(simple.Node(id))
	return id
}

func (d *DependencyGraph) addEdge(from, to PredicateKey, kind EdgeKind) {
	f, t := d.node(from), d.node(to)
	d.kinds[[2]int64{f, t}] |= kind
	// simple graphs reject self edges; self loops live only in kinds.
	if f != t {
		d.g.SetEdge(d.g.NewEdge(simple.Node(f), simple.Node(t)))
	}
}

// Nodes returns every predicate in the graph, sorted.
func (d *DependencyGraph) Nodes() []PredicateKey {
	out := slices.Clone(d.keys)
	slices.SortFunc(out, compareKeys)
	return out
}

// Has reports whether k occurs anywhere in the program.
func (d *DependencyGraph) Has(k PredicateKey) bool {
	_, ok := d.ids[k]
	return ok
}

// Edges returns every edge, sorted by endpoints.
func (d *DependencyGraph) Edges() []Edge {
	out := make([]Edge, 0, len(d.kinds))
	for pair, kind := range d.kinds {
		out = append(out, Edge{From: d.keys[pair[0]], To: d.keys[pair[1]], Kind: kind})
	}
	slices.SortFunc(out, compareEdges)
	return out
}

// DependsOn returns the edges leaving from.
func (d *DependencyGraph) DependsOn(from PredicateKey) []Edge {
	var out []Edge
	for _, e := range d.Edges() {
		if e.From == from {
			out = append(out, e)
		}
	}
	return out
}

// Dependents returns the edges arriving at to.
func (d *DependencyGraph) Dependents(to PredicateKey) []Edge {
	var out []Edge
	for _, e := range d.Edges() {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}

// Edge returns the kind of the edge from -> to, if there is one.
func (d *DependencyGraph) Edge(from, to PredicateKey) (EdgeKind, bool) {
	f, ok1 := d.ids[from]
	t, ok2 := d.ids[to]
	if !ok1 || !ok2 {
		return 0, false
	}
	k, ok := d.kinds[[2]int64{f, t}]
	return k, ok
}

// Connected reports whether a and b are joined by an edge in either
// direction.
func (d *DependencyGraph) Connected(a, b PredicateKey) bool {
	if _, ok := d.Edge(a, b); ok {
		return true
	}
	_, ok := d.Edge(b, a)
	return ok
}

// Path returns a shortest chain of connected predicates from one key to
// another, endpoints included, ignoring edge direction. It gives up after
// maxDepth hops and returns nil.
func (d *DependencyGraph) Path(from, to PredicateKey, maxDepth int) []PredicateKey {
	src, ok1 := d.ids[from]
	dst, ok2 := d.ids[to]
	if !ok1 || !ok2 {
		return nil
	}
	adj := make(map[int64][]int64)
	for pair := range d.kinds {
		adj[pair[0]] = append(adj[pair[0]], pair[1])
		adj[pair[1]] = append(adj[pair[1]], pair[0])
	}
	for id := range adj {
		slices.SortFunc(adj[id], func(a, b int64) int { return compareKeys(d.keys[a], d.keys[b]) })
	}

	prev := map[int64]int64{src: src}
	frontier := []int64{src}
	for depth := 0; len(frontier) > 0 && depth <= maxDepth; depth++ {
		var next []int64
		for _, n := range frontier {
			if n == dst {
				var path []PredicateKey
				for ; n != src; n = prev[n] {
					path = append(path, d.keys[n])
				}
				path = append(path, d.keys[src])
				slices.Reverse(path)
				return path
			}
			for _, m := range adj[n] {
				if _, seen := prev[m]; !seen {
					prev[m] = n
					next = append(next, m)
				}
			}
		}
		frontier = next
	}
	return nil
}

// Strata returns the strongly connected components in evaluation order: a
// component comes after every component it depends on. Ties are broken by
// the smallest predicate of each component.
func (d *DependencyGraph) Strata() [][]PredicateKey {
	comps := d.components()
	compOf := make(map[int64]int, len(d.keys))
	for i, c := range comps {
		for _, k := range c {
			compOf[d.ids[k]] = i
		}
	}

	deps := make([]map[int]bool, len(comps))
	users := make([][]int, len(comps))
	for i := range deps {
		deps[i] = make(map[int]bool)
	}
	for pair := range d.kinds {
		from, to := compOf[pair[0]], compOf[pair[1]]
		if from != to && !deps[from][to] {
			deps[from][to] = true
			users[to] = append(users[to], from)
		}
	}

	var ready []int
	pending := make([]int, len(comps))
	for i := range comps {
		pending[i] = len(deps[i])
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}
	byFirst := func(a, b int) int { return compareKeys(comps[a][0], comps[b][0]) }

	out := make([][]PredicateKey, 0, len(comps))
	for len(ready) > 0 {
		slices.SortFunc(ready, byFirst)
		c := ready[0]
		ready = ready[1:]
		out = append(out, comps[c])
		for _, u := range users[c] {
			pending[u]--
			if pending[u] == 0 {
				ready = append(ready, u)
			}
		}
	}
	return out
}

// components returns the SCCs with their members sorted.
func (d *DependencyGraph) components() [][]PredicateKey {
	sccs := topo.TarjanSCC(d.g)
	out := make([][]PredicateKey, 0, len(sccs))
	for _, scc := range sccs {
		c := make([]PredicateKey, len(scc))
		for i, n := range scc {
			c[i] = d.keys[n.ID()]
		}
		slices.SortFunc(c, compareKeys)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b []PredicateKey) int { return compareKeys(a[0], b[0]) })
	return out
}

// stratify fails when a negated or aggregate edge lies inside a cycle.
func (d *DependencyGraph) stratify() []error {
	var errs []error
	for _, c := range d.components() {
		members := make(map[PredicateKey]bool, len(c))
		for _, k := range c {
			members[k] = true
		}
		for _, e := range d.Edges() {
			if !members[e.From] || !members[e.To] || e.Kind&(EdgeNegated|EdgeAggregate) == 0 {
				continue
			}
			errs = append(errs, &StratificationError{Cycle: c, Via: e})
			break
		}
	}
	return errs
}

func compareKeys(a, b PredicateKey) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Arity, b.Arity)
}

func compareEdges(a, b Edge) int {
	if c := compareKeys(a.From, b.From); c != 0 {
		return c
	}
	return compareKeys(a.To, b.To)
}
