// Package progression relates solutions by the operations they apply. Each
// distinct operation sequence is a node, and a sequence that occurs as a
// short contiguous run inside a longer one points at it, so the graph shows
// how longer solutions grow out of shorter ones.
package progression

import (
	"cmp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
)

// DefaultMaxGram is the longest run of operations linked to a longer
// sequence.
const DefaultMaxGram = 2

// Solution is the operation sequence of one explained model.
type Solution struct {
	Problem    string
	Operations []string
}

// FromNodes reads the problem and operation sequence off a step chain.
func FromNodes(nodes []reconstruct.AlgebraNode) Solution {
	var s Solution
	if len(nodes) > 0 {
		s.Problem = nodes[0].Before.Text
	}
	for _, n := range nodes {
		s.Operations = append(s.Operations, program.Text(n.Operation))
	}
	return s
}

// Node is one distinct operation sequence.
type Node struct {
	id         int64
	Label      string
	Operations []string
	// Problem is the starting equation of the first solution seen.
	Problem string
	// Count is the number of solutions with this sequence.
	Count int
}

func (n *Node) ID() int64 { return n.id }

// DOTID names the node in DOT output.
func (n *Node) DOTID() string { return n.Label }

// Attributes labels the node with its sequence and problem.
func (n *Node) Attributes() []encoding.Attribute {
	label := n.Label
	if n.Problem != "" {
		label += "\n" + n.Problem
	}
	return []encoding.Attribute{{Key: "label", Value: label}}
}

// Edge links a short sequence to a longer one containing it.
type Edge struct {
	From, To string
}

// Graph is the progression graph of a set of solutions.
type Graph struct {
	nodes map[string]*Node
	g     *simple.DirectedGraph
}

// Label joins an operation sequence.
func Label(ops []string) string { return strings.Join(ops, ":") }

// Build creates the graph. Solutions without operations are ignored;
// maxGram below one means DefaultMaxGram.
func Build(solutions []Solution, maxGram int) *Graph {
	if maxGram < 1 {
		maxGram = DefaultMaxGram
	}
	pg := &Graph{nodes: make(map[string]*Node), g: simple.NewDirectedGraph()}

	var labels []string
	for _, s := range solutions {
		if len(s.Operations) == 0 {
			continue
		}
		label := Label(s.Operations)
		if n, ok := pg.nodes[label]; ok {
			n.Count++
			continue
		}
		pg.nodes[label] = &Node{Label: label, Operations: slices.Clone(s.Operations), Problem: s.Problem, Count: 1}
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for i, l := range labels {
		n := pg.nodes[l]
		n.id = int64(i)
		pg.g.AddNode(n)
	}

	for _, l := range labels {
		to := pg.nodes[l]
		for size := 1; size <= maxGram; size++ {
			for start := 0; start+size <= len(to.Operations); start++ {
				from, ok := pg.nodes[Label(to.Operations[start:start+size])]
				if !ok || from == to || pg.g.HasEdgeFromTo(from.ID(), to.ID()) {
					continue
				}
				pg.g.SetEdge(pg.g.NewEdge(from, to))
			}
		}
	}
	return pg
}

// Nodes returns the nodes ordered by label.
func (pg *Graph) Nodes() []Node {
	out := make([]Node, 0, len(pg.nodes))
	for _, n := range pg.nodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.Label, b.Label) })
	return out
}

// Edges returns the edges ordered by source, then target.
func (pg *Graph) Edges() []Edge {
	var out []Edge
	edges := pg.g.Edges()
	for edges.Next() {
		e := edges.Edge()
		out = append(out, Edge{From: label(e.From()), To: label(e.To())})
	}
	slices.SortFunc(out, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	return out
}

func label(n graph.Node) string { return n.(*Node).Label }

// DOT renders the graph in Graphviz format.
func (pg *Graph) DOT() ([]byte, error) {
	return dot.Marshal(pg.g, "progression", "", "  ")
}
