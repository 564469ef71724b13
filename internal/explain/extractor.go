package explain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"stepwise/internal/logging"
	"stepwise/internal/model"
	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
)

// StepExplanation is the rendered text of one step.
type StepExplanation struct {
	Index     int          `json:"index"`
	Template  string       `json:"template"`
	Trigger   program.Atom `json:"-"`
	Sentences []string     `json:"sentences"`
}

// Extractor renders reconstructed steps with a template library. It holds
// no per-call state and may be shared between goroutines.
type Extractor struct {
	lib      *Library
	graph    *program.DependencyGraph
	distance func(a, b string) (int, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDistance supplies the metric behind the {distance} placeholder.
func WithDistance(f func(a, b string) (int, error)) Option {
	return func(x *Extractor) { x.distance = f }
}

// NewExtractor creates an Extractor. Reference hops are checked against
// graph; a nil graph accepts every hop.
func NewExtractor(lib *Library, graph *program.DependencyGraph, opts ...Option) *Extractor {
	x := &Extractor{lib: lib, graph: graph}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract renders one explanation per node, in node order. m supplies
// reference atoms that are not among a step's supporting atoms and may be
// nil. The first failing step aborts the whole call.
func (x *Extractor) Extract(m *model.Model, nodes []reconstruct.AlgebraNode) ([]StepExplanation, error) {
	timer := logging.StartTimer(logging.CategoryExplain, fmt.Sprintf("extract %d steps", len(nodes)))
	defer timer.Stop()

	out := make([]StepExplanation, 0, len(nodes))
	for _, n := range nodes {
		se, err := x.ExplainStep(m, n)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, nil
}

// ExplainStep renders a single node.
func (x *Extractor) ExplainStep(m *model.Model, n reconstruct.AlgebraNode) (StepExplanation, error) {
	t, trigger, ok := x.selectTemplate(n)
	if !ok {
		return StepExplanation{}, &NoTemplateMatchError{Step: n.Index, Predicate: n.StepAtom.Key().String()}
	}
	logging.Get(logging.CategoryExplain).Debug("step %d: template %q on %s", n.Index, t.Name, trigger)

	b := &binder{x: x, m: m, node: n, tmpl: t, trigger: trigger, refs: make(map[string]program.Atom)}
	se := StepExplanation{Index: n.Index, Template: t.Name, Trigger: trigger}
	for _, s := range t.Sentences {
		text, err := b.render(s)
		if err != nil {
			return StepExplanation{}, err
		}
		se.Sentences = append(se.Sentences, text)
	}
	return se, nil
}

// selectTemplate picks the most specific template matching any candidate.
// Ties go to the earlier template, then to the earlier candidate.
func (x *Extractor) selectTemplate(n reconstruct.AlgebraNode) (Template, program.Atom, bool) {
	candidates := append([]program.Atom{n.StepAtom}, n.Supporting...)
	var (
		best    Template
		trigger program.Atom
		found   bool
	)
	for _, t := range x.lib.templates {
		if found && t.Specificity() <= best.Specificity() {
			continue
		}
		for _, c := range candidates {
			if matches(t.Trigger, c) {
				best, trigger, found = t, c, true
				break
			}
		}
	}
	return best, trigger, found
}

func matches(tr Trigger, a program.Atom) bool {
	if a.Key() != tr.Key() {
		return false
	}
	for _, g := range tr.Guards {
		v, ok := argAt(a.Args, g.path)
		if !ok || program.Text(v) != g.Equals {
			return false
		}
	}
	return true
}

// argAt follows path into args, descending into compound arguments.
func argAt(args []program.Term, path []int) (program.Term, bool) {
	if len(path) == 0 || path[0] >= len(args) {
		return nil, false
	}
	t := args[path[0]]
	for _, i := range path[1:] {
		c, ok := t.(program.Compound)
		if !ok || i >= len(c.Args) {
			return nil, false
		}
		t = c.Args[i]
	}
	return t, true
}

// binder fills the slots of one template for one step. References are
// resolved on first use and cached.
type binder struct {
	x       *Extractor
	m       *model.Model
	node    reconstruct.AlgebraNode
	tmpl    Template
	trigger program.Atom
	refs    map[string]program.Atom
}

func (b *binder) fail(slot Slot, format string, args ...any) error {
	return &BindingError{
		Step:        b.node.Index,
		Template:    b.tmpl.Name,
		Placeholder: slot.Raw,
		Reason:      fmt.Sprintf(format, args...),
	}
}

func (b *binder) render(s Sentence) (string, error) {
	var sb strings.Builder
	for i, slot := range s.Slots {
		sb.WriteString(s.Fragments[i])
		v, err := b.value(slot)
		if err != nil {
			return "", err
		}
		sb.WriteString(v)
	}
	sb.WriteString(s.Fragments[len(s.Fragments)-1])
	return sb.String(), nil
}

func (b *binder) value(slot Slot) (string, error) {
	switch slot.Kind {
	case SlotBefore:
		return b.node.Before.Text, nil
	case SlotAfter:
		return b.node.After.Text, nil
	case SlotOp:
		return program.Text(b.node.Operation), nil
	case SlotIndex:
		return strconv.Itoa(b.node.Index), nil
	case SlotDistance:
		if b.x.distance == nil {
			return "", b.fail(slot, "no distance metric configured")
		}
		d, err := b.x.distance(b.node.Before.Text, b.node.After.Text)
		if err != nil {
			return "", b.fail(slot, "%v", err)
		}
		return strconv.Itoa(d), nil
	case SlotArg:
		v, ok := argAt(b.trigger.Args, slot.Path)
		if !ok {
			return "", b.fail(slot, "no argument at that path in %s", b.trigger)
		}
		return program.Text(v), nil
	case SlotRef:
		a, err := b.reference(slot)
		if err != nil {
			return "", err
		}
		if len(slot.Path) == 0 {
			return a.String(), nil
		}
		v, ok := argAt(a.Args, slot.Path)
		if !ok {
			return "", b.fail(slot, "no argument at that path in %s", a)
		}
		return program.Text(v), nil
	}
	return "", b.fail(slot, "unsupported placeholder")
}

func (b *binder) reference(slot Slot) (program.Atom, error) {
	if a, ok := b.refs[slot.Ref]; ok {
		return a, nil
	}
	idx := slices.IndexFunc(b.tmpl.References, func(r Reference) bool { return r.Name == slot.Ref })
	if idx < 0 {
		return program.Atom{}, b.fail(slot, "undeclared reference %q", slot.Ref)
	}
	ref := b.tmpl.References[idx]
	if len(ref.Path) > b.x.lib.maxDepth {
		return program.Atom{}, b.fail(slot, "path of %d hops exceeds depth %d", len(ref.Path), b.x.lib.maxDepth)
	}

	prev := b.trigger
	visited := map[string]bool{prev.String(): true}
	for i, hop := range ref.Path {
		if b.x.graph != nil && !b.x.graph.Connected(prev.Key(), hop.Key()) {
			return program.Atom{}, b.fail(slot, "hop %d: %s is not connected to %s", i, hop.Key(), prev.Key())
		}
		next, ok := b.step(prev, hop)
		if !ok {
			return program.Atom{}, b.fail(slot, "hop %d: no %s atom joins %s", i, hop.Key(), prev)
		}
		if visited[next.String()] {
			return program.Atom{}, b.fail(slot, "hop %d: cycle through %s", i, next)
		}
		visited[next.String()] = true
		prev = next
	}
	b.refs[slot.Ref] = prev
	return prev, nil
}

// step picks the hop atom joined to prev: the smallest supporting atom if
// any qualifies, otherwise the smallest model atom.
func (b *binder) step(prev program.Atom, hop Hop) (program.Atom, bool) {
	pick := func(atoms []program.Atom) (program.Atom, bool) {
		var (
			best  program.Atom
			found bool
		)
		for _, a := range atoms {
			if a.Key() != hop.Key() || !joined(hop, a, prev) {
				continue
			}
			if !found || a.String() < best.String() {
				best, found = a, true
			}
		}
		return best, found
	}
	if a, ok := pick(b.node.Supporting); ok {
		return a, true
	}
	if b.m == nil {
		return program.Atom{}, false
	}
	return pick(b.m.AtomsOf(hop.Key()))
}

func joined(hop Hop, a, prev program.Atom) bool {
	for _, j := range hop.joins {
		av, ok1 := argAt(a.Args, j[0])
		pv, ok2 := argAt(prev.Args, j[1])
		if !ok1 || !ok2 || !program.Equal(av, pv) {
			return false
		}
	}
	return true
}
