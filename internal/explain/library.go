// Package explain turns reconstructed steps into sentences by matching each
// step against a library of templates and filling their placeholders.
package explain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"stepwise/internal/program"
)

// DefaultMaxReferenceDepth bounds reference paths when the library file does
// not set max_reference_depth.
const DefaultMaxReferenceDepth = 4

// Guard requires the trigger argument at Arg (a dotted path such as "3" or
// "1.0") to print as Equals. Strings compare unquoted.
type Guard struct {
	Arg    string `yaml:"arg"`
	Equals string `yaml:"equals"`

	path []int
}

// Trigger selects the atoms a template applies to.
type Trigger struct {
	Predicate string  `yaml:"predicate"`
	Arity     int     `yaml:"arity"`
	Guards    []Guard `yaml:"guards"`
}

// Key returns the trigger predicate.
func (t Trigger) Key() program.PredicateKey {
	return program.PredicateKey{Name: t.Predicate, Arity: t.Arity}
}

// Hop is one step of a reference path. Join maps argument paths of the hop
// atom to argument paths of the previous atom that must be equal.
type Hop struct {
	Predicate string            `yaml:"predicate"`
	Arity     int               `yaml:"arity"`
	Join      map[string]string `yaml:"join"`

	joins [][2][]int
}

// Key returns the hop predicate.
func (h Hop) Key() program.PredicateKey {
	return program.PredicateKey{Name: h.Predicate, Arity: h.Arity}
}

// Reference names an atom reached from the trigger by following Path.
type Reference struct {
	Name string `yaml:"name"`
	Path []Hop  `yaml:"path"`
}

// SlotKind says where a placeholder takes its value from.
type SlotKind int

const (
	SlotArg SlotKind = iota
	SlotBefore
	SlotAfter
	SlotOp
	SlotIndex
	SlotRef
	SlotDistance
)

// Slot is one placeholder of a sentence.
type Slot struct {
	Kind SlotKind
	Raw  string
	Ref  string
	Path []int
}

// Sentence is literal fragments interleaved with slots:
// Fragments[0] Slots[0] Fragments[1] ... Slots[n-1] Fragments[n].
type Sentence struct {
	Fragments []string
	Slots     []Slot
}

// Template is one explanation template.
type Template struct {
	Name       string      `yaml:"name"`
	Trigger    Trigger     `yaml:"trigger"`
	References []Reference `yaml:"references"`
	Text       []string    `yaml:"sentences"`

	Sentences []Sentence `yaml:"-"`
}

// Specificity is the number of guards; more specific templates win.
func (t Template) Specificity() int { return len(t.Trigger.Guards) }

// Library is a validated, read-only set of templates in declaration order.
type Library struct {
	templates []Template
	maxDepth  int
}

type libraryFile struct {
	MaxReferenceDepth int        `yaml:"max_reference_depth"`
	Templates         []Template `yaml:"templates"`
}

// LoadLibrary reads a YAML template file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	lib, err := ParseLibrary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// ParseLibrary decodes and validates a YAML template document.
func ParseLibrary(data []byte) (*Library, error) {
	var f libraryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return NewLibrary(f.Templates, f.MaxReferenceDepth)
}

// NewLibrary validates templates and freezes them. maxDepth <= 0 selects
// DefaultMaxReferenceDepth.
func NewLibrary(templates []Template, maxDepth int) (*Library, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReferenceDepth
	}
	lib := &Library{maxDepth: maxDepth}
	var errs []error
	seen := make(map[string]bool)
	for i, t := range templates {
		if t.Name == "" {
			t.Name = fmt.Sprintf("template%d", i+1)
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("template %q declared twice", t.Name))
			continue
		}
		seen[t.Name] = true
		t.Trigger.Guards = slices.Clone(t.Trigger.Guards)
		t.References = slices.Clone(t.References)
		for j := range t.References {
			t.References[j].Path = slices.Clone(t.References[j].Path)
		}
		if err := compile(&t, maxDepth); err != nil {
			errs = append(errs, fmt.Errorf("template %q: %w", t.Name, err))
			continue
		}
		lib.templates = append(lib.templates, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return lib, nil
}

// Templates returns the templates in declaration order.
func (l *Library) Templates() []Template {
	out := make([]Template, len(l.templates))
	copy(out, l.templates)
	return out
}

// Len returns the number of templates.
func (l *Library) Len() int { return len(l.templates) }

// MaxReferenceDepth returns the longest allowed reference path.
func (l *Library) MaxReferenceDepth() int { return l.maxDepth }

func compile(t *Template, maxDepth int) error {
	if t.Trigger.Predicate == "" {
		return errors.New("trigger predicate is required")
	}
	if t.Trigger.Arity < 0 {
		return fmt.Errorf("negative trigger arity %d", t.Trigger.Arity)
	}
	if len(t.Text) == 0 {
		return errors.New("at least one sentence is required")
	}
	for i := range t.Trigger.Guards {
		g := &t.Trigger.Guards[i]
		p, err := parsePath(g.Arg)
		if err != nil {
			return fmt.Errorf("guard %d: %w", i, err)
		}
		if p[0] >= t.Trigger.Arity {
			return fmt.Errorf("guard %d: argument %d outside %s", i, p[0], t.Trigger.Key())
		}
		g.path = p
	}

	refs := make(map[string]bool)
	for i := range t.References {
		ref := &t.References[i]
		if ref.Name == "" || strings.Contains(ref.Name, ".") {
			return fmt.Errorf("reference %d: invalid name %q", i, ref.Name)
		}
		if refs[ref.Name] {
			return fmt.Errorf("reference %q declared twice", ref.Name)
		}
		refs[ref.Name] = true
		if len(ref.Path) == 0 {
			return fmt.Errorf("reference %q: empty path", ref.Name)
		}
		if len(ref.Path) > maxDepth {
			return fmt.Errorf("reference %q: path of %d hops exceeds max_reference_depth %d", ref.Name, len(ref.Path), maxDepth)
		}
		for j := range ref.Path {
			if err := compileHop(&ref.Path[j]); err != nil {
				return fmt.Errorf("reference %q hop %d: %w", ref.Name, j, err)
			}
		}
	}

	t.Sentences = make([]Sentence, len(t.Text))
	for i, text := range t.Text {
		s, err := ParseSentence(text)
		if err != nil {
			return fmt.Errorf("sentence %d: %w", i, err)
		}
		for _, slot := range s.Slots {
			if slot.Kind == SlotRef && !refs[slot.Ref] {
				return fmt.Errorf("sentence %d: unknown reference %q", i, slot.Ref)
			}
			if slot.Kind == SlotArg && slot.Path[0] >= t.Trigger.Arity {
				return fmt.Errorf("sentence %d: argument %d outside %s", i, slot.Path[0], t.Trigger.Key())
			}
		}
		t.Sentences[i] = s
	}
	return nil
}

func compileHop(h *Hop) error {
	if h.Predicate == "" {
		return errors.New("predicate is required")
	}
	keys := make([]string, 0, len(h.Join))
	for k := range h.Join {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		hp, err := parsePath(k)
		if err != nil {
			return err
		}
		if hp[0] >= h.Arity {
			return fmt.Errorf("join argument %d outside %s", hp[0], h.Key())
		}
		pp, err := parsePath(h.Join[k])
		if err != nil {
			return err
		}
		h.joins = append(h.joins, [2][]int{hp, pp})
	}
	return nil
}

var pathPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

func parsePath(s string) ([]int, error) {
	if !pathPattern.MatchString(s) {
		return nil, fmt.Errorf("invalid argument path %q", s)
	}
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid argument path %q", s)
		}
		out[i] = n
	}
	return out, nil
}

// ParseSentence splits sentence text into fragments and placeholders.
// "{{" and "}}" stand for literal braces.
func ParseSentence(text string) (Sentence, error) {
	var (
		s   Sentence
		cur strings.Builder
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			cur.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			cur.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				return Sentence{}, fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			slot, err := parseSlot(text[i+1 : i+end])
			if err != nil {
				return Sentence{}, err
			}
			s.Fragments = append(s.Fragments, cur.String())
			s.Slots = append(s.Slots, slot)
			cur.Reset()
			i += end
		case c == '}':
			return Sentence{}, fmt.Errorf("unmatched '}' at offset %d", i)
		default:
			cur.WriteByte(c)
		}
	}
	s.Fragments = append(s.Fragments, cur.String())
	return s, nil
}

func parseSlot(raw string) (Slot, error) {
	slot := Slot{Raw: raw}
	switch raw {
	case "before":
		slot.Kind = SlotBefore
	case "after":
		slot.Kind = SlotAfter
	case "op":
		slot.Kind = SlotOp
	case "index":
		slot.Kind = SlotIndex
	case "distance":
		slot.Kind = SlotDistance
	default:
		if rest, ok := strings.CutPrefix(raw, "ref."); ok {
			name, path, hasPath := strings.Cut(rest, ".")
			if name == "" {
				return Slot{}, fmt.Errorf("placeholder {%s}: missing reference name", raw)
			}
			slot.Kind = SlotRef
			slot.Ref = name
			if hasPath {
				p, err := parsePath(path)
				if err != nil {
					return Slot{}, fmt.Errorf("placeholder {%s}: %w", raw, err)
				}
				slot.Path = p
			}
			return slot, nil
		}
		p, err := parsePath(raw)
		if err != nil {
			return Slot{}, fmt.Errorf("unknown placeholder {%s}", raw)
		}
		slot.Kind = SlotArg
		slot.Path = p
	}
	return slot, nil
}
