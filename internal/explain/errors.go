package explain

import "fmt"

// NoTemplateMatchError is returned when no template applies to a step or
// any of its supporting atoms.
type NoTemplateMatchError struct {
	Step      int
	Predicate string
}

func (e *NoTemplateMatchError) Error() string {
	return fmt.Sprintf("step %d: no template matches %s or its supporting atoms", e.Step, e.Predicate)
}

// BindingError is returned when a placeholder of the selected template
// cannot be filled.
type BindingError struct {
	Step        int
	Template    string
	Placeholder string
	Reason      string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("step %d: template %q: placeholder {%s}: %s", e.Step, e.Template, e.Placeholder, e.Reason)
}
