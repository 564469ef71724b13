package pipeline

import (
	"stepwise/internal/progression"
	"stepwise/internal/store"
)

// Archive converts the report into its archived form.
func (r *Report) Archive() store.Run {
	run := store.Run{
		ID:            r.RunID,
		Source:        r.Source,
		Engine:        r.Engine,
		Started:       r.Started,
		Duration:      r.Duration,
		Unsatisfiable: r.Unsatisfiable,
	}
	for _, m := range r.Models {
		am := store.Model{ID: string(m.ID)}
		for _, a := range m.Atoms {
			am.Atoms = append(am.Atoms, a.String())
		}
		for _, s := range m.Steps {
			am.Steps = append(am.Steps, store.Step{Index: s.Index, Template: s.Template, Sentences: s.Sentences})
		}
		if m.Err != nil {
			am.Error = m.Err.Error()
		}
		run.Models = append(run.Models, am)
	}
	return run
}

// Solutions returns the operation sequences of the explained models.
// Failed models are left out.
func (r *Report) Solutions() []progression.Solution {
	var out []progression.Solution
	for _, m := range r.Models {
		if m.Err != nil || len(m.Nodes) == 0 {
			continue
		}
		out = append(out, progression.FromNodes(m.Nodes))
	}
	return out
}
