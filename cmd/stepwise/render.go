package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"stepwise/internal/store"
)

// Styles for text output. lipgloss drops colors when stdout is not a
// terminal.
var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	stepStyle  = lipgloss.NewStyle().
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))
)

const (
	formatText     = "text"
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

// renderRun writes an explained run in the requested format.
func renderRun(w io.Writer, run store.Run, format string) error {
	switch format {
	case formatText, "":
		return renderText(w, run)
	case formatJSON:
		return renderJSON(w, run)
	case formatMarkdown:
		return renderMarkdown(w, run)
	}
	return fmt.Errorf("unknown format %q (want text, json or markdown)", format)
}

func renderText(w io.Writer, run store.Run) error {
	fmt.Fprintln(w, titleStyle.Render(run.Source))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("run %s, engine %s, %s", run.ID, run.Engine, run.Duration.Round(time.Millisecond))))
	if run.Unsatisfiable {
		fmt.Fprintln(w, errorStyle.Render("unsatisfiable: no models"))
		return nil
	}
	for _, m := range run.Models {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Model "+m.ID))
		if m.Error != "" {
			fmt.Fprintln(w, errorStyle.Render("error: "+m.Error))
			continue
		}
		for _, s := range m.Steps {
			fmt.Fprintln(w, stepStyle.Render(strings.Join(s.Sentences, "\n")))
		}
	}
	return nil
}

type jsonStep struct {
	Index     int      `json:"index"`
	Template  string   `json:"template"`
	Sentences []string `json:"sentences"`
}

type jsonModel struct {
	ID    string     `json:"id"`
	Atoms []string   `json:"atoms,omitempty"`
	Steps []jsonStep `json:"steps"`
	Error string     `json:"error,omitempty"`
}

type jsonRun struct {
	ID            string      `json:"run_id"`
	Source        string      `json:"source"`
	Engine        string      `json:"engine"`
	DurationMS    int64       `json:"duration_ms"`
	Unsatisfiable bool        `json:"unsatisfiable"`
	Models        []jsonModel `json:"models"`
}

func renderJSON(w io.Writer, run store.Run) error {
	out := jsonRun{
		ID:            run.ID,
		Source:        run.Source,
		Engine:        run.Engine,
		DurationMS:    run.Duration.Milliseconds(),
		Unsatisfiable: run.Unsatisfiable,
		Models:        []jsonModel{},
	}
	for _, m := range run.Models {
		jm := jsonModel{ID: m.ID, Atoms: m.Atoms, Steps: []jsonStep{}, Error: m.Error}
		for _, s := range m.Steps {
			jm.Steps = append(jm.Steps, jsonStep(s))
		}
		out.Models = append(out.Models, jm)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// markdown builds the Markdown document that renderMarkdown styles.
func markdown(run store.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", run.Source)
	fmt.Fprintf(&b, "_run %s, engine %s_\n\n", run.ID, run.Engine)
	if run.Unsatisfiable {
		b.WriteString("**Unsatisfiable:** the program has no models.\n")
		return b.String()
	}
	for _, m := range run.Models {
		fmt.Fprintf(&b, "## Model %s\n\n", m.ID)
		if m.Error != "" {
			fmt.Fprintf(&b, "**Error:** `%s`\n\n", m.Error)
			continue
		}
		for _, s := range m.Steps {
			fmt.Fprintf(&b, "%d. %s\n", s.Index, strings.Join(s.Sentences, " "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderMarkdown(w io.Writer, run store.Run) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(markdown(run))
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
