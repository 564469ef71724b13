package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepwise/internal/config"
	"stepwise/internal/pipeline"
	"stepwise/internal/progression"
	"stepwise/internal/store"
)

// =============================================================================
// SOLVE / EXPLAIN / PROGRESSION - commands that run the engine
// =============================================================================

var (
	outputFormat  string
	archiveRun    bool
	noArchive     bool
	maxGram       int
	progressionTo string
)

var solveCmd = &cobra.Command{
	Use:   "solve [file]",
	Short: "Run the engine and print the models",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

var explainCmd = &cobra.Command{
	Use:   "explain [file]",
	Short: "Explain every model step by step",
	Long: `Runs the engine, reconstructs the step chain of every model and renders it
with the configured templates. A model that cannot be explained is reported
with its error; the others are still explained.

Examples:
  stepwise explain algebra.lp
  stepwise explain --format markdown algebra.lp
  stepwise explain --archive algebra.lp`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

var progressionCmd = &cobra.Command{
	Use:   "progression [file]",
	Short: "Write the solution progression graph as Graphviz DOT",
	Long: `Explains every model, then links each distinct operation sequence to the
longer sequences that contain it. Pipe the output to "dot -Tsvg".`,
	Args: cobra.ExactArgs(1),
	RunE: runProgression,
}

func init() {
	explainCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: text, json or markdown (default from config)")
	explainCmd.Flags().BoolVar(&archiveRun, "archive", false, "Save the run to the archive")
	explainCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Do not save the run even if the config says so")
	progressionCmd.Flags().IntVar(&maxGram, "max-gram", progression.DefaultMaxGram, "Longest operation run linked to a longer sequence")
	progressionCmd.Flags().StringVarP(&progressionTo, "output", "o", "", "Write DOT to this file instead of stdout")
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	prog, err := compileFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	res, err := p.Solve(ctx, prog, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Unsatisfiable {
		fmt.Fprintln(out, errorStyle.Render("UNSATISFIABLE"))
		return nil
	}
	for i, m := range res.Models {
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Answer %d", i+1)))
		texts := make([]string, len(m))
		for j, a := range m {
			texts[j] = a.String()
		}
		slices.Sort(texts)
		for _, t := range texts {
			fmt.Fprintln(out, "  "+t)
		}
	}
	logger.Info("solved", zap.String("file", args[0]), zap.Int("models", len(res.Models)), zap.Duration("duration", res.Duration))
	return nil
}

// explainFile runs the whole pipeline on one file.
func explainFile(ctx context.Context, cfg *config.Config, path string) (*pipeline.Report, error) {
	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	src, err := readSource(path)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, path, src, nil)
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	rep, err := explainFile(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	run := rep.Archive()
	if (archiveRun || cfg.Store.Archive) && !noArchive {
		if err := archive(ctx, cfg, run); err != nil {
			return err
		}
	}
	format := outputFormat
	if format == "" {
		format = cfg.Explain.Format
	}
	if err := renderRun(cmd.OutOrStdout(), run, format); err != nil {
		return err
	}
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("%d of %d models could not be explained", n, len(rep.Models))
	}
	return nil
}

func archive(ctx context.Context, cfg *config.Config, run store.Run) error {
	a, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer a.Close()
	id, err := a.SaveRun(ctx, run)
	if err != nil {
		return err
	}
	logger.Info("run archived", zap.String("id", id), zap.String("path", a.Path()))
	return nil
}

func runProgression(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	rep, err := explainFile(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	sols := rep.Solutions()
	if len(sols) == 0 {
		return fmt.Errorf("%s: no model could be explained", args[0])
	}
	dot, err := progression.Build(sols, maxGram).DOT()
	if err != nil {
		return err
	}
	dot = append(dot, '\n')
	if progressionTo == "" {
		_, err = cmd.OutOrStdout().Write(dot)
		return err
	}
	if err := os.WriteFile(progressionTo, dot, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", progressionTo, err)
	}
	logger.Info("progression written", zap.String("path", progressionTo), zap.Int("solutions", len(sols)))
	return nil
}
