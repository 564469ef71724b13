package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stepwise/internal/store"
)

var (
	historyLimit  int
	historyDelete bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List archived runs or show one of them",
	Long: `Without arguments, lists the most recent archived runs. With a run id, renders
that run's explanations exactly as "explain" did (honoring --format).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: text, json or markdown (default from config)")
	historyCmd.Flags().BoolVar(&historyDelete, "delete", false, "Delete the run instead of showing it")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		runs, err := a.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No archived runs in "+a.Path()))
			return nil
		}
		for _, r := range runs {
			status := okStyle.Render(fmt.Sprintf("%d models", r.Models))
			if r.Failed > 0 {
				status += " " + errorStyle.Render(fmt.Sprintf("%d failed", r.Failed))
			}
			fmt.Fprintf(out, "%s  %s  %-8s %s  %s\n", r.ID, r.Started.Format(time.DateTime), r.Engine, r.Source, status)
		}
		return nil
	}

	if historyDelete {
		if err := a.DeleteRun(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "deleted "+args[0])
		return nil
	}
	run, err := a.LoadRun(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no archived run %s in %s", args[0], a.Path())
	}
	if err != nil {
		return err
	}
	format := outputFormat
	if format == "" {
		format = cfg.Explain.Format
	}
	return renderRun(out, *run, format)
}
