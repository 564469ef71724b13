package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepwise/internal/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch [file...]",
	Short: "Re-explain rule files whenever they change",
	Long: `Explains each file once, then again every time it is saved. Errors are
printed and watching continues. Stop with Ctrl-C.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: text, json or markdown (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format := outputFormat
	if format == "" {
		format = cfg.Explain.Format
	}
	out := cmd.OutOrStdout()

	explainOnce := func(ctx context.Context, path string) {
		rep, err := explainFile(ctx, cfg, path)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("ERROR")+" "+err.Error())
			return
		}
		if cfg.Store.Archive {
			if err := archive(ctx, cfg, rep.Archive()); err != nil {
				logger.Warn("archive failed", zap.Error(err))
			}
		}
		if err := renderRun(out, rep.Archive(), format); err != nil {
			logger.Error("render failed", zap.Error(err))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	for _, path := range args {
		explainOnce(ctx, path)
	}

	w, err := pipeline.NewWatcher(args, cfg.WatchDebounce(), explainOnce)
	if err != nil {
		return err
	}
	logger.Info("watching", zap.Strings("files", args), zap.Duration("debounce", cfg.WatchDebounce()))
	return w.Run(ctx)
}
