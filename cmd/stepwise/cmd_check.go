package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stepwise/internal/program"
)

// =============================================================================
// CHECK / FMT / GRAPH - static commands that never run an engine
// =============================================================================

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Parse and validate rule files",
	Long: `Parses each file and checks range restriction, arity consistency and
stratification. Every problem in a file is reported, not just the first.
Exits non-zero when any file is invalid.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

var fmtWrite bool

var fmtCmd = &cobra.Command{
	Use:   "fmt [file]",
	Short: "Print a rule file in canonical form",
	Long: `Reserializes the program in canonical, clingo-compatible text. Parsing the
output again yields the same program.`,
	Args: cobra.ExactArgs(1),
	RunE: runFmt,
}

var graphCmd = &cobra.Command{
	Use:   "graph [file]",
	Short: "Show the predicate dependency graph and its strata",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	fmtCmd.Flags().BoolVarP(&fmtWrite, "write", "w", false, "Rewrite the file instead of printing")
}

// expandArgs expands globs the shell left alone.
func expandArgs(patterns []string) []string {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			files = append(files, pattern)
			continue
		}
		files = append(files, matches...)
	}
	return files
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, file := range expandArgs(args) {
		src, err := readSource(file)
		if err == nil {
			_, err = program.Compile(src)
		}
		if err != nil {
			failed++
			logger.Debug("check failed", zap.String("file", file), zap.Error(err))
			fmt.Fprintln(out, errorStyle.Render("ERROR")+" "+file)
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Fprintln(out, "  "+line)
			}
			continue
		}
		fmt.Fprintln(out, okStyle.Render("OK")+" "+file)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(expandArgs(args)))
	}
	return nil
}

func compileFile(path string) (*program.Program, error) {
	src, err := readSource(path)
	if err != nil {
		return nil, err
	}
	prog, err := program.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

func runFmt(cmd *cobra.Command, args []string) error {
	prog, err := compileFile(args[0])
	if err != nil {
		return err
	}
	text := program.Format(prog)
	if !fmtWrite {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], []byte(text), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}
	logger.Info("formatted", zap.String("file", args[0]))
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	prog, err := compileFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Dependencies"))
	edges := prog.Graph.Edges()
	if len(edges) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  none"))
	}
	for _, e := range edges {
		fmt.Fprintf(out, "  %s -> %s %s\n", e.From, e.To, mutedStyle.Render("("+e.Kind.String()+")"))
	}
	fmt.Fprintln(out, titleStyle.Render("Strata"))
	for i, stratum := range prog.Graph.Strata() {
		names := make([]string, len(stratum))
		for j, k := range stratum {
			names[j] = k.String()
		}
		fmt.Fprintf(out, "  %d: %s\n", i, strings.Join(names, " "))
	}
	return nil
}
