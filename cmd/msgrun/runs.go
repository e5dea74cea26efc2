package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/msgrun/pkg/kernel/engine"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [dir]",
	Short: "List persisted run summaries, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	start := "."
	if len(args) == 1 {
		start = args[0]
	}
	cfg, err := loadWorkspace(start)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	summaries, err := listSummaries(cfg.RunsDir)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "no runs in %s\n", cfg.RunsDir)
		return nil
	}
	if runsLimit > 0 && len(summaries) > runsLimit {
		summaries = summaries[:runsLimit]
	}
	fmt.Fprintf(out, "%-36s  %-20s  %-17s  %6s  %s\n", "RUN", "FINISHED", "STATE", "POSTED", "SCRIPT")
	for _, s := range summaries {
		script := s.Script
		if s.Simulate {
			script += " (simulation)"
		}
		fmt.Fprintf(out, "%-36s  %-20s  %-17s  %6d  %s\n",
			s.RunID, s.Finished.Local().Format("2006-01-02 15:04:05"), s.State, s.Posted, script)
	}
	return nil
}

// listSummaries loads every summary under dir. Entries without a readable
// summary are skipped.
func listSummaries(dir string) ([]*engine.Summary, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	var out []*engine.Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := engine.LoadSummary(dir, e.Name())
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Finished.After(out[j].Finished) })
	return out, nil
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Show at most this many runs (0 = all)")
}
