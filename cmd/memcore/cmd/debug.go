package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/debug"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect query traces and error attribution",
	}
	cmd.AddCommand(newDebugTracesCmd())
	cmd.AddCommand(newDebugStatsCmd())
	return cmd
}

func newDebugTracesCmd() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List the most recent query traces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return fmt.Errorf("start memcore: %w", err)
			}
			defer func() { _ = a.Close() }()

			summaries, err := debug.RecentTraces(cmd.Context(), a.traces, n)
			if err != nil {
				return fmt.Errorf("list recent traces: %w", err)
			}

			for _, s := range summaries {
				line := fmt.Sprintf("%s  mode=%-13s  %q", s.TraceID, s.Mode, s.Query)
				if s.Error != "" {
					line += "  error=" + s.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "limit", "n", 20, "Number of traces to list")
	return cmd
}

func newDebugStatsCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize error attribution over a recent time window",
		Long: `Tally context_bug/model_bug/system_error attribution across every
trace within the window, classified by the same heuristic the replay
tool uses to explain an individual failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return fmt.Errorf("start memcore: %w", err)
			}
			defer func() { _ = a.Close() }()

			since := time.Now().Add(-window)
			recent, err := a.traces.ListRecent(cmd.Context(), 10000)
			if err != nil {
				return fmt.Errorf("list recent traces: %w", err)
			}
			windowed := recent[:0:0]
			for _, t := range recent {
				if t.Timestamp.After(since) {
					windowed = append(windowed, t)
				}
			}

			summary := debug.Summarize(windowed)
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d context_bugs=%d model_bugs=%d system_errors=%d\n",
				summary.Total, summary.ContextBugs, summary.ModelBugs, summary.SystemErrors)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to summarize")
	return cmd
}
