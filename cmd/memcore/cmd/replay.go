package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/debug"
)

func newReplayCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "replay <trace-id>",
		Short: "Re-run a stored query trace and diff it against the original",
		Long: `Replay re-runs a stored trace's query through the current index and
reports whether the result set has drifted: which chunks are new,
which dropped out, and how much each shared chunk's score moved.

A trace is Deterministic when nothing has moved, which is expected for
any trace replayed before the index has been re-ingested or ticked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the diff as JSON")
	return cmd
}

func runReplay(cmd *cobra.Command, traceID string, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return fmt.Errorf("start memcore: %w", err)
	}
	defer func() { _ = a.Close() }()

	replayer := debug.NewReplayer(a.pipeline, a.traces)
	_, diff, err := replayer.Replay(cmd.Context(), traceID)
	if err != nil {
		return fmt.Errorf("replay %s: %w", traceID, err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(diff)
	}

	if diff.Deterministic {
		fmt.Fprintf(cmd.OutOrStdout(), "trace %s is deterministic: no drift since the original run\n", traceID)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "trace %s drifted (mode changed: %v, partial changed: %v):\n",
		traceID, diff.ModeChanged, diff.PartialChanged)
	for _, cd := range diff.ChunkDiffs {
		switch {
		case cd.OnlyInNew:
			fmt.Fprintf(cmd.OutOrStdout(), "  + %s (new, score %.3f)\n", cd.ChunkID, cd.NewScore)
		case cd.OnlyInOld:
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s (dropped, was %.3f)\n", cd.ChunkID, cd.OldScore)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  ~ %s (%.3f -> %.3f, shift %.3f)\n", cd.ChunkID, cd.OldScore, cd.NewScore, cd.ScoreShift)
		}
	}
	return nil
}
