package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/tui"
)

func newInspectCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Browse recent query traces and lifecycle stats in a terminal dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return fmt.Errorf("start memcore: %w", err)
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()

			traces, err := a.traces.ListRecent(ctx, limit)
			if err != nil {
				return fmt.Errorf("list recent traces: %w", err)
			}

			counts, err := lifecycleCounts(ctx, a)
			if err != nil {
				return fmt.Errorf("count lifecycle stages: %w", err)
			}

			m := tui.NewModel(traces, counts)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Number of recent traces to load")
	return cmd
}

// lifecycleCounts tallies how many chunks currently sit in each
// lifecycle stage, for the inspector's footer.
func lifecycleCounts(ctx context.Context, a *app) (tui.LifecycleCounts, error) {
	var counts tui.LifecycleCounts

	active, err := a.chunks.ListByStage(ctx, model.StageActive)
	if err != nil {
		return counts, err
	}
	demoted, err := a.chunks.ListByStage(ctx, model.StageDemoted)
	if err != nil {
		return counts, err
	}
	archived, err := a.chunks.ListByStage(ctx, model.StageArchived)
	if err != nil {
		return counts, err
	}
	rehydratable, err := a.chunks.ListByStage(ctx, model.StageRehydratable)
	if err != nil {
		return counts, err
	}

	counts.Active = len(active)
	counts.Demoted = len(demoted)
	counts.Archived = len(archived)
	counts.Rehydratable = len(rehydratable)
	return counts, nil
}
