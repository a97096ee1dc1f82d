package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLifecycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run the memory lifecycle stage machine",
	}
	cmd.AddCommand(newLifecycleTickCmd())
	cmd.AddCommand(newLifecyclePurgeCmd())
	return cmd
}

func newLifecycleTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Advance every chunk whose idle time has crossed a stage boundary",
		Long: `Scan every active, demoted, and archived chunk and advance any whose
idle time since last access has crossed the configured decay thresholds:
active -> demoted -> archived -> rehydratable.

Intended to run on a schedule (e.g. a cron entry) alongside a running
memcore server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return fmt.Errorf("start memcore: %w", err)
			}
			defer func() { _ = a.Close() }()

			result, err := a.lifecycle.Tick(cmd.Context())
			if err != nil {
				return fmt.Errorf("lifecycle tick: %w", err)
			}

			fmt.Printf("demoted %d, archived %d, rehydratable %d\n",
				result.Demoted, result.Archived, result.Rehydratable)
			return nil
		},
	}
}

func newLifecyclePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete chunks whose undo window has expired",
		Long: `Finish the two-phase deletion path: any chunk that was soft-deleted
more than the undo window ago is purged from every store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return fmt.Errorf("start memcore: %w", err)
			}
			defer func() { _ = a.Close() }()

			n, err := a.lifecycle.PurgeExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge expired: %w", err)
			}

			fmt.Printf("purged %d chunk(s)\n", n)
			return nil
		},
	}
}
