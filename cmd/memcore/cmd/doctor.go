package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/config"
)

// minFreeBytes is the disk space doctor requires in the vault's data
// directory before it reports healthy, matching the order of magnitude
// the teacher's preflight checker enforces for its own index data.
const minFreeBytes = 100 * 1024 * 1024

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check memcore's vault path, free disk space, and stores",
		Long: `Run diagnostics over the configured vault and its .memcore data
directory:

  - the vault path exists and is a directory
  - at least 100MB of free disk space is available
  - the stores open cleanly (the vector count and graph node count
    are printed)

No cross-store consistency check is made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	ok := true

	if info, err := os.Stat(cfg.Storage.VaultPath); err != nil || !info.IsDir() {
		fmt.Fprintf(out, "[FAIL] vault path %s: %v\n", cfg.Storage.VaultPath, err)
		ok = false
	} else {
		fmt.Fprintf(out, "[PASS] vault path %s exists\n", cfg.Storage.VaultPath)
	}

	if free, err := freeDiskBytes(cfg.Storage.VaultPath); err != nil {
		fmt.Fprintf(out, "[WARN] could not determine free disk space: %v\n", err)
	} else if free < minFreeBytes {
		fmt.Fprintf(out, "[FAIL] only %d MB free, need at least 100 MB\n", free/(1024*1024))
		ok = false
	} else {
		fmt.Fprintf(out, "[PASS] %d MB free disk space\n", free/(1024*1024))
	}

	a, err := openApp()
	if err != nil {
		fmt.Fprintf(out, "[FAIL] could not open stores: %v\n", err)
		return fmt.Errorf("doctor: stores did not open cleanly")
	}
	defer func() { _ = a.Close() }()

	fmt.Fprintf(out, "[PASS] chunk store opened (%d vectors indexed, %d graph nodes)\n",
		a.vectors.Count(), a.graph.NodeCount())

	if !ok {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	return nil
}

func freeDiskBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
