package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/chunk"
)

const ingestHashNamespace = "ingest_hash"

func newIngestCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Walk the vault and index every markdown file",
		Long: `Index every markdown file under the configured vault path.

Each file is chunked, embedded, and written to the chunk, vector, and
graph stores. Re-running ingest re-indexes a file whose content has
changed and leaves unchanged files alone, unless --force is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index every file even if its content is unchanged")
	return cmd
}

func runIngest(ctx context.Context, force bool) error {
	a, err := openApp()
	if err != nil {
		return fmt.Errorf("start memcore: %w", err)
	}
	defer func() { _ = a.Close() }()

	var indexed, skipped int
	walkErr := filepath.WalkDir(a.cfg.Storage.VaultPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		digest := contentHash(string(content))
		if !force {
			if prev, ok, _ := a.kv.Get(ctx, ingestHashNamespace, path); ok && prev == digest {
				skipped++
				return nil
			}
		}

		if _, err := a.indexer.IndexDocument(ctx, chunk.Document{Path: path, Content: string(content)}, nil); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		if err := a.kv.Put(ctx, ingestHashNamespace, path, digest); err != nil {
			return fmt.Errorf("record content hash for %s: %w", path, err)
		}
		indexed++
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk vault: %w", walkErr)
	}

	fmt.Printf("indexed %d file(s), skipped %d unchanged\n", indexed, skipped)
	return nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
