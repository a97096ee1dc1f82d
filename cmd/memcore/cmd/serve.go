package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/watcher"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Start the memcore MCP server, serving vector_search, memory_store,
graph_query, entity_extraction, hipporag_retrieve, and detect_mode tool
calls over stdio.

A vault watcher runs alongside the server, re-indexing any markdown
file in the vault that changes on disk while the server is running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return fmt.Errorf("start memcore: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("close memcore app", slog.String("error", err.Error()))
		}
	}()

	srv, err := a.mcpServer()
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}
	srv = srv.WithLogger(slog.Default())

	stopWatch, err := a.startWatcher(ctx)
	if err != nil {
		slog.Warn("vault watcher did not start", slog.String("error", err.Error()))
	} else {
		defer stopWatch()
	}

	slog.Info("memcore serving", slog.String("vault", a.cfg.Storage.VaultPath))
	return srv.Serve(ctx)
}

// startWatcher launches a vault file watcher that re-indexes a markdown
// file whenever it is created, modified, or deleted on disk, keeping
// the retrieval index current for a server left running across editing
// sessions. Returns a stop function.
func (a *app) startWatcher(ctx context.Context) (func(), error) {
	w, err := watcher.New(watcher.DefaultOptions())
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx, a.cfg.Storage.VaultPath); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				a.handleWatchEvent(ctx, ev)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				slog.Warn("vault watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return func() { _ = w.Stop() }, nil
}

func (a *app) handleWatchEvent(ctx context.Context, ev watcher.FileEvent) {
	switch ev.Op {
	case watcher.OpDelete:
		if err := a.indexer.DeleteByPath(ctx, ev.Path); err != nil {
			slog.Warn("remove deleted vault file", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	case watcher.OpCreate, watcher.OpModify:
		if _, err := a.reindexer.Reindex(ctx, ev.Path); err != nil {
			slog.Warn("reindex changed vault file", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}
}
