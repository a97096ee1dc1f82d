package async

import (
	"context"
	"sync"
)

// IngestFunc performs the actual vault ingestion work.
type IngestFunc func(ctx context.Context, progress *Progress) error

// BackgroundIngestor runs a vault ingestion in a background goroutine with
// progress tracking, mirroring how the vault watcher triggers reindexing
// without blocking the MCP server's request loop.
type BackgroundIngestor struct {
	progress *Progress

	// IngestFunc is injected so callers (and tests) can supply the
	// actual chunk/embed/graph pipeline.
	IngestFunc IngestFunc

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewBackgroundIngestor creates a new background ingestor.
func NewBackgroundIngestor() *BackgroundIngestor {
	return &BackgroundIngestor{
		progress: NewProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this run.
func (b *BackgroundIngestor) Progress() *Progress {
	return b.progress
}

// IsRunning reports whether ingestion is currently active.
func (b *BackgroundIngestor) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins ingestion in a background goroutine. Non-blocking.
func (b *BackgroundIngestor) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIngestor) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.IngestFunc != nil {
		if err := b.IngestFunc(ctx, b.progress); err != nil {
			b.progress.SetError(err.Error())
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			return
		}
	}

	b.progress.SetReady()
}

// Stop signals the ingestor to stop and waits for it to finish.
func (b *BackgroundIngestor) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the run completes and returns any error.
func (b *BackgroundIngestor) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
