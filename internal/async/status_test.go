package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressSnapshotComputesPercentage(t *testing.T) {
	p := NewProgress()
	p.SetStage(StageChunking, 10)
	p.UpdateFiles(5)

	snap := p.Snapshot()
	assert.Equal(t, "chunking", snap.Stage)
	assert.Equal(t, 50.0, snap.ProgressPct)
}

func TestProgressSetErrorMarksStatus(t *testing.T) {
	p := NewProgress()
	p.SetError("boom")
	snap := p.Snapshot()
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "boom", snap.ErrorMessage)
	assert.False(t, p.IsIngesting())
}

func TestBackgroundIngestorRunsToCompletion(t *testing.T) {
	b := NewBackgroundIngestor()
	b.IngestFunc = func(ctx context.Context, progress *Progress) error {
		progress.SetStage(StageEmbedding, 1)
		progress.UpdateFiles(1)
		return nil
	}

	b.Start(context.Background())
	require.Eventually(t, func() bool { return !b.IsRunning() }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Wait())
	assert.Equal(t, string(StatusReady), b.Progress().Snapshot().Status)
}

func TestBackgroundIngestorPropagatesError(t *testing.T) {
	b := NewBackgroundIngestor()
	b.IngestFunc = func(ctx context.Context, progress *Progress) error {
		return errors.New("ingest failed")
	}

	b.Start(context.Background())
	err := b.Wait()
	require.Error(t, err)
	assert.Equal(t, string(StatusError), b.Progress().Snapshot().Status)
}
