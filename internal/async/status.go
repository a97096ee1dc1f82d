// Package async tracks ingestion progress and runs vault ingestion on a
// background goroutine.
package async

import (
	"sync"
	"time"
)

// IngestStatus is the overall state of a vault ingestion run.
type IngestStatus string

const (
	StatusIngesting IngestStatus = "ingesting"
	StatusReady     IngestStatus = "ready"
	StatusError     IngestStatus = "error"
)

// IngestStage is the current phase of an ingestion transaction.
type IngestStage string

const (
	StageScanning  IngestStage = "scanning"
	StageChunking  IngestStage = "chunking"
	StageEmbedding IngestStage = "embedding"
	StageGraphing  IngestStage = "graphing"
	StageIndexing  IngestStage = "indexing"
)

// ProgressSnapshot is an immutable copy of ingestion progress, safe to
// hand to readers outside the ingesting goroutine.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksIndexed  int     `json:"chunks_indexed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of an ingestion run.
type Progress struct {
	mu sync.RWMutex

	status         IngestStatus
	stage          IngestStage
	filesTotal     int
	filesProcessed int
	chunksTotal    int
	chunksIndexed  int
	startTime      time.Time
	errorMessage   string
}

// NewProgress creates a tracker initialized for a fresh ingestion run.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIngesting,
		stage:     StageScanning,
		startTime: time.Now(),
	}
}

func (p *Progress) SetStage(stage IngestStage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.filesTotal = total
}

func (p *Progress) UpdateFiles(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed = processed
}

func (p *Progress) SetChunksTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksTotal = total
}

func (p *Progress) UpdateChunks(indexed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksIndexed = indexed
}

func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.errorMessage = message
}

func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
}

func (p *Progress) IsIngesting() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIngesting
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.filesTotal > 0 {
		pct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
