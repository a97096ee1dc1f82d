// Package lifecycle implements the four-stage memory lifecycle (spec
// §4.6): active, demoted, archived, rehydratable, plus the two-phase
// deletion path with its undo window. A Manager owns the stage machine;
// the hot/cold classifier it consults is advisory only — the stage
// machine itself is authoritative, driven by idle time since last
// access.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/memcore/memcore/internal/config"
	memerrors "github.com/memcore/memcore/internal/errors"
	"github.com/memcore/memcore/internal/lock"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/eventlog"
	"github.com/memcore/memcore/internal/store/kv"
	"github.com/memcore/memcore/internal/store/vector"
)

// Clock returns the current time. Tests inject a fake clock so tick()
// and the undo window can be exercised without sleeping, the same seam
// the teacher uses for its lookPath/execCommand/fileExists fields.
type Clock func() time.Time

// kvNamespace is the kv store namespace lifecycle writes archival
// summaries and undo-window entries under.
const kvNamespace = "lifecycle"

// Reindexer re-derives chunks from a source path during rehydration.
// The ingestion path (chunking, embedding, multi-store indexing)
// implements this; lifecycle only depends on the interface so it never
// imports the ingest package.
type Reindexer interface {
	Reindex(ctx context.Context, sourcePath string) (chunkIDs []string, err error)
}

// Summarizer produces an extractive summary of chunk text, used when a
// chunk is archived.
type Summarizer interface {
	Summarize(text string, keepSentences int) string
}

// Manager runs the lifecycle stage machine over a chunk store.
type Manager struct {
	chunks     *chunkstore.Store
	vectors    *vector.Store
	kv         *kv.Store
	events     *eventlog.Store
	cfg        *config.Config
	clock      Clock
	summarizer Summarizer
	reindexer  Reindexer
	notifier   Notifier
	lock       *lock.IndexLock
}

// New constructs a Manager. reindexer may be nil; Rehydrate then returns
// an invariant-broken internal error rather than silently no-op'ing.
func New(chunks *chunkstore.Store, vectors *vector.Store, kvStore *kv.Store, events *eventlog.Store, cfg *config.Config, reindexer Reindexer) *Manager {
	if cfg == nil {
		cfg = config.New()
	}
	return &Manager{
		chunks:     chunks,
		vectors:    vectors,
		kv:         kvStore,
		events:     events,
		cfg:        cfg,
		clock:      time.Now,
		summarizer: ExtractiveSummarizer{},
		reindexer:  reindexer,
	}
}

// WithClock overrides the manager's clock, for deterministic tests.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// WithSummarizer overrides the archival summarizer.
func (m *Manager) WithSummarizer(s Summarizer) *Manager {
	m.summarizer = s
	return m
}

// WithLock attaches the cross-process index lock guarding Tick's
// demotion/archival span (spec §9: "exclusive access only for the
// demotion/archival span") and returns the receiver for chaining.
func (m *Manager) WithLock(l *lock.IndexLock) *Manager {
	m.lock = l
	return m
}

// TickResult tallies the transitions one tick() pass performed.
type TickResult struct {
	Demoted      int
	Archived     int
	Rehydratable int
}

// Tick scans every active/demoted/archived chunk and advances any whose
// idle time has crossed a stage boundary. Exempt chunks (priority-high
// or personal-lifecycle) are never demoted or archived.
func (m *Manager) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	if m.lock != nil {
		if err := m.lock.LockContext(ctx); err != nil {
			return result, fmt.Errorf("acquire index lock for tick: %w", err)
		}
		defer m.lock.Unlock()
	}

	now := m.clock()

	active, err := m.chunks.ListByStage(ctx, model.StageActive)
	if err != nil {
		return result, fmt.Errorf("list active chunks: %w", err)
	}
	for _, c := range active {
		if c.Exempt() {
			continue
		}
		if now.Sub(c.LastAccessedAt) >= m.shortTerm() {
			if err := m.demote(ctx, c, now); err != nil {
				return result, err
			}
			result.Demoted++
		}
	}

	demoted, err := m.chunks.ListByStage(ctx, model.StageDemoted)
	if err != nil {
		return result, fmt.Errorf("list demoted chunks: %w", err)
	}
	for _, c := range demoted {
		if c.Exempt() {
			continue
		}
		if now.Sub(c.LastAccessedAt) >= m.midTerm() {
			if err := m.archive(ctx, c, now); err != nil {
				return result, err
			}
			result.Archived++
		}
	}

	archived, err := m.chunks.ListByStage(ctx, model.StageArchived)
	if err != nil {
		return result, fmt.Errorf("list archived chunks: %w", err)
	}
	for _, c := range archived {
		if c.Exempt() {
			continue
		}
		if now.Sub(c.LastAccessedAt) >= m.longTerm() {
			if err := m.toRehydratable(ctx, c); err != nil {
				return result, err
			}
			result.Rehydratable++
		}
	}

	return result, nil
}

func (m *Manager) shortTerm() time.Duration {
	return time.Duration(m.cfg.Decay.ShortTermHours) * time.Hour
}

func (m *Manager) midTerm() time.Duration {
	return time.Duration(m.cfg.Decay.MidTermDays*24) * time.Hour
}

func (m *Manager) longTerm() time.Duration {
	return time.Duration(m.cfg.Decay.LongTermDays*24) * time.Hour
}

// demote transitions active -> demoted. The chunk remains in the vector
// index; only its score multiplier changes.
func (m *Manager) demote(ctx context.Context, c *model.Chunk, now time.Time) error {
	if err := m.chunks.SetStage(ctx, c.ID, model.StageDemoted); err != nil {
		return fmt.Errorf("demote %s: %w", c.ID, err)
	}
	_, err := m.events.Append(ctx, model.EventDemote, "", map[string]string{"chunk_id": c.ID})
	return err
}

// archive transitions demoted -> archived: generates an extractive
// summary, stores it and the source path in the KV store, and removes
// the chunk from the vector index.
func (m *Manager) archive(ctx context.Context, c *model.Chunk, now time.Time) error {
	summary := m.summarizer.Summarize(c.Text, 3)

	if err := m.kv.Put(ctx, kvNamespace, archivedSummaryKey(c.ID), summary); err != nil {
		return fmt.Errorf("store archival summary for %s: %w", c.ID, err)
	}
	if err := m.kv.Put(ctx, kvNamespace, archivedPathKey(c.ID), c.SourcePath); err != nil {
		return fmt.Errorf("store archival source path for %s: %w", c.ID, err)
	}
	if m.vectors != nil {
		if err := m.vectors.Delete(ctx, []string{c.ID}); err != nil {
			return fmt.Errorf("remove %s from vector index: %w", c.ID, err)
		}
	}
	if err := m.chunks.SetStage(ctx, c.ID, model.StageArchived); err != nil {
		return fmt.Errorf("archive %s: %w", c.ID, err)
	}
	_, err := m.events.Append(ctx, model.EventArchive, "", map[string]string{"chunk_id": c.ID, "source_path": c.SourcePath})
	return err
}

// toRehydratable transitions archived -> rehydratable: drops the
// summary, keeping only the source-path key.
func (m *Manager) toRehydratable(ctx context.Context, c *model.Chunk) error {
	if err := m.kv.Delete(ctx, kvNamespace, archivedSummaryKey(c.ID)); err != nil {
		return fmt.Errorf("drop summary for %s: %w", c.ID, err)
	}
	if err := m.kv.Put(ctx, kvNamespace, rehydratablePathKey(c.ID), c.SourcePath); err != nil {
		return fmt.Errorf("store rehydratable path for %s: %w", c.ID, err)
	}
	if err := m.kv.Delete(ctx, kvNamespace, archivedPathKey(c.ID)); err != nil {
		return fmt.Errorf("drop archived path for %s: %w", c.ID, err)
	}
	return m.chunks.SetStage(ctx, c.ID, model.StageRehydratable)
}

// OnQueryHit bumps a chunk's access counters. Called by the Nexus
// pipeline for every chunk retrieved in a result set, feeding the
// hot/cold classifier and resetting the stage machine's idle clock.
func (m *Manager) OnQueryHit(ctx context.Context, chunkID string) error {
	return m.chunks.UpdateAccess(ctx, chunkID, m.clock())
}

// Rehydrate brings a chunk back to active from archived or
// rehydratable: re-reads the source, re-chunks, re-embeds, re-indexes,
// and deletes the KV keys the archived/rehydratable stages created.
func (m *Manager) Rehydrate(ctx context.Context, chunkID string) (*model.Chunk, error) {
	c, ok, err := m.chunks.Get(ctx, chunkID)
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if !ok {
		return nil, memerrors.New(memerrors.ErrCodeSourceMissing, "chunk not found: "+chunkID, nil)
	}
	if c.Stage != model.StageArchived && c.Stage != model.StageRehydratable {
		return c, nil // already active or demoted, nothing to do
	}
	if m.reindexer == nil {
		return nil, memerrors.New(memerrors.ErrCodeInvariantBroken, "no reindexer configured for rehydration", nil)
	}

	if _, err := m.reindexer.Reindex(ctx, c.SourcePath); err != nil {
		return nil, fmt.Errorf("reindex %s: %w", c.SourcePath, err)
	}

	if err := m.kv.Delete(ctx, kvNamespace, archivedSummaryKey(chunkID)); err != nil {
		return nil, err
	}
	if err := m.kv.Delete(ctx, kvNamespace, archivedPathKey(chunkID)); err != nil {
		return nil, err
	}
	if err := m.kv.Delete(ctx, kvNamespace, rehydratablePathKey(chunkID)); err != nil {
		return nil, err
	}
	if err := m.chunks.SetStage(ctx, chunkID, model.StageActive); err != nil {
		return nil, err
	}
	if _, err := m.events.Append(ctx, model.EventRehydrate, "", map[string]string{"chunk_id": chunkID}); err != nil {
		return nil, err
	}

	c.Stage = model.StageActive
	c.ScoreMult = model.StageActive.ScoreMultiplier()
	return c, nil
}

func archivedSummaryKey(id string) string     { return "archived:" + id }
func archivedPathKey(id string) string        { return "archived:" + id + ":path" }
func rehydratablePathKey(id string) string    { return "rehydratable:" + id + ":path" }
