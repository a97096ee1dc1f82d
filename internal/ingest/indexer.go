// Package ingest implements the per-document indexing transaction (spec
// §4.7/§4.9): chunk, embed, and fan the result out to the vector store,
// graph store, and event log, with compensating deletes if a later
// stage fails partway through. It is grounded on the teacher's Runner
// (internal/index/runner.go), generalized from a whole-project scan to
// a single Document so both a bulk vault scan and a watcher-triggered
// single-file re-index share one code path.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/memcore/memcore/internal/async"
	"github.com/memcore/memcore/internal/chunk"
	"github.com/memcore/memcore/internal/embed"
	memerrors "github.com/memcore/memcore/internal/errors"
	"github.com/memcore/memcore/internal/lock"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/eventlog"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/store/vector"
)

// Result summarizes one document's indexing pass.
type Result struct {
	Path          string
	ChunkIDs      []string
	ChunksIndexed int
	EntitiesFound int
}

// Indexer wires the semantic chunker and embedder into the chunk,
// vector, and graph stores, appending one ingest event per document.
type Indexer struct {
	chunker  *chunk.SemanticChunker
	embedder embed.Embedder
	chunks   *chunkstore.Store
	vectors  *vector.Store
	graph    *graphstore.Store
	events   *eventlog.Store
	lock     *lock.IndexLock
}

// New constructs an Indexer over the given stores.
func New(chunker *chunk.SemanticChunker, embedder embed.Embedder, chunks *chunkstore.Store, vectors *vector.Store, graph *graphstore.Store, events *eventlog.Store) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		chunks:   chunks,
		vectors:  vectors,
		graph:    graph,
		events:   events,
	}
}

// WithLock attaches the cross-process index lock guarding the indexing
// transaction and returns the receiver for chaining. Without a lock
// attached, IndexDocument runs unguarded (used by tests that construct
// an Indexer directly over an isolated temp directory).
func (ix *Indexer) WithLock(l *lock.IndexLock) *Indexer {
	ix.lock = l
	return ix
}

// IndexDocument chunks, embeds, and indexes one document. Any
// previously-indexed chunks for the same path are removed first, so
// re-ingesting a modified file never leaves stale chunks behind. The
// whole transaction runs under the index lock, if one is attached, so
// two concurrent indexing passes never interleave writes against the
// same stores.
func (ix *Indexer) IndexDocument(ctx context.Context, doc chunk.Document, progress *async.Progress) (*Result, error) {
	if ix.lock != nil {
		if err := ix.lock.LockContext(ctx); err != nil {
			return nil, fmt.Errorf("acquire index lock for %s: %w", doc.Path, err)
		}
		defer ix.lock.Unlock()
	}

	if err := ix.DeleteByPath(ctx, doc.Path); err != nil {
		return nil, fmt.Errorf("clear prior chunks for %s: %w", doc.Path, err)
	}

	if progress != nil {
		progress.SetStage(async.StageChunking, 1)
	}
	chunks, err := ix.chunker.Chunk(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", doc.Path, err)
	}
	if len(chunks) == 0 {
		return &Result{Path: doc.Path}, nil
	}

	if progress != nil {
		progress.SetChunksTotal(len(chunks))
		progress.SetStage(async.StageEmbedding, 1)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks for %s: %w", doc.Path, err)
	}

	now := time.Now()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		c.Embedding = embeddings[i]
		c.CreatedAt = now
		c.LastAccessedAt = now
		ids[i] = c.ID
	}

	if progress != nil {
		progress.SetStage(async.StageIndexing, 1)
	}
	for i, c := range chunks {
		if err := ix.chunks.Put(ctx, c); err != nil {
			ix.rollbackChunks(ctx, ids[:i])
			return nil, fmt.Errorf("store chunk %s: %w", c.ID, err)
		}
	}
	if err := ix.vectors.Add(ctx, ids, embeddings); err != nil {
		ix.rollbackChunks(ctx, ids)
		return nil, fmt.Errorf("index vectors for %s: %w", doc.Path, err)
	}

	if progress != nil {
		progress.SetStage(async.StageGraphing, 1)
	}
	entityCount := ix.indexGraph(ctx, chunks)

	if progress != nil {
		progress.UpdateChunks(len(ids))
	}

	if _, err := ix.events.Append(ctx, model.EventIngest, "", map[string]string{
		"source_path": doc.Path,
		"chunk_count": fmt.Sprintf("%d", len(ids)),
	}); err != nil {
		ix.rollbackChunks(ctx, ids)
		for _, id := range ids {
			ix.graph.RemoveChunkMentions(id)
		}
		return nil, fmt.Errorf("log ingest event for %s: %w", doc.Path, err)
	}

	return &Result{Path: doc.Path, ChunkIDs: ids, ChunksIndexed: len(ids), EntitiesFound: entityCount}, nil
}

// indexGraph extracts entities from each chunk and records mentions and
// co-occurrence edges. Entity enrichment is best-effort: a full node
// table (ErrNodeCapExceeded) skips further entities for this document
// rather than failing the whole indexing pass, since the chunk is
// already durably retrievable through the vector tier.
func (ix *Indexer) indexGraph(ctx context.Context, chunks []*model.Chunk) int {
	seen := make(map[string]bool)
	for _, c := range chunks {
		entities := extractEntities(c.Text)
		for _, e := range entities {
			if err := ix.graph.UpsertEntity(ctx, &model.Entity{
				ID:          e.ID,
				DisplayName: e.DisplayName,
				Type:        model.EntityConcept,
			}); err != nil {
				continue
			}
			if err := ix.graph.UpsertEdge(ctx, &model.Edge{
				Kind:   model.EdgeMentions,
				From:   c.ID,
				To:     e.ID,
				Weight: 1,
			}); err != nil {
				continue
			}
			seen[e.ID] = true
		}

		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				_ = ix.graph.UpsertEdge(ctx, &model.Edge{
					Kind:   model.EdgeRelatedTo,
					From:   entities[i].ID,
					To:     entities[j].ID,
					Weight: 1,
					Mutual: true,
				})
			}
		}
	}
	return len(seen)
}

// rollbackChunks compensates a partially-committed indexing pass: every
// chunk already written to the chunk store and/or vector index is
// removed, so a failed document never leaves orphaned fragments behind.
func (ix *Indexer) rollbackChunks(ctx context.Context, ids []string) {
	for _, id := range ids {
		_ = ix.chunks.Delete(ctx, id)
	}
	_ = ix.vectors.Delete(ctx, ids)
}

// DeleteByPath removes every chunk previously indexed from sourcePath,
// from the chunk store, the vector index, and the graph's mentions
// edges, pruning any entity left with no remaining mentions.
func (ix *Indexer) DeleteByPath(ctx context.Context, sourcePath string) error {
	existing, err := ix.chunks.ListBySourcePath(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", sourcePath, err)
	}
	if len(existing) == 0 {
		return nil
	}

	ids := make([]string, len(existing))
	for i, c := range existing {
		ids[i] = c.ID
	}

	if err := ix.vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("remove vectors for %s: %w", sourcePath, err)
	}
	for _, id := range ids {
		if err := ix.chunks.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
		ix.graph.RemoveChunkMentions(id)
	}
	return nil
}

// DocumentReader reads a source document's current content back from
// wherever it lives (vault file, object store, ...). The lifecycle
// manager only knows a chunk's source path, not how to read it, so
// Reindexer is given one at construction time.
type DocumentReader func(sourcePath string) (string, error)

// Reindexer adapts an Indexer plus a DocumentReader into the
// lifecycle.Reindexer interface, re-reading a source file from disk (or
// wherever the reader looks) and re-running the full indexing
// transaction against it.
type Reindexer struct {
	indexer *Indexer
	read    DocumentReader
}

// NewReindexer builds a lifecycle.Reindexer backed by indexer, reading
// document content through read.
func NewReindexer(indexer *Indexer, read DocumentReader) *Reindexer {
	return &Reindexer{indexer: indexer, read: read}
}

// Reindex re-chunks, re-embeds, and re-indexes sourcePath, returning the
// freshly assigned chunk ids.
func (r *Reindexer) Reindex(ctx context.Context, sourcePath string) ([]string, error) {
	content, err := r.read(sourcePath)
	if err != nil {
		return nil, memerrors.New(memerrors.ErrCodeSourceMissing, "read "+sourcePath, err)
	}
	if _, err := r.indexer.IndexDocument(ctx, chunk.Document{Path: sourcePath, Content: content}, nil); err != nil {
		return nil, err
	}
	chunks, err := r.indexer.chunks.ListBySourcePath(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("list reindexed chunks for %s: %w", sourcePath, err)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids, nil
}
