package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/memcore/memcore/internal/chunk"
	"github.com/memcore/memcore/internal/config"
	"github.com/memcore/memcore/internal/embed"
	"github.com/memcore/memcore/internal/ingest"
	"github.com/memcore/memcore/internal/lifecycle"
	"github.com/memcore/memcore/internal/lock"
	mcpserver "github.com/memcore/memcore/internal/mcp"
	"github.com/memcore/memcore/internal/nexus"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/eventlog"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/store/kv"
	"github.com/memcore/memcore/internal/store/tracestore"
	"github.com/memcore/memcore/internal/store/vector"
	"github.com/memcore/memcore/internal/tiers"
)

// app is the composition root shared by every subcommand that touches
// the index: it opens every store the config names, wires the three
// retrieval tiers into a Nexus pipeline, and builds the lifecycle
// manager and ingestion path on top of them. Individual commands only
// reach into the pieces they need.
type app struct {
	cfg *config.Config

	dataDir    string
	vectorPath string
	graphPath  string
	graphWAL   string

	chunks  *chunkstore.Store
	vectors *vector.Store
	graph   *graphstore.Store
	kv      *kv.Store
	events  *eventlog.Store
	traces  *tracestore.Store

	embedder embed.Embedder
	chunker  *chunk.SemanticChunker

	vectorTier   *tiers.VectorTier
	graphTier    *tiers.GraphTier
	bayesianTier *tiers.BayesianTier

	indexLock *lock.IndexLock
	pipeline  *nexus.Pipeline
	indexer   *ingest.Indexer
	reindexer *ingest.Reindexer
	lifecycle *lifecycle.Manager
}

// openApp loads configuration and opens every on-disk store under the
// vault's .memcore data directory, creating it on first run.
func openApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dataDir := filepath.Join(cfg.Storage.VaultPath, ".memcore")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{
		cfg:        cfg,
		dataDir:    dataDir,
		vectorPath: filepath.Join(dataDir, "vectors.hnsw"),
		graphPath:  filepath.Join(dataDir, "graph.json"),
		graphWAL:   filepath.Join(dataDir, "graph.wal"),
	}

	if a.chunks, err = chunkstore.Open(filepath.Join(dataDir, "chunks.db")); err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	if a.kv, err = kv.Open(filepath.Join(dataDir, "kv.db")); err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	if a.events, err = eventlog.Open(filepath.Join(dataDir, "events.db")); err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if a.traces, err = tracestore.Open(filepath.Join(dataDir, "traces")); err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	a.vectors, err = vector.New(vector.DefaultConfig(cfg.Storage.Vector.Dimension))
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, statErr := os.Stat(a.vectorPath); statErr == nil {
		if err := a.vectors.Load(a.vectorPath); err != nil {
			return nil, fmt.Errorf("load vector index: %w", err)
		}
	}

	if _, statErr := os.Stat(a.graphPath); statErr == nil {
		a.graph, err = graphstore.Load(a.graphPath, cfg.Bayesian.MaxNodes, a.graphWAL)
	} else {
		a.graph, err = graphstore.New(cfg.Bayesian.MaxNodes, a.graphWAL)
	}
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	a.embedder, err = embed.NewCachedEmbedder(embed.NewStaticEmbedder(), 1024)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	a.chunker = chunk.New(a.embedder, chunk.DefaultOptions())

	bayesianCfg := tiers.DefaultBayesianConfig()
	bayesianCfg.MaxNodes = cfg.Bayesian.MaxNodes
	bayesianCfg.MinEdgeConfidence = cfg.Bayesian.MinEdgeConfidence

	a.vectorTier = tiers.NewVectorTier(a.vectors, a.embedder)
	a.graphTier = tiers.NewGraphTier(a.graph, tiers.DefaultPPRConfig())
	a.bayesianTier = tiers.NewBayesianTier(a.graph, a.kv, bayesianCfg)

	a.pipeline = nexus.New([]tiers.Tier{a.vectorTier, a.graphTier, a.bayesianTier}, a.chunks, a.traces, cfg).
		WithVectorStore(a.vectors)

	a.indexLock = lock.New(dataDir)

	a.indexer = ingest.New(a.chunker, a.embedder, a.chunks, a.vectors, a.graph, a.events).WithLock(a.indexLock)
	a.reindexer = ingest.NewReindexer(a.indexer, readVaultDocument)

	a.lifecycle = lifecycle.New(a.chunks, a.vectors, a.kv, a.events, cfg, a.reindexer).WithLock(a.indexLock)

	return a, nil
}

// readVaultDocument re-reads a chunk's source file from disk, used by
// the lifecycle manager to rehydrate an archived chunk back to active.
func readVaultDocument(sourcePath string) (string, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// mcpServer builds the MCP-facing adapter over the app's tiers and
// indexer, for the serve command.
func (a *app) mcpServer() (*mcpserver.Server, error) {
	return mcpserver.NewServer(a.pipeline, a.vectorTier, a.graphTier, a.graph, a.chunks, a.indexer)
}

// persist flushes the in-memory vector and graph indices to disk. The
// other stores (chunks/kv/events/traces) are sqlite-backed and already
// durable on every write.
func (a *app) persist() error {
	if err := a.vectors.Save(a.vectorPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	if err := a.graph.Save(a.graphPath); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

// Close persists the in-memory indices and releases every store.
func (a *app) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(a.persist())
	record(a.chunks.Close())
	record(a.kv.Close())
	record(a.events.Close())
	record(a.traces.Close())
	record(a.vectors.Close())
	record(a.embedder.Close())
	return firstErr
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}
