// Package mcp implements the Model Context Protocol server exposing
// memcore's retrieval tiers, ingestion path, and mode detector as tools
// for an AI client. It is grounded on the teacher's internal/mcp
// package: the same mcp.AddTool registration pattern, the same
// (*mcp.CallToolRequest, Input) -> (*mcp.CallToolResult, Output, error)
// handler shape, and the same MapError boundary translation, adapted
// from a code-search domain to memcore's memory-retrieval domain.
package mcp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/memcore/memcore/internal/chunk"
	"github.com/memcore/memcore/internal/ingest"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/modedetect"
	"github.com/memcore/memcore/internal/nexus"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/tiers"
	"github.com/memcore/memcore/pkg/version"
)

// Server is the MCP server for memcore. It bridges an AI client with the
// hybrid retrieval engine: vector_search and hipporag_retrieve both run
// through the Nexus pipeline (recall -> filter -> dedupe -> rank ->
// compress, with tracing always on), while graph_query, memory_store,
// entity_extraction, and detect_mode expose narrower, single-component
// operations a client can use to inspect or feed the index directly.
type Server struct {
	mcp *mcp.Server

	pipeline   *nexus.Pipeline
	vectorTier *tiers.VectorTier
	graphTier  *tiers.GraphTier
	graph      *graphstore.Store
	chunks     *chunkstore.Store
	indexer    *ingest.Indexer

	logger *slog.Logger
}

const defaultResultLimit = 10

// defaultGraphQueryDepth is how many BFS hops graph_query expands from
// the queried entity when the caller doesn't specify a depth.
const defaultGraphQueryDepth = 2

// NewServer creates a new MCP server wired to the given Nexus pipeline,
// retrieval tiers, and ingestion components. graphTier and graph may be
// nil: hipporag_retrieve then reports a tier-unavailable error when
// graphTier is nil, and graph_query when graph is nil, rather than
// panicking.
func NewServer(pipeline *nexus.Pipeline, vectorTier *tiers.VectorTier, graphTier *tiers.GraphTier, graph *graphstore.Store, chunks *chunkstore.Store, indexer *ingest.Indexer) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("nexus pipeline is required")
	}
	if vectorTier == nil {
		return nil, errors.New("vector tier is required")
	}
	if chunks == nil {
		return nil, errors.New("chunk store is required")
	}

	s := &Server{
		pipeline:   pipeline,
		vectorTier: vectorTier,
		graphTier:  graphTier,
		graph:      graph,
		chunks:     chunks,
		indexer:    indexer,
		logger:     slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "memcore",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying SDK server, e.g. to run it over a
// transport.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is canceled. Stdout carries
// only JSON-RPC frames; all diagnostic logging goes to the configured
// slog logger, which must not write to stdout.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting mcp server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}

// WithLogger overrides the default slog logger and returns the receiver
// for chaining.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// registerTools registers memcore's six tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "vector_search",
		Description: "Runs the full Nexus pipeline (recall, filter, dedupe, rank, compress) over the query. Use as the default retrieval tool.",
	}, s.handleVectorSearch)
	s.logger.Debug("registered tool", slog.String("name", "vector_search"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_store",
		Description: "Chunk, embed, and index a new memory from raw text. Metadata is merged into the tagging envelope of every chunk produced.",
	}, s.handleMemoryStore)
	s.logger.Debug("registered tool", slog.String("name", "memory_store"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "graph_query",
		Description: "Bounded BFS subgraph around an entity node in the mention/co-occurrence graph. Use to explore what a memory is connected to before running a full retrieval.",
	}, s.handleGraphQuery)
	s.logger.Debug("registered tool", slog.String("name", "graph_query"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "entity_extraction",
		Description: "Extract candidate named entities from free text using the same heuristic applied at indexing time.",
	}, s.handleEntityExtraction)
	s.logger.Debug("registered tool", slog.String("name", "entity_extraction"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hipporag_retrieve",
		Description: "Multi-hop graph retrieval: expands seed entities over the related/similar graph before running personalized PageRank, then fuses and ranks through the Nexus pipeline forced onto the graph tier. Finds memories connected to a query only indirectly.",
	}, s.handleHippoRAGRetrieve)
	s.logger.Debug("registered tool", slog.String("name", "hipporag_retrieve"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "detect_mode",
		Description: "Classify a query into execution, planning, or brainstorming mode, the same classifier the retrieval pipeline uses to size its deadline and result budget.",
	}, s.handleDetectMode)
	s.logger.Debug("registered tool", slog.String("name", "detect_mode"))

	s.logger.Info("mcp tools registered", slog.Int("count", 6))
}

func (s *Server) handleVectorSearch(ctx context.Context, _ *mcp.CallToolRequest, input VectorSearchInput) (*mcp.CallToolResult, VectorSearchOutput, error) {
	if input.Query == "" {
		return nil, VectorSearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}

	out, err := s.pipeline.Process(ctx, input.Query, "", limit)
	if err != nil {
		return nil, VectorSearchOutput{}, MapError(err)
	}

	return nil, VectorSearchOutput{
		Results: resultsToChunkResults(out.Core, out.Extended),
		TraceID: out.TraceID,
		Mode:    string(out.Mode),
		Partial: out.Partial,
	}, nil
}

func (s *Server) handleMemoryStore(ctx context.Context, _ *mcp.CallToolRequest, input MemoryStoreInput) (*mcp.CallToolResult, MemoryStoreOutput, error) {
	if input.Text == "" {
		return nil, MemoryStoreOutput{}, NewInvalidParamsError("text parameter is required")
	}
	if s.indexer == nil {
		return nil, MemoryStoreOutput{}, MapError(errors.New("indexer not configured"))
	}

	path := syntheticSourcePath(input.Text)
	result, err := s.indexer.IndexDocument(ctx, chunk.Document{Path: path, Content: input.Text}, nil)
	if err != nil {
		return nil, MemoryStoreOutput{}, MapError(err)
	}

	if len(input.Metadata) > 0 {
		if err := s.mergeMetadata(ctx, result.ChunkIDs, input.Metadata); err != nil {
			return nil, MemoryStoreOutput{}, MapError(err)
		}
	}

	return nil, MemoryStoreOutput{
		ChunkIDs:      result.ChunkIDs,
		ChunksCreated: result.ChunksIndexed,
	}, nil
}

// syntheticSourcePath derives a stable source path for text stored
// directly through memory_store, which names no file of its own.
// Storing the same text twice resolves to the same path, so a repeat
// call replaces rather than duplicates it, consistent with
// IndexDocument's delete-prior-chunks-by-path semantics.
func syntheticSourcePath(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("mcp-memory/%x.md", sum[:12])
}

// mergeMetadata merges metadata into the tagging envelope of every
// chunk in ids, so a memory_store caller's tags survive independent of
// whatever header-path tags chunking itself attached.
func (s *Server) mergeMetadata(ctx context.Context, ids []string, metadata map[string]string) error {
	for _, id := range ids {
		c, ok, err := s.chunks.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if c.Tags.Extra == nil {
			c.Tags.Extra = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			c.Tags.Extra[k] = v
		}
		if err := s.chunks.Put(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGraphQuery(_ context.Context, _ *mcp.CallToolRequest, input GraphQueryInput) (*mcp.CallToolResult, GraphQueryOutput, error) {
	if input.Entity == "" {
		return nil, GraphQueryOutput{}, NewInvalidParamsError("entity parameter is required")
	}
	if s.graph == nil {
		return nil, GraphQueryOutput{}, &MCPError{Code: ErrCodeTierUnavailable, Message: "graph tier unavailable"}
	}

	id := model.NormalizeEntityID(input.Entity)
	if _, ok := s.graph.GetEntity(id); !ok {
		return nil, GraphQueryOutput{}, MapError(ErrChunkNotFound)
	}

	depth := input.Depth
	if depth <= 0 {
		depth = defaultGraphQueryDepth
	}

	nodes, edges := s.boundedSubgraph(id, depth)
	return nil, GraphQueryOutput{Nodes: nodes, Edges: edges, SubgraphSize: len(nodes)}, nil
}

// boundedSubgraph runs the same BFS shape as the graph tier's own
// expandSeeds (internal/tiers/graph.go): it walks related_to/similar_to
// edges up to depth hops from root, returning every node visited and
// every edge traversed to reach it.
func (s *Server) boundedSubgraph(root string, depth int) ([]EntityOutput, []GraphEdgeOutput) {
	visited := map[string]bool{root: true}
	frontier := []string{root}
	edgeSeen := make(map[string]GraphEdgeOutput)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, kind := range []model.EdgeKind{model.EdgeRelatedTo, model.EdgeSimilarTo} {
				for _, e := range s.graph.Edges(id, kind) {
					key := string(e.Kind) + "|" + e.From + "|" + e.To
					edgeSeen[key] = GraphEdgeOutput{From: e.From, To: e.To, Kind: string(e.Kind), Weight: e.Weight}
					if !visited[e.To] {
						visited[e.To] = true
						next = append(next, e.To)
					}
				}
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]EntityOutput, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.graph.GetEntity(id); ok {
			nodes = append(nodes, EntityOutput{ID: e.ID, DisplayName: e.DisplayName, Type: string(e.Type)})
		}
	}

	edgeKeys := make([]string, 0, len(edgeSeen))
	for k := range edgeSeen {
		edgeKeys = append(edgeKeys, k)
	}
	sort.Strings(edgeKeys)
	edges := make([]GraphEdgeOutput, len(edgeKeys))
	for i, k := range edgeKeys {
		edges[i] = edgeSeen[k]
	}

	return nodes, edges
}

func (s *Server) handleEntityExtraction(_ context.Context, _ *mcp.CallToolRequest, input EntityExtractionInput) (*mcp.CallToolResult, EntityExtractionOutput, error) {
	if input.Text == "" {
		return nil, EntityExtractionOutput{}, NewInvalidParamsError("text parameter is required")
	}

	found := ingest.ExtractEntities(input.Text)
	entities := make([]EntityOutput, len(found))
	for i, e := range found {
		entities[i] = EntityOutput{ID: e.ID, DisplayName: e.DisplayName}
	}
	return nil, EntityExtractionOutput{Entities: entities}, nil
}

// multiHopTier adapts GraphTier's multi-hop query onto the tiers.Tier
// contract so it can be fanned into the Nexus pipeline alone: Name and
// Health are inherited from the embedded GraphTier, while Query is
// overridden to force QueryMultiHop instead of the single-hop Query.
type multiHopTier struct {
	*tiers.GraphTier
}

func (t multiHopTier) Query(ctx context.Context, query string, topK int) ([]tiers.Candidate, error) {
	return t.GraphTier.QueryMultiHop(ctx, query, topK)
}

func (s *Server) handleHippoRAGRetrieve(ctx context.Context, _ *mcp.CallToolRequest, input HippoRAGRetrieveInput) (*mcp.CallToolResult, HippoRAGRetrieveOutput, error) {
	if input.Query == "" {
		return nil, HippoRAGRetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if s.graphTier == nil {
		return nil, HippoRAGRetrieveOutput{}, &MCPError{Code: ErrCodeTierUnavailable, Message: "graph tier unavailable"}
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}

	out, err := s.pipeline.ProcessWithTier(ctx, input.Query, input.Mode, limit, multiHopTier{s.graphTier})
	if err != nil {
		return nil, HippoRAGRetrieveOutput{}, MapError(err)
	}

	return nil, HippoRAGRetrieveOutput{
		Results: resultsToChunkResults(out.Core, out.Extended),
		TraceID: out.TraceID,
		Mode:    string(out.Mode),
		Partial: out.Partial,
	}, nil
}

func (s *Server) handleDetectMode(_ context.Context, _ *mcp.CallToolRequest, input DetectModeInput) (*mcp.CallToolResult, DetectModeOutput, error) {
	if input.Query == "" {
		return nil, DetectModeOutput{}, NewInvalidParamsError("query parameter is required")
	}

	result := modedetect.Detect(input.Query)
	return nil, DetectModeOutput{
		Mode:            string(result.Mode),
		Confidence:      result.Confidence,
		WinningPatterns: result.WinningPatterns,
		DefaultedToExec: result.DefaultedToExec,
	}, nil
}

// resultsToChunkResults flattens a Nexus Output's core+extended results
// into the tool-facing ChunkResult shape. The pipeline's rank step
// already sorted by fused score, so order is preserved, not recomputed.
func resultsToChunkResults(core, extended []nexus.Result) []ChunkResult {
	all := make([]nexus.Result, 0, len(core)+len(extended))
	all = append(all, core...)
	all = append(all, extended...)

	results := make([]ChunkResult, len(all))
	for i, r := range all {
		results[i] = ChunkResult{
			ChunkID:    r.ChunkID,
			SourcePath: r.Source,
			Text:       r.Text,
			Score:      r.FusedScore,
		}
	}
	return results
}
