package mcp

// VectorSearchInput defines the input schema for the vector_search tool.
type VectorSearchInput struct {
	Query string `json:"query" jsonschema:"the text to search for by embedding similarity"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// VectorSearchOutput defines the output schema for the vector_search
// tool. It is the Nexus pipeline's Output flattened to core+extended
// results plus the trace id and detected mode every real query records
// (spec.md §6, §4.8).
type VectorSearchOutput struct {
	Results []ChunkResult `json:"results" jsonschema:"chunks ranked by the fused Nexus score across vector, graph, and bayesian tiers"`
	TraceID string        `json:"trace_id" jsonschema:"the id of the QueryTrace recorded for this request, usable with replay"`
	Mode    string        `json:"mode" jsonschema:"the detected or forced retrieval mode: execution, planning, or brainstorming"`
	Partial bool          `json:"partial,omitempty" jsonschema:"true if a tier degraded or the token budget could not be fully satisfied"`
}

// ChunkResult is one scored chunk returned by a retrieval tool.
type ChunkResult struct {
	ChunkID    string  `json:"chunk_id"`
	SourcePath string  `json:"source_path"`
	Text       string  `json:"text"`
	Score      float64 `json:"score" jsonschema:"normalized relevance score between 0 and 1"`
}

// MemoryStoreInput defines the input schema for the memory_store tool.
// Metadata is merged into the tagging envelope of every chunk produced
// from text (spec.md §6, §3).
type MemoryStoreInput struct {
	Text     string            `json:"text" jsonschema:"the full markdown content to chunk, embed, and index"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"free-form tags merged into each chunk's tagging envelope, e.g. project or intent"`
}

// MemoryStoreOutput defines the output schema for the memory_store tool.
type MemoryStoreOutput struct {
	ChunkIDs      []string `json:"chunk_ids" jsonschema:"ids of the chunks created, in document order"`
	ChunksCreated int      `json:"chunks_created"`
}

// GraphQueryInput defines the input schema for the graph_query tool.
type GraphQueryInput struct {
	Entity string `json:"entity" jsonschema:"the entity name or id to center the subgraph on, e.g. 'python'"`
	Depth  int    `json:"depth,omitempty" jsonschema:"maximum BFS hop count from the entity, default 2"`
}

// GraphQueryOutput defines the output schema for the graph_query tool:
// a bounded subgraph around the queried entity (spec.md §6).
type GraphQueryOutput struct {
	Nodes        []EntityOutput    `json:"nodes"`
	Edges        []GraphEdgeOutput `json:"edges"`
	SubgraphSize int               `json:"subgraph_size"`
}

// GraphEdgeOutput is one edge in a graph_query subgraph.
type GraphEdgeOutput struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Kind   string  `json:"kind"`
	Weight float64 `json:"weight"`
}

// EntityOutput is one graph entity node.
type EntityOutput struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type,omitempty"`
}

// EntityExtractionInput defines the input schema for the
// entity_extraction tool.
type EntityExtractionInput struct {
	Text string `json:"text" jsonschema:"free text to extract candidate entities from"`
}

// EntityExtractionOutput defines the output schema for the
// entity_extraction tool.
type EntityExtractionOutput struct {
	Entities []EntityOutput `json:"entities"`
}

// HippoRAGRetrieveInput defines the input schema for the
// hipporag_retrieve tool.
type HippoRAGRetrieveInput struct {
	Query string `json:"query" jsonschema:"the query to seed multi-hop graph retrieval from"`
	Mode  string `json:"mode,omitempty" jsonschema:"execution, planning, or brainstorming; detected from query if omitted"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// HippoRAGRetrieveOutput defines the output schema for the
// hipporag_retrieve tool.
type HippoRAGRetrieveOutput struct {
	Results []ChunkResult `json:"results" jsonschema:"chunks ranked by personalized PageRank over entities reachable within the configured hop limit"`
	TraceID string        `json:"trace_id" jsonschema:"the id of the QueryTrace recorded for this request, usable with replay"`
	Mode    string        `json:"mode" jsonschema:"the detected or forced retrieval mode: execution, planning, or brainstorming"`
	Partial bool          `json:"partial,omitempty" jsonschema:"true if the graph tier degraded or the token budget could not be fully satisfied"`
}

// DetectModeInput defines the input schema for the detect_mode tool.
type DetectModeInput struct {
	Query string `json:"query" jsonschema:"the query text to classify"`
}

// DetectModeOutput defines the output schema for the detect_mode tool.
type DetectModeOutput struct {
	Mode            string   `json:"mode"`
	Confidence      float64  `json:"confidence"`
	WinningPatterns []string `json:"winning_patterns,omitempty"`
	DefaultedToExec bool     `json:"defaulted_to_execution,omitempty"`
}
