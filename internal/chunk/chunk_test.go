package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/embed"
)

func TestChunkEmptyDocumentReturnsNoChunks(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), DefaultOptions())
	chunks, err := c.Chunk(context.Background(), Document{Path: "empty.md", Content: "   \n\n  "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkAttachesFrontmatterToFirstChunk(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), DefaultOptions())
	doc := Document{
		Path: "note.md",
		Content: "---\ntitle: Example\n---\n# Heading\n\nSome prose sentence here. Another sentence follows it.\n",
	}
	chunks, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Tags.Extra["frontmatter"], "title: Example")
}

func TestChunkCarriesHeaderPath(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), DefaultOptions())
	doc := Document{
		Path:    "note.md",
		Content: "# Top\n\n## Sub\n\nContent under the subsection. It has two sentences.\n",
	}
	chunks, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Tags.Extra["header_path"], "Sub")
}

func TestChunkNeverSplitsInsideCodeFence(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), Options{MinTokens: 1, MaxTokens: 20, OverlapTokens: 2, SimilarityThreshold: 0.99})
	code := "```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```"
	doc := Document{Path: "note.md", Content: "Intro sentence before the snippet.\n\n" + code + "\n\nOutro sentence after the snippet."}

	chunks, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "```go") {
			found = true
			assert.Contains(t, ch.Text, "\n```")
			assert.True(t, strings.Contains(ch.Text, code) || strings.Contains(ch.Text, strings.TrimSpace(code)))
		}
	}
	assert.True(t, found, "expected some chunk to contain the full fenced code block")
}

func TestChunkRespectsMinAndMaxTokenBounds(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), Options{MinTokens: 20, MaxTokens: 40, OverlapTokens: 5, SimilarityThreshold: 0.99})
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("The quick fox jumps over the lazy dog near the river bank today. ")
	}
	chunks, err := c.Chunk(context.Background(), Document{Path: "long.md", Content: sb.String()})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, estimateTokens(ch.Text), 40+10) // overlap headroom
	}
}

func TestChunkIDIsStableForIdenticalContent(t *testing.T) {
	c := New(embed.NewStaticEmbedder(), DefaultOptions())
	doc := Document{Path: "note.md", Content: "A single short sentence about memcore."}
	first, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}
