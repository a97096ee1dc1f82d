// Package chunk implements the semantic document chunker (spec §4.7):
// it splits a source document into token-bounded chunks along
// sentence-similarity boundaries, the same header/frontmatter-aware
// approach the teacher's markdown chunker uses, generalized from
// header-boundary splitting to embedding-boundary splitting.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/memcore/memcore/internal/embed"
	"github.com/memcore/memcore/internal/model"
)

// Size and similarity defaults (spec §4.7).
const (
	DefaultMinTokens           = 128
	DefaultMaxTokens           = 512
	DefaultOverlapTokens       = 50
	DefaultSimilarityThreshold = 0.7
	// tokensPerChar is the same rough token estimator the teacher's
	// chunkers use: no tokenizer dependency in the retrieval pack, so
	// length/4 stands in for a token count.
	tokensPerChar = 4
)

var (
	headerPattern       = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern  = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
	codeFencePattern    = regexp.MustCompile("(?s)```.*?```")
	numberedListPattern = regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t].*$`)
	sentenceBoundary    = regexp.MustCompile(`(?:[.!?])\s+(?:[A-Z0-9])`)
)

// Options configures the semantic chunker.
type Options struct {
	MinTokens           int
	MaxTokens           int
	OverlapTokens       int
	SimilarityThreshold float64
}

// DefaultOptions returns the spec's documented chunk bounds.
func DefaultOptions() Options {
	return Options{
		MinTokens:           DefaultMinTokens,
		MaxTokens:           DefaultMaxTokens,
		OverlapTokens:       DefaultOverlapTokens,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Document is the chunker's input: one source file's raw content.
type Document struct {
	Path    string
	Content string
}

// SemanticChunker splits a Document into model.Chunk values along
// sentence-embedding similarity boundaries, never splitting inside a
// fenced code block, a numbered list item, or a markdown heading line.
type SemanticChunker struct {
	embedder embed.Embedder
	opts     Options
	logger   *slog.Logger
}

// New constructs a SemanticChunker. opts' zero value is replaced with
// DefaultOptions() field by field.
func New(embedder embed.Embedder, opts Options) *SemanticChunker {
	if opts.MinTokens == 0 {
		opts.MinTokens = DefaultMinTokens
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &SemanticChunker{embedder: embedder, opts: opts, logger: slog.Default()}
}

// WithLogger overrides the chunker's logger, used to report malformed
// code fences found during chunking.
func (c *SemanticChunker) WithLogger(logger *slog.Logger) *SemanticChunker {
	c.logger = logger
	return c
}

// section mirrors the teacher's markdown-chunker section: a header
// path (the stack of enclosing heading titles) plus the section's raw
// body text.
type section struct {
	headerPath string
	content    string
}

// Chunk splits doc into ordered chunks. Frontmatter, if present, is
// attached as metadata on the first chunk rather than emitted as its
// own chunk (it carries no retrievable prose).
func (c *SemanticChunker) Chunk(ctx context.Context, doc Document) ([]*model.Chunk, error) {
	frontmatter, body := extractFrontmatter(doc.Content)
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	for _, loc := range codeFencePattern.FindAllStringIndex(body, -1) {
		checkFence(ctx, c.logger, doc.Path, body[loc[0]:loc[1]])
	}

	sections := parseSections(body)
	var units []sentenceUnit
	for _, sec := range sections {
		for _, s := range protectedSentences(sec.content) {
			if strings.TrimSpace(s.text) == "" {
				continue
			}
			units = append(units, sentenceUnit{text: s.text, headerPath: sec.headerPath, atomic: s.atomic})
		}
	}
	if len(units) == 0 {
		return nil, nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.text
	}
	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed sentences for %s: %w", doc.Path, err)
	}
	for i := range units {
		units[i].embedding = embeddings[i]
	}

	chunks := c.groupUnits(doc.Path, units)
	if len(chunks) > 0 && frontmatter != "" {
		chunks[0].Tags.Extra = mergeExtra(chunks[0].Tags.Extra, map[string]string{"frontmatter": frontmatter})
	}
	return chunks, nil
}

type sentenceUnit struct {
	text       string
	headerPath string
	embedding  []float32
	atomic     bool
}

// groupUnits greedily packs sentence units into chunks, starting a new
// chunk when adjacent-sentence cosine similarity drops below the
// configured threshold (once the running chunk already meets
// MinTokens) or when MaxTokens would otherwise be exceeded. Each new
// chunk after the first is seeded with up to OverlapTokens of trailing
// text from the previous chunk.
func (c *SemanticChunker) groupUnits(path string, units []sentenceUnit) []*model.Chunk {
	var chunks []*model.Chunk
	var current []sentenceUnit
	currentTokens := 0
	now := time.Now()
	ordinal := 0

	flush := func(headerPath string) {
		if len(current) == 0 {
			return
		}
		text := joinUnits(current)
		chunks = append(chunks, &model.Chunk{
			ID:         generateChunkID(path, text, ordinal),
			SourcePath: path,
			Ordinal:    ordinal,
			Text:       text,
			CreatedAt:  now,
			Stage:      model.StageActive,
			ScoreMult:  model.StageActive.ScoreMultiplier(),
			Retention:  model.RetentionMid,
			Category:   model.CategorySemantic,
			Tags:       model.TaggingEnvelope{Extra: map[string]string{"header_path": headerPath}},
		})
		ordinal++
	}

	for i, u := range units {
		tokens := estimateTokens(u.text)

		if len(current) > 0 && !u.atomic {
			prev := current[len(current)-1]
			similarity := model.CosineSimilarity(prev.embedding, u.embedding)
			overBudget := currentTokens+tokens > c.opts.MaxTokens
			belowThreshold := similarity < c.opts.SimilarityThreshold && currentTokens >= c.opts.MinTokens
			if overBudget || belowThreshold {
				flush(current[0].headerPath)
				current = overlapTail(current, c.opts.OverlapTokens)
				currentTokens = sumTokens(current)
			}
		}

		current = append(current, u)
		currentTokens += tokens

		if i == len(units)-1 {
			flush(current[0].headerPath)
		}
	}

	return chunks
}

func joinUnits(units []sentenceUnit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.text
	}
	return strings.Join(parts, " ")
}

func sumTokens(units []sentenceUnit) int {
	n := 0
	for _, u := range units {
		n += estimateTokens(u.text)
	}
	return n
}

// overlapTail returns the trailing units of the previous chunk whose
// combined token count is closest to (without exceeding) overlapTokens,
// seeding the next chunk's context window.
func overlapTail(units []sentenceUnit, overlapTokens int) []sentenceUnit {
	if overlapTokens <= 0 || len(units) == 0 {
		return nil
	}
	total := 0
	start := len(units)
	for start > 0 {
		tokens := estimateTokens(units[start-1].text)
		if total+tokens > overlapTokens {
			break
		}
		total += tokens
		start--
	}
	tail := make([]sentenceUnit, len(units)-start)
	copy(tail, units[start:])
	return tail
}

func estimateTokens(text string) int {
	n := len(text) / tokensPerChar
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// generateChunkID derives a stable id from path, ordinal, and content
// hash: identical content at the same position in the same file always
// yields the same id, so re-ingestion doesn't spuriously re-embed
// unchanged chunks.
func generateChunkID(path, content string, ordinal int) string {
	sum := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(sum[:])[:16]
	input := fmt.Sprintf("%s:%d:%s", path, ordinal, contentHash)
	full := sha256.Sum256([]byte(input))
	return hex.EncodeToString(full[:])[:16]
}

func mergeExtra(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// extractFrontmatter splits YAML frontmatter off the front of content,
// returning the frontmatter body (without the --- fences) and the
// remaining document.
func extractFrontmatter(content string) (frontmatter, body string) {
	match := frontmatterPattern.FindStringSubmatch(content)
	if match == nil {
		return "", content
	}
	return strings.TrimSpace(match[1]), content[len(match[0]):]
}

// parseSections walks content tracking a header stack, the same way
// the teacher's markdown chunker builds header_path, so every chunk
// can carry the heading breadcrumb it was extracted under.
func parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	headerStack := make([]string, 6)

	var sections []section
	var current *section
	var builder strings.Builder

	flush := func() {
		if current != nil {
			current.content = builder.String()
			sections = append(sections, *current)
			builder.Reset()
		}
	}

	for _, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			flush()
			level := len(match[1])
			title := strings.TrimSpace(match[2])
			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}
			var parts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					parts = append(parts, headerStack[i])
				}
			}
			current = &section{headerPath: strings.Join(parts, " > ")}
			builder.WriteString(line)
			builder.WriteString("\n")
			continue
		}
		if current == nil {
			current = &section{}
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	flush()

	return sections
}

// protectedSentence is one sentence-level unit plus whether it came
// from an atomic span (fenced code block, numbered list item, heading
// line) that must never be split or similarity-merged mid-span.
type protectedSentence struct {
	text   string
	atomic bool
}

type span struct{ start, end int }

// protectedSentences splits a section's body into sentence-level units,
// treating fenced code blocks, numbered list items, and heading lines
// as atomic: they are never split internally.
func protectedSentences(content string) []protectedSentence {
	var atomic []span
	for _, loc := range codeFencePattern.FindAllStringIndex(content, -1) {
		atomic = append(atomic, span{loc[0], loc[1]})
	}
	for _, loc := range numberedListPattern.FindAllStringIndex(content, -1) {
		atomic = append(atomic, span{loc[0], loc[1]})
	}
	for _, loc := range headerPattern.FindAllStringIndex(content, -1) {
		atomic = append(atomic, span{loc[0], loc[1]})
	}
	sortSpans(atomic)

	var out []protectedSentence
	cursor := 0
	for _, sp := range atomic {
		if sp.start < cursor {
			continue // overlapping match, already covered
		}
		for _, s := range splitSentencesIn(content[cursor:sp.start]) {
			out = append(out, protectedSentence{text: s})
		}
		out = append(out, protectedSentence{text: strings.TrimSpace(content[sp.start:sp.end]), atomic: true})
		cursor = sp.end
	}
	for _, s := range splitSentencesIn(content[cursor:]) {
		out = append(out, protectedSentence{text: s})
	}

	filtered := out[:0]
	for _, s := range out {
		if strings.TrimSpace(s.text) != "" {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func splitSentencesIn(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// Cut after the terminal punctuation and before the next sentence's
	// first character, so neither is lost from the resulting units.
	var parts []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		parts = append(parts, text[last:loc[0]+1])
		last = loc[1] - 1
	}
	parts = append(parts, text[last:])
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortSpans(spans []span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].start > spans[j].start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}
}
