package chunk

import (
	"context"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// codeFenceLanguages maps a fenced code block's language tag, as written
// after the opening ``` in a markdown document, to the tree-sitter
// grammar that parses it. Unlisted tags (or untagged fences) are left
// unparsed: they're still treated as atomic spans by protectedSentences,
// just without a fence-validity check.
var codeFenceLanguages = map[string]*sitter.Language{
	"go":         golang.GetLanguage(),
	"golang":     golang.GetLanguage(),
	"javascript": javascript.GetLanguage(),
	"js":         javascript.GetLanguage(),
	"python":     python.GetLanguage(),
	"py":         python.GetLanguage(),
	"typescript": typescript.GetLanguage(),
	"ts":         typescript.GetLanguage(),
}

// validateCodeFence parses a fenced code block's body with the
// tree-sitter grammar for lang and reports whether tree-sitter found it
// well-formed. A false result (or a nil language) never fails chunking:
// it only flags a fence worth a second look, the same "warn, don't
// reject" stance the teacher's ingestion path takes toward malformed
// input.
func validateCodeFence(ctx context.Context, lang, body string) (ok bool, err error) {
	tsLang, known := codeFenceLanguages[strings.ToLower(lang)]
	if !known {
		return true, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tsLang)

	tree, err := parser.ParseCtx(ctx, nil, []byte(body))
	if err != nil {
		return false, err
	}
	if tree == nil {
		return false, nil
	}
	return !tree.RootNode().HasError(), nil
}

// checkFence extracts the language tag and body from a ``` ... ``` span
// and validates it, logging a warning on a malformed fence. It never
// returns an error: a bad fence is surfaced as a log line, not a failed
// chunking pass, since the source document is out of the chunker's
// control.
func checkFence(ctx context.Context, logger *slog.Logger, path, raw string) {
	lang, body := splitFence(raw)
	if lang == "" {
		return
	}
	ok, err := validateCodeFence(ctx, lang, body)
	if err != nil {
		logger.Warn("code fence parse error", "path", path, "language", lang, "error", err)
		return
	}
	if !ok {
		logger.Warn("code fence has syntax errors", "path", path, "language", lang)
	}
}

// splitFence pulls the language tag and inner body out of a raw
// ```lang\n...\n``` span.
func splitFence(raw string) (lang, body string) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return "", ""
	}
	return strings.TrimSpace(trimmed[:nl]), trimmed[nl+1:]
}
