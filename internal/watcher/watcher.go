// Package watcher watches a vault directory for markdown file changes
// and emits debounced created/modified/deleted events (spec §4.9). It
// is adapted from the teacher's HybridWatcher
// (internal/watcher/hybrid.go): fsnotify as the primary mechanism,
// generalized from "any source file, gitignore-aware" to "markdown
// files only, vault-scoped", since a personal memory vault has no
// build-artifact directories to exclude.
package watcher

import (
	"context"
	"strings"
	"time"
)

// Op is the kind of change a FileEvent reports.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced change to a markdown file under the vault.
type FileEvent struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Watcher watches a vault directory and emits FileEvents for markdown
// files, coalesced over a debounce window.
type Watcher interface {
	Start(ctx context.Context, vaultPath string) error
	Stop() error
	Events() <-chan FileEvent
	Errors() <-chan error
}

// Options configures a Watcher.
type Options struct {
	DebounceWindow  time.Duration
	EventBufferSize int
}

// DefaultOptions matches the teacher's watcher defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 1000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// isMarkdownFile reports whether path should be watched: a vault memory
// file carries a .md extension; anything else (attachments, .memcore
// state) is ignored.
func isMarkdownFile(path string) bool {
	return strings.HasSuffix(path, ".md")
}
