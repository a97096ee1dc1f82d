package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher watches a vault directory with fsnotify, recursively adding
// new subdirectories as they appear, debouncing markdown file events
// before emitting them. Adapted from the teacher's HybridWatcher,
// trimmed to its fsnotify path: a personal vault has no build-artifact
// tree large enough to need the teacher's polling fallback, and no
// .gitignore/config-reload concerns.
type FsWatcher struct {
	fsw       *fsnotify.Watcher
	debouncer *debouncer
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	rootPath  string
	opts      Options

	mu      sync.Mutex
	stopped bool
}

var _ Watcher = (*FsWatcher)(nil)

// New creates an FsWatcher with the given options.
func New(opts Options) (*FsWatcher, error) {
	opts = opts.withDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FsWatcher{
		fsw:       fsw,
		debouncer: newDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		events:    make(chan FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start begins watching vaultPath recursively. Blocks until the
// watcher is stopped or ctx is cancelled.
func (w *FsWatcher) Start(ctx context.Context, vaultPath string) error {
	absPath, err := filepath.Abs(vaultPath)
	if err != nil {
		return fmt.Errorf("resolve vault path: %w", err)
	}
	w.rootPath = absPath

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("watch vault tree: %w", err)
	}

	go w.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *FsWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == ".memcore" {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *FsWatcher) handleEvent(ev fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, ev.Name)
	if err != nil {
		relPath = ev.Name
	}
	relPath = filepath.ToSlash(relPath)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				_ = w.fsw.Add(ev.Name)
			}
			return
		}
		if !isMarkdownFile(relPath) {
			return
		}
		w.debouncer.add(FileEvent{Path: relPath, Op: OpCreate, Timestamp: time.Now()})
	case ev.Op&fsnotify.Write != 0:
		if isDir || !isMarkdownFile(relPath) {
			return
		}
		w.debouncer.add(FileEvent{Path: relPath, Op: OpModify, Timestamp: time.Now()})
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		if !isMarkdownFile(relPath) {
			return
		}
		w.debouncer.add(FileEvent{Path: relPath, Op: OpDelete, Timestamp: time.Now()})
	}
}

func (w *FsWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- ev:
			default:
			}
		}
	}
}

// Stop stops the watcher and releases the underlying fsnotify handle.
// Safe to call multiple times. The Events/Errors channels are not
// closed: callers should stop reading once Stop returns rather than
// relying on channel closure, since the forwarding goroutine may still
// be mid-select when Stop is called.
func (w *FsWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsw.Close()
}

// Events returns the channel of debounced markdown file events.
func (w *FsWatcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FsWatcher) Errors() <-chan error {
	return w.errors
}
