package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Op(99).String())
}

func TestIsMarkdownFile(t *testing.T) {
	assert.True(t, isMarkdownFile("notes/today.md"))
	assert.False(t, isMarkdownFile("notes/today.txt"))
	assert.False(t, isMarkdownFile("attachment.png"))
}

func waitForEvent(t *testing.T, events <-chan FileEvent, timeout time.Duration) FileEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for file event")
		return FileEvent{}
	}
}

func TestFsWatcherEmitsCreateForNewMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{DebounceWindow: 20 * time.Millisecond, EventBufferSize: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	time.Sleep(50 * time.Millisecond) // let the watch tree register

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("# Hello"), 0o644))

	ev := waitForEvent(t, w.Events(), 2*time.Second)
	assert.Equal(t, "note.md", ev.Path)
	assert.Equal(t, OpCreate, ev.Op)

	require.NoError(t, w.Stop())
}

func TestFsWatcherIgnoresNonMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{DebounceWindow: 20 * time.Millisecond, EventBufferSize: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x00}, 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event for non-markdown file, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, w.Stop())
}

func TestFsWatcherEmitsDeleteForRemovedMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# Hello"), 0o644))

	w, err := New(Options{DebounceWindow: 20 * time.Millisecond, EventBufferSize: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.Remove(path))

	ev := waitForEvent(t, w.Events(), 2*time.Second)
	assert.Equal(t, "note.md", ev.Path)
	assert.Equal(t, OpDelete, ev.Op)

	require.NoError(t, w.Stop())
}

func TestDebouncerCoalescesCreateThenModifyIntoCreate(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, 10)
	d.add(FileEvent{Path: "a.md", Op: OpCreate})
	d.add(FileEvent{Path: "a.md", Op: OpModify})

	select {
	case ev := <-d.Output():
		assert.Equal(t, OpCreate, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced event")
	}
	d.Stop()
}

func TestDebouncerCancelsCreateThenDelete(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, 10)
	d.add(FileEvent{Path: "a.md", Op: OpCreate})
	d.add(FileEvent{Path: "a.md", Op: OpDelete})

	select {
	case ev := <-d.Output():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	d.Stop()
}
