// Package lock provides cross-process file locking so only one indexing
// transaction touches the vector/graph/event stores at a time.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	memerrors "github.com/memcore/memcore/internal/errors"
)

// IndexLock guards the single-writer invariant on ingestion transactions:
// two concurrent `memcore ingest` processes must not interleave chunk,
// embed, and graph-registration writes against the same vault.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock for the given state directory. The lock file lives
// at <dir>/.index.lock and is created on demand.
func New(dir string) *IndexLock {
	path := filepath.Join(dir, ".index.lock")
	return &IndexLock{path: path, flock: flock.New(path)}
}

// Lock acquires the exclusive lock, retrying on transient contention
// with bounded exponential backoff (spec §4.2: "writes are serialized
// with retry on transient lock contention", up to 3 retries) rather than
// blocking indefinitely. It gives up with a lock-contention error once
// the retries are exhausted.
func (l *IndexLock) Lock() error {
	return l.LockContext(context.Background())
}

// LockContext is Lock with a caller-supplied context for cancellation.
func (l *IndexLock) LockContext(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	err := memerrors.Retry(ctx, memerrors.DefaultRetryConfig(), func() error {
		acquired, tryErr := l.flock.TryLock()
		if tryErr != nil {
			return memerrors.StorageError("acquire index lock", tryErr)
		}
		if !acquired {
			return memerrors.New(memerrors.ErrCodeLockContention, "index lock held by another process", nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *IndexLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire index lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an already-unlocked IndexLock.
func (l *IndexLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release index lock: %w", err)
	}
	return nil
}

// IsLocked reports whether this handle currently holds the lock.
func (l *IndexLock) IsLocked() bool {
	return l.locked
}

// Path returns the lock file path.
func (l *IndexLock) Path() string {
	return l.path
}
