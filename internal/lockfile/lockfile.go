// Package lockfile wraps a single advisory exclusive, non-blocking file
// lock, the mechanism a monitor or a line-logger writer uses to
// guarantee at most one process holds a given service's state at a
// time.
package lockfile

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrHeld is returned by TryLock when another process already holds the
// lock.
var ErrHeld = errors.New("lockfile: already held by another process")

// Lock is an advisory exclusive lock on a single path.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock bound to path. The file is created on first
// successful lock if it doesn't already exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. Callers
// should treat ErrHeld as "another monitor already running" and exit.
func (l *Lock) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lockfile: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Unlock releases the lock. It does not remove the underlying file.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}
