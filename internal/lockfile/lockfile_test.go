package lockfile

import (
	"path/filepath"
	"testing"
)

func TestTryLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first := New(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	defer first.Unlock()

	second := New(path)
	if err := second.TryLock(); err != ErrHeld {
		t.Fatalf("second TryLock = %v, want ErrHeld", err)
	}
}

func TestUnlockAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l := New(path)
	if err := l.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	again := New(path)
	if err := again.TryLock(); err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	again.Unlock()
}
