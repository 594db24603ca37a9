// Package fifo creates and opens the named pipes the monitor uses for its
// control and stdin-relay channels.
//
// Requires non-blocking open as a hard precondition rather than
// emulating the portable-but-slower blocking-open-in-a-goroutine
// trick some supervisors use instead.
package fifo

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create makes a FIFO at path with the given permission bits, tolerating
// an already-existing FIFO left over from a previous run. EEXIST is only
// forgiven when the existing file genuinely is a FIFO; a regular file (or
// anything else) left at path is a setup error, not something safe to
// open and use as IPC.
func Create(path string, perm os.FileMode) error {
	err := unix.Mkfifo(path, uint32(perm))
	if err == nil {
		return nil
	}
	if err != unix.EEXIST {
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	info, statErr := os.Lstat(path)
	if statErr != nil {
		return fmt.Errorf("fifo: stat %s: %w", path, statErr)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("fifo: %s exists and is not a fifo", path)
	}
	return nil
}

// OpenWriteNonblock opens path for non-blocking writes. Returns an error
// (ENXIO under POSIX semantics, surfaced as syscall.ENXIO) when no reader
// currently has the FIFO open — callers writing a control byte should
// treat that as "no monitor is listening" rather than retry forever.
func OpenWriteNonblock(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("fifo: open %s for write: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// HoldOpenWriter opens path read-write, so the monitor's own read end
// never sees EOF between distinct external writers opening and closing
// the FIFO. A RDWR open
// on a FIFO never blocks regardless of O_NONBLOCK (POSIX guarantees
// this), so plain blocking reads work on the returned file — exactly
// what the monitor's event loop wants instead of a busy-poll.
func HoldOpenWriter(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("fifo: open %s rdwr: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
