package rotate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRotatesOnSizeAndLineBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	f, err := Open(path, 0640, Options{MaxSize: 10, MaxHistory: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("0123456789\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist after rotation: %v", path, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "daemon.1.log")); err != nil {
		t.Fatalf("expected a rotated daemon.1.log: %v", err)
	}
}

func TestShiftHistoryPrunesBeyondMaxHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	f, err := Open(path, 0640, Options{MaxSize: 5, MaxHistory: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	for i := 0; i < 5; i++ {
		if _, err := f.Write([]byte("xxxxx\n")); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	dents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var rotated int
	for _, d := range dents {
		if strings.Contains(d.Name(), ".log") && d.Name() != "daemon.log" {
			rotated++
		}
	}
	if rotated > 1 {
		t.Fatalf("expected at most 1 rotated file with MaxHistory=2, found %d", rotated)
	}
}

func TestOpenRotatesAlreadyOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")
	if err := os.WriteFile(path, []byte("0123456789\n"), 0640); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, err := Open(path, 0640, Options{MaxSize: 5, MaxHistory: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, err := os.Stat(filepath.Join(dir, "daemon.1.log")); err != nil {
		t.Fatalf("expected the oversized seed file rotated on Open: %v", err)
	}
}

func TestCloseThenWriteFails(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "daemon.log"), 0640, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := f.Write([]byte("late\n")); err != ErrClosed {
		t.Fatalf("Write after Close = %v, want ErrClosed", err)
	}
	if err := f.Close(); err != ErrClosed {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
}
