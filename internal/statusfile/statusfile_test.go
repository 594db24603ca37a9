package statusfile

import (
	"path/filepath"
	"testing"

	"github.com/samitolvanen/ngim/internal/tai"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Status{
		Updated:   tai.NowN(),
		RunChange: tai.FromTimeN(tai.NowN().Time()),
		LogChange: tai.FromTimeN(tai.NowN().Time()),
		RunPID:    4242,
		LogPID:    0,
		Forward:   true,
	}

	buf := want.Encode()
	if len(buf) != Size {
		t.Fatalf("Encode produced %d bytes, want %d", len(buf), Size)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.RunPID != want.RunPID || got.LogPID != want.LogPID || got.Forward != want.Forward {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Updated.Time().Equal(want.Updated.Time()) {
		t.Fatalf("Updated mismatch: got %v, want %v", got.Updated, want.Updated)
	}
}

func TestDecodeWrongSize(t *testing.T) {
	if _, err := Decode(make([]byte, Size-1)); err == nil {
		t.Fatal("expected an error decoding a short buffer")
	}
}

func TestSizeIs45Bytes(t *testing.T) {
	if Size != 45 {
		t.Fatalf("Size = %d, want 45 (3*12 + 2*4 + 1)", Size)
	}
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")

	s := Status{Updated: tai.NowN(), RunPID: 1}
	if err := Write(path, s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A second write must not leave a stray temp file behind.
	if err := Write(path, s); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	entries, err := filepathGlob(dir)
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file in %s, got %v", dir, entries)
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}
