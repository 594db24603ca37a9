package logwriter

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/samitolvanen/ngim/internal/tai"
)

func TestFormatUsesTextualLabel(t *testing.T) {
	var wrapped bool
	rec := format([]byte("hello\n"), tai.NowN(), &wrapped, DefaultBufSize)

	if len(rec) < BufferStart {
		t.Fatalf("record too short: %d bytes", len(rec))
	}
	label := string(rec[:tai.NFormatSize])
	if label[0] != '@' {
		t.Fatalf("label %q does not start with @", label)
	}
	if len(label) != tai.NFormatSize {
		t.Fatalf("label length = %d, want %d (textual, not packed)", len(label), tai.NFormatSize)
	}
	if rec[bufferSeparator] != ' ' {
		t.Fatalf("separator byte = %q, want space for a non-continuation line", rec[bufferSeparator])
	}
	if string(rec[BufferStart:]) != "hello\n" {
		t.Fatalf("payload = %q, want %q", rec[BufferStart:], "hello\n")
	}
}

func TestFormatMarksContinuationLines(t *testing.T) {
	var wrapped bool
	// A line with no trailing newline sets wrapped for the next call.
	format([]byte("partial-line-with-no-newline"), tai.NowN(), &wrapped, MaxBufSize)
	if !wrapped {
		t.Fatal("expected wrapped=true after a line without a trailing newline")
	}

	rec := format([]byte("rest\n"), tai.NowN(), &wrapped, MaxBufSize)
	if rec[bufferSeparator] != '\t' {
		t.Fatalf("continuation separator = %q, want tab", rec[bufferSeparator])
	}
	if wrapped {
		t.Fatal("expected wrapped=false after a line ending in newline")
	}
}

func TestFormatTruncatesOverlongLines(t *testing.T) {
	var wrapped bool
	line := strings.Repeat("x", MinBufSize*2) + "\n"
	rec := format([]byte(line), tai.NowN(), &wrapped, MinBufSize)

	if len(rec) != MinBufSize {
		t.Fatalf("record length = %d, want clamped to %d", len(rec), MinBufSize)
	}
	if rec[len(rec)-1] != '\n' {
		t.Fatalf("truncated record must still end in a newline")
	}
}

func TestReadChunkSplitsOverlongLineWithoutLoss(t *testing.T) {
	line := strings.Repeat("x", payloadCap(MinBufSize)*3) + "\n"
	br := bufio.NewReader(strings.NewReader(line))
	cap := payloadCap(MinBufSize)

	var reassembled []byte
	var chunks int
	for {
		chunk, _, err := readChunk(br, cap)
		reassembled = append(reassembled, chunk...)
		if len(chunk) > 0 {
			chunks++
		}
		if err != nil {
			break
		}
	}
	if chunks < 2 {
		t.Fatalf("expected the overlong line to be split into multiple chunks, got %d", chunks)
	}
	if string(reassembled) != line {
		t.Fatalf("reassembled content lost data: got %d bytes, want %d", len(reassembled), len(line))
	}
}

func TestRunWrapsOverlongLinesAcrossRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Options{BufSize: MinBufSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	cap := payloadCap(MinBufSize)
	line := strings.Repeat("y", cap*2+5) + "\n"
	if err := Run(bytes.NewReader([]byte(line)), w, MinBufSize); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(w.currentPath())
	if err != nil {
		t.Fatalf("reading current: %v", err)
	}

	// Reassemble the logical line: a '\t'-marked record continues the
	// previous one, so the previous record's own trailing newline was
	// synthetic and must be dropped before joining.
	var payload []byte
	var seenContinuation bool
	for off := 0; off < len(data); {
		rec := data[off:]
		end := BufferStart
		for end < len(rec) && rec[end-1] != '\n' {
			end++
		}
		sep := rec[bufferSeparator]
		switch sep {
		case '\t':
			seenContinuation = true
			payload = bytes.TrimSuffix(payload, []byte("\n"))
		case ' ':
		default:
			t.Fatalf("unexpected separator byte %q", sep)
		}
		payload = append(payload, rec[BufferStart:end]...)
		off += end
	}
	if !seenContinuation {
		t.Fatal("expected at least one continuation record for an overlong line")
	}
	if string(payload) != line {
		t.Fatalf("reassembled payload = %q (%d bytes), want %q (%d bytes)", payload, len(payload), line, len(line))
	}
}

func TestReadChunkStampsAtFirstByteNotAtCallTime(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("x\n"))
	before := tai.NowN()
	_, ts, err := readChunk(br, DefaultBufSize)
	if err != nil {
		t.Fatalf("readChunk: %v", err)
	}
	after := tai.NowN()
	if ts.Less(before) || after.Less(ts) {
		t.Fatalf("stamp not within [before, after] bounds")
	}
}

func TestClampBufSize(t *testing.T) {
	if v, ok := ClampBufSize(10); ok || v != MinBufSize {
		t.Fatalf("ClampBufSize(10) = %d, %v; want %d, false", v, ok, MinBufSize)
	}
	if v, ok := ClampBufSize(999999); ok || v != MaxBufSize {
		t.Fatalf("ClampBufSize(999999) = %d, %v; want %d, false", v, ok, MaxBufSize)
	}
	if v, ok := ClampBufSize(200); !ok || v != 200 {
		t.Fatalf("ClampBufSize(200) = %d, %v; want 200, true", v, ok)
	}
}

func TestClampKeepNum(t *testing.T) {
	if v, ok := ClampKeepNum(-5); !ok || v != -1 {
		t.Fatalf("ClampKeepNum(-5) = %d, %v; want -1, true", v, ok)
	}
	if v, ok := ClampKeepNum(MaxKeepNum + 1); ok || v != MaxKeepNum {
		t.Fatalf("ClampKeepNum overflow = %d, %v; want %d, false", v, ok, MaxKeepNum)
	}
}

func TestAppendRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, Options{FileSize: int64(BufferStart + 10), KeepNum: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		w.Append([]byte("0123456789\n"), tai.NowN())
	}

	dents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var archived int
	var hasCurrent bool
	for _, d := range dents {
		if d.Name() == "current" {
			hasCurrent = true
			continue
		}
		if strings.HasPrefix(d.Name(), "@") {
			archived++
		}
	}
	if !hasCurrent {
		t.Fatal("expected a \"current\" file to remain open")
	}
	if archived > 1 {
		t.Fatalf("expected pruning to keep at most 1 archived file, found %d", archived)
	}
}
