package tai

import (
	"testing"
	"time"
)

func TestTaiRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	label := FromTime(now)

	packed := make([]byte, PackSize)
	label.Pack(packed)

	unpacked, err := UnpackTai(packed)
	if err != nil {
		t.Fatalf("UnpackTai: %v", err)
	}
	if unpacked != label {
		t.Fatalf("round trip mismatch: %+v != %+v", unpacked, label)
	}

	text := label.Format()
	reparsed, err := ParseTai(text)
	if err != nil {
		t.Fatalf("ParseTai(%q): %v", text, err)
	}
	if reparsed != label {
		t.Fatalf("text round trip mismatch: %+v != %+v", reparsed, label)
	}
}

func TestTainRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	label := FromTimeN(now)

	packed := make([]byte, NPackSize)
	label.Pack(packed)

	unpacked, err := UnpackTain(packed)
	if err != nil {
		t.Fatalf("UnpackTain: %v", err)
	}
	if unpacked != label {
		t.Fatalf("round trip mismatch: %+v != %+v", unpacked, label)
	}

	text := label.Format()
	if len(text) != NFormatSize {
		t.Fatalf("expected %d char label, got %d (%q)", NFormatSize, len(text), text)
	}
	reparsed, err := ParseTain(text)
	if err != nil {
		t.Fatalf("ParseTain(%q): %v", text, err)
	}
	if reparsed != label {
		t.Fatalf("text round trip mismatch: %+v != %+v", reparsed, label)
	}
}

func TestTainLess(t *testing.T) {
	a := FromTimeN(time.Unix(100, 0))
	b := FromTimeN(time.Unix(100, 500))
	c := FromTimeN(time.Unix(101, 0))

	if !a.Less(b) {
		t.Fatalf("expected a < b")
	}
	if !b.Less(c) {
		t.Fatalf("expected b < c")
	}
	if c.Less(a) {
		t.Fatalf("expected !(c < a)")
	}
}

func TestArchiveNamesMonotonic(t *testing.T) {
	// P5: archive names created in time order must sort lexicographically
	// in that same order.
	times := []time.Time{
		time.Unix(1000, 0),
		time.Unix(1000, 1),
		time.Unix(1001, 0),
		time.Unix(2000, 0),
	}
	var prev string
	for _, tm := range times {
		name := FromTimeN(tm).Format()
		if prev != "" && !(prev < name) {
			t.Fatalf("archive names not monotonic: %q >= %q", prev, name)
		}
		prev = name
	}
}

func TestParseTaiRejectsGarbage(t *testing.T) {
	cases := []string{"", "nope", "@short", "@" + string(make([]byte, 16))}
	for _, c := range cases {
		if _, err := ParseTai(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestFormatISO8601UTC(t *testing.T) {
	tm := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	got := FormatISO8601(tm, time.UTC)
	want := "2026-01-02 03:04:05Z"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
