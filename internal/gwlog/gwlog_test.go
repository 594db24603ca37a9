package gwlog

import (
	"bytes"
	"strings"
	"testing"
)

type closeBuf struct {
	bytes.Buffer
}

func (closeBuf) Close() error { return nil }

func TestLevelFromString(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"error":   ERROR,
		"crit":    CRITICAL,
		"FATAL":   FATAL,
	}
	for in, want := range cases {
		got, err := LevelFromString(in)
		if err != nil || got != want {
			t.Errorf("LevelFromString(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := LevelFromString("bogus"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestSetLevelFilters(t *testing.T) {
	var buf closeBuf
	lg := New(&buf, "test")
	lg.SetLevel(ERROR)

	lg.Infof("should not appear")
	lg.Errorf("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("INFO line emitted despite ERROR level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("ERROR line missing: %q", out)
	}
}

func TestCloseStopsOutput(t *testing.T) {
	var buf closeBuf
	lg := New(&buf, "test")
	lg.Close()
	lg.Infof("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output after Close, got %q", buf.String())
	}
}

func TestKVStringifiesNonStrings(t *testing.T) {
	sd := KV("count", 3)
	if sd.Name != "count" || sd.Value != "3" {
		t.Fatalf("KV(3) = %+v", sd)
	}
}
