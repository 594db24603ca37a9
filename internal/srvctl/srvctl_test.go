package srvctl

import (
	"testing"
	"time"
)

func TestValidPriority(t *testing.T) {
	cases := map[string]bool{
		"123":  true,
		"0":    true,
		"":     false,
		"12a":  false,
		"-1":   false,
	}
	for in, want := range cases {
		if got := ValidPriority(in); got != want {
			t.Errorf("ValidPriority(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestProcInfoString(t *testing.T) {
	notRunning := ProcInfo{}
	if notRunning.String() != "not running" {
		t.Errorf("got %q, want %q", notRunning.String(), "not running")
	}

	minutes := ProcInfo{PID: 7, Uptime: 90 * time.Second}
	if got := minutes.String(); got != "pid 7 up 1 min 30 s" {
		t.Errorf("got %q", got)
	}

	hours := ProcInfo{PID: 7, Uptime: 2*time.Hour + 5*time.Minute}
	if got := hours.String(); got != "pid 7 up 2 h 5 min 0 s" {
		t.Errorf("got %q", got)
	}

	days := ProcInfo{PID: 7, Uptime: 26*time.Hour + time.Minute}
	if got := days.String(); got != "pid 7 up 1 d 2 h 1 min 0 s" {
		t.Errorf("got %q", got)
	}
}

func TestParsePriorityArg(t *testing.T) {
	if _, err := ParsePriorityArg("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric priority")
	}
	v, err := ParsePriorityArg("42")
	if err != nil || v != "42" {
		t.Fatalf("ParsePriorityArg(42) = %q, %v", v, err)
	}
}
