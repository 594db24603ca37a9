package supervisor

import (
	"testing"

	"github.com/samitolvanen/ngim/internal/gwlog"
)

func TestCheckSuspensionFlapDetection(t *testing.T) {
	lg := gwlog.NewDiscard()
	c := &Child{ProgName: "run"}

	// Below the threshold: Starts resets, no suspension.
	c.Starts = 1
	if needsTimer := checkSuspension(c, lg); !needsTimer {
		t.Fatal("expected the suspension timer to stay armed after a sub-threshold restart burst")
	}
	if c.Suspended {
		t.Fatal("should not suspend below childMaxStarts")
	}
	if c.Starts != 0 {
		t.Fatalf("Starts should reset to 0 after a check, got %d", c.Starts)
	}

	// Above the threshold: suspend.
	c.Starts = childMaxStarts + 1
	if needsTimer := checkSuspension(c, lg); !needsTimer {
		t.Fatal("expected the suspension timer to stay armed after suspending")
	}
	if !c.Suspended {
		t.Fatal("expected suspension after exceeding childMaxStarts")
	}
}

func TestCheckSuspensionLiftsAfterPeriods(t *testing.T) {
	lg := gwlog.NewDiscard()
	c := &Child{ProgName: "run", Suspended: true}

	for i := 0; i < childSuspension-1; i++ {
		if needsTimer := checkSuspension(c, lg); !needsTimer {
			t.Fatalf("iteration %d: expected timer to stay armed while still suspended", i)
		}
		if !c.Suspended {
			t.Fatalf("iteration %d: lifted suspension too early", i)
		}
	}

	if needsTimer := checkSuspension(c, lg); needsTimer {
		t.Fatal("expected the timer to stop once suspension lifts")
	}
	if c.Suspended {
		t.Fatal("expected suspension lifted after childSuspension periods")
	}
}

func TestChildRunning(t *testing.T) {
	c := &Child{}
	if c.running() {
		t.Fatal("a zero-value Child should not report running")
	}
	c.pid = 123
	if !c.running() {
		t.Fatal("a Child with a nonzero pid should report running")
	}
}
