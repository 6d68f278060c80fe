package cleaner

import (
	"testing"
	"time"
)

func TestEstimator_DoneIsZero(t *testing.T) {
	e := NewEstimator(8*time.Second, 60*time.Second)
	if got := e.ETA(100, 100); got != 0 {
		t.Fatalf("ETA at completion: got %d want 0", got)
	}
	if got := e.ETA(150, 100); got != 0 {
		t.Fatalf("ETA past completion: got %d want 0", got)
	}
}

func TestEstimator_NominalFallback(t *testing.T) {
	e := NewEstimator(8*time.Second, 100*time.Second)
	// No samples yet: half the work left should read as half the
	// nominal duration.
	if got := e.ETA(50, 100); got != 50 {
		t.Fatalf("fallback ETA: got %d want 50", got)
	}
	if got := e.ETA(99, 100); got < 1 {
		t.Fatalf("fallback ETA floor: got %d want >= 1", got)
	}
}

func TestEstimator_RateBased(t *testing.T) {
	base := time.Unix(1000, 0)
	now := base
	e := NewEstimator(10*time.Second, time.Hour)
	e.now = func() time.Time { return now }

	// 100 units over the window: 10 units/s.
	e.Observe(100)
	if got := e.ETA(100, 200); got != 10 {
		t.Fatalf("rate ETA: got %d want 10", got)
	}

	// Samples age out of the window and the nominal fallback returns.
	now = base.Add(time.Minute)
	if got := e.ETA(100, 200); got != 1800 {
		t.Fatalf("expired-window ETA: got %d want 1800", got)
	}
}

func TestEstimator_AlwaysAtLeastOneSecond(t *testing.T) {
	base := time.Unix(1000, 0)
	e := NewEstimator(10*time.Second, time.Hour)
	e.now = func() time.Time { return base }

	// Enormous rate against one remaining unit still floors at 1.
	e.Observe(1 << 40)
	if got := e.ETA(199, 200); got != 1 {
		t.Fatalf("ETA floor: got %d want 1", got)
	}
}
