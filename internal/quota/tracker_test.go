package quota

import (
	"testing"
	"time"

	"clipcast/pkg/logx"
)

func newTestTracker(t *testing.T, limits Limits) (*Tracker, *time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	tr := New(loc, logx.Nop())
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)
	tr.SetNow(func() time.Time { return now })
	tr.Register("main", limits)
	return tr, &now
}

func TestDailyLimitGate(t *testing.T) {
	tr, now := newTestTracker(t, Limits{DailyLimit: 2})

	for i := 0; i < 2; i++ {
		if !tr.CanProceed("main") {
			t.Fatalf("upload %d: expected allow", i)
		}
		tr.Record("main")
	}
	if tr.CanProceed("main") {
		t.Fatalf("expected deny after reaching daily limit")
	}
	if rem := tr.Remaining("main"); rem != 0 {
		t.Fatalf("expected 0 remaining, got %d", rem)
	}

	// Past local midnight the old records age out.
	*now = now.Add(13 * time.Hour)
	if !tr.CanProceed("main") {
		t.Fatalf("expected allow after local-day boundary")
	}
	if rem := tr.Remaining("main"); rem != 2 {
		t.Fatalf("expected 2 remaining next day, got %d", rem)
	}
}

func TestMinIntervalGate(t *testing.T) {
	tr, now := newTestTracker(t, Limits{DailyLimit: 10, MinInterval: 30 * time.Minute})

	tr.Record("main")
	*now = now.Add(10 * time.Minute)
	if tr.CanProceed("main") {
		t.Fatalf("expected deny inside min interval")
	}
	*now = now.Add(25 * time.Minute)
	if !tr.CanProceed("main") {
		t.Fatalf("expected allow once interval elapsed")
	}
}

func TestZeroValues(t *testing.T) {
	tr, _ := newTestTracker(t, Limits{DailyLimit: 0})
	if tr.CanProceed("main") {
		t.Fatalf("daily limit 0 must always deny")
	}

	tr2, now := newTestTracker(t, Limits{DailyLimit: 5, MinInterval: 0})
	tr2.Record("main")
	*now = now.Add(time.Second)
	if !tr2.CanProceed("main") {
		t.Fatalf("min interval 0 must disable the gap check")
	}
}

func TestUnknownChannelFailsClosed(t *testing.T) {
	tr, _ := newTestTracker(t, Limits{DailyLimit: 5})
	if tr.CanProceed("ghost") {
		t.Fatalf("unknown channel must deny")
	}
	tr.Record("ghost") // must not panic or create state
	if got := tr.History("ghost"); got != nil {
		t.Fatalf("unknown channel must have no history, got %v", got)
	}
}

func TestSeedAndHistory(t *testing.T) {
	tr, now := newTestTracker(t, Limits{DailyLimit: 2})

	yesterday := now.Add(-24 * time.Hour)
	thisMorning := now.Add(-3 * time.Hour)
	tr.Seed("main", []time.Time{yesterday, thisMorning})

	hist := tr.History("main")
	if len(hist) != 1 || !hist[0].Equal(thisMorning) {
		t.Fatalf("expected only today's record to survive pruning, got %v", hist)
	}
	if !tr.CanProceed("main") {
		t.Fatalf("expected allow with one of two slots used")
	}
}

func TestReRegisterKeepsHistory(t *testing.T) {
	tr, _ := newTestTracker(t, Limits{DailyLimit: 2})
	tr.Record("main")
	tr.Register("main", Limits{DailyLimit: 1})
	if tr.CanProceed("main") {
		t.Fatalf("expected deny: history kept, limit lowered to 1")
	}
}
