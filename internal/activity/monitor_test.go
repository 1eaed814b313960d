package activity

import (
	"sync/atomic"
	"testing"
	"time"
)

// testMonitor drives the check loop by hand through a fake clock; the ticker
// goroutine is immediately stopped so checks are deterministic.
func testMonitor(t *testing.T, now *time.Time, timeouts, warnings, cleared *atomic.Int32) *Monitor {
	t.Helper()
	m := Start(Config{
		Timeout:       30 * time.Minute,
		WarningOffset: 5 * time.Minute,
		Clock:         func() time.Time { return *now },
		OnTimeout:     func() { timeouts.Add(1) },
		OnWarning:     func() { warnings.Add(1) },
		OnWarningCleared: func() {
			if cleared != nil {
				cleared.Add(1)
			}
		},
	})
	t.Cleanup(m.Stop)
	return m
}

func TestWarningThenTimeout(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timeouts, warnings atomic.Int32
	m := testMonitor(t, &now, &timeouts, &warnings, nil)

	now = now.Add(24 * time.Minute)
	m.check()
	if warnings.Load() != 0 || timeouts.Load() != 0 {
		t.Fatal("nothing should fire before the warning window")
	}

	now = now.Add(time.Minute) // 25 minutes idle
	m.check()
	m.check()
	if warnings.Load() != 1 {
		t.Fatalf("warning must show exactly once, got %d", warnings.Load())
	}
	if !m.WarningShown() {
		t.Fatal("warning should be up")
	}

	now = now.Add(5 * time.Minute) // 30 minutes idle
	m.check()
	m.check()
	if timeouts.Load() != 1 {
		t.Fatalf("timeout must fire exactly once, got %d", timeouts.Load())
	}
	if !m.Expired() {
		t.Fatal("monitor should be expired")
	}
	if m.WarningShown() {
		t.Fatal("warning must be dismissed on timeout")
	}
}

func TestActivityCancelsWarningAndResetsClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timeouts, warnings, cleared atomic.Int32
	m := testMonitor(t, &now, &timeouts, &warnings, &cleared)

	now = now.Add(26 * time.Minute)
	m.check()
	if warnings.Load() != 1 {
		t.Fatalf("expected warning, got %d", warnings.Load())
	}

	// One activity event at minute 26 dismisses the warning and restarts
	// the clock: nothing may fire at the original 30-minute mark.
	m.Touch()
	if cleared.Load() != 1 {
		t.Fatalf("expected warning cleared once, got %d", cleared.Load())
	}
	if m.WarningShown() {
		t.Fatal("warning must be dismissed by activity")
	}

	now = now.Add(4 * time.Minute) // original timeout mark
	m.check()
	if timeouts.Load() != 0 {
		t.Fatal("timeout must not fire after the clock was reset")
	}

	now = now.Add(26 * time.Minute) // 30 minutes after the touch
	m.check()
	if timeouts.Load() != 1 {
		t.Fatalf("expected timeout after a fresh full window, got %d", timeouts.Load())
	}
}

func TestStayLoggedInResetsFromWarning(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timeouts, warnings atomic.Int32
	m := testMonitor(t, &now, &timeouts, &warnings, nil)

	now = now.Add(25 * time.Minute)
	m.check()
	m.StayLoggedIn()

	now = now.Add(25 * time.Minute)
	m.check()
	if warnings.Load() != 2 {
		t.Fatalf("a new inactivity episode warns again, got %d", warnings.Load())
	}
	if timeouts.Load() != 0 {
		t.Fatal("no timeout expected yet")
	}
}

func TestTouchAfterTimeoutIsIgnored(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timeouts, warnings atomic.Int32
	m := testMonitor(t, &now, &timeouts, &warnings, nil)

	now = now.Add(31 * time.Minute)
	m.check()
	if timeouts.Load() != 1 {
		t.Fatal("expected timeout")
	}

	m.Touch()
	now = now.Add(31 * time.Minute)
	m.check()
	if timeouts.Load() != 1 {
		t.Fatal("a dead monitor must stay dead until a new session starts one")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := Start(Config{OnTimeout: func() {}})
	m.Stop()
	m.Stop()
}
