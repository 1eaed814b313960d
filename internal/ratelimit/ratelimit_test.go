package ratelimit

import (
	"testing"
	"time"

	"caredesk.org/internal/securestore"
)

func newLimiter(t *testing.T, now *time.Time) *Limiter {
	t.Helper()
	store, err := securestore.New("test-secret")
	if err != nil {
		t.Fatalf("securestore.New: %v", err)
	}
	return New(store, WithClock(func() time.Time { return *now }))
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 1; i <= 4; i++ {
		if d := l.Check(); d.Locked() {
			t.Fatalf("check before attempt %d should pass", i)
		}
		d := l.RecordFailure()
		if d.Locked() {
			t.Fatalf("failure %d should not lock", i)
		}
		if d.Attempts != i {
			t.Fatalf("failure %d recorded as %d", i, d.Attempts)
		}
	}

	// The fifth attempt still reaches the credential check.
	if d := l.Check(); d.Locked() {
		t.Fatal("check before the fifth attempt must pass")
	}
	d := l.RecordFailure()
	if !d.Locked() {
		t.Fatal("fifth failure must lock")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("expected 900s lockout, got %v", d.RetryAfter)
	}

	// Sixth attempt during lockout: rejected pre-credential, counter frozen.
	now = now.Add(time.Minute)
	d = l.Check()
	if !d.Locked() {
		t.Fatal("attempt during lockout must be rejected")
	}
	if d.Attempts != 5 {
		t.Fatalf("counter must not advance during lockout, got %d", d.Attempts)
	}
	if d.RetryAfter != 14*time.Minute {
		t.Fatalf("remaining wait should count down, got %v", d.RetryAfter)
	}
}

func TestCheckDoesNotAdvanceCounter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 10; i++ {
		if d := l.Check(); d.Locked() || d.Attempts != 0 {
			t.Fatalf("check %d must not record, got %+v", i, d)
		}
	}
}

func TestRecordFailureFrozenWhileLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 5; i++ {
		l.RecordFailure()
	}
	now = now.Add(time.Minute)

	d := l.RecordFailure()
	if !d.Locked() || d.Attempts != 5 {
		t.Fatalf("counter must stay frozen during lockout, got %+v", d)
	}
	if d.RetryAfter != 14*time.Minute {
		t.Fatalf("remaining wait should count down, got %v", d.RetryAfter)
	}
}

func TestLockoutExpiryClearsBothFields(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 5; i++ {
		l.RecordFailure()
	}
	now = now.Add(15*time.Minute + time.Second)

	if d := l.Check(); d.Locked() || d.Attempts != 0 {
		t.Fatalf("lapsed lockout must clear on check, got %+v", d)
	}
	if d := l.RecordFailure(); d.Attempts != 1 {
		t.Fatalf("counter must restart at 1 after lockout lapse, got %d", d.Attempts)
	}
}

func TestResetAfterSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 4; i++ {
		l.RecordFailure()
	}
	l.Reset()

	if d := l.Status(); d.Attempts != 0 || d.Locked() {
		t.Fatalf("expected clean state after reset, got %+v", d)
	}
	if d := l.RecordFailure(); d.Attempts != 1 {
		t.Fatalf("expected fresh count, got %d", d.Attempts)
	}
}

func TestStatusDoesNotRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 3; i++ {
		if d := l.Status(); d.Attempts != 0 {
			t.Fatalf("Status must not record attempts, got %d", d.Attempts)
		}
	}
}

func TestJanitorClearsLapsedLockout(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	for i := 0; i < 5; i++ {
		l.RecordFailure()
	}
	now = now.Add(16 * time.Minute)

	// Sweep directly; the ticker only schedules it.
	l.sweep()
	if d := l.Status(); d.Locked() || d.Attempts != 0 {
		t.Fatalf("sweep must clear both fields together, got %+v", d)
	}
}

func TestJanitorStopIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(t, &now)

	stop := l.StartJanitor()
	stop()
	stop()

	stop2 := l.StartJanitor()
	stop2()
}
