// Package ratelimit tracks failed login attempts for one UI session and
// enforces a lockout window. It is a client-side deterrent scoped to the
// session's secure store, not a substitute for provider-side rate limiting.
package ratelimit

import (
	"sync"
	"time"

	"caredesk.org/internal/obs"
	"caredesk.org/internal/securestore"
)

const (
	storeKey = "login_attempts"

	// DefaultMaxAttempts failed attempts trigger a lockout.
	DefaultMaxAttempts = 5
	// DefaultLockout is how long the lockout lasts once triggered.
	DefaultLockout = 15 * time.Minute
	// janitorInterval is the coarse poll that reflects lockout expiry in the
	// UI without requiring another login click.
	janitorInterval = 10 * time.Second
)

// Verdict is the outcome of an attempt check.
type Verdict int

const (
	// VerdictOK means the attempt may proceed to the credential check.
	VerdictOK Verdict = iota
	// VerdictLocked means the attempt is rejected without touching credentials.
	VerdictLocked
)

// Decision reports the verdict together with UI-facing detail.
type Decision struct {
	Verdict    Verdict
	Attempts   int
	RetryAfter time.Duration
}

// Locked is a convenience accessor.
func (d Decision) Locked() bool { return d.Verdict == VerdictLocked }

// state is the persisted attempt record. LockoutUntil is non-nil only while
// the attempt count has reached the maximum; both fields are always cleared
// together.
type state struct {
	Attempts     int        `json:"attempts"`
	LockoutUntil *time.Time `json:"lockout_until,omitempty"`
}

// Limiter enforces the per-session lockout policy.
type Limiter struct {
	mu          sync.Mutex
	store       *securestore.Store
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time

	janitorStop chan struct{}
	janitorOnce *sync.Once
}

// Option configures the limiter.
type Option func(*Limiter)

// WithMaxAttempts overrides the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithLockout overrides the lockout window.
func WithLockout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.lockout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New builds a limiter persisting its state in the given secure store so a
// page reload within the same session keeps the lockout.
func New(store *securestore.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		lockout:     DefaultLockout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check must be called before every credential check. It rejects only
// while a lockout is active; it never advances the counter, so a correct
// password on the last allowed attempt still reaches the provider.
func (l *Limiter) Check() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.load()

	if st.LockoutUntil != nil {
		if now.Before(*st.LockoutUntil) {
			return Decision{
				Verdict:    VerdictLocked,
				Attempts:   st.Attempts,
				RetryAfter: st.LockoutUntil.Sub(now),
			}
		}
		// Lockout has lapsed; both fields go together.
		st = state{}
		l.store.Remove(storeKey)
	}
	return Decision{Verdict: VerdictOK, Attempts: st.Attempts}
}

// RecordFailure advances the counter after a failed credential check.
// Reaching the ceiling starts the lockout. While a lockout is active the
// counter stays frozen.
func (l *Limiter) RecordFailure() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.load()

	if st.LockoutUntil != nil {
		if now.Before(*st.LockoutUntil) {
			return Decision{
				Verdict:    VerdictLocked,
				Attempts:   st.Attempts,
				RetryAfter: st.LockoutUntil.Sub(now),
			}
		}
		st = state{}
	}

	st.Attempts++
	if st.Attempts >= l.maxAttempts {
		until := now.Add(l.lockout)
		st.LockoutUntil = &until
		l.save(st)
		obs.Lockouts.Inc()
		return Decision{Verdict: VerdictLocked, Attempts: st.Attempts, RetryAfter: l.lockout}
	}
	l.save(st)
	return Decision{Verdict: VerdictOK, Attempts: st.Attempts}
}

// Status reports the current lockout state without recording an attempt.
func (l *Limiter) Status() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.load()
	if st.LockoutUntil != nil && now.Before(*st.LockoutUntil) {
		return Decision{Verdict: VerdictLocked, Attempts: st.Attempts, RetryAfter: st.LockoutUntil.Sub(now)}
	}
	return Decision{Verdict: VerdictOK, Attempts: st.Attempts}
}

// Reset clears the counter and any lockout. Called after a successful login.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store.Remove(storeKey)
}

// StartJanitor launches the coarse background poll that clears a lapsed
// lockout even without a new attempt. The returned stop function is
// idempotent.
func (l *Limiter) StartJanitor() (stop func()) {
	l.mu.Lock()
	if l.janitorStop == nil {
		done := make(chan struct{})
		l.janitorStop = done
		l.janitorOnce = &sync.Once{}
		go func() {
			ticker := time.NewTicker(janitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					l.sweep()
				}
			}
		}()
	}
	done, once := l.janitorStop, l.janitorOnce
	l.mu.Unlock()

	return func() {
		once.Do(func() {
			close(done)
			l.mu.Lock()
			if l.janitorStop == done {
				l.janitorStop = nil
				l.janitorOnce = nil
			}
			l.mu.Unlock()
		})
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.load()
	if st.LockoutUntil != nil && !l.now().Before(*st.LockoutUntil) {
		l.store.Remove(storeKey)
	}
}

func (l *Limiter) load() state {
	var st state
	l.store.Get(storeKey, &st)
	return st
}

func (l *Limiter) save(st state) {
	if err := l.store.Set(storeKey, st); err != nil {
		obs.Error("persist login attempts", err, nil)
	}
}
