// Package activity enforces inactivity-based session expiry. A monitor is
// started when a session begins and stopped when it ends; the controller
// owns the handle, so there is never more than one live monitor per session.
package activity

import (
	"sync"
	"time"

	"caredesk.org/internal/obs"
)

const (
	// DefaultTimeout is the inactivity window that forces logout.
	DefaultTimeout = 30 * time.Minute
	// DefaultWarningOffset is how long before the timeout the warning shows.
	DefaultWarningOffset = 5 * time.Minute
	// DefaultCheckInterval is the recurring inactivity check cadence.
	DefaultCheckInterval = 30 * time.Second
)

// Config wires a monitor to its session.
type Config struct {
	Timeout       time.Duration
	WarningOffset time.Duration
	CheckInterval time.Duration

	// Clock overrides the time source for tests.
	Clock func() time.Time

	// OnTimeout fires exactly once when inactivity reaches the timeout.
	OnTimeout func()
	// OnWarning fires at most once per inactivity episode when the
	// pre-expiry window begins.
	OnWarning func()
	// OnWarningCleared fires when activity dismisses a shown warning.
	OnWarningCleared func()
}

// Monitor tracks one authenticated session's activity.
type Monitor struct {
	cfg Config

	mu           sync.Mutex
	lastActivity time.Time
	warned       bool
	fired        bool

	stop     chan struct{}
	stopOnce sync.Once
}

// Start begins monitoring. The caller must Stop the returned monitor before
// starting another for the same session.
func Start(cfg Config) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WarningOffset <= 0 || cfg.WarningOffset >= cfg.Timeout {
		cfg.WarningOffset = DefaultWarningOffset
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	m := &Monitor{
		cfg:          cfg,
		lastActivity: cfg.Clock(),
		stop:         make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Touch records genuine user activity: the inactivity clock restarts and any
// shown warning is dismissed. Background data refreshes must not call this,
// or the auto-logout guarantee is defeated.
func (m *Monitor) Touch() {
	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		return
	}
	m.lastActivity = m.cfg.Clock()
	wasWarned := m.warned
	m.warned = false
	cleared := m.cfg.OnWarningCleared
	m.mu.Unlock()

	if wasWarned && cleared != nil {
		cleared()
	}
}

// StayLoggedIn is the warning's one-click action.
func (m *Monitor) StayLoggedIn() { m.Touch() }

// Stop tears the monitor down. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Expired reports whether the timeout already fired.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

// WarningShown reports whether the pre-expiry warning is currently up.
func (m *Monitor) WarningShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warned && !m.fired
}

func (m *Monitor) check() {
	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		return
	}
	elapsed := m.cfg.Clock().Sub(m.lastActivity)

	if elapsed >= m.cfg.Timeout {
		m.fired = true
		m.warned = false
		onTimeout := m.cfg.OnTimeout
		m.mu.Unlock()

		obs.SessionTimeouts.Inc()
		if onTimeout != nil {
			onTimeout()
		}
		m.Stop()
		return
	}

	if elapsed >= m.cfg.Timeout-m.cfg.WarningOffset && !m.warned {
		m.warned = true
		onWarning := m.cfg.OnWarning
		m.mu.Unlock()
		if onWarning != nil {
			onWarning()
		}
		return
	}
	m.mu.Unlock()
}
