// Package session owns the authenticated-session state for one UI session
// and composes the credential gateway, rate limiter, CSRF manager, timeout
// monitor, and permission resolver behind a single public surface. The rest
// of the application talks to a Controller and never reaches into the
// collaborators directly.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"caredesk.org/internal/activity"
	"caredesk.org/internal/audit"
	"caredesk.org/internal/csrf"
	"caredesk.org/internal/gateway"
	"caredesk.org/internal/identity"
	"caredesk.org/internal/obs"
	"caredesk.org/internal/ratelimit"
	"caredesk.org/internal/rbac"
	"caredesk.org/internal/securestore"
)

// ErrLoginInFlight rejects a second concurrent login attempt so the rate
// limiter's counter cannot double-increment on a duplicate submit.
var ErrLoginInFlight = errors.New("session: login already in flight")

// refreshLead is how long before session expiry the single proactive
// refresh attempt is scheduled.
const refreshLead = 2 * time.Minute

// Controller is the session core's public surface.
type Controller struct {
	gw       *gateway.Gateway
	limiter  *ratelimit.Limiter
	csrf     *csrf.Manager
	store    *securestore.Store
	resolver *rbac.Resolver
	sink     audit.Sink

	timeout       time.Duration
	warningOffset time.Duration
	clock         func() time.Time
	limiterOpts   []ratelimit.Option

	onWarning        func()
	onWarningCleared func()

	mu           sync.Mutex
	user         *identity.User
	session      *identity.Session
	loading      bool
	expired      bool
	initialized  bool
	monitor      *activity.Monitor
	refreshTimer *time.Timer
	expiryTimer  *time.Timer
	unsubscribe  func()
	janitorStop  func()
}

// Option configures the controller.
type Option func(*Controller)

// WithSessionTimeout overrides the inactivity window.
func WithSessionTimeout(timeout, warningOffset time.Duration) Option {
	return func(c *Controller) {
		if timeout > 0 {
			c.timeout = timeout
		}
		if warningOffset > 0 && warningOffset < c.timeout {
			c.warningOffset = warningOffset
		}
	}
}

// WithLoginLimits overrides the failed-attempt threshold and lockout
// window.
func WithLoginLimits(maxAttempts int, lockout time.Duration) Option {
	return func(c *Controller) {
		c.limiterOpts = append(c.limiterOpts,
			ratelimit.WithMaxAttempts(maxAttempts),
			ratelimit.WithLockout(lockout))
	}
}

// WithWarningCallbacks surfaces the pre-expiry warning to the UI. The
// warning is persistent; onWarningCleared fires when activity dismisses it.
func WithWarningCallbacks(onWarning, onWarningCleared func()) Option {
	return func(c *Controller) {
		c.onWarning = onWarning
		c.onWarningCleared = onWarningCleared
	}
}

// WithAuditSink wires the best-effort audit sink for session lifecycle
// events.
func WithAuditSink(sink audit.Sink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) {
		if fn != nil {
			c.clock = fn
		}
	}
}

// New wires a controller from its collaborators. It is built once by the
// application's composition root; there are no hidden singletons.
func New(gw *gateway.Gateway, store *securestore.Store, opts ...Option) (*Controller, error) {
	if gw == nil {
		return nil, errors.New("session: gateway is required")
	}
	if store == nil {
		return nil, errors.New("session: secure store is required")
	}
	c := &Controller{
		gw:            gw,
		store:         store,
		csrf:          csrf.NewManager(store),
		resolver:      rbac.NewResolver(),
		timeout:       activity.DefaultTimeout,
		warningOffset: activity.DefaultWarningOffset,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = ratelimit.New(store, append(c.limiterOpts, ratelimit.WithClock(c.clock))...)
	return c, nil
}

// Initialize subscribes to provider auth changes and resumes any existing
// session. Calling it again is a no-op; subscriptions are never duplicated.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.mu.Unlock()

	c.mu.Lock()
	c.unsubscribe = c.gw.OnAuthStateChange(c.handleProviderChange)
	c.janitorStop = c.limiter.StartJanitor()
	c.mu.Unlock()

	c.setLoading(true)
	defer c.setLoading(false)

	creds, ok, err := c.gw.ResumeSession(ctx)
	if err != nil {
		obs.Warn("session resume failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !ok {
		return nil
	}
	// Resumed sessions keep their CSRF token when one survived the reload;
	// otherwise it is backfilled here. A backfill failure must not leave
	// the gateway signed in with the controller signed out, so the
	// credentials are adopted either way.
	if c.csrf.Get() == "" {
		if _, err := c.csrf.Generate(); err != nil {
			obs.Warn("csrf backfill on resume failed", map[string]any{"error": err.Error()})
		}
	}
	c.adopt(ctx, creds, false)
	return nil
}

// Login performs an interactive email/password login. The rate limiter is
// consulted and its verdict observed before any credential call is issued.
func (c *Controller) Login(ctx context.Context, email, password string) (identity.User, error) {
	if err := c.beginAttempt(); err != nil {
		return identity.User{}, err
	}
	defer c.setLoading(false)

	if decision := c.limiter.Check(); decision.Locked() {
		obs.LoginAttempts.WithLabelValues("password", "locked").Inc()
		return identity.User{}, identity.LockedError{RetryAfter: decision.RetryAfter}
	}

	creds, err := c.gw.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.recordCredentialFailure(err)
		obs.LoginAttempts.WithLabelValues("password", "failure").Inc()
		return identity.User{}, err
	}

	// Both must complete before the UI may transition to the
	// authenticated route.
	c.limiter.Reset()
	if _, err := c.csrf.Generate(); err != nil {
		return identity.User{}, err
	}

	obs.LoginAttempts.WithLabelValues("password", "success").Inc()
	c.adopt(ctx, creds, true)
	return creds.User, nil
}

// LoginWithSocial starts a redirect-based OAuth flow and returns the
// redirect URL. A fresh CSRF token is generated immediately before the
// redirect; the session itself arrives later through Resume.
func (c *Controller) LoginWithSocial(ctx context.Context, providerName, redirectURL string) (string, error) {
	if err := c.beginAttempt(); err != nil {
		return "", err
	}
	defer c.setLoading(false)

	if _, err := c.csrf.Generate(); err != nil {
		return "", err
	}
	url, err := c.gw.SignInWithOAuth(ctx, providerName, redirectURL)
	if err != nil {
		obs.LoginAttempts.WithLabelValues("oauth", "failure").Inc()
		return "", err
	}
	obs.LoginAttempts.WithLabelValues("oauth", "initiated").Inc()
	return url, nil
}

// LoginWithPhone signs in by phone. Without a password an OTP challenge is
// triggered and pending is true until VerifyOTP completes it.
func (c *Controller) LoginWithPhone(ctx context.Context, phone, password string) (pending bool, err error) {
	if err := c.beginAttempt(); err != nil {
		return false, err
	}
	defer c.setLoading(false)

	if decision := c.limiter.Check(); decision.Locked() {
		obs.LoginAttempts.WithLabelValues("phone", "locked").Inc()
		return false, identity.LockedError{RetryAfter: decision.RetryAfter}
	}

	creds, pending, err := c.gw.SignInWithPhone(ctx, phone, password)
	if err != nil {
		c.recordCredentialFailure(err)
		obs.LoginAttempts.WithLabelValues("phone", "failure").Inc()
		return false, err
	}
	if pending {
		return true, nil
	}

	c.limiter.Reset()
	if _, err := c.csrf.Generate(); err != nil {
		return false, err
	}
	obs.LoginAttempts.WithLabelValues("phone", "success").Inc()
	c.adopt(ctx, creds, true)
	return false, nil
}

// VerifyOTP completes a pending phone challenge. A code guess is a
// credential check like any other, so it goes through the same lockout.
func (c *Controller) VerifyOTP(ctx context.Context, phone, code string) (identity.User, error) {
	if err := c.beginAttempt(); err != nil {
		return identity.User{}, err
	}
	defer c.setLoading(false)

	if decision := c.limiter.Check(); decision.Locked() {
		obs.LoginAttempts.WithLabelValues("otp", "locked").Inc()
		return identity.User{}, identity.LockedError{RetryAfter: decision.RetryAfter}
	}

	creds, err := c.gw.VerifyOtp(ctx, phone, code)
	if err != nil {
		c.recordCredentialFailure(err)
		obs.LoginAttempts.WithLabelValues("otp", "failure").Inc()
		return identity.User{}, err
	}
	c.limiter.Reset()
	if _, err := c.csrf.Generate(); err != nil {
		return identity.User{}, err
	}
	obs.LoginAttempts.WithLabelValues("otp", "success").Inc()
	c.adopt(ctx, creds, true)
	return creds.User, nil
}

// SignUp registers a new account and signs it in.
func (c *Controller) SignUp(ctx context.Context, email, password, name string, role identity.Role) (identity.User, error) {
	if err := c.beginAttempt(); err != nil {
		return identity.User{}, err
	}
	defer c.setLoading(false)

	creds, err := c.gw.SignUp(ctx, email, password, name, role)
	if err != nil {
		return identity.User{}, err
	}
	c.limiter.Reset()
	if _, err := c.csrf.Generate(); err != nil {
		return identity.User{}, err
	}
	c.adopt(ctx, creds, true)
	return creds.User, nil
}

// ResetPassword starts the password reset flow for email.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	return c.gw.ResetPassword(ctx, email)
}

// Logout signs the user out. Side effects run in order: audit event
// (best-effort), timer teardown, provider sign-out, local state clear.
// CSRF token and rate-limit state survive unless everywhere is set, which
// is the explicit "sign out everywhere" action and empties the store.
func (c *Controller) Logout(ctx context.Context, everywhere bool) error {
	c.emitSessionEnd(ctx, "logout")
	c.teardownTimers()

	err := c.gw.SignOut(ctx, gateway.ScopeGlobal)

	c.clearLocalState()
	if everywhere {
		c.csrf.Clear()
		c.store.Clear()
	}
	return err
}

// timeoutLogout is the inactivity monitor's forced logout: like Logout, but
// the CSRF token is removed selectively and the rest of the store survives.
func (c *Controller) timeoutLogout() {
	c.forcedLogout("inactivity_timeout")
}

// RecordActivity feeds a genuine user activity signal (pointer, key,
// scroll, click) to the timeout monitor. Background data refreshes must not
// call this.
func (c *Controller) RecordActivity() {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor != nil {
		monitor.Touch()
	}
}

// StayLoggedIn is the session-warning's one-click action.
func (c *Controller) StayLoggedIn() { c.RecordActivity() }

// HasPermission answers the security-critical capability check against the
// live user. It never consults a cached permission set.
func (c *Controller) HasPermission(code string) bool {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	return c.resolver.HasPermission(user, code)
}

// Permissions returns the effective permission set for UI gating.
func (c *Controller) Permissions() []string {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	return c.resolver.UserPermissions(user)
}

// CanAccessPatientData reports whether the current user may see the patient.
func (c *Controller) CanAccessPatientData(patientID string) bool {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	return c.resolver.CanAccessPatientData(user, patientID)
}

// CurrentUser returns the cached user projection.
func (c *Controller) CurrentUser() (identity.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return identity.User{}, false
	}
	return *c.user, true
}

// CurrentSession returns the reference copy of the provider session.
func (c *Controller) CurrentSession() (identity.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return identity.Session{}, false
	}
	return *c.session, true
}

// IsAuthenticated reports whether a user is signed in.
func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil
}

// IsLoading reports whether a provider call is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// SessionExpired reports whether the last sign-out was forced by expiry or
// inactivity, so the UI can show "please sign in again" instead of a
// credential error.
func (c *Controller) SessionExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// CSRFToken returns the live anti-forgery token for the UI to attach to
// mutating requests.
func (c *Controller) CSRFToken() string { return c.csrf.Get() }

// ValidateCSRF checks a candidate token against the live one.
func (c *Controller) ValidateCSRF(candidate string) bool {
	ok := c.csrf.Validate(candidate)
	if !ok {
		obs.CSRFRejections.Inc()
	}
	return ok
}

// LockoutStatus exposes the limiter state so the UI can reflect remaining
// wait without another login click.
func (c *Controller) LockoutStatus() ratelimit.Decision {
	return c.limiter.Status()
}

// Close tears the controller down at application shutdown.
func (c *Controller) Close() {
	c.teardownTimers()
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	janitorStop := c.janitorStop
	c.unsubscribe = nil
	c.janitorStop = nil
	c.user = nil
	c.session = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if janitorStop != nil {
		janitorStop()
	}
}

// adopt installs new credentials: state swap, role hint, fresh timeout
// monitor (the previous one is always stopped first, so interval timers
// never stack across logout/login cycles), and the proactive refresh timer.
func (c *Controller) adopt(ctx context.Context, creds gateway.Credentials, interactive bool) {
	c.teardownTimers()

	user := creds.User
	sess := creds.Session

	c.mu.Lock()
	c.user = &user
	c.session = &sess
	c.expired = false
	c.monitor = activity.Start(activity.Config{
		Timeout:          c.timeout,
		WarningOffset:    c.warningOffset,
		Clock:            c.clock,
		OnTimeout:        c.timeoutLogout,
		OnWarning:        c.onWarning,
		OnWarningCleared: c.onWarningCleared,
	})
	c.scheduleRefreshLocked(sess)
	c.mu.Unlock()

	c.store.SetRoleHint(user.Role)

	if interactive {
		audit.Emit(ctx, c.sink, audit.Entry{
			UserID: user.ID,
			Action: audit.ActionSessionStart,
		})
	}
}

// scheduleRefreshLocked arms the single proactive refresh at a fixed
// pre-expiry offset, plus the hard expiry fallback. Callers hold c.mu.
func (c *Controller) scheduleRefreshLocked(sess identity.Session) {
	if sess.ExpiresAt.IsZero() {
		return
	}
	untilRefresh := sess.ExpiresAt.Sub(c.clock()) - refreshLead
	if untilRefresh < 0 {
		untilRefresh = 0
	}
	c.refreshTimer = time.AfterFunc(untilRefresh, c.refreshDue)
	c.expiryTimer = time.AfterFunc(sess.ExpiresAt.Sub(c.clock()), c.expiryDue)
}

// refreshDue runs the scheduled refresh attempt. Failure is not retried
// with backoff; the expiry timer then degrades the session to an expired
// state.
func (c *Controller) refreshDue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !c.gw.RefreshSession(ctx) {
		return
	}
	creds, ok := c.gw.Current()
	if !ok {
		return
	}
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	sess := creds.Session
	c.session = &sess
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.scheduleRefreshLocked(sess)
	c.mu.Unlock()
}

// expiryDue fires when the provider session reached its expiry without a
// successful refresh. The provider clock and the inactivity clock are
// independent; either forces logout.
func (c *Controller) expiryDue() {
	c.mu.Lock()
	sess := c.session
	now := c.clock()
	c.mu.Unlock()
	if sess == nil || !sess.Expired(now) {
		return
	}
	c.forcedLogout("session_expired")
}

// forcedLogout runs the non-interactive sign-out path shared by the
// inactivity and expiry timers.
func (c *Controller) forcedLogout(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.emitSessionEnd(ctx, reason)
	c.teardownTimers()
	if err := c.gw.SignOut(ctx, gateway.ScopeGlobal); err != nil {
		obs.Warn("forced sign-out failed", map[string]any{"reason": reason, "error": err.Error()})
	}
	c.clearLocalState()
	c.csrf.Clear()

	c.mu.Lock()
	c.expired = true
	c.mu.Unlock()
}

func (c *Controller) emitSessionEnd(ctx context.Context, reason string) {
	c.mu.Lock()
	var userID string
	if c.user != nil {
		userID = c.user.ID
	}
	c.mu.Unlock()
	if userID == "" {
		return
	}
	audit.Emit(ctx, c.sink, audit.Entry{
		UserID:  userID,
		Action:  audit.ActionSessionEnd,
		Details: map[string]any{"reason": reason},
	})
}

func (c *Controller) teardownTimers() {
	c.mu.Lock()
	monitor := c.monitor
	refreshTimer := c.refreshTimer
	expiryTimer := c.expiryTimer
	c.monitor = nil
	c.refreshTimer = nil
	c.expiryTimer = nil
	c.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	if refreshTimer != nil {
		refreshTimer.Stop()
	}
	if expiryTimer != nil {
		expiryTimer.Stop()
	}
}

func (c *Controller) clearLocalState() {
	c.mu.Lock()
	c.user = nil
	c.session = nil
	c.mu.Unlock()
	c.store.SetRoleHint("")
}

// recordCredentialFailure counts a rejected credential against the lockout.
// Transport and provider outages do not count; locking users out for a
// network blip would punish them for the backend's failure.
func (c *Controller) recordCredentialFailure(err error) {
	if errors.Is(err, identity.ErrInvalidCredentials) {
		c.limiter.RecordFailure()
	}
}

// beginAttempt flips the loading flag, rejecting overlapping attempts.
func (c *Controller) beginAttempt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return ErrLoginInFlight
	}
	c.loading = true
	return nil
}

func (c *Controller) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

// handleProviderChange reacts to provider-side auth transitions, e.g. a
// sign-out performed in another tab.
func (c *Controller) handleProviderChange(change gateway.AuthChange) {
	if change.Event != "SIGNED_OUT" {
		return
	}
	c.mu.Lock()
	signedIn := c.user != nil
	c.mu.Unlock()
	if !signedIn {
		return
	}
	c.teardownTimers()
	c.clearLocalState()
}
