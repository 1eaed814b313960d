// Package gateway wraps the hosted identity provider and the local seeded
// demo accounts behind one credential interface. Downstream code only ever
// sees normalized identity.User values; whether they came from a seed or the
// provider is resolved here, at the boundary.
package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"caredesk.org/internal/audit"
	"caredesk.org/internal/identity"
	"caredesk.org/internal/obs"
	"caredesk.org/internal/profile"
)

const defaultDemoSessionTTL = 30 * time.Minute

// Gateway performs all credential operations for one UI session.
type Gateway struct {
	provider    Provider
	profiles    profile.Store
	sink        audit.Sink
	tokenSecret []byte
	demoTTL     time.Duration
	seeds       []seededAccount
	now         func() time.Time

	mu           sync.Mutex
	state        identity.AuthState
	current      *Credentials
	resumed      bool
	pendingPhone string
}

// Option configures the gateway.
type Option func(*Gateway)

// WithProfileStore enables role/approval enrichment from the profile store.
func WithProfileStore(store profile.Store) Option {
	return func(g *Gateway) { g.profiles = store }
}

// WithAuditSink wires the best-effort audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// WithDemoSessionTTL overrides the synthetic demo session lifetime.
func WithDemoSessionTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl > 0 {
			g.demoTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New builds a gateway around the given provider. The token secret signs
// synthetic sessions for seeded demo accounts.
func New(provider Provider, tokenSecret string, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("gateway: provider is required")
	}
	if strings.TrimSpace(tokenSecret) == "" {
		return nil, errors.New("gateway: token secret is required")
	}
	seeds, err := seedAccounts()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		provider:    provider,
		tokenSecret: []byte(tokenSecret),
		demoTTL:     defaultDemoSessionTTL,
		seeds:       seeds,
		now:         time.Now,
		state:       identity.StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// State returns the current authentication state.
func (g *Gateway) State() identity.AuthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Current returns the cached credentials, if any.
func (g *Gateway) Current() (Credentials, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Credentials{}, false
	}
	return *g.current, true
}

// TokenSecret exposes the signing secret for session-token validation at the
// API boundary.
func (g *Gateway) TokenSecret() []byte { return g.tokenSecret }

// SignInWithPassword authenticates by email and password. Seeded demo
// accounts are checked first and resolve without contacting the provider.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) (Credentials, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Credentials{}, identity.ErrInvalidCredentials
	}
	g.setState(identity.StateAuthenticating)

	if seed, ok := findSeeded(g.seeds, email); ok {
		if err := bcrypt.CompareHashAndPassword(seed.passwordHash, []byte(password)); err != nil {
			g.setState(identity.StateUnauthenticated)
			return Credentials{}, identity.ErrInvalidCredentials
		}
		creds, err := g.syntheticSession(seed.user)
		if err != nil {
			g.setState(identity.StateUnauthenticated)
			return Credentials{}, err
		}
		g.adopt(creds)
		g.emit(ctx, creds.User.ID, audit.ActionLogin, map[string]any{"method": "demo"})
		return creds, nil
	}

	creds, err := g.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		mapped := mapProviderError(err)
		if errors.Is(mapped, identity.ErrMFARequired) {
			g.setState(identity.StateMFARequired)
		} else {
			g.setState(identity.StateUnauthenticated)
		}
		return Credentials{}, mapped
	}
	creds.User = g.enrich(ctx, creds.User)
	g.adopt(creds)
	g.emit(ctx, creds.User.ID, audit.ActionLogin, map[string]any{"method": "password"})
	return creds, nil
}

// SignInWithOAuth starts a redirect-based flow and returns the redirect URL.
// The session itself arrives later through ResumeSession.
func (g *Gateway) SignInWithOAuth(ctx context.Context, providerName, redirectURL string) (string, error) {
	providerName = strings.TrimSpace(strings.ToLower(providerName))
	if providerName == "" {
		return "", identity.ErrInvalidInput
	}
	g.setState(identity.StateAuthenticating)
	url, err := g.provider.SignInWithOAuth(ctx, providerName, redirectURL)
	if err != nil {
		g.setState(identity.StateUnauthenticated)
		return "", mapProviderError(err)
	}
	return url, nil
}

// SignInWithPhone triggers an OTP challenge when no password is supplied;
// with a password it performs a direct sign-in. Pending is true while the
// OTP challenge awaits VerifyOtp.
func (g *Gateway) SignInWithPhone(ctx context.Context, phone, password string) (creds Credentials, pending bool, err error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Credentials{}, false, identity.ErrInvalidInput
	}
	if password == "" {
		if err := g.provider.SignInWithOtp(ctx, phone); err != nil {
			return Credentials{}, false, mapProviderError(err)
		}
		g.mu.Lock()
		g.pendingPhone = phone
		g.state = identity.StateAuthenticating
		g.mu.Unlock()
		return Credentials{}, true, nil
	}

	g.setState(identity.StateAuthenticating)
	creds, err = g.provider.SignInWithPassword(ctx, phone, password)
	if err != nil {
		g.setState(identity.StateUnauthenticated)
		return Credentials{}, false, mapProviderError(err)
	}
	creds.User = g.enrich(ctx, creds.User)
	g.adopt(creds)
	g.emit(ctx, creds.User.ID, audit.ActionLogin, map[string]any{"method": "phone"})
	return creds, false, nil
}

// VerifyOtp completes a pending phone challenge.
func (g *Gateway) VerifyOtp(ctx context.Context, phone, code string) (Credentials, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return Credentials{}, identity.ErrInvalidInput
	}
	creds, err := g.provider.VerifyOtp(ctx, phone, code)
	if err != nil {
		return Credentials{}, mapProviderError(err)
	}
	g.mu.Lock()
	g.pendingPhone = ""
	g.mu.Unlock()
	creds.User = g.enrich(ctx, creds.User)
	g.adopt(creds)
	g.emit(ctx, creds.User.ID, audit.ActionLogin, map[string]any{"method": "otp"})
	return creds, nil
}

// SignUp creates the identity and writes the profile row. Clinical roles
// start with a pending approval status; all other roles are auto-approved.
// The profile write is best-effort and never fails the sign-up.
func (g *Gateway) SignUp(ctx context.Context, email, password, name string, role identity.Role) (Credentials, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Credentials{}, identity.ErrInvalidInput
	}
	approval := identity.ApprovalApproved
	if role.IsClinical() {
		approval = identity.ApprovalPending
	}
	creds, err := g.provider.SignUp(ctx, email, password, map[string]string{
		"name":            name,
		"role":            string(role),
		"approval_status": approval,
	})
	if err != nil {
		return Credentials{}, mapProviderError(err)
	}
	creds.User.Name = name
	creds.User.Role = role
	creds.User.ApprovalStatus = approval

	if g.profiles != nil {
		err := g.profiles.UpsertProfile(ctx, profile.Profile{
			UserID:         creds.User.ID,
			Name:           name,
			Email:          email,
			Role:           role,
			ApprovalStatus: approval,
		})
		if err != nil {
			obs.Error("profile row create failed", err, map[string]any{"user_id": creds.User.ID})
		}
	}

	g.adopt(creds)
	g.emit(ctx, creds.User.ID, audit.ActionRegister, map[string]any{
		"role":            string(role),
		"approval_status": approval,
	})
	return creds, nil
}

// SignOut invalidates the provider session. Global scope reaches every
// active tab and device. The logout audit event is keyed by the outgoing
// user id captured before state is cleared.
func (g *Gateway) SignOut(ctx context.Context, scope SignOutScope) error {
	g.mu.Lock()
	var outgoing string
	if g.current != nil {
		outgoing = g.current.User.ID
	}
	wasSeeded := g.current != nil && g.current.User.Seeded
	g.state = identity.StateExpiring
	g.mu.Unlock()

	var err error
	if !wasSeeded {
		err = g.provider.SignOut(ctx, scope)
	}

	g.mu.Lock()
	g.current = nil
	g.resumed = false
	g.state = identity.StateUnauthenticated
	g.mu.Unlock()

	if outgoing != "" {
		g.emit(ctx, outgoing, audit.ActionLogout, map[string]any{"scope": string(scope)})
	}
	if err != nil {
		return mapProviderError(err)
	}
	return nil
}

// RefreshSession requests a new token before expiry. It reports success and
// never returns an error; a failed refresh means the user may need to
// re-authenticate, not that the application is broken.
func (g *Gateway) RefreshSession(ctx context.Context) bool {
	g.mu.Lock()
	if g.current == nil {
		g.mu.Unlock()
		return false
	}
	if g.current.User.Seeded {
		// Demo sessions refresh locally.
		user := g.current.User
		g.mu.Unlock()
		creds, err := g.syntheticSession(user)
		if err != nil {
			obs.SessionRefreshes.WithLabelValues("failure").Inc()
			return false
		}
		g.adopt(creds)
		obs.SessionRefreshes.WithLabelValues("success").Inc()
		return true
	}
	g.state = identity.StateRefreshing
	g.mu.Unlock()

	creds, err := g.provider.RefreshSession(ctx)
	if err != nil {
		obs.Warn("session refresh failed", map[string]any{"error": err.Error()})
		obs.SessionRefreshes.WithLabelValues("failure").Inc()
		g.setState(identity.StateAuthenticated)
		return false
	}
	creds.User = g.enrich(ctx, creds.User)
	g.adopt(creds)
	obs.SessionRefreshes.WithLabelValues("success").Inc()
	return true
}

// ResumeSession asks the provider for an existing session once at startup.
// A second call without an intervening sign-out returns the cached result
// and emits no duplicate audit event. The boolean reports whether a session
// was found.
func (g *Gateway) ResumeSession(ctx context.Context) (Credentials, bool, error) {
	g.mu.Lock()
	if g.resumed && g.current != nil {
		creds := *g.current
		g.mu.Unlock()
		return creds, true, nil
	}
	g.resumed = true
	g.mu.Unlock()

	creds, err := g.provider.GetSession(ctx)
	if errors.Is(err, ErrNoSession) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, mapProviderError(err)
	}
	if creds.Session.AccessToken == "" {
		return Credentials{}, false, nil
	}
	creds.User = g.enrich(ctx, creds.User)
	g.adopt(creds)
	g.emit(ctx, creds.User.ID, audit.ActionSessionResume, nil)
	return creds, true, nil
}

// ResetPassword starts the provider's password reset flow.
func (g *Gateway) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return identity.ErrInvalidInput
	}
	if _, ok := findSeeded(g.seeds, email); ok {
		// Seeded accounts keep their fixed demo password.
		return nil
	}
	if err := g.provider.ResetPassword(ctx, email); err != nil {
		return mapProviderError(err)
	}
	return nil
}

// OnAuthStateChange forwards provider auth transitions to fn.
func (g *Gateway) OnAuthStateChange(fn func(AuthChange)) (unsubscribe func()) {
	return g.provider.OnAuthStateChange(fn)
}

// enrich overrides provider metadata with the authoritative profile row.
// A failed lookup falls back to provider metadata and is never fatal.
func (g *Gateway) enrich(ctx context.Context, user identity.User) identity.User {
	if g.profiles == nil || user.ID == "" {
		return user
	}
	p, err := g.profiles.GetProfile(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			obs.Warn("profile mapping failed, using provider metadata", map[string]any{
				"user_id": user.ID, "error": err.Error(),
			})
		}
		return user
	}
	if p.Role != "" {
		user.Role = p.Role
	}
	if p.Name != "" {
		user.Name = p.Name
	}
	if p.ApprovalStatus != "" {
		user.ApprovalStatus = p.ApprovalStatus
	}
	return user
}

func (g *Gateway) syntheticSession(user identity.User) (Credentials, error) {
	token, expiresAt, err := mintSessionToken(g.tokenSecret, user, g.demoTTL)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		User: user,
		Session: identity.Session{
			AccessToken: token,
			UserID:      user.ID,
			ExpiresAt:   expiresAt,
		},
	}, nil
}

func (g *Gateway) adopt(creds Credentials) {
	g.mu.Lock()
	g.current = &creds
	g.state = identity.StateAuthenticated
	g.mu.Unlock()
}

func (g *Gateway) setState(state identity.AuthState) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

func (g *Gateway) emit(ctx context.Context, userID, action string, details map[string]any) {
	audit.Emit(ctx, g.sink, audit.Entry{
		UserID:  userID,
		Action:  action,
		Details: details,
	})
}
