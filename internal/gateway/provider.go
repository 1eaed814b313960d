package gateway

import (
	"context"
	"errors"
	"fmt"

	"caredesk.org/internal/identity"
)

// SignOutScope selects how far a sign-out reaches.
type SignOutScope string

const (
	// ScopeTab invalidates only the calling context's session.
	ScopeTab SignOutScope = "tab"
	// ScopeGlobal invalidates the session on every device.
	ScopeGlobal SignOutScope = "global"
)

// Credentials is a provider session together with its normalized user.
type Credentials struct {
	User    identity.User
	Session identity.Session
}

// AuthChange describes a provider-side auth state transition delivered to
// subscribers.
type AuthChange struct {
	Event   string
	Session *identity.Session
}

// ErrNoSession is returned by GetSession when the provider holds no valid
// session for this context. It is an expected startup condition, not a
// failure.
var ErrNoSession = errors.New("gateway: no existing session")

// Provider is the boundary contract with the hosted identity provider.
// Implementations return ProviderError for structured failures.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (Credentials, error)
	SignInWithOAuth(ctx context.Context, provider, redirectURL string) (string, error)
	SignInWithOtp(ctx context.Context, phone string) error
	VerifyOtp(ctx context.Context, phone, code string) (Credentials, error)
	SignOut(ctx context.Context, scope SignOutScope) error
	RefreshSession(ctx context.Context) (Credentials, error)
	GetSession(ctx context.Context) (Credentials, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (Credentials, error)
	ResetPassword(ctx context.Context, email string) error
	OnAuthStateChange(fn func(AuthChange)) (unsubscribe func())
}

// ProviderError is the structured error shape the provider returns: a
// message plus an optional numeric status and machine code.
type ProviderError struct {
	Message string
	Status  int
	Code    string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider: %s (status %d)", e.Message, e.Status)
	}
	return "provider: " + e.Message
}

// Provider machine codes the core understands.
const (
	codeInvalidCredentials = "invalid_credentials"
	codeRateLimited        = "over_request_rate_limit"
	codeUserExists         = "user_already_exists"
	codeMFARequired        = "mfa_required"
	codeSessionExpired     = "session_expired"
)

// mapProviderError folds a structured provider failure into the core error
// taxonomy. Unknown failures are treated as network/transport errors.
func mapProviderError(err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return fmt.Errorf("%w: %v", identity.ErrNetwork, err)
	}
	switch {
	case perr.Code == codeInvalidCredentials, perr.Status == 400, perr.Status == 401:
		return identity.ErrInvalidCredentials
	case perr.Code == codeRateLimited, perr.Status == 429:
		return identity.ErrProviderRateLimited
	case perr.Code == codeUserExists, perr.Status == 409:
		return identity.ErrRegistrationConflict
	case perr.Code == codeMFARequired:
		return identity.ErrMFARequired
	case perr.Code == codeSessionExpired:
		return identity.ErrSessionExpired
	default:
		return fmt.Errorf("%w: %s", identity.ErrNetwork, perr.Message)
	}
}
