package identity

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials   = errors.New("identity: invalid credentials")
	ErrNetwork              = errors.New("identity: network failure")
	ErrProviderRateLimited  = errors.New("identity: provider rate limited")
	ErrRegistrationConflict = errors.New("identity: email already registered")
	ErrMFARequired          = errors.New("identity: second factor required")
	ErrSessionExpired       = errors.New("identity: session expired")
	ErrInvalidInput         = errors.New("identity: invalid input")
	ErrNotFound             = errors.New("identity: not found")
)

// LockedError reports an active login lockout with the remaining wait.
type LockedError struct {
	RetryAfter time.Duration
}

func (e LockedError) Error() string {
	return fmt.Sprintf("identity: account locked, retry in %ds", int(e.RetryAfter.Seconds()))
}

// MessageKey maps an auth error to a stable key the UI can localize.
// Invalid credentials deliberately share one generic key regardless of
// which field was wrong.
func MessageKey(err error) string {
	var locked LockedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &locked):
		return "auth.error.locked"
	case errors.Is(err, ErrInvalidCredentials):
		return "auth.error.invalid_credentials"
	case errors.Is(err, ErrProviderRateLimited):
		return "auth.error.rate_limited"
	case errors.Is(err, ErrMFARequired):
		return "auth.error.mfa_required"
	case errors.Is(err, ErrSessionExpired):
		return "auth.error.session_expired"
	case errors.Is(err, ErrRegistrationConflict):
		return "auth.error.email_taken"
	case errors.Is(err, ErrNetwork):
		return "auth.error.network"
	default:
		return "auth.error.unknown"
	}
}
