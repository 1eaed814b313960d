package identity

import (
	"strings"
	"time"
)

// Role is the closed set of roles known to the platform.
type Role string

const (
	RoleAdmin               Role = "admin"
	RoleDoctor              Role = "doctor"
	RoleNurse               Role = "nurse"
	RoleCaregiver           Role = "caregiver"
	RolePatient             Role = "patient"
	RolePharmacist          Role = "pharmacist"
	RoleLabTechnician       Role = "lab_technician"
	RoleAdministrative      Role = "administrative"
	RoleSystemAdministrator Role = "system_administrator"
	RoleSpecialist          Role = "specialist"
	RoleRadiologyTechnician Role = "radiology_technician"
)

// AllRoles lists every valid role in declaration order.
var AllRoles = []Role{
	RoleAdmin,
	RoleDoctor,
	RoleNurse,
	RoleCaregiver,
	RolePatient,
	RolePharmacist,
	RoleLabTechnician,
	RoleAdministrative,
	RoleSystemAdministrator,
	RoleSpecialist,
	RoleRadiologyTechnician,
}

// clinicalRoles require manual approval before the account becomes active.
var clinicalRoles = map[Role]struct{}{
	RoleDoctor:              {},
	RoleNurse:               {},
	RoleSpecialist:          {},
	RolePharmacist:          {},
	RoleLabTechnician:       {},
	RoleRadiologyTechnician: {},
}

// ParseRole normalizes a raw role string. Unknown values return false.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range AllRoles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// IsClinical reports whether the role belongs to the clinical subset that
// signs up with a pending approval status.
func (r Role) IsClinical() bool {
	_, ok := clinicalRoles[r]
	return ok
}

// IsAdmin reports whether the role bypasses permission tables entirely.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSystemAdministrator
}

// Approval states attached to a profile row.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// User is the normalized identity the core operates on. It is a read-mostly
// projection of the record owned by the identity provider, enriched with the
// authoritative role from the profile store.
type User struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           Role     `json:"role"`
	Permissions    []string `json:"permissions,omitempty"`
	Status         string   `json:"status"`
	ApprovalStatus string   `json:"approval_status,omitempty"`
	Seeded         bool     `json:"-"`
}

// Session is a provider-issued credential bound to a user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session expiry has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// AuthState tracks the gateway's per-context authentication state machine.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticating
	StateMFARequired
	StateAuthenticated
	StateRefreshing
	StateExpiring
)

func (s AuthState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateMFARequired:
		return "mfa_required"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpiring:
		return "expiring"
	default:
		return "unauthenticated"
	}
}
