// Package rbac maps a user's role and explicit grants to an effective
// permission set and answers point access queries.
package rbac

import (
	"slices"
	"sort"

	"caredesk.org/internal/identity"
)

// Resolver answers permission queries. It is stateless; every call
// re-evaluates against the user passed in, so callers can never act on a
// stale cached set.
type Resolver struct{}

// NewResolver constructs a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// HasPermission reports whether user may perform the capability identified
// by code. Evaluation order: shared set, admin roles, wildcard grant,
// explicit grant, role table.
func (r *Resolver) HasPermission(user *identity.User, code string) bool {
	if user == nil || code == "" {
		return false
	}
	if _, ok := SharedPermissions[code]; ok {
		return true
	}
	if user.Role.IsAdmin() {
		return true
	}
	if slices.Contains(user.Permissions, PermAll) {
		return true
	}
	if slices.Contains(user.Permissions, code) {
		return true
	}
	table := rolePermissions[user.Role]
	return slices.Contains(table, code) || slices.Contains(table, PermAll)
}

// UserPermissions returns the deduplicated union of shared permissions, the
// role table (wildcard expanded to every known permission), and explicit
// grants. Intended for UI capability gating only — security-sensitive checks
// must call HasPermission.
func (r *Resolver) UserPermissions(user *identity.User) []string {
	if user == nil {
		return nil
	}
	set := make(map[string]struct{})
	for code := range SharedPermissions {
		set[code] = struct{}{}
	}
	addExpanded := func(codes []string) {
		for _, code := range codes {
			if code == PermAll {
				for _, known := range AllPermissions {
					set[known] = struct{}{}
				}
				continue
			}
			set[code] = struct{}{}
		}
	}
	addExpanded(rolePermissions[user.Role])
	addExpanded(user.Permissions)

	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// CanAccessPatientData reports whether user may see patient patientID.
// Admins and clinical staff with patient duty see every patient; a patient
// sees only their own record. Caregiver-to-patient associations are resolved
// by the backend's authorization layer, so caregivers get no client-side
// grant here.
func (r *Resolver) CanAccessPatientData(user *identity.User, patientID string) bool {
	if user == nil || patientID == "" {
		return false
	}
	switch user.Role {
	case identity.RoleAdmin, identity.RoleDoctor, identity.RoleNurse:
		return true
	case identity.RolePatient:
		return user.ID == patientID
	default:
		return false
	}
}
