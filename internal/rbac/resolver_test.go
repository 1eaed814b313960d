package rbac

import (
	"slices"
	"testing"

	"caredesk.org/internal/identity"
)

func TestSharedPermissionsApplyToEveryRole(t *testing.T) {
	r := NewResolver()
	for _, role := range identity.AllRoles {
		user := &identity.User{ID: "u1", Role: role}
		for code := range SharedPermissions {
			if !r.HasPermission(user, code) {
				t.Errorf("role %s missing shared permission %s", role, code)
			}
		}
	}
}

func TestNilUserHasNothing(t *testing.T) {
	r := NewResolver()
	if r.HasPermission(nil, PermProfileManage) {
		t.Fatal("nil user must have no permissions")
	}
	if r.UserPermissions(nil) != nil {
		t.Fatal("nil user must have an empty permission set")
	}
}

func TestAdminRolesAreUnconditional(t *testing.T) {
	r := NewResolver()
	for _, role := range []identity.Role{identity.RoleAdmin, identity.RoleSystemAdministrator} {
		user := &identity.User{ID: "u1", Role: role}
		for _, code := range AllPermissions {
			if !r.HasPermission(user, code) {
				t.Errorf("role %s denied %s", role, code)
			}
		}
	}
}

func TestNoNonAdminRoleInheritsEverything(t *testing.T) {
	r := NewResolver()
	for _, role := range identity.AllRoles {
		if role.IsAdmin() {
			continue
		}
		user := &identity.User{ID: "u1", Role: role}
		denied := false
		for _, code := range AllPermissions {
			if !r.HasPermission(user, code) {
				denied = true
				break
			}
		}
		if !denied {
			t.Errorf("role %s unexpectedly holds every permission", role)
		}
	}
}

func TestExplicitGrantsAndWildcard(t *testing.T) {
	r := NewResolver()

	patient := &identity.User{ID: "p1", Role: identity.RolePatient}
	if r.HasPermission(patient, PermAuditView) {
		t.Fatal("patient must not view audit logs by default")
	}

	granted := &identity.User{ID: "p1", Role: identity.RolePatient, Permissions: []string{PermAuditView}}
	if !r.HasPermission(granted, PermAuditView) {
		t.Fatal("explicit grant must apply")
	}

	wildcard := &identity.User{ID: "p1", Role: identity.RolePatient, Permissions: []string{PermAll}}
	for _, code := range AllPermissions {
		if !r.HasPermission(wildcard, code) {
			t.Fatalf("wildcard grant denied %s", code)
		}
	}
}

func TestUserPermissionsUnion(t *testing.T) {
	r := NewResolver()
	user := &identity.User{
		ID:          "n1",
		Role:        identity.RoleNurse,
		Permissions: []string{PermReportsView, PermVitalsView}, // one new, one duplicate
	}
	perms := r.UserPermissions(user)

	for _, want := range []string{PermProfileManage, PermVitalsRecord, PermReportsView} {
		if !slices.Contains(perms, want) {
			t.Errorf("expected %s in effective set", want)
		}
	}
	if slices.Contains(perms, PermUsersManage) {
		t.Error("nurse must not manage users")
	}
	seen := map[string]int{}
	for _, p := range perms {
		seen[p]++
		if seen[p] > 1 {
			t.Errorf("duplicate permission %s", p)
		}
	}

	admin := &identity.User{ID: "a1", Role: identity.RoleAdmin}
	adminPerms := r.UserPermissions(admin)
	for _, code := range AllPermissions {
		if !slices.Contains(adminPerms, code) {
			t.Errorf("admin wildcard expansion missing %s", code)
		}
	}
}

func TestCanAccessPatientData(t *testing.T) {
	r := NewResolver()
	cases := []struct {
		name      string
		user      *identity.User
		patientID string
		want      bool
	}{
		{"nil user", nil, "p1", false},
		{"doctor any patient", &identity.User{ID: "d1", Role: identity.RoleDoctor}, "p2", true},
		{"nurse any patient", &identity.User{ID: "n1", Role: identity.RoleNurse}, "p2", true},
		{"admin any patient", &identity.User{ID: "a1", Role: identity.RoleAdmin}, "p2", true},
		{"patient own record", &identity.User{ID: "p1", Role: identity.RolePatient}, "p1", true},
		{"patient other record", &identity.User{ID: "p1", Role: identity.RolePatient}, "p2", false},
		{"caregiver deferred to backend", &identity.User{ID: "c1", Role: identity.RoleCaregiver}, "p1", false},
		{"pharmacist", &identity.User{ID: "f1", Role: identity.RolePharmacist}, "p1", false},
	}
	for _, tc := range cases {
		if got := r.CanAccessPatientData(tc.user, tc.patientID); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
