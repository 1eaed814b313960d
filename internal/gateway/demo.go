package gateway

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"caredesk.org/internal/identity"
	"caredesk.org/internal/ids"
)

// seededAccount is a demo credential resolved without contacting the
// provider. Used for demos and tests only.
type seededAccount struct {
	user         identity.User
	passwordHash []byte
}

type seedSpec struct {
	email    string
	name     string
	role     identity.Role
	password string
}

var demoSeedSpecs = []seedSpec{
	{"admin@caredesk.demo", "Demo Admin", identity.RoleAdmin, "demo-admin-2024"},
	{"doctor@caredesk.demo", "Demo Doctor", identity.RoleDoctor, "demo-doctor-2024"},
	{"nurse@caredesk.demo", "Demo Nurse", identity.RoleNurse, "demo-nurse-2024"},
	{"patient@caredesk.demo", "Demo Patient", identity.RolePatient, "demo-patient-2024"},
	{"pharmacist@caredesk.demo", "Demo Pharmacist", identity.RolePharmacist, "demo-pharmacist-2024"},
}

// seedAccounts hashes the demo passwords once at construction. MinCost keeps
// startup fast; these accounts hold no real data.
func seedAccounts() ([]seededAccount, error) {
	accounts := make([]seededAccount, 0, len(demoSeedSpecs))
	for _, spec := range demoSeedSpecs {
		hash, err := bcrypt.GenerateFromPassword([]byte(spec.password), bcrypt.MinCost)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, seededAccount{
			user: identity.User{
				ID:             "demo-" + ids.New(),
				Email:          spec.email,
				Name:           spec.name,
				Role:           spec.role,
				Status:         "active",
				ApprovalStatus: identity.ApprovalApproved,
				Seeded:         true,
			},
			passwordHash: hash,
		})
	}
	return accounts, nil
}

// findSeeded matches a demo account by case-insensitive email.
func findSeeded(accounts []seededAccount, email string) (seededAccount, bool) {
	email = strings.TrimSpace(strings.ToLower(email))
	for _, acc := range accounts {
		if strings.ToLower(acc.user.Email) == email {
			return acc, true
		}
	}
	return seededAccount{}, false
}
