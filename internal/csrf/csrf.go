// Package csrf issues and validates the per-session anti-forgery token.
package csrf

import (
	"crypto/subtle"

	"github.com/google/uuid"

	"caredesk.org/internal/securestore"
)

const storeKey = "csrf_token"

// Manager keeps at most one live token, persisted in the secure store so a
// page reload within the same session keeps the token.
type Manager struct {
	store *securestore.Store
}

// NewManager binds the manager to a secure store.
func NewManager(store *securestore.Store) *Manager {
	return &Manager{store: store}
}

// Generate mints a fresh random token, replacing any previous one.
func (m *Manager) Generate() (string, error) {
	token := uuid.NewString()
	if err := m.store.Set(storeKey, token); err != nil {
		return "", err
	}
	return token, nil
}

// Get returns the current token, or empty when none is live.
func (m *Manager) Get() string {
	var token string
	if !m.store.Get(storeKey, &token) {
		return ""
	}
	return token
}

// Validate reports whether candidate exactly matches the live token.
// A missing token never validates.
func (m *Manager) Validate(candidate string) bool {
	token := m.Get()
	if token == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1
}

// Clear discards the live token.
func (m *Manager) Clear() {
	m.store.Remove(storeKey)
}
