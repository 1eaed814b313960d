// Package securestore holds short-lived security material (CSRF token,
// login-attempt counters, session preferences) encrypted at rest. One store
// instance is scoped to one UI session and is never shared across sessions.
package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"sync"

	"caredesk.org/internal/identity"
	"caredesk.org/internal/obs"
)

// Store is an encrypted key/value store. Values are JSON-serialized and
// sealed with AES-GCM under a key derived from the application secret.
type Store struct {
	mu       sync.Mutex
	aead     cipher.AEAD
	values   map[string][]byte
	roleHint identity.Role
	warnFn   func(key string)
}

// Option configures optional store behavior.
type Option func(*Store)

// WithWarnFunc installs the non-blocking warning surfaced to admin users
// when an entry fails to decrypt.
func WithWarnFunc(fn func(key string)) Option {
	return func(s *Store) { s.warnFn = fn }
}

// New builds a store sealed under the given application secret.
func New(secret string, opts ...Option) (*Store, error) {
	if secret == "" {
		return nil, errors.New("securestore: secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	s := &Store{aead: aead, values: make(map[string][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetRoleHint records the role of the currently cached user. Decrypt-failure
// warnings are only surfaced for admins so lower-privileged users never see
// security-relevant failure details.
func (s *Store) SetRoleHint(role identity.Role) {
	s.mu.Lock()
	s.roleHint = role
	s.mu.Unlock()
}

// Set serializes and encrypts v under key.
func (s *Store) Set(key string, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(key))

	s.mu.Lock()
	s.values[key] = sealed
	s.mu.Unlock()
	return nil
}

// Get decrypts the entry under key into out. It returns false — leaving out
// untouched so the caller's default survives — when the entry is missing,
// corrupted, or fails to decrypt. Decryption failures are logged.
func (s *Store) Get(key string, out any) bool {
	s.mu.Lock()
	sealed, ok := s.values[key]
	role := s.roleHint
	warn := s.warnFn
	s.mu.Unlock()
	if !ok {
		return false
	}
	if len(sealed) < s.aead.NonceSize() {
		s.reportDecryptFailure(key, role, warn)
		return false
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		s.reportDecryptFailure(key, role, warn)
		return false
	}
	if err := json.Unmarshal(plain, out); err != nil {
		s.reportDecryptFailure(key, role, warn)
		return false
	}
	return true
}

// Remove deletes a single entry. Used on soft logout paths where the rest of
// the store must survive.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Clear empties the whole store. Reserved for hard logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[string][]byte)
	s.mu.Unlock()
}

func (s *Store) reportDecryptFailure(key string, role identity.Role, warn func(string)) {
	obs.Warn("securestore decrypt failed", map[string]any{"key": key})
	if role == identity.RoleAdmin && warn != nil {
		warn(key)
	}
}
