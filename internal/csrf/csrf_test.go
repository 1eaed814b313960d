package csrf

import (
	"testing"

	"caredesk.org/internal/securestore"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	store, err := securestore.New("test-secret")
	if err != nil {
		t.Fatalf("securestore.New: %v", err)
	}
	return NewManager(store)
}

func TestGenerateRotates(t *testing.T) {
	m := newManager(t)

	first, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first == "" || m.Get() != first {
		t.Fatalf("expected live token %q, got %q", first, m.Get())
	}

	second, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if second == first {
		t.Fatal("token must rotate, never be reused")
	}
	if m.Get() != second {
		t.Fatal("old token must be discarded")
	}
	if m.Validate(first) {
		t.Fatal("rotated-out token must not validate")
	}
}

func TestValidate(t *testing.T) {
	m := newManager(t)

	if m.Validate("anything") {
		t.Fatal("no token yet, nothing validates")
	}
	token, err := m.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !m.Validate(token) {
		t.Fatal("exact match must validate")
	}
	if m.Validate(token + "x") {
		t.Fatal("near-miss must not validate")
	}
	if m.Validate("") {
		t.Fatal("empty candidate must not validate")
	}

	m.Clear()
	if m.Get() != "" {
		t.Fatal("Clear must remove the token")
	}
	if m.Validate(token) {
		t.Fatal("cleared token must not validate")
	}
}
