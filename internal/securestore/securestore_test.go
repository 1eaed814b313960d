package securestore

import (
	"testing"

	"caredesk.org/internal/identity"
)

func TestSetGetRoundTrip(t *testing.T) {
	store, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	type pref struct {
		Language string `json:"language"`
	}
	if err := store.Set("session_language", pref{Language: "pt-BR"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got pref
	if !store.Get("session_language", &got) {
		t.Fatal("expected value to be present")
	}
	if got.Language != "pt-BR" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestGetMissingKeepsDefault(t *testing.T) {
	store, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	count := 7
	if store.Get("absent", &count) {
		t.Fatal("expected miss")
	}
	if count != 7 {
		t.Fatalf("default was clobbered: %d", count)
	}
}

func TestCorruptedEntryReturnsDefaultAndWarnsAdminOnly(t *testing.T) {
	var warned []string
	store, err := New("test-secret", WithWarnFunc(func(key string) {
		warned = append(warned, key)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Set("csrf_token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Corrupt the sealed bytes in place.
	store.mu.Lock()
	sealed := store.values["csrf_token"]
	sealed[len(sealed)-1] ^= 0xff
	store.mu.Unlock()

	var tok string
	if store.Get("csrf_token", &tok) {
		t.Fatal("expected decrypt failure")
	}
	if len(warned) != 0 {
		t.Fatalf("non-admin must not receive warnings: %v", warned)
	}

	store.SetRoleHint(identity.RoleAdmin)
	if store.Get("csrf_token", &tok) {
		t.Fatal("expected decrypt failure")
	}
	if len(warned) != 1 || warned[0] != "csrf_token" {
		t.Fatalf("expected admin warning for csrf_token, got %v", warned)
	}

	// Doctor is privileged but still must not see store internals.
	store.SetRoleHint(identity.RoleDoctor)
	warned = nil
	_ = store.Get("csrf_token", &tok)
	if len(warned) != 0 {
		t.Fatalf("doctor must not receive warnings: %v", warned)
	}
}

func TestRemoveAndClear(t *testing.T) {
	store, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = store.Set("a", 1)
	_ = store.Set("b", 2)

	store.Remove("a")
	var n int
	if store.Get("a", &n) {
		t.Fatal("expected a removed")
	}
	if !store.Get("b", &n) || n != 2 {
		t.Fatal("b must survive selective removal")
	}

	store.Clear()
	if store.Get("b", &n) {
		t.Fatal("expected store emptied")
	}
}
