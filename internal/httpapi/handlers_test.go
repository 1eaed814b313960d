package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caredesk.org/internal/gateway"
	"caredesk.org/internal/securestore"
	"caredesk.org/internal/session"
)

type deadProvider struct{}

func (deadProvider) SignInWithPassword(ctx context.Context, email, password string) (gateway.Credentials, error) {
	return gateway.Credentials{}, &gateway.ProviderError{Status: 401}
}

func (deadProvider) SignInWithOAuth(ctx context.Context, provider, redirectURL string) (string, error) {
	return "https://id.example.com/authorize", nil
}

func (deadProvider) SignInWithOtp(ctx context.Context, phone string) error { return nil }

func (deadProvider) VerifyOtp(ctx context.Context, phone, code string) (gateway.Credentials, error) {
	return gateway.Credentials{}, &gateway.ProviderError{Status: 401}
}

func (deadProvider) SignOut(ctx context.Context, scope gateway.SignOutScope) error { return nil }

func (deadProvider) RefreshSession(ctx context.Context) (gateway.Credentials, error) {
	return gateway.Credentials{}, &gateway.ProviderError{Code: "session_expired"}
}

func (deadProvider) GetSession(ctx context.Context) (gateway.Credentials, error) {
	return gateway.Credentials{}, gateway.ErrNoSession
}

func (deadProvider) SignUp(ctx context.Context, email, password string, metadata map[string]string) (gateway.Credentials, error) {
	return gateway.Credentials{}, &gateway.ProviderError{Status: 409}
}

func (deadProvider) ResetPassword(ctx context.Context, email string) error { return nil }

func (deadProvider) OnAuthStateChange(fn func(gateway.AuthChange)) func() { return func() {} }

const testSecret = "httpapi-test-secret"

func newTestAPI(t *testing.T) *API {
	t.Helper()
	store, err := securestore.New(testSecret)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gw, err := gateway.New(deadProvider{}, testSecret, gateway.WithClock(clock))
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	ctrl, err := session.New(gw, store, session.WithClock(clock))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return New(ctrl, testSecret, ReadyProbe{}, "test")
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func loginDemo(t *testing.T, h http.Handler) (token, csrf string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"doctor@caredesk.demo","password":"demo-doctor-2024"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		User struct {
			Role        string   `json:"role"`
			Permissions []string `json:"permissions"`
		} `json:"user"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Session.AccessToken == "" || resp.CSRFToken == "" {
		t.Fatalf("incomplete login response: %s", rec.Body.String())
	}
	return resp.Session.AccessToken, resp.CSRFToken
}

func TestHealthz(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestLoginIssuesTokenAndCSRF(t *testing.T) {
	h := newTestAPI(t).Handler()
	token, _ := loginDemo(t, h)

	rec := doJSON(t, h, http.MethodGet, "/v1/permissions", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("permissions status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "patients.view") {
		t.Fatalf("doctor permissions missing patients.view: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/patients/access?patient_id=p-1", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"allowed":true`) {
		t.Fatalf("patient access: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"doctor@caredesk.demo","password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "auth.error.invalid_credentials") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestLoginLockoutSetsRetryAfter(t *testing.T) {
	h := newTestAPI(t).Handler()
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
			`{"email":"doctor@caredesk.demo","password":"nope"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"doctor@caredesk.demo","password":"demo-doctor-2024"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("Retry-After = %q, want 900", got)
	}
	if !strings.Contains(rec.Body.String(), "auth.error.locked") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/v1/permissions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/permissions", "", map[string]string{
		"Authorization": "Bearer bogus",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token status = %d, want 401", rec.Code)
	}
}

func TestLogoutRequiresCSRF(t *testing.T) {
	h := newTestAPI(t).Handler()
	token, csrf := loginDemo(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", `{}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no-CSRF logout status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", `{}`, map[string]string{
		"Authorization": "Bearer " + token,
		"X-CSRF-Token":  csrf,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/permissions", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token still valid after logout: %d", rec.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/session", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"authenticated":false`) {
		t.Fatalf("signed-out session: %d %s", rec.Code, rec.Body.String())
	}

	loginDemo(t, h)
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/session", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"authenticated":true`) {
		t.Fatalf("signed-in session: %d %s", rec.Code, rec.Body.String())
	}
}

func TestActivityPing(t *testing.T) {
	h := newTestAPI(t).Handler()
	token, csrf := loginDemo(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/activity", "", map[string]string{
		"Authorization": "Bearer " + token,
		"X-CSRF-Token":  csrf,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("activity status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/stay", "", map[string]string{
		"Authorization": "Bearer " + token,
		"X-CSRF-Token":  csrf,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stay status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow = %q", got)
	}
}

func TestSignUpUnknownRole(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/signup",
		`{"email":"new@clinic.example","password":"pw","name":"New","role":"wizard"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
