package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"caredesk.org/internal/obs"
	"caredesk.org/internal/session"
)

const serviceName = "caredesk-api"

// ReadyProbe is a readiness check, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the session controller.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	controller *session.Controller
	secret     string
}

// New builds the route table. secret is the session-token signing secret
// shared with the credential gateway.
func New(ctrl *session.Controller, secret string, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		controller: ctrl,
		secret:     secret,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/login/phone", a.handlePhoneLogin)
	a.mux.HandleFunc("/v1/auth/otp/verify", a.handleVerifyOTP)
	a.mux.HandleFunc("/v1/auth/social", a.handleSocialLogin)
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignUp)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handlePasswordReset)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)
	a.mux.HandleFunc("/v1/auth/activity", a.handleActivity)
	a.mux.HandleFunc("/v1/auth/stay", a.handleStayLoggedIn)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)
	a.mux.HandleFunc("/v1/patients/access", a.handlePatientAccess)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the route table.
func (a *API) Handler() http.Handler {
	h := a.withCSRF(a.withAuth(a.mux))
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg, key string) {
	payload := map[string]any{
		"error": msg,
	}
	if key != "" {
		payload["code"] = key
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
