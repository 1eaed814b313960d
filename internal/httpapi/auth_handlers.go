package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caredesk.org/internal/identity"
	"caredesk.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type phoneLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password,omitempty"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type socialLoginRequest struct {
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type logoutRequest struct {
	Everywhere bool `json:"everywhere"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type userPayload struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	ApprovalStatus string   `json:"approval_status,omitempty"`
	Permissions    []string `json:"permissions"`
}

type sessionPayload struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type authResponse struct {
	User      userPayload     `json:"user"`
	Session   *sessionPayload `json:"session,omitempty"`
	CSRFToken string          `json:"csrf_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required", "auth.error.invalid_credentials")
		return
	}

	user, err := a.controller.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.authPayload(user))
}

func (a *API) handlePhoneLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req phoneLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		writeError(w, r, http.StatusBadRequest, "phone is required", "auth.error.invalid_credentials")
		return
	}

	pending, err := a.controller.LoginWithPhone(r.Context(), req.Phone, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if pending {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"otp_pending": true,
		})
		return
	}
	user, _ := a.controller.CurrentUser()
	writeJSON(w, http.StatusOK, a.authPayload(user))
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Phone) == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "phone and code are required", "auth.error.invalid_credentials")
		return
	}

	user, err := a.controller.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.authPayload(user))
}

func (a *API) handleSocialLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req socialLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(w, r, http.StatusBadRequest, "provider is required", "")
		return
	}

	url, err := a.controller.LoginWithSocial(r.Context(), req.Provider, req.RedirectURL)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"redirect_url": url,
		"csrf_token":   a.controller.CSRFToken(),
	})
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required", "")
		return
	}
	role, ok := identity.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role", "")
		return
	}

	user, err := a.controller.SignUp(r.Context(), req.Email, req.Password, req.Name, role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.authPayload(user))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := a.controller.Logout(r.Context(), req.Everywhere); err != nil {
		// local state is already cleared; report success with a warning
		writeJSON(w, http.StatusOK, map[string]any{
			"signed_out": true,
			"warning":    "provider sign-out failed",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required", "")
		return
	}
	if err := a.controller.ResetPassword(r.Context(), req.Email); err != nil {
		writeAuthError(w, r, err)
		return
	}
	// Always accepted: the response must not disclose whether the email
	// exists.
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.controller.CurrentUser()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
			"expired":       a.controller.SessionExpired(),
		})
		return
	}

	// The route is public so a signed-out UI can probe status, but user
	// details and the CSRF token go only to the session holder. The
	// access token itself is only handed out by the login family.
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil || a.authenticate(token) != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
		})
		return
	}

	resp := map[string]any{
		"authenticated": true,
		"user":          a.userPayload(user),
		"csrf_token":    a.controller.CSRFToken(),
	}
	if sess, ok := a.controller.CurrentSession(); ok {
		resp["expires_at"] = sess.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleActivity records a genuine user-activity signal against the
// inactivity monitor. Background data polls must not call this route.
func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.controller.RecordActivity()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStayLoggedIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.controller.StayLoggedIn()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": a.controller.Permissions(),
	})
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "code query parameter is required", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    code,
		"allowed": a.controller.HasPermission(code),
	})
}

func (a *API) handlePatientAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		writeError(w, r, http.StatusBadRequest, "patient_id query parameter is required", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": patientID,
		"allowed":    a.controller.CanAccessPatientData(patientID),
	})
}

// --- payload + error helpers ---

func (a *API) userPayload(user identity.User) userPayload {
	return userPayload{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		Role:           string(user.Role),
		ApprovalStatus: user.ApprovalStatus,
		Permissions:    a.controller.Permissions(),
	}
}

func (a *API) authPayload(user identity.User) authResponse {
	resp := authResponse{
		User:      a.userPayload(user),
		CSRFToken: a.controller.CSRFToken(),
	}
	if sess, ok := a.controller.CurrentSession(); ok {
		resp.Session = &sessionPayload{
			AccessToken: sess.AccessToken,
			ExpiresAt:   sess.ExpiresAt,
		}
	}
	return resp
}

// writeAuthError maps the core error taxonomy onto HTTP statuses. The
// message key travels in "code" so the UI can localize.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	key := identity.MessageKey(err)
	var locked identity.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds())))
		writeError(w, r, http.StatusTooManyRequests, err.Error(), key)
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrMFARequired),
		errors.Is(err, identity.ErrSessionExpired):
		writeError(w, r, http.StatusUnauthorized, err.Error(), key)
	case errors.Is(err, identity.ErrProviderRateLimited):
		writeError(w, r, http.StatusTooManyRequests, err.Error(), key)
	case errors.Is(err, identity.ErrRegistrationConflict):
		writeError(w, r, http.StatusConflict, err.Error(), key)
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error(), key)
	case errors.Is(err, session.ErrLoginInFlight):
		writeError(w, r, http.StatusConflict, err.Error(), "auth.error.in_flight")
	case errors.Is(err, identity.ErrNetwork):
		writeError(w, r, http.StatusBadGateway, err.Error(), key)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error", key)
	}
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", "")
}
