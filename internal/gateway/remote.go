package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"caredesk.org/internal/identity"
)

// RemoteProvider talks JSON over HTTP to the hosted identity provider.
// The base URL and public API key come from deploy-time configuration.
type RemoteProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu           sync.Mutex
	refreshToken string
	subscribers  map[int]func(AuthChange)
	nextSub      int
}

var _ Provider = (*RemoteProvider)(nil)

// NewRemoteProvider builds a provider client.
func NewRemoteProvider(baseURL, apiKey string) *RemoteProvider {
	return &RemoteProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 15 * time.Second},
		subscribers: make(map[int]func(AuthChange)),
	}
}

// sessionPayload is the provider's session+user response shape.
type sessionPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID          string   `json:"id"`
		Email       string   `json:"email"`
		Name        string   `json:"name"`
		Role        string   `json:"role"`
		Status      string   `json:"status"`
		Permissions []string `json:"permissions"`
	} `json:"user"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
}

func (p *RemoteProvider) SignInWithPassword(ctx context.Context, email, password string) (Credentials, error) {
	var payload sessionPayload
	err := p.post(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, &payload)
	if err != nil {
		return Credentials{}, err
	}
	creds := p.credentials(payload)
	p.remember(payload.RefreshToken)
	p.notify(AuthChange{Event: "SIGNED_IN", Session: &creds.Session})
	return creds, nil
}

func (p *RemoteProvider) SignInWithOAuth(ctx context.Context, provider, redirectURL string) (string, error) {
	q := url.Values{"provider": {provider}}
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return p.baseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

func (p *RemoteProvider) SignInWithOtp(ctx context.Context, phone string) error {
	// The provider creates the account when it does not exist yet.
	return p.post(ctx, "/auth/v1/otp", map[string]string{
		"phone":       phone,
		"create_user": "true",
		"channel":     "sms",
	}, nil)
}

func (p *RemoteProvider) VerifyOtp(ctx context.Context, phone, code string) (Credentials, error) {
	var payload sessionPayload
	err := p.post(ctx, "/auth/v1/verify", map[string]string{
		"phone": phone,
		"token": code,
		"type":  "sms",
	}, &payload)
	if err != nil {
		return Credentials{}, err
	}
	creds := p.credentials(payload)
	p.remember(payload.RefreshToken)
	p.notify(AuthChange{Event: "SIGNED_IN", Session: &creds.Session})
	return creds, nil
}

func (p *RemoteProvider) SignOut(ctx context.Context, scope SignOutScope) error {
	err := p.post(ctx, "/auth/v1/logout?scope="+url.QueryEscape(string(scope)), nil, nil)
	p.remember("")
	p.notify(AuthChange{Event: "SIGNED_OUT"})
	return err
}

func (p *RemoteProvider) RefreshSession(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	refresh := p.refreshToken
	p.mu.Unlock()
	if refresh == "" {
		return Credentials{}, ErrNoSession
	}
	var payload sessionPayload
	err := p.post(ctx, "/auth/v1/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refresh,
	}, &payload)
	if err != nil {
		return Credentials{}, err
	}
	creds := p.credentials(payload)
	p.remember(payload.RefreshToken)
	p.notify(AuthChange{Event: "TOKEN_REFRESHED", Session: &creds.Session})
	return creds, nil
}

func (p *RemoteProvider) GetSession(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	refresh := p.refreshToken
	p.mu.Unlock()
	if refresh == "" {
		return Credentials{}, ErrNoSession
	}
	return p.RefreshSession(ctx)
}

func (p *RemoteProvider) SignUp(ctx context.Context, email, password string, metadata map[string]string) (Credentials, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}
	var payload sessionPayload
	if err := p.post(ctx, "/auth/v1/signup", body, &payload); err != nil {
		return Credentials{}, err
	}
	creds := p.credentials(payload)
	p.remember(payload.RefreshToken)
	p.notify(AuthChange{Event: "SIGNED_IN", Session: &creds.Session})
	return creds, nil
}

func (p *RemoteProvider) ResetPassword(ctx context.Context, email string) error {
	return p.post(ctx, "/auth/v1/recover", map[string]string{"email": email}, nil)
}

func (p *RemoteProvider) OnAuthStateChange(fn func(AuthChange)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

func (p *RemoteProvider) notify(change AuthChange) {
	p.mu.Lock()
	fns := make([]func(AuthChange), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (p *RemoteProvider) remember(refreshToken string) {
	p.mu.Lock()
	p.refreshToken = refreshToken
	p.mu.Unlock()
}

func (p *RemoteProvider) credentials(payload sessionPayload) Credentials {
	role, _ := identity.ParseRole(payload.User.Role)
	return Credentials{
		User: identity.User{
			ID:          payload.User.ID,
			Email:       payload.User.Email,
			Name:        payload.User.Name,
			Role:        role,
			Permissions: payload.User.Permissions,
			Status:      payload.User.Status,
		},
		Session: identity.Session{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
			UserID:       payload.User.ID,
			ExpiresAt:    time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second),
		},
	}
}

func (p *RemoteProvider) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var perr errorPayload
		_ = json.NewDecoder(resp.Body).Decode(&perr)
		if perr.Status == 0 {
			perr.Status = resp.StatusCode
		}
		if perr.Message == "" {
			perr.Message = resp.Status
		}
		return &ProviderError{Message: perr.Message, Status: perr.Status, Code: perr.Code}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", identity.ErrNetwork, err)
		}
	}
	return nil
}
