// Package audit writes security-relevant events to a compliance log.
// Every write is best-effort: a failing sink is logged locally and never
// blocks the auth flow that produced the event.
package audit

import (
	"context"
	"strings"
	"time"

	"caredesk.org/internal/ids"
	"caredesk.org/internal/obs"
)

// Actions recorded by the session core.
const (
	ActionLogin         = "login"
	ActionLogout        = "logout"
	ActionSessionStart  = "session_start"
	ActionSessionResume = "session_resume"
	ActionSessionEnd    = "session_end"
	ActionRegister      = "register"
)

// Entry is an immutable record of a security-relevant action.
type Entry struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	UserID       string         `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Sink accepts audit entries.
type Sink interface {
	LogEvent(ctx context.Context, entry Entry) error
}

// Emit fills in entry defaults and writes it to sink, swallowing failures.
func Emit(ctx context.Context, sink Sink, entry Entry) {
	if sink == nil {
		return
	}
	if strings.TrimSpace(entry.Action) == "" {
		obs.Warn("audit entry dropped: action missing", nil)
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := sink.LogEvent(ctx, entry); err != nil {
		obs.Error("audit sink write failed", err, map[string]any{
			"action":  entry.Action,
			"user_id": entry.UserID,
		})
	}
}

// Multi fans an entry out to several sinks; each failure is reported by the
// sink's own Emit path and does not stop the others.
type Multi []Sink

func (m Multi) LogEvent(ctx context.Context, entry Entry) error {
	var firstErr error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.LogEvent(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
