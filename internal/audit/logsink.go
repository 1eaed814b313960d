package audit

import (
	"context"
	"encoding/json"
	"time"

	"caredesk.org/internal/obs"
)

// LogSink writes audit entries as structured JSON lines through the shared
// logger.
type LogSink struct{}

func (LogSink) LogEvent(_ context.Context, entry Entry) error {
	line := map[string]any{
		"ts":     entry.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"id":     entry.ID,
		"event":  entry.Action,
		"fields": map[string]any{},
	}
	if entry.UserID != "" {
		line["user_id"] = entry.UserID
	}
	if entry.ResourceType != "" {
		line["resource_type"] = entry.ResourceType
	}
	if entry.ResourceID != "" {
		line["resource_id"] = entry.ResourceID
	}
	if len(entry.Details) > 0 {
		fields := make(map[string]any, len(entry.Details))
		for k, v := range entry.Details {
			fields[k] = v
		}
		line["fields"] = fields
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
