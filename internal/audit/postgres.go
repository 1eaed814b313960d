package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

var _ Sink = (*PGSink)(nil)

// PGSink appends audit entries to an append-only Postgres table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) LogEvent(ctx context.Context, entry Entry) error {
	details, _ := json.Marshal(entry.Details)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, user_id, action, resource_type, resource_id, details)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.OccurredAt, entry.UserID, entry.Action,
		entry.ResourceType, entry.ResourceID, details,
	)
	return err
}
