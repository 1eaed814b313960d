package profile

import (
	"context"
	"database/sql"

	"caredesk.org/internal/identity"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, name, email, role, approval_status, updated_at
		 from profiles where user_id=$1`, userID)

	var p Profile
	var role string
	if err := row.Scan(&p.UserID, &p.Name, &p.Email, &role, &p.ApprovalStatus, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if parsed, ok := identity.ParseRole(role); ok {
		p.Role = parsed
	}
	return p, nil
}

func (s *PGStore) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(user_id, name, email, role, approval_status, updated_at)
		 values($1,$2,$3,$4,$5,now())
		 on conflict (user_id) do update
		 set name=excluded.name, email=excluded.email, role=excluded.role,
		     approval_status=excluded.approval_status, updated_at=now()`,
		p.UserID, p.Name, p.Email, string(p.Role), p.ApprovalStatus,
	)
	return err
}
