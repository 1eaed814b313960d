package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"caredesk.org/internal/identity"
)

func TestGetProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"user_id", "name", "email", "role", "approval_status", "updated_at"}).
		AddRow("u1", "Dr. Reis", "reis@clinic.example", "doctor", identity.ApprovalApproved, time.Now())
	mock.ExpectQuery("select user_id, name, email, role, approval_status").
		WithArgs("u1").WillReturnRows(rows)

	store := NewPGStore(db)
	p, err := store.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Role != identity.RoleDoctor {
		t.Fatalf("unexpected role: %s", p.Role)
	}
	if p.ApprovalStatus != identity.ApprovalApproved {
		t.Fatalf("unexpected approval status: %s", p.ApprovalStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetProfileMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select user_id, name, email, role, approval_status").
		WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "email", "role", "approval_status", "updated_at"}))

	store := NewPGStore(db)
	_, err = store.GetProfile(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into profiles").
		WithArgs("u2", "Nurse Lima", "lima@clinic.example", "nurse", identity.ApprovalPending).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPGStore(db)
	err = store.UpsertProfile(context.Background(), Profile{
		UserID:         "u2",
		Name:           "Nurse Lima",
		Email:          "lima@clinic.example",
		Role:           identity.RoleNurse,
		ApprovalStatus: identity.ApprovalPending,
	})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
