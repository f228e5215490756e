package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"loqui.org/internal/account"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreateDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	now := time.Now()
	err := s.Create(context.Background(), &account.User{
		ID: "u1", Name: "Ann", Email: "ann@example.com",
		Role: account.RoleUser, PasswordHash: "x", SignupAt: &now,
	})
	if !errors.Is(err, account.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmailPublic(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "name", "email", "photo", "role",
		"is_verified", "verified_at", "created_at", "updated_at",
	}).AddRow("u1", "Ann", "ann@example.com", "", "user", true, created, created, created)

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("ann@example.com").
		WillReturnRows(rows)

	u, err := s.FindByEmail(context.Background(), "ann@example.com", false)
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || !u.IsVerified {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.PasswordHash != "" || u.RefreshTokens != nil {
		t.Fatalf("public lookup leaked hidden fields: %+v", u)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from users where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindByID(context.Background(), "missing", false)
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkVerifiedOnlyFlipsOnce(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("update users").
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.MarkVerified(context.Background(), "u1", now); err != nil {
		t.Fatalf("first MarkVerified: %v", err)
	}

	// Second call touches no row; the user still exists, so the
	// store reports the already-verified state.
	mock.ExpectExec("update users").
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	created := time.Now()
	mock.ExpectQuery("select (.+) from users where id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "photo", "role",
			"is_verified", "verified_at", "created_at", "updated_at",
		}).AddRow("u1", "Ann", "ann@example.com", "", "user", true, created, created, created))

	err := s.MarkVerified(context.Background(), "u1", now)
	if !errors.Is(err, account.ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshTokenMissingOldToken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens").
		WithArgs("u1", "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RotateRefreshToken(context.Background(), "u1", "stale", "fresh")
	if !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshToken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens").
		WithArgs("u1", "old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("u1", "new").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.RotateRefreshToken(context.Background(), "u1", "old", "new"); err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePasswordClearsSessions(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("update users").
		WithArgs("u1", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from refresh_tokens").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := s.UpdatePassword(context.Background(), "u1", "new-hash", now); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReactivateRequiresInactive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update users").
		WithArgs("u1", account.StateActive, account.StateInactive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Reactivate(context.Background(), "u1")
	if !errors.Is(err, account.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestScrubAnonymizesAndClearsSessions(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("update users").
		WithArgs("u1", account.StateDeleted, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from refresh_tokens").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := s.Scrub(context.Background(), "u1", now); err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
