// Package pg implements the account store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"loqui.org/internal/account"
)

const uniqueViolation = "23505"

// Store is a database/sql-backed account.Store using the pgx driver.
type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

// Open connects to the database and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const publicColumns = `id, name, email, photo, role, is_verified, verified_at, created_at, updated_at`

const hiddenColumns = publicColumns + `,
	password_hash, changed_password_at,
	verify_token_hash, verify_token_expires,
	reset_token_hash, reset_token_expires,
	state, signup_at, login_at, logout_at, deleted_at,
	verification_email_status, verification_email_sent_at,
	reminder_email_status, reminder_email_sent_at`

func (s *Store) Create(ctx context.Context, u *account.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (
			id, name, email, photo, role, password_hash,
			is_verified, state, signup_at,
			verification_email_status, reminder_email_status,
			created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,false,$7,$8,$9,$9,now(),now())
	`, u.ID, u.Name, u.Email, u.Photo, u.Role, u.PasswordHash,
		account.StateActive, u.SignupAt, account.EmailPending)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return account.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, where string, hidden bool, args ...any) (*account.User, error) {
	cols := publicColumns
	if hidden {
		cols = hiddenColumns
	}
	row := s.db.QueryRowContext(ctx, `select `+cols+` from users where `+where, args...)

	u, err := scanUser(row, hidden)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if hidden {
		tokens, err := s.refreshTokens(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		u.RefreshTokens = tokens
	}
	return u, nil
}

func (s *Store) FindByID(ctx context.Context, id string, hidden bool) (*account.User, error) {
	return s.findOne(ctx, `id = $1`, hidden, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string, hidden bool) (*account.User, error) {
	return s.findOne(ctx, `email = $1`, hidden, email)
}

func (s *Store) FindByVerifyTokenHash(ctx context.Context, hash string) (*account.User, error) {
	return s.findOne(ctx, `verify_token_hash = $1`, true, hash)
}

func (s *Store) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*account.User, error) {
	return s.findOne(ctx, `reset_token_hash = $1 and reset_token_expires > $2`, true, hash, now)
}

func (s *Store) refreshTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select token from refresh_tokens where user_id = $1 order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// exec runs a single-row mutation and maps "no rows touched" to the
// given sentinel.
func (s *Store) exec(ctx context.Context, noRows error, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return noRows
	}
	return nil
}

func (s *Store) SetVerifyToken(ctx context.Context, id, hash string, expires time.Time) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users
		set verify_token_hash = $2, verify_token_expires = $3, updated_at = now()
		where id = $1
	`, id, hash, expires)
}

func (s *Store) ClearVerifyToken(ctx context.Context, id string) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users
		set verify_token_hash = null, verify_token_expires = null, updated_at = now()
		where id = $1
	`, id)
}

func (s *Store) MarkVerified(ctx context.Context, id string, at time.Time) error {
	err := s.exec(ctx, account.ErrAlreadyVerified, `
		update users
		set is_verified = true, verified_at = $2, updated_at = now()
		where id = $1 and is_verified = false
	`, id, at)
	if errors.Is(err, account.ErrAlreadyVerified) {
		// Distinguish a verified user from a missing one.
		if _, findErr := s.FindByID(ctx, id, false); findErr != nil {
			return findErr
		}
	}
	return err
}

func (s *Store) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users
		set reset_token_hash = $2, reset_token_expires = $3, updated_at = now()
		where id = $1
	`, id, hash, expires)
}

func (s *Store) ClearResetToken(ctx context.Context, id string) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users
		set reset_token_hash = null, reset_token_expires = null, updated_at = now()
		where id = $1
	`, id)
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users
		set password_hash = $2, changed_password_at = $3,
			reset_token_hash = null, reset_token_expires = null,
			updated_at = now()
		where id = $1
	`, id, passwordHash, changedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateProfile(ctx context.Context, id, name, photo string) (*account.User, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set name = $2, photo = $3, updated_at = now() where id = $1
	`, id, name, photo)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, account.ErrNotFound
	}
	return s.FindByID(ctx, id, false)
}

func (s *Store) AppendRefreshToken(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token, created_at)
		values ($1, $2, now())
		on conflict do nothing
	`, id, token)
	return err
}

func (s *Store) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The delete is the compare-and-swap: of two concurrent rotations
	// presenting the same old token, only one can remove the row.
	res, err := tx.ExecContext(ctx, `
		delete from refresh_tokens where user_id = $1 and token = $2
	`, id, oldToken)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrTokenNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token, created_at)
		values ($1, $2, now())
	`, id, newToken); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ClearRefreshTokens(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, id)
	return err
}

func (s *Store) MarkLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users set login_at = $2, updated_at = now() where id = $1
	`, id, at)
}

func (s *Store) MarkLogout(ctx context.Context, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set logout_at = $2, updated_at = now() where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) softDelete(ctx context.Context, where string, key string, at time.Time) (*account.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update users
		set state = $2, deleted_at = $3, logout_at = $3, updated_at = now()
		where `+where+` and state <> $4
		returning id
	`, key, account.StateInactive, at, account.StateDeleted)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id, true)
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := s.softDelete(ctx, `id = $1`, id, at)
	return err
}

func (s *Store) SoftDeleteByEmail(ctx context.Context, email string, at time.Time) (*account.User, error) {
	return s.softDelete(ctx, `email = $1`, email, at)
}

func (s *Store) Reactivate(ctx context.Context, id string) error {
	return s.exec(ctx, account.ErrInvalidState, `
		update users
		set state = $2, deleted_at = null, updated_at = now()
		where id = $1 and state = $3
	`, id, account.StateActive, account.StateInactive)
}

func notificationColumns(kind account.NotificationKind) (statusCol, sentAtCol string, err error) {
	switch kind {
	case account.NotificationVerification:
		return "verification_email_status", "verification_email_sent_at", nil
	case account.NotificationReminder:
		return "reminder_email_status", "reminder_email_sent_at", nil
	default:
		return "", "", fmt.Errorf("pg: unknown notification kind %q", kind)
	}
}

func (s *Store) SetNotification(ctx context.Context, id string, kind account.NotificationKind, status account.EmailStatus, sentAt *time.Time) error {
	statusCol, sentAtCol, err := notificationColumns(kind)
	if err != nil {
		return err
	}
	return s.exec(ctx, account.ErrNotFound, `
		update users set `+statusCol+` = $2, `+sentAtCol+` = $3, updated_at = now()
		where id = $1
	`, id, status, sentAt)
}

func (s *Store) ResetNotifications(ctx context.Context, id string) error {
	return s.exec(ctx, account.ErrNotFound, `
		update users
		set verification_email_status = $2, verification_email_sent_at = null,
			reminder_email_status = $2, reminder_email_sent_at = null,
			updated_at = now()
		where id = $1
	`, id, account.EmailPending)
}

func (s *Store) Scrub(ctx context.Context, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Placeholder email keeps the unique index satisfied.
	res, err := tx.ExecContext(ctx, `
		update users
		set name = 'Deleted user',
			email = 'deleted+' || id || '@invalid.invalid',
			photo = '', password_hash = '',
			verify_token_hash = null, verify_token_expires = null,
			reset_token_hash = null, reset_token_expires = null,
			state = $2, deleted_at = $3, updated_at = now()
		where id = $1 and state <> $2
	`, id, account.StateDeleted, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Purge(ctx context.Context, id string) error {
	return s.exec(ctx, account.ErrNotFound, `delete from users where id = $1`, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, hidden bool) (*account.User, error) {
	var (
		u          account.User
		photo      sql.NullString
		verifiedAt sql.NullTime
	)
	dest := []any{
		&u.ID, &u.Name, &u.Email, &photo, &u.Role,
		&u.IsVerified, &verifiedAt, &u.CreatedAt, &u.UpdatedAt,
	}

	var (
		passwordHash                           sql.NullString
		changedPasswordAt                      sql.NullTime
		verifyTokenHash, resetTokenHash        sql.NullString
		verifyTokenExpires, resetTokenExpires  sql.NullTime
		state                                  sql.NullString
		signupAt, loginAt, logoutAt, deletedAt sql.NullTime
		verifyStatus, reminderStatus           sql.NullString
		verifySentAt, reminderSentAt           sql.NullTime
	)
	if hidden {
		dest = append(dest,
			&passwordHash, &changedPasswordAt,
			&verifyTokenHash, &verifyTokenExpires,
			&resetTokenHash, &resetTokenExpires,
			&state, &signupAt, &loginAt, &logoutAt, &deletedAt,
			&verifyStatus, &verifySentAt,
			&reminderStatus, &reminderSentAt,
		)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	u.Photo = photo.String
	u.VerifiedAt = nullTimePtr(verifiedAt)
	if hidden {
		u.PasswordHash = passwordHash.String
		u.ChangedPasswordAt = nullTimePtr(changedPasswordAt)
		u.VerifyTokenHash = verifyTokenHash.String
		u.VerifyTokenExpires = nullTimePtr(verifyTokenExpires)
		u.ResetTokenHash = resetTokenHash.String
		u.ResetTokenExpires = nullTimePtr(resetTokenExpires)
		u.State = account.State(state.String)
		u.SignupAt = nullTimePtr(signupAt)
		u.LoginAt = nullTimePtr(loginAt)
		u.LogoutAt = nullTimePtr(logoutAt)
		u.DeletedAt = nullTimePtr(deletedAt)
		u.VerificationEmail = account.Notification{
			Status: account.EmailStatus(verifyStatus.String),
			SentAt: nullTimePtr(verifySentAt),
		}
		u.ReminderEmail = account.Notification{
			Status: account.EmailStatus(reminderStatus.String),
			SentAt: nullTimePtr(reminderSentAt),
		}
	}
	return &u, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
