package account

import (
	"context"
	"time"
)

// Store describes persistence operations for the user aggregate.
//
// Reads exclude hidden fields (password hash, token hashes, lifecycle
// flags) unless hidden is true; this is field-level access control, so
// callers must opt in to sensitive data explicitly.
//
// Every mutation is a single conditional statement so that concurrent
// writers on the same user never race through read-modify-write.
type Store interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string, hidden bool) (*User, error)
	FindByEmail(ctx context.Context, email string, hidden bool) (*User, error)

	// FindByVerifyTokenHash matches regardless of expiry; callers
	// inspect the expiry and verified flag to report the precise
	// verification outcome (expired vs already verified).
	FindByVerifyTokenHash(ctx context.Context, hash string) (*User, error)
	// FindByResetTokenHash matches only unexpired tokens.
	FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*User, error)

	SetVerifyToken(ctx context.Context, id, hash string, expires time.Time) error
	ClearVerifyToken(ctx context.Context, id string) error
	// MarkVerified flips the verification flag exactly once; a second
	// call returns ErrAlreadyVerified. The token hash is retained so a
	// replayed verification link resolves to the verified user.
	MarkVerified(ctx context.Context, id string, at time.Time) error

	SetResetToken(ctx context.Context, id, hash string, expires time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	// UpdatePassword stores the new hash, stamps changed_password_at,
	// clears reset-token fields and revokes all sessions.
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error

	UpdateProfile(ctx context.Context, id, name, photo string) (*User, error)

	AppendRefreshToken(ctx context.Context, id, token string) error
	// RotateRefreshToken atomically replaces oldToken with newToken.
	// If oldToken is not present in the user's session set the call
	// fails with ErrTokenNotFound and nothing is written; exactly one
	// of two concurrent rotations of the same old token can succeed.
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error
	ClearRefreshTokens(ctx context.Context, id string) error

	MarkLogin(ctx context.Context, id string, at time.Time) error
	MarkLogout(ctx context.Context, id string, at time.Time) error

	// SoftDelete moves an account to inactive, stamps deleted_at and
	// logout_at and revokes sessions. Terminal accounts are left
	// untouched (ErrNotFound).
	SoftDelete(ctx context.Context, id string, at time.Time) error
	SoftDeleteByEmail(ctx context.Context, email string, at time.Time) (*User, error)
	// Reactivate restores an inactive account to active and clears
	// deleted_at.
	Reactivate(ctx context.Context, id string) error

	SetNotification(ctx context.Context, id string, kind NotificationKind, status EmailStatus, sentAt *time.Time) error
	ResetNotifications(ctx context.Context, id string) error

	// Scrub is the terminal transition: PII replaced with placeholders,
	// credentials and sessions erased, state set to deleted.
	Scrub(ctx context.Context, id string, at time.Time) error
	// Purge removes the row entirely.
	Purge(ctx context.Context, id string) error
}
