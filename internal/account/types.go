package account

import "time"

// State is the lifecycle state of an account.
type State string

const (
	// StateActive is the normal, usable state.
	StateActive State = "active"
	// StateInactive marks a soft-deleted account that may still be
	// reactivated by logging in within the grace period.
	StateInactive State = "inactive"
	// StateDeleted is terminal. PII is scrubbed and the account can
	// never log in or be reactivated again.
	StateDeleted State = "deleted"
)

// Role is assigned at signup and immutable afterwards.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// EmailStatus tracks the outcome of a scheduled email job.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSuccess EmailStatus = "success"
	EmailFailed  EmailStatus = "failed"
)

// NotificationKind identifies which scheduled email a status field
// belongs to.
type NotificationKind string

const (
	NotificationVerification NotificationKind = "verification"
	NotificationReminder     NotificationKind = "reminder"
)

// Notification is the persisted bookkeeping for one scheduled email.
type Notification struct {
	Status EmailStatus
	SentAt *time.Time
}

// User is the aggregate root of the auth subsystem. Fields below the
// Hidden marker are excluded from default reads and must be requested
// explicitly (see Store).
type User struct {
	ID    string
	Name  string
	Email string
	Photo string
	Role  Role

	// Hidden fields. Never returned to callers; see Public().
	PasswordHash      string
	ChangedPasswordAt *time.Time

	IsVerified         bool
	VerifiedAt         *time.Time
	VerifyTokenHash    string
	VerifyTokenExpires *time.Time

	ResetTokenHash    string
	ResetTokenExpires *time.Time

	RefreshTokens []string

	State     State
	SignupAt  *time.Time
	LoginAt   *time.Time
	LogoutAt  *time.Time
	DeletedAt *time.Time

	VerificationEmail Notification
	ReminderEmail     Notification

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PasswordChangedAfter reports whether the password was changed after
// the given token issue time. Tokens issued before a password change
// must be rejected.
func (u *User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.ChangedPasswordAt == nil {
		return false
	}
	return u.ChangedPasswordAt.Truncate(time.Second).After(issuedAt)
}

// HasRefreshToken reports whether token is currently part of the
// user's session set.
func (u *User) HasRefreshToken(token string) bool {
	for _, t := range u.RefreshTokens {
		if t == token {
			return true
		}
	}
	return false
}
