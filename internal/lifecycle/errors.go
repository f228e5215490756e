package lifecycle

import "errors"

var (
	// ErrTokenReuse means a refresh token was presented after it had
	// already been consumed by a rotation. All sessions for the user
	// are cleared before this is returned.
	ErrTokenReuse = errors.New("lifecycle: refresh token reuse detected")
	// ErrRateLimited means the per-email resend cooldown is active.
	ErrRateLimited = errors.New("lifecycle: too many requests, try again later")
	// ErrSamePassword rejects a password update that keeps the current
	// password.
	ErrSamePassword = errors.New("lifecycle: new password must differ from the current one")
	// ErrResetTokenInvalid covers both unknown and expired reset tokens.
	ErrResetTokenInvalid = errors.New("lifecycle: reset token is invalid or has expired")
	// ErrValidation reports malformed input fields.
	ErrValidation = errors.New("lifecycle: validation failed")
)
