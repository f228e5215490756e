package account

import "errors"

var (
	ErrNotFound        = errors.New("account: not found")
	ErrDuplicateEmail  = errors.New("account: email already registered")
	ErrNotVerified     = errors.New("account: email not verified")
	ErrDeactivated     = errors.New("account: permanently deactivated")
	ErrAlreadyVerified = errors.New("account: already verified")
	ErrTokenNotFound   = errors.New("account: refresh token not found")
	ErrInvalidState    = errors.New("account: invalid state transition")
)
