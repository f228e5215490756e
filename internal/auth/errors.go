package auth

import "errors"

var (
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrTokenExpired    = errors.New("auth: token expired")
	ErrTokenRevoked    = errors.New("auth: token revoked")
	ErrMissingToken    = errors.New("auth: missing token")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrWrongCredential = errors.New("auth: incorrect email or password")
	ErrWeakPassword    = errors.New("auth: password too weak")
)
