// Package kv provides the expiring key-value namespace shared by the
// login-attempt guard and the token blacklist.
package kv

import (
	"context"
	"time"
)

// Store is the minimal expiring key-value contract the auth subsystem
// needs. Implementations must treat a missing key as (value "", ok
// false) rather than an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// Incr increments the integer stored at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
