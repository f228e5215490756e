// Package guard implements the per-email login lockout counter.
package guard

import (
	"context"
	"errors"
	"strconv"
	"time"

	"loqui.org/internal/store/kv"
)

const keyPrefix = "login:attempts:"

var (
	// ErrTooManyAttempts means the lockout threshold was reached
	// within the current window.
	ErrTooManyAttempts = errors.New("guard: too many login attempts")
	// ErrUnavailable means the counter store could not be consulted
	// and the guard is configured to fail closed.
	ErrUnavailable = errors.New("guard: counter store unavailable")
)

// Config tunes the lockout behavior.
type Config struct {
	// MaxAttempts is the failure threshold within one window.
	MaxAttempts int64
	// Window is the lockout duration measured from the first failure,
	// not refreshed by subsequent ones.
	Window time.Duration
	// FailClosed denies logins when the counter store errors. The
	// safer default; set false to degrade open instead.
	FailClosed bool
}

// DefaultConfig matches the production lockout policy.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Window: 15 * time.Minute, FailClosed: true}
}

// Guard counts failed logins per email in an expiring store.
type Guard struct {
	store kv.Store
	cfg   Config
}

// New constructs a Guard.
func New(store kv.Store, cfg Config) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Guard{store: store, cfg: cfg}
}

// CheckAllowed must be called before password comparison. It fails
// with ErrTooManyAttempts once the threshold is reached.
func (g *Guard) CheckAllowed(ctx context.Context, email string) error {
	val, ok, err := g.store.Get(ctx, keyPrefix+email)
	if err != nil {
		return g.storeError(err)
	}
	if !ok {
		return nil
	}
	attempts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return g.storeError(err)
	}
	if attempts >= g.cfg.MaxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

// RecordFailure increments the counter. The expiry is armed on the
// first failure only, so the window runs from the first miss.
func (g *Guard) RecordFailure(ctx context.Context, email string) error {
	key := keyPrefix + email
	attempts, err := g.store.Incr(ctx, key)
	if err != nil {
		return g.storeError(err)
	}
	if attempts == 1 {
		if err := g.store.Expire(ctx, key, g.cfg.Window); err != nil {
			return g.storeError(err)
		}
	}
	return nil
}

// Clear resets the counter after a successful login.
func (g *Guard) Clear(ctx context.Context, email string) error {
	if err := g.store.Del(ctx, keyPrefix+email); err != nil {
		return g.storeError(err)
	}
	return nil
}

func (g *Guard) storeError(err error) error {
	if g.cfg.FailClosed {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}
