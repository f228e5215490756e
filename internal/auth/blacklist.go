package auth

import (
	"context"
	"time"

	"loqui.org/internal/store/kv"
)

const blacklistPrefix = "bl:"

// Blacklist records explicitly logged-out access tokens until their
// natural expiry. Entries live in the expiring key-value namespace so
// no sweeper is needed.
type Blacklist struct {
	store kv.Store
}

// NewBlacklist constructs a Blacklist on the given store.
func NewBlacklist(store kv.Store) *Blacklist {
	return &Blacklist{store: store}
}

// Revoke blacklists token for its remaining lifetime. Tokens that are
// already expired are ignored.
func (b *Blacklist) Revoke(ctx context.Context, token string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	return b.store.SetEx(ctx, blacklistPrefix+token, "revoked", remaining)
}

// IsRevoked reports whether token has been blacklisted. It must be
// consulted before trusting any access token for protected actions.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, ok, err := b.store.Get(ctx, blacklistPrefix+token)
	if err != nil {
		return false, err
	}
	return ok, nil
}
