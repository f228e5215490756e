package lifecycle

import (
	"context"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
	"loqui.org/internal/events"
	"loqui.org/internal/obs"
)

// DeleteSelf soft-deletes the caller's own account: sessions cleared,
// deleted_at stamped, reminder and removal jobs armed. The account can
// be reactivated by logging in within the grace period.
func (s *Service) DeleteSelf(ctx context.Context, userID, accessToken string) error {
	claims, err := s.requireSelf(ctx, accessToken, userID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.accounts.SoftDelete(ctx, userID, now); err != nil {
		return err
	}
	// The access token outlives the account state change; kill it.
	if err := s.blacklist.Revoke(ctx, accessToken, s.tokens.RemainingLife(claims)); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "access token revoke failed", "user": userID, "error": err.Error()})
	}
	s.armRemovalPipeline(ctx, userID)
	obs.LogEvent(map[string]any{"msg": "account soft-deleted", "user": userID})
	s.emit(events.TypeDeactivated, userID)
	return nil
}

// DeleteByAdmin soft-deletes the account with the given email. The
// caller's token must belong to an admin; the role is re-read from the
// store, never trusted from the transport layer.
func (s *Service) DeleteByAdmin(ctx context.Context, emailAddr, accessToken string) error {
	claims, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	admin, err := s.accounts.FindByID(ctx, claims.Subject, false)
	if err != nil {
		return err
	}
	if admin.Role != account.RoleAdmin {
		return auth.ErrUnauthorized
	}

	u, err := s.accounts.SoftDeleteByEmail(ctx, normalizeEmail(emailAddr), s.now().UTC())
	if err != nil {
		return err
	}
	s.armRemovalPipeline(ctx, u.ID)
	obs.LogEvent(map[string]any{"msg": "account soft-deleted by admin", "user": u.ID, "admin": admin.ID})
	s.emit(events.TypeDeactivated, u.ID)
	return nil
}
