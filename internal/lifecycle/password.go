package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
	"loqui.org/internal/email"
	"loqui.org/internal/obs"
)

// ForgotPassword issues a short-lived reset token and mails the reset
// link synchronously. A send failure rolls the token fields back so
// the account is never left holding an undeliverable token.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	u, err := s.accounts.FindByEmail(ctx, emailAddr, true)
	if err != nil {
		return err
	}
	if !u.IsVerified {
		return account.ErrNotVerified
	}
	if u.State != account.StateActive {
		return account.ErrNotFound
	}

	raw, hash, err := auth.NewOneTimeToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.accounts.SetResetToken(ctx, u.ID, hash, now.Add(s.cfg.ResetTokenTTL)); err != nil {
		return err
	}

	msg, err := s.renderer.Render(email.TemplateReset, u.Email, map[string]any{
		"Name":     u.Name,
		"ResetURL": s.cfg.BaseURL + "/v1/auth/reset-password/" + raw,
		"TokenTTL": s.cfg.ResetTokenTTL.String(),
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		if rbErr := s.accounts.ClearResetToken(ctx, u.ID); rbErr != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "reset token rollback failed", "user": u.ID, "error": rbErr.Error()})
		}
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// VerifyResetToken is the pre-flight check the reset form runs before
// asking for a new password.
func (s *Service) VerifyResetToken(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return ErrResetTokenInvalid
	}
	hash := auth.HashOneTimeToken(rawToken)
	_, err := s.accounts.FindByResetTokenHash(ctx, hash, s.now().UTC())
	if errors.Is(err, account.ErrNotFound) {
		return ErrResetTokenInvalid
	}
	return err
}

// ResetPassword consumes a reset token. The store clears the token
// fields and every session in the same write, so the raw token cannot
// be replayed.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword, confirm string) error {
	if err := auth.ValidatePassword(newPassword, confirm); err != nil {
		return err
	}
	hash := auth.HashOneTimeToken(rawToken)
	u, err := s.accounts.FindByResetTokenHash(ctx, hash, s.now().UTC())
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}
	if !u.IsVerified {
		return account.ErrNotVerified
	}

	newHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, u.ID, newHash, s.now().UTC()); err != nil {
		return err
	}
	obs.LogEvent(map[string]any{"msg": "password reset", "user": u.ID})
	return nil
}

// UpdatePassword changes the password of a logged-in user. The current
// password is required, reuse is rejected, prior sessions are revoked
// and a fresh token pair is issued.
func (s *Service) UpdatePassword(ctx context.Context, userID, accessToken, current, newPassword, confirm string) (*Session, error) {
	if _, err := s.requireSelf(ctx, accessToken, userID); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(newPassword, confirm); err != nil {
		return nil, err
	}

	u, err := s.accounts.FindByID(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(u.PasswordHash, current); err != nil {
		return nil, auth.ErrWrongCredential
	}
	if auth.VerifyPassword(u.PasswordHash, newPassword) == nil {
		return nil, ErrSamePassword
	}

	newHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.accounts.UpdatePassword(ctx, userID, newHash, now); err != nil {
		return nil, err
	}
	// The old access token predates the change, so it is dead weight;
	// blacklist it for its remaining life.
	if claims, vErr := s.tokens.Verify(accessToken, auth.KindAccess); vErr == nil {
		if err := s.blacklist.Revoke(ctx, accessToken, s.tokens.RemainingLife(claims)); err != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "access token revoke failed", "user": userID, "error": err.Error()})
		}
	}
	u.PasswordHash = newHash
	return s.issueSession(ctx, u, "")
}

// UpdateProfile changes name and photo only. Credentials are never
// updatable through this path.
func (s *Service) UpdateProfile(ctx context.Context, userID, accessToken, name, photo string) (*account.PublicUser, error) {
	if _, err := s.requireSelf(ctx, accessToken, userID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	u, err := s.accounts.UpdateProfile(ctx, userID, name, photo)
	if err != nil {
		return nil, err
	}
	pu := u.Public()
	return &pu, nil
}
