package lifecycle

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
	"loqui.org/internal/events"
	"loqui.org/internal/jobs"
	"loqui.org/internal/obs"
)

// VerificationStatus is the outcome of a verification attempt.
type VerificationStatus string

const (
	// StatusInvalid means the token matches no account.
	StatusInvalid VerificationStatus = "invalid"
	// StatusInvalidOrExpired means the token matched but its deadline
	// has passed.
	StatusInvalidOrExpired VerificationStatus = "invalid_or_expired"
	// StatusAlreadyVerified means the account was verified earlier; the
	// replay changes nothing.
	StatusAlreadyVerified VerificationStatus = "already_verified"
	// StatusVerified means this attempt flipped the flag.
	StatusVerified VerificationStatus = "verified"
	// StatusSent means a fresh verification email was scheduled.
	StatusSent VerificationStatus = "verification_sent"
)

// VerifyEmail consumes a raw verification token. The flag flips at
// most once; a verified account also loses its pending removal job.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (VerificationStatus, error) {
	if rawToken == "" {
		return StatusInvalid, nil
	}
	hash := auth.HashOneTimeToken(rawToken)
	u, err := s.accounts.FindByVerifyTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return StatusInvalid, nil
		}
		return "", err
	}
	if u.IsVerified {
		return StatusAlreadyVerified, nil
	}
	now := s.now().UTC()
	if u.VerifyTokenExpires == nil || !u.VerifyTokenExpires.After(now) {
		return StatusInvalidOrExpired, nil
	}

	err = s.accounts.MarkVerified(ctx, u.ID, now)
	if errors.Is(err, account.ErrAlreadyVerified) {
		// A concurrent attempt won the flip.
		return StatusAlreadyVerified, nil
	}
	if err != nil {
		return "", err
	}

	// Verification disarms the unverified-signup deadline.
	if err := s.queue.Cancel(ctx, jobs.TypeRemoval, u.ID); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "cancel removal failed", "user": u.ID, "error": err.Error()})
	}
	obs.LogEvent(map[string]any{"msg": "email verified", "user": u.ID})
	s.emit(events.TypeVerified, u.ID)
	return StatusVerified, nil
}

// ResendVerification issues a new short-lived token and reschedules
// the verification email, throttled per email address.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) (VerificationStatus, error) {
	emailAddr = normalizeEmail(emailAddr)
	if !s.resendAllowed(emailAddr) {
		return "", ErrRateLimited
	}

	u, err := s.accounts.FindByEmail(ctx, emailAddr, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return StatusInvalid, nil
		}
		return "", err
	}
	if u.IsVerified {
		return StatusAlreadyVerified, nil
	}
	if u.State != account.StateActive {
		return StatusInvalid, nil
	}
	if err := s.issueVerification(ctx, u, s.cfg.ResendTokenTTL); err != nil {
		return "", err
	}
	return StatusSent, nil
}

// resendAllowed consults the per-email limiter. One resend per
// cooldown window.
func (s *Service) resendAllowed(emailAddr string) bool {
	s.resendMu.Lock()
	defer s.resendMu.Unlock()
	lim, ok := s.resend[emailAddr]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.ResendCooldown), 1)
		s.resend[emailAddr] = lim
	}
	return lim.Allow()
}
