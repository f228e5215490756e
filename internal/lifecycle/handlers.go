package lifecycle

import (
	"context"
	"errors"

	"loqui.org/internal/account"
	"loqui.org/internal/email"
	"loqui.org/internal/events"
	"loqui.org/internal/jobs"
	"loqui.org/internal/obs"
)

// registerHandlers wires the three job types and the exhaustion hook
// into the queue. Each handler is idempotent: stale jobs (the user
// acted after the job was armed) are acked without effect.
func (s *Service) registerHandlers() {
	s.queue.Handle(jobs.TypeVerificationEmail, s.handleVerificationEmail)
	s.queue.Handle(jobs.TypeReminderEmail, s.handleReminderEmail)
	s.queue.Handle(jobs.TypeRemoval, s.handleRemoval)
	s.queue.OnExhausted(s.handleExhausted)
}

func (s *Service) handleVerificationEmail(ctx context.Context, job *jobs.Job) error {
	u, err := s.accounts.FindByID(ctx, job.UserID, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return err
	}
	if u.IsVerified {
		return nil
	}

	msg, err := s.renderer.Render(email.TemplateVerification, u.Email, map[string]any{
		"Name":            u.Name,
		"VerificationURL": s.cfg.BaseURL + "/v1/auth/verify-email/" + job.Payload["token"],
		"TokenTTL":        s.cfg.VerifyTokenTTL.String(),
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}
	sentAt := s.now().UTC()
	return s.accounts.SetNotification(ctx, u.ID, account.NotificationVerification, account.EmailSuccess, &sentAt)
}

func (s *Service) handleReminderEmail(ctx context.Context, job *jobs.Job) error {
	u, err := s.accounts.FindByID(ctx, job.UserID, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return err
	}
	if staleSince(u, job) {
		return nil
	}

	msg, err := s.renderer.Render(email.TemplateReminder, u.Email, map[string]any{
		"Name":      u.Name,
		"Remaining": s.cfg.ReminderLeadTime.String(),
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}
	sentAt := s.now().UTC()
	return s.accounts.SetNotification(ctx, u.ID, account.NotificationReminder, account.EmailSuccess, &sentAt)
}

// handleRemoval performs the terminal transition after the grace
// period (or the unverified-signup deadline) elapsed without a login.
func (s *Service) handleRemoval(ctx context.Context, job *jobs.Job) error {
	u, err := s.accounts.FindByID(ctx, job.UserID, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return err
	}
	if staleSince(u, job) {
		return nil
	}

	// Capture the address before it is scrubbed.
	farewell, renderErr := s.renderer.Render(email.TemplateDeleted, u.Email, map[string]any{"Name": u.Name})

	now := s.now().UTC()
	if s.cfg.PurgeOnRemoval {
		err = s.accounts.Purge(ctx, u.ID)
	} else {
		err = s.accounts.Scrub(ctx, u.ID, now)
	}
	if err != nil {
		return err
	}

	// Dangling jobs referencing this user are now pointless.
	s.cancelRemovalPipeline(ctx, u.ID)
	if cErr := s.queue.Cancel(ctx, jobs.TypeVerificationEmail, u.ID); cErr != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "cancel verification failed", "user": u.ID, "error": cErr.Error()})
	}

	// The farewell note is best effort; the removal already happened.
	if renderErr == nil {
		if sendErr := s.mailer.Send(ctx, farewell); sendErr != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "deletion notice send failed", "user": u.ID, "error": sendErr.Error()})
		}
	}
	obs.LogEvent(map[string]any{"msg": "account removed", "user": u.ID, "purged": s.cfg.PurgeOnRemoval})
	s.emit(events.TypeRemoved, u.ID)
	return nil
}

// handleExhausted records the terminal failure of a job on the user
// record so the outcome is inspectable without querying the queue.
func (s *Service) handleExhausted(ctx context.Context, job *jobs.Job, cause error) {
	switch job.Type {
	case jobs.TypeVerificationEmail:
		// An undeliverable token is useless; clear it so a resend
		// starts clean.
		if err := s.accounts.ClearVerifyToken(ctx, job.UserID); err != nil && !errors.Is(err, account.ErrNotFound) {
			obs.LogEvent(map[string]any{"level": "error", "msg": "verify token clear failed", "user": job.UserID, "error": err.Error()})
		}
		if err := s.accounts.SetNotification(ctx, job.UserID, account.NotificationVerification, account.EmailFailed, nil); err != nil && !errors.Is(err, account.ErrNotFound) {
			obs.LogEvent(map[string]any{"level": "error", "msg": "notification update failed", "user": job.UserID, "error": err.Error()})
		}
	case jobs.TypeReminderEmail:
		if err := s.accounts.SetNotification(ctx, job.UserID, account.NotificationReminder, account.EmailFailed, nil); err != nil && !errors.Is(err, account.ErrNotFound) {
			obs.LogEvent(map[string]any{"level": "error", "msg": "notification update failed", "user": job.UserID, "error": err.Error()})
		}
	case jobs.TypeRemoval:
		// The record still exists; log only.
		obs.LogEvent(map[string]any{"level": "error", "msg": "removal exhausted", "user": job.UserID, "error": cause.Error()})
	}
}

// staleSince reports whether the user acted (logged in or was
// reactivated) after the job was armed, making the job a leftover that
// cancellation raced past.
func staleSince(u *account.User, job *jobs.Job) bool {
	if u.LoginAt != nil && u.LoginAt.After(job.EnqueuedAt) {
		return true
	}
	return u.State == account.StateActive && u.IsVerified && u.DeletedAt == nil && u.LogoutAt == nil
}
