// Package lifecycle implements the account state machine: signup,
// verification, login with lockout and reactivation, refresh-token
// rotation, password reset, logout and the staged removal pipeline.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"loqui.org/internal/account"
	"loqui.org/internal/auth"
	"loqui.org/internal/email"
	"loqui.org/internal/events"
	"loqui.org/internal/guard"
	"loqui.org/internal/ids"
	"loqui.org/internal/jobs"
	"loqui.org/internal/obs"
)

// Config carries the lifecycle timing policy. Zero fields fall back to
// the production defaults.
type Config struct {
	// BaseURL prefixes verification and reset links in outgoing mail.
	BaseURL string

	VerifyTokenTTL time.Duration
	ResendTokenTTL time.Duration
	ResetTokenTTL  time.Duration

	// GracePeriod is how long an inactive account can still be
	// reactivated by logging in, measured from deleted_at.
	GracePeriod time.Duration
	// ReminderLeadTime is how long before removal the reminder fires.
	ReminderLeadTime time.Duration
	// UnverifiedRemoval is the removal delay armed at signup; it is
	// cancelled by email verification.
	UnverifiedRemoval time.Duration

	VerificationEmailDelay time.Duration
	EmailMaxAttempts       int
	EmailRetryDelay        time.Duration

	// ResendCooldown throttles resend-verification per email address.
	ResendCooldown time.Duration
	// LoginMissDelay pads the response on a lookup miss so missing and
	// existing accounts answer in comparable time.
	LoginMissDelay time.Duration

	// PurgeOnRemoval deletes the row outright instead of scrubbing PII
	// in place.
	PurgeOnRemoval bool
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.VerifyTokenTTL, time.Hour)
	def(&c.ResendTokenTTL, 10*time.Minute)
	def(&c.ResetTokenTTL, 10*time.Minute)
	def(&c.GracePeriod, 30*24*time.Hour)
	def(&c.ReminderLeadTime, 3*24*time.Hour)
	def(&c.UnverifiedRemoval, 14*24*time.Hour)
	def(&c.VerificationEmailDelay, 5*time.Second)
	def(&c.EmailRetryDelay, 30*time.Second)
	def(&c.ResendCooldown, 10*time.Minute)
	def(&c.LoginMissDelay, 300*time.Millisecond)
	if c.EmailMaxAttempts <= 0 {
		c.EmailMaxAttempts = 3
	}
	return c
}

// Service coordinates the credential store, token service, lockout
// guard, job queue and mail dispatch. All dependencies are injected;
// there is no process-wide state.
type Service struct {
	accounts  account.Store
	tokens    *auth.Manager
	blacklist *auth.Blacklist
	guard     *guard.Guard
	queue     *jobs.Queue
	renderer  *email.Renderer
	mailer    email.Dispatcher
	cfg       Config
	now       func() time.Time
	bus       *events.Bus

	resendMu sync.Mutex
	resend   map[string]*rate.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEvents publishes account transitions to the bus for the audit
// trail and the admin event stream.
func WithEvents(bus *events.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// New constructs the lifecycle service and registers its job handlers
// on the queue.
func New(
	accounts account.Store,
	tokens *auth.Manager,
	blacklist *auth.Blacklist,
	g *guard.Guard,
	queue *jobs.Queue,
	renderer *email.Renderer,
	mailer email.Dispatcher,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		accounts:  accounts,
		tokens:    tokens,
		blacklist: blacklist,
		guard:     g,
		queue:     queue,
		renderer:  renderer,
		mailer:    mailer,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		resend:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerHandlers()
	return s
}

// Session is the result of a successful login, refresh or password
// update.
type Session struct {
	User           *account.PublicUser `json:"user,omitempty"`
	AccessToken    string              `json:"access_token"`
	AccessExpires  time.Time           `json:"access_expires"`
	RefreshToken   string              `json:"refresh_token"`
	RefreshExpires time.Time           `json:"refresh_expires"`
}

// Signup registers a new unverified account, issues a verification
// token and schedules the verification email plus the unverified
// removal job. An enqueue failure rolls the token fields back so the
// caller can retry cleanly.
func (s *Service) Signup(ctx context.Context, name, email, password, confirm string) (*account.PublicUser, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if err := auth.ValidatePassword(password, confirm); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &account.User{
		ID:           ids.New(),
		Name:         name,
		Email:        email,
		Role:         account.RoleUser,
		PasswordHash: hash,
		State:        account.StateActive,
		SignupAt:     &now,
	}
	if err := s.accounts.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.issueVerification(ctx, u, s.cfg.VerifyTokenTTL); err != nil {
		return nil, err
	}

	// Unverified accounts have a signup deadline; verification cancels
	// this job.
	if err := s.queue.Enqueue(ctx, jobs.TypeRemoval, u.ID, nil, jobs.EnqueueOptions{
		Delay:       s.cfg.UnverifiedRemoval,
		MaxAttempts: s.cfg.EmailMaxAttempts,
		Backoff:     jobs.BackoffFixed,
		RetryDelay:  s.cfg.EmailRetryDelay,
	}); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "schedule unverified removal failed", "user": u.ID, "error": err.Error()})
	}

	obs.LogEvent(map[string]any{"msg": "user signed up", "user": u.ID})
	s.emit(events.TypeSignedUp, u.ID)
	pu := u.Public()
	return &pu, nil
}

// emit publishes a lifecycle transition when an event bus is attached.
func (s *Service) emit(t events.Type, userID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: t, UserID: userID, Timestamp: s.now().UTC()})
}

// issueVerification stores a fresh verification token and schedules
// the email job carrying the raw token. Fails closed: if the job
// cannot be enqueued the token fields are rolled back.
func (s *Service) issueVerification(ctx context.Context, u *account.User, ttl time.Duration) error {
	raw, hash, err := auth.NewOneTimeToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.accounts.SetVerifyToken(ctx, u.ID, hash, now.Add(ttl)); err != nil {
		return err
	}
	err = s.queue.Enqueue(ctx, jobs.TypeVerificationEmail, u.ID, map[string]string{"token": raw}, jobs.EnqueueOptions{
		Delay:       s.cfg.VerificationEmailDelay,
		MaxAttempts: s.cfg.EmailMaxAttempts,
		Backoff:     jobs.BackoffExponential,
		RetryDelay:  s.cfg.EmailRetryDelay,
	})
	if err != nil {
		if rbErr := s.accounts.ClearVerifyToken(ctx, u.ID); rbErr != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "verify token rollback failed", "user": u.ID, "error": rbErr.Error()})
		}
		return fmt.Errorf("schedule verification email: %w", err)
	}
	return nil
}

// Login authenticates the credentials under the lockout guard,
// reactivates a soft-deleted account inside the grace period, rotates
// the presented refresh token and cancels any pending removal
// pipeline.
func (s *Service) Login(ctx context.Context, emailAddr, password, oldRefreshToken string) (*Session, error) {
	emailAddr = normalizeEmail(emailAddr)
	if err := s.guard.CheckAllowed(ctx, emailAddr); err != nil {
		if errors.Is(err, guard.ErrTooManyAttempts) {
			obs.LoginLockout()
		}
		return nil, err
	}

	u, err := s.accounts.FindByEmail(ctx, emailAddr, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Pad the miss so enumeration cannot tell a missing account
			// from a wrong password by timing alone.
			s.sleep(ctx, s.cfg.LoginMissDelay)
			if gErr := s.guard.RecordFailure(ctx, emailAddr); gErr != nil {
				return nil, gErr
			}
			obs.LoginFailure()
			return nil, auth.ErrWrongCredential
		}
		return nil, err
	}

	now := s.now().UTC()
	reactivate := false
	switch u.State {
	case account.StateDeleted:
		return nil, account.ErrDeactivated
	case account.StateInactive:
		if u.DeletedAt == nil || now.Sub(*u.DeletedAt) > s.cfg.GracePeriod {
			return nil, account.ErrDeactivated
		}
		reactivate = true
	}

	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		if gErr := s.guard.RecordFailure(ctx, emailAddr); gErr != nil {
			return nil, gErr
		}
		obs.LoginFailure()
		return nil, auth.ErrWrongCredential
	}
	if !u.IsVerified {
		return nil, account.ErrNotVerified
	}
	if err := s.guard.Clear(ctx, emailAddr); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "lockout counter clear failed", "error": err.Error()})
	}

	if reactivate {
		if err := s.accounts.Reactivate(ctx, u.ID); err != nil {
			return nil, err
		}
		if err := s.accounts.ResetNotifications(ctx, u.ID); err != nil {
			return nil, err
		}
		obs.LogEvent(map[string]any{"msg": "account reactivated", "user": u.ID})
		s.emit(events.TypeReactivated, u.ID)
	}
	// Any successful login disarms a pending removal pipeline.
	s.cancelRemovalPipeline(ctx, u.ID)

	sess, err := s.issueSession(ctx, u, oldRefreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.MarkLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	s.emit(events.TypeLoggedIn, u.ID)
	return sess, nil
}

// issueSession runs the rotation protocol and signs a fresh token
// pair. A non-empty old token that is no longer in the session set is
// the reuse trip wire: every session is cleared and the call fails.
func (s *Service) issueSession(ctx context.Context, u *account.User, oldRefreshToken string) (*Session, error) {
	refresh, refreshExp, err := s.tokens.Sign(u.ID, auth.KindRefresh)
	if err != nil {
		return nil, err
	}

	if oldRefreshToken == "" {
		if err := s.accounts.AppendRefreshToken(ctx, u.ID, refresh); err != nil {
			return nil, err
		}
	} else {
		err := s.accounts.RotateRefreshToken(ctx, u.ID, oldRefreshToken, refresh)
		if errors.Is(err, account.ErrTokenNotFound) {
			if clearErr := s.accounts.ClearRefreshTokens(ctx, u.ID); clearErr != nil {
				return nil, clearErr
			}
			obs.LogEvent(map[string]any{"level": "error", "msg": "refresh token reuse detected", "user": u.ID})
			return nil, ErrTokenReuse
		}
		if err != nil {
			return nil, err
		}
	}

	access, accessExp, err := s.tokens.Sign(u.ID, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	pu := u.Public()
	return &Session{
		User:           &pu,
		AccessToken:    access,
		AccessExpires:  accessExp,
		RefreshToken:   refresh,
		RefreshExpires: refreshExp,
	}, nil
}

// Refresh rotates a refresh token into a fresh token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, auth.ErrMissingToken
	}
	claims, err := s.tokens.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		return nil, err
	}
	u, err := s.accounts.FindByID(ctx, claims.Subject, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if u.State != account.StateActive {
		return nil, auth.ErrInvalidToken
	}
	if claims.IssuedAt != nil && u.PasswordChangedAfter(claims.IssuedAt.Time) {
		return nil, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, u, refreshToken)
}

// Logout blacklists the access token for its remaining life, clears
// every session and arms the reminder and removal jobs. Job enqueue
// failures here degrade gracefully since the record update already
// succeeded.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return auth.ErrMissingToken
	}
	claims, err := s.tokens.Verify(accessToken, auth.KindAccess)
	if err != nil {
		return err
	}
	if err := s.blacklist.Revoke(ctx, accessToken, s.tokens.RemainingLife(claims)); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.accounts.MarkLogout(ctx, claims.Subject, now); err != nil {
		return err
	}
	s.armRemovalPipeline(ctx, claims.Subject)
	obs.LogEvent(map[string]any{"msg": "user logged out", "user": claims.Subject})
	s.emit(events.TypeLoggedOut, claims.Subject)
	return nil
}

// GetUser returns the public projection of a user.
func (s *Service) GetUser(ctx context.Context, id string) (*account.PublicUser, error) {
	u, err := s.accounts.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	pu := u.Public()
	return &pu, nil
}

// armRemovalPipeline schedules the reminder and removal jobs from now.
// Re-arming replaces any pending pair, so the most recent trigger wins.
func (s *Service) armRemovalPipeline(ctx context.Context, userID string) {
	reminderDelay := s.cfg.GracePeriod - s.cfg.ReminderLeadTime
	if reminderDelay < 0 {
		reminderDelay = 0
	}
	if err := s.queue.Enqueue(ctx, jobs.TypeReminderEmail, userID, nil, jobs.EnqueueOptions{
		Delay:       reminderDelay,
		MaxAttempts: s.cfg.EmailMaxAttempts,
		Backoff:     jobs.BackoffFixed,
		RetryDelay:  s.cfg.EmailRetryDelay,
	}); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "schedule reminder failed", "user": userID, "error": err.Error()})
	}
	if err := s.queue.Enqueue(ctx, jobs.TypeRemoval, userID, nil, jobs.EnqueueOptions{
		Delay:       s.cfg.GracePeriod,
		MaxAttempts: s.cfg.EmailMaxAttempts,
		Backoff:     jobs.BackoffFixed,
		RetryDelay:  s.cfg.EmailRetryDelay,
	}); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "schedule removal failed", "user": userID, "error": err.Error()})
	}
}

func (s *Service) cancelRemovalPipeline(ctx context.Context, userID string) {
	if err := s.queue.Cancel(ctx, jobs.TypeReminderEmail, userID); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "cancel reminder failed", "user": userID, "error": err.Error()})
	}
	if err := s.queue.Cancel(ctx, jobs.TypeRemoval, userID); err != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "cancel removal failed", "user": userID, "error": err.Error()})
	}
}

// requireSelf re-verifies the access token at the service layer and
// checks it belongs to userID. Destructive operations do not trust the
// transport-layer check alone.
func (s *Service) requireSelf(ctx context.Context, accessToken, userID string) (*auth.Claims, error) {
	claims, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, auth.ErrUnauthorized
	}
	return claims, nil
}

// Authenticate resolves an access token into a principal for the HTTP
// layer: signature, blacklist, account state and password-change
// cutoff are all checked here.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (auth.Principal, error) {
	claims, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		return auth.Principal{}, err
	}
	u, err := s.accounts.FindByID(ctx, claims.Subject, true)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return auth.Principal{}, auth.ErrInvalidToken
		}
		return auth.Principal{}, err
	}
	if u.State != account.StateActive {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	if claims.IssuedAt != nil && u.PasswordChangedAfter(claims.IssuedAt.Time) {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return auth.Principal{UserID: u.ID, Role: string(u.Role)}, nil
}

func (s *Service) verifyAccess(ctx context.Context, accessToken string) (*auth.Claims, error) {
	if accessToken == "" {
		return nil, auth.ErrMissingToken
	}
	claims, err := s.tokens.Verify(accessToken, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.blacklist.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, auth.ErrTokenRevoked
	}
	return claims, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
