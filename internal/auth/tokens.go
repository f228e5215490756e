package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind selects which of the two token families an operation targets.
// Access and refresh tokens carry the same payload shape but are
// signed with independent secrets and lifetimes.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ManagerConfig carries the per-kind secrets and lifetimes.
type ManagerConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Manager signs and verifies access and refresh tokens. It is a pure
// dependency: no process-wide secret cache, everything injected.
type Manager struct {
	cfg ManagerConfig
	now func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: token secrets are not configured")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be greater than zero")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	m := &Manager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) secret(kind Kind) ([]byte, time.Duration, error) {
	switch kind {
	case KindAccess:
		return m.cfg.AccessSecret, m.cfg.AccessTTL, nil
	case KindRefresh:
		return m.cfg.RefreshSecret, m.cfg.RefreshTTL, nil
	default:
		return nil, 0, fmt.Errorf("auth: unknown token kind %q", kind)
	}
}

// Sign issues a token of the given kind for userID and returns the
// opaque string together with its expiry.
func (m *Manager) Sign(userID string, kind Kind) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("auth: userID is required")
	}
	secret, ttl, err := m.secret(kind)
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature and required claims of a token of the
// given kind. Expired tokens fail with ErrTokenExpired, everything
// else with ErrInvalidToken.
func (m *Manager) Verify(token string, kind Kind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, _, err := m.secret(kind)
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != m.cfg.Issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != string(kind) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RemainingLife reports how long a verified token is still valid,
// which is also how long a blacklist entry for it needs to live.
func (m *Manager) RemainingLife(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(m.now().UTC())
	if d < 0 {
		return 0
	}
	return d
}
