package auth

import (
	"errors"
	"testing"
	"time"
)

func testManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Issuer:        "loqui-test",
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, WithClock(now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSignVerifyRoundTrip(t *testing.T) {
	m := testManager(t, nil)
	token, exp, err := m.Sign("user-1", KindAccess)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry %v is not in the future", exp)
	}
	claims, err := m.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.Subject)
	}
	if claims.TokenType != string(KindAccess) {
		t.Fatalf("token_type = %q", claims.TokenType)
	}
}

func TestVerifyRejectsKindMismatch(t *testing.T) {
	m := testManager(t, nil)
	refresh, _, err := m.Sign("user-1", KindRefresh)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := m.Verify(refresh, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for refresh-as-access, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, func() time.Time { return clock })

	token, _, err := m.Sign("user-1", KindAccess)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	clock = clock.Add(15*time.Minute + time.Second)
	if _, err := m.Verify(token, KindAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	m := testManager(t, nil)
	other, err := NewManager(ManagerConfig{
		Issuer:        "someone-else",
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, _, err := other.Sign("user-1", KindAccess)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := m.Verify(token, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := testManager(t, nil)
	for _, tok := range []string{"", "   ", "not.a.jwt"} {
		if _, err := m.Verify(tok, KindAccess); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestRemainingLife(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(t, func() time.Time { return clock })

	token, _, err := m.Sign("user-1", KindAccess)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := m.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := m.RemainingLife(claims); got != 15*time.Minute {
		t.Fatalf("RemainingLife = %v, want 15m", got)
	}

	clock = clock.Add(time.Hour)
	if got := m.RemainingLife(claims); got != 0 {
		t.Fatalf("RemainingLife after expiry = %v, want 0", got)
	}
}

func TestNewManagerRejectsMissingConfig(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Fatal("expected an error for empty config")
	}
	if _, err := NewManager(ManagerConfig{
		Issuer:        "loqui",
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("b"),
	}); err == nil {
		t.Fatal("expected an error for zero lifetimes")
	}
}
