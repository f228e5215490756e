package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected HTTPAddr: %s", cfg.HTTPAddr)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected AccessTokenTTL: %s", cfg.AccessTokenTTL)
	}
	if cfg.GracePeriod != 30*24*time.Hour {
		t.Fatalf("unexpected GracePeriod: %s", cfg.GracePeriod)
	}
	if cfg.RemovalMode != RemovalScrub {
		t.Fatalf("unexpected RemovalMode: %s", cfg.RemovalMode)
	}
	if !cfg.GuardFailClosed {
		t.Fatalf("guard should fail closed by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":18080")
	t.Setenv("JWT_ACCESS_SECRET", "a-secret")
	t.Setenv("JWT_REFRESH_SECRET", "r-secret")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("ACCOUNT_GRACE_PERIOD_SECONDS", "3600")
	t.Setenv("REMOVAL_MODE", "purge")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("GUARD_FAIL_CLOSED", "false")

	cfg := Load()
	if cfg.HTTPAddr != ":18080" {
		t.Fatalf("expected HTTP_ADDR override, got %s", cfg.HTTPAddr)
	}
	if cfg.JWTAccessSecret != "a-secret" || cfg.JWTRefreshSecret != "r-secret" {
		t.Fatalf("expected JWT secret overrides")
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected ACCESS_TOKEN_TTL 30m, got %s", cfg.AccessTokenTTL)
	}
	if cfg.GracePeriod != time.Hour {
		t.Fatalf("expected grace period 1h from _SECONDS form, got %s", cfg.GracePeriod)
	}
	if cfg.RemovalMode != RemovalPurge {
		t.Fatalf("expected purge removal mode, got %s", cfg.RemovalMode)
	}
	if cfg.LoginMaxAttempts != 3 {
		t.Fatalf("expected LOGIN_MAX_ATTEMPTS 3, got %d", cfg.LoginMaxAttempts)
	}
	if cfg.GuardFailClosed {
		t.Fatalf("expected fail-open override")
	}
}

func TestRemovalModeFallsBackToScrub(t *testing.T) {
	t.Setenv("REMOVAL_MODE", "nonsense")
	if cfg := Load(); cfg.RemovalMode != RemovalScrub {
		t.Fatalf("unknown removal mode should fall back to scrub, got %s", cfg.RemovalMode)
	}
}
