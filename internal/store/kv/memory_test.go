package kv

import (
	"context"
	"testing"
	"time"
)

func TestSetExGetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := m.SetEx(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Get = (%q, %v)", v, ok)
	}
	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key survived Del")
	}
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	if err := m.SetEx(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	now = now.Add(59 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("key expired early")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key outlived its ttl")
	}
}

func TestIncrCreatesAndCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "n")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Fatalf("Incr = %d, want %d", got, want)
		}
	}
}

func TestExpireArmsTTLOnExistingKey(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	if _, err := m.Incr(ctx, "n"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if err := m.Expire(ctx, "n", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "n"); ok {
		t.Fatal("key outlived Expire ttl")
	}

	// Expire on a missing key is a no-op.
	if err := m.Expire(ctx, "missing", time.Minute); err != nil {
		t.Fatalf("Expire missing: %v", err)
	}
}

func TestIncrPreservesExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.SetClock(func() time.Time { return now })

	if _, err := m.Incr(ctx, "n"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if err := m.Expire(ctx, "n", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := m.Incr(ctx, "n"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	now = now.Add(31 * time.Second)
	if _, ok, _ := m.Get(ctx, "n"); ok {
		t.Fatal("Incr refreshed the expiry")
	}
}
