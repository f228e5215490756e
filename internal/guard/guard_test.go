package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"loqui.org/internal/store/kv"
)

func TestThresholdLocksOut(t *testing.T) {
	ctx := context.Background()
	g := New(kv.NewMemory(), Config{MaxAttempts: 3, Window: 15 * time.Minute})

	for i := 0; i < 2; i++ {
		if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if err := g.CheckAllowed(ctx, "a@x.com"); err != nil {
			t.Fatalf("attempt %d should still be allowed: %v", i+1, err)
		}
	}
	if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := g.CheckAllowed(ctx, "a@x.com"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	// Other addresses are unaffected.
	if err := g.CheckAllowed(ctx, "b@x.com"); err != nil {
		t.Fatalf("unrelated email locked out: %v", err)
	}
}

func TestWindowRunsFromFirstFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := kv.NewMemory()
	mem.SetClock(func() time.Time { return now })
	g := New(mem, Config{MaxAttempts: 2, Window: 15 * time.Minute})

	if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	// A later failure must not extend the window.
	now = now.Add(10 * time.Minute)
	if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := g.CheckAllowed(ctx, "a@x.com"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout, got %v", err)
	}

	// 15 minutes after the FIRST failure the counter expires.
	now = now.Add(5*time.Minute + time.Second)
	if err := g.CheckAllowed(ctx, "a@x.com"); err != nil {
		t.Fatalf("lockout outlived the window: %v", err)
	}
}

func TestClearResetsCounter(t *testing.T) {
	ctx := context.Background()
	g := New(kv.NewMemory(), Config{MaxAttempts: 1, Window: time.Minute})

	if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := g.CheckAllowed(ctx, "a@x.com"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if err := g.Clear(ctx, "a@x.com"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := g.CheckAllowed(ctx, "a@x.com"); err != nil {
		t.Fatalf("counter survived Clear: %v", err)
	}
}

type brokenStore struct{ kv.Store }

var errStoreDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errStoreDown
}
func (brokenStore) Incr(context.Context, string) (int64, error) { return 0, errStoreDown }
func (brokenStore) Del(context.Context, string) error           { return errStoreDown }

func TestFailClosedDeniesOnStoreError(t *testing.T) {
	ctx := context.Background()
	g := New(brokenStore{}, Config{MaxAttempts: 5, Window: time.Minute, FailClosed: true})

	if err := g.CheckAllowed(ctx, "a@x.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFailOpenAllowsOnStoreError(t *testing.T) {
	ctx := context.Background()
	g := New(brokenStore{}, Config{MaxAttempts: 5, Window: time.Minute, FailClosed: false})

	if err := g.CheckAllowed(ctx, "a@x.com"); err != nil {
		t.Fatalf("fail-open guard denied: %v", err)
	}
	if err := g.RecordFailure(ctx, "a@x.com"); err != nil {
		t.Fatalf("fail-open guard surfaced store error: %v", err)
	}
}
