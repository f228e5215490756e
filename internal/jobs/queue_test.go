package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type queueFixture struct {
	queue *Queue
	store *MemoryStore
	now   time.Time
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	f := &queueFixture{
		store: NewMemoryStore(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.queue = New("test", f.store, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *queueFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestEnqueueDelaysExecution(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var ran int
	f.queue.Handle(TypeVerificationEmail, func(context.Context, *Job) error {
		ran++
		return nil
	})
	if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "x"}, EnqueueOptions{Delay: 5 * time.Second}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if ran != 0 {
		t.Fatal("job ran before its delay elapsed")
	}

	f.advance(5 * time.Second)
	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}

	// Completed jobs do not rerun.
	f.advance(time.Hour)
	_ = f.queue.RunDue(ctx)
	if ran != 1 {
		t.Fatalf("completed job reran, ran = %d", ran)
	}
}

func TestEnqueueReplacesPendingJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var payloads []string
	f.queue.Handle(TypeVerificationEmail, func(_ context.Context, j *Job) error {
		payloads = append(payloads, j.Payload["token"])
		return nil
	})

	if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "old"}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "new"}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(payloads) != 1 || payloads[0] != "new" {
		t.Fatalf("payloads = %v, want [new]", payloads)
	}
}

func TestReplacementSurvivesInFlightAck(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var sent []string
	f.queue.Handle(TypeVerificationEmail, func(ctx context.Context, j *Job) error {
		if j.Payload["token"] == "old" {
			// Re-issued while the first instance is still executing,
			// the way a resend request races the email job.
			if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "new"}, EnqueueOptions{}); err != nil {
				t.Errorf("Enqueue: %v", err)
			}
		}
		sent = append(sent, j.Payload["token"])
		return nil
	})

	if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "old"}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	// The first instance acked after it was replaced; the replacement
	// must still be scheduled.
	j, ok := f.store.Pending(ID(TypeVerificationEmail, "u1"))
	if !ok {
		t.Fatal("replacement job was destroyed by the stale ack")
	}
	if j.Payload["token"] != "new" {
		t.Fatalf("pending payload = %q, want %q", j.Payload["token"], "new")
	}

	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if len(sent) != 2 || sent[0] != "old" || sent[1] != "new" {
		t.Fatalf("sent = %v, want [old new]", sent)
	}
}

func TestReplacementSurvivesInFlightRetry(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	f.queue.Handle(TypeVerificationEmail, func(ctx context.Context, j *Job) error {
		if j.Payload["token"] != "old" {
			return nil
		}
		if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "new"}, EnqueueOptions{}); err != nil {
			t.Errorf("Enqueue: %v", err)
		}
		return errors.New("smtp down")
	})

	if err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", map[string]string{"token": "old"}, EnqueueOptions{
		MaxAttempts: 3,
		Backoff:     BackoffFixed,
		RetryDelay:  time.Minute,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.queue.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	// The failed first instance scheduled a retry, but it had already
	// been replaced; the replacement's payload must win.
	j, ok := f.store.Pending(ID(TypeVerificationEmail, "u1"))
	if !ok {
		t.Fatal("expected a pending job")
	}
	if j.Payload["token"] != "new" {
		t.Fatalf("pending payload = %q, want %q", j.Payload["token"], "new")
	}
}

func TestCancelRemovesPendingJob(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var ran int
	f.queue.Handle(TypeRemoval, func(context.Context, *Job) error {
		ran++
		return nil
	})
	if err := f.queue.Enqueue(ctx, TypeRemoval, "u1", nil, EnqueueOptions{Delay: time.Hour}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.queue.Cancel(ctx, TypeRemoval, "u1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	f.advance(2 * time.Hour)
	_ = f.queue.RunDue(ctx)
	if ran != 0 {
		t.Fatal("cancelled job still ran")
	}

	// Cancelling a missing job is fine.
	if err := f.queue.Cancel(ctx, TypeRemoval, "u1"); err != nil {
		t.Fatalf("Cancel missing: %v", err)
	}
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	var attempts int
	f.queue.Handle(TypeVerificationEmail, func(context.Context, *Job) error {
		attempts++
		if attempts < 3 {
			return errors.New("smtp down")
		}
		return nil
	})
	err := f.queue.Enqueue(ctx, TypeVerificationEmail, "u1", nil, EnqueueOptions{
		MaxAttempts: 3,
		Backoff:     BackoffExponential,
		RetryDelay:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_ = f.queue.RunDue(ctx) // attempt 1 fails, retry in 30s
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	f.advance(29 * time.Second)
	_ = f.queue.RunDue(ctx)
	if attempts != 1 {
		t.Fatal("retry ran before its backoff elapsed")
	}

	f.advance(time.Second)
	_ = f.queue.RunDue(ctx) // attempt 2 fails, retry in 60s
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	f.advance(time.Minute)
	_ = f.queue.RunDue(ctx) // attempt 3 succeeds
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if _, ok := f.store.Pending(ID(TypeVerificationEmail, "u1")); ok {
		t.Fatal("succeeded job still pending")
	}
}

func TestExhaustionInvokesHook(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)

	handlerErr := errors.New("permanent failure")
	f.queue.Handle(TypeReminderEmail, func(context.Context, *Job) error { return handlerErr })

	var exhausted *Job
	var cause error
	f.queue.OnExhausted(func(_ context.Context, j *Job, err error) {
		exhausted = j
		cause = err
	})

	if err := f.queue.Enqueue(ctx, TypeReminderEmail, "u1", nil, EnqueueOptions{
		MaxAttempts: 2,
		Backoff:     BackoffFixed,
		RetryDelay:  time.Second,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_ = f.queue.RunDue(ctx)
	if exhausted != nil {
		t.Fatal("hook fired before attempts were exhausted")
	}
	f.advance(time.Second)
	_ = f.queue.RunDue(ctx)

	if exhausted == nil {
		t.Fatal("exhaustion hook never fired")
	}
	if exhausted.UserID != "u1" || exhausted.Attempts != 2 {
		t.Fatalf("unexpected exhausted job: %+v", exhausted)
	}
	if !errors.Is(cause, handlerErr) {
		t.Fatalf("cause = %v, want handler error", cause)
	}
	if _, ok := f.store.Pending(ID(TypeReminderEmail, "u1")); ok {
		t.Fatal("exhausted job still pending")
	}
}

func TestReapRecoversTimedOutJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := &Job{ID: ID(TypeRemoval, "u1"), Type: TypeRemoval, UserID: "u1", RunAt: now, MaxAttempts: 1, EnqueuedAt: now}
	if err := store.Upsert(ctx, job); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	claimed, err := store.ClaimDue(ctx, now, 10, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue = (%v, %v)", claimed, err)
	}
	// Claimed jobs are invisible to a second claim.
	again, _ := store.ClaimDue(ctx, now, 10, time.Minute)
	if len(again) != 0 {
		t.Fatalf("claimed job visible again: %v", again)
	}

	// Before the visibility deadline nothing is reaped.
	if n, _ := store.Reap(ctx, now.Add(30*time.Second)); n != 0 {
		t.Fatalf("reaped %d jobs early", n)
	}
	// After the deadline the job returns to pending.
	if n, _ := store.Reap(ctx, now.Add(2*time.Minute)); n != 1 {
		t.Fatalf("reaped %d jobs, want 1", n)
	}
	if _, ok := store.Pending(job.ID); !ok {
		t.Fatal("reaped job not pending")
	}
}

func TestDeterministicJobIDs(t *testing.T) {
	cases := map[Type]string{
		TypeVerificationEmail: "email-u1",
		TypeReminderEmail:     "reminder-u1",
		TypeRemoval:           "removal-u1",
	}
	for typ, want := range cases {
		if got := ID(typ, "u1"); got != want {
			t.Fatalf("ID(%s) = %q, want %q", typ, got, want)
		}
	}
}
