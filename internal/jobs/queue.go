package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loqui.org/internal/obs"
)

const (
	defaultConcurrency  = 5
	defaultPollInterval = time.Second
	defaultVisibility   = time.Minute
)

// Queue schedules delayed jobs and runs them on a bounded worker pool
// decoupled from the request path.
type Queue struct {
	name        string
	store       Store
	handlers    map[Type]Handler
	onExhausted FailureHook

	concurrency  int
	pollInterval time.Duration
	visibility   time.Duration
	now          func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency bounds the number of jobs handled in parallel.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithPollInterval overrides how often due jobs are claimed.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithVisibility overrides the crash-recovery timeout for claimed jobs.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(q *Queue) {
		if fn != nil {
			q.now = fn
		}
	}
}

// New constructs a Queue on the given store.
func New(name string, store Store, opts ...Option) *Queue {
	q := &Queue{
		name:         name,
		store:        store,
		handlers:     make(map[Type]Handler),
		concurrency:  defaultConcurrency,
		pollInterval: defaultPollInterval,
		visibility:   defaultVisibility,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Handle registers the handler for a job type. Must be called before
// Start.
func (q *Queue) Handle(t Type, h Handler) {
	q.handlers[t] = h
}

// OnExhausted registers the hook invoked after the final failed
// attempt of a job.
func (q *Queue) OnExhausted(hook FailureHook) {
	q.onExhausted = hook
}

// EnqueueOptions carries the per-job scheduling parameters.
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     Backoff
	RetryDelay  time.Duration
}

// Enqueue schedules a job of type t for userID after the given delay.
// A pending job with the same (type, user) idempotency key is
// replaced, never duplicated.
func (q *Queue) Enqueue(ctx context.Context, t Type, userID string, payload map[string]string, opts EnqueueOptions) error {
	if userID == "" {
		return fmt.Errorf("jobs: userID is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	now := q.now().UTC()
	j := &Job{
		ID:          ID(t, userID),
		Type:        t,
		UserID:      userID,
		Payload:     payload,
		RunAt:       now.Add(opts.Delay),
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		RetryDelay:  opts.RetryDelay,
		EnqueuedAt:  now,
	}
	if err := q.store.Upsert(ctx, j); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", j.ID, err)
	}
	obs.JobEnqueued(q.name, string(t))
	return nil
}

// Cancel removes the pending (type, user) job if one exists.
func (q *Queue) Cancel(ctx context.Context, t Type, userID string) error {
	return q.store.Cancel(ctx, ID(t, userID))
}

// Start runs the polling loop until ctx is cancelled, then drains
// in-flight handlers before returning.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, q.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			obs.LogEvent(map[string]any{"msg": "queue stopped", "queue": q.name})
			return
		case <-ticker.C:
			now := q.now().UTC()
			if n, err := q.store.Reap(ctx, now); err != nil {
				obs.LogEvent(map[string]any{"level": "error", "msg": "queue reap failed", "queue": q.name, "error": err.Error()})
			} else if n > 0 {
				obs.LogEvent(map[string]any{"msg": "queue recovered stale jobs", "queue": q.name, "count": n})
			}

			due, err := q.store.ClaimDue(ctx, now, q.concurrency, q.visibility)
			if err != nil {
				obs.LogEvent(map[string]any{"level": "error", "msg": "queue claim failed", "queue": q.name, "error": err.Error()})
				continue
			}
			for _, job := range due {
				sem <- struct{}{}
				wg.Add(1)
				go func(job *Job) {
					defer wg.Done()
					defer func() { <-sem }()
					q.run(ctx, job)
				}(job)
			}
		}
	}
}

// RunDue claims and executes due jobs synchronously. Intended for
// tests and one-shot maintenance commands.
func (q *Queue) RunDue(ctx context.Context) error {
	now := q.now().UTC()
	if _, err := q.store.Reap(ctx, now); err != nil {
		return err
	}
	due, err := q.store.ClaimDue(ctx, now, q.concurrency, q.visibility)
	if err != nil {
		return err
	}
	for _, job := range due {
		q.run(ctx, job)
	}
	return nil
}

func (q *Queue) run(ctx context.Context, job *Job) {
	handler, ok := q.handlers[job.Type]
	if !ok {
		obs.LogEvent(map[string]any{"level": "error", "msg": "no handler for job type", "queue": q.name, "type": string(job.Type), "job": job.ID})
		_ = q.store.Ack(ctx, job)
		return
	}

	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		if ackErr := q.store.Ack(ctx, job); ackErr != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "job ack failed", "queue": q.name, "job": job.ID, "error": ackErr.Error()})
		}
		obs.JobCompleted(q.name, string(job.Type))
		return
	}

	if job.Attempts < job.MaxAttempts {
		retry := *job
		retry.RunAt = q.now().UTC().Add(job.nextDelay())
		if upErr := q.store.Retry(ctx, &retry); upErr != nil {
			obs.LogEvent(map[string]any{"level": "error", "msg": "job requeue failed", "queue": q.name, "job": job.ID, "error": upErr.Error()})
			return
		}
		obs.JobRetried(q.name, string(job.Type))
		obs.LogEvent(map[string]any{"msg": "job retry scheduled", "queue": q.name, "job": job.ID, "attempt": job.Attempts, "error": err.Error()})
		return
	}

	if ackErr := q.store.Ack(ctx, job); ackErr != nil {
		obs.LogEvent(map[string]any{"level": "error", "msg": "job ack failed", "queue": q.name, "job": job.ID, "error": ackErr.Error()})
	}
	obs.JobFailed(q.name, string(job.Type))
	obs.LogEvent(map[string]any{"level": "error", "msg": "job attempts exhausted", "queue": q.name, "job": job.ID, "error": err.Error()})
	if q.onExhausted != nil {
		q.onExhausted(ctx, job, err)
	}
}
