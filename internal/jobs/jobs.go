// Package jobs implements the delayed-job orchestrator behind the
// account lifecycle: verification emails, deletion reminders and
// permanent removals are all time-delayed, retryable, idempotent
// tasks scheduled here.
package jobs

import (
	"context"
	"fmt"
	"time"
)

// Type names a job family. Each type maps to exactly one handler and
// one notification-status field on the user record.
type Type string

const (
	TypeVerificationEmail Type = "send-email-verification"
	TypeReminderEmail     Type = "send-reminder"
	TypeRemoval           Type = "account-removal"
)

// idPrefix returns the deterministic job-id prefix for a type. The
// resulting "<prefix>-<userID>" id is the idempotency key: one pending
// job per (type, user) at any time.
func idPrefix(t Type) string {
	switch t {
	case TypeVerificationEmail:
		return "email"
	case TypeReminderEmail:
		return "reminder"
	case TypeRemoval:
		return "removal"
	default:
		return string(t)
	}
}

// ID derives the idempotency key for a (type, user) pair.
func ID(t Type, userID string) string {
	return fmt.Sprintf("%s-%s", idPrefix(t), userID)
}

// Backoff selects the retry delay progression.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Job is one scheduled unit of work. Persisted in the queue store so
// delays survive process restarts.
type Job struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	UserID      string            `json:"user_id"`
	Payload     map[string]string `json:"payload,omitempty"`
	RunAt       time.Time         `json:"run_at"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Backoff     Backoff           `json:"backoff"`
	RetryDelay  time.Duration     `json:"retry_delay"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`

	// Gen is stamped by the store on every Upsert and carried through
	// ClaimDue. Ack and Retry compare it against the stored record, so
	// an instance whose job was replaced mid-flight cannot destroy the
	// replacement.
	Gen int64 `json:"-"`
}

// nextDelay computes the wait before the given attempt is retried.
func (j *Job) nextDelay() time.Duration {
	if j.RetryDelay <= 0 {
		return 0
	}
	if j.Backoff == BackoffExponential {
		d := j.RetryDelay
		for i := 1; i < j.Attempts; i++ {
			d *= 2
		}
		return d
	}
	return j.RetryDelay
}

// Store persists scheduled jobs. Claimed jobs stay invisible until
// acked or until the visibility timeout passes, which is what makes
// delivery at-least-once across crashes.
type Store interface {
	// Upsert schedules the job, replacing any pending job with the
	// same id (cancel-and-replace semantics).
	Upsert(ctx context.Context, j *Job) error
	// Cancel removes a pending job if it exists; cancelling a missing
	// job is not an error.
	Cancel(ctx context.Context, id string) error
	// ClaimDue atomically moves up to limit due jobs into the
	// processing set and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*Job, error)
	// Ack removes a claimed job permanently, but only while j.Gen
	// still matches the stored record. A stale instance that was
	// replaced while running acks into nothing.
	Ack(ctx context.Context, j *Job) error
	// Retry moves a claimed job back to pending with its updated
	// RunAt and attempt count. Like Ack it is a no-op when the job
	// was replaced mid-flight.
	Retry(ctx context.Context, j *Job) error
	// Reap returns timed-out processing jobs to the pending set and
	// reports how many were recovered.
	Reap(ctx context.Context, now time.Time) (int, error)
}

// Handler executes one job. Returning an error triggers a retry until
// MaxAttempts is exhausted.
type Handler func(ctx context.Context, job *Job) error

// FailureHook observes a job whose attempts are exhausted.
type FailureHook func(ctx context.Context, job *Job, err error)
