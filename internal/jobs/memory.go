package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node use.
// It mirrors the redis store's pending/processing semantics.
type MemoryStore struct {
	mu         sync.Mutex
	gen        int64
	pending    map[string]*Job
	processing map[string]claimed
}

type claimed struct {
	job      *Job
	deadline time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:    make(map[string]*Job),
		processing: make(map[string]claimed),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	cp := *j
	cp.Gen = s.gen
	delete(s.processing, j.ID)
	s.pending[j.ID] = &cp
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	delete(s.processing, id)
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int, visibility time.Duration) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*Job, 0)
	for _, j := range s.pending {
		if !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	// Oldest first, deterministic for tests.
	sort.Slice(due, func(i, k int) bool {
		if due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].RunAt.Before(due[k].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		delete(s.pending, j.ID)
		s.processing[j.ID] = claimed{job: j, deadline: now.Add(visibility)}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

// currentGen reports the generation of the live entry for id, pending
// or processing, whichever holds it.
func (s *MemoryStore) currentGen(id string) (int64, bool) {
	if j, ok := s.pending[id]; ok {
		return j.Gen, true
	}
	if c, ok := s.processing[id]; ok {
		return c.job.Gen, true
	}
	return 0, false
}

func (s *MemoryStore) Ack(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.currentGen(j.ID)
	if !ok || gen != j.Gen {
		// Replaced or cancelled while this instance ran; the live
		// entry, if any, must survive the stale ack.
		return nil
	}
	delete(s.processing, j.ID)
	delete(s.pending, j.ID)
	return nil
}

func (s *MemoryStore) Retry(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.currentGen(j.ID)
	if !ok || gen != j.Gen {
		return nil
	}
	delete(s.processing, j.ID)
	cp := *j
	s.pending[j.ID] = &cp
	return nil
}

func (s *MemoryStore) Reap(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.processing {
		if !c.deadline.After(now) {
			delete(s.processing, id)
			c.job.RunAt = now
			s.pending[id] = c.job
			n++
		}
	}
	return n, nil
}

// Pending reports whether a pending job with the given id exists.
// Test helper.
func (s *MemoryStore) Pending(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}
