// Package events is an in-process fan-out of account lifecycle events.
// The audit trail and the admin event stream both subscribe to it.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeSignedUp    Type = "account.signed_up"
	TypeVerified    Type = "account.verified"
	TypeLoggedIn    Type = "account.logged_in"
	TypeLoggedOut   Type = "account.logged_out"
	TypeDeactivated Type = "account.deactivated"
	TypeReactivated Type = "account.reactivated"
	TypeRemoved     Type = "account.removed"
)

// Event describes one account transition.
type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fan-outs events to all active subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
