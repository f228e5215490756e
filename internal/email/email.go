// Package email renders and dispatches transactional mail. The core
// treats dispatch as fire-and-forget; delivery outcomes are observed
// by the job orchestrator, not by request handlers.
package email

import "context"

// Message is one rendered email ready for transport.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Dispatcher accepts a rendered message for a recipient.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
