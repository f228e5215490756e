// Package audit writes a JSON trail of account lifecycle transitions.
// Entries go to the shared process logger so they interleave with the
// request log and can be shipped by the same collector.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"loqui.org/internal/auth"
	"loqui.org/internal/events"
	"loqui.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		entry["caller_id"] = principal.UserID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Record consumes lifecycle events from the bus and writes one audit
// entry per event until ctx ends. Run it in its own goroutine.
func Record(ctx context.Context, bus *events.Bus) {
	for evt := range bus.Subscribe(ctx) {
		_ = LogEvent(ctx, string(evt.Type), map[string]any{
			"user_id": evt.UserID,
			"at":      evt.Timestamp.UTC().Format(time.RFC3339),
		})
	}
}
