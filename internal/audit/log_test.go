package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"loqui.org/internal/auth"
	"loqui.org/internal/events"
	"loqui.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: "user-42", Role: "admin"})

	if err := LogEvent(ctx, "account.deactivated", map[string]any{"user_id": "user-7"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "account.deactivated" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["caller_id"] != "user-42" {
		t.Fatalf("unexpected caller id: %v", entry["caller_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["user_id"] != "user-7" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected an error for a blank event name")
	}
}

func TestRecordWritesBusEvents(t *testing.T) {
	buf := captureLog(t)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Record(ctx, bus)
		close(done)
	}()

	// Give the recorder a moment to subscribe before publishing. The
	// buffered subscription keeps the event alive across the cancel, so
	// the recorder still drains it before returning.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(events.Event{Type: events.TypeLoggedIn, UserID: "user-9", Timestamp: time.Now().UTC()})
	cancel()
	<-done

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (raw: %s)", err, buf.String())
	}
	if entry["event"] != string(events.TypeLoggedIn) {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	fields, _ := entry["fields"].(map[string]any)
	if fields["user_id"] != "user-9" {
		t.Fatalf("fields missing user_id: %v", entry["fields"])
	}
}
