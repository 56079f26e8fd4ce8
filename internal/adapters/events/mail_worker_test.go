package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/ports"
)

type stubOutbox struct {
	mu           sync.Mutex
	pending      []ports.MailRecord
	sent         []uuid.UUID
	failed       []uuid.UUID
	deadLettered []uuid.UUID
}

func (s *stubOutbox) Enqueue(context.Context, ports.MailMessage) error { return nil }

func (s *stubOutbox) ClaimUnsent(_ context.Context, limit int, _ string, _ time.Time) ([]ports.MailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	s.pending = nil
	return batch, nil
}

func (s *stubOutbox) MarkSent(_ context.Context, messageID uuid.UUID, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, messageID)
	return nil
}

func (s *stubOutbox) MarkFailed(_ context.Context, messageID uuid.UUID, _, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, messageID)
	return nil
}

func (s *stubOutbox) MarkDeadLettered(_ context.Context, messageID uuid.UUID, _, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLettered = append(s.deadLettered, messageID)
	return nil
}

type stubMailer struct {
	mu        sync.Mutex
	err       error
	delivered []string
}

func (s *stubMailer) Send(_ context.Context, templateKey, recipient string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, templateKey+":"+recipient)
	return nil
}

func record(retries int) ports.MailRecord {
	return ports.MailRecord{
		MailMessage: ports.MailMessage{
			MessageID:   uuid.New(),
			TemplateKey: "verification",
			Recipient:   "user@example.com",
			Context:     map[string]string{"token": "abc"},
			CreatedAt:   time.Now().UTC(),
		},
		RetryCount: retries,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessOnceDeliversAndMarksSent(t *testing.T) {
	t.Parallel()

	outbox := &stubOutbox{pending: []ports.MailRecord{record(0), record(0)}}
	mailer := &stubMailer{}
	worker := NewMailWorker(testLogger(), outbox, mailer, time.Second, 10, time.Minute, 5)

	if err := worker.processOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(mailer.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(mailer.delivered))
	}
	if len(outbox.sent) != 2 || len(outbox.failed) != 0 || len(outbox.deadLettered) != 0 {
		t.Fatalf("expected both records marked sent, got sent=%d failed=%d dlq=%d",
			len(outbox.sent), len(outbox.failed), len(outbox.deadLettered))
	}
}

func TestProcessOnceSchedulesRetryOnFailure(t *testing.T) {
	t.Parallel()

	outbox := &stubOutbox{pending: []ports.MailRecord{record(0)}}
	mailer := &stubMailer{err: errors.New("smtp unreachable")}
	worker := NewMailWorker(testLogger(), outbox, mailer, time.Second, 10, time.Minute, 5)

	if err := worker.processOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(outbox.failed) != 1 || len(outbox.sent) != 0 || len(outbox.deadLettered) != 0 {
		t.Fatalf("expected one retry mark, got sent=%d failed=%d dlq=%d",
			len(outbox.sent), len(outbox.failed), len(outbox.deadLettered))
	}
}

func TestProcessOnceDeadLettersAtRetryLimit(t *testing.T) {
	t.Parallel()

	// One record at the final attempt, one already past the threshold.
	outbox := &stubOutbox{pending: []ports.MailRecord{record(4), record(5)}}
	mailer := &stubMailer{err: errors.New("smtp unreachable")}
	worker := NewMailWorker(testLogger(), outbox, mailer, time.Second, 10, time.Minute, 5)

	if err := worker.processOnce(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(outbox.deadLettered) != 2 {
		t.Fatalf("expected both records dead lettered, got %d", len(outbox.deadLettered))
	}
	if len(outbox.failed) != 0 || len(outbox.sent) != 0 {
		t.Fatalf("expected no other marks, got sent=%d failed=%d", len(outbox.sent), len(outbox.failed))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	outbox := &stubOutbox{}
	worker := NewMailWorker(testLogger(), outbox, &stubMailer{}, 10*time.Millisecond, 10, time.Minute, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}
