package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/ports"
)

// MailWorker drains the mail outbox and delivers through the Mailer.
// Enqueueing in the triggering operation and sending here keeps SMTP latency
// and SMTP outages out of every user-facing flow.
type MailWorker struct {
	logger     *slog.Logger
	outbox     ports.MailOutboxRepository
	mailer     ports.Mailer
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
}

// NewMailWorker constructs the outbox delivery loop with sane defaults.
func NewMailWorker(
	logger *slog.Logger,
	outbox ports.MailOutboxRepository,
	mailer ports.Mailer,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	maxRetries int,
) *MailWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &MailWorker{
		logger:     logger,
		outbox:     outbox,
		mailer:     mailer,
		interval:   interval,
		batchSize:  batchSize,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
	}
}

// Run executes the periodic delivery loop until context cancellation.
func (w *MailWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "mail outbox iteration failed",
				"module", "events.mail_worker",
				"layer", "adapter",
				"operation", "mail_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *MailWorker) processOnce(ctx context.Context) error {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnsent(ctx, w.batchSize, claimToken, time.Now().UTC().Add(w.claimTTL))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sent := 0
	failed := 0
	deadLettered := 0
	for _, rec := range records {
		if rec.RetryCount >= w.maxRetries {
			deadLettered++
			_ = w.outbox.MarkDeadLettered(ctx, rec.MessageID, claimToken, "retry threshold reached before delivery", now)
			continue
		}

		if err := w.mailer.Send(ctx, rec.TemplateKey, rec.Recipient, rec.Context); err != nil {
			failed++
			retriesAfterFailure := rec.RetryCount + 1
			if retriesAfterFailure >= w.maxRetries {
				deadLettered++
				w.logger.ErrorContext(ctx, "mail moved to dlq",
					"module", "events.mail_worker",
					"layer", "adapter",
					"operation", "send_mail",
					"outcome", "failure",
					"message_id", rec.MessageID,
					"template", rec.TemplateKey,
					"retry_count", retriesAfterFailure,
					"error", err,
				)
				_ = w.outbox.MarkDeadLettered(ctx, rec.MessageID, claimToken, err.Error(), now)
				continue
			}

			w.logger.WarnContext(ctx, "mail delivery failed; retry scheduled",
				"module", "events.mail_worker",
				"layer", "adapter",
				"operation", "send_mail",
				"outcome", "failure",
				"message_id", rec.MessageID,
				"template", rec.TemplateKey,
				"retry_count", retriesAfterFailure,
				"error", err,
			)
			_ = w.outbox.MarkFailed(ctx, rec.MessageID, claimToken, err.Error(), now)
			continue
		}
		sent++
		_ = w.outbox.MarkSent(ctx, rec.MessageID, claimToken, now)
	}
	if len(records) > 0 {
		w.logger.InfoContext(ctx, "mail batch processed",
			"module", "events.mail_worker",
			"layer", "adapter",
			"operation", "mail_process_once",
			"outcome", "success",
			"batch_size", len(records),
			"sent_count", sent,
			"failed_count", failed,
			"dead_lettered_count", deadLettered,
		)
	}
	return nil
}
