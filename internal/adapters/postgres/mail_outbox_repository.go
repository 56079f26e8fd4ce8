package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/ports"
)

type mailOutboxRepository struct {
	db *gorm.DB
}

func (r *mailOutboxRepository) Enqueue(ctx context.Context, msg ports.MailMessage) error {
	var mailContext *string
	if len(msg.Context) > 0 {
		raw, err := json.Marshal(msg.Context)
		if err != nil {
			return err
		}
		s := string(raw)
		mailContext = &s
	}
	rec := mailOutboxModel{
		MessageID:   msg.MessageID,
		TemplateKey: msg.TemplateKey,
		Recipient:   msg.Recipient,
		Context:     mailContext,
		CreatedAt:   msg.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// ClaimUnsent locks a batch of deliverable messages and stamps them with the
// worker's claim token. Claims expire, so a worker that dies mid-batch only
// delays its messages by the claim window.
func (r *mailOutboxRepository) ClaimUnsent(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.MailRecord, error) {
	now := time.Now().UTC()
	var rows []mailOutboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("sent_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until < ?", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.MessageID)
		}
		return tx.Model(&mailOutboxModel{}).
			Where("message_id IN ?", ids).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	result := make([]ports.MailRecord, 0, len(rows))
	for _, row := range rows {
		var mailContext map[string]string
		if row.Context != nil {
			_ = json.Unmarshal([]byte(*row.Context), &mailContext)
		}
		result = append(result, ports.MailRecord{
			MailMessage: ports.MailMessage{
				MessageID:   row.MessageID,
				TemplateKey: row.TemplateKey,
				Recipient:   row.Recipient,
				Context:     mailContext,
				CreatedAt:   row.CreatedAt,
			},
			RetryCount:     row.RetryCount,
			LastError:      row.LastError,
			SentAt:         row.SentAt,
			LastErrorAt:    row.LastErrorAt,
			ClaimToken:     &claimToken,
			ClaimUntil:     &claimUntil,
			DeadLetteredAt: row.DeadLetteredAt,
		})
	}
	return result, nil
}

func (r *mailOutboxRepository) MarkSent(ctx context.Context, messageID uuid.UUID, claimToken string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&mailOutboxModel{}).
		Where("message_id = ?", messageID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"sent_at":     at,
			"claim_token": nil,
			"claim_until": nil,
		}).Error
}

func (r *mailOutboxRepository) MarkFailed(ctx context.Context, messageID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&mailOutboxModel{}).
		Where("message_id = ?", messageID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    errMsg,
			"last_error_at": at,
			"claim_token":   nil,
			"claim_until":   nil,
		}).Error
}

func (r *mailOutboxRepository) MarkDeadLettered(ctx context.Context, messageID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&mailOutboxModel{}).
		Where("message_id = ?", messageID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"dead_lettered_at": at,
			"last_error":       errMsg,
			"last_error_at":    at,
			"claim_token":      nil,
			"claim_until":      nil,
		}).Error
}
