package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/domain"
)

type resetTokenRepository struct {
	db *gorm.DB
}

func (r *resetTokenRepository) Create(ctx context.Context, token domain.PasswordResetToken) error {
	rec := passwordResetTokenModel{
		TokenID:      token.TokenID,
		CredentialID: token.CredentialID,
		TokenHash:    token.TokenHash,
		ExpiresAt:    token.ExpiresAt,
		CreatedAt:    token.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// Consume marks the token used under a row lock. Concurrent redemptions
// serialize on the lock; the loser sees used_at set and gets ErrNotFound.
func (r *resetTokenRepository) Consume(ctx context.Context, tokenHash string, usedAt time.Time) (domain.PasswordResetToken, error) {
	var rec passwordResetTokenModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", tokenHash).
			Where("used_at IS NULL").
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !rec.ExpiresAt.After(usedAt) {
			return domain.ErrTokenExpired
		}
		return tx.Model(&passwordResetTokenModel{}).
			Where("token_id = ?", rec.TokenID).
			Update("used_at", usedAt).Error
	})
	if err != nil {
		return domain.PasswordResetToken{}, err
	}
	rec.UsedAt = &usedAt
	return toDomainResetToken(rec), nil
}
