package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/castellan/identity-engine/internal/domain"
)

type loginAttemptRepository struct {
	db *gorm.DB
}

func (r *loginAttemptRepository) Insert(ctx context.Context, attempt domain.LoginAttempt) error {
	rec := loginAttemptModel{
		CredentialID:  attempt.CredentialID,
		IdentityID:    attempt.IdentityID,
		AttemptAt:     attempt.AttemptAt,
		IPAddress:     nullableString(attempt.IPAddress),
		UserAgent:     attempt.UserAgent,
		Status:        attempt.Status,
		FailureReason: attempt.FailureReason,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *loginAttemptRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int) ([]domain.LoginAttempt, error) {
	var rows []loginAttemptModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("attempt_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.LoginAttempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainLoginAttempt(row))
	}
	return result, nil
}
