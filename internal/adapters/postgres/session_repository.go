package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

type sessionRepository struct {
	db *gorm.DB
}

// CreateWithEviction inserts the session and enforces the per-identity cap in
// the same transaction. The active rows are locked first, so two concurrent
// logins at the cap cannot both skip eviction.
func (r *sessionRepository) CreateWithEviction(ctx context.Context, params ports.SessionCreateParams, maxActive int) (domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if maxActive > 0 {
			var active []sessionModel
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("identity_id = ?", params.IdentityID).
				Where("expires_at > ?", params.CreatedAt).
				Order("created_at ASC").
				Find(&active).Error; err != nil {
				return err
			}
			if len(active) >= maxActive {
				oldest := active[0]
				if err := tx.Model(&sessionModel{}).
					Where("session_id = ?", oldest.SessionID).
					Update("expires_at", params.CreatedAt).Error; err != nil {
					return err
				}
			}
		}

		rec := sessionModel{
			IdentityID:   params.IdentityID,
			Token:        params.Token,
			IPAddress:    nullableString(params.IPAddress),
			UserAgent:    params.UserAgent,
			CreatedAt:    params.CreatedAt,
			LastActiveAt: params.CreatedAt,
			ExpiresAt:    params.ExpiresAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		session = toDomainSession(rec)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (r *sessionRepository) GetByToken(ctx context.Context, token string) (domain.Session, error) {
	var rec sessionModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) ListActiveByIdentity(ctx context.Context, identityID uuid.UUID, now time.Time) ([]domain.Session, error) {
	var rows []sessionModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainSession(row))
	}
	return result, nil
}

func (r *sessionRepository) TouchActivity(ctx context.Context, sessionID uuid.UUID, touchedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Update("last_active_at", touchedAt).Error
}

func (r *sessionRepository) Expire(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Where("expires_at > ?", at).
		Update("expires_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&sessionModel{}).Where("session_id = ?", sessionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *sessionRepository) ExpireAllByIdentity(ctx context.Context, identityID uuid.UUID, exceptToken string, at time.Time) error {
	query := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("identity_id = ?", identityID).
		Where("expires_at > ?", at)
	if exceptToken != "" {
		query = query.Where("token <> ?", exceptToken)
	}
	return query.Update("expires_at", at).Error
}
