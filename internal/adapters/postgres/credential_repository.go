package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

type credentialRepository struct {
	db *gorm.DB
}

func (r *credentialRepository) Create(ctx context.Context, params ports.CreateCredentialParams) (domain.Credential, error) {
	var credential domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := insertCredential(tx, params, time.Now().UTC())
		if err != nil {
			return err
		}
		credential = toDomainCredential(rec)
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return credential, nil
}

func (r *credentialRepository) GetByID(ctx context.Context, credentialID uuid.UUID) (domain.Credential, error) {
	var rec credentialModel
	if err := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, err
	}
	return toDomainCredential(rec), nil
}

func (r *credentialRepository) FindActiveByIdentifier(ctx context.Context, kind domain.CredentialKind, identifier string) (domain.Credential, error) {
	var rec credentialModel
	err := r.db.WithContext(ctx).
		Where("kind = ?", string(kind)).
		Where("identifier = ?", identifier).
		Where("revoked_at IS NULL").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, err
	}
	return toDomainCredential(rec), nil
}

func (r *credentialRepository) FindActiveForReset(ctx context.Context, identifier string) ([]domain.Credential, error) {
	var rows []credentialModel
	err := r.db.WithContext(ctx).
		Where("revoked_at IS NULL").
		Where("identifier = ? OR recovery_email = ?", identifier, identifier).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Credential, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainCredential(row))
	}
	return result, nil
}

func (r *credentialRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]domain.Credential, error) {
	var rows []credentialModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Credential, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainCredential(row))
	}
	return result, nil
}

func (r *credentialRepository) UpdatePassword(ctx context.Context, credentialID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&credentialModel{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]any{
			"password_hash": passwordHash,
			"updated_at":    updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordFailedAttempt increments the counter under a row lock so concurrent
// wrong-password attempts serialize and exactly one of them crosses the
// threshold and sets locked_until.
func (r *credentialRepository) RecordFailedAttempt(ctx context.Context, credentialID uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (bool, error) {
	locked := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec credentialModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("credential_id = ?", credentialID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		updates := map[string]any{
			"failed_attempts": rec.FailedAttempts + 1,
			"updated_at":      now,
		}
		if threshold > 0 && rec.FailedAttempts+1 >= threshold {
			updates["locked_until"] = now.Add(lockFor)
			locked = true
		}
		return tx.Model(&credentialModel{}).
			Where("credential_id = ?", credentialID).
			Updates(updates).Error
	})
	if err != nil {
		return false, err
	}
	return locked, nil
}

func (r *credentialRepository) ResetFailedAttempts(ctx context.Context, credentialID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&credentialModel{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
			"updated_at":      at,
		}).Error
}

func (r *credentialRepository) SetVerificationToken(ctx context.Context, credentialID uuid.UUID, token string, sentAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&credentialModel{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]any{
			"verification_token":   token,
			"verification_sent_at": sentAt,
			"updated_at":           sentAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConsumeVerificationToken flips the credential to verified and clears the
// token pair in one locked transaction. An expired token is left in place; it
// stays dead until SendVerification replaces it.
func (r *credentialRepository) ConsumeVerificationToken(ctx context.Context, token string, ttl time.Duration, verifiedAt time.Time) (domain.Credential, error) {
	var credential domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec credentialModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("verification_token = ?", token).
			Where("revoked_at IS NULL").
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if rec.VerificationSentAt == nil || rec.VerificationSentAt.Add(ttl).Before(verifiedAt) {
			return domain.ErrTokenExpired
		}

		if err := tx.Model(&credentialModel{}).
			Where("credential_id = ?", rec.CredentialID).
			Updates(map[string]any{
				"verified_at":          verifiedAt,
				"verification_token":   nil,
				"verification_sent_at": nil,
				"updated_at":           verifiedAt,
			}).Error; err != nil {
			return err
		}

		rec.VerifiedAt = &verifiedAt
		rec.VerificationToken = nil
		rec.VerificationSentAt = nil
		rec.UpdatedAt = verifiedAt
		credential = toDomainCredential(rec)
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return credential, nil
}

func (r *credentialRepository) Revoke(ctx context.Context, credentialID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&credentialModel{}).
		Where("credential_id = ?", credentialID).
		Where("revoked_at IS NULL").
		Updates(map[string]any{
			"revoked_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *credentialRepository) Restore(ctx context.Context, credentialID uuid.UUID, at time.Time) (domain.Credential, error) {
	var credential domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec credentialModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("credential_id = ?", credentialID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if rec.RevokedAt == nil {
			return fmt.Errorf("%w: credential is not revoked", domain.ErrConflict)
		}

		var taken int64
		if err := tx.Model(&credentialModel{}).
			Where("kind = ?", rec.Kind).
			Where("identifier = ?", rec.Identifier).
			Where("revoked_at IS NULL").
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%w: identifier was claimed while revoked", domain.ErrConflict)
		}

		if err := tx.Model(&credentialModel{}).
			Where("credential_id = ?", credentialID).
			Updates(map[string]any{
				"revoked_at": nil,
				"updated_at": at,
			}).Error; err != nil {
			return err
		}

		rec.RevokedAt = nil
		rec.UpdatedAt = at
		credential = toDomainCredential(rec)
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return credential, nil
}
