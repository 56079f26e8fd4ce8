package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/domain"
)

type twoFactorRepository struct {
	db *gorm.DB
}

func (r *twoFactorRepository) Get(ctx context.Context, identityID uuid.UUID) (*domain.TwoFactorEnrollment, error) {
	var rec twoFactorEnrollmentModel
	if err := r.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.TwoFactorEnrollment{
		IdentityID:  rec.IdentityID,
		OTPSecret:   rec.OTPSecret,
		OTPRequired: rec.OTPRequired,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (r *twoFactorRepository) Enable(ctx context.Context, identityID uuid.UUID, secret []byte, at time.Time) error {
	rec := twoFactorEnrollmentModel{
		IdentityID:  identityID,
		OTPSecret:   secret,
		OTPRequired: true,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"otp_secret":   rec.OTPSecret,
			"otp_required": true,
			"updated_at":   rec.UpdatedAt,
		}),
	}).Create(&rec).Error
}

// Disable removes the enrollment and its backup codes in one transaction.
func (r *twoFactorRepository) Disable(ctx context.Context, identityID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&backupCodeModel{}).Error; err != nil {
			return err
		}
		return tx.Where("identity_id = ?", identityID).Delete(&twoFactorEnrollmentModel{}).Error
	})
}

func (r *twoFactorRepository) ReplaceBackupCodes(ctx context.Context, identityID uuid.UUID, codeHashes []string, createdAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&backupCodeModel{}).Error; err != nil {
			return err
		}
		if len(codeHashes) == 0 {
			return nil
		}
		records := make([]backupCodeModel, 0, len(codeHashes))
		for _, hash := range codeHashes {
			records = append(records, backupCodeModel{
				IdentityID: identityID,
				CodeHash:   hash,
				CreatedAt:  createdAt,
			})
		}
		return tx.Create(&records).Error
	})
}

// ConsumeBackupCode deletes the matching hash row. Delete-where-match is the
// atomicity point: of two concurrent submissions only one delete affects a
// row.
func (r *twoFactorRepository) ConsumeBackupCode(ctx context.Context, identityID uuid.UUID, codeHash string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Where("code_hash = ?", codeHash).
		Delete(&backupCodeModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
