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

type identityRepository struct {
	db *gorm.DB
}

func (r *identityRepository) CreateWithCredentialTx(ctx context.Context, params ports.RegisterTxParams) (domain.Identity, domain.Credential, error) {
	var identity domain.Identity
	var credential domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := identityModel{
			Status:    string(domain.IdentityActive),
			Metadata:  metadataToJSON(params.Metadata),
			CreatedAt: params.RegisteredAt,
			UpdatedAt: params.RegisteredAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		credParams := params.Credential
		credParams.IdentityID = rec.IdentityID
		credRec, err := insertCredential(tx, credParams, params.RegisteredAt)
		if err != nil {
			return err
		}

		identity = toDomainIdentity(rec)
		credential = toDomainCredential(credRec)
		return nil
	})
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}
	return identity, credential, nil
}

func (r *identityRepository) GetByID(ctx context.Context, identityID uuid.UUID) (domain.Identity, error) {
	var rec identityModel
	if err := r.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Identity{}, domain.ErrNotFound
		}
		return domain.Identity{}, err
	}
	return toDomainIdentity(rec), nil
}

func (r *identityRepository) SetStatus(ctx context.Context, identityID uuid.UUID, status domain.IdentityStatus, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&identityModel{}).
		Where("identity_id = ?", identityID).
		Updates(map[string]any{
			"status":     string(status),
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

// SoftDeleteTx takes down the whole account in one transaction: every active
// session expires, every active credential is revoked, and the identity is
// marked deleted. Rows are kept; nothing here is a hard delete.
func (r *identityRepository) SoftDeleteTx(ctx context.Context, identityID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec identityModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_id = ?", identityID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		if err := tx.Model(&sessionModel{}).
			Where("identity_id = ?", identityID).
			Where("expires_at > ?", at).
			Update("expires_at", at).Error; err != nil {
			return err
		}

		if err := tx.Model(&credentialModel{}).
			Where("identity_id = ?", identityID).
			Where("revoked_at IS NULL").
			Updates(map[string]any{
				"revoked_at": at,
				"updated_at": at,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&identityModel{}).
			Where("identity_id = ?", identityID).
			Updates(map[string]any{
				"status":     string(domain.IdentityDeleted),
				"deleted_at": at,
				"updated_at": at,
			}).Error
	})
}

// RestoreTx reactivates a soft-deleted identity. Only the credentials revoked
// by the deletion sweep come back, and only where their (kind, identifier)
// slot was not claimed by someone else in the meantime.
func (r *identityRepository) RestoreTx(ctx context.Context, identityID uuid.UUID, at time.Time) (domain.Identity, error) {
	var restored domain.Identity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec identityModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_id = ?", identityID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if rec.Status != string(domain.IdentityDeleted) || rec.DeletedAt == nil {
			return fmt.Errorf("%w: identity is not deleted", domain.ErrConflict)
		}
		deletedAt := *rec.DeletedAt

		var candidates []credentialModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity_id = ?", identityID).
			Where("revoked_at = ?", deletedAt).
			Find(&candidates).Error; err != nil {
			return err
		}
		for _, cred := range candidates {
			var taken int64
			if err := tx.Model(&credentialModel{}).
				Where("kind = ?", cred.Kind).
				Where("identifier = ?", cred.Identifier).
				Where("revoked_at IS NULL").
				Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				continue
			}
			if err := tx.Model(&credentialModel{}).
				Where("credential_id = ?", cred.CredentialID).
				Updates(map[string]any{
					"revoked_at": nil,
					"updated_at": at,
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&identityModel{}).
			Where("identity_id = ?", identityID).
			Updates(map[string]any{
				"status":     string(domain.IdentityActive),
				"deleted_at": nil,
				"updated_at": at,
			}).Error; err != nil {
			return err
		}

		rec.Status = string(domain.IdentityActive)
		rec.DeletedAt = nil
		rec.UpdatedAt = at
		restored = toDomainIdentity(rec)
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return restored, nil
}
