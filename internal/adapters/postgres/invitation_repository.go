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

type invitationRepository struct {
	db *gorm.DB
}

func (r *invitationRepository) Create(ctx context.Context, inv domain.Invitation) (domain.Invitation, error) {
	rec := invitationModel{
		InvitationID: inv.InvitationID,
		Email:        inv.Email,
		Token:        inv.Token,
		InvitedBy:    inv.InvitedBy,
		ExpiresAt:    inv.ExpiresAt,
		CreatedAt:    inv.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Invitation{}, domain.ErrConflict
		}
		return domain.Invitation{}, err
	}
	return toDomainInvitation(rec), nil
}

func (r *invitationRepository) GetByToken(ctx context.Context, token string) (domain.Invitation, error) {
	var rec invitationModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, err
	}
	return toDomainInvitation(rec), nil
}

func (r *invitationRepository) FindPendingByEmail(ctx context.Context, email string, now time.Time) (domain.Invitation, error) {
	var rec invitationModel
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Where("accepted_at IS NULL").
		Where("revoked_at IS NULL").
		Where("expires_at > ?", now).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, err
	}
	return toDomainInvitation(rec), nil
}

// AcceptTx redeems the invitation in one transaction: the pending row is
// locked and re-checked, the identity and its credential are created, and
// accepted_at is set. A credential conflict rolls everything back and the
// invitation stays pending.
func (r *invitationRepository) AcceptTx(ctx context.Context, invitationID uuid.UUID, params ports.RegisterTxParams, acceptedAt time.Time) (domain.Identity, domain.Credential, error) {
	var identity domain.Identity
	var credential domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv invitationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("invitation_id = ?", invitationID).
			Where("accepted_at IS NULL").
			Where("revoked_at IS NULL").
			Where("expires_at > ?", acceptedAt).
			Take(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		identityRec := identityModel{
			Status:    string(domain.IdentityActive),
			Metadata:  metadataToJSON(params.Metadata),
			CreatedAt: acceptedAt,
			UpdatedAt: acceptedAt,
		}
		if err := tx.Create(&identityRec).Error; err != nil {
			return err
		}

		credParams := params.Credential
		credParams.IdentityID = identityRec.IdentityID
		credRec, err := insertCredential(tx, credParams, acceptedAt)
		if err != nil {
			return err
		}

		if err := tx.Model(&invitationModel{}).
			Where("invitation_id = ?", invitationID).
			Update("accepted_at", acceptedAt).Error; err != nil {
			return err
		}

		identity = toDomainIdentity(identityRec)
		credential = toDomainCredential(credRec)
		return nil
	})
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}
	return identity, credential, nil
}

func (r *invitationRepository) Revoke(ctx context.Context, invitationID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&invitationModel{}).
		Where("invitation_id = ?", invitationID).
		Where("accepted_at IS NULL").
		Where("revoked_at IS NULL").
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
