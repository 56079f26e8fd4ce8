package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

type Repositories struct {
	Identities  ports.IdentityRepository
	Credentials ports.CredentialRepository
	Sessions    ports.SessionRepository
	Invitations ports.InvitationRepository
	ResetTokens ports.ResetTokenRepository
	TwoFactor   ports.TwoFactorRepository
	Attempts    ports.LoginAttemptRepository
	MailOutbox  ports.MailOutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Identities:  &identityRepository{db: db},
		Credentials: &credentialRepository{db: db},
		Sessions:    &sessionRepository{db: db},
		Invitations: &invitationRepository{db: db},
		ResetTokens: &resetTokenRepository{db: db},
		TwoFactor:   &twoFactorRepository{db: db},
		Attempts:    &loginAttemptRepository{db: db},
		MailOutbox:  &mailOutboxRepository{db: db},
	}
}

// insertCredential creates a credential row inside the caller's transaction.
// The active-uniqueness rule over (kind, identifier) is checked under a row
// lock and backed by a partial unique index, so a concurrent create loses
// with domain.ErrConflict rather than inserting a duplicate.
func insertCredential(tx *gorm.DB, params ports.CreateCredentialParams, at time.Time) (credentialModel, error) {
	var existing credentialModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ?", string(params.Kind)).
		Where("identifier = ?", params.Identifier).
		Where("revoked_at IS NULL").
		Take(&existing).Error
	if err == nil {
		return credentialModel{}, fmt.Errorf("%w: identifier already in use", domain.ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return credentialModel{}, err
	}

	rec := credentialModel{
		IdentityID:         params.IdentityID,
		Kind:               string(params.Kind),
		Identifier:         params.Identifier,
		PasswordHash:       params.PasswordHash,
		RecoveryEmail:      nullableString(params.RecoveryEmail),
		VerifiedAt:         params.VerifiedAt,
		VerificationToken:  nullableString(params.VerificationToken),
		VerificationSentAt: params.VerificationSentAt,
		Metadata:           metadataToJSON(params.Metadata),
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	if err := tx.Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return credentialModel{}, fmt.Errorf("%w: identifier already in use", domain.ErrConflict)
		}
		return credentialModel{}, err
	}
	return rec, nil
}
