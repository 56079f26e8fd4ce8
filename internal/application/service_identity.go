package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

// Register creates an identity with its first credential. The credential is
// born with a verification token when its kind requires verification, and the
// verification mail is queued in the same flow.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (domain.Identity, domain.Credential, error) {
	if err := s.checkRate(ctx, "register", req.IPAddress, 5); err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}

	def, err := s.registry.Lookup(req.Kind)
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}
	if !s.settings.Bool(kindSetting(req.Kind, "enabled"), true) ||
		!s.settings.Bool(kindSetting(req.Kind, "registerable"), true) {
		return domain.Identity{}, domain.Credential{}, domain.ErrCredentialTypeDisabled
	}

	identifier := domain.NormalizeIdentifier(req.Identifier)
	if err := s.registry.ValidateIdentifier(req.Kind, identifier); err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}
	recoveryEmail := domain.NormalizeIdentifier(req.RecoveryEmail)
	if recoveryEmail != "" {
		if err := s.registry.ValidateIdentifier(domain.KindEmailPassword, recoveryEmail); err != nil {
			return domain.Identity{}, domain.Credential{}, fmt.Errorf("%w: recovery email is not a valid address", domain.ErrInvalidInput)
		}
	}

	minLength := s.settings.Int(settingPasswordMinLength, defaultPasswordMinLength)
	if err := domain.ValidatePassword(req.Password, minLength); err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return domain.Identity{}, domain.Credential{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	params := ports.CreateCredentialParams{
		Kind:          req.Kind,
		Identifier:    identifier,
		PasswordHash:  passwordHash,
		RecoveryEmail: recoveryEmail,
	}

	verificationRequired := s.settings.Bool(kindSetting(req.Kind, "verification_required"), def.DeliverableIdentifier)
	var rawVerificationToken string
	if verificationRequired {
		rawVerificationToken = randomToken(32)
		sentAt := now
		params.VerificationToken = rawVerificationToken
		params.VerificationSentAt = &sentAt
	}

	identity, credential, err := s.identities.CreateWithCredentialTx(ctx, ports.RegisterTxParams{
		Credential:   params,
		Metadata:     req.Metadata,
		RegisteredAt: now,
	})
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}

	if verificationRequired {
		s.enqueueMail(ctx, mailVerification, s.deliverableAddress(credential), map[string]string{
			"token":      rawVerificationToken,
			"identifier": credential.Identifier,
		})
	}

	s.lifecycle.AfterIdentityCreated(ctx, identity, credential)
	return identity, credential, nil
}

// AddCredential attaches an additional sign-in method to an existing identity.
// The same kind policy, identifier validation, and verification rules apply as
// at registration.
func (s *Service) AddCredential(ctx context.Context, identityID uuid.UUID, req RegisterRequest) (domain.Credential, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return domain.Credential{}, err
	}
	if identity.Deleted() {
		return domain.Credential{}, fmt.Errorf("%w: identity is deleted", domain.ErrConflict)
	}

	def, err := s.registry.Lookup(req.Kind)
	if err != nil {
		return domain.Credential{}, err
	}
	if !s.settings.Bool(kindSetting(req.Kind, "enabled"), true) ||
		!s.settings.Bool(kindSetting(req.Kind, "registerable"), true) {
		return domain.Credential{}, domain.ErrCredentialTypeDisabled
	}

	identifier := domain.NormalizeIdentifier(req.Identifier)
	if err := s.registry.ValidateIdentifier(req.Kind, identifier); err != nil {
		return domain.Credential{}, err
	}

	minLength := s.settings.Int(settingPasswordMinLength, defaultPasswordMinLength)
	if err := domain.ValidatePassword(req.Password, minLength); err != nil {
		return domain.Credential{}, err
	}
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	params := ports.CreateCredentialParams{
		IdentityID:    identityID,
		Kind:          req.Kind,
		Identifier:    identifier,
		PasswordHash:  passwordHash,
		RecoveryEmail: domain.NormalizeIdentifier(req.RecoveryEmail),
		Metadata:      req.Metadata,
	}

	verificationRequired := s.settings.Bool(kindSetting(req.Kind, "verification_required"), def.DeliverableIdentifier)
	var rawVerificationToken string
	if verificationRequired {
		rawVerificationToken = randomToken(32)
		sentAt := now
		params.VerificationToken = rawVerificationToken
		params.VerificationSentAt = &sentAt
	}

	credential, err := s.credentials.Create(ctx, params)
	if err != nil {
		return domain.Credential{}, err
	}

	if verificationRequired {
		s.enqueueMail(ctx, mailVerification, s.deliverableAddress(credential), map[string]string{
			"token":      rawVerificationToken,
			"identifier": credential.Identifier,
		})
	}
	return credential, nil
}

// DeleteIdentity soft-deletes the account: one transaction expires every
// active session, revokes every active credential, and marks the identity
// deleted. History and rows stay for audit and restore.
func (s *Service) DeleteIdentity(ctx context.Context, identityID uuid.UUID) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Deleted() {
		return fmt.Errorf("%w: identity is already deleted", domain.ErrConflict)
	}
	if err := s.identities.SoftDeleteTx(ctx, identityID, s.nowFn()); err != nil {
		return err
	}
	s.lifecycle.AfterIdentityDeleted(ctx, identity)
	return nil
}

// RestoreIdentity reverses a soft delete. Credentials come back only where
// their (kind, identifier) slot is still free; a credential whose identifier
// was claimed in the meantime stays revoked.
func (s *Service) RestoreIdentity(ctx context.Context, identityID uuid.UUID) (domain.Identity, error) {
	identity, err := s.identities.RestoreTx(ctx, identityID, s.nowFn())
	if err != nil {
		return domain.Identity{}, err
	}
	s.lifecycle.AfterIdentityRestored(ctx, identity)
	return identity, nil
}

// SuspendIdentity blocks login without touching sessions or credentials.
func (s *Service) SuspendIdentity(ctx context.Context, identityID uuid.UUID) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Deleted() {
		return fmt.Errorf("%w: identity is deleted", domain.ErrConflict)
	}
	return s.identities.SetStatus(ctx, identityID, domain.IdentitySuspended, s.nowFn())
}

// UnsuspendIdentity lifts a suspension.
func (s *Service) UnsuspendIdentity(ctx context.Context, identityID uuid.UUID) error {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.Status != domain.IdentitySuspended {
		return fmt.Errorf("%w: identity is not suspended", domain.ErrConflict)
	}
	return s.identities.SetStatus(ctx, identityID, domain.IdentityActive, s.nowFn())
}

// RevokeCredential disables one sign-in method. Existing sessions survive;
// only future logins through this credential stop.
func (s *Service) RevokeCredential(ctx context.Context, credentialID uuid.UUID) error {
	cred, err := s.credentials.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	if !cred.Active() {
		return fmt.Errorf("%w: credential is already revoked", domain.ErrConflict)
	}
	if err := s.credentials.Revoke(ctx, credentialID, s.nowFn()); err != nil {
		return err
	}
	s.lifecycle.AfterCredentialRevoked(ctx, cred)
	return nil
}

// RestoreCredential reactivates a revoked credential. Fails with a conflict
// when another active credential took the (kind, identifier) slot since.
func (s *Service) RestoreCredential(ctx context.Context, credentialID uuid.UUID) (domain.Credential, error) {
	cred, err := s.credentials.Restore(ctx, credentialID, s.nowFn())
	if err != nil {
		return domain.Credential{}, err
	}
	s.lifecycle.AfterCredentialRestored(ctx, cred)
	return cred, nil
}

// LoginHistory lists recorded attempts for an identity, newest first.
func (s *Service) LoginHistory(ctx context.Context, identityID uuid.UUID, limit, offset int) ([]domain.LoginAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.attempts.ListByIdentity(ctx, identityID, limit, offset)
}
