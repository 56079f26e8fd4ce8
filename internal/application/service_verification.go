package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// SendVerification issues a fresh verification token for the credential and
// queues the verification mail. The new token replaces any outstanding one,
// so at most one token per credential is ever redeemable.
func (s *Service) SendVerification(ctx context.Context, credentialID uuid.UUID) error {
	cred, err := s.credentials.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	if !cred.Active() {
		return fmt.Errorf("%w: credential is revoked", domain.ErrNotFound)
	}
	if cred.Verified() {
		return fmt.Errorf("%w: credential is already verified", domain.ErrConflict)
	}

	if err := s.checkRate(ctx, "verification", cred.Identifier, 5); err != nil {
		return err
	}

	token := randomToken(32)
	now := s.nowFn()
	if err := s.credentials.SetVerificationToken(ctx, credentialID, token, now); err != nil {
		return err
	}

	s.enqueueMail(ctx, mailVerification, s.deliverableAddress(cred), map[string]string{
		"token":      token,
		"identifier": cred.Identifier,
	})
	return nil
}

// VerifyCredential redeems a verification token. Tokens older than the
// verification TTL are rejected; a successful redemption marks the credential
// verified and clears the token in one conditional update, so a second
// redemption of the same token misses.
func (s *Service) VerifyCredential(ctx context.Context, token string) (domain.Credential, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Credential{}, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}

	ttl := s.settings.Duration(settingVerificationTTL, defaultVerificationTTL)
	cred, err := s.credentials.ConsumeVerificationToken(ctx, token, ttl, s.nowFn())
	if err != nil {
		return domain.Credential{}, err
	}

	s.lifecycle.AfterIdentityVerified(ctx, cred)
	return cred, nil
}
