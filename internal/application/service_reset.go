package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// RequestPasswordReset starts recovery for whatever credentials match the
// identifier, by identifier or recovery email. It returns nil whether or not
// anything matched; the only observable difference is the mail arriving.
func (s *Service) RequestPasswordReset(ctx context.Context, identifier, ipAddress string) error {
	if err := s.checkRate(ctx, "password_reset", ipAddress, 10); err != nil {
		return err
	}

	normalized := domain.NormalizeIdentifier(identifier)
	if normalized == "" {
		return nil
	}

	creds, err := s.credentials.FindActiveForReset(ctx, normalized)
	if err != nil {
		s.logger.WarnContext(ctx, "reset lookup failed", "operation", "request_password_reset", "error", err)
		return nil
	}

	now := s.nowFn()
	ttl := s.settings.Duration(settingResetTokenTTL, defaultResetTokenTTL)
	for _, cred := range creds {
		rawToken := randomToken(32)
		err := s.resetTokens.Create(ctx, domain.PasswordResetToken{
			TokenID:      uuid.New(),
			CredentialID: cred.CredentialID,
			TokenHash:    hashToken(rawToken),
			ExpiresAt:    now.Add(ttl),
			CreatedAt:    now,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "reset token not stored", "operation", "request_password_reset", "error", err)
			continue
		}
		s.enqueueMail(ctx, mailPasswordReset, s.deliverableAddress(cred), map[string]string{
			"token":      rawToken,
			"identifier": cred.Identifier,
		})
	}
	return nil
}

// ResetPassword redeems a reset token and installs the new password. Token
// consumption is transactional, so concurrent redemptions of the same token
// admit exactly one winner. Every active session of the owner is revoked
// except the one named by ExceptSessionToken.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if req.NewPassword != req.Confirmation {
		return fmt.Errorf("%w: password confirmation does not match", domain.ErrInvalidInput)
	}
	minLength := s.settings.Int(settingPasswordMinLength, defaultPasswordMinLength)
	if err := domain.ValidatePassword(req.NewPassword, minLength); err != nil {
		return err
	}

	now := s.nowFn()
	resetToken, err := s.resetTokens.Consume(ctx, hashToken(req.Token), now)
	if err != nil {
		return err
	}

	cred, err := s.credentials.GetByID(ctx, resetToken.CredentialID)
	if err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.credentials.UpdatePassword(ctx, cred.CredentialID, passwordHash, now); err != nil {
		return err
	}
	if err := s.credentials.ResetFailedAttempts(ctx, cred.CredentialID, now); err != nil {
		s.logger.WarnContext(ctx, "failed attempt counter not reset", "operation", "reset_password", "error", err)
	}

	// A password reset invalidates every standing login. The excluded token
	// lets the session that performed the reset stay signed in.
	return s.sessions.ExpireAllByIdentity(ctx, cred.IdentityID, req.ExceptSessionToken, now)
}

// ChangePassword rotates the password of a credential whose current password
// the caller can prove. Unlike ResetPassword it leaves sessions alone.
func (s *Service) ChangePassword(ctx context.Context, credentialID uuid.UUID, currentPassword, newPassword, confirmation, ipAddress string) error {
	if err := s.checkRate(ctx, "password_change", ipAddress, 10); err != nil {
		return err
	}
	if newPassword != confirmation {
		return fmt.Errorf("%w: password confirmation does not match", domain.ErrInvalidInput)
	}
	minLength := s.settings.Int(settingPasswordMinLength, defaultPasswordMinLength)
	if err := domain.ValidatePassword(newPassword, minLength); err != nil {
		return err
	}

	cred, err := s.credentials.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(cred.PasswordHash, currentPassword); err != nil {
		return domain.ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.credentials.UpdatePassword(ctx, credentialID, passwordHash, s.nowFn())
}
