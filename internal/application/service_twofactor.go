package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// EnrollTOTP generates a fresh TOTP secret and provisioning URI. Nothing is
// persisted: the secret only becomes binding when ConfirmTOTP proves the
// authenticator was actually seeded with it.
func (s *Service) EnrollTOTP(ctx context.Context, identityID uuid.UUID) (TOTPEnrollment, error) {
	if _, err := s.identities.GetByID(ctx, identityID); err != nil {
		return TOTPEnrollment{}, err
	}

	account := identityID.String()
	if creds, err := s.credentials.ListByIdentity(ctx, identityID); err == nil {
		for _, cred := range creds {
			if cred.Active() {
				account = cred.Identifier
				break
			}
		}
	}

	secret := randomBase32(20)
	return TOTPEnrollment{
		IdentityID:      identityID,
		Secret:          secret,
		ProvisioningURI: s.totp.ProvisioningURI(secret, account),
	}, nil
}

// ConfirmTOTP completes enrollment. The code must verify against the echoed
// secret; only then is the secret stored and two-factor marked required.
func (s *Service) ConfirmTOTP(ctx context.Context, identityID uuid.UUID, secret, code string) error {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: secret and code are required", domain.ErrInvalidInput)
	}
	if !s.totp.Verify(secret, code, s.nowFn()) {
		return fmt.Errorf("%w: code does not match secret", domain.ErrInvalidInput)
	}
	return s.twoFactor.Enable(ctx, identityID, []byte(secret), s.nowFn())
}

// VerifyTOTPCode checks a login-time code against the stored enrollment.
// False with nil error when the identity has no confirmed enrollment.
func (s *Service) VerifyTOTPCode(ctx context.Context, identityID uuid.UUID, code string) (bool, error) {
	enrollment, err := s.twoFactor.Get(ctx, identityID)
	if err != nil {
		return false, err
	}
	if enrollment == nil || !enrollment.OTPRequired {
		return false, nil
	}
	return s.totp.Verify(string(enrollment.OTPSecret), code, s.nowFn()), nil
}

// GenerateBackupCodes mints ten single-use recovery codes, replacing any
// previous set in one transaction. The plaintext codes are returned exactly
// once; only their hashes are stored.
func (s *Service) GenerateBackupCodes(ctx context.Context, identityID uuid.UUID) ([]string, error) {
	enrollment, err := s.twoFactor.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil || !enrollment.OTPRequired {
		return nil, fmt.Errorf("%w: two-factor is not enabled", domain.ErrNotFound)
	}

	codes := make([]string, 0, 10)
	hashes := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		code := strings.ToUpper(randomBase32(5))
		codes = append(codes, code)
		hashes = append(hashes, hashToken(code))
	}
	if err := s.twoFactor.ReplaceBackupCodes(ctx, identityID, hashes, s.nowFn()); err != nil {
		return nil, err
	}
	return codes, nil
}

// VerifyBackupCode redeems a recovery code. The matching hash row is deleted
// in the same statement that finds it, so a code spends at most once even
// under concurrent submission. No match leaves the stored set untouched.
func (s *Service) VerifyBackupCode(ctx context.Context, identityID uuid.UUID, code string) (bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return false, nil
	}
	return s.twoFactor.ConsumeBackupCode(ctx, identityID, hashToken(normalized))
}

// DisableTwoFactor clears the secret, the requirement flag, and all backup
// codes in one transaction.
func (s *Service) DisableTwoFactor(ctx context.Context, identityID uuid.UUID) error {
	return s.twoFactor.Disable(ctx, identityID, s.nowFn())
}
