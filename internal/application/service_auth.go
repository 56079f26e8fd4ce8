package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// Login authenticates a credential and returns its owner. The failure checks
// run in a fixed order and short-circuit at the first hit, so a caller only
// ever learns the most generic applicable reason. Lookup misses and deleted
// owners are indistinguishable from wrong passwords.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginOutcome, error) {
	if err := s.checkRate(ctx, "login", req.IPAddress, 10); err != nil {
		return LoginOutcome{}, err
	}

	identifier := domain.NormalizeIdentifier(req.Identifier)
	if identifier == "" || req.Password == "" {
		return LoginOutcome{}, fmt.Errorf("%w: identifier and password are required", domain.ErrInvalidInput)
	}

	var (
		def  domain.KindDefinition
		cred domain.Credential
	)
	if req.Kind == "" {
		var ok bool
		cred, def, ok = s.resolveCredential(ctx, identifier)
		if !ok {
			s.recordAttempt(ctx, nil, nil, req, "CREDENTIAL_NOT_FOUND")
			return LoginOutcome{}, domain.ErrInvalidCredentials
		}
	} else {
		var err error
		def, err = s.registry.Lookup(req.Kind)
		if err != nil {
			// Unregistered kinds cannot hold credentials; same answer as a miss.
			s.recordAttempt(ctx, nil, nil, req, "UNKNOWN_KIND")
			return LoginOutcome{}, domain.ErrInvalidCredentials
		}
		cred, err = s.credentials.FindActiveByIdentifier(ctx, req.Kind, identifier)
		if err != nil {
			s.recordAttempt(ctx, nil, nil, req, "CREDENTIAL_NOT_FOUND")
			return LoginOutcome{}, domain.ErrInvalidCredentials
		}
	}

	identity, err := s.identities.GetByID(ctx, cred.IdentityID)
	if err != nil {
		s.recordAttempt(ctx, &cred.CredentialID, nil, req, "OWNER_NOT_FOUND")
		return LoginOutcome{}, domain.ErrInvalidCredentials
	}
	if identity.Deleted() {
		s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "OWNER_DELETED")
		return LoginOutcome{}, domain.ErrInvalidCredentials
	}

	if !s.settings.Bool(kindSetting(cred.Kind, "enabled"), true) ||
		!s.settings.Bool(kindSetting(cred.Kind, "authenticatable"), true) {
		s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "KIND_DISABLED")
		return LoginOutcome{}, domain.ErrCredentialTypeDisabled
	}

	now := s.nowFn()
	if cred.Locked(now) {
		s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "LOCKED")
		return LoginOutcome{}, domain.ErrAccountLocked
	}

	if identity.Status == domain.IdentitySuspended {
		s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "SUSPENDED")
		return LoginOutcome{}, domain.ErrAccountSuspended
	}

	if err := s.hasher.Compare(cred.PasswordHash, req.Password); err != nil {
		threshold := s.settings.Int(settingLockoutThreshold, defaultLockoutThreshold)
		lockFor := s.settings.Duration(settingLockoutDuration, defaultLockoutDuration)
		locked, recErr := s.credentials.RecordFailedAttempt(ctx, cred.CredentialID, threshold, lockFor, now)
		if recErr != nil {
			s.logger.WarnContext(ctx, "failed attempt not recorded", "operation", "login", "error", recErr)
		}
		if locked {
			s.lifecycle.AfterCredentialLocked(ctx, cred)
		}
		s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "INVALID_PASSWORD")
		return LoginOutcome{}, domain.ErrInvalidCredentials
	}

	if cred.FailedAttempts > 0 {
		if err := s.credentials.ResetFailedAttempts(ctx, cred.CredentialID, now); err != nil {
			s.logger.WarnContext(ctx, "failed attempt counter not reset", "operation", "login", "error", err)
		}
	}

	unverified := !cred.Verified()
	if unverified && s.settings.Bool(kindSetting(cred.Kind, "verification_required"), def.DeliverableIdentifier) {
		if !s.settings.Bool(kindSetting(cred.Kind, "allow_login_unverified"), false) {
			s.recordAttempt(ctx, &cred.CredentialID, &identity.IdentityID, req, "UNVERIFIED")
			return LoginOutcome{}, domain.ErrVerificationRequired
		}
	}

	_ = s.attempts.Insert(ctx, domain.LoginAttempt{
		CredentialID: &cred.CredentialID,
		IdentityID:   &identity.IdentityID,
		AttemptAt:    now,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		Status:       domain.AttemptSucceeded,
	})

	return LoginOutcome{Identity: identity, Credential: cred, Unverified: unverified}, nil
}

// resolveCredential finds the credential for a login with no explicit kind.
// Every registered kind whose identifier rule matches is probed for an active
// credential; the built-in kinds have disjoint formats, so at most one probe
// can hit. Kinds are tried in name order to keep probing deterministic.
func (s *Service) resolveCredential(ctx context.Context, identifier string) (domain.Credential, domain.KindDefinition, bool) {
	kinds := s.registry.Kinds()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		if s.registry.ValidateIdentifier(kind, identifier) != nil {
			continue
		}
		cred, err := s.credentials.FindActiveByIdentifier(ctx, kind, identifier)
		if err != nil {
			continue
		}
		def, err := s.registry.Lookup(kind)
		if err != nil {
			continue
		}
		return cred, def, true
	}
	return domain.Credential{}, domain.KindDefinition{}, false
}

func (s *Service) recordAttempt(ctx context.Context, credentialID, identityID *uuid.UUID, req LoginRequest, reason string) {
	_ = s.attempts.Insert(ctx, domain.LoginAttempt{
		CredentialID:  credentialID,
		IdentityID:    identityID,
		AttemptAt:     s.nowFn(),
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		Status:        domain.AttemptFailed,
		FailureReason: reason,
	})
}
