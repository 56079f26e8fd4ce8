package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

// Invite creates a pending invitation for an email address and queues the
// invitation mail. One pending invitation per address at a time; a second
// invite while the first is live is a conflict.
func (s *Service) Invite(ctx context.Context, email string, invitedBy *uuid.UUID) (domain.Invitation, error) {
	normalized := domain.NormalizeIdentifier(email)
	if err := s.registry.ValidateIdentifier(domain.KindEmailPassword, normalized); err != nil {
		return domain.Invitation{}, err
	}

	now := s.nowFn()
	if _, err := s.invitations.FindPendingByEmail(ctx, normalized, now); err == nil {
		return domain.Invitation{}, fmt.Errorf("%w: invitation already pending for this address", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Invitation{}, err
	}

	invitation, err := s.invitations.Create(ctx, domain.Invitation{
		InvitationID: uuid.New(),
		Email:        normalized,
		Token:        randomToken(32),
		InvitedBy:    invitedBy,
		ExpiresAt:    now.Add(s.settings.Duration(settingInvitationTTL, defaultInvitationTTL)),
		CreatedAt:    now,
	})
	if err != nil {
		return domain.Invitation{}, err
	}

	s.enqueueMail(ctx, mailInvitation, invitation.Email, map[string]string{
		"token": invitation.Token,
		"email": invitation.Email,
	})
	return invitation, nil
}

// AcceptInvitation redeems an invitation token: one transaction creates the
// identity, its pre-verified email credential, and marks the invitation
// accepted. Any failure inside rolls the whole unit back and the invitation
// stays pending, so the invitee can retry.
func (s *Service) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (domain.Identity, error) {
	if strings.TrimSpace(req.Token) == "" {
		return domain.Identity{}, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if req.Password != req.Confirmation {
		return domain.Identity{}, fmt.Errorf("%w: password confirmation does not match", domain.ErrInvalidInput)
	}
	minLength := s.settings.Int(settingPasswordMinLength, defaultPasswordMinLength)
	if err := domain.ValidatePassword(req.Password, minLength); err != nil {
		return domain.Identity{}, err
	}

	now := s.nowFn()
	invitation, err := s.invitations.GetByToken(ctx, req.Token)
	if err != nil || !invitation.Pending(now) {
		return domain.Identity{}, domain.ErrNotFound
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	// The address was proven reachable by the invitation mail itself, so the
	// credential is born verified.
	verifiedAt := now
	identity, credential, err := s.invitations.AcceptTx(ctx, invitation.InvitationID, ports.RegisterTxParams{
		Credential: ports.CreateCredentialParams{
			Kind:         domain.KindEmailPassword,
			Identifier:   invitation.Email,
			PasswordHash: passwordHash,
			VerifiedAt:   &verifiedAt,
		},
		Metadata:     req.Metadata,
		RegisteredAt: now,
	}, now)
	if err != nil {
		return domain.Identity{}, err
	}

	s.lifecycle.AfterIdentityCreated(ctx, identity, credential)
	return identity, nil
}

// RevokeInvitation withdraws a pending invitation. Its token stops redeeming
// immediately.
func (s *Service) RevokeInvitation(ctx context.Context, invitationID uuid.UUID) error {
	return s.invitations.Revoke(ctx, invitationID, s.nowFn())
}
