package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

// CreateSession issues an opaque bearer token for an authenticated identity.
// When the identity is at the session cap the repository expires the oldest
// session in the same transaction as the insert.
func (s *Service) CreateSession(ctx context.Context, identityID uuid.UUID, ipAddress, userAgent string) (domain.Session, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return domain.Session{}, err
	}
	if identity.Deleted() {
		return domain.Session{}, fmt.Errorf("%w: identity is deleted", domain.ErrConflict)
	}

	now := s.nowFn()
	session, err := s.sessions.CreateWithEviction(ctx, ports.SessionCreateParams{
		IdentityID: identityID,
		Token:      randomToken(32),
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.settings.Duration(settingSessionDuration, defaultSessionDuration)),
		CreatedAt:  now,
	}, s.settings.Int(settingMaxSessions, defaultMaxSessions))
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.lifecycle.AfterSessionCreated(ctx, session)
	return session, nil
}

// FindSessionByToken resolves a bearer token to its live session, or nil when
// the token is blank, unknown, or expired. A hit bumps last_active_at
// best-effort.
func (s *Service) FindSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	now := s.nowFn()
	if !session.Active(now) {
		return nil, nil
	}
	if err := s.sessions.TouchActivity(ctx, session.SessionID, now); err != nil {
		s.logger.WarnContext(ctx, "session activity not touched", "operation", "find_session", "error", err)
	} else {
		session.LastActiveAt = now
	}
	return &session, nil
}

// RevokeSession ends a session immediately. The row survives for audit with
// expires_at pinned to the revocation instant.
func (s *Service) RevokeSession(ctx context.Context, session domain.Session) error {
	return s.sessions.Expire(ctx, session.SessionID, s.nowFn())
}

// RevokeAllSessions expires every active session of the identity. A non-empty
// exceptToken names the one session to keep, typically the caller's own.
func (s *Service) RevokeAllSessions(ctx context.Context, identityID uuid.UUID, exceptToken string) error {
	return s.sessions.ExpireAllByIdentity(ctx, identityID, exceptToken, s.nowFn())
}

// ListActiveSessions returns the identity's live sessions.
func (s *Service) ListActiveSessions(ctx context.Context, identityID uuid.UUID) ([]domain.Session, error) {
	return s.sessions.ListActiveByIdentity(ctx, identityID, s.nowFn())
}
