package application_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/application"
	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

type fixture struct {
	service     *application.Service
	identities  *fakeIdentities
	credentials *fakeCredentials
	sessions    *fakeSessions
	invitations *fakeInvitations
	resetTokens *fakeResetTokens
	twoFactor   *fakeTwoFactor
	attempts    *fakeAttempts
	outbox      *fakeOutbox
	limiter     *fakeLimiter
	settings    *fakeSettings
	lifecycle   *captureLifecycle
	clock       *fakeClock
}

// fakeClock is the service clock under test control. It only moves when a
// test advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture() *fixture {
	credentials := &fakeCredentials{byID: map[uuid.UUID]domain.Credential{}}
	sessions := &fakeSessions{byID: map[uuid.UUID]domain.Session{}}
	identities := &fakeIdentities{
		byID:     map[uuid.UUID]domain.Identity{},
		creds:    credentials,
		sessions: sessions,
	}
	invitations := &fakeInvitations{
		byID:       map[uuid.UUID]domain.Invitation{},
		identities: identities,
	}
	resetTokens := &fakeResetTokens{byHash: map[string]domain.PasswordResetToken{}}
	twoFactor := &fakeTwoFactor{
		enrollments: map[uuid.UUID]domain.TwoFactorEnrollment{},
		codes:       map[uuid.UUID]map[string]bool{},
	}
	attempts := &fakeAttempts{}
	outbox := &fakeOutbox{}
	limiter := &fakeLimiter{counts: map[string]int{}}
	settings := newFakeSettings()
	lifecycle := &captureLifecycle{}
	clock := &fakeClock{now: time.Now().UTC()}

	svc := application.NewService(application.Dependencies{
		Identities:  identities,
		Credentials: credentials,
		Sessions:    sessions,
		Invitations: invitations,
		ResetTokens: resetTokens,
		TwoFactor:   twoFactor,
		Attempts:    attempts,
		MailOutbox:  outbox,
		Limiter:     limiter,
		Hasher:      &fakeHasher{},
		TOTP:        &fakeTOTP{},
		Settings:    settings,
		Lifecycle:   lifecycle,
		Now:         clock.Now,
	})

	return &fixture{
		service:     svc,
		identities:  identities,
		credentials: credentials,
		sessions:    sessions,
		invitations: invitations,
		resetTokens: resetTokens,
		twoFactor:   twoFactor,
		attempts:    attempts,
		outbox:      outbox,
		limiter:     limiter,
		settings:    settings,
		lifecycle:   lifecycle,
		clock:       clock,
	}
}

// register creates an account through the service and fails the test on error.
func (f *fixture) register(t *testing.T, kind domain.CredentialKind, identifier, password string) (domain.Identity, domain.Credential) {
	t.Helper()
	identity, credential, err := f.service.Register(context.Background(), application.RegisterRequest{
		Kind:       kind,
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		t.Fatalf("register %s/%s failed: %v", kind, identifier, err)
	}
	return identity, credential
}

// registerVerified registers and marks the credential verified directly in the
// store, skipping the mail round-trip.
func (f *fixture) registerVerified(t *testing.T, kind domain.CredentialKind, identifier, password string) (domain.Identity, domain.Credential) {
	t.Helper()
	identity, credential := f.register(t, kind, identifier, password)
	f.markVerified(t, credential.CredentialID)
	return identity, credential
}

func (f *fixture) markVerified(t *testing.T, credentialID uuid.UUID) {
	t.Helper()
	f.credentials.mu.Lock()
	defer f.credentials.mu.Unlock()
	c, ok := f.credentials.byID[credentialID]
	if !ok {
		t.Fatalf("credential %s not in store", credentialID)
	}
	now := time.Now().UTC()
	c.VerifiedAt = &now
	c.VerificationToken = ""
	c.VerificationSentAt = nil
	f.credentials.byID[credentialID] = c
}

func (f *fixture) storedCredential(t *testing.T, credentialID uuid.UUID) domain.Credential {
	t.Helper()
	f.credentials.mu.Lock()
	defer f.credentials.mu.Unlock()
	c, ok := f.credentials.byID[credentialID]
	if !ok {
		t.Fatalf("credential %s not in store", credentialID)
	}
	return c
}

// lastMail returns the most recently queued mail for the template, or fails.
func (f *fixture) lastMail(t *testing.T, templateKey string) ports.MailMessage {
	t.Helper()
	f.outbox.mu.Lock()
	defer f.outbox.mu.Unlock()
	for i := len(f.outbox.messages) - 1; i >= 0; i-- {
		if f.outbox.messages[i].TemplateKey == templateKey {
			return f.outbox.messages[i]
		}
	}
	t.Fatalf("no %s mail queued", templateKey)
	return ports.MailMessage{}
}

type fakeIdentities struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]domain.Identity
	creds    *fakeCredentials
	sessions *fakeSessions
}

func (f *fakeIdentities) CreateWithCredentialTx(_ context.Context, params ports.RegisterTxParams) (domain.Identity, domain.Credential, error) {
	identity := domain.Identity{
		IdentityID: uuid.New(),
		Status:     domain.IdentityActive,
		Metadata:   params.Metadata,
		CreatedAt:  params.RegisteredAt,
		UpdatedAt:  params.RegisteredAt,
	}

	credParams := params.Credential
	credParams.IdentityID = identity.IdentityID
	f.creds.mu.Lock()
	credential, err := f.creds.addLocked(credParams, params.RegisteredAt)
	f.creds.mu.Unlock()
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}

	f.mu.Lock()
	f.byID[identity.IdentityID] = identity
	f.mu.Unlock()
	return identity, credential, nil
}

func (f *fakeIdentities) GetByID(_ context.Context, identityID uuid.UUID) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.byID[identityID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return identity, nil
}

func (f *fakeIdentities) SetStatus(_ context.Context, identityID uuid.UUID, status domain.IdentityStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.byID[identityID]
	if !ok {
		return domain.ErrNotFound
	}
	identity.Status = status
	identity.UpdatedAt = at
	f.byID[identityID] = identity
	return nil
}

func (f *fakeIdentities) SoftDeleteTx(_ context.Context, identityID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	identity, ok := f.byID[identityID]
	if !ok {
		f.mu.Unlock()
		return domain.ErrNotFound
	}
	deletedAt := at
	identity.Status = domain.IdentityDeleted
	identity.DeletedAt = &deletedAt
	identity.UpdatedAt = at
	f.byID[identityID] = identity
	f.mu.Unlock()

	f.creds.mu.Lock()
	for k, c := range f.creds.byID {
		if c.IdentityID == identityID && c.RevokedAt == nil {
			revokedAt := at
			c.RevokedAt = &revokedAt
			f.creds.byID[k] = c
		}
	}
	f.creds.mu.Unlock()

	f.sessions.mu.Lock()
	for k, s := range f.sessions.byID {
		if s.IdentityID == identityID && s.ExpiresAt.After(at) {
			s.ExpiresAt = at
			f.sessions.byID[k] = s
		}
	}
	f.sessions.mu.Unlock()
	return nil
}

func (f *fakeIdentities) RestoreTx(_ context.Context, identityID uuid.UUID, at time.Time) (domain.Identity, error) {
	f.mu.Lock()
	identity, ok := f.byID[identityID]
	if !ok {
		f.mu.Unlock()
		return domain.Identity{}, domain.ErrNotFound
	}
	if !identity.Deleted() || identity.DeletedAt == nil {
		f.mu.Unlock()
		return domain.Identity{}, fmt.Errorf("%w: identity is not deleted", domain.ErrConflict)
	}
	deletedAt := *identity.DeletedAt
	identity.Status = domain.IdentityActive
	identity.DeletedAt = nil
	identity.UpdatedAt = at
	f.byID[identityID] = identity
	f.mu.Unlock()

	f.creds.mu.Lock()
	for k, c := range f.creds.byID {
		if c.IdentityID != identityID || c.RevokedAt == nil || !c.RevokedAt.Equal(deletedAt) {
			continue
		}
		collision := false
		for _, other := range f.creds.byID {
			if other.CredentialID != c.CredentialID &&
				other.Kind == c.Kind && other.Identifier == c.Identifier && other.RevokedAt == nil {
				collision = true
				break
			}
		}
		if collision {
			continue
		}
		c.RevokedAt = nil
		c.UpdatedAt = at
		f.creds.byID[k] = c
	}
	f.creds.mu.Unlock()
	return identity, nil
}

type fakeCredentials struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Credential
}

// addLocked inserts a credential enforcing active (kind, identifier)
// uniqueness. Caller holds mu.
func (f *fakeCredentials) addLocked(params ports.CreateCredentialParams, at time.Time) (domain.Credential, error) {
	for _, c := range f.byID {
		if c.Kind == params.Kind && c.Identifier == params.Identifier && c.RevokedAt == nil {
			return domain.Credential{}, domain.ErrConflict
		}
	}
	c := domain.Credential{
		CredentialID:       uuid.New(),
		IdentityID:         params.IdentityID,
		Kind:               params.Kind,
		Identifier:         params.Identifier,
		PasswordHash:       params.PasswordHash,
		RecoveryEmail:      params.RecoveryEmail,
		VerifiedAt:         params.VerifiedAt,
		VerificationToken:  params.VerificationToken,
		VerificationSentAt: params.VerificationSentAt,
		Metadata:           params.Metadata,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	f.byID[c.CredentialID] = c
	return c, nil
}

func (f *fakeCredentials) Create(_ context.Context, params ports.CreateCredentialParams) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(params, time.Now().UTC())
}

func (f *fakeCredentials) GetByID(_ context.Context, credentialID uuid.UUID) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCredentials) FindActiveByIdentifier(_ context.Context, kind domain.CredentialKind, identifier string) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byID {
		if c.Kind == kind && c.Identifier == identifier && c.RevokedAt == nil {
			return c, nil
		}
	}
	return domain.Credential{}, domain.ErrNotFound
}

func (f *fakeCredentials) FindActiveForReset(_ context.Context, identifier string) ([]domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Credential
	for _, c := range f.byID {
		if c.RevokedAt != nil {
			continue
		}
		if c.Identifier == identifier || (c.RecoveryEmail != "" && c.RecoveryEmail == identifier) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCredentials) ListByIdentity(_ context.Context, identityID uuid.UUID) ([]domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Credential
	for _, c := range f.byID {
		if c.IdentityID == identityID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeCredentials) UpdatePassword(_ context.Context, credentialID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.ErrNotFound
	}
	c.PasswordHash = passwordHash
	c.UpdatedAt = updatedAt
	f.byID[credentialID] = c
	return nil
}

func (f *fakeCredentials) RecordFailedAttempt(_ context.Context, credentialID uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return false, domain.ErrNotFound
	}
	c.FailedAttempts++
	locked := false
	if threshold > 0 && c.FailedAttempts >= threshold {
		lockedUntil := now.Add(lockFor)
		c.LockedUntil = &lockedUntil
		locked = true
	}
	c.UpdatedAt = now
	f.byID[credentialID] = c
	return locked, nil
}

func (f *fakeCredentials) ResetFailedAttempts(_ context.Context, credentialID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.ErrNotFound
	}
	c.FailedAttempts = 0
	c.LockedUntil = nil
	c.UpdatedAt = at
	f.byID[credentialID] = c
	return nil
}

func (f *fakeCredentials) SetVerificationToken(_ context.Context, credentialID uuid.UUID, token string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.ErrNotFound
	}
	c.VerificationToken = token
	at := sentAt
	c.VerificationSentAt = &at
	c.UpdatedAt = sentAt
	f.byID[credentialID] = c
	return nil
}

func (f *fakeCredentials) ConsumeVerificationToken(_ context.Context, token string, ttl time.Duration, verifiedAt time.Time) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, c := range f.byID {
		if c.VerificationToken != token || c.RevokedAt != nil {
			continue
		}
		if c.VerificationSentAt == nil || c.VerificationSentAt.Add(ttl).Before(verifiedAt) {
			return domain.Credential{}, domain.ErrTokenExpired
		}
		at := verifiedAt
		c.VerifiedAt = &at
		c.VerificationToken = ""
		c.VerificationSentAt = nil
		c.UpdatedAt = verifiedAt
		f.byID[k] = c
		return c, nil
	}
	return domain.Credential{}, domain.ErrNotFound
}

func (f *fakeCredentials) Revoke(_ context.Context, credentialID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.ErrNotFound
	}
	revokedAt := at
	c.RevokedAt = &revokedAt
	c.UpdatedAt = at
	f.byID[credentialID] = c
	return nil
}

func (f *fakeCredentials) Restore(_ context.Context, credentialID uuid.UUID, at time.Time) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[credentialID]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	if c.RevokedAt == nil {
		return domain.Credential{}, fmt.Errorf("%w: credential is not revoked", domain.ErrConflict)
	}
	for _, other := range f.byID {
		if other.CredentialID != credentialID &&
			other.Kind == c.Kind && other.Identifier == c.Identifier && other.RevokedAt == nil {
			return domain.Credential{}, fmt.Errorf("%w: identifier is taken", domain.ErrConflict)
		}
	}
	c.RevokedAt = nil
	c.UpdatedAt = at
	f.byID[credentialID] = c
	return c, nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Session
}

func (f *fakeSessions) CreateWithEviction(_ context.Context, params ports.SessionCreateParams, maxActive int) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maxActive > 0 {
		var active []domain.Session
		for _, s := range f.byID {
			if s.IdentityID == params.IdentityID && s.ExpiresAt.After(params.CreatedAt) {
				active = append(active, s)
			}
		}
		if len(active) >= maxActive {
			sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
			oldest := active[0]
			oldest.ExpiresAt = params.CreatedAt
			f.byID[oldest.SessionID] = oldest
		}
	}
	s := domain.Session{
		SessionID:    uuid.New(),
		IdentityID:   params.IdentityID,
		Token:        params.Token,
		IPAddress:    params.IPAddress,
		UserAgent:    params.UserAgent,
		CreatedAt:    params.CreatedAt,
		LastActiveAt: params.CreatedAt,
		ExpiresAt:    params.ExpiresAt,
	}
	f.byID[s.SessionID] = s
	return s, nil
}

func (f *fakeSessions) GetByToken(_ context.Context, token string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.Token == token {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f *fakeSessions) ListActiveByIdentity(_ context.Context, identityID uuid.UUID, now time.Time) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, s := range f.byID {
		if s.IdentityID == identityID && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSessions) TouchActivity(_ context.Context, sessionID uuid.UUID, touchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.LastActiveAt = touchedAt
	f.byID[sessionID] = s
	return nil
}

func (f *fakeSessions) Expire(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.ExpiresAt.After(at) {
		s.ExpiresAt = at
		f.byID[sessionID] = s
	}
	return nil
}

func (f *fakeSessions) ExpireAllByIdentity(_ context.Context, identityID uuid.UUID, exceptToken string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.byID {
		if s.IdentityID != identityID || !s.ExpiresAt.After(at) {
			continue
		}
		if exceptToken != "" && s.Token == exceptToken {
			continue
		}
		s.ExpiresAt = at
		f.byID[k] = s
	}
	return nil
}

type fakeInvitations struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]domain.Invitation
	identities *fakeIdentities
}

func (f *fakeInvitations) Create(_ context.Context, inv domain.Invitation) (domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[inv.InvitationID] = inv
	return inv, nil
}

func (f *fakeInvitations) GetByToken(_ context.Context, token string) (domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.byID {
		if inv.Token == token {
			return inv, nil
		}
	}
	return domain.Invitation{}, domain.ErrNotFound
}

func (f *fakeInvitations) FindPendingByEmail(_ context.Context, email string, now time.Time) (domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.byID {
		if inv.Email == email && inv.Pending(now) {
			return inv, nil
		}
	}
	return domain.Invitation{}, domain.ErrNotFound
}

func (f *fakeInvitations) AcceptTx(ctx context.Context, invitationID uuid.UUID, params ports.RegisterTxParams, acceptedAt time.Time) (domain.Identity, domain.Credential, error) {
	f.mu.Lock()
	inv, ok := f.byID[invitationID]
	if !ok || !inv.Pending(acceptedAt) {
		f.mu.Unlock()
		return domain.Identity{}, domain.Credential{}, domain.ErrNotFound
	}
	f.mu.Unlock()

	identity, credential, err := f.identities.CreateWithCredentialTx(ctx, params)
	if err != nil {
		return domain.Identity{}, domain.Credential{}, err
	}

	f.mu.Lock()
	at := acceptedAt
	inv.AcceptedAt = &at
	f.byID[invitationID] = inv
	f.mu.Unlock()
	return identity, credential, nil
}

func (f *fakeInvitations) Revoke(_ context.Context, invitationID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[invitationID]
	if !ok || !inv.Pending(at) {
		return domain.ErrNotFound
	}
	revokedAt := at
	inv.RevokedAt = &revokedAt
	f.byID[invitationID] = inv
	return nil
}

type fakeResetTokens struct {
	mu     sync.Mutex
	byHash map[string]domain.PasswordResetToken
}

func (f *fakeResetTokens) Create(_ context.Context, token domain.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[token.TokenHash] = token
	return nil
}

func (f *fakeResetTokens) Consume(_ context.Context, tokenHash string, usedAt time.Time) (domain.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.byHash[tokenHash]
	if !ok || token.UsedAt != nil {
		return domain.PasswordResetToken{}, domain.ErrNotFound
	}
	if !token.ExpiresAt.After(usedAt) {
		return domain.PasswordResetToken{}, domain.ErrTokenExpired
	}
	at := usedAt
	token.UsedAt = &at
	f.byHash[tokenHash] = token
	return token, nil
}

type fakeTwoFactor struct {
	mu          sync.Mutex
	enrollments map[uuid.UUID]domain.TwoFactorEnrollment
	codes       map[uuid.UUID]map[string]bool
}

func (f *fakeTwoFactor) Get(_ context.Context, identityID uuid.UUID) (*domain.TwoFactorEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enrollment, ok := f.enrollments[identityID]
	if !ok {
		return nil, nil
	}
	cp := enrollment
	return &cp, nil
}

func (f *fakeTwoFactor) Enable(_ context.Context, identityID uuid.UUID, secret []byte, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments[identityID] = domain.TwoFactorEnrollment{
		IdentityID:  identityID,
		OTPSecret:   secret,
		OTPRequired: true,
		UpdatedAt:   at,
	}
	return nil
}

func (f *fakeTwoFactor) Disable(_ context.Context, identityID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.enrollments, identityID)
	delete(f.codes, identityID)
	return nil
}

func (f *fakeTwoFactor) ReplaceBackupCodes(_ context.Context, identityID uuid.UUID, codeHashes []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(codeHashes))
	for _, h := range codeHashes {
		set[h] = true
	}
	f.codes[identityID] = set
	return nil
}

func (f *fakeTwoFactor) ConsumeBackupCode(_ context.Context, identityID uuid.UUID, codeHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes[identityID] == nil || !f.codes[identityID][codeHash] {
		return false, nil
	}
	delete(f.codes[identityID], codeHash)
	return true, nil
}

type fakeAttempts struct {
	mu    sync.Mutex
	items []domain.LoginAttempt
}

func (f *fakeAttempts) Insert(_ context.Context, attempt domain.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = int64(len(f.items) + 1)
	f.items = append(f.items, attempt)
	return nil
}

func (f *fakeAttempts) ListByIdentity(_ context.Context, identityID uuid.UUID, limit, offset int) ([]domain.LoginAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.LoginAttempt
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].IdentityID != nil && *f.items[i].IdentityID == identityID {
			matched = append(matched, f.items[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages []ports.MailMessage
	failNext error
}

func (f *fakeOutbox) Enqueue(_ context.Context, msg ports.MailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeOutbox) ClaimUnsent(context.Context, int, string, time.Time) ([]ports.MailRecord, error) {
	return nil, nil
}
func (f *fakeOutbox) MarkSent(context.Context, uuid.UUID, string, time.Time) error { return nil }
func (f *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}
func (f *fakeOutbox) MarkDeadLettered(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

type fakeSettings struct {
	mu        sync.Mutex
	ints      map[string]int
	bools     map[string]bool
	durations map[string]time.Duration
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		ints:      map[string]int{},
		bools:     map[string]bool{},
		durations: map[string]time.Duration{},
	}
}

func (f *fakeSettings) setInt(key string, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ints[key] = value
}

func (f *fakeSettings) setBool(key string, value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bools[key] = value
}

func (f *fakeSettings) Int(key string, def int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.ints[key]; ok {
		return v
	}
	return def
}

func (f *fakeSettings) Bool(key string, def bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.bools[key]; ok {
		return v
	}
	return def
}

func (f *fakeSettings) Duration(key string, def time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.durations[key]; ok {
		return v
	}
	return def
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hash:" + password, nil }

func (fakeHasher) Compare(hash, password string) error {
	if hash != "hash:"+password {
		return errors.New("hash mismatch")
	}
	return nil
}

// fakeTOTP treats "code-"+secret as the one valid code for a secret.
type fakeTOTP struct{}

func (fakeTOTP) ProvisioningURI(secret, account string) string {
	return "otpauth://totp/" + account + "?secret=" + secret
}

func (fakeTOTP) Verify(secret, code string, _ time.Time) bool {
	return code == "code-"+secret
}

type captureLifecycle struct {
	mu           sync.Mutex
	created      []uuid.UUID
	verified     []uuid.UUID
	deleted      []uuid.UUID
	restored     []uuid.UUID
	locked       []uuid.UUID
	revoked      []uuid.UUID
	credRestored []uuid.UUID
	sessions     []uuid.UUID
}

func (c *captureLifecycle) AfterIdentityCreated(_ context.Context, identity domain.Identity, _ domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, identity.IdentityID)
}

func (c *captureLifecycle) AfterIdentityVerified(_ context.Context, credential domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verified = append(c.verified, credential.CredentialID)
}

func (c *captureLifecycle) AfterIdentityDeleted(_ context.Context, identity domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, identity.IdentityID)
}

func (c *captureLifecycle) AfterIdentityRestored(_ context.Context, identity domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored = append(c.restored, identity.IdentityID)
}

func (c *captureLifecycle) AfterCredentialLocked(_ context.Context, credential domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = append(c.locked, credential.CredentialID)
}

func (c *captureLifecycle) AfterCredentialRevoked(_ context.Context, credential domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = append(c.revoked, credential.CredentialID)
}

func (c *captureLifecycle) AfterCredentialRestored(_ context.Context, credential domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credRestored = append(c.credRestored, credential.CredentialID)
}

func (c *captureLifecycle) AfterSessionCreated(_ context.Context, session domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, session.SessionID)
}
