package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// CreateCredentialParams captures the inputs for a new credential row.
// Verification fields are set together or not at all; the repository does not
// interpret them.
type CreateCredentialParams struct {
	IdentityID         uuid.UUID
	Kind               domain.CredentialKind
	Identifier         string
	PasswordHash       string
	RecoveryEmail      string
	VerifiedAt         *time.Time
	VerificationToken  string
	VerificationSentAt *time.Time
	Metadata           map[string]string
}

// RegisterTxParams captures atomic identity+credential creation inputs.
type RegisterTxParams struct {
	Credential   CreateCredentialParams
	Metadata     map[string]string
	RegisteredAt time.Time
}

// IdentityRepository defines persistence operations for identities.
// The transactional methods exist because deletion and registration must
// mutate identity and credential state as one unit.
type IdentityRepository interface {
	CreateWithCredentialTx(ctx context.Context, params RegisterTxParams) (domain.Identity, domain.Credential, error)
	GetByID(ctx context.Context, identityID uuid.UUID) (domain.Identity, error)
	SetStatus(ctx context.Context, identityID uuid.UUID, status domain.IdentityStatus, at time.Time) error
	// SoftDeleteTx expires every active session, revokes every active
	// credential, and marks the identity deleted in one transaction.
	SoftDeleteTx(ctx context.Context, identityID uuid.UUID, at time.Time) error
	// RestoreTx reactivates the identity and restores its revoked credentials
	// where no other active credential holds the same (kind, identifier).
	// Colliding credentials stay revoked; the identity itself still restores.
	RestoreTx(ctx context.Context, identityID uuid.UUID, at time.Time) (domain.Identity, error)
}

// CredentialRepository manages credential rows and their mutable sign-in state.
// Active-uniqueness of (kind, identifier) over unrevoked rows is enforced
// here, inside the storage transaction, so concurrent creates cannot race
// past a service-level check.
type CredentialRepository interface {
	Create(ctx context.Context, params CreateCredentialParams) (domain.Credential, error)
	GetByID(ctx context.Context, credentialID uuid.UUID) (domain.Credential, error)
	FindActiveByIdentifier(ctx context.Context, kind domain.CredentialKind, identifier string) (domain.Credential, error)
	// FindActiveForReset matches the identifier against both the credential
	// identifier and the recovery email, across all kinds.
	FindActiveForReset(ctx context.Context, identifier string) ([]domain.Credential, error)
	ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]domain.Credential, error)
	UpdatePassword(ctx context.Context, credentialID uuid.UUID, passwordHash string, updatedAt time.Time) error
	// RecordFailedAttempt atomically increments failed_attempts under a row
	// lock and sets locked_until when the count reaches threshold. Returns
	// true when this call locked the credential.
	RecordFailedAttempt(ctx context.Context, credentialID uuid.UUID, threshold int, lockFor time.Duration, now time.Time) (bool, error)
	ResetFailedAttempts(ctx context.Context, credentialID uuid.UUID, at time.Time) error
	// SetVerificationToken replaces the live token pair; at most one token is
	// outstanding per credential.
	SetVerificationToken(ctx context.Context, credentialID uuid.UUID, token string, sentAt time.Time) error
	// ConsumeVerificationToken marks the credential verified and clears the
	// token pair in one conditional update. domain.ErrNotFound when no
	// credential carries the token; domain.ErrTokenExpired when sent_at is
	// older than the ttl.
	ConsumeVerificationToken(ctx context.Context, token string, ttl time.Duration, verifiedAt time.Time) (domain.Credential, error)
	Revoke(ctx context.Context, credentialID uuid.UUID, at time.Time) error
	// Restore clears revoked_at; domain.ErrConflict when another active
	// credential now holds the same (kind, identifier).
	Restore(ctx context.Context, credentialID uuid.UUID, at time.Time) (domain.Credential, error)
}

// SessionCreateParams captures metadata stored on a new session record.
type SessionCreateParams struct {
	IdentityID uuid.UUID
	Token      string
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// SessionRepository manages persistent session lifecycle. Sessions are never
// deleted; all revocation paths set expires_at.
type SessionRepository interface {
	// CreateWithEviction inserts the session and, when the identity already
	// holds maxActive live sessions, expires the single oldest one, all in
	// one transaction.
	CreateWithEviction(ctx context.Context, params SessionCreateParams, maxActive int) (domain.Session, error)
	GetByToken(ctx context.Context, token string) (domain.Session, error)
	ListActiveByIdentity(ctx context.Context, identityID uuid.UUID, now time.Time) ([]domain.Session, error)
	TouchActivity(ctx context.Context, sessionID uuid.UUID, touchedAt time.Time) error
	Expire(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	// ExpireAllByIdentity expires every active session for the identity,
	// skipping exceptToken when non-empty.
	ExpireAllByIdentity(ctx context.Context, identityID uuid.UUID, exceptToken string, at time.Time) error
}

// InvitationRepository owns invitation lifecycle including the transactional
// acceptance that creates the invited account.
type InvitationRepository interface {
	Create(ctx context.Context, inv domain.Invitation) (domain.Invitation, error)
	GetByToken(ctx context.Context, token string) (domain.Invitation, error)
	FindPendingByEmail(ctx context.Context, email string, now time.Time) (domain.Invitation, error)
	// AcceptTx creates the identity and its pre-verified credential and marks
	// the invitation accepted in one transaction; any failure rolls back the
	// whole unit and the invitation stays pending.
	AcceptTx(ctx context.Context, invitationID uuid.UUID, params RegisterTxParams, acceptedAt time.Time) (domain.Identity, domain.Credential, error)
	Revoke(ctx context.Context, invitationID uuid.UUID, at time.Time) error
}

// ResetTokenRepository owns password-reset token lifecycle. Separate
// create/consume methods keep the one-time invariant explicit.
type ResetTokenRepository interface {
	Create(ctx context.Context, token domain.PasswordResetToken) error
	// Consume marks the token used under a row lock. domain.ErrNotFound for
	// unknown or already-used hashes, domain.ErrTokenExpired past expiry.
	Consume(ctx context.Context, tokenHash string, usedAt time.Time) (domain.PasswordResetToken, error)
}

// TwoFactorRepository controls TOTP enrollment state and backup codes.
type TwoFactorRepository interface {
	Get(ctx context.Context, identityID uuid.UUID) (*domain.TwoFactorEnrollment, error)
	// Enable persists the confirmed secret and sets otp_required.
	Enable(ctx context.Context, identityID uuid.UUID, secret []byte, at time.Time) error
	// Disable clears the secret, the flag, and every backup code in one
	// transaction.
	Disable(ctx context.Context, identityID uuid.UUID, at time.Time) error
	// ReplaceBackupCodes swaps the stored hash set for the new one atomically.
	ReplaceBackupCodes(ctx context.Context, identityID uuid.UUID, codeHashes []string, createdAt time.Time) error
	// ConsumeBackupCode deletes the matching hash row; false when no row
	// matched. The delete is the atomicity point, a code can be spent once.
	ConsumeBackupCode(ctx context.Context, identityID uuid.UUID, codeHash string) (bool, error)
}

// LoginAttemptRepository stores login outcomes for audit.
type LoginAttemptRepository interface {
	Insert(ctx context.Context, attempt domain.LoginAttempt) error
	ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int) ([]domain.LoginAttempt, error)
}

// MailMessage is a queued mail prior to storage. TemplateKey selects the
// subject/body pair in the mailer; Context fills its placeholders.
type MailMessage struct {
	MessageID   uuid.UUID
	TemplateKey string
	Recipient   string
	Context     map[string]string
	CreatedAt   time.Time
}

// MailRecord is durable outbox state including retry/error metadata.
type MailRecord struct {
	MailMessage
	RetryCount     int
	LastError      *string
	SentAt         *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// MailOutboxRepository controls the send-retry workflow for queued mail.
// Enqueue participates in the caller's flow; delivery happens in the worker,
// so no user-facing operation ever blocks on SMTP.
type MailOutboxRepository interface {
	Enqueue(ctx context.Context, msg MailMessage) error
	ClaimUnsent(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]MailRecord, error)
	MarkSent(ctx context.Context, messageID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, messageID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, messageID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
