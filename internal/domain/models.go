package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdentityStatus is the lifecycle state of an Identity. Transitions are
// service-owned; the aggregate only records the current state.
type IdentityStatus string

const (
	IdentityActive      IdentityStatus = "active"
	IdentitySuspended   IdentityStatus = "suspended"
	IdentityDeactivated IdentityStatus = "deactivated"
	IdentityDeleted     IdentityStatus = "deleted"
)

// Identity is the canonical account aggregate. It carries no sign-in material
// itself; credentials are separate rows so one identity can authenticate
// through several methods.
type Identity struct {
	IdentityID uuid.UUID
	Status     IdentityStatus
	Metadata   map[string]string
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Deleted reports whether the identity has been soft-deleted.
func (i Identity) Deleted() bool {
	return i.Status == IdentityDeleted || i.DeletedAt != nil
}

// Credential is one sign-in method bound to an identity. Kind selects the
// registry entry governing identifier format and per-type policy. Revocation
// is soft: a revoked credential stays on record but no longer participates in
// lookups or the (kind, identifier) uniqueness rule.
type Credential struct {
	CredentialID       uuid.UUID
	IdentityID         uuid.UUID
	Kind               CredentialKind
	Identifier         string
	PasswordHash       string
	RecoveryEmail      string
	VerifiedAt         *time.Time
	VerificationToken  string
	VerificationSentAt *time.Time
	FailedAttempts     int
	LockedUntil        *time.Time
	RevokedAt          *time.Time
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Active reports whether the credential is usable at all (not revoked).
func (c Credential) Active() bool {
	return c.RevokedAt == nil
}

// Verified reports whether the credential's identifier has been confirmed.
func (c Credential) Verified() bool {
	return c.VerifiedAt != nil
}

// Locked reports whether the credential is under temporary lockout at the
// given instant.
func (c Credential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}

// Session is a server-side login session. The token is an opaque random
// string with no derivable relationship to the identity. Sessions are never
// deleted; revocation sets ExpiresAt to the revocation instant so history
// survives for audit.
type Session struct {
	SessionID    uuid.UUID
	IdentityID   uuid.UUID
	Token        string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Active reports whether the session is live at the given instant.
func (s Session) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Invitation is a single-use, expiring offer to create an account at a known
// email address. Acceptance, revocation, and expiry are mutually exclusive
// terminal states.
type Invitation struct {
	InvitationID uuid.UUID
	Email        string
	Token        string
	InvitedBy    *uuid.UUID
	AcceptedAt   *time.Time
	RevokedAt    *time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Pending reports whether the invitation can still be accepted.
func (i Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && i.RevokedAt == nil && i.ExpiresAt.After(now)
}

// PasswordResetToken is a single-use recovery token. Only the sha256 of the
// raw token is stored; the raw value exists solely in the reset mail.
type PasswordResetToken struct {
	TokenID      uuid.UUID
	CredentialID uuid.UUID
	TokenHash    string
	ExpiresAt    time.Time
	UsedAt       *time.Time
	CreatedAt    time.Time
}

// Valid reports whether the token can still be redeemed.
func (t PasswordResetToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// TwoFactorEnrollment holds an identity's confirmed TOTP state. The secret is
// opaque bytes to everything outside the security adapter.
type TwoFactorEnrollment struct {
	IdentityID  uuid.UUID
	OTPSecret   []byte
	OTPRequired bool
	UpdatedAt   time.Time
}

// LoginAttempt records authentication outcomes for audit and lockout review.
// Persistence is best-effort; an attempt write failure never blocks login.
type LoginAttempt struct {
	ID            int64
	CredentialID  *uuid.UUID
	IdentityID    *uuid.UUID
	AttemptAt     time.Time
	IPAddress     string
	UserAgent     string
	Status        string
	FailureReason string
}

// Login attempt statuses.
const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)
