package application

import (
	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
)

// LoginRequest carries one authentication attempt. Kind is an optional hint
// selecting the credential namespace; when empty, the kind is resolved from
// the identifier's format.
type LoginRequest struct {
	Kind       domain.CredentialKind
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// LoginOutcome is a successful authentication. No session is created here;
// the caller decides whether this login becomes a session. Unverified is
// informational: the credential authenticated but its identifier is not yet
// confirmed.
type LoginOutcome struct {
	Identity   domain.Identity
	Credential domain.Credential
	Unverified bool
}

// RegisterRequest carries self-service account creation inputs.
type RegisterRequest struct {
	Kind          domain.CredentialKind
	Identifier    string
	Password      string
	RecoveryEmail string
	IPAddress     string
	Metadata      map[string]string
}

// ResetPasswordRequest redeems a reset token. ExceptSessionToken, when set,
// names the one session that survives the post-reset revocation sweep.
type ResetPasswordRequest struct {
	Token              string
	NewPassword        string
	Confirmation       string
	ExceptSessionToken string
}

// AcceptInvitationRequest redeems an invitation token and creates the account.
type AcceptInvitationRequest struct {
	Token        string
	Password     string
	Confirmation string
	Metadata     map[string]string
}

// TOTPEnrollment is the not-yet-persisted output of EnrollTOTP. The caller
// must echo the secret back through ConfirmTOTP with a valid code before
// anything is stored.
type TOTPEnrollment struct {
	IdentityID      uuid.UUID
	Secret          string
	ProvisioningURI string
}
