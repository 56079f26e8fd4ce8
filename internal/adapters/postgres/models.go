package postgres

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/castellan/identity-engine/internal/domain"
)

type identityModel struct {
	IdentityID uuid.UUID  `gorm:"column:identity_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Status     string     `gorm:"column:status"`
	Metadata   *string    `gorm:"column:metadata;type:jsonb"`
	DeletedAt  *time.Time `gorm:"column:deleted_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (identityModel) TableName() string { return "identities" }

type credentialModel struct {
	CredentialID       uuid.UUID  `gorm:"column:credential_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID         uuid.UUID  `gorm:"column:identity_id"`
	Kind               string     `gorm:"column:kind"`
	Identifier         string     `gorm:"column:identifier"`
	PasswordHash       string     `gorm:"column:password_hash"`
	RecoveryEmail      *string    `gorm:"column:recovery_email"`
	VerifiedAt         *time.Time `gorm:"column:verified_at"`
	VerificationToken  *string    `gorm:"column:verification_token"`
	VerificationSentAt *time.Time `gorm:"column:verification_sent_at"`
	FailedAttempts     int        `gorm:"column:failed_attempts"`
	LockedUntil        *time.Time `gorm:"column:locked_until"`
	RevokedAt          *time.Time `gorm:"column:revoked_at"`
	Metadata           *string    `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (credentialModel) TableName() string { return "credentials" }

type sessionModel struct {
	SessionID    uuid.UUID `gorm:"column:session_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID   uuid.UUID `gorm:"column:identity_id"`
	Token        string    `gorm:"column:token"`
	IPAddress    *string   `gorm:"column:ip_address"`
	UserAgent    string    `gorm:"column:user_agent"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	LastActiveAt time.Time `gorm:"column:last_active_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
}

func (sessionModel) TableName() string { return "sessions" }

type invitationModel struct {
	InvitationID uuid.UUID  `gorm:"column:invitation_id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string     `gorm:"column:email"`
	Token        string     `gorm:"column:token"`
	InvitedBy    *uuid.UUID `gorm:"column:invited_by"`
	AcceptedAt   *time.Time `gorm:"column:accepted_at"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
	ExpiresAt    time.Time  `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (invitationModel) TableName() string { return "invitations" }

type passwordResetTokenModel struct {
	TokenID      uuid.UUID  `gorm:"column:token_id;type:uuid;default:gen_random_uuid();primaryKey"`
	CredentialID uuid.UUID  `gorm:"column:credential_id"`
	TokenHash    string     `gorm:"column:token_hash"`
	ExpiresAt    time.Time  `gorm:"column:expires_at"`
	UsedAt       *time.Time `gorm:"column:used_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (passwordResetTokenModel) TableName() string { return "password_reset_tokens" }

type twoFactorEnrollmentModel struct {
	IdentityID  uuid.UUID `gorm:"column:identity_id;type:uuid;primaryKey"`
	OTPSecret   []byte    `gorm:"column:otp_secret"`
	OTPRequired bool      `gorm:"column:otp_required"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (twoFactorEnrollmentModel) TableName() string { return "two_factor_enrollments" }

type backupCodeModel struct {
	BackupCodeID uuid.UUID `gorm:"column:backup_code_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID   uuid.UUID `gorm:"column:identity_id"`
	CodeHash     string    `gorm:"column:code_hash"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (backupCodeModel) TableName() string { return "backup_codes" }

type loginAttemptModel struct {
	ID            int64      `gorm:"column:id;primaryKey"`
	CredentialID  *uuid.UUID `gorm:"column:credential_id"`
	IdentityID    *uuid.UUID `gorm:"column:identity_id"`
	AttemptAt     time.Time  `gorm:"column:attempt_at"`
	IPAddress     *string    `gorm:"column:ip_address"`
	UserAgent     string     `gorm:"column:user_agent"`
	Status        string     `gorm:"column:status"`
	FailureReason string     `gorm:"column:failure_reason"`
}

func (loginAttemptModel) TableName() string { return "login_attempts" }

type mailOutboxModel struct {
	MessageID      uuid.UUID  `gorm:"column:message_id;type:uuid;primaryKey"`
	TemplateKey    string     `gorm:"column:template_key"`
	Recipient      string     `gorm:"column:recipient"`
	Context        *string    `gorm:"column:context;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (mailOutboxModel) TableName() string { return "mail_outbox" }

func toDomainIdentity(row identityModel) domain.Identity {
	return domain.Identity{
		IdentityID: row.IdentityID,
		Status:     domain.IdentityStatus(row.Status),
		Metadata:   metadataFromJSON(row.Metadata),
		DeletedAt:  row.DeletedAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func toDomainCredential(row credentialModel) domain.Credential {
	recoveryEmail := ""
	if row.RecoveryEmail != nil {
		recoveryEmail = *row.RecoveryEmail
	}
	verificationToken := ""
	if row.VerificationToken != nil {
		verificationToken = *row.VerificationToken
	}
	return domain.Credential{
		CredentialID:       row.CredentialID,
		IdentityID:         row.IdentityID,
		Kind:               domain.CredentialKind(row.Kind),
		Identifier:         row.Identifier,
		PasswordHash:       row.PasswordHash,
		RecoveryEmail:      recoveryEmail,
		VerifiedAt:         row.VerifiedAt,
		VerificationToken:  verificationToken,
		VerificationSentAt: row.VerificationSentAt,
		FailedAttempts:     row.FailedAttempts,
		LockedUntil:        row.LockedUntil,
		RevokedAt:          row.RevokedAt,
		Metadata:           metadataFromJSON(row.Metadata),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toDomainSession(row sessionModel) domain.Session {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	return domain.Session{
		SessionID:    row.SessionID,
		IdentityID:   row.IdentityID,
		Token:        row.Token,
		IPAddress:    ip,
		UserAgent:    row.UserAgent,
		CreatedAt:    row.CreatedAt,
		LastActiveAt: row.LastActiveAt,
		ExpiresAt:    row.ExpiresAt,
	}
}

func toDomainInvitation(row invitationModel) domain.Invitation {
	return domain.Invitation{
		InvitationID: row.InvitationID,
		Email:        row.Email,
		Token:        row.Token,
		InvitedBy:    row.InvitedBy,
		AcceptedAt:   row.AcceptedAt,
		RevokedAt:    row.RevokedAt,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
	}
}

func toDomainResetToken(row passwordResetTokenModel) domain.PasswordResetToken {
	return domain.PasswordResetToken{
		TokenID:      row.TokenID,
		CredentialID: row.CredentialID,
		TokenHash:    row.TokenHash,
		ExpiresAt:    row.ExpiresAt,
		UsedAt:       row.UsedAt,
		CreatedAt:    row.CreatedAt,
	}
}

func toDomainLoginAttempt(row loginAttemptModel) domain.LoginAttempt {
	ip := ""
	if row.IPAddress != nil {
		ip = *row.IPAddress
	}
	return domain.LoginAttempt{
		ID:            row.ID,
		CredentialID:  row.CredentialID,
		IdentityID:    row.IdentityID,
		AttemptAt:     row.AttemptAt,
		IPAddress:     ip,
		UserAgent:     row.UserAgent,
		Status:        row.Status,
		FailureReason: row.FailureReason,
	}
}

func metadataToJSON(metadata map[string]string) *string {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func metadataFromJSON(raw *string) map[string]string {
	if raw == nil || *raw == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	return out
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
