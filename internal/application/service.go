package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/identity-engine/internal/domain"
	"github.com/castellan/identity-engine/internal/ports"
)

// Settings keys consulted at call time so hosts can retune without rewiring.
const (
	settingLockoutThreshold  = "auth.lockout_threshold"
	settingLockoutDuration   = "auth.lockout_duration"
	settingMaxSessions       = "auth.max_sessions"
	settingSessionDuration   = "auth.session_duration"
	settingPasswordMinLength = "auth.password_min_length"
	settingVerificationTTL   = "auth.verification_ttl"
	settingResetTokenTTL     = "auth.reset_token_ttl"
	settingInvitationTTL     = "auth.invitation_ttl"
)

// Default policy values used when the settings provider has no override.
const (
	defaultLockoutThreshold  = 10
	defaultLockoutDuration   = 15 * time.Minute
	defaultMaxSessions       = 5
	defaultSessionDuration   = 30 * 24 * time.Hour
	defaultPasswordMinLength = 8
	defaultVerificationTTL   = 24 * time.Hour
	defaultResetTokenTTL     = 2 * time.Hour
	defaultInvitationTTL     = 7 * 24 * time.Hour
)

// Mail template keys resolved by the mailer.
const (
	mailVerification  = "verification"
	mailPasswordReset = "password_reset"
	mailInvitation    = "invitation"
)

type Service struct {
	registry    *domain.Registry
	identities  ports.IdentityRepository
	credentials ports.CredentialRepository
	sessions    ports.SessionRepository
	invitations ports.InvitationRepository
	resetTokens ports.ResetTokenRepository
	twoFactor   ports.TwoFactorRepository
	attempts    ports.LoginAttemptRepository
	mailOutbox  ports.MailOutboxRepository
	limiter     ports.RateLimiter
	hasher      ports.PasswordHasher
	totp        ports.TOTPProvider
	settings    ports.SettingsProvider
	lifecycle   ports.LifecycleHandler
	logger      *slog.Logger
	nowFn       func() time.Time
}

type Dependencies struct {
	Registry    *domain.Registry
	Identities  ports.IdentityRepository
	Credentials ports.CredentialRepository
	Sessions    ports.SessionRepository
	Invitations ports.InvitationRepository
	ResetTokens ports.ResetTokenRepository
	TwoFactor   ports.TwoFactorRepository
	Attempts    ports.LoginAttemptRepository
	MailOutbox  ports.MailOutboxRepository
	Limiter     ports.RateLimiter
	Hasher      ports.PasswordHasher
	TOTP        ports.TOTPProvider
	Settings    ports.SettingsProvider
	Lifecycle   ports.LifecycleHandler
	Logger      *slog.Logger
	// Now overrides the service clock. Nil means the wall clock in UTC.
	Now func() time.Time
}

func NewService(deps Dependencies) *Service {
	registry := deps.Registry
	if registry == nil {
		registry = domain.DefaultRegistry()
	}
	lifecycle := deps.Lifecycle
	if lifecycle == nil {
		lifecycle = ports.NoopLifecycleHandler{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		registry:    registry,
		identities:  deps.Identities,
		credentials: deps.Credentials,
		sessions:    deps.Sessions,
		invitations: deps.Invitations,
		resetTokens: deps.ResetTokens,
		twoFactor:   deps.TwoFactor,
		attempts:    deps.Attempts,
		mailOutbox:  deps.MailOutbox,
		limiter:     deps.Limiter,
		hasher:      deps.Hasher,
		totp:        deps.TOTP,
		settings:    deps.Settings,
		lifecycle:   lifecycle,
		logger:      logger.With("module", "identity-engine", "layer", "application"),
		nowFn:       nowFn,
	}
}

// kindSetting builds the per-kind settings key, e.g.
// credential.email_password.enabled.
func kindSetting(kind domain.CredentialKind, name string) string {
	return "credential." + string(kind) + "." + name
}

// checkRate applies the fixed-window limit for an action keyed by caller
// address. The limiter backend being down fails open: availability of login
// outranks the throttle.
func (s *Service) checkRate(ctx context.Context, action, ip string, defaultLimit int) error {
	if ip == "" {
		return nil
	}
	limit := s.settings.Int("ratelimit."+action+".limit", defaultLimit)
	period := s.settings.Duration("ratelimit."+action+".period", time.Minute)
	ok, err := s.limiter.Allow(ctx, action+":"+ip, limit, period)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable", "operation", action, "error", err)
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// enqueueMail queues a templated mail for the outbox worker. Delivery is
// fire-and-forget: a queue failure is logged and never fails the caller.
func (s *Service) enqueueMail(ctx context.Context, templateKey, recipient string, mailContext map[string]string) {
	if recipient == "" {
		s.logger.WarnContext(ctx, "mail skipped, no deliverable address", "template", templateKey)
		return
	}
	err := s.mailOutbox.Enqueue(ctx, ports.MailMessage{
		MessageID:   uuid.New(),
		TemplateKey: templateKey,
		Recipient:   recipient,
		Context:     mailContext,
		CreatedAt:   s.nowFn(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "mail enqueue failed", "template", templateKey, "error", err)
	}
}

// deliverableAddress picks the mail address for a credential: the identifier
// itself for mailable kinds, otherwise the recovery email.
func (s *Service) deliverableAddress(cred domain.Credential) string {
	if def, err := s.registry.Lookup(cred.Kind); err == nil && def.DeliverableIdentifier {
		return cred.Identifier
	}
	return cred.RecoveryEmail
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// randomToken returns a URL-safe opaque token with bytesLen bytes of entropy.
func randomToken(bytesLen int) string {
	raw := make([]byte, bytesLen)
	_, _ = rand.Read(raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func randomBase32(bytesLen int) string {
	raw := make([]byte, bytesLen)
	_, _ = rand.Read(raw)
	return strings.TrimRight(base32.StdEncoding.EncodeToString(raw), "=")
}
