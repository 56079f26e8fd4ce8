package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// KindPolicy is the host-tunable policy for one credential kind.
type KindPolicy struct {
	Enabled              bool `yaml:"enabled"`
	Registerable         bool `yaml:"registerable"`
	Authenticatable      bool `yaml:"authenticatable"`
	VerificationRequired bool `yaml:"verification_required"`
	AllowLoginUnverified bool `yaml:"allow_login_unverified"`
}

// Config is the resolved runtime configuration.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	BcryptCost int
	TOTPIssuer string
	TOTPSkew   int

	LockoutThreshold  int
	LockoutDuration   time.Duration
	MaxSessions       int
	SessionDuration   time.Duration
	PasswordMinLength int
	VerificationTTL   time.Duration
	ResetTokenTTL     time.Duration
	InvitationTTL     time.Duration

	LoginRateLimit         int
	RegisterRateLimit      int
	PasswordRateLimit      int
	RateLimitWindow        time.Duration
	CredentialKindPolicies map[string]KindPolicy

	MailPollInterval time.Duration
	MailBatchSize    int
	MailClaimTTL     time.Duration
	MailMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
	Auth struct {
		LockoutThreshold  int `yaml:"lockout_threshold"`
		LockoutMinutes    int `yaml:"lockout_minutes"`
		MaxSessions       int `yaml:"max_sessions"`
		SessionDays       int `yaml:"session_days"`
		PasswordMinLength int `yaml:"password_min_length"`
		VerificationHours int `yaml:"verification_hours"`
		ResetTokenHours   int `yaml:"reset_token_hours"`
		InvitationDays    int `yaml:"invitation_days"`
	} `yaml:"auth"`
	RateLimit struct {
		Login         int `yaml:"login"`
		Register      int `yaml:"register"`
		Password      int `yaml:"password"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"ratelimit"`
	CredentialKinds map[string]KindPolicy `yaml:"credential_kinds"`
	TOTP            struct {
		Issuer string `yaml:"issuer"`
		Skew   int    `yaml:"skew"`
	} `yaml:"totp"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:         "identity-engine",
		MaxDBConns:        20,
		SMTPPort:          587,
		MailFrom:          "no-reply@localhost",
		BcryptCost:        12,
		TOTPIssuer:        "identity-engine",
		TOTPSkew:          1,
		LockoutThreshold:  10,
		LockoutDuration:   15 * time.Minute,
		MaxSessions:       5,
		SessionDuration:   30 * 24 * time.Hour,
		PasswordMinLength: 8,
		VerificationTTL:   24 * time.Hour,
		ResetTokenTTL:     2 * time.Hour,
		InvitationTTL:     7 * 24 * time.Hour,
		LoginRateLimit:    10,
		RegisterRateLimit: 5,
		PasswordRateLimit: 10,
		RateLimitWindow:   time.Minute,
		MailPollInterval:  2 * time.Second,
		MailBatchSize:     100,
		MailClaimTTL:      30 * time.Second,
		MailMaxRetries:    5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.SMTP.Host != "" {
			cfg.SMTPHost = f.SMTP.Host
		}
		if f.SMTP.Port > 0 {
			cfg.SMTPPort = f.SMTP.Port
		}
		if f.SMTP.Username != "" {
			cfg.SMTPUsername = f.SMTP.Username
		}
		if f.SMTP.Password != "" {
			cfg.SMTPPassword = f.SMTP.Password
		}
		if f.SMTP.From != "" {
			cfg.MailFrom = f.SMTP.From
		}
		if f.Auth.LockoutThreshold > 0 {
			cfg.LockoutThreshold = f.Auth.LockoutThreshold
		}
		if f.Auth.LockoutMinutes > 0 {
			cfg.LockoutDuration = time.Duration(f.Auth.LockoutMinutes) * time.Minute
		}
		if f.Auth.MaxSessions > 0 {
			cfg.MaxSessions = f.Auth.MaxSessions
		}
		if f.Auth.SessionDays > 0 {
			cfg.SessionDuration = time.Duration(f.Auth.SessionDays) * 24 * time.Hour
		}
		if f.Auth.PasswordMinLength > 0 {
			cfg.PasswordMinLength = f.Auth.PasswordMinLength
		}
		if f.Auth.VerificationHours > 0 {
			cfg.VerificationTTL = time.Duration(f.Auth.VerificationHours) * time.Hour
		}
		if f.Auth.ResetTokenHours > 0 {
			cfg.ResetTokenTTL = time.Duration(f.Auth.ResetTokenHours) * time.Hour
		}
		if f.Auth.InvitationDays > 0 {
			cfg.InvitationTTL = time.Duration(f.Auth.InvitationDays) * 24 * time.Hour
		}
		if f.RateLimit.Login > 0 {
			cfg.LoginRateLimit = f.RateLimit.Login
		}
		if f.RateLimit.Register > 0 {
			cfg.RegisterRateLimit = f.RateLimit.Register
		}
		if f.RateLimit.Password > 0 {
			cfg.PasswordRateLimit = f.RateLimit.Password
		}
		if f.RateLimit.WindowSeconds > 0 {
			cfg.RateLimitWindow = time.Duration(f.RateLimit.WindowSeconds) * time.Second
		}
		if len(f.CredentialKinds) > 0 {
			cfg.CredentialKindPolicies = f.CredentialKinds
		}
		if f.TOTP.Issuer != "" {
			cfg.TOTPIssuer = f.TOTP.Issuer
		}
		if f.TOTP.Skew > 0 {
			cfg.TOTPSkew = f.TOTP.Skew
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.SMTPHost = envOrDefault("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = envInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = envOrDefault("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = envOrDefault("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.MailFrom = envOrDefault("MAIL_FROM", cfg.MailFrom)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.TOTPIssuer = envOrDefault("TOTP_ISSUER", cfg.TOTPIssuer)
	cfg.LockoutThreshold = envInt("LOCKOUT_THRESHOLD", cfg.LockoutThreshold)
	cfg.LockoutDuration = time.Duration(envInt("LOCKOUT_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute
	cfg.MaxSessions = envInt("MAX_SESSIONS", cfg.MaxSessions)
	cfg.SessionDuration = time.Duration(envInt("SESSION_DAYS", int(cfg.SessionDuration.Hours()/24))) * 24 * time.Hour
	cfg.PasswordMinLength = envInt("PASSWORD_MIN_LENGTH", cfg.PasswordMinLength)
	cfg.MailPollInterval = time.Duration(envInt("MAIL_POLL_SECONDS", int(cfg.MailPollInterval.Seconds()))) * time.Second
	cfg.MailBatchSize = envInt("MAIL_BATCH_SIZE", cfg.MailBatchSize)
	cfg.MailClaimTTL = time.Duration(envInt("MAIL_CLAIM_TTL_SECONDS", int(cfg.MailClaimTTL.Seconds()))) * time.Second
	cfg.MailMaxRetries = envInt("MAIL_MAX_RETRIES", cfg.MailMaxRetries)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
