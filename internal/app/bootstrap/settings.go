package bootstrap

import "time"

// StaticSettings is a SettingsProvider built once from Config. Hosts that
// embed the engine can wire their own dynamic provider; this one covers the
// standalone deployment.
type StaticSettings struct {
	ints      map[string]int
	bools     map[string]bool
	durations map[string]time.Duration
}

// NewSettings flattens the resolved Config into the key space the services
// consult.
func NewSettings(cfg Config) *StaticSettings {
	s := &StaticSettings{
		ints: map[string]int{
			"auth.lockout_threshold":          cfg.LockoutThreshold,
			"auth.max_sessions":               cfg.MaxSessions,
			"auth.password_min_length":        cfg.PasswordMinLength,
			"ratelimit.login.limit":           cfg.LoginRateLimit,
			"ratelimit.register.limit":        cfg.RegisterRateLimit,
			"ratelimit.password_change.limit": cfg.PasswordRateLimit,
			"ratelimit.password_reset.limit":  cfg.PasswordRateLimit,
		},
		bools: map[string]bool{},
		durations: map[string]time.Duration{
			"auth.lockout_duration":            cfg.LockoutDuration,
			"auth.session_duration":            cfg.SessionDuration,
			"auth.verification_ttl":            cfg.VerificationTTL,
			"auth.reset_token_ttl":             cfg.ResetTokenTTL,
			"auth.invitation_ttl":              cfg.InvitationTTL,
			"ratelimit.login.period":           cfg.RateLimitWindow,
			"ratelimit.register.period":        cfg.RateLimitWindow,
			"ratelimit.password_change.period": cfg.RateLimitWindow,
			"ratelimit.password_reset.period":  cfg.RateLimitWindow,
		},
	}
	for kind, policy := range cfg.CredentialKindPolicies {
		prefix := "credential." + kind + "."
		s.bools[prefix+"enabled"] = policy.Enabled
		s.bools[prefix+"registerable"] = policy.Registerable
		s.bools[prefix+"authenticatable"] = policy.Authenticatable
		s.bools[prefix+"verification_required"] = policy.VerificationRequired
		s.bools[prefix+"allow_login_unverified"] = policy.AllowLoginUnverified
	}
	return s
}

func (s *StaticSettings) Int(key string, def int) int {
	if v, ok := s.ints[key]; ok {
		return v
	}
	return def
}

func (s *StaticSettings) Bool(key string, def bool) bool {
	if v, ok := s.bools[key]; ok {
		return v
	}
	return def
}

func (s *StaticSettings) Duration(key string, def time.Duration) time.Duration {
	if v, ok := s.durations[key]; ok {
		return v
	}
	return def
}
