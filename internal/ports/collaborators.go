package ports

import (
	"context"
	"time"

	"github.com/castellan/identity-engine/internal/domain"
)

// PasswordHasher abstracts the password hashing scheme so application code
// never touches hash internals.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns nil on match and an opaque error otherwise.
	Compare(hash, password string) error
}

// TOTPProvider generates and checks time-based one-time codes. Verify must
// accept codes from adjacent time steps to absorb clock drift.
type TOTPProvider interface {
	ProvisioningURI(secret, account string) string
	Verify(secret, code string, at time.Time) bool
}

// Mailer delivers a templated mail. Implementations resolve templateKey to a
// subject/body pair and interpolate mailContext into it.
type Mailer interface {
	Send(ctx context.Context, templateKey, recipient string, mailContext map[string]string) error
}

// SettingsProvider exposes host-controlled tunables. Lookups fall back to the
// given default when the key is unset, so policy keys can be added without
// breaking existing hosts.
type SettingsProvider interface {
	Int(key string, def int) int
	Bool(key string, def bool) bool
	Duration(key string, def time.Duration) time.Duration
}

// LifecycleHandler receives post-commit notifications about account events.
// Calls are notification-only: returning from a handler never affects the
// triggering operation, and handlers must not call back into the services.
type LifecycleHandler interface {
	AfterIdentityCreated(ctx context.Context, identity domain.Identity, credential domain.Credential)
	AfterIdentityVerified(ctx context.Context, credential domain.Credential)
	AfterIdentityDeleted(ctx context.Context, identity domain.Identity)
	AfterIdentityRestored(ctx context.Context, identity domain.Identity)
	AfterCredentialLocked(ctx context.Context, credential domain.Credential)
	AfterCredentialRevoked(ctx context.Context, credential domain.Credential)
	AfterCredentialRestored(ctx context.Context, credential domain.Credential)
	AfterSessionCreated(ctx context.Context, session domain.Session)
}

// NoopLifecycleHandler satisfies LifecycleHandler with empty methods. It is
// the default when the host wires no handler.
type NoopLifecycleHandler struct{}

func (NoopLifecycleHandler) AfterIdentityCreated(context.Context, domain.Identity, domain.Credential) {
}
func (NoopLifecycleHandler) AfterIdentityVerified(context.Context, domain.Credential)  {}
func (NoopLifecycleHandler) AfterIdentityDeleted(context.Context, domain.Identity)     {}
func (NoopLifecycleHandler) AfterIdentityRestored(context.Context, domain.Identity)    {}
func (NoopLifecycleHandler) AfterCredentialLocked(context.Context, domain.Credential)  {}
func (NoopLifecycleHandler) AfterCredentialRevoked(context.Context, domain.Credential) {}
func (NoopLifecycleHandler) AfterCredentialRestored(context.Context, domain.Credential) {
}
func (NoopLifecycleHandler) AfterSessionCreated(context.Context, domain.Session) {}
