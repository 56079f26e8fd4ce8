package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CredentialKind tags a credential with the sign-in method it represents.
// New methods are added by registering a KindDefinition, not by new types.
type CredentialKind string

const (
	KindEmailPassword    CredentialKind = "email_password"
	KindUsernamePassword CredentialKind = "username_password"
	KindPhonePassword    CredentialKind = "phone_password"
)

// KindDefinition is the data-driven description of a credential kind.
// IdentifierRule is a validator tag expression applied to the normalized
// identifier. DeliverableIdentifier marks kinds whose identifier doubles as a
// mail address for verification and recovery delivery.
type KindDefinition struct {
	Kind                  CredentialKind
	IdentifierRule        string
	DeliverableIdentifier bool
}

// Registry resolves credential kinds to their definitions. It is immutable
// after construction and safe for concurrent reads.
type Registry struct {
	kinds    map[CredentialKind]KindDefinition
	validate *validator.Validate
}

// NewRegistry builds a registry from the given definitions. Duplicate kinds
// are rejected so a misconfigured caller fails at wiring time, not at login.
func NewRegistry(defs ...KindDefinition) (*Registry, error) {
	r := &Registry{
		kinds:    make(map[CredentialKind]KindDefinition, len(defs)),
		validate: validator.New(),
	}
	for _, def := range defs {
		if def.Kind == "" {
			return nil, fmt.Errorf("%w: credential kind must not be empty", ErrInvalidInput)
		}
		if _, exists := r.kinds[def.Kind]; exists {
			return nil, fmt.Errorf("%w: duplicate credential kind %q", ErrConflict, def.Kind)
		}
		r.kinds[def.Kind] = def
	}
	return r, nil
}

// DefaultRegistry returns the built-in kinds: email, username, and phone,
// each paired with a password.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		KindDefinition{Kind: KindEmailPassword, IdentifierRule: "required,email", DeliverableIdentifier: true},
		KindDefinition{Kind: KindUsernamePassword, IdentifierRule: "required,min=3,max=64,alphanum"},
		KindDefinition{Kind: KindPhonePassword, IdentifierRule: "required,e164"},
	)
	if err != nil {
		panic(err) // built-in definitions are static
	}
	return r
}

// Lookup returns the definition for kind, or ErrNotFound for unregistered kinds.
func (r *Registry) Lookup(kind CredentialKind) (KindDefinition, error) {
	def, ok := r.kinds[kind]
	if !ok {
		return KindDefinition{}, fmt.Errorf("%w: credential kind %q not registered", ErrNotFound, kind)
	}
	return def, nil
}

// Kinds returns every registered kind. Order is unspecified.
func (r *Registry) Kinds() []CredentialKind {
	out := make([]CredentialKind, 0, len(r.kinds))
	for kind := range r.kinds {
		out = append(out, kind)
	}
	return out
}

// ValidateIdentifier checks a normalized identifier against the kind's rule.
func (r *Registry) ValidateIdentifier(kind CredentialKind, identifier string) error {
	def, err := r.Lookup(kind)
	if err != nil {
		return err
	}
	if err := r.validate.Var(identifier, def.IdentifierRule); err != nil {
		return fmt.Errorf("%w: identifier does not satisfy %s format", ErrInvalidInput, kind)
	}
	return nil
}

// NormalizeIdentifier canonicalizes an identifier before storage or lookup.
// Identifiers are compared case-insensitively across all kinds.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
