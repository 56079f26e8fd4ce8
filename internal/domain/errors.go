package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist,
	// including invalid, expired, or already-consumed one-time tokens.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether the identifier or the password failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked signals temporary lockout after repeated failed attempts.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountSuspended is operator-facing: the caller already asserted the
	// account exists by authenticating against it.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrCredentialTypeDisabled is returned when the credential's sign-in
	// method has been switched off by the operator.
	ErrCredentialTypeDisabled = errors.New("sign-in method unavailable")
	// ErrVerificationRequired is returned when an unverified credential may not
	// log in under the current per-kind policy.
	ErrVerificationRequired = errors.New("credential verification required")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
	ErrTokenExpired         = errors.New("token expired")
	ErrRateLimited          = errors.New("rate limited")
)
