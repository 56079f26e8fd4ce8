package domain

import "fmt"

// bcrypt rejects inputs longer than 72 bytes, so anything above that must
// fail here as a validation error rather than later as a hashing error.
const maxPasswordLength = 72

// ValidatePassword enforces the configured minimum length and the bcrypt
// upper bound.
func ValidatePassword(password string, minLength int) error {
	if len(password) < minLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be <= %d characters", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
