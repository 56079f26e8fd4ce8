package security

import (
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes passwords and backup codes with bcrypt at a fixed
// per-instance cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher builds a hasher, clamping cost into bcrypt's valid range.
// Out-of-range values fall back rather than erroring at wiring time.
func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost < bcrypt.MinCost:
		cost = bcrypt.DefaultCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
