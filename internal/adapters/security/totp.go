package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	totpPeriod = 30 * time.Second
	totpDigits = 6
)

// TOTP generates and verifies RFC 6238 time-based codes. Skew is the number
// of adjacent periods accepted on each side of now, absorbing client clock
// drift.
type TOTP struct {
	issuer string
	skew   int
}

// NewTOTP creates a verifier. skew < 0 falls back to 1, one 30s step on
// either side.
func NewTOTP(issuer string, skew int) *TOTP {
	if skew < 0 {
		skew = 1
	}
	return &TOTP{issuer: issuer, skew: skew}
}

// ProvisioningURI renders the otpauth:// URI consumed by authenticator apps.
func (t *TOTP) ProvisioningURI(secret, account string) string {
	label := url.PathEscape(account)
	if t.issuer != "" {
		label = url.PathEscape(t.issuer) + ":" + label
	}
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("digits", fmt.Sprintf("%d", totpDigits))
	values.Set("period", fmt.Sprintf("%d", int(totpPeriod.Seconds())))
	if t.issuer != "" {
		values.Set("issuer", t.issuer)
	}
	return "otpauth://totp/" + label + "?" + values.Encode()
}

// Verify checks code against the secret at the given instant, accepting the
// configured drift window. Comparison is constant-time per candidate.
func (t *TOTP) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}

	counter := at.Unix() / int64(totpPeriod.Seconds())
	for offset := -int64(t.skew); offset <= int64(t.skew); offset++ {
		candidate := hotp(key, counter+offset)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// Code computes the current code for a secret. Exposed for enrollment tests
// and confirmation round-trips.
func Code(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, at.Unix()/int64(totpPeriod.Seconds())), nil
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(normalized, "="))
}

func hotp(key []byte, counter int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, value%mod)
}
