// Package totp derives and verifies RFC 6238 time-based one-time passwords.
// Codes are 6 digits over 30-second steps with HMAC-SHA1, the interoperable
// defaults every authenticator app implements.
package totp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"mfa/internal/security/ctime"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30
	// SecretSize is the raw shared-secret length in bytes.
	SecretSize = 20
	// CodeDigits is the rendered code length.
	CodeDigits = 6
	// DefaultDriftSteps tolerates one step of clock skew either way.
	DefaultDriftSteps = 1
)

// ErrBadFormat rejects anything that is not exactly six ASCII digits before
// any HMAC work happens.
var ErrBadFormat = errors.New("totp: code must be 6 digits")

// GenerateSecret returns a fresh random secret, raw and base32 (no padding,
// RFC 3548 style as authenticator apps expect).
func GenerateSecret() (raw []byte, b32 string, err error) {
	raw = make([]byte, SecretSize)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	b32 = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return raw, b32, nil
}

// ProvisioningKey wraps the secret in an otpauth:// key for the given issuer
// and account, suitable for URI display and QR rendering.
func ProvisioningKey(issuer, accountName string, secret []byte) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      Period,
		Secret:      secret,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// Counter is the HOTP counter for the given instant.
func Counter(t time.Time) int64 { return t.Unix() / Period }

// CodeForCounter renders the zero-padded 6-digit code for an explicit counter
// value using the standard HOTP dynamic truncation.
func CodeForCounter(secretB32 string, counter int64) (string, error) {
	return hotp.GenerateCodeCustom(secretB32, uint64(counter), hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// Verify checks code against the secret at time t within ±driftSteps steps.
// On success it returns the counter that matched, so callers can record it
// for replay protection. The comparison is constant-time per candidate.
func Verify(secretB32, code string, t time.Time, driftSteps int) (ok bool, matchedCounter int64, err error) {
	if !WellFormed(code) {
		return false, 0, ErrBadFormat
	}
	if driftSteps < 0 {
		driftSteps = DefaultDriftSteps
	}
	current := Counter(t)
	for i := -driftSteps; i <= driftSteps; i++ {
		candidate := current + int64(i)
		expected, genErr := CodeForCounter(secretB32, candidate)
		if genErr != nil {
			return false, 0, genErr
		}
		if ctime.EqualString(expected, code) {
			return true, candidate, nil
		}
	}
	return false, 0, nil
}

// WellFormed reports whether code is exactly six ASCII digits.
func WellFormed(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeSecret uppercases and strips whitespace from a base32 secret as
// typed or pasted by a user.
func NormalizeSecret(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
