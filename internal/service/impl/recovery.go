package impl

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// RecoveryCodeCount is the size of a freshly issued batch.
	RecoveryCodeCount = 10
	recoveryCodeBytes = 4 // 8 hex chars, shown as XXXX-XXXX
)

// GenerateRecoveryCodes returns a batch of plaintext codes in display form.
// Callers hash them immediately; the plaintext leaves this process exactly
// once, in the response body.
func GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	buf := make([]byte, recoveryCodeBytes)
	for i := 0; i < n; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		h := hex.EncodeToString(buf)
		codes = append(codes, strings.ToUpper(h[:4]+"-"+h[4:]))
	}
	return codes, nil
}

// NormalizeRecoveryCode strips separators and case before hashing, so user
// transcription quirks do not cost a valid code.
func NormalizeRecoveryCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToLower(code)
}

// WellFormedRecoveryCode reports whether the normalized form is 8 hex chars.
func WellFormedRecoveryCode(normalized string) bool {
	if len(normalized) != 2*recoveryCodeBytes {
		return false
	}
	for _, c := range normalized {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashRecoveryCode is the stored form. SHA-256 is enough here: the input has
// 32 bits of entropy and redemption is bounded by the rate limiter, not by
// hash hardness.
func HashRecoveryCode(normalized string) []byte {
	sum := sha256.Sum256([]byte(normalized))
	return sum[:]
}
