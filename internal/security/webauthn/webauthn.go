// Package webauthn verifies WebAuthn-style registration attestations and
// authentication assertions against stored COSE public keys. It covers the
// server-side checks only: client data binding (type, challenge, origin),
// relying-party hash, authenticator flags, and the assertion signature.
package webauthn

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"mfa/internal/security/ctime"
)

var (
	ErrClientData        = errors.New("webauthn: malformed client data")
	ErrCeremonyMismatch  = errors.New("webauthn: unexpected ceremony type")
	ErrChallengeMismatch = errors.New("webauthn: challenge mismatch")
	ErrOriginMismatch    = errors.New("webauthn: origin not allowed")
	ErrRPIDMismatch      = errors.New("webauthn: relying party id mismatch")
	ErrUserNotPresent    = errors.New("webauthn: user presence flag not set")
	ErrBadSignature      = errors.New("webauthn: signature verification failed")
	ErrNoCredentialData  = errors.New("webauthn: attested credential data missing")
	ErrUnsupportedKey    = errors.New("webauthn: unsupported credential key")
)

const (
	ceremonyCreate = "webauthn.create"
	ceremonyGet    = "webauthn.get"
)

// RelyingParty scopes every verification: ID is the domain the credential is
// bound to, Origins the exact web origins assertions may come from.
type RelyingParty struct {
	ID      string
	Origins []string
}

// collectedClientData is the browser-built JSON the authenticator signs over
// (indirectly, via its SHA-256 hash).
type collectedClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"` // base64url, no padding
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin,omitempty"`
}

// verifyClientData parses and checks clientDataJSON for the given ceremony.
func verifyClientData(rp RelyingParty, ceremony string, expectedChallenge, clientDataJSON []byte) error {
	var cd collectedClientData
	if err := json.Unmarshal(clientDataJSON, &cd); err != nil {
		return fmt.Errorf("%w: %v", ErrClientData, err)
	}
	if cd.Type != ceremony {
		return ErrCeremonyMismatch
	}
	got, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil {
		return fmt.Errorf("%w: challenge encoding", ErrClientData)
	}
	if !ctime.Equal(got, expectedChallenge) {
		return ErrChallengeMismatch
	}
	for _, o := range rp.Origins {
		if cd.Origin == o {
			return nil
		}
	}
	return ErrOriginMismatch
}

// clientDataHash is what gets concatenated to authenticator data before
// signing.
func clientDataHash(clientDataJSON []byte) [32]byte {
	return sha256.Sum256(clientDataJSON)
}

func rpIDHash(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}
