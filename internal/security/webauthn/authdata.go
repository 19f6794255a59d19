package webauthn

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator data flag bits.
const (
	flagUserPresent    = 1 << 0
	flagUserVerified   = 1 << 2
	flagBackupEligible = 1 << 3
	flagBackupState    = 1 << 4
	flagAttestedCred   = 1 << 6
	flagExtensions     = 1 << 7
)

const minAuthDataLen = 37 // rpIdHash(32) + flags(1) + signCount(4)

// AuthenticatorData is the parsed fixed header plus, for registration
// responses, the attested credential block.
type AuthenticatorData struct {
	RPIDHash       []byte
	UserPresent    bool
	UserVerified   bool
	BackupEligible bool
	BackedUp       bool
	SignCount      uint32

	// Set only when the attested-credential-data flag is present.
	AAGUID        []byte
	CredentialID  []byte
	PublicKeyCOSE []byte
}

// parseAuthenticatorData decodes the raw authenticator data buffer. The COSE
// key is kept as raw bytes; extensions, if any, are tolerated but ignored.
func parseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < minAuthDataLen {
		return nil, fmt.Errorf("webauthn: authenticator data too short (%d bytes)", len(raw))
	}
	flags := raw[32]
	ad := &AuthenticatorData{
		RPIDHash:       raw[:32],
		UserPresent:    flags&flagUserPresent != 0,
		UserVerified:   flags&flagUserVerified != 0,
		BackupEligible: flags&flagBackupEligible != 0,
		BackedUp:       flags&flagBackupState != 0,
		SignCount:      binary.BigEndian.Uint32(raw[33:37]),
	}

	rest := raw[minAuthDataLen:]
	if flags&flagAttestedCred != 0 {
		if len(rest) < 18 {
			return nil, fmt.Errorf("webauthn: truncated attested credential data")
		}
		ad.AAGUID = rest[:16]
		idLen := int(binary.BigEndian.Uint16(rest[16:18]))
		rest = rest[18:]
		if idLen == 0 || len(rest) < idLen {
			return nil, fmt.Errorf("webauthn: bad credential id length %d", idLen)
		}
		ad.CredentialID = rest[:idLen]
		rest = rest[idLen:]

		// The COSE key is a single CBOR item of variable length.
		dec := cbor.NewDecoder(bytes.NewReader(rest))
		var key cbor.RawMessage
		if err := dec.Decode(&key); err != nil {
			return nil, fmt.Errorf("webauthn: credential public key: %w", err)
		}
		ad.PublicKeyCOSE = rest[:dec.NumBytesRead()]
	}
	return ad, nil
}

// checkRPIDHash verifies the authenticator operated for our relying party.
func (ad *AuthenticatorData) checkRPIDHash(rpID string) error {
	want := rpIDHash(rpID)
	if subtle.ConstantTimeCompare(ad.RPIDHash, want[:]) != 1 {
		return ErrRPIDMismatch
	}
	return nil
}
