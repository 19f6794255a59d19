package webauthn

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Credential is what registration verification yields: everything the caller
// needs to persist for later assertions.
type Credential struct {
	ID             []byte
	PublicKeyCOSE  []byte
	SignCount      uint32
	AAGUID         []byte
	BackupEligible bool
	BackedUp       bool
}

// attestationObject is the CBOR envelope the client returns from create().
type attestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

type packedStmt struct {
	Alg int64    `cbor:"alg"`
	Sig []byte   `cbor:"sig"`
	X5C [][]byte `cbor:"x5c"`
}

// VerifyRegistration validates a registration response: client data binding,
// relying-party hash, user presence, and presence of attested credential
// data. For packed self-attestation the statement signature is checked with
// the credential's own key; other attestation formats are accepted without
// statement verification (attestation conveyance is "none" for this service).
func VerifyRegistration(rp RelyingParty, expectedChallenge, clientDataJSON, attestation []byte) (*Credential, error) {
	if err := verifyClientData(rp, ceremonyCreate, expectedChallenge, clientDataJSON); err != nil {
		return nil, err
	}

	var ao attestationObject
	if err := cbor.Unmarshal(attestation, &ao); err != nil {
		return nil, fmt.Errorf("webauthn: attestation object: %w", err)
	}
	ad, err := parseAuthenticatorData(ao.AuthData)
	if err != nil {
		return nil, err
	}
	if err := ad.checkRPIDHash(rp.ID); err != nil {
		return nil, err
	}
	if !ad.UserPresent {
		return nil, ErrUserNotPresent
	}
	if len(ad.CredentialID) == 0 || len(ad.PublicKeyCOSE) == 0 {
		return nil, ErrNoCredentialData
	}

	key, err := ParseCOSEKey(ad.PublicKeyCOSE)
	if err != nil {
		return nil, err
	}

	if ao.Fmt == "packed" {
		var stmt packedStmt
		if err := cbor.Unmarshal(ao.AttStmt, &stmt); err != nil {
			return nil, fmt.Errorf("webauthn: packed statement: %w", err)
		}
		// Self-attestation only; x5c chains would need a metadata trust
		// store, which this service does not carry.
		if len(stmt.X5C) == 0 && len(stmt.Sig) > 0 {
			if stmt.Alg != key.Algorithm() {
				return nil, ErrBadSignature
			}
			h := clientDataHash(clientDataJSON)
			if err := key.Verify(append(append([]byte{}, ao.AuthData...), h[:]...), stmt.Sig); err != nil {
				return nil, err
			}
		}
	}

	return &Credential{
		ID:             ad.CredentialID,
		PublicKeyCOSE:  ad.PublicKeyCOSE,
		SignCount:      ad.SignCount,
		AAGUID:         ad.AAGUID,
		BackupEligible: ad.BackupEligible,
		BackedUp:       ad.BackedUp,
	}, nil
}

// Assertion is the parsed, verified result of an authentication response.
type Assertion struct {
	SignCount    uint32
	UserVerified bool
	BackedUp     bool
}

// VerifyAssertion validates an authentication response against the stored
// COSE public key. The signature covers authenticatorData || SHA-256(client
// data). Counter semantics (strictly increasing, zero exception) are the
// replay ledger's concern, not this function's.
func VerifyAssertion(rp RelyingParty, expectedChallenge, clientDataJSON, authData, sig, publicKeyCOSE []byte) (*Assertion, error) {
	if err := verifyClientData(rp, ceremonyGet, expectedChallenge, clientDataJSON); err != nil {
		return nil, err
	}
	ad, err := parseAuthenticatorData(authData)
	if err != nil {
		return nil, err
	}
	if err := ad.checkRPIDHash(rp.ID); err != nil {
		return nil, err
	}
	if !ad.UserPresent {
		return nil, ErrUserNotPresent
	}

	key, err := ParseCOSEKey(publicKeyCOSE)
	if err != nil {
		return nil, err
	}
	h := clientDataHash(clientDataJSON)
	signed := append(append([]byte{}, authData...), h[:]...)
	if err := key.Verify(signed, sig); err != nil {
		return nil, err
	}

	return &Assertion{
		SignCount:    ad.SignCount,
		UserVerified: ad.UserVerified,
		BackedUp:     ad.BackedUp,
	}, nil
}
