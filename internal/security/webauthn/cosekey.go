package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE constants we understand. Anything else is ErrUnsupportedKey.
const (
	coseKtyOKP = 1
	coseKtyEC2 = 2
	coseKtyRSA = 3

	coseAlgES256 = -7
	coseAlgEdDSA = -8
	coseAlgRS256 = -257

	coseCrvP256    = 1
	coseCrvEd25519 = 6
)

// PublicKey verifies an assertion signature over data.
type PublicKey interface {
	Verify(data, sig []byte) error
	Algorithm() int64
}

type ec2Key struct {
	pub *ecdsa.PublicKey
}

func (k *ec2Key) Algorithm() int64 { return coseAlgES256 }

func (k *ec2Key) Verify(data, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(k.pub, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

type okpKey struct {
	pub ed25519.PublicKey
}

func (k *okpKey) Algorithm() int64 { return coseAlgEdDSA }

func (k *okpKey) Verify(data, sig []byte) error {
	if !ed25519.Verify(k.pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}

type rsaKey struct {
	pub *rsa.PublicKey
}

func (k *rsaKey) Algorithm() int64 { return coseAlgRS256 }

func (k *rsaKey) Verify(data, sig []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(k.pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// ParseCOSEKey decodes a COSE_Key structure into a verifying key. Supported:
// EC2/P-256 (ES256), OKP/Ed25519 (EdDSA), RSA (RS256) — the algorithms the
// platform authenticators in the wild actually emit.
func ParseCOSEKey(raw []byte) (PublicKey, error) {
	var fields map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}

	var kty int64
	if err := unmarshalField(fields, 1, &kty); err != nil {
		return nil, fmt.Errorf("%w: kty missing", ErrUnsupportedKey)
	}

	switch kty {
	case coseKtyEC2:
		var crv int64
		var x, y []byte
		if err := unmarshalField(fields, -1, &crv); err != nil {
			return nil, fmt.Errorf("%w: ec2 curve", ErrUnsupportedKey)
		}
		if crv != coseCrvP256 {
			return nil, fmt.Errorf("%w: ec2 curve %d", ErrUnsupportedKey, crv)
		}
		if err := unmarshalField(fields, -2, &x); err != nil {
			return nil, fmt.Errorf("%w: ec2 x", ErrUnsupportedKey)
		}
		if err := unmarshalField(fields, -3, &y); err != nil {
			return nil, fmt.Errorf("%w: ec2 y", ErrUnsupportedKey)
		}
		pub := &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
		if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
			return nil, fmt.Errorf("%w: point not on curve", ErrUnsupportedKey)
		}
		return &ec2Key{pub: pub}, nil

	case coseKtyOKP:
		var crv int64
		var x []byte
		if err := unmarshalField(fields, -1, &crv); err != nil {
			return nil, fmt.Errorf("%w: okp curve", ErrUnsupportedKey)
		}
		if crv != coseCrvEd25519 {
			return nil, fmt.Errorf("%w: okp curve %d", ErrUnsupportedKey, crv)
		}
		if err := unmarshalField(fields, -2, &x); err != nil {
			return nil, fmt.Errorf("%w: okp x", ErrUnsupportedKey)
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: okp key size %d", ErrUnsupportedKey, len(x))
		}
		return &okpKey{pub: ed25519.PublicKey(x)}, nil

	case coseKtyRSA:
		var n, e []byte
		if err := unmarshalField(fields, -1, &n); err != nil {
			return nil, fmt.Errorf("%w: rsa n", ErrUnsupportedKey)
		}
		if err := unmarshalField(fields, -2, &e); err != nil {
			return nil, fmt.Errorf("%w: rsa e", ErrUnsupportedKey)
		}
		pub := &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
		if pub.N.BitLen() < 2048 || pub.E < 3 {
			return nil, fmt.Errorf("%w: weak rsa parameters", ErrUnsupportedKey)
		}
		return &rsaKey{pub: pub}, nil
	}
	return nil, fmt.Errorf("%w: kty %d", ErrUnsupportedKey, kty)
}

func unmarshalField(fields map[int64]cbor.RawMessage, label int64, out any) error {
	raw, ok := fields[label]
	if !ok {
		return fmt.Errorf("label %d absent", label)
	}
	return cbor.Unmarshal(raw, out)
}
