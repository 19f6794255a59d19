package secretbox

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	b, err := New(key)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return b
}

func TestSealOpenRoundTrip(t *testing.T) {
	b := newTestBox(t)
	secret := []byte("JBSWY3DPEHPK3PXP")

	sealed, err := b.Seal(secret)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, secret) {
		t.Fatal("sealed output contains plaintext")
	}

	out, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(out, secret) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	b := newTestBox(t)
	sealed, err := b.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := b.Open(sealed); err != ErrBadCiphertext {
		t.Fatalf("expected ErrBadCiphertext, got %v", err)
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	b := newTestBox(t)
	if _, err := b.Open([]byte("short")); err != ErrBadCiphertext {
		t.Fatalf("expected ErrBadCiphertext, got %v", err)
	}
}

func TestNewFromBase64(t *testing.T) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	b, err := NewFromBase64(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("from base64: %v", err)
	}
	sealed, err := b.Seal([]byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := NewFromBase64("AAAA"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	if _, err := NewFromBase64("!!!"); err == nil {
		t.Fatal("expected invalid base64 to be rejected")
	}
}
