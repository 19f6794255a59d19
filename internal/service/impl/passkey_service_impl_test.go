package impl

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mfa/internal/domain"
	"mfa/internal/dto"
	"mfa/internal/jwtsigner"
	"mfa/internal/security/webauthn"
	"mfa/internal/service"
	"mfa/internal/store"
)

var passkeyRP = webauthn.RelyingParty{
	ID:      "example.test",
	Origins: []string{"https://example.test"},
}

// testPasskey plays the browser plus authenticator: it holds a real P-256
// key and produces protocol-correct registration and assertion payloads,
// already base64url-encoded the way the transport expects them.
type testPasskey struct {
	t         *testing.T
	priv      *ecdsa.PrivateKey
	credID    []byte
	signCount uint32
}

func newTestPasskey(t *testing.T) *testPasskey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return &testPasskey{t: t, priv: priv, credID: credID}
}

func (p *testPasskey) coseKey() []byte {
	p.t.Helper()
	x := make([]byte, 32)
	y := make([]byte, 32)
	p.priv.PublicKey.X.FillBytes(x)
	p.priv.PublicKey.Y.FillBytes(y)
	raw, err := cbor.Marshal(map[int64]any{
		1:  2,  // kty EC2
		3:  -7, // alg ES256
		-1: 1,  // crv P-256
		-2: x,
		-3: y,
	})
	if err != nil {
		p.t.Fatalf("marshal cose key: %v", err)
	}
	return raw
}

func (p *testPasskey) clientData(ceremony, challengeB64 string) []byte {
	p.t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":      ceremony,
		"challenge": challengeB64,
		"origin":    passkeyRP.Origins[0],
	})
	if err != nil {
		p.t.Fatalf("marshal client data: %v", err)
	}
	return raw
}

func (p *testPasskey) authData(flags byte, attested bool) []byte {
	p.t.Helper()
	h := sha256.Sum256([]byte(passkeyRP.ID))
	out := append([]byte{}, h[:]...)
	out = append(out, flags)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], p.signCount)
	out = append(out, count[:]...)
	if attested {
		out = append(out, make([]byte, 16)...)
		var idLen [2]byte
		binary.BigEndian.PutUint16(idLen[:], uint16(len(p.credID)))
		out = append(out, idLen[:]...)
		out = append(out, p.credID...)
		out = append(out, p.coseKey()...)
	}
	return out
}

func (p *testPasskey) registerRequest(ch *dto.PasskeyChallengeResponse) dto.PasskeyRegisterRequest {
	p.t.Helper()
	clientData := p.clientData("webauthn.create", ch.Challenge)
	authData := p.authData(0x01|0x40, true) // UP + AT
	attestation, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	if err != nil {
		p.t.Fatalf("marshal attestation: %v", err)
	}
	return dto.PasskeyRegisterRequest{
		ChallengeID:       ch.ChallengeID,
		ClientDataJSON:    base64.RawURLEncoding.EncodeToString(clientData),
		AttestationObject: base64.RawURLEncoding.EncodeToString(attestation),
		Transports:        "internal",
	}
}

func (p *testPasskey) assertRequest(ch *dto.PasskeyChallengeResponse) dto.PasskeyAssertRequest {
	p.t.Helper()
	clientData := p.clientData("webauthn.get", ch.Challenge)
	authData := p.authData(0x01|0x04, false) // UP + UV
	h := sha256.Sum256(clientData)
	digest := sha256.Sum256(append(append([]byte{}, authData...), h[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, p.priv, digest[:])
	if err != nil {
		p.t.Fatalf("sign: %v", err)
	}
	return dto.PasskeyAssertRequest{
		ChallengeID:       ch.ChallengeID,
		CredentialID:      base64.RawURLEncoding.EncodeToString(p.credID),
		ClientDataJSON:    base64.RawURLEncoding.EncodeToString(clientData),
		AuthenticatorData: base64.RawURLEncoding.EncodeToString(authData),
		Signature:         base64.RawURLEncoding.EncodeToString(sig),
	}
}

func newPasskeyService(t *testing.T, st *store.Store, now time.Time) *PasskeyServiceImpl {
	t.Helper()
	signer, err := jwtsigner.NewFromBase64("", "kid-test", "mfa-test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	svc := NewPasskeyServiceImpl(st, allowAllLimiter{}, NewAuditRecorder(st), signer, passkeyRP, 5*time.Minute, 15*time.Minute)
	svc.Now = func() time.Time { return now }
	return svc
}

func registerPasskey(t *testing.T, svc *PasskeyServiceImpl, ctx context.Context, userID domain.UserID, pk *testPasskey, meta service.RequestMeta) {
	t.Helper()
	ch, err := svc.BeginRegistration(ctx, userID, meta)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if _, err := svc.FinishRegistration(ctx, userID, pk.registerRequest(ch), meta); err != nil {
		t.Fatalf("finish registration: %v", err)
	}
}

func TestPasskeyRegisterThenAuthenticate(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9", UserAgent: "test"}
	pk := newTestPasskey(t)

	ch, err := svc.BeginRegistration(ctx, userID, meta)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if ch.RPID != passkeyRP.ID {
		t.Fatalf("unexpected rpId %q", ch.RPID)
	}
	reg, err := svc.FinishRegistration(ctx, userID, pk.registerRequest(ch), meta)
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if reg.CredentialID != base64.RawURLEncoding.EncodeToString(pk.credID) {
		t.Fatalf("credential id mismatch: %q", reg.CredentialID)
	}

	pk.signCount = 7
	ach, err := svc.BeginAuthentication(ctx, &userID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	resp, err := svc.FinishAuthentication(ctx, pk.assertRequest(ach), meta)
	if err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if !resp.Verified || resp.UserID != userID.String() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.SessionToken == "" {
		t.Fatal("expected a session token")
	}

	token, err := jwt.Parse(resp.SessionToken, func(tok *jwt.Token) (any, error) {
		return svc.Signer.Public(), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !token.Valid {
		t.Fatalf("session token does not verify: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["sub"] != userID.String() {
		t.Fatalf("unexpected subject %v", claims["sub"])
	}

	stored, err := st.Passkeys().GetByCredentialID(ctx, pk.credID)
	if err != nil {
		t.Fatalf("reload credential: %v", err)
	}
	if stored.SignCount != 7 {
		t.Fatalf("sign count not advanced, got %d", stored.SignCount)
	}
}

func TestPasskeyChallengeSingleUse(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	ch, err := svc.BeginAuthentication(ctx, &userID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	pk.signCount = 1
	req := pk.assertRequest(ch)
	if _, err := svc.FinishAuthentication(ctx, req, meta); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := svc.FinishAuthentication(ctx, req, meta); !errors.Is(err, domain.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired on reuse, got %v", err)
	}
}

func TestPasskeyChallengeExpiry(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	ch, err := svc.BeginAuthentication(ctx, &userID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	pk.signCount = 1
	svc.Now = func() time.Time { return now.Add(6 * time.Minute) }
	if _, err := svc.FinishAuthentication(ctx, pk.assertRequest(ch), meta); !errors.Is(err, domain.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestPasskeyCounterRegressionRejected(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	pk.signCount = 9
	ch, err := svc.BeginAuthentication(ctx, &userID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	if _, err := svc.FinishAuthentication(ctx, pk.assertRequest(ch), meta); err != nil {
		t.Fatalf("first authentication: %v", err)
	}

	// A cloned authenticator replays an older counter value.
	pk.signCount = 4
	ch, err = svc.BeginAuthentication(ctx, &userID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	if _, err := svc.FinishAuthentication(ctx, pk.assertRequest(ch), meta); !errors.Is(err, domain.ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestPasskeyZeroCounterAuthenticatorsAccepted(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	// Platform authenticators that never implement the counter report zero
	// on every assertion; that is not a clone signal.
	for i := 0; i < 2; i++ {
		ch, err := svc.BeginAuthentication(ctx, &userID, meta)
		if err != nil {
			t.Fatalf("begin authentication: %v", err)
		}
		if _, err := svc.FinishAuthentication(ctx, pk.assertRequest(ch), meta); err != nil {
			t.Fatalf("zero-counter assertion %d: %v", i, err)
		}
	}
}

func TestPasskeyDiscoverableFlow(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	pk.signCount = 2
	ch, err := svc.BeginAuthentication(ctx, nil, meta)
	if err != nil {
		t.Fatalf("begin discoverable authentication: %v", err)
	}
	req := pk.assertRequest(ch)
	req.UserHandle = userID.String()
	resp, err := svc.FinishAuthentication(ctx, req, meta)
	if err != nil {
		t.Fatalf("finish discoverable authentication: %v", err)
	}
	if resp.UserID != userID.String() {
		t.Fatalf("resolved wrong user %q", resp.UserID)
	}
}

func TestPasskeyForeignChallengeRejected(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	otherID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	// Challenge issued for a different account must not verify this one's
	// credential.
	pk.signCount = 3
	ch, err := svc.BeginAuthentication(ctx, &otherID, meta)
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	if _, err := svc.FinishAuthentication(ctx, pk.assertRequest(ch), meta); !errors.Is(err, domain.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestPasskeyListAndDelete(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	userID := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, userID, pk, meta)

	list, err := svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(list.Credentials))
	}

	if err := svc.Delete(ctx, userID, pk.credID, meta); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, userID, pk.credID, meta); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured on second delete, got %v", err)
	}

	list, err = svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(list.Credentials) != 0 {
		t.Fatalf("expected empty list, got %d", len(list.Credentials))
	}
}

func TestPasskeyDeleteOtherUsersCredential(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	svc := newPasskeyService(t, st, now)
	ctx := context.Background()
	owner := domain.UserID(uuid.New())
	intruder := domain.UserID(uuid.New())
	meta := service.RequestMeta{IP: "203.0.113.9"}
	pk := newTestPasskey(t)

	registerPasskey(t, svc, ctx, owner, pk, meta)

	if err := svc.Delete(ctx, intruder, pk.credID, meta); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for foreign delete, got %v", err)
	}
	if _, err := st.Passkeys().GetByCredentialID(ctx, pk.credID); err != nil {
		t.Fatalf("credential should survive foreign delete: %v", err)
	}
}
