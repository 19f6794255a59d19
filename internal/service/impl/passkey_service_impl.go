package impl

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mfa/internal/domain"
	"mfa/internal/dto"
	"mfa/internal/jwtsigner"
	"mfa/internal/observability/metrics"
	"mfa/internal/rate"
	"mfa/internal/replay"
	"mfa/internal/security/webauthn"
	"mfa/internal/service"
	"mfa/internal/store"
)

const challengeSize = 32

// b64 is the encoding browsers use for WebAuthn ArrayBuffers.
var b64 = base64.RawURLEncoding

type PasskeyServiceImpl struct {
	Store   *store.Store
	Limiter rate.Limiter
	Audit   *AuditRecorder
	Signer  *jwtsigner.Signer

	RP           webauthn.RelyingParty
	ChallengeTTL time.Duration
	SessionTTL   time.Duration

	Now func() time.Time
}

func NewPasskeyServiceImpl(st *store.Store, limiter rate.Limiter, audit *AuditRecorder, signer *jwtsigner.Signer, rp webauthn.RelyingParty, challengeTTL, sessionTTL time.Duration) *PasskeyServiceImpl {
	return &PasskeyServiceImpl{
		Store:        st,
		Limiter:      limiter,
		Audit:        audit,
		Signer:       signer,
		RP:           rp,
		ChallengeTTL: challengeTTL,
		SessionTTL:   sessionTTL,
		Now:          time.Now,
	}
}

var _ service.PasskeyService = (*PasskeyServiceImpl)(nil)

func (s *PasskeyServiceImpl) allow(ctx context.Context, principal, action string, meta service.RequestMeta) error {
	res, err := s.Limiter.Allow(ctx, rate.Key(meta.IP, principal), action)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(action).Inc()
		return &domain.RateLimitedError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *PasskeyServiceImpl) issueChallenge(ctx context.Context, subjectKey, kind string) (*dto.PasskeyChallengeResponse, error) {
	raw := make([]byte, challengeSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	ch := &domain.Challenge{
		ID:         uuid.New(),
		SubjectKey: subjectKey,
		Challenge:  raw,
		Kind:       kind,
		ExpiresAt:  now.Add(s.ChallengeTTL),
		CreatedAt:  now,
	}
	if err := s.Store.Challenges().Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	metrics.ChallengesIssuedTotal.WithLabelValues(kind).Inc()
	return &dto.PasskeyChallengeResponse{
		ChallengeID: ch.ID.String(),
		Challenge:   b64.EncodeToString(raw),
		RPID:        s.RP.ID,
		ExpiresAt:   ch.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func (s *PasskeyServiceImpl) BeginRegistration(ctx context.Context, userID domain.UserID, meta service.RequestMeta) (*dto.PasskeyChallengeResponse, error) {
	if err := s.allow(ctx, userID.String(), domain.EventPasskeyChallenge, meta); err != nil {
		return nil, err
	}
	resp, err := s.issueChallenge(ctx, userID.String(), domain.ChallengeKindRegistration)
	if err != nil {
		return nil, err
	}
	s.Audit.Record(domain.EventPasskeyChallenge, &userID, true, meta, map[string]any{"kind": domain.ChallengeKindRegistration})
	return resp, nil
}

func (s *PasskeyServiceImpl) BeginAuthentication(ctx context.Context, userID *domain.UserID, meta service.RequestMeta) (*dto.PasskeyChallengeResponse, error) {
	subject := domain.SubjectDiscoverable
	principal := domain.SubjectDiscoverable
	if userID != nil {
		subject = userID.String()
		principal = subject
	}
	if err := s.allow(ctx, principal, domain.EventPasskeyChallenge, meta); err != nil {
		return nil, err
	}
	resp, err := s.issueChallenge(ctx, subject, domain.ChallengeKindAuthentication)
	if err != nil {
		return nil, err
	}
	s.Audit.Record(domain.EventPasskeyChallenge, userID, true, meta, map[string]any{"kind": domain.ChallengeKindAuthentication})
	return resp, nil
}

// consumeChallenge fetches and deletes the challenge in one shot, so a second
// attempt against the same challenge fails whatever the first one did.
func (s *PasskeyServiceImpl) consumeChallenge(ctx context.Context, challengeID, kind string) (*domain.Challenge, error) {
	id, err := uuid.Parse(challengeID)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	ch, err := s.Store.Challenges().Consume(ctx, domain.ChallengeID(id))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if ch.Kind != kind {
		return nil, domain.ErrChallengeExpired
	}
	if ch.Expired(s.Now().UTC()) {
		return nil, domain.ErrChallengeExpired
	}
	return ch, nil
}

func (s *PasskeyServiceImpl) FinishRegistration(ctx context.Context, userID domain.UserID, r dto.PasskeyRegisterRequest, meta service.RequestMeta) (*dto.PasskeyRegisterResponse, error) {
	if err := s.allow(ctx, userID.String(), domain.EventPasskeyRegister, meta); err != nil {
		return nil, err
	}

	ch, err := s.consumeChallenge(ctx, r.ChallengeID, domain.ChallengeKindRegistration)
	if err != nil {
		return nil, err
	}
	if ch.SubjectKey != userID.String() {
		return nil, domain.ErrChallengeExpired
	}

	clientData, err := b64.DecodeString(r.ClientDataJSON)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	attestation, err := b64.DecodeString(r.AttestationObject)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}

	cred, err := webauthn.VerifyRegistration(s.RP, ch.Challenge, clientData, attestation)
	if err != nil {
		s.Audit.Record(domain.EventPasskeyRegister, &userID, false, meta, map[string]any{"reason": err.Error()})
		metrics.VerificationsTotal.WithLabelValues("passkey_register", "failure").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}

	deviceType := "single_device"
	if cred.BackupEligible {
		deviceType = "multi_device"
	}
	now := s.Now().UTC()
	rec := &domain.PasskeyCredential{
		ID:           uuid.New(),
		UserID:       userID,
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKeyCOSE,
		SignCount:    cred.SignCount,
		AAGUID:       cred.AAGUID,
		DeviceType:   deviceType,
		BackedUp:     cred.BackedUp,
		Transports:   r.Transports,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Passkeys().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	metrics.VerificationsTotal.WithLabelValues("passkey_register", "success").Inc()
	s.Audit.Record(domain.EventPasskeyRegister, &userID, true, meta, map[string]any{
		"credential_id": b64.EncodeToString(cred.ID),
		"device_type":   deviceType,
	})
	return &dto.PasskeyRegisterResponse{
		CredentialID: b64.EncodeToString(cred.ID),
		DeviceType:   deviceType,
		BackedUp:     cred.BackedUp,
	}, nil
}

func (s *PasskeyServiceImpl) FinishAuthentication(ctx context.Context, r dto.PasskeyAssertRequest, meta service.RequestMeta) (*dto.PasskeyAssertResponse, error) {
	// The principal is unknown until the credential resolves; the credential
	// ID stands in so per-credential guessing is still bounded.
	if err := s.allow(ctx, r.CredentialID, domain.EventPasskeyAuthenticate, meta); err != nil {
		return nil, err
	}

	ch, err := s.consumeChallenge(ctx, r.ChallengeID, domain.ChallengeKindAuthentication)
	if err != nil {
		return nil, err
	}

	credID, err := b64.DecodeString(r.CredentialID)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	clientData, err := b64.DecodeString(r.ClientDataJSON)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	authData, err := b64.DecodeString(r.AuthenticatorData)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	sig, err := b64.DecodeString(r.Signature)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}

	cred, err := s.Store.Passkeys().GetByCredentialID(ctx, credID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			metrics.VerificationsTotal.WithLabelValues("passkey", "failure").Inc()
			s.Audit.Record(domain.EventPasskeyAuthenticate, nil, false, meta, map[string]any{"reason": "unknown credential"})
			return nil, domain.ErrVerificationFailed
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if ch.SubjectKey != domain.SubjectDiscoverable && ch.SubjectKey != cred.UserID.String() {
		return nil, domain.ErrChallengeExpired
	}
	if r.UserHandle != "" && r.UserHandle != cred.UserID.String() {
		return nil, domain.ErrVerificationFailed
	}

	assertion, err := webauthn.VerifyAssertion(s.RP, ch.Challenge, clientData, authData, sig, cred.PublicKey)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("passkey", "failure").Inc()
		s.Audit.Record(domain.EventPasskeyAuthenticate, &cred.UserID, false, meta, map[string]any{"reason": err.Error()})
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}

	if !replay.CounterAcceptable(cred.SignCount, assertion.SignCount) {
		metrics.VerificationsTotal.WithLabelValues("passkey", "replay").Inc()
		s.Audit.Record(domain.EventPasskeyAuthenticate, &cred.UserID, false, meta, map[string]any{
			"reason":         "counter regression",
			"stored_count":   cred.SignCount,
			"asserted_count": assertion.SignCount,
		})
		return nil, domain.ErrReplayDetected
	}
	if err := s.Store.Passkeys().AdvanceCounter(ctx, cred.ID, cred.SignCount, assertion.SignCount); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			metrics.VerificationsTotal.WithLabelValues("passkey", "replay").Inc()
			return nil, domain.ErrReplayDetected
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	var token string
	if s.Signer != nil {
		token, err = s.Signer.SignSession(cred.UserID.String(), s.SessionTTL, "webauthn")
		if err != nil {
			return nil, err
		}
	}

	metrics.VerificationsTotal.WithLabelValues("passkey", "success").Inc()
	s.Audit.Record(domain.EventPasskeyAuthenticate, &cred.UserID, true, meta, map[string]any{
		"credential_id": r.CredentialID,
		"user_verified": assertion.UserVerified,
	})
	return &dto.PasskeyAssertResponse{
		Verified:     true,
		UserID:       cred.UserID.String(),
		SessionToken: token,
	}, nil
}

func (s *PasskeyServiceImpl) List(ctx context.Context, userID domain.UserID) (*dto.PasskeyListResponse, error) {
	creds, err := s.Store.Passkeys().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	out := make([]dto.PasskeyCredentialResponse, 0, len(creds))
	for _, c := range creds {
		item := dto.PasskeyCredentialResponse{
			CredentialID: b64.EncodeToString(c.CredentialID),
			DeviceType:   c.DeviceType,
			BackedUp:     c.BackedUp,
			Transports:   c.Transports,
			CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		}
		if c.LastUsedAt != nil {
			item.LastUsedAt = c.LastUsedAt.Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return &dto.PasskeyListResponse{Credentials: out}, nil
}

func (s *PasskeyServiceImpl) Delete(ctx context.Context, userID domain.UserID, credentialID []byte, meta service.RequestMeta) error {
	cred, err := s.Store.Passkeys().GetByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.ErrNotConfigured
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if cred.UserID != userID {
		return domain.ErrNotConfigured
	}
	if err := s.Store.Passkeys().Delete(ctx, userID, cred.ID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.ErrNotConfigured
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	s.Audit.Record(domain.EventPasskeyDelete, &userID, true, meta, map[string]any{
		"credential_id": b64.EncodeToString(credentialID),
	})
	return nil
}
