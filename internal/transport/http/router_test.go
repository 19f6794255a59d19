package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"mfa/internal/authz"
	"mfa/internal/domain"
	"mfa/internal/dto"
	"mfa/internal/jwtsigner"
	"mfa/internal/service"
)

type stubTOTPService struct {
	verifyErr  error
	verifyResp *dto.TOTPVerifyResponse
	gotUserID  domain.UserID
	gotCode    string
}

func (s *stubTOTPService) Setup(ctx context.Context, userID domain.UserID, meta service.RequestMeta) (*dto.TOTPSetupResponse, error) {
	return &dto.TOTPSetupResponse{Secret: "SECRET"}, nil
}

func (s *stubTOTPService) Verify(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.TOTPVerifyResponse, error) {
	s.gotUserID = userID
	s.gotCode = code
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyResp, nil
}

func (s *stubTOTPService) Disable(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) error {
	return nil
}

func (s *stubTOTPService) RegenerateRecoveryCodes(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.RecoveryRegenerateResponse, error) {
	return &dto.RecoveryRegenerateResponse{}, nil
}

func (s *stubTOTPService) VerifyRecoveryCode(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.RecoveryVerifyResponse, error) {
	return &dto.RecoveryVerifyResponse{Verified: true}, nil
}

type stubPasskeyService struct{}

func (stubPasskeyService) BeginRegistration(ctx context.Context, userID domain.UserID, meta service.RequestMeta) (*dto.PasskeyChallengeResponse, error) {
	return &dto.PasskeyChallengeResponse{ChallengeID: uuid.NewString()}, nil
}

func (stubPasskeyService) FinishRegistration(ctx context.Context, userID domain.UserID, r dto.PasskeyRegisterRequest, meta service.RequestMeta) (*dto.PasskeyRegisterResponse, error) {
	return &dto.PasskeyRegisterResponse{}, nil
}

func (stubPasskeyService) BeginAuthentication(ctx context.Context, userID *domain.UserID, meta service.RequestMeta) (*dto.PasskeyChallengeResponse, error) {
	return &dto.PasskeyChallengeResponse{ChallengeID: uuid.NewString()}, nil
}

func (stubPasskeyService) FinishAuthentication(ctx context.Context, r dto.PasskeyAssertRequest, meta service.RequestMeta) (*dto.PasskeyAssertResponse, error) {
	return &dto.PasskeyAssertResponse{Verified: true}, nil
}

func (stubPasskeyService) List(ctx context.Context, userID domain.UserID) (*dto.PasskeyListResponse, error) {
	return &dto.PasskeyListResponse{}, nil
}

func (stubPasskeyService) Delete(ctx context.Context, userID domain.UserID, credentialID []byte, meta service.RequestMeta) error {
	return nil
}

// injectSubject stands in for caller auth, placing a fixed subject in the
// request context.
func injectSubject(sub string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authz.WithSubject(r.Context(), sub)))
		})
	}
}

func newTestRouter(t *testing.T, totp service.TOTPService, sub string) http.Handler {
	t.Helper()
	signer, err := jwtsigner.NewFromBase64("", "kid-test", "mfa-test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg := RouterConfig{TrustProxy: true}
	if sub != "" {
		cfg.AuthMiddleware = injectSubject(sub)
	}
	return NewRouter(totp, stubPasskeyService{}, stubAccountService{}, signer, cfg)
}

type stubAccountService struct{}

func (stubAccountService) DeleteUserData(ctx context.Context, userID domain.UserID) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &stubTOTPService{}, uuid.NewString())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestJWKSExposed(t *testing.T) {
	h := newTestRouter(t, &stubTOTPService{}, uuid.NewString())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/2fa/jwks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks status %d", rec.Code)
	}
	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(body.Keys) != 1 || body.Keys[0]["kty"] != "OKP" {
		t.Fatalf("unexpected jwks %+v", body)
	}
}

func TestVerifyRoutesSubjectAndCode(t *testing.T) {
	sub := uuid.NewString()
	stub := &stubTOTPService{verifyResp: &dto.TOTPVerifyResponse{Verified: true, Enabled: true}}
	h := newTestRouter(t, stub, sub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/2fa/totp/verify", strings.NewReader(`{"code":"123456"}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if stub.gotCode != "123456" {
		t.Fatalf("code not forwarded, got %q", stub.gotCode)
	}
	if stub.gotUserID.String() != sub {
		t.Fatalf("subject not forwarded, got %s", stub.gotUserID)
	}
}

func TestVerifyWithoutSubjectRejected(t *testing.T) {
	h := newTestRouter(t, &stubTOTPService{}, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/2fa/totp/verify", strings.NewReader(`{"code":"123456"}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{domain.ErrNotConfigured, http.StatusNotFound, "not_configured"},
		{domain.ErrAlreadyConfigured, http.StatusConflict, "already_configured"},
		{domain.ErrChallengeExpired, http.StatusBadRequest, "challenge_expired"},
		{domain.ErrVerificationFailed, http.StatusUnauthorized, "verification_failed"},
		{domain.ErrReplayDetected, http.StatusUnauthorized, "replay_detected"},
		{&domain.RateLimitedError{RetryAfter: 30 * time.Second}, http.StatusTooManyRequests, "rate_limited"},
		{&domain.LockedError{Until: time.Now().Add(time.Minute)}, http.StatusLocked, "locked"},
		{domain.ErrStorageFailure, http.StatusInternalServerError, "internal"},
	}
	sub := uuid.NewString()
	for _, tc := range cases {
		stub := &stubTOTPService{verifyErr: tc.err}
		h := newTestRouter(t, stub, sub)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/2fa/totp/verify", strings.NewReader(`{"code":"123456"}`))
		h.ServeHTTP(rec, req)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: status %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		var body errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: decode body: %v", tc.err, err)
		}
		if body.Error != tc.wantCode {
			t.Fatalf("%v: code %q, want %q", tc.err, body.Error, tc.wantCode)
		}
	}
}

func TestRetryAfterHeaderOnRateLimit(t *testing.T) {
	stub := &stubTOTPService{verifyErr: &domain.RateLimitedError{RetryAfter: 30 * time.Second}}
	h := newTestRouter(t, stub, uuid.NewString())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/2fa/totp/verify", strings.NewReader(`{"code":"123456"}`))
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want 30", got)
	}
}
