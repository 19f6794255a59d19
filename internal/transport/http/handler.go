package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mfa/internal/domain"
	"mfa/internal/netutil"
	"mfa/internal/service"
)

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// XFF can be a list: client, proxy1, proxy2...
			ip := strings.TrimSpace(strings.Split(xff, ",")[0])
			if normalized, ok := netutil.NormalizeIP(ip); ok {
				return normalized
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			if normalized, ok := netutil.NormalizeIP(xr); ok {
				return normalized
			}
		}
	}
	if normalized, ok := netutil.NormalizeIP(r.RemoteAddr); ok {
		return normalized
	}
	return r.RemoteAddr
}

func requestMeta(r *http.Request, trustProxy bool) service.RequestMeta {
	return service.RequestMeta{
		IP:        clientIP(r, trustProxy),
		UserAgent: netutil.TruncateUserAgent(r.UserAgent()),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeError maps service errors to a closed set of machine-readable codes.
// Messages stay generic: which check failed is not something the response
// body should reveal.
func writeError(w http.ResponseWriter, err error) {
	var rl *domain.RateLimitedError
	if errors.As(err, &rl) {
		secs := int(rl.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many attempts", RetryAfter: secs})
		return
	}
	var locked *domain.LockedError
	if errors.As(err, &locked) {
		secs := int(time.Until(locked.Until).Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusLocked, errorBody{Error: "locked", Message: "temporarily locked", RetryAfter: secs})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "malformed request"})
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "authentication required"})
	case errors.Is(err, domain.ErrNotConfigured):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_configured", Message: "not configured"})
	case errors.Is(err, domain.ErrAlreadyConfigured):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_configured", Message: "already configured"})
	case errors.Is(err, domain.ErrChallengeExpired):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "challenge_expired", Message: "challenge expired or missing"})
	case errors.Is(err, domain.ErrReplayDetected):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "replay_detected", Message: "verification rejected"})
	case errors.Is(err, domain.ErrVerificationFailed):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "verification_failed", Message: "verification rejected"})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many attempts"})
	case errors.Is(err, domain.ErrLocked):
		writeJSON(w, http.StatusLocked, errorBody{Error: "locked", Message: "temporarily locked"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}

func parseUserID(s string) (domain.UserID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return domain.UserID{}, domain.ErrInvalidInput
	}
	return domain.UserID(id), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(into); err != nil {
		writeError(w, domain.ErrInvalidInput)
		return false
	}
	return true
}
