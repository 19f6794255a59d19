// Package authz authenticates callers of the verification API. Tokens come
// from the identity service; we accept either an HS256 shared secret or the
// issuer's JWKS, selected at startup. The authenticated subject (user ID)
// lands in the request context.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"mfa/internal/observability/metrics"
	obsmw "mfa/internal/observability/middleware"
)

type HMACValidator struct {
	secret []byte
	issuer string
}

func NewHMACValidator(secret, issuer string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret), issuer: issuer}
}

func (h *HMACValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("hmac", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, ok := bearerToken(r)
		if !ok {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("caller auth missing bearer", "request_id", reqID)
			return
		}

		token, err := jwt.Parse(tokStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("caller auth invalid token", "error", err, "request_id", reqID)
			return
		}

		sub, err := subjectFromClaims(token.Claims, h.issuer)
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			slog.Warn("caller auth bad claims", "error", err, "request_id", reqID)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(raw[len("Bearer "):]), true
}

func subjectFromClaims(claims jwt.Claims, issuer string) (string, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("not map claims")
	}
	if iss, _ := mc["iss"].(string); iss != "" && issuer != "" && iss != issuer {
		return "", fmt.Errorf("issuer mismatch")
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("no subject")
	}
	return sub, nil
}

type subjectKey struct{}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

func SubjectFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok
}
