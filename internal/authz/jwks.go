package authz

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	jwtv4 "github.com/golang-jwt/jwt/v4"

	"mfa/internal/observability/metrics"
	obsmw "mfa/internal/observability/middleware"
)

type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*JWKSValidator, error) {
	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer}, nil
}

func (j *JWKSValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("jwks", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())

		tokStr, ok := bearerToken(r)
		if !ok {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("caller auth missing bearer", "request_id", reqID)
			return
		}

		token, err := jwtv4.Parse(tokStr, j.jwks.Keyfunc)
		if err != nil || !token.Valid {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("caller auth invalid token", "error", err, "request_id", reqID)
			return
		}

		claims, ok := token.Claims.(jwtv4.MapClaims)
		if !ok {
			result = "failure"
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		if iss, _ := claims["iss"].(string); iss != "" && j.issuer != "" && iss != j.issuer {
			result = "failure"
			http.Error(w, "issuer mismatch", http.StatusUnauthorized)
			slog.Warn("caller auth issuer mismatch", "issuer", iss, "request_id", reqID)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			result = "failure"
			http.Error(w, "no subject", http.StatusUnauthorized)
			slog.Warn("caller auth missing subject", "request_id", reqID)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
	})
}
