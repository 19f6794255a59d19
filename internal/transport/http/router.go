package http

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mfa/internal/authz"
	"mfa/internal/domain"
	"mfa/internal/dto"
	"mfa/internal/jwtsigner"
	"mfa/internal/observability/metrics"
	obsmw "mfa/internal/observability/middleware"
	"mfa/internal/service"
)

type RouterConfig struct {
	TrustProxy  bool
	CORSOrigins []string

	// AuthMiddleware validates the caller token and puts the subject in the
	// request context. Required for the account-scoped routes.
	AuthMiddleware func(http.Handler) http.Handler
}

func NewRouter(totp service.TOTPService, passkeys service.PasskeyService, account service.AccountService, signer *jwtsigner.Signer, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(httpMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/2fa/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []any{signer.PublicJWK()}})
	})

	// Passkey login runs before the caller holds a session, so the challenge
	// and assertion endpoints skip caller auth. Everything they return is
	// gated on the assertion verifying.
	r.Post("/v1/2fa/passkeys/login/challenge", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId,omitempty"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		var userID *domain.UserID
		if body.UserID != "" {
			id, err := parseUserID(body.UserID)
			if err != nil {
				writeError(w, err)
				return
			}
			userID = &id
		}
		resp, err := passkeys.BeginAuthentication(r.Context(), userID, requestMeta(r, cfg.TrustProxy))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/2fa/passkeys/login/verify", func(w http.ResponseWriter, r *http.Request) {
		var req dto.PasskeyAssertRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := passkeys.FinishAuthentication(r.Context(), req, requestMeta(r, cfg.TrustProxy))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Group(func(pr chi.Router) {
		if cfg.AuthMiddleware != nil {
			pr.Use(cfg.AuthMiddleware)
		}

		pr.Post("/v1/2fa/totp/setup", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			resp, err := totp.Setup(r.Context(), userID, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Post("/v1/2fa/totp/verify", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			var req dto.TOTPVerifyRequest
			if !decodeBody(w, r, &req) {
				return
			}
			resp, err := totp.Verify(r.Context(), userID, req.Code, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Post("/v1/2fa/totp/disable", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			var req dto.TOTPDisableRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if err := totp.Disable(r.Context(), userID, req.Code, requestMeta(r, cfg.TrustProxy)); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		pr.Post("/v1/2fa/recovery/regenerate", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			var req dto.RecoveryRegenerateRequest
			if !decodeBody(w, r, &req) {
				return
			}
			resp, err := totp.RegenerateRecoveryCodes(r.Context(), userID, req.Code, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Post("/v1/2fa/recovery/verify", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			var req dto.RecoveryVerifyRequest
			if !decodeBody(w, r, &req) {
				return
			}
			resp, err := totp.VerifyRecoveryCode(r.Context(), userID, req.Code, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Post("/v1/2fa/passkeys/register/challenge", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			resp, err := passkeys.BeginRegistration(r.Context(), userID, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Post("/v1/2fa/passkeys/register/verify", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			var req dto.PasskeyRegisterRequest
			if !decodeBody(w, r, &req) {
				return
			}
			resp, err := passkeys.FinishRegistration(r.Context(), userID, req, requestMeta(r, cfg.TrustProxy))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Get("/v1/2fa/passkeys", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			resp, err := passkeys.List(r.Context(), userID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		pr.Delete("/v1/2fa/passkeys/{credentialId}", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			credID, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "credentialId"))
			if err != nil {
				writeError(w, domain.ErrInvalidInput)
				return
			}
			if err := passkeys.Delete(r.Context(), userID, credID, requestMeta(r, cfg.TrustProxy)); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		pr.Delete("/v1/2fa/user", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := subject(w, r)
			if !ok {
				return
			}
			counts, err := account.DeleteUserData(r.Context(), userID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": counts})
		})
	})

	return r
}

func subject(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	sub, ok := authz.SubjectFrom(r.Context())
	if !ok {
		writeError(w, domain.ErrUnauthenticated)
		return domain.UserID{}, false
	}
	userID, err := parseUserID(sub)
	if err != nil {
		writeError(w, domain.ErrUnauthenticated)
		return domain.UserID{}, false
	}
	return userID, true
}

func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
