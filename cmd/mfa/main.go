package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mfa/internal/authz"
	"mfa/internal/config"
	"mfa/internal/jwtsigner"
	"mfa/internal/observability/logging"
	"mfa/internal/observability/metrics"
	"mfa/internal/rate"
	"mfa/internal/security/secretbox"
	"mfa/internal/security/webauthn"
	"mfa/internal/service/impl"
	"mfa/internal/store"
	httpx "mfa/internal/transport/http"
)

func main() {
	_ = godotenv.Load()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "mfa",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)
	logger.Info("starting service")

	cfg := config.Load()

	var gdb *gorm.DB
	var err error
	switch cfg.DBDriver {
	case "sqlite":
		gdb, err = gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
	default:
		gdb, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
	if err != nil {
		logger.Error("gorm open", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}

	st := store.New(gdb)
	if err := st.AutoMigrate(); err != nil {
		logger.Error("automigrate", "error", err)
		os.Exit(1)
	}

	metrics.MustRegister("mfa")

	box, err := secretbox.NewFromBase64(cfg.SecretboxKey)
	if err != nil {
		logger.Error("secretbox key", "error", err)
		os.Exit(1)
	}

	signer, err := jwtsigner.NewFromBase64(cfg.SessionSigningKey, "mfa-1", cfg.Issuer)
	if err != nil {
		logger.Error("session signer", "error", err)
		os.Exit(1)
	}

	var limiter rate.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = rate.NewRedisLimiter(rdb, "", rate.Config{
			Window:  cfg.RateWindow,
			Cap:     int64(cfg.RateCap),
			Lockout: cfg.RateLockout,
		})
		logger.Info("rate limiter backend", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		limiter = rate.NewStoreLimiter(st, rate.Config{
			Window:  cfg.RateWindow,
			Cap:     int64(cfg.RateCap),
			Lockout: cfg.RateLockout,
		})
		logger.Info("rate limiter backend", "backend", "store")
	}

	audit := impl.NewAuditRecorder(st)

	accountSvc := impl.NewAccountServiceImpl(st)
	totpSvc := impl.NewTOTPServiceImpl(st, box, limiter, audit, cfg.Issuer, cfg.DriftSteps, cfg.MaxFailedAttempts, cfg.TOTPLockout)
	passkeySvc := impl.NewPasskeyServiceImpl(st, limiter, audit, signer, webauthn.RelyingParty{
		ID:      cfg.RPID,
		Origins: cfg.RPOrigins,
	}, cfg.ChallengeTTL, cfg.SessionTTL)

	var authMW func(http.Handler) http.Handler
	switch {
	case cfg.CallerSigningKey != "":
		logger.Info("caller auth", "mode", "hs256")
		authMW = authz.NewHMACValidator(cfg.CallerSigningKey, cfg.CallerIssuer).Middleware
	case cfg.CallerJWKSURL != "":
		logger.Info("caller auth", "mode", "jwks", "url", cfg.CallerJWKSURL)
		jv, err := authz.NewJWKSValidator(context.Background(), cfg.CallerJWKSURL, cfg.CallerIssuer)
		if err != nil {
			logger.Error("jwks validator", "error", err)
			os.Exit(1)
		}
		authMW = jv.Middleware
	default:
		logger.Error("no caller auth configured, set CALLER_SIGNING_KEY or CALLER_JWKS_URL")
		os.Exit(1)
	}

	// Background sweep for expired challenges and stale rate-limit rows.
	go func() {
		tick := time.NewTicker(10 * time.Minute)
		defer tick.Stop()
		for range tick.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			now := time.Now().UTC()
			if n, err := st.Challenges().PurgeExpired(ctx, now); err != nil {
				slog.Warn("challenge purge failed", "error", err)
			} else if n > 0 {
				slog.Info("expired challenges purged", "count", n)
			}
			cutoff := now.Add(-cfg.RateWindow - cfg.RateLockout)
			if n, err := st.RateLimits().PurgeStale(ctx, cutoff); err != nil {
				slog.Warn("rate limit purge failed", "error", err)
			} else if n > 0 {
				slog.Info("stale rate limit rows purged", "count", n)
			}
			cancel()
		}
	}()

	router := httpx.NewRouter(totpSvc, passkeySvc, accountSvc, signer, httpx.RouterConfig{
		TrustProxy:     cfg.TrustProxy,
		CORSOrigins:    cfg.RPOrigins,
		AuthMiddleware: authMW,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("mfa service listening", "addr", srv.Addr, "rp_id", cfg.RPID)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
