package rate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mfa/internal/domain"
	"mfa/internal/rate"
	"mfa/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.RateLimitEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return store.New(db)
}

func TestStoreLimiterCapThenLockout(t *testing.T) {
	st := setupStore(t)
	limiter := rate.NewStoreLimiter(st, rate.Config{
		Window:  time.Minute,
		Cap:     10,
		Lockout: 5 * time.Minute,
	})
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := limiter.Allow(ctx, "192.0.2.1|alice", "totp.verify")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d within cap should be allowed", i)
		}
		if want := int64(10 - i); res.Remaining != want {
			t.Fatalf("attempt %d remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res, err := limiter.Allow(ctx, "192.0.2.1|alice", "totp.verify")
	if err != nil {
		t.Fatalf("11th attempt: %v", err)
	}
	if res.Allowed {
		t.Fatal("11th attempt in the window must be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("rejection must carry a positive retry-after, got %s", res.RetryAfter)
	}

	// Once locked, the reject comes from the lockout, not the window.
	res, err = limiter.Allow(ctx, "192.0.2.1|alice", "totp.verify")
	if err != nil {
		t.Fatalf("post-lock attempt: %v", err)
	}
	if res.Allowed {
		t.Fatal("locked key must stay rejected")
	}
}

func TestStoreLimiterKeysAreIndependent(t *testing.T) {
	st := setupStore(t)
	limiter := rate.NewStoreLimiter(st, rate.Config{Window: time.Minute, Cap: 2, Lockout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, "192.0.2.1|alice", "totp.verify")
	}
	res, err := limiter.Allow(ctx, "192.0.2.1|alice", "recovery.verify")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatal("a different action must have its own budget")
	}
	res, err = limiter.Allow(ctx, "198.51.100.9|bob", "totp.verify")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatal("a different identifier must have its own budget")
	}
}

func TestStoreLimiterWindowReset(t *testing.T) {
	st := setupStore(t)
	limiter := rate.NewStoreLimiter(st, rate.Config{Window: 50 * time.Millisecond, Cap: 1, Lockout: time.Minute})
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "k", "a"); !res.Allowed {
		t.Fatal("first attempt should pass")
	}

	time.Sleep(60 * time.Millisecond)

	res, err := limiter.Allow(ctx, "k", "a")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatal("attempt after window elapsed should reset the counter and pass")
	}
}

func TestKey(t *testing.T) {
	if got := rate.Key("192.0.2.1", "alice"); got != "192.0.2.1|alice" {
		t.Fatalf("key = %q", got)
	}
	if got := rate.Key("192.0.2.1", ""); got != "192.0.2.1" {
		t.Fatalf("key without principal = %q", got)
	}
}
