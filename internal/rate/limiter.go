// Package rate guards request volume per (identifier, action): a sliding
// window of attempts with an escalating lockout once the cap is crossed.
// This is volume control only; account-level wrong-answer lockout lives with
// the TOTP state. Both checks apply and either one can block a request.
package rate

import (
	"context"
	"time"
)

const (
	DefaultWindow   = 60 * time.Second
	DefaultCap      = 10
	DefaultLockout  = 5 * time.Minute
	DefaultAttempts = 1
)

// Config carries the window policy; zero values fall back to defaults.
type Config struct {
	Window  time.Duration
	Cap     int64
	Lockout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.Lockout <= 0 {
		c.Lockout = DefaultLockout
	}
	return c
}

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether one more attempt for (identifier, action) is
// allowed right now. Implementations must be safe under concurrent calls for
// the same key; the decision rides on the backing store's atomicity, not on
// in-process locks.
type Limiter interface {
	Allow(ctx context.Context, identifier, action string) (Result, error)
}

// Key joins origin and principal so one row bounds both per-IP and
// per-account abuse.
func Key(ip, principal string) string {
	if principal == "" {
		return ip
	}
	return ip + "|" + principal
}
