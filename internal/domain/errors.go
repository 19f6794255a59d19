package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotConfigured      = errors.New("not configured")
	ErrAlreadyConfigured  = errors.New("already configured")
	ErrChallengeExpired   = errors.New("challenge expired or missing")
	ErrVerificationFailed = errors.New("verification failed")
	ErrReplayDetected     = errors.New("replay detected")
	ErrRateLimited        = errors.New("rate limited")
	ErrLocked             = errors.New("account locked")
	ErrStorageFailure     = errors.New("storage failure")
)

// RateLimitedError carries the retry-after hint alongside the ErrRateLimited
// sentinel so transport can surface it in the response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// LockedError carries the remaining lockout on account-level lockouts.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }
