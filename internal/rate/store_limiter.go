package rate

import (
	"context"
	"errors"
	"time"

	"mfa/internal/domain"
	"mfa/internal/store"
)

const casRetries = 3

// StoreLimiter keeps window state in the keyed store and advances it with
// optimistic compare-and-set, so stateless replicas share one budget.
type StoreLimiter struct {
	store *store.Store
	cfg   Config
}

func NewStoreLimiter(st *store.Store, cfg Config) *StoreLimiter {
	return &StoreLimiter{store: st, cfg: cfg.withDefaults()}
}

func (l *StoreLimiter) Allow(ctx context.Context, identifier, action string) (Result, error) {
	now := time.Now().UTC()
	rls := l.store.RateLimits()

	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := rls.Get(ctx, identifier, action)
		if errors.Is(err, store.ErrRecordNotFound) {
			fresh := &domain.RateLimitEntry{
				Identifier:     identifier,
				Action:         action,
				Attempts:       DefaultAttempts,
				FirstAttemptAt: now,
				LastAttemptAt:  now,
			}
			created, err := rls.Insert(ctx, fresh)
			if err != nil {
				return Result{}, err
			}
			if created {
				return Result{Allowed: true, Remaining: l.cfg.Cap - 1}, nil
			}
			continue // lost the insert race, re-read
		}
		if err != nil {
			return Result{}, err
		}

		next, res := l.advance(*entry, now)
		if !res.Allowed && next == nil {
			// Rejected without a state change (existing lockout).
			return res, nil
		}
		swapped, err := rls.CompareAndSwap(ctx, next, entry.Attempts)
		if err != nil {
			return Result{}, err
		}
		if swapped {
			return res, nil
		}
	}
	// Contention exhausted the retries; failing closed here is the safe
	// side for an abuse guard.
	return Result{Allowed: false, RetryAfter: l.cfg.Window}, nil
}

// advance computes the post-attempt state and verdict. A nil next entry
// means nothing needs writing.
func (l *StoreLimiter) advance(e domain.RateLimitEntry, now time.Time) (*domain.RateLimitEntry, Result) {
	if e.LockedUntil != nil && e.LockedUntil.After(now) {
		return nil, Result{Allowed: false, RetryAfter: e.LockedUntil.Sub(now).Round(time.Second)}
	}

	windowElapsed := now.Sub(e.FirstAttemptAt) >= l.cfg.Window
	if windowElapsed {
		e.Attempts = DefaultAttempts
		e.FirstAttemptAt = now
		e.LastAttemptAt = now
		e.LockedUntil = nil
		return &e, Result{Allowed: true, Remaining: l.cfg.Cap - 1}
	}

	e.Attempts++
	e.LastAttemptAt = now
	if e.Attempts > l.cfg.Cap {
		until := now.Add(l.cfg.Lockout)
		e.LockedUntil = &until
		return &e, Result{Allowed: false, RetryAfter: l.cfg.Lockout}
	}
	return &e, Result{Allowed: true, Remaining: l.cfg.Cap - e.Attempts}
}
