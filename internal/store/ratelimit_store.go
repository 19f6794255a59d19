package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mfa/internal/domain"
)

type RateLimitStore struct{ db *gorm.DB }

func (s *Store) RateLimits() *RateLimitStore { return &RateLimitStore{db: s.DB} }

func (rl *RateLimitStore) Get(ctx context.Context, identifier, action string) (*domain.RateLimitEntry, error) {
	var out domain.RateLimitEntry
	if err := rl.db.WithContext(ctx).
		First(&out, "identifier = ? AND action = ?", identifier, action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Insert creates the first-window entry; on conflict it does nothing and
// reports false so the caller re-reads and retries its compare-and-set.
func (rl *RateLimitStore) Insert(ctx context.Context, e *domain.RateLimitEntry) (bool, error) {
	res := rl.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompareAndSwap writes the new window state only if the attempt count is
// still what the caller observed. Two racing requests cannot both take the
// last slot under the cap: one of them sees zero rows affected and retries
// against the updated row.
func (rl *RateLimitStore) CompareAndSwap(ctx context.Context, e *domain.RateLimitEntry, observedAttempts int64) (bool, error) {
	res := rl.db.WithContext(ctx).Model(&domain.RateLimitEntry{}).
		Where("identifier = ? AND action = ? AND attempts = ?", e.Identifier, e.Action, observedAttempts).
		Updates(map[string]any{
			"attempts":         e.Attempts,
			"first_attempt_at": e.FirstAttemptAt,
			"last_attempt_at":  e.LastAttemptAt,
			"locked_until":     e.LockedUntil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PurgeStale drops entries whose window and lockout both ended before cutoff.
func (rl *RateLimitStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := rl.db.WithContext(ctx).
		Where("last_attempt_at < ? AND (locked_until IS NULL OR locked_until < ?)", cutoff.UTC(), cutoff.UTC()).
		Delete(&domain.RateLimitEntry{})
	return res.RowsAffected, res.Error
}
