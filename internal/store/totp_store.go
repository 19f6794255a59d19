package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mfa/internal/domain"
)

type TOTPStore struct{ db *gorm.DB }

func (s *Store) TOTP() *TOTPStore { return &TOTPStore{db: s.DB} }

func (ts *TOTPStore) GetByUser(ctx context.Context, userID domain.UserID) (*domain.TOTPEnrollment, error) {
	var out domain.TOTPEnrollment
	if err := ts.db.WithContext(ctx).First(&out, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Upsert replaces the enrollment row; re-running setup before first
// verification swaps in the new secret and resets all state.
func (ts *TOTPStore) Upsert(ctx context.Context, e *domain.TOTPEnrollment) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return ts.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret", "is_enabled", "verified_at", "failed_attempts",
			"locked_until", "last_used_counter", "last_used_at", "updated_at",
		}),
	}).Create(e).Error
}

// RecordFailure increments the failed-attempt counter atomically in SQL and
// returns the new total, so two concurrent wrong codes both count.
func (ts *TOTPStore) RecordFailure(ctx context.Context, userID domain.UserID) (int, error) {
	now := time.Now().UTC()
	res := ts.db.WithContext(ctx).Model(&domain.TOTPEnrollment{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"failed_attempts": gorm.Expr("failed_attempts + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrRecordNotFound
	}
	e, err := ts.GetByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return e.FailedAttempts, nil
}

// SetLock arms the account-level lockout.
func (ts *TOTPStore) SetLock(ctx context.Context, userID domain.UserID, until time.Time) error {
	return ts.db.WithContext(ctx).Model(&domain.TOTPEnrollment{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"locked_until": until.UTC(),
			"updated_at":   time.Now().UTC(),
		}).Error
}

// ConsumeCounter records a successful verification: stores the matched
// counter, clears failure state, and enables the enrollment if this is the
// first verification. The WHERE clause is the replay guard — if the same
// counter was already consumed inside the reuse window, no row matches and
// ErrStaleWrite comes back. This is the one mandatory mutual-exclusion point
// for TOTP: two concurrent submissions of the same code cannot both commit.
func (ts *TOTPStore) ConsumeCounter(ctx context.Context, userID domain.UserID, counter int64, reuseWindow time.Duration, enable bool) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"last_used_counter": counter,
		"last_used_at":      now,
		"failed_attempts":   0,
		"locked_until":      nil,
		"updated_at":        now,
	}
	if enable {
		updates["is_enabled"] = true
		updates["verified_at"] = now
	}
	res := ts.db.WithContext(ctx).Model(&domain.TOTPEnrollment{}).
		Where("user_id = ?", userID).
		Where("last_used_counter IS NULL OR last_used_counter <> ? OR last_used_at <= ?",
			counter, now.Add(-reuseWindow)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// ClearFailures resets the failure counter and lockout after a success that
// does not go through ConsumeCounter, such as a recovery-code redemption.
func (ts *TOTPStore) ClearFailures(ctx context.Context, userID domain.UserID) error {
	return ts.db.WithContext(ctx).Model(&domain.TOTPEnrollment{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (ts *TOTPStore) Delete(ctx context.Context, userID domain.UserID) error {
	return ts.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.TOTPEnrollment{}).Error
}
