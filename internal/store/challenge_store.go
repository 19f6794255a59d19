package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mfa/internal/domain"
)

type ChallengeStore struct{ db *gorm.DB }

func (s *Store) Challenges() *ChallengeStore { return &ChallengeStore{s.DB} }

func (cs *ChallengeStore) Create(ctx context.Context, c *domain.Challenge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return cs.db.WithContext(ctx).Create(c).Error
}

// Consume fetches and deletes a challenge in one transaction. The row is
// gone after the first verification attempt against it, whatever the
// outcome; expiry is the caller's check, performed on the returned row.
func (cs *ChallengeStore) Consume(ctx context.Context, id domain.ChallengeID) (*domain.Challenge, error) {
	var out domain.Challenge
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Challenge{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeExpired is housekeeping; expired challenges already fail closed at
// consume time, this just keeps the table small.
func (cs *ChallengeStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := cs.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&domain.Challenge{})
	return res.RowsAffected, res.Error
}
