package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mfa/internal/domain"
)

type AuditStore struct{ db *gorm.DB }

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.DB} }

// Append writes one immutable event row. No update or delete paths exist on
// this store outside the user-data purge.
func (as *AuditStore) Append(ctx context.Context, ev *domain.AuditLog) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return as.db.WithContext(ctx).Create(ev).Error
}

func (as *AuditStore) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []domain.AuditLog
	if err := as.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
