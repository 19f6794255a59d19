package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mfa/internal/domain"
)

type RecoveryCodeStore struct{ db *gorm.DB }

func (s *Store) RecoveryCodes() *RecoveryCodeStore { return &RecoveryCodeStore{db: s.DB} }

// ReplaceAll swaps the user's full code set: old codes (used or not) are
// dropped and the new hashes inserted. Runs inside the caller's transaction.
func (rs *RecoveryCodeStore) ReplaceAll(ctx context.Context, userID domain.UserID, hashes [][]byte) error {
	db := rs.db.WithContext(ctx)
	if err := db.Where("user_id = ?", userID).Delete(&domain.RecoveryCode{}).Error; err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.RecoveryCode, 0, len(hashes))
	for _, h := range hashes {
		rows = append(rows, domain.RecoveryCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  h,
			CreatedAt: now,
		})
	}
	return db.Create(&rows).Error
}

// ListByUser returns every code row, consumed or not. The caller scans all of
// them so timing does not reveal which entry matched.
func (rs *RecoveryCodeStore) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.RecoveryCode, error) {
	var out []domain.RecoveryCode
	if err := rs.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Consume marks one code used, but only if it is still unused: the used_at
// guard makes this a check-and-set, so a concurrent duplicate submission
// loses with ErrStaleWrite.
func (rs *RecoveryCodeStore) Consume(ctx context.Context, id domain.CredentialID) error {
	res := rs.db.WithContext(ctx).Model(&domain.RecoveryCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (rs *RecoveryCodeStore) DeleteByUser(ctx context.Context, userID domain.UserID) error {
	return rs.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.RecoveryCode{}).Error
}
