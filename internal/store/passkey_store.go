package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mfa/internal/domain"
)

type PasskeyStore struct{ db *gorm.DB }

func (s *Store) Passkeys() *PasskeyStore { return &PasskeyStore{db: s.DB} }

func (ps *PasskeyStore) Create(ctx context.Context, c *domain.PasskeyCredential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return ps.db.WithContext(ctx).Create(c).Error
}

func (ps *PasskeyStore) GetByCredentialID(ctx context.Context, credentialID []byte) (*domain.PasskeyCredential, error) {
	var out domain.PasskeyCredential
	if err := ps.db.WithContext(ctx).First(&out, "credential_id = ?", credentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (ps *PasskeyStore) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.PasskeyCredential, error) {
	var out []domain.PasskeyCredential
	if err := ps.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AdvanceCounter commits a successful assertion: the sign counter moves from
// its observed value to the asserted one, compare-and-set on the old value so
// two concurrent assertions with the same counter cannot both succeed.
func (ps *PasskeyStore) AdvanceCounter(ctx context.Context, id domain.CredentialID, oldCount, newCount uint32) error {
	now := time.Now().UTC()
	res := ps.db.WithContext(ctx).Model(&domain.PasskeyCredential{}).
		Where("id = ? AND sign_count = ?", id, oldCount).
		Updates(map[string]any{
			"sign_count":   newCount,
			"last_used_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// Delete removes one credential belonging to the user. Credentials are never
// deleted automatically, only through this user-initiated path.
func (ps *PasskeyStore) Delete(ctx context.Context, userID domain.UserID, id domain.CredentialID) error {
	res := ps.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.PasskeyCredential{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
