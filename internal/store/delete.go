package store

import (
	"context"

	"mfa/internal/domain"
)

// DeleteUserData removes every second-factor record the user owns and
// returns per-table counts captured before deletion. Used by the disable
// flow and by account-deletion requests from the identity service.
func (s *Store) DeleteUserData(ctx context.Context, userID domain.UserID) (map[string]int64, error) {
	deleted := map[string]int64{}

	err := s.WithTx(ctx, func(tx *Store) error {
		db := tx.DB.WithContext(ctx)

		targets := []struct {
			label string
			model any
		}{
			{"totpEnrollments", &domain.TOTPEnrollment{}},
			{"recoveryCodes", &domain.RecoveryCode{}},
			{"passkeyCredentials", &domain.PasskeyCredential{}},
			{"auditLogs", &domain.AuditLog{}},
		}

		for _, target := range targets {
			var total int64
			if err := db.Model(target.model).Where("user_id = ?", userID).Count(&total).Error; err != nil {
				return err
			}
			deleted[target.label] = total
		}

		for _, target := range targets {
			if err := db.Where("user_id = ?", userID).Delete(target.model).Error; err != nil {
				return err
			}
		}

		// Pending challenges are keyed by subject string, not a column FK.
		res := db.Where("subject_key = ?", userID.String()).Delete(&domain.Challenge{})
		if res.Error != nil {
			return res.Error
		}
		deleted["challenges"] = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
