package store

import (
	"context"

	"gorm.io/gorm"

	"mfa/internal/domain"
)

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

// AutoMigrate creates or updates every table this service owns.
func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&domain.TOTPEnrollment{},
		&domain.RecoveryCode{},
		&domain.PasskeyCredential{},
		&domain.Challenge{},
		&domain.RateLimitEntry{},
		&domain.AuditLog{},
	)
}
