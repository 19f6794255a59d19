package domain

import "time"

// TOTPEnrollment holds the per-user TOTP state. Secret is sealed with the
// service master key before it ever reaches the store; the plaintext is
// returned to the caller exactly once, at setup.
type TOTPEnrollment struct {
	UserID          UserID     `gorm:"type:uuid;primaryKey" db:"user_id"`
	Secret          []byte     `gorm:"type:bytea;not null" db:"secret"`
	IsEnabled       bool       `gorm:"not null;default:false" db:"is_enabled"`
	VerifiedAt      *time.Time `gorm:"type:timestamp" db:"verified_at"`
	FailedAttempts  int        `gorm:"not null;default:0" db:"failed_attempts"`
	LockedUntil     *time.Time `gorm:"type:timestamp" db:"locked_until"`
	LastUsedCounter *int64     `db:"last_used_counter"`
	LastUsedAt      *time.Time `gorm:"type:timestamp" db:"last_used_at"`
	CreatedAt       time.Time  `gorm:"not null" db:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" db:"updated_at"`
}

func (TOTPEnrollment) TableName() string { return "totp_enrollments" }

// Locked reports whether the account-level lockout is still in force at now.
func (e *TOTPEnrollment) Locked(now time.Time) bool {
	return e.LockedUntil != nil && e.LockedUntil.After(now)
}

type RecoveryCode struct {
	ID        CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID    UserID       `gorm:"type:uuid;index" db:"user_id"`
	CodeHash  []byte       `gorm:"type:bytea;not null" db:"code_hash"`
	UsedAt    *time.Time   `gorm:"type:timestamp" db:"used_at"`
	CreatedAt time.Time    `gorm:"not null" db:"created_at"`
}

func (RecoveryCode) TableName() string { return "recovery_codes" }
