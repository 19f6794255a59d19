package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types form a closed set; transport and services must not invent
// new strings on the fly.
const (
	EventTOTPSetup           = "totp.setup"
	EventTOTPVerify          = "totp.verify"
	EventTOTPDisable         = "totp.disable"
	EventRecoveryRegenerate  = "recovery.regenerate"
	EventRecoveryVerify      = "recovery.verify"
	EventPasskeyChallenge    = "passkey.challenge"
	EventPasskeyRegister     = "passkey.register"
	EventPasskeyAuthenticate = "passkey.authenticate"
	EventPasskeyDelete       = "passkey.delete"
)

// AuditLog rows are append-only; nothing in this service mutates or deletes
// them except the user-data purge.
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID    *UserID   `gorm:"type:uuid;index" db:"user_id"`
	EventType string    `gorm:"type:text;not null" db:"event_type"`
	Success   bool      `gorm:"not null" db:"success"`
	IP        string    `gorm:"type:text" db:"ip"`
	UserAgent string    `gorm:"type:text" db:"user_agent"`
	Metadata  []byte    `gorm:"type:jsonb" db:"metadata"`
	CreatedAt time.Time `gorm:"not null" db:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
