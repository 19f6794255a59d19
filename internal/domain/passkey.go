package domain

import "time"

type PasskeyCredential struct {
	ID           CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID       UserID       `gorm:"type:uuid;index" db:"user_id"`
	CredentialID []byte       `gorm:"type:bytea;uniqueIndex:ux_passkey_credid" db:"credential_id"`
	PublicKey    []byte       `gorm:"type:bytea;not null" db:"public_key"` // COSE_Key bytes
	SignCount    uint32       `gorm:"not null;default:0" db:"sign_count"`
	AAGUID       []byte       `gorm:"type:bytea" db:"aaguid"`
	DeviceType   string       `gorm:"type:text" db:"device_type"` // "single_device" | "multi_device"
	BackedUp     bool         `gorm:"not null;default:false" db:"backed_up"`
	Transports   string       `gorm:"type:text" db:"transports"` // comma-separated
	LastUsedAt   *time.Time   `gorm:"type:timestamp" db:"last_used_at"`
	CreatedAt    time.Time    `gorm:"not null" db:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" db:"updated_at"`
}

func (PasskeyCredential) TableName() string { return "passkey_credentials" }

const (
	ChallengeKindRegistration   = "registration"
	ChallengeKindAuthentication = "authentication"

	// SubjectDiscoverable marks an authentication challenge issued without an
	// identity hint; the client resolves which credential to use.
	SubjectDiscoverable = "discoverable"
)

// Challenge is single-use: it is consumed (deleted) on the first verification
// attempt against it, whatever the outcome.
type Challenge struct {
	ID         ChallengeID `gorm:"type:uuid;primaryKey" db:"id"`
	SubjectKey string      `gorm:"type:text;not null;index" db:"subject_key"`
	Challenge  []byte      `gorm:"type:bytea;not null" db:"challenge"`
	Kind       string      `gorm:"type:text;not null" db:"kind"`
	ExpiresAt  time.Time   `gorm:"not null" db:"expires_at"`
	CreatedAt  time.Time   `gorm:"not null" db:"created_at"`
}

func (Challenge) TableName() string { return "challenges" }

func (c *Challenge) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }
