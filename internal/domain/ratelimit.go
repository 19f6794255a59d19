package domain

import "time"

// RateLimitEntry is one sliding-window counter per (identifier, action).
// Identifier is typically "ip|userID" so both per-origin and per-account
// volume are bounded by the same row.
type RateLimitEntry struct {
	Identifier     string     `gorm:"type:text;primaryKey" db:"identifier"`
	Action         string     `gorm:"type:text;primaryKey" db:"action"`
	Attempts       int64      `gorm:"not null;default:0" db:"attempts"`
	FirstAttemptAt time.Time  `gorm:"not null" db:"first_attempt_at"`
	LastAttemptAt  time.Time  `gorm:"not null" db:"last_attempt_at"`
	LockedUntil    *time.Time `gorm:"type:timestamp" db:"locked_until"`
}

func (RateLimitEntry) TableName() string { return "rate_limit_entries" }
