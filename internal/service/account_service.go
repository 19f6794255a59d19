package service

import (
	"context"

	"mfa/internal/domain"
)

// AccountService covers cross-factor account operations.
type AccountService interface {
	// DeleteUserData removes every row tied to the user: enrollment,
	// recovery codes, passkeys, challenges, and audit history. Returns
	// per-table deletion counts.
	DeleteUserData(ctx context.Context, userID domain.UserID) (map[string]int64, error)
}
