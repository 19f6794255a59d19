package service

import (
	"context"

	"mfa/internal/domain"
	"mfa/internal/dto"
)

// RequestMeta carries caller coordinates through the service layer for rate
// limiting and audit. IP is already normalized by the transport.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type TOTPService interface {
	// Setup provisions a fresh secret. The enrollment stays pending until
	// the first successful Verify, which also issues the recovery codes.
	Setup(ctx context.Context, userID domain.UserID, meta RequestMeta) (*dto.TOTPSetupResponse, error)
	Verify(ctx context.Context, userID domain.UserID, code string, meta RequestMeta) (*dto.TOTPVerifyResponse, error)
	Disable(ctx context.Context, userID domain.UserID, code string, meta RequestMeta) error
	// RegenerateRecoveryCodes requires a valid current TOTP code.
	RegenerateRecoveryCodes(ctx context.Context, userID domain.UserID, code string, meta RequestMeta) (*dto.RecoveryRegenerateResponse, error)
	VerifyRecoveryCode(ctx context.Context, userID domain.UserID, code string, meta RequestMeta) (*dto.RecoveryVerifyResponse, error)
}
