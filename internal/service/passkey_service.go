package service

import (
	"context"

	"mfa/internal/domain"
	"mfa/internal/dto"
)

type PasskeyService interface {
	BeginRegistration(ctx context.Context, userID domain.UserID, meta RequestMeta) (*dto.PasskeyChallengeResponse, error)
	FinishRegistration(ctx context.Context, userID domain.UserID, r dto.PasskeyRegisterRequest, meta RequestMeta) (*dto.PasskeyRegisterResponse, error)

	// BeginAuthentication issues a challenge usable by any of the user's
	// credentials. A nil userID requests a discoverable-credential flow.
	BeginAuthentication(ctx context.Context, userID *domain.UserID, meta RequestMeta) (*dto.PasskeyChallengeResponse, error)
	FinishAuthentication(ctx context.Context, r dto.PasskeyAssertRequest, meta RequestMeta) (*dto.PasskeyAssertResponse, error)

	List(ctx context.Context, userID domain.UserID) (*dto.PasskeyListResponse, error)
	Delete(ctx context.Context, userID domain.UserID, credentialID []byte, meta RequestMeta) error
}
