package impl

import (
	"context"
	"fmt"
	"log/slog"

	"mfa/internal/domain"
	"mfa/internal/service"
	"mfa/internal/store"
)

type AccountServiceImpl struct {
	Store *store.Store
}

func NewAccountServiceImpl(st *store.Store) *AccountServiceImpl {
	return &AccountServiceImpl{Store: st}
}

var _ service.AccountService = (*AccountServiceImpl)(nil)

func (s *AccountServiceImpl) DeleteUserData(ctx context.Context, userID domain.UserID) (map[string]int64, error) {
	counts, err := s.Store.DeleteUserData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	slog.Info("user data purged", "user_id", userID, "counts", counts)
	return counts, nil
}
