package users

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/ledger"
)

type UserService interface {
	// GetOrCreateUser registers a chat account on first contact.
	GetOrCreateUser(ctx context.Context, externalID int64, displayName string) (ledger.User, error)
	GetUserByID(ctx context.Context, id int64) (ledger.User, error)
	GetUserByExternalID(ctx context.Context, externalID int64) (ledger.User, error)
	ListUsers(ctx context.Context, page, limit int) ([]ledger.User, int64, error)
	GetProfile(ctx context.Context, id int64, page, limit int) (Profile, error)
}

type userService struct {
	store ledger.Store
}

func NewUserService(store ledger.Store) UserService {
	return &userService{store: store}
}

func (s *userService) GetOrCreateUser(ctx context.Context, externalID int64, displayName string) (ledger.User, error) {
	if externalID <= 0 {
		return ledger.User{}, ErrInvalidExternalID
	}
	displayName = strings.TrimSpace(displayName)
	if r := []rune(displayName); len(r) > maxDisplayNameLength {
		displayName = string(r[:maxDisplayNameLength])
	}

	u, err := s.store.GetOrCreateUser(ctx, externalID, displayName)
	if err != nil {
		return ledger.User{}, err
	}
	log.WithFields(log.Fields{"user_id": u.ID, "external_id": externalID}).Debug("user resolved")
	return u, nil
}

func (s *userService) GetUserByID(ctx context.Context, id int64) (ledger.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *userService) GetUserByExternalID(ctx context.Context, externalID int64) (ledger.User, error) {
	if externalID <= 0 {
		return ledger.User{}, ErrInvalidExternalID
	}
	return s.store.GetUserByExternalID(ctx, externalID)
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]ledger.User, int64, error) {
	_, limit, offset := paginate(page, limit)
	return s.store.ListUsers(ctx, limit, offset)
}

func (s *userService) GetProfile(ctx context.Context, id int64, page, limit int) (Profile, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	page, limit, offset := paginate(page, limit)
	items, total, err := s.store.ListAssetsByOwner(ctx, id, limit, offset)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		User:   u,
		Assets: ledger.AssetList{Items: items, Total: total, Page: page, Limit: limit},
	}, nil
}

func paginate(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit, (page - 1) * limit
}
