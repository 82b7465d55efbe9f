package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAssetNotFound    = errors.New("asset not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrTokenIDImmutable = errors.New("onchain token id cannot change once set")
	ErrContentImmutable = errors.New("content address cannot change once set")
	ErrOwnerRequired    = errors.New("asset must have an owner")
	ErrInvalidStatus    = errors.New("invalid asset status")
	ErrNegativePrice    = errors.New("listed price cannot be negative")
)

// SectionFunc runs inside a per-asset critical section. It receives a private
// copy of the current row; the store persists the copy only if fn returns nil.
type SectionFunc func(ctx context.Context, a *Asset) error

type Store interface {
	GetOrCreateUser(ctx context.Context, externalID int64, displayName string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByExternalID(ctx context.Context, externalID int64) (User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error)

	InsertAsset(ctx context.Context, a Asset) (Asset, error)
	// GetAsset is a display-only read. Never use its result as the basis of a mutation.
	GetAsset(ctx context.Context, id int64) (Asset, error)
	WithAssetLock(ctx context.Context, id int64, fn SectionFunc) (Asset, error)

	ListPurchasable(ctx context.Context, limit int) ([]Asset, error)
	ListAssetsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Asset, int64, error)
	ListAssetsByStatus(ctx context.Context, status AssetStatus, limit int) ([]Asset, error)
	ListAssets(ctx context.Context, limit, offset int) ([]Asset, int64, error)
}

// checkTransition enforces the row invariants a critical section may not break.
func checkTransition(before, after Asset) error {
	if after.OwnerID <= 0 {
		return ErrOwnerRequired
	}
	if !after.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, after.Status)
	}
	if after.ContentURI != before.ContentURI {
		return ErrContentImmutable
	}
	if before.OnchainTokenID != nil {
		if after.OnchainTokenID == nil || *after.OnchainTokenID != *before.OnchainTokenID {
			return ErrTokenIDImmutable
		}
	}
	if after.ListedPrice < 0 {
		return ErrNegativePrice
	}
	return nil
}

// runSection invokes fn and turns a panic into an error so the caller rolls back.
func runSection(ctx context.Context, fn SectionFunc, a *Asset) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("critical section panicked: %v", r)
		}
	}()
	return fn(ctx, a)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 100 {
		return 100
	}
	return limit
}
