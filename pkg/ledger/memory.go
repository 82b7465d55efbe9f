package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps the ledger in process memory. It backs the offline
// deployment and the engine tests; semantics match the Postgres store.
type memoryStore struct {
	mu         sync.RWMutex
	locker     Locker
	users      map[int64]User
	byExternal map[int64]int64
	assets     map[int64]Asset
	nextUser   int64
	nextAsset  int64
	now        func() time.Time
}

func NewMemoryStore(locker Locker) Store {
	if locker == nil {
		locker = NewLockTable()
	}
	return &memoryStore{
		locker:     locker,
		users:      make(map[int64]User),
		byExternal: make(map[int64]int64),
		assets:     make(map[int64]Asset),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) GetOrCreateUser(ctx context.Context, externalID int64, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byExternal[externalID]; ok {
		u := s.users[id]
		if displayName != "" && u.DisplayName != displayName {
			u.DisplayName = displayName
			s.users[id] = u
		}
		return u, nil
	}

	s.nextUser++
	u := User{
		ID:          s.nextUser,
		ExternalID:  externalID,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	s.users[u.ID] = u
	s.byExternal[externalID] = u.ID
	return u, nil
}

func (s *memoryStore) GetUser(ctx context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *memoryStore) GetUserByExternalID(ctx context.Context, externalID int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *memoryStore) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), int64(len(all)), nil
}

func (s *memoryStore) InsertAsset(ctx context.Context, a Asset) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[a.OwnerID]; !ok {
		return Asset{}, ErrUserNotFound
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return Asset{}, ErrInvalidStatus
	}
	if a.ListedPrice < 0 {
		return Asset{}, ErrNegativePrice
	}
	s.nextAsset++
	a = a.clone()
	a.ID = s.nextAsset
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	s.assets[a.ID] = a
	return a.clone(), nil
}

func (s *memoryStore) GetAsset(ctx context.Context, id int64) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return Asset{}, ErrAssetNotFound
	}
	return a.clone(), nil
}

func (s *memoryStore) WithAssetLock(ctx context.Context, id int64, fn SectionFunc) (Asset, error) {
	if id <= 0 {
		return Asset{}, ErrInvalidID
	}
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	before, err := s.GetAsset(ctx, id)
	if err != nil {
		return Asset{}, err
	}

	working := before.clone()
	if err := runSection(ctx, fn, &working); err != nil {
		return before, err
	}
	if err := checkTransition(before, working); err != nil {
		return before, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[working.OwnerID]; !ok {
		return before, ErrUserNotFound
	}
	working.ID = before.ID
	working.CreatedAt = before.CreatedAt
	working.UpdatedAt = s.now()
	s.assets[id] = working.clone()
	return working, nil
}

func (s *memoryStore) ListPurchasable(ctx context.Context, limit int) ([]Asset, error) {
	out := s.filter(func(a Asset) bool { return a.Purchasable() })
	sortNewestFirst(out)
	return page(out, clampLimit(limit), 0), nil
}

func (s *memoryStore) ListAssetsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Asset, int64, error) {
	out := s.filter(func(a Asset) bool { return a.OwnerID == ownerID })
	sortNewestFirst(out)
	return page(out, limit, offset), int64(len(out)), nil
}

func (s *memoryStore) ListAssetsByStatus(ctx context.Context, status AssetStatus, limit int) ([]Asset, error) {
	out := s.filter(func(a Asset) bool { return a.Status == status })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, clampLimit(limit), 0), nil
}

func (s *memoryStore) ListAssets(ctx context.Context, limit, offset int) ([]Asset, int64, error) {
	out := s.filter(func(Asset) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), int64(len(out)), nil
}

func (s *memoryStore) filter(keep func(Asset) bool) []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Asset, 0)
	for _, a := range s.assets {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

func sortNewestFirst(list []Asset) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

func page[T any](list []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
