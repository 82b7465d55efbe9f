package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const assetColumns = `id, owner_id, name, metadata, content_uri, onchain_token_id, listed_price, status, mint_tx, failure_reason, created_at, updated_at`

const userColumns = `id, external_id, display_name, created_at`

type postgresStore struct {
	pool   *pgxpool.Pool
	locker Locker
	// sections bounds how many locked sections hold a connection at once.
	sections chan struct{}
}

func NewPostgresStore(pool *pgxpool.Pool, locker Locker) Store {
	if locker == nil {
		locker = NewLockTable()
	}
	slots := sectionSlots(pool.Config().MaxConns)
	log.WithFields(log.Fields{"max_conns": pool.Config().MaxConns, "section_slots": slots}).Debug("ledger store ready")
	return &postgresStore{pool: pool, locker: locker, sections: make(chan struct{}, slots)}
}

// sectionSlots keeps a quarter of the pool, and at least one connection, free
// for plain reads. A section holds its transaction across chain round trips.
func sectionSlots(maxConns int32) int {
	reserve := max(1, maxConns/4)
	return int(max(1, maxConns-reserve))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func scanAsset(row rowScanner) (Asset, error) {
	var a Asset
	var status string
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Metadata, &a.ContentURI, &a.OnchainTokenID,
		&a.ListedPrice, &status, &a.MintTx, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrAssetNotFound
		}
		return Asset{}, err
	}
	a.Status = AssetStatus(status)
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	return a, nil
}

func (r *postgresStore) GetOrCreateUser(ctx context.Context, externalID int64, displayName string) (User, error) {
	u, err := r.GetUserByExternalID(ctx, externalID)
	if err == nil {
		if displayName == "" || u.DisplayName == displayName {
			return u, nil
		}
		row := r.pool.QueryRow(ctx, `UPDATE users SET display_name = $1 WHERE id = $2 RETURNING `+userColumns, displayName, u.ID)
		return scanUser(row)
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	query := `INSERT INTO users (external_id, display_name, created_at)
              VALUES ($1, $2, NOW())
              ON CONFLICT (external_id) DO NOTHING
              RETURNING ` + userColumns
	u, err = scanUser(r.pool.QueryRow(ctx, query, externalID, displayName))
	if err == nil {
		return u, nil
	}

	// A concurrent first contact won the insert; read its row instead.
	var pgErr *pgconn.PgError
	if errors.Is(err, ErrUserNotFound) || (errors.As(err, &pgErr) && pgErr.Code == "23505") {
		log.WithField("external_id", externalID).Debug("user created concurrently, falling back to read")
		return r.GetUserByExternalID(ctx, externalID)
	}
	return User{}, err
}

func (r *postgresStore) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *postgresStore) GetUserByExternalID(ctx context.Context, externalID int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
}

func (r *postgresStore) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT NULLIF($1, 0) OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *postgresStore) InsertAsset(ctx context.Context, a Asset) (Asset, error) {
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return Asset{}, ErrInvalidStatus
	}
	if a.ListedPrice < 0 {
		return Asset{}, ErrNegativePrice
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}

	query := `INSERT INTO assets (owner_id, name, metadata, content_uri, onchain_token_id, listed_price, status, mint_tx, failure_reason, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
              RETURNING ` + assetColumns
	row := r.pool.QueryRow(ctx, query, a.OwnerID, a.Name, a.Metadata, a.ContentURI, a.OnchainTokenID,
		a.ListedPrice, string(a.Status), a.MintTx, a.FailureReason)
	created, err := scanAsset(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Asset{}, ErrUserNotFound
		}
		return Asset{}, err
	}
	return created, nil
}

func (r *postgresStore) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
}

func (r *postgresStore) WithAssetLock(ctx context.Context, id int64, fn SectionFunc) (Asset, error) {
	if id <= 0 {
		return Asset{}, ErrInvalidID
	}
	unlock, err := r.locker.Lock(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	defer unlock()

	select {
	case r.sections <- struct{}{}:
	case <-ctx.Done():
		return Asset{}, ctx.Err()
	}
	defer func() { <-r.sections }()
	ctx = context.WithoutCancel(ctx)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Asset{}, err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.WithError(err).WithField("asset_id", id).Warn("rollback failed")
		}
	}()

	before, err := scanAsset(tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id))
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

	query := `UPDATE assets
              SET owner_id = $1, name = $2, metadata = $3, onchain_token_id = $4, listed_price = $5,
                  status = $6, mint_tx = $7, failure_reason = $8, updated_at = NOW()
              WHERE id = $9
              RETURNING ` + assetColumns
	updated, err := scanAsset(tx.QueryRow(ctx, query, working.OwnerID, working.Name, working.Metadata,
		working.OnchainTokenID, working.ListedPrice, string(working.Status), working.MintTx,
		working.FailureReason, id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return before, ErrUserNotFound
		}
		return before, err
	}

	if err := tx.Commit(ctx); err != nil {
		return before, err
	}
	return updated, nil
}

func (r *postgresStore) ListPurchasable(ctx context.Context, limit int) ([]Asset, error) {
	query := `SELECT ` + assetColumns + `
              FROM assets
              WHERE status = 'active' AND listed_price > 0
              ORDER BY created_at DESC, id DESC
              LIMIT $1`
	return r.queryAssets(ctx, query, clampLimit(limit))
}

func (r *postgresStore) ListAssetsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Asset, int64, error) {
	query := `SELECT ` + assetColumns + `
              FROM assets
              WHERE owner_id = $1
              ORDER BY created_at DESC, id DESC
              LIMIT NULLIF($2, 0) OFFSET $3`
	list, err := r.queryAssets(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assets WHERE owner_id = $1", ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *postgresStore) ListAssetsByStatus(ctx context.Context, status AssetStatus, limit int) ([]Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE status = $1 ORDER BY id LIMIT $2`
	return r.queryAssets(ctx, query, string(status), clampLimit(limit))
}

func (r *postgresStore) ListAssets(ctx context.Context, limit, offset int) ([]Asset, int64, error) {
	list, err := r.queryAssets(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id LIMIT NULLIF($1, 0) OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assets").Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *postgresStore) queryAssets(ctx context.Context, query string, args ...any) ([]Asset, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
