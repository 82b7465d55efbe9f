package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const assetLockKeyPrefix = "nftmarket:asset-lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares per-asset serialization between service instances.
// The TTL must outlast the longest critical section (chain confirmation
// timeout included); an expired lock is reported on release.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	maxDelay   time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		rdb:        rdb,
		ttl:        ttl,
		retryDelay: 10 * time.Millisecond,
		maxDelay:   250 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, assetID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", assetLockKeyPrefix, assetID)
	token := uuid.NewString()
	delay := l.retryDelay

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire lock for asset %d: %w", assetID, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > l.maxDelay {
			delay = l.maxDelay
		}
	}

	return func() {
		released, err := releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("asset_id", assetID).Warn("failed to release asset lock")
			return
		}
		if released == 0 {
			log.WithField("asset_id", assetID).Warn("asset lock expired before release")
		}
	}, nil
}
