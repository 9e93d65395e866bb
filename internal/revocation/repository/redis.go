package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/revocation/domain"
)

const redisKeyPrefix = "revoked:"

// RedisRepository stores revoked tokens as keys with a native TTL. The value is the
// expiry in unix milliseconds so Get can report it without a second round trip.
type RedisRepository struct {
	rdb  redis.UniversalClient
	nowF func() time.Time
}

// NewRedisRepository returns a revocation repository backed by rdb.
func NewRedisRepository(rdb redis.UniversalClient) *RedisRepository {
	return &RedisRepository{rdb: rdb, nowF: time.Now}
}

// Insert uses SET NX so a second revoke of the same token is a no-op.
func (r *RedisRepository) Insert(ctx context.Context, t *domain.RevokedToken) (bool, error) {
	ttl := t.ExpiresAt.Sub(r.nowF())
	if ttl <= 0 {
		return false, nil
	}
	ok, err := r.rdb.SetNX(ctx, redisKeyPrefix+t.TokenHash, strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10), ttl).Result()
	if err != nil {
		return false, apperr.Storage("revocation.insert", err)
	}
	return ok, nil
}

// Get returns the entry for tokenHash, or nil if the key is absent or already expired.
func (r *RedisRepository) Get(ctx context.Context, tokenHash string) (*domain.RevokedToken, error) {
	v, err := r.rdb.Get(ctx, redisKeyPrefix+tokenHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperr.Storage("revocation.get", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, apperr.Storage("revocation.get", err)
	}
	return &domain.RevokedToken{TokenHash: tokenHash, ExpiresAt: time.UnixMilli(ms).UTC()}, nil
}

// Delete removes the key for tokenHash.
func (r *RedisRepository) Delete(ctx context.Context, tokenHash string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+tokenHash).Err(); err != nil {
		return apperr.Storage("revocation.delete", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts keys when their TTL elapses.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
