// Package service implements the token blacklist: revocation with explicit expiry,
// lazy expiry on read and a periodic bulk sweep.
package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/revocation/domain"
	"ams-control-plane/backend/internal/revocation/repository"
	"ams-control-plane/backend/internal/security"
)

var tracer = otel.Tracer("ams-control-plane/backend/internal/revocation")

// Blacklist tracks revoked tokens until their natural expiry.
//
// Positive lookups are cached in-process until the entry expires; negatives are
// never cached, so a revoke on another instance takes effect on the next check.
type Blacklist struct {
	repo  repository.Repository
	cache *gocache.Cache
	nowF  func() time.Time
}

// NewBlacklist returns a Blacklist over repo.
func NewBlacklist(repo repository.Repository) *Blacklist {
	return &Blacklist{
		repo:  repo,
		cache: gocache.New(gocache.NoExpiration, time.Minute),
		nowF:  time.Now,
	}
}

// WithClock makes b read time from nowF and returns b. Used by tests.
func (b *Blacklist) WithClock(nowF func() time.Time) *Blacklist {
	b.nowF = nowF
	return b
}

// Revoke records token as unusable for ttl from now. Revoking an already revoked
// token is a no-op. A non-positive ttl means the token is already past its expiry
// and nothing is stored.
func (b *Blacklist) Revoke(ctx context.Context, token string, ttl time.Duration, reason string) error {
	ctx, span := tracer.Start(ctx, "blacklist.Revoke")
	defer span.End()

	if ttl <= 0 {
		return nil
	}
	now := b.nowF().UTC()
	entry := &domain.RevokedToken{
		TokenHash: security.HashToken(token),
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
		CreatedAt: now,
	}
	inserted, err := b.repo.Insert(ctx, entry)
	if err != nil {
		return apperr.Storage("blacklist.revoke", err)
	}
	if inserted {
		metrics.TokensRevoked.Inc()
		b.cache.Set(entry.TokenHash, entry.ExpiresAt, ttl)
	}
	return nil
}

// IsRevoked reports whether token is currently revoked. An entry whose expiry has
// passed counts as absent and is deleted on the way out. Storage failures return
// an error wrapping apperr.ErrStorageUnavailable; callers must treat that as revoked.
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "blacklist.IsRevoked")
	defer span.End()

	key := security.HashToken(token)
	now := b.nowF()
	if v, ok := b.cache.Get(key); ok {
		if exp, _ := v.(time.Time); exp.After(now) {
			metrics.BlacklistCacheHits.Inc()
			return true, nil
		}
		b.cache.Delete(key)
	}

	entry, err := b.repo.Get(ctx, key)
	if err != nil {
		return false, apperr.Storage("blacklist.lookup", err)
	}
	if entry == nil {
		return false, nil
	}
	if entry.Expired(now) {
		if err := b.repo.Delete(ctx, key); err != nil {
			logger.From(ctx).Warn("blacklist: lazy delete failed", logger.Err(err))
		}
		return false, nil
	}
	b.cache.Set(key, entry.ExpiresAt, entry.ExpiresAt.Sub(now))
	return true, nil
}

// Sweep bulk-deletes every expired entry and returns the number removed.
func (b *Blacklist) Sweep(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "blacklist.Sweep")
	defer span.End()

	n, err := b.repo.DeleteExpired(ctx, b.nowF().UTC())
	if err != nil {
		return 0, apperr.Storage("blacklist.sweep", err)
	}
	b.cache.DeleteExpired()
	if n > 0 {
		metrics.SweepDeleted.WithLabelValues("revoked_tokens").Add(float64(n))
	}
	return n, nil
}
