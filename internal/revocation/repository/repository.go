package repository

import (
	"context"
	"time"

	"ams-control-plane/backend/internal/revocation/domain"
)

// Repository defines persistence for revoked tokens. Implementations return
// (nil, nil) from Get for a missing entry and a non-nil error only for storage failures.
type Repository interface {
	// Insert stores t unless an entry for t.TokenHash already exists. Reports whether a row was written.
	Insert(ctx context.Context, t *domain.RevokedToken) (bool, error)
	Get(ctx context.Context, tokenHash string) (*domain.RevokedToken, error)
	Delete(ctx context.Context, tokenHash string) error
	// DeleteExpired removes every entry with expires_at <= now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
