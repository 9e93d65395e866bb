package repository

import (
	"context"
	"errors"
	"time"

	"ams-control-plane/backend/internal/verification/domain"
)

// ErrCodeCollision is returned by Replace when another pending challenge already uses the same code hash.
// Callers generate a new code and retry.
var ErrCodeCollision = errors.New("verification: code collision")

// Repository persists verification challenges. At most one challenge exists per (identity, channel).
type Repository interface {
	// Replace atomically removes any challenge for (c.IdentityID, c.Channel) and stores c.
	// superseded reports whether a previous challenge was removed.
	Replace(ctx context.Context, c *domain.Challenge) (superseded bool, err error)
	// Consume atomically removes and returns the unexpired challenge whose code hash matches.
	// Returns (nil, nil) when none matches; concurrent callers for the same code get at most one hit.
	Consume(ctx context.Context, codeHash string, now time.Time) (*domain.Challenge, error)
	// GetPending returns the challenge for (identityID, channel), or nil.
	GetPending(ctx context.Context, identityID string, channel domain.Channel) (*domain.Challenge, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
