package repository

import (
	"context"
	"errors"
	"time"

	"ams-control-plane/backend/internal/session/domain"
)

// ErrUnknownIdentity is returned by InIdentityScope when the identity row does not exist.
var ErrUnknownIdentity = errors.New("session: unknown identity")

// Scope is the set of session operations that run while the identity's session set is locked.
// All methods act on the identity the scope was opened for.
type Scope interface {
	FindActiveByFingerprint(ctx context.Context, fp domain.Fingerprint) (*domain.Session, error)
	// RetireExpired retires active sessions whose expiry is at or before now.
	RetireExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context) (int, error)
	// OldestActive returns the active session with the earliest creation time, or nil.
	OldestActive(ctx context.Context) (*domain.Session, error)
	Retire(ctx context.Context, id string, at time.Time, reason string) error
	// Refresh replaces the refresh token hash and expiry of an existing session in place.
	// CreatedAt is left unchanged.
	Refresh(ctx context.Context, id, refreshTokenHash string, expiresAt, seenAt time.Time) error
	Insert(ctx context.Context, s *domain.Session) error
}

// Repository persists sessions. Lookups return (nil, nil) when no row matches.
type Repository interface {
	// InIdentityScope runs fn with the identity's sessions locked against concurrent scopes for the
	// same identity. Changes made through the Scope commit only if fn returns nil.
	InIdentityScope(ctx context.Context, identityID string, fn func(ctx context.Context, s Scope) error) error
	// DeactivateByFingerprint retires every active session of identityID matching fp.
	DeactivateByFingerprint(ctx context.Context, identityID string, fp domain.Fingerprint, at time.Time, reason string) (int64, error)
	// ListActive returns the identity's active sessions, newest first.
	ListActive(ctx context.Context, identityID string) ([]*domain.Session, error)
	// RotateRefresh swaps the refresh token hash of the active, unexpired session currently holding
	// oldHash. Returns the updated session, or nil when no session holds oldHash.
	RotateRefresh(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error)
}
