package repository

import (
	"context"
	"time"

	"ams-control-plane/backend/internal/identity/domain"
)

// Repository defines persistence for identities. Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	// Create inserts i. A unique-key collision returns an error wrapping apperr.ErrDuplicateIdentifier.
	Create(ctx context.Context, i *domain.Identity) error
	SetEmailVerified(ctx context.Context, id string) error
	SetPhoneVerified(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
