package repository

import (
	"context"
	"time"

	"ams-control-plane/backend/internal/access/domain"
)

// Repository reads plans, subscriptions and module grants. Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	// CurrentSubscription returns the identity's active subscription whose end date is after now.
	// When several qualify the one ending last wins.
	CurrentSubscription(ctx context.Context, identityID string, now time.Time) (*domain.Subscription, error)
	// ListModuleAccess returns the grants owned by (kind, ownerID) with their limits and features.
	ListModuleAccess(ctx context.Context, kind domain.OwnerKind, ownerID string) ([]domain.ModuleAccess, error)
	GetModule(ctx context.Context, id string) (*domain.Module, error)
	GetModuleByKey(ctx context.Context, key string) (*domain.Module, error)
	// UpdateParent locks the module graph, passes the current id->parent map to check and stores
	// parentID on moduleID only when check returns nil.
	UpdateParent(ctx context.Context, moduleID, parentID string, check func(parents map[string]string) error) error
}

// Writer creates catalog and subscription records. Used by the seed command and development setups.
type Writer interface {
	CreateModule(ctx context.Context, m *domain.Module) error
	CreatePlan(ctx context.Context, p *domain.Plan) error
	CreateSubscription(ctx context.Context, s *domain.Subscription) error
	// PutModuleAccess inserts or replaces the grant for (OwnerKind, OwnerID, ModuleID), including
	// its limits and features.
	PutModuleAccess(ctx context.Context, a *domain.ModuleAccess) error
}
