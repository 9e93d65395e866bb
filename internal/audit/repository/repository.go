package repository

import (
	"context"

	"ams-control-plane/backend/internal/audit/domain"
)

// Repository defines persistence for auth events.
type Repository interface {
	Create(ctx context.Context, e *domain.AuthEvent) error
	// ListByIdentity returns the identity's most recent events, newest first.
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuthEvent, error)
}
