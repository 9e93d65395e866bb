package repository

import (
	"context"
	"sync"

	"ams-control-plane/backend/internal/audit/domain"
)

// MemoryRepository keeps auth events in process for development and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	events []domain.AuthEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, e *domain.AuthEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *MemoryRepository) ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuthEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuthEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].IdentityID == identityID {
			e := r.events[i]
			out = append(out, &e)
		}
	}
	return out, nil
}
