package repository

import (
	"context"
	"sync"
	"time"

	"ams-control-plane/backend/internal/revocation/domain"
)

// MemoryRepository is an in-process Repository for development without Postgres and for tests.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.RevokedToken
}

// NewMemoryRepository returns an empty in-memory revocation repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.RevokedToken)}
}

func (r *MemoryRepository) Insert(ctx context.Context, t *domain.RevokedToken) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[t.TokenHash]; ok {
		return false, nil
	}
	r.m[t.TokenHash] = *t
	return true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tokenHash string) (*domain.RevokedToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[tokenHash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, tokenHash)
	return nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.m {
		if t.Expired(now) {
			delete(r.m, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
