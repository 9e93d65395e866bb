package repository

import (
	"context"
	"sync"
	"time"

	"ams-control-plane/backend/internal/verification/domain"
)

type pairKey struct {
	identityID string
	channel    domain.Channel
}

// MemoryRepository is an in-process Repository for development without Postgres and for tests.
type MemoryRepository struct {
	mu     sync.Mutex
	byPair map[pairKey]domain.Challenge
	byHash map[string]pairKey
}

// NewMemoryRepository returns an empty in-memory verification repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byPair: make(map[pairKey]domain.Challenge),
		byHash: make(map[string]pairKey),
	}
}

func (r *MemoryRepository) Replace(ctx context.Context, c *domain.Challenge) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{c.IdentityID, c.Channel}
	if owner, ok := r.byHash[c.CodeHash]; ok && owner != k {
		return false, ErrCodeCollision
	}
	prev, superseded := r.byPair[k]
	if superseded {
		delete(r.byHash, prev.CodeHash)
	}
	r.byPair[k] = *c
	r.byHash[c.CodeHash] = k
	return superseded, nil
}

func (r *MemoryRepository) Consume(ctx context.Context, codeHash string, now time.Time) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byHash[codeHash]
	if !ok {
		return nil, nil
	}
	c := r.byPair[k]
	if c.Expired(now) {
		return nil, nil
	}
	delete(r.byPair, k)
	delete(r.byHash, codeHash)
	return &c, nil
}

func (r *MemoryRepository) GetPending(ctx context.Context, identityID string, channel domain.Channel) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byPair[pairKey{identityID, channel}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, c := range r.byPair {
		if c.Expired(now) {
			delete(r.byPair, k)
			delete(r.byHash, c.CodeHash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored challenges, expired or not.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPair)
}
