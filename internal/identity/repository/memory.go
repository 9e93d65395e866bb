package repository

import (
	"context"
	"sync"
	"time"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/identity/domain"
)

// MemoryRepository is an in-process Repository used when no DATABASE_URL is configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Identity
}

// NewMemoryRepository returns an empty in-memory identity repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Identity)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool { return i.ID == id }), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool { return i.Email == email }), nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	if username == "" {
		return nil, nil
	}
	return r.find(func(i *domain.Identity) bool { return i.Username == username }), nil
}

func (r *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*domain.Identity, error) {
	if phone == "" {
		return nil, nil
	}
	return r.find(func(i *domain.Identity) bool { return i.Phone == phone }), nil
}

func (r *MemoryRepository) find(match func(*domain.Identity) bool) *domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.byID {
		if match(i) {
			cp := *i
			return &cp
		}
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		switch {
		case existing.ID == i.ID:
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "id already in use")
		case existing.Email == i.Email:
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "email already in use")
		case i.Username != "" && existing.Username == i.Username:
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "username already in use")
		case i.Phone != "" && existing.Phone == i.Phone:
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "phone number already in use")
		}
	}
	cp := *i
	r.byID[i.ID] = &cp
	return nil
}

func (r *MemoryRepository) SetEmailVerified(ctx context.Context, id string) error {
	r.update(id, func(i *domain.Identity) { i.EmailVerified = true })
	return nil
}

func (r *MemoryRepository) SetPhoneVerified(ctx context.Context, id string) error {
	r.update(id, func(i *domain.Identity) { i.PhoneVerified = true })
	return nil
}

func (r *MemoryRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	r.update(id, func(i *domain.Identity) { i.LastLoginAt = &at })
	return nil
}

func (r *MemoryRepository) update(id string, fn func(*domain.Identity)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[id]; ok {
		fn(i)
		i.UpdatedAt = time.Now().UTC()
	}
}
