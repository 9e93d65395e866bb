package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/apperr"
)

type accessKey struct {
	kind     domain.OwnerKind
	ownerID  string
	moduleID string
}

// MemoryRepository is an in-process Repository and Writer for development without Postgres and for tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	modules       map[string]domain.Module
	plans         map[string]domain.Plan
	subscriptions map[string]domain.Subscription
	grants        map[accessKey]domain.ModuleAccess
}

// NewMemoryRepository returns an empty in-memory access repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		modules:       make(map[string]domain.Module),
		plans:         make(map[string]domain.Plan),
		subscriptions: make(map[string]domain.Subscription),
		grants:        make(map[accessKey]domain.ModuleAccess),
	}
}

func (r *MemoryRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) CurrentSubscription(ctx context.Context, identityID string, now time.Time) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.Subscription
	for _, s := range r.subscriptions {
		if s.IdentityID != identityID || !s.Current(now) {
			continue
		}
		if best == nil || s.EndDate.After(best.EndDate) || (s.EndDate.Equal(best.EndDate) && s.ID < best.ID) {
			cp := s
			best = &cp
		}
	}
	return best, nil
}

func (r *MemoryRepository) ListModuleAccess(ctx context.Context, kind domain.OwnerKind, ownerID string) ([]domain.ModuleAccess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ModuleAccess
	for k, a := range r.grants {
		if k.kind != kind || k.ownerID != ownerID {
			continue
		}
		a.ModuleKey = r.modules[a.ModuleID].Key
		a.Limits = copyLimits(a.Limits)
		a.Features = copyFeatures(a.Features)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleKey < out[j].ModuleKey })
	return out, nil
}

func (r *MemoryRepository) GetModule(ctx context.Context, id string) (*domain.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepository) GetModuleByKey(ctx context.Context, key string) (*domain.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		if m.Key == key {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) UpdateParent(ctx context.Context, moduleID, parentID string, check func(parents map[string]string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	parents := make(map[string]string, len(r.modules))
	for id, m := range r.modules {
		parents[id] = m.ParentID
	}
	if err := check(parents); err != nil {
		return err
	}
	m := r.modules[moduleID]
	m.ParentID = parentID
	r.modules[moduleID] = m
	return nil
}

func (r *MemoryRepository) CreateModule(ctx context.Context, m *domain.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.modules {
		if existing.Key == m.Key {
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "module key %q already exists", m.Key)
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	r.modules[m.ID] = *m
	return nil
}

func (r *MemoryRepository) CreatePlan(ctx context.Context, p *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	r.plans[p.ID] = *p
	return nil
}

func (r *MemoryRepository) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.subscriptions[s.ID] = *s
	return nil
}

func (r *MemoryRepository) PutModuleAccess(ctx context.Context, a *domain.ModuleAccess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := accessKey{a.OwnerKind, a.OwnerID, a.ModuleID}
	if prev, ok := r.grants[k]; ok {
		a.ID = prev.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	cp.Limits = copyLimits(a.Limits)
	cp.Features = copyFeatures(a.Features)
	r.grants[k] = cp
	return nil
}

func copyLimits(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFeatures(in map[string]domain.Feature) map[string]domain.Feature {
	out := make(map[string]domain.Feature, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
