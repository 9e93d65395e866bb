package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ams-control-plane/backend/internal/session/domain"
)

type memSession struct {
	domain.Session
	seq int64
}

// MemoryRepository is an in-process Repository for development without Postgres and for tests.
// Scopes for the same identity are serialized with a per-identity mutex.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	seq      int64
	locks    map[string]*sync.Mutex
	// Known restricts scopes to registered identities when non-nil.
	Known func(identityID string) bool
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*memSession),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) identityLock(identityID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[identityID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[identityID] = l
	}
	return l
}

// InIdentityScope holds the identity's mutex while fn runs. Writes are applied directly; a failing
// fn does not roll back writes it already made.
func (r *MemoryRepository) InIdentityScope(ctx context.Context, identityID string, fn func(ctx context.Context, s Scope) error) error {
	if r.Known != nil && !r.Known(identityID) {
		return ErrUnknownIdentity
	}
	l := r.identityLock(identityID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx, &memScope{r: r, identityID: identityID})
}

func (r *MemoryRepository) DeactivateByFingerprint(ctx context.Context, identityID string, fp domain.Fingerprint, at time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.IdentityID == identityID && s.Active && s.Fingerprint == fp {
			retire(s, at, reason)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListActive(ctx context.Context, identityID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeLocked(identityID)
	out := make([]*domain.Session, len(active))
	for i := range active {
		cp := active[len(active)-1-i].Session
		out[i] = &cp
	}
	return out, nil
}

func (r *MemoryRepository) RotateRefresh(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Active && s.RefreshTokenHash == oldHash && !s.Expired(now) {
			s.RefreshTokenHash = newHash
			s.ExpiresAt = expiresAt
			s.LastSeenAt = now
			cp := s.Session
			return &cp, nil
		}
	}
	return nil, nil
}

// All returns every stored session, active or not, oldest first.
func (r *MemoryRepository) All(identityID string) []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*memSession
	for _, s := range r.sessions {
		if s.IdentityID == identityID {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return less(list[i], list[j]) })
	out := make([]domain.Session, len(list))
	for i, s := range list {
		out[i] = s.Session
	}
	return out
}

// activeLocked returns the identity's active sessions ordered by creation, oldest first.
// Caller must hold r.mu.
func (r *MemoryRepository) activeLocked(identityID string) []*memSession {
	var list []*memSession
	for _, s := range r.sessions {
		if s.IdentityID == identityID && s.Active {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return less(list[i], list[j]) })
	return list
}

func less(a, b *memSession) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func retire(s *memSession, at time.Time, reason string) {
	s.Active = false
	t := at
	s.RetiredAt = &t
	s.RetireReason = reason
}

type memScope struct {
	r          *MemoryRepository
	identityID string
}

func (s *memScope) FindActiveByFingerprint(ctx context.Context, fp domain.Fingerprint) (*domain.Session, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for _, m := range s.r.activeLocked(s.identityID) {
		if m.Fingerprint == fp {
			cp := m.Session
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memScope) RetireExpired(ctx context.Context, now time.Time) (int64, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	var n int64
	for _, m := range s.r.activeLocked(s.identityID) {
		if m.Expired(now) {
			retire(m, now, domain.ReasonExpired)
			n++
		}
	}
	return n, nil
}

func (s *memScope) CountActive(ctx context.Context) (int, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return len(s.r.activeLocked(s.identityID)), nil
}

func (s *memScope) OldestActive(ctx context.Context) (*domain.Session, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	active := s.r.activeLocked(s.identityID)
	if len(active) == 0 {
		return nil, nil
	}
	cp := active[0].Session
	return &cp, nil
}

func (s *memScope) Retire(ctx context.Context, id string, at time.Time, reason string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if m, ok := s.r.sessions[id]; ok && m.IdentityID == s.identityID {
		retire(m, at, reason)
	}
	return nil
}

func (s *memScope) Refresh(ctx context.Context, id, refreshTokenHash string, expiresAt, seenAt time.Time) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if m, ok := s.r.sessions[id]; ok && m.IdentityID == s.identityID {
		m.RefreshTokenHash = refreshTokenHash
		m.ExpiresAt = expiresAt
		m.LastSeenAt = seenAt
	}
	return nil
}

func (s *memScope) Insert(ctx context.Context, sess *domain.Session) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.seq++
	m := &memSession{Session: *sess, seq: s.r.seq}
	m.IdentityID = s.identityID
	m.Active = true
	s.r.sessions[sess.ID] = m
	return nil
}
