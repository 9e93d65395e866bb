// Package service enforces the per-identity session cap: a signin either refreshes the session
// already bound to its fingerprint or creates a new one, evicting the oldest when the cap is reached.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/session/domain"
	"ams-control-plane/backend/internal/session/repository"
)

var tracer = otel.Tracer("ams-control-plane/backend/internal/session")

// DefaultMaxActive is the active session cap used when none is configured.
const DefaultMaxActive = 5

// UpsertOutcome describes what Upsert did besides returning the session.
type UpsertOutcome struct {
	// Reused is true when an active session for the same fingerprint was refreshed in place.
	Reused bool
	// Evicted lists sessions retired to make room, oldest first.
	Evicted []*domain.Session
	// Expired is the number of stale sessions retired before counting.
	Expired int64
}

// Manager creates, reuses, rotates and retires sessions.
type Manager struct {
	repo      repository.Repository
	maxActive int
	nowF      func() time.Time
}

// NewManager returns a Manager over repo allowing maxActive concurrent active sessions per identity.
// A non-positive maxActive uses DefaultMaxActive.
func NewManager(repo repository.Repository, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Manager{repo: repo, maxActive: maxActive, nowF: time.Now}
}

// WithClock makes m read time from nowF and returns m. Used by tests.
func (m *Manager) WithClock(nowF func() time.Time) *Manager {
	m.nowF = nowF
	return m
}

// Upsert binds refreshTokenHash to the identity's session for fp. An active session with the same
// fingerprint is refreshed in place and keeps its creation time. Otherwise, when the identity already
// holds the maximum number of active sessions, the earliest created ones are retired until a slot is free, and a
// new session is inserted. The whole sequence runs in one identity scope.
func (m *Manager) Upsert(ctx context.Context, identityID string, fp domain.Fingerprint, refreshTokenHash string, ttl time.Duration) (*domain.Session, *UpsertOutcome, error) {
	ctx, span := tracer.Start(ctx, "session.Upsert")
	defer span.End()

	fp = fp.Normalize()
	now := m.nowF().UTC()
	expiresAt := now.Add(ttl)
	var (
		result  *domain.Session
		outcome = &UpsertOutcome{}
	)
	err := m.repo.InIdentityScope(ctx, identityID, func(ctx context.Context, s repository.Scope) error {
		n, err := s.RetireExpired(ctx, now)
		if err != nil {
			return apperr.Storage("session.retire_expired", err)
		}
		outcome.Expired = n

		existing, err := s.FindActiveByFingerprint(ctx, fp)
		if err != nil {
			return apperr.Storage("session.find", err)
		}
		if existing != nil {
			if err := s.Refresh(ctx, existing.ID, refreshTokenHash, expiresAt, now); err != nil {
				return apperr.Storage("session.refresh", err)
			}
			existing.RefreshTokenHash = refreshTokenHash
			existing.ExpiresAt = expiresAt
			existing.LastSeenAt = now
			result = existing
			outcome.Reused = true
			return nil
		}

		count, err := s.CountActive(ctx)
		if err != nil {
			return apperr.Storage("session.count", err)
		}
		for ; count >= m.maxActive; count-- {
			oldest, err := s.OldestActive(ctx)
			if err != nil {
				return apperr.Storage("session.oldest", err)
			}
			if oldest == nil {
				break
			}
			if err := s.Retire(ctx, oldest.ID, now, domain.ReasonEvicted); err != nil {
				return apperr.Storage("session.evict", err)
			}
			oldest.Active = false
			oldest.RetiredAt = &now
			oldest.RetireReason = domain.ReasonEvicted
			outcome.Evicted = append(outcome.Evicted, oldest)
		}

		sess := &domain.Session{
			ID:               uuid.NewString(),
			IdentityID:       identityID,
			Fingerprint:      fp,
			RefreshTokenHash: refreshTokenHash,
			Active:           true,
			CreatedAt:        now,
			ExpiresAt:        expiresAt,
			LastSeenAt:       now,
		}
		if err := s.Insert(ctx, sess); err != nil {
			return apperr.Storage("session.insert", err)
		}
		result = sess
		return nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrUnknownIdentity) {
			err = apperr.Storage("session.upsert", err)
		}
		return nil, nil, err
	}

	log := logger.From(ctx)
	if outcome.Reused {
		metrics.SessionsReused.Inc()
		log.Debug("session: reused", logger.IdentityID(identityID), logger.SessionID(result.ID))
	}
	for _, ev := range outcome.Evicted {
		metrics.SessionsEvicted.Inc()
		log.Info("session: evicted oldest session",
			logger.IdentityID(identityID),
			logger.SessionID(ev.ID),
			logger.Int("max_active", m.maxActive),
		)
	}
	return result, outcome, nil
}

// Deactivate retires the identity's active sessions for fp and returns how many were retired.
func (m *Manager) Deactivate(ctx context.Context, identityID string, fp domain.Fingerprint) (int64, error) {
	ctx, span := tracer.Start(ctx, "session.Deactivate")
	defer span.End()

	n, err := m.repo.DeactivateByFingerprint(ctx, identityID, fp.Normalize(), m.nowF().UTC(), domain.ReasonLogout)
	if err != nil {
		return 0, apperr.Storage("session.deactivate", err)
	}
	return n, nil
}

// Rotate replaces the refresh token hash of the active session holding oldHash. Returns
// apperr.ErrTokenInvalidOrExpired when no active, unexpired session holds it, which also covers a
// refresh token presented a second time after rotation.
func (m *Manager) Rotate(ctx context.Context, oldHash, newHash string, ttl time.Duration) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "session.Rotate")
	defer span.End()

	now := m.nowF().UTC()
	s, err := m.repo.RotateRefresh(ctx, oldHash, newHash, now.Add(ttl), now)
	if err != nil {
		return nil, apperr.Storage("session.rotate", err)
	}
	if s == nil {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	return s, nil
}

// ListActive returns the identity's active sessions, newest first.
func (m *Manager) ListActive(ctx context.Context, identityID string) ([]*domain.Session, error) {
	list, err := m.repo.ListActive(ctx, identityID)
	if err != nil {
		return nil, apperr.Storage("session.list_active", err)
	}
	return list, nil
}
