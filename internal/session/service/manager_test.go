package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/session/domain"
	"ams-control-plane/backend/internal/session/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(repo repository.Repository, c *clock) *Manager {
	m := NewManager(repo, DefaultMaxActive)
	m.nowF = c.Now
	return m
}

func fingerprint(i int) domain.Fingerprint {
	return domain.Fingerprint{Device: fmt.Sprintf("device-%d", i), Browser: "firefox", Origin: "10.0.0.1"}
}

func activeCount(t *testing.T, m *Manager, identityID string) int {
	t.Helper()
	list, err := m.ListActive(context.Background(), identityID)
	require.NoError(t, err)
	return len(list)
}

func TestManager_SixthFingerprintEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	repo := repository.NewMemoryRepository()
	m := newTestManager(repo, c)

	var first, evicted *domain.Session
	for i := 0; i < 6; i++ {
		s, out, err := m.Upsert(ctx, "id-1", fingerprint(i), fmt.Sprintf("hash-%d", i), time.Hour)
		require.NoError(t, err)
		assert.False(t, out.Reused)
		if i == 0 {
			first = s
		}
		if i < 5 {
			assert.Empty(t, out.Evicted)
		} else {
			require.Len(t, out.Evicted, 1)
			evicted = out.Evicted[0]
		}
		c.Advance(time.Second)
	}

	list, err := m.ListActive(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for _, s := range list {
		assert.NotEqual(t, first.ID, s.ID)
	}
	assert.Equal(t, first.ID, evicted.ID)
	assert.False(t, evicted.Active)
	assert.Equal(t, domain.ReasonEvicted, evicted.RetireReason)
	require.NotNil(t, evicted.RetiredAt)
}

func TestManager_ReuseKeepsCountAndCreationOrder(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	repo := repository.NewMemoryRepository()
	m := newTestManager(repo, c)

	var ids []string
	for i := 0; i < 5; i++ {
		s, _, err := m.Upsert(ctx, "id-1", fingerprint(i), fmt.Sprintf("hash-%d", i), time.Hour)
		require.NoError(t, err)
		ids = append(ids, s.ID)
		c.Advance(time.Second)
	}

	// The oldest session signs in again; it is refreshed, not moved to the back of the queue.
	s, out, err := m.Upsert(ctx, "id-1", fingerprint(0), "hash-0b", time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Reused)
	assert.Equal(t, ids[0], s.ID)
	assert.Equal(t, "hash-0b", s.RefreshTokenHash)
	assert.Equal(t, 5, activeCount(t, m, "id-1"))

	c.Advance(time.Second)
	_, out, err = m.Upsert(ctx, "id-1", fingerprint(9), "hash-9", time.Hour)
	require.NoError(t, err)
	require.Len(t, out.Evicted, 1)
	assert.Equal(t, ids[0], out.Evicted[0].ID, "eviction is by creation time, not last use")
}

func TestManager_ReuseDoesNotChangeCount(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(repository.NewMemoryRepository(), c)

	for i := 0; i < 3; i++ {
		_, out, err := m.Upsert(ctx, "id-1", fingerprint(1), fmt.Sprintf("h-%d", i), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i > 0, out.Reused)
		assert.Equal(t, 1, activeCount(t, m, "id-1"))
	}
}

func TestManager_IdentitiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(repository.NewMemoryRepository(), c)

	for i := 0; i < 5; i++ {
		_, _, err := m.Upsert(ctx, "id-1", fingerprint(i), "a", time.Hour)
		require.NoError(t, err)
	}
	_, out, err := m.Upsert(ctx, "id-2", fingerprint(0), "b", time.Hour)
	require.NoError(t, err)
	assert.False(t, out.Reused)
	assert.Empty(t, out.Evicted)
	assert.Equal(t, 5, activeCount(t, m, "id-1"))
	assert.Equal(t, 1, activeCount(t, m, "id-2"))
}

func TestManager_ConcurrentSigninsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	repo := repository.NewMemoryRepository()
	m := newTestManager(repo, c)

	for i := 0; i < 4; i++ {
		_, _, err := m.Upsert(ctx, "id-1", fingerprint(i), "seed", time.Hour)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 10; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Upsert(ctx, "id-1", fingerprint(i), "concurrent", time.Hour)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, activeCount(t, m, "id-1"))
	assert.Len(t, repo.All("id-1"), 24)
}

func TestManager_ExpiredSessionsFreeSlots(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	repo := repository.NewMemoryRepository()
	m := newTestManager(repo, c)

	for i := 0; i < 5; i++ {
		_, _, err := m.Upsert(ctx, "id-1", fingerprint(i), "h", time.Hour)
		require.NoError(t, err)
	}
	c.Advance(2 * time.Hour)

	_, out, err := m.Upsert(ctx, "id-1", fingerprint(0), "fresh", time.Hour)
	require.NoError(t, err)
	assert.False(t, out.Reused, "an expired session is not reused")
	assert.Equal(t, int64(5), out.Expired)
	assert.Empty(t, out.Evicted)
	assert.Equal(t, 1, activeCount(t, m, "id-1"))
}

func TestManager_LowerCapEvictsDownToLimit(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	repo := repository.NewMemoryRepository()
	big := newTestManager(repo, c)
	for i := 0; i < 5; i++ {
		_, _, err := big.Upsert(ctx, "id-1", fingerprint(i), "h", time.Hour)
		require.NoError(t, err)
		c.Advance(time.Second)
	}

	small := NewManager(repo, 2)
	small.nowF = c.Now
	_, out, err := small.Upsert(ctx, "id-1", fingerprint(7), "h", time.Hour)
	require.NoError(t, err)
	assert.Len(t, out.Evicted, 4)
	assert.Equal(t, 2, activeCount(t, small, "id-1"))
}

func TestManager_Deactivate(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(repository.NewMemoryRepository(), c)

	_, _, err := m.Upsert(ctx, "id-1", fingerprint(1), "h1", time.Hour)
	require.NoError(t, err)
	_, _, err = m.Upsert(ctx, "id-1", fingerprint(2), "h2", time.Hour)
	require.NoError(t, err)

	n, err := m.Deactivate(ctx, "id-1", domain.Fingerprint{Device: " device-1 ", Browser: "firefox", Origin: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, activeCount(t, m, "id-1"))

	n, err = m.Deactivate(ctx, "id-1", fingerprint(1))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Rotate(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(repository.NewMemoryRepository(), c)

	orig, _, err := m.Upsert(ctx, "id-1", fingerprint(1), "old", time.Hour)
	require.NoError(t, err)

	c.Advance(time.Minute)
	rotated, err := m.Rotate(ctx, "old", "new", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, rotated.ID)
	assert.Equal(t, "new", rotated.RefreshTokenHash)
	assert.Equal(t, c.Now().Add(time.Hour), rotated.ExpiresAt)

	_, err = m.Rotate(ctx, "old", "newer", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired, "a rotated-out hash cannot be used again")

	c.Advance(2 * time.Hour)
	_, err = m.Rotate(ctx, "new", "newest", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired)
}

func TestManager_RotateRequiresActiveHolder(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := newTestManager(repository.NewMemoryRepository(), c)

	_, _, err := m.Upsert(ctx, "id-1", fingerprint(1), "h-1", time.Hour)
	require.NoError(t, err)
	_, _, err = m.Upsert(ctx, "id-1", fingerprint(2), "h-2", time.Hour)
	require.NoError(t, err)

	_, err = m.Rotate(ctx, "never-issued", "x", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired)

	n, err := m.Deactivate(ctx, "id-1", fingerprint(1))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = m.Rotate(ctx, "h-1", "h-1b", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired, "a logged-out session cannot be refreshed")

	rotated, err := m.Rotate(ctx, "h-2", "h-2b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "h-2b", rotated.RefreshTokenHash)
}

func TestManager_UnknownIdentity(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.Known = func(id string) bool { return id == "id-1" }
	m := newTestManager(repo, newClock())

	_, _, err := m.Upsert(context.Background(), "ghost", fingerprint(1), "h", time.Hour)
	assert.ErrorIs(t, err, repository.ErrUnknownIdentity)
}

type failingScopeRepo struct{ *repository.MemoryRepository }

func (failingScopeRepo) InIdentityScope(context.Context, string, func(context.Context, repository.Scope) error) error {
	return errors.New("could not serialize access")
}

func TestManager_StorageFailure(t *testing.T) {
	m := newTestManager(failingScopeRepo{repository.NewMemoryRepository()}, newClock())
	_, _, err := m.Upsert(context.Background(), "id-1", fingerprint(1), "h", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}
