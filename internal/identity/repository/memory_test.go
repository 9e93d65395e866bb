package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/identity/domain"
)

func newIdentity(id, email, username, phone string) *domain.Identity {
	return &domain.Identity{ID: id, Email: email, Username: username, Phone: phone, PasswordHash: "hash", CreatedAt: time.Now()}
}

func TestMemoryRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newIdentity("id-1", "a@example.com", "alice", "+15550100")))

	for name, lookup := range map[string]func() (*domain.Identity, error){
		"id":       func() (*domain.Identity, error) { return r.GetByID(ctx, "id-1") },
		"email":    func() (*domain.Identity, error) { return r.GetByEmail(ctx, "a@example.com") },
		"username": func() (*domain.Identity, error) { return r.GetByUsername(ctx, "alice") },
		"phone":    func() (*domain.Identity, error) { return r.GetByPhone(ctx, "+15550100") },
	} {
		got, err := lookup()
		require.NoError(t, err, name)
		require.NotNil(t, got, name)
		assert.Equal(t, "id-1", got.ID, name)
		assert.Equal(t, domain.StatusActive, got.Status, name)
	}

	missing, err := r.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := r.GetByUsername(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryRepository_Duplicates(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newIdentity("id-1", "a@example.com", "alice", "+15550100")))

	testCases := []struct {
		name string
		in   *domain.Identity
	}{
		{"email", newIdentity("id-2", "a@example.com", "", "")},
		{"username", newIdentity("id-2", "b@example.com", "alice", "")},
		{"phone", newIdentity("id-2", "b@example.com", "", "+15550100")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Create(ctx, tc.in)
			assert.ErrorIs(t, err, apperr.ErrDuplicateIdentifier)
			assert.Contains(t, err.Error(), tc.name)
		})
	}

	require.NoError(t, r.Create(ctx, newIdentity("id-3", "c@example.com", "", "")), "empty optional identifiers do not collide")
	require.NoError(t, r.Create(ctx, newIdentity("id-4", "d@example.com", "", "")))
}

func TestMemoryRepository_Flags(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newIdentity("id-1", "a@example.com", "", "")))

	require.NoError(t, r.SetEmailVerified(ctx, "id-1"))
	require.NoError(t, r.SetPhoneVerified(ctx, "id-1"))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, r.TouchLastLogin(ctx, "id-1", at))

	got, err := r.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.True(t, got.PhoneVerified)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, at, *got.LastLoginAt)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newIdentity("id-1", "a@example.com", "", "")))

	got, _ := r.GetByID(ctx, "id-1")
	got.EmailVerified = true

	again, _ := r.GetByID(ctx, "id-1")
	assert.False(t, again.EmailVerified)
}
