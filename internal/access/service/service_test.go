package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams-control-plane/backend/internal/access"
	"ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/access/repository"
	"ams-control-plane/backend/internal/apperr"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Service, *repository.MemoryRepository) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	for _, m := range []domain.Module{
		{ID: "m-org", Key: "organization", Name: "Organizations"},
		{ID: "m-user", Key: "user", Name: "Users", ParentID: "m-org"},
		{ID: "m-role", Key: "role", Name: "Roles", ParentID: "m-user"},
		{ID: "m-rep", Key: "reports", Name: "Reports"},
	} {
		m := m
		require.NoError(t, repo.CreateModule(ctx, &m))
	}
	require.NoError(t, repo.CreatePlan(ctx, &domain.Plan{ID: "plan-basic", Name: "basic"}))
	for _, a := range []domain.ModuleAccess{
		{OwnerKind: domain.OwnerPlan, OwnerID: "plan-basic", ModuleID: "m-org", Active: true,
			Limits: map[string]int64{"max_organizations": 1}},
		{OwnerKind: domain.OwnerPlan, OwnerID: "plan-basic", ModuleID: "m-user", Active: true,
			Limits: map[string]int64{"max_users": 5}},
		{OwnerKind: domain.OwnerPlan, OwnerID: "plan-basic", ModuleID: "m-rep", Active: true,
			Features: map[string]domain.Feature{"export": {Value: "false", Enabled: true}}},
		{OwnerKind: domain.OwnerSubscription, OwnerID: "sub-1", ModuleID: "m-user", Active: true,
			Limits: map[string]int64{"max_users": 20}},
		{OwnerKind: domain.OwnerSubscription, OwnerID: "sub-1", ModuleID: "m-rep", Active: true,
			Features: map[string]domain.Feature{"export": {Value: "csv", Enabled: true}}},
	} {
		a := a
		require.NoError(t, repo.PutModuleAccess(ctx, &a))
	}
	require.NoError(t, repo.CreateSubscription(ctx, &domain.Subscription{
		ID: "sub-1", IdentityID: "id-1", PlanID: "plan-basic", Status: domain.SubscriptionActive,
		StartDate: now.Add(-24 * time.Hour), EndDate: now.Add(30 * 24 * time.Hour),
	}))
	require.NoError(t, repo.CreateSubscription(ctx, &domain.Subscription{
		ID: "sub-old", IdentityID: "id-2", PlanID: "plan-basic", Status: domain.SubscriptionActive,
		StartDate: now.Add(-60 * 24 * time.Hour), EndDate: now.Add(-time.Hour),
	}))

	s := NewService(repo)
	s.nowF = func() time.Time { return now }
	return s, repo
}

func TestResolveBySubscriptionID(t *testing.T) {
	s, _ := seed(t)
	eff, err := s.ResolveBySubscriptionID(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, eff, 3)

	user, ok := access.Find(eff, "user")
	require.True(t, ok)
	assert.Equal(t, int64(20), user.Limits["max_users"])
	assert.Equal(t, domain.OwnerSubscription, user.Source)

	org, ok := access.Find(eff, "organization")
	require.True(t, ok)
	assert.Equal(t, domain.OwnerPlan, org.Source)

	_, err = s.ResolveBySubscriptionID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestResolveForIdentity_Ownership(t *testing.T) {
	s, _ := seed(t)
	_, err := s.ResolveForIdentity(context.Background(), "id-1", "sub-1")
	require.NoError(t, err)
	_, err = s.ResolveForIdentity(context.Background(), "id-2", "sub-1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestActiveSubscription_IgnoresEnded(t *testing.T) {
	s, _ := seed(t)
	sub, err := s.ActiveSubscription(context.Background(), "id-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.ID)

	sub, err = s.ActiveSubscription(context.Background(), "id-2")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

type blockingRepo struct {
	*repository.MemoryRepository
	started chan struct{}
	release chan struct{}
}

func (r *blockingRepo) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.MemoryRepository.GetSubscription(ctx, id)
}

func TestResolveBySubscriptionID_CancelledCallerDoesNotFailOthers(t *testing.T) {
	_, mem := seed(t)
	repo := &blockingRepo{MemoryRepository: mem, started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewService(repo)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := s.ResolveBySubscriptionID(ctxA, "sub-1")
		errA <- err
	}()
	<-repo.started

	type result struct {
		eff []domain.EffectiveAccess
		err error
	}
	resB := make(chan result, 1)
	go func() {
		eff, err := s.ResolveBySubscriptionID(context.Background(), "sub-1")
		resB <- result{eff, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(repo.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.eff, 3)
}

func TestCheckModuleAccess(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()

	res, err := s.CheckModuleAccess(ctx, "id-1", "user")
	require.NoError(t, err)
	assert.True(t, res.HasAccess)
	assert.Equal(t, int64(20), res.Limits["max_users"])

	_, err = s.CheckModuleAccess(ctx, "id-1", "role")
	assert.ErrorIs(t, err, apperr.ErrModuleAccessDenied)

	_, err = s.CheckModuleAccess(ctx, "id-2", "user")
	assert.ErrorIs(t, err, apperr.ErrModuleAccessDenied, "expired subscription grants nothing")
}

func TestCheckModuleAccess_UnknownModuleKey(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()

	res, err := s.CheckModuleAccess(ctx, "id-1", "reports")
	require.NoError(t, err)
	assert.Equal(t, "m-rep", res.ModuleID)

	_, err = s.CheckModuleAccess(ctx, "id-1", "billing")
	assert.ErrorIs(t, err, access.ErrUnknownModule)
	assert.NotErrorIs(t, err, apperr.ErrModuleAccessDenied)

	_, err = s.HasFeature(ctx, "id-1", "billing", "export")
	assert.ErrorIs(t, err, access.ErrUnknownModule)
}

func TestHasFeature_OverrideWins(t *testing.T) {
	s, _ := seed(t)
	ok, err := s.HasFeature(context.Background(), "id-1", "reports", "export")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasFeature(context.Background(), "id-2", "reports", "export")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnforceLimit(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()

	assert.NoError(t, s.EnforceLimit(ctx, "id-1", "users", 19))
	assert.ErrorIs(t, s.EnforceLimit(ctx, "id-1", "users", 20), apperr.ErrLimitExceeded)
	assert.NoError(t, s.EnforceLimit(ctx, "id-1", "organizations", 0))
	assert.ErrorIs(t, s.EnforceLimit(ctx, "id-1", "organizations", 1), apperr.ErrLimitExceeded)
	assert.ErrorIs(t, s.EnforceLimit(ctx, "id-1", "roles", 0), apperr.ErrModuleAccessDenied)
	assert.NoError(t, s.EnforceLimit(ctx, "id-1", "invoices", 1000), "untracked operations pass")
	assert.NoError(t, s.EnforceLimit(ctx, "nobody", "invoices", 1000))
	assert.ErrorIs(t, s.EnforceLimit(ctx, "nobody", "users", 0), apperr.ErrModuleAccessDenied)
}

func TestEnforceLimit_MissingLimitDenies(t *testing.T) {
	s, repo := seed(t)
	ctx := context.Background()
	require.NoError(t, repo.PutModuleAccess(ctx, &domain.ModuleAccess{
		OwnerKind: domain.OwnerSubscription, OwnerID: "sub-1", ModuleID: "m-user", Active: true,
	}))
	err := s.EnforceLimit(ctx, "id-1", "users", 0)
	assert.ErrorIs(t, err, apperr.ErrLimitExceeded)
}

func TestAssignParent(t *testing.T) {
	s, repo := seed(t)
	ctx := context.Background()

	require.NoError(t, s.AssignParent(ctx, "m-rep", "m-role"))
	m, err := repo.GetModule(ctx, "m-rep")
	require.NoError(t, err)
	assert.Equal(t, "m-role", m.ParentID)

	err = s.AssignParent(ctx, "m-org", "m-rep")
	assert.ErrorIs(t, err, apperr.ErrCyclicParentAssignment)
	m, _ = repo.GetModule(ctx, "m-org")
	assert.Empty(t, m.ParentID, "rejected assignment is not persisted")

	assert.ErrorIs(t, s.AssignParent(ctx, "m-org", "m-org"), apperr.ErrCyclicParentAssignment)
	assert.ErrorIs(t, s.AssignParent(ctx, "m-org", "ghost"), access.ErrUnknownModule)

	require.NoError(t, s.AssignParent(ctx, "m-rep", ""))
	m, _ = repo.GetModule(ctx, "m-rep")
	assert.Empty(t, m.ParentID)
}

type failingRepo struct{ *repository.MemoryRepository }

func (failingRepo) ListModuleAccess(context.Context, domain.OwnerKind, string) ([]domain.ModuleAccess, error) {
	return nil, errors.New("connection reset")
}

func TestResolve_StorageFailure(t *testing.T) {
	_, repo := seed(t)
	s := NewService(failingRepo{repo})
	_, err := s.ResolveBySubscriptionID(context.Background(), "sub-1")
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
}
