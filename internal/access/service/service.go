// Package service loads subscriptions and their grants and answers access questions for callers.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ams-control-plane/backend/internal/access"
	"ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/access/repository"
	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/observability/logger"
)

var tracer = otel.Tracer("ams-control-plane/backend/internal/access")

// loadTimeout bounds a shared subscription load once no single caller owns its lifetime.
const loadTimeout = 10 * time.Second

// ErrSubscriptionNotFound is returned when a subscription id does not exist.
var ErrSubscriptionNotFound = errors.New("access: subscription not found")

// TrackedLimit names the module and limit that gate a counted operation.
type TrackedLimit struct {
	ModuleKey string
	LimitKey  string
}

// TrackedOperations maps counted operations to their gating limit. Operations not listed are not
// limited.
var TrackedOperations = map[string]TrackedLimit{
	"organizations": {ModuleKey: "organization", LimitKey: "max_organizations"},
	"users":         {ModuleKey: "user", LimitKey: "max_users"},
	"roles":         {ModuleKey: "role", LimitKey: "max_roles"},
}

// ModuleAccessResult is the answer to CheckModuleAccess.
type ModuleAccessResult struct {
	HasAccess      bool                      `json:"has_access"`
	SubscriptionID string                    `json:"subscription_id"`
	ModuleID       string                    `json:"module_id"`
	ModuleKey      string                    `json:"module_key"`
	Limits         map[string]int64          `json:"limits"`
	Features       map[string]domain.Feature `json:"features"`
}

// Service answers access questions over the repository.
type Service struct {
	repo  repository.Repository
	group singleflight.Group
	nowF  func() time.Time
}

// NewService returns a Service over repo.
func NewService(repo repository.Repository) *Service {
	return &Service{repo: repo, nowF: time.Now}
}

// ResolveBySubscriptionID returns the effective grants of the subscription. Concurrent calls for the
// same id share one load. The shared load is detached from the caller that started it and bounded
// by loadTimeout; each caller stops waiting when its own ctx is done.
func (s *Service) ResolveBySubscriptionID(ctx context.Context, subscriptionID string) ([]domain.EffectiveAccess, error) {
	ctx, span := tracer.Start(ctx, "access.ResolveBySubscriptionID")
	defer span.End()

	ch := s.group.DoChan(subscriptionID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		sub, err := s.repo.GetSubscription(lctx, subscriptionID)
		if err != nil {
			return nil, apperr.Storage("access.resolve", err)
		}
		if sub == nil {
			return nil, ErrSubscriptionNotFound
		}
		return s.resolve(lctx, sub)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.EffectiveAccess), nil
	}
}

// ResolveForIdentity is ResolveBySubscriptionID restricted to subscriptions owned by identityID.
// A subscription owned by someone else is reported as not found.
func (s *Service) ResolveForIdentity(ctx context.Context, identityID, subscriptionID string) ([]domain.EffectiveAccess, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, apperr.Storage("access.resolve", err)
	}
	if sub == nil || sub.IdentityID != identityID {
		return nil, ErrSubscriptionNotFound
	}
	return s.ResolveBySubscriptionID(ctx, subscriptionID)
}

// resolve loads the plan templates and the subscription overrides in parallel and merges them.
func (s *Service) resolve(ctx context.Context, sub *domain.Subscription) ([]domain.EffectiveAccess, error) {
	var template, overrides []domain.ModuleAccess
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		template, err = s.repo.ListModuleAccess(gctx, domain.OwnerPlan, sub.PlanID)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = s.repo.ListModuleAccess(gctx, domain.OwnerSubscription, sub.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Storage("access.load_grants", err)
	}
	return access.Resolve(template, overrides), nil
}

// ActiveSubscription returns the identity's current subscription, or nil when it has none.
func (s *Service) ActiveSubscription(ctx context.Context, identityID string) (*domain.Subscription, error) {
	sub, err := s.repo.CurrentSubscription(ctx, identityID, s.nowF().UTC())
	if err != nil {
		return nil, apperr.Storage("access.active_subscription", err)
	}
	return sub, nil
}

// effectiveFor resolves the identity's current subscription. No subscription is access denied.
func (s *Service) effectiveFor(ctx context.Context, identityID string) (*domain.Subscription, []domain.EffectiveAccess, error) {
	sub, err := s.ActiveSubscription(ctx, identityID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, apperr.Detail(apperr.ErrModuleAccessDenied, "no active subscription")
	}
	eff, err := s.ResolveBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return nil, nil, err
	}
	return sub, eff, nil
}

// moduleByKey returns the catalog module for key. An unknown key wraps access.ErrUnknownModule.
func (s *Service) moduleByKey(ctx context.Context, key string) (*domain.Module, error) {
	m, err := s.repo.GetModuleByKey(ctx, key)
	if err != nil {
		return nil, apperr.Storage("access.module_by_key", err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %q", access.ErrUnknownModule, key)
	}
	return m, nil
}

// CheckModuleAccess reports the identity's grant for moduleKey. A key missing from the catalog
// fails with access.ErrUnknownModule; a missing or inactive grant fails with
// apperr.ErrModuleAccessDenied.
func (s *Service) CheckModuleAccess(ctx context.Context, identityID, moduleKey string) (*ModuleAccessResult, error) {
	ctx, span := tracer.Start(ctx, "access.CheckModuleAccess")
	defer span.End()

	mod, err := s.moduleByKey(ctx, moduleKey)
	if err != nil {
		return nil, err
	}
	sub, eff, err := s.effectiveFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	e, ok := access.Find(eff, moduleKey)
	if !ok || !e.Active {
		return nil, apperr.Detail(apperr.ErrModuleAccessDenied, "no access to module %q", moduleKey)
	}
	return &ModuleAccessResult{
		HasAccess:      true,
		SubscriptionID: sub.ID,
		ModuleID:       mod.ID,
		ModuleKey:      moduleKey,
		Limits:         e.Limits,
		Features:       e.Features,
	}, nil
}

// HasFeature reports whether the identity's current subscription enables featureKey on moduleKey.
// An identity without a subscription has no features. An unknown moduleKey fails with
// access.ErrUnknownModule.
func (s *Service) HasFeature(ctx context.Context, identityID, moduleKey, featureKey string) (bool, error) {
	if _, err := s.moduleByKey(ctx, moduleKey); err != nil {
		return false, err
	}
	_, eff, err := s.effectiveFor(ctx, identityID)
	if err != nil {
		if errors.Is(err, apperr.ErrModuleAccessDenied) {
			return false, nil
		}
		return false, err
	}
	return access.HasFeature(eff, moduleKey, featureKey), nil
}

// EnforceLimit guards a counted operation. usage is the current count before the operation.
// Untracked operations pass without any lookup. For tracked ones a missing grant fails with
// apperr.ErrModuleAccessDenied, and a missing limit or usage at the limit fails with
// apperr.ErrLimitExceeded.
func (s *Service) EnforceLimit(ctx context.Context, identityID, operation string, usage int64) error {
	tracked, ok := TrackedOperations[operation]
	if !ok {
		return nil
	}
	ctx, span := tracer.Start(ctx, "access.EnforceLimit")
	defer span.End()

	_, eff, err := s.effectiveFor(ctx, identityID)
	if err != nil {
		return err
	}
	e, ok := access.Find(eff, tracked.ModuleKey)
	if !ok || !e.Active {
		return apperr.Detail(apperr.ErrModuleAccessDenied, "no access to module %q", tracked.ModuleKey)
	}
	limit, ok := e.Limits[tracked.LimitKey]
	if !ok {
		return apperr.Detail(apperr.ErrLimitExceeded, "no %s limit configured for module %q", tracked.LimitKey, tracked.ModuleKey)
	}
	if !access.CheckLimit(eff, tracked.ModuleKey, tracked.LimitKey, usage) {
		return apperr.Detail(apperr.ErrLimitExceeded, "maximum of %d %s reached for your plan", limit, operation)
	}
	return nil
}

// AssignParent sets parentID as the parent of moduleID (empty detaches it) after checking that the
// module graph stays acyclic.
func (s *Service) AssignParent(ctx context.Context, moduleID, parentID string) error {
	ctx, span := tracer.Start(ctx, "access.AssignParent")
	defer span.End()

	err := s.repo.UpdateParent(ctx, moduleID, parentID, func(parents map[string]string) error {
		return access.ValidateParentAssignment(moduleID, parentID, parents)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrCyclicParentAssignment) || errors.Is(err, access.ErrUnknownModule) {
			logger.From(ctx).Info("access: parent assignment rejected",
				logger.String("module_id", moduleID),
				logger.String("parent_id", parentID),
				logger.Err(err),
			)
			return err
		}
		return apperr.Storage("access.assign_parent", err)
	}
	return nil
}
