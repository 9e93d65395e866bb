package domain

import "time"

// Module is a node in the module forest. ParentID is empty for roots.
type Module struct {
	ID       string
	Key      string
	Name     string
	ParentID string
}

// Plan is a named template of module grants.
type Plan struct {
	ID   string
	Name string
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription binds an identity (optionally within an organization) to a plan for a validity window.
type Subscription struct {
	ID             string
	IdentityID     string
	OrganizationID string
	PlanID         string
	Status         SubscriptionStatus
	StartDate      time.Time
	EndDate        time.Time
}

// Current reports whether the subscription is active and its window has not ended at now.
func (s *Subscription) Current(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}

// OwnerKind tells whether a ModuleAccess row is a plan template or a subscription override.
type OwnerKind string

const (
	OwnerPlan         OwnerKind = "plan"
	OwnerSubscription OwnerKind = "subscription"
)

// Feature is a feature flag value on a module grant.
type Feature struct {
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// ModuleAccess is one module grant with its limits and features.
type ModuleAccess struct {
	ID        string
	OwnerKind OwnerKind
	OwnerID   string
	ModuleID  string
	ModuleKey string
	Active    bool
	Limits    map[string]int64
	Features  map[string]Feature
}

// EffectiveAccess is the grant that applies to a subscription for one module after overrides.
type EffectiveAccess struct {
	ModuleID  string             `json:"module_id"`
	ModuleKey string             `json:"module_key"`
	Source    OwnerKind          `json:"source"`
	Active    bool               `json:"is_active"`
	Limits    map[string]int64   `json:"limits"`
	Features  map[string]Feature `json:"features"`
}
