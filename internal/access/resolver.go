// Package access computes the effective module grants of a subscription and answers feature,
// limit and module-hierarchy questions against them. Everything here is pure; loading happens in
// the service package.
package access

import (
	"errors"
	"sort"
	"strings"

	"ams-control-plane/backend/internal/access/domain"
	"ams-control-plane/backend/internal/apperr"
)

// ErrUnknownModule is returned by ValidateParentAssignment when either module id is not in the graph.
var ErrUnknownModule = errors.New("access: unknown module")

var falsy = map[string]bool{"false": true, "0": true, "no": true, "off": true}

// Resolve merges plan templates with subscription overrides. A module present in overrides takes
// the override entry as a whole; otherwise the template entry is used. Modules in neither set are
// absent. The result is sorted by module key.
func Resolve(template, overrides []domain.ModuleAccess) []domain.EffectiveAccess {
	byModule := make(map[string]domain.EffectiveAccess, len(template)+len(overrides))
	for _, a := range template {
		byModule[a.ModuleID] = effective(a, domain.OwnerPlan)
	}
	for _, a := range overrides {
		byModule[a.ModuleID] = effective(a, domain.OwnerSubscription)
	}
	out := make([]domain.EffectiveAccess, 0, len(byModule))
	for _, e := range byModule {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleKey < out[j].ModuleKey })
	return out
}

func effective(a domain.ModuleAccess, source domain.OwnerKind) domain.EffectiveAccess {
	e := domain.EffectiveAccess{
		ModuleID:  a.ModuleID,
		ModuleKey: a.ModuleKey,
		Source:    source,
		Active:    a.Active,
		Limits:    make(map[string]int64, len(a.Limits)),
		Features:  make(map[string]domain.Feature, len(a.Features)),
	}
	for k, v := range a.Limits {
		e.Limits[k] = v
	}
	for k, v := range a.Features {
		e.Features[k] = v
	}
	return e
}

// Find returns the entry for moduleKey.
func Find(eff []domain.EffectiveAccess, moduleKey string) (domain.EffectiveAccess, bool) {
	for _, e := range eff {
		if e.ModuleKey == moduleKey {
			return e, true
		}
	}
	return domain.EffectiveAccess{}, false
}

// HasFeature is true when the module entry is active and featureKey is enabled with a truthy value.
// Empty, "false", "0", "no" and "off" (any case) are falsy; every other value is truthy.
func HasFeature(eff []domain.EffectiveAccess, moduleKey, featureKey string) bool {
	e, ok := Find(eff, moduleKey)
	if !ok || !e.Active {
		return false
	}
	f, ok := e.Features[featureKey]
	if !ok || !f.Enabled {
		return false
	}
	v := strings.ToLower(strings.TrimSpace(f.Value))
	return v != "" && !falsy[v]
}

// CheckLimit reports whether one more unit is allowed: the module entry is active, limitKey exists
// on it and usage is below the limit. A missing entry or limit denies.
func CheckLimit(eff []domain.EffectiveAccess, moduleKey, limitKey string, usage int64) bool {
	e, ok := Find(eff, moduleKey)
	if !ok || !e.Active {
		return false
	}
	limit, ok := e.Limits[limitKey]
	if !ok {
		return false
	}
	return usage < limit
}

// ValidateParentAssignment checks that making candidateParentID the parent of moduleID keeps the
// module graph a forest. parents maps every module id to its parent id ("" for roots). An empty
// candidate detaches the module and is always valid. The ancestor walk stops after len(parents)
// hops, so a corrupted graph that already contains a cycle is rejected rather than looping.
func ValidateParentAssignment(moduleID, candidateParentID string, parents map[string]string) error {
	if _, ok := parents[moduleID]; !ok {
		return ErrUnknownModule
	}
	if candidateParentID == "" {
		return nil
	}
	if _, ok := parents[candidateParentID]; !ok {
		return ErrUnknownModule
	}
	if candidateParentID == moduleID {
		return apperr.Detail(apperr.ErrCyclicParentAssignment, "module cannot be its own parent")
	}
	cur := candidateParentID
	for hops := 0; hops < len(parents); hops++ {
		next := parents[cur]
		if next == "" {
			return nil
		}
		if next == moduleID {
			return apperr.Detail(apperr.ErrCyclicParentAssignment, "module %s is an ancestor of %s", moduleID, candidateParentID)
		}
		cur = next
	}
	return apperr.Detail(apperr.ErrCyclicParentAssignment, "ancestor chain of %s does not reach a root", candidateParentID)
}
