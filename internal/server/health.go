package server

import (
	"context"
	"net/http"
	"time"

	"ams-control-plane/backend/internal/observability/logger"
)

const readinessTimeout = 2 * time.Second

// Check is one readiness dependency, e.g. the Postgres pool or the Redis client.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz runs every check with a short timeout. Any failure reports 503.
func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			logger.From(ctx).Warn("readiness check failed", logger.Component(c.Name), logger.Err(err))
			results[c.Name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}
