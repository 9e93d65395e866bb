// Package metrics holds the Prometheus collectors for the auth, session, verification and revocation paths.
// Collectors are package-level so services can increment them without threading a registry through constructors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ams"

var (
	SigninsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signins_total",
		Help:      "Signin attempts by outcome (success, unverified, invalid_credentials, error).",
	}, []string{"outcome"})

	SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Sessions retired because the identity reached its active session cap.",
	})

	SessionsReused = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_reused_total",
		Help:      "Signins that refreshed an existing session for the same fingerprint.",
	})

	TokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_revoked_total",
		Help:      "Tokens added to the revocation list.",
	})

	BlacklistCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blacklist_cache_hits_total",
		Help:      "Revocation lookups answered by the in-process cache.",
	})

	VerificationCodes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_codes_total",
		Help:      "Verification code events by channel and event (issued, consumed, delivery_failed, rejected).",
	}, []string{"channel", "event"})

	SweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deleted_total",
		Help:      "Expired records removed by periodic sweeps, by store.",
	}, []string{"store"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Register registers all collectors on reg (or the default registerer if nil).
// Already registered collectors are ignored so tests and multiple binaries can call it freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		SigninsTotal,
		SessionsEvicted,
		SessionsReused,
		TokensRevoked,
		BlacklistCacheHits,
		VerificationCodes,
		SweepDeleted,
		HTTPRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
