// Package server exposes the auth, session and access operations over HTTP using chi.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accessservice "ams-control-plane/backend/internal/access/service"
	identityservice "ams-control-plane/backend/internal/identity/service"
	"ams-control-plane/backend/internal/notify"
)

// CodeReader returns the last verification code captured for a target. Only wired when dev code
// capture is enabled.
type CodeReader interface {
	Get(ctx context.Context, channel, target string) (code string, kind notify.Kind, ok bool)
}

// Deps holds the services behind the HTTP API.
type Deps struct {
	// Auth serves the /auth routes and bearer authentication. Required.
	Auth *identityservice.AuthService
	// Access serves the /access and /modules routes. If nil, those routes are not mounted.
	Access *accessservice.Service
	// Checks are run by /readyz. An empty list reports ready.
	Checks []Check
	// DevCodes exposes GET /dev/verification-code. Leave nil outside development.
	DevCodes CodeReader
	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

type handler struct {
	auth     *identityservice.AuthService
	access   *accessservice.Service
	checks   []Check
	devCodes CodeReader
}

// NewRouter returns the HTTP handler for the API.
//
// Route → operation mapping:
//   - POST /auth/signup, /auth/signin, /auth/refresh, /auth/send-verification, /auth/verify-email
//   - GET  /auth/token-status
//   - POST /auth/logout, GET /auth/sessions (bearer)
//   - GET  /access/subscriptions/{id}, /access/modules/{moduleKey}, /access/limits/{operation} (bearer)
//   - PUT  /modules/{id}/parent (bearer)
//   - GET  /healthz, /readyz, /metrics, /dev/verification-code
func NewRouter(deps Deps) http.Handler {
	h := &handler{auth: deps.Auth, access: deps.Access, checks: deps.Checks, devCodes: deps.DevCodes}
	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestContext, accessLog, middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	bearer := requireBearer(deps.Auth)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signup)
		r.Post("/signin", h.signin)
		r.Post("/refresh", h.refresh)
		r.Get("/token-status", h.tokenStatus)
		r.Post("/send-verification", h.sendVerification)
		r.Post("/verify-email", h.verifyEmail)
		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Post("/logout", h.logout)
			r.Get("/sessions", h.sessions)
		})
	})

	if deps.Access != nil {
		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Get("/access/subscriptions/{id}", h.subscriptionAccess)
			r.Get("/access/modules/{moduleKey}", h.moduleAccess)
			r.Get("/access/limits/{operation}", h.checkLimit)
			r.Put("/modules/{id}/parent", h.assignParent)
		})
	}

	if deps.DevCodes != nil {
		r.Get("/dev/verification-code", h.devVerificationCode)
	}
	return r
}
