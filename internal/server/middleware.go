package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/security"
)

const bearerPrefix = "bearer "

// Authenticator validates an access token, including the revocation check.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*security.Claims, error)
}

// requestContext populates RequestInfo and a request-scoped logger. It must run after
// middleware.RequestID and middleware.RealIP.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ri := RequestInfo{
			RequestID: middleware.GetReqID(ctx),
			ClientIP:  remoteHost(r.RemoteAddr),
			UserAgent: r.UserAgent(),
			DeviceID:  r.Header.Get("X-Device-ID"),
		}
		l := logger.L().With(
			logger.RequestID(ri.RequestID),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ctx = logger.ToContext(WithRequestInfo(ctx, ri), l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog records the request duration histogram by route pattern and logs one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		if route == "/healthz" || route == "/metrics" {
			return
		}
		logger.From(r.Context()).Info("http request",
			logger.Status(status),
			logger.Duration(elapsed),
			logger.ClientIP(ClientIP(r.Context())),
		)
	})
}

// requireBearer rejects requests without a valid, unrevoked access token and stores the Caller in
// the request context.
func requireBearer(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				writeErrorCode(w, http.StatusUnauthorized, "token_invalid_or_expired", "missing or invalid authorization")
				return
			}
			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := WithCaller(r.Context(), Caller{IdentityID: claims.Subject, AccessToken: token, Claims: claims})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
