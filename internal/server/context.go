package server

import (
	"context"
	"strings"

	"ams-control-plane/backend/internal/security"
	sessiondomain "ams-control-plane/backend/internal/session/domain"
)

type contextKey struct{ name string }

var (
	requestInfoKey = contextKey{"request_info"}
	callerKey      = contextKey{"caller"}
)

// RequestInfo is what the transport knows about the client. It is set once per request by the
// request context middleware.
type RequestInfo struct {
	RequestID string
	ClientIP  string
	UserAgent string
	DeviceID  string
}

// Fingerprint returns the session fingerprint of the request. Non-empty device and browser values
// (e.g. from a request body) take precedence over the X-Device-ID and User-Agent headers.
func (ri RequestInfo) Fingerprint(device, browser string) sessiondomain.Fingerprint {
	if strings.TrimSpace(device) == "" {
		device = ri.DeviceID
	}
	if strings.TrimSpace(browser) == "" {
		browser = ri.UserAgent
	}
	return sessiondomain.Fingerprint{Device: device, Browser: browser, Origin: ri.ClientIP}.Normalize()
}

// Caller is the authenticated identity behind a bearer token.
type Caller struct {
	IdentityID  string
	AccessToken string
	Claims      *security.Claims
}

// WithRequestInfo returns a context carrying ri.
func WithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, ri)
}

// GetRequestInfo returns the request info from ctx and true if set.
func GetRequestInfo(ctx context.Context) (RequestInfo, bool) {
	ri, ok := ctx.Value(requestInfoKey).(RequestInfo)
	return ri, ok
}

// ClientIP returns the client IP recorded for the request, or "" outside a request.
func ClientIP(ctx context.Context) string {
	ri, _ := GetRequestInfo(ctx)
	return ri.ClientIP
}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// GetCaller returns the authenticated caller from ctx and true if set; otherwise a zero Caller, false.
func GetCaller(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
