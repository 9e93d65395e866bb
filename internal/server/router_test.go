package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessdomain "ams-control-plane/backend/internal/access/domain"
	accessrepo "ams-control-plane/backend/internal/access/repository"
	accessservice "ams-control-plane/backend/internal/access/service"
	"ams-control-plane/backend/internal/audit"
	auditrepo "ams-control-plane/backend/internal/audit/repository"
	identityrepo "ams-control-plane/backend/internal/identity/repository"
	identityservice "ams-control-plane/backend/internal/identity/service"
	"ams-control-plane/backend/internal/notify/devcapture"
	revocationrepo "ams-control-plane/backend/internal/revocation/repository"
	revocationservice "ams-control-plane/backend/internal/revocation/service"
	"ams-control-plane/backend/internal/security"
	sessionrepo "ams-control-plane/backend/internal/session/repository"
	sessionservice "ams-control-plane/backend/internal/session/service"
	verificationrepo "ams-control-plane/backend/internal/verification/repository"
	verificationservice "ams-control-plane/backend/internal/verification/service"
)

const password = "Sup3r-secret!"

type testServer struct {
	handler    http.Handler
	outbox     *devcapture.Store
	accessRepo *accessrepo.MemoryRepository
}

func newTestServer(t *testing.T, checks ...Check) *testServer {
	t.Helper()
	identities := identityrepo.NewMemoryRepository()
	outbox := devcapture.NewStore()
	auth := identityservice.NewAuthService(
		identities,
		sessionservice.NewManager(sessionrepo.NewMemoryRepository(), sessionservice.DefaultMaxActive),
		revocationservice.NewBlacklist(revocationrepo.NewMemoryRepository()),
		verificationservice.NewStore(verificationrepo.NewMemoryRepository(), identities, outbox),
		security.NewHasher(4),
		security.NewTestTokenProvider(),
		audit.NewLogger(auditrepo.NewMemoryRepository(), ClientIP),
		"US",
	)
	ar := accessrepo.NewMemoryRepository()
	h := NewRouter(Deps{
		Auth:     auth,
		Access:   accessservice.NewService(ar),
		Checks:   checks,
		DevCodes: outbox,
	})
	return &testServer{handler: h, outbox: outbox, accessRepo: ar}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func signupBody(email string) map[string]string {
	return map[string]string{"email": email, "password": password, "first_name": "Ada", "last_name": "Lovelace"}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// verifiedUser signs up email, verifies it and signs in from device. Returns the signin body.
func (s *testServer) verifiedUser(t *testing.T, email, device string) map[string]any {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/signup", "", signupBody(email))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	code, _, ok := s.outbox.Get(context.Background(), "EMAIL", email)
	require.True(t, ok)
	rec = s.do(t, http.MethodPost, "/auth/verify-email", "", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"identifier": email, "password": password, "device": device})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t,
		Check{Name: "postgres", Ping: func(context.Context) error { return nil }},
	)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t,
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	rec = down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unavailable", body["checks"].(map[string]any)["redis"])
}

func TestSignupAndUnverifiedSignin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/signup", "", signupBody("ada@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotContains(t, body, "access_token")
	assert.Equal(t, true, body["verification"].(map[string]any)["sent"])

	rec = s.do(t, http.MethodPost, "/auth/signup", "", signupBody("ada@example.com"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_identifier", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "nope", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["fields"], "email")
	assert.Contains(t, body["fields"], "password")

	rec = s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"identifier": "ada@example.com", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["email_verified"])
	assert.Equal(t, "ada@example.com", body["email"])
	assert.NotContains(t, body, "access_token")
}

func TestSigninErrors(t *testing.T) {
	s := newTestServer(t)
	s.verifiedUser(t, "ada@example.com", "laptop")

	rec := s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"identifier": "ada@example.com", "password": "Wrong-passw0rd"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	s.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestSigninLogoutFlow(t *testing.T) {
	s := newTestServer(t)
	body := s.verifiedUser(t, "ada@example.com", "laptop")
	access := body["access_token"].(string)
	assert.Equal(t, float64(900), body["access_token_expires_in"])
	assert.Equal(t, float64(604800), body["refresh_token_expires_in"])

	rec := s.do(t, http.MethodGet, "/auth/sessions", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "laptop", sessions[0].(map[string]any)["device"])
	assert.Equal(t, "test-agent/1.0", sessions[0].(map[string]any)["browser"])

	rec = s.do(t, http.MethodGet, "/auth/token-status", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["is_valid"])

	rec = s.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"device": "laptop"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/auth/token-status?token="+access, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	assert.Equal(t, false, st["is_valid"])
	assert.Equal(t, true, st["is_blacklisted"])

	rec = s.do(t, http.MethodGet, "/auth/sessions", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/auth/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionCapOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.verifiedUser(t, "ada@example.com", "device-0")
	for i := 1; i < 6; i++ {
		rec := s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{
			"identifier": "ada@example.com", "password": password, "device": fmt.Sprintf("device-%d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/auth/signin", "", map[string]string{"identifier": "ada@example.com", "password": password, "device": "device-5"})
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode(t, rec)["access_token"].(string)

	rec = s.do(t, http.MethodGet, "/auth/sessions", latest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	assert.Len(t, sessions, 5)
	for _, raw := range sessions {
		assert.NotEqual(t, "device-0", raw.(map[string]any)["device"])
	}
}

func TestRefreshOverHTTP(t *testing.T) {
	s := newTestServer(t)
	body := s.verifiedUser(t, "ada@example.com", "laptop")
	refresh := body["refresh_token"].(string)

	rec := s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, refresh, decode(t, rec)["refresh_token"])

	rec = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendVerificationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/auth/signup", "", signupBody("ada@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/send-verification", "", map[string]string{"identifier": "ada@example.com", "method": "token"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/dev/verification-code?channel=EMAIL&target=ada@example.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dev := decode(t, rec)
	assert.Equal(t, "verify_token", dev["kind"])
	assert.Len(t, dev["code"], 64)

	rec = s.do(t, http.MethodPost, "/auth/send-verification", "", map[string]string{"identifier": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/send-verification", "", map[string]string{"identifier": "ada@example.com", "channel": "PHONE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/send-verification", "", map[string]string{"identifier": "ada@example.com", "channel": "FAX"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/verify-email", "", map[string]string{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_or_expired_code", decode(t, rec)["error"])
}

func TestAccessRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	body := s.verifiedUser(t, "ada@example.com", "laptop")
	token := body["access_token"].(string)
	identityID := body["user"].(map[string]any)["id"].(string)

	for _, m := range []accessdomain.Module{
		{ID: "m-org", Key: "organization", Name: "Organizations"},
		{ID: "m-user", Key: "user", Name: "Users", ParentID: "m-org"},
	} {
		m := m
		require.NoError(t, s.accessRepo.CreateModule(ctx, &m))
	}
	require.NoError(t, s.accessRepo.CreatePlan(ctx, &accessdomain.Plan{ID: "plan-basic", Name: "basic"}))
	require.NoError(t, s.accessRepo.PutModuleAccess(ctx, &accessdomain.ModuleAccess{
		OwnerKind: accessdomain.OwnerPlan, OwnerID: "plan-basic", ModuleID: "m-user", Active: true,
		Limits:   map[string]int64{"max_users": 2},
		Features: map[string]accessdomain.Feature{"sso": {Value: "true", Enabled: true}},
	}))
	require.NoError(t, s.accessRepo.CreateSubscription(ctx, &accessdomain.Subscription{
		ID: "sub-1", IdentityID: identityID, PlanID: "plan-basic", Status: accessdomain.SubscriptionActive,
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(24 * time.Hour),
	}))

	rec := s.do(t, http.MethodGet, "/access/subscriptions/sub-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["modules"], 1)

	rec = s.do(t, http.MethodGet, "/access/subscriptions/sub-other", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/access/modules/user", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["has_access"])

	rec = s.do(t, http.MethodGet, "/access/modules/user?feature=sso", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["enabled"])

	rec = s.do(t, http.MethodGet, "/access/modules/organization", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "module_access_denied", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/access/modules/billing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "module_not_found", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/access/limits/users?usage=1", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/access/limits/users?usage=2", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "limit_exceeded", decode(t, rec)["error"])
	rec = s.do(t, http.MethodGet, "/access/limits/users?usage=lots", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/modules/m-org/parent", token, map[string]string{"parent_id": "m-user"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cyclic_parent_assignment", decode(t, rec)["error"])
	rec = s.do(t, http.MethodPut, "/modules/m-user/parent", token, map[string]string{"parent_id": ""})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodPut, "/modules/m-user/parent", "", map[string]string{"parent_id": ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
