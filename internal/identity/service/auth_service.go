// Package service implements signup, signin, logout, refresh, token status and verification for
// identities. It composes the session manager, the token blacklist and the verification store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"ams-control-plane/backend/internal/apperr"
	"ams-control-plane/backend/internal/audit"
	auditdomain "ams-control-plane/backend/internal/audit/domain"
	"ams-control-plane/backend/internal/identity/domain"
	"ams-control-plane/backend/internal/notify"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/security"
	sessiondomain "ams-control-plane/backend/internal/session/domain"
	sessionservice "ams-control-plane/backend/internal/session/service"
	verificationdomain "ams-control-plane/backend/internal/verification/domain"
	verificationservice "ams-control-plane/backend/internal/verification/service"
)

var tracer = otel.Tracer("ams-control-plane/backend/internal/identity")

var (
	// ErrIdentityNotFound is returned by SendVerification when no identity matches the identifier.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrAlreadyVerified is returned by SendVerification when the channel is already verified.
	ErrAlreadyVerified = errors.New("channel already verified")
)

// IdentityRepo is the identity storage the auth service needs.
type IdentityRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionManager is the subset of the session manager used by the auth service.
type SessionManager interface {
	Upsert(ctx context.Context, identityID string, fp sessiondomain.Fingerprint, refreshTokenHash string, ttl time.Duration) (*sessiondomain.Session, *sessionservice.UpsertOutcome, error)
	Deactivate(ctx context.Context, identityID string, fp sessiondomain.Fingerprint) (int64, error)
	Rotate(ctx context.Context, oldHash, newHash string, ttl time.Duration) (*sessiondomain.Session, error)
	ListActive(ctx context.Context, identityID string) ([]*sessiondomain.Session, error)
}

// Blacklist is the token revocation list.
type Blacklist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration, reason string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Verifier issues and consumes verification codes.
type Verifier interface {
	Issue(ctx context.Context, req verificationservice.IssueRequest) (*verificationservice.Issued, error)
	Consume(ctx context.Context, code string) (*verificationservice.Consumed, error)
}

// AuthResult carries a token pair. Expiry windows are in seconds.
type AuthResult struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	AccessExpiresIn  int64          `json:"access_token_expires_in"`
	RefreshExpiresIn int64          `json:"refresh_token_expires_in"`
	SessionID        string         `json:"-"`
	User             domain.Summary `json:"user"`
}

// SigninResult is either a token pair or, for an identity whose email is not verified, an
// unverified marker. An unverified signin is not an error.
type SigninResult struct {
	Tokens     *AuthResult
	Unverified bool
	Email      string
	IdentityID string
}

// SignupResult reports the created identity and the pending email verification.
type SignupResult struct {
	User                  domain.Summary
	VerificationChannel   verificationdomain.Channel
	VerificationExpiresAt time.Time
	// VerificationSent is false when the code was stored but delivery failed; the caller can resend.
	VerificationSent bool
}

// TokenStatus describes a presented token without authenticating with it.
type TokenStatus struct {
	IsValid       bool       `json:"is_valid"`
	IsBlacklisted bool       `json:"is_blacklisted"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Kind          string     `json:"kind,omitempty"`
	IdentityID    string     `json:"identity_id,omitempty"`
}

// VerifyResult is returned by VerifyEmail.
type VerifyResult struct {
	Verified   bool                       `json:"verified"`
	IdentityID string                     `json:"identity_id"`
	Channel    verificationdomain.Channel `json:"channel"`
}

// SendVerificationResult is returned by SendVerification.
type SendVerificationResult struct {
	Channel   verificationdomain.Channel `json:"channel"`
	Method    verificationdomain.Method  `json:"method"`
	ExpiresAt time.Time                  `json:"expires_at"`
}

// AuthService implements the identity authentication flows.
type AuthService struct {
	identities IdentityRepo
	sessions   SessionManager
	blacklist  Blacklist
	verifier   Verifier
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	audit      audit.EventLogger
	region     string
	nowF       func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. region is the default phone
// region (e.g. "US"); auditLog may be nil.
func NewAuthService(
	identities IdentityRepo,
	sessions SessionManager,
	blacklist Blacklist,
	verifier Verifier,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	auditLog audit.EventLogger,
	region string,
) *AuthService {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	if region == "" {
		region = "US"
	}
	return &AuthService{
		identities: identities,
		sessions:   sessions,
		blacklist:  blacklist,
		verifier:   verifier,
		hasher:     hasher,
		tokens:     tokens,
		audit:      auditLog,
		region:     strings.ToUpper(region),
		nowF:       time.Now,
	}
}

// WithClock makes s read time from nowF and returns s. Used by tests.
func (s *AuthService) WithClock(nowF func() time.Time) *AuthService {
	s.nowF = nowF
	return s
}

// Signup creates an unverified identity and sends an email OTP. No tokens are issued.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Signup")
	defer span.End()

	in.normalize()
	if err := in.Validate(s.region); err != nil {
		return nil, err
	}
	if in.Phone != "" {
		phone, err := normalizePhone(in.Phone, s.region)
		if err != nil {
			return nil, err
		}
		in.Phone = phone
	}
	if err := s.checkAvailable(ctx, in); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("signup: hash password: %w", err)
	}
	now := s.nowF().UTC()
	ident := &domain.Identity{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		Phone:        in.Phone,
		PasswordHash: hashed,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Timezone:     in.Timezone,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionSignup, "")

	res := &SignupResult{User: ident.Summary(), VerificationChannel: verificationdomain.ChannelEmail}
	issued, err := s.verifier.Issue(ctx, verificationservice.IssueRequest{
		IdentityID: ident.ID,
		Channel:    verificationdomain.ChannelEmail,
		Method:     verificationdomain.MethodOTP,
		Kind:       notify.KindSignupOTP,
	})
	switch {
	case err == nil:
		res.VerificationSent = true
		res.VerificationExpiresAt = issued.ExpiresAt
	case errors.Is(err, verificationservice.ErrDeliveryFailed) && issued != nil:
		res.VerificationExpiresAt = issued.ExpiresAt
	default:
		logger.From(ctx).Error("signup: verification code not issued", logger.IdentityID(ident.ID), logger.Err(err))
	}
	return res, nil
}

// checkAvailable reports which identifier is already taken before any write. The repository's
// unique constraints remain the final arbiter for concurrent signups.
func (s *AuthService) checkAvailable(ctx context.Context, in SignupInput) error {
	existing, err := s.identities.GetByEmail(ctx, in.Email)
	if err != nil {
		return apperr.Storage("signup.lookup_email", err)
	}
	if existing != nil {
		return apperr.Detail(apperr.ErrDuplicateIdentifier, "email already in use")
	}
	if in.Username != "" {
		existing, err = s.identities.GetByUsername(ctx, in.Username)
		if err != nil {
			return apperr.Storage("signup.lookup_username", err)
		}
		if existing != nil {
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "username already in use")
		}
	}
	if in.Phone != "" {
		existing, err = s.identities.GetByPhone(ctx, in.Phone)
		if err != nil {
			return apperr.Storage("signup.lookup_phone", err)
		}
		if existing != nil {
			return apperr.Detail(apperr.ErrDuplicateIdentifier, "phone number already in use")
		}
	}
	return nil
}

// resolve finds an identity by email, username or phone number. Returns (nil, nil) when none matches.
func (s *AuthService) resolve(ctx context.Context, identifier string) (*domain.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}
	if strings.Contains(identifier, "@") {
		return s.identities.GetByEmail(ctx, strings.ToLower(identifier))
	}
	ident, err := s.identities.GetByUsername(ctx, identifier)
	if err != nil || ident != nil {
		return ident, err
	}
	if looksLikePhone(identifier) {
		phone, err := normalizePhone(identifier, s.region)
		if err != nil {
			return nil, nil
		}
		return s.identities.GetByPhone(ctx, phone)
	}
	return nil, nil
}

// Signin checks the password of the identity named by identifier. An identity whose email is not
// verified gets a fresh email TOKEN challenge and an unverified result. Otherwise a token pair is
// signed, the session for fp is upserted and the pair is returned once the session is stored.
func (s *AuthService) Signin(ctx context.Context, identifier, password string, fp sessiondomain.Fingerprint) (*SigninResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Signin")
	defer span.End()

	ident, err := s.resolve(ctx, identifier)
	if err != nil {
		metrics.SigninsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Storage("signin.lookup", err)
	}
	if ident == nil {
		s.hasher.VerifyDummy(password)
		metrics.SigninsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, apperr.ErrInvalidCredentials
	}
	if !s.hasher.Verify(ident.PasswordHash, password) || ident.Status != domain.StatusActive {
		metrics.SigninsTotal.WithLabelValues("invalid_credentials").Inc()
		s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionSigninFailure, "")
		return nil, apperr.ErrInvalidCredentials
	}

	if !ident.EmailVerified {
		_, err := s.verifier.Issue(ctx, verificationservice.IssueRequest{
			IdentityID: ident.ID,
			Channel:    verificationdomain.ChannelEmail,
			Method:     verificationdomain.MethodToken,
		})
		if err != nil && !errors.Is(err, verificationservice.ErrDeliveryFailed) {
			metrics.SigninsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.SigninsTotal.WithLabelValues("unverified").Inc()
		s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionSigninUnverified, "")
		return &SigninResult{Unverified: true, Email: ident.Email, IdentityID: ident.ID}, nil
	}

	pair, err := s.tokens.IssuePair(ident.ID)
	if err != nil {
		metrics.SigninsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("signin: sign tokens: %w", err)
	}
	sess, outcome, err := s.sessions.Upsert(ctx, ident.ID, fp, security.HashToken(pair.Refresh.Token), s.tokens.RefreshTTL())
	if err != nil {
		metrics.SigninsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	for _, ev := range outcome.Evicted {
		s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionSessionEvicted, "session_id="+ev.ID)
	}

	now := s.nowF().UTC()
	if err := s.identities.TouchLastLogin(ctx, ident.ID, now); err != nil {
		logger.From(ctx).Warn("signin: last login not recorded", logger.IdentityID(ident.ID), logger.Err(err))
	}
	ident.LastLoginAt = &now
	metrics.SigninsTotal.WithLabelValues("success").Inc()
	s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionSignin, "session_id="+sess.ID)

	return &SigninResult{
		Tokens:     s.authResult(pair, sess.ID, ident),
		IdentityID: ident.ID,
		Email:      ident.Email,
	}, nil
}

func (s *AuthService) authResult(pair security.Pair, sessionID string, ident *domain.Identity) *AuthResult {
	now := s.nowF()
	return &AuthResult{
		AccessToken:      pair.Access.Token,
		RefreshToken:     pair.Refresh.Token,
		AccessExpiresIn:  secondsUntil(pair.Access.ExpiresAt, now),
		RefreshExpiresIn: secondsUntil(pair.Refresh.ExpiresAt, now),
		SessionID:        sessionID,
		User:             ident.Summary(),
	}
}

func secondsUntil(t, now time.Time) int64 {
	d := t.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

// Logout revokes accessToken for exactly its remaining lifetime and retires the session for fp.
// When identityID is set, the token's subject must match it.
func (s *AuthService) Logout(ctx context.Context, identityID, accessToken string, fp sessiondomain.Fingerprint) error {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer span.End()

	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return apperr.ErrTokenInvalidOrExpired
	}
	if identityID != "" && claims.Subject != identityID {
		return apperr.ErrTokenInvalidOrExpired
	}
	if err := s.blacklist.Revoke(ctx, accessToken, s.tokens.RemainingTTL(claims), "logout"); err != nil {
		return err
	}
	n, err := s.sessions.Deactivate(ctx, claims.Subject, fp)
	if err != nil {
		return err
	}
	s.audit.LogEvent(ctx, claims.Subject, auditdomain.ActionLogout, fmt.Sprintf("sessions_retired=%d", n))
	return nil
}

// TokenStatus reports whether token is usable. The blacklist is consulted first; a revoked token is
// reported invalid without verifying its signature. A blacklist failure is returned as an error
// wrapping apperr.ErrStorageUnavailable rather than as a valid status.
func (s *AuthService) TokenStatus(ctx context.Context, token string) (*TokenStatus, error) {
	ctx, span := tracer.Start(ctx, "auth.TokenStatus")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return &TokenStatus{}, nil
	}
	revoked, err := s.blacklist.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	st := &TokenStatus{IsBlacklisted: revoked}
	if exp, ok := s.tokens.PeekExpiry(token); ok {
		st.ExpiresAt = &exp
	}
	if revoked {
		return st, nil
	}
	if claims, err := s.tokens.ValidateAccess(token); err == nil {
		st.IsValid, st.Kind, st.IdentityID = true, string(security.KindAccess), claims.Subject
		return st, nil
	}
	if claims, err := s.tokens.ValidateRefresh(token); err == nil {
		st.IsValid, st.Kind, st.IdentityID = true, string(security.KindRefresh), claims.Subject
	}
	return st, nil
}

// Authenticate validates a bearer access token and returns its claims. Revoked tokens fail with
// apperr.ErrTokenRevoked; a blacklist failure fails closed with apperr.ErrStorageUnavailable.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*security.Claims, error) {
	if accessToken == "" {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	revoked, err := s.blacklist.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.ErrTokenRevoked
	}
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The session holding the token is rotated to the
// new refresh token and the old one is revoked for its remaining lifetime, so each refresh token
// works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	revoked, err := s.blacklist.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.ErrTokenRevoked
	}
	ident, err := s.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.Storage("refresh.lookup", err)
	}
	if ident == nil || ident.Status != domain.StatusActive {
		return nil, apperr.ErrTokenInvalidOrExpired
	}

	pair, err := s.tokens.IssuePair(ident.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh: sign tokens: %w", err)
	}
	sess, err := s.sessions.Rotate(ctx, security.HashToken(refreshToken), security.HashToken(pair.Refresh.Token), s.tokens.RefreshTTL())
	if err != nil {
		return nil, err
	}
	if err := s.blacklist.Revoke(ctx, refreshToken, s.tokens.RemainingTTL(claims), "refresh"); err != nil {
		logger.From(ctx).Warn("refresh: old refresh token not revoked", logger.IdentityID(ident.ID), logger.Err(err))
	}
	s.audit.LogEvent(ctx, ident.ID, auditdomain.ActionTokenRefresh, "session_id="+sess.ID)
	return s.authResult(pair, sess.ID, ident), nil
}

// VerifyEmail consumes a verification code and marks the matching channel verified.
func (s *AuthService) VerifyEmail(ctx context.Context, code string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "auth.VerifyEmail")
	defer span.End()

	consumed, err := s.verifier.Consume(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, consumed.IdentityID, auditdomain.ActionVerified, "channel="+string(consumed.Channel))
	return &VerifyResult{Verified: true, IdentityID: consumed.IdentityID, Channel: consumed.Channel}, nil
}

// SendVerification issues a new code for the identity named by identifier on channel, superseding
// any pending one. When delivery fails the result is returned together with an error wrapping
// verificationservice.ErrDeliveryFailed.
func (s *AuthService) SendVerification(ctx context.Context, identifier string, channel verificationdomain.Channel, method verificationdomain.Method) (*SendVerificationResult, error) {
	ctx, span := tracer.Start(ctx, "auth.SendVerification")
	defer span.End()

	ident, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, apperr.Storage("send_verification.lookup", err)
	}
	if ident == nil {
		return nil, ErrIdentityNotFound
	}
	if (channel == verificationdomain.ChannelEmail && ident.EmailVerified) ||
		(channel == verificationdomain.ChannelPhone && ident.PhoneVerified) {
		return nil, ErrAlreadyVerified
	}
	issued, err := s.verifier.Issue(ctx, verificationservice.IssueRequest{
		IdentityID: ident.ID,
		Channel:    channel,
		Method:     method,
	})
	if issued == nil {
		return nil, err
	}
	return &SendVerificationResult{Channel: issued.Channel, Method: issued.Method, ExpiresAt: issued.ExpiresAt}, err
}

// ListSessions returns the identity's active sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, identityID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActive(ctx, identityID)
}
