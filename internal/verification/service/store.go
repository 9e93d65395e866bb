// Package service issues and consumes verification challenges. Each (identity, channel)
// pair has at most one pending code; issuing again supersedes the previous one.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"ams-control-plane/backend/internal/apperr"
	iddomain "ams-control-plane/backend/internal/identity/domain"
	"ams-control-plane/backend/internal/notify"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/security"
	"ams-control-plane/backend/internal/verification"
	"ams-control-plane/backend/internal/verification/domain"
	"ams-control-plane/backend/internal/verification/repository"
)

var tracer = otel.Tracer("ams-control-plane/backend/internal/verification")

const maxCollisionRetries = 5

var (
	// ErrUnknownIdentity is returned by Issue when the identity does not exist.
	ErrUnknownIdentity = errors.New("verification: unknown identity")
	// ErrNoTarget is returned by Issue when the identity has no address for the channel (e.g. no phone number).
	ErrNoTarget = errors.New("verification: identity has no target for channel")
	// ErrDeliveryFailed is returned by Issue together with a non-nil Issued when the challenge was stored
	// but the notifier failed. The challenge stays pending and a later Issue replaces it.
	ErrDeliveryFailed = errors.New("verification: delivery failed")
)

// IdentityDirectory is the identity storage the store reads targets from and marks verified.
type IdentityDirectory interface {
	GetByID(ctx context.Context, id string) (*iddomain.Identity, error)
	SetEmailVerified(ctx context.Context, id string) error
	SetPhoneVerified(ctx context.Context, id string) error
}

// IssueRequest describes a code to issue. Kind selects the message template; when empty it is
// derived from Method.
type IssueRequest struct {
	IdentityID string
	Channel    domain.Channel
	Method     domain.Method
	Kind       notify.Kind
}

// Issued is the result of a successful Issue. Code is plaintext and must not be logged or returned
// to HTTP callers.
type Issued struct {
	ChallengeID string
	IdentityID  string
	Channel     domain.Channel
	Method      domain.Method
	Target      string
	Code        string
	ExpiresAt   time.Time
	Superseded  bool
}

// Consumed identifies the identity and channel verified by a code.
type Consumed struct {
	IdentityID string
	Channel    domain.Channel
}

// Store issues and consumes verification challenges.
type Store struct {
	repo       repository.Repository
	identities IdentityDirectory
	notifier   notify.Notifier
	nowF       func() time.Time
	generate   func(domain.Method) (string, error)
}

// NewStore returns a Store that persists to repo, reads targets from identities and delivers via notifier.
func NewStore(repo repository.Repository, identities IdentityDirectory, notifier notify.Notifier) *Store {
	return &Store{
		repo:       repo,
		identities: identities,
		notifier:   notifier,
		nowF:       time.Now,
		generate:   verification.Generate,
	}
}

// WithClock makes s read time from nowF and returns s. Used by tests.
func (s *Store) WithClock(nowF func() time.Time) *Store {
	s.nowF = nowF
	return s
}

// Issue generates a code for the request, replaces any pending challenge for the same
// (identity, channel) and sends the code. On notifier failure the stored challenge is kept and
// both the Issued value and an error wrapping ErrDeliveryFailed are returned.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	ctx, span := tracer.Start(ctx, "verification.Issue")
	defer span.End()

	if req.Channel != domain.ChannelEmail && req.Channel != domain.ChannelPhone {
		return nil, fmt.Errorf("verification: invalid channel %q", req.Channel)
	}
	if req.Method != domain.MethodOTP && req.Method != domain.MethodToken {
		return nil, fmt.Errorf("verification: invalid method %q", req.Method)
	}

	ident, err := s.identities.GetByID(ctx, req.IdentityID)
	if err != nil {
		return nil, apperr.Storage("verification.identity_lookup", err)
	}
	if ident == nil {
		return nil, ErrUnknownIdentity
	}
	target := ident.Email
	if req.Channel == domain.ChannelPhone {
		target = ident.Phone
	}
	if target == "" {
		return nil, ErrNoTarget
	}

	now := s.nowF().UTC()
	var (
		code       string
		challenge  *domain.Challenge
		superseded bool
	)
	for attempt := 0; ; attempt++ {
		code, err = s.generate(req.Method)
		if err != nil {
			return nil, fmt.Errorf("verification: generate code: %w", err)
		}
		challenge = &domain.Challenge{
			ID:         uuid.NewString(),
			IdentityID: ident.ID,
			Channel:    req.Channel,
			Method:     req.Method,
			CodeHash:   security.HashToken(code),
			Target:     target,
			ExpiresAt:  now.Add(req.Method.TTL()),
			CreatedAt:  now,
		}
		superseded, err = s.repo.Replace(ctx, challenge)
		if errors.Is(err, repository.ErrCodeCollision) && attempt < maxCollisionRetries {
			continue
		}
		if err != nil {
			return nil, apperr.Storage("verification.issue", err)
		}
		break
	}

	issued := &Issued{
		ChallengeID: challenge.ID,
		IdentityID:  ident.ID,
		Channel:     req.Channel,
		Method:      req.Method,
		Target:      target,
		Code:        code,
		ExpiresAt:   challenge.ExpiresAt,
		Superseded:  superseded,
	}
	metrics.VerificationCodes.WithLabelValues(string(req.Channel), "issued").Inc()

	kind := req.Kind
	if kind == "" {
		kind = notify.KindVerifyOTP
		if req.Method == domain.MethodToken {
			kind = notify.KindVerifyToken
		}
	}
	msg := notify.Message{
		Channel:   string(req.Channel),
		Target:    target,
		Code:      code,
		Kind:      kind,
		ExpiresAt: challenge.ExpiresAt,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		metrics.VerificationCodes.WithLabelValues(string(req.Channel), "delivery_failed").Inc()
		logger.From(ctx).Warn("verification: delivery failed",
			logger.IdentityID(ident.ID),
			logger.Channel(string(req.Channel)),
			logger.ChallengeID(challenge.ID),
			logger.Err(err),
		)
		return issued, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	logger.From(ctx).Info("verification: code issued",
		logger.IdentityID(ident.ID),
		logger.Channel(string(req.Channel)),
		logger.ChallengeID(challenge.ID),
		logger.String("method", string(req.Method)),
	)
	return issued, nil
}

// Consume redeems code: the matching unexpired challenge is deleted and the identity's verified
// flag for its channel is set. Wrong, expired, superseded or already used codes fail with
// apperr.ErrInvalidOrExpiredCode.
func (s *Store) Consume(ctx context.Context, code string) (*Consumed, error) {
	ctx, span := tracer.Start(ctx, "verification.Consume")
	defer span.End()

	if code == "" {
		return nil, apperr.ErrInvalidOrExpiredCode
	}
	c, err := s.repo.Consume(ctx, security.HashToken(code), s.nowF().UTC())
	if err != nil {
		return nil, apperr.Storage("verification.consume", err)
	}
	if c == nil {
		metrics.VerificationCodes.WithLabelValues("unknown", "rejected").Inc()
		return nil, apperr.ErrInvalidOrExpiredCode
	}

	switch c.Channel {
	case domain.ChannelPhone:
		err = s.identities.SetPhoneVerified(ctx, c.IdentityID)
	default:
		err = s.identities.SetEmailVerified(ctx, c.IdentityID)
	}
	if err != nil {
		logger.From(ctx).Error("verification: code consumed but verified flag not set",
			logger.IdentityID(c.IdentityID),
			logger.Channel(string(c.Channel)),
			logger.Err(err),
		)
		return nil, apperr.Storage("verification.mark_verified", err)
	}
	metrics.VerificationCodes.WithLabelValues(string(c.Channel), "consumed").Inc()
	return &Consumed{IdentityID: c.IdentityID, Channel: c.Channel}, nil
}

// Pending returns the pending challenge for (identityID, channel), or nil when none is live.
func (s *Store) Pending(ctx context.Context, identityID string, channel domain.Channel) (*domain.Challenge, error) {
	c, err := s.repo.GetPending(ctx, identityID, channel)
	if err != nil {
		return nil, apperr.Storage("verification.pending", err)
	}
	if c == nil || c.Expired(s.nowF()) {
		return nil, nil
	}
	return c, nil
}

// Sweep deletes every expired challenge and returns the number removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "verification.Sweep")
	defer span.End()

	n, err := s.repo.DeleteExpired(ctx, s.nowF().UTC())
	if err != nil {
		return 0, apperr.Storage("verification.sweep", err)
	}
	if n > 0 {
		metrics.SweepDeleted.WithLabelValues("verification_challenges").Add(float64(n))
	}
	return n, nil
}
