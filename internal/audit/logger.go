// Package audit records authentication events (signup, signin, logout, eviction, refresh) per identity.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ams-control-plane/backend/internal/audit/domain"
	auditrepo "ams-control-plane/backend/internal/audit/repository"
	"ams-control-plane/backend/internal/observability/logger"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// EventLogger writes a single auth event. LogEvent is best-effort: failures are logged and do not
// affect the caller.
type EventLogger interface {
	LogEvent(ctx context.Context, identityID, action, metadata string)
}

// Logger implements EventLogger using the auth event repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	nowF        func() time.Time
}

// NewLogger returns an EventLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, nowF: time.Now}
}

// LogEvent writes one auth event. Events without an identity are dropped.
func (l *Logger) LogEvent(ctx context.Context, identityID, action, metadata string) {
	if l == nil || l.repo == nil || identityID == "" {
		return
	}
	ip := ""
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuthEvent{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Action:     action,
		IP:         ip,
		Metadata:   metadata,
		CreatedAt:  l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		logger.From(ctx).Warn("audit: failed to log event",
			logger.IdentityID(identityID),
			logger.String("action", action),
			logger.Err(err),
		)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string) {}

// Multi fans each event out to every logger in order.
type Multi []EventLogger

func (m Multi) LogEvent(ctx context.Context, identityID, action, metadata string) {
	for _, l := range m {
		if l != nil {
			l.LogEvent(ctx, identityID, action, metadata)
		}
	}
}
