package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"ams-control-plane/backend/internal/audit"
)

// recordEmitter is the part of otellog.Logger used to emit auth events.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuthEventExporter emits auth events (signin, logout, eviction...) as OTel log records so they
// reach the collector alongside traces.
type AuthEventExporter struct {
	logger      recordEmitter
	ipExtractor audit.IPExtractor
	nowF        func() time.Time
}

// NewAuthEventExporter returns an exporter writing to provider. A nil provider yields audit.Nop.
func NewAuthEventExporter(provider *sdklog.LoggerProvider, ipExtractor audit.IPExtractor) audit.EventLogger {
	if provider == nil {
		return audit.Nop{}
	}
	return newAuthEventExporter(provider.Logger("ams.auth_events"), ipExtractor)
}

func newAuthEventExporter(l recordEmitter, ipExtractor audit.IPExtractor) *AuthEventExporter {
	return &AuthEventExporter{logger: l, ipExtractor: ipExtractor, nowF: time.Now}
}

// LogEvent emits one record with the action as body and identity, action and client IP as attributes.
func (e *AuthEventExporter) LogEvent(ctx context.Context, identityID, action, metadata string) {
	if identityID == "" {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(e.nowF().UTC())
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(action))
	rec.AddAttributes(
		otellog.String("identity_id", identityID),
		otellog.String("action", action),
	)
	if e.ipExtractor != nil {
		if ip := e.ipExtractor(ctx); ip != "" {
			rec.AddAttributes(otellog.String("client_ip", ip))
		}
	}
	if metadata != "" {
		rec.AddAttributes(otellog.String("metadata", metadata))
	}
	e.logger.Emit(ctx, rec)
}
