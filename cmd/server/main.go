// server runs the HTTP API. Without DATABASE_URL it runs on in-memory storage (development only).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ams-control-plane/backend/internal/app"
	"ams-control-plane/backend/internal/audit"
	"ams-control-plane/backend/internal/config"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
	"ams-control-plane/backend/internal/server"
	"ams-control-plane/backend/internal/telemetry/otel"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("config", logger.Err(err))
	}
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: "ams-api", Version: cfg.Version})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "ams-api", cfg.Version, cfg.OTLPInsecure)
	if err != nil {
		log.Fatal("otel providers", logger.Err(err))
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics", logger.Err(err))
	}

	var exporters []audit.EventLogger
	if cfg.OTLPEndpoint != "" {
		exporters = append(exporters, otel.NewAuthEventExporter(providers.LoggerProvider, server.ClientIP))
	}
	a, err := app.Build(ctx, cfg, app.Options{AuditLoggers: exporters})
	if err != nil {
		log.Fatal("wire services", logger.Err(err))
	}
	defer a.Close()

	deps := server.Deps{Auth: a.Auth, Access: a.Access, Checks: a.Checks}
	if a.DevCodes != nil {
		log.Warn("dev code capture enabled; verification codes are readable at /dev/verification-code")
		deps.DevCodes = a.DevCodes
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", logger.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", logger.Err(err))
	}
	log.Info("http server stopped")
}
