// Worker periodically purges expired revoked tokens and verification challenges.
// Requests never wait on it: expired entries are already ignored on read.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ams-control-plane/backend/internal/app"
	"ams-control-plane/backend/internal/config"
	"ams-control-plane/backend/internal/observability/logger"
	"ams-control-plane/backend/internal/observability/metrics"
)

type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("config", logger.Err(err))
	}
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: "ams-worker", Version: cfg.Version})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics", logger.Err(err))
	}
	a, err := app.Build(ctx, cfg, app.Options{RequireDatabase: true})
	if err != nil {
		log.Fatal("wire services", logger.Err(err))
	}
	defer a.Close()

	sweepers := map[string]sweeper{
		"revoked_tokens":          a.Blacklist,
		"verification_challenges": a.Verifier,
	}
	every := cfg.SweepEvery()
	log.Info("worker: sweeping", logger.String("interval", every.String()))

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		sweepAll(ctx, sweepers)
		select {
		case <-ctx.Done():
			log.Info("worker: stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweepAll(ctx context.Context, sweepers map[string]sweeper) {
	for name, s := range sweepers {
		n, err := s.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.L().Error("sweep failed", logger.Component(name), logger.Err(err))
			continue
		}
		if n > 0 {
			logger.L().Info("sweep", logger.Component(name), logger.Count(n))
		}
	}
}
