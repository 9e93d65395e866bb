// Package app wires repositories, services and notifiers from Config. It is shared by the server,
// worker and seed commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	accessrepo "ams-control-plane/backend/internal/access/repository"
	accessservice "ams-control-plane/backend/internal/access/service"
	"ams-control-plane/backend/internal/audit"
	auditrepo "ams-control-plane/backend/internal/audit/repository"
	"ams-control-plane/backend/internal/config"
	"ams-control-plane/backend/internal/db"
	identityrepo "ams-control-plane/backend/internal/identity/repository"
	identityservice "ams-control-plane/backend/internal/identity/service"
	"ams-control-plane/backend/internal/notify"
	"ams-control-plane/backend/internal/notify/devcapture"
	"ams-control-plane/backend/internal/notify/email"
	"ams-control-plane/backend/internal/notify/sms"
	"ams-control-plane/backend/internal/observability/logger"
	revocationrepo "ams-control-plane/backend/internal/revocation/repository"
	revocationservice "ams-control-plane/backend/internal/revocation/service"
	"ams-control-plane/backend/internal/security"
	"ams-control-plane/backend/internal/server"
	sessionrepo "ams-control-plane/backend/internal/session/repository"
	sessionservice "ams-control-plane/backend/internal/session/service"
	verificationrepo "ams-control-plane/backend/internal/verification/repository"
	verificationservice "ams-control-plane/backend/internal/verification/service"
)

// ErrMemoryInProduction is returned when DATABASE_URL is empty and APP_ENV is production.
var ErrMemoryInProduction = errors.New("app: DATABASE_URL is required when APP_ENV=production")

// Options tweak Build for a particular binary.
type Options struct {
	// RequireDatabase refuses the in-memory fallback (worker, seed).
	RequireDatabase bool
	// AuditLoggers are added next to the database audit trail (e.g. the OTel exporter).
	AuditLoggers []audit.EventLogger
}

// App holds the wired components. Close releases the pool and the Redis client.
type App struct {
	Pool       *pgxpool.Pool
	Redis      redis.UniversalClient
	Identities identityrepo.Repository
	Auth       *identityservice.AuthService
	Access     *accessservice.Service
	AccessData accessrepo.Writer
	Blacklist  *revocationservice.Blacklist
	Verifier   *verificationservice.Store
	Hasher     *security.Hasher
	DevCodes   *devcapture.Store
	Checks     []server.Check
}

type stores struct {
	identities  identityrepo.Repository
	sessions    sessionrepo.Repository
	challenges  verificationrepo.Repository
	revocations revocationrepo.Repository
	access      interface {
		accessrepo.Repository
		accessrepo.Writer
	}
	events auditrepo.Repository
}

// Build opens storage and wires every service. Without DATABASE_URL it falls back to in-memory
// repositories, which is refused in production.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	accessSecret, refreshSecret, err := cfg.Secrets()
	if err != nil {
		return nil, err
	}
	tokens, err := security.NewTokenProvider(accessSecret, refreshSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return nil, fmt.Errorf("app: token provider: %w", err)
	}

	a := &App{Hasher: security.NewHasher(cfg.BcryptCost)}
	var st stores
	switch {
	case cfg.DatabaseURL != "":
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.Checks = append(a.Checks, server.Check{Name: "postgres", Ping: pool.Ping})
		st = stores{
			identities:  identityrepo.NewPostgresRepository(pool),
			sessions:    sessionrepo.NewPostgresRepository(pool),
			challenges:  verificationrepo.NewPostgresRepository(pool),
			revocations: revocationrepo.NewPostgresRepository(pool),
			access:      accessrepo.NewPostgresRepository(pool),
			events:      auditrepo.NewPostgresRepository(pool),
		}
	case opts.RequireDatabase:
		return nil, db.ErrEmptyDSN
	case cfg.IsProduction():
		return nil, ErrMemoryInProduction
	default:
		logger.L().Warn("DATABASE_URL not set; using in-memory storage (data is lost on restart)")
		identities := identityrepo.NewMemoryRepository()
		sessions := sessionrepo.NewMemoryRepository()
		sessions.Known = func(id string) bool {
			i, _ := identities.GetByID(context.Background(), id)
			return i != nil
		}
		st = stores{
			identities:  identities,
			sessions:    sessions,
			challenges:  verificationrepo.NewMemoryRepository(),
			revocations: revocationrepo.NewMemoryRepository(),
			access:      accessrepo.NewMemoryRepository(),
			events:      auditrepo.NewMemoryRepository(),
		}
	}

	if cfg.BlacklistBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
		a.Redis = rdb
		a.Checks = append(a.Checks, server.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		st.revocations = revocationrepo.NewRedisRepository(rdb)
	}

	if cfg.DevCodeCapture {
		a.DevCodes = devcapture.NewStore()
	}

	a.Identities = st.identities
	a.AccessData = st.access
	a.Blacklist = revocationservice.NewBlacklist(st.revocations)
	a.Verifier = verificationservice.NewStore(st.challenges, st.identities, newNotifier(cfg, a.DevCodes))
	a.Access = accessservice.NewService(st.access)

	auditLog := audit.Multi(append([]audit.EventLogger{audit.NewLogger(st.events, server.ClientIP)}, opts.AuditLoggers...))
	a.Auth = identityservice.NewAuthService(
		st.identities,
		sessionservice.NewManager(st.sessions, cfg.MaxActiveSessions),
		a.Blacklist,
		a.Verifier,
		a.Hasher,
		tokens,
		auditLog,
		cfg.SMSDefaultRegion,
	)
	return a, nil
}

// newNotifier routes EMAIL to SMTP and PHONE to SMS Local when configured. With dev capture on,
// every channel is also captured, so an unconfigured channel still "delivers" in development.
func newNotifier(cfg *config.Config, capture *devcapture.Store) notify.Notifier {
	var emailN, phoneN notify.Notifier
	if cfg.SMTPHost != "" {
		emailN = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPTLS)
	}
	if cfg.SMSLocalAPIKey != "" {
		phoneN = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}

	mux := notify.NewMux()
	for channel, n := range map[string]notify.Notifier{notify.ChannelEmail: emailN, notify.ChannelPhone: phoneN} {
		switch {
		case n != nil && capture != nil:
			mux.Handle(channel, notify.Tee(capture, n))
		case n != nil:
			mux.Handle(channel, n)
		case capture != nil:
			mux.Handle(channel, capture)
		default:
			logger.L().Warn("no delivery configured for verification channel", logger.Channel(channel))
		}
	}
	return mux
}

// Close releases external connections. Safe to call on a partially built App.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.L().Warn("app: close redis", logger.Err(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
