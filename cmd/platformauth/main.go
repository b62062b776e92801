package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"

	"github.com/tendant/simple-platform-auth/pkg/browser"
	"github.com/tendant/simple-platform-auth/pkg/challenge"
	"github.com/tendant/simple-platform-auth/pkg/config"
	"github.com/tendant/simple-platform-auth/pkg/connector"
	connectorapi "github.com/tendant/simple-platform-auth/pkg/connector/api"
	"github.com/tendant/simple-platform-auth/pkg/jobs"
	"github.com/tendant/simple-platform-auth/pkg/loginflow"
	"github.com/tendant/simple-platform-auth/pkg/platform"
	"github.com/tendant/simple-platform-auth/pkg/platformauth"
	"github.com/tendant/simple-platform-auth/pkg/ratelimit"
	"github.com/tendant/simple-platform-auth/pkg/vault"
)

func main() {
	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	cfg.SetupLogger()

	ctx := context.Background()

	store, closeStore, err := newVault(ctx, cfg)
	if err != nil {
		slog.Error("Failed to set up credential vault", "backend", cfg.Vault.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	queue, closeQueue := newQueue(cfg)
	defer closeQueue()

	registry := challenge.NewRegistry(challenge.Options{
		TTL:           cfg.Challenge.TTL,
		MaxPending:    cfg.Challenge.MaxPending,
		SweepInterval: cfg.Challenge.SweepInterval,
	})
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Warn("Failed to close pending challenges", "error", err)
		}
	}()

	launcher := browser.NewChromeLauncher(cfg.Browser.ExecPath)
	launcher.Headless = cfg.Browser.Headless
	launcher.LaunchTimeout = cfg.Browser.LaunchTimeout
	launcher.Width = cfg.Browser.ViewportWidth
	launcher.Height = cfg.Browser.ViewportHeight

	fingerprint := browser.Fingerprint{
		Width:     cfg.Browser.ViewportWidth,
		Height:    cfg.Browser.ViewportHeight,
		UserAgent: cfg.Browser.UserAgent,
	}

	var authenticators []connector.Authenticator
	for _, p := range platform.All() {
		flow, err := loginflow.ForPlatform(p, flowOptions(cfg.Flow))
		if err != nil {
			slog.Error("Failed to build login flow", "platform", p, "error", err)
			os.Exit(1)
		}
		authenticators = append(authenticators,
			platformauth.New(flow, launcher, registry, platformauth.WithFingerprint(fingerprint)))
	}

	service := connector.NewService(store, authenticators, connector.WithJobs(queue))
	defer service.Shutdown()

	attempts := ratelimit.NewLimiter(ratelimit.Options{
		Capacity:  cfg.RateLimit.Capacity,
		PerMinute: cfg.RateLimit.PerMinute,
		BucketTTL: cfg.RateLimit.BucketTTL,
	})
	defer attempts.Close()

	perIP := ratelimit.NewLimiter(ratelimit.Options{
		Capacity:  cfg.RateLimit.Capacity * 10,
		PerMinute: cfg.RateLimit.PerMinute * 10,
		BucketTTL: cfg.RateLimit.BucketTTL,
	})
	defer perIP.Close()

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	handle := connectorapi.NewHandle(service, connectorapi.WithAttemptLimiter(attempts))
	server.R.Group(func(r chi.Router) {
		r.Use(ratelimit.NewMiddleware(perIP).Handler)
		r.Mount("/platforms", connectorapi.Handler(handle))
	})

	slog.Info("Platform auth service ready",
		"platforms", service.Platforms(),
		"vault", cfg.Vault.Backend,
		"jobs", cfg.Jobs.Backend,
		"challengeTTL", cfg.Challenge.TTL,
		"maxPending", cfg.Challenge.MaxPending)

	server.Run()
}

func flowOptions(c config.FlowConfig) loginflow.Options {
	opts := loginflow.DefaultOptions()
	opts.NavigationTimeout = c.NavigationTimeout
	opts.NavigationRetries = c.NavigationRetries
	opts.ElementTimeout = c.ElementTimeout
	opts.OutcomeTimeout = c.OutcomeTimeout
	opts.TwoFactorProbeTimeout = c.TwoFactorProbeTimeout
	opts.PollInterval = c.PollInterval
	opts.KeystrokeDelay = c.KeystrokeDelay
	opts.KeystrokeJitter = c.KeystrokeJitter
	return opts
}

func newVault(ctx context.Context, cfg config.Config) (vault.Vault, func(), error) {
	var (
		store   vault.Vault
		cleanup = func() {}
	)

	switch cfg.Vault.Backend {
	case "postgres":
		pool, err := newDbPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", cfg.Database.Database, "host", cfg.Database.Host, "port", cfg.Database.Port, "user", cfg.Database.User)
			return nil, nil, err
		}
		pg, err := vault.NewPostgresVault(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store, cleanup = pg, pool.Close
	default:
		slog.Warn("Using in-memory credential vault; sessions are lost on restart")
		store = vault.NewInMemVault()
	}

	if cfg.Vault.EncryptionKey == "" {
		return store, cleanup, nil
	}
	sealed, err := vault.NewSealedVault(store, cfg.Vault.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sealed, cleanup, nil
}

func newDbPool(ctx context.Context, c config.DatabaseConfig) (*pgxpool.Pool, error) {
	if c.Schema == "" || c.Schema == "public" {
		return dbutils.NewDbPool(ctx, c.ToDbConfig())
	}
	return pgxpool.New(ctx, c.ToDatabaseURL())
}

func newQueue(cfg config.Config) (jobs.Submitter, func()) {
	if cfg.Jobs.Backend != "redis" {
		return jobs.NewInMemQueue(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return jobs.NewRedisQueue(client, cfg.Jobs.QueuePrefix), func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
}
