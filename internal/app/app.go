// Package app assembles the long-lived components shared by the api, worker
// and scheduler binaries.
package app

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/config"
	"github.com/leozw/hotspot-guardian/internal/device"
	"github.com/leozw/hotspot-guardian/internal/identity"
	"github.com/leozw/hotspot-guardian/internal/metrics"
	"github.com/leozw/hotspot-guardian/internal/pool"
	"github.com/leozw/hotspot-guardian/internal/queue"
	"github.com/leozw/hotspot-guardian/internal/storage/postgres"
	"github.com/leozw/hotspot-guardian/internal/storage/redis"
	"github.com/leozw/hotspot-guardian/internal/usage"
	"github.com/leozw/hotspot-guardian/internal/vault"
)

type App struct {
	Config   *config.Config
	DB       *postgres.DB
	Cache    *redis.Client
	Queue    *queue.RedisQueue
	Vault    *vault.Vault
	Pool     *pool.Pool
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
	Identity *identity.Resolver
	Access   *access.Manager
	Usage    *usage.Reader
	Logger   *zap.Logger
}

// Open connects to postgres and redis, then wires the rest via New.
func Open(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	cache := redis.NewClient(cfg.Redis.URL)

	a, err := New(cfg, db, cache, logger)
	if err != nil {
		cache.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

func New(cfg *config.Config, db *postgres.DB, cache *redis.Client, logger *zap.Logger) (*App, error) {
	v, err := vault.New(cfg.Vault.EncryptionKey, logger)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(cfg.Mimir, reg, reg, logger)

	dialer := &device.NetDialer{
		ConnectTimeout: cfg.Pool.ConnectTimeout,
		CommandTimeout: cfg.Device.CommandTimeout,
		Retry: device.RetryPolicy{
			MaxRetries: cfg.Device.MaxRetries,
			Backoff:    cfg.Device.RetryBackoff,
		},
		RateLimit: cfg.Device.RateLimit,
		RateBurst: cfg.Device.RateBurst,
		Logger:    logger.Named("device"),
	}
	if cfg.Device.InsecureSkipVerify {
		// Routers ship self-signed certificates.
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	p := pool.New(db, v, dialer, pool.Config{
		MaxAge:         cfg.Pool.MaxAge,
		WaitTimeout:    cfg.Pool.WaitTimeout,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
	}, logger.Named("pool"), pool.WithMetrics(m))

	resolver := identity.NewResolver(p, cache.WithHardwareIDTTL(cfg.Identity.CacheTTL), cfg.Identity.Timeout, logger.Named("identity"))

	manager := access.NewManager(p, resolver, access.Config{
		DefaultMaxLimit: cfg.Access.DefaultMaxLimit,
	}, logger.Named("access"), access.WithSessionRecorder(db), access.WithMetrics(m))

	return &App{
		Config:   cfg,
		DB:       db,
		Cache:    cache,
		Queue:    queue.NewRedisQueue(cache.Client, cfg.Redis.QueueKey),
		Vault:    v,
		Pool:     p,
		Registry: reg,
		Metrics:  m,
		Identity: resolver,
		Access:   manager,
		Usage:    usage.NewReader(p, db, logger.Named("usage")),
		Logger:   logger,
	}, nil
}

// Close drains the router pool and closes the redis and database clients.
func (a *App) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := a.Pool.CloseAll(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.Cache.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	return result.ErrorOrNil()
}
