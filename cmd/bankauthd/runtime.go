package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	bankauth "github.com/goliatone/go-bankauth"
	"github.com/goliatone/go-bankauth/adapters/gocommand"
	bankprom "github.com/goliatone/go-bankauth/adapters/prometheus"
	"github.com/goliatone/go-bankauth/cache/memcache"
	"github.com/goliatone/go-bankauth/cache/rediscache"
	"github.com/goliatone/go-bankauth/core"
	"github.com/goliatone/go-bankauth/migrations"
	"github.com/goliatone/go-bankauth/providers"
	"github.com/goliatone/go-bankauth/ratelimit"
	sqlstore "github.com/goliatone/go-bankauth/store/sql"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "bankauthd" }

// runtime is one fully wired service plus the handles it must release.
type runtime struct {
	service       *core.Service
	facade        *bankauth.Facade
	client        *persistence.Client
	redis         *redis.Client
	subscriptions []commanddispatcher.Subscription
	logger        glog.Logger
	metrics       *prometheus.Registry
	metricsFile   string
}

type runtimeOptions struct {
	httpClient core.HTTPDoer
	clock      func() time.Time
}

func openPersistence(ctx context.Context, cfg dbConfig) (*persistence.Client, string, error) {
	dialect, err := migrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	driver := "sqlite3"
	if dialect == migrations.DialectPostgres {
		driver = "postgres"
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}

	pcfg := persistenceConfig{driver: driver, dsn: cfg.DSN, debug: cfg.Debug}
	var client *persistence.Client
	if dialect == migrations.DialectPostgres {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	} else {
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("persistence client: %w", err)
	}
	if cfg.AutoMigrate {
		if _, err := migrations.Apply(ctx, client, dialect); err != nil {
			_ = client.Close()
			return nil, "", err
		}
	}
	return client, dialect, nil
}

func openTokenCache(cfg cacheConfig, logger glog.Logger) (core.TokenCache, *redis.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		cache, err := memcache.New(memcache.Config{})
		if err != nil {
			return nil, nil, err
		}
		return cache, nil, nil
	case "redis":
		cache, client, err := rediscache.NewFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, rediscache.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return cache, client, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func openRuntime(ctx context.Context, cfg envConfig, logger glog.Logger, opts runtimeOptions) (*runtime, error) {
	client, _, err := openPersistence(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	rt := &runtime{client: client, logger: logger}

	factoryOpts := []sqlstore.FactoryOption{}
	if cfg.Cache.ReadCacheTTL > 0 {
		cacheCfg := repositorycache.DefaultConfig()
		cacheCfg.TTL = cfg.Cache.ReadCacheTTL
		readCache, err := repositorycache.NewCacheService(cacheCfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("read cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithReadCache(readCache))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	store, err := factory.BuildRecordStore(client)
	if err != nil {
		rt.Close()
		return nil, err
	}

	tokenCache, redisClient, err := openTokenCache(cfg.Cache, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.redis = redisClient

	serviceOpts := []bankauth.Option{
		bankauth.WithLogger(logger),
		bankauth.WithPersistenceClient(client),
		bankauth.WithRepositoryFactory(factory),
		bankauth.WithRecordStore(store),
	}
	if tokenCache != nil {
		serviceOpts = append(serviceOpts, bankauth.WithTokenCache(tokenCache))
	}
	if opts.clock != nil {
		serviceOpts = append(serviceOpts, bankauth.WithClock(opts.clock))
	}
	if path := strings.TrimSpace(cfg.MetricsFile); path != "" {
		rt.metrics = prometheus.NewRegistry()
		rt.metricsFile = path
		recorder := bankprom.NewRecorder(rt.metrics)
		recorder.OnError(func(err error) {
			logger.Warn("bankauthd: metrics collector rejected", "error", err)
		})
		serviceOpts = append(serviceOpts, bankauth.WithMetricsRecorder(recorder))
	}
	svc, err := bankauth.NewService(cfg.serviceConfig(), serviceOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	hooks := bankauth.DefaultExtensionHooks()
	if cfg.RateLimit {
		policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
		if opts.clock != nil {
			policy.Now = opts.clock
		}
		hooks.SetRateLimitPolicy(policy)
	}
	if err := bankauth.RegisterConfiguredStrategies(svc, providers.Dependencies{HTTPClient: opts.httpClient, Now: opts.clock}, hooks); err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc

	facade, err := bankauth.NewFacade(svc)
	if err != nil {
		rt.Close()
		return nil, err
	}
	adapter := gocommand.NewRegistryAdapter(nil)
	subscriptions, err := facade.Register(adapter)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.facade = facade
	rt.subscriptions = subscriptions
	if err := adapter.Initialize(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	for _, sub := range r.subscriptions {
		sub.Unsubscribe()
	}
	r.subscriptions = nil
	if r.metrics != nil && r.metricsFile != "" {
		if err := prometheus.WriteToTextfile(r.metricsFile, r.metrics); err != nil && r.logger != nil {
			r.logger.Warn("bankauthd: write metrics textfile failed", "path", r.metricsFile, "error", err)
		}
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
}
