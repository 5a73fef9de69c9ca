package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "voltrewards/libs/db"
	libredis "voltrewards/libs/redis"

	"voltrewards/internal/campaigncache"
	"voltrewards/internal/clients"
	"voltrewards/internal/config"
	httpserver "voltrewards/internal/http"
	"voltrewards/internal/http/handlers"
	"voltrewards/internal/repository"
	"voltrewards/internal/samplecache"
	"voltrewards/internal/service"
	"voltrewards/internal/telemetry"
)

// App wires the incentive-engine dependency graph.
type App struct {
	server       *httpserver.Server
	lifecycle    *service.LifecycleService
	reapInterval time.Duration
	db           *sql.DB
	redisClient  *redis.Client
	logger       *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN, libdb.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	policy, err := service.ParseGrantPolicy(cfg.Engine.GrantPolicy)
	if err != nil {
		sqlDB.Close()
		redisClient.Close()
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(sqlDB)
	chargerRepo := repository.NewChargerRepository(sqlDB)
	campaignRepo := repository.NewCampaignRepository(sqlDB)
	grantRepo := repository.NewGrantRepository(sqlDB)

	campaignCache := campaigncache.New(campaignRepo, cfg.Engine.CampaignCacheTTL)
	sampleCache := samplecache.NewStore(redisClient, cfg.Engine.DebounceWindow)

	provider := telemetry.NewProviderClient(
		cfg.Provider.BaseURL,
		clients.NewDefaultHTTPClient(cfg.Provider.Timeout),
	)
	adapter := telemetry.NewRetryingAdapter(provider, telemetry.RetryPolicy{
		MaxAttempts: cfg.Provider.RetryAttempts,
		Delay:       cfg.Provider.RetryDelay,
	}, logger)

	wallet := clients.NewWalletClient(
		cfg.Wallet.BaseURL,
		clients.NewDefaultHTTPClient(cfg.Wallet.Timeout),
	)

	grantService := service.NewGrantService(grantRepo, wallet, logger)
	matcher := service.NewMatcherService(campaignCache, sessionRepo, grantRepo, grantService, policy, logger)
	lifecycle := service.NewLifecycleService(
		sessionRepo,
		chargerRepo,
		grantRepo,
		adapter,
		sampleCache,
		matcher,
		service.LifecycleConfig{
			ChargerRadiusMeters: cfg.Engine.ChargerRadiusMeters,
			StaleAfter:          cfg.Engine.StaleAfter,
		},
		logger,
	)

	pollHandler := handlers.NewPollHandler(lifecycle, logger)
	routes := httpserver.Routes{
		Poll:       pollHandler.Handle,
		SessionsMe: handlers.NewSessionsMeHandler(lifecycle),
		GrantsMe:   handlers.NewGrantsMeHandler(lifecycle),
		Reap:       handlers.NewReapHandler(lifecycle, logger),
		Health:     handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:       server,
		lifecycle:    lifecycle,
		reapInterval: cfg.Engine.ReapInterval,
		db:           sqlDB,
		redisClient:  redisClient,
		logger:       logger,
	}, nil
}

// Run starts the HTTP server and the background stale-session reaper.
func (a *App) Run(ctx context.Context) error {
	if a.reapInterval > 0 {
		go a.runReaper(ctx)
	}
	return a.server.Run(ctx)
}

func (a *App) runReaper(ctx context.Context) {
	ticker := time.NewTicker(a.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := a.lifecycle.ReapStale(ctx)
			if err != nil {
				a.logger.Error("stale session reap failed", zap.Error(err))
				continue
			}
			if reaped > 0 {
				a.logger.Info("stale sessions reaped", zap.Int("count", reaped))
			}
		}
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
