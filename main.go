package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/agent"
	"github.com/propelship/leadforge/internal/circuitbreaker"
	"github.com/propelship/leadforge/internal/config"
	"github.com/propelship/leadforge/internal/dispatch"
	"github.com/propelship/leadforge/internal/health"
	"github.com/propelship/leadforge/internal/httpapi"
	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/pipeline"
	"github.com/propelship/leadforge/internal/policy"
	"github.com/propelship/leadforge/internal/providers"
	"github.com/propelship/leadforge/internal/query"
	"github.com/propelship/leadforge/internal/ratecontrol"
	"github.com/propelship/leadforge/internal/store"
	"github.com/propelship/leadforge/internal/streaming"
	"github.com/propelship/leadforge/internal/tracing"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting leadforge",
		zap.String("service", cfg.Service.Name),
		zap.Int("http_port", cfg.Service.HTTPPort),
	)

	shutdownTracing, err := tracing.Initialize(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Service.Name,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Backing stores: Postgres for durable state, Redis for suppression
	// and quota counters. Both sit behind circuit breakers.
	// ------------------------------------------------------------------
	storeClient, err := store.NewClient(&store.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxConnections,
		IdleConnections: cfg.Database.IdleConnections,
		MaxLifetime:     cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisWrapper := circuitbreaker.NewRedisWrapper(rdb, cfg.Service.Name, logger)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Redis only backs suppression and quota state, both of which
		// degrade to local behavior, so a dead Redis is not fatal here.
		logger.Warn("redis unreachable at startup", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Event fanout: ring-buffered in-memory streams for SSE/WS plus a
	// persistence sink feeding the store's write queue.
	// ------------------------------------------------------------------
	if cfg.Streaming.RingCapacity > 0 {
		streaming.Configure(cfg.Streaming.RingCapacity)
	}
	sink := streaming.NewSink(storeClient, streaming.Get(), logger)

	// ------------------------------------------------------------------
	// Provider plumbing: rate plans, the shared query client, and the
	// adapter registry with per-tier dispatch chains.
	// ------------------------------------------------------------------
	if cfg.RateControlPath != "" {
		ratecontrol.SetPath(cfg.RateControlPath)
	}
	queryClient := query.NewClient(logger, query.WithCollector(circuitbreaker.DefaultCollector))

	registry := providers.NewRegistry()
	registerProviders(registry, cfg.Providers, logger)
	for tier, tags := range cfg.Dispatch.Tiers {
		registry.SetChain(models.CampaignTier(tier), tags)
	}

	engine, err := policy.NewOPAEngine(&policy.Config{
		Enabled:     cfg.Policy.Enabled,
		Mode:        policy.Mode(cfg.Policy.Mode),
		Path:        cfg.Policy.Dir,
		FailClosed:  cfg.Policy.FailClosed,
		Environment: cfg.Policy.Environment,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Dispatch guards and the campaign router.
	// ------------------------------------------------------------------
	suppression := dispatch.NewSuppressionList(redisWrapper, logger)

	limits := make(map[string]dispatch.QuotaLimits, len(cfg.Dispatch.Quotas))
	for provider, q := range cfg.Dispatch.Quotas {
		limits[provider] = dispatch.QuotaLimits{Daily: q.Daily, Monthly: q.Monthly}
	}
	ledger := dispatch.NewQuotaLedger(redisWrapper, limits, logger)

	personalizerKey := ""
	if cfg.Dispatch.PersonalizeEnabled {
		personalizerKey = cfg.Dispatch.OpenAIKey
	}
	personalizer := dispatch.NewPersonalizer(dispatch.PersonalizerConfig{
		APIKey:      personalizerKey,
		BaseURL:     cfg.Dispatch.OpenAIBaseURL,
		Model:       cfg.Dispatch.Model,
		SenderName:  cfg.Dispatch.SenderName,
		SenderTitle: cfg.Dispatch.SenderTitle,
	}, queryClient, logger)

	router := dispatch.NewRouter(dispatch.RouterConfig{
		Registry:    registry,
		Query:       queryClient,
		Policy:      engine,
		Suppression: suppression,
		Quota:       ledger,
		Store:       storeClient,
		Logger:      logger,
	})

	// Hot reload for rate plans and policies. Optional: a missing watch
	// directory downgrades to static configuration.
	watcher, err := config.NewWatcher(config.ReloadConfig{
		PlanPath:  cfg.RateControlPath,
		PolicyDir: cfg.Policy.Dir,
		OnPlan:    ratecontrol.Reload,
		OnPolicy:  engine.LoadPolicies,
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(); err != nil {
		logger.Warn("config watcher not started", zap.Error(err))
		watcher = nil
	}

	// ------------------------------------------------------------------
	// Run lifecycle: each launch gets a fresh pipeline executor wired
	// through the run's rate-limit overrides.
	// ------------------------------------------------------------------
	factory := func(overrides map[string]ratecontrol.Override) agent.Runner {
		q := query.Doer(queryClient)
		if len(overrides) > 0 {
			q = queryClient.Scoped(overrides)
		}
		return pipeline.NewExecutor(pipeline.Config{
			Store:           storeClient,
			Sink:            sink,
			Query:           q,
			Registry:        registry,
			Router:          router,
			Personalizer:    personalizer,
			Workers:         cfg.Pipeline.PoolSize,
			DispatchWorkers: cfg.Pipeline.DispatchPoolSize,
			BatchSize:       cfg.Pipeline.BatchSize,
			SearchPages:     cfg.Pipeline.SearchPages,
			Blacklist:       cfg.Pipeline.Blacklist,
			PenaltyKeywords: cfg.Pipeline.PenaltyKeywords,
			Logger:          logger,
		})
	}

	mgr := agent.NewManager(agent.Config{
		Store:   storeClient,
		Sink:    sink,
		Factory: factory,
		Defaults: agent.Defaults{
			HoursOld:    cfg.Pipeline.DefaultHoursOld,
			MinScore:    cfg.Pipeline.DefaultMinScore,
			TargetRoles: cfg.Pipeline.TargetRoles,
		},
		Logger: logger,
	})

	// ------------------------------------------------------------------
	// HTTP surface: run API, streams, health probes, metrics.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	hm.Register(health.NewDatabaseChecker(storeClient))
	hm.Register(health.NewRedisChecker(redisWrapper))
	hm.Register(health.NewBreakerChecker(circuitbreaker.DefaultCollector))

	mux := http.NewServeMux()
	httpapi.NewRunHandler(mgr, router, logger).RegisterRoutes(mux)
	httpapi.NewStreamHandler(streaming.Get(), logger).RegisterRoutes(mux)
	health.NewHandler(hm, logger).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := httpapi.NewServer(cfg.Service.HTTPPort, mux, logger)
	srv.Start()

	logger.Info("leadforge ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	grace := cfg.Service.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// Order matters: stop accepting work, drain running pipelines, then
	// close the stores they were writing to.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("manager shutdown", zap.Error(err))
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("config watcher stop", zap.Error(err))
		}
	}
	if err := storeClient.Close(); err != nil {
		logger.Warn("database close", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// newLogger builds the process logger from the logging section. Console
// format is for local development; production deployments use JSON.
func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// registerProviders wires every enabled provider adapter into the registry
// under its tag. Unknown tags are skipped with a warning so a config typo
// does not take the service down.
func registerProviders(reg *providers.Registry, confs map[string]config.ProviderConfig, logger *zap.Logger) {
	for tag, pc := range confs {
		if !pc.Enabled {
			continue
		}
		conf := providers.Config{
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			Timeout:   pc.Timeout,
			FromEmail: pc.FromEmail,
			FromName:  pc.FromName,
		}
		switch tag {
		case "jsearch":
			reg.RegisterJobSource(providers.NewJSearchSource(conf, logger))
		case "jobfeed":
			reg.RegisterJobSource(providers.NewJobfeedSource(conf, logger))
		case "hunter":
			reg.RegisterContactSource(providers.NewHunterContacts(conf, logger))
		case "clearout":
			reg.RegisterVerifier(providers.NewClearoutVerifier(conf, logger))
		case "instantly":
			reg.RegisterMessenger(providers.NewInstantlyMessenger(conf, logger))
		case "smartlead":
			reg.RegisterMessenger(providers.NewSmartleadMessenger(conf, logger))
		case "ses":
			reg.RegisterMessenger(providers.NewSESMessenger(conf, logger))
		default:
			logger.Warn("unknown provider tag in config", zap.String("tag", tag))
		}
	}
}
