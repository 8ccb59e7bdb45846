package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/api/rest"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/cache"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/database"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/repository"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/telemetry"
	"github.com/ballotwatch/fraud-engine/internal/metrics"
	"github.com/ballotwatch/fraud-engine/internal/service/anomaly"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	provider, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry("fraud-engine")
	if err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	behaviors := repository.NewBehaviorRepository(pool)
	alerts := repository.NewAlertRepository(pool)
	clusters := repository.NewClusterRepository(pool)
	election := repository.NewElectionRepository(pool)

	var riskCache fraud.RiskCache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRiskCache(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		riskCache = rc
	} else {
		logger.Warn("redis not configured, risk caching disabled")
	}

	model, err := anomaly.NewManager(ctx, cfg.Model, behaviors, logger)
	if err != nil {
		return err
	}

	feed := rest.NewAlertFeed(logger)

	fraudSvc := fraud.NewService(cfg.Detection, model, model,
		behaviors, alerts, riskCache, cfg.Redis.RiskTTL, feed, logger)

	detector := pattern.NewDetector(cfg.Detection,
		election, election, election, behaviors, clusters, alerts, feed, logger)

	handler := rest.NewHandler(fraudSvc, detector, clusters, feed,
		func() error { return pool.HealthCheck(context.Background()) },
		cfg.Scheduler.SweepWindowMinutes, logger)

	wrapped := rest.Chain(handler.Routes(),
		rest.Recovery(logger),
		rest.RequestLogging(logger),
		rest.Metrics(registry),
		rest.RateLimit(cfg.Server.RequestsPerSec, cfg.Server.Burst),
	)

	go startMetricsServer(cfg.Server.Port+1, fraudSvc, feed, logger)

	sched := newScheduler(cfg.Scheduler, fraudSvc, detector, registry, logger)
	go sched.run(ctx)

	server := rest.NewServer(cfg.Server, wrapped, logger)
	return server.Run(ctx)
}
