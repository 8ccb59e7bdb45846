package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
	"github.com/ballotwatch/fraud-engine/internal/metrics"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

// scheduler drives the periodic background work: coordinated-vote sweeps,
// IP cluster refreshes, and model retrains.
type scheduler struct {
	cfg      config.SchedulerConfig
	fraud    *fraud.Service
	detector *pattern.Detector
	registry *metrics.Registry
	logger   *zap.Logger
}

func newScheduler(cfg config.SchedulerConfig, fraudSvc *fraud.Service, detector *pattern.Detector, registry *metrics.Registry, logger *zap.Logger) *scheduler {
	return &scheduler{
		cfg:      cfg,
		fraud:    fraudSvc,
		detector: detector,
		registry: registry,
		logger:   logger,
	}
}

func (s *scheduler) run(ctx context.Context) {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	refresh := time.NewTicker(s.cfg.ClusterRefreshInterval)
	retrain := time.NewTicker(s.cfg.RetrainInterval)
	defer sweep.Stop()
	defer refresh.Stop()
	defer retrain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.runSweep(ctx)
		case <-refresh.C:
			s.runClusterRefresh(ctx)
		case <-retrain.C:
			s.runRetrain(ctx)
		}
	}
}

func (s *scheduler) runSweep(ctx context.Context) {
	start := time.Now()
	flagged, err := s.detector.AnalyzeRecentVotes(ctx, s.cfg.SweepWindowMinutes)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("coordinated vote sweep failed", zap.Error(err))
		return
	}
	s.registry.RecordSweep(ctx, float64(elapsed.Milliseconds()), len(flagged))
	if len(flagged) > 0 {
		s.logger.Warn("coordinated vote sweep flagged clusters",
			zap.Int("clusters", len(flagged)),
			zap.Duration("elapsed", elapsed))
	} else {
		s.logger.Debug("coordinated vote sweep clean",
			zap.Duration("elapsed", elapsed))
	}
}

func (s *scheduler) runClusterRefresh(ctx context.Context) {
	count, err := s.detector.UpdateIPClusters(ctx)
	if err != nil {
		s.logger.Error("ip cluster refresh failed", zap.Error(err))
		return
	}
	s.registry.ClustersRefreshed.Add(ctx, int64(count))
	s.logger.Info("refreshed ip clusters", zap.Int("clusters", count))
}

func (s *scheduler) runRetrain(ctx context.Context) {
	start := time.Now()
	swapped, err := s.fraud.RetrainModel(ctx)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("scheduled retrain failed", zap.Error(err))
		return
	}
	s.registry.RecordRetrain(ctx, float64(elapsed.Milliseconds()), swapped)
	s.logger.Info("scheduled retrain finished",
		zap.Bool("swapped", swapped),
		zap.Duration("elapsed", elapsed))
}
