package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/api/rest"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
)

const statsRefreshInterval = 30 * time.Second

var (
	behaviorLogGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "store",
		Name:      "behavior_logs_total",
		Help:      "Number of persisted behavior records",
	})
	alertGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "alerts",
		Name:      "total",
		Help:      "Number of fraud alerts ever created",
	})
	openAlertGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "alerts",
		Name:      "open",
		Help:      "Number of alerts still in the open state",
	})
	criticalAlertGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "alerts",
		Name:      "critical",
		Help:      "Number of critical-severity alerts",
	})
	modelTrainedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "model",
		Name:      "trained",
		Help:      "1 when an anomaly model snapshot is live, 0 while untrained",
	})
	feedClientGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_engine",
		Subsystem: "feed",
		Name:      "clients",
		Help:      "Connected live alert feed subscribers",
	})
)

// startMetricsServer exposes Prometheus metrics on its own port and keeps
// the workload gauges refreshed from the store.
func startMetricsServer(port int, fraudSvc *fraud.Service, feed *rest.AlertFeed, logger *zap.Logger) {
	go refreshStatsGauges(fraudSvc, feed, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

func refreshStatsGauges(fraudSvc *fraud.Service, feed *rest.AlertFeed, logger *zap.Logger) {
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stats, err := fraudSvc.GetStatistics(ctx)
		cancel()
		if err != nil {
			logger.Warn("stats gauge refresh failed", zap.Error(err))
			continue
		}
		behaviorLogGauge.Set(float64(stats.BehaviorLogCount))
		alertGauge.Set(float64(stats.AlertCount))
		openAlertGauge.Set(float64(stats.OpenAlertCount))
		criticalAlertGauge.Set(float64(stats.CriticalAlerts))
		if stats.ModelTrained {
			modelTrainedGauge.Set(1)
		} else {
			modelTrainedGauge.Set(0)
		}
		if feed != nil {
			feedClientGauge.Set(float64(feed.ClientCount()))
		}
	}
}
