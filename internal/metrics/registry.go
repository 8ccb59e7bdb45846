package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the engine's domain metrics.
type Registry struct {
	meter metric.Meter

	// Per-session detection path
	AssessmentDuration metric.Float64Histogram
	AssessmentCounter  metric.Int64Counter
	AlertCounter       metric.Int64Counter
	SessionsFinalized  metric.Int64Counter

	// Model lifecycle
	RetrainDuration metric.Float64Histogram
	RetrainCounter  metric.Int64Counter

	// Cluster detection path
	SweepDuration     metric.Float64Histogram
	ClustersFlagged   metric.Int64Counter
	ClustersRefreshed metric.Int64Counter

	// API surface
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter
}

// NewRegistry creates the metrics registry on the global meter provider.
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error

	r.AssessmentDuration, err = meter.Float64Histogram(
		"fraud.assessment.duration",
		metric.WithDescription("Duration of one behavioral risk assessment in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500),
	)
	if err != nil {
		return nil, err
	}

	r.AssessmentCounter, err = meter.Int64Counter(
		"fraud.assessment.count",
		metric.WithDescription("Total risk assessments performed"),
	)
	if err != nil {
		return nil, err
	}

	r.AlertCounter, err = meter.Int64Counter(
		"fraud.alert.count",
		metric.WithDescription("Total fraud alerts created"),
	)
	if err != nil {
		return nil, err
	}

	r.SessionsFinalized, err = meter.Int64Counter(
		"fraud.session.finalized",
		metric.WithDescription("Total sessions finalized into behavior records"),
	)
	if err != nil {
		return nil, err
	}

	r.RetrainDuration, err = meter.Float64Histogram(
		"fraud.model.retrain_duration",
		metric.WithDescription("Duration of one anomaly model retrain in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	r.RetrainCounter, err = meter.Int64Counter(
		"fraud.model.retrain_count",
		metric.WithDescription("Total model retrain attempts"),
	)
	if err != nil {
		return nil, err
	}

	r.SweepDuration, err = meter.Float64Histogram(
		"fraud.sweep.duration",
		metric.WithDescription("Duration of one coordinated-vote sweep in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 500, 1000, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	r.ClustersFlagged, err = meter.Int64Counter(
		"fraud.cluster.flagged",
		metric.WithDescription("Total suspicious vote clusters flagged"),
	)
	if err != nil {
		return nil, err
	}

	r.ClustersRefreshed, err = meter.Int64Counter(
		"fraud.cluster.refreshed",
		metric.WithDescription("Total IP cluster rows recomputed"),
	)
	if err != nil {
		return nil, err
	}

	r.APIRequestDuration, err = meter.Float64Histogram(
		"fraud.api.request_duration",
		metric.WithDescription("Duration of API requests in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	r.APIRequestCounter, err = meter.Int64Counter(
		"fraud.api.request_count",
		metric.WithDescription("Total API requests served"),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordAssessment records one completed assessment with its action label.
func (r *Registry) RecordAssessment(ctx context.Context, durationMs float64, action string) {
	attrs := metric.WithAttributes(attribute.String("action", action))
	r.AssessmentDuration.Record(ctx, durationMs, attrs)
	r.AssessmentCounter.Add(ctx, 1, attrs)
}

// RecordAlert records one created alert with its type and severity labels.
func (r *Registry) RecordAlert(ctx context.Context, alertType, severity string) {
	r.AlertCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", alertType),
		attribute.String("severity", severity),
	))
}

// RecordRetrain records one retrain attempt and whether it swapped a model.
func (r *Registry) RecordRetrain(ctx context.Context, durationMs float64, swapped bool) {
	attrs := metric.WithAttributes(attribute.Bool("swapped", swapped))
	r.RetrainDuration.Record(ctx, durationMs, attrs)
	r.RetrainCounter.Add(ctx, 1, attrs)
}

// RecordSweep records one coordinated-vote sweep.
func (r *Registry) RecordSweep(ctx context.Context, durationMs float64, flagged int) {
	r.SweepDuration.Record(ctx, durationMs)
	if flagged > 0 {
		r.ClustersFlagged.Add(ctx, int64(flagged))
	}
}

// RecordAPIRequest records one served API request.
func (r *Registry) RecordAPIRequest(ctx context.Context, durationMs float64, route string, status int) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	r.APIRequestDuration.Record(ctx, durationMs, attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)
}
