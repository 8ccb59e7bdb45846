package fraud

import (
	"context"
	"time"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
)

// BehaviorRepository stores and retrieves persisted behavior records.
type BehaviorRepository interface {
	// SaveRecord persists one behavior record and fills in its ID.
	SaveRecord(ctx context.Context, record *behavior.Record) error
	// RecentRecords retrieves the most recent records, newest first.
	RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error)
	// CountRecords returns the total number of stored records.
	CountRecords(ctx context.Context) (int64, error)
}

// AlertRepository stores fraud alerts and answers workflow queries.
type AlertRepository interface {
	// SaveAlert persists one alert.
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	// ListAlerts retrieves the most recent alerts, newest first.
	ListAlerts(ctx context.Context, limit int) ([]*FraudAlert, error)
	// CountAlerts returns the total number of alerts.
	CountAlerts(ctx context.Context) (int64, error)
	// CountAlertsByStatus returns the number of alerts in one workflow state.
	CountAlertsByStatus(ctx context.Context, status AlertStatus) (int64, error)
	// CountAlertsBySeverity returns the number of alerts at one severity.
	CountAlertsBySeverity(ctx context.Context, severity Severity) (int64, error)
}

// Scorer is the anomaly model's scoring surface. Score returns (0, false)
// while the model is untrained.
type Scorer interface {
	Score(features []float64) (float64, bool)
	Trained() bool
}

// Retrainer triggers a model lifecycle retrain.
type Retrainer interface {
	Retrain(ctx context.Context) (bool, error)
}

// RiskCache caches the most recent risk score per actor. A miss returns
// (0, false, nil); cache failures are never fatal to an assessment.
type RiskCache interface {
	Get(ctx context.Context, actorID string) (float64, bool, error)
	Set(ctx context.Context, actorID string, score float64, ttl time.Duration) error
}

// AlertPublisher pushes newly created alerts to live subscribers.
type AlertPublisher interface {
	Publish(alert *FraudAlert)
}
