package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/database"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
)

// AlertRepository implements fraud alert storage on PostgreSQL.
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates an alert repository on the shared pool.
func NewAlertRepository(pool *database.Pool) *AlertRepository {
	return &AlertRepository{db: pool.Pgx()}
}

// SaveAlert persists one alert.
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *fraud.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (
			id, actor_id, alert_type, severity, risk_score, description,
			detected_patterns, red_flags, status, resolution, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	patterns, err := json.Marshal(alert.DetectedPatterns)
	if err != nil {
		return fmt.Errorf("marshal detected patterns: %w", err)
	}
	flags, err := json.Marshal(alert.RedFlags)
	if err != nil {
		return fmt.Errorf("marshal red flags: %w", err)
	}

	var resolution []byte
	if alert.Resolution != nil {
		resolution, err = json.Marshal(alert.Resolution)
		if err != nil {
			return fmt.Errorf("marshal resolution: %w", err)
		}
	}

	_, err = r.db.Exec(ctx, query,
		alert.ID, alert.ActorID, alert.Type, alert.Severity,
		alert.RiskScore, alert.Description,
		patterns, flags, alert.Status, resolution, alert.CreatedAt,
	)
	if isDuplicateKey(err) {
		// Alert IDs are caller-generated; a re-delivery is not an error.
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert fraud alert: %w", err)
	}

	return nil
}

// ListAlerts retrieves the most recent alerts, newest first.
func (r *AlertRepository) ListAlerts(ctx context.Context, limit int) ([]*fraud.FraudAlert, error) {
	query := `
		SELECT id, actor_id, alert_type, severity, risk_score, description,
		       detected_patterns, red_flags, status, resolution, created_at
		FROM fraud_alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query fraud alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CountAlerts returns the total number of alerts.
func (r *AlertRepository) CountAlerts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM fraud_alerts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count fraud alerts: %w", err)
	}
	return count, nil
}

// CountAlertsByStatus returns the number of alerts in one workflow state.
func (r *AlertRepository) CountAlertsByStatus(ctx context.Context, status fraud.AlertStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_alerts WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count fraud alerts by status: %w", err)
	}
	return count, nil
}

// CountAlertsBySeverity returns the number of alerts at one severity.
func (r *AlertRepository) CountAlertsBySeverity(ctx context.Context, severity fraud.Severity) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_alerts WHERE severity = $1`, severity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count fraud alerts by severity: %w", err)
	}
	return count, nil
}

func scanAlerts(rows pgx.Rows) ([]*fraud.FraudAlert, error) {
	var alerts []*fraud.FraudAlert
	for rows.Next() {
		var a fraud.FraudAlert
		var patterns, flags, resolution []byte

		err := rows.Scan(
			&a.ID, &a.ActorID, &a.Type, &a.Severity, &a.RiskScore,
			&a.Description, &patterns, &flags, &a.Status, &resolution,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fraud alert: %w", err)
		}

		if len(patterns) > 0 {
			if err := json.Unmarshal(patterns, &a.DetectedPatterns); err != nil {
				return nil, fmt.Errorf("unmarshal detected patterns: %w", err)
			}
		}
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &a.RedFlags); err != nil {
				return nil, fmt.Errorf("unmarshal red flags: %w", err)
			}
		}
		if len(resolution) > 0 {
			a.Resolution = &fraud.Resolution{}
			if err := json.Unmarshal(resolution, a.Resolution); err != nil {
				return nil, fmt.Errorf("unmarshal resolution: %w", err)
			}
		}

		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fraud alerts: %w", err)
	}
	return alerts, nil
}
