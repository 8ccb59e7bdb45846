package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/database"
)

// BehaviorRepository implements behavior record storage on PostgreSQL. It
// serves both the per-session detection path and the cluster analyzers.
type BehaviorRepository struct {
	db *pgxpool.Pool
}

// NewBehaviorRepository creates a behavior repository on the shared pool.
func NewBehaviorRepository(pool *database.Pool) *BehaviorRepository {
	return &BehaviorRepository{db: pool.Pgx()}
}

const behaviorColumns = `
	id, actor_id, session_id, registration_duration, form_corrections,
	survey_duration, survey_response_variance, survey_entropy,
	voting_duration, candidate_selection_speed, total_session_duration,
	network_addr, device_fingerprint, device_signature, page_trace,
	time_of_day, created_at`

// SaveRecord persists one behavior record and fills in its ID.
func (r *BehaviorRepository) SaveRecord(ctx context.Context, record *behavior.Record) error {
	query := `
		INSERT INTO behavior_logs (
			actor_id, session_id, registration_duration, form_corrections,
			survey_duration, survey_response_variance, survey_entropy,
			voting_duration, candidate_selection_speed, total_session_duration,
			network_addr, device_fingerprint, device_signature, page_trace,
			time_of_day
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING id, created_at
	`

	trace, err := json.Marshal(record.PageTrace)
	if err != nil {
		return fmt.Errorf("marshal page trace: %w", err)
	}

	err = r.db.QueryRow(ctx, query,
		record.ActorID, record.SessionID,
		record.RegistrationDuration, record.FormCorrections,
		record.SurveyDuration, record.SurveyResponseVariance, record.SurveyEntropy,
		record.VotingDuration, record.CandidateSelectionSpeed, record.TotalSessionDuration,
		record.NetworkAddr, record.DeviceFingerprint, record.DeviceSignature, trace,
		record.TimeOfDay,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert behavior record: %w", err)
	}

	return nil
}

// RecentRecords retrieves the most recent records, newest first.
func (r *BehaviorRepository) RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behavior_logs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent behavior records: %w", err)
	}
	defer rows.Close()

	return scanBehaviorRecords(rows)
}

// RecordsByActors retrieves all records for the given actors.
func (r *BehaviorRepository) RecordsByActors(ctx context.Context, actorIDs []string) ([]*behavior.Record, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behavior_logs
		WHERE actor_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("query behavior records by actors: %w", err)
	}
	defer rows.Close()

	return scanBehaviorRecords(rows)
}

// AllRecords retrieves every stored record, used by the cluster refresh.
func (r *BehaviorRepository) AllRecords(ctx context.Context) ([]*behavior.Record, error) {
	query := `SELECT ` + behaviorColumns + ` FROM behavior_logs`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all behavior records: %w", err)
	}
	defer rows.Close()

	return scanBehaviorRecords(rows)
}

// CountRecords returns the total number of stored records.
func (r *BehaviorRepository) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM behavior_logs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count behavior records: %w", err)
	}
	return count, nil
}

func scanBehaviorRecords(rows pgx.Rows) ([]*behavior.Record, error) {
	var records []*behavior.Record
	for rows.Next() {
		var rec behavior.Record
		var trace []byte

		err := rows.Scan(
			&rec.ID, &rec.ActorID, &rec.SessionID,
			&rec.RegistrationDuration, &rec.FormCorrections,
			&rec.SurveyDuration, &rec.SurveyResponseVariance, &rec.SurveyEntropy,
			&rec.VotingDuration, &rec.CandidateSelectionSpeed, &rec.TotalSessionDuration,
			&rec.NetworkAddr, &rec.DeviceFingerprint, &rec.DeviceSignature, &trace,
			&rec.TimeOfDay, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan behavior record: %w", err)
		}

		if len(trace) > 0 {
			if err := json.Unmarshal(trace, &rec.PageTrace); err != nil {
				return nil, fmt.Errorf("unmarshal page trace: %w", err)
			}
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate behavior records: %w", err)
	}
	return records, nil
}
