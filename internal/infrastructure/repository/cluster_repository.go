package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/database"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

// ClusterRepository implements IP cluster storage on PostgreSQL.
type ClusterRepository struct {
	db *pgxpool.Pool
}

// NewClusterRepository creates a cluster repository on the shared pool.
func NewClusterRepository(pool *database.Pool) *ClusterRepository {
	return &ClusterRepository{db: pool.Pgx()}
}

const clusterColumns = `
	id, network_addr, voter_count, vote_similarity, timing_variance,
	survey_similarity, geographic_spread, coordination_score, risk_label,
	whitelisted, flagged_at, updated_at`

// GetCluster retrieves the cluster for one address, or nil when absent.
func (r *ClusterRepository) GetCluster(ctx context.Context, networkAddr string) (*pattern.IPCluster, error) {
	query := `SELECT ` + clusterColumns + `
		FROM ip_clusters
		WHERE network_addr = $1`

	cluster, err := scanCluster(r.db.QueryRow(ctx, query, networkAddr))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ip cluster: %w", err)
	}
	return cluster, nil
}

// UpsertClusters writes one refresh pass in a single transaction, so a
// failure partway through leaves no cluster half-updated.
func (r *ClusterRepository) UpsertClusters(ctx context.Context, clusters []*pattern.IPCluster) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cluster refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, cluster := range clusters {
		if err := upsertCluster(ctx, tx, cluster); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cluster refresh: %w", err)
	}
	return nil
}

// upsertCluster writes one cluster aggregate, keyed by network address.
func upsertCluster(ctx context.Context, tx pgx.Tx, cluster *pattern.IPCluster) error {
	query := `
		INSERT INTO ip_clusters (
			network_addr, voter_count, vote_similarity, timing_variance,
			survey_similarity, geographic_spread, coordination_score,
			risk_label, whitelisted, flagged_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (network_addr) DO UPDATE SET
			voter_count = EXCLUDED.voter_count,
			vote_similarity = EXCLUDED.vote_similarity,
			timing_variance = EXCLUDED.timing_variance,
			survey_similarity = EXCLUDED.survey_similarity,
			geographic_spread = EXCLUDED.geographic_spread,
			coordination_score = EXCLUDED.coordination_score,
			risk_label = EXCLUDED.risk_label,
			whitelisted = EXCLUDED.whitelisted,
			flagged_at = EXCLUDED.flagged_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		cluster.NetworkAddr, cluster.VoterCount, cluster.VoteSimilarity,
		cluster.TimingVariance, cluster.SurveySimilarity, cluster.GeographicSpread,
		cluster.CoordinationScore, cluster.RiskLabel, cluster.Whitelisted,
		cluster.FlaggedAt, cluster.UpdatedAt,
	).Scan(&cluster.ID)
	if err != nil {
		return fmt.Errorf("upsert ip cluster: %w", err)
	}

	return nil
}

// ListClusters retrieves all clusters carrying one risk label.
func (r *ClusterRepository) ListClusters(ctx context.Context, label pattern.RiskLabel) ([]*pattern.IPCluster, error) {
	query := `SELECT ` + clusterColumns + `
		FROM ip_clusters
		WHERE risk_label = $1
		ORDER BY coordination_score DESC`

	rows, err := r.db.Query(ctx, query, label)
	if err != nil {
		return nil, fmt.Errorf("list ip clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*pattern.IPCluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ip cluster: %w", err)
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ip clusters: %w", err)
	}
	return clusters, nil
}

func scanCluster(row pgx.Row) (*pattern.IPCluster, error) {
	var c pattern.IPCluster
	err := row.Scan(
		&c.ID, &c.NetworkAddr, &c.VoterCount, &c.VoteSimilarity,
		&c.TimingVariance, &c.SurveySimilarity, &c.GeographicSpread,
		&c.CoordinationScore, &c.RiskLabel, &c.Whitelisted,
		&c.FlaggedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
