package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/database"
)

// ElectionRepository reads votes, survey responses and voter identities
// from the election store. The engine never writes to these tables.
type ElectionRepository struct {
	db *pgxpool.Pool
}

// NewElectionRepository creates a read-only election repository.
func NewElectionRepository(pool *database.Pool) *ElectionRepository {
	return &ElectionRepository{db: pool.Pgx()}
}

// VotesSince retrieves all votes recorded at or after the cutoff.
func (r *ElectionRepository) VotesSince(ctx context.Context, cutoff time.Time) ([]*voting.Vote, error) {
	query := `
		SELECT id, actor_id, candidate_id, position, created_at
		FROM votes
		WHERE created_at >= $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query votes since cutoff: %w", err)
	}
	defer rows.Close()

	var votes []*voting.Vote
	for rows.Next() {
		var v voting.Vote
		if err := rows.Scan(&v.ID, &v.ActorID, &v.CandidateID, &v.Position, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

// VotesByActors retrieves all votes cast by the given actors.
func (r *ElectionRepository) VotesByActors(ctx context.Context, actorIDs []string) ([]*voting.Vote, error) {
	query := `
		SELECT id, actor_id, candidate_id, position, created_at
		FROM votes
		WHERE actor_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("query votes by actors: %w", err)
	}
	defer rows.Close()

	var votes []*voting.Vote
	for rows.Next() {
		var v voting.Vote
		if err := rows.Scan(&v.ID, &v.ActorID, &v.CandidateID, &v.Position, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

// SurveysByActors retrieves survey responses for the given actors.
func (r *ElectionRepository) SurveysByActors(ctx context.Context, actorIDs []string) ([]*voting.SurveyResponse, error) {
	query := `
		SELECT actor_id, answers
		FROM survey_responses
		WHERE actor_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("query surveys by actors: %w", err)
	}
	defer rows.Close()

	var surveys []*voting.SurveyResponse
	for rows.Next() {
		var s voting.SurveyResponse
		if err := rows.Scan(&s.ActorID, &s.Answers); err != nil {
			return nil, fmt.Errorf("scan survey response: %w", err)
		}
		surveys = append(surveys, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate survey responses: %w", err)
	}
	return surveys, nil
}

// VotersByActors retrieves voter identities for the given actors.
func (r *ElectionRepository) VotersByActors(ctx context.Context, actorIDs []string) ([]*voting.VoterIdentity, error) {
	query := `
		SELECT actor_id, national_id, registered_at
		FROM voters
		WHERE actor_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("query voters by actors: %w", err)
	}
	defer rows.Close()

	var voters []*voting.VoterIdentity
	for rows.Next() {
		var v voting.VoterIdentity
		if err := rows.Scan(&v.ActorID, &v.NationalID, &v.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan voter identity: %w", err)
		}
		voters = append(voters, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voter identities: %w", err)
	}
	return voters, nil
}
