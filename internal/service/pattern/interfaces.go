package pattern

import (
	"context"
	"time"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
)

// VoteRepository reads recorded votes from the election store.
type VoteRepository interface {
	VotesSince(ctx context.Context, cutoff time.Time) ([]*voting.Vote, error)
	VotesByActors(ctx context.Context, actorIDs []string) ([]*voting.Vote, error)
}

// SurveyRepository reads pre-vote survey responses.
type SurveyRepository interface {
	SurveysByActors(ctx context.Context, actorIDs []string) ([]*voting.SurveyResponse, error)
}

// VoterRepository reads voter registration identities.
type VoterRepository interface {
	VotersByActors(ctx context.Context, actorIDs []string) ([]*voting.VoterIdentity, error)
}

// BehaviorReader reads persisted behavior records.
type BehaviorReader interface {
	RecordsByActors(ctx context.Context, actorIDs []string) ([]*behavior.Record, error)
	AllRecords(ctx context.Context) ([]*behavior.Record, error)
}

// ClusterRepository persists IP cluster aggregates.
type ClusterRepository interface {
	GetCluster(ctx context.Context, networkAddr string) (*IPCluster, error)
	// UpsertClusters writes a refresh pass atomically: either every
	// cluster is persisted or none is.
	UpsertClusters(ctx context.Context, clusters []*IPCluster) error
	ListClusters(ctx context.Context, label RiskLabel) ([]*IPCluster, error)
}
