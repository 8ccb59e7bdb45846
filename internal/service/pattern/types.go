package pattern

import (
	"time"

	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
)

// RiskLabel classifies a persisted IP cluster.
type RiskLabel string

const (
	LabelNormal     RiskLabel = "normal"
	LabelSuspicious RiskLabel = "suspicious"
	LabelFraud      RiskLabel = "fraud"
)

// IPCluster is the persisted aggregate for one network address. Rows are
// recomputed wholesale on each refresh pass, never incrementally updated;
// only the whitelist flag survives recomputation.
type IPCluster struct {
	ID                int64      `json:"id"`
	NetworkAddr       string     `json:"network_addr"`
	VoterCount        int        `json:"voter_count"`
	VoteSimilarity    float64    `json:"vote_similarity"`
	TimingVariance    float64    `json:"timing_variance"`
	SurveySimilarity  float64    `json:"survey_similarity"`
	GeographicSpread  float64    `json:"geographic_spread"`
	CoordinationScore float64    `json:"coordination_score"`
	RiskLabel         RiskLabel  `json:"risk_label"`
	Whitelisted       bool       `json:"whitelisted"`
	FlaggedAt         *time.Time `json:"flagged_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ClusterAnalysis holds the six independent risk factors computed for one
// candidate's vote cluster, plus the fused coordination score.
type ClusterAnalysis struct {
	Size                int            `json:"size"`
	IPDiversity         float64        `json:"ip_diversity"`
	GeographicSpread    float64        `json:"geographic_spread"`
	TimingVariance      float64        `json:"timing_variance"`
	SurveySimilarity    float64        `json:"survey_similarity"`
	RegistrationRecency float64        `json:"registration_recency"`
	BehaviorUniformity  float64        `json:"behavior_uniformity"`
	RedFlags            []fraud.RedFlag `json:"red_flags"`
	RiskScore           float64        `json:"risk_score"`
}

// SuspiciousCluster is one detected coordinated-voting cluster, returned
// to the caller for immediate use (e.g. blocking a vote before it is
// recorded).
type SuspiciousCluster struct {
	CandidateID string          `json:"candidate_id"`
	VoteCount   int             `json:"vote_count"`
	Analysis    ClusterAnalysis `json:"analysis"`
	ActorIDs    []string        `json:"actor_ids"`
}
