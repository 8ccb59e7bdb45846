package pattern

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"

	"github.com/google/uuid"
)

// Factor weights for coordination scoring. The six independent factors sum
// to 95; the large-cluster bonus brings the ceiling to 100.
const (
	weightIPConcentration    = 20.0
	weightGeoClustering      = 15.0
	weightTimingUniformity   = 15.0
	weightSurveySimilarity   = 20.0
	weightRecentRegistration = 15.0
	weightBehaviorUniformity = 10.0
	weightLargeCluster       = 5.0
)

// Variance assumed for clusters with fewer than two timestamps. Wide enough
// that the timing-uniformity factor never fires on insufficient data.
const defaultTimingVariance = 600.0

// Detector finds coordinated voting attacks by fusing independent evidence
// across clusters of votes. A cluster is only flagged when several factors
// corroborate each other; any single factor alone is heavily discounted.
type Detector struct {
	cfg       config.DetectionConfig
	votes     VoteRepository
	surveys   SurveyRepository
	voters    VoterRepository
	behaviors BehaviorReader
	clusters  ClusterRepository
	alerts    fraud.AlertRepository
	feed      fraud.AlertPublisher
	logger    *zap.Logger

	mu  sync.Mutex // serializes sweeps and cluster refreshes
	now func() time.Time
}

// NewDetector creates a pattern detector. feed may be nil when no live
// alert consumer is attached.
func NewDetector(
	cfg config.DetectionConfig,
	votes VoteRepository,
	surveys SurveyRepository,
	voters VoterRepository,
	behaviors BehaviorReader,
	clusters ClusterRepository,
	alerts fraud.AlertRepository,
	feed fraud.AlertPublisher,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		cfg:       cfg,
		votes:     votes,
		surveys:   surveys,
		voters:    voters,
		behaviors: behaviors,
		clusters:  clusters,
		alerts:    alerts,
		feed:      feed,
		logger:    logger,
		now:       time.Now,
	}
}

// AnalyzeRecentVotes sweeps votes recorded in the trailing window, grouped
// by candidate, and returns every cluster whose coordination score reaches
// the critical threshold. Each returned cluster has already had a
// coordinated_attack alert persisted. Sweeps are serialized; a call that
// arrives while another sweep is running blocks until it finishes.
func (d *Detector) AnalyzeRecentVotes(ctx context.Context, windowMinutes int) ([]*SuspiciousCluster, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-time.Duration(windowMinutes) * time.Minute)
	recent, err := d.votes.VotesSince(ctx, cutoff)
	if err != nil {
		return nil, errors.NewStorageError("list recent votes", err)
	}

	if len(recent) < d.cfg.MinClusterSize {
		return nil, nil
	}

	byCandidate := groupByCandidate(recent)

	var suspicious []*SuspiciousCluster
	for candidateID, votes := range byCandidate {
		if len(votes) < d.cfg.MinClusterSize {
			continue
		}

		analysis, err := d.analyzeCluster(ctx, votes)
		if err != nil {
			return nil, err
		}

		if analysis.RiskScore < d.cfg.CriticalRiskThreshold {
			continue
		}

		cluster := &SuspiciousCluster{
			CandidateID: candidateID,
			VoteCount:   len(votes),
			Analysis:    *analysis,
			ActorIDs:    actorIDs(votes),
		}
		suspicious = append(suspicious, cluster)

		if err := d.createCoordinationAlert(ctx, candidateID, analysis); err != nil {
			return nil, err
		}
	}

	return suspicious, nil
}

func groupByCandidate(votes []*voting.Vote) map[string][]*voting.Vote {
	groups := make(map[string][]*voting.Vote)
	for _, v := range votes {
		groups[v.CandidateID] = append(groups[v.CandidateID], v)
	}
	return groups
}

func actorIDs(votes []*voting.Vote) []string {
	ids := make([]string, len(votes))
	for i, v := range votes {
		ids[i] = v.ActorID
	}
	return ids
}

func (d *Detector) analyzeCluster(ctx context.Context, votes []*voting.Vote) (*ClusterAnalysis, error) {
	ids := actorIDs(votes)

	records, err := d.behaviors.RecordsByActors(ctx, ids)
	if err != nil {
		return nil, errors.NewStorageError("list cluster behavior records", err)
	}
	surveys, err := d.surveys.SurveysByActors(ctx, ids)
	if err != nil {
		return nil, errors.NewStorageError("list cluster surveys", err)
	}
	voters, err := d.voters.VotersByActors(ctx, ids)
	if err != nil {
		return nil, errors.NewStorageError("list cluster voters", err)
	}

	analysis := &ClusterAnalysis{
		Size:                len(votes),
		IPDiversity:         ipDiversity(records),
		GeographicSpread:    geographicSpread(voters),
		TimingVariance:      timingVariance(votes),
		SurveySimilarity:    surveySimilarity(surveys),
		RegistrationRecency: d.registrationRecency(votes),
		BehaviorUniformity:  behaviorUniformity(records),
	}

	analysis.RiskScore, analysis.RedFlags = d.scoreCoordination(analysis)
	return analysis, nil
}

// ipDiversity is the ratio of distinct network addresses to total behavior
// records. Missing data reads as fully diverse, never as evidence.
func ipDiversity(records []*behavior.Record) float64 {
	var addrs []string
	for _, r := range records {
		if r.NetworkAddr != "" {
			addrs = append(addrs, r.NetworkAddr)
		}
	}
	if len(addrs) == 0 {
		return 1.0
	}
	unique := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		unique[a] = struct{}{}
	}
	return float64(len(unique)) / float64(len(addrs))
}

// geographicSpread is the ratio of distinct district codes to voters with a
// parseable national ID. Missing data reads as fully spread.
func geographicSpread(voters []*voting.VoterIdentity) float64 {
	var districts []string
	for _, v := range voters {
		if code := v.DistrictCode(); code != "" {
			districts = append(districts, code)
		}
	}
	if len(districts) == 0 {
		return 1.0
	}
	unique := make(map[string]struct{}, len(districts))
	for _, d := range districts {
		unique[d] = struct{}{}
	}
	return float64(len(unique)) / float64(len(districts))
}

// timingVariance is the population variance of vote timestamps in seconds.
func timingVariance(votes []*voting.Vote) float64 {
	if len(votes) < 2 {
		return defaultTimingVariance
	}
	ts := make([]float64, len(votes))
	for i, v := range votes {
		ts[i] = float64(v.CreatedAt.UnixNano()) / float64(time.Second)
	}
	return stat.PopVariance(ts, nil)
}

// surveySimilarity is the mean pairwise cosine similarity of the cluster's
// survey response vectors.
func surveySimilarity(surveys []*voting.SurveyResponse) float64 {
	if len(surveys) < 2 {
		return 0.0
	}
	vectors := make([][]float64, len(surveys))
	for i, s := range surveys {
		vectors[i] = s.Vector()
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += cosineSimilarity(vectors[i], vectors[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0.0
	}
	return sum / float64(pairs)
}

func cosineSimilarity(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0.0
	}
	return floats.Dot(a, b) / (na * nb)
}

// registrationRecency is the fraction of the cluster's votes cast within
// the recent-registration window, a proxy for bulk account creation.
func (d *Detector) registrationRecency(votes []*voting.Vote) float64 {
	if len(votes) == 0 {
		return 0.0
	}
	cutoff := d.now().Add(-d.cfg.RecentRegistrationWindow)
	recent := 0
	for _, v := range votes {
		if !v.CreatedAt.Before(cutoff) {
			recent++
		}
	}
	return float64(recent) / float64(len(votes))
}

// behaviorUniformity inverts the mean coefficient of variation across the
// cluster's phase durations. 1.0 means every actor moved at identical
// speed; human populations land well below the threshold.
func behaviorUniformity(records []*behavior.Record) float64 {
	var rows [][]float64
	for _, r := range records {
		if r.RegistrationDuration == nil || r.SurveyDuration == nil || r.VotingDuration == nil {
			continue
		}
		rows = append(rows, []float64{
			*r.RegistrationDuration,
			*r.SurveyDuration,
			*r.VotingDuration,
			r.TotalSessionDuration,
		})
	}
	if len(rows) < 2 {
		return 0.0
	}

	var cvSum float64
	cols := len(rows[0])
	col := make([]float64, len(rows))
	for c := 0; c < cols; c++ {
		for i, row := range rows {
			col[i] = row[c]
		}
		mean := stat.Mean(col, nil)
		if mean > 0 {
			cvSum += stat.PopStdDev(col, nil) / mean
		}
	}
	avgCV := cvSum / float64(cols)
	return 1.0 - math.Min(avgCV, 1.0)
}

// scoreCoordination fuses the factor values into a 0-100 risk score.
// Clusters with fewer corroborating factors than the floor are heavily
// discounted so that no single factor can trigger an alert on its own.
func (d *Detector) scoreCoordination(a *ClusterAnalysis) (float64, []fraud.RedFlag) {
	var score float64
	var flags []fraud.RedFlag

	ipConcentration := 1.0 - a.IPDiversity
	if ipConcentration > d.cfg.IPConcentrationThreshold {
		score += weightIPConcentration
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("high IP concentration (%.2f)", ipConcentration)))
	}
	if a.GeographicSpread < d.cfg.GeoClusteringThreshold {
		score += weightGeoClustering
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("geographic clustering (%.2f)", a.GeographicSpread)))
	}
	if a.TimingVariance < d.cfg.TimingVarianceThreshold {
		score += weightTimingUniformity
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("mechanically uniform timing (%.0fs variance)", a.TimingVariance)))
	}
	if a.SurveySimilarity > d.cfg.SurveySimilarityThreshold {
		score += weightSurveySimilarity
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("nearly identical surveys (%.2f)", a.SurveySimilarity)))
	}
	if a.RegistrationRecency > d.cfg.RecentRegistrationRatio {
		score += weightRecentRegistration
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("bulk recent registrations (%.2f)", a.RegistrationRecency)))
	}
	if a.BehaviorUniformity > d.cfg.BehaviorUniformityThreshold {
		score += weightBehaviorUniformity
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("robotic behavior patterns (%.2f)", a.BehaviorUniformity)))
	}
	if a.Size > d.cfg.LargeClusterSize {
		score += weightLargeCluster
		flags = append(flags, fraud.RedFlag(fmt.Sprintf("large suspicious cluster (n=%d)", a.Size)))
	}

	if len(flags) < d.cfg.MinCorroboratingFactors {
		score *= d.cfg.UncorroboratedPenalty
		flags = append(flags, fraud.RedFlag(fmt.Sprintf(
			"only %d corroborating factors (need %d+)", len(flags), d.cfg.MinCorroboratingFactors)))
	}

	return math.Min(score, 100), flags
}

func (d *Detector) createCoordinationAlert(ctx context.Context, candidateID string, a *ClusterAnalysis) error {
	severity := fraud.SeverityHigh
	if a.RiskScore > 90 {
		severity = fraud.SeverityCritical
	}

	alert := &fraud.FraudAlert{
		ID:          uuid.New(),
		ActorID:     nil, // cluster-level, no single actor
		Type:        fraud.AlertCoordinatedAttack,
		Severity:    severity,
		RiskScore:   a.RiskScore,
		Description: fmt.Sprintf("Coordinated voting pattern detected for %s", candidateID),
		DetectedPatterns: map[string]interface{}{
			"candidate_id":      candidateID,
			"cluster_size":      a.Size,
			"ip_diversity":      a.IPDiversity,
			"geographic_spread": a.GeographicSpread,
			"survey_similarity": a.SurveySimilarity,
			"timing_variance":   a.TimingVariance,
		},
		RedFlags:  a.RedFlags,
		Status:    fraud.StatusOpen,
		CreatedAt: d.now(),
	}

	if err := d.alerts.SaveAlert(ctx, alert); err != nil {
		return errors.NewStorageError("save coordination alert", err)
	}
	if d.feed != nil {
		d.feed.Publish(alert)
	}

	d.logger.Warn("coordinated voting cluster detected",
		zap.String("candidate_id", candidateID),
		zap.Int("cluster_size", a.Size),
		zap.Float64("risk_score", a.RiskScore),
		zap.Int("red_flags", len(a.RedFlags)),
	)
	return nil
}
