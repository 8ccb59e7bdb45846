package pattern

import (
	"context"

	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
)

// UpdateIPClusters recomputes the per-address cluster aggregates from the
// full behavior log. Each pass derives every metric from scratch; only the
// whitelist flag is carried over from the existing row. Whitelisted
// addresses keep their metrics updated but are never labeled above normal.
//
// The whole pass is computed first and persisted in one write: a failed
// refresh leaves every stored cluster untouched.
func (d *Detector) UpdateIPClusters(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.behaviors.AllRecords(ctx)
	if err != nil {
		return 0, errors.NewStorageError("list behavior records", err)
	}

	byAddr := make(map[string][]*behavior.Record)
	for _, r := range records {
		if r.NetworkAddr != "" {
			byAddr[r.NetworkAddr] = append(byAddr[r.NetworkAddr], r)
		}
	}

	refreshed := make([]*IPCluster, 0, len(byAddr))
	for addr, group := range byAddr {
		cluster, err := d.refreshCluster(ctx, addr, group)
		if err != nil {
			return 0, err
		}
		refreshed = append(refreshed, cluster)
	}

	if len(refreshed) > 0 {
		if err := d.clusters.UpsertClusters(ctx, refreshed); err != nil {
			return 0, errors.NewStorageError("upsert ip clusters", err)
		}
	}

	d.logger.Info("ip cluster refresh complete", zap.Int("clusters", len(refreshed)))
	return len(refreshed), nil
}

func (d *Detector) refreshCluster(ctx context.Context, addr string, group []*behavior.Record) (*IPCluster, error) {
	existing, err := d.clusters.GetCluster(ctx, addr)
	if err != nil {
		return nil, errors.NewStorageError("get ip cluster", err)
	}

	actors := make(map[string]struct{}, len(group))
	ids := make([]string, 0, len(group))
	for _, r := range group {
		if _, seen := actors[r.ActorID]; !seen {
			actors[r.ActorID] = struct{}{}
			ids = append(ids, r.ActorID)
		}
	}

	cluster := &IPCluster{
		NetworkAddr: addr,
		VoterCount:  len(actors),
		RiskLabel:   LabelNormal,
		UpdatedAt:   d.now(),
	}
	if existing != nil {
		cluster.ID = existing.ID
		cluster.Whitelisted = existing.Whitelisted
		cluster.FlaggedAt = existing.FlaggedAt
	}

	votes, err := d.votes.VotesByActors(ctx, ids)
	if err != nil {
		return nil, errors.NewStorageError("list cluster votes", err)
	}

	if len(votes) >= 2 {
		surveys, err := d.surveys.SurveysByActors(ctx, ids)
		if err != nil {
			return nil, errors.NewStorageError("list cluster surveys", err)
		}
		voters, err := d.voters.VotersByActors(ctx, ids)
		if err != nil {
			return nil, errors.NewStorageError("list cluster voters", err)
		}

		cluster.VoteSimilarity = voteSimilarity(votes)
		cluster.TimingVariance = timingVariance(votes)
		cluster.SurveySimilarity = surveySimilarity(surveys)
		cluster.GeographicSpread = geographicSpread(voters)

		// Same-address clusters are concentrated by construction, so IP
		// diversity is pinned low and the per-actor factors are zeroed.
		mini := &ClusterAnalysis{
			Size:                len(votes),
			IPDiversity:         0.1,
			GeographicSpread:    cluster.GeographicSpread,
			TimingVariance:      cluster.TimingVariance,
			SurveySimilarity:    cluster.SurveySimilarity,
			RegistrationRecency: 0.0,
			BehaviorUniformity:  0.0,
		}
		cluster.CoordinationScore, _ = d.scoreCoordination(mini)

		switch {
		case cluster.Whitelisted:
			cluster.RiskLabel = LabelNormal
		case cluster.CoordinationScore > d.cfg.CriticalRiskThreshold:
			cluster.RiskLabel = LabelFraud
			now := d.now()
			cluster.FlaggedAt = &now
		case cluster.CoordinationScore > d.cfg.SuspiciousRiskThreshold:
			cluster.RiskLabel = LabelSuspicious
			now := d.now()
			cluster.FlaggedAt = &now
		}
	}

	return cluster, nil
}

// voteSimilarity measures candidate-choice agreement. For each ballot
// position it takes the share held by the most common candidate, then
// averages across positions.
func voteSimilarity(votes []*voting.Vote) float64 {
	if len(votes) < 2 {
		return 0.0
	}

	byPosition := make(map[string][]string)
	for _, v := range votes {
		byPosition[v.Position] = append(byPosition[v.Position], v.CandidateID)
	}

	var sum float64
	for _, candidates := range byPosition {
		counts := make(map[string]int)
		top := 0
		for _, c := range candidates {
			counts[c]++
			if counts[c] > top {
				top = counts[c]
			}
		}
		sum += float64(top) / float64(len(candidates))
	}
	return sum / float64(len(byPosition))
}
