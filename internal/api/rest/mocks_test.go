package rest

import (
	"context"
	"time"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

type mockBehaviorRepo struct {
	records []*behavior.Record
	nextID  int64
}

func (m *mockBehaviorRepo) SaveRecord(ctx context.Context, record *behavior.Record) error {
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now()
	m.records = append(m.records, record)
	return nil
}

func (m *mockBehaviorRepo) RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error) {
	return m.records, nil
}

func (m *mockBehaviorRepo) CountRecords(ctx context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

func (m *mockBehaviorRepo) RecordsByActors(ctx context.Context, actorIDs []string) ([]*behavior.Record, error) {
	return m.records, nil
}

func (m *mockBehaviorRepo) AllRecords(ctx context.Context) ([]*behavior.Record, error) {
	return m.records, nil
}

type mockAlertStore struct {
	alerts []*fraud.FraudAlert
}

func (m *mockAlertStore) SaveAlert(ctx context.Context, alert *fraud.FraudAlert) error {
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockAlertStore) ListAlerts(ctx context.Context, limit int) ([]*fraud.FraudAlert, error) {
	if limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	return m.alerts[:limit], nil
}

func (m *mockAlertStore) CountAlerts(ctx context.Context) (int64, error) {
	return int64(len(m.alerts)), nil
}

func (m *mockAlertStore) CountAlertsByStatus(ctx context.Context, status fraud.AlertStatus) (int64, error) {
	var n int64
	for _, a := range m.alerts {
		if a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *mockAlertStore) CountAlertsBySeverity(ctx context.Context, severity fraud.Severity) (int64, error) {
	var n int64
	for _, a := range m.alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n, nil
}

type stubScorer struct {
	score   float64
	trained bool
}

func (s *stubScorer) Score(features []float64) (float64, bool) {
	if !s.trained {
		return 0, false
	}
	return s.score, true
}

func (s *stubScorer) Trained() bool { return s.trained }

type stubRetrainer struct {
	retrained bool
	err       error
}

func (s *stubRetrainer) Retrain(ctx context.Context) (bool, error) {
	return s.retrained, s.err
}

type emptyVoteRepo struct{}

func (emptyVoteRepo) VotesSince(ctx context.Context, cutoff time.Time) ([]*voting.Vote, error) {
	return nil, nil
}

func (emptyVoteRepo) VotesByActors(ctx context.Context, actorIDs []string) ([]*voting.Vote, error) {
	return nil, nil
}

type emptySurveyRepo struct{}

func (emptySurveyRepo) SurveysByActors(ctx context.Context, actorIDs []string) ([]*voting.SurveyResponse, error) {
	return nil, nil
}

type emptyVoterRepo struct{}

func (emptyVoterRepo) VotersByActors(ctx context.Context, actorIDs []string) ([]*voting.VoterIdentity, error) {
	return nil, nil
}

type memClusterRepo struct {
	clusters []*pattern.IPCluster
}

func (m *memClusterRepo) GetCluster(ctx context.Context, addr string) (*pattern.IPCluster, error) {
	for _, c := range m.clusters {
		if c.NetworkAddr == addr {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memClusterRepo) UpsertClusters(ctx context.Context, clusters []*pattern.IPCluster) error {
	for _, cluster := range clusters {
		replaced := false
		for i, c := range m.clusters {
			if c.NetworkAddr == cluster.NetworkAddr {
				m.clusters[i] = cluster
				replaced = true
				break
			}
		}
		if !replaced {
			m.clusters = append(m.clusters, cluster)
		}
	}
	return nil
}

func (m *memClusterRepo) ListClusters(ctx context.Context, label pattern.RiskLabel) ([]*pattern.IPCluster, error) {
	var out []*pattern.IPCluster
	for _, c := range m.clusters {
		if c.RiskLabel == label {
			out = append(out, c)
		}
	}
	return out, nil
}
