package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

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
	result bool
	err    error
	calls  int
}

func (s *stubRetrainer) Retrain(ctx context.Context) (bool, error) {
	s.calls++
	return s.result, s.err
}

type memBehaviorRepo struct {
	records []*behavior.Record
	saveErr error
	nextID  int64
}

func (m *memBehaviorRepo) SaveRecord(ctx context.Context, record *behavior.Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now().UTC()
	m.records = append(m.records, record)
	return nil
}

func (m *memBehaviorRepo) RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error) {
	if limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]*behavior.Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *memBehaviorRepo) CountRecords(ctx context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

type memAlertRepo struct {
	alerts []*FraudAlert
}

func (m *memAlertRepo) SaveAlert(ctx context.Context, alert *FraudAlert) error {
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *memAlertRepo) ListAlerts(ctx context.Context, limit int) ([]*FraudAlert, error) {
	if limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	return m.alerts[:limit], nil
}

func (m *memAlertRepo) CountAlerts(ctx context.Context) (int64, error) {
	return int64(len(m.alerts)), nil
}

func (m *memAlertRepo) CountAlertsByStatus(ctx context.Context, status AlertStatus) (int64, error) {
	var n int64
	for _, a := range m.alerts {
		if a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memAlertRepo) CountAlertsBySeverity(ctx context.Context, severity Severity) (int64, error) {
	var n int64
	for _, a := range m.alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n, nil
}

type memRiskCache struct {
	scores  map[string]float64
	lastTTL time.Duration
}

func (m *memRiskCache) Get(ctx context.Context, actorID string) (float64, bool, error) {
	score, ok := m.scores[actorID]
	return score, ok, nil
}

func (m *memRiskCache) Set(ctx context.Context, actorID string, score float64, ttl time.Duration) error {
	if m.scores == nil {
		m.scores = make(map[string]float64)
	}
	m.scores[actorID] = score
	m.lastTTL = ttl
	return nil
}

type capturingFeed struct {
	published []*FraudAlert
}

func (c *capturingFeed) Publish(alert *FraudAlert) {
	c.published = append(c.published, alert)
}

func ptr(v float64) *float64 { return &v }

// cleanVector is a session that trips no rule.
func cleanVector() *behavior.FeatureVector {
	return &behavior.FeatureVector{
		RegistrationDuration:    ptr(120),
		FormCorrections:         2,
		SurveyDuration:          ptr(90),
		SurveyResponseVariance:  ptr(0.7),
		SurveyEntropy:           ptr(1.5),
		VotingDuration:          ptr(45),
		CandidateSelectionSpeed: ptr(15),
		TotalSessionDuration:    300,
		TimeOfDay:               14,
	}
}

// botVector trips every duration and survey rule.
func botVector() *behavior.FeatureVector {
	return &behavior.FeatureVector{
		RegistrationDuration:    ptr(5),
		FormCorrections:         0,
		SurveyDuration:          ptr(8),
		SurveyResponseVariance:  ptr(0.0),
		SurveyEntropy:           ptr(0.0),
		VotingDuration:          ptr(2),
		CandidateSelectionSpeed: ptr(0.7),
		TotalSessionDuration:    20,
		TimeOfDay:               3,
	}
}

type fixture struct {
	svc       *Service
	scorer    *stubScorer
	retrainer *stubRetrainer
	behaviors *memBehaviorRepo
	alerts    *memAlertRepo
	cache     *memRiskCache
	feed      *capturingFeed
}

func newFixture(t *testing.T) *fixture {
	return newFixtureTTL(t, 0)
}

func newFixtureTTL(t *testing.T, riskTTL time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		scorer:    &stubScorer{},
		retrainer: &stubRetrainer{},
		behaviors: &memBehaviorRepo{},
		alerts:    &memAlertRepo{},
		cache:     &memRiskCache{},
		feed:      &capturingFeed{},
	}
	f.svc = NewService(config.DefaultDetection(),
		f.scorer, f.retrainer, f.behaviors, f.alerts, f.cache, riskTTL,
		f.feed, zap.NewNop())
	return f
}

func TestAssessBehavior_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AssessBehavior(nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	bad := cleanVector()
	bad.RegistrationDuration = ptr(-3)
	_, err = f.svc.AssessBehavior(bad)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAssessBehavior_UntrainedFallsBackToRules(t *testing.T) {
	f := newFixture(t)

	clean, err := f.svc.AssessBehavior(cleanVector())
	require.NoError(t, err)
	assert.Zero(t, clean.RiskScore)
	assert.Zero(t, clean.RuleScore)
	assert.Empty(t, clean.RedFlags)
	assert.Equal(t, ActionAllow, clean.Action)
	assert.Equal(t, SeverityLow, clean.Severity)
	assert.False(t, clean.ModelTrained)

	bot, err := f.svc.AssessBehavior(botVector())
	require.NoError(t, err)
	// Six violated rules at 20 points each, capped at 100.
	assert.Len(t, bot.RedFlags, 6)
	assert.Equal(t, 100.0, bot.RuleScore)
	assert.Equal(t, 100.0, bot.RiskScore)
	assert.Equal(t, ActionBlockAndAlert, bot.Action)
	assert.Equal(t, SeverityCritical, bot.Severity)
}

func TestAssessBehavior_FusedScore(t *testing.T) {
	f := newFixture(t)
	f.scorer.trained = true
	f.scorer.score = 80

	// Clean rules, anomalous model: 0*0.6 + 80*0.4 = 32.
	got, err := f.svc.AssessBehavior(cleanVector())
	require.NoError(t, err)
	assert.InDelta(t, 32.0, got.RiskScore, 1e-9)
	assert.Equal(t, 80.0, got.AnomalyScore)
	assert.True(t, got.ModelTrained)
	assert.Equal(t, ActionAllow, got.Action)

	// Both components maxed stay capped at 100.
	f.scorer.score = 100
	bot, err := f.svc.AssessBehavior(botVector())
	require.NoError(t, err)
	assert.Equal(t, 100.0, bot.RiskScore)
}

func TestAssessBehavior_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.scorer.trained = true
	f.scorer.score = 55

	first, err := f.svc.AssessBehavior(botVector())
	require.NoError(t, err)
	second, err := f.svc.AssessBehavior(botVector())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSeverityAndActionTiers(t *testing.T) {
	tests := []struct {
		risk     float64
		severity Severity
		action   Action
	}{
		{0, SeverityLow, ActionAllow},
		{49.9, SeverityLow, ActionAllow},
		{50, SeverityMedium, ActionMonitor},
		{69.9, SeverityMedium, ActionMonitor},
		{70, SeverityHigh, ActionFlagForReview},
		{84.9, SeverityHigh, ActionFlagForReview},
		{85, SeverityCritical, ActionBlockAndAlert},
		{100, SeverityCritical, ActionBlockAndAlert},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.severity, severityFor(tt.risk), "severity for %.1f", tt.risk)
		assert.Equal(t, tt.action, actionFor(tt.risk), "action for %.1f", tt.risk)
	}
}

func TestFinalizeSession_UnknownSession(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.FinalizeSession(context.Background(), "never-started")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFinalizeSession_BotSessionRaisesAlert(t *testing.T) {
	f := newFixture(t)
	tr := f.svc.Tracker()

	// A full three-phase pass at machine speed: every duration rounds to
	// roughly zero seconds, tripping all the fast-phase rules.
	tr.Start("actor-1", "sess-1", "203.0.113.9", "ua-bot")
	for _, phase := range []behavior.Phase{behavior.PhaseRegistration, behavior.PhaseSurvey, behavior.PhaseVoting} {
		tr.MarkPhaseStart("sess-1", phase)
		detail := PhaseDetail{}
		if phase == behavior.PhaseSurvey {
			detail.SurveyAnswers = []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
		}
		require.NoError(t, tr.MarkPhaseEnd("sess-1", phase, detail))
	}

	record, assessment, err := f.svc.FinalizeSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, assessment)

	assert.Equal(t, "actor-1", record.ActorID)
	assert.NotZero(t, record.ID)
	assert.Equal(t, behavior.Fingerprint("203.0.113.9", "ua-bot"), record.DeviceFingerprint)

	// Fast registration, fast survey, flat answers (variance and entropy),
	// fast voting, short session.
	assert.Len(t, assessment.RedFlags, 6)
	assert.Equal(t, 100.0, assessment.RiskScore)
	assert.Equal(t, SeverityCritical, assessment.Severity)

	require.Len(t, f.alerts.alerts, 1)
	alert := f.alerts.alerts[0]
	assert.Equal(t, AlertBehavioralAnomaly, alert.Type)
	require.NotNil(t, alert.ActorID)
	assert.Equal(t, "actor-1", *alert.ActorID)
	assert.Equal(t, StatusOpen, alert.Status)

	assert.Equal(t, f.alerts.alerts, f.feed.published)

	cached, ok, err := f.cache.Get(context.Background(), "actor-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, assessment.RiskScore, cached)

	// Finalize evicts: a second call must not double-persist.
	_, _, err = f.svc.FinalizeSession(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Len(t, f.behaviors.records, 1)
}

func TestFinalizeSession_RiskTTL(t *testing.T) {
	finalize := func(t *testing.T, f *fixture) {
		t.Helper()
		f.svc.Tracker().Start("actor-1", "sess-1", "203.0.113.9", "ua")
		_, _, err := f.svc.FinalizeSession(context.Background(), "sess-1")
		require.NoError(t, err)
	}

	t.Run("configured ttl reaches the cache", func(t *testing.T) {
		f := newFixtureTTL(t, 90*time.Second)
		finalize(t, f)
		assert.Equal(t, 90*time.Second, f.cache.lastTTL)
	})

	t.Run("zero falls back to the default", func(t *testing.T) {
		f := newFixture(t)
		finalize(t, f)
		assert.Equal(t, DefaultRiskTTL, f.cache.lastTTL)
	})
}

func TestFinalizeSession_AbandonedSessionHasNilPhases(t *testing.T) {
	f := newFixture(t)
	tr := f.svc.Tracker()

	// Registration completes, the rest never happens.
	tr.Start("actor-2", "sess-2", "198.51.100.4", "ua")
	tr.MarkPhaseStart("sess-2", behavior.PhaseRegistration)
	require.NoError(t, tr.MarkPhaseEnd("sess-2", behavior.PhaseRegistration, PhaseDetail{FormCorrections: 3}))

	record, assessment, err := f.svc.FinalizeSession(context.Background(), "sess-2")
	require.NoError(t, err)

	assert.NotNil(t, record.RegistrationDuration)
	assert.Nil(t, record.SurveyDuration)
	assert.Nil(t, record.VotingDuration)
	assert.Nil(t, record.SurveyResponseVariance)
	assert.Equal(t, 3, record.FormCorrections)

	// Absent phases fire no fast-phase rules; only the fast registration
	// and short session can flag here.
	for _, flag := range assessment.RedFlags {
		assert.NotContains(t, string(flag), "survey")
		assert.NotContains(t, string(flag), "voting")
	}
}

func TestFinalizeSession_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.behaviors.saveErr = assert.AnError
	tr := f.svc.Tracker()
	tr.Start("actor-3", "sess-3", "192.0.2.1", "ua")

	_, _, err := f.svc.FinalizeSession(context.Background(), "sess-3")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	assert.True(t, errors.IsRetryable(err))
}

func TestRetrainModel(t *testing.T) {
	f := newFixture(t)
	f.retrainer.result = true

	swapped, err := f.svc.RetrainModel(context.Background())
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, 1, f.retrainer.calls)
}

func TestGetStatistics(t *testing.T) {
	f := newFixture(t)
	f.behaviors.records = []*behavior.Record{{}, {}, {}}
	actor := "a"
	f.alerts.alerts = []*FraudAlert{
		{ActorID: &actor, Status: StatusOpen, Severity: SeverityCritical},
		{ActorID: &actor, Status: StatusConfirmed, Severity: SeverityHigh},
	}
	f.scorer.trained = true

	stats, err := f.svc.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.BehaviorLogCount)
	assert.Equal(t, int64(2), stats.AlertCount)
	assert.Equal(t, int64(1), stats.OpenAlertCount)
	assert.Equal(t, int64(1), stats.CriticalAlerts)
	assert.True(t, stats.ModelTrained)
}

func TestCachedRisk_NilCache(t *testing.T) {
	f := newFixture(t)
	f.svc.cache = nil

	score, ok, err := f.svc.CachedRisk(context.Background(), "actor-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, score)
}

func TestDescribeAnomaly(t *testing.T) {
	assert.Equal(t, "Anomalous behavior detected", describeAnomaly(nil))
	assert.Equal(t, "Anomalous behavior detected: a, b",
		describeAnomaly([]RedFlag{"a", "b"}))
	// Long flag lists are truncated to keep descriptions readable.
	assert.Equal(t, "Anomalous behavior detected: a, b, c",
		describeAnomaly([]RedFlag{"a", "b", "c", "d", "e"}))
}
