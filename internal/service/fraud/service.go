package fraud

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

// Service fuses the rule engine and the anomaly model into actionable
// per-session risk assessments, and owns alert creation and statistics.
type Service struct {
	rules     *RuleEngine
	scorer    Scorer
	retrainer Retrainer
	behaviors BehaviorRepository
	alerts    AlertRepository
	cache     RiskCache
	riskTTL   time.Duration
	feed      AlertPublisher
	tracker   *Tracker
	cfg       config.DetectionConfig
	logger    *zap.Logger
}

// NewService wires the per-session detection path. cache and feed are
// optional; a nil cache skips risk-score caching and a nil feed skips
// live alert publication. riskTTL bounds cached risk scores; zero falls
// back to DefaultRiskTTL.
func NewService(
	cfg config.DetectionConfig,
	scorer Scorer,
	retrainer Retrainer,
	behaviors BehaviorRepository,
	alerts AlertRepository,
	cache RiskCache,
	riskTTL time.Duration,
	feed AlertPublisher,
	logger *zap.Logger,
) *Service {
	if riskTTL <= 0 {
		riskTTL = DefaultRiskTTL
	}
	return &Service{
		rules:     NewRuleEngine(cfg),
		scorer:    scorer,
		retrainer: retrainer,
		behaviors: behaviors,
		alerts:    alerts,
		cache:     cache,
		riskTTL:   riskTTL,
		feed:      feed,
		tracker:   NewTracker(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Tracker exposes the session tracker owned by this service.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// AssessBehavior scores one feature vector. It is pure with respect to
// external state: no persistence, no alerting; callers decide both.
//
// While the model is untrained the fused score is exactly the rule-based
// component; otherwise the two are combined 0.6/0.4.
func (s *Service) AssessBehavior(fv *behavior.FeatureVector) (*RiskAssessment, error) {
	if fv == nil {
		return nil, errors.NewValidationError("feature_vector", "feature vector is required")
	}
	if err := fv.Validate(); err != nil {
		return nil, err
	}

	flags := s.rules.Evaluate(fv)
	ruleRisk := s.rules.Risk(len(flags))
	anomalyRisk, trained := s.scorer.Score(fv.ToSlice())

	var fused float64
	if trained {
		fused = math.Min(100, ruleRisk*s.cfg.RuleWeight+anomalyRisk*s.cfg.AnomalyWeight)
	} else {
		fused = math.Min(100, ruleRisk)
	}

	return &RiskAssessment{
		RiskScore:    fused,
		AnomalyScore: anomalyRisk,
		RuleScore:    ruleRisk,
		RedFlags:     flags,
		Severity:     severityFor(fused),
		Action:       actionFor(fused),
		ModelTrained: trained,
	}, nil
}

// FinalizeSession closes out a tracked session: persists its behavior
// record, assesses it, and raises an alert when the fused risk crosses
// the alerting threshold. Unknown sessions return a not-found error.
func (s *Service) FinalizeSession(ctx context.Context, sessionID string) (*behavior.Record, *RiskAssessment, error) {
	metrics, ok := s.tracker.Finalize(sessionID)
	if !ok {
		return nil, nil, errors.NewNotFoundError("session")
	}

	record := metrics.Record()
	if err := s.behaviors.SaveRecord(ctx, record); err != nil {
		return nil, nil, errors.NewStorageError("save behavior record", err)
	}

	assessment, err := s.AssessBehavior(record.Features())
	if err != nil {
		return record, nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, record.ActorID, assessment.RiskScore, s.riskTTL); err != nil {
			s.logger.Warn("risk cache write failed", zap.Error(err))
		}
	}

	if assessment.RiskScore >= AlertingThreshold {
		if _, err := s.CreateFraudAlert(ctx, record.ActorID, record, assessment); err != nil {
			return record, assessment, err
		}
	}

	return record, assessment, nil
}

// CreateFraudAlert persists a behavioral-anomaly alert for one actor and
// returns it.
func (s *Service) CreateFraudAlert(ctx context.Context, actorID string, record *behavior.Record, assessment *RiskAssessment) (*FraudAlert, error) {
	if assessment == nil {
		return nil, errors.NewValidationError("assessment", "assessment is required")
	}

	alert := &FraudAlert{
		ID:          uuid.New(),
		ActorID:     &actorID,
		Type:        AlertBehavioralAnomaly,
		Severity:    assessment.Severity,
		RiskScore:   assessment.RiskScore,
		Description: describeAnomaly(assessment.RedFlags),
		DetectedPatterns: map[string]interface{}{
			"anomaly_score": assessment.AnomalyScore,
			"rule_score":    assessment.RuleScore,
		},
		RedFlags:  assessment.RedFlags,
		Status:    StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if record != nil {
		alert.DetectedPatterns["registration_duration"] = record.RegistrationDuration
		alert.DetectedPatterns["survey_duration"] = record.SurveyDuration
		alert.DetectedPatterns["voting_duration"] = record.VotingDuration
	}

	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		return nil, errors.NewStorageError("save fraud alert", err)
	}

	if s.feed != nil {
		s.feed.Publish(alert)
	}

	s.logger.Info("fraud alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("actor_id", actorID),
		zap.Float64("risk_score", alert.RiskScore),
		zap.String("severity", string(alert.Severity)))

	return alert, nil
}

// RetrainModel triggers a model lifecycle retrain. Insufficient history
// is a documented no-op returning false, not an error.
func (s *Service) RetrainModel(ctx context.Context) (bool, error) {
	return s.retrainer.Retrain(ctx)
}

// ListAlerts retrieves the most recent alerts for the review surface.
func (s *Service) ListAlerts(ctx context.Context, limit int) ([]*FraudAlert, error) {
	alerts, err := s.alerts.ListAlerts(ctx, limit)
	if err != nil {
		return nil, errors.NewStorageError("list alerts", err)
	}
	return alerts, nil
}

// GetStatistics summarizes engine state for operators.
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	logCount, err := s.behaviors.CountRecords(ctx)
	if err != nil {
		return nil, errors.NewStorageError("count behavior records", err)
	}
	alertCount, err := s.alerts.CountAlerts(ctx)
	if err != nil {
		return nil, errors.NewStorageError("count alerts", err)
	}
	openCount, err := s.alerts.CountAlertsByStatus(ctx, StatusOpen)
	if err != nil {
		return nil, errors.NewStorageError("count open alerts", err)
	}
	criticalCount, err := s.alerts.CountAlertsBySeverity(ctx, SeverityCritical)
	if err != nil {
		return nil, errors.NewStorageError("count critical alerts", err)
	}

	return &Statistics{
		BehaviorLogCount: logCount,
		AlertCount:       alertCount,
		OpenAlertCount:   openCount,
		CriticalAlerts:   criticalCount,
		ModelTrained:     s.scorer.Trained(),
	}, nil
}

// CachedRisk returns the cached risk score for an actor, if present.
func (s *Service) CachedRisk(ctx context.Context, actorID string) (float64, bool, error) {
	if s.cache == nil {
		return 0, false, nil
	}
	return s.cache.Get(ctx, actorID)
}

func severityFor(risk float64) Severity {
	switch {
	case risk >= RiskCritical:
		return SeverityCritical
	case risk >= RiskHigh:
		return SeverityHigh
	case risk >= RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func actionFor(risk float64) Action {
	switch {
	case risk >= RiskCritical:
		return ActionBlockAndAlert
	case risk >= RiskHigh:
		return ActionFlagForReview
	case risk >= RiskMedium:
		return ActionMonitor
	default:
		return ActionAllow
	}
}

func describeAnomaly(flags []RedFlag) string {
	if len(flags) == 0 {
		return "Anomalous behavior detected"
	}
	shown := flags
	if len(shown) > DescriptionFlagLimit {
		shown = shown[:DescriptionFlagLimit]
	}
	parts := make([]string, len(shown))
	for i, f := range shown {
		parts[i] = string(f)
	}
	return fmt.Sprintf("Anomalous behavior detected: %s", strings.Join(parts, ", "))
}
