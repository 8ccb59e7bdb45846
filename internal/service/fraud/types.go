package fraud

import (
	"time"

	"github.com/google/uuid"
)

// Severity tiers a risk score into the review workflow's vocabulary.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the recommended response to an assessment.
type Action string

const (
	ActionAllow         Action = "allow"
	ActionMonitor       Action = "monitor"
	ActionFlagForReview Action = "flag_for_review"
	ActionBlockAndAlert Action = "block_and_alert"
)

// AlertType distinguishes per-session anomalies from cluster-level
// coordinated attacks.
type AlertType string

const (
	AlertBehavioralAnomaly AlertType = "behavioral_anomaly"
	AlertCoordinatedAttack AlertType = "coordinated_attack"
)

// AlertStatus is the human-review workflow state of an alert.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusInvestigating AlertStatus = "investigating"
	StatusConfirmed     AlertStatus = "confirmed"
	StatusFalsePositive AlertStatus = "false_positive"
)

// RedFlag is one named, human-readable threshold violation.
type RedFlag string

// RiskAssessment is the fused output of the rule engine and the anomaly
// model for one session. It is a value: created once per assessment call
// and never mutated afterward.
type RiskAssessment struct {
	RiskScore    float64   `json:"risk_score"`
	AnomalyScore float64   `json:"anomaly_score"`
	RuleScore    float64   `json:"rule_score"`
	RedFlags     []RedFlag `json:"red_flags"`
	Severity     Severity  `json:"severity"`
	Action       Action    `json:"action"`
	ModelTrained bool      `json:"model_trained"`
}

// Resolution records how a reviewed alert was closed.
type Resolution struct {
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
	Notes      string    `json:"notes"`
}

// FraudAlert is a persisted detection record. ActorID is nil for
// cluster-level alerts. After creation it is owned by the human review
// workflow; the engine never mutates one.
type FraudAlert struct {
	ID               uuid.UUID              `json:"id"`
	ActorID          *string                `json:"actor_id"`
	Type             AlertType              `json:"type"`
	Severity         Severity               `json:"severity"`
	RiskScore        float64                `json:"risk_score"`
	Description      string                 `json:"description"`
	DetectedPatterns map[string]interface{} `json:"detected_patterns"`
	RedFlags         []RedFlag              `json:"red_flags"`
	Status           AlertStatus            `json:"status"`
	Resolution       *Resolution            `json:"resolution,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Statistics is the engine's operational summary.
type Statistics struct {
	BehaviorLogCount int64 `json:"behavior_log_count"`
	AlertCount       int64 `json:"alert_count"`
	OpenAlertCount   int64 `json:"open_alert_count"`
	CriticalAlerts   int64 `json:"critical_alert_count"`
	ModelTrained     bool  `json:"model_trained"`
}
