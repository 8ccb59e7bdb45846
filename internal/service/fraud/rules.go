package fraud

import (
	"fmt"
	"math"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

// RuleEngine evaluates a feature vector against the hand-tuned threshold
// table, independently of the anomaly model. Evaluation is deterministic:
// the same vector always yields the same flag set.
type RuleEngine struct {
	cfg config.DetectionConfig
}

// NewRuleEngine builds a rule engine over the shared detection thresholds.
func NewRuleEngine(cfg config.DetectionConfig) *RuleEngine {
	return &RuleEngine{cfg: cfg}
}

// Evaluate returns every violated threshold rule. Each check is
// independent and additive; a session may accumulate any number of flags.
// Rules over optional fields only fire when the phase actually completed:
// an absent phase is not a fast phase.
func (e *RuleEngine) Evaluate(fv *behavior.FeatureVector) []RedFlag {
	var flags []RedFlag

	if d := fv.RegistrationDuration; d != nil {
		if *d < e.cfg.MinRegistrationSecs {
			flags = append(flags, RedFlag(fmt.Sprintf("extremely fast registration (<%.0fs)", e.cfg.MinRegistrationSecs)))
		} else if *d > e.cfg.MaxRegistrationSecs {
			flags = append(flags, RedFlag(fmt.Sprintf("unusually slow registration (>%.0fs)", e.cfg.MaxRegistrationSecs)))
		}
	}

	if fv.FormCorrections > e.cfg.MaxFormCorrections {
		flags = append(flags, RedFlag(fmt.Sprintf("excessive form corrections (>%.0f)", e.cfg.MaxFormCorrections)))
	}

	if d := fv.SurveyDuration; d != nil && *d < e.cfg.MinSurveySecs {
		flags = append(flags, RedFlag(fmt.Sprintf("very fast survey completion (<%.0fs)", e.cfg.MinSurveySecs)))
	}
	if v := fv.SurveyResponseVariance; v != nil && *v < e.cfg.MinSurveyVariance {
		flags = append(flags, RedFlag(fmt.Sprintf("very low survey response variance (<%.1f)", e.cfg.MinSurveyVariance)))
	}
	if h := fv.SurveyEntropy; h != nil && *h < e.cfg.MinSurveyEntropy {
		flags = append(flags, RedFlag("low survey entropy (robotic pattern)"))
	}

	if d := fv.VotingDuration; d != nil {
		if *d < e.cfg.MinVotingSecs {
			flags = append(flags, RedFlag(fmt.Sprintf("extremely fast voting (<%.0fs)", e.cfg.MinVotingSecs)))
		} else if *d > e.cfg.MaxVotingSecs {
			flags = append(flags, RedFlag(fmt.Sprintf("unusually slow voting (>%.0fs)", e.cfg.MaxVotingSecs)))
		}
	}

	if fv.TotalSessionDuration < e.cfg.MinSessionSecs {
		flags = append(flags, RedFlag(fmt.Sprintf("suspiciously short session (<%.0fs)", e.cfg.MinSessionSecs)))
	}

	return flags
}

// Risk converts a flag count into the rule-based risk component:
// min(100, count x points-per-flag).
func (e *RuleEngine) Risk(flagCount int) float64 {
	return math.Min(100, float64(flagCount)*e.cfg.FlagRiskPoints)
}
