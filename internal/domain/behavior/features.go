package behavior

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
)

// FeatureCount is the fixed length of the numeric vector fed to the
// anomaly model.
const FeatureCount = 9

// candidatePositions is the number of ballot positions a voter fills in;
// candidate-selection speed is the voting duration split across them.
const candidatePositions = 3

// FeatureVector is the fixed-order numeric summary of one session.
// Duration-derived fields are pointers: nil means the phase never
// completed, which the rule engine treats differently from a zero-second
// phase. Immutable once computed.
type FeatureVector struct {
	RegistrationDuration    *float64 `json:"registration_duration"`
	FormCorrections         float64  `json:"form_corrections"`
	SurveyDuration          *float64 `json:"survey_duration"`
	SurveyResponseVariance  *float64 `json:"survey_response_variance"`
	SurveyEntropy           *float64 `json:"survey_entropy"`
	VotingDuration          *float64 `json:"voting_duration"`
	CandidateSelectionSpeed *float64 `json:"candidate_selection_speed"`
	TotalSessionDuration    float64  `json:"total_session_duration"`
	TimeOfDay               int      `json:"time_of_day"`
}

// Validate fails fast on non-numeric or negative values before any
// scoring is attempted. The returned error names the offending field.
func (f *FeatureVector) Validate() error {
	checks := []struct {
		name  string
		value *float64
	}{
		{"registration_duration", f.RegistrationDuration},
		{"survey_duration", f.SurveyDuration},
		{"survey_response_variance", f.SurveyResponseVariance},
		{"survey_entropy", f.SurveyEntropy},
		{"voting_duration", f.VotingDuration},
		{"candidate_selection_speed", f.CandidateSelectionSpeed},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		if math.IsNaN(*c.value) || math.IsInf(*c.value, 0) {
			return errors.NewValidationError(c.name, c.name+" is not a finite number")
		}
		if *c.value < 0 {
			return errors.NewValidationError(c.name, c.name+" must not be negative")
		}
	}
	if f.FormCorrections < 0 || math.IsNaN(f.FormCorrections) {
		return errors.NewValidationError("form_corrections", "form_corrections must be a non-negative number")
	}
	if f.TotalSessionDuration < 0 || math.IsNaN(f.TotalSessionDuration) || math.IsInf(f.TotalSessionDuration, 0) {
		return errors.NewValidationError("total_session_duration", "total_session_duration must be a non-negative finite number")
	}
	if f.TimeOfDay < 0 || f.TimeOfDay > 23 {
		return errors.NewValidationError("time_of_day", "time_of_day must be in [0, 23]")
	}
	return nil
}

// Complete reports whether all three phase durations are present. Only
// complete vectors are used for model training.
func (f *FeatureVector) Complete() bool {
	return f.RegistrationDuration != nil && f.SurveyDuration != nil && f.VotingDuration != nil
}

// ToSlice produces the fixed-order model input, mapping absent phases to
// zero. The mapping matches how the training corpus is represented, so
// scoring and training stay in the same space.
func (f *FeatureVector) ToSlice() []float64 {
	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return []float64{
		deref(f.RegistrationDuration),
		f.FormCorrections,
		deref(f.SurveyDuration),
		deref(f.SurveyResponseVariance),
		deref(f.SurveyEntropy),
		deref(f.VotingDuration),
		deref(f.CandidateSelectionSpeed),
		f.TotalSessionDuration,
		float64(f.TimeOfDay),
	}
}

// ResponseVariance computes the population variance of a raw answer
// sequence.
func ResponseVariance(answers []int) float64 {
	if len(answers) == 0 {
		return 0
	}
	xs := make([]float64, len(answers))
	for i, a := range answers {
		xs[i] = float64(a)
	}
	return stat.PopVariance(xs, nil)
}

// ResponseEntropy computes the Shannon entropy (bits) over the discrete
// answer-value distribution. Low entropy means uniform, robotic answers.
func ResponseEntropy(answers []int) float64 {
	if len(answers) == 0 {
		return 0
	}
	counts := make(map[int]int, 3)
	for _, a := range answers {
		counts[a]++
	}
	probs := make([]float64, 0, len(counts))
	for _, c := range counts {
		probs = append(probs, float64(c)/float64(len(answers)))
	}
	// stat.Entropy is in nats; the thresholds are calibrated in bits.
	return stat.Entropy(probs) / math.Ln2
}

// CandidateSpeed derives per-position selection speed from a voting
// duration, or nil when the phase is absent.
func CandidateSpeed(votingDuration *float64) *float64 {
	if votingDuration == nil {
		return nil
	}
	s := *votingDuration / candidatePositions
	return &s
}
