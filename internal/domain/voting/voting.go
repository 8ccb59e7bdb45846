package voting

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
)

// SurveyLength is the fixed number of answers in the pre-vote survey.
const SurveyLength = 12

// districtPrefixLen is the fixed-length national-ID prefix that encodes
// the issuing district.
const districtPrefixLen = 5

var validate = validator.New(validator.WithRequiredStructEnabled())

// Vote is one recorded ballot entry.
type Vote struct {
	ID          int64     `json:"id"`
	ActorID     string    `json:"actor_id"`
	CandidateID string    `json:"candidate_id"`
	Position    string    `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// SurveyResponse holds one actor's ordered pre-vote survey answers, each
// in {-1, 0, 1}.
type SurveyResponse struct {
	ActorID string `json:"actor_id"`
	Answers []int  `json:"answers" validate:"len=12,dive,min=-1,max=1"`
}

// Vector returns the answers as a float vector for similarity analysis.
func (s *SurveyResponse) Vector() []float64 {
	v := make([]float64, len(s.Answers))
	for i, a := range s.Answers {
		v[i] = float64(a)
	}
	return v
}

// ValidateAnswers fails fast on a malformed answer sequence, naming the
// invalid field.
func ValidateAnswers(answers []int) error {
	if err := validate.Var(answers, "len=12,dive,min=-1,max=1"); err != nil {
		return errors.NewValidationError("answers",
			"answers must be exactly 12 values, each -1, 0 or 1").WithCause(err)
	}
	return nil
}

// VoterIdentity is the slice of the voter record the pattern detector
// correlates on.
type VoterIdentity struct {
	ActorID      string     `json:"actor_id"`
	NationalID   string     `json:"national_id"`
	RegisteredAt *time.Time `json:"registered_at"`
}

// DistrictCode extracts the identity-district prefix from the national
// ID, or "" when the ID is too short to carry one.
func (v *VoterIdentity) DistrictCode() string {
	if len(v.NationalID) < districtPrefixLen {
		return ""
	}
	return v.NationalID[:districtPrefixLen]
}
