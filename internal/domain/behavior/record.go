package behavior

import "time"

// Record is one persisted behavior log: the derived metrics of a finished
// (or abandoned) session plus the identity fields the pattern detector
// correlates on.
type Record struct {
	ID                      int64       `json:"id"`
	ActorID                 string      `json:"actor_id"`
	SessionID               string      `json:"session_id"`
	RegistrationDuration    *float64    `json:"registration_duration"`
	FormCorrections         int         `json:"form_corrections"`
	SurveyDuration          *float64    `json:"survey_duration"`
	SurveyResponseVariance  *float64    `json:"survey_response_variance"`
	SurveyEntropy           *float64    `json:"survey_entropy"`
	VotingDuration          *float64    `json:"voting_duration"`
	CandidateSelectionSpeed *float64    `json:"candidate_selection_speed"`
	TotalSessionDuration    float64     `json:"total_session_duration"`
	NetworkAddr             string      `json:"network_addr"`
	DeviceFingerprint       string      `json:"device_fingerprint"`
	DeviceSignature         string      `json:"device_signature"`
	PageTrace               []PageVisit `json:"page_trace"`
	TimeOfDay               int         `json:"time_of_day"`
	CreatedAt               time.Time   `json:"created_at"`
}

// Features converts a record into the canonical feature vector. This is
// the single conversion point between stored behavior data and scoring.
func (r *Record) Features() *FeatureVector {
	return &FeatureVector{
		RegistrationDuration:    r.RegistrationDuration,
		FormCorrections:         float64(r.FormCorrections),
		SurveyDuration:          r.SurveyDuration,
		SurveyResponseVariance:  r.SurveyResponseVariance,
		SurveyEntropy:           r.SurveyEntropy,
		VotingDuration:          r.VotingDuration,
		CandidateSelectionSpeed: r.CandidateSelectionSpeed,
		TotalSessionDuration:    r.TotalSessionDuration,
		TimeOfDay:               r.TimeOfDay,
	}
}

// Metrics captures what Finalize derives from a session before it is
// persisted as a Record.
type Metrics struct {
	ActorID                 string
	SessionID               string
	RegistrationDuration    *float64
	FormCorrections         int
	SurveyDuration          *float64
	SurveyResponseVariance  *float64
	SurveyEntropy           *float64
	VotingDuration          *float64
	CandidateSelectionSpeed *float64
	TotalSessionDuration    float64
	NetworkAddr             string
	DeviceFingerprint       string
	DeviceSignature         string
	PageTrace               []PageVisit
	TimeOfDay               int
}

// ComputeMetrics derives the full metric set from whatever phases the
// session actually completed, with nil for missing phases.
func ComputeMetrics(s *Session, now time.Time) *Metrics {
	m := &Metrics{
		ActorID:              s.ActorID,
		SessionID:            s.SessionID,
		RegistrationDuration: s.PhaseDuration(PhaseRegistration),
		FormCorrections:      s.FormCorrections,
		SurveyDuration:       s.PhaseDuration(PhaseSurvey),
		VotingDuration:       s.PhaseDuration(PhaseVoting),
		TotalSessionDuration: now.Sub(s.StartedAt).Seconds(),
		NetworkAddr:          s.NetworkAddr,
		DeviceFingerprint:    s.DeviceFingerprint,
		DeviceSignature:      s.DeviceSignature,
		PageTrace:            s.PageVisits,
		TimeOfDay:            now.Hour(),
	}
	if m.SurveyDuration != nil && len(s.SurveyAnswers) > 0 {
		v := ResponseVariance(s.SurveyAnswers)
		e := ResponseEntropy(s.SurveyAnswers)
		m.SurveyResponseVariance = &v
		m.SurveyEntropy = &e
	}
	m.CandidateSelectionSpeed = CandidateSpeed(m.VotingDuration)
	return m
}

// Features converts session metrics into the canonical feature vector.
func (m *Metrics) Features() *FeatureVector {
	return &FeatureVector{
		RegistrationDuration:    m.RegistrationDuration,
		FormCorrections:         float64(m.FormCorrections),
		SurveyDuration:          m.SurveyDuration,
		SurveyResponseVariance:  m.SurveyResponseVariance,
		SurveyEntropy:           m.SurveyEntropy,
		VotingDuration:          m.VotingDuration,
		CandidateSelectionSpeed: m.CandidateSelectionSpeed,
		TotalSessionDuration:    m.TotalSessionDuration,
		TimeOfDay:               m.TimeOfDay,
	}
}

// Record converts metrics into a persistable behavior record.
func (m *Metrics) Record() *Record {
	return &Record{
		ActorID:                 m.ActorID,
		SessionID:               m.SessionID,
		RegistrationDuration:    m.RegistrationDuration,
		FormCorrections:         m.FormCorrections,
		SurveyDuration:          m.SurveyDuration,
		SurveyResponseVariance:  m.SurveyResponseVariance,
		SurveyEntropy:           m.SurveyEntropy,
		VotingDuration:          m.VotingDuration,
		CandidateSelectionSpeed: m.CandidateSelectionSpeed,
		TotalSessionDuration:    m.TotalSessionDuration,
		NetworkAddr:             m.NetworkAddr,
		DeviceFingerprint:       m.DeviceFingerprint,
		DeviceSignature:         m.DeviceSignature,
		PageTrace:               m.PageTrace,
		TimeOfDay:               m.TimeOfDay,
	}
}
