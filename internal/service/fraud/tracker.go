package fraud

import (
	"sync"
	"time"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/voting"
)

// PhaseDetail carries the extra payload some phase-end calls deliver.
type PhaseDetail struct {
	// FormCorrections accompanies the end of registration.
	FormCorrections int
	// SurveyAnswers accompanies the end of the survey.
	SurveyAnswers []int
}

// Tracker holds the in-memory state of all active sessions. Each session
// is only ever advanced by its own actor's sequential requests, so
// per-session state needs no lock; the shared map does.
//
// Calls against session identifiers the tracker never saw are deliberate
// no-ops: a server restart mid-session must not corrupt state for others.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*behavior.Session
	now      func() time.Time
}

// NewTracker creates an empty session tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*behavior.Session),
		now:      time.Now,
	}
}

// Start initializes tracking state for a new session.
func (t *Tracker) Start(actorID, sessionID, networkAddr, deviceSignature string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = behavior.NewSession(actorID, sessionID, networkAddr, deviceSignature, t.now())
}

// MarkPhaseStart records the start boundary of a phase.
func (t *Tracker) MarkPhaseStart(sessionID string, phase behavior.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok && phase.IsValid() {
		s.MarkPhaseStart(phase, t.now())
	}
}

// MarkPhaseEnd records the end boundary of a phase, capturing the
// correction count for registration and the answer sequence for the
// survey. Malformed survey answers fail fast without touching state.
func (t *Tracker) MarkPhaseEnd(sessionID string, phase behavior.Phase, detail PhaseDetail) error {
	if phase == behavior.PhaseSurvey && detail.SurveyAnswers != nil {
		if err := voting.ValidateAnswers(detail.SurveyAnswers); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok || !phase.IsValid() {
		return nil
	}
	s.MarkPhaseEnd(phase, t.now())
	switch phase {
	case behavior.PhaseRegistration:
		s.FormCorrections = detail.FormCorrections
	case behavior.PhaseSurvey:
		if detail.SurveyAnswers != nil {
			s.SurveyAnswers = detail.SurveyAnswers
		}
	}
	return nil
}

// LogPageVisit appends one page to the session's navigation trace.
func (t *Tracker) LogPageVisit(sessionID, page string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.LogPageVisit(page, t.now())
	}
}

// Finalize computes the derived metrics from whatever phases completed
// and evicts the session. The second return is false for sessions the
// tracker does not hold; finalize is at-most-once per session.
func (t *Tracker) Finalize(sessionID string) (*behavior.Metrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(t.sessions, sessionID)
	return behavior.ComputeMetrics(s, t.now()), true
}

// ActiveSessions reports how many sessions are currently tracked.
func (t *Tracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
