package behavior

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Phase identifies one stage of the voting flow.
type Phase string

const (
	PhaseRegistration Phase = "registration"
	PhaseSurvey       Phase = "survey"
	PhaseVoting       Phase = "voting"
)

// IsValid reports whether the phase is one of the three tracked stages.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseRegistration, PhaseSurvey, PhaseVoting:
		return true
	}
	return false
}

// PageVisit is one entry in a session's navigation trace.
type PageVisit struct {
	Page string    `json:"page"`
	At   time.Time `json:"at"`
}

// span holds the wall-clock boundaries of one phase. End, if set, is
// always >= Start.
type span struct {
	Start *time.Time
	End   *time.Time
}

// Session holds in-memory timing and identity state for one in-progress
// actor session. It is owned by the session tracker for its lifetime and
// mutated only through phase-transition calls.
type Session struct {
	ActorID           string
	SessionID         string
	NetworkAddr       string
	DeviceSignature   string
	DeviceFingerprint string
	StartedAt         time.Time

	phases          map[Phase]*span
	SurveyAnswers   []int
	FormCorrections int
	PageVisits      []PageVisit
}

// NewSession initializes tracking state for one actor session, computing a
// stable device fingerprint from the (address, signature) pair.
func NewSession(actorID, sessionID, networkAddr, deviceSignature string, now time.Time) *Session {
	return &Session{
		ActorID:           actorID,
		SessionID:         sessionID,
		NetworkAddr:       networkAddr,
		DeviceSignature:   deviceSignature,
		DeviceFingerprint: Fingerprint(networkAddr, deviceSignature),
		StartedAt:         now,
		phases:            make(map[Phase]*span, 3),
	}
}

// Fingerprint derives the stable device fingerprint used to correlate
// sessions: the first 32 hex characters of SHA-256 over "addr:signature".
func Fingerprint(networkAddr, deviceSignature string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", networkAddr, deviceSignature)))
	return hex.EncodeToString(sum[:])[:32]
}

// MarkPhaseStart records the start of a phase. Restarting a phase resets
// its boundaries.
func (s *Session) MarkPhaseStart(phase Phase, now time.Time) {
	t := now
	s.phases[phase] = &span{Start: &t}
}

// MarkPhaseEnd records the end of a phase. It is a no-op if the phase was
// never started, and clamps to the start time if the clock reads earlier
// than the recorded start.
func (s *Session) MarkPhaseEnd(phase Phase, now time.Time) {
	sp, ok := s.phases[phase]
	if !ok || sp.Start == nil {
		return
	}
	t := now
	if t.Before(*sp.Start) {
		t = *sp.Start
	}
	sp.End = &t
}

// PhaseDuration returns the elapsed seconds for a completed phase, or nil
// when either boundary is missing. Nil is deliberate: a zero-second phase
// is "fast", a nil one is "absent", and downstream scoring must tell the
// two apart.
func (s *Session) PhaseDuration(phase Phase) *float64 {
	sp, ok := s.phases[phase]
	if !ok || sp.Start == nil || sp.End == nil {
		return nil
	}
	d := sp.End.Sub(*sp.Start).Seconds()
	return &d
}

// LogPageVisit appends one entry to the navigation trace.
func (s *Session) LogPageVisit(page string, now time.Time) {
	s.PageVisits = append(s.PageVisits, PageVisit{Page: page, At: now})
}
