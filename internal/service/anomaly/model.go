package anomaly

import (
	"math"
	"sync/atomic"
	"time"
)

// Model pairs a trained forest with the scaler fitted on the same corpus.
// The two are immutable once built and only ever replaced together: a
// forest scored through a stale scaler produces scale-mismatch garbage.
type Model struct {
	Forest    *Forest   `json:"forest"`
	Scaler    *Scaler   `json:"scaler"`
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"samples"`
}

// RiskScore maps the raw ensemble score into the 0-100 risk range:
// clamp(0, 100, (0.5 - raw) * 100), so more isolated means higher risk.
func (m *Model) RiskScore(features []float64) float64 {
	scaled := m.Scaler.Transform(features)
	raw := m.Forest.Score(scaled)
	return math.Max(0, math.Min(100, (0.5-raw)*100))
}

// holder is the process-wide model slot. Scoring reads the current
// snapshot; retraining builds a fresh Model and swaps it in whole, so
// in-flight scorers never observe a half-updated pair.
type holder struct {
	current atomic.Pointer[Model]
}

func (h *holder) load() *Model {
	return h.current.Load()
}

func (h *holder) swap(m *Model) {
	h.current.Store(m)
}
