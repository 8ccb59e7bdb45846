package anomaly

import (
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature vectors to zero mean and unit variance
// using the statistics of the training corpus. It is always replaced
// together with the forest it was fitted alongside.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-feature mean and population standard deviation.
func FitScaler(data [][]float64) *Scaler {
	dims := len(data[0])
	s := &Scaler{
		Mean: make([]float64, dims),
		Std:  make([]float64, dims),
	}
	col := make([]float64, len(data))
	for d := 0; d < dims; d++ {
		for i, row := range data {
			col[i] = row[d]
		}
		s.Mean[d] = stat.Mean(col, nil)
		s.Std[d] = stat.PopStdDev(col, nil)
		if s.Std[d] == 0 {
			// Constant feature: pass through centered values unscaled.
			s.Std[d] = 1
		}
	}
	return s
}

// Transform standardizes one vector without mutating the input.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = (x[i] - s.Mean[i]) / s.Std[i]
	}
	return out
}
