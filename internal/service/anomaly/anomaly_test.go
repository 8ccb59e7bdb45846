package anomaly

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

// syntheticCorpus builds n feature rows jittered around plausible human
// session timings.
func syntheticCorpus(n int, rng *rand.Rand) [][]float64 {
	data := make([][]float64, n)
	for i := range data {
		data[i] = []float64{
			100 + rng.Float64()*80, // registration duration
			float64(rng.IntN(5)),   // form corrections
			60 + rng.Float64()*60,  // survey duration
			0.4 + rng.Float64()*0.4,
			1.1 + rng.Float64()*0.4,
			30 + rng.Float64()*40, // voting duration
			10 + rng.Float64()*15,
			250 + rng.Float64()*200,
			float64(8 + rng.IntN(12)),
		}
	}
	return data
}

func TestScaler(t *testing.T) {
	data := [][]float64{
		{1, 10, 5},
		{3, 10, 7},
		{5, 10, 9},
	}
	s := FitScaler(data)

	assert.Equal(t, []float64{3, 10, 7}, s.Mean)
	// A constant column keeps std 1 so Transform stays finite.
	assert.Equal(t, 1.0, s.Std[1])

	got := s.Transform([]float64{3, 10, 7})
	assert.Equal(t, []float64{0, 0, 0}, got)

	// The input must not be mutated.
	in := []float64{1, 10, 5}
	s.Transform(in)
	assert.Equal(t, []float64{1, 10, 5}, in)
}

func TestForest_IsolatesOutliers(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	data := syntheticCorpus(300, rng)
	scaler := FitScaler(data)
	scaled := make([][]float64, len(data))
	for i, row := range data {
		scaled[i] = scaler.Transform(row)
	}
	forest := TrainForest(scaled, 100, 256, rng)

	inlier := forest.Score(scaler.Transform(data[0]))
	outlier := forest.Score(scaler.Transform([]float64{2, 0, 3, 0, 0, 1, 0.3, 8, 3}))

	// Isolated points score lower in the decision-function convention.
	assert.Less(t, outlier, inlier)
}

func TestForest_Determinism(t *testing.T) {
	data := syntheticCorpus(100, rand.New(rand.NewPCG(1, 1)))

	a := TrainForest(data, 50, 64, rand.New(rand.NewPCG(42, 42)))
	b := TrainForest(data, 50, 64, rand.New(rand.NewPCG(42, 42)))

	x := data[10]
	assert.Equal(t, a.Score(x), b.Score(x))
}

func TestModel_RiskScoreBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	data := syntheticCorpus(200, rng)
	scaler := FitScaler(data)
	scaled := make([][]float64, len(data))
	for i, row := range data {
		scaled[i] = scaler.Transform(row)
	}
	model := &Model{Forest: TrainForest(scaled, 100, 128, rng), Scaler: scaler}

	normal := model.RiskScore(data[5])
	bot := model.RiskScore([]float64{2, 0, 3, 0, 0, 1, 0.3, 8, 3})

	assert.GreaterOrEqual(t, normal, 0.0)
	assert.LessOrEqual(t, normal, 100.0)
	assert.GreaterOrEqual(t, bot, 0.0)
	assert.LessOrEqual(t, bot, 100.0)
	assert.Greater(t, bot, normal)
}

type corpusRepo struct {
	records []*behavior.Record
}

func (r *corpusRepo) RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error) {
	if limit > len(r.records) {
		limit = len(r.records)
	}
	return r.records[:limit], nil
}

func recordsFromRows(rows [][]float64) []*behavior.Record {
	out := make([]*behavior.Record, len(rows))
	for i, row := range rows {
		reg, survey, voting := row[0], row[2], row[5]
		variance, entropy, speed := row[3], row[4], row[6]
		out[i] = &behavior.Record{
			ActorID:                 "actor",
			SessionID:               "sess",
			RegistrationDuration:    &reg,
			FormCorrections:         int(row[1]),
			SurveyDuration:          &survey,
			SurveyResponseVariance:  &variance,
			SurveyEntropy:           &entropy,
			VotingDuration:          &voting,
			CandidateSelectionSpeed: &speed,
			TotalSessionDuration:    row[7],
			TimeOfDay:               int(row[8]),
		}
	}
	return out
}

func testModelConfig(t *testing.T) config.ModelConfig {
	t.Helper()
	return config.ModelConfig{
		SnapshotPath:   filepath.Join(t.TempDir(), "snapshot.json"),
		Trees:          25,
		SubsampleSize:  64,
		MinSamples:     50,
		TrainingWindow: 1000,
		Seed:           42,
	}
}

func TestManager_StaysUntrainedBelowSampleFloor(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	repo := &corpusRepo{records: recordsFromRows(syntheticCorpus(49, rng))}

	m, err := NewManager(context.Background(), testModelConfig(t), repo, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, m.Trained())
	_, ok := m.Score(make([]float64, behavior.FeatureCount))
	assert.False(t, ok)

	// One more sample crosses the floor.
	repo.records = recordsFromRows(syntheticCorpus(50, rng))
	swapped, err := m.Retrain(context.Background())
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.True(t, m.Trained())
}

func TestManager_IncompleteRecordsDoNotCount(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	records := recordsFromRows(syntheticCorpus(60, rng))
	// Strip voting from enough records to fall below the floor.
	for _, r := range records[:20] {
		r.VotingDuration = nil
	}
	repo := &corpusRepo{records: records}

	m, err := NewManager(context.Background(), testModelConfig(t), repo, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, m.Trained())
}

func TestManager_SnapshotRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	repo := &corpusRepo{records: recordsFromRows(syntheticCorpus(200, rng))}
	cfg := testModelConfig(t)

	first, err := NewManager(context.Background(), cfg, repo, zap.NewNop())
	require.NoError(t, err)
	require.True(t, first.Trained())

	x := make([]float64, behavior.FeatureCount)
	for i := range x {
		x[i] = float64(i + 1)
	}
	want, ok := first.Score(x)
	require.True(t, ok)

	// A second manager over the same path must load the persisted
	// snapshot, not retrain, and score identically.
	second, err := NewManager(context.Background(), cfg, &corpusRepo{}, zap.NewNop())
	require.NoError(t, err)
	require.True(t, second.Trained())

	got, ok := second.Score(x)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestManager_FailedRetrainKeepsOldModel(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	repo := &corpusRepo{records: recordsFromRows(syntheticCorpus(120, rng))}

	m, err := NewManager(context.Background(), testModelConfig(t), repo, zap.NewNop())
	require.NoError(t, err)
	require.True(t, m.Trained())
	before := m.model.load()

	// Starving the corpus is a documented no-op, not a rollback.
	repo.records = repo.records[:10]
	swapped, err := m.Retrain(context.Background())
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Same(t, before, m.model.load())
	assert.False(t, before.TrainedAt.IsZero())
}
