package anomaly

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	"github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

// BehaviorReader supplies the historical corpus the model trains on.
type BehaviorReader interface {
	// RecentRecords retrieves the most recent behavior records, newest first.
	RecentRecords(ctx context.Context, limit int) ([]*behavior.Record, error)
}

// Manager owns the model lifecycle: load-or-initialize on construction,
// scoring reads, and atomic retrains.
type Manager struct {
	cfg    config.ModelConfig
	repo   BehaviorReader
	logger *zap.Logger
	model  holder
}

// NewManager loads a persisted snapshot if one exists; otherwise it makes
// a best-effort initial training pass over whatever corpus is available,
// staying untrained below the sample floor.
func NewManager(ctx context.Context, cfg config.ModelConfig, repo BehaviorReader, logger *zap.Logger) (*Manager, error) {
	m := &Manager{cfg: cfg, repo: repo, logger: logger}

	if snap, err := loadSnapshot(cfg.SnapshotPath); err != nil {
		return nil, err
	} else if snap != nil {
		m.model.swap(snap)
		logger.Info("loaded anomaly model snapshot",
			zap.Time("trained_at", snap.TrainedAt),
			zap.Int("samples", snap.Samples))
		return m, nil
	}

	trained, err := m.Retrain(ctx)
	if err != nil {
		// Initial training is opportunistic; a storage failure here
		// leaves the model untrained rather than failing startup.
		logger.Warn("initial model training failed", zap.Error(err))
		return m, nil
	}
	if !trained {
		logger.Info("anomaly model starting untrained, insufficient history")
	}
	return m, nil
}

// Trained reports whether a model snapshot is available for scoring.
func (m *Manager) Trained() bool {
	return m.model.load() != nil
}

// Score returns the 0-100 anomaly risk for one feature vector, or (0,
// false) while untrained so fusion can fall back to the rule engine.
func (m *Manager) Score(features []float64) (float64, bool) {
	model := m.model.load()
	if model == nil {
		return 0, false
	}
	return model.RiskScore(features), true
}

// Retrain fits a fresh scaler and forest over the most recent corpus and
// swaps both in atomically. It returns (false, nil) with no state change
// when fewer than the minimum valid samples exist; it is idempotent and
// safe to call repeatedly.
func (m *Manager) Retrain(ctx context.Context) (bool, error) {
	records, err := m.repo.RecentRecords(ctx, m.cfg.TrainingWindow)
	if err != nil {
		return false, errors.NewStorageError("read behavior records", err)
	}

	data := trainingMatrix(records)
	if len(data) < m.cfg.MinSamples {
		m.logger.Info("retrain skipped, insufficient valid samples",
			zap.Int("valid", len(data)),
			zap.Int("required", m.cfg.MinSamples))
		return false, nil
	}

	rng := rand.New(rand.NewPCG(uint64(m.cfg.Seed), uint64(m.cfg.Seed)))
	scaler := FitScaler(data)
	scaled := make([][]float64, len(data))
	for i, row := range data {
		scaled[i] = scaler.Transform(row)
	}
	model := &Model{
		Forest:    TrainForest(scaled, m.cfg.Trees, m.cfg.SubsampleSize, rng),
		Scaler:    scaler,
		TrainedAt: time.Now().UTC(),
		Samples:   len(data),
	}

	if err := persistSnapshot(m.cfg.SnapshotPath, model); err != nil {
		// Persist before swap: a failed write leaves the old model live.
		return false, err
	}
	m.model.swap(model)

	m.logger.Info("retrained anomaly model",
		zap.Int("samples", len(data)),
		zap.Int("trees", m.cfg.Trees))
	return true, nil
}

// trainingMatrix filters the corpus to complete records (all three phase
// durations present) and converts them to model input.
func trainingMatrix(records []*behavior.Record) [][]float64 {
	data := make([][]float64, 0, len(records))
	for _, r := range records {
		fv := r.Features()
		if !fv.Complete() {
			continue
		}
		data = append(data, fv.ToSlice())
	}
	return data
}

func loadSnapshot(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStorageError("read model snapshot", err)
	}
	var model Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, errors.NewStorageError("decode model snapshot", err)
	}
	if model.Forest == nil || model.Scaler == nil {
		return nil, errors.NewInternalError("model snapshot missing forest or scaler")
	}
	return &model, nil
}

// persistSnapshot writes the snapshot to a temp file and renames it into
// place, so a crash mid-write never clobbers the previous snapshot.
func persistSnapshot(path string, model *Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewStorageError("create snapshot directory", err)
	}
	raw, err := json.Marshal(model)
	if err != nil {
		return errors.NewInternalError("encode model snapshot").WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.NewStorageError("write model snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewStorageError("replace model snapshot", err)
	}
	return nil
}
