package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Detection DetectionConfig `koanf:"detection"`
	Model     ModelConfig     `koanf:"model"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestsPerSec  int           `koanf:"requests_per_sec"`
	Burst           int           `koanf:"burst"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	RiskTTL  time.Duration `koanf:"risk_ttl"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// DetectionConfig centralizes every hand-tuned threshold used by both the
// per-session rule engine and the cluster-level pattern detector, so a
// calibration change lands in one place.
type DetectionConfig struct {
	// Per-session rule thresholds (seconds unless noted).
	MinRegistrationSecs float64 `koanf:"min_registration_secs"`
	MaxRegistrationSecs float64 `koanf:"max_registration_secs"`
	MaxFormCorrections  float64 `koanf:"max_form_corrections"`
	MinSurveySecs       float64 `koanf:"min_survey_secs"`
	MinSurveyVariance   float64 `koanf:"min_survey_variance"`
	MinSurveyEntropy    float64 `koanf:"min_survey_entropy"`
	MinVotingSecs       float64 `koanf:"min_voting_secs"`
	MaxVotingSecs       float64 `koanf:"max_voting_secs"`
	MinSessionSecs      float64 `koanf:"min_session_secs"`
	FlagRiskPoints      float64 `koanf:"flag_risk_points"`
	RuleWeight          float64 `koanf:"rule_weight"`
	AnomalyWeight       float64 `koanf:"anomaly_weight"`

	// Cluster-level thresholds.
	MinClusterSize              int           `koanf:"min_cluster_size"`
	IPConcentrationThreshold    float64       `koanf:"ip_concentration_threshold"`
	GeoClusteringThreshold      float64       `koanf:"geo_clustering_threshold"`
	TimingVarianceThreshold     float64       `koanf:"timing_variance_threshold"`
	SurveySimilarityThreshold   float64       `koanf:"survey_similarity_threshold"`
	RecentRegistrationRatio     float64       `koanf:"recent_registration_ratio"`
	RecentRegistrationWindow    time.Duration `koanf:"recent_registration_window"`
	BehaviorUniformityThreshold float64       `koanf:"behavior_uniformity_threshold"`
	LargeClusterSize            int           `koanf:"large_cluster_size"`
	MinCorroboratingFactors     int           `koanf:"min_corroborating_factors"`
	UncorroboratedPenalty       float64       `koanf:"uncorroborated_penalty"`
	CriticalRiskThreshold       float64       `koanf:"critical_risk_threshold"`
	SuspiciousRiskThreshold     float64       `koanf:"suspicious_risk_threshold"`
}

type ModelConfig struct {
	SnapshotPath   string `koanf:"snapshot_path"`
	Trees          int    `koanf:"trees"`
	SubsampleSize  int    `koanf:"subsample_size"`
	MinSamples     int    `koanf:"min_samples"`
	TrainingWindow int    `koanf:"training_window"`
	Seed           int64  `koanf:"seed"`
}

type SchedulerConfig struct {
	SweepInterval          time.Duration `koanf:"sweep_interval"`
	SweepWindowMinutes     int           `koanf:"sweep_window_minutes"`
	ClusterRefreshInterval time.Duration `koanf:"cluster_refresh_interval"`
	RetrainInterval        time.Duration `koanf:"retrain_interval"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load defaults
	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestsPerSec:  100,
			Burst:           200,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:      0,
			RiskTTL: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Detection: DefaultDetection(),
		Model: ModelConfig{
			SnapshotPath:   "models/anomaly_snapshot.json",
			Trees:          100,
			SubsampleSize:  256,
			MinSamples:     50,
			TrainingWindow: 1000,
			Seed:           42,
		},
		Scheduler: SchedulerConfig{
			SweepInterval:          5 * time.Minute,
			SweepWindowMinutes:     10,
			ClusterRefreshInterval: 30 * time.Minute,
			RetrainInterval:        24 * time.Hour,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file if exists
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		// Config file is optional
	}

	// Override with environment variables
	if err := k.Load(env.Provider("FRAUD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FRAUD_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// DefaultDetection returns the calibrated threshold set. Both detection
// paths read from here; never re-declare these as local literals.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		MinRegistrationSecs: 25,
		MaxRegistrationSecs: 600,
		MaxFormCorrections:  10,
		MinSurveySecs:       30,
		MinSurveyVariance:   0.2,
		MinSurveyEntropy:    1.0,
		MinVotingSecs:       10,
		MaxVotingSecs:       600,
		MinSessionSecs:      60,
		FlagRiskPoints:      20,
		RuleWeight:          0.6,
		AnomalyWeight:       0.4,

		MinClusterSize:              50,
		IPConcentrationThreshold:    0.8,
		GeoClusteringThreshold:      0.3,
		TimingVarianceThreshold:     30,
		SurveySimilarityThreshold:   0.9,
		RecentRegistrationRatio:     0.7,
		RecentRegistrationWindow:    24 * time.Hour,
		BehaviorUniformityThreshold: 0.85,
		LargeClusterSize:            100,
		MinCorroboratingFactors:     4,
		UncorroboratedPenalty:       0.3,
		CriticalRiskThreshold:       85,
		SuspiciousRiskThreshold:     60,
	}
}
