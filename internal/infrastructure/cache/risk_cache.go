package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

const riskKeyPrefix = "fraud:risk:"

// RiskCache holds the most recent fused risk score per actor in Redis, so
// vote submission checks don't re-run a full assessment.
type RiskCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRiskCache connects to Redis and verifies the connection.
func NewRiskCache(cfg config.RedisConfig, logger *zap.Logger) (*RiskCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// Plain host:port form.
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("risk cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	return &RiskCache{client: client, logger: logger}, nil
}

// Get returns the cached risk score for one actor. A miss is (0, false, nil).
func (c *RiskCache) Get(ctx context.Context, actorID string) (float64, bool, error) {
	val, err := c.client.Get(ctx, riskKeyPrefix+actorID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get risk: %w", err)
	}

	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached risk score: %w", err)
	}
	return score, true, nil
}

// Set stores one actor's risk score with a TTL.
func (c *RiskCache) Set(ctx context.Context, actorID string, score float64, ttl time.Duration) error {
	err := c.client.Set(ctx, riskKeyPrefix+actorID,
		strconv.FormatFloat(score, 'f', -1, 64), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set risk: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RiskCache) Close() error {
	return c.client.Close()
}
