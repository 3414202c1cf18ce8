package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const (
	MetricsChannel = "citybike:metrics"
	// RunsCachePrefix namespaces API responses that change when a run lands.
	RunsCachePrefix = "api:runs:"
)

var ErrCacheMiss = errors.New("cache miss")

type CacheService struct {
	client *redis.Client
	log    *slog.Logger
}

// NewCacheService connects to Redis, retrying the ping a few times to ride
// out container start-up ordering. On failure the returned service is still
// usable and behaves as an always-missing cache.
func NewCacheService(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*CacheService, error) {
	logger = logger.With("component", "redis")
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info("redis connected", "addr", client.Options().Addr)
			return &CacheService{client: client, log: logger}, nil
		}
		logger.Warn("redis ping failed", "attempt", i+1, "of", attempts, "error", lastErr)
		select {
		case <-ctx.Done():
			i = attempts
		case <-time.After(time.Second):
		}
	}

	_ = client.Close()
	return &CacheService{log: logger}, fmt.Errorf("redis ping failed after %d attempts: %w", attempts, lastErr)
}

// NewCacheServiceFromClient wraps an existing client.
func NewCacheServiceFromClient(client *redis.Client, logger *slog.Logger) *CacheService {
	return &CacheService{client: client, log: logger.With("component", "redis")}
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// Get decodes the cached JSON value into dest, or returns ErrCacheMiss.
func (s *CacheService) Get(ctx context.Context, key string, dest any) error {
	if !s.Available() {
		return ErrCacheMiss
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// DeletePrefix removes every key starting with prefix.
func (s *CacheService) DeletePrefix(ctx context.Context, prefix string) error {
	if !s.Available() {
		return nil
	}
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message any) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

// MetricsMessage is published on MetricsChannel when a run completes.
type MetricsMessage struct {
	Run     models.ForecastRun     `json:"run"`
	Metrics []models.MetricsRecord `json:"metrics"`
}

func (s *CacheService) Name() string { return "redis" }

// WriteRun announces the run's metrics and drops cached run listings.
func (s *CacheService) WriteRun(ctx context.Context, report RunReport) error {
	if !s.Available() {
		return errors.New("redis unavailable")
	}
	msg := MetricsMessage{Run: report.Run, Metrics: report.Comparison.Records(report.Run.RunID)}
	if err := s.Publish(ctx, MetricsChannel, msg); err != nil {
		return fmt.Errorf("publish metrics: %w", err)
	}
	return s.DeletePrefix(ctx, RunsCachePrefix)
}

// WritePredictions is a no-op: prediction tables live in Postgres and CSV.
func (s *CacheService) WritePredictions(context.Context, string, []models.PredictionResult) (int, error) {
	return 0, nil
}
