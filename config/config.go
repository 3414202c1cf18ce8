package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Data     DataConfig
	Features FeatureConfig
	Split    SplitConfig
	Models   ModelsConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Server   ServerConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DataConfig struct {
	TripsPath    string `validate:"required"`
	WeatherPath  string `validate:"required"`
	StationsPath string `validate:"required"`
	// TopStations keeps only the busiest stations by total departures (0 = all).
	TopStations int `validate:"gte=0"`
}

type FeatureConfig struct {
	Lags            []int `validate:"dive,gt=0"`
	RollingWindows  []int `validate:"dive,gt=1"`
	SameHourDays    []int `validate:"dive,gt=1"`
	SameHourWeeks   int   `validate:"gte=1,lte=52"`
	WeatherLagHours int   `validate:"gte=0"`
}

type SplitConfig struct {
	// Boundary is the first validation hour. Zero means "last ValidationHours hours".
	Boundary        time.Time
	ValidationHours int `validate:"gt=0"`
	CVFolds         int `validate:"gte=0"`
}

type TreeConfig struct {
	Trees           int     `validate:"gt=0"`
	LearningRate    float64 `validate:"gt=0,lte=1"`
	MaxDepth        int     `validate:"gt=0,lte=32"`
	MinSamplesLeaf  int     `validate:"gt=0"`
	Subsample       float64 `validate:"gt=0,lte=1"`
	FeatureFraction float64 `validate:"gt=0,lte=1"`
	Lambda          float64 `validate:"gte=0"`
}

type ModelsConfig struct {
	Seed                 int64
	Workers              int     `validate:"gte=0"`
	Threshold            float64 `validate:"gt=0,lt=1"`
	MinTrainingRows      int     `validate:"gte=0"`
	BaselineZeroFallback bool
	AttributionSample    int `validate:"gte=0"`
	SingleStage          TreeConfig
	Classifier           TreeConfig
	TwoPhaseRegressor    TreeConfig
}

type OutputConfig struct {
	Dir string `validate:"required"`
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

type ServerConfig struct {
	Port int
}

type CORSConfig struct {
	AllowedOrigins string
}

type LogConfig struct {
	Level slog.Level
}

var validate = validator.New()

func LoadConfig() (*Config, error) {
	serverPort, err := getIntEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	redisPort, err := getIntEnv("REDIS_PORT", 6379)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	topStations, err := getIntEnv("TOP_STATIONS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid TOP_STATIONS: %w", err)
	}

	features, err := loadFeatureConfig()
	if err != nil {
		return nil, err
	}

	split, err := loadSplitConfig()
	if err != nil {
		return nil, err
	}

	modelsCfg, err := loadModelsConfig()
	if err != nil {
		return nil, err
	}

	dbEnabled, err := getBoolEnv("DB_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_ENABLED: %w", err)
	}

	redisEnabled, err := getBoolEnv("REDIS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_ENABLED: %w", err)
	}

	cfg := &Config{
		Data: DataConfig{
			TripsPath:    getEnv("TRIPS_PATH", "data/clean/bike_rides_cleaned.csv"),
			WeatherPath:  getEnv("WEATHER_PATH", "data/clean/weather_cleaned.csv"),
			StationsPath: getEnv("STATIONS_PATH", "data/raw/stations.csv"),
			TopStations:  topStations,
		},
		Features: features,
		Split:    split,
		Models:   modelsCfg,
		Output: OutputConfig{
			Dir: getEnv("OUTPUT_DIR", "output"),
		},
		Database: DatabaseConfig{
			Enabled:  dbEnabled,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "citybike"),
			Password: getEnv("DB_PASSWORD", "citybike_dev_password"),
			Name:     getEnv("DB_NAME", "citybike"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  redisEnabled,
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     redisPort,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
			Job:            getEnv("METRICS_JOB", "citybike_forecast"),
		},
		Server: ServerConfig{
			Port: serverPort,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Log: LogConfig{
			Level: getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFeatureConfig() (FeatureConfig, error) {
	lags, err := getIntListEnv("FEATURE_LAGS", []int{1, 2, 3, 24, 72, 168})
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("invalid FEATURE_LAGS: %w", err)
	}
	windows, err := getIntListEnv("ROLLING_WINDOWS", []int{3, 24, 168})
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("invalid ROLLING_WINDOWS: %w", err)
	}
	days, err := getIntListEnv("SAME_HOUR_DAYS", []int{3, 7})
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("invalid SAME_HOUR_DAYS: %w", err)
	}
	weeks, err := getIntEnv("SAME_HOUR_WEEKS", 4)
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("invalid SAME_HOUR_WEEKS: %w", err)
	}
	weatherLag, err := getIntEnv("WEATHER_LAG_HOURS", 0)
	if err != nil {
		return FeatureConfig{}, fmt.Errorf("invalid WEATHER_LAG_HOURS: %w", err)
	}
	return FeatureConfig{
		Lags:            lags,
		RollingWindows:  windows,
		SameHourDays:    days,
		SameHourWeeks:   weeks,
		WeatherLagHours: weatherLag,
	}, nil
}

func loadSplitConfig() (SplitConfig, error) {
	var boundary time.Time
	if v := os.Getenv("SPLIT_AT"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return SplitConfig{}, fmt.Errorf("invalid SPLIT_AT: %w", err)
		}
		boundary = parsed.UTC()
	}
	hours, err := getIntEnv("VALIDATION_HOURS", 24*7*4)
	if err != nil {
		return SplitConfig{}, fmt.Errorf("invalid VALIDATION_HOURS: %w", err)
	}
	folds, err := getIntEnv("CV_FOLDS", 0)
	if err != nil {
		return SplitConfig{}, fmt.Errorf("invalid CV_FOLDS: %w", err)
	}
	return SplitConfig{Boundary: boundary, ValidationHours: hours, CVFolds: folds}, nil
}

func loadModelsConfig() (ModelsConfig, error) {
	seed, err := getIntEnv("MODEL_SEED", 0)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid MODEL_SEED: %w", err)
	}
	workers, err := getIntEnv("MODEL_WORKERS", 0)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid MODEL_WORKERS: %w", err)
	}
	threshold, err := getFloatEnv("TWO_PHASE_THRESHOLD", 0.5)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid TWO_PHASE_THRESHOLD: %w", err)
	}
	minRows, err := getIntEnv("MIN_TRAINING_ROWS", 1000)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid MIN_TRAINING_ROWS: %w", err)
	}
	zeroFallback, err := getBoolEnv("BASELINE_ZERO_FALLBACK", false)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid BASELINE_ZERO_FALLBACK: %w", err)
	}
	sample, err := getIntEnv("ATTRIBUTION_SAMPLE", 5000)
	if err != nil {
		return ModelsConfig{}, fmt.Errorf("invalid ATTRIBUTION_SAMPLE: %w", err)
	}

	// Defaults are the tuned LightGBM hyperparameters of the original study.
	single, err := loadTreeConfig("REGRESSOR", TreeConfig{
		Trees: 350, LearningRate: 0.0448, MaxDepth: 12, MinSamplesLeaf: 50,
		Subsample: 0.906, FeatureFraction: 0.589, Lambda: 0,
	})
	if err != nil {
		return ModelsConfig{}, err
	}
	clf, err := loadTreeConfig("CLASSIFIER", TreeConfig{
		Trees: 500, LearningRate: 0.0424, MaxDepth: 8, MinSamplesLeaf: 38,
		Subsample: 0.844, FeatureFraction: 0.516, Lambda: 0,
	})
	if err != nil {
		return ModelsConfig{}, err
	}
	reg, err := loadTreeConfig("TWO_PHASE_REGRESSOR", TreeConfig{
		Trees: 375, LearningRate: 0.0641, MaxDepth: 10, MinSamplesLeaf: 28,
		Subsample: 0.818, FeatureFraction: 0.536, Lambda: 0,
	})
	if err != nil {
		return ModelsConfig{}, err
	}

	return ModelsConfig{
		Seed:                 int64(seed),
		Workers:              workers,
		Threshold:            threshold,
		MinTrainingRows:      minRows,
		BaselineZeroFallback: zeroFallback,
		AttributionSample:    sample,
		SingleStage:          single,
		Classifier:           clf,
		TwoPhaseRegressor:    reg,
	}, nil
}

func loadTreeConfig(prefix string, defaults TreeConfig) (TreeConfig, error) {
	cfg := defaults
	var err error
	if cfg.Trees, err = getIntEnv(prefix+"_TREES", defaults.Trees); err != nil {
		return cfg, fmt.Errorf("invalid %s_TREES: %w", prefix, err)
	}
	if cfg.LearningRate, err = getFloatEnv(prefix+"_LEARNING_RATE", defaults.LearningRate); err != nil {
		return cfg, fmt.Errorf("invalid %s_LEARNING_RATE: %w", prefix, err)
	}
	if cfg.MaxDepth, err = getIntEnv(prefix+"_MAX_DEPTH", defaults.MaxDepth); err != nil {
		return cfg, fmt.Errorf("invalid %s_MAX_DEPTH: %w", prefix, err)
	}
	if cfg.MinSamplesLeaf, err = getIntEnv(prefix+"_MIN_SAMPLES_LEAF", defaults.MinSamplesLeaf); err != nil {
		return cfg, fmt.Errorf("invalid %s_MIN_SAMPLES_LEAF: %w", prefix, err)
	}
	if cfg.Subsample, err = getFloatEnv(prefix+"_SUBSAMPLE", defaults.Subsample); err != nil {
		return cfg, fmt.Errorf("invalid %s_SUBSAMPLE: %w", prefix, err)
	}
	if cfg.FeatureFraction, err = getFloatEnv(prefix+"_FEATURE_FRACTION", defaults.FeatureFraction); err != nil {
		return cfg, fmt.Errorf("invalid %s_FEATURE_FRACTION: %w", prefix, err)
	}
	if cfg.Lambda, err = getFloatEnv(prefix+"_LAMBDA", defaults.Lambda); err != nil {
		return cfg, fmt.Errorf("invalid %s_LAMBDA: %w", prefix, err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseBool(value)
}

func getIntListEnv(key string, fallback []int) ([]int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parts := strings.Split(value, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, nil
}

func getLogLevelEnv(key string, fallback slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
