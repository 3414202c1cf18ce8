package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "citybike",
		Password: "secret",
		Name:     "citybike",
		SSLMode:  "disable",
	}
	dsn := db.GetDSN()

	expected := "host=localhost port=5432 user=citybike password=secret dbname=citybike sslmode=disable"
	if dsn != expected {
		t.Errorf("GetDSN() = %q, want %q", dsn, expected)
	}
}

func TestGetDSNCustomValues(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5433,
		User:     "admin",
		Password: "p@ss",
		Name:     "mydb",
		SSLMode:  "require",
	}
	dsn := db.GetDSN()

	if !strings.Contains(dsn, "host=db.example.com") {
		t.Errorf("DSN missing host, got: %s", dsn)
	}
	if !strings.Contains(dsn, "port=5433") {
		t.Errorf("DSN missing port, got: %s", dsn)
	}
	if !strings.Contains(dsn, "sslmode=require") {
		t.Errorf("DSN missing sslmode, got: %s", dsn)
	}
}

func TestGetEnv(t *testing.T) {
	os.Unsetenv("TEST_CONFIG_VAR")
	if got := getEnv("TEST_CONFIG_VAR", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q", got, "default")
	}

	t.Setenv("TEST_CONFIG_VAR", "custom")
	if got := getEnv("TEST_CONFIG_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %q, want %q", got, "custom")
	}
}

func TestGetIntEnv(t *testing.T) {
	t.Run("fallback when unset", func(t *testing.T) {
		os.Unsetenv("TEST_INT_VAR")
		got, err := getIntEnv("TEST_INT_VAR", 8080)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 8080 {
			t.Errorf("getIntEnv() = %d, want %d", got, 8080)
		}
	})

	t.Run("parses valid int", func(t *testing.T) {
		t.Setenv("TEST_INT_VAR", "9090")
		got, err := getIntEnv("TEST_INT_VAR", 8080)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 9090 {
			t.Errorf("getIntEnv() = %d, want %d", got, 9090)
		}
	})

	t.Run("error on invalid int", func(t *testing.T) {
		t.Setenv("TEST_INT_VAR", "not_int")
		_, err := getIntEnv("TEST_INT_VAR", 8080)
		if err == nil {
			t.Error("expected error for invalid int value")
		}
	})
}

func TestGetIntListEnv(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    []int
		wantErr bool
	}{
		{"unset uses fallback", "", []int{1, 2}, false},
		{"single value", "24", []int{24}, false},
		{"spaces and empty parts", " 1, 2 ,,168 ", []int{1, 2, 168}, false},
		{"invalid entry", "1,x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST_VAR", tt.value)
			got, err := getIntListEnv("TEST_LIST_VAR", []int{1, 2})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestGetLogLevelEnv(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_LOG_LEVEL", tt.value)
			if got := getLogLevelEnv("TEST_LOG_LEVEL", slog.LevelInfo); got != tt.want {
				t.Errorf("getLogLevelEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "DB_HOST", "DB_PORT", "DB_ENABLED", "REDIS_PORT", "REDIS_DB", "REDIS_ENABLED",
		"TOP_STATIONS", "FEATURE_LAGS", "ROLLING_WINDOWS", "SAME_HOUR_DAYS", "SAME_HOUR_WEEKS",
		"WEATHER_LAG_HOURS", "SPLIT_AT", "VALIDATION_HOURS", "CV_FOLDS", "MODEL_SEED",
		"TWO_PHASE_THRESHOLD", "MIN_TRAINING_ROWS", "REGRESSOR_TREES", "REGRESSOR_LEARNING_RATE",
		"OUTPUT_DIR", "CORS_ALLOWED_ORIGINS",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.Enabled {
		t.Error("Database.Enabled should default to false")
	}
	if cfg.Data.TopStations != 100 {
		t.Errorf("Data.TopStations = %d, want 100", cfg.Data.TopStations)
	}
	if len(cfg.Features.Lags) != 6 || cfg.Features.Lags[5] != 168 {
		t.Errorf("Features.Lags = %v, want default lag set ending in 168", cfg.Features.Lags)
	}
	if cfg.Models.Threshold != 0.5 {
		t.Errorf("Models.Threshold = %v, want 0.5", cfg.Models.Threshold)
	}
	if cfg.Models.SingleStage.Trees != 350 {
		t.Errorf("SingleStage.Trees = %d, want 350", cfg.Models.SingleStage.Trees)
	}
	if cfg.Models.Classifier.MaxDepth != 8 {
		t.Errorf("Classifier.MaxDepth = %d, want 8", cfg.Models.Classifier.MaxDepth)
	}
	if !cfg.Split.Boundary.IsZero() {
		t.Errorf("Split.Boundary = %v, want zero", cfg.Split.Boundary)
	}
	if cfg.CORS.AllowedOrigins != "*" {
		t.Errorf("CORS.AllowedOrigins = %q, want %q", cfg.CORS.AllowedOrigins, "*")
	}
}

func TestLoadConfigCustom(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("FEATURE_LAGS", "1,2,24,168")
	t.Setenv("SPLIT_AT", "2024-04-01T00:00:00Z")
	t.Setenv("REGRESSOR_TREES", "50")
	t.Setenv("TWO_PHASE_THRESHOLD", "0.4")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if !cfg.Database.Enabled {
		t.Error("Database.Enabled = false, want true")
	}
	if len(cfg.Features.Lags) != 4 {
		t.Errorf("Features.Lags = %v, want 4 lags", cfg.Features.Lags)
	}
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if !cfg.Split.Boundary.Equal(want) {
		t.Errorf("Split.Boundary = %v, want %v", cfg.Split.Boundary, want)
	}
	if cfg.Models.SingleStage.Trees != 50 {
		t.Errorf("SingleStage.Trees = %d, want 50", cfg.Models.SingleStage.Trees)
	}
	if cfg.Models.Threshold != 0.4 {
		t.Errorf("Threshold = %v, want 0.4", cfg.Models.Threshold)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SERVER_PORT", "invalid"},
		{"SPLIT_AT", "yesterday"},
		{"TWO_PHASE_THRESHOLD", "1.5"},
		{"FEATURE_LAGS", "1,-2"},
		{"REGRESSOR_LEARNING_RATE", "fast"},
		{"DB_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
