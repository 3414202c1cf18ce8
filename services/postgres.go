package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS forecast_runs (
	run_id          TEXT PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL,
	train_from      TIMESTAMPTZ NOT NULL,
	train_to        TIMESTAMPTZ NOT NULL,
	valid_from      TIMESTAMPTZ NOT NULL,
	valid_to        TIMESTAMPTZ NOT NULL,
	stations        INTEGER NOT NULL,
	feature_rows    INTEGER NOT NULL,
	excluded_rows   INTEGER NOT NULL,
	excluded_ratio  DOUBLE PRECISION NOT NULL,
	scored_rows     INTEGER NOT NULL,
	baseline_misses INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS model_metrics (
	run_id        TEXT NOT NULL REFERENCES forecast_runs(run_id) ON DELETE CASCADE,
	model_name    TEXT NOT NULL,
	mae           DOUBLE PRECISION NOT NULL,
	rmse          DOUBLE PRECISION NOT NULL,
	r2            DOUBLE PRECISION NOT NULL,
	samples       INTEGER NOT NULL,
	training_rows INTEGER NOT NULL,
	low_sample    BOOLEAN NOT NULL,
	accuracy      DOUBLE PRECISION,
	f1_zero       DOUBLE PRECISION,
	f1_nonzero    DOUBLE PRECISION,
	false_zero    INTEGER,
	false_nonzero INTEGER,
	PRIMARY KEY (run_id, model_name)
);
CREATE TABLE IF NOT EXISTS predictions (
	run_id               TEXT NOT NULL REFERENCES forecast_runs(run_id) ON DELETE CASCADE,
	station_id           TEXT NOT NULL,
	hour_ts              TIMESTAMPTZ NOT NULL,
	model_name           TEXT NOT NULL,
	predicted_departures DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, station_id, hour_ts, model_name)
);
CREATE INDEX IF NOT EXISTS predictions_run_hour_idx ON predictions (run_id, hour_ts DESC);
`

// PostgresStore persists runs, metrics and prediction tables.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	logger = logger.With("component", "postgres")
	logger.Info("db connected", "host", cfg.Host, "db", cfg.Name)
	return &PostgresStore{pool: pool, log: logger}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// WriteRun upserts the run row and its per-model metrics in one transaction.
func (s *PostgresStore) WriteRun(ctx context.Context, report RunReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r := report.Run
	_, err = tx.Exec(ctx, `
		INSERT INTO forecast_runs (run_id, created_at, train_from, train_to, valid_from, valid_to,
			stations, feature_rows, excluded_rows, excluded_ratio, scored_rows, baseline_misses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE SET
			scored_rows = EXCLUDED.scored_rows,
			excluded_rows = EXCLUDED.excluded_rows,
			excluded_ratio = EXCLUDED.excluded_ratio,
			baseline_misses = EXCLUDED.baseline_misses
	`, r.RunID, r.CreatedAt, r.TrainFrom, r.TrainTo, r.ValidFrom, r.ValidTo,
		r.Stations, r.FeatureRows, r.ExcludedRows, r.ExcludedRatio, r.ScoredRows, r.BaselineMisses)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	for _, m := range report.Comparison.Records(r.RunID) {
		_, err := tx.Exec(ctx, `
			INSERT INTO model_metrics (run_id, model_name, mae, rmse, r2, samples, training_rows, low_sample,
				accuracy, f1_zero, f1_nonzero, false_zero, false_nonzero)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (run_id, model_name) DO UPDATE SET
				mae = EXCLUDED.mae,
				rmse = EXCLUDED.rmse,
				r2 = EXCLUDED.r2,
				samples = EXCLUDED.samples,
				training_rows = EXCLUDED.training_rows,
				low_sample = EXCLUDED.low_sample,
				accuracy = EXCLUDED.accuracy,
				f1_zero = EXCLUDED.f1_zero,
				f1_nonzero = EXCLUDED.f1_nonzero,
				false_zero = EXCLUDED.false_zero,
				false_nonzero = EXCLUDED.false_nonzero
		`, m.RunID, m.ModelName, m.MAE, m.RMSE, m.R2, m.Samples, m.TrainingRows, m.LowSample,
			m.Accuracy, m.F1Zero, m.F1NonZero, m.FalseZero, m.FalseNonZero)
		if err != nil {
			return fmt.Errorf("insert metrics %s/%s: %w", m.RunID, m.ModelName, err)
		}
	}
	return tx.Commit(ctx)
}

// WritePredictions bulk-loads one batch of a run's predictions with COPY.
func (s *PostgresStore) WritePredictions(ctx context.Context, runID string, preds []models.PredictionResult) (int, error) {
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"predictions"},
		[]string{"run_id", "station_id", "hour_ts", "model_name", "predicted_departures"},
		pgx.CopyFromSlice(len(preds), func(i int) ([]any, error) {
			p := preds[i]
			return []any{runID, p.StationID, p.Hour, p.ModelName, p.PredictedDepartures}, nil
		}),
	)
	if err != nil {
		return int(n), fmt.Errorf("copy predictions: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
