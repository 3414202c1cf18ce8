package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/pipeline"
	"github.com/kainulj/helsinki-citybike-analysis/recordstore"
	"github.com/kainulj/helsinki-citybike-analysis/services"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("forecast run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	in, err := loadInputs(cfg.Data)
	if err != nil {
		return err
	}
	logger.Info("inputs read",
		"trips", len(in.Trips), "weather", len(in.Weather), "stations", len(in.Stations))

	metrics := services.NewMetrics()
	res, err := pipeline.Run(ctx, cfg, in, pipeline.Options{Logger: logger, Observer: metrics})
	if err != nil {
		return err
	}

	report := services.NewRunReport(res)
	outDir := filepath.Join(cfg.Output.Dir, res.Run.RunID)
	if err := writeArtifacts(outDir, res, report, logger); err != nil {
		return err
	}

	// Sinks are best effort; the files on disk are the run's record.
	if err := export(ctx, cfg, metrics, report, res.Comparison.Predictions, logger); err != nil {
		logger.Warn("export incomplete", "error", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := metrics.Push(pushCtx, cfg.Metrics, res.Run.RunID); err != nil {
		logger.Warn("metrics push failed", "gateway", cfg.Metrics.PushgatewayURL, "error", err)
	}

	for _, m := range report.Comparison.Models {
		logger.Info("model result",
			"model", m.Model,
			"mae", m.Regression.MAE,
			"rmse", m.Regression.RMSE,
			"r2", m.Regression.R2,
			"low_sample", m.LowSample,
		)
	}
	logger.Info("forecast run complete", "run_id", res.Run.RunID, "output", outDir)
	return nil
}

func loadInputs(cfg config.DataConfig) (pipeline.Inputs, error) {
	var in pipeline.Inputs
	var err error
	if in.Trips, err = readFile(cfg.TripsPath, recordstore.ReadTrips); err != nil {
		return in, err
	}
	if in.Weather, err = readFile(cfg.WeatherPath, recordstore.ReadWeather); err != nil {
		return in, err
	}
	if in.Stations, err = readFile(cfg.StationsPath, recordstore.ReadStations); err != nil {
		return in, err
	}
	return in, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

func writeArtifacts(dir string, res *pipeline.Result, report services.RunReport, logger *slog.Logger) error {
	paths, err := services.WritePredictionTables(dir, res.Comparison.Predictions)
	if err != nil {
		return err
	}
	reportPath, err := services.WriteReport(dir, report)
	if err != nil {
		return err
	}
	paths = append(paths, reportPath)

	states := []*services.ModelState{
		services.SingleStageState(res.Run.RunID, res.Policy, res.SingleStage),
		services.TwoPhaseState(res.Run.RunID, res.Policy, res.TwoPhase),
	}
	for _, s := range states {
		path, err := services.SaveModelState(dir, s)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}

	logger.Info("artifacts written", "dir", dir, "files", len(paths))
	return nil
}

func export(ctx context.Context, cfg *config.Config, metrics *services.Metrics, report services.RunReport, predictions map[string][]models.PredictionResult, logger *slog.Logger) error {
	var sinks []services.Sink

	if cfg.Database.Enabled {
		store, err := services.NewPostgresStore(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		sinks = append(sinks, store)
	}

	if cfg.Redis.Enabled {
		cache, err := services.NewCacheService(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, skipping metrics publish", "error", err)
		} else {
			defer cache.Close()
			sinks = append(sinks, cache)
		}
	}

	if len(sinks) == 0 {
		return nil
	}
	return services.NewExporter(metrics, logger, sinks...).Export(ctx, report, predictions)
}
