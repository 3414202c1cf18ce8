package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/evaluation"
	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/predictors"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func fitTiny(t *testing.T, schema features.Schema, positive bool) *gbt.Ensemble {
	t.Helper()
	n := schema.Len()
	x := make([][]float64, 20)
	for i := range x {
		x[i] = make([]float64, n)
		x[i][0] = float64(i)
	}
	params := gbt.Params{Trees: 5, LearningRate: 0.3, MaxDepth: 2, MinSamplesLeaf: 2, Subsample: 1, FeatureFraction: 1, Seed: 1}
	if positive {
		labels := make([]bool, len(x))
		for i := range labels {
			labels[i] = i >= 10
		}
		e, err := gbt.FitClassifier(context.Background(), x, labels, params)
		require.NoError(t, err)
		return e
	}
	y := make([]float64, len(x))
	for i := range y {
		y[i] = float64(i % 5)
	}
	e, err := gbt.FitRegressor(context.Background(), x, y, params)
	require.NoError(t, err)
	return e
}

func TestModelStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	policy := features.DefaultPolicy()
	schema := features.NewSchema(policy)

	single := &predictors.SingleStage{Schema: schema, Model: fitTiny(t, schema, false)}
	two := predictors.NewTwoPhaseModel(schema, fitTiny(t, schema, true), fitTiny(t, schema, false), 0.4)

	singlePath, err := SaveModelState(dir, SingleStageState("run-1", policy, single))
	require.NoError(t, err)
	twoPath, err := SaveModelState(dir, TwoPhaseState("run-1", policy, two))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_lightgbm.gob.gz"), singlePath)

	_, err = os.Stat(singlePath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	state, err := LoadModelState(singlePath)
	require.NoError(t, err)
	loadedSingle, err := state.SingleStage()
	require.NoError(t, err)
	_, err = state.TwoPhase()
	assert.Error(t, err)

	state, err = LoadModelState(twoPath)
	require.NoError(t, err)
	loadedTwo, err := state.TwoPhase()
	require.NoError(t, err)
	assert.Equal(t, 0.4, loadedTwo.Threshold)

	x := make([]float64, schema.Len())
	for _, v := range []float64{0, 4, 12, 19} {
		x[0] = v
		assert.Equal(t, single.Predict(x), loadedSingle.Predict(x))
		assert.Equal(t, two.Predict(x), loadedTwo.Predict(x))
	}
}

func TestModelStateRejectsSchemaDrift(t *testing.T) {
	policy := features.DefaultPolicy()
	schema := features.NewSchema(policy)
	state := SingleStageState("run-1", policy, &predictors.SingleStage{Schema: schema, Model: fitTiny(t, schema, false)})
	state.Policy.Lags = append(state.Policy.Lags, 48)

	_, err := state.SingleStage()
	assert.Error(t, err)
}

func TestLoadModelStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_lightgbm.gob.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o644))
	_, err := LoadModelState(path)
	assert.Error(t, err)
}

func TestWritePredictionTables(t *testing.T) {
	dir := t.TempDir()
	hour := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	preds := map[string][]models.PredictionResult{
		models.ModelBaseline: {
			{StationID: "001", Hour: hour, ModelName: models.ModelBaseline, PredictedDepartures: 10},
			{StationID: "001", Hour: hour.Add(time.Hour), ModelName: models.ModelBaseline, PredictedDepartures: 0},
		},
		models.ModelTwoPhase: {
			{StationID: "001", Hour: hour, ModelName: models.ModelTwoPhase, PredictedDepartures: 9.5},
		},
	}

	paths, err := WritePredictionTables(dir, preds)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "predictions_baseline.csv"), paths[0])

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	df := dataframe.ReadCSV(f)
	require.NoError(t, df.Err)
	assert.Equal(t, []string{"station_id", "hour_timestamp", "predicted_departures", "model_name"}, df.Names())
	assert.Equal(t, 2, df.Nrow())
	assert.Equal(t, "2024-06-03T08:00:00Z", df.Col("hour_timestamp").Records()[0])
	assert.Equal(t, 10.0, df.Col("predicted_departures").Float()[0])
}

func TestWriteReadReport(t *testing.T) {
	dir := t.TempDir()
	report := RunReport{
		Run: models.ForecastRun{RunID: "run-1", ScoredRows: 168},
		Features: features.ExclusionSummary{
			TotalRows: 336, ExcludedRows: 168,
			ByReason: map[string]int{features.ReasonInsufficientHistory: 168},
		},
		Comparison: evaluation.Report{
			ScoredRows: 168,
			Models: []evaluation.ModelReport{
				{Model: models.ModelBaseline, Regression: evaluation.RegressorReport{MAE: 0.5, RMSE: 1, R2: 0.9, Samples: 168}},
			},
		},
	}
	path, err := WriteReport(dir, report)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"mae": 0.5`))

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.Run.RunID, got.Run.RunID)
	assert.Equal(t, 168, got.Features.ByReason[features.ReasonInsufficientHistory])
	assert.Equal(t, report.Comparison.Models, got.Comparison.Models)
}

type fakeSink struct {
	name      string
	runErr    error
	predErr   error
	runCalls  int
	predCalls int
	rows      int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) WriteRun(context.Context, RunReport) error {
	f.runCalls++
	return f.runErr
}

func (f *fakeSink) WritePredictions(_ context.Context, _ string, preds []models.PredictionResult) (int, error) {
	f.predCalls++
	if f.predErr != nil {
		return 0, f.predErr
	}
	f.rows += len(preds)
	return len(preds), nil
}

func manyPredictions(n int) map[string][]models.PredictionResult {
	preds := make([]models.PredictionResult, n)
	for i := range preds {
		preds[i] = models.PredictionResult{StationID: "001", ModelName: models.ModelSingleStage}
	}
	return map[string][]models.PredictionResult{models.ModelSingleStage: preds}
}

func TestExporterWritesBatches(t *testing.T) {
	metrics := NewMetrics()
	ok := &fakeSink{name: "ok"}
	e := NewExporter(metrics, testLogger, ok)
	e.BatchSize = 10

	err := e.Export(context.Background(), RunReport{Run: models.ForecastRun{RunID: "r"}}, manyPredictions(25))
	require.NoError(t, err)
	assert.Equal(t, 1, ok.runCalls)
	assert.Equal(t, 3, ok.predCalls)
	assert.Equal(t, 25, ok.rows)
	assert.Equal(t, 25.0, testutil.ToFloat64(metrics.sinkWrites.WithLabelValues("ok")))
}

func TestExporterCircuitOpensOnRepeatedFailures(t *testing.T) {
	metrics := NewMetrics()
	broken := &fakeSink{name: "broken", predErr: errors.New("connection refused")}
	healthy := &fakeSink{name: "healthy"}
	e := NewExporter(metrics, testLogger, broken, healthy)
	e.BatchSize = 1

	err := e.Export(context.Background(), RunReport{Run: models.ForecastRun{RunID: "r"}}, manyPredictions(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// WriteRun succeeded, then three batch failures tripped the breaker.
	assert.Equal(t, 3, broken.predCalls)
	assert.Equal(t, 10, healthy.rows)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.sinkFailures.WithLabelValues("broken")))
}

func TestExporterSkipsPredictionsWhenRunFails(t *testing.T) {
	sink := &fakeSink{name: "db", runErr: errors.New("tx aborted")}
	e := NewExporter(nil, testLogger, sink)

	err := e.Export(context.Background(), RunReport{}, manyPredictions(5))
	require.Error(t, err)
	assert.Equal(t, 0, sink.predCalls)
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	m.RowsLoaded("trips", 100)
	m.RowsLoaded("trips", 50)
	m.RowsExcluded(features.ReasonInsufficientHistory, 7)
	m.StageCompleted("load", 20*time.Millisecond)
	m.ModelScored(models.ModelBaseline, evaluation.RegressorReport{MAE: 1.5, RMSE: 2, R2: 0.3})

	assert.Equal(t, 150.0, testutil.ToFloat64(m.rowsLoaded.WithLabelValues("trips")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rowsExcluded.WithLabelValues(features.ReasonInsufficientHistory)))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.modelError.WithLabelValues(models.ModelBaseline, "mae")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))

	assert.NoError(t, m.Push(context.Background(), configWithoutGateway(), "run"))
}

func TestCacheServiceUnavailable(t *testing.T) {
	var s CacheService
	var dest map[string]any
	assert.ErrorIs(t, s.Get(context.Background(), "k", &dest), ErrCacheMiss)
	assert.NoError(t, s.Set(context.Background(), "k", 1, time.Second))
	assert.NoError(t, s.Publish(context.Background(), MetricsChannel, "x"))
	assert.Error(t, s.WriteRun(context.Background(), RunReport{}))
	assert.False(t, s.Available())
}

func configWithoutGateway() config.MetricsConfig {
	return config.MetricsConfig{Job: "citybike_forecast"}
}
