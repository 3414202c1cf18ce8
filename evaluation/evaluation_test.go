package evaluation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

func TestEvaluateClassifierAllCorrect(t *testing.T) {
	labels := []bool{true, false, false, true, true, false}
	got, err := EvaluateClassifier(labels, labels)
	require.NoError(t, err)

	for name, c := range map[string]ClassMetrics{"zero": got.Zero, "nonzero": got.NonZero} {
		if c.Precision != 1.0 || c.Recall != 1.0 || c.F1 != 1.0 {
			t.Errorf("%s class: got %+v, want precision = recall = f1 = 1", name, c)
		}
	}
	assert.Equal(t, 1.0, got.Accuracy)
	assert.Equal(t, 3, got.Zero.Support)
	assert.Equal(t, 3, got.NonZero.Support)
	assert.Equal(t, ConfusionMatrix{TrueZero: 3, TrueNonZero: 3}, got.Confusion)
}

func TestEvaluateClassifierCountsBothErrorKinds(t *testing.T) {
	pred := []bool{true, true, false, false, true}
	labels := []bool{true, false, true, false, true}
	got, err := EvaluateClassifier(pred, labels)
	require.NoError(t, err)

	assert.Equal(t, ConfusionMatrix{TrueZero: 1, FalseNonZero: 1, FalseZero: 1, TrueNonZero: 2}, got.Confusion)
	assert.InDelta(t, 2.0/3.0, got.NonZero.Precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, got.NonZero.Recall, 1e-12)
	assert.InDelta(t, 0.5, got.Zero.Precision, 1e-12)
	assert.InDelta(t, 0.5, got.Zero.Recall, 1e-12)
	assert.InDelta(t, 0.6, got.Accuracy, 1e-12)
}

func TestEvaluateClassifierEmptyClass(t *testing.T) {
	got, err := EvaluateClassifier([]bool{false, false}, []bool{false, false})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.NonZero.Precision)
	assert.Equal(t, 0.0, got.NonZero.Recall)
	assert.Equal(t, 1.0, got.Zero.Recall)
}

func TestEvaluateRegressor(t *testing.T) {
	tests := []struct {
		name   string
		pred   []float64
		actual []float64
		want   RegressorReport
	}{
		{
			name:   "perfect",
			pred:   []float64{1, 2, 3},
			actual: []float64{1, 2, 3},
			want:   RegressorReport{MAE: 0, RMSE: 0, R2: 1, Samples: 3},
		},
		{
			name:   "constant offset",
			pred:   []float64{2, 3, 4, 5},
			actual: []float64{1, 2, 3, 4},
			want:   RegressorReport{MAE: 1, RMSE: 1, R2: 1 - 4/5.0, Samples: 4},
		},
		{
			name:   "constant actuals",
			pred:   []float64{0, 1},
			actual: []float64{0, 0},
			want:   RegressorReport{MAE: 0.5, RMSE: math.Sqrt(0.5), R2: 0, Samples: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateRegressor(tt.pred, tt.actual)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.MAE, got.MAE, 1e-12)
			assert.InDelta(t, tt.want.RMSE, got.RMSE, 1e-12)
			assert.InDelta(t, tt.want.R2, got.R2, 1e-12)
			assert.Equal(t, tt.want.Samples, got.Samples)
		})
	}

	_, err := EvaluateRegressor([]float64{1}, nil)
	assert.Error(t, err)
}

func TestSummarizeFolds(t *testing.T) {
	s := SummarizeFolds("lightgbm", []RegressorReport{{MAE: 1, RMSE: 2, R2: 0.5}, {MAE: 3, RMSE: 4, R2: 0.7}})
	assert.Equal(t, 2, s.Folds)
	assert.InDelta(t, 2, s.MAE.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, s.MAE.Std, 1e-12)
	assert.InDelta(t, 0.6, s.R2.Mean, 1e-12)

	one := SummarizeFolds("baseline", []RegressorReport{{MAE: 1}})
	assert.Equal(t, 0.0, one.MAE.Std)
}

type fixedPredictor struct {
	name  string
	value float64
	miss  time.Time
}

func (p fixedPredictor) Name() string { return p.name }

func (p fixedPredictor) PredictRow(row models.FeatureRow) (float64, error) {
	if row.Hour.Equal(p.miss) {
		return 0, &models.InsufficientHistoryError{StationID: row.StationID, Hour: row.Hour, Feature: "lag_168"}
	}
	return p.value, nil
}

type decidingPredictor struct {
	fixedPredictor
}

func (p decidingPredictor) DecideRow(row models.FeatureRow) bool { return row.Departures > 0 }

type failingPredictor struct{}

func (failingPredictor) Name() string { return "broken" }

func (failingPredictor) PredictRow(models.FeatureRow) (float64, error) {
	return 0, errors.New("boom")
}

func completeRow(schema features.Schema, hour time.Time, departures int) models.FeatureRow {
	f := make(map[string]float64)
	for _, name := range schema.Names() {
		f[name] = 1
	}
	return models.FeatureRow{StationID: "001", Hour: hour, Departures: departures, Features: f}
}

func TestCompareUsesSameRowsForEveryModel(t *testing.T) {
	schema := features.NewSchema(features.DefaultPolicy())
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	rows := []models.FeatureRow{
		completeRow(schema, base, 2),
		completeRow(schema, base.Add(time.Hour), 0),
		completeRow(schema, base.Add(2*time.Hour), 4),
		{StationID: "001", Hour: base.Add(3 * time.Hour), Features: map[string]float64{}},
	}

	cmp, err := Compare(rows, schema, []Candidate{
		{Predictor: fixedPredictor{name: "baseline", value: 2, miss: base.Add(time.Hour)}},
		{
			Predictor:    decidingPredictor{fixedPredictor{name: "two_phase", value: 3}},
			TrainingRows: 10,
			Warnings:     []*models.ConvergenceWarning{{Model: "two_phase", Rows: 10, MinRows: 1000}},
		},
	})
	require.NoError(t, err)

	r := cmp.Report
	assert.Equal(t, 4, r.ValidationRows)
	assert.Equal(t, 2, r.ScoredRows)
	assert.Equal(t, 1, r.Exclusions.InsufficientHistory)
	assert.Equal(t, 1, r.Exclusions.PredictorMisses)
	assert.InDelta(t, 0.5, r.Exclusions.Ratio, 1e-12)

	require.Len(t, r.Models, 2)
	for _, m := range r.Models {
		assert.Equal(t, 2, m.Regression.Samples, m.Model)
		assert.Len(t, cmp.Predictions[m.Model], 2)
	}
	assert.Nil(t, r.Models[0].Stage1)
	require.NotNil(t, r.Models[1].Stage1)
	assert.Equal(t, 1.0, r.Models[1].Stage1.NonZero.Recall)
	assert.True(t, r.Models[1].LowSample)
	assert.False(t, r.Models[0].LowSample)
	assert.InDelta(t, 1.0, r.Models[0].Regression.MAE, 1e-12)

	records := r.Records("run-1")
	require.Len(t, records, 2)
	assert.Nil(t, records[0].Accuracy)
	require.NotNil(t, records[1].FalseZero)
	assert.Equal(t, 0, *records[1].FalseZero)
	assert.Equal(t, "run-1", records[1].RunID)
}

func TestCompareStopsOnPredictorFailure(t *testing.T) {
	schema := features.NewSchema(features.DefaultPolicy())
	rows := []models.FeatureRow{completeRow(schema, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), 1)}
	_, err := Compare(rows, schema, []Candidate{{Predictor: failingPredictor{}}})
	assert.Error(t, err)
}

func TestAttributionRanksInformativeFeature(t *testing.T) {
	x := make([][]float64, 200)
	y := make([]float64, 200)
	for i := range x {
		signal := float64(i % 4)
		x[i] = []float64{float64(i%7) * 0.001, signal}
		y[i] = 5 * signal
	}
	model, err := gbt.FitRegressor(context.Background(), x, y, gbt.Params{
		Trees: 30, LearningRate: 0.3, MaxDepth: 3, MinSamplesLeaf: 5, Subsample: 1, FeatureFraction: 1, Seed: 1,
	})
	require.NoError(t, err)

	got := Attribution(model, []string{"noise", "signal"}, x)
	require.Len(t, got, 2)
	assert.Equal(t, "signal", got[0].Feature)
	assert.Greater(t, got[0].MeanAbs, got[1].MeanAbs)
	assert.Nil(t, Attribution(model, nil, nil))
}
