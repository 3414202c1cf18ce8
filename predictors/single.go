package predictors

import (
	"context"
	"errors"
	"fmt"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var ErrNoTrainingRows = errors.New("no trainable rows")

// RowPredictor is what the evaluator scores: one estimate per feature row.
type RowPredictor interface {
	Name() string
	PredictRow(row models.FeatureRow) (float64, error)
}

// SingleStage regresses departures directly with one boosted ensemble.
type SingleStage struct {
	Schema  features.Schema
	Model   *gbt.Ensemble
	Warning *models.ConvergenceWarning
}

// FitSingleStage trains on the rows with complete history. A non-nil
// Warning on the result flags a training set smaller than minRows.
func FitSingleStage(ctx context.Context, rows []models.FeatureRow, schema features.Schema, params gbt.Params, minRows int) (*SingleStage, error) {
	train := schema.Trainable(rows)
	if len(train) == 0 {
		return nil, fmt.Errorf("single-stage: %w", ErrNoTrainingRows)
	}

	x := schema.Matrix(train, features.FillNone)
	y := make([]float64, len(train))
	for i, r := range train {
		y[i] = float64(r.Departures)
	}

	model, err := gbt.FitRegressor(ctx, x, y, params)
	if err != nil {
		return nil, fmt.Errorf("single-stage: %w", err)
	}
	return &SingleStage{
		Schema:  schema,
		Model:   model,
		Warning: convergenceWarning(models.ModelSingleStage, len(train), minRows),
	}, nil
}

func (s *SingleStage) Name() string { return models.ModelSingleStage }

// Predict never returns a negative count.
func (s *SingleStage) Predict(x []float64) float64 {
	return clip(s.Model.Predict(x))
}

// PredictRow applies the zero-imputation inference fallback.
func (s *SingleStage) PredictRow(row models.FeatureRow) (float64, error) {
	return s.Predict(s.Schema.Vector(row, features.FillZero)), nil
}

func convergenceWarning(model string, rows, minRows int) *models.ConvergenceWarning {
	if rows >= minRows {
		return nil
	}
	return &models.ConvergenceWarning{Model: model, Rows: rows, MinRows: minRows}
}

func clip(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	return v
}
