package predictors

import (
	"context"
	"fmt"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const DefaultThreshold = 0.5

// Classifier estimates P(departures > 0).
type Classifier interface {
	Probability(x []float64) float64
}

// Regressor estimates the departure count of a non-zero hour.
type Regressor interface {
	Predict(x []float64) float64
}

// TwoPhase predicts zero when the classifier says zero and only then skips
// the regressor. Otherwise it returns the clipped regressor output.
type TwoPhase struct {
	Classifier Classifier
	Regressor  Regressor
	Threshold  float64
}

// Decide is the stage-one decision: true means a non-zero hour.
func (p *TwoPhase) Decide(x []float64) bool {
	return p.Classifier.Probability(x) > p.Threshold
}

func (p *TwoPhase) Predict(x []float64) float64 {
	if !p.Decide(x) {
		return 0
	}
	return clip(p.Regressor.Predict(x))
}

// EnsembleClassifier adapts a logistic ensemble to Classifier.
type EnsembleClassifier struct {
	*gbt.Ensemble
}

func (c EnsembleClassifier) Probability(x []float64) float64 {
	return c.Ensemble.Predict(x)
}

// TwoPhaseModel is a fitted TwoPhase with its feature schema and ensembles.
type TwoPhaseModel struct {
	TwoPhase
	Schema         features.Schema
	ClassifierFit  *gbt.Ensemble
	RegressorFit   *gbt.Ensemble
	ClassifierRows int
	RegressorRows  int
	Warnings       []*models.ConvergenceWarning
}

// NewTwoPhaseModel wires already-fitted ensembles, as when loading saved state.
func NewTwoPhaseModel(schema features.Schema, clf, reg *gbt.Ensemble, threshold float64) *TwoPhaseModel {
	return &TwoPhaseModel{
		TwoPhase: TwoPhase{
			Classifier: EnsembleClassifier{clf},
			Regressor:  reg,
			Threshold:  threshold,
		},
		Schema:         schema,
		ClassifierFit:  clf,
		RegressorFit:   reg,
		ClassifierRows: clf.TrainingRows,
		RegressorRows:  reg.TrainingRows,
	}
}

// FitTwoPhase trains the classifier on every trainable row (label
// departures > 0) and the regressor on the non-zero rows only.
func FitTwoPhase(ctx context.Context, rows []models.FeatureRow, schema features.Schema, clfParams, regParams gbt.Params, threshold float64, minRows int) (*TwoPhaseModel, error) {
	train := schema.Trainable(rows)
	if len(train) == 0 {
		return nil, fmt.Errorf("two-phase classifier: %w", ErrNoTrainingRows)
	}

	x := schema.Matrix(train, features.FillNone)
	labels := make([]bool, len(train))
	var nzX [][]float64
	var nzY []float64
	for i, r := range train {
		labels[i] = r.Departures > 0
		if labels[i] {
			nzX = append(nzX, x[i])
			nzY = append(nzY, float64(r.Departures))
		}
	}
	if len(nzY) == 0 {
		return nil, fmt.Errorf("two-phase regressor: %w: every training hour has zero departures", ErrNoTrainingRows)
	}

	clf, err := gbt.FitClassifier(ctx, x, labels, clfParams)
	if err != nil {
		return nil, fmt.Errorf("two-phase classifier: %w", err)
	}
	reg, err := gbt.FitRegressor(ctx, nzX, nzY, regParams)
	if err != nil {
		return nil, fmt.Errorf("two-phase regressor: %w", err)
	}

	m := NewTwoPhaseModel(schema, clf, reg, threshold)
	if w := convergenceWarning(models.ModelTwoPhase+"/classifier", len(train), minRows); w != nil {
		m.Warnings = append(m.Warnings, w)
	}
	if w := convergenceWarning(models.ModelTwoPhase+"/regressor", len(nzY), minRows); w != nil {
		m.Warnings = append(m.Warnings, w)
	}
	return m, nil
}

func (m *TwoPhaseModel) Name() string { return models.ModelTwoPhase }

func (m *TwoPhaseModel) PredictRow(row models.FeatureRow) (float64, error) {
	return m.Predict(m.Schema.Vector(row, features.FillZero)), nil
}

// DecideRow exposes the stage-one decision for classifier evaluation.
func (m *TwoPhaseModel) DecideRow(row models.FeatureRow) bool {
	return m.Decide(m.Schema.Vector(row, features.FillZero))
}
