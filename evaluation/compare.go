package evaluation

import (
	"fmt"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/predictors"
)

// Candidate is one fitted model entered into a comparison.
type Candidate struct {
	Predictor    predictors.RowPredictor
	TrainingRows int
	Warnings     []*models.ConvergenceWarning
}

// Decider is implemented by models with a zero/non-zero stage.
type Decider interface {
	DecideRow(row models.FeatureRow) bool
}

type ModelReport struct {
	Model        string            `json:"model"`
	Regression   RegressorReport   `json:"regression"`
	Stage1       *ClassifierReport `json:"stage1,omitempty"`
	TrainingRows int               `json:"training_rows"`
	LowSample    bool              `json:"low_sample"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Exclusions explains why validation rows were not scored.
type Exclusions struct {
	InsufficientHistory int     `json:"insufficient_history"`
	PredictorMisses     int     `json:"predictor_misses"`
	Ratio               float64 `json:"ratio"`
}

type Report struct {
	ValidationRows int           `json:"validation_rows"`
	ScoredRows     int           `json:"scored_rows"`
	Exclusions     Exclusions    `json:"exclusions"`
	Models         []ModelReport `json:"models"`
}

type Comparison struct {
	Report      Report
	Predictions map[string][]models.PredictionResult
	// Scored holds the rows every model was evaluated on, in input order.
	Scored []models.FeatureRow
}

// Compare scores every candidate on the same rows: the validation rows with
// complete history on which no candidate reported insufficient history.
// Errors other than insufficient history abort the comparison.
func Compare(rows []models.FeatureRow, schema features.Schema, candidates []Candidate) (*Comparison, error) {
	report := Report{ValidationRows: len(rows)}

	eligible := make([]models.FeatureRow, 0, len(rows))
	for _, r := range rows {
		if schema.CheckHistory(r) != nil {
			report.Exclusions.InsufficientHistory++
			continue
		}
		eligible = append(eligible, r)
	}

	preds := make([][]float64, len(candidates))
	keep := make([]bool, len(eligible))
	for i := range keep {
		keep[i] = true
	}
	for c, cand := range candidates {
		preds[c] = make([]float64, len(eligible))
		for i, r := range eligible {
			v, err := cand.Predictor.PredictRow(r)
			if err != nil {
				if predictors.IsInsufficientHistory(err) {
					keep[i] = false
					continue
				}
				return nil, fmt.Errorf("compare %s: %w", cand.Predictor.Name(), err)
			}
			preds[c][i] = v
		}
	}

	var scored []models.FeatureRow
	for i, r := range eligible {
		if keep[i] {
			scored = append(scored, r)
		} else {
			report.Exclusions.PredictorMisses++
		}
	}
	report.ScoredRows = len(scored)
	if len(rows) > 0 {
		report.Exclusions.Ratio = float64(len(rows)-len(scored)) / float64(len(rows))
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("compare: no validation rows left to score (%d rows, %d without history)",
			len(rows), report.Exclusions.InsufficientHistory)
	}

	actual := make([]float64, len(scored))
	labels := make([]bool, len(scored))
	for i, r := range scored {
		actual[i] = float64(r.Departures)
		labels[i] = r.Departures > 0
	}

	cmp := &Comparison{Predictions: make(map[string][]models.PredictionResult), Scored: scored}
	for c, cand := range candidates {
		name := cand.Predictor.Name()
		values := make([]float64, 0, len(scored))
		results := make([]models.PredictionResult, 0, len(scored))
		for i, r := range eligible {
			if !keep[i] {
				continue
			}
			values = append(values, preds[c][i])
			results = append(results, models.PredictionResult{
				StationID:           r.StationID,
				Hour:                r.Hour,
				ModelName:           name,
				PredictedDepartures: preds[c][i],
			})
		}

		reg, err := EvaluateRegressor(values, actual)
		if err != nil {
			return nil, fmt.Errorf("compare %s: %w", name, err)
		}
		mr := ModelReport{
			Model:        name,
			Regression:   reg,
			TrainingRows: cand.TrainingRows,
			LowSample:    len(cand.Warnings) > 0,
		}
		for _, w := range cand.Warnings {
			mr.Warnings = append(mr.Warnings, w.Error())
		}

		if d, ok := cand.Predictor.(Decider); ok {
			decisions := make([]bool, len(scored))
			for i, r := range scored {
				decisions[i] = d.DecideRow(r)
			}
			clf, err := EvaluateClassifier(decisions, labels)
			if err != nil {
				return nil, fmt.Errorf("compare %s: %w", name, err)
			}
			mr.Stage1 = &clf
		}

		report.Models = append(report.Models, mr)
		cmp.Predictions[name] = results
	}
	cmp.Report = report
	return cmp, nil
}

// Records flattens the report into per-model metric rows for storage.
func (r Report) Records(runID string) []models.MetricsRecord {
	out := make([]models.MetricsRecord, 0, len(r.Models))
	for _, m := range r.Models {
		rec := models.MetricsRecord{
			RunID:        runID,
			ModelName:    m.Model,
			MAE:          m.Regression.MAE,
			RMSE:         m.Regression.RMSE,
			R2:           m.Regression.R2,
			Samples:      m.Regression.Samples,
			TrainingRows: m.TrainingRows,
			LowSample:    m.LowSample,
		}
		if s := m.Stage1; s != nil {
			acc, f1z, f1nz := s.Accuracy, s.Zero.F1, s.NonZero.F1
			fz, fnz := s.Confusion.FalseZero, s.Confusion.FalseNonZero
			rec.Accuracy = &acc
			rec.F1Zero = &f1z
			rec.F1NonZero = &f1nz
			rec.FalseZero = &fz
			rec.FalseNonZero = &fnz
		}
		out = append(out, rec)
	}
	return out
}
