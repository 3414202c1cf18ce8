// Package evaluation scores predictors on a held-out window and builds the
// comparison report.
package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ConfusionMatrix counts stage-one decisions. FalseZero hours had demand
// the two-phase model truncated to 0; FalseNonZero hours were sent to the
// regressor although nothing departed.
type ConfusionMatrix struct {
	TrueZero     int `json:"true_zero"`
	FalseNonZero int `json:"false_nonzero"`
	FalseZero    int `json:"false_zero"`
	TrueNonZero  int `json:"true_nonzero"`
}

type ClassifierReport struct {
	Zero      ClassMetrics    `json:"zero"`
	NonZero   ClassMetrics    `json:"nonzero"`
	Accuracy  float64         `json:"accuracy"`
	Confusion ConfusionMatrix `json:"confusion"`
	Samples   int             `json:"samples"`
}

type RegressorReport struct {
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	R2      float64 `json:"r2"`
	Samples int     `json:"samples"`
}

// EvaluateClassifier scores non-zero decisions against labels (true means
// departures > 0). A ratio with an empty denominator is reported as 0.
func EvaluateClassifier(pred, labels []bool) (ClassifierReport, error) {
	if len(pred) != len(labels) {
		return ClassifierReport{}, fmt.Errorf("evaluate classifier: %d predictions for %d labels", len(pred), len(labels))
	}
	if len(pred) == 0 {
		return ClassifierReport{}, fmt.Errorf("evaluate classifier: no samples")
	}

	var cm ConfusionMatrix
	for i, p := range pred {
		switch {
		case p && labels[i]:
			cm.TrueNonZero++
		case p && !labels[i]:
			cm.FalseNonZero++
		case !p && labels[i]:
			cm.FalseZero++
		default:
			cm.TrueZero++
		}
	}

	return ClassifierReport{
		Zero:      classMetrics(cm.TrueZero, cm.FalseZero, cm.FalseNonZero),
		NonZero:   classMetrics(cm.TrueNonZero, cm.FalseNonZero, cm.FalseZero),
		Accuracy:  ratio(cm.TrueZero+cm.TrueNonZero, len(pred)),
		Confusion: cm,
		Samples:   len(pred),
	}, nil
}

// classMetrics computes one class's scores from its true positives, the
// other class's rows predicted as it, and its rows predicted as the other.
func classMetrics(tp, fp, fn int) ClassMetrics {
	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return ClassMetrics{Precision: precision, Recall: recall, F1: f1, Support: tp + fn}
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// EvaluateRegressor computes MAE, RMSE and R². When the actual values are
// constant R² is 1 for a perfect fit and 0 otherwise.
func EvaluateRegressor(pred, actual []float64) (RegressorReport, error) {
	if len(pred) != len(actual) {
		return RegressorReport{}, fmt.Errorf("evaluate regressor: %d predictions for %d actuals", len(pred), len(actual))
	}
	if len(pred) == 0 {
		return RegressorReport{}, fmt.Errorf("evaluate regressor: no samples")
	}

	n := float64(len(pred))
	mae := floats.Distance(pred, actual, 1) / n
	rmse := floats.Distance(pred, actual, 2) / math.Sqrt(n)

	var r2 float64
	if stat.Variance(actual, nil) > 0 {
		r2 = stat.RSquaredFrom(pred, actual, nil)
	} else if mae == 0 {
		r2 = 1
	}
	return RegressorReport{MAE: mae, RMSE: rmse, R2: r2, Samples: len(pred)}, nil
}
