package evaluation

import "gonum.org/v1/gonum/stat"

type MeanStd struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// CVSummary aggregates one model's fold scores.
// Skipped counts folds too short to fit on.
type CVSummary struct {
	Model   string  `json:"model"`
	Folds   int     `json:"folds"`
	Skipped int     `json:"skipped_folds,omitempty"`
	MAE     MeanStd `json:"mae"`
	RMSE    MeanStd `json:"rmse"`
	R2      MeanStd `json:"r2"`
}

func SummarizeFolds(model string, folds []RegressorReport) CVSummary {
	s := CVSummary{Model: model, Folds: len(folds)}
	if len(folds) == 0 {
		return s
	}
	mae := make([]float64, len(folds))
	rmse := make([]float64, len(folds))
	r2 := make([]float64, len(folds))
	for i, f := range folds {
		mae[i], rmse[i], r2[i] = f.MAE, f.RMSE, f.R2
	}
	s.MAE = meanStd(mae)
	s.RMSE = meanStd(rmse)
	s.R2 = meanStd(r2)
	return s
}

func meanStd(x []float64) MeanStd {
	if len(x) == 1 {
		return MeanStd{Mean: x[0]}
	}
	m, sd := stat.MeanStdDev(x, nil)
	return MeanStd{Mean: m, Std: sd}
}
