package predictors

import (
	"errors"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const week = 7 * 24 * time.Hour

// History looks up observed departures. *recordstore.Store implements it.
type History interface {
	Departures(stationID string, hour time.Time) (int, bool)
}

// Baseline predicts the departures observed at the same hour one week earlier.
type Baseline struct {
	history      History
	zeroFallback bool
}

// NewBaseline returns a baseline over history. With zeroFallback set, rows
// without a week of history are predicted as 0 instead of failing.
func NewBaseline(history History, zeroFallback bool) *Baseline {
	return &Baseline{history: history, zeroFallback: zeroFallback}
}

func (b *Baseline) Name() string { return models.ModelBaseline }

// Predict fails with *models.InsufficientHistoryError when the hour one
// week earlier is not in the history and no fallback is configured.
func (b *Baseline) Predict(row models.FeatureRow) (float64, error) {
	n, ok := b.history.Departures(row.StationID, row.Hour.Add(-week))
	if !ok {
		if b.zeroFallback {
			return 0, nil
		}
		return 0, &models.InsufficientHistoryError{
			StationID: row.StationID,
			Hour:      row.Hour,
			Feature:   features.LagName(168),
		}
	}
	return float64(n), nil
}

func (b *Baseline) PredictRow(row models.FeatureRow) (float64, error) {
	return b.Predict(row)
}

// IsInsufficientHistory reports whether err is a row-level history miss.
func IsInsufficientHistory(err error) bool {
	return errors.Is(err, models.ErrInsufficientHistory)
}
