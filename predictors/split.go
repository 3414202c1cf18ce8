package predictors

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var (
	ErrEmptySplit  = errors.New("split has an empty side")
	ErrTooFewHours = errors.New("too few distinct hours")
)

// SplitByTime puts rows before boundary in train and the rest in valid,
// preserving input order. Rows are never shuffled across the boundary.
func SplitByTime(rows []models.FeatureRow, boundary time.Time) (train, valid []models.FeatureRow) {
	for _, r := range rows {
		if r.Hour.Before(boundary) {
			train = append(train, r)
		} else {
			valid = append(valid, r)
		}
	}
	return train, valid
}

// CheckSplit fails with *models.LeakageRiskError unless every training hour
// is strictly before every validation hour. Call it before fitting.
func CheckSplit(train, valid []models.FeatureRow) error {
	if len(train) == 0 || len(valid) == 0 {
		return fmt.Errorf("%w: %d training rows, %d validation rows", ErrEmptySplit, len(train), len(valid))
	}
	trainMax := train[0].Hour
	for _, r := range train[1:] {
		if r.Hour.After(trainMax) {
			trainMax = r.Hour
		}
	}
	validMin := valid[0].Hour
	for _, r := range valid[1:] {
		if r.Hour.Before(validMin) {
			validMin = r.Hour
		}
	}
	if !trainMax.Before(validMin) {
		return &models.LeakageRiskError{TrainMax: trainMax, ValidMin: validMin}
	}
	return nil
}

// DefaultBoundary returns the first hour of a validation window covering the
// last validationHours hours ending at last.
func DefaultBoundary(last time.Time, validationHours int) time.Time {
	return last.Add(time.Hour).Add(-time.Duration(validationHours) * time.Hour)
}

type Fold struct {
	Train []models.FeatureRow
	Valid []models.FeatureRow
}

// TimeSeriesFolds splits rows into k expanding-window folds over their
// distinct hours. Fold i trains on the first i+1 blocks and validates on the
// next one, so all rows of one hour stay on the same side.
func TimeSeriesFolds(rows []models.FeatureRow, k int) ([]Fold, error) {
	if k < 1 {
		return nil, fmt.Errorf("folds: k must be at least 1, got %d", k)
	}

	hourSet := make(map[int64]struct{})
	for _, r := range rows {
		hourSet[r.Hour.Unix()] = struct{}{}
	}
	hours := make([]int64, 0, len(hourSet))
	for h := range hourSet {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i] < hours[j] })

	block := len(hours) / (k + 1)
	if block == 0 {
		return nil, fmt.Errorf("folds: %w: %d cannot make %d folds", ErrTooFewHours, len(hours), k)
	}

	// Leading remainder hours always belong to training.
	offset := len(hours) - block*(k+1)
	folds := make([]Fold, k)
	for i := range folds {
		trainEnd := time.Unix(hours[offset+(i+1)*block], 0)
		validEnd := time.Unix(hours[offset+(i+2)*block-1], 0)
		for _, r := range rows {
			switch {
			case r.Hour.Before(trainEnd):
				folds[i].Train = append(folds[i].Train, r)
			case !r.Hour.After(validEnd):
				folds[i].Valid = append(folds[i].Valid, r)
			}
		}
	}
	return folds, nil
}
