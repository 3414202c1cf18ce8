package features

import (
	"fmt"
	"math"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const (
	FeatureSameHourOfWeekMean = "same_hour_of_week_mean"

	FeatureHourOfDay = "hour_of_day"
	FeatureDayOfWeek = "day_of_week"
	FeatureIsWeekend = "is_weekend"
	FeatureMonth     = "month"
	FeatureYear      = "year"

	FeatureTemperature   = "temperature"
	FeaturePrecipitation = "precipitation"
	FeatureWindSpeed     = "wind_speed"
	FeatureRain          = "rain"

	FeatureStationCode = "station_code"
	FeatureLatitude    = "latitude"
	FeatureLongitude   = "longitude"
	FeatureMaxCapacity = "max_capacity"
)

func LagName(k int) string          { return fmt.Sprintf("lag_%d", k) }
func RollMeanName(w int) string     { return fmt.Sprintf("roll_mean_%d", w) }
func RollStdName(w int) string      { return fmt.Sprintf("roll_std_%d", w) }
func SameHourMeanName(d int) string { return fmt.Sprintf("same_hour_mean_%dd", d) }
func SameHourStdName(d int) string  { return fmt.Sprintf("same_hour_std_%dd", d) }

// FillPolicy decides what Vector writes for a missing history feature.
type FillPolicy int

const (
	// FillNone keeps NaN so the caller can see what is missing.
	FillNone FillPolicy = iota
	// FillZero imputes 0 for missing history features. Weather and station
	// NaNs are kept; the trees route them as missing values.
	FillZero
)

// Schema is the ordered list of feature names shared by training and
// inference. It is immutable once built.
type Schema struct {
	names   []string
	history map[string]bool
}

func NewSchema(policy AsOfPolicy) Schema {
	s := Schema{history: make(map[string]bool)}
	addHistory := func(name string) {
		s.names = append(s.names, name)
		s.history[name] = true
	}

	for _, k := range policy.lags() {
		addHistory(LagName(k))
	}
	for _, w := range uniqueSorted(policy.RollingWindows) {
		addHistory(RollMeanName(w))
		addHistory(RollStdName(w))
	}
	addHistory(FeatureSameHourOfWeekMean)
	for _, d := range uniqueSorted(policy.SameHourDays) {
		addHistory(SameHourMeanName(d))
		addHistory(SameHourStdName(d))
	}

	s.names = append(s.names,
		FeatureHourOfDay, FeatureDayOfWeek, FeatureIsWeekend, FeatureMonth, FeatureYear,
		FeatureTemperature, FeaturePrecipitation, FeatureWindSpeed, FeatureRain,
		FeatureStationCode, FeatureLatitude, FeatureLongitude, FeatureMaxCapacity,
	)
	return s
}

func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Schema) Len() int { return len(s.names) }

func (s Schema) IsHistory(name string) bool { return s.history[name] }

// Vector lays out a row's features in schema order.
func (s Schema) Vector(row models.FeatureRow, fill FillPolicy) []float64 {
	x := make([]float64, len(s.names))
	for i, name := range s.names {
		v := row.Feature(name)
		if math.IsNaN(v) && fill == FillZero && s.history[name] {
			v = 0
		}
		x[i] = v
	}
	return x
}

// Matrix returns one Vector per row.
func (s Schema) Matrix(rows []models.FeatureRow, fill FillPolicy) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = s.Vector(r, fill)
	}
	return out
}

// CheckHistory returns an *models.InsufficientHistoryError naming the first
// history feature the row lacks, or nil when the row can be trained on.
func (s Schema) CheckHistory(row models.FeatureRow) error {
	for _, name := range s.names {
		if s.history[name] && math.IsNaN(row.Feature(name)) {
			return &models.InsufficientHistoryError{StationID: row.StationID, Hour: row.Hour, Feature: name}
		}
	}
	return nil
}

// Trainable filters rows to those with complete history.
func (s Schema) Trainable(rows []models.FeatureRow) []models.FeatureRow {
	out := make([]models.FeatureRow, 0, len(rows))
	for _, r := range rows {
		if s.CheckHistory(r) == nil {
			out = append(out, r)
		}
	}
	return out
}
