package models

import (
	"math"
	"time"
)

// JoinedRow is a trip-hour after the weather and station joins.
// Weather and station fields are NaN when the join found nothing.
type JoinedRow struct {
	StationID     string
	Hour          time.Time
	Departures    int
	Temperature   float64
	Precipitation float64
	WindSpeed     float64
	Latitude      float64
	Longitude     float64
	Capacity      float64
}

func (r JoinedRow) HasWeather() bool {
	return !math.IsNaN(r.Temperature)
}

// FeatureRow is the unit consumed by the predictors. Missing values are NaN.
type FeatureRow struct {
	StationID  string
	Hour       time.Time
	Departures int
	Features   map[string]float64
}

// Feature returns the named feature, or NaN when it was not computed.
func (r FeatureRow) Feature(name string) float64 {
	v, ok := r.Features[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Clone returns a deep copy so callers can mutate features without touching the original.
func (r FeatureRow) Clone() FeatureRow {
	features := make(map[string]float64, len(r.Features))
	for k, v := range r.Features {
		features[k] = v
	}
	r.Features = features
	return r
}
