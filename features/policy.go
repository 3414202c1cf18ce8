// Package features turns joined station-hour rows into model inputs.
//
// Every history feature of a row at hour t is computed from the same
// station's departures at hours strictly before t. Rows without enough
// history are kept with NaN values and reported in the ExclusionSummary.
package features

import (
	"fmt"
	"sort"

	"github.com/kainulj/helsinki-citybike-analysis/config"
)

// Lags every schema carries regardless of configuration.
var mandatoryLags = []int{1, 2, 24, 168}

// AsOfPolicy controls which history windows are computed for each row.
type AsOfPolicy struct {
	Lags            []int
	RollingWindows  []int
	SameHourDays    []int
	SameHourWeeks   int
	WeatherLagHours int
}

func DefaultPolicy() AsOfPolicy {
	return AsOfPolicy{
		Lags:           []int{1, 2, 3, 24, 72, 168},
		RollingWindows: []int{3, 24, 168},
		SameHourDays:   []int{3, 7},
		SameHourWeeks:  4,
	}
}

func PolicyFromConfig(cfg config.FeatureConfig) AsOfPolicy {
	return AsOfPolicy{
		Lags:            cfg.Lags,
		RollingWindows:  cfg.RollingWindows,
		SameHourDays:    cfg.SameHourDays,
		SameHourWeeks:   cfg.SameHourWeeks,
		WeatherLagHours: cfg.WeatherLagHours,
	}
}

func (p AsOfPolicy) validate() error {
	for _, k := range p.Lags {
		if k <= 0 {
			return fmt.Errorf("lag %d must be positive", k)
		}
	}
	for _, w := range p.RollingWindows {
		if w < 2 {
			return fmt.Errorf("rolling window %d must be at least 2 hours", w)
		}
	}
	for _, d := range p.SameHourDays {
		if d < 2 {
			return fmt.Errorf("same-hour window %d must be at least 2 days", d)
		}
	}
	if p.SameHourWeeks < 1 {
		return fmt.Errorf("same-hour-of-week depth %d must be at least 1", p.SameHourWeeks)
	}
	if p.WeatherLagHours < 0 {
		return fmt.Errorf("weather lag %d must not be negative", p.WeatherLagHours)
	}
	return nil
}

// lags returns the configured lags merged with the mandatory ones, sorted.
func (p AsOfPolicy) lags() []int {
	return uniqueSorted(append(append([]int{}, mandatoryLags...), p.Lags...))
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
