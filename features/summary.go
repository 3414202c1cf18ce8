package features

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const ReasonInsufficientHistory = "insufficient_history"

// ExclusionSummary aggregates row-level errors so they are reported as counts.
type ExclusionSummary struct {
	TotalRows    int            `json:"total_rows"`
	ExcludedRows int            `json:"excluded_rows"`
	ByReason     map[string]int `json:"by_reason"`
	// ByFeature counts, per history feature, the excluded rows whose first
	// missing feature it was.
	ByFeature map[string]int `json:"by_feature"`
}

func newSummary() ExclusionSummary {
	return ExclusionSummary{ByReason: make(map[string]int), ByFeature: make(map[string]int)}
}

// Record counts a row-level error against the summary.
func (s *ExclusionSummary) Record(err error) {
	s.ExcludedRows++
	var hist *models.InsufficientHistoryError
	if errors.As(err, &hist) {
		s.ByReason[ReasonInsufficientHistory]++
		s.ByFeature[hist.Feature]++
		return
	}
	s.ByReason["other"]++
}

func (s ExclusionSummary) Ratio() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.ExcludedRows) / float64(s.TotalRows)
}

func (s ExclusionSummary) String() string {
	if s.ExcludedRows == 0 {
		return fmt.Sprintf("0 of %d rows excluded", s.TotalRows)
	}
	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return fmt.Sprintf("%.1f%% of rows excluded (%d of %d) for %v",
		100*s.Ratio(), s.ExcludedRows, s.TotalRows, reasons)
}
