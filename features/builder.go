package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const hoursPerDay = 24

type Result struct {
	Rows    []models.FeatureRow
	Schema  Schema
	Summary ExclusionSummary
}

// Trainable returns the rows with complete history, in output order.
func (r *Result) Trainable() []models.FeatureRow {
	return r.Schema.Trainable(r.Rows)
}

// Build derives one FeatureRow per joined row. The input slice is not
// modified. Each station's rows must form a continuous hourly series, which
// recordstore.Store.Join guarantees.
func Build(rows []models.JoinedRow, policy AsOfPolicy) (*Result, error) {
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}

	sorted := make([]models.JoinedRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StationID != sorted[j].StationID {
			return sorted[i].StationID < sorted[j].StationID
		}
		return sorted[i].Hour.Before(sorted[j].Hour)
	})

	codes := stationCodes(sorted)
	schema := NewSchema(policy)
	res := &Result{
		Rows:    make([]models.FeatureRow, 0, len(sorted)),
		Schema:  schema,
		Summary: newSummary(),
	}

	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].StationID == sorted[start].StationID {
			end++
		}
		station := sorted[start:end]
		if err := checkContinuity(station); err != nil {
			return nil, err
		}
		b := newSeriesBuilder(station, policy, codes[station[0].StationID])
		for i := range station {
			row := b.row(i)
			if err := schema.CheckHistory(row); err != nil {
				res.Summary.Record(err)
			}
			res.Rows = append(res.Rows, row)
		}
		start = end
	}
	res.Summary.TotalRows = len(res.Rows)
	return res, nil
}

// stationCodes assigns each station its ordinal among the sorted ids.
func stationCodes(sorted []models.JoinedRow) map[string]float64 {
	codes := make(map[string]float64)
	for _, r := range sorted {
		if _, ok := codes[r.StationID]; !ok {
			codes[r.StationID] = float64(len(codes))
		}
	}
	return codes
}

func checkContinuity(station []models.JoinedRow) error {
	for i, r := range station {
		if !r.Hour.Equal(r.Hour.Truncate(time.Hour)) {
			return &models.TemporalAlignmentError{Source: "features", Timestamp: r.Hour, Reason: "timestamp is not hour-aligned"}
		}
		if i == 0 {
			continue
		}
		if gap := r.Hour.Sub(station[i-1].Hour); gap != time.Hour {
			return &models.TemporalAlignmentError{
				Source:    "features",
				Timestamp: r.Hour,
				Reason:    fmt.Sprintf("station %s series is not continuous (step %s)", r.StationID, gap),
			}
		}
	}
	return nil
}

// seriesBuilder computes features for one station's continuous series.
type seriesBuilder struct {
	rows   []models.JoinedRow
	policy AsOfPolicy
	lags   []int
	code   float64

	// prefix sums of departures and squared departures: sum[i] covers rows [0, i).
	sum   []float64
	sumSq []float64
}

func newSeriesBuilder(rows []models.JoinedRow, policy AsOfPolicy, code float64) *seriesBuilder {
	b := &seriesBuilder{
		rows:   rows,
		policy: policy,
		lags:   policy.lags(),
		code:   code,
		sum:    make([]float64, len(rows)+1),
		sumSq:  make([]float64, len(rows)+1),
	}
	for i, r := range rows {
		v := float64(r.Departures)
		b.sum[i+1] = b.sum[i] + v
		b.sumSq[i+1] = b.sumSq[i] + v*v
	}
	return b
}

func (b *seriesBuilder) departures(i int) float64 {
	if i < 0 {
		return math.NaN()
	}
	return float64(b.rows[i].Departures)
}

func (b *seriesBuilder) row(i int) models.FeatureRow {
	r := b.rows[i]
	f := make(map[string]float64, 32)

	for _, k := range b.lags {
		f[LagName(k)] = b.departures(i - k)
	}
	for _, w := range b.policy.RollingWindows {
		f[RollMeanName(w)], f[RollStdName(w)] = b.rolling(i, w)
	}
	f[FeatureSameHourOfWeekMean] = b.sameHourOfWeekMean(i)
	for _, d := range b.policy.SameHourDays {
		f[SameHourMeanName(d)], f[SameHourStdName(d)] = b.sameHour(i, d)
	}

	f[FeatureHourOfDay] = float64(r.Hour.Hour())
	dow := (int(r.Hour.Weekday()) + 6) % 7
	f[FeatureDayOfWeek] = float64(dow)
	f[FeatureIsWeekend] = boolFloat(dow >= 5)
	f[FeatureMonth] = float64(r.Hour.Month())
	f[FeatureYear] = float64(r.Hour.Year())

	temp, precip, wind := math.NaN(), math.NaN(), math.NaN()
	if j := i - b.policy.WeatherLagHours; j >= 0 {
		w := b.rows[j]
		temp, precip, wind = w.Temperature, w.Precipitation, w.WindSpeed
	}
	f[FeatureTemperature] = temp
	f[FeaturePrecipitation] = precip
	f[FeatureWindSpeed] = wind
	if math.IsNaN(precip) {
		f[FeatureRain] = math.NaN()
	} else {
		f[FeatureRain] = boolFloat(precip > 0)
	}

	f[FeatureStationCode] = b.code
	f[FeatureLatitude] = r.Latitude
	f[FeatureLongitude] = r.Longitude
	f[FeatureMaxCapacity] = r.Capacity

	return models.FeatureRow{
		StationID:  r.StationID,
		Hour:       r.Hour,
		Departures: r.Departures,
		Features:   f,
	}
}

// rolling returns the mean and sample standard deviation of the w hours
// before row i, or NaN when fewer than w hours precede it.
func (b *seriesBuilder) rolling(i, w int) (float64, float64) {
	if i < w {
		return math.NaN(), math.NaN()
	}
	n := float64(w)
	s := b.sum[i] - b.sum[i-w]
	sq := b.sumSq[i] - b.sumSq[i-w]
	mean := s / n
	variance := (sq - s*s/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// sameHourOfWeekMean averages the same hour over up to SameHourWeeks prior
// weeks, using only the weeks that exist.
func (b *seriesBuilder) sameHourOfWeekMean(i int) float64 {
	var sum float64
	var n int
	for k := 1; k <= b.policy.SameHourWeeks; k++ {
		j := i - k*7*hoursPerDay
		if j < 0 {
			break
		}
		sum += b.departures(j)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// sameHour returns the mean and sample standard deviation of the same hour
// over the previous d days. All d days must exist.
func (b *seriesBuilder) sameHour(i, d int) (float64, float64) {
	if i < d*hoursPerDay {
		return math.NaN(), math.NaN()
	}
	values := make([]float64, d)
	for k := 1; k <= d; k++ {
		values[k-1] = b.departures(i - k*hoursPerDay)
	}
	return stat.MeanStdDev(values, nil)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
