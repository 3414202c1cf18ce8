package recordstore

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// table is a string-typed view of a CSV file with required columns checked.
type table struct {
	source string
	cols   map[string][]string
	rows   int
}

func readTable(source string, r io.Reader, required, optional []string) (*table, error) {
	df := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, &models.SchemaError{Source: source, Reason: fmt.Sprintf("read csv: %v", df.Err)}
	}

	present := make(map[string]bool)
	for _, name := range df.Names() {
		present[strings.ToLower(strings.TrimSpace(name))] = true
	}

	t := &table{source: source, cols: make(map[string][]string), rows: df.Nrow()}
	for _, name := range df.Names() {
		key := strings.ToLower(strings.TrimSpace(name))
		t.cols[key] = df.Col(name).Records()
	}
	for _, col := range required {
		if !present[col] {
			return nil, &models.SchemaError{Source: source, Column: col, Reason: "required column missing"}
		}
	}
	for _, col := range optional {
		if !present[col] {
			t.cols[col] = nil
		}
	}
	return t, nil
}

func (t *table) str(col string, row int) string {
	values := t.cols[col]
	if values == nil {
		return ""
	}
	v := strings.TrimSpace(values[row])
	if isMissing(v) {
		return ""
	}
	return v
}

func (t *table) float(col string, row int) (float64, error) {
	v := t.str(col, row)
	if v == "" {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &models.SchemaError{Source: t.source, Column: col, Row: row + 1, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

func (t *table) time(col string, row int) (time.Time, error) {
	v := t.str(col, row)
	if v == "" {
		return time.Time{}, &models.SchemaError{Source: t.source, Column: col, Row: row + 1, Reason: "missing timestamp"}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &models.SchemaError{Source: t.source, Column: col, Row: row + 1, Reason: fmt.Sprintf("not a timestamp: %q", v)}
}

func isMissing(v string) bool {
	switch v {
	case "", "NaN", "NA", "nan", "<nil>":
		return true
	}
	return false
}

// ReadTrips parses cleaned ride records (departure, return, departure_id,
// return_id, distance, duration).
func ReadTrips(r io.Reader) ([]models.TripRecord, error) {
	t, err := readTable("trips", r,
		[]string{"departure", "departure_id"},
		[]string{"return", "return_id", "distance", "duration"},
	)
	if err != nil {
		return nil, err
	}

	trips := make([]models.TripRecord, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		dep, err := t.time("departure", i)
		if err != nil {
			return nil, err
		}
		var ret time.Time
		if t.str("return", i) != "" {
			if ret, err = t.time("return", i); err != nil {
				return nil, err
			}
		}
		distance, err := t.float("distance", i)
		if err != nil {
			return nil, err
		}
		duration, err := t.float("duration", i)
		if err != nil {
			return nil, err
		}
		trips = append(trips, models.TripRecord{
			DepartureTime:      dep,
			ReturnTime:         ret,
			DepartureStationID: t.str("departure_id", i),
			ReturnStationID:    t.str("return_id", i),
			DistanceM:          zeroIfNaN(distance),
			DurationS:          zeroIfNaN(duration),
		})
	}
	return trips, nil
}

// ReadWeather parses hourly weather (time, temperature, precipitation,
// wind_speed). Empty cells become NaN.
func ReadWeather(r io.Reader) ([]models.WeatherObservation, error) {
	t, err := readTable("weather", r,
		[]string{"time", "temperature", "precipitation", "wind_speed"}, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.WeatherObservation, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		ts, err := t.time("time", i)
		if err != nil {
			return nil, err
		}
		temp, err := t.float("temperature", i)
		if err != nil {
			return nil, err
		}
		precip, err := t.float("precipitation", i)
		if err != nil {
			return nil, err
		}
		wind, err := t.float("wind_speed", i)
		if err != nil {
			return nil, err
		}
		out = append(out, models.WeatherObservation{
			Hour:          ts,
			Temperature:   temp,
			Precipitation: precip,
			WindSpeed:     wind,
		})
	}
	return out, nil
}

// ReadStations parses station metadata (id, lat, lon, capacity, optional name).
func ReadStations(r io.Reader) ([]models.StationMetadata, error) {
	t, err := readTable("stations", r,
		[]string{"id", "lat", "lon", "capacity"}, []string{"name"})
	if err != nil {
		return nil, err
	}

	out := make([]models.StationMetadata, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		lat, err := t.float("lat", i)
		if err != nil {
			return nil, err
		}
		lon, err := t.float("lon", i)
		if err != nil {
			return nil, err
		}
		capacity, err := t.float("capacity", i)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(capacity) {
			return nil, &models.SchemaError{Source: "stations", Row: i + 1, Reason: "lat, lon and capacity are required"}
		}
		if capacity != math.Trunc(capacity) {
			return nil, &models.SchemaError{Source: "stations", Column: "capacity", Row: i + 1, Reason: "must be an integer"}
		}
		out = append(out, models.StationMetadata{
			StationID: t.str("id", i),
			Name:      t.str("name", i),
			Latitude:  lat,
			Longitude: lon,
			Capacity:  int(capacity),
		})
	}
	return out, nil
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
