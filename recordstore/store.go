// Package recordstore holds the merged trip, weather and station records of
// one analysis run, indexed by station and hour.
package recordstore

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

// Store is read-only after Load. Every station has one departure count for
// every hour in [Start, End]; hours missing from the input are zero.
type Store struct {
	stations []string
	start    time.Time
	hours    int
	series   map[string][]int
	weather  map[int64]models.WeatherObservation
	meta     map[string]models.StationMetadata

	zeroFilled int
}

func Load(trips []models.TripAggregate, weather []models.WeatherObservation, stations []models.StationMetadata) (*Store, error) {
	if len(trips) == 0 {
		return nil, &models.SchemaError{Source: "trips", Reason: "no trip rows"}
	}

	var start, end time.Time
	for i, t := range trips {
		if err := validateRecord("trips", i+1, t); err != nil {
			return nil, err
		}
		if err := checkHour("trips", t.Hour); err != nil {
			return nil, err
		}
		h := t.Hour.UTC()
		if start.IsZero() || h.Before(start) {
			start = h
		}
		if end.IsZero() || h.After(end) {
			end = h
		}
	}

	s := &Store{
		start:   start,
		hours:   int(end.Sub(start)/time.Hour) + 1,
		series:  make(map[string][]int),
		weather: make(map[int64]models.WeatherObservation, len(weather)),
		meta:    make(map[string]models.StationMetadata, len(stations)),
	}

	seen := make(map[string]map[int]struct{})
	for i, t := range trips {
		series, ok := s.series[t.StationID]
		if !ok {
			series = make([]int, s.hours)
			s.series[t.StationID] = series
			s.stations = append(s.stations, t.StationID)
			seen[t.StationID] = make(map[int]struct{})
		}
		idx := s.index(t.Hour)
		if _, dup := seen[t.StationID][idx]; dup {
			return nil, &models.SchemaError{
				Source: "trips", Column: "hour_timestamp", Row: i + 1,
				Reason: fmt.Sprintf("duplicate row for station %s", t.StationID),
			}
		}
		seen[t.StationID][idx] = struct{}{}
		series[idx] = t.Departures
	}
	sort.Strings(s.stations)
	s.zeroFilled = len(s.stations)*s.hours - len(trips)

	for i, w := range weather {
		if err := checkHour("weather", w.Hour); err != nil {
			return nil, err
		}
		if w.Precipitation < 0 || w.WindSpeed < 0 {
			return nil, &models.SchemaError{
				Source: "weather", Row: i + 1, Column: "precipitation/wind_speed",
				Reason: "must not be negative",
			}
		}
		key := w.Hour.UTC().Unix()
		if _, dup := s.weather[key]; dup {
			return nil, &models.SchemaError{Source: "weather", Column: "time", Row: i + 1, Reason: "duplicate hour"}
		}
		s.weather[key] = w
	}

	for i, st := range stations {
		if err := validateRecord("stations", i+1, st); err != nil {
			return nil, err
		}
		if _, dup := s.meta[st.StationID]; dup {
			return nil, &models.SchemaError{Source: "stations", Column: "id", Row: i + 1, Reason: "duplicate station"}
		}
		s.meta[st.StationID] = st
	}

	return s, nil
}

// Join merges every trip-hour with its weather and station rows. Trip rows
// drive the join: a missing weather hour or station yields NaN fields, never
// a dropped row. Rows are ordered by station, then hour.
func (s *Store) Join() []models.JoinedRow {
	rows := make([]models.JoinedRow, 0, len(s.stations)*s.hours)
	for _, id := range s.stations {
		meta, hasMeta := s.meta[id]
		series := s.series[id]
		for i, departures := range series {
			hour := s.start.Add(time.Duration(i) * time.Hour)
			row := models.JoinedRow{
				StationID:     id,
				Hour:          hour,
				Departures:    departures,
				Temperature:   math.NaN(),
				Precipitation: math.NaN(),
				WindSpeed:     math.NaN(),
				Latitude:      math.NaN(),
				Longitude:     math.NaN(),
				Capacity:      math.NaN(),
			}
			if w, ok := s.weather[hour.Unix()]; ok {
				row.Temperature = w.Temperature
				row.Precipitation = w.Precipitation
				row.WindSpeed = w.WindSpeed
			}
			if hasMeta {
				row.Latitude = meta.Latitude
				row.Longitude = meta.Longitude
				row.Capacity = float64(meta.Capacity)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// Departures returns the count for a station and hour, and false when the
// hour lies outside the analysis window or the station is unknown.
func (s *Store) Departures(stationID string, hour time.Time) (int, bool) {
	series, ok := s.series[stationID]
	if !ok {
		return 0, false
	}
	idx := s.index(hour)
	if idx < 0 || idx >= len(series) || !hour.UTC().Equal(s.start.Add(time.Duration(idx)*time.Hour)) {
		return 0, false
	}
	return series[idx], true
}

func (s *Store) Stations() []string {
	out := make([]string, len(s.stations))
	copy(out, s.stations)
	return out
}

func (s *Store) Start() time.Time { return s.start }

func (s *Store) End() time.Time { return s.start.Add(time.Duration(s.hours-1) * time.Hour) }

func (s *Store) Hours() int { return s.hours }

// ZeroFilled is the number of station-hours absent from the input and filled with zero.
func (s *Store) ZeroFilled() int { return s.zeroFilled }

func (s *Store) HasWeather(hour time.Time) bool {
	_, ok := s.weather[hour.UTC().Unix()]
	return ok
}

func (s *Store) index(hour time.Time) int {
	d := hour.UTC().Sub(s.start)
	if d < 0 {
		return -1
	}
	return int(d / time.Hour)
}

func checkHour(source string, t time.Time) error {
	if t.IsZero() {
		return &models.TemporalAlignmentError{Source: source, Timestamp: t, Reason: "missing timestamp"}
	}
	if !t.Equal(t.Truncate(time.Hour)) {
		return &models.TemporalAlignmentError{Source: source, Timestamp: t, Reason: "timestamp is not hour-aligned"}
	}
	return nil
}
