package recordstore

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func hour(n int) time.Time { return t0.Add(time.Duration(n) * time.Hour) }

func TestLoadZeroFillsEveryStationHour(t *testing.T) {
	trips := []models.TripAggregate{
		{StationID: "A", Hour: hour(0), Departures: 3},
		{StationID: "A", Hour: hour(5), Departures: 1},
		{StationID: "B", Hour: hour(2), Departures: 7},
		{StationID: "B", Hour: hour(9), Departures: 2},
	}
	s, err := Load(trips, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, s.Hours())
	assert.Equal(t, hour(0), s.Start())
	assert.Equal(t, hour(9), s.End())
	assert.Equal(t, []string{"A", "B"}, s.Stations())
	assert.Equal(t, 20-4, s.ZeroFilled())

	for _, station := range s.Stations() {
		for i := 0; i < s.Hours(); i++ {
			_, ok := s.Departures(station, hour(i))
			assert.True(t, ok, "station %s hour %d missing", station, i)
		}
	}

	rows := s.Join()
	require.Len(t, rows, 20)
	seen := make(map[string]bool)
	for _, r := range rows {
		key := r.StationID + r.Hour.Format(time.RFC3339)
		assert.False(t, seen[key], "duplicate row %s", key)
		seen[key] = true
	}

	n, ok := s.Departures("B", hour(2))
	assert.True(t, ok)
	assert.Equal(t, 7, n)
	n, ok = s.Departures("A", hour(3))
	assert.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestDeparturesOutsideWindow(t *testing.T) {
	s, err := Load([]models.TripAggregate{
		{StationID: "A", Hour: hour(0), Departures: 1},
		{StationID: "A", Hour: hour(3), Departures: 1},
	}, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		station string
		at      time.Time
	}{
		{"before start", "A", hour(-1)},
		{"after end", "A", hour(4)},
		{"unknown station", "Z", hour(1)},
		{"not on the hour", "A", hour(1).Add(30 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := s.Departures(tt.station, tt.at); ok {
				t.Errorf("Departures(%s, %v) reported ok", tt.station, tt.at)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		trips    []models.TripAggregate
		weather  []models.WeatherObservation
		stations []models.StationMetadata
		target   error
	}{
		{
			name:   "no trips",
			target: models.ErrSchema,
		},
		{
			name: "duplicate station hour",
			trips: []models.TripAggregate{
				{StationID: "A", Hour: hour(0), Departures: 1},
				{StationID: "A", Hour: hour(0), Departures: 2},
			},
			target: models.ErrSchema,
		},
		{
			name:   "negative departures",
			trips:  []models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: -1}},
			target: models.ErrSchema,
		},
		{
			name:   "empty station id",
			trips:  []models.TripAggregate{{StationID: "", Hour: hour(0), Departures: 1}},
			target: models.ErrSchema,
		},
		{
			name:   "misaligned trip hour",
			trips:  []models.TripAggregate{{StationID: "A", Hour: hour(0).Add(15 * time.Minute), Departures: 1}},
			target: models.ErrTemporalAlignment,
		},
		{
			name:    "misaligned weather hour",
			trips:   []models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: 1}},
			weather: []models.WeatherObservation{{Hour: hour(0).Add(time.Minute)}},
			target:  models.ErrTemporalAlignment,
		},
		{
			name:    "negative precipitation",
			trips:   []models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: 1}},
			weather: []models.WeatherObservation{{Hour: hour(0), Precipitation: -0.1}},
			target:  models.ErrSchema,
		},
		{
			name:  "duplicate weather hour",
			trips: []models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: 1}},
			weather: []models.WeatherObservation{
				{Hour: hour(0), Temperature: 10},
				{Hour: hour(0), Temperature: 11},
			},
			target: models.ErrSchema,
		},
		{
			name:     "zero capacity",
			trips:    []models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: 1}},
			stations: []models.StationMetadata{{StationID: "A", Latitude: 60.1, Longitude: 24.9, Capacity: 0}},
			target:   models.ErrSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.trips, tt.weather, tt.stations)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.target) {
				t.Errorf("got %v, want %v", err, tt.target)
			}
		})
	}
}

func TestJoinKeepsRowsWithoutWeather(t *testing.T) {
	trips := []models.TripAggregate{
		{StationID: "A", Hour: hour(0), Departures: 4},
		{StationID: "A", Hour: hour(1), Departures: 5},
	}
	weather := []models.WeatherObservation{
		{Hour: hour(0), Temperature: 12.5, Precipitation: 0.2, WindSpeed: 3},
	}
	stations := []models.StationMetadata{
		{StationID: "A", Name: "Kaivopuisto", Latitude: 60.155, Longitude: 24.950, Capacity: 30},
	}
	s, err := Load(trips, weather, stations)
	require.NoError(t, err)

	rows := s.Join()
	require.Len(t, rows, 2)

	assert.True(t, rows[0].HasWeather())
	assert.Equal(t, 12.5, rows[0].Temperature)
	assert.Equal(t, 30.0, rows[0].Capacity)

	assert.False(t, rows[1].HasWeather())
	assert.True(t, math.IsNaN(rows[1].Precipitation))
	assert.Equal(t, 5, rows[1].Departures)
	assert.Equal(t, 60.155, rows[1].Latitude)
}

func TestJoinMissingStationMetadata(t *testing.T) {
	s, err := Load([]models.TripAggregate{{StationID: "A", Hour: hour(0), Departures: 1}}, nil, nil)
	require.NoError(t, err)

	rows := s.Join()
	require.Len(t, rows, 1)
	assert.True(t, math.IsNaN(rows[0].Latitude))
	assert.True(t, math.IsNaN(rows[0].Capacity))
}

func TestAggregate(t *testing.T) {
	trips := []models.TripRecord{
		{DepartureTime: hour(0).Add(5 * time.Minute), DepartureStationID: "A"},
		{DepartureTime: hour(0).Add(59 * time.Minute), DepartureStationID: "A"},
		{DepartureTime: hour(1), DepartureStationID: "A"},
		{DepartureTime: hour(0).Add(30 * time.Minute), DepartureStationID: "B"},
		{DepartureTime: hour(2), DepartureStationID: "C"},
		{DepartureTime: hour(3), DepartureStationID: "C"},
	}

	t.Run("all stations", func(t *testing.T) {
		got, err := Aggregate(trips, 0)
		require.NoError(t, err)
		want := []models.TripAggregate{
			{StationID: "A", Hour: hour(0), Departures: 2},
			{StationID: "A", Hour: hour(1), Departures: 1},
			{StationID: "B", Hour: hour(0), Departures: 1},
			{StationID: "C", Hour: hour(2), Departures: 1},
			{StationID: "C", Hour: hour(3), Departures: 1},
		}
		assert.Equal(t, want, got)
	})

	t.Run("top stations", func(t *testing.T) {
		got, err := Aggregate(trips, 2)
		require.NoError(t, err)
		for _, a := range got {
			assert.NotEqual(t, "B", a.StationID)
		}
		assert.Len(t, got, 4)
	})

	t.Run("missing departure station", func(t *testing.T) {
		_, err := Aggregate([]models.TripRecord{{DepartureTime: hour(0)}}, 0)
		assert.ErrorIs(t, err, models.ErrSchema)
	})
}

func TestTopStations(t *testing.T) {
	totals := map[string]int{"b": 5, "a": 5, "c": 9, "d": 1}
	assert.Equal(t, []string{"c", "a", "b", "d"}, TopStations(totals, 0))
	assert.Equal(t, []string{"c", "a"}, TopStations(totals, 2))
	assert.Equal(t, []string{"c", "a", "b", "d"}, TopStations(totals, 10))
}

func TestReadTrips(t *testing.T) {
	input := `departure,return,departure_id,return_id,distance,duration
2024-05-06 08:15:00,2024-05-06 08:30:00,001,002,1200,900
2024-05-06T09:00:00Z,,001,,,
`
	trips, err := ReadTrips(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, trips, 2)

	assert.Equal(t, "001", trips[0].DepartureStationID)
	assert.Equal(t, time.Date(2024, 5, 6, 8, 15, 0, 0, time.UTC), trips[0].DepartureTime)
	assert.Equal(t, 1200.0, trips[0].DistanceM)
	assert.True(t, trips[1].ReturnTime.IsZero())
	assert.Equal(t, 0.0, trips[1].DurationS)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		read  func(string) error
		input string
	}{
		{
			name:  "trips missing departure_id",
			read:  func(s string) error { _, err := ReadTrips(strings.NewReader(s)); return err },
			input: "departure,return\n2024-05-06 08:00:00,2024-05-06 08:10:00\n",
		},
		{
			name:  "trips bad timestamp",
			read:  func(s string) error { _, err := ReadTrips(strings.NewReader(s)); return err },
			input: "departure,departure_id\nyesterday,001\n",
		},
		{
			name:  "weather missing wind_speed",
			read:  func(s string) error { _, err := ReadWeather(strings.NewReader(s)); return err },
			input: "time,temperature,precipitation\n2024-05-06 08:00:00,10,0\n",
		},
		{
			name:  "weather non-numeric temperature",
			read:  func(s string) error { _, err := ReadWeather(strings.NewReader(s)); return err },
			input: "time,temperature,precipitation,wind_speed\n2024-05-06 08:00:00,warm,0,1\n",
		},
		{
			name:  "stations fractional capacity",
			read:  func(s string) error { _, err := ReadStations(strings.NewReader(s)); return err },
			input: "id,name,lat,lon,capacity\n001,Kaivopuisto,60.15,24.95,12.5\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(tt.input)
			var schemaErr *models.SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("got %v, want *models.SchemaError", err)
			}
		})
	}
}

func TestReadWeatherMissingValuesAreNaN(t *testing.T) {
	input := "time,temperature,precipitation,wind_speed\n2024-05-06 08:00:00,NaN,0.4,\n"
	obs, err := ReadWeather(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.True(t, math.IsNaN(obs[0].Temperature))
	assert.Equal(t, 0.4, obs[0].Precipitation)
	assert.True(t, math.IsNaN(obs[0].WindSpeed))
}

func TestReadStations(t *testing.T) {
	input := "id,name,lat,lon,capacity\n001,Kaivopuisto,60.155,24.950,30\n002,Laivasillankatu,60.161,24.956,12\n"
	stations, err := ReadStations(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, models.StationMetadata{
		StationID: "002", Name: "Laivasillankatu", Latitude: 60.161, Longitude: 24.956, Capacity: 12,
	}, stations[1])
}
