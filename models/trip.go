package models

import "time"

// TripRecord is one raw ride as produced by the fetch/clean scripts.
type TripRecord struct {
	DepartureTime      time.Time `json:"departure" validate:"required"`
	ReturnTime         time.Time `json:"return"`
	DepartureStationID string    `json:"departure_id" validate:"required"`
	ReturnStationID    string    `json:"return_id"`
	DistanceM          float64   `json:"distance" validate:"gte=0"`
	DurationS          float64   `json:"duration" validate:"gte=0"`
}

// TripAggregate is the hourly departure count of one station.
type TripAggregate struct {
	StationID  string    `json:"station_id" validate:"required"`
	Hour       time.Time `json:"hour_timestamp" validate:"required"`
	Departures int       `json:"departures" validate:"gte=0"`
}
