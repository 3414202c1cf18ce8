package models

import "time"

// WeatherObservation is a city-wide hourly observation shared by all stations.
type WeatherObservation struct {
	Hour          time.Time `json:"hour_timestamp" validate:"required"`
	Temperature   float64   `json:"temperature"`
	Precipitation float64   `json:"precipitation" validate:"gte=0"`
	WindSpeed     float64   `json:"wind_speed" validate:"gte=0"`
}
