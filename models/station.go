package models

type StationMetadata struct {
	StationID string  `json:"station_id" validate:"required"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Capacity  int     `json:"max_capacity" validate:"gt=0"`
}
