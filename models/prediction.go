package models

import "time"

// Model names used in prediction tables and metrics reports.
const (
	ModelBaseline    = "baseline"
	ModelSingleStage = "lightgbm"
	ModelTwoPhase    = "two_phase"
)

type PredictionResult struct {
	RunID               string    `gorm:"column:run_id;primaryKey" json:"run_id"`
	StationID           string    `gorm:"column:station_id;primaryKey" json:"station_id"`
	Hour                time.Time `gorm:"column:hour_ts;primaryKey" json:"hour_timestamp"`
	ModelName           string    `gorm:"column:model_name;primaryKey" json:"model_name"`
	PredictedDepartures float64   `gorm:"column:predicted_departures" json:"predicted_departures"`
}

func (PredictionResult) TableName() string { return "predictions" }
