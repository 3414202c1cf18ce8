package models

import "time"

type ForecastRun struct {
	RunID          string    `gorm:"column:run_id;primaryKey" json:"run_id"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	TrainFrom      time.Time `gorm:"column:train_from" json:"train_from"`
	TrainTo        time.Time `gorm:"column:train_to" json:"train_to"`
	ValidFrom      time.Time `gorm:"column:valid_from" json:"valid_from"`
	ValidTo        time.Time `gorm:"column:valid_to" json:"valid_to"`
	Stations       int       `gorm:"column:stations" json:"stations"`
	FeatureRows    int       `gorm:"column:feature_rows" json:"feature_rows"`
	ExcludedRows   int       `gorm:"column:excluded_rows" json:"excluded_rows"`
	ExcludedRatio  float64   `gorm:"column:excluded_ratio" json:"excluded_ratio"`
	ScoredRows     int       `gorm:"column:scored_rows" json:"scored_rows"`
	BaselineMisses int       `gorm:"column:baseline_misses" json:"baseline_misses"`
}

func (ForecastRun) TableName() string { return "forecast_runs" }

// MetricsRecord is one model's row of the comparison table.
// Classification columns are nil for models without a classifier stage.
type MetricsRecord struct {
	RunID        string   `gorm:"column:run_id;primaryKey" json:"run_id"`
	ModelName    string   `gorm:"column:model_name;primaryKey" json:"model_name"`
	MAE          float64  `gorm:"column:mae" json:"mae"`
	RMSE         float64  `gorm:"column:rmse" json:"rmse"`
	R2           float64  `gorm:"column:r2" json:"r2"`
	Samples      int      `gorm:"column:samples" json:"samples"`
	TrainingRows int      `gorm:"column:training_rows" json:"training_rows"`
	LowSample    bool     `gorm:"column:low_sample" json:"low_sample"`
	Accuracy     *float64 `gorm:"column:accuracy" json:"accuracy,omitempty"`
	F1Zero       *float64 `gorm:"column:f1_zero" json:"f1_zero,omitempty"`
	F1NonZero    *float64 `gorm:"column:f1_nonzero" json:"f1_nonzero,omitempty"`
	FalseZero    *int     `gorm:"column:false_zero" json:"false_zero,omitempty"`
	FalseNonZero *int     `gorm:"column:false_nonzero" json:"false_nonzero,omitempty"`
}

func (MetricsRecord) TableName() string { return "model_metrics" }
