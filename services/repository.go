package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

var ErrRunNotFound = errors.New("run not found")

// PredictionKey is a position in the prediction listing, which is ordered by
// (hour_ts, station_id, model_name) descending. Empty strings sort first, so a
// key with only Hour set selects every earlier hour.
type PredictionKey struct {
	Hour      time.Time
	StationID string
	Model     string
}

// PredictionQuery filters a prediction listing. Before is an exclusive
// keyset cursor.
type PredictionQuery struct {
	RunID     string
	StationID string
	Model     string
	Before    *PredictionKey
	Limit     int
}

// RunKey is a position in the run listing, ordered by (created_at, run_id)
// descending.
type RunKey struct {
	CreatedAt time.Time
	RunID     string
}

// ForecastRepository reads persisted runs for the results API.
type ForecastRepository struct {
	db *gorm.DB
}

func NewForecastRepository(db *gorm.DB) *ForecastRepository {
	return &ForecastRepository{db: db}
}

func (r *ForecastRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *ForecastRepository) Predictions(ctx context.Context, q PredictionQuery) ([]models.PredictionResult, error) {
	query := r.db.WithContext(ctx).Model(&models.PredictionResult{}).
		Order("hour_ts DESC").
		Order("station_id DESC").
		Order("model_name DESC").
		Limit(q.Limit)

	if q.RunID != "" {
		query = query.Where("run_id = ?", q.RunID)
	}
	if q.StationID != "" {
		query = query.Where("station_id = ?", q.StationID)
	}
	if q.Model != "" {
		query = query.Where("model_name = ?", q.Model)
	}
	if q.Before != nil {
		b := q.Before
		query = query.Where("(hour_ts, station_id, model_name) < (?, ?, ?)", b.Hour, b.StationID, b.Model)
	}

	var rows []models.PredictionResult
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ForecastRepository) Runs(ctx context.Context, limit int, before *RunKey) ([]models.ForecastRun, error) {
	query := r.db.WithContext(ctx).Model(&models.ForecastRun{}).
		Order("created_at DESC").
		Order("run_id DESC").
		Limit(limit)
	if before != nil {
		query = query.Where("(created_at, run_id) < (?, ?)", before.CreatedAt, before.RunID)
	}
	var runs []models.ForecastRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// RunMetrics returns the run and its per-model metrics, or ErrRunNotFound.
func (r *ForecastRepository) RunMetrics(ctx context.Context, runID string) (*models.ForecastRun, []models.MetricsRecord, error) {
	var run models.ForecastRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrRunNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var metrics []models.MetricsRecord
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("model_name").Find(&metrics).Error; err != nil {
		return nil, nil, err
	}
	return &run, metrics, nil
}
