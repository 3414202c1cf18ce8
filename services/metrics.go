package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/evaluation"
	"github.com/kainulj/helsinki-citybike-analysis/pipeline"
)

// Metrics collects pipeline metrics on its own registry. It implements
// pipeline.Observer.
type Metrics struct {
	registry *prometheus.Registry

	rowsLoaded    *prometheus.CounterVec
	rowsExcluded  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	modelError    *prometheus.GaugeVec
	sinkWrites    *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
}

var _ pipeline.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		rowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "citybike_forecast_rows_loaded_total",
			Help: "Input rows read, by source.",
		}, []string{"source"}),
		rowsExcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "citybike_forecast_rows_excluded_total",
			Help: "Rows excluded from training or scoring, by reason.",
		}, []string{"reason"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citybike_forecast_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		modelError: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "citybike_forecast_model_error",
			Help: "Held-out error of each model, by metric.",
		}, []string{"model", "metric"}),
		sinkWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "citybike_forecast_sink_writes_total",
			Help: "Rows written to output sinks.",
		}, []string{"sink"}),
		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "citybike_forecast_sink_failures_total",
			Help: "Failed sink writes.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StageCompleted(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RowsLoaded(source string, n int) {
	m.rowsLoaded.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) RowsExcluded(reason string, n int) {
	m.rowsExcluded.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ModelScored(model string, r evaluation.RegressorReport) {
	m.modelError.WithLabelValues(model, "mae").Set(r.MAE)
	m.modelError.WithLabelValues(model, "rmse").Set(r.RMSE)
	m.modelError.WithLabelValues(model, "r2").Set(r.R2)
}

func (m *Metrics) SinkWrote(sink string, n int) {
	m.sinkWrites.WithLabelValues(sink).Add(float64(n))
}

func (m *Metrics) SinkFailed(sink string) {
	m.sinkFailures.WithLabelValues(sink).Inc()
}

// Push sends the registry to the configured Pushgateway. It is a no-op
// without a gateway URL.
func (m *Metrics) Push(ctx context.Context, cfg config.MetricsConfig, runID string) error {
	if cfg.PushgatewayURL == "" {
		return nil
	}
	return push.New(cfg.PushgatewayURL, cfg.Job).
		Gatherer(m.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
}
