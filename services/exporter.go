package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kainulj/helsinki-citybike-analysis/models"
)

const defaultBatchSize = 20000

// Sink receives a finished run. Predictions arrive in batches.
type Sink interface {
	Name() string
	WriteRun(ctx context.Context, report RunReport) error
	WritePredictions(ctx context.Context, runID string, preds []models.PredictionResult) (int, error)
}

var (
	_ Sink = (*PostgresStore)(nil)
	_ Sink = (*CacheService)(nil)
)

type guardedSink struct {
	sink    Sink
	circuit *gobreaker.CircuitBreaker
}

// Exporter fans a run out to its sinks. Each sink sits behind its own
// circuit breaker: once a sink fails repeatedly its remaining batches are
// skipped instead of each waiting on a dead connection.
type Exporter struct {
	sinks     []guardedSink
	metrics   *Metrics
	log       *slog.Logger
	BatchSize int
}

func NewExporter(metrics *Metrics, logger *slog.Logger, sinks ...Sink) *Exporter {
	e := &Exporter{metrics: metrics, log: logger.With("component", "exporter"), BatchSize: defaultBatchSize}
	for _, s := range sinks {
		e.sinks = append(e.sinks, guardedSink{
			sink: s,
			circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        s.Name(),
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= 3
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.Warn("sink circuit state changed", "sink", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return e
}

// Export writes the run, then every model's predictions, to each sink.
// Sink failures do not stop other sinks; they are joined into the result.
func (e *Exporter) Export(ctx context.Context, report RunReport, predictions map[string][]models.PredictionResult) error {
	names := make([]string, 0, len(predictions))
	for name := range predictions {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, g := range e.sinks {
		if err := e.exportTo(ctx, g, report, names, predictions); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *Exporter) exportTo(ctx context.Context, g guardedSink, report RunReport, names []string, predictions map[string][]models.PredictionResult) error {
	sinkName := g.sink.Name()
	_, err := g.circuit.Execute(func() (interface{}, error) {
		return nil, g.sink.WriteRun(ctx, report)
	})
	if err != nil {
		e.failed(sinkName)
		// Predictions reference the run row.
		return fmt.Errorf("write run: %w", err)
	}

	var written int
	var errs []error
	for _, name := range names {
		preds := predictions[name]
		for start := 0; start < len(preds); start += e.BatchSize {
			end := min(start+e.BatchSize, len(preds))
			result, err := g.circuit.Execute(func() (interface{}, error) {
				return g.sink.WritePredictions(ctx, report.Run.RunID, preds[start:end])
			})
			if err != nil {
				e.failed(sinkName)
				errs = append(errs, fmt.Errorf("write %s predictions [%d:%d]: %w", name, start, end, err))
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return errors.Join(errs...)
				}
				continue
			}
			if n, ok := result.(int); ok {
				written += n
			}
		}
	}
	if e.metrics != nil {
		e.metrics.SinkWrote(sinkName, written)
	}
	e.log.Info("run exported", "sink", sinkName, "predictions", written, "failures", len(errs))
	return errors.Join(errs...)
}

func (e *Exporter) failed(sink string) {
	if e.metrics != nil {
		e.metrics.SinkFailed(sink)
	}
}
