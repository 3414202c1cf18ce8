package services

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/kainulj/helsinki-citybike-analysis/evaluation"
	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/pipeline"
)

const reportFile = "metrics_report.json"

// RunReport is the metrics report written next to the prediction tables.
type RunReport struct {
	Run         models.ForecastRun                        `json:"run"`
	Features    features.ExclusionSummary                 `json:"feature_exclusions"`
	Comparison  evaluation.Report                         `json:"comparison"`
	CrossVal    []evaluation.CVSummary                    `json:"cross_validation,omitempty"`
	Attribution map[string][]evaluation.FeatureImportance `json:"attribution,omitempty"`
	Stages      []pipeline.StageTiming                    `json:"stages"`
}

func NewRunReport(res *pipeline.Result) RunReport {
	return RunReport{
		Run:         res.Run,
		Features:    res.Features.Summary,
		Comparison:  res.Comparison.Report,
		CrossVal:    res.CrossVal,
		Attribution: res.Attribution,
		Stages:      res.Stages,
	}
}

// PredictionFrame lays predictions out as a prediction table.
func PredictionFrame(preds []models.PredictionResult) dataframe.DataFrame {
	stations := make([]string, len(preds))
	hours := make([]string, len(preds))
	values := make([]float64, len(preds))
	names := make([]string, len(preds))
	for i, p := range preds {
		stations[i] = p.StationID
		hours[i] = p.Hour.UTC().Format(time.RFC3339)
		values[i] = p.PredictedDepartures
		names[i] = p.ModelName
	}
	return dataframe.New(
		series.New(stations, series.String, "station_id"),
		series.New(hours, series.String, "hour_timestamp"),
		series.New(values, series.Float, "predicted_departures"),
		series.New(names, series.String, "model_name"),
	)
}

// WritePredictionTables writes one predictions_<model>.csv per model and
// returns the paths in model-name order.
func WritePredictionTables(dir string, predictions map[string][]models.PredictionResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(predictions))
	for name := range predictions {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		df := PredictionFrame(predictions[name])
		if df.Err != nil {
			return paths, fmt.Errorf("prediction table %s: %w", name, df.Err)
		}
		path := filepath.Join(dir, fmt.Sprintf("predictions_%s.csv", name))
		if err := writeFileAtomic(path, func(w io.Writer) error { return df.WriteCSV(w) }); err != nil {
			return paths, fmt.Errorf("prediction table %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func WriteReport(dir string, report RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, reportFile)
	err := writeFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
	if err != nil {
		return "", fmt.Errorf("metrics report: %w", err)
	}
	return path, nil
}

func ReadReport(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("metrics report %s: %w", path, err)
	}
	return &report, nil
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	writeErr := write(f)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
