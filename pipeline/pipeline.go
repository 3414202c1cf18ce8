// Package pipeline runs one forecasting experiment end to end:
// aggregate → load → join → build features → split → fit → evaluate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kainulj/helsinki-citybike-analysis/config"
	"github.com/kainulj/helsinki-citybike-analysis/evaluation"
	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/predictors"
	"github.com/kainulj/helsinki-citybike-analysis/recordstore"
)

// Inputs are the parsed input tables.
type Inputs struct {
	Trips    []models.TripRecord
	Weather  []models.WeatherObservation
	Stations []models.StationMetadata
}

// Observer receives progress from a run. services.Metrics implements it.
type Observer interface {
	StageCompleted(stage string, d time.Duration)
	RowsLoaded(source string, n int)
	RowsExcluded(reason string, n int)
	ModelScored(model string, report evaluation.RegressorReport)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(string, time.Duration)           {}
func (nopObserver) RowsLoaded(string, int)                         {}
func (nopObserver) RowsExcluded(string, int)                       {}
func (nopObserver) ModelScored(string, evaluation.RegressorReport) {}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

type Result struct {
	Run         models.ForecastRun
	Store       *recordstore.Store
	Features    *features.Result
	Policy      features.AsOfPolicy
	SingleStage *predictors.SingleStage
	TwoPhase    *predictors.TwoPhaseModel
	Comparison  *evaluation.Comparison
	CrossVal    []evaluation.CVSummary
	Attribution map[string][]evaluation.FeatureImportance
	Stages      []StageTiming
}

type runner struct {
	cfg    *config.Config
	log    *slog.Logger
	obs    Observer
	stages []StageTiming
}

// stage times fn and records it. Errors are wrapped with the stage name.
func (r *runner) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	if err != nil {
		r.log.Error("stage failed", "stage", name, "error", err, "duration", d)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.stages = append(r.stages, StageTiming{Stage: name, Duration: d})
	r.obs.StageCompleted(name, d)
	r.log.Info("stage completed", "stage", name, "duration", d)
	return nil
}

// Run executes every stage in order. Pipeline-level errors stop the run;
// row-level exclusions are counted in the result.
func Run(ctx context.Context, cfg *config.Config, in Inputs, opts Options) (*Result, error) {
	r := &runner{cfg: cfg, log: opts.Logger, obs: opts.Observer}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "pipeline")
	if r.obs == nil {
		r.obs = nopObserver{}
	}

	res := &Result{
		Run: models.ForecastRun{
			RunID:     uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		},
		Policy: features.PolicyFromConfig(cfg.Features),
	}
	r.log.Info("run started", "run_id", res.Run.RunID)

	var aggregates []models.TripAggregate
	if err := r.stage("aggregate", func() error {
		var err error
		aggregates, err = recordstore.Aggregate(in.Trips, cfg.Data.TopStations)
		r.obs.RowsLoaded("trips", len(in.Trips))
		r.obs.RowsLoaded("weather", len(in.Weather))
		r.obs.RowsLoaded("stations", len(in.Stations))
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.stage("load", func() error {
		var err error
		res.Store, err = recordstore.Load(aggregates, in.Weather, in.Stations)
		if err != nil {
			return err
		}
		r.log.Info("record store loaded",
			"stations", len(res.Store.Stations()),
			"hours", res.Store.Hours(),
			"zero_filled", res.Store.ZeroFilled())
		return nil
	}); err != nil {
		return nil, err
	}

	var joined []models.JoinedRow
	if err := r.stage("join", func() error {
		joined = res.Store.Join()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.stage("build_features", func() error {
		var err error
		res.Features, err = features.Build(joined, res.Policy)
		if err != nil {
			return err
		}
		s := res.Features.Summary
		r.obs.RowsExcluded(features.ReasonInsufficientHistory, s.ExcludedRows)
		r.log.Info("features built", "rows", s.TotalRows, "summary", s.String())
		return nil
	}); err != nil {
		return nil, err
	}

	var train, valid []models.FeatureRow
	if err := r.stage("split", func() error {
		boundary := cfg.Split.Boundary
		if boundary.IsZero() {
			boundary = predictors.DefaultBoundary(res.Store.End(), cfg.Split.ValidationHours)
		}
		train, valid = predictors.SplitByTime(res.Features.Rows, boundary)
		if err := predictors.CheckSplit(train, valid); err != nil {
			return err
		}
		res.Run.TrainFrom, res.Run.TrainTo = hourRange(train)
		res.Run.ValidFrom, res.Run.ValidTo = hourRange(valid)
		r.log.Info("split",
			"boundary", boundary,
			"train_rows", len(train),
			"valid_rows", len(valid))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.fitModels(ctx, res, train); err != nil {
		return nil, err
	}

	baseline := predictors.NewBaseline(res.Store, cfg.Models.BaselineZeroFallback)
	if err := r.stage("evaluate", func() error {
		var err error
		res.Comparison, err = evaluation.Compare(valid, res.Features.Schema, r.candidates(baseline, res, train))
		if err != nil {
			return err
		}
		for _, m := range res.Comparison.Report.Models {
			r.obs.ModelScored(m.Model, m.Regression)
			r.log.Info("model scored",
				"model", m.Model,
				"mae", m.Regression.MAE,
				"rmse", m.Regression.RMSE,
				"r2", m.Regression.R2,
				"low_sample", m.LowSample)
		}
		ex := res.Comparison.Report.Exclusions
		r.obs.RowsExcluded("predictor_miss", ex.PredictorMisses)
		return nil
	}); err != nil {
		return nil, err
	}

	if cfg.Split.CVFolds > 0 {
		if err := r.stage("cross_validate", func() error {
			var err error
			res.CrossVal, err = r.crossValidate(ctx, res, baseline, train)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Models.AttributionSample > 0 {
		if err := r.stage("attribution", func() error {
			res.Attribution = r.attribution(res)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	report := res.Comparison.Report
	res.Run.Stations = len(res.Store.Stations())
	res.Run.FeatureRows = res.Features.Summary.TotalRows
	res.Run.ExcludedRows = res.Features.Summary.ExcludedRows
	res.Run.ExcludedRatio = res.Features.Summary.Ratio()
	res.Run.ScoredRows = report.ScoredRows
	res.Run.BaselineMisses = report.Exclusions.PredictorMisses
	res.Stages = r.stages

	r.log.Info("run finished", "run_id", res.Run.RunID, "scored_rows", report.ScoredRows)
	return res, nil
}

func (r *runner) fitModels(ctx context.Context, res *Result, train []models.FeatureRow) error {
	m := r.cfg.Models
	schema := res.Features.Schema

	if err := r.stage("fit_single_stage", func() error {
		var err error
		params := gbt.ParamsFromConfig(m.SingleStage, m.Seed, m.Workers)
		res.SingleStage, err = predictors.FitSingleStage(ctx, train, schema, params, m.MinTrainingRows)
		if err != nil {
			return err
		}
		if w := res.SingleStage.Warning; w != nil {
			r.log.Warn("low training sample", "warning", w.Error())
		}
		return nil
	}); err != nil {
		return err
	}

	return r.stage("fit_two_phase", func() error {
		var err error
		clf := gbt.ParamsFromConfig(m.Classifier, m.Seed, m.Workers)
		reg := gbt.ParamsFromConfig(m.TwoPhaseRegressor, m.Seed, m.Workers)
		res.TwoPhase, err = predictors.FitTwoPhase(ctx, train, schema, clf, reg, m.Threshold, m.MinTrainingRows)
		if err != nil {
			return err
		}
		for _, w := range res.TwoPhase.Warnings {
			r.log.Warn("low training sample", "warning", w.Error())
		}
		return nil
	})
}

func (r *runner) candidates(baseline *predictors.Baseline, res *Result, train []models.FeatureRow) []evaluation.Candidate {
	trainable := len(res.Features.Schema.Trainable(train))
	single := evaluation.Candidate{Predictor: res.SingleStage, TrainingRows: trainable}
	if w := res.SingleStage.Warning; w != nil {
		single.Warnings = append(single.Warnings, w)
	}
	return []evaluation.Candidate{
		{Predictor: baseline},
		single,
		{Predictor: res.TwoPhase, TrainingRows: trainable, Warnings: res.TwoPhase.Warnings},
	}
}

// crossValidate refits both models on expanding windows of the trainable
// training rows. Folds without enough rows to fit are skipped and counted;
// a window too short for the requested folds skips cross-validation.
func (r *runner) crossValidate(ctx context.Context, res *Result, baseline *predictors.Baseline, train []models.FeatureRow) ([]evaluation.CVSummary, error) {
	schema := res.Features.Schema
	folds, err := predictors.TimeSeriesFolds(schema.Trainable(train), r.cfg.Split.CVFolds)
	if errors.Is(err, predictors.ErrTooFewHours) {
		r.log.Warn("cross-validation skipped", "folds", r.cfg.Split.CVFolds, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	scores := make(map[string][]evaluation.RegressorReport)
	var order []string
	skipped := 0

	for i, fold := range folds {
		if err := predictors.CheckSplit(fold.Train, fold.Valid); err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		candidates, err := r.fitFold(ctx, schema, baseline, fold.Train)
		if errors.Is(err, predictors.ErrNoTrainingRows) {
			skipped++
			r.log.Warn("fold skipped", "fold", i, "train_rows", len(fold.Train), "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		if err := r.scoreFold(fold, schema, candidates, scores, &order); err != nil {
			return nil, fmt.Errorf("fold %d: %w", i, err)
		}
		r.log.Debug("fold scored", "fold", i, "train_rows", len(fold.Train), "valid_rows", len(fold.Valid))
	}

	out := make([]evaluation.CVSummary, 0, len(order))
	for _, name := range order {
		s := evaluation.SummarizeFolds(name, scores[name])
		s.Skipped = skipped
		r.log.Info("cross-validated",
			"model", name,
			"folds", s.Folds,
			"skipped", s.Skipped,
			"mae", fmt.Sprintf("%.3f ± %.3f", s.MAE.Mean, s.MAE.Std),
			"rmse", fmt.Sprintf("%.3f ± %.3f", s.RMSE.Mean, s.RMSE.Std),
			"r2", fmt.Sprintf("%.3f ± %.3f", s.R2.Mean, s.R2.Std))
		out = append(out, s)
	}
	return out, nil
}

func (r *runner) fitFold(ctx context.Context, schema features.Schema, baseline *predictors.Baseline, train []models.FeatureRow) ([]evaluation.Candidate, error) {
	m := r.cfg.Models
	single, err := predictors.FitSingleStage(ctx, train, schema,
		gbt.ParamsFromConfig(m.SingleStage, m.Seed, m.Workers), 0)
	if err != nil {
		return nil, err
	}
	two, err := predictors.FitTwoPhase(ctx, train, schema,
		gbt.ParamsFromConfig(m.Classifier, m.Seed, m.Workers),
		gbt.ParamsFromConfig(m.TwoPhaseRegressor, m.Seed, m.Workers),
		m.Threshold, 0)
	if err != nil {
		return nil, err
	}
	return []evaluation.Candidate{{Predictor: baseline}, {Predictor: single}, {Predictor: two}}, nil
}

func (r *runner) scoreFold(fold predictors.Fold, schema features.Schema, candidates []evaluation.Candidate, scores map[string][]evaluation.RegressorReport, order *[]string) error {
	cmp, err := evaluation.Compare(fold.Valid, schema, candidates)
	if err != nil {
		return err
	}
	for _, mr := range cmp.Report.Models {
		if _, seen := scores[mr.Model]; !seen {
			*order = append(*order, mr.Model)
		}
		scores[mr.Model] = append(scores[mr.Model], mr.Regression)
	}
	return nil
}

// attribution explains each ensemble on an evenly spaced sample of the
// scored validation rows.
func (r *runner) attribution(res *Result) map[string][]evaluation.FeatureImportance {
	rows := sample(res.Comparison.Scored, r.cfg.Models.AttributionSample)
	schema := res.Features.Schema
	x := schema.Matrix(rows, features.FillZero)
	names := schema.Names()

	var nonZero [][]float64
	for i, row := range rows {
		if row.Departures > 0 {
			nonZero = append(nonZero, x[i])
		}
	}

	out := make(map[string][]evaluation.FeatureImportance, 3)
	out[models.ModelSingleStage] = evaluation.Attribution(res.SingleStage.Model, names, x)
	out[models.ModelTwoPhase+"/classifier"] = evaluation.Attribution(res.TwoPhase.ClassifierFit, names, x)
	out[models.ModelTwoPhase+"/regressor"] = evaluation.Attribution(res.TwoPhase.RegressorFit, names, nonZero)
	return out
}

func sample(rows []models.FeatureRow, n int) []models.FeatureRow {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	out := make([]models.FeatureRow, 0, n)
	step := float64(len(rows)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, rows[int(float64(i)*step)])
	}
	return out
}

func hourRange(rows []models.FeatureRow) (time.Time, time.Time) {
	if len(rows) == 0 {
		return time.Time{}, time.Time{}
	}
	lo, hi := rows[0].Hour, rows[0].Hour
	for _, r := range rows[1:] {
		if r.Hour.Before(lo) {
			lo = r.Hour
		}
		if r.Hour.After(hi) {
			hi = r.Hour
		}
	}
	return lo, hi
}
