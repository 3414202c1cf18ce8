package services

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/features"
	"github.com/kainulj/helsinki-citybike-analysis/gbt"
	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/predictors"
)

const (
	ensembleModel      = "model"
	ensembleClassifier = "classifier"
	ensembleRegressor  = "regressor"
)

// ModelState is the persisted form of a trained predictor.
type ModelState struct {
	Model        string
	RunID        string
	SavedAt      time.Time
	Policy       features.AsOfPolicy
	FeatureNames []string
	Threshold    float64
	Ensembles    map[string]*gbt.Ensemble
}

func SingleStageState(runID string, policy features.AsOfPolicy, m *predictors.SingleStage) *ModelState {
	return &ModelState{
		Model:        models.ModelSingleStage,
		RunID:        runID,
		SavedAt:      time.Now().UTC(),
		Policy:       policy,
		FeatureNames: m.Schema.Names(),
		Ensembles:    map[string]*gbt.Ensemble{ensembleModel: m.Model},
	}
}

func TwoPhaseState(runID string, policy features.AsOfPolicy, m *predictors.TwoPhaseModel) *ModelState {
	return &ModelState{
		Model:        models.ModelTwoPhase,
		RunID:        runID,
		SavedAt:      time.Now().UTC(),
		Policy:       policy,
		FeatureNames: m.Schema.Names(),
		Threshold:    m.Threshold,
		Ensembles: map[string]*gbt.Ensemble{
			ensembleClassifier: m.ClassifierFit,
			ensembleRegressor:  m.RegressorFit,
		},
	}
}

// schema rebuilds the feature schema and checks it against the saved names.
func (s *ModelState) schema() (features.Schema, error) {
	schema := features.NewSchema(s.Policy)
	if !slices.Equal(schema.Names(), s.FeatureNames) {
		return features.Schema{}, fmt.Errorf("model state %s: feature names do not match policy", s.Model)
	}
	return schema, nil
}

func (s *ModelState) ensemble(name string) (*gbt.Ensemble, error) {
	e, ok := s.Ensembles[name]
	if !ok || e == nil {
		return nil, fmt.Errorf("model state %s: missing %s ensemble", s.Model, name)
	}
	if e.NumFeatures != len(s.FeatureNames) {
		return nil, fmt.Errorf("model state %s: %s ensemble has %d features, want %d",
			s.Model, name, e.NumFeatures, len(s.FeatureNames))
	}
	return e, nil
}

func (s *ModelState) SingleStage() (*predictors.SingleStage, error) {
	if s.Model != models.ModelSingleStage {
		return nil, fmt.Errorf("model state is %s, not %s", s.Model, models.ModelSingleStage)
	}
	schema, err := s.schema()
	if err != nil {
		return nil, err
	}
	e, err := s.ensemble(ensembleModel)
	if err != nil {
		return nil, err
	}
	return &predictors.SingleStage{Schema: schema, Model: e}, nil
}

func (s *ModelState) TwoPhase() (*predictors.TwoPhaseModel, error) {
	if s.Model != models.ModelTwoPhase {
		return nil, fmt.Errorf("model state is %s, not %s", s.Model, models.ModelTwoPhase)
	}
	schema, err := s.schema()
	if err != nil {
		return nil, err
	}
	clf, err := s.ensemble(ensembleClassifier)
	if err != nil {
		return nil, err
	}
	reg, err := s.ensemble(ensembleRegressor)
	if err != nil {
		return nil, err
	}
	return predictors.NewTwoPhaseModel(schema, clf, reg, s.Threshold), nil
}

func modelStatePath(dir, model string) string {
	return filepath.Join(dir, fmt.Sprintf("model_%s.gob.gz", model))
}

// SaveModelState writes state as gzipped gob. The file appears atomically.
func SaveModelState(dir string, state *ModelState) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := modelStatePath(dir, state.Model)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		f.Close()
		return "", err
	}

	encErr := gob.NewEncoder(zw).Encode(state)
	closeErr := zw.Close()
	fileCloseErr := f.Close()
	for _, err := range []error{encErr, closeErr, fileCloseErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return "", fmt.Errorf("save model state %s: %w", state.Model, err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return path, nil
}

func LoadModelState(path string) (*ModelState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("load model state %s: %w", path, err)
	}
	defer zr.Close()

	var state ModelState
	if err := gob.NewDecoder(zr).Decode(&state); err != nil {
		return nil, fmt.Errorf("load model state %s: %w", path, err)
	}
	if state.Model == "" || len(state.Ensembles) == 0 {
		return nil, fmt.Errorf("load model state %s: state is incomplete", path)
	}
	return &state, nil
}
