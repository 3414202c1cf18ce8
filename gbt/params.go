// Package gbt fits gradient-boosted decision tree ensembles on dense float
// matrices. NaN inputs are treated as missing and routed to whichever side
// of a split reduced the loss more during training.
package gbt

import (
	"fmt"
	"runtime"

	"github.com/kainulj/helsinki-citybike-analysis/config"
)

type Objective int

const (
	SquaredError Objective = iota
	Logistic
)

func (o Objective) String() string {
	switch o {
	case SquaredError:
		return "squared_error"
	case Logistic:
		return "logistic"
	default:
		return fmt.Sprintf("objective(%d)", int(o))
	}
}

const (
	defaultMaxBins    = 255
	defaultMinHessian = 1e-3
)

type Params struct {
	Trees           int
	LearningRate    float64
	MaxDepth        int
	MinSamplesLeaf  int
	Subsample       float64
	FeatureFraction float64
	Lambda          float64
	// MinHessian is the smallest hessian sum a child may hold. It keeps
	// logistic leaves on nearly pure nodes finite.
	MinHessian float64
	MaxBins    int
	Seed       int64
	// Workers bounds split-search parallelism; 0 means GOMAXPROCS.
	Workers int
}

func ParamsFromConfig(cfg config.TreeConfig, seed int64, workers int) Params {
	return Params{
		Trees:           cfg.Trees,
		LearningRate:    cfg.LearningRate,
		MaxDepth:        cfg.MaxDepth,
		MinSamplesLeaf:  cfg.MinSamplesLeaf,
		Subsample:       cfg.Subsample,
		FeatureFraction: cfg.FeatureFraction,
		Lambda:          cfg.Lambda,
		Seed:            seed,
		Workers:         workers,
	}
}

func (p Params) withDefaults() Params {
	if p.MaxBins <= 0 || p.MaxBins > defaultMaxBins {
		p.MaxBins = defaultMaxBins
	}
	if p.MinHessian <= 0 {
		p.MinHessian = defaultMinHessian
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = 1
	}
	return p
}

func (p Params) validate() error {
	switch {
	case p.Trees <= 0:
		return fmt.Errorf("gbt: trees must be positive, got %d", p.Trees)
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return fmt.Errorf("gbt: learning rate must be in (0, 1], got %v", p.LearningRate)
	case p.MaxDepth <= 0:
		return fmt.Errorf("gbt: max depth must be positive, got %d", p.MaxDepth)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("gbt: subsample must be in (0, 1], got %v", p.Subsample)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return fmt.Errorf("gbt: feature fraction must be in (0, 1], got %v", p.FeatureFraction)
	case p.Lambda < 0:
		return fmt.Errorf("gbt: lambda must not be negative, got %v", p.Lambda)
	}
	return nil
}
