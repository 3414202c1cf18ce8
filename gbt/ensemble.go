package gbt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var ErrEmptyTrainingSet = errors.New("gbt: empty training set")

// Ensemble is a trained model. It is safe for concurrent use and encodes
// with encoding/gob.
type Ensemble struct {
	Objective    Objective
	NumFeatures  int
	Base         float64
	LearningRate float64
	Trees        []Tree
	TrainingRows int
}

// FitRegressor fits an ensemble minimising squared error.
func FitRegressor(ctx context.Context, x [][]float64, y []float64, p Params) (*Ensemble, error) {
	return fit(ctx, x, y, SquaredError, p)
}

// FitClassifier fits a binary logistic ensemble; Predict returns P(label).
func FitClassifier(ctx context.Context, x [][]float64, labels []bool, p Params) (*Ensemble, error) {
	y := make([]float64, len(labels))
	for i, l := range labels {
		if l {
			y[i] = 1
		}
	}
	return fit(ctx, x, y, Logistic, p)
}

func fit(ctx context.Context, x [][]float64, y []float64, obj Objective, p Params) (*Ensemble, error) {
	if len(x) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("gbt: %d rows but %d targets", len(x), len(y))
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	numFeatures := len(x[0])
	for i, row := range x {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("gbt: row %d has %d features, want %d", i, len(row), numFeatures)
		}
	}

	e := &Ensemble{
		Objective:    obj,
		NumFeatures:  numFeatures,
		Base:         initialScore(y, obj),
		LearningRate: p.LearningRate,
		Trees:        make([]Tree, 0, p.Trees),
		TrainingRows: len(x),
	}

	data := binMatrix(x, numFeatures, p.MaxBins)
	rng := rand.New(rand.NewPCG(uint64(p.Seed), 0x9e3779b97f4a7c15))

	raw := make([]float64, len(x))
	for i := range raw {
		raw[i] = e.Base
	}
	grad := make([]float64, len(x))
	hess := make([]float64, len(x))

	for t := 0; t < p.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gradients(obj, y, raw, grad, hess)

		rows := sampleRows(rng, len(x), p.Subsample)
		active := sampleFeatures(rng, numFeatures, p.FeatureFraction)

		g := &grower{data: data, active: active, grad: grad, hess: hess, p: p}
		tree, err := g.grow(ctx, rows)
		if err != nil {
			return nil, err
		}
		e.Trees = append(e.Trees, tree)

		for i, row := range x {
			raw[i] += tree.predict(row)
		}
	}
	return e, nil
}

func initialScore(y []float64, obj Objective) float64 {
	mean := floats.Sum(y) / float64(len(y))
	if obj == Logistic {
		p := math.Min(math.Max(mean, 1e-6), 1-1e-6)
		return math.Log(p / (1 - p))
	}
	return mean
}

// gradients writes the negative gradient and the hessian of the loss.
func gradients(obj Objective, y, raw, grad, hess []float64) {
	switch obj {
	case Logistic:
		for i := range y {
			p := sigmoid(raw[i])
			grad[i] = y[i] - p
			hess[i] = math.Max(p*(1-p), 1e-16)
		}
	default:
		for i := range y {
			grad[i] = y[i] - raw[i]
			hess[i] = 1
		}
	}
}

func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	if fraction >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rows := make([]int, 0, int(float64(n)*fraction)+1)
	for i := 0; i < n; i++ {
		if rng.Float64() < fraction {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.IntN(n))
	}
	return rows
}

func sampleFeatures(rng *rand.Rand, n int, fraction float64) []int {
	k := int(math.Round(float64(n) * fraction))
	if k < 1 {
		k = 1
	}
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := rng.Perm(n)[:k]
	sort.Ints(picked)
	return picked
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Raw returns the untransformed ensemble score.
func (e *Ensemble) Raw(x []float64) float64 {
	s := e.Base
	for i := range e.Trees {
		s += e.Trees[i].predict(x)
	}
	return s
}

// Predict returns the regression estimate, or the positive-class
// probability for a logistic ensemble.
func (e *Ensemble) Predict(x []float64) float64 {
	if e.Objective == Logistic {
		return sigmoid(e.Raw(x))
	}
	return e.Raw(x)
}

// Contributions splits Raw(x) into one term per feature plus a bias term at
// index NumFeatures. The terms sum to Raw(x).
func (e *Ensemble) Contributions(x []float64) []float64 {
	phi := make([]float64, e.NumFeatures+1)
	bias := e.Base
	for i := range e.Trees {
		t := &e.Trees[i]
		bias += t.Nodes[0].Value
		t.contribute(x, phi)
	}
	phi[e.NumFeatures] = bias
	return phi
}

// Depth is the depth of the deepest tree.
func (e *Ensemble) Depth() int {
	d := 0
	for i := range e.Trees {
		d = max(d, e.Trees[i].depth())
	}
	return d
}
