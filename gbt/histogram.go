package gbt

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type binStat struct {
	g float64
	h float64
	n int
}

// histogram holds per-feature bin statistics for one node. Features not
// sampled for the current tree are nil. Index missingBin is the NaN bin.
type histogram [][]binStat

func newHistogram(numFeatures int, active []int) histogram {
	h := make(histogram, numFeatures)
	for _, f := range active {
		h[f] = make([]binStat, missingBin+1)
	}
	return h
}

// build fills h from the given rows, one goroutine per feature.
func (h histogram) build(ctx context.Context, data *binned, active, rows []int, grad, hess []float64, workers int) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range active {
		g.Go(func() error {
			stats := h[f]
			for i := range stats {
				stats[i] = binStat{}
			}
			bins := data.bins[f]
			for _, r := range rows {
				s := &stats[bins[r]]
				s.g += grad[r]
				s.h += hess[r]
				s.n++
			}
			return nil
		})
	}
	return g.Wait()
}

// subtract sets h = parent - sibling.
func (h histogram) subtract(parent, sibling histogram, active []int) {
	for _, f := range active {
		for i := range h[f] {
			p, s := parent[f][i], sibling[f][i]
			h[f][i] = binStat{g: p.g - s.g, h: p.h - s.h, n: p.n - s.n}
		}
	}
}

type split struct {
	feature     int
	bin         int
	missingLeft bool
	gain        float64
	left        binStat
	right       binStat
}

func (s split) valid() bool { return s.gain > 0 }

// bestSplit scans every active feature in parallel and reduces the results
// in feature order, so ties resolve the same way on every run.
func (h histogram) bestSplit(ctx context.Context, data *binned, active []int, total binStat, p Params) (split, error) {
	results := make([]split, len(active))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i, f := range active {
		g.Go(func() error {
			results[i] = h.featureSplit(f, len(data.edges[f]), total, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return split{}, err
	}

	var best split
	for _, s := range results {
		if s.gain > best.gain {
			best = s
		}
	}
	return best, nil
}

func (h histogram) featureSplit(f, numBins int, total binStat, p Params) split {
	best := split{feature: f}
	if numBins < 2 {
		return best
	}
	stats := h[f]
	missing := stats[missingBin]
	parentScore := score(total, p.Lambda)

	var acc binStat
	for b := 0; b < numBins-1; b++ {
		acc.g += stats[b].g
		acc.h += stats[b].h
		acc.n += stats[b].n

		for _, missingLeft := range []bool{false, true} {
			if missingLeft && missing.n == 0 {
				continue
			}
			left := acc
			if missingLeft {
				left = binStat{g: acc.g + missing.g, h: acc.h + missing.h, n: acc.n + missing.n}
			}
			right := binStat{g: total.g - left.g, h: total.h - left.h, n: total.n - left.n}
			if left.n < p.MinSamplesLeaf || right.n < p.MinSamplesLeaf {
				continue
			}
			if left.h < p.MinHessian || right.h < p.MinHessian {
				continue
			}
			gain := score(left, p.Lambda) + score(right, p.Lambda) - parentScore
			if gain > best.gain+1e-12 {
				best = split{feature: f, bin: b, missingLeft: missingLeft, gain: gain, left: left, right: right}
			}
		}
	}
	// With no missing rows in training, send NaN to the heavier side.
	if best.valid() && missing.n == 0 {
		best.missingLeft = best.left.n >= best.right.n
	}
	return best
}

func score(s binStat, lambda float64) float64 {
	return s.g * s.g / (s.h + lambda)
}

func leafValue(s binStat, lambda float64) float64 {
	if s.h+lambda == 0 {
		return 0
	}
	return s.g / (s.h + lambda)
}
