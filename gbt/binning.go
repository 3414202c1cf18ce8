package gbt

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// missingBin marks NaN inputs. Real bins are 0..len(edges)-1, at most 254.
const missingBin = 255

// binned is the training matrix in column-major bin form.
type binned struct {
	rows  int
	edges [][]float64 // per feature, ascending upper bin edges
	bins  [][]uint8   // per feature, per row
}

func binMatrix(x [][]float64, numFeatures, maxBins int) *binned {
	b := &binned{
		rows:  len(x),
		edges: make([][]float64, numFeatures),
		bins:  make([][]uint8, numFeatures),
	}
	col := make([]float64, 0, len(x))
	for f := 0; f < numFeatures; f++ {
		col = col[:0]
		for _, row := range x {
			if v := row[f]; !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		edges := binEdges(col, maxBins-1)
		bins := make([]uint8, len(x))
		for i, row := range x {
			v := row[f]
			if math.IsNaN(v) {
				bins[i] = missingBin
				continue
			}
			bins[i] = uint8(sort.SearchFloat64s(edges, v))
		}
		b.edges[f] = edges
		b.bins[f] = bins
	}
	return b
}

// binEdges returns at most maxEdges ascending edges such that every value v
// falls in the first bin whose edge is >= v. The last edge is the maximum.
func binEdges(values []float64, maxEdges int) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) <= maxEdges {
		return distinct
	}

	edges := make([]float64, 0, maxEdges)
	for k := 1; k <= maxEdges; k++ {
		q := stat.Quantile(float64(k)/float64(maxEdges), stat.Empirical, sorted, nil)
		if len(edges) == 0 || q > edges[len(edges)-1] {
			edges = append(edges, q)
		}
	}
	if last := sorted[len(sorted)-1]; edges[len(edges)-1] < last {
		edges = append(edges, last)
	}
	return edges
}
