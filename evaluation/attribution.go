package evaluation

import (
	"math"
	"sort"

	"github.com/kainulj/helsinki-citybike-analysis/gbt"
)

type FeatureImportance struct {
	Feature string  `json:"feature"`
	MeanAbs float64 `json:"mean_abs_contribution"`
}

// Attribution ranks features by their mean absolute path contribution over
// vectors, largest first. It is informational only.
func Attribution(model *gbt.Ensemble, names []string, vectors [][]float64) []FeatureImportance {
	if len(vectors) == 0 {
		return nil
	}
	sums := make([]float64, model.NumFeatures)
	for _, x := range vectors {
		phi := model.Contributions(x)
		for f := range sums {
			sums[f] += math.Abs(phi[f])
		}
	}

	out := make([]FeatureImportance, len(sums))
	for f, s := range sums {
		name := ""
		if f < len(names) {
			name = names[f]
		}
		out[f] = FeatureImportance{Feature: name, MeanAbs: s / float64(len(vectors))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeanAbs > out[j].MeanAbs })
	return out
}
