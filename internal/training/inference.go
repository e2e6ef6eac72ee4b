package training

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Predict runs a LoadedModel's network over one feature row, normalizing
// with the artifact's persisted training-split statistics first, and
// returns the per-class probability distribution. This is the inference
// path the DecisionEngine (C8) drives when rule strength is model-derived
// rather than fuzzy-aggregated (spec.md §4.8).
func Predict(model LoadedModel, featureRow []float64) map[types.LabelClass]float64 {
	normalized := make([]float64, len(featureRow))
	copy(normalized, featureRow)
	for i := range normalized {
		if i < len(model.Normalization.Mean) && i < len(model.Normalization.StdDev) {
			sd := model.Normalization.StdDev[i]
			if sd == 0 {
				sd = 1
			}
			normalized[i] = (normalized[i] - model.Normalization.Mean[i]) / sd
		}
	}

	x := mat.NewDense(1, len(normalized), normalized)
	probs := model.Net.predict(x)

	out := make(map[types.LabelClass]float64, len(model.Net.Classes))
	for i, class := range model.Net.Classes {
		out[class] = probs.At(0, i)
	}
	return out
}
