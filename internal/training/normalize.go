package training

import (
	"math"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// computeNormalization derives per-feature mean/stddev from the training
// split only (spec.md §4.6 step 6) — val/test rows never influence the
// statistics used to normalize them, avoiding lookahead leakage.
func computeNormalization(features [][]float64, trainIdx []int) types.NormalizationStats {
	if len(trainIdx) == 0 || len(features) == 0 {
		return types.NormalizationStats{}
	}
	dims := len(features[0])
	mean := make([]float64, dims)
	for _, i := range trainIdx {
		for c, v := range features[i] {
			mean[c] += v
		}
	}
	for c := range mean {
		mean[c] /= float64(len(trainIdx))
	}

	variance := make([]float64, dims)
	for _, i := range trainIdx {
		for c, v := range features[i] {
			d := v - mean[c]
			variance[c] += d * d
		}
	}
	stddev := make([]float64, dims)
	for c := range variance {
		stddev[c] = math.Sqrt(variance[c] / float64(len(trainIdx)))
		if stddev[c] == 0 {
			stddev[c] = 1 // constant feature: leave it at its mean-centered value, don't divide by zero
		}
	}

	return types.NormalizationStats{Mean: mean, StdDev: stddev}
}

// applyNormalization normalizes rows in place using stats computed
// elsewhere (always from the training split, per computeNormalization).
func applyNormalization(rows [][]float64, stats types.NormalizationStats) {
	for _, row := range rows {
		for c := range row {
			row[c] = (row[c] - stats.Mean[c]) / stats.StdDev[c]
		}
	}
}
