package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func makeRows(n int, label types.LabelClass) []featureRow {
	rows := make([]featureRow, n)
	for i := range rows {
		rows[i] = featureRow{Features: []float64{float64(i)}, Label: label}
	}
	return rows
}

func TestConcatenate_PreservesSymbolOrderAndNoShuffle(t *testing.T) {
	bySymbol := map[string]symbolDataset{
		"AAPL": {Symbol: "AAPL", Rows: makeRows(3, types.LabelUp)},
		"MSFT": {Symbol: "MSFT", Rows: makeRows(2, types.LabelDown)},
	}
	ds := concatenate([]string{"value"}, []string{"AAPL", "MSFT"}, bySymbol)

	require.Len(t, ds.Features, 5)
	assert.Equal(t, []string{"AAPL", "AAPL", "AAPL", "MSFT", "MSFT"}, ds.Symbols)
	assert.Equal(t, 3, ds.PerSymbolCount["AAPL"])
	assert.Equal(t, 2, ds.PerSymbolCount["MSFT"])
	// intra-symbol order preserved: feature values ascend within each symbol's run.
	assert.Equal(t, 0.0, ds.Features[0][0])
	assert.Equal(t, 2.0, ds.Features[2][0])
}

func singleSymbolDataset(n int) dataset {
	symbols := make([]string, n)
	timestamps := make([]time.Time, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range symbols {
		symbols[i] = "AAPL"
		timestamps[i] = base.AddDate(0, 0, i)
	}
	return dataset{Symbols: symbols, Timestamps: timestamps}
}

func TestSplitDataset_TimeOrderedIsSequentialAndNonOverlapping(t *testing.T) {
	cfg := types.TrainingConfig{ValSplit: 0.2, TestSplit: 0.2}
	idx := splitDataset(singleSymbolDataset(100), cfg)

	assert.Equal(t, 60, len(idx.Train))
	assert.Equal(t, 20, len(idx.Val))
	assert.Equal(t, 20, len(idx.Test))
	assert.Equal(t, 0, idx.Train[0])
	assert.Equal(t, 59, idx.Train[len(idx.Train)-1])
	assert.Equal(t, 60, idx.Val[0])
	assert.Equal(t, 80, idx.Test[0])
}

func TestSplitDataset_RandomSeededIsDeterministic(t *testing.T) {
	cfg := types.TrainingConfig{ValSplit: 0.2, TestSplit: 0.2, SplitMode: types.SplitRandomSeeded, Seed: 42}
	a := splitDataset(singleSymbolDataset(50), cfg)
	b := splitDataset(singleSymbolDataset(50), cfg)
	assert.Equal(t, a.Train, b.Train)
	assert.Equal(t, a.Val, b.Val)
	assert.Equal(t, a.Test, b.Test)
}

// TestSplitDataset_InvariantUnderSymbolOrder is the S4 seed scenario
// (spec.md §8): splitting must depend only on a row's position within its
// own symbol's run, never on where other symbols sit in concatenation
// order — otherwise reordering symbols moves whole symbols across the
// train/test boundary.
func TestSplitDataset_InvariantUnderSymbolOrder(t *testing.T) {
	cfg := types.TrainingConfig{ValSplit: 0.2, TestSplit: 0.2}
	bySymbol := map[string]symbolDataset{
		"AAPL": {Symbol: "AAPL", Rows: makeRows(50, types.LabelUp)},
		"MSFT": {Symbol: "MSFT", Rows: makeRows(30, types.LabelDown)},
	}

	dsAM := concatenate([]string{"value"}, []string{"AAPL", "MSFT"}, bySymbol)
	dsMA := concatenate([]string{"value"}, []string{"MSFT", "AAPL"}, bySymbol)

	idxAM := splitDataset(dsAM, cfg)
	idxMA := splitDataset(dsMA, cfg)

	countBySymbol := func(d dataset, idx []int) map[string]int {
		counts := make(map[string]int)
		for _, i := range idx {
			counts[d.Symbols[i]]++
		}
		return counts
	}

	assert.Equal(t, countBySymbol(dsAM, idxAM.Train), countBySymbol(dsMA, idxMA.Train))
	assert.Equal(t, countBySymbol(dsAM, idxAM.Val), countBySymbol(dsMA, idxMA.Val))
	assert.Equal(t, countBySymbol(dsAM, idxAM.Test), countBySymbol(dsMA, idxMA.Test))
	// every symbol contributes rows to every partition — no whole symbol
	// relocated across the train/test boundary by the reordering.
	assert.Equal(t, 2, len(countBySymbol(dsAM, idxAM.Test)))
}

func TestComputeNormalization_UsesTrainSplitOnly(t *testing.T) {
	features := [][]float64{{0}, {10}, {1000}} // last row is an outlier, held out of train
	stats := computeNormalization(features, []int{0, 1})
	assert.InDelta(t, 5.0, stats.Mean[0], 1e-9)
}

func TestApplyNormalization_ConstantFeatureDoesNotDivideByZero(t *testing.T) {
	features := [][]float64{{5}, {5}, {5}}
	stats := computeNormalization(features, []int{0, 1, 2})
	applyNormalization(features, stats)
	for _, row := range features {
		assert.False(t, row[0] != row[0], "must not produce NaN")
	}
}
