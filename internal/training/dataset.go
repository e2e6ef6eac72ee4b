package training

import (
	"math/rand"
	"sort"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// dataset is the concatenated, symbol-tagged training corpus.
type dataset struct {
	FeatureNames []string
	Features     [][]float64
	Labels       []types.LabelClass
	Symbols      []string
	Timestamps   []time.Time
	// PerSymbolCount records how many rows each symbol contributed, in
	// concatenation order, for the data summary (spec.md §4.6 step 5).
	PerSymbolCount map[string]int
}

// concatenate appends each symbol's rows sequentially in the caller's
// symbol order, preserving intra-symbol temporal order. It never shuffles
// and never emits a symbol-identity feature (spec.md §4.6 step 5) —
// Symbols is bookkeeping for later per-symbol metrics tagging only.
func concatenate(names []string, symbolOrder []string, bySymbol map[string]symbolDataset) dataset {
	d := dataset{FeatureNames: names, PerSymbolCount: make(map[string]int, len(symbolOrder))}
	for _, symbol := range symbolOrder {
		sd, ok := bySymbol[symbol]
		if !ok {
			continue
		}
		d.PerSymbolCount[symbol] = len(sd.Rows)
		for _, row := range sd.Rows {
			d.Features = append(d.Features, row.Features)
			d.Labels = append(d.Labels, row.Label)
			d.Symbols = append(d.Symbols, symbol)
			d.Timestamps = append(d.Timestamps, row.Timestamp)
		}
	}
	return d
}

// splitIndices partitions a dataset into train/val/test row indices per
// spec.md §4.6 step 7: time-ordered by default, optionally a seeded
// random split when the strategy config explicitly opts in.
type splitIndices struct {
	Train, Val, Test []int
}

// symbolRange is a contiguous run of one symbol's rows within a
// concatenated dataset — concatenate() never interleaves symbols, so each
// symbol occupies exactly one such run.
type symbolRange struct {
	start, end int // [start,end)
}

// symbolRanges scans symbols (as produced by concatenate) for the
// contiguous per-symbol runs.
func symbolRanges(symbols []string) []symbolRange {
	var ranges []symbolRange
	start := 0
	for i := 1; i <= len(symbols); i++ {
		if i == len(symbols) || symbols[i] != symbols[start] {
			ranges = append(ranges, symbolRange{start: start, end: i})
			start = i
		}
	}
	return ranges
}

// splitDataset splits d's rows train/val/test *per symbol* and then
// concatenates each partition across symbols, so that which rows land in
// train/val/test depends only on a row's position within its own symbol's
// history — never on where other symbols happen to sit in the caller's
// symbol order (spec.md §8 property 3 / seed scenario S4: reordering
// symbols must not move whole symbols across the train/test boundary).
//
// Each partition is then reordered by (timestamp, symbol) rather than left
// in caller-symbol-concatenation order: mini-batch composition in
// runTraining follows row order directly, so leaving it keyed to the
// caller's symbol order would make the trained weights (and therefore test
// accuracy) depend on that order even though partition membership no
// longer does. Sorting by timestamp gives every symbol order the same
// batch sequence.
func splitDataset(d dataset, cfg types.TrainingConfig) splitIndices {
	var idx splitIndices
	for _, r := range symbolRanges(d.Symbols) {
		local := splitRange(r.start, r.end, cfg)
		idx.Train = append(idx.Train, local.Train...)
		idx.Val = append(idx.Val, local.Val...)
		idx.Test = append(idx.Test, local.Test...)
	}
	sortByTimeThenSymbol(idx.Train, d)
	sortByTimeThenSymbol(idx.Val, d)
	sortByTimeThenSymbol(idx.Test, d)
	return idx
}

// sortByTimeThenSymbol orders idx (row positions into d) canonically by
// (timestamp, symbol) so partition row order never depends on the caller's
// symbol concatenation order; the symbol tie-break only matters for rows
// sharing an identical timestamp across symbols.
func sortByTimeThenSymbol(idx []int, d dataset) {
	sort.Slice(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		ta, tb := d.Timestamps[a], d.Timestamps[b]
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return d.Symbols[a] < d.Symbols[b]
	})
}

// splitRange splits the local row count of one symbol's [start,end) run
// and maps the resulting local indices back into global dataset indices.
// Random-seeded mode reseeds independently per symbol run (same cfg.Seed
// each time) rather than sharing one RNG draw sequence across symbols, so
// a symbol's own split is likewise independent of other symbols' order.
func splitRange(start, end int, cfg types.TrainingConfig) splitIndices {
	n := end - start
	trainFrac := 1 - cfg.ValSplit - cfg.TestSplit
	trainEnd := int(float64(n) * trainFrac)
	valEnd := int(float64(n) * (trainFrac + cfg.ValSplit))

	if cfg.SplitMode != types.SplitRandomSeeded {
		return splitIndices{
			Train: offsetIndices(rangeIndices(0, trainEnd), start),
			Val:   offsetIndices(rangeIndices(trainEnd, valEnd), start),
			Test:  offsetIndices(rangeIndices(valEnd, n), start),
		}
	}

	order := rangeIndices(0, n)
	rand.New(rand.NewSource(cfg.Seed)).Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	idx := splitIndices{
		Train: offsetIndices(append([]int{}, order[:trainEnd]...), start),
		Val:   offsetIndices(append([]int{}, order[trainEnd:valEnd]...), start),
		Test:  offsetIndices(append([]int{}, order[valEnd:]...), start),
	}
	sort.Ints(idx.Train)
	sort.Ints(idx.Val)
	sort.Ints(idx.Test)
	return idx
}

func offsetIndices(idx []int, offset int) []int {
	for i := range idx {
		idx[i] += offset
	}
	return idx
}

func rangeIndices(start, end int) []int {
	if end < start {
		end = start
	}
	out := make([]int, end-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}

// subset gathers rows at idx into a fresh, contiguous (features, labels, symbols) view.
func subset(d dataset, idx []int) ([][]float64, []types.LabelClass, []string) {
	features := make([][]float64, len(idx))
	labels := make([]types.LabelClass, len(idx))
	symbols := make([]string, len(idx))
	for i, row := range idx {
		features[i] = d.Features[row]
		labels[i] = d.Labels[row]
		symbols[i] = d.Symbols[row]
	}
	return features, labels, symbols
}
