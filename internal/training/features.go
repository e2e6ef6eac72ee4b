package training

import (
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// featureRow is one aligned (features, label) observation for a single symbol.
type featureRow struct {
	Timestamp time.Time
	Features  []float64
	Label     types.LabelClass
}

// symbolDataset is one symbol's feature/label rows, in ascending time order.
type symbolDataset struct {
	Symbol string
	Rows   []featureRow
}

// featureNames returns the ordered column names a dataset's Features slices
// follow: configured indicator columns first, then fuzzy membership columns
// (spec.md §4.6 step 3). The order is fixed so FeatureNames persisted in the
// model artifact always matches the trained weights' input layer.
func featureNames(cfg types.FeatureSelection) []string {
	names := make([]string, 0, len(cfg.IncludeIndicators)+len(cfg.IncludeFuzzy))
	names = append(names, cfg.IncludeIndicators...)
	names = append(names, cfg.IncludeFuzzy...)
	return names
}

// buildSymbolDataset assembles one symbol's feature rows from its computed
// IndicatorFrames and FuzzyFrame (all positionally aligned to bars, since
// every frame was computed from the same contiguous bar slice), then labels
// each row with the configured label generator. Rows where any selected
// feature is undefined (warm-up) are dropped, as are trailing rows beyond
// the label horizon (spec.md §4.6 steps 3-4).
func buildSymbolDataset(symbol string, bars []types.Bar, indicators map[string]types.IndicatorFrame, fuzzy types.FuzzyFrame, cfg types.StrategyConfig) (symbolDataset, error) {
	names := featureNames(cfg.Features)
	if len(names) == 0 {
		return symbolDataset{}, errors.New(errors.ConfigError, "strategy config selects no features")
	}

	for _, name := range cfg.Features.IncludeIndicators {
		frame, ok := indicators[name]
		if !ok {
			return symbolDataset{}, errors.Newf(errors.ConfigError, "feature selection references unknown indicator %q", name)
		}
		if len(frame.Rows) != len(bars) {
			return symbolDataset{}, errors.Newf(errors.DataIntegrity, "indicator %q has %d rows, expected %d aligned to bars", name, len(frame.Rows), len(bars))
		}
	}
	if len(cfg.Features.IncludeFuzzy) > 0 && len(fuzzy.Rows) != len(bars) {
		return symbolDataset{}, errors.Newf(errors.DataIntegrity, "fuzzy frame has %d rows, expected %d aligned to bars", len(fuzzy.Rows), len(bars))
	}

	rows := make([]featureRow, 0, len(bars))
	for i, b := range bars {
		features := make([]float64, len(names))
		undefined := false
		col := 0
		for _, name := range cfg.Features.IncludeIndicators {
			v := indicators[name].Rows[i].Value()
			if types.IsUndefined(v) {
				undefined = true
			}
			features[col] = v
			col++
		}
		for _, name := range cfg.Features.IncludeFuzzy {
			v := fuzzy.Rows[i].Memberships[name]
			if types.IsUndefined(v) {
				undefined = true
			}
			features[col] = v
			col++
		}
		if undefined {
			continue
		}

		label, ok := generateLabel(bars, i, cfg.Labels)
		if !ok {
			continue
		}

		rows = append(rows, featureRow{Timestamp: b.Timestamp, Features: features, Label: label})
	}

	return symbolDataset{Symbol: symbol, Rows: rows}, nil
}

// generateLabel applies the configured label generator to bar i. Only
// directional_move is implemented (spec.md §9 open question); any other
// configured kind is a ConfigError raised earlier at strategy-config load
// time, not here.
func generateLabel(bars []types.Bar, i int, cfg types.LabelConfig) (types.LabelClass, bool) {
	switch cfg.Generator {
	case types.LabelGeneratorDirectionalMove:
		return directionalMoveLabel(bars, i, cfg)
	default:
		return "", false
	}
}

func directionalMoveLabel(bars []types.Bar, i int, cfg types.LabelConfig) (types.LabelClass, bool) {
	j := i + cfg.Horizon
	if j >= len(bars) {
		return "", false
	}
	ret := (bars[j].Close - bars[i].Close) / bars[i].Close
	switch {
	case ret >= cfg.ThresholdUp:
		return types.LabelUp, true
	case ret <= -cfg.ThresholdDown:
		return types.LabelDown, true
	default:
		return types.LabelFlat, true
	}
}
