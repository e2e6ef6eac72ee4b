package backtest

import (
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// BuildRows assembles Engine.Run's replay input from aligned bar,
// indicator, and fuzzy frames — spec.md §4.9's "sequence of aligned
// (BarFrame, IndicatorFrame, FuzzyFrame) rows". When model is non-nil,
// each row's per-class probabilities are populated via training.Predict
// (C6's inference path), keyed by the model's own persisted feature
// order, so DecisionEngine's model-probability signal-strength branch
// (spec.md §4.8) is driven by a real trained model rather than left dark.
func BuildRows(bars []types.Bar, indicators map[string]types.IndicatorFrame, fuzzyFrame types.FuzzyFrame, model *training.LoadedModel) ([]Row, error) {
	for name, frame := range indicators {
		if len(frame.Rows) != len(bars) {
			return nil, errors.Newf(errors.DataIntegrity, "indicator %q has %d rows, expected %d aligned to bars", name, len(frame.Rows), len(bars))
		}
	}
	if len(fuzzyFrame.Rows) > 0 && len(fuzzyFrame.Rows) != len(bars) {
		return nil, errors.Newf(errors.DataIntegrity, "fuzzy frame has %d rows, expected %d aligned to bars", len(fuzzyFrame.Rows), len(bars))
	}

	rows := make([]Row, len(bars))
	for i, b := range bars {
		indicatorValues := make(map[string]float64, len(indicators))
		for name, frame := range indicators {
			indicatorValues[name] = frame.Rows[i].Value()
		}
		var fuzzyValues map[string]float64
		if len(fuzzyFrame.Rows) > 0 {
			fuzzyValues = fuzzyFrame.Rows[i].Memberships
		}

		row := Row{Bar: b, Indicators: indicatorValues, Fuzzy: fuzzyValues}
		if model != nil {
			row.Model = training.Predict(*model, featureVector(model.FeatureNames, indicatorValues, fuzzyValues))
		}
		rows[i] = row
	}
	return rows, nil
}

// featureVector orders indicator/fuzzy values by the model's persisted
// FeatureNames, the same column order training.buildSymbolDataset used to
// build the matrix the model was trained on.
func featureVector(names []string, indicatorValues, fuzzyValues map[string]float64) []float64 {
	vec := make([]float64, len(names))
	for i, name := range names {
		if v, ok := indicatorValues[name]; ok {
			vec[i] = v
			continue
		}
		if v, ok := fuzzyValues[name]; ok {
			vec[i] = v
		}
	}
	return vec
}
