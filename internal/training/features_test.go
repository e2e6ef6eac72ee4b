package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func testBars(n int) []types.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 1
		bars[i] = types.Bar{Timestamp: base.AddDate(0, 0, i), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10, Source: types.SourceBroker}
	}
	return bars
}

func frameWithWarmup(bars []types.Bar, warmup int) types.IndicatorFrame {
	rows := make([]types.IndicatorRow, len(bars))
	for i, b := range bars {
		v := types.Undefined
		if i >= warmup {
			v = b.Close
		}
		rows[i] = types.IndicatorRow{Timestamp: b.Timestamp, Fields: map[string]float64{"value": v}}
	}
	return types.IndicatorFrame{Name: "sma", Rows: rows}
}

func TestBuildSymbolDataset_DropsWarmupAndHorizonTail(t *testing.T) {
	bars := testBars(20)
	indicators := map[string]types.IndicatorFrame{"sma": frameWithWarmup(bars, 5)}
	cfg := types.StrategyConfig{
		Features: types.FeatureSelection{IncludeIndicators: []string{"sma"}},
		Labels:   types.LabelConfig{Generator: types.LabelGeneratorDirectionalMove, Horizon: 3, ThresholdUp: 0.001, ThresholdDown: 0.001},
	}

	ds, err := buildSymbolDataset("AAPL", bars, indicators, types.FuzzyFrame{}, cfg)
	require.NoError(t, err)

	// warm-up rows [0,5) dropped, and the last `horizon` rows dropped (no forward label available).
	assert.Equal(t, 20-5-3, len(ds.Rows))
	assert.Equal(t, "AAPL", ds.Symbol)
	for _, row := range ds.Rows {
		assert.False(t, types.IsUndefined(row.Features[0]))
	}
}

func TestBuildSymbolDataset_UnknownIndicatorErrors(t *testing.T) {
	bars := testBars(10)
	cfg := types.StrategyConfig{Features: types.FeatureSelection{IncludeIndicators: []string{"missing"}}}
	_, err := buildSymbolDataset("AAPL", bars, map[string]types.IndicatorFrame{}, types.FuzzyFrame{}, cfg)
	require.Error(t, err)
}

func TestDirectionalMoveLabel_Classifies(t *testing.T) {
	bars := []types.Bar{
		{Timestamp: time.Unix(0, 0).UTC(), Close: 100},
		{Timestamp: time.Unix(1, 0).UTC(), Close: 102},
		{Timestamp: time.Unix(2, 0).UTC(), Close: 98},
		{Timestamp: time.Unix(3, 0).UTC(), Close: 98.05},
	}
	cfg := types.LabelConfig{Horizon: 1, ThresholdUp: 0.01, ThresholdDown: 0.01}

	label, ok := directionalMoveLabel(bars, 0, cfg)
	require.True(t, ok)
	assert.Equal(t, types.LabelUp, label)

	label, ok = directionalMoveLabel(bars, 1, cfg)
	require.True(t, ok)
	assert.Equal(t, types.LabelDown, label)

	label, ok = directionalMoveLabel(bars, 2, cfg)
	require.True(t, ok)
	assert.Equal(t, types.LabelFlat, label)

	_, ok = directionalMoveLabel(bars, 3, cfg)
	assert.False(t, ok, "last bar has no forward horizon")
}
