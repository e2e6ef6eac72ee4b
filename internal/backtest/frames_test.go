package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/decision"
	"github.com/ktrdr-io/ktrdr/internal/fuzzy"
	"github.com/ktrdr-io/ktrdr/internal/indicators"
	"github.com/ktrdr-io/ktrdr/internal/marketdata"
	"github.com/ktrdr-io/ktrdr/internal/store"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

type unreachableProvider struct{}

func (unreachableProvider) FetchBars(context.Context, types.SeriesKey, time.Time, time.Time) ([]types.Bar, error) {
	panic("provider must not be called under ModeLocal")
}
func (unreachableProvider) ContractDetails(context.Context, string) (marketdata.ContractDetails, error) {
	return marketdata.ContractDetails{}, nil
}
func (unreachableProvider) Connect(context.Context) error      { return nil }
func (unreachableProvider) Disconnect(context.Context) error   { return nil }
func (unreachableProvider) Status() marketdata.ConnectionStatus { return marketdata.StatusConnected }

type noGapCalendar struct{}

func (noGapCalendar) Classify(string, types.Timeframe, time.Time) types.GapKind { return types.GapData }

func seedBars(t *testing.T, st store.Store, key types.SeriesKey, n int) []types.Bar {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 5 * math.Sin(float64(i)/3.0)
		bars[i] = types.Bar{Timestamp: base.AddDate(0, 0, i), Open: price, High: price + 2, Low: price - 2, Close: price + 0.5, Volume: 1000, Source: types.SourceBroker}
	}
	require.NoError(t, st.UpsertBars(context.Background(), key, bars))
	return bars
}

// TestBuildRows_WiresTrainedModelIntoDecisionStrength trains a tiny model
// (C6), loads it back via training.LoadArtifact, and drives BuildRows +
// DecisionEngine with a rule referencing "model.<class>" — the C6 -> C8
// inference path spec.md §4.8 describes, exercised end to end rather than
// left as dead exported code.
func TestBuildRows_WiresTrainedModelIntoDecisionStrength(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	symbol, timeframe := "AAPL", types.Timeframe1Day
	bars := seedBars(t, st, types.SeriesKey{Symbol: symbol, Timeframe: timeframe}, 80)

	dm, err := datamanager.New(st, unreachableProvider{}, noGapCalendar{}, datamanager.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	indicatorEngine := indicators.NewEngine()
	fuzzyEngine := fuzzy.NewEngine()

	cfg := types.StrategyConfig{
		Name:       "model-wiring-test",
		Symbols:    []string{symbol},
		Timeframes: []types.Timeframe{timeframe},
		Indicators: []types.IndicatorConfig{{Name: "sma", Params: map[string]interface{}{"period": 5}}},
		FuzzySets: []types.FuzzySetConfig{
			{Name: "high", Input: "sma", Kind: "triangular", Params: map[string]interface{}{"a": 95.0, "b": 105.0, "c": 115.0}},
		},
		Features: types.FeatureSelection{IncludeIndicators: []string{"sma"}, IncludeFuzzy: []string{"high"}},
		Labels:   types.LabelConfig{Generator: types.LabelGeneratorDirectionalMove, Horizon: 2, ThresholdUp: 0.002, ThresholdDown: 0.002},
		Model:    types.ModelConfig{Architecture: "feedforward", Layers: []int{8}, Activation: "relu", Dropout: 0},
		Training: types.TrainingConfig{Epochs: 2, BatchSize: 8, LearningRate: 0.05, ValSplit: 0.2, TestSplit: 0.2, Seed: 1},
	}

	pipeline := training.New(dm, indicatorEngine, fuzzyEngine, t.TempDir(), 2, zaptest.NewLogger(t))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 79)
	result, err := pipeline.TrainStrategy(ctx, []string{symbol}, start, end, cfg, datamanager.ModeLocal, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.ModelPath)

	model, err := training.LoadArtifact(result.ModelPath)
	require.NoError(t, err)

	indicatorFrame, err := indicatorEngine.Compute("sma", bars, map[string]interface{}{"period": 5})
	require.NoError(t, err)
	fuzzySet := types.FuzzySet{Name: "high", InputName: "sma", Kind: types.Triangular{A: 95, B: 105, C: 115}}
	fuzzyFrame, err := fuzzyEngine.Evaluate([]types.FuzzySet{fuzzySet}, map[string]types.IndicatorFrame{"sma": indicatorFrame})
	require.NoError(t, err)

	rows, err := BuildRows(bars, map[string]types.IndicatorFrame{"sma": indicatorFrame}, fuzzyFrame, &model)
	require.NoError(t, err)
	require.Len(t, rows, len(bars))

	var sawDefinedModelRow bool
	for _, row := range rows {
		if row.Model == nil {
			continue
		}
		sum := 0.0
		for _, p := range row.Model {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
		}
		if !math.IsNaN(sum) {
			sawDefinedModelRow = true
			assert.InDelta(t, 1.0, sum, 1e-6, "per-class probabilities must sum to 1")
		}
	}
	assert.True(t, sawDefinedModelRow, "at least one row past warm-up should carry defined model probabilities")

	decisionRows := make([]decision.Row, len(rows))
	for i, row := range rows {
		decisionRows[i] = decision.Row{Timestamp: row.Bar.Timestamp, Symbol: symbol, IndicatorValues: row.Indicators, FuzzyMemberships: row.Fuzzy, ModelProbabilities: row.Model}
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "model-enter", Field: "model.up", Operator: ">", Value: 0.0}},
		SignalThreshold: 0,
	}
	signals, err := decision.NewEngine().Evaluate(decisionRows, rules)
	require.NoError(t, err)
	assert.NotEmpty(t, signals, "a trained model's probabilities must be able to drive a rule referencing model.<class>")
}
