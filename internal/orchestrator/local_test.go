package orchestrator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
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
func (unreachableProvider) Connect(context.Context) error       { return nil }
func (unreachableProvider) Disconnect(context.Context) error    { return nil }
func (unreachableProvider) Status() marketdata.ConnectionStatus { return marketdata.StatusConnected }

type noGapCalendar struct{}

func (noGapCalendar) Classify(string, types.Timeframe, time.Time) types.GapKind { return types.GapData }

func seedBars(t *testing.T, st store.Store, key types.SeriesKey, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 5 * math.Sin(float64(i)/3.0)
		bars[i] = types.Bar{Timestamp: base.AddDate(0, 0, i), Open: price, High: price + 2, Low: price - 2, Close: price + 0.5, Volume: 1000, Source: types.SourceBroker}
	}
	require.NoError(t, st.UpsertBars(context.Background(), key, bars))
}

func testStrategyConfig(symbols []string, timeframe types.Timeframe) types.StrategyConfig {
	return types.StrategyConfig{
		Name:       "test-strategy",
		Symbols:    symbols,
		Timeframes: []types.Timeframe{timeframe},
		Indicators: []types.IndicatorConfig{{Name: "sma", Params: map[string]interface{}{"period": 5}}},
		FuzzySets: []types.FuzzySetConfig{
			{Name: "high", Input: "sma", Kind: "triangular", Params: map[string]interface{}{"a": 95.0, "b": 105.0, "c": 115.0}},
		},
		Features: types.FeatureSelection{IncludeIndicators: []string{"sma"}, IncludeFuzzy: []string{"high"}},
		Labels:   types.LabelConfig{Generator: types.LabelGeneratorDirectionalMove, Horizon: 2, ThresholdUp: 0.002, ThresholdDown: 0.002},
		Model:    types.ModelConfig{Architecture: "feedforward", Layers: []int{8}, Activation: "relu", Dropout: 0},
		Training: types.TrainingConfig{Epochs: 3, BatchSize: 8, LearningRate: 0.05, ValSplit: 0.2, TestSplit: 0.2, Seed: 1},
	}
}

func TestLocal_Start_RunsToCompletionWithSessionInfo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	symbols := []string{"AAPL", "MSFT"}
	timeframe := types.Timeframe1Day
	for _, s := range symbols {
		seedBars(t, st, types.SeriesKey{Symbol: s, Timeframe: timeframe}, 80)
	}

	dm, err := datamanager.New(st, unreachableProvider{}, noGapCalendar{}, datamanager.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	pipeline := training.New(dm, indicators.NewEngine(), fuzzy.NewEngine(), t.TempDir(), 2, zaptest.NewLogger(t))
	local := NewLocal(pipeline, DefaultLocalConfig(), zaptest.NewLogger(t))

	cfg := testStrategyConfig(symbols, timeframe)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 79)

	var progressCalls int
	handle := local.Start(ctx, symbols, start, end, cfg, datamanager.ModeLocal, func(training.ProgressUpdate) { progressCalls++ })
	require.NotEmpty(t, handle.OperationID())

	result := <-handle.Result()

	assert.Equal(t, types.ResultCompleted, result.Status)
	require.NotNil(t, result.SessionInfo)
	assert.Equal(t, handle.OperationID(), result.SessionInfo.OperationID)
	assert.Equal(t, "local", result.SessionInfo.Mode)
	assert.Equal(t, symbols, result.SessionInfo.Symbols)
	assert.Equal(t, handle.OperationID(), result.SessionID)
	assert.Greater(t, progressCalls, 0)
}

func TestLocal_Start_CancelProducesCancelledResult(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	symbols := []string{"AAPL"}
	timeframe := types.Timeframe1Day
	seedBars(t, st, types.SeriesKey{Symbol: symbols[0], Timeframe: timeframe}, 80)

	dm, err := datamanager.New(st, unreachableProvider{}, noGapCalendar{}, datamanager.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	pipeline := training.New(dm, indicators.NewEngine(), fuzzy.NewEngine(), t.TempDir(), 2, zaptest.NewLogger(t))
	local := NewLocal(pipeline, DefaultLocalConfig(), zaptest.NewLogger(t))

	cfg := testStrategyConfig(symbols, timeframe)
	cfg.Training.Epochs = 50 // give Cancel time to land before the run finishes naturally
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 79)

	handle := local.Start(ctx, symbols, start, end, cfg, datamanager.ModeLocal, nil)
	handle.Cancel()

	result := <-handle.Result()
	assert.Contains(t, []types.ResultStatus{types.ResultCancelled, types.ResultCompleted}, result.Status)
}
