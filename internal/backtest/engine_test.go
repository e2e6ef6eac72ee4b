package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrdr-io/ktrdr/internal/decision"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func bar(day int, open, high, low, close float64) types.Bar {
	return types.Bar{
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:      open, High: high, Low: low, Close: close, Volume: 100,
		Source: types.SourceBroker,
	}
}

func TestEngine_Run_LongRoundTrip(t *testing.T) {
	rows := []Row{
		{Bar: bar(1, 100, 101, 99, 100), Fuzzy: map[string]float64{"oversold": 0.9, "overbought": 0}},
		{Bar: bar(2, 100, 102, 99, 101), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0}},
		{Bar: bar(3, 101, 103, 100, 102), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0.9}},
		{Bar: bar(4, 102, 104, 101, 103), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0}},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "enter", Field: "oversold", Operator: ">", Value: 0.5}},
		Exit:            []types.RuleExpr{{ID: "exit", Field: "overbought", Operator: ">", Value: 0.5}},
		SignalThreshold: 0.3,
	}
	exec := types.ExecutionConfig{CommissionMode: types.CommissionFixed, CommissionValue: 0, SlippageMode: types.SlippageFixed, SlippageValue: 0}
	risk := types.RiskConfig{PositionSizing: types.PositionSizingFixed, FixedSize: 10}

	eng := New(decision.NewEngine(), exec, risk, rules, 10000)
	result, err := eng.Run("AAPL", rows)
	require.NoError(t, err)

	require.Len(t, result.TradeLog, 1, "one entry + one exit signal must produce exactly one closed trade")
	trade := result.TradeLog[0]
	assert.Equal(t, types.DirectionLong, trade.Direction)
	assert.Equal(t, 100.0, trade.EntryPrice, "market order fills at the next bar's open")
	assert.Equal(t, 102.0, trade.ExitPrice)
	assert.InDelta(t, (102.0-100.0)*10, trade.PnL, 1e-9)
	assert.Len(t, result.EquityCurve, len(rows))
	assert.Len(t, result.DrawdownSeries, len(rows))
}

func TestEngine_Run_ForceClosesOpenPositionAtEndOfData(t *testing.T) {
	rows := []Row{
		{Bar: bar(1, 100, 101, 99, 100), Fuzzy: map[string]float64{"oversold": 0.9}},
		{Bar: bar(2, 100, 102, 99, 101), Fuzzy: map[string]float64{"oversold": 0}},
		{Bar: bar(3, 101, 103, 100, 105), Fuzzy: map[string]float64{"oversold": 0}},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "enter", Field: "oversold", Operator: ">", Value: 0.5}},
		SignalThreshold: 0.3,
	}
	exec := types.ExecutionConfig{CommissionMode: types.CommissionFixed}
	risk := types.RiskConfig{PositionSizing: types.PositionSizingFixed, FixedSize: 5}

	eng := New(decision.NewEngine(), exec, risk, rules, 1000)
	result, err := eng.Run("AAPL", rows)
	require.NoError(t, err)

	require.Len(t, result.TradeLog, 1)
	assert.Equal(t, "end_of_data", result.TradeLog[0].ExitReason)
	assert.Equal(t, 105.0, result.TradeLog[0].ExitPrice, "forced close uses the final bar's close")
}

func TestEngine_Run_ExposureLimitRejectsOversizedEntry(t *testing.T) {
	rows := []Row{
		{Bar: bar(1, 100, 101, 99, 100), Fuzzy: map[string]float64{"oversold": 0.9}},
		{Bar: bar(2, 100, 102, 99, 101), Fuzzy: map[string]float64{"oversold": 0}},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "enter", Field: "oversold", Operator: ">", Value: 0.5}},
		SignalThreshold: 0.3,
	}
	exec := types.ExecutionConfig{}
	risk := types.RiskConfig{PositionSizing: types.PositionSizingFixed, FixedSize: 1000, MaxExposure: 0.1}

	eng := New(decision.NewEngine(), exec, risk, rules, 1000)
	result, err := eng.Run("AAPL", rows)
	require.NoError(t, err)
	assert.Empty(t, result.TradeLog, "a trade exceeding max_exposure must be rejected, not opened")
}

func TestEngine_Run_Deterministic(t *testing.T) {
	rows := []Row{
		{Bar: bar(1, 100, 101, 99, 100), Fuzzy: map[string]float64{"oversold": 0.9, "overbought": 0}},
		{Bar: bar(2, 100, 102, 99, 101), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0}},
		{Bar: bar(3, 101, 103, 100, 102), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0.9}},
		{Bar: bar(4, 102, 104, 101, 103), Fuzzy: map[string]float64{"oversold": 0, "overbought": 0}},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "enter", Field: "oversold", Operator: ">", Value: 0.5}},
		Exit:            []types.RuleExpr{{ID: "exit", Field: "overbought", Operator: ">", Value: 0.5}},
		SignalThreshold: 0.3,
	}
	exec := types.ExecutionConfig{SlippageMode: types.SlippageFixed, SlippageValue: 0.1}
	risk := types.RiskConfig{PositionSizing: types.PositionSizingFixed, FixedSize: 10}

	run := func() types.BacktestResult {
		eng := New(decision.NewEngine(), exec, risk, rules, 10000)
		result, err := eng.Run("AAPL", rows)
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	assert.Equal(t, a.TradeLog, b.TradeLog, "identical inputs must produce a bit-identical trade log")
	assert.Equal(t, a.Metrics, b.Metrics)
}
