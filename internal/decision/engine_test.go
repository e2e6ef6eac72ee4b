package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func TestEngine_Evaluate_EntryTriggersOnFuzzyThreshold(t *testing.T) {
	e := NewEngine()
	rows := []Row{
		{
			Timestamp:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Symbol:           "AAPL",
			IndicatorValues:  map[string]float64{"rsi": 20},
			FuzzyMemberships: map[string]float64{"oversold": 0.8},
		},
	}
	rules := types.RulesConfig{
		Entry: []types.RuleExpr{
			{ID: "buy-oversold", Field: "oversold", Operator: ">", Value: 0.5, Direction: "long"},
		},
		SignalThreshold: 0.3,
	}

	signals, err := e.Evaluate(rows, rules)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, types.SignalEntry, signals[0].Type)
	assert.Equal(t, types.DirectionLong, signals[0].Direction)
	assert.Equal(t, 0.8, signals[0].Strength)
	assert.Equal(t, "buy-oversold", signals[0].Explanation.RuleID)
}

func TestEngine_Evaluate_BelowThresholdSuppressed(t *testing.T) {
	e := NewEngine()
	rows := []Row{
		{
			Timestamp:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IndicatorValues:  map[string]float64{"rsi": 20},
			FuzzyMemberships: map[string]float64{"oversold": 0.2},
		},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "buy", Field: "oversold", Operator: ">", Value: 0.1}},
		SignalThreshold: 0.5,
	}

	signals, err := e.Evaluate(rows, rules)
	require.NoError(t, err)
	assert.Empty(t, signals, "strength below signal_threshold must be suppressed")
}

func TestEngine_Evaluate_AndOrComposition(t *testing.T) {
	e := NewEngine()
	rows := []Row{
		{
			Timestamp:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IndicatorValues: map[string]float64{"rsi": 15, "macd": 1.2},
		},
	}
	rules := types.RulesConfig{
		Entry: []types.RuleExpr{
			{
				ID:    "combo",
				Field: "rsi", Operator: "<", Value: 20.0,
				And: []types.RuleExpr{{Field: "macd", Operator: ">", Value: 0.0}},
			},
		},
		SignalThreshold: 0,
	}

	signals, err := e.Evaluate(rows, rules)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 1.0, signals[0].Strength, "rule with no fuzzy leaves triggers at full strength")
}

func TestEngine_Evaluate_UndefinedNeverTriggers(t *testing.T) {
	e := NewEngine()
	rows := []Row{
		{
			Timestamp:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IndicatorValues: map[string]float64{"rsi": types.Undefined},
		},
	}
	rules := types.RulesConfig{
		Entry: []types.RuleExpr{{ID: "warmup-row", Field: "rsi", Operator: "<", Value: 20.0}},
	}

	signals, err := e.Evaluate(rows, rules)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestEngine_Evaluate_ModelProbabilityDrivesStrength(t *testing.T) {
	e := NewEngine()
	rows := []Row{
		{
			Timestamp:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			IndicatorValues:    map[string]float64{"rsi": 15},
			ModelProbabilities: map[types.LabelClass]float64{types.LabelUp: 0.9, types.LabelDown: 0.1},
		},
	}
	rules := types.RulesConfig{
		Entry:           []types.RuleExpr{{ID: "model-driven", Field: "rsi", Operator: "<", Value: 20.0}},
		SignalThreshold: 0.5,
	}

	signals, err := e.Evaluate(rows, rules)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 0.9, signals[0].Strength)
}
