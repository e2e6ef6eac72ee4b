package fuzzy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func frameOf(values ...float64) types.IndicatorFrame {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]types.IndicatorRow, len(values))
	for i, v := range values {
		rows[i] = types.IndicatorRow{Timestamp: base.AddDate(0, 0, i), Fields: map[string]float64{"value": v}}
	}
	return types.IndicatorFrame{Name: "rsi", Rows: rows}
}

func TestEngine_Evaluate_TriangularMembership(t *testing.T) {
	e := NewEngine()
	sets := []types.FuzzySet{
		{Name: "low", InputName: "rsi", Kind: types.Triangular{A: 0, B: 0, C: 50}, Scale: types.ScaleLinear},
		{Name: "high", InputName: "rsi", Kind: types.Triangular{A: 50, B: 100, C: 100}, Scale: types.ScaleLinear},
	}
	inputs := map[string]types.IndicatorFrame{"rsi": frameOf(0, 25, 50, 75, 100)}

	frame, err := e.Evaluate(sets, inputs)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 5)

	assert.Equal(t, 1.0, frame.Rows[0].Memberships["low"])
	assert.Equal(t, 0.5, frame.Rows[1].Memberships["low"])
	assert.Equal(t, 0.0, frame.Rows[2].Memberships["low"])
	assert.Equal(t, 1.0, frame.Rows[4].Memberships["high"])
}

func TestEngine_Evaluate_UndefinedPropagates(t *testing.T) {
	e := NewEngine()
	sets := []types.FuzzySet{
		{Name: "low", InputName: "rsi", Kind: types.Triangular{A: 0, B: 0, C: 50}, Scale: types.ScaleLinear},
	}
	inputs := map[string]types.IndicatorFrame{"rsi": frameOf(types.Undefined, 25)}

	frame, err := e.Evaluate(sets, inputs)
	require.NoError(t, err)
	assert.True(t, types.IsUndefined(frame.Rows[0].Memberships["low"]), "undefined input must not collapse to 0 membership")
}

func TestEngine_Evaluate_UnknownInput_Errors(t *testing.T) {
	e := NewEngine()
	sets := []types.FuzzySet{{Name: "low", InputName: "missing", Kind: types.Triangular{A: 0, B: 0, C: 50}}}
	_, err := e.Evaluate(sets, map[string]types.IndicatorFrame{})
	require.Error(t, err)
}

func TestEngine_Evaluate_SharedInputIndependentSets(t *testing.T) {
	e := NewEngine()
	sets := []types.FuzzySet{
		{Name: "low", InputName: "rsi", Kind: types.Triangular{A: 0, B: 0, C: 50}, Scale: types.ScaleLinear},
		{Name: "mid", InputName: "rsi", Kind: types.Triangular{A: 25, B: 50, C: 75}, Scale: types.ScaleLinear},
	}
	inputs := map[string]types.IndicatorFrame{"rsi": frameOf(50)}

	frame, err := e.Evaluate(sets, inputs)
	require.NoError(t, err)
	// Both memberships coexist; no partition-of-unity normalization forces them to sum to 1.
	assert.Equal(t, 0.0, frame.Rows[0].Memberships["low"])
	assert.Equal(t, 1.0, frame.Rows[0].Memberships["mid"])
}
