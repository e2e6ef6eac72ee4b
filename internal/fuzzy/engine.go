// Package fuzzy implements the FuzzyEngine component (C5): evaluates
// triangular membership functions over an IndicatorFrame, producing an
// aligned FuzzyFrame. There is no direct teacher precedent for fuzzy
// logic — this package follows the same stateless-compute shape as
// internal/indicators' Engine, without a registry (one Engine, pure functions, no shared
// mutable state across calls) to stay consistent with the rest of the
// pipeline's texture.
package fuzzy

import (
	"math"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Engine evaluates FuzzySets against IndicatorFrames.
type Engine struct{}

// NewEngine constructs a stateless Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate computes one FuzzyFrame column per FuzzySet in sets, reading
// each set's InputName from the corresponding IndicatorFrame in inputs
// (keyed by indicator name). Sets may share an input; their memberships
// are evaluated independently, with no partition-of-unity normalization
// (spec.md §4.5). Undefined inputs propagate to undefined memberships.
func (e *Engine) Evaluate(sets []types.FuzzySet, inputs map[string]types.IndicatorFrame) (types.FuzzyFrame, error) {
	if len(sets) == 0 {
		return types.FuzzyFrame{}, errors.New(errors.ConfigError, "no fuzzy sets to evaluate")
	}

	var rowCount int
	var timestamps []time.Time
	for _, set := range sets {
		frame, ok := inputs[set.InputName]
		if !ok {
			return types.FuzzyFrame{}, errors.Newf(errors.ConfigError, "fuzzy set %q references unknown input %q", set.Name, set.InputName)
		}
		if timestamps == nil {
			rowCount = len(frame.Rows)
			timestamps = make([]time.Time, rowCount)
			for i, r := range frame.Rows {
				timestamps[i] = r.Timestamp
			}
		} else if len(frame.Rows) != rowCount {
			return types.FuzzyFrame{}, errors.Newf(errors.DataIntegrity,
				"fuzzy input %q has %d rows, expected %d to align with other inputs", set.InputName, len(frame.Rows), rowCount)
		}
	}

	rows := make([]types.FuzzyRow, rowCount)
	for i := range rows {
		rows[i] = types.FuzzyRow{Timestamp: timestamps[i], Memberships: make(map[string]float64, len(sets))}
	}

	for _, set := range sets {
		frame := inputs[set.InputName]
		for i, row := range frame.Rows {
			x := scale(row.Value(), set.Scale)
			rows[i].Memberships[set.Name] = set.Kind.Membership(x)
		}
	}

	return types.FuzzyFrame{Rows: rows}, nil
}

// scale applies the fuzzy set's input scale transform before membership
// evaluation. Undefined propagates through either transform untouched.
func scale(x float64, kind types.ScaleKind) float64 {
	if types.IsUndefined(x) {
		return x
	}
	switch kind {
	case types.ScaleLog:
		if x <= 0 {
			return types.Undefined
		}
		return math.Log(x)
	default:
		return x
	}
}
