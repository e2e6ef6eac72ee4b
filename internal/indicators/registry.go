// Package indicators implements the IndicatorEngine component (C4): a
// static registry of named indicators, each backed by go-talib, applied
// across per-symbol bar series with the shared "undefined" sentinel for
// warm-up rows instead of talib's raw leading zeroes.
package indicators

import (
	"math"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// ParamKind constrains the accepted Go type of a parameter value.
type ParamKind int

const (
	// ParamInt accepts int or a whole-number float64 (yaml/json numbers
	// decode as float64); a fractional float64 is rejected.
	ParamInt ParamKind = iota
	// ParamFloat accepts int or float64.
	ParamFloat
)

// ParamSchema describes one accepted parameter for an indicator: its name,
// default, required-ness, declared type, and optional inclusive range.
// Engine validates a config's params map against this before computing
// (spec.md §4.4: "parameter validation rejects out-of-range or
// non-integer periods with a precise message").
type ParamSchema struct {
	Name     string
	Default  interface{}
	Required bool
	Kind     ParamKind
	// Min/Max bound the parameter, inclusive; nil means unbounded on that side.
	Min, Max *float64
}

func floatPtr(v float64) *float64 { return &v }

// Spec is one entry in the static indicator registry: what columns it
// reads from a Bar, what parameters it accepts, how many leading rows are
// undefined (warm-up length) for a given param set, and the compute function.
type Spec struct {
	Name    string
	Params  []ParamSchema
	WarmUp  func(params map[string]interface{}) int
	Compute func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error)
}

// registry is the static name -> Spec table. Grounded on the teacher's
// IndicatorCalculator (internal/trading/market_data/timeframe/indicators.go):
// same SMA/EMA/RSI/MACD/BBands/ATR set, same go-talib calls, generalized
// from "compute the latest value for one symbol" to "compute the full
// column for a whole series with undefined warm-up rows marked".
var registry = map[string]Spec{
	"sma":    smaSpec,
	"ema":    emaSpec,
	"rsi":    rsiSpec,
	"macd":   macdSpec,
	"bbands": bbandsSpec,
	"atr":    atrSpec,
}

// Lookup returns the Spec for name, or an error if it is not registered.
func Lookup(name string) (Spec, error) {
	spec, ok := registry[name]
	if !ok {
		return Spec{}, errors.Newf(errors.ConfigError, "unrecognized indicator %q", name)
	}
	return spec, nil
}

// validateParams checks given against an indicator's schema: every
// Required param must be present, every present param must match its
// declared Kind (a fractional float64 is not a valid ParamInt), and every
// present numeric value must fall within [Min,Max] when set. Errors are
// ConfigError with a field path naming the indicator and the offending
// parameter (spec.md §4.4).
func validateParams(indicatorName string, schema []ParamSchema, given map[string]interface{}) error {
	for _, s := range schema {
		v, ok := given[s.Name]
		if !ok {
			if s.Required {
				return errors.Newf(errors.ConfigError, "indicator %q: missing required param %q", indicatorName, s.Name)
			}
			continue
		}

		num, isNumber := asFloat(v)
		if !isNumber {
			return errors.Newf(errors.ConfigError, "indicator %q: param %q must be numeric, got %T(%v)", indicatorName, s.Name, v, v)
		}
		if s.Kind == ParamInt && num != math.Trunc(num) {
			return errors.Newf(errors.ConfigError, "indicator %q: param %q must be an integer, got %v", indicatorName, s.Name, num)
		}
		if s.Min != nil && num < *s.Min {
			return errors.Newf(errors.ConfigError, "indicator %q: param %q must be >= %v, got %v", indicatorName, s.Name, *s.Min, num)
		}
		if s.Max != nil && num > *s.Max {
			return errors.Newf(errors.ConfigError, "indicator %q: param %q must be <= %v, got %v", indicatorName, s.Name, *s.Max, num)
		}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// intParam reads an int parameter, applying its schema default when absent.
func intParam(params map[string]interface{}, name string, def int) int {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatParam(params map[string]interface{}, name string, def float64) float64 {
	v, ok := params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highs(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// markUndefined overwrites the first warmUp entries of each column with
// types.Undefined, replacing go-talib's raw leading zeroes so downstream
// consumers (FuzzyEngine, feature builder) see the shared NaN sentinel
// instead of a spurious zero value.
func markUndefined(column []float64, warmUp int) []float64 {
	if warmUp > len(column) {
		warmUp = len(column)
	}
	for i := 0; i < warmUp; i++ {
		column[i] = types.Undefined
	}
	return column
}
