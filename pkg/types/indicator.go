package types

import (
	"math"
	"time"
)

// Undefined is the sentinel carried by IndicatorFrame/FuzzyFrame rows that
// are not yet warm. It is NaN so it cannot silently participate in
// arithmetic as a numeric zero (spec.md §3, §4.4); callers must test with
// IsUndefined rather than comparing to 0.
var Undefined = math.NaN()

// IsUndefined reports whether v is the "undefined" sentinel.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// IndicatorFrame is one indicator's values aligned to a Bar series.
type IndicatorFrame struct {
	Name       string
	ParamsHash string
	// Rows holds one value-set per aligned bar position. Single-field
	// indicators (SMA, RSI, ...) populate Fields["value"]; multi-field
	// indicators (MACD, Bollinger Bands) populate one entry per sub-field.
	Rows []IndicatorRow
}

// IndicatorRow is one aligned position of an IndicatorFrame.
type IndicatorRow struct {
	Timestamp time.Time
	Fields    map[string]float64
}

// Value returns the single-field value of a row ("value" field), or
// Undefined if absent.
func (r IndicatorRow) Value() float64 {
	if v, ok := r.Fields["value"]; ok {
		return v
	}
	return Undefined
}
