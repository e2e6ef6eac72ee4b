package types

import "time"

// SignalType distinguishes an entry from an exit signal (spec.md §4.8).
type SignalType string

const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Direction is the position side a signal opens, or Close for an exit.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// SignalExplanation is the structured trace every Signal carries: the
// indicator values and fuzzy memberships that fed the evaluation, and the
// identity of the rule/expression that fired (spec.md §4.8 explanation
// requirement).
type SignalExplanation struct {
	IndicatorValues  map[string]float64
	FuzzyMemberships map[string]float64
	RuleID           string
}

// Signal is one entry/exit decision emitted by the DecisionEngine for a
// single aligned row. Strength is in [0,1]; signals below the configured
// signal_threshold are suppressed before reaching the caller.
type Signal struct {
	Type        SignalType
	Direction   Direction
	Strength    float64
	Timestamp   time.Time
	Symbol      string
	Explanation SignalExplanation
}
