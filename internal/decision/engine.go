// Package decision implements the DecisionEngine component (C8): for each
// aligned (bar, indicator, fuzzy) row, evaluate the strategy's entry/exit
// rule expressions and emit Signals with a structured explanation trace
// (spec.md §4.8). The rule tree and its AND/OR/comparator evaluation are
// generalized directly from the teacher's risk rule engine
// (internal/risk/engine/rule_engine.go's RuleCondition), with "risk rule
// fields" replaced by "indicator/fuzzy feature fields".
package decision

import (
	"fmt"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Row is one aligned observation the rule tree evaluates against: a bar
// timestamp plus the indicator/fuzzy values computed for it, and
// optionally a model's class-probability distribution when the strategy
// configures a neural model instead of pure fuzzy aggregation.
type Row struct {
	Timestamp time.Time
	Symbol    string
	// IndicatorValues is keyed by indicator name, or "name.field" for
	// multi-field indicators (e.g. "macd.signal").
	IndicatorValues map[string]float64
	// FuzzyMemberships is keyed by fuzzy set name.
	FuzzyMemberships map[string]float64
	// ModelProbabilities is nil unless the caller supplies a trained
	// model's per-class probabilities for this row.
	ModelProbabilities map[types.LabelClass]float64
}

// Engine evaluates StrategyConfig rule trees against a sequence of Rows.
// It is stateless between calls, matching the texture of internal/indicators
// and internal/fuzzy (C4/C5): one Engine, pure functions, no shared state.
type Engine struct{}

// NewEngine constructs a stateless Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate walks rows in order and produces one Signal per row per
// direction (Entry/Exit) that has at least one triggered rule. Strength
// is the max, across all rules that triggered for that row+type, of
// either the model's top class probability (if row.ModelProbabilities is
// set) or the max fuzzy membership referenced by the triggered rule's
// leaves (spec.md §4.8). Signals below rules.SignalThreshold are dropped.
func (e *Engine) Evaluate(rows []Row, rules types.RulesConfig) ([]types.Signal, error) {
	var signals []types.Signal
	for _, row := range rows {
		if sig, ok, err := e.evaluateSide(row, rules.Entry, types.SignalEntry, rules.SignalThreshold); err != nil {
			return nil, err
		} else if ok {
			signals = append(signals, sig)
		}
		if sig, ok, err := e.evaluateSide(row, rules.Exit, types.SignalExit, rules.SignalThreshold); err != nil {
			return nil, err
		} else if ok {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

func (e *Engine) evaluateSide(row Row, exprs []types.RuleExpr, signalType types.SignalType, threshold float64) (types.Signal, bool, error) {
	var best *types.RuleExpr
	var bestStrength float64
	for i := range exprs {
		expr := &exprs[i]
		triggered, err := evaluateExpr(*expr, row)
		if err != nil {
			return types.Signal{}, false, err
		}
		if !triggered {
			continue
		}
		strength := signalStrength(row, *expr)
		if best == nil || strength > bestStrength {
			best = expr
			bestStrength = strength
		}
	}
	if best == nil {
		return types.Signal{}, false, nil
	}
	if bestStrength < threshold {
		return types.Signal{}, false, nil
	}

	direction := types.DirectionClose
	if signalType == types.SignalEntry {
		direction = types.DirectionLong
		if best.Direction == "short" {
			direction = types.DirectionShort
		}
	}

	return types.Signal{
		Type:      signalType,
		Direction: direction,
		Strength:  bestStrength,
		Timestamp: row.Timestamp,
		Symbol:    row.Symbol,
		Explanation: types.SignalExplanation{
			IndicatorValues:  copyFloatMap(row.IndicatorValues),
			FuzzyMemberships: copyFloatMap(row.FuzzyMemberships),
			RuleID:           best.ID,
		},
	}, true, nil
}

// signalStrength derives a [0,1] strength for a triggered rule: the
// model's highest class probability when a model is attached to the row,
// otherwise the max fuzzy membership among the fields the rule's leaves
// reference (spec.md §4.8: "max across matching rules" is realized here
// per-rule and then maxed again across rules in evaluateSide).
func signalStrength(row Row, expr types.RuleExpr) float64 {
	if row.ModelProbabilities != nil {
		var max float64
		for _, p := range row.ModelProbabilities {
			if p > max {
				max = p
			}
		}
		return max
	}

	fields := make(map[string]struct{})
	collectFields(expr, fields)

	var max float64
	var found bool
	for field := range fields {
		if v, ok := row.FuzzyMemberships[field]; ok && !types.IsUndefined(v) {
			if !found || v > max {
				max = v
				found = true
			}
		}
	}
	if !found {
		return 1 // a rule with no fuzzy leaves (pure indicator comparisons) triggers at full strength
	}
	return max
}

func collectFields(expr types.RuleExpr, out map[string]struct{}) {
	if expr.Field != "" {
		out[expr.Field] = struct{}{}
	}
	for _, sub := range expr.And {
		collectFields(sub, out)
	}
	for _, sub := range expr.Or {
		collectFields(sub, out)
	}
}

// evaluateExpr recursively evaluates a RuleExpr's leaf condition plus its
// AND/OR children, mirroring the teacher's RuleCondition.And/Or recursion
// exactly (internal/risk/engine/rule_engine.go evaluateCondition).
func evaluateExpr(expr types.RuleExpr, row Row) (bool, error) {
	result := true
	if expr.Field != "" {
		leaf, err := evaluateLeaf(expr, row)
		if err != nil {
			return false, err
		}
		result = leaf
	}

	for _, sub := range expr.And {
		subResult, err := evaluateExpr(sub, row)
		if err != nil {
			return false, err
		}
		result = result && subResult
	}

	if len(expr.Or) > 0 {
		orResult := false
		for _, sub := range expr.Or {
			subResult, err := evaluateExpr(sub, row)
			if err != nil {
				return false, err
			}
			orResult = orResult || subResult
		}
		result = result || orResult
	}

	return result, nil
}

func evaluateLeaf(expr types.RuleExpr, row Row) (bool, error) {
	fieldValue, ok := fieldValue(expr.Field, row)
	if !ok {
		return false, errors.Newf(errors.ConfigError, "rule %q references unknown field %q", expr.ID, expr.Field)
	}
	if f, isFloat := fieldValue.(float64); isFloat && types.IsUndefined(f) {
		return false, nil // undefined inputs never trigger a rule
	}

	switch expr.Operator {
	case ">":
		return compareFloat(fieldValue, expr.Value, func(a, b float64) bool { return a > b })
	case "<":
		return compareFloat(fieldValue, expr.Value, func(a, b float64) bool { return a < b })
	case ">=":
		return compareFloat(fieldValue, expr.Value, func(a, b float64) bool { return a >= b })
	case "<=":
		return compareFloat(fieldValue, expr.Value, func(a, b float64) bool { return a <= b })
	case "==":
		return fieldValue == expr.Value, nil
	case "!=":
		return fieldValue != expr.Value, nil
	case "in":
		return compareIn(fieldValue, expr.Value)
	case "not_in":
		in, err := compareIn(fieldValue, expr.Value)
		return !in, err
	default:
		return false, errors.Newf(errors.ConfigError, "rule %q uses unsupported operator %q", expr.ID, expr.Operator)
	}
}

func fieldValue(field string, row Row) (interface{}, bool) {
	if v, ok := row.IndicatorValues[field]; ok {
		return v, true
	}
	if v, ok := row.FuzzyMemberships[field]; ok {
		return v, true
	}
	if row.ModelProbabilities != nil {
		const prefix = "model."
		if len(field) > len(prefix) && field[:len(prefix)] == prefix {
			if v, ok := row.ModelProbabilities[types.LabelClass(field[len(prefix):])]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

func compareFloat(a, b interface{}, cmp func(a, b float64) bool) (bool, error) {
	af, aOk := a.(float64)
	bf, bOk := toFloat(b)
	if !aOk || !bOk {
		return false, fmt.Errorf("cannot numerically compare %v and %v", a, b)
	}
	return cmp(af, bf), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareIn(a, b interface{}) (bool, error) {
	list, ok := b.([]interface{})
	if !ok {
		return false, fmt.Errorf("'in'/'not_in' operator requires a list value")
	}
	for _, item := range list {
		if a == item {
			return true, nil
		}
	}
	return false, nil
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
