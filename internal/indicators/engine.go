package indicators

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Engine is the IndicatorEngine component (C4): computes named indicators
// from the static registry over a bar series, producing an IndicatorFrame
// whose warm-up rows carry the shared types.Undefined sentinel.
type Engine struct{}

// NewEngine constructs an Engine. It is stateless between calls — state
// for multi-symbol concatenation lives in the caller's loop (Compute is
// called once per symbol's contiguous bar run), matching spec.md §4.4's
// requirement that indicator state never bleeds across symbol boundaries.
func NewEngine() *Engine {
	return &Engine{}
}

// Compute evaluates the named indicator over bars (a single symbol's
// contiguous series) and returns an IndicatorFrame keyed by the
// indicator's registered output columns.
func (e *Engine) Compute(name string, bars []types.Bar, params map[string]interface{}) (types.IndicatorFrame, error) {
	spec, err := Lookup(name)
	if err != nil {
		return types.IndicatorFrame{}, err
	}
	if err := types.ValidateSeries(bars); err != nil {
		return types.IndicatorFrame{}, errors.Wrap(err, errors.DataIntegrity, "indicator input series failed validation")
	}
	if err := validateParams(name, spec.Params, params); err != nil {
		return types.IndicatorFrame{}, err
	}

	merged := mergeDefaults(spec.Params, params)
	columns, err := spec.Compute(bars, merged)
	if err != nil {
		return types.IndicatorFrame{}, err
	}

	rows := make([]types.IndicatorRow, len(bars))
	for i, b := range bars {
		fields := make(map[string]float64, len(columns))
		for col, values := range columns {
			fields[col] = values[i]
		}
		rows[i] = types.IndicatorRow{Timestamp: b.Timestamp, Fields: fields}
	}

	return types.IndicatorFrame{
		Name:       name,
		ParamsHash: ParamsHash(merged),
		Rows:       rows,
	}, nil
}

func mergeDefaults(schema []ParamSchema, given map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(schema))
	for _, s := range schema {
		merged[s.Name] = s.Default
	}
	for k, v := range given {
		merged[k] = v
	}
	return merged
}

// ParamsHash deterministically hashes a parameter set so the same
// indicator computed with the same parameters twice produces the same
// storage key (used as IndicatorFrame.ParamsHash / the store's
// params_hash column). This is a cache/storage key, not a security
// boundary, so crypto/sha256 from the standard library is sufficient —
// blake2b is reserved for model artifact content hashing (spec.md §6).
func ParamsHash(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	data, _ := json.Marshal(ordered)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
