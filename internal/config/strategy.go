package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// LoadStrategyConfig parses a strategy config document per spec.md §3/§6.
// Unknown keys are rejected (yaml.Decoder.KnownFields(true)); cyclic
// references among features/fuzzy sets/indicators are resolved by a
// topological sort and reported as a ConfigError (spec.md §9).
func LoadStrategyConfig(path string) (*types.StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ConfigError, "reading strategy config %s", path)
	}
	return ParseStrategyConfig(data)
}

// ParseStrategyConfig parses strategy config bytes directly (used by
// tests and by callers that already hold the document in memory).
func ParseStrategyConfig(data []byte) (*types.StrategyConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &types.StrategyConfig{}
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ConfigError, "strategy config contains unknown keys or is malformed")
	}

	if err := validateStrategyConfig(cfg); err != nil {
		return nil, err
	}
	if err := resolveReferenceOrder(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateStrategyConfig(cfg *types.StrategyConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ConfigError, "strategy config missing name")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New(errors.ConfigError, "strategy config requires at least one symbol")
	}
	if len(cfg.Timeframes) == 0 {
		return errors.New(errors.ConfigError, "strategy config requires at least one timeframe")
	}
	for _, tf := range cfg.Timeframes {
		if !tf.Valid() {
			return errors.Newf(errors.ConfigError, "unrecognized timeframe %q", tf)
		}
	}
	for _, fs := range cfg.FuzzySets {
		if fs.Input == "" || fs.Name == "" {
			return errors.New(errors.ConfigError, "fuzzy_sets entries require input and name")
		}
		if err := validateTriangular(fs); err != nil {
			return err
		}
	}
	if cfg.Training.Epochs <= 0 {
		return errors.New(errors.ConfigError, "training.epochs must be > 0")
	}
	if cfg.Training.SplitMode == types.SplitRandomSeeded && cfg.Training.Seed == 0 {
		return errors.New(errors.ConfigError, "training.split_mode random_seeded requires a non-zero seed")
	}
	if cfg.Labels.Generator != "" && cfg.Labels.Generator != types.LabelGeneratorDirectionalMove {
		return errors.Newf(errors.ConfigError, "labels.generator %q is not a recognized label generator", cfg.Labels.Generator)
	}
	return nil
}

// validateTriangular enforces spec.md §3's FuzzySet invariant a<=b<=c:
// the a/b/c keys must be present numeric values and satisfy the ordering,
// so toTriangular's later read can assume a well-formed triangle rather
// than silently defaulting a missing key to 0.
func validateTriangular(fs types.FuzzySetConfig) error {
	if fs.Kind != "" && fs.Kind != "triangular" {
		return errors.Newf(errors.ConfigError, "fuzzy set %q: unrecognized kind %q", fs.Name, fs.Kind)
	}
	get := func(key string) (float64, error) {
		v, ok := fs.Params[key]
		if !ok {
			return 0, errors.Newf(errors.ConfigError, "fuzzy set %q: missing required param %q", fs.Name, key)
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return 0, errors.Newf(errors.ConfigError, "fuzzy set %q: param %q must be numeric, got %T(%v)", fs.Name, key, v, v)
		}
	}
	a, err := get("a")
	if err != nil {
		return err
	}
	b, err := get("b")
	if err != nil {
		return err
	}
	c, err := get("c")
	if err != nil {
		return err
	}
	if !(a <= b && b <= c) {
		return errors.Newf(errors.ConfigError, "fuzzy set %q: params a<=b<=c violated (a=%v, b=%v, c=%v)", fs.Name, a, b, c)
	}
	return nil
}

// resolveReferenceOrder performs a topological sort over the dependency
// graph features -> fuzzy_sets -> indicators, per spec.md §9 ("cyclic
// references in config -> topological resolution at load time; cycles are
// a ConfigError"). Since fuzzy sets always reference a single indicator
// input by name and features reference fuzzy-set/indicator names, the
// only possible cycle is a fuzzy set whose input is itself (directly or
// transitively) a fuzzy set sharing its own name — this function detects
// that and otherwise checks that every feature reference names a known
// indicator or fuzzy set. The config's slices keep their original order.
func resolveReferenceOrder(cfg *types.StrategyConfig) error {
	indicatorNames := make(map[string]bool, len(cfg.Indicators))
	for _, ind := range cfg.Indicators {
		indicatorNames[ind.Name] = true
	}

	// visiting/visited for cycle detection among fuzzy sets that take
	// another fuzzy set's output as input (chained fuzzy sets).
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[string]int, len(cfg.FuzzySets))
	byName := make(map[string]types.FuzzySetConfig, len(cfg.FuzzySets))
	for _, fs := range cfg.FuzzySets {
		byName[fs.Name] = fs
	}

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case black:
			return nil
		case gray:
			return errors.Newf(errors.ConfigError, "cyclic fuzzy set reference detected: %v -> %s", path, name)
		}
		fs, isFuzzy := byName[name]
		if !isFuzzy {
			return nil // indicator input or raw bar field; not part of the fuzzy graph
		}
		state[name] = gray
		if err := visit(fs.Input, append(path, name)); err != nil {
			return err
		}
		state[name] = black
		return nil
	}

	for _, fs := range cfg.FuzzySets {
		if err := visit(fs.Name, nil); err != nil {
			return err
		}
	}

	// validate that every feature reference resolves to a known
	// indicator or fuzzy set name.
	for _, name := range cfg.Features.IncludeIndicators {
		if !indicatorNames[name] {
			return errors.Newf(errors.ConfigError, "features.include_indicators references unknown indicator %q", name)
		}
	}
	for _, name := range cfg.Features.IncludeFuzzy {
		if _, ok := byName[name]; !ok {
			return errors.Newf(errors.ConfigError, "features.include_fuzzy references unknown fuzzy set %q", name)
		}
	}
	return nil
}
