package types

// StrategyConfig is the declarative document described in spec.md §3.
// Unknown keys are rejected at load time by the YAML decoder in
// internal/config, not by this type.
type StrategyConfig struct {
	Name       string              `yaml:"name"`
	Symbols    []string            `yaml:"symbols"`
	Timeframes []Timeframe         `yaml:"timeframes"`
	Indicators []IndicatorConfig   `yaml:"indicators"`
	FuzzySets  []FuzzySetConfig    `yaml:"fuzzy_sets"`
	Features   FeatureSelection    `yaml:"features"`
	Labels     LabelConfig         `yaml:"labels"`
	Model      ModelConfig         `yaml:"model"`
	Training   TrainingConfig      `yaml:"training"`
	Risk       RiskConfig          `yaml:"risk"`
	Rules      RulesConfig         `yaml:"rules"`
}

// IndicatorConfig names one indicator registry entry and its parameters.
type IndicatorConfig struct {
	Name   string                 `yaml:"name"`
	Params map[string]interface{} `yaml:"params"`
}

// FuzzySetConfig names one fuzzy set over a named input.
type FuzzySetConfig struct {
	Input  string                 `yaml:"input"`
	Name   string                 `yaml:"name"`
	Kind   string                 `yaml:"kind"`
	Params map[string]interface{} `yaml:"params"`
}

// FeatureSelection picks which computed columns become model features.
type FeatureSelection struct {
	IncludeIndicators []string `yaml:"include_indicators"`
	IncludeFuzzy      []string `yaml:"include_fuzzy"`
}

// ModelConfig describes the feed-forward classifier architecture.
type ModelConfig struct {
	Architecture string   `yaml:"architecture"`
	Layers       []int    `yaml:"layers"`
	Dropout      float64  `yaml:"dropout"`
	Activation   string   `yaml:"activation"`
}

// SplitMode controls how TrainingPipeline partitions train/val/test.
type SplitMode string

const (
	// SplitTimeOrdered is the safe default (spec.md §9 open question).
	SplitTimeOrdered SplitMode = "time_ordered"
	// SplitRandomSeeded requires an explicit seed and is never the default.
	SplitRandomSeeded SplitMode = "random_seeded"
)

// TrainingConfig configures the training loop.
type TrainingConfig struct {
	Epochs          int       `yaml:"epochs"`
	BatchSize       int       `yaml:"batch"`
	LearningRate    float64   `yaml:"learning_rate"`
	Optimizer       string    `yaml:"optimizer"` // "sgd" | "momentum" | "adam"
	Momentum        float64   `yaml:"momentum"`
	ValSplit        float64   `yaml:"val_split"`
	TestSplit       float64   `yaml:"test_split"`
	EarlyStopping   bool      `yaml:"early_stopping"`
	Patience        int       `yaml:"patience"`
	Seed            int64     `yaml:"seed"`
	SplitMode       SplitMode `yaml:"split_mode"`
	ProgressEvery   int       `yaml:"progress_every_batches"`
	CancelCheckEvery int      `yaml:"cancel_check_every_batches"`
}

// PositionSizingMode enumerates backtest position-sizing strategies.
type PositionSizingMode string

const (
	PositionSizingFixedFraction PositionSizingMode = "fixed_fraction"
	PositionSizingPercentRisk   PositionSizingMode = "percent_risk"
	PositionSizingFixed         PositionSizingMode = "fixed"
)

// RiskConfig configures position sizing, stops, and exposure limits.
type RiskConfig struct {
	PositionSizing  PositionSizingMode `yaml:"position_sizing"`
	FixedFraction   float64            `yaml:"fixed_fraction"`
	RiskPerTrade    float64            `yaml:"risk_per_trade"`
	FixedSize       float64            `yaml:"fixed_size"`
	StopDistanceATR float64            `yaml:"stop_distance_atr"`
	MaxExposure     float64            `yaml:"max_exposure"`
}

// RulesConfig holds the entry/exit rule expressions. Expressions reference
// indicator/fuzzy names and comparison/logical operators only — no
// arbitrary code (spec.md §3).
type RulesConfig struct {
	Entry          []RuleExpr `yaml:"entry"`
	Exit           []RuleExpr `yaml:"exit"`
	SignalThreshold float64   `yaml:"signal_threshold"`
}

// RuleExpr is a declarative condition tree, grounded on the risk rule
// engine's RuleCondition shape: a field/operator/value leaf plus
// recursive And/Or composition.
type RuleExpr struct {
	ID       string      `yaml:"id"`
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
	And      []RuleExpr  `yaml:"and,omitempty"`
	Or       []RuleExpr  `yaml:"or,omitempty"`
	// Direction names the position direction an entry rule opens
	// ("long"|"short"); ignored on exit rules, which always close
	// whatever direction is open. Defaults to "long" when empty.
	Direction string `yaml:"direction,omitempty"`
}
