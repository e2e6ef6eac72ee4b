package types

import "time"

// NormalizationStats holds the per-feature training-split mean/stddev used
// to normalize features at both train and inference time (spec.md §4.6
// step 6: normalization uses training-split statistics only).
type NormalizationStats struct {
	Mean   []float64
	StdDev []float64
}

// ModelArtifact is the persisted output of a training run, identified by a
// content hash (spec.md §3). Weights are kept as an opaque blob here; the
// concrete encoding (a gob-encoded weight blob, zstd-compressed) lives
// in internal/training/persist.go.
type ModelArtifact struct {
	Architecture     ModelConfig
	Weights          []byte
	FeatureNames     []string
	LabelClasses     []LabelClass
	Normalization    NormalizationStats
	StrategyConfig   StrategyConfig
	TrainingMetrics  TrainingMetrics
	CreatedAt        time.Time
	// SchemaVersion is a semver string checked at load time against the
	// reader's supported range (spec.md §6: metadata.json is the source
	// of truth for load-time validation).
	SchemaVersion string
	Hash          string
}

// TrainingMetrics is the training-loop summary persisted in the model
// artifact and echoed in the Result record.
type TrainingMetrics struct {
	FinalTrainLoss     float64
	FinalValLoss       float64
	FinalTrainAccuracy float64
	FinalValAccuracy   float64
	History            []EpochMetrics
}

// EpochMetrics is one entry of TrainingMetrics.History.
type EpochMetrics struct {
	Epoch         int
	TrainLoss     float64
	ValLoss       float64
	TrainAccuracy float64
	ValAccuracy   float64
}

// TestMetrics is the test-split evaluation summary.
type TestMetrics struct {
	Accuracy         float64
	Loss             float64
	Precision        map[LabelClass]float64
	Recall           map[LabelClass]float64
	F1               map[LabelClass]float64
	ConfusionMatrix  [][]int
}

// DataSummary describes the data that went into a training run.
type DataSummary struct {
	Symbols            []string
	Timeframes         []Timeframe
	SampleCountsPerSymbol map[string]int
	TotalSamples       int
	DateRangeStart     time.Time
	DateRangeEnd       time.Time
}

// SessionInfo is added by the Local orchestrator.
type SessionInfo struct {
	OperationID string
	StrategyName string
	Symbols     []string
	Timeframes  []Timeframe
	Mode        string
}

// ResourceUsage is added by the Remote orchestrator.
type ResourceUsage struct {
	CPUSeconds float64
	PeakMemoryMB float64
	WallClock  time.Duration
}

// ResultStatus is the terminal state of a training or backtest run.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
)

// ResultError carries the user-visible failure description (spec.md §7):
// kind + message + context, never a raw stack trace.
type ResultError struct {
	Kind    string
	Message string
	Context map[string]interface{}
}

// Artifacts holds secondary training outputs.
type Artifacts struct {
	FeatureImportance map[string]float64
	PerSymbolMetrics  map[string]TestMetrics
}

// Result is the standardized output of a training run, identical in
// schema whether produced by the Local or Remote orchestrator (spec.md §3, §6).
type Result struct {
	ModelPath       string
	TrainingMetrics TrainingMetrics
	TestMetrics     TestMetrics
	Artifacts       Artifacts
	ModelInfo       ModelInfo
	DataSummary     DataSummary
	SessionInfo     *SessionInfo
	SessionID       string
	Status          ResultStatus
	Error           *ResultError
	ResourceUsage   *ResourceUsage
}

// ModelInfo summarizes the trained model's shape.
type ModelInfo struct {
	Architecture   string
	ParameterCount int
	FeatureNames   []string
	LabelClasses   []LabelClass
}
