package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/metrics"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// LocalConfig tunes the Local orchestrator's progress throttling.
type LocalConfig struct {
	// ProgressEveryBatches throttles how often a per-batch progress update
	// reaches the caller's listener and the session's event log; per-epoch
	// updates always pass through untouched.
	ProgressEveryBatches int
}

// DefaultLocalConfig matches spec.md §4.7's "every 10 batches" default.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{ProgressEveryBatches: 10}
}

// Local runs TrainingPipeline.TrainStrategy in-process in its own
// goroutine, so the caller is free to poll progress or request
// cancellation while training runs (spec.md §4.7 Local orchestrator).
type Local struct {
	pipeline *training.Pipeline
	cfg      LocalConfig
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// NewLocal builds a Local orchestrator around an already-constructed
// TrainingPipeline.
func NewLocal(pipeline *training.Pipeline, cfg LocalConfig, logger *zap.Logger) *Local {
	if cfg.ProgressEveryBatches <= 0 {
		cfg.ProgressEveryBatches = 10
	}
	return &Local{pipeline: pipeline, cfg: cfg, logger: logger}
}

// SetMetrics attaches a metrics.Recorder; nil leaves recording a no-op,
// which is also the zero-value behavior so existing callers and tests
// that never call SetMetrics are unaffected.
func (l *Local) SetMetrics(m *metrics.Recorder) { l.metrics = m }

// Handle is the caller's view of one in-flight (or completed) run: it can
// be cancelled, and its Result channel receives exactly one value once
// the run reaches a terminal state.
type Handle struct {
	session  *Session
	resultCh chan types.Result
}

// OperationID returns the run's session identity.
func (h *Handle) OperationID() string { return h.session.ID() }

// Cancel requests cooperative cancellation; TrainStrategy observes it on
// its own cancellation-check cadence (C6), not immediately.
func (h *Handle) Cancel() { h.session.Cancel() }

// Result returns the channel that receives the run's terminal types.Result.
func (h *Handle) Result() <-chan types.Result { return h.resultCh }

// Start launches a training run in a background goroutine and returns
// immediately with a Handle.
func (l *Local) Start(ctx context.Context, symbols []string, start, end time.Time, cfg types.StrategyConfig, mode datamanager.LoadMode, onProgress training.ProgressFunc) *Handle {
	session := NewSession()
	resultCh := make(chan types.Result, 1)
	runStart := time.Now()

	go func() {
		l.metrics.SessionStarted()
		defer l.metrics.SessionEnded()

		progressCb := func(update training.ProgressUpdate) {
			if update.Type == "batch" && !ShouldReportProgress(update.Batch, update.TotalBatches, l.cfg.ProgressEveryBatches) {
				return
			}
			session.RecordProgress(update.Batch, update.TotalBatches, update.Metrics)
			if onProgress != nil {
				onProgress(update)
			}
		}

		result, err := l.pipeline.TrainStrategy(ctx, symbols, start, end, cfg, mode, progressCb, session)
		switch {
		case err != nil:
			session.Fail(err.Error())
			result.Status = types.ResultFailed
			result.Error = &types.ResultError{Kind: string(errors.GetKind(err)), Message: err.Error()}
		case result.Status == types.ResultCancelled:
			session.Cancel()
		default:
			session.Complete()
			result.Status = types.ResultCompleted
		}
		l.metrics.RecordTrainingRun(string(result.Status))
		l.metrics.ObserveTrainingDuration(time.Since(runStart))

		result.SessionID = session.ID()
		result.SessionInfo = &types.SessionInfo{
			OperationID:  session.ID(),
			StrategyName: cfg.Name,
			Symbols:      symbols,
			Timeframes:   cfg.Timeframes,
			Mode:         "local",
		}
		resultCh <- result
		close(resultCh)
	}()

	return &Handle{session: session, resultCh: resultCh}
}
