package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/metrics"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Job is the unit of work submitted to an external training host.
type Job struct {
	OperationID string
	Symbols     []string
	Timeframes  []types.Timeframe
	Start       time.Time
	End         time.Time
	Config      types.StrategyConfig
	Mode        datamanager.LoadMode
}

// HostStatus is the external training host's view of a job's lifecycle.
type HostStatus string

const (
	HostQueued    HostStatus = "queued"
	HostRunning   HostStatus = "running"
	HostCompleted HostStatus = "completed"
	HostFailed    HostStatus = "failed"
	HostCancelled HostStatus = "cancelled"
)

// TrainingHost is the external collaborator the Remote orchestrator talks
// to: submit a job, poll its status, and fetch the stored Result once
// terminal. The remote side owns the unchanged pipeline Result verbatim
// (spec.md §4.7 Remote orchestrator) — this interface never exposes a way
// to mutate it, only to read it back.
type TrainingHost interface {
	Submit(ctx context.Context, job Job) error
	Status(ctx context.Context, operationID string) (HostStatus, error)
	Result(ctx context.Context, operationID string) (types.Result, error)
	Cancel(ctx context.Context, operationID string) error
}

// NATSHost is a TrainingHost reference implementation: submitted jobs run
// in-process on the Pipeline, status and results live in an in-memory job
// table, and only progress updates travel over watermill pub/sub topics,
// with NATS as the wire transport in production and an in-memory gochannel
// bus acceptable for single-process deployments and tests. Shape generalized
// from the teacher's architecture/cqrs/eventbus.WatermillEventBus
// (publisher/subscriber pair plus a topic prefix), with the CQRS event
// store dropped in favor of an in-memory job table — a training host has
// no read-model replay requirement, just last-known-status per job.
type NATSHost struct {
	pipeline    *training.Pipeline
	publisher   message.Publisher
	topicPrefix string
	cfg         RemoteConfig
	logger      *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*hostJob
	metrics *metrics.Recorder
}

// SetMetrics attaches a metrics.Recorder; nil (the zero value) leaves
// recording a no-op.
func (h *NATSHost) SetMetrics(m *metrics.Recorder) { h.metrics = m }

type hostJob struct {
	status    HostStatus
	result    types.Result
	cancelled atomic.Bool
	session   *Session
}

// Cancelled implements training.CancelToken; safe to call concurrently
// with Cancel since it is backed by an atomic flag rather than the job
// table's mutex.
func (j *hostJob) Cancelled() bool {
	return j.cancelled.Load()
}

// NewNATSHost builds a NATSHost around a watermill Publisher (the NATS
// adapter in production, gochannel in tests) and the Pipeline it runs jobs
// through. publisher may be nil to disable progress publication entirely.
func NewNATSHost(pipeline *training.Pipeline, publisher message.Publisher, topicPrefix string, cfg RemoteConfig, logger *zap.Logger) *NATSHost {
	if topicPrefix == "" {
		topicPrefix = "training."
	}
	cfg = cfg.withDefaults()
	return &NATSHost{
		pipeline:    pipeline,
		publisher:   publisher,
		topicPrefix: topicPrefix,
		cfg:         cfg,
		logger:      logger,
		jobs:        make(map[string]*hostJob),
	}
}

// Submit runs the job in a background goroutine and tracks its status in
// the in-memory job table; progress is published, best-effort, on the
// "<prefix>progress" topic (spec.md §4.7: "failed progress POSTs are
// dropped, not retried" — generalized here to "failed publishes").
func (h *NATSHost) Submit(ctx context.Context, job Job) error {
	session := NewSession()
	jb := &hostJob{status: HostQueued, session: session}

	h.mu.Lock()
	h.jobs[job.OperationID] = jb
	h.mu.Unlock()

	go func() {
		h.setStatus(job.OperationID, HostRunning)
		runStart := time.Now()
		h.metrics.SessionStarted()
		defer h.metrics.SessionEnded()

		progressCb := func(update training.ProgressUpdate) {
			if update.Type == "batch" && !ShouldReportProgress(update.Batch, update.TotalBatches, h.cfg.ProgressEveryBatches) {
				return
			}
			session.RecordProgress(update.Batch, update.TotalBatches, update.Metrics)
			h.publishProgress(job.OperationID, update)
		}

		jobCfg := job.Config
		if jobCfg.Training.CancelCheckEvery <= 0 {
			jobCfg.Training.CancelCheckEvery = h.cfg.CancelCheckEveryBatches
		}
		result, err := h.pipeline.TrainStrategy(ctx, job.Symbols, job.Start, job.End, jobCfg, job.Mode, progressCb, jb)

		h.mu.Lock()
		defer h.mu.Unlock()
		switch {
		case err != nil:
			jb.status = HostFailed
			jb.result = types.Result{Status: types.ResultFailed, Error: &types.ResultError{Kind: "TRAINING_FAILED", Message: err.Error()}}
		case result.Status == types.ResultCancelled:
			jb.status = HostCancelled
			jb.result = result
		default:
			jb.status = HostCompleted
			jb.result = result
		}
		h.metrics.RecordTrainingRun(string(jb.status))
		h.metrics.ObserveTrainingDuration(time.Since(runStart))
	}()

	return nil
}

// Status reports the job's current lifecycle state.
func (h *NATSHost) Status(ctx context.Context, operationID string) (HostStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	jb, ok := h.jobs[operationID]
	if !ok {
		return "", errNoSuchJob(operationID)
	}
	return jb.status, nil
}

// Result returns the job's stored, unchanged pipeline Result. Only valid
// once Status reports a terminal state.
func (h *NATSHost) Result(ctx context.Context, operationID string) (types.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	jb, ok := h.jobs[operationID]
	if !ok {
		return types.Result{}, errNoSuchJob(operationID)
	}
	return jb.result, nil
}

// Cancel flips the job's cooperative cancellation flag; TrainStrategy
// observes it on its own cancellation-check cadence.
func (h *NATSHost) Cancel(ctx context.Context, operationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	jb, ok := h.jobs[operationID]
	if !ok {
		return errNoSuchJob(operationID)
	}
	jb.cancelled.Store(true)
	jb.session.Cancel()
	return nil
}

func (h *NATSHost) setStatus(operationID string, status HostStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if jb, ok := h.jobs[operationID]; ok {
		jb.status = status
	}
}

// publishProgress is best-effort: a publish failure is logged and dropped,
// never retried and never allowed to block or fail the training run.
func (h *NATSHost) publishProgress(operationID string, update training.ProgressUpdate) {
	if h.publisher == nil {
		return
	}
	payload, err := watermillEncodeProgress(operationID, update)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := h.publisher.Publish(h.topicPrefix+"progress", msg); err != nil && h.logger != nil {
		h.logger.Warn("dropping progress publish", zap.String("operation_id", operationID), zap.Error(err))
	}
}
