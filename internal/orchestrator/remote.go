package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// RemoteConfig tunes the Remote orchestrator's polling cadence and the
// throttling the reference TrainingHost applies to its own progress loop.
type RemoteConfig struct {
	// PollInterval is how often Await checks the host's status between
	// terminal-state checks. This is I/O wait on an external system, not a
	// hot loop, so a plain sleep here is the right tool.
	PollInterval time.Duration

	// ProgressEveryBatches throttles the host's own progress publication
	// (spec.md §4.7: "emitted at most every N batches, default 10").
	ProgressEveryBatches int

	// CancelCheckEveryBatches throttles how often a training loop driven by
	// this host checks its cancellation flag (default 5). It applies to jobs
	// whose config leaves training.cancel_check_every_batches unset.
	CancelCheckEveryBatches int

	// ResultPostMaxRetries bounds how many times Remote retries fetching a
	// job's final Result from the host once the job is terminal; after
	// exhausting them Await returns a ConnectionLost error. The host's own
	// job status is left unchanged.
	ResultPostMaxRetries int

	// ResultPostBaseBackoff is the delay before the first retry of that
	// result fetch; later retries double it.
	ResultPostBaseBackoff time.Duration
}

// DefaultRemoteConfig mirrors spec.md §4.7's stated defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		PollInterval:            500 * time.Millisecond,
		ProgressEveryBatches:    10,
		CancelCheckEveryBatches: 5,
		ResultPostMaxRetries:    5,
		ResultPostBaseBackoff:   200 * time.Millisecond,
	}
}

func (c RemoteConfig) withDefaults() RemoteConfig {
	d := DefaultRemoteConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProgressEveryBatches <= 0 {
		c.ProgressEveryBatches = d.ProgressEveryBatches
	}
	if c.CancelCheckEveryBatches <= 0 {
		c.CancelCheckEveryBatches = d.CancelCheckEveryBatches
	}
	if c.ResultPostMaxRetries <= 0 {
		c.ResultPostMaxRetries = d.ResultPostMaxRetries
	}
	if c.ResultPostBaseBackoff <= 0 {
		c.ResultPostBaseBackoff = d.ResultPostBaseBackoff
	}
	return c
}

// Remote submits training jobs to an external TrainingHost and polls for
// completion, translating the host's terminal state into the same
// types.Result schema the Local orchestrator produces — adding only
// session_id, status, and resource-usage timing on top of whatever the
// host stored (spec.md §4.7 Remote orchestrator).
type Remote struct {
	host   TrainingHost
	cfg    RemoteConfig
	logger *zap.Logger
}

// NewRemote builds a Remote orchestrator around a TrainingHost.
func NewRemote(host TrainingHost, cfg RemoteConfig, logger *zap.Logger) *Remote {
	return &Remote{host: host, cfg: cfg.withDefaults(), logger: logger}
}

// Submit generates a session identity and hands the job to the host,
// returning the operation/session ID the caller polls with Await.
func (r *Remote) Submit(ctx context.Context, symbols []string, start, end time.Time, cfg types.StrategyConfig, mode datamanager.LoadMode) (string, error) {
	operationID := ksuid.New().String()
	job := Job{
		OperationID: operationID,
		Symbols:     symbols,
		Timeframes:  cfg.Timeframes,
		Start:       start,
		End:         end,
		Config:      cfg,
		Mode:        mode,
	}
	if err := r.host.Submit(ctx, job); err != nil {
		return "", errors.Wrap(err, errors.ConnectionLost, "submitting training job to remote host")
	}
	return operationID, nil
}

// Cancel requests cancellation of a previously submitted job.
func (r *Remote) Cancel(ctx context.Context, operationID string) error {
	return r.host.Cancel(ctx, operationID)
}

// Await polls the host until the job reaches a terminal status, then
// retrieves and decorates its stored Result. The polling loop itself is
// inter-process I/O wait, not the progress-throttling hot loop spec.md
// §4.7 forbids sleeping in — that constraint binds the host's own
// training-progress reporting, grounded on ShouldReportProgress/
// ShouldCheckCancel, not this caller-side poll.
func (r *Remote) Await(ctx context.Context, operationID string) (types.Result, error) {
	started := time.Now()
	for {
		status, err := r.host.Status(ctx, operationID)
		if err != nil {
			return types.Result{}, errors.Wrap(err, errors.ConnectionLost, "polling training job status")
		}

		if isTerminal(status) {
			result, err := r.fetchResultWithRetry(ctx, operationID)
			if err != nil {
				return types.Result{}, err
			}
			result.SessionID = operationID
			result.Status = translateHostStatus(status)
			result.ResourceUsage = &types.ResourceUsage{WallClock: time.Since(started)}
			return result, nil
		}

		select {
		case <-ctx.Done():
			return types.Result{}, errors.Wrap(ctx.Err(), errors.Cancelled, "awaiting training job result")
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// fetchResultWithRetry retries the final result fetch with bounded
// exponential backoff (spec.md §4.7), giving up after ResultPostMaxRetries
// retries (ResultPostMaxRetries+1 attempts) rather than retrying indefinitely.
func (r *Remote) fetchResultWithRetry(ctx context.Context, operationID string) (types.Result, error) {
	backoff := r.cfg.ResultPostBaseBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.ResultPostMaxRetries; attempt++ {
		result, err := r.host.Result(ctx, operationID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == r.cfg.ResultPostMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return types.Result{}, errors.Wrap(ctx.Err(), errors.Cancelled, "retrieving training job result")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return types.Result{}, errors.Wrapf(lastErr, errors.ConnectionLost, "retrieving result for %s after %d attempts", operationID, r.cfg.ResultPostMaxRetries+1)
}

func isTerminal(status HostStatus) bool {
	switch status {
	case HostCompleted, HostFailed, HostCancelled:
		return true
	default:
		return false
	}
}

func translateHostStatus(status HostStatus) types.ResultStatus {
	switch status {
	case HostFailed:
		return types.ResultFailed
	case HostCancelled:
		return types.ResultCancelled
	default:
		return types.ResultCompleted
	}
}

func errNoSuchJob(operationID string) error {
	return errors.Newf(errors.ConfigError, "no such training job %q", operationID)
}

func watermillEncodeProgress(operationID string, update training.ProgressUpdate) ([]byte, error) {
	return json.Marshal(struct {
		OperationID string                  `json:"operation_id"`
		Update      training.ProgressUpdate `json:"update"`
	}{OperationID: operationID, Update: update})
}
