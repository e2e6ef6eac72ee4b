package training

// ProgressUpdate is one progress_cb invocation payload (spec.md §4.6 step
// 8). Type distinguishes per-batch updates (frequent, throttled by the
// caller) from per-epoch summaries.
type ProgressUpdate struct {
	Type         string // "batch" | "epoch"
	Epoch        int
	TotalEpochs  int
	Batch        int
	TotalBatches int
	Metrics      map[string]float64
}

// ProgressFunc is the optional progress callback threaded through the
// training loop unchanged — TrainingPipeline has no progress logic of its
// own beyond invoking it (spec.md §4.6 preamble).
type ProgressFunc func(ProgressUpdate)

// CancelToken is the optional cooperative cancellation token threaded
// through the training loop. Orchestrators (C7) supply the concrete
// implementation (in-process flag for Local, session-scoped flag for
// Remote); TrainingPipeline only polls it.
type CancelToken interface {
	Cancelled() bool
}

// cancelFunc adapts a plain function into a CancelToken, used by callers
// that don't need a stateful token (e.g. tests, or a direct, unmediated call).
type cancelFunc func() bool

func (f cancelFunc) Cancelled() bool { return f() }

// neverCancel is the default token when the caller passes nil.
var neverCancel = cancelFunc(func() bool { return false })
