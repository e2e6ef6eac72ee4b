// Package orchestrator implements the two C7 orchestrators that sit above
// the TrainingPipeline (C6): a Local orchestrator that runs it in-process,
// and a Remote orchestrator that submits it to an external training host
// and polls for completion. Both produce the same types.Result schema;
// only the SessionInfo/ResourceUsage metadata they attach differs
// (spec.md §4.7).
package orchestrator

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// SessionEventType names one of the small set of transitions a run's
// session aggregate can record.
type SessionEventType string

const (
	SessionProgressRecorded SessionEventType = "progress_recorded"
	SessionCancelRequested  SessionEventType = "cancel_requested"
	SessionCompleted        SessionEventType = "completed"
	SessionFailed           SessionEventType = "failed"
)

// SessionEvent is one entry in a Session's uncommitted-events log.
type SessionEvent struct {
	Type      SessionEventType
	At        time.Time
	Data      map[string]interface{}
}

// Session is a small event-sourced aggregate tracking one orchestrator
// run: its ksuid identity, a monotonic version, and the uncommitted event
// log recording progress/cancellation/terminal state. The shape is
// generalized from the teacher's architecture/cqrs/core.BaseAggregate
// (ksuid ID, version counter, append-only uncommitted events) with the
// CQRS command/query split dropped — a training run has no read model to
// reconcile against, just a status a poller reads.
//
// Session also implements training.CancelToken directly, so it can be
// passed straight into Pipeline.TrainStrategy as the cancellation token.
type Session struct {
	mu          sync.Mutex
	id          string
	version     int
	uncommitted []SessionEvent
	cancelled   bool
	lastBatch   int
}

// NewSession starts a new session aggregate with a fresh ksuid identity.
func NewSession() *Session {
	return &Session{id: ksuid.New().String()}
}

// ID returns the session's ksuid identity, used as the operation/session ID
// threaded through SessionInfo and ResourceUsage.
func (s *Session) ID() string {
	return s.id
}

// Version returns the number of events applied so far.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Cancelled implements training.CancelToken.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Cancel requests cancellation, recording a SessionCancelRequested event.
// Idempotent: a second call after the first is a no-op event-wise.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.apply(SessionEvent{Type: SessionCancelRequested, At: time.Now().UTC()})
}

// RecordProgress applies a SessionProgressRecorded event. Callers are
// expected to already have throttled how often this is invoked (spec.md
// §4.7: "progress updates emitted at most every N batches, never by
// sleeping") — the Session itself does not throttle, it just records.
func (s *Session) RecordProgress(batch, totalBatches int, metrics map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBatch = batch
	s.apply(SessionEvent{
		Type: SessionProgressRecorded,
		At:   time.Now().UTC(),
		Data: map[string]interface{}{"batch": batch, "total_batches": totalBatches, "metrics": metrics},
	})
}

// Complete records the terminal SessionCompleted event.
func (s *Session) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(SessionEvent{Type: SessionCompleted, At: time.Now().UTC()})
}

// Fail records the terminal SessionFailed event.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(SessionEvent{Type: SessionFailed, At: time.Now().UTC(), Data: map[string]interface{}{"reason": reason}})
}

// Events returns a copy of the uncommitted event log.
func (s *Session) Events() []SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionEvent, len(s.uncommitted))
	copy(out, s.uncommitted)
	return out
}

// apply must be called with mu held.
func (s *Session) apply(event SessionEvent) {
	s.version++
	s.uncommitted = append(s.uncommitted, event)
}

// ShouldReportProgress answers whether batch reaches the throttle
// boundary: every everyN batches, plus always the final batch of an
// epoch. Used identically by both orchestrators so the throttle behavior
// is the same regardless of which one is driving the run.
func ShouldReportProgress(batch, totalBatches, everyN int) bool {
	if everyN <= 0 {
		everyN = 1
	}
	return batch%everyN == 0 || batch == totalBatches
}

// ShouldCheckCancel answers whether batch reaches the cancellation-check
// boundary (spec.md §4.7: "cancellation checked every M batches").
func ShouldCheckCancel(batch, everyM int) bool {
	if everyM <= 0 {
		everyM = 1
	}
	return batch%everyM == 0
}
