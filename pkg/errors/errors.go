// Package errors defines the error taxonomy shared across the ktrdr core:
// a small set of kinds (never raw stack traces) that every component
// boundary returns, per spec.md §7.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Kind identifies the category of a core error. Kinds are policy, not
// implementation detail: each one has a fixed propagation/retry rule
// documented alongside the constant.
type Kind string

const (
	// ConfigError - invalid strategy config or out-of-range parameter.
	// Policy: fail fast at the boundary with a precise field path.
	ConfigError Kind = "CONFIG_ERROR"

	// DataIntegrity - OHLC invariant violated, non-monotonic ts, NaN/Inf.
	// Policy: fatal, reject the whole batch, surface to the caller.
	DataIntegrity Kind = "DATA_INTEGRITY"

	// RateLimited - provider pacing violation.
	// Policy: retry with full-jitter backoff; partial-frame warning after cap.
	RateLimited Kind = "RATE_LIMITED"

	// ConnectionLost - provider session dropped.
	// Policy: reconnect bounded 3x; surface partial result on exhaustion.
	ConnectionLost Kind = "CONNECTION_LOST"

	// NoData - provider returned empty for a valid range.
	// Policy: not an error; caller records it as a remaining Data gap.
	NoData Kind = "NO_DATA"

	// ContractError - unknown symbol or bad contract.
	// Policy: fatal for that series; continue others in a multi-series call.
	ContractError Kind = "CONTRACT_ERROR"

	// Cancelled - cooperative cancellation observed.
	// Policy: clean exit, no partial artifacts persisted.
	Cancelled Kind = "CANCELLED"

	// PersistenceError - store write/read failure.
	// Policy: fatal for the operation; caller retries.
	PersistenceError Kind = "PERSISTENCE_ERROR"

	// ModelError - training diverged (NaN loss) or failed to converge.
	// Policy: fatal; return with diagnostic metrics attached.
	ModelError Kind = "MODEL_ERROR"
)

// CoreError is the structured error returned at every component boundary.
type CoreError struct {
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As from the standard library walk the cause chain.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context.field (series_key, range, epoch, ...) to the error.
func (e *CoreError) WithContext(key string, value interface{}) *CoreError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying cause.
func (e *CoreError) WithCause(cause error) *CoreError {
	e.Cause = cause
	return e
}

// New creates a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	_, file, line, _ := runtime.Caller(1)
	return &CoreError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *CoreError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error as a CoreError of the given kind.
func Wrap(err error, kind Kind, message string) *CoreError {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &CoreError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Cause:     err,
	}
}

// Wrapf is Wrap with fmt.Sprintf formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *CoreError {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// As finds the first CoreError in err's chain and assigns it to target.
func As(err error, target **CoreError) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		*target = ce
		return true
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}
	return false
}

// GetKind extracts the Kind from an error, or "" if it is not a CoreError.
func GetKind(err error) Kind {
	var ce *CoreError
	if As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether the error's kind is recoverable locally by
// DataManager without the caller's involvement (spec.md §7 propagation policy).
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case RateLimited, ConnectionLost:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must propagate past DataManager
// untouched (everything that is not locally recoverable).
func IsFatal(err error) bool {
	switch GetKind(err) {
	case DataIntegrity, ContractError, PersistenceError, ModelError, ConfigError:
		return true
	default:
		return false
	}
}
