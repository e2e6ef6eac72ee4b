package store

import (
	"context"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Store is the TimeSeriesStore contract from spec.md §4.1. It is the
// exclusive owner of persisted bars/indicators (spec.md §3 "Ownership").
type Store interface {
	// UpsertBars is atomic and idempotent by (ts,symbol,timeframe): on
	// conflict it replaces all OHLCV+source fields. The whole batch is
	// rejected with a DataIntegrity error if any row violates the OHLC/
	// volume invariants; a failed upsert leaves the series untouched.
	UpsertBars(ctx context.Context, key types.SeriesKey, rows []types.Bar) error

	// LoadBars returns rows in strictly ascending ts. A nil window loads
	// the whole series. Missing ranges return an empty slice, not an error.
	LoadBars(ctx context.Context, key types.SeriesKey, window *Window) ([]types.Bar, error)

	// DateRange returns the min/max timestamp stored for the series, or
	// ok=false if the series has no rows.
	DateRange(ctx context.Context, key types.SeriesKey) (min, max time.Time, ok bool, err error)

	// DeleteBars deletes rows in the window (or the whole series if nil)
	// and returns the count deleted.
	DeleteBars(ctx context.Context, key types.SeriesKey, window *Window) (int64, error)

	// UpsertIndicator persists an indicator frame with the same atomic/
	// idempotent semantics as UpsertBars.
	UpsertIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, rows []types.IndicatorRow) error

	// LoadIndicator returns indicator rows in strictly ascending ts.
	LoadIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, window *Window) ([]types.IndicatorRow, error)

	// ListSymbols returns sorted, unique symbols, optionally filtered by timeframe.
	ListSymbols(ctx context.Context, timeframe *types.Timeframe) ([]string, error)
}

// Window bounds a range query; both ends are inclusive UTC instants.
type Window struct {
	Start time.Time
	End   time.Time
}
