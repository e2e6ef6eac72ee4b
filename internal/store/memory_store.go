package store

import (
	"context"
	"sort"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// MemoryStore is an in-process Store used by tests and by callers that do
// not need Postgres — it implements the identical contract as GormStore
// (idempotent upsert, ascending range loads, DataIntegrity rejection).
type MemoryStore struct {
	locks      *seriesLockTable
	bars       map[types.SeriesKey]map[time.Time]types.Bar
	indicators map[indicatorKey]map[time.Time]types.IndicatorRow
}

type indicatorKey struct {
	series types.SeriesKey
	name   string
	params string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      newSeriesLockTable(),
		bars:       make(map[types.SeriesKey]map[time.Time]types.Bar),
		indicators: make(map[indicatorKey]map[time.Time]types.IndicatorRow),
	}
}

func (s *MemoryStore) UpsertBars(ctx context.Context, key types.SeriesKey, rows []types.Bar) error {
	if err := key.Validate(); err != nil {
		return errors.Wrap(err, errors.ConfigError, "invalid series key")
	}
	if err := types.ValidateSeries(rows); err != nil {
		return errors.Wrap(err, errors.DataIntegrity, "bar batch failed validation; batch rejected").
			WithContext("series_key", key.String())
	}

	unlock := s.locks.lock(key)
	defer unlock()

	series, ok := s.bars[key]
	if !ok {
		series = make(map[time.Time]types.Bar)
		s.bars[key] = series
	}
	for _, b := range rows {
		series[b.Timestamp] = b
	}
	return nil
}

func (s *MemoryStore) LoadBars(ctx context.Context, key types.SeriesKey, window *Window) ([]types.Bar, error) {
	series := s.bars[key]
	out := make([]types.Bar, 0, len(series))
	for ts, b := range series {
		if window != nil && (ts.Before(window.Start) || ts.After(window.End)) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) DateRange(ctx context.Context, key types.SeriesKey) (time.Time, time.Time, bool, error) {
	series := s.bars[key]
	if len(series) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	var min, max time.Time
	first := true
	for ts := range series {
		if first || ts.Before(min) {
			min = ts
		}
		if first || ts.After(max) {
			max = ts
		}
		first = false
	}
	return min, max, true, nil
}

func (s *MemoryStore) DeleteBars(ctx context.Context, key types.SeriesKey, window *Window) (int64, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	series, ok := s.bars[key]
	if !ok {
		return 0, nil
	}
	var count int64
	for ts := range series {
		if window == nil || (!ts.Before(window.Start) && !ts.After(window.End)) {
			delete(series, ts)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UpsertIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, rows []types.IndicatorRow) error {
	ik := indicatorKey{series: key, name: indicatorName, params: paramsHash}
	unlock := s.locks.lock(key)
	defer unlock()

	series, ok := s.indicators[ik]
	if !ok {
		series = make(map[time.Time]types.IndicatorRow)
		s.indicators[ik] = series
	}
	for _, r := range rows {
		series[r.Timestamp] = r
	}
	return nil
}

func (s *MemoryStore) LoadIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, window *Window) ([]types.IndicatorRow, error) {
	ik := indicatorKey{series: key, name: indicatorName, params: paramsHash}
	series := s.indicators[ik]
	out := make([]types.IndicatorRow, 0, len(series))
	for ts, r := range series {
		if window != nil && (ts.Before(window.Start) || ts.After(window.End)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) ListSymbols(ctx context.Context, timeframe *types.Timeframe) ([]string, error) {
	seen := make(map[string]bool)
	for key := range s.bars {
		if timeframe != nil && key.Timeframe != *timeframe {
			continue
		}
		seen[key.Symbol] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*GormStore)(nil)
