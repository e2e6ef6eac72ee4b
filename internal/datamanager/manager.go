// Package datamanager implements the DataManager component (C3): the only
// entry point for bar data anywhere in the system. It detects gaps against
// a trading calendar, fetches the minimum necessary ranges from a
// MarketDataProvider under a bounded worker pool, merges results back into
// the store, and reports data quality.
package datamanager

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/marketdata"
	"github.com/ktrdr-io/ktrdr/internal/store"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Config tunes DataManager's caching and concurrency.
type Config struct {
	FrameCacheCapacity   int
	MetadataCacheTTL     time.Duration
	FetchConcurrency     int
	MaxConsecutivePacing int
	PerCallRangeCap      time.Duration
}

// DefaultConfig matches spec.md §4.3/§4.2 defaults: a warning is logged
// once 3 ranges of one load have failed with pacing errors, otherwise a
// reasonable fan-out.
func DefaultConfig() Config {
	return Config{
		FrameCacheCapacity:   256,
		MetadataCacheTTL:     1 * time.Hour,
		FetchConcurrency:     4,
		MaxConsecutivePacing: 3,
		PerCallRangeCap:      30 * 24 * time.Hour,
	}
}

// DataManager is the C3 component.
type DataManager struct {
	store    store.Store
	provider marketdata.Provider
	calendar types.TradingCalendar
	logger   *zap.Logger
	cfg      Config

	frames   *frameLRU
	metadata *gocache.Cache
	pool     *ants.Pool
}

// New builds a DataManager, owning a worker pool sized by cfg.FetchConcurrency.
func New(st store.Store, provider marketdata.Provider, calendar types.TradingCalendar, cfg Config, logger *zap.Logger) (*DataManager, error) {
	pool, err := ants.NewPool(cfg.FetchConcurrency)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigError, "creating data manager worker pool")
	}
	return &DataManager{
		store:    st,
		provider: provider,
		calendar: calendar,
		logger:   logger,
		cfg:      cfg,
		frames:   newFrameLRU(cfg.FrameCacheCapacity),
		metadata: gocache.New(cfg.MetadataCacheTTL, cfg.MetadataCacheTTL*2),
		pool:     pool,
	}, nil
}

// Close releases the worker pool.
func (d *DataManager) Close() {
	d.pool.Release()
}

// LoadData is the sole entry point for bar data (spec.md §4.3).
func (d *DataManager) LoadData(ctx context.Context, key types.SeriesKey, t0, t1 time.Time, mode LoadMode) ([]types.Bar, QualityReport, error) {
	if t0.Location() != time.UTC || t1.Location() != time.UTC {
		return nil, QualityReport{}, errors.New(errors.ConfigError, "loadData requires UTC instants")
	}
	if err := key.Validate(); err != nil {
		return nil, QualityReport{}, errors.Wrap(err, errors.ConfigError, "invalid series key")
	}

	cacheKey := frameCacheKey{series: key, start: t0, end: t1, mode: mode}
	if rows, report, ok := d.frames.get(cacheKey); ok {
		return rows, report, nil
	}

	var rows []types.Bar
	var report QualityReport
	var err error

	switch mode {
	case ModeLocal:
		rows, report, err = d.loadLocal(ctx, key, t0, t1)
	case ModeTail:
		rows, report, err = d.loadTail(ctx, key, t1)
	case ModeBackfill:
		rows, report, err = d.loadBackfill(ctx, key, t0)
	case ModeFull:
		rows, report, err = d.loadFull(ctx, key, t0, t1)
	default:
		return nil, QualityReport{}, errors.Newf(errors.ConfigError, "unrecognized load mode %q", mode)
	}
	if err != nil {
		return nil, QualityReport{}, err
	}

	d.frames.put(cacheKey, rows, report)
	return rows, report, nil
}

func (d *DataManager) loadLocal(ctx context.Context, key types.SeriesKey, t0, t1 time.Time) ([]types.Bar, QualityReport, error) {
	rows, err := d.store.LoadBars(ctx, key, &store.Window{Start: t0, End: t1})
	if err != nil {
		return nil, QualityReport{}, err
	}
	return rows, QualityReport{Total: len(rows)}, nil
}

func (d *DataManager) loadTail(ctx context.Context, key types.SeriesKey, t1 time.Time) ([]types.Bar, QualityReport, error) {
	_, max, ok, err := d.store.DateRange(ctx, key)
	if err != nil {
		return nil, QualityReport{}, err
	}
	start := max
	if !ok {
		start = t1.AddDate(-1, 0, 0)
	}
	return d.loadFull(ctx, key, start, t1)
}

func (d *DataManager) loadBackfill(ctx context.Context, key types.SeriesKey, t0 time.Time) ([]types.Bar, QualityReport, error) {
	min, _, ok, err := d.store.DateRange(ctx, key)
	if err != nil {
		return nil, QualityReport{}, err
	}
	end := min
	if !ok {
		end = time.Now().UTC()
	}
	return d.loadFull(ctx, key, t0, end)
}

// loadFull implements the Full-mode algorithm from spec.md §4.3: load
// local rows, classify the expected grid against the trading calendar,
// coalesce Data gaps into ranges, fetch those ranges through the bounded
// worker pool, merge upstream values over prior Synthetic/Repaired rows,
// persist, validate, and report.
func (d *DataManager) loadFull(ctx context.Context, key types.SeriesKey, t0, t1 time.Time) ([]types.Bar, QualityReport, error) {
	local, err := d.store.LoadBars(ctx, key, &store.Window{Start: t0, End: t1})
	if err != nil {
		return nil, QualityReport{}, err
	}

	present := make(map[time.Time]bool, len(local))
	for _, b := range local {
		present[b.Timestamp] = true
	}

	grid, err := d.expectedGrid(key, t0, t1)
	if err != nil {
		return nil, QualityReport{}, err
	}

	var dataGaps []time.Time
	for _, ts := range grid {
		if present[ts] {
			continue
		}
		if d.calendar.Classify(key.Symbol, key.Timeframe, ts) == types.GapData {
			dataGaps = append(dataGaps, ts)
		}
	}

	ranges := coalesce(dataGaps, key.Timeframe)

	fetched, remaining, incomplete, err := d.fetchRanges(ctx, key, ranges)
	if err != nil {
		return nil, QualityReport{}, err
	}

	merged := mergeBars(local, fetched)
	if err := types.ValidateSeries(merged); err != nil {
		return nil, QualityReport{}, errors.Wrap(err, errors.DataIntegrity, "merged frame failed validation")
	}

	if len(fetched) > 0 {
		if err := d.store.UpsertBars(ctx, key, fetched); err != nil {
			return nil, QualityReport{}, err
		}
		d.frames.invalidate(key)
	}

	report := QualityReport{
		Total:         len(merged),
		Fetched:       len(fetched),
		RemainingGaps: remaining,
		Incomplete:    incomplete,
	}
	return merged, report, nil
}

// expectedGrid enumerates the timeframe-aligned timestamps in [t0,t1].
// Calendar-irregular timeframes (1d/1w/1M) walk day boundaries; the
// trading calendar is the authority on which of those are real bars.
func (d *DataManager) expectedGrid(key types.SeriesKey, t0, t1 time.Time) ([]time.Time, error) {
	step, regular := key.Timeframe.Duration()
	var grid []time.Time
	if regular {
		for ts := t0; !ts.After(t1); ts = ts.Add(step) {
			grid = append(grid, ts)
		}
		return grid, nil
	}
	for ts := t0; !ts.After(t1); ts = ts.AddDate(0, 0, 1) {
		grid = append(grid, ts)
	}
	return grid, nil
}

// gapRange is a coalesced run of adjacent missing grid points.
type gapRange struct {
	start time.Time
	end   time.Time
}

// coalesce merges adjacent missing timestamps into contiguous ranges so
// DataManager issues one provider call per run instead of one per point.
func coalesce(points []time.Time, tf types.Timeframe) []gapRange {
	if len(points) == 0 {
		return nil
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	step, regular := tf.Duration()
	if !regular {
		step = 24 * time.Hour
	}

	var ranges []gapRange
	cur := gapRange{start: points[0], end: points[0]}
	for _, ts := range points[1:] {
		if ts.Sub(cur.end) <= step {
			cur.end = ts
			continue
		}
		ranges = append(ranges, cur)
		cur = gapRange{start: ts, end: ts}
	}
	ranges = append(ranges, cur)
	return ranges
}

// fetchRanges fans the coalesced ranges out across the bounded worker
// pool, grounded on the teacher's WorkerPoolFactory (panjf2000/ants)
// submit-and-wait idiom, applying spec.md §4.3's failure policy: a range
// that returns NoData becomes a remaining Data gap; a range that fails
// otherwise (after the provider's own retries) also becomes a remaining
// Data gap and flags the frame incomplete, while the other ranges' bars
// are kept; a warning is logged when MaxConsecutivePacing or more ranges
// failed with RateLimited; DataIntegrity is fatal.
func (d *DataManager) fetchRanges(ctx context.Context, key types.SeriesKey, ranges []gapRange) ([]types.Bar, []types.Gap, bool, error) {
	if len(ranges) == 0 {
		return nil, nil, false, nil
	}

	type result struct {
		bars []types.Bar
		gap  *types.Gap
		err  error
	}
	results := make([]result, len(ranges))
	done := make(chan struct{}, len(ranges))

	var consecutivePacingFailures int
	var integrityErr error
	for i, r := range ranges {
		i, r := i, r
		submitErr := d.pool.Submit(func() {
			defer func() { done <- struct{}{} }()
			bars, err := d.provider.FetchBars(ctx, key, r.start, r.end)
			if err != nil {
				if errors.Is(err, errors.NoData) {
					results[i] = result{gap: &types.Gap{Start: r.start, End: r.end, Kind: types.GapData}}
					return
				}
				results[i] = result{gap: &types.Gap{Start: r.start, End: r.end, Kind: types.GapData}, err: err}
				return
			}
			results[i] = result{bars: bars}
		})
		if submitErr != nil {
			return nil, nil, false, errors.Wrap(submitErr, errors.ConnectionLost, "submitting fetch task to worker pool")
		}
	}
	for range ranges {
		<-done
	}

	var fetched []types.Bar
	var remaining []types.Gap
	incomplete := false
	for _, res := range results {
		if res.err == nil && res.gap != nil {
			remaining = append(remaining, *res.gap)
			continue
		}
		if res.err != nil {
			if errors.Is(res.err, errors.DataIntegrity) {
				integrityErr = res.err
				continue
			}
			if errors.Is(res.err, errors.RateLimited) {
				consecutivePacingFailures++
			}
			if res.gap != nil {
				remaining = append(remaining, *res.gap)
			}
			incomplete = true
			continue
		}
		fetched = append(fetched, res.bars...)
	}
	if integrityErr != nil {
		return nil, nil, false, integrityErr
	}
	if consecutivePacingFailures >= d.cfg.MaxConsecutivePacing {
		d.logger.Warn("data manager degrading to partial frame after repeated pacing failures",
			zap.String("series", key.String()), zap.Int("failures", consecutivePacingFailures))
	}
	return fetched, remaining, incomplete, nil
}

// mergeBars merges fetched bars into local by timestamp; upstream
// (provider-sourced) values win over any prior Synthetic/Repaired row for
// the same instant, per spec.md §4.3 step 4.
func mergeBars(local, fetched []types.Bar) []types.Bar {
	byTS := make(map[time.Time]types.Bar, len(local)+len(fetched))
	for _, b := range local {
		byTS[b.Timestamp] = b
	}
	for _, b := range fetched {
		byTS[b.Timestamp] = b
	}
	out := make([]types.Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ContractDetails proxies to the provider through the secondary metadata
// cache (spec.md §3 domain-stack table: go-cache for contractDetails/
// trading-hours metadata, separate from the primary LRU frame cache).
func (d *DataManager) ContractDetails(ctx context.Context, symbol string) (marketdata.ContractDetails, error) {
	if cached, ok := d.metadata.Get(symbol); ok {
		return cached.(marketdata.ContractDetails), nil
	}
	details, err := d.provider.ContractDetails(ctx, symbol)
	if err != nil {
		return marketdata.ContractDetails{}, err
	}
	d.metadata.SetDefault(symbol, details)
	return details, nil
}
