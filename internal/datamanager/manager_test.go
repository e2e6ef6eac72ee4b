package datamanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ktrdr-io/ktrdr/internal/marketdata"
	"github.com/ktrdr-io/ktrdr/internal/store"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// fakeProvider serves bars for exactly the dates it was seeded with and
// returns NoData for anything else, modeling an upstream that genuinely
// has no data for a range rather than failing.
type fakeProvider struct {
	bars map[time.Time]types.Bar
	calls int
}

func (p *fakeProvider) FetchBars(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.Bar, error) {
	p.calls++
	var out []types.Bar
	for ts, b := range p.bars {
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errors.New(errors.NoData, "no bars for range")
	}
	return out, nil
}

func (p *fakeProvider) ContractDetails(ctx context.Context, symbol string) (marketdata.ContractDetails, error) {
	return marketdata.ContractDetails{Symbol: symbol}, nil
}
func (p *fakeProvider) Connect(ctx context.Context) error    { return nil }
func (p *fakeProvider) Disconnect(ctx context.Context) error { return nil }
func (p *fakeProvider) Status() marketdata.ConnectionStatus  { return marketdata.StatusConnected }

// weekdayCalendar classifies Saturday/Sunday as weekend, everything else
// as a real Data gap — enough to exercise coalescing without a full
// holiday calendar.
type weekdayCalendar struct{}

func (weekdayCalendar) Classify(symbol string, tf types.Timeframe, ts time.Time) types.GapKind {
	switch ts.Weekday() {
	case time.Saturday, time.Sunday:
		return types.GapWeekend
	default:
		return types.GapData
	}
}

func TestDataManager_LoadFull_FillsOnlyDataGaps(t *testing.T) {
	key := types.SeriesKey{Symbol: "AAPL", Timeframe: types.Timeframe1Day}
	st := store.NewMemoryStore()

	// store has 01-02..01-05 (Tue-Fri), missing 01-08 (Mon, a weekday data
	// gap) and 01-06/01-07 (weekend, not a data gap).
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var existing []types.Bar
	for i := 0; i < 4; i++ {
		ts := base.AddDate(0, 0, i)
		existing = append(existing, types.Bar{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Source: types.SourceBroker})
	}
	require.NoError(t, st.UpsertBars(context.Background(), key, existing))

	missingDay := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{bars: map[time.Time]types.Bar{
		missingDay: {Timestamp: missingDay, Open: 105, High: 106, Low: 104, Close: 105, Volume: 20, Source: types.SourceBroker},
	}}

	dm, err := New(st, provider, weekdayCalendar{}, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	rows, report, err := dm.LoadData(context.Background(), key, base, missingDay, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 1, report.Fetched)
	assert.Empty(t, report.RemainingGaps)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Timestamp.After(rows[i-1].Timestamp))
	}
	assert.Equal(t, 1, provider.calls, "weekend gaps must never reach the provider")
}

func TestDataManager_LoadFull_CachesResult(t *testing.T) {
	key := types.SeriesKey{Symbol: "AAPL", Timeframe: types.Timeframe1Day}
	st := store.NewMemoryStore()
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertBars(context.Background(), key, []types.Bar{
		{Timestamp: base, Open: 1, High: 2, Low: 1, Close: 1, Volume: 1, Source: types.SourceBroker},
	}))

	provider := &fakeProvider{bars: map[time.Time]types.Bar{}}
	dm, err := New(st, provider, weekdayCalendar{}, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	_, _, err = dm.LoadData(context.Background(), key, base, base, ModeFull)
	require.NoError(t, err)
	callsAfterFirst := provider.calls

	_, _, err = dm.LoadData(context.Background(), key, base, base, ModeFull)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, provider.calls, "second identical call must be served from the frame cache")
}

func TestDataManager_LoadLocal_NeverCallsProvider(t *testing.T) {
	key := types.SeriesKey{Symbol: "AAPL", Timeframe: types.Timeframe1Day}
	st := store.NewMemoryStore()
	provider := &fakeProvider{bars: map[time.Time]types.Bar{}}
	dm, err := New(st, provider, weekdayCalendar{}, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	_, _, err = dm.LoadData(context.Background(), key, time.Now().UTC(), time.Now().UTC(), ModeLocal)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
}

func TestDataManager_LoadData_RejectsNonUTC(t *testing.T) {
	key := types.SeriesKey{Symbol: "AAPL", Timeframe: types.Timeframe1Day}
	st := store.NewMemoryStore()
	provider := &fakeProvider{bars: map[time.Time]types.Bar{}}
	dm, err := New(st, provider, weekdayCalendar{}, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()

	local, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	_, _, err = dm.LoadData(context.Background(), key, time.Now().In(local), time.Now().In(local), ModeFull)
	require.Error(t, err)
	assert.Equal(t, errors.ConfigError, errors.GetKind(err))
}

func TestCoalesce_MergesAdjacentPoints(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2), base.AddDate(0, 0, 10)}
	ranges := coalesce(points, types.Timeframe1Day)
	require.Len(t, ranges, 2)
	assert.Equal(t, base, ranges[0].start)
	assert.Equal(t, base.AddDate(0, 0, 2), ranges[0].end)
	assert.Equal(t, base.AddDate(0, 0, 10), ranges[1].start)
}
