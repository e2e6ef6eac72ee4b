package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchBars(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.Bar, error) {
	args := m.Called(ctx, key, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Bar), args.Error(1)
}

func (m *mockFetcher) ContractDetails(ctx context.Context, symbol string) (ContractDetails, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(ContractDetails), args.Error(1)
}

func (m *mockFetcher) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockFetcher) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func testKey() types.SeriesKey {
	return types.SeriesKey{Symbol: "AAPL", Timeframe: types.Timeframe1Day}
}

func TestGateway_FetchBars_Success(t *testing.T) {
	upstream := &mockFetcher{}
	bars := []types.Bar{{Timestamp: time.Now().UTC(), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10, Source: types.SourceBroker}}
	upstream.On("FetchBars", mock.Anything, testKey(), mock.Anything, mock.Anything).Return(bars, nil)

	gw := NewGateway("client-1", upstream, DefaultResilienceConfig(), zaptest.NewLogger(t))
	got, err := gw.FetchBars(context.Background(), testKey(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	upstream.AssertExpectations(t)
}

func TestGateway_FetchBars_EmptyIsNoData(t *testing.T) {
	upstream := &mockFetcher{}
	upstream.On("FetchBars", mock.Anything, testKey(), mock.Anything, mock.Anything).Return([]types.Bar{}, nil)

	gw := NewGateway("client-2", upstream, DefaultResilienceConfig(), zaptest.NewLogger(t))
	_, err := gw.FetchBars(context.Background(), testKey(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.NoData, errors.GetKind(err))
}

func TestGateway_FetchBars_RetriesRateLimitedThenSucceeds(t *testing.T) {
	upstream := &mockFetcher{}
	bars := []types.Bar{{Timestamp: time.Now().UTC(), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10, Source: types.SourceBroker}}
	rateLimitedErr := errors.New(errors.RateLimited, "too many requests")

	upstream.On("FetchBars", mock.Anything, testKey(), mock.Anything, mock.Anything).Return(nil, rateLimitedErr).Once()
	upstream.On("FetchBars", mock.Anything, testKey(), mock.Anything, mock.Anything).Return(bars, nil).Once()

	cfg := DefaultResilienceConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	gw := NewGateway("client-3", upstream, cfg, zaptest.NewLogger(t))
	got, err := gw.FetchBars(context.Background(), testKey(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	upstream.AssertExpectations(t)
}

func TestGateway_FetchBars_NonRetryableFailsImmediately(t *testing.T) {
	upstream := &mockFetcher{}
	contractErr := errors.New(errors.ContractError, "unknown symbol")
	upstream.On("FetchBars", mock.Anything, testKey(), mock.Anything, mock.Anything).Return(nil, contractErr).Once()

	gw := NewGateway("client-4", upstream, DefaultResilienceConfig(), zaptest.NewLogger(t))
	_, err := gw.FetchBars(context.Background(), testKey(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ContractError, errors.GetKind(err))
	upstream.AssertNumberOfCalls(t, "FetchBars", 1)
}

func TestGateway_ConnectDisconnect_Lifecycle(t *testing.T) {
	upstream := &mockFetcher{}
	upstream.On("Connect", mock.Anything).Return(nil)
	upstream.On("Disconnect", mock.Anything).Return(nil)

	gw := NewGateway("client-5", upstream, DefaultResilienceConfig(), zaptest.NewLogger(t))
	assert.Equal(t, StatusDisconnected, gw.Status())

	require.NoError(t, gw.Connect(context.Background()))
	assert.Equal(t, StatusConnected, gw.Status())

	require.NoError(t, gw.Disconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, gw.Status())
}
