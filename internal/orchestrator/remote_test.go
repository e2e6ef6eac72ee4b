package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/fuzzy"
	"github.com/ktrdr-io/ktrdr/internal/indicators"
	"github.com/ktrdr-io/ktrdr/internal/store"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

func newTestPipeline(t *testing.T, symbols []string, timeframe types.Timeframe) *training.Pipeline {
	t.Helper()
	st := store.NewMemoryStore()
	for _, s := range symbols {
		seedBars(t, st, types.SeriesKey{Symbol: s, Timeframe: timeframe}, 80)
	}
	dm, err := datamanager.New(st, unreachableProvider{}, noGapCalendar{}, datamanager.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return training.New(dm, indicators.NewEngine(), fuzzy.NewEngine(), t.TempDir(), 2, zaptest.NewLogger(t))
}

func TestRemote_SubmitAndAwait_ProducesDecoratedResult(t *testing.T) {
	symbols := []string{"AAPL"}
	timeframe := types.Timeframe1Day
	pipeline := newTestPipeline(t, symbols, timeframe)

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	hostCfg := DefaultRemoteConfig()
	host := NewNATSHost(pipeline, pubSub, "training.", hostCfg, zaptest.NewLogger(t))
	remote := NewRemote(host, hostCfg, zaptest.NewLogger(t))

	cfg := testStrategyConfig(symbols, timeframe)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 79)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	operationID, err := remote.Submit(ctx, symbols, start, end, cfg, datamanager.ModeLocal)
	require.NoError(t, err)
	require.NotEmpty(t, operationID)

	result, err := remote.Await(ctx, operationID)
	require.NoError(t, err)

	assert.Equal(t, types.ResultCompleted, result.Status)
	assert.Equal(t, operationID, result.SessionID)
	require.NotNil(t, result.ResourceUsage)
	assert.GreaterOrEqual(t, result.ResourceUsage.WallClock, time.Duration(0))
	assert.NotEmpty(t, result.ModelPath)
}

func TestRemote_Cancel_MarksJobCancelled(t *testing.T) {
	symbols := []string{"AAPL"}
	timeframe := types.Timeframe1Day
	pipeline := newTestPipeline(t, symbols, timeframe)

	hostCfg := DefaultRemoteConfig()
	host := NewNATSHost(pipeline, nil, "training.", hostCfg, zaptest.NewLogger(t))
	remote := NewRemote(host, hostCfg, zaptest.NewLogger(t))

	cfg := testStrategyConfig(symbols, timeframe)
	cfg.Training.Epochs = 200
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 79)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	operationID, err := remote.Submit(ctx, symbols, start, end, cfg, datamanager.ModeLocal)
	require.NoError(t, err)

	require.NoError(t, remote.Cancel(ctx, operationID))

	result, err := remote.Await(ctx, operationID)
	require.NoError(t, err)
	assert.Contains(t, []types.ResultStatus{types.ResultCancelled, types.ResultCompleted}, result.Status)
}

func TestRemote_Await_UnknownOperationErrors(t *testing.T) {
	pipeline := newTestPipeline(t, []string{"AAPL"}, types.Timeframe1Day)
	hostCfg := DefaultRemoteConfig()
	host := NewNATSHost(pipeline, nil, "training.", hostCfg, zaptest.NewLogger(t))
	remote := NewRemote(host, hostCfg, zaptest.NewLogger(t))

	_, err := remote.Await(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
