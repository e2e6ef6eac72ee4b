package marketdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/metrics"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// BarFetcher is the narrow upstream call a Gateway wraps with resilience.
// A concrete broker integration supplies this; it must classify its own
// failures with the pkg/errors Kind taxonomy.
type BarFetcher interface {
	FetchBars(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.Bar, error)
	ContractDetails(ctx context.Context, symbol string) (ContractDetails, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Gateway is the reference Provider: an upstream BarFetcher driven through
// a Resilience wrapper. spec.md §4.2 treats the wire protocol as entirely
// abstract ("broker-specific wire protocol... treated as an abstract
// MarketDataProvider") — Gateway is the concrete shape every real
// integration fills in by implementing BarFetcher.
type Gateway struct {
	upstream   BarFetcher
	resilience *Resilience
	logger     *zap.Logger
	cfg        ResilienceConfig
	mu         sync.RWMutex
	status     ConnectionStatus
	metrics    *metrics.Recorder
}

// SetMetrics attaches a metrics.Recorder; nil (the zero value) leaves
// recording a no-op.
func (g *Gateway) SetMetrics(m *metrics.Recorder) { g.metrics = m }

// NewGateway wires upstream behind pacing/retry-storm/circuit-breaker
// protection, keyed by clientID for the retry-storm limiter.
func NewGateway(clientID string, upstream BarFetcher, cfg ResilienceConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		upstream:   upstream,
		resilience: NewResilience(clientID, cfg, logger),
		logger:     logger,
		cfg:        cfg,
		status:     StatusDisconnected,
	}
}

func (g *Gateway) FetchBars(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.BarsTimeout)
	defer cancel()

	result, err := g.resilience.Do(ctx, func(ctx context.Context) (interface{}, error) {
		bars, err := g.upstream.FetchBars(ctx, key, start, end)
		if err != nil {
			return nil, err
		}
		return bars, nil
	})
	if err != nil {
		g.metrics.RecordGatewayRequest(string(errors.GetKind(err)))
		return nil, err
	}
	bars, _ := result.([]types.Bar)
	if len(bars) == 0 {
		g.metrics.RecordGatewayRequest(string(errors.NoData))
		return nil, errors.New(errors.NoData, "provider returned no bars for range").
			WithContext("series_key", key.String())
	}
	g.metrics.RecordGatewayRequest("ok")
	return bars, nil
}

func (g *Gateway) ContractDetails(ctx context.Context, symbol string) (ContractDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StatusTimeout)
	defer cancel()

	result, err := g.resilience.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return g.upstream.ContractDetails(ctx, symbol)
	})
	if err != nil {
		return ContractDetails{}, err
	}
	details, _ := result.(ContractDetails)
	return details, nil
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusConnected {
		return nil
	}
	g.status = StatusConnecting
	if err := g.upstream.Connect(ctx); err != nil {
		g.status = StatusDisconnected
		return errors.Wrap(err, errors.ConnectionLost, "provider connect failed")
	}
	g.status = StatusConnected
	g.logger.Info("market data provider connected")
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusDisconnected {
		return nil
	}
	if err := g.upstream.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ConnectionLost, "provider disconnect failed")
	}
	g.status = StatusDisconnected
	return nil
}

func (g *Gateway) Status() ConnectionStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

var _ Provider = (*Gateway)(nil)
