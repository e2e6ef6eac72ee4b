// Package marketdata implements the MarketDataProvider boundary: the
// interface every external data source must satisfy, and the resilience
// wrapper (pacing, retry-storm cap, circuit breaker) that every concrete
// provider is driven through.
package marketdata

import (
	"context"
	"time"

	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// ContractDetails is the exchange/instrument metadata a provider can
// report for a symbol, independent of any bar data.
type ContractDetails struct {
	Symbol        string
	Exchange      string
	Currency      string
	TradingHours  string
	MinTick       float64
}

// ConnectionStatus reports the provider's current connection lifecycle state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Provider is the MarketDataProvider contract. Implementations talk to a
// specific broker/exchange API; callers never depend on a concrete
// provider type, only on this interface (spec.md §4.2).
type Provider interface {
	// FetchBars returns bars for key within [start,end], ascending by
	// timestamp. Implementations must classify failures using the
	// pkg/errors Kind taxonomy (RateLimited, ConnectionLost, NoData,
	// ContractError) so callers can apply the right retry policy.
	FetchBars(ctx context.Context, key types.SeriesKey, start, end time.Time) ([]types.Bar, error)

	// ContractDetails returns exchange metadata for symbol.
	ContractDetails(ctx context.Context, symbol string) (ContractDetails, error)

	// Connect establishes the underlying session. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Idempotent.
	Disconnect(ctx context.Context) error

	// Status reports the current connection lifecycle state.
	Status() ConnectionStatus
}
