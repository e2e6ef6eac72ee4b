// Package types holds the data model shared across every ktrdr core
// component: bars, series keys, gaps, indicator/fuzzy frames, strategy
// configuration, model artifacts, and result records (spec.md §3).
package types

import (
	"fmt"
	"math"
	"time"
)

// Source identifies where a Bar's values came from.
type Source string

const (
	SourceBroker    Source = "broker"
	SourceSynthetic Source = "synthetic"
	SourceRepaired  Source = "repaired"
)

// Timeframe is the grid spacing between bars.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe30Min Timeframe = "30m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe2Hour Timeframe = "2h"
	Timeframe4Hour Timeframe = "4h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1w"
	Timeframe1Mon  Timeframe = "1M"
)

// Duration returns the nominal grid spacing for calendar-regular
// timeframes. 1d/1w/1M are irregular with respect to trading calendars and
// are handled by the TradingCalendar, not by a fixed duration.
func (tf Timeframe) Duration() (time.Duration, bool) {
	switch tf {
	case Timeframe1Min:
		return time.Minute, true
	case Timeframe5Min:
		return 5 * time.Minute, true
	case Timeframe15Min:
		return 15 * time.Minute, true
	case Timeframe30Min:
		return 30 * time.Minute, true
	case Timeframe1Hour:
		return time.Hour, true
	case Timeframe2Hour:
		return 2 * time.Hour, true
	case Timeframe4Hour:
		return 4 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid reports whether tf is one of the enumerated timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe30Min,
		Timeframe1Hour, Timeframe2Hour, Timeframe4Hour,
		Timeframe1Day, Timeframe1Week, Timeframe1Mon:
		return true
	default:
		return false
	}
}

// MaxSymbolLength is the bound on SeriesKey.Symbol per spec.md §3.
const MaxSymbolLength = 32

// SeriesKey is the primary partitioning identity for bars: (symbol, timeframe).
type SeriesKey struct {
	Symbol    string
	Timeframe Timeframe
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s@%s", k.Symbol, k.Timeframe)
}

// Validate enforces the bounded-ascii-string and enum invariants on a SeriesKey.
func (k SeriesKey) Validate() error {
	if len(k.Symbol) == 0 || len(k.Symbol) > MaxSymbolLength {
		return fmt.Errorf("symbol must be 1..%d characters, got %d", MaxSymbolLength, len(k.Symbol))
	}
	for _, r := range k.Symbol {
		if r > 127 {
			return fmt.Errorf("symbol %q must be ascii", k.Symbol)
		}
	}
	if !k.Timeframe.Valid() {
		return fmt.Errorf("unrecognized timeframe %q", k.Timeframe)
	}
	return nil
}

// Bar is one OHLCV observation, always timestamped in UTC.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    Source
}

// Validate enforces the OHLC/volume/UTC invariants from spec.md §3.
func (b Bar) Validate() error {
	if b.Timestamp.Location() != time.UTC {
		return fmt.Errorf("bar timestamp %v is not a UTC instant", b.Timestamp)
	}
	for name, v := range map[string]float64{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bar field %s is NaN/Inf", name)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar volume %v is negative", b.Volume)
	}
	minOC := math.Min(b.Open, b.Close)
	maxOC := math.Max(b.Open, b.Close)
	if !(b.Low <= minOC && minOC <= maxOC && maxOC <= b.High) {
		return fmt.Errorf("bar OHLC invariant violated: low=%v open=%v close=%v high=%v", b.Low, b.Open, b.Close, b.High)
	}
	return nil
}

// ValidateSeries checks strictly ascending timestamps and per-bar
// invariants across an ordered slice (spec.md §8 property 1).
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			return fmt.Errorf("bar %d: timestamp %v does not strictly follow %v", i, b.Timestamp, bars[i-1].Timestamp)
		}
	}
	return nil
}
