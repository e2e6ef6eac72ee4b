// Package store implements TimeSeriesStore (spec.md §4.1): idempotent
// OHLCV and indicator persistence with range queries, grounded on the
// teacher's gorm-backed repositories (internal/db/repositories,
// internal/db/models in the teacher tree) generalized from order/quote
// rows to bar/indicator rows keyed by (ts,symbol,timeframe).
package store

import "time"

// BarRow is the gorm-mapped row for one persisted bar. The composite
// unique index (symbol,timeframe,ts) is what makes upsertBars idempotent
// and gives the "secondary index (symbol,timeframe,ts desc)" from
// spec.md §4.1 design notes.
type BarRow struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"uniqueIndex:idx_bar_series_ts;index:idx_bar_series_desc,priority:1;not null"`
	Timeframe string    `gorm:"uniqueIndex:idx_bar_series_ts;index:idx_bar_series_desc,priority:2;not null"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_bar_series_ts;index:idx_bar_series_desc,priority:3,sort:desc;not null"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    string `gorm:"not null"`
}

func (BarRow) TableName() string { return "bars" }

// IndicatorRow is the gorm-mapped row for one persisted indicator frame
// entry. Value is stored as a JSON-typed column (spec.md §6) because an
// indicator row may carry multiple named fields (MACD, Bollinger Bands).
type IndicatorRow struct {
	ID            uint      `gorm:"primaryKey"`
	Symbol        string    `gorm:"uniqueIndex:idx_indicator_series_ts;not null"`
	Timeframe     string    `gorm:"uniqueIndex:idx_indicator_series_ts;not null"`
	IndicatorName string    `gorm:"uniqueIndex:idx_indicator_series_ts;not null"`
	ParamsHash    string    `gorm:"uniqueIndex:idx_indicator_series_ts;not null"`
	Timestamp     time.Time `gorm:"uniqueIndex:idx_indicator_series_ts;not null"`
	ValueJSON     string    `gorm:"type:jsonb;not null"`
}

func (IndicatorRow) TableName() string { return "indicators" }
