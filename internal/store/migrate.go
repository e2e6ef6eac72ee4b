package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Migrate creates the bars/indicators tables with the partitioned layout
// from spec.md §6 ("A hypertable/partitioned-table layout keyed by
// (ts, symbol, timeframe) is required; retention and chunk interval are
// configurable"). Grounded on the teacher's raw-sqlx migration idiom
// (internal/db/migrations/*): plain ExecContext DDL, not an ORM
// auto-migrate, because range partitioning needs hand-written DDL gorm
// does not express.
func Migrate(ctx context.Context, db *sqlx.DB, cfg PartitionConfig, logger *zap.Logger) error {
	logger.Info("running ktrdr store migration",
		zap.Duration("partition_interval", cfg.PartitionInterval),
		zap.Duration("retention", cfg.Retention))

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			id BIGSERIAL,
			symbol VARCHAR(32) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			source VARCHAR(16) NOT NULL,
			PRIMARY KEY (symbol, timeframe, timestamp)
		) PARTITION BY RANGE (timestamp);

		CREATE INDEX IF NOT EXISTS idx_bar_series_desc ON bars (symbol, timeframe, timestamp DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating bars table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS indicators (
			id BIGSERIAL,
			symbol VARCHAR(32) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			indicator_name VARCHAR(64) NOT NULL,
			params_hash VARCHAR(64) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			value_json JSONB NOT NULL,
			PRIMARY KEY (symbol, timeframe, indicator_name, params_hash, timestamp)
		) PARTITION BY RANGE (timestamp);
	`)
	if err != nil {
		return fmt.Errorf("creating indicators table: %w", err)
	}
	return nil
}
