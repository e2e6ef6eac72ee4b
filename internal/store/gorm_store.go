package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// PartitionConfig tunes the time-partitioned table layout from
// spec.md §4.1 design notes. Defaults mirror the spec: 7-day partitions,
// 10-year retention. GormStore does not create partitions itself (that is
// a migration-time concern, see migrate.go); this config documents what
// migrate.go's partition DDL should produce and what a retention sweeper
// would enforce.
type PartitionConfig struct {
	PartitionInterval time.Duration
	Retention         time.Duration
}

// DefaultPartitionConfig returns the spec.md §4.1 defaults.
func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{
		PartitionInterval: 7 * 24 * time.Hour,
		Retention:         10 * 365 * 24 * time.Hour,
	}
}

// GormStore is the Postgres-backed TimeSeriesStore, grounded on the
// teacher's MarketDataRepository (gorm.DB + zap.Logger, transaction-per-
// write-for-idempotence idiom).
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
	// seriesLocks enforces "single writer per series_key, many readers"
	// (spec.md §4.1) without serializing writers across different series.
	seriesLocks *seriesLockTable
}

// NewGormStore wraps an already-connected *gorm.DB.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger, seriesLocks: newSeriesLockTable()}
}

func (s *GormStore) UpsertBars(ctx context.Context, key types.SeriesKey, rows []types.Bar) error {
	if err := key.Validate(); err != nil {
		return errors.Wrap(err, errors.ConfigError, "invalid series key")
	}
	if err := types.ValidateSeries(rows); err != nil {
		return errors.Wrap(err, errors.DataIntegrity, "bar batch failed validation; batch rejected").
			WithContext("series_key", key.String())
	}

	unlock := s.seriesLocks.lock(key)
	defer unlock()

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, errors.PersistenceError, "beginning upsertBars transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, b := range rows {
		dbRow := BarRow{
			Symbol:    key.Symbol,
			Timeframe: string(key.Timeframe),
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Source:    string(b.Source),
		}
		result := tx.Model(&BarRow{}).
			Where("symbol = ? AND timeframe = ? AND timestamp = ?", key.Symbol, string(key.Timeframe), b.Timestamp).
			Updates(map[string]interface{}{
				"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close,
				"volume": b.Volume, "source": string(b.Source),
			})
		if result.Error != nil {
			tx.Rollback()
			return errors.Wrap(result.Error, errors.PersistenceError, "upserting bar row").WithContext("series_key", key.String())
		}
		if result.RowsAffected == 0 {
			if err := tx.Create(&dbRow).Error; err != nil {
				tx.Rollback()
				return errors.Wrap(err, errors.PersistenceError, "inserting bar row").WithContext("series_key", key.String())
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, errors.PersistenceError, "committing upsertBars transaction")
	}
	s.logger.Debug("upserted bars", zap.String("series", key.String()), zap.Int("count", len(rows)))
	return nil
}

func (s *GormStore) LoadBars(ctx context.Context, key types.SeriesKey, window *Window) ([]types.Bar, error) {
	var rows []BarRow
	q := s.db.WithContext(ctx).Model(&BarRow{}).
		Where("symbol = ? AND timeframe = ?", key.Symbol, string(key.Timeframe))
	if window != nil {
		q = q.Where("timestamp BETWEEN ? AND ?", window.Start, window.End)
	}
	if err := q.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, errors.PersistenceError, "loading bars").WithContext("series_key", key.String())
	}

	bars := make([]types.Bar, len(rows))
	for i, r := range rows {
		bars[i] = types.Bar{
			Timestamp: r.Timestamp.UTC(),
			Open:      r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
			Source: types.Source(r.Source),
		}
	}
	return bars, nil
}

func (s *GormStore) DateRange(ctx context.Context, key types.SeriesKey) (time.Time, time.Time, bool, error) {
	var result struct {
		Min time.Time
		Max time.Time
	}
	row := s.db.WithContext(ctx).Model(&BarRow{}).
		Where("symbol = ? AND timeframe = ?", key.Symbol, string(key.Timeframe)).
		Select("MIN(timestamp) as min, MAX(timestamp) as max").
		Row()
	if err := row.Scan(&result.Min, &result.Max); err != nil {
		return time.Time{}, time.Time{}, false, nil
	}
	if result.Min.IsZero() {
		return time.Time{}, time.Time{}, false, nil
	}
	return result.Min.UTC(), result.Max.UTC(), true, nil
}

func (s *GormStore) DeleteBars(ctx context.Context, key types.SeriesKey, window *Window) (int64, error) {
	unlock := s.seriesLocks.lock(key)
	defer unlock()

	q := s.db.WithContext(ctx).Where("symbol = ? AND timeframe = ?", key.Symbol, string(key.Timeframe))
	if window != nil {
		q = q.Where("timestamp BETWEEN ? AND ?", window.Start, window.End)
	}
	result := q.Delete(&BarRow{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.PersistenceError, "deleting bars").WithContext("series_key", key.String())
	}
	return result.RowsAffected, nil
}

func (s *GormStore) UpsertIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, rows []types.IndicatorRow) error {
	unlock := s.seriesLocks.lock(key)
	defer unlock()

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, errors.PersistenceError, "beginning upsertIndicator transaction")
	}

	for _, r := range rows {
		valueJSON, err := json.Marshal(r.Fields)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.PersistenceError, "marshalling indicator row")
		}
		dbRow := IndicatorRow{
			Symbol: key.Symbol, Timeframe: string(key.Timeframe),
			IndicatorName: indicatorName, ParamsHash: paramsHash,
			Timestamp: r.Timestamp, ValueJSON: string(valueJSON),
		}
		result := tx.Model(&IndicatorRow{}).
			Where("symbol = ? AND timeframe = ? AND indicator_name = ? AND params_hash = ? AND timestamp = ?",
				key.Symbol, string(key.Timeframe), indicatorName, paramsHash, r.Timestamp).
			Updates(map[string]interface{}{"value_json": string(valueJSON)})
		if result.Error != nil {
			tx.Rollback()
			return errors.Wrap(result.Error, errors.PersistenceError, "upserting indicator row")
		}
		if result.RowsAffected == 0 {
			if err := tx.Create(&dbRow).Error; err != nil {
				tx.Rollback()
				return errors.Wrap(err, errors.PersistenceError, "inserting indicator row")
			}
		}
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, errors.PersistenceError, "committing upsertIndicator transaction")
	}
	return nil
}

func (s *GormStore) LoadIndicator(ctx context.Context, key types.SeriesKey, indicatorName, paramsHash string, window *Window) ([]types.IndicatorRow, error) {
	var rows []IndicatorRow
	q := s.db.WithContext(ctx).Model(&IndicatorRow{}).
		Where("symbol = ? AND timeframe = ? AND indicator_name = ? AND params_hash = ?",
			key.Symbol, string(key.Timeframe), indicatorName, paramsHash)
	if window != nil {
		q = q.Where("timestamp BETWEEN ? AND ?", window.Start, window.End)
	}
	if err := q.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, errors.PersistenceError, "loading indicator rows")
	}
	out := make([]types.IndicatorRow, len(rows))
	for i, r := range rows {
		var fields map[string]float64
		if err := json.Unmarshal([]byte(r.ValueJSON), &fields); err != nil {
			return nil, errors.Wrap(err, errors.PersistenceError, "unmarshalling indicator row")
		}
		out[i] = types.IndicatorRow{Timestamp: r.Timestamp.UTC(), Fields: fields}
	}
	return out, nil
}

func (s *GormStore) ListSymbols(ctx context.Context, timeframe *types.Timeframe) ([]string, error) {
	var symbols []string
	q := s.db.WithContext(ctx).Model(&BarRow{}).Distinct("symbol")
	if timeframe != nil {
		q = q.Where("timeframe = ?", string(*timeframe))
	}
	if err := q.Pluck("symbol", &symbols).Error; err != nil {
		return nil, errors.Wrap(err, errors.PersistenceError, "listing symbols")
	}
	sort.Strings(symbols)
	return symbols, nil
}
