package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"journalfill/internal/market"
	"journalfill/internal/store"
	"journalfill/internal/store/model"
)

// Store implements the persistence gateway and trade ledger on Gorm +
// SQLite.
type Store struct {
	db *gorm.DB
}

var (
	_ store.Gateway     = (*Store)(nil)
	_ store.TradeLedger = (*Store)(nil)
)

// New opens (or creates) the database at path with WAL and a busy timeout,
// and migrates the schema.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing Gorm handle (shared connections, tests).
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	models := []interface{}{
		&model.BackfillRowModel{},
		&model.DailyPriceModel{},
		&model.TradeModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: keep lock contention low while batched writers
		// from concurrent backfill tasks share the handle.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var backfillUpdateColumns = []string{
	"pre_high", "pre_low", "open_price", "hod", "lod", "ah_high", "ah_low", "day_volume",
}

// UpsertBackfillRows writes rows with insert-or-replace semantics on the
// (symbol, trade_date) key, replacing all non-key columns.
func (s *Store) UpsertBackfillRows(ctx context.Context, rows []market.BackfillRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	models := make([]model.BackfillRowModel, 0, len(rows))
	for _, r := range rows {
		models = append(models, model.FromBackfillRow(r))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}},
		DoUpdates: clause.AssignmentColumns(backfillUpdateColumns),
	}).Create(&models).Error
	if err != nil {
		return 0, fmt.Errorf("upsert backfill rows: %w", err)
	}
	return len(models), nil
}

// UpsertDailyPrices stores daily OHLCV rows keyed by (symbol, date).
func (s *Store) UpsertDailyPrices(ctx context.Context, prices []market.DailyPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	models := make([]model.DailyPriceModel, 0, len(prices))
	for _, p := range prices {
		models = append(models, model.FromDailyPrice(p))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"o", "h", "l", "c", "v"}),
	}).Create(&models).Error
	if err != nil {
		return 0, fmt.Errorf("upsert daily prices: %w", err)
	}
	return len(models), nil
}

// BackfillDates returns the distinct trade dates already backfilled for a
// symbol, ascending.
func (s *Store) BackfillDates(ctx context.Context, symbol string) ([]time.Time, error) {
	var raw []string
	err := s.db.WithContext(ctx).
		Model(&model.BackfillRowModel{}).
		Where("symbol = ?", symbol).
		Order("trade_date").
		Pluck("trade_date", &raw).Error
	if err != nil {
		return nil, fmt.Errorf("backfill dates for %s: %w", symbol, err)
	}
	return parseDates(raw)
}

// PreviousCloses resolves, for each requested date, the daily close stored
// for the previous calendar day. Dates without a stored prior close are
// left out of the map.
func (s *Store) PreviousCloses(ctx context.Context, symbol string, dates []time.Time) (map[time.Time]float64, error) {
	if len(dates) == 0 {
		return map[time.Time]float64{}, nil
	}
	prevKeys := make([]string, 0, len(dates))
	for _, d := range dates {
		prevKeys = append(prevKeys, market.FormatDate(market.PrevDay(d)))
	}

	var rows []model.DailyPriceModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date IN ?", symbol, prevKeys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("previous closes for %s: %w", symbol, err)
	}

	closeByDate := make(map[string]float64, len(rows))
	for _, r := range rows {
		closeByDate[r.Date] = r.Close
	}

	out := make(map[time.Time]float64, len(dates))
	for _, d := range dates {
		if c, ok := closeByDate[market.FormatDate(market.PrevDay(d))]; ok {
			out[market.Midnight(d)] = c
		}
	}
	return out, nil
}

// Symbols returns every distinct traded symbol, ascending.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

// TradeDates returns the distinct dates a symbol traded on, ascending.
func (s *Store) TradeDates(ctx context.Context, symbol string) ([]time.Time, error) {
	var raw []string
	err := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("symbol = ?", symbol).
		Distinct("trade_date").
		Order("trade_date").
		Pluck("trade_date", &raw).Error
	if err != nil {
		return nil, fmt.Errorf("trade dates for %s: %w", symbol, err)
	}
	return parseDates(raw)
}

// SetPrevClose writes the previous close onto the symbol's trades for one
// date, touching only trades that do not have one yet.
func (s *Store) SetPrevClose(ctx context.Context, symbol string, date time.Time, prevClose float64) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("symbol = ? AND trade_date = ? AND prev_close IS NULL", symbol, market.FormatDate(date)).
		Update("prev_close", prevClose)
	if res.Error != nil {
		return 0, fmt.Errorf("set prev close %s %s: %w", symbol, market.FormatDate(date), res.Error)
	}
	return int(res.RowsAffected), nil
}

// CreateTrades inserts trade ledger rows (import path and tests).
func (s *Store) CreateTrades(ctx context.Context, trades []model.TradeModel) error {
	if len(trades) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&trades).Error; err != nil {
		return fmt.Errorf("create trades: %w", err)
	}
	return nil
}

// Status reports backfill coverage across the ledger.
func (s *Store) Status(ctx context.Context) (store.Status, error) {
	var st store.Status
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.TradeModel{}).Count(&st.TotalTrades).Error; err != nil {
		return st, err
	}
	if err := db.Model(&model.TradeModel{}).Where("prev_close IS NOT NULL").Count(&st.TradesWithPrevious).Error; err != nil {
		return st, err
	}
	if err := db.Model(&model.TradeModel{}).
		Joins("JOIN backfill_data ON backfill_data.symbol = trades.symbol AND backfill_data.trade_date = trades.trade_date").
		Count(&st.TradesWithPrices).Error; err != nil {
		return st, err
	}
	if err := db.Model(&model.BackfillRowModel{}).Count(&st.BackfillRows).Error; err != nil {
		return st, err
	}
	if err := db.Model(&model.TradeModel{}).Distinct("symbol").Count(&st.Symbols).Error; err != nil {
		return st, err
	}
	return st, nil
}

func parseDates(raw []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := market.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
