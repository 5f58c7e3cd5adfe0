package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalfill/internal/market"
	"journalfill/internal/store/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "journal.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func d(day int) time.Time {
	return time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func sampleRow(day int) market.BackfillRow {
	return market.BackfillRow{
		Symbol:    "AAPL",
		TradeDate: d(day),
		PreHigh:   fp(185.2),
		PreLow:    fp(183.1),
		OpenPrice: fp(184.0),
		HOD:       fp(187.5),
		LOD:       fp(182.9),
		AHHigh:    fp(186.0),
		AHLow:     fp(184.5),
		DayVolume: ip(52_000_000),
	}
}

func TestUpsertBackfillRowsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertBackfillRows(ctx, []market.BackfillRow{sampleRow(15)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Writing the same row again leaves exactly one stored row with the
	// same values.
	_, err = s.UpsertBackfillRows(ctx, []market.BackfillRow{sampleRow(15)})
	require.NoError(t, err)

	var rows []model.BackfillRowModel
	require.NoError(t, s.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, fp(187.5), rows[0].HOD)
}

func TestUpsertBackfillRowsReplacesNonKeyColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBackfillRows(ctx, []market.BackfillRow{sampleRow(15)})
	require.NoError(t, err)

	updated := sampleRow(15)
	updated.HOD = fp(190.0)
	updated.DayVolume = nil
	_, err = s.UpsertBackfillRows(ctx, []market.BackfillRow{updated})
	require.NoError(t, err)

	var rows []model.BackfillRowModel
	require.NoError(t, s.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, fp(190.0), rows[0].HOD)
	assert.Nil(t, rows[0].DayVolume)
}

func TestBackfillDatesAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, day := range []int{5, 2, 9} {
		_, err := s.UpsertBackfillRows(ctx, []market.BackfillRow{{Symbol: "AAPL", TradeDate: d(day)}})
		require.NoError(t, err)
	}
	_, err := s.UpsertBackfillRows(ctx, []market.BackfillRow{{Symbol: "MSFT", TradeDate: d(1)}})
	require.NoError(t, err)

	dates, err := s.BackfillDates(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(2), d(5), d(9)}, dates)
}

func TestPreviousClosesExactPriorDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDailyPrices(ctx, []market.DailyPrice{
		{Symbol: "ZZZZ", Date: d(1), Open: 1, High: 2, Low: 0.5, Close: 1.25, Volume: 10},
		{Symbol: "ZZZZ", Date: d(4), Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 20},
	})
	require.NoError(t, err)

	closes, err := s.PreviousCloses(ctx, "ZZZZ", []time.Time{d(2), d(3), d(5)})
	require.NoError(t, err)

	// Jan 2 sees Jan 1's close; Jan 5 sees Jan 4's. Jan 3 has no close on
	// Jan 2 and is absent: the lookup is the exact prior calendar day, not
	// the most recent close.
	assert.Equal(t, map[time.Time]float64{d(2): 1.25, d(5): 2.5}, closes)
}

func seedTrades(t *testing.T, s *Store, symbol string, days ...int) {
	t.Helper()
	trades := make([]model.TradeModel, 0, len(days))
	for _, day := range days {
		trades = append(trades, model.TradeModel{
			Symbol:     symbol,
			TradeDate:  market.FormatDate(d(day)),
			Side:       "long",
			Qty:        decimal.NewFromInt(100),
			EntryPrice: decimal.NewFromFloat(12.34),
		})
	}
	require.NoError(t, s.CreateTrades(context.Background(), trades))
}

func TestTradeDatesAndSymbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTrades(t, s, "NVDA", 3, 1, 3)
	seedTrades(t, s, "AMD", 2)

	dates, err := s.TradeDates(ctx, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{d(1), d(3)}, dates)

	symbols, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AMD", "NVDA"}, symbols)
}

func TestSetPrevCloseOnlyFillsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTrades(t, s, "NVDA", 2, 2)
	updated, err := s.SetPrevClose(ctx, "NVDA", d(2), 48.5)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	// A second pass finds nothing left to fill.
	updated, err = s.SetPrevClose(ctx, "NVDA", d(2), 99.0)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	var trades []model.TradeModel
	require.NoError(t, s.db.Find(&trades).Error)
	for _, tr := range trades {
		require.NotNil(t, tr.PrevClose)
		assert.Equal(t, 48.5, *tr.PrevClose)
	}
}

func TestTradeExtrasRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := model.TradeModel{
		Symbol:     "AAPL",
		TradeDate:  market.FormatDate(d(15)),
		Side:       "long",
		Qty:        decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromFloat(185.4),
	}
	require.NoError(t, trade.SetExtras(map[string]any{
		"broker":    "ibkr",
		"order_ids": []any{"a-1", "a-2"},
	}))
	require.NoError(t, s.CreateTrades(ctx, []model.TradeModel{trade}))

	var stored model.TradeModel
	require.NoError(t, s.db.First(&stored, "symbol = ?", "AAPL").Error)

	extras, err := stored.GetExtras()
	require.NoError(t, err)
	assert.Equal(t, "ibkr", extras["broker"])
	assert.Equal(t, []any{"a-1", "a-2"}, extras["order_ids"])

	// A trade without extras stays NULL and decodes to nothing.
	bare := model.TradeModel{Symbol: "MSFT", TradeDate: market.FormatDate(d(15)), Side: "short",
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromFloat(400)}
	require.NoError(t, bare.SetExtras(nil))
	require.NoError(t, s.CreateTrades(ctx, []model.TradeModel{bare}))
	var storedBare model.TradeModel
	require.NoError(t, s.db.First(&storedBare, "symbol = ?", "MSFT").Error)
	extras, err = storedBare.GetExtras()
	require.NoError(t, err)
	assert.Nil(t, extras)
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTrades(t, s, "AAPL", 15, 16)
	seedTrades(t, s, "MSFT", 15)
	_, err := s.UpsertBackfillRows(ctx, []market.BackfillRow{{Symbol: "AAPL", TradeDate: d(15)}})
	require.NoError(t, err)
	_, err = s.SetPrevClose(ctx, "MSFT", d(15), 400.0)
	require.NoError(t, err)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalTrades)
	assert.Equal(t, int64(1), st.TradesWithPrices)
	assert.Equal(t, int64(1), st.TradesWithPrevious)
	assert.Equal(t, int64(1), st.BackfillRows)
	assert.Equal(t, int64(2), st.Symbols)
}
