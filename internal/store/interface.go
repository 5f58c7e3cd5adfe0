package store

import (
	"context"
	"time"

	"journalfill/internal/market"
)

// Gateway is the keyed persistence surface the backfill engine writes
// through. All writes are upserts: re-running a backfill leaves the stored
// state identical.
type Gateway interface {
	// UpsertBackfillRows replaces all non-key columns for each
	// (symbol, trade_date) key. Returns the number of rows written.
	UpsertBackfillRows(ctx context.Context, rows []market.BackfillRow) (int, error)

	// UpsertDailyPrices stores authoritative daily OHLCV rows; their
	// closes back previous-close propagation.
	UpsertDailyPrices(ctx context.Context, prices []market.DailyPrice) (int, error)

	// BackfillDates returns the distinct dates already holding a backfill
	// row for the symbol, ascending.
	BackfillDates(ctx context.Context, symbol string) ([]time.Time, error)

	// PreviousCloses bulk-resolves the close persisted for the calendar
	// day before each requested date. Dates with no stored prior close are
	// absent from the result.
	PreviousCloses(ctx context.Context, symbol string, dates []time.Time) (map[time.Time]float64, error)
}

// TradeLedger is the trade-side collaborator: where trade activity lives
// and where propagated previous closes land.
type TradeLedger interface {
	// Symbols returns every distinct traded symbol, ascending.
	Symbols(ctx context.Context) ([]string, error)

	// TradeDates returns the distinct dates the symbol traded on,
	// ascending.
	TradeDates(ctx context.Context, symbol string) ([]time.Time, error)

	// SetPrevClose writes prevClose onto the symbol's trades for the date,
	// touching only trades that currently lack one. Returns the number of
	// trades updated.
	SetPrevClose(ctx context.Context, symbol string, date time.Time, prevClose float64) (int, error)
}

// Status summarizes backfill coverage across the ledger.
type Status struct {
	TotalTrades        int64
	TradesWithPrices   int64
	TradesWithPrevious int64
	BackfillRows       int64
	Symbols            int64
}
