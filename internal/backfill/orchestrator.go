package backfill

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"journalfill/internal/compute"
	"journalfill/internal/logger"
	"journalfill/internal/market"
	"journalfill/internal/pkg/circuit"
	"journalfill/internal/plan"
	"journalfill/internal/session"
	"journalfill/internal/store"
)

// MarketData is the provider surface the orchestrator pulls bars through.
type MarketData interface {
	FetchSpan(ctx context.Context, symbol string, span market.DateSpan) (intraday, daily []market.Bar, err error)
}

// Options tunes one orchestrator. Zero values fall back to the defaults
// below.
type Options struct {
	// Concurrency caps in-flight span fetches across all symbols.
	Concurrency int
	// BatchSize caps rows per upsert call.
	BatchSize int
	// BreakerThreshold is the consecutive-ish failure budget per symbol
	// before its remaining spans are skipped.
	BreakerThreshold int
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 12
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 300
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 3
	}
	return o
}

// Totals aggregates one run's outcome across all symbols.
type Totals struct {
	Symbols      int
	RowsFetched  int
	PrevCloseSet int
	Spans        int
	Errors       int
}

func (t *Totals) add(other Totals) {
	t.Symbols += other.Symbols
	t.RowsFetched += other.RowsFetched
	t.PrevCloseSet += other.PrevCloseSet
	t.Spans += other.Spans
	t.Errors += other.Errors
}

// Orchestrator runs the whole backfill: plan missing dates per symbol,
// fetch spans concurrently under one shared semaphore, fold bars into rows,
// write them in batches, then propagate previous closes onto the ledger.
type Orchestrator struct {
	provider MarketData
	gateway  store.Gateway
	ledger   store.TradeLedger
	trades   plan.TradeDateSource
	planner  *plan.Planner
	computer *compute.Computer
	windows  *session.Calculator
	sem      *semaphore.Weighted
	opts     Options
}

// New builds an orchestrator. trades is the planning source (the ledger
// itself, or a CSV-derived set); ledger is where previous closes land.
func New(
	provider MarketData,
	gateway store.Gateway,
	ledger store.TradeLedger,
	trades plan.TradeDateSource,
	computer *compute.Computer,
	windows *session.Calculator,
	opts Options,
) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		provider: provider,
		gateway:  gateway,
		ledger:   ledger,
		trades:   trades,
		planner:  plan.New(trades, gateway),
		computer: computer,
		windows:  windows,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		opts:     opts,
	}
}

// BackfillAll runs every symbol concurrently and aggregates the outcome.
// A symbol failing never stops the others; failures surface in
// Totals.Errors.
func (o *Orchestrator) BackfillAll(ctx context.Context, symbols []string) (Totals, error) {
	started := time.Now()
	tracker := NewTracker()

	var mu sync.Mutex
	var totals Totals

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			st := o.BackfillSymbol(gctx, symbol, tracker)
			mu.Lock()
			totals.add(st)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return totals, err
	}

	counts := tracker.Counts()
	logger.Infow("backfill done",
		"took", time.Since(started).Round(time.Millisecond),
		"symbols", totals.Symbols,
		"rows", totals.RowsFetched,
		"prev_closes", totals.PrevCloseSet,
		"spans", totals.Spans,
		"errors", totals.Errors,
		"written", counts[StateWritten],
		"failed", counts[StateFailed])
	return totals, nil
}

// BackfillSymbol plans and fills one symbol. Spans run sequentially for the
// symbol (the shared semaphore bounds cross-symbol concurrency); a breaker
// skips the remaining spans after too many failures. Previous-close
// propagation runs even when nothing was missing.
func (o *Orchestrator) BackfillSymbol(ctx context.Context, symbol string, tracker *Tracker) Totals {
	totals := Totals{Symbols: 1}

	p, err := o.planner.PlanForSymbol(ctx, symbol)
	if err != nil {
		logger.Errorf("%s: planning failed: %v", symbol, err)
		totals.Errors++
		return totals
	}
	logger.Infof("%s: %d missing dates in %d spans", symbol, len(p.MissingDates), len(p.Spans))

	missing := make(map[time.Time]struct{}, len(p.MissingDates))
	for _, d := range p.MissingDates {
		tracker.Mark(market.BackfillRequest{Symbol: symbol, TradeDate: d}, StatePending)
		missing[d] = struct{}{}
	}

	breaker := circuit.NewBreaker(symbol, o.opts.BreakerThreshold)
	var batch []market.BackfillRow

	for _, span := range p.Spans {
		if !breaker.Allow() {
			logger.Warnf("%s: breaker open, skipping span %s", symbol, span)
			o.markSpan(tracker, symbol, span, missing, StateFailed)
			totals.Errors++
			continue
		}
		totals.Spans++

		rows, prices, err := o.fetchSpan(ctx, symbol, span, missing, tracker)
		if err != nil {
			logger.Errorf("%s: span %s failed: %v", symbol, span, err)
			breaker.RecordFailure()
			o.markSpan(tracker, symbol, span, missing, StateFailed)
			totals.Errors++
			continue
		}

		if len(prices) > 0 {
			if _, err := o.gateway.UpsertDailyPrices(ctx, prices); err != nil {
				logger.Errorf("%s: writing daily prices for %s: %v", symbol, span, err)
				totals.Errors++
			}
		}

		batch = append(batch, rows...)
		for len(batch) >= o.opts.BatchSize {
			n, err := o.flush(ctx, batch[:o.opts.BatchSize], tracker)
			totals.RowsFetched += n
			if err != nil {
				totals.Errors++
			}
			batch = batch[o.opts.BatchSize:]
		}
	}

	if len(batch) > 0 {
		n, err := o.flush(ctx, batch, tracker)
		totals.RowsFetched += n
		if err != nil {
			totals.Errors++
		}
	}

	n, err := o.propagatePrevCloses(ctx, symbol)
	if err != nil {
		logger.Errorf("%s: previous-close propagation: %v", symbol, err)
		totals.Errors++
	}
	totals.PrevCloseSet += n

	return totals
}

// fetchSpan pulls one span's bars under the shared semaphore and folds them
// into rows for the span's missing dates.
func (o *Orchestrator) fetchSpan(
	ctx context.Context,
	symbol string,
	span market.DateSpan,
	missing map[time.Time]struct{},
	tracker *Tracker,
) ([]market.BackfillRow, []market.DailyPrice, error) {
	o.markSpan(tracker, symbol, span, missing, StateFetching)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	intraday, daily, err := o.provider.FetchSpan(ctx, symbol, span)
	o.sem.Release(1)
	if err != nil {
		return nil, nil, err
	}

	intradayByDate := make(map[time.Time][]market.Bar)
	for _, bar := range intraday {
		d := o.windows.TradingDate(bar.T)
		intradayByDate[d] = append(intradayByDate[d], bar)
	}
	dailyByDate := make(map[time.Time]market.Bar, len(daily))
	prices := make([]market.DailyPrice, 0, len(daily))
	for _, bar := range daily {
		d := o.windows.TradingDate(bar.T)
		dailyByDate[d] = bar
		prices = append(prices, market.DailyPrice{
			Symbol: symbol, Date: d,
			Open: bar.O, High: bar.H, Low: bar.L, Close: bar.C, Volume: bar.V,
		})
	}

	var rows []market.BackfillRow
	for _, date := range span.Days() {
		if _, ok := missing[date]; !ok {
			continue
		}
		var dailyBar *market.Bar
		if b, ok := dailyByDate[date]; ok {
			dailyBar = &b
		}
		row := o.computer.ComputeRow(symbol, date, intradayByDate[date], dailyBar)
		for _, issue := range compute.Validate(row) {
			logger.Warnf("%s %s: %s", symbol, market.FormatDate(date), issue)
		}
		tracker.Mark(market.BackfillRequest{Symbol: symbol, TradeDate: date}, StateComputed)
		rows = append(rows, row)
	}
	return rows, prices, nil
}

func (o *Orchestrator) flush(ctx context.Context, rows []market.BackfillRow, tracker *Tracker) (int, error) {
	n, err := o.gateway.UpsertBackfillRows(ctx, rows)
	state := StateWritten
	if err != nil {
		logger.Errorf("writing %d rows: %v", len(rows), err)
		state = StateFailed
		n = 0
	}
	for _, r := range rows {
		tracker.Mark(market.BackfillRequest{Symbol: r.Symbol, TradeDate: r.TradeDate}, state)
	}
	return n, err
}

// propagatePrevCloses fills prev_close on the symbol's trades from stored
// daily closes, exact prior calendar day only.
func (o *Orchestrator) propagatePrevCloses(ctx context.Context, symbol string) (int, error) {
	dates, err := o.trades.TradeDates(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(dates) == 0 {
		return 0, nil
	}
	closes, err := o.gateway.PreviousCloses(ctx, symbol, dates)
	if err != nil {
		return 0, err
	}

	total := 0
	for date, c := range closes {
		n, err := o.ledger.SetPrevClose(ctx, symbol, date, c)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		logger.Infof("%s: previous close set on %d trades", symbol, total)
	}
	return total, nil
}

func (o *Orchestrator) markSpan(tracker *Tracker, symbol string, span market.DateSpan, missing map[time.Time]struct{}, s State) {
	for _, d := range span.Days() {
		if _, ok := missing[d]; ok {
			tracker.Mark(market.BackfillRequest{Symbol: symbol, TradeDate: d}, s)
		}
	}
}
