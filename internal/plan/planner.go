package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"journalfill/internal/market"
)

// TradeDateSource yields the distinct dates a symbol has trade activity on.
type TradeDateSource interface {
	TradeDates(ctx context.Context, symbol string) ([]time.Time, error)
}

// PricedDateSource yields the distinct dates a symbol already has a
// persisted backfill row for.
type PricedDateSource interface {
	BackfillDates(ctx context.Context, symbol string) ([]time.Time, error)
}

// Planner derives the missing work for a symbol: trade dates minus dates
// that already hold price data, grouped into maximal contiguous spans.
type Planner struct {
	trades TradeDateSource
	priced PricedDateSource
}

func New(trades TradeDateSource, priced PricedDateSource) *Planner {
	return &Planner{trades: trades, priced: priced}
}

// PlanForSymbol computes the symbol's missing dates and their spans.
func (p *Planner) PlanForSymbol(ctx context.Context, symbol string) (market.BackfillPlan, error) {
	tradeDates, err := p.trades.TradeDates(ctx, symbol)
	if err != nil {
		return market.BackfillPlan{}, fmt.Errorf("trade dates for %s: %w", symbol, err)
	}
	pricedDates, err := p.priced.BackfillDates(ctx, symbol)
	if err != nil {
		return market.BackfillPlan{}, fmt.Errorf("priced dates for %s: %w", symbol, err)
	}

	have := make(map[time.Time]struct{}, len(pricedDates))
	for _, d := range pricedDates {
		have[market.Midnight(d)] = struct{}{}
	}

	var missing []time.Time
	for _, d := range tradeDates {
		if _, ok := have[market.Midnight(d)]; !ok {
			missing = append(missing, market.Midnight(d))
		}
	}
	missing = dedupeSorted(missing)

	return market.BackfillPlan{
		Symbol:       symbol,
		MissingDates: missing,
		Spans:        GroupContiguous(missing),
	}, nil
}

// GroupContiguous sorts the unique input dates ascending and folds them
// into maximal inclusive spans: the current span is extended while the next
// date is exactly one calendar day later, otherwise it is closed and a new
// one starts. Every input date lands in exactly one span.
func GroupContiguous(dates []time.Time) []market.DateSpan {
	ds := dedupeSorted(dates)
	if len(ds) == 0 {
		return nil
	}

	spans := make([]market.DateSpan, 0, len(ds))
	start, prev := ds[0], ds[0]
	for _, d := range ds[1:] {
		if d.Equal(market.NextDay(prev)) {
			prev = d
			continue
		}
		spans = append(spans, market.DateSpan{Start: start, End: prev})
		start, prev = d, d
	}
	spans = append(spans, market.DateSpan{Start: start, End: prev})
	return spans
}

func dedupeSorted(dates []time.Time) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = market.Midnight(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
