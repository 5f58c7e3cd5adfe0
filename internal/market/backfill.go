package market

import (
	"fmt"
	"time"
)

// BackfillRequest is one unit of desired work: fill market context for a
// symbol on a single trading date.
type BackfillRequest struct {
	Symbol    string
	TradeDate time.Time
}

func (r BackfillRequest) String() string {
	return fmt.Sprintf("%s:%s", r.Symbol, FormatDate(r.TradeDate))
}

// BackfillRow holds the computed market context for one (symbol, trade date)
// pair. Every field except the identity is optional; an upsert for the same
// key replaces all non-key columns.
type BackfillRow struct {
	Symbol    string
	TradeDate time.Time

	PreHigh   *float64
	PreLow    *float64
	OpenPrice *float64
	HOD       *float64
	LOD       *float64
	AHHigh    *float64
	AHLow     *float64
	DayVolume *int64
}

// DateSpan is an inclusive run of contiguous calendar days. Spans exist so a
// symbol's missing dates turn into one provider call instead of one per day.
type DateSpan struct {
	Start time.Time
	End   time.Time
}

func (s DateSpan) String() string {
	return FormatDate(s.Start) + ".." + FormatDate(s.End)
}

// Days expands the span back into its individual dates, ascending.
func (s DateSpan) Days() []time.Time {
	var out []time.Time
	for d := s.Start; !d.After(s.End); d = NextDay(d) {
		out = append(out, d)
	}
	return out
}

// BackfillPlan is the derived work list for one symbol. It is never
// persisted.
type BackfillPlan struct {
	Symbol       string
	MissingDates []time.Time
	Spans        []DateSpan
}
