package compute

import (
	"fmt"
	"time"

	"journalfill/internal/market"
	"journalfill/internal/session"
)

// Computer folds intraday bars into per-session metrics and assembles the
// final backfill row. Pure in-memory work; deterministic for identical
// input.
type Computer struct {
	windows *session.Calculator
}

func New(windows *session.Calculator) *Computer {
	return &Computer{windows: windows}
}

// ComputeRow builds the row for one (symbol, date). Premarket and
// after-hours extremes always come from the intraday fold. The daily
// aggregate, when present, is authoritative for open/hod/lod/volume; when
// it is missing, hod/lod/open fall back to the regular-session fold and
// volume stays unset (intraday bars carry no reliable total-day volume).
func (c *Computer) ComputeRow(symbol string, date time.Time, intraday []market.Bar, daily *market.Bar) market.BackfillRow {
	var pre, reg, ah market.SessionMetrics
	var firstRegOpen *float64

	for _, bar := range intraday {
		switch c.windows.Categorize(bar.T, date) {
		case session.SessionPre:
			pre.Update(bar)
		case session.SessionReg:
			reg.Update(bar)
			if firstRegOpen == nil {
				o := bar.O
				firstRegOpen = &o
			}
		case session.SessionAH:
			ah.Update(bar)
		}
	}

	row := market.BackfillRow{
		Symbol:    symbol,
		TradeDate: date,
		PreHigh:   pre.High,
		PreLow:    pre.Low,
		AHHigh:    ah.High,
		AHLow:     ah.Low,
	}

	if daily != nil {
		o, h, l := daily.O, daily.H, daily.L
		v := int64(daily.V)
		row.OpenPrice = &o
		row.HOD = &h
		row.LOD = &l
		row.DayVolume = &v
		return row
	}

	if !reg.Empty() {
		row.HOD = reg.High
		row.LOD = reg.Low
		row.OpenPrice = firstRegOpen
	}
	return row
}

// Validate returns human-readable issues with a computed row: inverted
// high/low pairs, negative volume, non-positive prices. Issues are
// diagnostic only; an invalid row is still persisted.
func Validate(row market.BackfillRow) []string {
	var issues []string

	pairs := []struct {
		name      string
		high, low *float64
	}{
		{"premarket", row.PreHigh, row.PreLow},
		{"day", row.HOD, row.LOD},
		{"after-hours", row.AHHigh, row.AHLow},
	}
	for _, p := range pairs {
		if p.high != nil && p.low != nil && *p.high < *p.low {
			issues = append(issues, fmt.Sprintf("%s high (%v) < low (%v)", p.name, *p.high, *p.low))
		}
	}

	if row.DayVolume != nil && *row.DayVolume < 0 {
		issues = append(issues, fmt.Sprintf("negative volume: %d", *row.DayVolume))
	}

	prices := []struct {
		name  string
		value *float64
	}{
		{"pre_high", row.PreHigh},
		{"pre_low", row.PreLow},
		{"open_price", row.OpenPrice},
		{"hod", row.HOD},
		{"lod", row.LOD},
		{"ah_high", row.AHHigh},
		{"ah_low", row.AHLow},
	}
	for _, p := range prices {
		if p.value != nil && *p.value <= 0 {
			issues = append(issues, fmt.Sprintf("non-positive %s: %v", p.name, *p.value))
		}
	}

	return issues
}
