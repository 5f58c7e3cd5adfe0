package session

import (
	"fmt"
	"time"
	// Embedded tz database so exchange-local session math works on hosts
	// without system tzdata.
	_ "time/tzdata"
)

// Session identifies one trading-day window at the exchange.
type Session string

const (
	SessionPre  Session = "pre"
	SessionReg  Session = "reg"
	SessionAH   Session = "ah"
	SessionNone Session = "none"
)

type clock struct {
	hour, min int
}

type window struct {
	start, end clock
}

// Calculator converts session definitions expressed as exchange wall-clock
// times into absolute UTC millisecond ranges for a given calendar date.
// The same wall-clock boundary maps to different UTC offsets across the
// year; time.Location carries the DST rules.
type Calculator struct {
	loc *time.Location
	pre window
	reg window
	ah  window
}

// NewCalculator returns a calculator for the default US equities calendar:
// premarket 04:00-09:30, regular 09:30-16:00, after-hours 16:00-20:00, all
// half-open, in America/New_York.
func NewCalculator() (*Calculator, error) {
	return NewCalculatorFromCalendar(DefaultCalendar())
}

// NewCalculatorFromCalendar builds a calculator from an explicit calendar,
// typically loaded from a YAML file.
func NewCalculatorFromCalendar(cal Calendar) (*Calculator, error) {
	loc, err := time.LoadLocation(cal.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone %q: %w", cal.Timezone, err)
	}
	pre, err := cal.Premarket.parse()
	if err != nil {
		return nil, fmt.Errorf("premarket window: %w", err)
	}
	reg, err := cal.Regular.parse()
	if err != nil {
		return nil, fmt.Errorf("regular window: %w", err)
	}
	ah, err := cal.AfterHours.parse()
	if err != nil {
		return nil, fmt.Errorf("after-hours window: %w", err)
	}
	return &Calculator{loc: loc, pre: pre, reg: reg, ah: ah}, nil
}

func (c *Calculator) instant(date time.Time, cl clock) int64 {
	y, m, d := date.Date()
	return time.Date(y, m, d, cl.hour, cl.min, 0, 0, c.loc).UnixMilli()
}

// Window returns the [start, end) UTC millisecond range of the named
// session on the given calendar date. An unknown session name is a
// programmer error.
func (c *Calculator) Window(date time.Time, s Session) (startMs, endMs int64, err error) {
	var w window
	switch s {
	case SessionPre:
		w = c.pre
	case SessionReg:
		w = c.reg
	case SessionAH:
		w = c.ah
	default:
		return 0, 0, fmt.Errorf("invalid session %q: must be pre, reg or ah", s)
	}
	return c.instant(date, w.start), c.instant(date, w.end), nil
}

// ExtendedHoursWindow returns [premarket start, after-hours end) as one
// range, used to fetch a whole day of intraday bars in a single request.
func (c *Calculator) ExtendedHoursWindow(date time.Time) (startMs, endMs int64) {
	return c.instant(date, c.pre.start), c.instant(date, c.ah.end)
}

// Categorize assigns a bar timestamp to exactly one session on the given
// date. All three windows are half-open, so a bar sitting exactly on a
// boundary belongs to the session that starts there.
func (c *Calculator) Categorize(tsMs int64, date time.Time) Session {
	preStart, preEnd := c.instant(date, c.pre.start), c.instant(date, c.pre.end)
	regStart, regEnd := c.instant(date, c.reg.start), c.instant(date, c.reg.end)
	ahStart, ahEnd := c.instant(date, c.ah.start), c.instant(date, c.ah.end)

	switch {
	case tsMs >= preStart && tsMs < preEnd:
		return SessionPre
	case tsMs >= regStart && tsMs < regEnd:
		return SessionReg
	case tsMs >= ahStart && tsMs < ahEnd:
		return SessionAH
	default:
		return SessionNone
	}
}

// TradingDate maps an absolute bar timestamp to the exchange-local calendar
// date it prints on, as a UTC-midnight time.Time.
func (c *Calculator) TradingDate(tsMs int64) time.Time {
	y, m, d := time.UnixMilli(tsMs).In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
