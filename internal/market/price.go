package market

import "time"

// DailyPrice is one authoritative daily OHLCV observation keyed by
// (symbol, date). Its close is what previous-close propagation reads back.
type DailyPrice struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
