package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"journalfill/internal/market"
)

const dateLayout = "2006-01-02"

// BackfillRowModel is the backfill_data table: one row of computed market
// context per (symbol, trade_date). Upserts replace every non-key column.
type BackfillRowModel struct {
	Symbol    string   `gorm:"column:symbol;primaryKey;size:16"`
	TradeDate string   `gorm:"column:trade_date;primaryKey"`
	PreHigh   *float64 `gorm:"column:pre_high"`
	PreLow    *float64 `gorm:"column:pre_low"`
	OpenPrice *float64 `gorm:"column:open_price"`
	HOD       *float64 `gorm:"column:hod"`
	LOD       *float64 `gorm:"column:lod"`
	AHHigh    *float64 `gorm:"column:ah_high"`
	AHLow     *float64 `gorm:"column:ah_low"`
	DayVolume *int64   `gorm:"column:day_volume"`
}

func (BackfillRowModel) TableName() string { return "backfill_data" }

// FromBackfillRow maps the domain row onto its storage shape.
func FromBackfillRow(r market.BackfillRow) BackfillRowModel {
	return BackfillRowModel{
		Symbol:    r.Symbol,
		TradeDate: market.FormatDate(r.TradeDate),
		PreHigh:   r.PreHigh,
		PreLow:    r.PreLow,
		OpenPrice: r.OpenPrice,
		HOD:       r.HOD,
		LOD:       r.LOD,
		AHHigh:    r.AHHigh,
		AHLow:     r.AHLow,
		DayVolume: r.DayVolume,
	}
}

// ToBackfillRow maps a stored row back into the domain.
func (m BackfillRowModel) ToBackfillRow() (market.BackfillRow, error) {
	d, err := market.ParseDate(m.TradeDate)
	if err != nil {
		return market.BackfillRow{}, err
	}
	return market.BackfillRow{
		Symbol:    m.Symbol,
		TradeDate: d,
		PreHigh:   m.PreHigh,
		PreLow:    m.PreLow,
		OpenPrice: m.OpenPrice,
		HOD:       m.HOD,
		LOD:       m.LOD,
		AHHigh:    m.AHHigh,
		AHLow:     m.AHLow,
		DayVolume: m.DayVolume,
	}, nil
}

// DailyPriceModel is the daily_prices table: the authoritative daily OHLCV
// record whose close backs previous-close propagation.
type DailyPriceModel struct {
	Symbol string  `gorm:"column:symbol;primaryKey;size:16"`
	Date   string  `gorm:"column:date;primaryKey"`
	Open   float64 `gorm:"column:o"`
	High   float64 `gorm:"column:h"`
	Low    float64 `gorm:"column:l"`
	Close  float64 `gorm:"column:c"`
	Volume float64 `gorm:"column:v"`
}

func (DailyPriceModel) TableName() string { return "daily_prices" }

func FromDailyPrice(p market.DailyPrice) DailyPriceModel {
	return DailyPriceModel{
		Symbol: p.Symbol,
		Date:   market.FormatDate(p.Date),
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
}

// TradeModel is the trades table. Money fields use decimal so imported
// notionals survive round-trips exactly; Extras keeps unmapped import
// columns.
type TradeModel struct {
	ID         int64           `gorm:"column:id;primaryKey"`
	Symbol     string          `gorm:"column:symbol;index;size:16"`
	TradeDate  string          `gorm:"column:trade_date;index"`
	Side       string          `gorm:"column:side"`
	Qty        decimal.Decimal `gorm:"column:qty;type:decimal(20,8)"`
	EntryPrice decimal.Decimal `gorm:"column:entry_price;type:decimal(20,8)"`
	PrevClose  *float64        `gorm:"column:prev_close"`
	Extras     datatypes.JSON  `gorm:"column:extras;type:TEXT"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

// SetExtras stores unmapped import columns as JSON on the trade.
func (m *TradeModel) SetExtras(extras map[string]any) error {
	if len(extras) == 0 {
		m.Extras = nil
		return nil
	}
	raw, err := json.Marshal(extras)
	if err != nil {
		return fmt.Errorf("encode trade extras: %w", err)
	}
	m.Extras = datatypes.JSON(raw)
	return nil
}

// GetExtras decodes the stored extras, or returns nil when there are none.
func (m *TradeModel) GetExtras() (map[string]any, error) {
	if len(m.Extras) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(m.Extras, &out); err != nil {
		return nil, fmt.Errorf("decode trade extras: %w", err)
	}
	return out, nil
}
