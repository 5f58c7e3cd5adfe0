package compute

import (
	"testing"
	"time"

	"journalfill/internal/market"
	"journalfill/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jan15 = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

// etBar builds a bar stamped at the given New York wall-clock time on
// jan15 (EST, UTC-5).
func etBar(hh, mm int, o, h, l, c, v float64) market.Bar {
	ts := time.Date(2024, time.January, 15, hh+5, mm, 0, 0, time.UTC).UnixMilli()
	return market.Bar{T: ts, O: o, H: h, L: l, C: c, V: v}
}

func newComputer(t *testing.T) *Computer {
	t.Helper()
	windows, err := session.NewCalculator()
	require.NoError(t, err)
	return New(windows)
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func TestComputeRowSessionFolding(t *testing.T) {
	// Bars at 04:05, 09:00 and 17:30 ET: pre, pre, ah. The reg fold stays
	// empty.
	bars := []market.Bar{
		etBar(4, 5, 5.0, 5.5, 4.8, 5.2, 1000),
		etBar(9, 0, 5.2, 6.0, 5.1, 5.9, 2000),
		etBar(17, 30, 6.1, 6.4, 6.0, 6.2, 500),
	}

	row := newComputer(t).ComputeRow("TEST", jan15, bars, nil)

	assert.Equal(t, fp(6.0), row.PreHigh)
	assert.Equal(t, fp(4.8), row.PreLow)
	assert.Equal(t, fp(6.4), row.AHHigh)
	assert.Equal(t, fp(6.0), row.AHLow)
	// No daily bar and no reg bars: daily fields stay unset.
	assert.Nil(t, row.HOD)
	assert.Nil(t, row.LOD)
	assert.Nil(t, row.OpenPrice)
	assert.Nil(t, row.DayVolume)
}

func TestComputeRowDailyAggregateIsAuthoritative(t *testing.T) {
	regBars := []market.Bar{
		etBar(10, 0, 10.5, 14.0, 10.0, 13.5, 5000), // reg highs would beat the daily bar
	}
	daily := &market.Bar{O: 10, H: 12, L: 9, C: 11, V: 100000}

	row := newComputer(t).ComputeRow("TEST", jan15, regBars, daily)

	assert.Equal(t, fp(10.0), row.OpenPrice)
	assert.Equal(t, fp(12.0), row.HOD)
	assert.Equal(t, fp(9.0), row.LOD)
	assert.Equal(t, ip(100000), row.DayVolume)
}

func TestComputeRowFallbackFromRegularSession(t *testing.T) {
	bars := []market.Bar{
		etBar(10, 0, 10.2, 11, 10, 10.8, 100),
		etBar(11, 0, 10.8, 13, 9, 12.5, 100),
		etBar(12, 0, 12.5, 12, 10.5, 11.9, 100),
	}

	row := newComputer(t).ComputeRow("TEST", jan15, bars, nil)

	assert.Equal(t, fp(13.0), row.HOD)
	assert.Equal(t, fp(9.0), row.LOD)
	assert.Equal(t, fp(10.2), row.OpenPrice)
	assert.Nil(t, row.DayVolume)
}

func TestComputeRowDiscardsOutOfSessionBars(t *testing.T) {
	bars := []market.Bar{
		etBar(2, 0, 1, 100, 0.5, 1, 10),  // before premarket
		etBar(21, 0, 1, 200, 0.1, 1, 10), // after after-hours
	}

	row := newComputer(t).ComputeRow("TEST", jan15, bars, nil)
	assert.Nil(t, row.PreHigh)
	assert.Nil(t, row.AHHigh)
	assert.Nil(t, row.HOD)
}

func TestComputeRowDeterministic(t *testing.T) {
	bars := []market.Bar{
		etBar(4, 30, 5, 5.5, 4.9, 5.1, 100),
		etBar(10, 0, 5.2, 5.8, 5.0, 5.6, 200),
		etBar(16, 30, 5.5, 5.9, 5.4, 5.7, 50),
	}
	daily := &market.Bar{O: 5.2, H: 5.8, L: 5.0, C: 5.6, V: 40000}

	c := newComputer(t)
	first := c.ComputeRow("TEST", jan15, bars, daily)
	second := c.ComputeRow("TEST", jan15, bars, daily)
	assert.Equal(t, first, second)
}

func TestValidateFlagsExactlyTheBrokenFields(t *testing.T) {
	row := market.BackfillRow{
		Symbol:    "TEST",
		TradeDate: jan15,
		PreHigh:   fp(4.0),
		PreLow:    fp(5.0), // inverted
		HOD:       fp(-1),  // non-positive, and hod < lod
		LOD:       fp(2),
		DayVolume: ip(-5),
	}

	issues := Validate(row)
	require.Len(t, issues, 4)
	assert.Contains(t, issues[0], "premarket high")
	assert.Contains(t, issues[1], "day high")
	assert.Contains(t, issues[2], "negative volume")
	assert.Contains(t, issues[3], "non-positive hod")
}

func TestValidateAllNullRowIsClean(t *testing.T) {
	assert.Empty(t, Validate(market.BackfillRow{Symbol: "TEST", TradeDate: jan15}))
}
