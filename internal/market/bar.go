package market

// Bar is one OHLCV aggregate over a fixed time bucket. T is a UTC epoch in
// milliseconds. Bars are immutable once fetched.
type Bar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// SessionMetrics accumulates the high/low of one trading session. Both
// bounds start absent and only appear once a bar has been folded in.
type SessionMetrics struct {
	High *float64
	Low  *float64
}

// Update folds a bar into the running session extremes.
func (m *SessionMetrics) Update(b Bar) {
	if m.High == nil || b.H > *m.High {
		h := b.H
		m.High = &h
	}
	if m.Low == nil || b.L < *m.Low {
		l := b.L
		m.Low = &l
	}
}

// Empty reports whether no bar has been folded in yet.
func (m *SessionMetrics) Empty() bool {
	return m.High == nil && m.Low == nil
}
