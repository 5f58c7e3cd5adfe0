package market

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDate parses an ISO calendar date into a UTC-midnight time.Time.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate renders a date as ISO yyyy-mm-dd.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// Midnight truncates t to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDay returns the following calendar day.
func NextDay(d time.Time) time.Time {
	return d.AddDate(0, 0, 1)
}

// PrevDay returns the preceding calendar day.
func PrevDay(d time.Time) time.Time {
	return d.AddDate(0, 0, -1)
}
