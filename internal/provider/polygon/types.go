package polygon

import (
	"context"
	"errors"
	"fmt"
	"net"

	"journalfill/internal/market"
)

// aggregatesResponse is the provider's aggs payload. Bars decode straight
// into market.Bar via the t/o/h/l/c/v keys.
type aggregatesResponse struct {
	Ticker       string       `json:"ticker"`
	QueryCount   int          `json:"queryCount"`
	ResultsCount int          `json:"resultsCount"`
	Adjusted     bool         `json:"adjusted"`
	Results      []market.Bar `json:"results"`
	Status       string       `json:"status"`
	RequestID    string       `json:"request_id"`
}

// APIError is a provider failure. Transient failures (timeouts, 5xx, rate
// limits) are retried; everything else fails the request immediately.
type APIError struct {
	StatusCode int
	Transient  bool
	Msg        string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("polygon: %s (status %d)", e.Msg, e.StatusCode)
	}
	return "polygon: " + e.Msg
}

// IsRetryable is the retry predicate: provider-transient errors and network
// timeouts qualify, permanent API errors and everything else do not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRateLimited reports whether err is an HTTP 429 from the provider.
func isRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
