package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"journalfill/internal/logger"
	"journalfill/internal/market"
	"journalfill/internal/session"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://api.polygon.io/v2"

	// intradayMultiplier/Timespan pick the sub-daily granularity used for
	// session folding.
	intradayMultiplier = 30
	intradayTimespan   = "minute"

	// maxResults keeps even a long span inside a single response page.
	maxResults = 50000
)

// Config carries the provider knobs. MaxConcurrent only sizes the
// connection pool; the concurrency cap itself lives in the orchestrator.
type Config struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	MaxConcurrent int
	Adjusted      bool
	Retry         RetryPolicy
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 12
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Client fetches aggregate bars over a shared, connection-reusing HTTP
// transport. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	windows *session.Calculator
}

func New(cfg Config, windows *session.Calculator) (*Client, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.APIKey) == "" {
		return nil, fmt.Errorf("polygon: API key is required")
	}
	// Pool sized at twice the concurrency cap so connections get reused
	// without contention.
	transport := &http.Transport{
		MaxIdleConns:        final.MaxConcurrent * 2,
		MaxIdleConnsPerHost: final.MaxConcurrent * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg:     final,
		http:    &http.Client{Transport: transport},
		windows: windows,
	}, nil
}

// FetchSpan fetches intraday bars and daily aggregates for one span; the
// two calls run concurrently.
func (c *Client) FetchSpan(ctx context.Context, symbol string, span market.DateSpan) (intraday, daily []market.Bar, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var ferr error
		intraday, ferr = c.FetchIntraday(gctx, symbol, span)
		return ferr
	})
	g.Go(func() error {
		var ferr error
		daily, ferr = c.FetchDaily(gctx, symbol, span)
		return ferr
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return intraday, daily, nil
}

// FetchIntraday returns the span's 30-minute bars across the extended-hours
// range (premarket open through after-hours close).
func (c *Client) FetchIntraday(ctx context.Context, symbol string, span market.DateSpan) ([]market.Bar, error) {
	fromMs, _ := c.windows.ExtendedHoursWindow(span.Start)
	_, toMs := c.windows.ExtendedHoursWindow(span.End)
	path := fmt.Sprintf("%s/aggs/ticker/%s/range/%d/%s/%d/%d",
		c.cfg.BaseURL, url.PathEscape(symbol), intradayMultiplier, intradayTimespan, fromMs, toMs)
	return c.getAggregates(ctx, path, maxResults)
}

// FetchDaily returns the authoritative one-bar-per-day aggregates for the
// span. An empty result set means the provider has no data for those days
// and is not an error.
func (c *Client) FetchDaily(ctx context.Context, symbol string, span market.DateSpan) ([]market.Bar, error) {
	path := fmt.Sprintf("%s/aggs/ticker/%s/range/1/day/%s/%s",
		c.cfg.BaseURL, url.PathEscape(symbol), market.FormatDate(span.Start), market.FormatDate(span.End))
	return c.getAggregates(ctx, path, len(span.Days()))
}

func (c *Client) getAggregates(ctx context.Context, rawURL string, limit int) ([]market.Bar, error) {
	var bars []market.Bar
	err := c.cfg.Retry.Do(ctx, func() error {
		var opErr error
		bars, opErr = c.getOnce(ctx, rawURL, limit)
		return opErr
	})
	return bars, err
}

func (c *Client) getOnce(ctx context.Context, rawURL string, limit int) ([]market.Bar, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("adjusted", strconv.FormatBool(c.cfg.Adjusted))
	q.Set("sort", "asc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("apiKey", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	// Each call carries its own timeout, independent of other in-flight
	// requests.
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	// No explicit Accept-Encoding: the transport negotiates gzip itself and
	// decompresses transparently.
	req.Header.Set("User-Agent", "journalfill/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, &APIError{Transient: true, Msg: "request timeout"}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Transient: true, Msg: fmt.Sprintf("read body: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{StatusCode: resp.StatusCode, Transient: true, Msg: "rate limited"}
	case resp.StatusCode >= 500:
		return nil, &APIError{StatusCode: resp.StatusCode, Transient: true, Msg: "server error"}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{StatusCode: resp.StatusCode, Transient: false, Msg: payloadError(body)}
	}

	var parsed aggregatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status == "ERROR" {
		return nil, &APIError{StatusCode: resp.StatusCode, Transient: false, Msg: payloadError(body)}
	}
	logger.Debugf("polygon: %s -> %d bars (status=%s)", u.Path, len(parsed.Results), parsed.Status)
	return parsed.Results, nil
}

// payloadError pulls a human-readable message out of whatever shape the
// provider sent back.
func payloadError(body []byte) string {
	for _, key := range []string{"error", "message", "status"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}
