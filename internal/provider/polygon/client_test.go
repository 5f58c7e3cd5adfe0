package polygon

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"journalfill/internal/market"
	"journalfill/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	windows, err := session.NewCalculator()
	require.NoError(t, err)

	retry := DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	retry.Jitter = func() float64 { return 0 }

	c, err := New(Config{APIKey: "test-key", BaseURL: baseURL, Retry: retry}, windows)
	require.NoError(t, err)
	return c
}

func span(day int) market.DateSpan {
	d := time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
	return market.DateSpan{Start: d, End: d}
}

func TestFetchIntradayParsesBars(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		fmt.Fprint(w, `{"ticker":"AAPL","status":"OK","resultsCount":2,"results":[
			{"t":1705312800000,"o":182.1,"h":183.4,"l":181.9,"c":183.0,"v":120500},
			{"t":1705314600000,"o":183.0,"h":184.2,"l":182.8,"c":184.0,"v":98000}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bars, err := c.FetchIntraday(context.Background(), "AAPL", span(15))
	require.NoError(t, err)

	require.Len(t, bars, 2)
	assert.Equal(t, int64(1705312800000), bars[0].T)
	assert.Equal(t, 183.4, bars[0].H)
	assert.Equal(t, float64(98000), bars[1].V)

	assert.Contains(t, gotURL, "/aggs/ticker/AAPL/range/30/minute/")
	assert.Contains(t, gotURL, "adjusted=false")
	assert.Contains(t, gotURL, "sort=asc")
	assert.Contains(t, gotURL, "apiKey=test-key")
}

func TestFetchDailyEmptyResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ticker":"ZZZZ","status":"OK","resultsCount":0,"results":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bars, err := c.FetchDaily(context.Background(), "ZZZZ", span(2))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchDailyDecodesGzippedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, `{"status":"OK","results":[{"t":1704067200000,"o":1,"h":2,"l":0.5,"c":1.5,"v":1000}]}`)
		assert.NoError(t, gz.Close())
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bars, err := c.FetchDaily(context.Background(), "AAPL", span(1))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].C)
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"status":"OK","results":[{"t":1704067200000,"o":1,"h":2,"l":0.5,"c":1.5,"v":1000}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bars, err := c.FetchDaily(context.Background(), "ABCD", span(1))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPermanent4xxDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"NOT_AUTHORIZED","error":"invalid API key"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchDaily(context.Background(), "AAPL", span(1))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Msg, "invalid API key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchErrorStatusPayloadIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"status":"ERROR","error":"unknown ticker"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchDaily(context.Background(), "NOPE", span(1))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient)
	assert.Contains(t, apiErr.Msg, "unknown ticker")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchDaily(context.Background(), "AAPL", span(1))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Transient)
	assert.Equal(t, int32(5), calls.Load())
}

func TestFetchSpanRunsBothCalls(t *testing.T) {
	var intradayHit, dailyHit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/range/30/minute/"):
			intradayHit.Store(true)
			fmt.Fprint(w, `{"status":"OK","results":[{"t":1705312800000,"o":1,"h":2,"l":1,"c":2,"v":100}]}`)
		case strings.Contains(r.URL.Path, "/range/1/day/"):
			dailyHit.Store(true)
			fmt.Fprint(w, `{"status":"OK","results":[{"t":1705294800000,"o":10,"h":12,"l":9,"c":11,"v":100000}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	intraday, daily, err := c.FetchSpan(context.Background(), "AAPL", span(15))
	require.NoError(t, err)
	assert.Len(t, intraday, 1)
	assert.Len(t, daily, 1)
	assert.True(t, intradayHit.Load())
	assert.True(t, dailyHit.Load())
}

func TestNewRequiresAPIKey(t *testing.T) {
	windows, err := session.NewCalculator()
	require.NoError(t, err)

	_, err = New(Config{}, windows)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
