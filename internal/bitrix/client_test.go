package bitrix

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with an unbounded limiter and instant retry sleeps.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, rate.NewLimiter(rate.Inf, 1), slog.Default())
	c.sleepFunc = noopSleep

	return c
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/1/token/crm.dealcategory.list", r.URL.Path)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"result":[{"ID":34,"NAME":"Assistência"}]}`))
	}))
	defer srv.Close()

	// Trailing slash on the webhook URL is tolerated.
	client := newTestClient(t, srv.URL+"/rest/1/token/")

	categories, err := client.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, IntString(34), categories[0].ID)
	assert.Equal(t, "Assistência", categories[0].Name)
}

func TestCall_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_TerminalOnClientError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"INVALID_CREDENTIALS","error_description":"Invalid request credentials"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Categories(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load(), "401 must not be retried")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestCall_EnvelopeErrorOnHTTP200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error":"QUERY_LIMIT_EXCEEDED","error_description":"Too many requests"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Categories(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThrottled)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
}

func TestCall_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Categories(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestCall_LimiterErrorStopsRequest(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	// A zero-burst limiter can never serve a token.
	client := NewClient(srv.URL, http.DefaultClient, rate.NewLimiter(0, 0), slog.Default())
	client.sleepFunc = noopSleep

	_, err := client.Categories(context.Background())
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "10", 10 * time.Second},
		{"clamped", "3600", maxBackoff},
		{"garbage", "soon", 0},
		{"negative", "-5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value))
		})
	}
}

func TestCalcBackoff_CappedWithJitter(t *testing.T) {
	client := newTestClient(t, "http://unused")

	for attempt := range 10 {
		d := client.calcBackoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}
