package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "update-bitrix/0.1"
)

// Default token-bucket parameters. Bitrix24 allows roughly two requests
// per second per webhook before responding with QUERY_LIMIT_EXCEEDED.
const (
	DefaultRequestsPerSec = 2.0
	DefaultBurst          = 2
)

// Client is an HTTP client for the Bitrix24 REST webhook API. It handles
// request construction, token-bucket rate limiting, retry with exponential
// backoff, and error classification. The webhook URL embeds the auth
// token, so no separate credential handling is needed.
type Client struct {
	webhookURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Bitrix24 client for the given inbound webhook URL
// (e.g. "https://example.bitrix24.com.br/rest/1/abc123"). A nil limiter
// gets the default two-requests-per-second bucket.
func NewClient(webhookURL string, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(DefaultRequestsPerSec), DefaultBurst)
	}

	return &Client{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// timeSleep waits for d or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// call invokes one REST method (e.g. "crm.deal.list") and decodes the
// response envelope. Query parameters are appended to the URL; a non-nil
// body is sent as JSON. Every attempt, including retries, first waits on
// the token bucket so that backpressure and retry pacing compose.
func (c *Client) call(ctx context.Context, httpMethod, apiMethod string, query url.Values, body any) (*apiEnvelope, error) {
	reqURL := c.webhookURL + "/" + apiMethod
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte

	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("bitrix: encoding %s request: %w", apiMethod, err)
		}
	}

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("bitrix: request canceled: %w", err)
		}

		resp, err := c.doOnce(ctx, httpMethod, reqURL, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("bitrix: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", apiMethod),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("bitrix: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("bitrix: %s failed after %d retries: %w", apiMethod, maxRetries, err)
		}

		env, retryAfter, err := c.handleResponse(resp, apiMethod)
		if err == nil {
			return env, nil
		}

		if retryAfter >= 0 && attempt < maxRetries {
			backoff := retryAfter
			if backoff == 0 {
				backoff = c.calcBackoff(attempt)
			}

			c.logger.Warn("retrying after API error",
				slog.String("method", apiMethod),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("bitrix: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return nil, err
	}
}

// doOnce performs a single HTTP request.
func (c *Client) doOnce(ctx context.Context, httpMethod, reqURL string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// handleResponse decodes the response body into the envelope, classifying
// HTTP and envelope-level errors. retryAfter reports whether the failure
// is retryable: negative means terminal, zero means retry with computed
// backoff, positive carries the server-requested delay.
func (c *Client) handleResponse(resp *http.Response, apiMethod string) (*apiEnvelope, time.Duration, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("bitrix: reading %s response: %w", apiMethod, err)
	}

	var env apiEnvelope
	// Decode failures are tolerated for error statuses: the body may be
	// an HTML error page from a proxy.
	decodeErr := json.Unmarshal(raw, &env)

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		apiErr := &APIError{
			StatusCode:  resp.StatusCode,
			Code:        env.ErrorCode,
			Description: env.ErrorDescription,
			Err:         sentinel,
		}

		if isRetryable(resp.StatusCode) {
			return nil, parseRetryAfter(resp.Header.Get("Retry-After")), apiErr
		}

		return nil, -1, apiErr
	}

	if decodeErr != nil {
		return nil, -1, fmt.Errorf("bitrix: decoding %s response: %w", apiMethod, decodeErr)
	}

	// Bitrix can return the error envelope with HTTP 200.
	if env.ErrorCode != "" {
		sentinel := ErrBadRequest
		if env.ErrorCode == "QUERY_LIMIT_EXCEEDED" {
			sentinel = ErrThrottled
		}

		return nil, -1, &APIError{
			StatusCode:  resp.StatusCode,
			Code:        env.ErrorCode,
			Description: env.ErrorDescription,
			Err:         sentinel,
		}
	}

	return &env, 0, nil
}

// parseRetryAfter converts a Retry-After header to a duration, clamped to
// maxBackoff. Returns 0 (compute our own backoff) when absent or invalid.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}

	d := time.Duration(secs) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}

	return d
}

// calcBackoff returns the exponential backoff duration for the given
// attempt with ±25% jitter, capped at maxBackoff.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := (rand.Float64()*2 - 1) * jitterFraction * backoff

	return time.Duration(backoff + jitter)
}
