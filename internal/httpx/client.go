// Package httpx provides a rate limited, retrying HTTP client for direct
// (non-proxied) calls such as the DBLP search API and the proxy provider.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultRateLimit    = 10
	DefaultBurstSize    = 10
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultMaxRetryWait = 30 * time.Second
	DefaultUserAgent    = "paper-harvester/1.0"
	DefaultMaxBodyBytes = 10 << 20
)

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the initial backoff delay between retries.
	RetryDelay time.Duration

	// MaxRetryWait caps a single backoff delay.
	MaxRetryWait time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// MaxBodyBytes bounds decoded response bodies.
	MaxBodyBytes int64
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryWait == 0 {
		c.MaxRetryWait = DefaultMaxRetryWait
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// StatusError is returned for non-2xx responses that are not retried, or
// that are still failing once retries are exhausted.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is 429 or 5xx.
func (e *StatusError) Retryable() bool {
	return shouldRetry(e.StatusCode)
}

// Client wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type Client struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      ClientConfig
}

// New creates a new HTTP client with rate limiting.
// The client waits on the rate limiter before each request and retries on
// 429 (Too Many Requests), 5xx server errors and network errors.
func New(cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient creates a client around an existing http.Client.
func NewWithHTTPClient(cfg ClientConfig, httpClient *http.Client) *Client {
	cfg.applyDefaults()
	return &Client{
		client:      httpClient,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do executes an HTTP request with rate limiting and retries.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	bo := c.newBackOff()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctxErr := req.Context().Err(); ctxErr != nil {
					return nil, ctxErr
				}
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.config.MaxRetries {
				if err := c.retry(req, bo.NextBackOff()); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		statusErr := &StatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter, Body: readSnippet(resp.Body)}
		resp.Body.Close()
		lastErr = statusErr

		if attempt < c.config.MaxRetries {
			delay := bo.NextBackOff()
			if retryAfter > delay {
				delay = retryAfter
			}
			if err := c.retry(req, delay); err != nil {
				return nil, err
			}
			continue
		}
	}

	return nil, fmt.Errorf("max retries exhausted after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// GetJSON performs a GET and decodes a 2xx JSON body into out.
// Non-2xx responses are returned as *StatusError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.config.MaxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryDelay
	bo.MaxInterval = c.config.MaxRetryWait
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (c *Client) retry(req *http.Request, delay time.Duration) error {
	if err := Sleep(req.Context(), delay); err != nil {
		return err
	}
	if err := resetRequestBody(req); err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	return nil
}

// shouldRetry returns true if the status code indicates we should retry.
func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// ParseRetryAfter exposes Retry-After parsing to callers that classify responses themselves.
func ParseRetryAfter(value string) time.Duration {
	return parseRetryAfter(value)
}

// parseRetryAfter parses a Retry-After header as seconds or an HTTP date.
// It returns 0 when the header is absent or unusable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}

// Sleep waits for the specified duration, respecting context cancellation.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readSnippet(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, 512))
	return string(b)
}

// resetRequestBody resets the request body for retry if possible.
func resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
