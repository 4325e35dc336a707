// Package netclient performs outbound page and API fetches through the proxy
// pool with per-host rate limiting and result classification.
package netclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/proxypool"
)

// Default configuration values.
const (
	DefaultTimeout            = 12 * time.Second
	DefaultRenderTimeout      = 120 * time.Second
	DefaultMaxProxySwaps      = 3
	DefaultTransportCacheSize = 64
	DefaultMaxBodyBytes       = 10 << 20
	DefaultUserAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// ErrRenderDisabled is returned by Render when no browser is configured.
var ErrRenderDisabled = fmt.Errorf("rendering disabled: %w", ErrPermanent)

// Pool is the subset of the proxy pool the client needs.
type Pool interface {
	Acquire(ctx context.Context) *proxypool.Handle
	Release(h *proxypool.Handle, outcome proxypool.Outcome)
}

// directPool always connects directly.
type directPool struct{}

func (directPool) Acquire(context.Context) *proxypool.Handle { return proxypool.Direct }

func (directPool) Release(*proxypool.Handle, proxypool.Outcome) {}

// Config holds client settings.
type Config struct {
	Timeout            time.Duration
	RenderTimeout      time.Duration
	UserAgent          string
	DefaultLimit       httpx.HostLimit
	HostLimits         map[string]httpx.HostLimit
	MaxProxySwaps      int
	TransportCacheSize int
	MaxBodyBytes       int64
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RenderTimeout == 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxProxySwaps <= 0 {
		c.MaxProxySwaps = DefaultMaxProxySwaps
	}
	if c.TransportCacheSize == 0 {
		c.TransportCacheSize = DefaultTransportCacheSize
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Response is a fully read response body.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	pool       Pool
	limiters   *httpx.HostLimiters
	transports *transportCache
	browser    Browser
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithBrowser enables Render.
func WithBrowser(b Browser) Option {
	return func(c *Client) { c.browser = b }
}

// WithMetrics records request classes and proxy swaps.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client. A nil pool means every call is direct.
func New(cfg Config, pool Pool, logger zerolog.Logger, opts ...Option) *Client {
	cfg.applyDefaults()
	if pool == nil {
		pool = directPool{}
	}
	c := &Client{
		cfg:        cfg,
		pool:       pool,
		limiters:   httpx.NewHostLimiters(cfg.DefaultLimit, cfg.HostLimits),
		transports: newTransportCache(cfg.TransportCacheSize, cfg.Timeout),
		logger:     logger.With().Str("component", "netclient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanRender reports whether a browser is configured.
func (c *Client) CanRender() bool {
	return c.browser != nil
}

// Close releases cached transports.
func (c *Client) Close() {
	c.transports.closeAll()
}

// attemptFunc performs one attempt through handle h. It returns a response
// for any completed exchange, or an error when none completed.
type attemptFunc func(ctx context.Context, h *proxypool.Handle) (*Response, error)

// Get fetches rawURL with optional extra headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return c.run(ctx, rawURL, func(ctx context.Context, h *proxypool.Handle) (*Response, error) {
		return c.get(ctx, rawURL, headers, h)
	})
}

// Render loads rawURL in a headless browser, waits for waitSelector to be
// visible and returns the page HTML.
func (c *Client) Render(ctx context.Context, rawURL, waitSelector string) (*Response, error) {
	if c.browser == nil {
		return nil, ErrRenderDisabled
	}
	return c.run(ctx, rawURL, func(ctx context.Context, h *proxypool.Handle) (*Response, error) {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RenderTimeout)
		defer cancel()

		html, err := c.browser.Render(rctx, rawURL, waitSelector, h.URL())
		if err != nil {
			return nil, err
		}
		return &Response{URL: rawURL, StatusCode: http.StatusOK, Body: []byte(html)}, nil
	})
}

// run executes attempts, swapping proxies on proxy-specific failures.
func (c *Client) run(ctx context.Context, rawURL string, attempt attemptFunc) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, ErrPermanent)
	}
	host := u.Hostname()

	for swaps := 0; ; swaps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h := c.pool.Acquire(ctx)
		if err := c.limiters.Wait(ctx, host); err != nil {
			c.pool.Release(h, proxypool.UnrelatedFailure)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransientError{URL: rawURL, Err: err}
		}

		resp, err := attempt(ctx, h)
		if ctx.Err() != nil {
			c.pool.Release(h, proxypool.UnrelatedFailure)
			return nil, ctx.Err()
		}

		var cls class
		if err != nil {
			cls = classifyAttemptError(err, !h.IsDirect())
		} else {
			cls = classifyResponse(resp.StatusCode, resp.Body)
		}
		c.metrics.RecordRequest(host, cls.String())

		switch cls {
		case classOK:
			c.pool.Release(h, proxypool.Success)
			return resp, nil

		case classPermanent:
			// The proxy delivered a definitive answer.
			c.pool.Release(h, proxypool.Success)
			return nil, permanent(rawURL, resp.StatusCode)

		case classTransient:
			c.pool.Release(h, proxypool.UnrelatedFailure)
			return nil, transientFrom(rawURL, resp, err)

		case classProxy:
			if h.IsDirect() {
				// Nothing to swap; let the caller back off.
				c.pool.Release(h, proxypool.UnrelatedFailure)
				return nil, transientFrom(rawURL, resp, challengeOr(err))
			}
			c.pool.Release(h, proxypool.ProxyFailure)
			c.transports.drop(h.URL())
			c.metrics.RecordProxySwap()
			proxyLog := observability.WithProxyContext(c.logger, h.Addr())
			proxyLog.Debug().
				Err(challengeOr(err)).
				Str("url", rawURL).
				Int("swap", swaps+1).
				Msg("proxy failure, swapping")

			if swaps >= c.cfg.MaxProxySwaps {
				return nil, &TransientError{URL: rawURL, Err: ErrProxyExhausted}
			}
		}
	}
}

func (c *Client) get(ctx context.Context, rawURL string, headers http.Header, h *proxypool.Handle) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	}

	client := &http.Client{Transport: c.transports.get(h.URL())}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// classifyAttemptError extends classifyError with browser network errors.
func classifyAttemptError(err error, proxied bool) class {
	if proxied && isBrowserProxyError(err) {
		return classProxy
	}
	if errors.Is(err, ErrChallenge) {
		return classProxy
	}
	return classifyError(err, proxied)
}

var browserProxyErrors = []string{
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_TUNNEL_CONNECTION_FAILED",
	"ERR_NO_SUPPORTED_PROXIES",
	"ERR_PROXY_AUTH_UNSUPPORTED",
	"ERR_PROXY_CERTIFICATE_INVALID",
}

func isBrowserProxyError(err error) bool {
	msg := err.Error()
	for _, e := range browserProxyErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

func challengeOr(err error) error {
	if err != nil {
		return err
	}
	return ErrChallenge
}

func transientFrom(rawURL string, resp *Response, err error) error {
	te := &TransientError{URL: rawURL, Err: err}
	if resp != nil {
		te.StatusCode = resp.StatusCode
		if resp.Header != nil {
			te.RetryAfter = httpx.ParseRetryAfter(resp.Header.Get("Retry-After"))
		}
		if te.Err == nil {
			te.Err = fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return te
}
