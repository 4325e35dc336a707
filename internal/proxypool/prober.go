package proxypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Prober validates a candidate address before admission.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// Probe defaults.
const (
	DefaultProbeURL     = "https://api.openalex.org/works?per_page=1"
	DefaultProbeTimeout = 5 * time.Second
)

// HTTPProber fetches a known URL through the candidate and accepts any 2xx
// or 3xx response.
type HTTPProber struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

var _ Prober = (*HTTPProber)(nil)

// NewHTTPProber creates a prober. Empty values use the defaults.
func NewHTTPProber(probeURL string, timeout time.Duration) *HTTPProber {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{URL: probeURL, Timeout: timeout}
}

// Probe returns nil if the probe URL answered through addr.
func (p *HTTPProber) Probe(ctx context.Context, addr string) error {
	proxyURL, err := url.Parse(addr)
	if err != nil || proxyURL.Host == "" {
		return fmt.Errorf("invalid proxy address %q", addr)
	}

	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, addr string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, addr string) error {
	return f(ctx, addr)
}

// AcceptAll admits every candidate without probing.
var AcceptAll Prober = ProberFunc(func(context.Context, string) error { return nil })
