package proxypool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
)

// Provider hands out candidate proxy addresses ("scheme://[user:pass@]host:port").
type Provider interface {
	ListAddresses(ctx context.Context, count int) ([]string, error)
}

// Shenlong provider defaults.
const (
	DefaultShenlongBaseURL  = "http://api.shenlongip.com"
	DefaultShenlongProtocol = 2
	DefaultShenlongTimeout  = 10 * time.Second
	shenlongNeed            = 1000
)

// ShenlongConfig configures the Shenlong address API.
type ShenlongConfig struct {
	BaseURL  string
	APIKey   string
	APISign  string
	Protocol int
	Username string
	Password string
	Timeout  time.Duration
}

func (c *ShenlongConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultShenlongBaseURL
	}
	if c.Protocol == 0 {
		c.Protocol = DefaultShenlongProtocol
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultShenlongTimeout
	}
}

// ShenlongProvider fetches short-lived addresses from the Shenlong API.
type ShenlongProvider struct {
	client *httpx.Client
	config ShenlongConfig
}

var _ Provider = (*ShenlongProvider)(nil)

// NewShenlongProvider creates a provider with its own direct HTTP client.
func NewShenlongProvider(cfg ShenlongConfig) *ShenlongProvider {
	cfg.applyDefaults()
	return NewShenlongProviderWithClient(cfg, httpx.New(httpx.ClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  2,
		BurstSize:  2,
		MaxRetries: 2,
	}))
}

// NewShenlongProviderWithClient creates a provider using the given client.
func NewShenlongProviderWithClient(cfg ShenlongConfig, client *httpx.Client) *ShenlongProvider {
	cfg.applyDefaults()
	return &ShenlongProvider{client: client, config: cfg}
}

type shenlongResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		IP   string   `json:"ip"`
		Port flexPort `json:"port"`
	} `json:"data"`
}

// flexPort accepts a port encoded as a JSON number or string.
type flexPort int

func (p *flexPort) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", b, err)
	}
	*p = flexPort(n)
	return nil
}

// ListAddresses requests count addresses.
func (s *ShenlongProvider) ListAddresses(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("key", s.config.APIKey)
	params.Set("sign", s.config.APISign)
	params.Set("protocol", strconv.Itoa(s.config.Protocol))
	params.Set("mr", "1")
	params.Set("pattern", "json")
	params.Set("need", strconv.Itoa(shenlongNeed))
	params.Set("count", strconv.Itoa(count))

	reqURL := strings.TrimRight(s.config.BaseURL, "/") + "/ip?" + params.Encode()

	var resp shenlongResponse
	if err := s.client.GetJSON(ctx, reqURL, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) {
			return nil, domain.NewExternalAPIError("Shenlong", statusErr.StatusCode, statusErr.Body, domain.ErrServiceUnavailable)
		}
		return nil, domain.NewExternalAPIError("Shenlong", 0, err.Error(), err)
	}

	if resp.Code != 200 {
		return nil, domain.NewExternalAPIError("Shenlong", resp.Code, resp.Msg, domain.ErrServiceUnavailable)
	}

	addrs := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.IP == "" || d.Port <= 0 {
			continue
		}
		addrs = append(addrs, s.render(d.IP, int(d.Port)))
	}
	return addrs, nil
}

func (s *ShenlongProvider) render(ip string, port int) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(ip, strconv.Itoa(port))}
	if s.config.Username != "" && s.config.Password != "" {
		u.User = url.UserPassword(s.config.Username, s.config.Password)
	}
	return u.String()
}

// StaticProvider serves a fixed address list, rotating through it across calls.
type StaticProvider struct {
	mu    sync.Mutex
	addrs []string
	next  int
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider over addrs. Bare "host:port" entries
// get an http scheme.
func NewStaticProvider(addrs []string) *StaticProvider {
	norm := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.Contains(a, "://") {
			a = "http://" + a
		}
		norm = append(norm, a)
	}
	return &StaticProvider{addrs: norm}
}

// ListAddresses returns up to count addresses.
func (s *StaticProvider) ListAddresses(ctx context.Context, count int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.addrs) == 0 {
		return nil, domain.NewExternalAPIError("static", 0, "no addresses configured", domain.ErrServiceUnavailable)
	}
	if count > len(s.addrs) {
		count = len(s.addrs)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, s.addrs[s.next%len(s.addrs)])
		s.next++
	}
	return out, nil
}
