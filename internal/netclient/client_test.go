package netclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/proxypool"
)

const targetURL = "http://papers.test/abs/1"

// recordingPool wraps a real pool and records release outcomes.
type recordingPool struct {
	*proxypool.Pool
	mu       sync.Mutex
	outcomes []proxypool.Outcome
	addrs    []string
}

func (r *recordingPool) Release(h *proxypool.Handle, o proxypool.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.addrs = append(r.addrs, h.Addr())
	r.mu.Unlock()
	r.Pool.Release(h, o)
}

func (r *recordingPool) recorded() []proxypool.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proxypool.Outcome(nil), r.outcomes...)
}

func newProxy(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server.URL
}

func newPool(t *testing.T, addrs ...string) *recordingPool {
	t.Helper()
	pool := proxypool.New(proxypool.Config{
		Size:        len(addrs),
		MaxFailures: 0,
		AcquireWait: 0,
	}, proxypool.NewStaticProvider(addrs), proxypool.AcceptAll, zerolog.Nop())
	require.NoError(t, pool.Replenish(context.Background()))
	return &recordingPool{Pool: pool}
}

func testConfig() Config {
	return Config{
		Timeout:      2 * time.Second,
		DefaultLimit: httpx.HostLimit{RPS: 1000, Burst: 100},
	}
}

func TestClient_Get_Direct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			w.Write([]byte(`<html><body><div id="abstract">text</div></body></html>`))
		case "/busy":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/challenge":
			w.Write([]byte(challengePage))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New(testConfig(), nil, zerolog.Nop())
	defer client.Close()
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		resp, err := client.Get(ctx, server.URL+"/ok", http.Header{"X-Test": {"yes"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		doc, err := resp.Document()
		require.NoError(t, err)
		assert.Equal(t, "text", doc.Find("#abstract").Text())
	})

	t.Run("not found is permanent", func(t *testing.T) {
		_, err := client.Get(ctx, server.URL+"/missing", nil)
		assert.ErrorIs(t, err, ErrPermanent)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, IsTransient(err))
	})

	t.Run("unavailable is transient with retry after", func(t *testing.T) {
		_, err := client.Get(ctx, server.URL+"/busy", nil)
		assert.True(t, IsTransient(err))
		assert.Equal(t, 7*time.Second, RetryAfter(err))
	})

	t.Run("direct challenge is transient", func(t *testing.T) {
		_, err := client.Get(ctx, server.URL+"/challenge", nil)
		assert.True(t, IsTransient(err))
		assert.ErrorIs(t, err, ErrChallenge)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := client.Get(ctx, "not a url", nil)
		assert.ErrorIs(t, err, ErrPermanent)
	})
}

func TestClient_Get_SwapsOnProxyFailure(t *testing.T) {
	bad := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	})
	good := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "papers.test", r.URL.Host)
		w.Write([]byte("<html><body>paper</body></html>"))
	})

	pool := newPool(t, bad, good)
	client := New(testConfig(), pool, zerolog.Nop())
	defer client.Close()

	resp, err := client.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "paper")

	assert.Equal(t, []proxypool.Outcome{proxypool.ProxyFailure, proxypool.Success}, pool.recorded())
	assert.Equal(t, 1, pool.Stats().Size, "failed proxy is evicted")
}

func TestClient_Get_ChallengeCountsAgainstProxy(t *testing.T) {
	blocked := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(challengePage))
	})
	good := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>paper</body></html>"))
	})

	pool := newPool(t, blocked, good)
	client := New(testConfig(), pool, zerolog.Nop())

	_, err := client.Get(context.Background(), targetURL, nil)
	require.NoError(t, err)
	assert.Equal(t, []proxypool.Outcome{proxypool.ProxyFailure, proxypool.Success}, pool.recorded())
}

func TestClient_Get_ProxyExhausted(t *testing.T) {
	var hits atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusProxyAuthRequired)
	}
	pool := newPool(t, newProxy(t, handler), newProxy(t, handler), newProxy(t, handler))

	cfg := testConfig()
	cfg.MaxProxySwaps = 1
	client := New(cfg, pool, zerolog.Nop())

	_, err := client.Get(context.Background(), targetURL, nil)
	assert.ErrorIs(t, err, ErrProxyExhausted)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []proxypool.Outcome{proxypool.ProxyFailure, proxypool.ProxyFailure}, pool.recorded())
}

func TestClient_Get_PermanentThroughProxyIsSuccess(t *testing.T) {
	proxy := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	pool := newPool(t, proxy)
	client := New(testConfig(), pool, zerolog.Nop())

	_, err := client.Get(context.Background(), targetURL, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []proxypool.Outcome{proxypool.Success}, pool.recorded())
	assert.Equal(t, 1, pool.Stats().Size)
}

func TestClient_Get_TransientThroughProxyIsUnrelated(t *testing.T) {
	proxy := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	pool := newPool(t, proxy)
	client := New(testConfig(), pool, zerolog.Nop())

	_, err := client.Get(context.Background(), targetURL, nil)
	assert.True(t, IsTransient(err))
	assert.Equal(t, []proxypool.Outcome{proxypool.UnrelatedFailure}, pool.recorded())
}

func TestClient_Get_CancelReleasesUnrelated(t *testing.T) {
	started := make(chan struct{})
	proxy := newProxy(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	pool := newPool(t, proxy)
	client := New(testConfig(), pool, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Get(ctx, targetURL, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []proxypool.Outcome{proxypool.UnrelatedFailure}, pool.recorded())
}

type fakeBrowser struct {
	mu      sync.Mutex
	proxies []*url.URL
	results []fakeRender
}

type fakeRender struct {
	html string
	err  error
}

func (b *fakeBrowser) Render(ctx context.Context, rawURL, waitSelector string, proxy *url.URL) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proxies = append(b.proxies, proxy)
	r := b.results[0]
	if len(b.results) > 1 {
		b.results = b.results[1:]
	}
	return r.html, r.err
}

func TestClient_Render(t *testing.T) {
	t.Run("disabled without browser", func(t *testing.T) {
		client := New(testConfig(), nil, zerolog.Nop())
		assert.False(t, client.CanRender())

		_, err := client.Render(context.Background(), targetURL, "#abstract")
		assert.ErrorIs(t, err, ErrRenderDisabled)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("swaps proxy on browser proxy error", func(t *testing.T) {
		browser := &fakeBrowser{results: []fakeRender{
			{err: errors.New("page load error net::ERR_TUNNEL_CONNECTION_FAILED")},
			{html: `<html><body><div id="abstract">rendered</div></body></html>`},
		}}
		pool := newPool(t, "http://10.0.0.1:8080", "http://10.0.0.2:8080")
		client := New(testConfig(), pool, zerolog.Nop(), WithBrowser(browser))
		require.True(t, client.CanRender())

		resp, err := client.Render(context.Background(), targetURL, "#abstract")
		require.NoError(t, err)
		assert.Contains(t, string(resp.Body), "rendered")

		require.Len(t, browser.proxies, 2)
		assert.NotEqual(t, browser.proxies[0].String(), browser.proxies[1].String())
		assert.Equal(t, []proxypool.Outcome{proxypool.ProxyFailure, proxypool.Success}, pool.recorded())
	})

	t.Run("rendered challenge page swaps proxy", func(t *testing.T) {
		browser := &fakeBrowser{results: []fakeRender{
			{html: challengePage},
			{html: `<html><body>ok</body></html>`},
		}}
		pool := newPool(t, "http://10.0.0.1:8080", "http://10.0.0.2:8080")
		client := New(testConfig(), pool, zerolog.Nop(), WithBrowser(browser))

		_, err := client.Render(context.Background(), targetURL, "body")
		require.NoError(t, err)
		assert.Equal(t, []proxypool.Outcome{proxypool.ProxyFailure, proxypool.Success}, pool.recorded())
	})

	t.Run("render timeout is transient", func(t *testing.T) {
		browser := &fakeBrowser{results: []fakeRender{{err: context.DeadlineExceeded}}}
		client := New(testConfig(), nil, zerolog.Nop(), WithBrowser(browser))

		_, err := client.Render(context.Background(), targetURL, "#abstract")
		assert.True(t, IsTransient(err))
	})
}
