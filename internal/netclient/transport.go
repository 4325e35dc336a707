package netclient

import (
	"net"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const directKey = "direct"

// transportCache keeps one *http.Transport per proxy address so keep-alive
// connections are reused per proxy. Evicted transports close idle conns.
type transportCache struct {
	cache   *lru.Cache[string, *http.Transport]
	timeout time.Duration
}

func newTransportCache(size int, timeout time.Duration) *transportCache {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.NewWithEvict[string, *http.Transport](size, func(_ string, t *http.Transport) {
		t.CloseIdleConnections()
	})
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &transportCache{cache: cache, timeout: timeout}
}

// get returns the transport for proxyURL; nil means direct.
func (c *transportCache) get(proxyURL *url.URL) *http.Transport {
	key := directKey
	if proxyURL != nil {
		key = proxyURL.String()
	}
	if t, ok := c.cache.Get(key); ok {
		return t
	}

	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if proxyURL != nil {
		t.Proxy = http.ProxyURL(proxyURL)
	}
	c.cache.Add(key, t)
	return t
}

// drop closes and forgets the transport for an evicted proxy.
func (c *transportCache) drop(proxyURL *url.URL) {
	if proxyURL == nil {
		return
	}
	c.cache.Remove(proxyURL.String())
}

// closeAll closes every cached transport.
func (c *transportCache) closeAll() {
	c.cache.Purge()
}

func (c *transportCache) len() int {
	return c.cache.Len()
}
