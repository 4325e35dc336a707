package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := New(ClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, DefaultTimeout, client.client.Timeout)
		assert.Equal(t, DefaultUserAgent, client.config.UserAgent)
		assert.Equal(t, DefaultMaxRetries, client.config.MaxRetries)
		assert.Equal(t, DefaultRetryDelay, client.config.RetryDelay)
	})

	t.Run("keeps custom config", func(t *testing.T) {
		client := New(ClientConfig{Timeout: 5 * time.Second, UserAgent: "TestAgent/1.0", MaxRetries: 1})

		assert.Equal(t, 5*time.Second, client.client.Timeout)
		assert.Equal(t, "TestAgent/1.0", client.config.UserAgent)
		assert.Equal(t, 1, client.config.MaxRetries)
	})
}

func TestClient_Do(t *testing.T) {
	t.Run("sets User-Agent", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := New(ClientConfig{UserAgent: "TestAgent/2.0", RateLimit: 100})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "TestAgent/2.0", receivedUserAgent)
	})

	t.Run("does not retry 404", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := New(ClientConfig{RateLimit: 100, RetryDelay: time.Millisecond})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), requestCount.Load())
	})
}

func TestClient_DoRetryOn429(t *testing.T) {
	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestCount.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := New(ClientConfig{RateLimit: 100, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("respects Retry-After as a floor", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestCount.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := New(ClientConfig{RateLimit: 100, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		start := time.Now()
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	})
}

func TestClient_DoRetryExhausted(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := New(ClientConfig{RateLimit: 100, MaxRetries: 2, RetryDelay: time.Millisecond})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(3), requestCount.Load())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.True(t, statusErr.Retryable())
	assert.Contains(t, statusErr.Body, "upstream down")
}

func TestClient_DoContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(ClientConfig{RateLimit: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_GetJSON(t *testing.T) {
	t.Run("decodes body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"code":200,"data":[{"ip":"1.2.3.4","port":8080}]}`))
		}))
		defer server.Close()

		var out struct {
			Code int `json:"code"`
			Data []struct {
				IP   string `json:"ip"`
				Port int    `json:"port"`
			} `json:"data"`
		}
		client := New(ClientConfig{RateLimit: 100})
		require.NoError(t, client.GetJSON(context.Background(), server.URL, &out))

		assert.Equal(t, 200, out.Code)
		require.Len(t, out.Data, 1)
		assert.Equal(t, "1.2.3.4", out.Data[0].IP)
	})

	t.Run("returns status error for 4xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		client := New(ClientConfig{RateLimit: 100})
		err := client.GetJSON(context.Background(), server.URL, &struct{}{})

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		assert.False(t, statusErr.Retryable())
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		min   time.Duration
		max   time.Duration
	}{
		{name: "empty", value: "", min: 0, max: 0},
		{name: "seconds", value: "5", min: 5 * time.Second, max: 5 * time.Second},
		{name: "zero", value: "0", min: 0, max: 0},
		{name: "garbage", value: "soon", min: 0, max: 0},
		{name: "http date", value: time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat), min: time.Second, max: 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRetryAfter(tt.value)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestSleep(t *testing.T) {
	t.Run("returns after delay", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	})

	t.Run("returns context error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	})
}
