package proxypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(count int) ([]string, error)
}

func (f *fakeProvider) ListAddresses(_ context.Context, count int) ([]string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	return fn(count)
}

func (f *fakeProvider) set(fn func(count int) ([]string, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

// sequentialAddrs returns a provider that never repeats an address.
func sequentialAddrs() *fakeProvider {
	var n atomic.Int32
	return &fakeProvider{fn: func(count int) ([]string, error) {
		out := make([]string, count)
		for i := range out {
			out[i] = fmt.Sprintf("http://10.0.0.%d:8080", n.Add(1))
		}
		return out, nil
	}}
}

func newTestPool(cfg Config, provider Provider, prober Prober, opts ...Option) *Pool {
	return New(cfg, provider, prober, zerolog.Nop(), opts...)
}

func TestPool_SizeInvariant(t *testing.T) {
	pool := newTestPool(Config{Size: 3, Overfetch: 5, AcquireWait: 0}, sequentialAddrs(), AcceptAll)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Replenish(context.Background()))
		assert.LessOrEqual(t, pool.Stats().Size, 3)
	}
	assert.Equal(t, 3, pool.Stats().Size)
	assert.Equal(t, uint64(3), pool.Stats().Admitted)
}

func TestPool_IgnoresDuplicates(t *testing.T) {
	provider := &fakeProvider{fn: func(int) ([]string, error) {
		return []string{"http://1.1.1.1:80", "http://1.1.1.1:80", "http://2.2.2.2:80"}, nil
	}}
	pool := newTestPool(Config{Size: 5}, provider, AcceptAll)

	require.NoError(t, pool.Replenish(context.Background()))
	require.NoError(t, pool.Replenish(context.Background()))
	assert.Equal(t, 2, pool.Stats().Size)
}

func TestPool_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts after exceeding max failures", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, MaxFailures: 1}, sequentialAddrs(), AcceptAll)
		require.NoError(t, pool.Replenish(ctx))

		h := pool.Acquire(ctx)
		require.False(t, h.IsDirect())
		pool.Release(h, ProxyFailure)
		assert.Equal(t, 1, pool.Stats().Size, "first failure stays within the threshold")

		h2 := pool.Acquire(ctx)
		assert.Equal(t, h.Addr(), h2.Addr())
		pool.Release(h2, ProxyFailure)

		stats := pool.Stats()
		assert.Equal(t, 0, stats.Size)
		assert.Equal(t, uint64(1), stats.Evicted)
	})

	t.Run("success resets failures", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, MaxFailures: 1}, sequentialAddrs(), AcceptAll)
		require.NoError(t, pool.Replenish(ctx))

		pool.Release(pool.Acquire(ctx), ProxyFailure)
		pool.Release(pool.Acquire(ctx), Success)
		pool.Release(pool.Acquire(ctx), ProxyFailure)

		assert.Equal(t, 1, pool.Stats().Size)
	})

	t.Run("unrelated failure changes nothing", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, MaxFailures: 0}, sequentialAddrs(), AcceptAll)
		require.NoError(t, pool.Replenish(ctx))

		for i := 0; i < 5; i++ {
			pool.Release(pool.Acquire(ctx), UnrelatedFailure)
		}
		assert.Equal(t, 1, pool.Stats().Size)
	})

	t.Run("double release is a no-op", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, MaxFailures: 1}, sequentialAddrs(), AcceptAll)
		require.NoError(t, pool.Replenish(ctx))

		h := pool.Acquire(ctx)
		pool.Release(h, ProxyFailure)
		pool.Release(h, ProxyFailure)
		pool.Release(h, ProxyFailure)

		assert.Equal(t, 1, pool.Stats().Size)
	})

	t.Run("direct and nil are no-ops", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1}, sequentialAddrs(), AcceptAll)
		assert.NotPanics(t, func() {
			pool.Release(Direct, ProxyFailure)
			pool.Release(nil, ProxyFailure)
		})
	})

	t.Run("stale handle after eviction is ignored", func(t *testing.T) {
		provider := &fakeProvider{fn: func(int) ([]string, error) { return []string{"http://9.9.9.9:1"}, nil }}
		pool := newTestPool(Config{Size: 1, MaxFailures: 0}, provider, AcceptAll)
		require.NoError(t, pool.Replenish(ctx))

		stale := pool.Acquire(ctx)
		fresh := pool.Acquire(ctx)
		pool.Release(fresh, ProxyFailure)
		require.NoError(t, pool.Replenish(ctx))

		// Same address re-admitted; the stale handle must not evict it.
		pool.Release(stale, ProxyFailure)
		assert.Equal(t, 1, pool.Stats().Size)
	})
}

func TestPool_ProbeFiltersAndAlternates(t *testing.T) {
	provider := &fakeProvider{fn: func(int) ([]string, error) {
		return []string{"http://a:1", "http://bad:1", "http://b:1"}, nil
	}}
	prober := ProberFunc(func(_ context.Context, addr string) error {
		if addr == "http://bad:1" {
			return errors.New("probe failed")
		}
		return nil
	})
	pool := newTestPool(Config{Size: 3}, provider, prober)

	require.NoError(t, pool.Replenish(context.Background()))
	require.Equal(t, 2, pool.Stats().Size)

	var got []string
	for i := 0; i < 4; i++ {
		h := pool.Acquire(context.Background())
		got = append(got, h.Addr())
		pool.Release(h, Success)
	}
	assert.Equal(t, []string{"http://a:1", "http://b:1", "http://a:1", "http://b:1"}, got)
}

func TestPool_DegradedConvergence(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{fn: func(int) ([]string, error) {
		return nil, errors.New("provider down")
	}}
	pool := newTestPool(Config{Size: 2, DegradeAfter: 2, AcquireWait: time.Hour}, provider, AcceptAll)

	assert.Error(t, pool.Replenish(ctx))
	assert.False(t, pool.Stats().Degraded)
	assert.Error(t, pool.Replenish(ctx))
	assert.True(t, pool.Stats().Degraded)

	done := make(chan *Handle, 1)
	go func() { done <- pool.Acquire(ctx) }()
	select {
	case h := <-done:
		assert.True(t, h.IsDirect())
	case <-time.After(time.Second):
		t.Fatal("acquire blocked in degraded mode")
	}

	provider.set(func(int) ([]string, error) { return []string{"http://ok:1"}, nil })
	require.NoError(t, pool.Replenish(ctx))

	stats := pool.Stats()
	assert.False(t, stats.Degraded)
	assert.Equal(t, 0, stats.FailedRounds)
	assert.Equal(t, "http://ok:1", pool.Acquire(ctx).Addr())
}

func TestPool_DegradedKeepsServingHealthyEntries(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{fn: func(int) ([]string, error) {
		return []string{"http://a:1", "http://b:1"}, nil
	}}
	pool := newTestPool(Config{Size: 3, DegradeAfter: 2, AcquireWait: time.Hour}, provider, AcceptAll)

	require.NoError(t, pool.Replenish(ctx))
	require.Equal(t, 2, pool.Stats().Size)

	provider.set(func(int) ([]string, error) { return nil, errors.New("provider down") })
	assert.Error(t, pool.Replenish(ctx))
	assert.Error(t, pool.Replenish(ctx))

	stats := pool.Stats()
	require.True(t, stats.Degraded)
	require.Equal(t, 2, stats.Size)

	first := pool.Acquire(ctx)
	second := pool.Acquire(ctx)
	require.False(t, first.IsDirect())
	require.False(t, second.IsDirect())
	assert.ElementsMatch(t, []string{"http://a:1", "http://b:1"}, []string{first.Addr(), second.Addr()})

	// Once the last entries are evicted, degraded mode goes direct without waiting.
	pool.Release(first, ProxyFailure)
	pool.Release(second, ProxyFailure)
	require.Equal(t, 0, pool.Stats().Size)

	done := make(chan *Handle, 1)
	go func() { done <- pool.Acquire(ctx) }()
	select {
	case h := <-done:
		assert.True(t, h.IsDirect())
	case <-time.After(time.Second):
		t.Fatal("acquire blocked in degraded mode")
	}
}

func TestPool_ZeroValidCountsAsFailedRound(t *testing.T) {
	pool := newTestPool(Config{Size: 1, DegradeAfter: 1}, sequentialAddrs(),
		ProberFunc(func(context.Context, string) error { return errors.New("dead") }))

	assert.ErrorIs(t, pool.Replenish(context.Background()), errNoValidAddresses)
	assert.True(t, pool.Stats().Degraded)
}

func TestPool_TTLExpiry(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	pool := newTestPool(Config{Size: 1, TTL: time.Minute, AcquireWait: 0}, sequentialAddrs(), AcceptAll, WithClock(clock))
	require.NoError(t, pool.Replenish(context.Background()))

	h := pool.Acquire(context.Background())
	assert.False(t, h.IsDirect())

	advance(time.Minute)
	assert.True(t, pool.Acquire(context.Background()).IsDirect())
	assert.Equal(t, uint64(1), pool.Stats().Evicted)

	// Expired slots are refilled by the next round.
	require.NoError(t, pool.Replenish(context.Background()))
	assert.Equal(t, "http://10.0.0.2:8080", pool.Acquire(context.Background()).Addr())
}

func TestPool_AcquireWaitsForAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := newTestPool(Config{Size: 2, AcquireWait: 5 * time.Second, ReplenishInterval: time.Hour},
		sequentialAddrs(), AcceptAll)
	go func() { _ = pool.Run(ctx) }()

	h := pool.Acquire(ctx)
	assert.False(t, h.IsDirect())
}

func TestPool_AcquireTimesOutToDirect(t *testing.T) {
	pool := newTestPool(Config{Size: 1, AcquireWait: 20 * time.Millisecond}, sequentialAddrs(), AcceptAll)

	start := time.Now()
	h := pool.Acquire(context.Background())
	assert.True(t, h.IsDirect())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPool_RunNudgedAfterEviction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := sequentialAddrs()
	pool := newTestPool(Config{Size: 1, MaxFailures: 0, AcquireWait: 5 * time.Second, ReplenishInterval: time.Hour},
		provider, AcceptAll)
	go func() { _ = pool.Run(ctx) }()

	first := pool.Acquire(ctx)
	require.False(t, first.IsDirect())
	pool.Release(first, ProxyFailure)

	second := pool.Acquire(ctx)
	require.False(t, second.IsDirect())
	assert.NotEqual(t, first.Addr(), second.Addr())
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	pool := newTestPool(Config{Size: 5, MaxFailures: 3}, sequentialAddrs(), AcceptAll)
	require.NoError(t, pool.Replenish(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := pool.Acquire(context.Background())
			outcome := Success
			if i%7 == 0 {
				outcome = ProxyFailure
			}
			pool.Release(h, outcome)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, pool.Stats().Size, 5)
}

func TestHandle(t *testing.T) {
	assert.True(t, Direct.IsDirect())
	assert.Equal(t, "direct", Direct.Addr())
	assert.Nil(t, Direct.URL())

	var nilHandle *Handle
	assert.True(t, nilHandle.IsDirect())

	h := &Handle{addr: "http://u:p@1.2.3.4:8080"}
	require.NotNil(t, h.URL())
	assert.Equal(t, "1.2.3.4:8080", h.URL().Host)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "proxy_failure", ProxyFailure.String())
	assert.Equal(t, "unrelated_failure", UnrelatedFailure.String())
}
