// Package proxypool maintains a bounded set of validated, expiring outbound
// proxies with health tracking, background replenishment and a degraded
// (direct connection) fallback.
package proxypool

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-harvester/internal/observability"
)

// Default configuration values.
const (
	DefaultSize              = 10
	DefaultMaxFailures       = 2
	DefaultTTL               = 170 * time.Second
	DefaultReplenishInterval = 15 * time.Second
	DefaultDegradeAfter      = 3
	DefaultAcquireWait       = 2 * time.Second
	DefaultProbeConcurrency  = 8
)

// Outcome reports how a call through a proxy went.
type Outcome int

const (
	// Success means the proxy carried the request, whatever the target answered.
	Success Outcome = iota
	// ProxyFailure means the proxy itself failed (refused, auth, ban page).
	ProxyFailure
	// UnrelatedFailure means the call failed for reasons unrelated to the proxy.
	UnrelatedFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ProxyFailure:
		return "proxy_failure"
	case UnrelatedFailure:
		return "unrelated_failure"
	default:
		return "unknown"
	}
}

var errNoValidAddresses = errors.New("no valid proxy addresses")

// Handle is a proxy lent to one call. Release it exactly once.
type Handle struct {
	addr     string
	entry    *entry
	direct   bool
	released atomic.Bool
}

// Direct is the sentinel handle meaning "connect without a proxy".
var Direct = &Handle{direct: true}

// IsDirect reports whether the handle is the Direct sentinel.
func (h *Handle) IsDirect() bool {
	return h == nil || h.direct
}

// Addr returns the proxy address, or "direct".
func (h *Handle) Addr() string {
	if h.IsDirect() {
		return "direct"
	}
	return h.addr
}

// URL returns the parsed proxy URL, or nil for Direct.
func (h *Handle) URL() *url.URL {
	if h.IsDirect() {
		return nil
	}
	u, err := url.Parse(h.addr)
	if err != nil {
		return nil
	}
	return u
}

type entry struct {
	addr       string
	failures   int
	seq        uint64 // admission order
	lastUse    uint64 // value of Pool.uses when last lent; 0 if never
	admittedAt time.Time
}

// Config holds pool settings.
type Config struct {
	Size              int
	MaxFailures       int
	TTL               time.Duration
	ReplenishInterval time.Duration
	DegradeAfter      int
	AcquireWait       time.Duration
	Overfetch         int
	ProbeConcurrency  int
}

func (c *Config) applyDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.MaxFailures < 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ReplenishInterval <= 0 {
		c.ReplenishInterval = DefaultReplenishInterval
	}
	if c.DegradeAfter <= 0 {
		c.DegradeAfter = DefaultDegradeAfter
	}
	if c.AcquireWait < 0 {
		c.AcquireWait = DefaultAcquireWait
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size         int    `json:"size"`
	Target       int    `json:"target"`
	Degraded     bool   `json:"degraded"`
	FailedRounds int    `json:"failed_rounds"`
	Admitted     uint64 `json:"admitted_total"`
	Evicted      uint64 `json:"evicted_total"`
}

// Pool is safe for concurrent use. A single mutex serializes membership and
// health changes; Acquire never blocks longer than AcquireWait.
type Pool struct {
	cfg      Config
	provider Provider
	prober   Prober
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu           sync.Mutex
	entries      map[string]*entry
	degraded     bool
	failedRounds int
	admitted     uint64
	evicted      uint64
	uses         uint64
	// changed is closed and replaced whenever entries are admitted or the
	// degraded flag flips, waking blocked Acquire calls.
	changed chan struct{}

	roundMu sync.Mutex
	nudge   chan struct{}
}

// Option configures optional Pool dependencies.
type Option func(*Pool)

// WithMetrics records pool gauges and counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty pool. Call Run to start background replenishment or
// Replenish to fill it synchronously.
func New(cfg Config, provider Provider, prober Prober, logger zerolog.Logger, opts ...Option) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		cfg:      cfg,
		provider: provider,
		prober:   prober,
		logger:   logger.With().Str("component", "proxypool").Logger(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		changed:  make(chan struct{}),
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the least recently used healthy proxy. When none is left it
// returns Direct at once if the pool is degraded, otherwise after AcquireWait.
func (p *Pool) Acquire(ctx context.Context) *Handle {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		p.mu.Lock()
		if h := p.pickLocked(); h != nil {
			p.mu.Unlock()
			return h
		}
		if p.degraded {
			p.mu.Unlock()
			return Direct
		}
		wait := p.changed
		p.mu.Unlock()

		p.Nudge()
		if timer == nil {
			if p.cfg.AcquireWait == 0 {
				return Direct
			}
			timer = time.NewTimer(p.cfg.AcquireWait)
		}

		select {
		case <-ctx.Done():
			return Direct
		case <-timer.C:
			return Direct
		case <-wait:
		}
	}
}

// pickLocked drops expired entries and returns a handle to the least
// recently used survivor.
func (p *Pool) pickLocked() *Handle {
	now := p.now()
	p.pruneExpiredLocked(now)

	var best *entry
	for _, e := range p.entries {
		if best == nil || e.lastUse < best.lastUse ||
			(e.lastUse == best.lastUse && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	p.uses++
	best.lastUse = p.uses
	return &Handle{addr: best.addr, entry: best}
}

func (p *Pool) pruneExpiredLocked(now time.Time) {
	removed := false
	for addr, e := range p.entries {
		if now.Sub(e.admittedAt) >= p.cfg.TTL {
			delete(p.entries, addr)
			p.evicted++
			p.metrics.RecordProxyEviction("expired")
			removed = true
		}
	}
	if removed {
		p.recordGaugesLocked()
		p.nudgeLocked()
	}
}

// Release reports the outcome of a call made with h. Releasing Direct, nil or
// an already released handle does nothing.
func (p *Pool) Release(h *Handle, outcome Outcome) {
	if h.IsDirect() || !h.released.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[h.addr]
	if !ok || e != h.entry {
		// Evicted (or re-admitted) since it was lent out.
		return
	}

	switch outcome {
	case Success:
		e.failures = 0
	case ProxyFailure:
		e.failures++
		if e.failures > p.cfg.MaxFailures {
			delete(p.entries, h.addr)
			p.evicted++
			p.metrics.RecordProxyEviction("failures")
			p.recordGaugesLocked()
			proxyLog := observability.WithProxyContext(p.logger, h.addr)
			proxyLog.Debug().
				Int("failures", e.failures).
				Msg("proxy evicted")
			p.nudgeLocked()
		}
	case UnrelatedFailure:
	}
}

// Nudge asks the replenisher for an early round. It never blocks.
func (p *Pool) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

func (p *Pool) nudgeLocked() {
	if len(p.entries) < p.cfg.Size {
		p.Nudge()
	}
}

// Run replenishes the pool on every tick and nudge until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ReplenishInterval)
	defer ticker.Stop()

	p.logger.Info().
		Int("target", p.cfg.Size).
		Dur("ttl", p.cfg.TTL).
		Msg("proxy pool started")

	_ = p.Replenish(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("proxy pool stopped")
			return nil
		case <-ticker.C:
		case <-p.nudge:
		}
		_ = p.Replenish(ctx)
	}
}

// Replenish runs one round: fetch candidates for the missing slots, probe
// them and admit the valid ones. Rounds never run concurrently.
func (p *Pool) Replenish(ctx context.Context) error {
	p.roundMu.Lock()
	defer p.roundMu.Unlock()

	p.mu.Lock()
	p.pruneExpiredLocked(p.now())
	need := p.cfg.Size - len(p.entries)
	p.mu.Unlock()

	if need <= 0 {
		return nil
	}

	addrs, err := p.provider.ListAddresses(ctx, need+p.cfg.Overfetch)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.roundFailed(err)
		return err
	}

	valid := p.probeAll(ctx, addrs)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(valid) == 0 {
		p.roundFailed(errNoValidAddresses)
		return errNoValidAddresses
	}

	p.admit(valid)
	p.roundSucceeded()
	return nil
}

// probeAll validates candidates concurrently and returns the valid ones in
// provider order.
func (p *Pool) probeAll(ctx context.Context, addrs []string) []string {
	ok := make([]bool, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ProbeConcurrency)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			if err := p.prober.Probe(gctx, addr); err != nil {
				proxyLog := observability.WithProxyContext(p.logger, addr)
				proxyLog.Debug().Err(err).Msg("proxy probe failed")
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]string, 0, len(addrs))
	for i, addr := range addrs {
		if ok[i] {
			valid = append(valid, addr)
		}
	}
	return valid
}

func (p *Pool) admit(addrs []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, addr := range addrs {
		if len(p.entries) >= p.cfg.Size {
			break
		}
		if _, dup := p.entries[addr]; dup {
			continue
		}
		p.admitted++
		p.entries[addr] = &entry{addr: addr, seq: p.admitted, admittedAt: now}
		n++
	}
	if n > 0 {
		p.broadcastLocked()
		p.recordGaugesLocked()
	}
	return n
}

func (p *Pool) roundFailed(err error) {
	p.metrics.RecordReplenishRound("failed")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failedRounds++
	p.logger.Warn().Err(err).
		Int("failed_rounds", p.failedRounds).
		Int("size", len(p.entries)).
		Msg("proxy replenishment failed")

	if !p.degraded && p.failedRounds >= p.cfg.DegradeAfter {
		p.degraded = true
		p.broadcastLocked()
		p.recordGaugesLocked()
		p.logger.Warn().
			Int("failed_rounds", p.failedRounds).
			Msg("proxy pool degraded, using direct connections")
	}
}

func (p *Pool) roundSucceeded() {
	p.metrics.RecordReplenishRound("ok")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failedRounds = 0
	if p.degraded {
		p.degraded = false
		p.broadcastLocked()
		p.recordGaugesLocked()
		p.logger.Info().Int("size", len(p.entries)).Msg("proxy pool recovered")
	}
}

func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pool) recordGaugesLocked() {
	p.metrics.RecordProxyPool(len(p.entries), p.degraded)
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Size:         len(p.entries),
		Target:       p.cfg.Size,
		Degraded:     p.degraded,
		FailedRounds: p.failedRounds,
		Admitted:     p.admitted,
		Evicted:      p.evicted,
	}
}
