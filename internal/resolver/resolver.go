// Package resolver drives the per-paper fallback chain across abstract
// sources.
//
// For each paper the resolver computes an ordered candidate list from the
// source registry (and an optional per-venue rule), then walks it as an
// explicit state machine:
//
//	Pending -> TryingSource(i, attempt) -> Succeeded | Exhausted
//
// A Found result ends the walk. NotFound advances to the next candidate
// immediately. Transient results are retried on the same source with
// jittered exponential backoff until the per-source attempt cap is reached.
// Exhausting every candidate is a normal outcome: the paper is marked
// unavailable and no error is returned.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/netclient"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/sources"
)

// Default configuration values.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffInitial    = 500 * time.Millisecond
	DefaultBackoffMax        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.5
)

// Config holds resolver settings.
type Config struct {
	// MaxAttempts is the per-source attempt cap for transient failures.
	MaxAttempts int

	// SourceAttempts overrides MaxAttempts for individual sources.
	SourceAttempts map[domain.SourceID]int

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64

	// BackoffJitter is the randomization factor applied to each delay.
	BackoffJitter float64

	// CacheSize bounds the DOI memo. Zero disables memoization.
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = DefaultBackoffMax
		if c.BackoffMax < c.BackoffInitial {
			c.BackoffMax = c.BackoffInitial
		}
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		c.BackoffJitter = DefaultBackoffJitter
	}
}

// attemptsFor returns the attempt cap for a source.
func (c *Config) attemptsFor(id domain.SourceID) int {
	if n, ok := c.SourceAttempts[id]; ok && n > 0 {
		return n
	}
	return c.MaxAttempts
}

// RuleSource supplies per-venue candidate overrides.
type RuleSource interface {
	SourceRule(venue string) (domain.SourceRule, bool)
}

// Outcome describes how a resolution ended.
type Outcome struct {
	Status   domain.PaperStatus
	Source   domain.SourceID
	Abstract string

	// Attempts is the number of adapter fetches performed.
	Attempts int

	// Cached is true when the result came from the DOI memo.
	Cached bool
}

type memoEntry struct {
	text   string
	source domain.SourceID
}

// Resolver is safe for concurrent use; each Resolve call owns its paper.
type Resolver struct {
	registry *sources.Registry
	rules    RuleSource
	cfg      Config
	memo     *lru.Cache[string, memoEntry]
	logger   zerolog.Logger
	metrics  *observability.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures optional Resolver dependencies.
type Option func(*Resolver)

// WithRules sets the per-venue override source.
func WithRules(rules RuleSource) Option {
	return func(r *Resolver) { r.rules = rules }
}

// WithMetrics records attempts and terminal outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) { r.sleep = sleep }
}

// New creates a resolver over a sealed registry.
func New(registry *sources.Registry, cfg Config, logger zerolog.Logger, opts ...Option) (*Resolver, error) {
	if registry == nil {
		return nil, fmt.Errorf("resolver: registry is required")
	}
	if !registry.Sealed() {
		return nil, fmt.Errorf("resolver: registry must be sealed before use")
	}
	cfg.applyDefaults()

	r := &Resolver{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "resolver").Logger(),
		sleep:    httpx.Sleep,
	}
	if cfg.CacheSize > 0 {
		memo, err := lru.New[string, memoEntry](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("resolver: create memo: %w", err)
		}
		r.memo = memo
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Candidates returns the adapters to try for p, in order.
//
// A venue rule with an explicit order replaces the default order. Without
// one, the order is: applicable API sources, then applicable site sources
// that fetch plain pages, then render-required site sources, each group in
// registration order. Sources the rule skips are always removed.
func (r *Resolver) Candidates(p *domain.Paper) []sources.Adapter {
	var (
		rule    domain.SourceRule
		hasRule bool
	)
	if r.rules != nil {
		rule, hasRule = r.rules.SourceRule(p.Venue)
	}

	usable := func(a sources.Adapter) bool {
		return !rule.Skips(a.ID()) && a.Applicable(p)
	}

	if hasRule && len(rule.Order) > 0 {
		out := make([]sources.Adapter, 0, len(rule.Order))
		seen := make(map[domain.SourceID]bool, len(rule.Order))
		for _, id := range rule.Order {
			if seen[id] {
				continue
			}
			seen[id] = true
			if a, ok := r.registry.Get(id); ok && usable(a) {
				out = append(out, a)
			}
		}
		return out
	}

	all := r.registry.All()
	out := make([]sources.Adapter, 0, len(all))
	groups := []func(sources.Adapter) bool{
		func(a sources.Adapter) bool { return a.Medium() == domain.MediumAPI },
		func(a sources.Adapter) bool { return a.Medium() == domain.MediumSiteScrape && !a.RequiresRender() },
		func(a sources.Adapter) bool { return a.Medium() == domain.MediumSiteScrape && a.RequiresRender() },
	}
	for _, inGroup := range groups {
		for _, a := range all {
			if inGroup(a) && usable(a) {
				out = append(out, a)
			}
		}
	}
	return out
}

// Resolve runs the fallback chain for p and writes the result back to it.
//
// The paper is only mutated once a terminal state is reached and ctx is
// still live; on cancellation the context error is returned and p is left
// untouched. Exhaustion is not an error.
func (r *Resolver) Resolve(ctx context.Context, p *domain.Paper) (Outcome, error) {
	if p == nil {
		return Outcome{}, domain.NewValidationError("paper", "paper cannot be nil")
	}
	if p.EffectiveStatus().IsTerminal() {
		return Outcome{}, fmt.Errorf("resolve %s: %w", p.ID(), domain.ErrAlreadyResolved)
	}

	start := time.Now()
	logger := observability.WithPaperContext(observability.LoggerFromContext(ctx, r.logger), p.ID(), p.Title)

	if entry, ok := r.lookup(p); ok {
		if err := p.Resolve(entry.text, entry.source); err != nil {
			return Outcome{}, err
		}
		r.metrics.RecordPaperResolved(string(entry.source), time.Since(start).Seconds())
		logger.Debug().Str("source", string(entry.source)).Msg("abstract served from memo")
		return Outcome{Status: domain.StatusResolved, Source: entry.source, Abstract: entry.text, Cached: true}, nil
	}

	t := r.newTask(p)
	for !t.state.terminal() {
		if err := r.step(ctx, t, logger); err != nil {
			return Outcome{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Attempts: t.fetches}
	switch t.state {
	case stateSucceeded:
		if err := p.Resolve(t.text, t.source); err != nil {
			return Outcome{}, err
		}
		r.remember(p, t.text, t.source)
		r.metrics.RecordPaperResolved(string(t.source), time.Since(start).Seconds())
		out.Status, out.Source, out.Abstract = domain.StatusResolved, t.source, t.text
		logger.Debug().
			Str("source", string(t.source)).
			Int("attempts", t.fetches).
			Msg("abstract resolved")

	case stateExhausted:
		if err := p.MarkUnavailable(); err != nil {
			return Outcome{}, err
		}
		r.metrics.RecordPaperUnavailable(time.Since(start).Seconds())
		out.Status = domain.StatusUnavailable
		logger.Debug().
			Int("candidates", len(t.candidates)).
			Int("attempts", t.fetches).
			Msg("no source produced an abstract")
	}
	return out, nil
}

// step advances t by one transition. It returns an error only when ctx is
// done.
func (r *Resolver) step(ctx context.Context, t *task, logger zerolog.Logger) error {
	switch t.state {
	case statePending:
		if len(t.candidates) == 0 {
			t.state = stateExhausted
			return nil
		}
		t.state = stateTryingSource
		t.index, t.attempt = 0, 0
		t.backoff = r.newBackOff()
		return nil

	case stateTryingSource:
		if err := ctx.Err(); err != nil {
			return err
		}
		adapter := t.candidates[t.index]
		t.attempt++
		t.fetches++

		sctx := observability.WithSource(ctx, string(adapter.ID()))
		began := time.Now()
		res := adapter.Fetch(sctx, t.paper)
		r.metrics.RecordSourceAttempt(string(adapter.ID()), res.Kind.String(), time.Since(began).Seconds())

		if err := ctx.Err(); err != nil {
			return err
		}

		switch res.Kind {
		case sources.KindFound:
			t.text = res.Text
			t.source = adapter.ID()
			t.state = stateSucceeded

		case sources.KindNotFound:
			t.advance()

		case sources.KindTransient:
			limit := r.cfg.attemptsFor(adapter.ID())
			srcLog := observability.WithSourceContext(logger, string(adapter.ID()), t.attempt)
			if t.attempt >= limit {
				srcLog.Debug().Err(res.Err).Int("max_attempts", limit).Msg("source retries exhausted")
				t.advance()
				return nil
			}
			delay := t.backoff.NextBackOff()
			if hint := netclient.RetryAfter(res.Err); hint > delay {
				delay = hint
			}
			srcLog.Debug().Err(res.Err).Dur("delay", delay).Msg("transient source failure, retrying")
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

func (r *Resolver) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BackoffInitial
	bo.MaxInterval = r.cfg.BackoffMax
	bo.Multiplier = r.cfg.BackoffMultiplier
	bo.RandomizationFactor = r.cfg.BackoffJitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func memoKey(p *domain.Paper) string {
	return strings.ToLower(domain.NormalizeDOI(p.DOI))
}

func (r *Resolver) lookup(p *domain.Paper) (memoEntry, bool) {
	if r.memo == nil || !p.HasDOI() {
		return memoEntry{}, false
	}
	return r.memo.Get(memoKey(p))
}

func (r *Resolver) remember(p *domain.Paper, text string, source domain.SourceID) {
	if r.memo == nil || !p.HasDOI() {
		return
	}
	r.memo.Add(memoKey(p), memoEntry{text: text, source: source})
}
