// Package harvest drives one harvest run: it pulls the paper list for a tier,
// schedules abstract resolution for each venue edition and hands the results
// to the store.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/metadata"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/resolver"
	"github.com/helixir/paper-harvester/internal/scheduler"
	"github.com/helixir/paper-harvester/internal/store"
)

// Skip reasons recorded in metrics.
const (
	SkipEditorship   = "editorship"
	SkipHasAbstract  = "has_abstract"
	SkipTerminal     = "terminal"
	SkipNoIdentifier = "no_doi_and_url"
)

// Submitter admits a paper for resolution.
type Submitter interface {
	Submit(p *domain.Paper) *scheduler.Future
}

// Resolver resolves one paper in place.
type Resolver interface {
	Resolve(ctx context.Context, p *domain.Paper) (resolver.Outcome, error)
}

// ResolveTask adapts a Resolver to a scheduler task.
func ResolveTask(r Resolver) scheduler.TaskFunc {
	return func(ctx context.Context, p *domain.Paper) error {
		_, err := r.Resolve(ctx, p)
		return err
	}
}

// Pipeline runs harvests. A Pipeline may run several times but not
// concurrently.
type Pipeline struct {
	source    metadata.Source
	submitter Submitter
	writer    store.Writer
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	summary *Summary
}

// Option configures optional Pipeline dependencies.
type Option func(*Pipeline)

// WithMetrics records run and skip metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline. If writer also implements store.Flusher it is
// flushed after every venue edition.
func New(source metadata.Source, submitter Submitter, writer store.Writer, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		submitter: submitter,
		writer:    writer,
		logger:    logger.With().Str("component", "harvest").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Summary returns a copy of the current or last run summary, or nil before
// the first run.
func (p *Pipeline) Summary() *Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.summary == nil {
		return nil
	}
	return p.summary.clone()
}

// Run harvests every venue edition of tier and classification.
//
// Editions are processed one at a time in the order the metadata source
// returns them. When ctx is cancelled the current edition is abandoned
// without being written and the context error is returned together with the
// summary of the finished editions.
func (p *Pipeline) Run(ctx context.Context, tier, classification string) (*Summary, error) {
	start := time.Now()
	runID := observability.RunIDFromContext(ctx)
	logger := observability.WithRunContext(p.logger, runID, tier, classification)

	p.metrics.RecordRunStarted()
	p.setSummary(&Summary{
		RunID:          runID,
		Tier:           tier,
		Classification: classification,
		StartedAt:      start.UTC(),
	})

	err := p.run(ctx, tier, classification, logger)

	p.update(func(s *Summary) {
		s.FinishedAt = time.Now().UTC()
		s.Cancelled = ctx.Err() != nil
		if err != nil {
			s.Error = err.Error()
		}
	})
	p.metrics.RecordRunFinished(time.Since(start).Seconds(), err)

	summary := p.Summary()
	summary.Log(logger)
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, tier, classification string, logger zerolog.Logger) error {
	logger.Info().Msg("fetching paper metadata")
	papers, err := p.source.FetchPapers(ctx, tier, classification)
	if err != nil {
		return fmt.Errorf("fetch papers: %w", err)
	}

	groups := groupByEdition(papers)
	logger.Info().
		Int("papers", len(papers)).
		Int("editions", len(groups)).
		Msg("paper metadata fetched")

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		edLogger := observability.WithVenueContext(logger, g.vy.Venue, g.vy.Year)
		edCtx := observability.WithVenueYear(ctx, g.vy.Venue, g.vy.Year)

		edStart := time.Now()
		stats, err := p.runEdition(edCtx, g, edLogger)
		if err != nil {
			return err
		}
		p.update(func(s *Summary) { s.add(g.vy, stats, time.Since(edStart)) })

		edLogger.Info().
			Int("edition", i+1).
			Int("of", len(groups)).
			Int("total", stats.TotalPapers).
			Int("fetched", stats.Fetched).
			Int("failed", stats.Failed).
			Float64("fetch_rate", stats.FetchRate()).
			Dur("duration", time.Since(edStart)).
			Msg("edition complete")
	}
	return nil
}

type edition struct {
	vy     domain.VenueYear
	papers []*domain.Paper
}

// groupByEdition keeps the first-seen order of editions and papers.
func groupByEdition(papers []*domain.Paper) []*edition {
	var groups []*edition
	index := make(map[domain.VenueYear]*edition)
	for _, paper := range papers {
		if paper == nil {
			continue
		}
		vy := paper.VenueYear()
		g, ok := index[vy]
		if !ok {
			g = &edition{vy: vy}
			index[vy] = g
			groups = append(groups, g)
		}
		g.papers = append(g.papers, paper)
	}
	return groups
}

func (p *Pipeline) runEdition(ctx context.Context, g *edition, logger zerolog.Logger) (domain.VenueYearStats, error) {
	stats := domain.VenueYearStats{TotalPapers: len(g.papers)}

	var futures []*scheduler.Future
	for _, paper := range g.papers {
		if reason, ok := p.admit(paper, &stats); !ok {
			p.metrics.RecordPaperSkipped(reason)
			continue
		}
		futures = append(futures, p.submitter.Submit(paper))
	}
	logger.Debug().
		Int("papers", len(g.papers)).
		Int("scheduled", len(futures)).
		Msg("edition scheduled")

	for _, f := range futures {
		err := f.Wait(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		paper := f.Paper()
		switch {
		case errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
			return stats, err
		case err != nil:
			stats.Failed++
			logger.Warn().Err(err).Str("paper_id", paper.ID()).Msg("paper resolution failed")
		case paper.Status == domain.StatusResolved:
			stats.Fetched++
		default:
			stats.Failed++
		}
	}

	var writeErrs int
	for _, paper := range g.papers {
		if err := p.writer.Write(ctx, paper); err != nil {
			writeErrs++
			logger.Error().Err(err).Str("paper_id", paper.ID()).Msg("failed to write paper")
		}
	}
	if writeErrs > 0 {
		p.update(func(s *Summary) { s.WriteErrors += writeErrs })
	}

	if f, ok := p.writer.(store.Flusher); ok {
		if err := f.Flush(ctx, g.vy, stats); err != nil {
			p.update(func(s *Summary) { s.WriteErrors++ })
			logger.Error().Err(err).Msg("failed to flush edition")
		}
	}
	return stats, nil
}

// admit updates stats for paper and reports whether it needs resolving.
// Papers that are not admitted are still written.
func (p *Pipeline) admit(paper *domain.Paper, stats *domain.VenueYearStats) (string, bool) {
	if paper.IsEditorship() {
		stats.Skipped++
		return SkipEditorship, false
	}
	if paper.HasAbstract() {
		stats.WithAbstract++
		return SkipHasAbstract, false
	}
	if paper.EffectiveStatus().IsTerminal() {
		stats.Skipped++
		return SkipTerminal, false
	}

	hasURL := paper.PrimaryURL() != ""
	if !paper.HasDOI() {
		stats.WithoutDOI++
		if !hasURL {
			stats.WithoutDOIAndURL++
			_ = paper.MarkUnavailable()
			return SkipNoIdentifier, false
		}
	}
	return "", true
}

func (p *Pipeline) setSummary(s *Summary) {
	p.mu.Lock()
	p.summary = s
	p.mu.Unlock()
}

func (p *Pipeline) update(fn func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.summary != nil {
		fn(p.summary)
	}
}
