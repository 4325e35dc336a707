package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/venues"
)

// DBLP defaults.
const (
	DefaultDBLPBaseURL = "https://dblp.org/search/publ/api"
	MaxPageSize        = 1000
	DefaultPageDelay   = 500 * time.Millisecond
	DefaultConcurrency = 2
)

// JSONGetter is the HTTP surface DBLP needs. *httpx.Client implements it.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

var _ JSONGetter = (*httpx.Client)(nil)

// DBLPConfig configures the DBLP metadata source.
type DBLPConfig struct {
	BaseURL     string
	PageSize    int
	PageDelay   time.Duration
	Concurrency int
	Years       YearRange

	// Venues restricts FetchPapers to these keys when non-empty.
	Venues []string
}

func (c *DBLPConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultDBLPBaseURL
	}
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.PageDelay < 0 {
		c.PageDelay = DefaultPageDelay
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
}

// DBLP fetches paper metadata from the DBLP publication search API.
type DBLP struct {
	client  JSONGetter
	catalog Catalog
	cfg     DBLPConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	skip    func(venue string, year int) bool
	sleep   func(ctx context.Context, d time.Duration) error
}

// DBLPOption configures optional DBLP behaviour.
type DBLPOption func(*DBLP)

// WithSkip skips venue editions for which skip returns true, e.g. editions
// whose output file already exists.
func WithSkip(skip func(venue string, year int) bool) DBLPOption {
	return func(d *DBLP) { d.skip = skip }
}

// WithDBLPMetrics records discovered paper counts.
func WithDBLPMetrics(m *observability.Metrics) DBLPOption {
	return func(d *DBLP) { d.metrics = m }
}

// WithPageSleep replaces the inter-page sleep, for tests.
func WithPageSleep(sleep func(ctx context.Context, d time.Duration) error) DBLPOption {
	return func(d *DBLP) { d.sleep = sleep }
}

// NewDBLP creates a DBLP source.
func NewDBLP(client JSONGetter, catalog Catalog, cfg DBLPConfig, logger zerolog.Logger, opts ...DBLPOption) *DBLP {
	cfg.applyDefaults()
	d := &DBLP{
		client:  client,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With().Str("component", "dblp").Logger(),
		sleep:   httpx.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FetchPapers fetches every venue edition of the tier across the configured
// years. Editions are fetched concurrently; the result is ordered by catalog
// venue, then year. A failing edition is logged and skipped. The only error
// returned is a context error, or an unknown tier.
func (d *DBLP) FetchPapers(ctx context.Context, tier, classification string) ([]*domain.Paper, error) {
	keys, err := selectVenues(d.catalog, tier, classification, d.cfg.Venues)
	if err != nil {
		return nil, err
	}

	type job struct {
		venue string
		year  int
	}
	var jobs []job
	for _, venue := range keys {
		for _, year := range d.cfg.Years.List() {
			if d.skip != nil && d.skip(venue, year) {
				d.logger.Info().Str("venue", venue).Int("year", year).Msg("edition already harvested, skipping")
				continue
			}
			jobs = append(jobs, job{venue: venue, year: year})
		}
	}

	results := make([][]*domain.Paper, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			papers, err := d.FetchVenueYear(gctx, j.venue, j.year)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				d.logger.Warn().Err(err).Str("venue", j.venue).Int("year", j.year).Msg("failed to fetch edition")
				return nil
			}
			results[i] = papers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*domain.Paper
	for _, r := range results {
		out = append(out, r...)
	}
	d.metrics.RecordPapersDiscovered(len(out))
	return out, nil
}

// FetchVenueYear pages through DBLP for one venue edition and keeps the hits
// whose venue matches the catalog's filter names. Papers are tagged with the
// requested venue key and year.
func (d *DBLP) FetchVenueYear(ctx context.Context, venue string, year int) ([]*domain.Paper, error) {
	name := d.catalog.QueryName(venue, year)
	query := fmt.Sprintf("venue:%s year:%d", name, year)

	var hits []dblpHit
	offset := 0
	for {
		page, err := d.fetchPage(ctx, query, offset)
		if err != nil {
			return nil, fmt.Errorf("dblp %s %d offset %d: %w", venue, year, offset, err)
		}
		if len(page.Hit) == 0 {
			break
		}
		hits = append(hits, page.Hit...)

		if len(hits) >= int(page.Total) || len(page.Hit) < d.cfg.PageSize {
			break
		}
		offset += d.cfg.PageSize
		if err := d.sleep(ctx, d.cfg.PageDelay); err != nil {
			return nil, err
		}
	}

	targets := make(map[string]bool)
	for _, n := range d.catalog.FilterNames(venue, year) {
		targets[n] = true
	}

	papers := make([]*domain.Paper, 0, len(hits))
	for _, h := range hits {
		if !matchesVenue(h.Info.Venue, targets) {
			continue
		}
		papers = append(papers, h.toPaper(venue, year))
	}

	d.logger.Info().
		Str("venue", venue).
		Str("query_name", name).
		Int("year", year).
		Int("hits", len(hits)).
		Int("kept", len(papers)).
		Msg("fetched edition metadata")
	return papers, nil
}

func (d *DBLP) fetchPage(ctx context.Context, query string, offset int) (*dblpHits, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("h", strconv.Itoa(d.cfg.PageSize))
	params.Set("f", strconv.Itoa(offset))
	params.Set("c", "0")

	var resp dblpResponse
	if err := d.client.GetJSON(ctx, d.cfg.BaseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp.Result.Hits, nil
}

func matchesVenue(v stringList, targets map[string]bool) bool {
	for _, s := range v {
		if targets[venues.Normalize(s)] {
			return true
		}
	}
	return false
}

type dblpResponse struct {
	Result struct {
		Hits dblpHits `json:"hits"`
	} `json:"result"`
}

type dblpHits struct {
	Total flexInt   `json:"@total"`
	Hit   []dblpHit `json:"hit"`
}

type dblpHit struct {
	ID   string   `json:"@id"`
	Info dblpInfo `json:"info"`
}

type dblpInfo struct {
	Authors struct {
		Author authorList `json:"author"`
	} `json:"authors"`
	Title string     `json:"title"`
	Venue stringList `json:"venue"`
	Type  string     `json:"type"`
	Key   string     `json:"key"`
	DOI   string     `json:"doi"`
	EE    stringList `json:"ee"`
	URL   string     `json:"url"`
}

func (h dblpHit) toPaper(venue string, year int) *domain.Paper {
	key := h.Info.Key
	if key == "" {
		key = h.ID
	}
	dblpURL := h.Info.URL
	if dblpURL == "" && key != "" {
		dblpURL = "https://dblp.org/rec/" + key
	}
	return &domain.Paper{
		Key:     key,
		DOI:     domain.NormalizeDOI(h.Info.DOI),
		Title:   strings.TrimSpace(h.Info.Title),
		Authors: []domain.Author(h.Info.Authors.Author),
		Venue:   venue,
		Year:    year,
		Type:    h.Info.Type,
		URLs:    []string(h.Info.EE),
		DBLPURL: dblpURL,
		Status:  domain.StatusPending,
	}
}

// stringList decodes a JSON string or array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = stringList{one}
	return nil
}

// authorList decodes DBLP's author field, which is an object for a single
// author and an array otherwise.
type authorList []domain.Author

type dblpAuthor struct {
	PID  string `json:"@pid"`
	Text string `json:"text"`
}

func (a *authorList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	var raw []dblpAuthor
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		var one dblpAuthor
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		raw = []dblpAuthor{one}
	}
	out := make(authorList, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.Author{Name: r.Text, PID: r.PID})
	}
	*a = out
	return nil
}

// flexInt decodes a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}
