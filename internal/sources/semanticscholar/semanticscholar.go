// Package semanticscholar looks up abstracts in the Semantic Scholar Graph API.
package semanticscholar

import (
	"context"
	"net/http"
	"strings"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/sources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	apiKeyHeader = "x-api-key"
)

// Config holds configuration for the Semantic Scholar adapter.
type Config struct {
	BaseURL string

	// APIKey is optional; unauthenticated requests share a small quota.
	APIKey string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Paper is the subset of a Graph API paper the adapter reads.
type Paper struct {
	PaperID  string  `json:"paperId"`
	Abstract *string `json:"abstract"`
}

// Adapter implements sources.Adapter for Semantic Scholar.
type Adapter struct {
	config  Config
	fetcher sources.Fetcher
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a Semantic Scholar adapter.
func New(cfg Config, fetcher sources.Fetcher) *Adapter {
	cfg.applyDefaults()
	return &Adapter{config: cfg, fetcher: fetcher}
}

func (a *Adapter) ID() domain.SourceID { return domain.SourceSemanticScholar }

func (a *Adapter) Medium() domain.Medium { return domain.MediumAPI }

func (a *Adapter) RequiresRender() bool { return false }

func (a *Adapter) Applicable(p *domain.Paper) bool { return p.HasDOI() }

// Fetch looks the paper up by DOI.
func (a *Adapter) Fetch(ctx context.Context, p *domain.Paper) sources.Result {
	headers := http.Header{}
	if a.config.APIKey != "" {
		headers.Set(apiKeyHeader, a.config.APIKey)
	}

	var paper Paper
	if err := sources.GetJSON(ctx, a.fetcher, a.paperURL(p.DOI), headers, &paper); err != nil {
		return sources.FromError(err)
	}
	if paper.Abstract == nil {
		return sources.NotFound()
	}
	return sources.Found(sources.CleanAbstract(*paper.Abstract))
}

func (a *Adapter) paperURL(doi string) string {
	return a.config.BaseURL + "/paper/DOI:" + domain.NormalizeDOI(doi) + "?fields=abstract"
}
