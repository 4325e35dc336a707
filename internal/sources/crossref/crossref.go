// Package crossref looks up abstracts in the Crossref REST API.
//
// Crossref abstracts are JATS XML fragments; they are reduced to plain text.
package crossref

import (
	"context"
	"net/url"
	"strings"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/sources"
)

// DefaultBaseURL is the default Crossref API base URL.
const DefaultBaseURL = "https://api.crossref.org"

// Config holds configuration for the Crossref adapter.
type Config struct {
	BaseURL string
	Email   string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// WorkResponse is the envelope of GET /works/{doi}.
type WorkResponse struct {
	Status  string  `json:"status"`
	Message Message `json:"message"`
}

// Message is the subset of a Crossref work the adapter reads.
type Message struct {
	DOI      string `json:"DOI"`
	Abstract string `json:"abstract"`
}

// Adapter implements sources.Adapter for Crossref.
type Adapter struct {
	config  Config
	fetcher sources.Fetcher
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a Crossref adapter.
func New(cfg Config, fetcher sources.Fetcher) *Adapter {
	cfg.applyDefaults()
	return &Adapter{config: cfg, fetcher: fetcher}
}

func (a *Adapter) ID() domain.SourceID { return domain.SourceCrossRef }

func (a *Adapter) Medium() domain.Medium { return domain.MediumAPI }

func (a *Adapter) RequiresRender() bool { return false }

func (a *Adapter) Applicable(p *domain.Paper) bool { return p.HasDOI() }

// Fetch looks the work up by DOI.
func (a *Adapter) Fetch(ctx context.Context, p *domain.Paper) sources.Result {
	var resp WorkResponse
	if err := sources.GetJSON(ctx, a.fetcher, a.workURL(p.DOI), nil, &resp); err != nil {
		return sources.FromError(err)
	}
	return sources.Found(sources.TrimLabel(sources.CleanAbstract(resp.Message.Abstract)))
}

func (a *Adapter) workURL(doi string) string {
	u := a.config.BaseURL + "/works/" + domain.NormalizeDOI(doi)
	if a.config.Email != "" {
		u += "?" + url.Values{"mailto": {a.config.Email}}.Encode()
	}
	return u
}
