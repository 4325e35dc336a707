// Package openalex looks up abstracts in the OpenAlex works API.
//
// OpenAlex serves abstracts as an inverted index (word → positions), which
// is rebuilt into plain text here.
//
// API Documentation: https://docs.openalex.org/
package openalex

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/sources"
)

// DefaultBaseURL is the default OpenAlex API base URL.
const DefaultBaseURL = "https://api.openalex.org"

// Config holds configuration for the OpenAlex adapter.
type Config struct {
	// BaseURL defaults to https://api.openalex.org.
	BaseURL string

	// Email is sent as mailto for the polite pool.
	Email string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Work is the subset of an OpenAlex work the adapter reads.
type Work struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// Adapter implements sources.Adapter for OpenAlex.
type Adapter struct {
	config  Config
	fetcher sources.Fetcher
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates an OpenAlex adapter.
func New(cfg Config, fetcher sources.Fetcher) *Adapter {
	cfg.applyDefaults()
	return &Adapter{config: cfg, fetcher: fetcher}
}

// ID returns the source identifier.
func (a *Adapter) ID() domain.SourceID { return domain.SourceOpenAlex }

// Medium returns MediumAPI.
func (a *Adapter) Medium() domain.Medium { return domain.MediumAPI }

// RequiresRender returns false.
func (a *Adapter) RequiresRender() bool { return false }

// Applicable reports whether the paper has a DOI.
func (a *Adapter) Applicable(p *domain.Paper) bool { return p.HasDOI() }

// Fetch looks the work up by DOI.
func (a *Adapter) Fetch(ctx context.Context, p *domain.Paper) sources.Result {
	var work Work
	if err := sources.GetJSON(ctx, a.fetcher, a.workURL(p.DOI), nil, &work); err != nil {
		return sources.FromError(err)
	}
	return sources.Found(sources.CleanAbstract(ReconstructAbstract(work.AbstractInvertedIndex)))
}

// workURL builds /works/doi:{doi}. OpenAlex expects the DOI unescaped in the path.
func (a *Adapter) workURL(doi string) string {
	u := a.config.BaseURL + "/works/doi:" + domain.NormalizeDOI(doi)
	if a.config.Email != "" {
		u += "?" + url.Values{"mailto": {a.config.Email}}.Encode()
	}
	return u
}

// ReconstructAbstract rebuilds abstract text from an inverted index.
func ReconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	n := 0
	for _, positions := range index {
		n += len(positions)
	}
	words := make([]posWord, 0, n)
	for word, positions := range index {
		for _, pos := range positions {
			words = append(words, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].pos != words[j].pos {
			return words[i].pos < words[j].pos
		}
		return words[i].word < words[j].word
	})

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}
