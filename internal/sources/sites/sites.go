// Package sites scrapes abstracts from publisher and proceedings pages.
//
// Every electronic-edition URL is routed to at most one site by Route; the
// site adapter for that ID is the only one applicable to the paper. Sites
// whose pages need JavaScript are rendered through the network client's
// browser and are skipped when rendering is unavailable.
package sites

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/sources"
)

// extractFunc pulls the raw abstract text out of a parsed page.
type extractFunc func(doc *goquery.Document) string

// Site is a sources.Adapter for one publisher.
type Site struct {
	id      domain.SourceID
	render  bool
	wait    string
	extract extractFunc

	// renderFallback retries a plain fetch that yielded nothing in the browser.
	renderFallback bool

	fetcher sources.Fetcher
}

var _ sources.Adapter = (*Site)(nil)

// ID returns the source identifier.
func (s *Site) ID() domain.SourceID { return s.id }

// Medium returns MediumSiteScrape.
func (s *Site) Medium() domain.Medium { return domain.MediumSiteScrape }

// RequiresRender reports whether the page is JavaScript-rendered.
func (s *Site) RequiresRender() bool { return s.render }

// Applicable reports whether the paper's URL routes to this site.
func (s *Site) Applicable(p *domain.Paper) bool {
	if s.render && !s.fetcher.CanRender() {
		return false
	}
	return Route(p.PrimaryURL(), p.Venue) == s.id
}

// Fetch loads the page and extracts the abstract.
func (s *Site) Fetch(ctx context.Context, p *domain.Paper) sources.Result {
	pageURL := p.PrimaryURL()

	text, res, ok := s.load(ctx, pageURL, s.render)
	if !ok {
		return res
	}
	if text == "" && s.renderFallback && !s.render && s.fetcher.CanRender() {
		text, res, ok = s.load(ctx, pageURL, true)
		if !ok {
			return res
		}
	}
	return sources.Found(text)
}

// load fetches and extracts. ok is false when res carries a failure.
func (s *Site) load(ctx context.Context, pageURL string, render bool) (string, sources.Result, bool) {
	var (
		doc *goquery.Document
		err error
	)
	if render {
		resp, rerr := s.fetcher.Render(ctx, pageURL, s.wait)
		if rerr != nil {
			return "", sources.FromError(rerr), false
		}
		doc, err = resp.Document()
	} else {
		resp, gerr := s.fetcher.Get(ctx, pageURL, nil)
		if gerr != nil {
			return "", sources.FromError(gerr), false
		}
		doc, err = resp.Document()
	}
	if err != nil {
		return "", sources.Transientf("parse %s: %w", pageURL, err), false
	}
	return sources.TrimLabel(sources.CleanAbstract(s.extract(doc))), sources.Result{}, true
}

// All returns every site adapter in routing order.
func All(fetcher sources.Fetcher) []sources.Adapter {
	sites := []*Site{
		{id: domain.SourceACL, extract: extractACL, renderFallback: true},
		{id: domain.SourceACM, render: true, wait: "#abstract, .abstractSection", extract: extractACM},
		{id: domain.SourceOpenAccess, extract: extractDivAbstract},
		{id: domain.SourceIJCAI, extract: extractIJCAI},
		{id: domain.SourceUSENIX, extract: extractUSENIX},
		{id: domain.SourceNDSS, extract: extractNDSS},
		{id: domain.SourceNeurIPS, extract: extractNeurIPS},
		{id: domain.SourceArXiv, extract: extractArXiv},
		{id: domain.SourceOpenReview, extract: extractOpenReview},
		{id: domain.SourcePMLR, extract: extractDivAbstract},
		{id: domain.SourceSpringer, extract: extractSpringer},
		{id: domain.SourceIEEE, render: true, wait: "div.u-mb-1", extract: extractIEEE},
		{id: domain.SourceAAAI, render: true, wait: "body", extract: extractAAAI},
	}
	out := make([]sources.Adapter, len(sites))
	for i, s := range sites {
		s.fetcher = fetcher
		out[i] = s
	}
	return out
}

// hostRoutes maps URL substrings to sites. The first match wins.
var hostRoutes = []struct {
	markers []string
	id      domain.SourceID
}{
	{[]string{"aclanthology", "aclweb.org", "findings-acl"}, domain.SourceACL},
	{[]string{"dl.acm.org"}, domain.SourceACM},
	{[]string{"openaccess"}, domain.SourceOpenAccess},
	{[]string{"ijcai"}, domain.SourceIJCAI},
	{[]string{"usenix"}, domain.SourceUSENIX},
	{[]string{"ndss"}, domain.SourceNDSS},
	{[]string{"nips", "neurips"}, domain.SourceNeurIPS},
	{[]string{"arxiv"}, domain.SourceArXiv},
	{[]string{"openreview"}, domain.SourceOpenReview},
	{[]string{"proceedings.mlr"}, domain.SourcePMLR},
	{[]string{"springer"}, domain.SourceSpringer},
	{[]string{"ieee"}, domain.SourceIEEE},
	{[]string{"aaai"}, domain.SourceAAAI},
}

// doiVenues routes bare doi.org links by venue to the publisher that
// resolves them.
var doiVenues = map[string]domain.SourceID{
	"crypto":    domain.SourceSpringer,
	"eurocrypt": domain.SourceSpringer,
	"fm":        domain.SourceSpringer,
	"cav":       domain.SourceSpringer,
	"wine":      domain.SourceSpringer,
	"eccv":      domain.SourceSpringer,
	"mm":        domain.SourceACM,
	"icmr":      domain.SourceACM,
	"emnlp":     domain.SourceACL,
	"naacl":     domain.SourceACL,
	"acl":       domain.SourceACL,
	"icaps":     domain.SourceAAAI,
	"icassp":    domain.SourceIEEE,
	"icme":      domain.SourceIEEE,
}

// Route returns the site for a paper URL, or "" when no site serves it.
// PDF links are never scraped.
func Route(rawURL, venue string) domain.SourceID {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if u == "" || strings.Contains(u, "pdf") {
		return ""
	}
	for _, r := range hostRoutes {
		for _, m := range r.markers {
			if strings.Contains(u, m) {
				return r.id
			}
		}
	}
	if strings.Contains(u, "doi.org") {
		return doiVenues[strings.ToLower(venue)]
	}
	return ""
}
