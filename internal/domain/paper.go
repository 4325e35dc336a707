// Package domain provides the core models shared by the harvester packages.
package domain

import (
	"fmt"
	"strings"
)

// PaperStatus is the abstract resolution state of a paper.
type PaperStatus string

const (
	// StatusPending means no resolution has run yet.
	StatusPending PaperStatus = "pending"
	// StatusResolved means an abstract was found.
	StatusResolved PaperStatus = "resolved"
	// StatusUnavailable means every candidate source was exhausted.
	StatusUnavailable PaperStatus = "unavailable"
)

// IsTerminal returns true if the status will not change again.
func (s PaperStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusUnavailable
}

// PublicationTypeEditorship is the DBLP type for proceedings front matter.
const PublicationTypeEditorship = "Editorship"

// VenueYear identifies one venue edition; the harvest groups work by it.
type VenueYear struct {
	Venue string `json:"venue"`
	Year  int    `json:"year"`
}

// String returns the "{venue}_{year}" form used in file names.
func (vy VenueYear) String() string {
	return fmt.Sprintf("%s_%d", vy.Venue, vy.Year)
}

// Author represents a paper author.
type Author struct {
	Name string `json:"name"`
	PID  string `json:"pid,omitempty"`
}

// String returns the author name.
func (a Author) String() string {
	return a.Name
}

// Paper is a single bibliographic record. It is created by the metadata step
// and written once by the resolver; a paper is owned by one task at a time.
type Paper struct {
	Key            string      `json:"key"`
	DOI            string      `json:"doi,omitempty"`
	Title          string      `json:"title"`
	Authors        []Author    `json:"authors,omitempty"`
	Venue          string      `json:"venue"`
	Year           int         `json:"year"`
	Type           string      `json:"type,omitempty"`
	URLs           []string    `json:"ee,omitempty"`
	DBLPURL        string      `json:"dblp_url,omitempty"`
	Abstract       string      `json:"abstract,omitempty"`
	ResolvedSource SourceID    `json:"abstract_source,omitempty"`
	Status         PaperStatus `json:"status"`
}

// ID returns the paper identifier: the DOI when present, the DBLP key otherwise.
func (p *Paper) ID() string {
	if doi := NormalizeDOI(p.DOI); doi != "" {
		return doi
	}
	return p.Key
}

// CanonicalID returns a prefixed identifier suitable as a storage key.
// Returns empty string if the paper has neither a DOI nor a key.
func (p *Paper) CanonicalID() string {
	if doi := NormalizeDOI(p.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}
	if key := strings.TrimSpace(p.Key); key != "" {
		return "dblp:" + key
	}
	return ""
}

// PrimaryURL returns the first electronic-edition URL, or empty string.
func (p *Paper) PrimaryURL() string {
	for _, u := range p.URLs {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}

// HasDOI reports whether the paper carries a usable DOI.
func (p *Paper) HasDOI() bool {
	return NormalizeDOI(p.DOI) != ""
}

// HasAbstract reports whether an abstract is already attached.
func (p *Paper) HasAbstract() bool {
	return strings.TrimSpace(p.Abstract) != ""
}

// IsEditorship reports whether the record is proceedings front matter.
func (p *Paper) IsEditorship() bool {
	return p.Type == PublicationTypeEditorship
}

// VenueYear returns the venue edition the paper belongs to.
func (p *Paper) VenueYear() VenueYear {
	return VenueYear{Venue: p.Venue, Year: p.Year}
}

// EffectiveStatus treats an empty status as pending.
func (p *Paper) EffectiveStatus() PaperStatus {
	if p.Status == "" {
		return StatusPending
	}
	return p.Status
}

// Resolve records a found abstract and the source that produced it.
func (p *Paper) Resolve(abstract string, source SourceID) error {
	if p.EffectiveStatus().IsTerminal() {
		return fmt.Errorf("resolve %s: %w", p.ID(), ErrAlreadyResolved)
	}
	p.Abstract = abstract
	p.ResolvedSource = source
	p.Status = StatusResolved
	return nil
}

// MarkUnavailable records that no source produced an abstract.
func (p *Paper) MarkUnavailable() error {
	if p.EffectiveStatus().IsTerminal() {
		return fmt.Errorf("mark unavailable %s: %w", p.ID(), ErrAlreadyResolved)
	}
	p.Abstract = ""
	p.ResolvedSource = ""
	p.Status = StatusUnavailable
	return nil
}

// NormalizeDOI strips resolver prefixes and whitespace from a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(doi)
}
