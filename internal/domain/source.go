package domain

// SourceID identifies an abstract source.
type SourceID string

// Structured API sources.
const (
	SourceOpenAlex        SourceID = "openalex"
	SourceCrossRef        SourceID = "crossref"
	SourceSemanticScholar SourceID = "semantic_scholar"
)

// Publisher and proceedings sites.
const (
	SourceACL        SourceID = "acl"
	SourceACM        SourceID = "acm"
	SourceOpenAccess SourceID = "openaccess"
	SourceIJCAI      SourceID = "ijcai"
	SourceUSENIX     SourceID = "usenix"
	SourceNDSS       SourceID = "ndss"
	SourceNeurIPS    SourceID = "neurips"
	SourceArXiv      SourceID = "arxiv"
	SourceOpenReview SourceID = "openreview"
	SourcePMLR       SourceID = "pmlr"
	SourceSpringer   SourceID = "springer"
	SourceIEEE       SourceID = "ieee"
	SourceAAAI       SourceID = "aaai"
)

// Medium is the access style of a source.
type Medium string

const (
	// MediumAPI is a structured bibliographic API.
	MediumAPI Medium = "api"
	// MediumSiteScrape is a publisher web page.
	MediumSiteScrape Medium = "site-scrape"
)

// SourceRule overrides candidate ordering for one venue.
// Order, when non-empty, replaces the default order. Skip removes sources
// from whichever order applies.
type SourceRule struct {
	Order []SourceID `yaml:"order,omitempty" json:"order,omitempty"`
	Skip  []SourceID `yaml:"skip,omitempty" json:"skip,omitempty"`
}

// Skips reports whether the rule removes the given source.
func (r SourceRule) Skips(id SourceID) bool {
	for _, s := range r.Skip {
		if s == id {
			return true
		}
	}
	return false
}
