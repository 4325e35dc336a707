// Package venues holds the venue catalog: which venues belong to a CCF
// tier, how each is named in DBLP, and per-venue abstract source rules.
//
// The default catalog is embedded. Load reads a replacement from disk.
package venues

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/helixir/paper-harvester/internal/domain"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Classifications.
const (
	ClassConference = "conf"
	ClassJournal    = "journal"
)

// ErrUnknownTier is returned for a tier/classification pair the catalog
// does not list.
var ErrUnknownTier = fmt.Errorf("unknown tier: %w", domain.ErrInvalidInput)

// YearName is a venue name valid before a given year.
type YearName struct {
	Name string `yaml:"name"`

	// Before is exclusive. Zero means no upper bound.
	Before int `yaml:"before,omitempty"`
}

// Catalog is the parsed venue catalog. It is read-only after load.
type Catalog struct {
	Tiers        map[string]map[string][]string `yaml:"tiers"`
	QueryNames   map[string]string              `yaml:"query_names"`
	YearNames    map[string][]YearName          `yaml:"year_names"`
	FilterVenues map[string][]string            `yaml:"filter_venues"`
	Sources      map[string]domain.SourceRule   `yaml:"sources"`
}

// Embedded returns the built-in catalog.
func Embedded() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// MustEmbedded is Embedded that panics. The embedded catalog is covered by
// tests.
func MustEmbedded() *Catalog {
	c, err := Embedded()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Embedded()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes catalog YAML and normalizes its keys to lower case.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Tiers) == 0 {
		return nil, fmt.Errorf("parse catalog: no tiers defined")
	}
	c.normalize()
	return &c, nil
}

func (c *Catalog) normalize() {
	tiers := make(map[string]map[string][]string, len(c.Tiers))
	for cls, byTier := range c.Tiers {
		m := make(map[string][]string, len(byTier))
		for tier, keys := range byTier {
			out := make([]string, 0, len(keys))
			for _, k := range keys {
				if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
					out = append(out, k)
				}
			}
			m[strings.ToLower(tier)] = out
		}
		tiers[strings.ToLower(cls)] = m
	}
	c.Tiers = tiers
	c.QueryNames = lowerKeys(c.QueryNames)
	c.YearNames = lowerKeys(c.YearNames)
	c.FilterVenues = lowerKeys(c.FilterVenues)
	c.Sources = lowerKeys(c.Sources)
}

func lowerKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Venues returns the venue keys for a tier and classification, in catalog
// order.
func (c *Catalog) Venues(tier, classification string) ([]string, error) {
	byTier, ok := c.Tiers[strings.ToLower(classification)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTier, tier, classification)
	}
	keys, ok := byTier[strings.ToLower(tier)]
	if !ok || len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTier, tier, classification)
	}
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

// QueryName returns the DBLP venue name to search for key in year.
func (c *Catalog) QueryName(key string, year int) string {
	key = strings.ToLower(key)
	if names, ok := c.YearNames[key]; ok {
		for _, n := range names {
			if n.Before == 0 || year < n.Before {
				return n.Name
			}
		}
	}
	if name, ok := c.QueryNames[key]; ok {
		return name
	}
	return strings.ToUpper(key)
}

// FilterNames returns the normalized venue strings a DBLP hit must match
// for key in year.
func (c *Catalog) FilterNames(key string, year int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if n := Normalize(s); n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	add(c.QueryName(key, year))
	for _, v := range c.FilterVenues[strings.ToLower(key)] {
		add(v)
	}
	return out
}

// SourceRule returns the abstract source override for a venue key.
func (c *Catalog) SourceRule(venue string) (domain.SourceRule, bool) {
	r, ok := c.Sources[strings.ToLower(venue)]
	return r, ok
}

var (
	nonLetters = regexp.MustCompile(`[^a-zA-Z\s]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// Normalize lower-cases s, replaces non-letters with spaces and collapses
// whitespace. "Proc. ACM Program. Lang." becomes "proc acm program lang".
func Normalize(s string) string {
	s = nonLetters.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// FileName returns the output file base name for a venue edition.
func FileName(venue string, year int) string {
	r := strings.NewReplacer(" ", "_", ".", "", "/", "_")
	return fmt.Sprintf("%s_%d.json", r.Replace(venue), year)
}
