// Package metadata produces the paper lists the harvester resolves.
//
// DBLP queries the DBLP search API per venue edition. FileSource re-reads
// venue-year files from an earlier run, and PgSource re-selects papers a
// previous run stored as unavailable.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/paper-harvester/internal/domain"
)

// Source lists the papers of a CCF tier.
type Source interface {
	FetchPapers(ctx context.Context, tier, classification string) ([]*domain.Paper, error)
}

var (
	_ Source = (*DBLP)(nil)
	_ Source = (*FileSource)(nil)
	_ Source = (*PgSource)(nil)
)

// Catalog is the venue catalog surface metadata sources read.
// *venues.Catalog implements it.
type Catalog interface {
	Venues(tier, classification string) ([]string, error)
	QueryName(key string, year int) string
	FilterNames(key string, year int) []string
}

// YearRange is an inclusive range of years.
type YearRange struct {
	From int
	To   int
}

// List returns the years in ascending order.
func (r YearRange) List() []int {
	if r.To < r.From {
		return nil
	}
	out := make([]int, 0, r.To-r.From+1)
	for y := r.From; y <= r.To; y++ {
		out = append(out, y)
	}
	return out
}

// Contains reports whether year is in range. A zero range contains every
// year.
func (r YearRange) Contains(year int) bool {
	if r.From == 0 && r.To == 0 {
		return true
	}
	return year >= r.From && year <= r.To
}

// selectVenues returns the tier's venues in catalog order, restricted to
// only when it is non-empty.
func selectVenues(c Catalog, tier, classification string, only []string) ([]string, error) {
	keys, err := c.Venues(tier, classification)
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return keys, nil
	}
	want := make(map[string]bool, len(only))
	for _, v := range only {
		want[strings.ToLower(strings.TrimSpace(v))] = true
	}
	out := keys[:0]
	for _, k := range keys {
		if want[k] {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no venues of %s/%s match %v: %w", tier, classification, only, domain.ErrInvalidInput)
	}
	return out, nil
}
