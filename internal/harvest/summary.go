package harvest

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
)

// EditionSummary is the outcome of one venue edition.
type EditionSummary struct {
	Venue    string                `json:"venue"`
	Year     int                   `json:"year"`
	Stats    domain.VenueYearStats `json:"stats"`
	Duration time.Duration         `json:"duration_ns"`
}

// Summary describes a harvest run.
type Summary struct {
	RunID          string                `json:"run_id,omitempty"`
	Tier           string                `json:"tier"`
	Classification string                `json:"classification"`
	StartedAt      time.Time             `json:"started_at"`
	FinishedAt     time.Time             `json:"finished_at,omitempty"`
	Editions       []EditionSummary      `json:"editions"`
	Totals         domain.VenueYearStats `json:"totals"`
	WriteErrors    int                   `json:"write_errors"`
	Cancelled      bool                  `json:"cancelled"`
	Error          string                `json:"error,omitempty"`
}

func (s *Summary) add(vy domain.VenueYear, stats domain.VenueYearStats, d time.Duration) {
	s.Editions = append(s.Editions, EditionSummary{Venue: vy.Venue, Year: vy.Year, Stats: stats, Duration: d})
	s.Totals.Add(stats)
}

func (s *Summary) clone() *Summary {
	c := *s
	c.Editions = append([]EditionSummary(nil), s.Editions...)
	return &c
}

// Log writes one line per venue edition, grouped by year, then the totals.
func (s *Summary) Log(logger zerolog.Logger) {
	for _, year := range sortedYears(s.Editions) {
		var yearTotals domain.VenueYearStats
		for _, e := range s.Editions {
			if e.Year != year {
				continue
			}
			yearTotals.Add(e.Stats)
			logger.Info().
				Int("year", year).
				Str("venue", e.Venue).
				Int("total", e.Stats.TotalPapers).
				Int("with_doi", e.Stats.TotalPapers-e.Stats.WithoutDOI).
				Int("with_abstract", e.Stats.WithAbstract+e.Stats.Fetched).
				Int("fetched", e.Stats.Fetched).
				Int("failed", e.Stats.Failed).
				Msg("edition stats")
		}
		logger.Info().
			Int("year", year).
			Int("total", yearTotals.TotalPapers).
			Int("with_abstract", yearTotals.WithAbstract+yearTotals.Fetched).
			Msg("year stats")
	}

	logger.Info().
		Int("editions", len(s.Editions)).
		Int("total", s.Totals.TotalPapers).
		Int("with_abstract", s.Totals.WithAbstract).
		Int("without_doi", s.Totals.WithoutDOI).
		Int("without_doi_and_url", s.Totals.WithoutDOIAndURL).
		Int("fetched", s.Totals.Fetched).
		Int("failed", s.Totals.Failed).
		Int("skipped", s.Totals.Skipped).
		Float64("fetch_rate", s.Totals.FetchRate()).
		Int("write_errors", s.WriteErrors).
		Bool("cancelled", s.Cancelled).
		Msg("harvest summary")
}

// sortedYears returns the distinct years of the editions in ascending order.
func sortedYears(editions []EditionSummary) []int {
	seen := make(map[int]bool)
	var years []int
	for _, e := range editions {
		if !seen[e.Year] {
			seen[e.Year] = true
			years = append(years, e.Year)
		}
	}
	sort.Ints(years)
	return years
}
