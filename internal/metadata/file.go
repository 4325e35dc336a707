package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
)

// FileSourceConfig configures a FileSource.
type FileSourceConfig struct {
	Dir   string
	Years YearRange

	// Venues restricts the venues read when non-empty.
	Venues []string

	// RetryUnavailable resets papers stored as unavailable to pending.
	RetryUnavailable bool
}

// FileSource reads {venue}_{year}.json files written by a previous run. It
// accepts both this harvester's paper layout and raw DBLP hit records.
type FileSource struct {
	catalog Catalog
	cfg     FileSourceConfig
	logger  zerolog.Logger
}

// NewFileSource creates a file-backed metadata source.
func NewFileSource(catalog Catalog, cfg FileSourceConfig, logger zerolog.Logger) *FileSource {
	return &FileSource{
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With().Str("component", "file_source").Logger(),
	}
}

type editionFile struct {
	Metadata struct {
		VenueName string  `json:"venue_name"`
		Year      flexInt `json:"year"`
	} `json:"metadata"`
	Papers []filePaper `json:"papers"`
}

type edition struct {
	venue  string
	year   int
	rank   int
	papers []*domain.Paper
}

// FetchPapers reads every edition file of the tier, ordered by catalog venue
// then year. Unreadable files are logged and skipped.
func (s *FileSource) FetchPapers(ctx context.Context, tier, classification string) ([]*domain.Paper, error) {
	keys, err := selectVenues(s.catalog, tier, classification, s.cfg.Venues)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(keys))
	for i, k := range keys {
		rank[k] = i
	}

	paths, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.cfg.Dir, err)
	}
	sort.Strings(paths)

	var editions []edition
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ed, err := s.readFile(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable edition file")
			continue
		}
		r, ok := rank[ed.venue]
		if !ok || !s.cfg.Years.Contains(ed.year) {
			continue
		}
		ed.rank = r
		editions = append(editions, *ed)
	}

	sort.SliceStable(editions, func(i, j int) bool {
		if editions[i].rank != editions[j].rank {
			return editions[i].rank < editions[j].rank
		}
		return editions[i].year < editions[j].year
	})

	var out []*domain.Paper
	for _, ed := range editions {
		out = append(out, ed.papers...)
	}
	s.logger.Info().
		Int("files", len(editions)).
		Int("papers", len(out)).
		Str("dir", s.cfg.Dir).
		Msg("loaded papers from edition files")
	return out, nil
}

func (s *FileSource) readFile(path string) (*edition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f editionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	venue := strings.ToLower(strings.TrimSpace(f.Metadata.VenueName))
	year := int(f.Metadata.Year)
	if venue == "" || year == 0 {
		return nil, fmt.Errorf("missing venue_name or year in metadata")
	}

	papers := make([]*domain.Paper, 0, len(f.Papers))
	for _, fp := range f.Papers {
		p := fp.toPaper(venue, year)
		if s.cfg.RetryUnavailable && p.Status == domain.StatusUnavailable {
			p.Status = domain.StatusPending
		}
		papers = append(papers, p)
	}
	return &edition{venue: venue, year: year, papers: papers}, nil
}

type filePaper struct {
	Key            string          `json:"key"`
	DOI            string          `json:"doi"`
	Title          string          `json:"title"`
	Authors        fileAuthors     `json:"authors"`
	Type           string          `json:"type"`
	EE             stringList      `json:"ee"`
	DBLPURL        string          `json:"dblp_url"`
	Abstract       string          `json:"abstract"`
	ResolvedSource domain.SourceID `json:"abstract_source"`
	Status         string          `json:"status"`
}

func (fp filePaper) toPaper(venue string, year int) *domain.Paper {
	p := &domain.Paper{
		Key:            fp.Key,
		DOI:            domain.NormalizeDOI(fp.DOI),
		Title:          strings.TrimSpace(fp.Title),
		Authors:        []domain.Author(fp.Authors),
		Venue:          venue,
		Year:           year,
		Type:           fp.Type,
		URLs:           []string(fp.EE),
		DBLPURL:        fp.DBLPURL,
		Abstract:       fp.Abstract,
		ResolvedSource: fp.ResolvedSource,
		Status:         domain.PaperStatus(fp.Status),
	}
	switch p.Status {
	case domain.StatusPending, domain.StatusResolved, domain.StatusUnavailable:
	default:
		p.Status = domain.StatusPending
	}
	if p.Status == domain.StatusPending && p.HasAbstract() {
		p.Status = domain.StatusResolved
	}
	return p
}

// fileAuthors accepts a list of {name, pid} or DBLP's {"author": ...} form.
type fileAuthors []domain.Author

func (a *fileAuthors) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if data[0] == '[' {
		var list []domain.Author
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	var wrapped struct {
		Author authorList `json:"author"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*a = fileAuthors(wrapped.Author)
	return nil
}
