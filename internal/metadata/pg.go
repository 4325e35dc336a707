package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/domain"
)

// DefaultTable is the papers table created by the migrations.
const DefaultTable = "papers"

// PgSourceConfig configures a PgSource.
type PgSourceConfig struct {
	Table  string
	Years  YearRange
	Venues []string
}

// PgSource re-selects papers a previous run stored as unavailable, so a
// later run can retry them. Returned papers are pending.
type PgSource struct {
	db      database.DBTX
	catalog Catalog
	cfg     PgSourceConfig
	logger  zerolog.Logger
}

// NewPgSource creates a Postgres-backed metadata source.
func NewPgSource(db database.DBTX, catalog Catalog, cfg PgSourceConfig, logger zerolog.Logger) *PgSource {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	return &PgSource{
		db:      db,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With().Str("component", "pg_source").Logger(),
	}
}

// FetchPapers returns the tier's unavailable papers ordered by catalog venue,
// then year.
func (s *PgSource) FetchPapers(ctx context.Context, tier, classification string) ([]*domain.Paper, error) {
	keys, err := selectVenues(s.catalog, tier, classification, s.cfg.Venues)
	if err != nil {
		return nil, err
	}

	query := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("dblp_key", "doi", "title", "authors", "venue", "year",
			"publication_type", "urls", "dblp_url").
		From(pq.QuoteIdentifier(s.cfg.Table)).
		Where(sq.Eq{"status": string(domain.StatusUnavailable)}).
		Where(sq.Eq{"venue": keys}).
		OrderBy("venue", "year", "dblp_key")
	if s.cfg.Years.From > 0 {
		query = query.Where(sq.GtOrEq{"year": s.cfg.Years.From})
	}
	if s.cfg.Years.To > 0 {
		query = query.Where(sq.LtOrEq{"year": s.cfg.Years.To})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select unavailable papers: %w", err)
	}
	defer rows.Close()

	var papers []*domain.Paper
	for rows.Next() {
		var (
			p           domain.Paper
			authorsJSON []byte
		)
		if err := rows.Scan(&p.Key, &p.DOI, &p.Title, &authorsJSON, &p.Venue, &p.Year,
			&p.Type, &p.URLs, &p.DBLPURL); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		if len(authorsJSON) > 0 {
			if err := json.Unmarshal(authorsJSON, &p.Authors); err != nil {
				return nil, fmt.Errorf("unmarshal authors of %s: %w", p.Key, err)
			}
		}
		p.Status = domain.StatusPending
		papers = append(papers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}

	rank := make(map[string]int, len(keys))
	for i, k := range keys {
		rank[k] = i
	}
	sort.SliceStable(papers, func(i, j int) bool {
		ri, rj := rank[papers[i].Venue], rank[papers[j].Venue]
		if ri != rj {
			return ri < rj
		}
		return papers[i].Year < papers[j].Year
	})

	s.logger.Info().Int("papers", len(papers)).Msg("selected unavailable papers for retry")
	return papers, nil
}
