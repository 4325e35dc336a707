package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// DefaultTable is the papers table created by the migrations.
const DefaultTable = "papers"

// PgWriter upserts papers into Postgres keyed by canonical ID.
//
// A re-harvest never erases a stored abstract: an empty incoming abstract
// keeps the existing one, and a resolved row is not downgraded to
// unavailable.
type PgWriter struct {
	db    database.DBTX
	table string
	now   func() time.Time
}

// NewPgWriter creates a Postgres writer. An empty table means DefaultTable.
func NewPgWriter(db database.DBTX, table string) *PgWriter {
	if table == "" {
		table = DefaultTable
	}
	return &PgWriter{db: db, table: table, now: time.Now}
}

// Write implements Writer.
func (w *PgWriter) Write(ctx context.Context, p *domain.Paper) error {
	sqlStr, args, err := w.upsert(ctx, p)
	if err != nil {
		return err
	}
	if _, err := w.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert paper %s: %w", p.CanonicalID(), err)
	}
	return nil
}

func (w *PgWriter) upsert(ctx context.Context, p *domain.Paper) (string, []interface{}, error) {
	if p == nil {
		return "", nil, domain.NewValidationError("paper", "paper cannot be nil")
	}
	canonicalID := p.CanonicalID()
	if canonicalID == "" {
		return "", nil, domain.NewValidationError("canonical_id", "paper has neither DOI nor key")
	}

	authors := p.Authors
	if authors == nil {
		authors = []domain.Author{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	urls := p.URLs
	if urls == nil {
		urls = []string{}
	}

	table := pq.QuoteIdentifier(w.table)
	now := w.now().UTC()

	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(table).
		Columns(
			"id", "canonical_id", "dblp_key", "doi", "title", "authors",
			"venue", "year", "publication_type", "urls", "dblp_url",
			"abstract", "abstract_source", "status", "run_id",
			"created_at", "updated_at",
		).
		Values(
			uuid.New(), canonicalID, p.Key, domain.NormalizeDOI(p.DOI), p.Title, authorsJSON,
			p.Venue, p.Year, p.Type, urls, p.DBLPURL,
			p.Abstract, string(p.ResolvedSource), string(p.EffectiveStatus()), observability.RunIDFromContext(ctx),
			now, now,
		).
		Suffix(fmt.Sprintf(`ON CONFLICT (canonical_id) DO UPDATE SET
			dblp_key = EXCLUDED.dblp_key,
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			venue = EXCLUDED.venue,
			year = EXCLUDED.year,
			publication_type = EXCLUDED.publication_type,
			urls = EXCLUDED.urls,
			dblp_url = EXCLUDED.dblp_url,
			abstract = COALESCE(NULLIF(EXCLUDED.abstract, ''), %[1]s.abstract),
			abstract_source = COALESCE(NULLIF(EXCLUDED.abstract_source, ''), %[1]s.abstract_source),
			status = CASE
				WHEN %[1]s.status = 'resolved' AND EXCLUDED.status <> 'resolved' THEN %[1]s.status
				ELSE EXCLUDED.status
			END,
			run_id = EXCLUDED.run_id,
			updated_at = EXCLUDED.updated_at`, table)).
		ToSql()
}
