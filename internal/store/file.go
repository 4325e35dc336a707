package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/venues"
)

// MetadataSource is recorded in every edition file.
const MetadataSource = "DBLP API"

// EditionMetadata is the header of an edition file.
type EditionMetadata struct {
	VenueName        string                `json:"venue_name"`
	Year             int                   `json:"year"`
	TotalPapers      int                   `json:"total_papers"`
	FetchTime        time.Time             `json:"fetch_time"`
	Source           string                `json:"source"`
	RunID            string                `json:"run_id,omitempty"`
	Stats            domain.VenueYearStats `json:"stats"`
	TypeDistribution map[string]int        `json:"type_distribution"`
}

// EditionFile is the on-disk layout of {venue}_{year}.json.
type EditionFile struct {
	Metadata EditionMetadata `json:"metadata"`
	Papers   []*domain.Paper `json:"papers"`
}

// FileWriter buffers papers per venue edition and writes each edition to
// {dir}/{venue}_{year}.json on Flush. Files are replaced atomically.
type FileWriter struct {
	dir       string
	exporters []Exporter
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[domain.VenueYear][]*domain.Paper
}

// FileOption configures a FileWriter.
type FileOption func(*FileWriter)

// WithExporters uploads every flushed file.
func WithExporters(exporters ...Exporter) FileOption {
	return func(w *FileWriter) { w.exporters = append(w.exporters, exporters...) }
}

// WithClock sets the fetch_time source.
func WithClock(now func() time.Time) FileOption {
	return func(w *FileWriter) { w.now = now }
}

// NewFileWriter creates the output directory if needed.
func NewFileWriter(dir string, logger zerolog.Logger, opts ...FileOption) (*FileWriter, error) {
	if dir == "" {
		return nil, domain.NewValidationError("output_dir", "output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	w := &FileWriter{
		dir:     dir,
		logger:  logger.With().Str("component", "file_writer").Logger(),
		now:     time.Now,
		pending: make(map[domain.VenueYear][]*domain.Paper),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the file path for an edition.
func (w *FileWriter) Path(venue string, year int) string {
	return filepath.Join(w.dir, venues.FileName(venue, year))
}

// Exists reports whether the edition file has already been written.
func (w *FileWriter) Exists(venue string, year int) bool {
	_, err := os.Stat(w.Path(venue, year))
	return err == nil
}

// Write buffers p under its edition.
func (w *FileWriter) Write(_ context.Context, p *domain.Paper) error {
	if p == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}
	vy := p.VenueYear()
	w.mu.Lock()
	w.pending[vy] = append(w.pending[vy], p)
	w.mu.Unlock()
	return nil
}

// Flush writes the buffered edition and runs the exporters. An edition with
// no papers produces no file.
func (w *FileWriter) Flush(ctx context.Context, vy domain.VenueYear, stats domain.VenueYearStats) error {
	w.mu.Lock()
	papers := w.pending[vy]
	delete(w.pending, vy)
	w.mu.Unlock()

	if len(papers) == 0 {
		w.logger.Debug().Str("edition", vy.String()).Msg("no papers, skipping file")
		return nil
	}

	types := make(map[string]int)
	for _, p := range papers {
		t := p.Type
		if t == "" {
			t = "unknown"
		}
		types[t]++
	}

	file := EditionFile{
		Metadata: EditionMetadata{
			VenueName:        vy.Venue,
			Year:             vy.Year,
			TotalPapers:      len(papers),
			FetchTime:        w.now().UTC(),
			Source:           MetadataSource,
			RunID:            observability.RunIDFromContext(ctx),
			Stats:            stats,
			TypeDistribution: types,
		},
		Papers: papers,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", vy, err)
	}

	path := w.Path(vy.Venue, vy.Year)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	w.logger.Info().
		Str("path", path).
		Int("papers", len(papers)).
		Int("fetched", stats.Fetched).
		Int("failed", stats.Failed).
		Msg("edition file written")

	var errs []error
	for _, e := range w.exporters {
		if err := e.Export(ctx, filepath.Base(path), data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
