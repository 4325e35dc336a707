package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

type recordingExporter struct {
	names []string
	data  [][]byte
	err   error
}

func (e *recordingExporter) Export(_ context.Context, name string, data []byte) error {
	e.names = append(e.names, name)
	e.data = append(e.data, data)
	return e.err
}

func TestNewFileWriter(t *testing.T) {
	_, err := NewFileWriter("", zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	dir := filepath.Join(t.TempDir(), "nested", "out")
	w, err := NewFileWriter(dir, zerolog.Nop())
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, "icse_2024.json"), w.Path("icse", 2024))
}

func TestFileWriter_Flush(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := observability.WithRunID(context.Background(), "run-1")

	t.Run("writes the edition file", func(t *testing.T) {
		dir := t.TempDir()
		exp := &recordingExporter{}
		w, err := NewFileWriter(dir, zerolog.Nop(), WithClock(func() time.Time { return fixed }), WithExporters(exp))
		require.NoError(t, err)

		papers := []*domain.Paper{
			{Key: "conf/icse/A24", DOI: "10.1/a", Title: "A", Venue: "icse", Year: 2024, Type: "Conference and Workshop Papers",
				Abstract: "Alpha.", ResolvedSource: domain.SourceCrossRef, Status: domain.StatusResolved},
			{Key: "conf/icse/B24", Title: "B", Venue: "icse", Year: 2024, Type: "Conference and Workshop Papers",
				Status: domain.StatusUnavailable},
			{Key: "conf/icse/P24", Title: "Proceedings", Venue: "icse", Year: 2024, Type: domain.PublicationTypeEditorship},
			{Key: "conf/nips/X24", Title: "X", Venue: "nips", Year: 2024},
		}
		for _, p := range papers {
			require.NoError(t, w.Write(ctx, p))
		}
		assert.False(t, w.Exists("icse", 2024))

		stats := domain.VenueYearStats{TotalPapers: 3, WithAbstract: 1, Fetched: 1, Failed: 1, Skipped: 1}
		vy := domain.VenueYear{Venue: "icse", Year: 2024}
		require.NoError(t, w.Flush(ctx, vy, stats))
		assert.True(t, w.Exists("icse", 2024))
		assert.False(t, w.Exists("nips", 2024))

		raw, err := os.ReadFile(w.Path("icse", 2024))
		require.NoError(t, err)

		var file EditionFile
		require.NoError(t, json.Unmarshal(raw, &file))
		assert.Equal(t, "icse", file.Metadata.VenueName)
		assert.Equal(t, 2024, file.Metadata.Year)
		assert.Equal(t, 3, file.Metadata.TotalPapers)
		assert.Equal(t, MetadataSource, file.Metadata.Source)
		assert.Equal(t, "run-1", file.Metadata.RunID)
		assert.True(t, fixed.Equal(file.Metadata.FetchTime))
		assert.Equal(t, stats, file.Metadata.Stats)
		assert.Equal(t, map[string]int{"Conference and Workshop Papers": 2, domain.PublicationTypeEditorship: 1}, file.Metadata.TypeDistribution)
		require.Len(t, file.Papers, 3)
		assert.Equal(t, "Alpha.", file.Papers[0].Abstract)
		assert.Equal(t, domain.StatusUnavailable, file.Papers[1].Status)

		require.Equal(t, []string{"icse_2024.json"}, exp.names)
		assert.Equal(t, raw, exp.data[0])

		info, err := os.Stat(w.Path("icse", 2024))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("empty edition writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		exp := &recordingExporter{}
		w, err := NewFileWriter(dir, zerolog.Nop(), WithExporters(exp))
		require.NoError(t, err)

		require.NoError(t, w.Flush(ctx, domain.VenueYear{Venue: "icse", Year: 2020}, domain.VenueYearStats{}))
		assert.False(t, w.Exists("icse", 2020))
		assert.Empty(t, exp.names)
	})

	t.Run("flush drains the buffer", func(t *testing.T) {
		w, err := NewFileWriter(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		vy := domain.VenueYear{Venue: "icse", Year: 2024}

		require.NoError(t, w.Write(ctx, &domain.Paper{Key: "a", Venue: "icse", Year: 2024}))
		require.NoError(t, w.Flush(ctx, vy, domain.VenueYearStats{}))
		require.NoError(t, w.Write(ctx, &domain.Paper{Key: "b", Venue: "icse", Year: 2024}))
		require.NoError(t, w.Flush(ctx, vy, domain.VenueYearStats{}))

		raw, err := os.ReadFile(w.Path("icse", 2024))
		require.NoError(t, err)
		var file EditionFile
		require.NoError(t, json.Unmarshal(raw, &file))
		require.Len(t, file.Papers, 1)
		assert.Equal(t, "b", file.Papers[0].Key)
	})

	t.Run("exporter error is returned after the file is written", func(t *testing.T) {
		exp := &recordingExporter{err: errors.New("upload failed")}
		w, err := NewFileWriter(t.TempDir(), zerolog.Nop(), WithExporters(exp))
		require.NoError(t, err)

		require.NoError(t, w.Write(ctx, &domain.Paper{Key: "a", Venue: "icse", Year: 2024}))
		err = w.Flush(ctx, domain.VenueYear{Venue: "icse", Year: 2024}, domain.VenueYearStats{})
		require.Error(t, err)
		assert.True(t, w.Exists("icse", 2024))
	})

	t.Run("nil paper", func(t *testing.T) {
		w, err := NewFileWriter(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		assert.ErrorIs(t, w.Write(ctx, nil), domain.ErrInvalidInput)
	})
}
