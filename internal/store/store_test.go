package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
)

type recordingWriter struct {
	written []*domain.Paper
	flushed []domain.VenueYear
	err     error
	closed  bool
}

func (w *recordingWriter) Write(_ context.Context, p *domain.Paper) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, p)
	return nil
}

func (w *recordingWriter) Flush(_ context.Context, vy domain.VenueYear, _ domain.VenueYearStats) error {
	w.flushed = append(w.flushed, vy)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

// writeOnly has no Flush or Close.
type writeOnly struct{ n int }

func (w *writeOnly) Write(context.Context, *domain.Paper) error {
	w.n++
	return nil
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	p := &domain.Paper{Key: "conf/icse/A24", Venue: "icse", Year: 2024}

	t.Run("fans out to every sink", func(t *testing.T) {
		a, b := &recordingWriter{}, &writeOnly{}
		m := NewMulti(zerolog.Nop(), nil).Add("a", a).Add("b", b)
		assert.Equal(t, 2, m.Len())

		require.NoError(t, m.Write(ctx, p))
		assert.Equal(t, []*domain.Paper{p}, a.written)
		assert.Equal(t, 1, b.n)
	})

	t.Run("keeps writing after a sink fails", func(t *testing.T) {
		failing := &recordingWriter{err: errors.New("disk full")}
		ok := &recordingWriter{}
		m := NewMulti(zerolog.Nop(), nil).Add("file", failing).Add("pg", ok)

		err := m.Write(ctx, p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file: disk full")
		assert.Len(t, ok.written, 1)
	})

	t.Run("flush and close skip sinks without support", func(t *testing.T) {
		a, b := &recordingWriter{}, &writeOnly{}
		m := NewMulti(zerolog.Nop(), nil).Add("a", a).Add("b", b)

		vy := p.VenueYear()
		require.NoError(t, m.Flush(ctx, vy, domain.VenueYearStats{}))
		require.NoError(t, m.Close())
		assert.Equal(t, []domain.VenueYear{vy}, a.flushed)
		assert.True(t, a.closed)
	})
}
