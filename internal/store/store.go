// Package store persists harvested papers.
//
// Every sink implements Writer. Sinks that group output by venue edition
// also implement Flusher and are flushed once an edition is complete.
// Multi fans out to several sinks.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// Writer persists one paper.
type Writer interface {
	Write(ctx context.Context, p *domain.Paper) error
}

// Flusher completes a venue edition.
type Flusher interface {
	Flush(ctx context.Context, vy domain.VenueYear, stats domain.VenueYearStats) error
}

// Closer releases sink resources.
type Closer interface {
	Close() error
}

// Exporter receives the bytes of a finished edition file.
type Exporter interface {
	Export(ctx context.Context, name string, data []byte) error
}

type sink struct {
	name string
	w    Writer
}

// Multi writes to several sinks in order. Every sink is attempted; errors
// are joined.
type Multi struct {
	sinks   []sink
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewMulti creates an empty fan-out writer.
func NewMulti(logger zerolog.Logger, metrics *observability.Metrics) *Multi {
	return &Multi{
		logger:  logger.With().Str("component", "store").Logger(),
		metrics: metrics,
	}
}

// Add registers a named sink.
func (m *Multi) Add(name string, w Writer) *Multi {
	m.sinks = append(m.sinks, sink{name: name, w: w})
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Write implements Writer.
func (m *Multi) Write(ctx context.Context, p *domain.Paper) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.w.Write(ctx, p)
		m.metrics.RecordOutputWrite(s.name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Flush implements Flusher for the sinks that support it.
func (m *Multi) Flush(ctx context.Context, vy domain.VenueYear, stats domain.VenueYearStats) error {
	var errs []error
	for _, s := range m.sinks {
		f, ok := s.w.(Flusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx, vy, stats); err != nil {
			errs = append(errs, fmt.Errorf("%s flush %s: %w", s.name, vy, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks that hold resources.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		c, ok := s.w.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			m.logger.Error().Err(err).Str("sink", s.name).Msg("failed to close sink")
			errs = append(errs, fmt.Errorf("%s close: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
