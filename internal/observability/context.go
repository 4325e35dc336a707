package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	runIDKey  contextKey = "run_id"
	venueKey  contextKey = "venue"
	yearKey   contextKey = "year"
	sourceKey contextKey = "source"
)

// WithRunID adds a harvest run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithVenueYear adds the venue key and year being harvested to the context.
func WithVenueYear(ctx context.Context, venue string, year int) context.Context {
	ctx = context.WithValue(ctx, venueKey, venue)
	ctx = context.WithValue(ctx, yearKey, year)
	return ctx
}

// VenueYearFromContext retrieves the venue and year from context.
// Returns zero values if not present.
func VenueYearFromContext(ctx context.Context) (venue string, year int) {
	if v := ctx.Value(venueKey); v != nil {
		if s, ok := v.(string); ok {
			venue = s
		}
	}
	if v := ctx.Value(yearKey); v != nil {
		if y, ok := v.(int); ok {
			year = y
		}
	}
	return venue, year
}

// WithSource adds the abstract source currently being tried to the context.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFromContext retrieves the source from context.
func SourceFromContext(ctx context.Context) string {
	if v := ctx.Value(sourceKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// HarvestContext contains the context data for a harvest operation.
type HarvestContext struct {
	RunID  string
	Venue  string
	Year   int
	Source string
}

// HarvestContextFromContext extracts all harvest context from the context.
func HarvestContextFromContext(ctx context.Context) HarvestContext {
	venue, year := VenueYearFromContext(ctx)
	return HarvestContext{
		RunID:  RunIDFromContext(ctx),
		Venue:  venue,
		Year:   year,
		Source: SourceFromContext(ctx),
	}
}

// LoggerFromContext returns logger enriched with whatever harvest fields the
// context carries.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	hc := HarvestContextFromContext(ctx)
	lc := logger.With()
	if hc.RunID != "" {
		lc = lc.Str("run_id", hc.RunID)
	}
	if hc.Venue != "" {
		lc = lc.Str("venue", hc.Venue).Int("year", hc.Year)
	}
	if hc.Source != "" {
		lc = lc.Str("source", hc.Source)
	}
	return lc.Logger()
}
