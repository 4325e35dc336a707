package observability

import (
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every log line.
const ServiceName = "paper-harvester"

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return NewLoggerWithWriter(cfg, output)
}

// NewLoggerWithWriter creates a logger that writes to output instead of the
// configured destination.
func NewLoggerWithWriter(cfg LoggingConfig, output io.Writer) zerolog.Logger {
	// Configure time format
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Use console writer for pretty output in development
	if strings.ToLower(cfg.Format) == "console" || strings.ToLower(cfg.Format) == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(output).With().Timestamp().Str("service", ServiceName)

	// Add caller information if configured
	if cfg.AddSource {
		logger = logger.Caller()
	}

	// Build the final logger
	log := logger.Logger()

	// Set log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	log = log.Level(level)

	return log
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithRunContext adds harvest run fields to a logger.
func WithRunContext(logger zerolog.Logger, runID, tier, classification string) zerolog.Logger {
	return logger.With().
		Str("run_id", runID).
		Str("tier", tier).
		Str("classification", classification).
		Logger()
}

// WithVenueContext adds venue-year fields to a logger.
func WithVenueContext(logger zerolog.Logger, venue string, year int) zerolog.Logger {
	return logger.With().
		Str("venue", venue).
		Int("year", year).
		Logger()
}

// WithPaperContext adds paper-related fields to a logger.
func WithPaperContext(logger zerolog.Logger, paperID, title string) zerolog.Logger {
	return logger.With().
		Str("paper_id", paperID).
		Str("title", title).
		Logger()
}

// WithSourceContext adds abstract source fields to a logger.
func WithSourceContext(logger zerolog.Logger, source string, attempt int) zerolog.Logger {
	return logger.With().
		Str("source", source).
		Int("attempt", attempt).
		Logger()
}

// WithProxyContext adds the proxy address, with credentials stripped.
func WithProxyContext(logger zerolog.Logger, proxy string) zerolog.Logger {
	return logger.With().
		Str("proxy", RedactProxy(proxy)).
		Logger()
}

// RedactProxy removes userinfo from a proxy URL.
func RedactProxy(proxy string) string {
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return proxy
	}
	u.User = nil
	return u.String()
}
