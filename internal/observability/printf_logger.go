package observability

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PrintfLogger adapts zerolog to the Printf-style logger interface used by
// client libraries such as kafka-go.
type PrintfLogger struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewPrintfLogger creates a PrintfLogger that writes at the given level and
// tags every entry with the component name.
func NewPrintfLogger(logger zerolog.Logger, component string, level zerolog.Level) *PrintfLogger {
	return &PrintfLogger{
		logger: logger.With().Str("component", component).Logger(),
		level:  level,
	}
}

// Printf logs a formatted message.
func (l *PrintfLogger) Printf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	if msg == "" {
		return
	}
	l.logger.WithLevel(l.level).Msg(msg)
}
