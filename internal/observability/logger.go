package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu     sync.Mutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger configures the process-wide structured logger. Later calls
// are ignored.
func InitLogger(level string, pretty bool) {
	InitLoggerTo(os.Stderr, level, pretty)
}

// InitLoggerTo is InitLogger with an explicit destination. The TUI uses it
// to keep log lines off the terminal it draws on.
func InitLoggerTo(out io.Writer, level string, pretty bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if initialized {
		return
	}

	zerolog.SetGlobalLevel(parseLevel(level))

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Str("service", "micscribe").Logger()
	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger, initialising it with defaults when
// nobody has done so yet.
func GetLogger() zerolog.Logger {
	loggerMu.Lock()
	ready := initialized
	loggerMu.Unlock()
	if !ready {
		InitLogger("info", false)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	return globalLogger
}

// WithRecordingID returns a child logger tagged with a recording id,
// generating one when id is empty.
func WithRecordingID(logger zerolog.Logger, id string) zerolog.Logger {
	if id == "" {
		id = NewRecordingID()
	}
	return logger.With().Str("recording_id", id).Logger()
}

// NewRecordingID generates an id correlating all sessions of one recording.
func NewRecordingID() string {
	return uuid.New().String()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
