package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing to stdout.
// logic: default to INFO. If level is invalid, fallback to INFO. format "text" selects
// the text handler, anything else is JSON.
func Setup(level, format string) {
	once.Do(func() {
		logger = newLogger(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithJob returns a logger with the job_id field set.
func WithJob(id string) *slog.Logger {
	return Get().With(slog.String("job_id", id))
}

// WithQueue returns a logger with the queue field set.
func WithQueue(name string) *slog.Logger {
	return Get().With(slog.String("queue", name))
}
