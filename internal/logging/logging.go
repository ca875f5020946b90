package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseLevel maps LOG_LEVEL spellings to a slog level.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return fallback
	}
}

// Init installs a text logger on w. The level comes from LOG_LEVEL and
// defaults to fallback.
func Init(w io.Writer, fallback slog.Level) {
	level := ParseLevel(os.Getenv("LOG_LEVEL"), fallback)
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// InitFile logs to path, since the terminal UI owns stderr. The returned
// closer flushes the file.
func InitFile(path string, fallback slog.Level) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	Init(f, fallback)
	return f, nil
}
