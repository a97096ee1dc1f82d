// Package logging sets up memcore's structured slog logger: JSON output
// to a rotating file, optionally mirrored to stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures the logger.
type Config struct {
	Level         string
	FilePath      string
	MaxSizeMB     int
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds the logger and returns a cleanup function that flushes and
// closes the underlying rotating file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.WriteToStderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

// SetupDefault initializes logging with DefaultConfig and installs it as
// the package-level default logger.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DefaultConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
