package logging

import (
	"io"
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to use JSON output at the given level.
func SetupJSON(level slog.Level) *slog.Logger {
	return setup(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// SetupText is SetupJSON for interactive tools writing to a terminal.
func SetupText(w io.Writer, level slog.Level) *slog.Logger {
	return setup(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func setup(h slog.Handler) *slog.Logger {
	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// Err is the attribute every component uses to log an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}

	return slog.String("error", err.Error())
}
