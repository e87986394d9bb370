package app

import (
	"io"
	"log/slog"

	"github.com/MrWong99/voxnode/internal/config"
)

// SlogLevel maps a configured level to its slog equivalent. Unknown or empty
// levels map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. The level is read from lv so a config
// reload can change it in place.
func NewLogger(w io.Writer, format config.LogFormat, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
