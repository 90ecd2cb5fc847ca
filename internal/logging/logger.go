package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the gateway's structured logger: level, encoding,
// and optional log-rotation settings. On a config reload, Options is
// rebuilt from the reloaded logging config to build a new handler
// underneath the ring-buffer tee (see internal/logring), since
// logging.Level is one of the few fields spec.md's config reload allows
// to change live.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup configures the global slog logger from opts and returns the
// lumberjack logger, if file logging is enabled, so it can be closed on
// shutdown.
func Setup(opts Options) *lumberjack.Logger {
	handler, lj := SetupHandler(opts)
	slog.SetDefault(slog.New(handler))
	return lj
}

// SetupHandler builds a slog.Handler and optional lumberjack logger
// without installing it as the default. Callers wrap the handler (e.g.
// with logring.TeeHandler, so the health endpoint can report a recent
// warn/error summary) before calling slog.SetDefault.
func SetupHandler(opts Options) (slog.Handler, *lumberjack.Logger) {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if opts.File != "" {
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		w = lj
	}

	lvl := parseLevel(opts.Level)

	var handler slog.Handler
	hopts := &slog.HandlerOptions{Level: lvl}
	switch opts.Format {
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		handler = slog.NewJSONHandler(w, hopts)
	}

	return handler, lj
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
