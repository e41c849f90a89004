package logging

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

func init() {
	level := new(slog.LevelVar)
	if os.Getenv("CELLGYM_DEBUG") != "" {
		level.Set(slog.LevelDebug)
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)
}

var (
	Info  = func(msg string, args ...any) { Logger.Info(msg, args...) }
	Error = func(msg string, args ...any) { Logger.Error(msg, args...) }
	Warn  = func(msg string, args ...any) { Logger.Warn(msg, args...) }
	Debug = func(msg string, args ...any) { Logger.Debug(msg, args...) }
)
