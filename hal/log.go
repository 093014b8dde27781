package hal

import (
	"context"
	"log/slog"

	"github.com/mklimuk/a121/engine"
)

func logLevel(l engine.LogLevel) slog.Level {
	switch l {
	case engine.LogError:
		return slog.LevelError
	case engine.LogWarning:
		return slog.LevelWarn
	case engine.LogInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func logLine(level engine.LogLevel, module, msg string) {
	slog.Log(context.Background(), logLevel(level), msg, "module", module)
}
