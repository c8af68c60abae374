package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Components derive category loggers with Named.
func New(level string, hooks ...func(zapcore.Entry) error) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.Sampling = nil

	opts := []zap.Option{}
	if len(hooks) > 0 {
		opts = append(opts, zap.Hooks(hooks...))
	}
	return cfg.Build(opts...)
}

// Entry is the flattened form of a zap entry handed to log sinks outside zap.
type Entry struct {
	Category string
	Level    string
	Message  string
	Time     time.Time
}

// Forward adapts a plain callback into a zap hook.
// The logger name is used as the category; unnamed loggers report "core".
func Forward(sink func(Entry)) func(zapcore.Entry) error {
	return func(e zapcore.Entry) error {
		category := e.LoggerName
		if category == "" {
			category = "core"
		}
		sink(Entry{
			Category: category,
			Level:    e.Level.String(),
			Message:  e.Message,
			Time:     e.Time,
		})
		return nil
	}
}
