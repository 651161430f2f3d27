package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLogLevel parses a level name. Unknown names map to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LoggerConfig configures the diagnostic logger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string

	// File receives the log. Empty means Output.
	File string

	// Output is used when File is empty. Nil means stderr.
	Output io.Writer
}

// NewLogger builds a console-encoded zap logger. The returned close
// function flushes the log and releases the file, if one was opened.
func NewLogger(cfg LoggerConfig) (*zap.Logger, func(), error) {
	var (
		sink    zapcore.WriteSyncer
		release = func() {}
	)

	switch {
	case cfg.File != "":
		ws, closeFile, err := zap.Open(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		sink, release = ws, closeFile
	case cfg.Output != nil:
		sink = zapcore.AddSync(cfg.Output)
	default:
		sink = zapcore.Lock(os.Stderr)
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		sink,
		zap.NewAtomicLevelAt(ParseLogLevel(cfg.Level)),
	)
	logger := zap.New(core)

	return logger, func() {
		_ = logger.Sync()
		release()
	}, nil
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}
