// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
	// File, when set, receives a json copy of every entry and is rotated.
	File string
}

// Rotation limits for the log file.
const (
	MaxFileSizeMB  = 50
	MaxFileBackups = 5
	MaxFileAgeDays = 28
)

// New builds a logger writing to stderr, teed into a rotating file when
// Options.File is set.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	switch strings.ToLower(opts.Format) {
	case "", "console":
		config = zap.NewDevelopmentConfig()
	case "json":
		config = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	level, err := zapcore.ParseLevel(emptyAs(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	config.Level = zap.NewAtomicLevelAt(level)

	if opts.File == "" {
		logger, err := config.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logger, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    MaxFileSizeMB,
		MaxBackups: MaxFileBackups,
		MaxAge:     MaxFileAgeDays,
	}
	fileCore := newFileCore(rotator, config.Level)
	logger, err := config.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func newFileCore(w io.Writer, level zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zapcore.NewCore(enc, zapcore.AddSync(w), level)
}

func emptyAs(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
