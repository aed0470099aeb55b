// Package logging builds the zap loggers used by the pipeline commands: a
// console logger for the terminal and, once the output directory is known,
// a tee into the run's timestamped append-only log file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName returns the run log name for a start time.
func FileName(start time.Time) string {
	return fmt.Sprintf("pipeline_%s.log", start.Format("20060102_150405"))
}

// ParseLevel maps a textual level to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// NewConsole returns a human-readable logger writing to stderr.
func NewConsole(level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core)
}

// WithRunLog tees base into an append-only log file inside dir. The file
// always records at info level or below so the audit trail is complete even
// when the console is quieter. The returned close func syncs and closes it.
func WithRunLog(base *zap.Logger, dir string, start time.Time, level zapcore.Level) (*zap.Logger, string, func() error, error) {
	path := filepath.Join(dir, FileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return base, "", nil, fmt.Errorf("open run log: %w", err)
	}
	if level > zapcore.InfoLevel {
		level = zapcore.InfoLevel
	}
	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(f),
		zap.NewAtomicLevelAt(level),
	)
	logger := zap.New(zapcore.NewTee(base.Core(), fileCore))
	closeFn := func() error {
		_ = logger.Sync()
		return f.Close()
	}
	return logger, path, closeFn, nil
}
