// Package logging is the structured-logging capability consumed by every
// other component in this module. It wraps go.uber.org/zap behind a small
// interface (so components depend on an interface, never a global), and
// adds the normalized per-file Record used for copy/status log lines
//").
package logging

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a key-value pair attached to a log entry.
type Field = zap.Field

// Logger is the structured-logging interface every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// New builds a production-shaped JSON logger. development relaxes
// sampling so every log line is visible, matching the infra logger this
// is grounded on.
func New(development bool) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if development {
		cfg.Sampling = nil
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}

	return &zapLogger{l: z}, nil
}

// NewNop returns a Logger that discards everything, for tests and for
// components constructed without an explicit logger.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// Record is the normalized per-file shape the scheduler logs on every
// claim outcome.
type Record struct {
	BucketName   string
	SourcePath   string
	SourceFolder string
	FileSize     int64
	SourceHash   string
	WorkerID     string
	Message      string
}

// Log emits one normalized record under the given status label
// ("completed", "error", "conflict", ...), at a level matching severity.
func Log(l Logger, statusLabel string, rec Record) {
	fields := []Field{
		zap.String("bucket", rec.BucketName),
		zap.String("source_path", rec.SourcePath),
		zap.String("source_folder", rec.SourceFolder),
		zap.Int64("file_size", rec.FileSize),
		zap.String("file_size_human", humanize.Bytes(uint64(maxInt64(rec.FileSize, 0)))),
		zap.String("worker_id", rec.WorkerID),
	}
	if rec.SourceHash != "" {
		fields = append(fields, zap.String("source_hash", rec.SourceHash))
	}
	if rec.Message != "" {
		fields = append(fields, zap.String("message", rec.Message))
	}

	switch statusLabel {
	case "error", "integrity_error":
		l.Error("file "+statusLabel, fields...)
	case "conflict":
		l.Warn("file "+statusLabel, fields...)
	default:
		l.Info("file "+statusLabel, fields...)
	}
}

// System logs a service-level (non-per-file) message.
func System(l Logger, message string) {
	l.Info(message)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
