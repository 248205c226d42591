// Package logging builds the process logger and the field conventions the
// pipeline logs with.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig logs to stderr and to a rotated file under the config
// directory.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "nse-alerts", "logs", "nse-alerts.log"),
		MaxSize:    50,
		MaxBackups: 10,
		MaxAge:     30,
	}
}

// NewLoggerWithConfig returns a logger writing human-readable lines to
// stderr and JSON lines to the rotated file. A file that cannot be created
// is skipped.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.DateTime,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}

	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

type ctxKey struct{}

// WithLogger attaches logger to ctx so components called from a cycle log
// with the cycle's fields.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or fallback.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}

// WithCycle tags a logger with a poll cycle ID.
func WithCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle", cycleID).Logger()
}

// WithSymbol tags a logger with an NSE symbol.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithDestination tags a logger with a destination ID.
func WithDestination(logger zerolog.Logger, destination string) zerolog.Logger {
	return logger.With().Str("destination", destination).Logger()
}

func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogDelivery logs one send attempt. Failures are warnings: the attempt is
// recorded and the cycle goes on.
func LogDelivery(logger zerolog.Logger, destination, symbol, mode string, err error) {
	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev = ev.Str("event", "delivery").
		Str("destination", destination).
		Str("symbol", symbol).
		Str("mode", mode)
	if err != nil {
		ev.Msg("Delivery failed")
		return
	}
	ev.Msg("Delivered")
}

// LogCycle logs the outcome of one poll cycle.
func LogCycle(logger zerolog.Logger, fetched, fresh, notified, failed int, seeded bool, duration time.Duration) {
	ev := logger.Info()
	if fresh == 0 && !seeded {
		ev = logger.Debug()
	}
	ev.Str("event", "cycle").
		Int("fetched", fetched).
		Int("new", fresh).
		Int("notified", notified).
		Int("failed", failed).
		Bool("seeded", seeded).
		Dur("duration", duration).
		Msg("Cycle completed")
}

// LogAPICall logs an outbound HTTP call at debug level.
func LogAPICall(logger zerolog.Logger, method, endpoint string, status int, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", status).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
		return
	}
	event.Msg("API call completed")
}
