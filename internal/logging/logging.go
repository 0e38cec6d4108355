// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "option-planner", "logs", "planner.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
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

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a config level name to a zerolog level. Unknown names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithDraftID adds a draft ID to the logger context.
func WithDraftID(logger zerolog.Logger, draftID string) zerolog.Logger {
	return logger.With().Str("draft_id", draftID).Logger()
}

// WithPlanID adds a plan ID to the logger context.
func WithPlanID(logger zerolog.Logger, planID string) zerolog.Logger {
	return logger.With().Str("plan_id", planID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogPatch logs an edit applied to a draft.
func LogPatch(logger zerolog.Logger, draftID string, fields []string, errCount int) {
	logger.Debug().
		Str("event", "patch").
		Str("draft_id", draftID).
		Strs("fields", fields).
		Int("validation_errors", errCount).
		Msg("Draft updated")
}

// LogSubmission logs the result of a submit attempt.
func LogSubmission(logger zerolog.Logger, draftID, planID, trigger string, runAt time.Time, err error) {
	if err != nil {
		logger.Warn().
			Str("event", "submission").
			Str("draft_id", draftID).
			Err(err).
			Msg("Submission refused")
		return
	}
	logger.Info().
		Str("event", "submission").
		Str("draft_id", draftID).
		Str("plan_id", planID).
		Str("trigger", trigger).
		Time("run_at", runAt).
		Msg("Plan submitted")
}

// LogGate logs a scheduling gate transition.
func LogGate(logger zerolog.Logger, allowed bool, cutoff time.Time) {
	logger.Info().
		Str("event", "gate").
		Bool("scheduling_allowed", allowed).
		Time("cutoff", cutoff).
		Msg("Scheduling gate changed")
}

// LogOutcome logs a recorded trade outcome.
func LogOutcome(logger zerolog.Logger, planID string, seq, lots int, exit, state string) {
	logger.Info().
		Str("event", "outcome").
		Str("plan_id", planID).
		Int("seq", seq).
		Int("lots", lots).
		Str("exit", exit).
		Str("state", state).
		Msg("Trade outcome recorded")
}

// LogAPICall logs an API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, status int, duration time.Duration) {
	event := logger.Debug()
	if status >= 500 {
		event = logger.Error()
	}
	event.
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", status).
		Dur("duration", duration).
		Msg("API call completed")
}
