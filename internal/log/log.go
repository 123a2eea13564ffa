// Package log provides structured, colored logging for the wallet engine.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the engine.
var (
	Wallet   zerolog.Logger
	Sync     zerolog.Logger
	Explorer zerolog.Logger
	Builder  zerolog.Logger
	Storage  zerolog.Logger
)

func init() {
	// Default to colored console output
	Logger = NewConsoleLogger(os.Stderr, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs are written to both the console (colored or
// JSON depending on jsonOutput) and the file (always JSON for machine parsing).
func Init(level string, jsonOutput bool, file string) error {
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		var consoleWriter io.Writer
		if jsonOutput {
			consoleWriter = os.Stderr
		} else {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: "15:04:05",
			}
		}

		// File writer: always JSON.
		multi := zerolog.MultiLevelWriter(consoleWriter, f)
		Logger = zerolog.New(multi).
			Level(parseLevel(level)).
			With().
			Timestamp().
			Logger()
	} else if jsonOutput {
		Logger = NewJSONLogger(os.Stderr, level)
	} else {
		Logger = NewConsoleLogger(os.Stderr, level)
	}

	initComponentLoggers()
	return nil
}

// SetLogger replaces the global logger and rebuilds the component loggers.
func SetLogger(l zerolog.Logger) {
	Logger = l
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}

	return zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level is one Init understands.
func ValidLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error", "off":
		return true
	}
	return false
}

func initComponentLoggers() {
	Wallet = Logger.With().Str("component", "wallet").Logger()
	Sync = Logger.With().Str("component", "sync").Logger()
	Explorer = Logger.With().Str("component", "explorer").Logger()
	Builder = Logger.With().Str("component", "builder").Logger()
	Storage = Logger.With().Str("component", "storage").Logger()
}

// WithAccount returns a component logger tagged with an account id.
func WithAccount(l zerolog.Logger, id string) zerolog.Logger {
	return l.With().Str("account", id).Logger()
}
