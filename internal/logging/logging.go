package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	levelOnce    sync.Once

	logger     zerolog.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// parseLevel resolves the effective level from the DEBUG and LOG_LEVEL values.
// DEBUG wins when it is truthy.
func parseLevel(debug, level string) LogLevel {
	switch strings.ToLower(debug) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}

	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		currentLevel = parseLevel(os.Getenv("DEBUG"), os.Getenv("LOG_LEVEL"))
	})
}

// newLogger builds the zerolog backend. LOG_FORMAT=json switches from the
// console layout to one JSON object per line.
func newLogger(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: "2006/01/02 15:04:05",
	}).With().Timestamp().Logger()
}

func base() *zerolog.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		logger = newLogger(os.Stderr, os.Getenv("LOG_FORMAT"))
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetOutput redirects all log output to w using the given format ("json" or
// "console"). Intended for tests and for the CLI.
func SetOutput(w io.Writer, format string) {
	loggerOnce.Do(func() {})
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(w, format)
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	if GetLevel() <= LevelDebug {
		base().Debug().Msgf(format, args...)
	}
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	if GetLevel() <= LevelInfo {
		base().Info().Msgf(format, args...)
	}
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	if GetLevel() <= LevelWarn {
		base().Warn().Msgf(format, args...)
	}
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	if GetLevel() <= LevelError {
		base().Error().Msgf(format, args...)
	}
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	base().WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}

// Printf writes a message that should always print regardless of level
func Printf(format string, args ...interface{}) {
	base().Log().Msgf(format, args...)
}

// Println writes a message that should always print regardless of level
func Println(args ...interface{}) {
	base().Log().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Duration logs how long an operation took at debug level.
func Duration(op string, start time.Time) {
	if IsDebugEnabled() {
		base().Debug().Str("op", op).Dur("elapsed", time.Since(start)).Msg("completed")
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
