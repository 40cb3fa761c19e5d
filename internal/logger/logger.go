package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel maps a configured level name to a LogLevel. Unknown names
// fall back to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return DebugLevel
	case "warning", "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the global logger
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
	SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

type zlogger struct {
	zl zerolog.Logger
}

// Default returns a Logger backed by the global logger configured by Init.
func Default() Logger {
	return &zlogger{zl: log}
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	return &zlogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zlogger{zl: zerolog.Nop()}
}

func (l *zlogger) Debug() *LogEvent { return &LogEvent{l.zl.Debug()} }
func (l *zlogger) Info() *LogEvent  { return &LogEvent{l.zl.Info()} }
func (l *zlogger) Warn() *LogEvent  { return &LogEvent{l.zl.Warn()} }
func (l *zlogger) Error() *LogEvent { return &LogEvent{l.zl.Error()} }

func (l *zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{l.zl.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func (l *zlogger) With(component string) Logger {
	return &zlogger{zl: l.zl.With().Str("component", component).Logger()}
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return Default().ErrorWithCode(err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}
