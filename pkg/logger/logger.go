// Package logger is a small leveled logger that formats lines with fmt
// and writes them to an io.Writer, used throughout the service instead of bare log.Printf so that
// log level is configurable from internal/config.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// ParseLevel converts a config string ("debug", "info", ...) to a Level,
// defaulting to INFO for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Logger writes timestamped, leveled lines to an io.Writer.
type Logger struct {
	level Level
	out   io.Writer
}

func New(level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{level: level, out: out}
}

func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Fatal logs at FATAL and exits the process. Only cmd/server uses this.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
	os.Exit(1)
}

// ErrorWithCorrelation logs an Internal-class error together with a fresh
// correlation id and returns that id so the caller can surface it to the
// client without leaking the underlying error.
func (l *Logger) ErrorWithCorrelation(format string, args ...interface{}) string {
	id := uuid.NewString()
	msg := fmt.Sprintf(format, args...)
	l.log(ERROR, "%s [correlation_id=%s]", msg, id)
	return id
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(l.out, "[%s] %s: %s\n", ts, levelNames[level], fmt.Sprintf(format, args...))
}

var std = New(INFO, os.Stdout)

func SetLevel(level Level)                               { std.SetLevel(level) }
func Debug(format string, args ...interface{})            { std.Debug(format, args...) }
func Info(format string, args ...interface{})             { std.Info(format, args...) }
func Warn(format string, args ...interface{})             { std.Warn(format, args...) }
func Error(format string, args ...interface{})            { std.Error(format, args...) }
func Fatal(format string, args ...interface{})            { std.Fatal(format, args...) }
func ErrorWithCorrelation(format string, args ...interface{}) string {
	return std.ErrorWithCorrelation(format, args...)
}
