package sshclient

import (
	"errors"
	"fmt"
	"log"
	"os"
)

// LogLevel specifies the level of spew that should go to the log.
type LogLevel int

const (
	LogLevelUnknown LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

var logLevelNames = [...]string{"unknown", "error", "warning", "info", "debug", "trace"}

func (l LogLevel) String() string {
	if l < LogLevelUnknown || l > LogLevelTrace {
		return logLevelNames[LogLevelUnknown]
	}
	return logLevelNames[l]
}

// Logger is the logging interface used throughout sshclient. Components
// obtain a child logger via Fork so that log lines carry a hierarchical
// prefix (e.g. "sshconsole -> session -> shell").
type Logger interface {
	// Fork creates a new Logger whose prefix is this logger's prefix plus
	// the given formatted suffix.
	Fork(f string, args ...interface{}) Logger

	// Prefix returns this logger's prefix string.
	Prefix() string

	ELogf(f string, args ...interface{})
	WLogf(f string, args ...interface{})
	ILogf(f string, args ...interface{})
	DLogf(f string, args ...interface{})

	// Errorf returns an error whose message carries this logger's prefix.
	Errorf(f string, args ...interface{}) error

	SetLogLevel(level LogLevel)
	GetLogLevel() LogLevel
}

// BasicLogger is a leveled logger with a prefix, writing to a standard
// library *log.Logger.
type BasicLogger struct {
	prefix   string
	prefixC  string
	out      *log.Logger
	logLevel LogLevel
}

// NewLogger creates a root BasicLogger writing to os.Stderr.
func NewLogger(prefix string, level LogLevel) *BasicLogger {
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixWithColon(prefix),
		out:      log.New(os.Stderr, "", log.LstdFlags),
		logLevel: level,
	}
}

func prefixWithColon(prefix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + ": "
}

func (l *BasicLogger) Prefix() string { return l.prefix }

func (l *BasicLogger) GetLogLevel() LogLevel    { return l.logLevel }
func (l *BasicLogger) SetLogLevel(lv LogLevel)  { l.logLevel = lv }

func (l *BasicLogger) logf(level LogLevel, f string, args ...interface{}) {
	if level > l.logLevel {
		return
	}
	l.out.Print(l.prefixC + fmt.Sprintf(f, args...))
}

func (l *BasicLogger) ELogf(f string, args ...interface{}) { l.logf(LogLevelError, f, args...) }
func (l *BasicLogger) WLogf(f string, args ...interface{}) { l.logf(LogLevelWarning, f, args...) }
func (l *BasicLogger) ILogf(f string, args ...interface{}) { l.logf(LogLevelInfo, f, args...) }
func (l *BasicLogger) DLogf(f string, args ...interface{}) { l.logf(LogLevelDebug, f, args...) }

func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	msg := l.prefixC + fmt.Sprintf(f, args...)
	return errors.New(msg)
}

// Fork creates a child Logger with an extended prefix, inheriting the log level.
func (l *BasicLogger) Fork(f string, args ...interface{}) Logger {
	suffix := fmt.Sprintf(f, args...)
	newPrefix := l.prefix
	if newPrefix == "" {
		newPrefix = suffix
	} else {
		newPrefix = newPrefix + " -> " + suffix
	}
	return &BasicLogger{
		prefix:   newPrefix,
		prefixC:  prefixWithColon(newPrefix),
		out:      l.out,
		logLevel: l.logLevel,
	}
}

// discardLogger drops everything; used as the default whenever the caller
// leaves ClientConfig.Logger nil.
type discardLogger struct {
	prefix string
}

func newDiscardLogger() Logger { return &discardLogger{} }

func (d *discardLogger) Prefix() string                          { return d.prefix }
func (d *discardLogger) ELogf(f string, args ...interface{})      {}
func (d *discardLogger) WLogf(f string, args ...interface{})      {}
func (d *discardLogger) ILogf(f string, args ...interface{})      {}
func (d *discardLogger) DLogf(f string, args ...interface{})      {}
func (d *discardLogger) SetLogLevel(level LogLevel)               {}
func (d *discardLogger) GetLogLevel() LogLevel                    { return LogLevelUnknown }
func (d *discardLogger) Errorf(f string, args ...interface{}) error {
	return fmt.Errorf(d.prefix+f, args...)
}
func (d *discardLogger) Fork(f string, args ...interface{}) Logger {
	return &discardLogger{prefix: d.prefix + fmt.Sprintf(f, args...) + ": "}
}
