// Package netlog provides the structured-logging seam used throughout the
// network runtime. Callers never import logrus directly; they pass a
// netlog.Logger into constructors so that logging, like monitoring, stays
// an opaque sink the runtime writes structured events into.
package netlog

import (
	"github.com/sirupsen/logrus"
)

// Logger is the minimal structured-logging surface the runtime depends on.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Fields is a structured-field set attached to a single log line.
type Fields map[string]interface{}

// New wraps a *logrus.Logger as a Logger.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.New()
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Default returns a Logger backed by logrus's package-level default
// logger, text-formatted, at Info level.
func Default() Logger {
	return New(logrus.StandardLogger())
}

// Discard returns a Logger that drops every event. Used where the caller
// has not wired a sink (logging is an out-of-scope external collaborator
// per the runtime's contract — it is never required to function).
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return New(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
