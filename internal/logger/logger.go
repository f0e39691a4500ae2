// Package logger wraps logrus with the engine's formatting and module fields.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is a logrus entry carrying the fields of its component.
type Log struct {
	*logrus.Entry
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// New creates a text logger writing to stdout at the given level.
func New(level string) (*Log, error) {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput creates a text logger writing to out.
func NewWithOutput(level string, out io.Writer) (*Log, error) {
	log := logrus.New()
	log.SetOutput(out)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.Debug("set level: ", lvl)

	return &Log{Entry: logrus.NewEntry(log)}, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Log {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Log{Entry: logrus.NewEntry(log)}
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module returns a child logger tagged with a module name.
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

// GetLevel returns the current level name.
func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// SetJSON switches every logger sharing this root to one JSON object per line.
func (l *Log) SetJSON() {
	l.Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
}
