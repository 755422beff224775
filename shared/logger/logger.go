// Package logger configures the logrus logger used by every command.
package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultLevel applies when neither flags nor config name a level.
const DefaultLevel = "warn"

// New returns a logger writing to w. Logs never go to stdout because
// stdout carries the node definition Puppet parses.
func New(w io.Writer, level, format string, fields logrus.Fields) (*logrus.Logger, error) {
	if level == "" {
		level = DefaultLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var inner logrus.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		inner = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		inner = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&fieldsFormatter{wrapped: inner, fields: fields})
	return l, nil
}

// fieldsFormatter injects fields into every entry. Fields already on the
// entry win.
type fieldsFormatter struct {
	wrapped logrus.Formatter
	fields  logrus.Fields
}

func (f *fieldsFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+len(f.fields))
	for k, v := range f.fields {
		data[k] = v
	}
	for k, v := range entry.Data {
		data[k] = v
	}
	return f.wrapped.Format(&logrus.Entry{
		Logger:  entry.Logger,
		Data:    data,
		Time:    entry.Time,
		Level:   entry.Level,
		Message: entry.Message,
	})
}
