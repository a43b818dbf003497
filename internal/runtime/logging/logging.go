// Package logging is the log sink shared by the bridge, the connector and the
// backend links. Every logger is a watermill.LoggerAdapter underneath, so the
// broker-backed links and the gateway write through the same slog handler.
package logging

import (
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jpillora/sizestr"
)

// Field keys used on gateway log lines.
const (
	FieldCorrelationID = "correlation_id"
	FieldNode          = "node"
	FieldBackend       = "backend"
	FieldComponent     = "component"
	FieldStatus        = "status"
	FieldSize          = "size"
)

// ComponentLink tags lines emitted by watermill inside a backend link.
const ComponentLink = "link"

// LogFields holds structured key/value pairs.
type LogFields map[string]any

// ServiceLogger is what the gateway logs through.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// NewSlogServiceLogger logs to log.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("mochevent: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLogger(log))
}

// NewWatermillServiceLogger logs to an existing watermill adapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("mochevent: watermill logger cannot be nil")
	}
	return &sink{inner: logger}
}

// NewNopServiceLogger discards everything.
func NewNopServiceLogger() ServiceLogger {
	return &sink{inner: watermill.NopLogger{}}
}

// NewWatermillAdapter hands log to a backend link. Lines the link's watermill
// components emit carry component=link.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("mochevent: ServiceLogger cannot be nil")
	}
	return &linkAdapter{base: log.With(LogFields{FieldComponent: ComponentLink})}
}

// ForNode scopes log to the local node of a backend link.
func ForNode(log ServiceLogger, node string) ServiceLogger {
	if node == "" {
		return log
	}
	return log.With(LogFields{FieldNode: node})
}

// Reply describes one reply frame. size is the body length in bytes.
func Reply(id uint32, status, size int) LogFields {
	return LogFields{
		FieldCorrelationID: id,
		FieldStatus:        status,
		FieldSize:          Size(size),
	}
}

// Size renders a byte count, e.g. "1.2KB".
func Size(n int) string {
	return sizestr.ToString(int64(n))
}

type sink struct {
	inner watermill.LoggerAdapter
}

func (s *sink) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &sink{inner: s.inner.With(watermill.LogFields(maps.Clone(fields)))}
}

func (s *sink) Debug(msg string, fields LogFields) { s.inner.Debug(msg, watermill.LogFields(fields)) }
func (s *sink) Info(msg string, fields LogFields)  { s.inner.Info(msg, watermill.LogFields(fields)) }
func (s *sink) Trace(msg string, fields LogFields) { s.inner.Trace(msg, watermill.LogFields(fields)) }

func (s *sink) Error(msg string, err error, fields LogFields) {
	s.inner.Error(msg, err, watermill.LogFields(fields))
}

type linkAdapter struct {
	base ServiceLogger
}

func (a *linkAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.base.Error(msg, err, LogFields(fields))
}

func (a *linkAdapter) Info(msg string, fields watermill.LogFields) {
	a.base.Info(msg, LogFields(fields))
}

func (a *linkAdapter) Debug(msg string, fields watermill.LogFields) {
	a.base.Debug(msg, LogFields(fields))
}

func (a *linkAdapter) Trace(msg string, fields watermill.LogFields) {
	a.base.Trace(msg, LogFields(fields))
}

func (a *linkAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &linkAdapter{base: a.base.With(LogFields(fields))}
}
