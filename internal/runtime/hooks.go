package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
)

// RequestContext describes one bridged request to hooks.
type RequestContext struct {
	// CorrelationID is the id the request was registered under; zero when
	// no id could be allocated.
	CorrelationID uint32
	// RequestID is a ULID assigned on arrival, used in logs.
	RequestID string
	Method    string
	URI       string
	// Context is the request context, carrying the span.
	Context context.Context
	// StartedAt is when the request arrived.
	StartedAt time.Time
	// Duration is how long the request took (only set in OnRequestDone and
	// OnRequestError).
	Duration time.Duration
	// Status is the HTTP status written to the client.
	Status int
	// Outcome is one of the Outcome constants.
	Outcome string
	// Waited reports whether the request reached the registry wait.
	Waited bool
}

// RequestHooks defines callbacks for the request lifecycle.
// All hooks are optional - nil hooks are simply not called.
type RequestHooks struct {
	// OnRequestStart is called once the request is registered and about to
	// be forwarded.
	OnRequestStart func(ctx RequestContext)

	// OnRequestDone is called when a backend reply was written.
	OnRequestDone func(ctx RequestContext)

	// OnRequestError is called for every other outcome: capacity exhausted,
	// timeout, backend unavailable and rejected requests.
	OnRequestError func(ctx RequestContext, err error)
}

// Merge combines two RequestHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h RequestHooks) Merge(other RequestHooks) RequestHooks {
	return RequestHooks{
		OnRequestStart: chainHooks(h.OnRequestStart, other.OnRequestStart),
		OnRequestDone:  chainHooks(h.OnRequestDone, other.OnRequestDone),
		OnRequestError: chainErrorHooks(h.OnRequestError, other.OnRequestError),
	}
}

func chainHooks(a, b func(RequestContext)) func(RequestContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(RequestContext, error)) func(RequestContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h RequestHooks) start(ctx RequestContext) {
	if h.OnRequestStart != nil {
		h.OnRequestStart(ctx)
	}
}

func (h RequestHooks) finish(ctx RequestContext, err error) {
	if err != nil {
		if h.OnRequestError != nil {
			h.OnRequestError(ctx, err)
		}
		return
	}
	if h.OnRequestDone != nil {
		h.OnRequestDone(ctx)
	}
}

// LoggingHooks returns hooks that log the request lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) RequestHooks {
	return RequestHooks{
		OnRequestStart: func(ctx RequestContext) {
			logger.Debug("Request forwarded", loggingpkg.LogFields{
				"request_id":                  ctx.RequestID,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
				"method":                      ctx.Method,
				"uri":                         ctx.URI,
			})
		},
		OnRequestDone: func(ctx RequestContext) {
			logger.Debug("Request completed", loggingpkg.LogFields{
				"request_id":                  ctx.RequestID,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
				loggingpkg.FieldStatus:        ctx.Status,
				"duration_ms":                 ctx.Duration.Milliseconds(),
			})
		},
		OnRequestError: func(ctx RequestContext, err error) {
			logger.Error("Request failed", err, loggingpkg.LogFields{
				"request_id":                  ctx.RequestID,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
				"method":                      ctx.Method,
				"uri":                         ctx.URI,
				"outcome":                     ctx.Outcome,
				loggingpkg.FieldStatus:        ctx.Status,
				"duration_ms":                 ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that record every request in m.
func MetricsHooks(m *BridgeMetrics) RequestHooks {
	record := func(ctx RequestContext) {
		m.RecordOutcome(ctx.Outcome, ctx.Waited, ctx.Duration)
	}
	return RequestHooks{
		OnRequestStart: func(RequestContext) { m.RecordStart() },
		OnRequestDone:  record,
		OnRequestError: func(ctx RequestContext, _ error) { record(ctx) },
	}
}

// AlertingHooks returns hooks that call alertFunc for failed requests.
func AlertingHooks(alertFunc func(ctx RequestContext, err error)) RequestHooks {
	return RequestHooks{
		OnRequestError: alertFunc,
	}
}
