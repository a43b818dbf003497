package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	idspkg "github.com/badaboda/mochevent/internal/runtime/ids"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/internal/runtime/wire"
)

const tracerName = "mochevent-bridge"

// Forwarder sends forward messages to the backend. *Connector implements it.
type Forwarder interface {
	Send(ctx context.Context, fm wire.ForwardMessage) error
}

// BridgeOptions tune the HTTP side of the bridge. Zero values fall back to
// the config defaults.
type BridgeOptions struct {
	Timeout         time.Duration
	MaxBodyBytes    int64
	TimeoutBody     string
	CapacityBody    string
	UnavailableBody string
}

// Bridge is the http.Handler that turns each request into a forward message
// and waits for the matching reply.
type Bridge struct {
	registry  *registry.Registry
	forwarder Forwarder
	hooks     RequestHooks
	logger    loggingpkg.ServiceLogger
	opts      BridgeOptions
}

// NewBridge creates a Bridge.
func NewBridge(reg *registry.Registry, fwd Forwarder, hooks RequestHooks, opts BridgeOptions, logger loggingpkg.ServiceLogger) (*Bridge, error) {
	switch {
	case reg == nil:
		return nil, errspkg.ErrRegistryRequired
	case fwd == nil:
		return nil, errspkg.ErrConnectorRequired
	case logger == nil:
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Bridge{registry: reg, forwarder: fwd, hooks: hooks, logger: logger, opts: opts}, nil
}

// ServeHTTP bridges one request. The deadline is the only thing that ends
// the wait; a client going away does not.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "BridgeRequest",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	rc := RequestContext{
		RequestID: idspkg.NewULIDAt(start),
		Method:    r.Method,
		URI:       requestURI(r),
		Context:   ctx,
		StartedAt: start,
	}
	span.SetAttributes(
		attribute.String("http.request.method", rc.Method),
		attribute.String("url.path", rc.URI),
		attribute.String("mochevent.request_id", rc.RequestID),
	)

	finish := func(status int, outcome string, err error) {
		rc.Status = status
		rc.Outcome = outcome
		rc.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.String("mochevent.outcome", outcome),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		b.hooks.finish(rc, err)
	}

	body, err := b.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "")
			finish(http.StatusRequestEntityTooLarge, OutcomeBodyTooLarge, err)
			return
		}
		writeText(w, http.StatusBadRequest, "")
		finish(http.StatusBadRequest, OutcomeFailed, fmt.Errorf("read request body: %w", err))
		return
	}

	id, err := b.registry.Allocate()
	if err != nil {
		writeText(w, http.StatusTooManyRequests, b.opts.CapacityBody)
		finish(http.StatusTooManyRequests, OutcomeExhausted, err)
		return
	}
	pending := registry.NewPendingRequest(id, start, start.Add(b.opts.Timeout))
	if err := b.registry.Register(id, pending); err != nil {
		b.registry.Release(id)
		writeText(w, http.StatusInternalServerError, "")
		finish(http.StatusInternalServerError, OutcomeFailed, err)
		return
	}

	rc.CorrelationID = uint32(id)
	rc.Waited = true
	span.SetAttributes(attribute.Int64("mochevent.correlation_id", int64(id)))
	b.hooks.start(rc)

	fm := wire.ForwardMessage{
		CorrelationID: uint32(id),
		RequestKind:   wire.RequestKind(r.Method),
		URI:           rc.URI,
		Headers:       forwardHeaders(r),
		Body:          body,
	}
	sendCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), pending.Deadline)
	err = b.forwarder.Send(sendCtx, fm)
	cancel()
	if err != nil {
		b.registry.Fail(id, err)
		if errors.Is(err, errspkg.ErrHeaderOverflow) {
			writeText(w, http.StatusRequestHeaderFieldsTooLarge, "")
			finish(http.StatusRequestHeaderFieldsTooLarge, OutcomeHeaderOverflow, err)
			return
		}
		writeText(w, http.StatusBadGateway, b.opts.UnavailableBody)
		finish(http.StatusBadGateway, OutcomeFailed, err)
		return
	}

	out := b.wait(pending)
	switch out.State {
	case registry.Resolved:
		if out.Reply.StatusCode < wire.MinReplyStatus || out.Reply.StatusCode > wire.MaxReplyStatus {
			writeText(w, http.StatusBadGateway, b.opts.UnavailableBody)
			finish(http.StatusBadGateway, OutcomeFailed,
				fmt.Errorf("%w: status %d", errspkg.ErrMalformedReply, out.Reply.StatusCode))
			return
		}
		writeReply(w, out.Reply)
		finish(out.Reply.StatusCode, OutcomeResolved, nil)
	case registry.TimedOut:
		writeText(w, http.StatusServiceUnavailable, b.opts.TimeoutBody)
		finish(http.StatusServiceUnavailable, OutcomeTimedOut,
			fmt.Errorf("%w: correlation id %d after %s", errspkg.ErrTimedOut, id, b.opts.Timeout))
	default:
		cause := out.Err
		if cause == nil {
			cause = errspkg.ErrBackendUnavailable
		}
		writeText(w, http.StatusBadGateway, b.opts.UnavailableBody)
		finish(http.StatusBadGateway, OutcomeFailed, cause)
	}
}

// wait blocks until the request is resolved or failed, or its deadline
// passes. When the timer fires but Expire loses the race, the winning
// transition has already delivered its outcome.
func (b *Bridge) wait(p *registry.PendingRequest) registry.Outcome {
	timer := time.NewTimer(time.Until(p.Deadline))
	defer timer.Stop()

	select {
	case out := <-p.Done():
		return out
	case <-timer.C:
		if b.registry.Expire(p.ID) {
			b.logger.Debug("Request timed out", loggingpkg.LogFields{loggingpkg.FieldCorrelationID: p.ID})
			return registry.Outcome{State: registry.TimedOut}
		}
		return <-p.Done()
	}
}

func (b *Bridge) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body := r.Body
	if b.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, b.opts.MaxBodyBytes)
	}
	return io.ReadAll(body)
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// forwardHeaders lists Host first, then every header by canonical key with
// values in received order.
func forwardHeaders(r *http.Request) []wire.Header {
	keys := make([]string, 0, len(r.Header))
	n := 0
	for k, vs := range r.Header {
		keys = append(keys, k)
		n += len(vs)
	}
	sort.Strings(keys)

	headers := make([]wire.Header, 0, n+1)
	if r.Host != "" {
		headers = append(headers, wire.Header{Key: "Host", Value: r.Host})
	}
	for _, k := range keys {
		for _, v := range r.Header[k] {
			headers = append(headers, wire.Header{Key: k, Value: v})
		}
	}
	return headers
}

func writeReply(w http.ResponseWriter, reply wire.ReplyMessage) {
	h := w.Header()
	for _, hdr := range reply.Headers {
		h.Add(hdr.Key, hdr.Value)
	}
	w.WriteHeader(reply.StatusCode)
	_, _ = w.Write(reply.Body)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
