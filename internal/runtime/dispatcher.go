package runtime

import (
	"errors"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/internal/runtime/wire"
)

// Dispatcher routes reply frames to the waiting requests.
type Dispatcher struct {
	registry *registry.Registry
	metrics  *BridgeMetrics
	logger   loggingpkg.ServiceLogger
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(reg *registry.Registry, metrics *BridgeMetrics, logger loggingpkg.ServiceLogger) (*Dispatcher, error) {
	if reg == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Dispatcher{registry: reg, metrics: metrics, logger: logger}, nil
}

// Dispatch decodes frame and resolves the matching request. Malformed frames
// are reported as errors wrapping ErrMalformedReply. Replies nobody waits for
// are logged and dropped; they are not errors.
func (d *Dispatcher) Dispatch(frame []byte) error {
	reply, err := wire.DecodeReply(frame)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordMalformedReply()
		}
		d.logger.Error("Failed to decode reply", err, loggingpkg.LogFields{
			loggingpkg.FieldSize: loggingpkg.Size(len(frame)),
		})
		return err
	}

	if !d.registry.Resolve(registry.ID(reply.CorrelationID), reply) {
		if d.metrics != nil {
			d.metrics.RecordDroppedReply()
		}
		d.logger.Info("Ignoring unknown or stale correlation id",
			loggingpkg.Reply(reply.CorrelationID, reply.StatusCode, len(reply.Body)))
		return nil
	}

	d.logger.Trace("Reply dispatched", loggingpkg.Reply(reply.CorrelationID, reply.StatusCode, len(reply.Body)))
	return nil
}

// isMalformed reports whether err came from a reply that could not be decoded.
func isMalformed(err error) bool {
	return errors.Is(err, errspkg.ErrMalformedReply)
}
