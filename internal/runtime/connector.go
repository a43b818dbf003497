package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/etf"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/metadata"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/internal/runtime/wire"
	"github.com/badaboda/mochevent/transport"
)

// Connector owns the backend link: it encodes and sends forward messages and
// runs the receive loop that feeds the Dispatcher.
type Connector struct {
	link       transport.Link
	registry   *registry.Registry
	dispatcher *Dispatcher
	logger     loggingpkg.ServiceLogger
	maxHeaders int
	sender     etf.Pid

	down atomic.Bool
}

// NewConnector wraps an established link.
func NewConnector(link transport.Link, reg *registry.Registry, dispatcher *Dispatcher, maxHeaders int, logger loggingpkg.ServiceLogger) (*Connector, error) {
	switch {
	case link == nil:
		return nil, errspkg.ErrLinkRequired
	case reg == nil:
		return nil, errspkg.ErrRegistryRequired
	case dispatcher == nil:
		return nil, errspkg.ErrConnectorRequired
	case logger == nil:
		return nil, errspkg.ErrLoggerRequired
	}

	id := link.Identity()
	return &Connector{
		link:       link,
		registry:   reg,
		dispatcher: dispatcher,
		logger:     loggingpkg.ForNode(logger, id.Node),
		maxHeaders: maxHeaders,
		sender: etf.Pid{
			Node:     etf.Atom(id.Node),
			ID:       id.ID,
			Serial:   id.Serial,
			Creation: id.Creation,
		},
	}, nil
}

// Identity returns the identity of the underlying link.
func (c *Connector) Identity() transport.Identity { return c.link.Identity() }

// Available reports whether the link is still up.
func (c *Connector) Available() bool { return !c.down.Load() }

// Send encodes fm, stamping our pid as the sender, and hands it to the link.
// A link failure, or a link already lost, is reported as ErrBackendUnavailable.
func (c *Connector) Send(ctx context.Context, fm wire.ForwardMessage) error {
	if c.down.Load() {
		return fmt.Errorf("%w: connection lost", errspkg.ErrBackendUnavailable)
	}

	fm.Sender = c.sender
	frame, err := wire.EncodeForward(fm, c.maxHeaders)
	if err != nil {
		return err
	}

	md := metadata.FromContext(ctx).
		With(metadata.KeyCorrelationID, strconv.FormatUint(uint64(fm.CorrelationID), 10)).
		With(metadata.KeyRequestKind, strconv.Itoa(fm.RequestKind))
	if err := c.link.Send(metadata.NewContext(ctx, md), frame); err != nil {
		return fmt.Errorf("%w: %w", errspkg.ErrBackendUnavailable, err)
	}
	return nil
}

// Run receives frames until ctx is cancelled or the link fails. Ticks are
// skipped and malformed replies are logged and skipped. When the link fails
// every pending request is failed and the returned error wraps
// ErrConnectionLost. Cancellation returns nil.
func (c *Connector) Run(ctx context.Context) error {
	c.logger.Info("Backend receive loop started", nil)
	for {
		frame, err := c.link.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Backend receive loop stopped", nil)
				return nil
			}
			return c.lost(err)
		}
		if len(frame) == 0 {
			c.logger.Trace("Tick", nil)
			continue
		}
		if err := c.dispatcher.Dispatch(frame); err != nil && !isMalformed(err) {
			return c.lost(err)
		}
	}
}

// Close closes the link.
func (c *Connector) Close() error {
	c.down.Store(true)
	return c.link.Close()
}

func (c *Connector) lost(cause error) error {
	c.down.Store(true)
	failed := c.registry.FailAll(errspkg.ErrBackendUnavailable)
	c.logger.Error("Backend connection lost", cause, loggingpkg.LogFields{
		"failed_requests": failed,
	})
	return fmt.Errorf("%w: %w", errspkg.ErrConnectionLost, cause)
}
