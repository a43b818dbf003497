// Package pubsub adapts a watermill publisher/subscriber pair to a backend
// link. Forward frames are published to the request topic; reply frames are
// consumed from the reply topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/ids"
	"github.com/badaboda/mochevent/internal/runtime/metadata"
	"github.com/badaboda/mochevent/transport"
)

// ErrClosed is returned by a link after Close.
var ErrClosed = errors.New("pubsub: link closed")

// Config names the topics and the identity of a pub/sub link.
type Config struct {
	// Name is the registered link name, used in logs and errors.
	Name         string
	Identity     transport.Identity
	RequestTopic string
	ReplyTopic   string
}

// Link is a transport.Link over watermill.
type Link struct {
	name         string
	identity     transport.Identity
	requestTopic string
	replyTopic   string

	pub     message.Publisher
	sub     message.Subscriber
	replies <-chan *message.Message
	logger  watermill.LoggerAdapter

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New subscribes to the reply topic and returns the link. The subscription
// lives until Close.
func New(pub message.Publisher, sub message.Subscriber, cfg Config, logger watermill.LoggerAdapter) (*Link, error) {
	if pub == nil || sub == nil {
		return nil, fmt.Errorf("%w: %s: publisher and subscriber are required", errspkg.ErrHandshakeFailure, cfg.Name)
	}
	if cfg.RequestTopic == "" || cfg.ReplyTopic == "" {
		return nil, fmt.Errorf("%w: %s: request and reply topics are required", errspkg.ErrHandshakeFailure, cfg.Name)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	replies, err := sub.Subscribe(subCtx, cfg.ReplyTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: subscribe to %q: %v", errspkg.ErrHandshakeFailure, cfg.Name, cfg.ReplyTopic, err)
	}

	logger = logger.With(watermill.LogFields{"link": cfg.Name})
	logger.Info("Subscribed to reply topic", watermill.LogFields{
		"request_topic": cfg.RequestTopic,
		"reply_topic":   cfg.ReplyTopic,
	})

	return &Link{
		name:         cfg.Name,
		identity:     cfg.Identity,
		requestTopic: cfg.RequestTopic,
		replyTopic:   cfg.ReplyTopic,
		pub:          pub,
		sub:          sub,
		replies:      replies,
		logger:       logger,
		cancel:       cancel,
		closed:       make(chan struct{}),
	}, nil
}

// Identity returns the sender identity.
func (l *Link) Identity() transport.Identity { return l.identity }

// Send publishes frame to the request topic. Metadata carried by ctx is
// copied into the message headers.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	msg := message.NewMessage(ids.NewULID(), frame)
	msg.SetContext(ctx)
	metadata.ToWatermill(metadata.FromContext(ctx), msg)
	msg.Metadata.Set(metadata.KeyNode, l.identity.Node)

	if err := l.pub.Publish(l.requestTopic, msg); err != nil {
		return fmt.Errorf("%s: publish to %q: %w", l.name, l.requestTopic, err)
	}
	return nil
}

// Recv returns the payload of the next reply message and acks it. An empty
// payload is a tick. A closed subscription means the link is gone.
func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrClosed
	case msg, ok := <-l.replies:
		if !ok {
			return nil, fmt.Errorf("%s: reply subscription on %q closed", l.name, l.replyTopic)
		}
		payload := make([]byte, len(msg.Payload))
		copy(payload, msg.Payload)
		msg.Ack()
		return payload, nil
	}
}

// Close ends the subscription and closes the publisher and subscriber.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
		errs := []error{l.pub.Close()}
		if any(l.sub) != any(l.pub) {
			errs = append(errs, l.sub.Close())
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

// ConfigFrom builds the link config for the named broker link.
func ConfigFrom(name string, cfg transport.Config) Config {
	return Config{
		Name:         name,
		Identity:     transport.NewIdentity(cfg.GetNodeName()),
		RequestTopic: cfg.GetRequestTopic(),
		ReplyTopic:   cfg.GetReplyTopic(),
	}
}
