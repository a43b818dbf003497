// Package nats provides a NATS Core backend link.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/badaboda/mochevent/transport"
	"github.com/badaboda/mochevent/transport/pubsub"
)

// TransportName is the name used to register this link.
const TransportName = "nats"

const reconnectWait = 500 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS Core link. JetStream is not used: replies to
// requests that already timed out are worthless, so nothing is persisted.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Link, error) {
	publisher, subscriber, err := NewPubSub(cfg.GetNATSURL(), cfg.GetNodeName(), logger)
	if err != nil {
		return nil, err
	}
	return pubsub.New(publisher, subscriber, pubsub.ConfigFrom(TransportName, cfg), logger)
}

// NewPubSub connects a NATS Core publisher and subscriber pair named after
// node. Backends written in Go use it to serve the other end of the link.
func NewPubSub(url, node string, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	marshaler := &nats.NATSMarshaler{}
	options := connectionOptions(node)
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: options,
			Unmarshaler: marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, nil, err
	}
	return publisher, subscriber, nil
}

func connectionOptions(node string) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("mochevent " + node),
		natsgo.ReconnectWait(reconnectWait),
	}
}

// Capabilities returns the capabilities of this link.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
