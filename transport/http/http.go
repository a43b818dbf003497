// Package http provides an HTTP backend link: forward frames are POSTed to
// the backend, replies are POSTed back to a listener run by the gateway.
package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/badaboda/mochevent/transport"
	"github.com/badaboda/mochevent/transport/pubsub"
)

// TransportName is the name used to register this link.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// serverStarter is implemented by the watermill HTTP subscriber.
type serverStarter interface {
	StartHTTPServer() error
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP link. The reply listener starts once the reply
// route is subscribed.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Link, error) {
	publisherURL := strings.TrimSuffix(cfg.GetHTTPPublisherURL(), "/") + "/"

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		cfg.GetHTTPServerAddress(),
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	link, err := pubsub.New(publisher, subscriber, pubsub.ConfigFrom(TransportName, cfg), logger)
	if err != nil {
		return nil, err
	}

	if s, ok := subscriber.(serverStarter); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
				logger.Error("Failed to start HTTP reply listener", err, nil)
			}
		}()
	}

	return link, nil
}

// Capabilities returns the capabilities of this link.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
