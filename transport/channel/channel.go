// Package channel provides an in-memory backend link over Go channels.
// The backend runs in the same process and talks to the gateway through
// Shared. Useful for tests and local development.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/badaboda/mochevent/transport"
	"github.com/badaboda/mochevent/transport/pubsub"
)

// TransportName is the name used to register this link.
const TransportName = "channel"

var (
	sharedOnce sync.Once
	shared     *gochannel.GoChannel
)

// Shared returns the process-wide pub/sub the channel link publishes to and
// consumes from. An in-process backend subscribes to the request topic here
// and publishes replies on the reply topic.
func Shared() *gochannel.GoChannel {
	sharedOnce.Do(func() {
		shared = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, watermill.NopLogger{})
	})
	return shared
}

// Factory allows overriding the pub/sub creation for testing.
var Factory = func(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := unclosable{Shared()}
	return ps, ps
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new in-memory link.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Link, error) {
	pub, sub := Factory(logger)
	return pubsub.New(pub, sub, pubsub.ConfigFrom(TransportName, cfg), logger)
}

// Capabilities returns the capabilities of this link.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// unclosable keeps a link's Close from shutting the shared pub/sub down for
// every other user in the process.
type unclosable struct {
	*gochannel.GoChannel
}

func (unclosable) Close() error { return nil }
