// Package transport defines the backend link contract. Each link
// implementation (erldist, websocket, kafka, etc.) lives in its own
// sub-package and registers itself with the link registry.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Identity is how the gateway presents itself to the backend: the sender pid
// carried by every forward message.
type Identity struct {
	Node     string
	ID       uint32
	Serial   uint32
	Creation uint32
}

func (i Identity) String() string {
	return fmt.Sprintf("<%s.%d.%d>", i.Node, i.ID, i.Serial)
}

// Link is the single logical connection to the backend.
//
// Send and Recv may be called concurrently with each other, but Recv is only
// called from one goroutine. Recv returns a nil or empty frame for a
// keep-alive tick; any error from Recv means the link is gone.
type Link interface {
	Identity() Identity
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Builder creates a connected link from config. A Builder returns only after
// the link is usable; handshake problems are returned as errors.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Link, error)

// Config provides the configuration values needed by links.
// This interface allows links to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetBackend returns the link name.
	GetBackend() string

	// Erlang distribution
	GetNodeName() string
	GetCookie() string
	GetBackendNode() string
	GetBackendProcess() string
	GetBackendPort() int
	GetTickInterval() time.Duration
	GetConnectAttempts() int

	// Broker topics
	GetRequestTopic() string
	GetReplyTopic() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// WebSocket
	GetWebSocketURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by links that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
