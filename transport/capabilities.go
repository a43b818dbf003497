package transport

// Capabilities describes what a backend link offers.
// Use this to introspect a link at runtime.
type Capabilities struct {
	// Name is the registered link name.
	Name string

	// SupportsTicks indicates the link carries keep-alive ticks that must be
	// answered to keep the connection open.
	SupportsTicks bool

	// SupportsOrdering indicates replies arrive in the order the backend sent them.
	SupportsOrdering bool

	// SupportsAck indicates reply frames are acknowledged to the broker.
	SupportsAck bool

	// Durable indicates frames survive a gateway restart in a broker. Replies
	// for requests the gateway no longer knows are dropped as stale.
	Durable bool

	// RequiresHandshake indicates building the link performs an
	// authenticating handshake with the backend.
	RequiresHandshake bool

	// MaxMessageSize is the maximum frame size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Brokered returns true when frames travel through a broker rather than a
// direct connection.
func (c Capabilities) Brokered() bool {
	return c.SupportsAck || c.Durable
}

// Fits reports whether a frame of size bytes can be sent over the link.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the bundled links.
var (
	// ErldistCapabilities for the Erlang distribution link.
	ErldistCapabilities = Capabilities{
		Name:              "erldist",
		SupportsTicks:     true,
		SupportsOrdering:  true,
		RequiresHandshake: true,
	}

	// WebSocketCapabilities for the websocket link.
	WebSocketCapabilities = Capabilities{
		Name:              "websocket",
		SupportsTicks:     true,
		SupportsOrdering:  true,
		RequiresHandshake: true,
	}

	// ChannelCapabilities for the in-memory Go channel link.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		Durable:          true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // Default 1MB
	}

	// HTTPCapabilities for the HTTP link.
	HTTPCapabilities = Capabilities{
		Name: "http",
	}

	// AWSCapabilities for AWS SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		Durable:        true,
		MaxMessageSize: 262144, // 256KB
	}
)

// GetCapabilities returns the capabilities for a link by name.
// Returns a zero Capabilities struct carrying only the name if the link is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
