// Package transports imports all built-in links for auto-registration.
// Import this package to have every backend link available to transport.Build.
package transports

import (
	_ "github.com/badaboda/mochevent/transport/aws"
	_ "github.com/badaboda/mochevent/transport/channel"
	_ "github.com/badaboda/mochevent/transport/erldist"
	_ "github.com/badaboda/mochevent/transport/http"
	_ "github.com/badaboda/mochevent/transport/kafka"
	_ "github.com/badaboda/mochevent/transport/nats"
	_ "github.com/badaboda/mochevent/transport/rabbitmq"
	_ "github.com/badaboda/mochevent/transport/websocket"
)
