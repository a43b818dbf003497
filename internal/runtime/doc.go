/*
Package runtime implements the HTTP to backend correlation bridge.

# Architecture Overview

Every inbound HTTP request is turned into a forward message carrying a
correlation id, handed to the backend over a transport.Link, and held open
until the reply with the same id comes back or the deadline passes. The
correlation registry is the only shared state between request goroutines
and the receive loop.

# Package Structure

## Gateway (service.go)

Gateway wires together:
  - the correlation registry (registry/)
  - the backend link, built from Config.Backend or injected
  - the Connector and its receive loop
  - the Bridge http.Handler behind a chi router
  - HTTP servers for metrics and the admin API

## Request path (bridge.go, connector.go)

Bridge reads the body, allocates a correlation id, registers the pending
request, forwards it through the Connector and waits on the pending
request's outcome channel and a timer. Exhausted capacity answers 429, a
deadline answers 503, a failed forward or a lost connection answers 502.

## Reply path (dispatcher.go)

The Connector's receive loop hands every non-tick frame to the Dispatcher,
which decodes it and resolves the pending request. Replies for unknown or
expired ids are logged and dropped.

## Hooks & Metrics (hooks.go, metrics.go, resources.go)

RequestHooks observe each request's start and end. BridgeMetrics keeps
Prometheus collectors and an in-memory snapshot for the admin API.

## Admin API (admin.go)

GET /api/registry, /api/stats and /healthz with CORS support.

# Sub-packages

  - config/: gateway configuration, defaults, validation and loading
  - errors/: sentinel errors
  - etf/: External Term Format encoder and decoder
  - wire/: forward and reply message codec
  - registry/: correlation id allocation and pending requests
  - ids/: ULID generation
  - jsoncodec/: JSON encoding for the admin API
  - logging/: logger interface and adapters
  - metadata/: message metadata for broker links

# Usage Example

	cfg, err := config.Load("mochevent.yaml")
	if err != nil {
		return err
	}
	gw, err := runtime.NewGateway(ctx, cfg, logger, runtime.GatewayDependencies{})
	if err != nil {
		return err
	}
	return gw.Start(ctx)
*/
package runtime
