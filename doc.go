// Package mochevent bridges synchronous HTTP requests to an asynchronous,
// message-passing backend process. Every inbound request is given a
// correlation id, forwarded to the backend as an External Term Format
// message, and held open until the reply carrying the same id arrives or
// the request deadline passes.
//
// Gateway owns the pieces: a fixed-capacity correlation registry, the
// backend link, the receive loop that dispatches replies, and the
// http.Handler that performs the round trip. A minimal setup fills Config,
// calls NewGateway and then Start; see examples/gateway.
//
// # Links
//
// The backend link is chosen by Config.Backend:
//   - erldist: joins an Erlang distribution cluster as a hidden node and
//     sends to a registered process (the default)
//   - websocket: binary ETF frames over a websocket
//   - channel: in-memory Go channels for tests and demos
//   - kafka, rabbitmq, nats, http, aws: request and reply topics on a broker
//
// Import github.com/badaboda/mochevent/transport/transports to register all of
// them, or a single link package to keep the binary small.
//
// # Failure behaviour
//
// When every correlation id is in use the gateway answers 429 without
// contacting the backend. A request whose deadline passes gets 503 with
// "Took tooo long."; a late reply for it is discarded. Losing the backend
// connection fails every waiting request with 502 and makes Start return
// an error wrapping ErrConnectionLost.
//
// # Hooks
//
// RequestHooks provide OnRequestStart, OnRequestDone and OnRequestError
// callbacks around each bridged request for custom logging, metrics and
// alerting. LoggingHooks, MetricsHooks and AlertingHooks build the common ones.
package mochevent
