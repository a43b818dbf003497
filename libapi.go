package mochevent

import (
	runtimepkg "github.com/badaboda/mochevent/internal/runtime"
	configpkg "github.com/badaboda/mochevent/internal/runtime/config"
	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	idspkg "github.com/badaboda/mochevent/internal/runtime/ids"
	jsoncodec "github.com/badaboda/mochevent/internal/runtime/jsoncodec"
	loggingpkg "github.com/badaboda/mochevent/internal/runtime/logging"
	"github.com/badaboda/mochevent/internal/runtime/registry"
	"github.com/badaboda/mochevent/internal/runtime/wire"
	"github.com/badaboda/mochevent/transport"
)

type (
	Config                = configpkg.Config
	Gateway               = runtimepkg.Gateway
	GatewayDependencies   = runtimepkg.GatewayDependencies
	Bridge                = runtimepkg.Bridge
	BridgeOptions         = runtimepkg.BridgeOptions
	Forwarder             = runtimepkg.Forwarder
	ConfigValidationError = errspkg.ConfigValidationError

	// Request lifecycle hooks
	RequestContext = runtimepkg.RequestContext
	RequestHooks   = runtimepkg.RequestHooks

	// Metrics and admin views
	BridgeMetrics         = runtimepkg.BridgeMetrics
	BridgeMetricsSnapshot = runtimepkg.BridgeMetricsSnapshot
	RegistrySnapshot      = runtimepkg.RegistrySnapshot
	StatsSnapshot         = runtimepkg.StatsSnapshot
	HealthStatus          = runtimepkg.HealthStatus

	// Wire messages exchanged with the backend
	ForwardMessage = wire.ForwardMessage
	ReplyMessage   = wire.ReplyMessage
	Header         = wire.Header
	CorrelationID  = registry.ID

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Backend links
	Link             = transport.Link
	LinkBuilder      = transport.Builder
	LinkConfig       = transport.Config
	LinkRegistry     = transport.Registry
	LinkCapabilities = transport.Capabilities
	Identity         = transport.Identity
)

var (
	NewGateway       = runtimepkg.NewGateway
	NewBridgeMetrics = runtimepkg.NewBridgeMetrics
	LoadConfig       = configpkg.Load
	ValidateConfig   = configpkg.ValidateConfig

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Use RegisterLink and BuildLink to work with the link packages.
	// Import every built-in link via: _ "github.com/badaboda/mochevent/transport/transports"
	DefaultLinkRegistry = transport.DefaultRegistry
	RegisterLink        = transport.Register
	BuildLink           = transport.Build
	GetCapabilities     = transport.GetCapabilities

	EncodeForward = wire.EncodeForward
	DecodeForward = wire.DecodeForward
	EncodeReply   = wire.EncodeReply
	DecodeReply   = wire.DecodeReply

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrExhausted          = errspkg.ErrExhausted
	ErrBackendUnavailable = errspkg.ErrBackendUnavailable
	ErrMalformedReply     = errspkg.ErrMalformedReply
	ErrUnknownCorrelation = errspkg.ErrUnknownCorrelation
	ErrTimedOut           = errspkg.ErrTimedOut
	ErrHandshakeFailure   = errspkg.ErrHandshakeFailure
	ErrHeaderOverflow     = errspkg.ErrHeaderOverflow
	ErrConnectionLost     = errspkg.ErrConnectionLost
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrAlreadyServed      = errspkg.ErrAlreadyServed

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	NewULID = idspkg.NewULID
)

// Request outcomes reported through RequestContext.Outcome and the
// requests_total metric.
const (
	OutcomeResolved       = runtimepkg.OutcomeResolved
	OutcomeTimedOut       = runtimepkg.OutcomeTimedOut
	OutcomeFailed         = runtimepkg.OutcomeFailed
	OutcomeExhausted      = runtimepkg.OutcomeExhausted
	OutcomeHeaderOverflow = runtimepkg.OutcomeHeaderOverflow
	OutcomeBodyTooLarge   = runtimepkg.OutcomeBodyTooLarge
)
