package errors

import sterrors "errors"

var (
	// ErrExhausted reports that every correlation id is held by a pending request.
	ErrExhausted = sterrors.New("mochevent: correlation registry exhausted")
	// ErrBackendUnavailable reports that a forward message could not be handed to the backend.
	ErrBackendUnavailable = sterrors.New("mochevent: backend unavailable")
	// ErrMalformedReply reports a reply frame that does not have the reply shape.
	ErrMalformedReply = sterrors.New("mochevent: malformed reply")
	// ErrUnknownCorrelation reports a reply for an id that is not pending.
	ErrUnknownCorrelation = sterrors.New("mochevent: unknown or stale correlation id")
	// ErrTimedOut reports a request whose deadline elapsed before a reply arrived.
	ErrTimedOut = sterrors.New("mochevent: request timed out")
	// ErrHandshakeFailure reports a startup-time failure to reach the backend.
	ErrHandshakeFailure = sterrors.New("mochevent: backend handshake failed")
	// ErrHeaderOverflow reports a request carrying more headers than the encoder accepts.
	ErrHeaderOverflow = sterrors.New("mochevent: too many headers")
	// ErrConnectionLost reports that the backend link went away after startup.
	ErrConnectionLost = sterrors.New("mochevent: backend connection lost")

	ErrConfigRequired    = sterrors.New("mochevent: configuration is required")
	ErrLoggerRequired    = sterrors.New("mochevent: logger is required")
	ErrLinkRequired      = sterrors.New("mochevent: backend link is required")
	ErrRegistryRequired  = sterrors.New("mochevent: correlation registry is required")
	ErrConnectorRequired = sterrors.New("mochevent: backend connector is required")
	ErrAlreadyServed     = sterrors.New("mochevent: gateway already served")
)

// ConfigValidationError wraps the joined problems found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "mochevent: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
