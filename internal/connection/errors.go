package connection

import "errors"

// Errors returned by the Manager.
var (
	// ErrNotConnected is returned by Publish when the session is not Connected.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrAlreadyConnected is returned by Connect when a session is installed.
	ErrAlreadyConnected = errors.New("connection: session already active")

	// ErrConnectFailed wraps dial and transport connect failures.
	ErrConnectFailed = errors.New("connection: connect failed")

	// ErrAlreadySubscribed is returned when a topic filter already has a handler.
	ErrAlreadySubscribed = errors.New("connection: topic already subscribed")

	// ErrNilHandler is returned by Subscribe for a nil handler.
	ErrNilHandler = errors.New("connection: handler cannot be nil")
)
