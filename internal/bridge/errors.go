package bridge

import (
	"errors"
	"fmt"
)

// Errors returned while building bridges.
var (
	// ErrUnknownFactory is returned when a descriptor names no registered factory.
	ErrUnknownFactory = errors.New("bridge: unknown factory")

	// ErrUnknownMessageType is returned when the message type cannot be resolved.
	ErrUnknownMessageType = errors.New("bridge: unknown message type")

	// ErrInvalidDescriptor is returned for missing or out-of-range descriptor fields.
	ErrInvalidDescriptor = errors.New("bridge: invalid descriptor")

	// ErrSubscribeFailed is returned when a bridge cannot subscribe to its source.
	ErrSubscribeFailed = errors.New("bridge: subscribe failed")
)

// ConfigurationError reports a descriptor that could not be turned into a
// bridge. It is fatal for that descriptor only.
type ConfigurationError struct {
	Index      int
	Descriptor Descriptor
	Err        error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bridge %d (%s %s %s -> %s): %v",
		e.Index, e.Descriptor.Factory, e.Descriptor.MsgType,
		e.Descriptor.TopicFrom, e.Descriptor.TopicTo, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
