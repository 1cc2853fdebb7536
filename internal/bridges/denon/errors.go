package denon

import "errors"

// Domain errors for the denon bridge package.
var (
	// ErrInvalidMessage is returned when an MQTT payload cannot be decoded.
	ErrInvalidMessage = errors.New("denon: invalid message")

	// ErrInvalidTopic is returned when a topic does not follow the bridge
	// topic scheme.
	ErrInvalidTopic = errors.New("denon: invalid topic")

	// ErrUnknownAction is returned for unsupported request actions.
	ErrUnknownAction = errors.New("denon: unknown action")
)
