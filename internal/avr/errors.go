package avr

import "errors"

// Domain errors for the avr package.
var (
	// ErrConnectionLost is returned when an established connection drops.
	// It is transient and triggers reconnection.
	ErrConnectionLost = errors.New("avr: connection lost")

	// ErrConnectionFailed is returned when a connection attempt fails, or
	// when the retry budget is exhausted and the controller has stopped.
	ErrConnectionFailed = errors.New("avr: connection failed")

	// ErrCommandRejected is returned for unknown commands and commands
	// that do not apply to the device's manufacturer.
	ErrCommandRejected = errors.New("avr: command rejected")

	// ErrInvalidParameter is returned when a command parameter is missing,
	// malformed or out of range.
	ErrInvalidParameter = errors.New("avr: invalid parameter")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("avr: operation timed out")

	// ErrProtocolError is returned for malformed or unexpected replies.
	ErrProtocolError = errors.New("avr: protocol error")

	// ErrNotConnected is returned when no transport is connected.
	ErrNotConnected = errors.New("avr: not connected")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("avr: session closed")

	// ErrDeviceNotFound is returned by the registry for unknown device IDs.
	ErrDeviceNotFound = errors.New("avr: device not found")

	// ErrDeviceExists is returned when adding a device ID twice.
	ErrDeviceExists = errors.New("avr: device already exists")
)

// ErrQueueFull is returned when the command queue cannot take more work.
var ErrQueueFull = errors.New("avr: command queue full")
