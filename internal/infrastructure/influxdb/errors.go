package influxdb

import "errors"

// Errors returned by the client. Write failures are asynchronous and go to
// the SetOnError callback instead.
var (
	// ErrNotConnected indicates the client was closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates InfluxDB is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
