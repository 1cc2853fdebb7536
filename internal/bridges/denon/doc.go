// Package denon bridges the avr engine to MQTT.
//
// Commands arrive as JSON on avrlink/command/denon/{device_id} and are
// submitted to the avr.Registry; every command is answered on
// avrlink/ack/denon/{device_id}. Device state is published retained on
// avrlink/state/denon/{device_id} whenever the reconciler reports a change
// or a transport changes state, and bridge health is published retained on
// avrlink/health/denon.
//
//	┌─────────────┐   MQTT   ┌──────────────┐          ┌──────────────┐
//	│ entity layer│◄────────►│ denon.Bridge │◄────────►│ avr.Registry │──► receivers
//	└─────────────┘          └──────┬───────┘          └──────────────┘
//	                                │
//	                                ▼
//	                          InfluxDB telemetry
//
// The bridge subscribes to every registered device and follows devices
// added or removed at runtime through the registry's lifecycle events.
// When a device is removed its retained state is cleared.
//
// # Requests
//
// Request/response operations use avrlink/request/denon/{request_id} and
// avrlink/response/denon/{request_id}. Supported actions are read_state,
// refresh, reconnect and list_devices.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package denon
