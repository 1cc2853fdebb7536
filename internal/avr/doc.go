// Package avr implements the connection and state-synchronisation engine for
// Denon and Marantz audio/video receivers.
//
// A receiver is controlled through its line-based control protocol, carried
// over one or two transports:
//
//	┌──────────────┐  HTTP GET  /goform/formiPhoneAppDirect.xml?<cmd>  ┌──────────┐
//	│              │ ─────────────────────────────────────────────────► │          │
//	│   Session    │                                                   │   AVR    │
//	│              │ ◄───────────── telnet :23, CR lines ─────────────► │          │
//	└──────────────┘                                                   └──────────┘
//
// # Components
//
//   - Table: static command table, resolved once per manufacturer
//   - RequestClient / StreamClient: the two Transport implementations
//   - Controller: per-transport reconnection state machine with backoff
//   - Reconciler: single writer of DeviceState, emits coalesced changes
//   - Dispatcher: validation, per-command throttling and a FIFO send queue
//   - Session: one receiver, composed of the above
//   - Registry: all sessions, keyed by device ID
//
// # Connection Modes
//
//   - ModeHTTP: commands over HTTP, state from periodic polling
//   - ModeTelnet: commands and live events over one telnet socket
//   - ModeHybrid: commands over HTTP, live events over telnet, plus polling
//
// # Thread Safety
//
// All exported methods on Session, Registry, Reconciler and Dispatcher are
// safe for concurrent use. DeviceState values handed out are copies.
package avr
