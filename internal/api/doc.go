// Package api implements the HTTP REST API and WebSocket server for avrlink.
//
// This package provides:
//   - REST endpoints for receiver CRUD, state reads and commands
//   - The command table per manufacturer
//   - WebSocket hub for real-time state and connection broadcasts
//   - Scene CRUD, activation and execution history
//   - A read-only audit trail of API changes
//   - Prometheus scrape endpoint and a JSON system summary
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits between user interfaces and the avr engine. Commands go
// straight to the engine's registry; stored device changes go through the
// device catalog so the database and the live sessions stay in step. Engine
// events are relayed to WebSocket clients subscribed to
// "device.state_changed" or "device.connection_changed".
//
// # Graceful Degradation
//
// MQTT and metrics are optional. Without them the health endpoint reports
// MQTT as disabled and /metrics answers 404. The /scenes and /audit routes
// are mounted only when their dependencies are supplied.
package api
