// Package device persists the receivers avrlink manages.
//
// A Device is the stored form of one receiver: its identity plus the
// per-device connection settings. The SQLite repository keeps devices and
// an audit trail of connection transitions. Catalog ties the store to the
// live avr.Registry so that devices added at runtime survive restarts.
//
//	┌──────────────┐     ┌──────────────┐     ┌──────────────┐
//	│ config.yaml  │────▶│   Catalog    │────▶│ avr.Registry │
//	│  devices[]   │seed │              │ add │  (sessions)  │
//	└──────────────┘     └──────┬───────┘     └──────────────┘
//	                            │
//	                            ▼
//	                     ┌──────────────┐
//	                     │    SQLite    │
//	                     │  devices,    │
//	                     │  conn events │
//	                     └──────────────┘
//
// Startup order: Catalog.Seed inserts config devices that are not stored
// yet (stored rows win, so API edits are kept), then Catalog.Load registers
// every stored device.
package device
