package avr

// Observer receives engine telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CommandSent(deviceID, command string)
	CommandCoalesced(deviceID, command string)
	CommandFailed(deviceID, command string, err error)
	ConnectionChanged(ev ConnectionEvent)
	EventsReceived(deviceID string, n int)
}

type nopObserver struct{}

func (nopObserver) CommandSent(string, string)          {}
func (nopObserver) CommandCoalesced(string, string)     {}
func (nopObserver) CommandFailed(string, string, error) {}
func (nopObserver) ConnectionChanged(ConnectionEvent)   {}
func (nopObserver) EventsReceived(string, int)          {}
