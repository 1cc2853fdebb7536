package mqtt

import "fmt"

// Topic prefixes. Bridge topics use the flat scheme
// avrlink/{category}/{protocol}/{device_id}.
const (
	// TopicPrefixBridge is the base for bridge topics.
	TopicPrefixBridge = "avrlink"

	// TopicPrefixCore is the base for canonical device state and events.
	TopicPrefixCore = "avrlink/core"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "avrlink/system"
)

// Topics builds avrlink MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("denon", "living-room")
//	// Returns: "avrlink/state/denon/living-room"
type Topics struct{}

// BridgeState returns the retained state topic of one device.
//
// Example: avrlink/state/denon/living-room
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeCommand returns the topic a device's commands arrive on.
//
// Example: avrlink/command/denon/living-room
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeAck returns the command acknowledgement topic of one device.
//
// Example: avrlink/ack/denon/living-room
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeHealth returns the retained health topic of a bridge.
//
// Example: avrlink/health/denon
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeRequest returns the topic a bridge request arrives on.
//
// Example: avrlink/request/denon/req-123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse returns the topic a bridge answers a request on.
//
// Example: avrlink/response/denon/req-123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// CoreDeviceState returns the canonical device state topic.
//
// Example: avrlink/core/device/living-room/state
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// CoreEvent returns the topic for one kind of service event.
//
// Example: avrlink/core/event/device.connection_changed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the service status topic carrying the online
// payload and the Last Will.
//
// Example: avrlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBridgeCommands matches every device command topic.
//
// Pattern: avrlink/command/+/+
func (Topics) AllBridgeCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefixBridge)
}

// AllBridgeStates matches every device state topic.
//
// Pattern: avrlink/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// AllCoreEvents matches every service event.
//
// Pattern: avrlink/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllTopics matches all avrlink traffic.
//
// Pattern: avrlink/#
func (Topics) AllTopics() string {
	return TopicPrefixBridge + "/#"
}
