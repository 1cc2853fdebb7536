// Package mqtt connects avrlink to an MQTT broker.
//
// The broker is the integration surface for home automation systems: the
// receiver bridge subscribes to command topics, publishes acknowledgements
// and retained device state, and reports its own health.
//
//	home automation ↔ MQTT broker ↔ avrlink ↔ receivers
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect, with subscriptions restored after each reconnect
//   - a retained online/offline status and a Last Will for crash detection
//   - payload, topic and QoS validation before publishing
//   - panic recovery around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// Topics follow a flat scheme, avrlink/{category}/{protocol}/{device_id}.
// See Topics for the builders.
package mqtt
