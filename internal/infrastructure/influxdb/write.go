package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReceiverState    = "receiver_state"
	MeasurementConnectionEvents = "connection_events"
	MeasurementDeviceMetrics    = "device_metrics"
)

// WriteDeviceState records one receiver state observation. tags should be
// low cardinality (input, sound mode); device_id is added.
func (c *Client) WriteDeviceState(deviceID string, tags map[string]string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	all["device_id"] = deviceID
	c.WritePoint(MeasurementReceiverState, all, fields)
}

// WriteConnectionEvent records a transport transition.
func (c *Client) WriteConnectionEvent(deviceID, transport, from, to, errMsg string, at time.Time) {
	fields := map[string]any{"from": from, "count": 1}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	c.WritePointWithTime(MeasurementConnectionEvents,
		map[string]string{
			"device_id": deviceID,
			"transport": transport,
			"state":     to,
		},
		fields, at)
}

// WriteDeviceMetric records a single named value for a device.
//
//	client.WriteDeviceMetric("living-room", "commands_sent", 1)
func (c *Client) WriteDeviceMetric(deviceID, measurement string, value float64) {
	c.WritePoint(MeasurementDeviceMetrics,
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]any{"value": value})
}

// WritePoint writes a point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
