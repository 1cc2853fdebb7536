// Package influxdb records receiver telemetry in InfluxDB 2.x.
//
// It wraps influxdb-client-go with a non-blocking, batched write API.
// Points are buffered and flushed per the batch_size and flush_interval
// settings; asynchronous write failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("living-room",
//	    map[string]string{"input": "CD"},
//	    map[string]any{"volume": 44.5, "muted": false})
//
// Measurements:
//   - receiver_state: one point per state change (volume, mute, power)
//   - connection_events: one point per transport transition
//   - device_metrics: single named values
package influxdb
