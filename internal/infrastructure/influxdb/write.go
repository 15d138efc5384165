package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	measurementSensor   = "sensor_reading"
	measurementPresence = "device_presence"
)

// WriteSensorReading records the sensor block of a device status report.
//
// Only the non-nil fields are written; a reading with no fields is dropped.
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	t := 21.5
//	client.WriteSensorReading("esp32-01", "kitchen", map[string]*float64{"temp_c": &t}, time.Now())
func (c *Client) WriteSensorReading(deviceID, location string, values map[string]*float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(values))
	for name, v := range values {
		if v != nil {
			fields[name] = *v
		}
	}
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurementSensor, deviceTags(deviceID, location), fields, ts))
}

// WritePresence records a presence transition with the last measured
// latency in milliseconds (-1 when unknown).
func (c *Client) WritePresence(deviceID, location string, online bool, latencyMs float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if online {
		state = 1
	}

	point := write.NewPoint(
		measurementPresence,
		deviceTags(deviceID, location),
		map[string]interface{}{
			"online":     state,
			"latency_ms": latencyMs,
		},
		ts,
	)
	c.writeAPI.WritePoint(point)
}

func deviceTags(deviceID, location string) map[string]string {
	return map[string]string{
		"device_id": deviceID,
		"location":  location,
	}
}
