// Package influxdb provides the optional InfluxDB telemetry sink for the
// IoT gateway.
//
// It wraps the official influxdb-client-go v2 library. Status reports that
// carry a sensor block are written as "sensor_reading" points tagged with
// device_id and location; presence transitions go to "device_presence".
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry sink not configured
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// failures are delivered to the SetOnError callback.
package influxdb
