package device

import "time"

// Logger defines the logging interface used by the tracker and gate.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the broker handle probes and commands go out on.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Settings provides integer runtime settings.
type Settings interface {
	Int(key string, def int) int
}

// SensorSink receives sensor samples and presence transitions for
// time-series storage. *influxdb.Client satisfies it.
type SensorSink interface {
	WriteSensorReading(deviceID, location string, values map[string]*float64, ts time.Time)
	WritePresence(deviceID, location string, online bool, latencyMs float64, ts time.Time)
}

// AlertChecker evaluates alert rules against a device reading.
type AlertChecker interface {
	Check(deviceID, location string, reading map[string]any)
}

// DeviceSet is the part of the tracker the gate keeps in step with the
// allow-list.
type DeviceSet interface {
	Preload(deviceID, location, name string)
	Remove(deviceID, location string)
}
