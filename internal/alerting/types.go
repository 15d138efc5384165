package alerting

import "github.com/nerrad567/iotgateway-core/internal/events"

// Operator compares a reading value with a rule threshold.
type Operator string

// Supported operators.
const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
	OpEqual   Operator = "=="
)

// AllDevices is the selector matching every device.
const AllDevices = "*"

// Template tokens substituted into rule messages.
const (
	TokenDeviceName = "{device_name}"
	TokenValue      = "{value}"
)

// DefaultSeverity is used when a rule has no type.
const DefaultSeverity = events.TypeWarning

// Rule is a threshold alert on one metric of a device reading.
//
// DeviceID selects the devices the rule applies to: "*" for every device,
// "id@location" for one device, or a bare id for that id at any location.
type Rule struct {
	ID         int64    `json:"id"`
	ServerName string   `json:"server_name"`
	Name       string   `json:"name"`
	DeviceID   string   `json:"device_id"`
	Metric     string   `json:"metric"`
	Operator   Operator `json:"operator"`
	Value      string   `json:"value"`
	Message    string   `json:"message"`
	Type       string   `json:"type"`
	Enabled    bool     `json:"enabled"`
}

// Selects reports whether the rule's selector covers the device.
func (r *Rule) Selects(deviceID, location string) bool {
	switch r.DeviceID {
	case AllDevices, deviceID, deviceID + "@" + location:
		return true
	}
	return false
}
