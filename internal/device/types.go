package device

import (
	"strings"
	"time"
)

// Status is a device's presence state.
type Status string

// Presence states.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Placeholder values for metadata a status report leaves out.
const (
	UnknownIP       = "N/A"
	UnknownFirmware = "Unknown"
	UnknownMAC      = "N/A"
)

// Key returns the composite key "id@location" addressing a device.
func Key(deviceID, location string) string {
	return deviceID + "@" + location
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (deviceID, location string, ok bool) {
	i := strings.LastIndex(key, "@")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// Device is the runtime presence record of one device.
type Device struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Location    string     `json:"location"`
	Status      Status     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	MissedPings int        `json:"missed_pings"`
	Latency     *float64   `json:"latency,omitempty"` // ms, -1 when the probe carried no time

	IP         string  `json:"ip,omitempty"`
	Uptime     float64 `json:"uptime,omitempty"`
	Firmware   string  `json:"firmware,omitempty"`
	MAC        string  `json:"mac,omitempty"`
	Heap       float64 `json:"heap,omitempty"`
	ChipID     string  `json:"chip_id,omitempty"`
	SensorType string  `json:"sensor_type,omitempty"`

	TempC  *float64 `json:"temp_c,omitempty"`
	TempH  *float64 `json:"temp_h,omitempty"`
	TempST *float64 `json:"temp_st,omitempty"`
}

// Reading flattens the device into the field map alert rules evaluate.
func (d *Device) Reading() map[string]any {
	r := map[string]any{
		"id":           d.ID,
		"name":         d.Name,
		"location":     d.Location,
		"status":       string(d.Status),
		"missed_pings": d.MissedPings,
		"ip":           d.IP,
		"uptime":       d.Uptime,
		"firmware":     d.Firmware,
		"mac":          d.MAC,
		"heap":         d.Heap,
	}
	if d.Latency != nil {
		r["latency"] = *d.Latency
	}
	if d.ChipID != "" {
		r["chip_id"] = d.ChipID
	}
	if d.TempC != nil {
		r["temp_c"] = *d.TempC
	}
	if d.TempH != nil {
		r["temp_h"] = *d.TempH
	}
	if d.TempST != nil {
		r["temp_st"] = *d.TempST
	}
	return r
}

// KnownDevice is the persisted registration record of a device.
type KnownDevice struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Alias     string    `json:"alias,omitempty"`
	Server    string    `json:"server"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the alias if set, else the registered name.
func (k *KnownDevice) DisplayName() string {
	if k.Alias != "" {
		return k.Alias
	}
	return k.Name
}

// WhitelistEntry is one allow-list row, joined with the registered name
// when the device is known.
type WhitelistEntry struct {
	Server   string `json:"server"`
	DeviceID string `json:"device_id"`
	Location string `json:"location"`
	Name     string `json:"name,omitempty"`
}

// SensorReading is one persisted sensor sample from a status report.
type SensorReading struct {
	DeviceID  string    `json:"device_id"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	TempC     *float64  `json:"temp_c,omitempty"`
	TempH     *float64  `json:"temp_h,omitempty"`
	TempST    *float64  `json:"temp_st,omitempty"`
}

// Empty reports whether the reading carries no values.
func (s SensorReading) Empty() bool {
	return s.TempC == nil && s.TempH == nil && s.TempST == nil
}

// Values returns the non-nil measurements keyed by field name.
func (s SensorReading) Values() map[string]*float64 {
	out := make(map[string]*float64, 3)
	for name, v := range map[string]*float64{"temp_c": s.TempC, "temp_h": s.TempH, "temp_st": s.TempST} {
		if v != nil {
			out[name] = v
		}
	}
	return out
}

// Detail is the device detail view: registration, allow-list membership
// and recent presence events.
type Detail struct {
	Known       KnownDevice `json:"device"`
	Whitelisted bool        `json:"whitelisted"`
	Events      []Event     `json:"events"`
}
