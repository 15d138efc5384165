package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topic namespace used by gateway-managed devices.
//
//	iot/status/{device_id}/{location}   device → gateway, status report
//	iot/pong/{device_id}/{location}     device → gateway, ping reply
//	iot/config/{device_id}/{location}   device → gateway, config report
//	iot/ping/all                        gateway → devices, liveness probe
//	iot/cmd/{device_id}/{location}      gateway → device, command
//	iot/cmd/all/all                     gateway → devices, broadcast command
const (
	// TopicPrefix is the root of the device namespace.
	TopicPrefix = "iot"

	// broadcastSegment addresses every device in ping/cmd topics.
	broadcastSegment = "all"
)

// DeviceChannel identifies which device → gateway channel a topic belongs to.
type DeviceChannel string

// Device → gateway channels.
const (
	ChannelStatus DeviceChannel = "status"
	ChannelPong   DeviceChannel = "pong"
	ChannelConfig DeviceChannel = "config"
)

// Device commands understood by the firmware.
const (
	CmdPing      = "PING"
	CmdPong      = "PONG"
	CmdStatus    = "STATUS"
	CmdGetConfig = "GET_CONFIG"
	CmdReboot    = "REBOOT"
)

// Topics provides builders for the gateway MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Command("sensor01", "kitchen")
//	// Returns: "iot/cmd/sensor01/kitchen"
type Topics struct{}

// StatusFilter matches every device status report.
func (Topics) StatusFilter() string {
	return fmt.Sprintf("%s/%s/+/+", TopicPrefix, ChannelStatus)
}

// PongFilter matches every device ping reply.
func (Topics) PongFilter() string {
	return fmt.Sprintf("%s/%s/+/+", TopicPrefix, ChannelPong)
}

// ConfigFilter matches every device config report.
func (Topics) ConfigFilter() string {
	return fmt.Sprintf("%s/%s/+/+", TopicPrefix, ChannelConfig)
}

// DeviceFilters returns the three device channel filters in subscribe order.
func (t Topics) DeviceFilters() []string {
	return []string{t.StatusFilter(), t.PongFilter(), t.ConfigFilter()}
}

// PingAll is the broadcast liveness probe topic.
func (Topics) PingAll() string {
	return fmt.Sprintf("%s/ping/%s", TopicPrefix, broadcastSegment)
}

// CommandAll is the broadcast command topic.
func (Topics) CommandAll() string {
	return fmt.Sprintf("%s/cmd/%s/%s", TopicPrefix, broadcastSegment, broadcastSegment)
}

// Command returns the command topic of one device.
func (Topics) Command(deviceID, location string) string {
	return fmt.Sprintf("%s/cmd/%s/%s", TopicPrefix, deviceID, location)
}

// DeviceTopic is a parsed device → gateway topic.
type DeviceTopic struct {
	Channel  DeviceChannel
	DeviceID string
	Location string
}

// ParseDeviceTopic recognises iot/{status|pong|config}/{id}/{location}.
// Extra trailing segments are tolerated; fewer than four segments are not.
func ParseDeviceTopic(topic string) (DeviceTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != TopicPrefix {
		return DeviceTopic{}, false
	}

	channel := DeviceChannel(parts[1])
	switch channel {
	case ChannelStatus, ChannelPong, ChannelConfig:
	default:
		return DeviceTopic{}, false
	}

	if parts[2] == "" || parts[3] == "" {
		return DeviceTopic{}, false
	}

	return DeviceTopic{Channel: channel, DeviceID: parts[2], Location: parts[3]}, true
}

// CommandPayload renders {"cmd":"<cmd>"}.
func CommandPayload(cmd string) []byte {
	data, _ := json.Marshal(map[string]string{"cmd": cmd}) //nolint:errcheck // map of strings cannot fail
	return data
}

// PingPayload renders {"cmd":"PING","time":<unix seconds>}.
// Devices echo the time back in their PONG so latency can be computed.
func PingPayload(now time.Time) []byte {
	data, _ := json.Marshal(struct { //nolint:errcheck // fixed struct cannot fail
		Cmd  string `json:"cmd"`
		Time int64  `json:"time"`
	}{Cmd: CmdPing, Time: now.Unix()})
	return data
}
