// Package device tracks the presence of gateway-managed devices.
//
// Devices publish into the iot/ namespace and are addressed by the
// composite key "id@location"; two devices with the same id at different
// locations are distinct.
//
// # Architecture
//
//	   iot/pong/+/+   iot/status/+/+   iot/config/+/+
//	          │              │                 │
//	          └──────────────┼─────────────────┘
//	                         ▼
//	              ┌─────────────────────┐      ┌──────────────────┐
//	              │ Tracker.Register    │─────▶│ Repository       │
//	              │ (known devices)     │      │ (devices table)  │
//	              └──────────┬──────────┘      └──────────────────┘
//	                         ▼
//	              ┌─────────────────────┐
//	              │ Gate.IsAllowed      │  allow-list check
//	              └──────────┬──────────┘
//	                         ▼
//	              ┌─────────────────────┐      devices_update
//	              │ Tracker.Handle*     │─────▶ device_config_update
//	              │ PingCycle           │      presence events, sensor data
//	              └─────────────────────┘
//
// # Presence
//
// Every pong, status or config report is a liveness message: the device
// goes online, its missed-ping count resets and last_seen moves to now.
// An offline to online transition records a "connected" event.
//
// PingCycle runs every refresh_interval seconds while the session is
// connected. It increments every device's missed count, takes devices past
// max_missed_pings offline with a "disconnected" event, broadcasts the map
// and publishes a PING probe. A device that reports {"status":"offline"}
// goes offline immediately.
//
// # Thread Safety
//
// Tracker and Gate are safe for concurrent use. Broker callbacks, the ping
// loop and admin requests all call into the same Tracker.
package device
