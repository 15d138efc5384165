// Package gateway owns the broker session of the IoT gateway.
//
// A Session connects to one server profile at a time and wires the
// connection into the engines:
//
//	┌──────────────┐  on_message   ┌────────────┐
//	│ mqtt.Client  │──────────────▶│   route    │
//	└──────────────┘               └─────┬──────┘
//	                                     │
//	        ┌────────────────┬───────────┼──────────────┐
//	        ▼                ▼           ▼              ▼
//	  Correlator      Tracker + Gate   History     TriggerEngine
//	  (responses)     (device topics)  (gated)     (other topics)
//
// On connect the session subscribes the device channels and the stored
// user filters, loads the selected server's tasks, triggers and alert
// rules, probes every device and starts the presence loop. On disconnect
// all of that is cleared again and devices are marked offline.
//
// The history gate admits an entry when its title is a gateway pseudo-topic
// (SYSTEM, ERROR), when the topic matches a subscribed filter, or when the
// caller forces it. Every admitted entry is broadcast as history_update.
//
// Retention prunes old sensor readings and device events once a day.
package gateway
