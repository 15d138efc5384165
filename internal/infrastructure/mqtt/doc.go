// Package mqtt provides MQTT client connectivity for the IoT gateway.
//
// This package manages:
//   - Connection to a broker selected from a server profile, with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - The iot/ device topic namespace and its command payloads
//
// # Architecture
//
// Devices talk to the gateway only through the broker:
//
//	Devices ↔ MQTT Broker ↔ Gateway session
//
// The session uses a clean broker session and re-subscribes every filter
// from its OnConnect callback, so the client does not replay subscriptions
// itself.
//
// # Usage
//
//	client := mqtt.NewClient(cfg)
//	client.SetOnConnect(session.HandleConnect)
//	client.SetOnDisconnect(session.HandleConnectionLost)
//	if err := client.Start(); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(mqtt.Topics{}.PingAll(), mqtt.PingPayload(time.Now()), 1, false)
package mqtt
