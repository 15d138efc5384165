// Package broker stores the MQTT server profiles the gateway can connect to.
//
// A profile is addressed by its unique name; every server-scoped record
// (tasks, triggers, alerts, subscriptions, known devices) references it and
// is removed with it. Three public profiles are seeded into an empty store.
package broker
