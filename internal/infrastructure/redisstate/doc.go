// Package redisstate mirrors the gateway's latest broadcast snapshots into
// Redis so dashboards and sidecar services can read device state without
// holding a WebSocket open.
//
// The Mirror implements the same Broadcast(event, payload) contract as the
// WebSocket hub and is attached to the event fan-out. Only snapshot events
// are mirrored (device map, known devices, broker status, task/trigger/alert
// lists); transient notifications are ignored. Each snapshot is stored as
// JSON under "<prefix>:<event>" with the configured TTL, so a stopped
// gateway's state ages out on its own.
//
// Broadcast never blocks: snapshots are queued to a bounded buffer and
// written by Run. When the buffer is full the snapshot is dropped; the
// next broadcast of the same event supersedes it anyway.
package redisstate
