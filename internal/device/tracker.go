package device

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/settings"
)

// Presence cycle defaults, used when the settings are unset or invalid.
const (
	DefaultRefreshInterval = 30 // seconds
	DefaultMaxMissedPings  = 2

	defaultStartDelay       = 5 * time.Second
	defaultRebroadcastDelay = 3 * time.Second
)

// ConfigInfo is the config block of a device_config_update event.
type ConfigInfo struct {
	Firmware string  `json:"firmware"`
	MAC      string  `json:"mac"`
	Heap     float64 `json:"heap"`
	ChipID   string  `json:"chip_id"`
	Sensor   any     `json:"sensor"`
	IP       string  `json:"ip"`
	Uptime   float64 `json:"uptime"`
}

// ConfigUpdate is the payload of a device_config_update event.
type ConfigUpdate struct {
	DeviceID string     `json:"device_id"`
	Location string     `json:"location"`
	Config   ConfigInfo `json:"config"`
}

// Tracker owns the runtime device map of the active server.
//
// It consumes pong, status and config reports, runs the missed-ping cycle
// and broadcasts devices_update snapshots. The device map is guarded by a
// single mutex that is never held across a store, broker or broadcast call.
type Tracker struct {
	repo     Repository
	events   EventRepository
	pub      Publisher
	hub      events.Broadcaster
	sink     SensorSink
	alerts   AlertChecker
	settings Settings
	logger   Logger
	now      func() time.Time

	startDelay       time.Duration
	rebroadcastDelay time.Duration

	mu         sync.Mutex
	server     string
	devices    map[string]*Device
	registered map[string]string // key → display name of known devices
}

// NewTracker creates a presence tracker.
//
// Parameters:
//   - repo: Known-device and sensor-data storage
//   - evts: Presence event log (may be nil)
//   - pub: Broker handle for probes and commands
//   - hub: Broadcast channel for device snapshots
//   - cfg: Runtime settings (refresh_interval, max_missed_pings)
func NewTracker(repo Repository, evts EventRepository, pub Publisher, hub events.Broadcaster, cfg Settings) *Tracker {
	if hub == nil {
		hub = events.Discard{}
	}
	return &Tracker{
		repo:             repo,
		events:           evts,
		pub:              pub,
		hub:              hub,
		settings:         cfg,
		logger:           noopLogger{},
		now:              time.Now,
		startDelay:       defaultStartDelay,
		rebroadcastDelay: defaultRebroadcastDelay,
		devices:          make(map[string]*Device),
		registered:       make(map[string]string),
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetSensorSink attaches a time-series sink for readings and presence.
func (t *Tracker) SetSensorSink(sink SensorSink) {
	t.sink = sink
}

// SetAlertChecker attaches the alert engine run after every status report.
func (t *Tracker) SetAlertChecker(checker AlertChecker) {
	t.alerts = checker
}

// ─── Session Lifecycle ─────────────────────────────────────────────────────

// Reset clears the device map for a new session and pre-loads the
// allow-listed devices as offline.
func (t *Tracker) Reset(server string, whitelist []WhitelistEntry) {
	t.mu.Lock()
	t.server = server
	t.devices = make(map[string]*Device, len(whitelist))
	t.registered = make(map[string]string)
	for _, entry := range whitelist {
		name := entry.DeviceID
		if entry.Name != "" {
			name = entry.Name
			t.registered[Key(entry.DeviceID, entry.Location)] = entry.Name
		}
		t.devices[Key(entry.DeviceID, entry.Location)] = &Device{
			ID:       entry.DeviceID,
			Name:     name,
			Location: entry.Location,
			Status:   StatusOffline,
		}
	}
	t.mu.Unlock()

	t.logger.Info("device map reset", "server", server, "preloaded", len(whitelist))
}

// MarkAllOffline sets every device offline with a zero missed count and
// broadcasts the map.
func (t *Tracker) MarkAllOffline() {
	t.mu.Lock()
	for _, d := range t.devices {
		d.Status = StatusOffline
		d.MissedPings = 0
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
}

// Preload adds an offline device if the key is not tracked yet.
func (t *Tracker) Preload(deviceID, location, name string) {
	key := Key(deviceID, location)

	t.mu.Lock()
	if _, ok := t.devices[key]; !ok {
		if name == "" {
			name = deviceID
		}
		t.devices[key] = &Device{ID: deviceID, Name: name, Location: location, Status: StatusOffline}
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
}

// Remove deletes a device from the map.
func (t *Tracker) Remove(deviceID, location string) {
	t.mu.Lock()
	delete(t.devices, Key(deviceID, location))
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
}

// Server returns the server the map belongs to.
func (t *Tracker) Server() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.server
}

// Snapshot returns a copy of the device map keyed by composite key.
func (t *Tracker) Snapshot() map[string]Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Get returns a copy of one device.
func (t *Tracker) Get(deviceID, location string) (Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[Key(deviceID, location)]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ─── Registration ──────────────────────────────────────────────────────────

// Register records a device as known the first time its key is seen and
// returns its display name. Later calls are answered from memory.
// A newly created record broadcasts known_devices_update.
func (t *Tracker) Register(ctx context.Context, deviceID, location string) string {
	key := Key(deviceID, location)

	t.mu.Lock()
	display, ok := t.registered[key]
	server := t.server
	t.mu.Unlock()
	if ok {
		return display
	}

	known, created, err := t.repo.EnsureKnown(ctx, server, deviceID, deviceID, location)
	if err != nil {
		t.logger.Error("registering device failed", "device", key, "server", server, "error", err)
		return deviceID
	}
	display = known.DisplayName()

	t.mu.Lock()
	t.registered[key] = display
	t.mu.Unlock()

	if created {
		t.logger.Info("new device registered", "device", key, "server", server)
		t.broadcastKnown(ctx, server)
	}
	return display
}

// SetAlias stores a display alias for a known device and renames it in
// the map. An empty alias reverts to the registered name.
func (t *Tracker) SetAlias(ctx context.Context, deviceID, location, alias string) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}
	server := t.Server()
	if err := t.repo.SetAlias(ctx, server, deviceID, location, alias); err != nil {
		return err
	}
	known, err := t.repo.GetKnown(ctx, server, deviceID, location)
	if err != nil {
		return err
	}

	key := Key(deviceID, location)
	t.mu.Lock()
	t.registered[key] = known.DisplayName()
	if d, ok := t.devices[key]; ok {
		d.Name = known.DisplayName()
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
	t.broadcastKnown(ctx, server)
	return nil
}

func (t *Tracker) broadcastKnown(ctx context.Context, server string) {
	known, err := t.repo.ListKnown(ctx, server)
	if err != nil {
		t.logger.Error("listing known devices failed", "server", server, "error", err)
		return
	}
	t.hub.Broadcast(events.KnownDevicesUpdate, known)
}

// ─── Inbound Reports ───────────────────────────────────────────────────────

// HandlePong processes a ping reply {"cmd":"PONG","time":t}. Replies for
// any other command are ignored.
func (t *Tracker) HandlePong(ctx context.Context, deviceID, location string, payload []byte) error {
	var pong struct {
		Cmd  string  `json:"cmd"`
		Time float64 `json:"time"`
	}
	if err := json.Unmarshal(payload, &pong); err != nil {
		return fmt.Errorf("parsing pong: %w", err)
	}
	if pong.Cmd != mqtt.CmdPong {
		return nil
	}

	now := t.now()
	latency := -1.0
	if pong.Time > 0 {
		latency = roundLatency(float64(now.UnixNano())/1e6 - pong.Time*1000)
	}

	display := t.Register(ctx, deviceID, location)

	t.mu.Lock()
	d := t.ensureLocked(deviceID, location)
	wasOffline := d.Status == StatusOffline
	d.Name = display
	d.Location = location
	d.Latency = &latency
	markLive(d, now)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
	if wasOffline {
		t.recordEvent(ctx, deviceID, location, EventConnected, latencyDetail(&latency), now)
	}
	t.writePresence(deviceID, location, true, latency, now)
	return nil
}

// HandleStatus processes a status report. {"status":"offline"} takes the
// device offline immediately; any other report is a liveness message that
// refreshes the device metadata and sensor values.
func (t *Tracker) HandleStatus(ctx context.Context, deviceID, location string, payload []byte) error {
	var report map[string]any
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("parsing status report: %w", err)
	}
	now := t.now()

	if status, _ := report["status"].(string); status == string(StatusOffline) {
		t.mu.Lock()
		d := t.ensureLocked(deviceID, location)
		d.Status = StatusOffline
		d.MissedPings = 0
		d.LastSeen = &now
		snap := t.snapshotLocked()
		t.mu.Unlock()

		t.logger.Info("device reported offline", "device", Key(deviceID, location))
		t.hub.Broadcast(events.DevicesUpdate, snap)
		t.recordEvent(ctx, deviceID, location, EventDisconnected, "status report offline", now)
		t.writePresence(deviceID, location, false, 0, now)
		t.checkAlerts(deviceID, location, map[string]any{"status": string(StatusOffline)})
		return nil
	}

	name := t.Register(ctx, deviceID, location)
	reading := SensorReading{
		DeviceID:  deviceID,
		Location:  location,
		Timestamp: now,
		TempC:     numberPtr(report, "temp_c"),
		TempH:     numberPtr(report, "temp_h"),
		TempST:    numberPtr(report, "temp_st"),
	}

	t.mu.Lock()
	d := t.ensureLocked(deviceID, location)
	wasOffline := d.Status == StatusOffline
	d.Name = name
	d.Location = stringOr(report, "location", location)
	d.IP = stringOr(report, "ip", UnknownIP)
	d.Uptime = numberOr(report, "uptime", 0)
	d.Firmware = stringOr(report, "firmware", UnknownFirmware)
	d.MAC = stringOr(report, "mac", UnknownMAC)
	d.Heap = numberOr(report, "heap", 0)
	if reading.TempC != nil {
		d.TempC = reading.TempC
	}
	if reading.TempH != nil {
		d.TempH = reading.TempH
	}
	if reading.TempST != nil {
		d.TempST = reading.TempST
	}
	markLive(d, now)
	alertReading := d.Reading()
	lat := d.Latency
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
	if wasOffline {
		t.recordEvent(ctx, deviceID, location, EventConnected, latencyDetail(lat), now)
		t.writePresence(deviceID, location, true, latencyValue(lat), now)
	}

	if !reading.Empty() {
		if err := t.repo.AddSensorReading(ctx, reading); err != nil {
			t.logger.Error("storing sensor reading failed", "device", Key(deviceID, location), "error", err)
		}
		if t.sink != nil {
			t.sink.WriteSensorReading(deviceID, location, reading.Values(), now)
		}
	}

	t.checkAlerts(deviceID, location, alertReading)
	return nil
}

// HandleConfig processes a config report. Only the keys present in the
// report are applied. A "sensor" object carries temperatures, a "sensor"
// string names the sensor type.
func (t *Tracker) HandleConfig(ctx context.Context, deviceID, location string, payload []byte) error {
	var report map[string]any
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("parsing config report: %w", err)
	}
	now := t.now()
	name := t.Register(ctx, deviceID, location)

	t.mu.Lock()
	d := t.ensureLocked(deviceID, location)
	wasOffline := d.Status == StatusOffline
	d.Name = name
	if _, ok := report["firmware"]; ok {
		d.Firmware = stringOr(report, "firmware", UnknownFirmware)
	}
	if _, ok := report["mac"]; ok {
		d.MAC = stringOr(report, "mac", UnknownMAC)
	}
	if _, ok := report["heap"]; ok {
		d.Heap = numberOr(report, "heap", 0)
	}
	if _, ok := report["chip_id"]; ok {
		d.ChipID = stringOr(report, "chip_id", "N/A")
	}
	if _, ok := report["ip"]; ok {
		d.IP = stringOr(report, "ip", UnknownIP)
	}
	if _, ok := report["uptime"]; ok {
		d.Uptime = numberOr(report, "uptime", 0)
	}

	var sensor any = map[string]any{}
	switch s := report["sensor"].(type) {
	case map[string]any:
		if v := numberPtr(s, "temp_c"); v != nil {
			d.TempC = v
		}
		if v := numberPtr(s, "temp_h"); v != nil {
			d.TempH = v
		}
		if v := numberPtr(s, "temp_st"); v != nil {
			d.TempST = v
		}
		sensor = s
	case string:
		d.SensorType = s
		sensor = map[string]any{"type": s}
	}
	markLive(d, now)
	lat := d.Latency
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.hub.Broadcast(events.DevicesUpdate, snap)
	t.hub.Broadcast(events.DeviceConfigUpdate, ConfigUpdate{
		DeviceID: deviceID,
		Location: location,
		Config: ConfigInfo{
			Firmware: stringOr(report, "firmware", UnknownFirmware),
			MAC:      stringOr(report, "mac", UnknownMAC),
			Heap:     numberOr(report, "heap", 0),
			ChipID:   stringOr(report, "chip_id", "N/A"),
			Sensor:   sensor,
			IP:       stringOr(report, "ip", UnknownIP),
			Uptime:   numberOr(report, "uptime", 0),
		},
	})
	if wasOffline {
		t.recordEvent(ctx, deviceID, location, EventConnected, latencyDetail(lat), now)
		t.writePresence(deviceID, location, true, latencyValue(lat), now)
	}
	return nil
}

// ─── Presence Cycle ────────────────────────────────────────────────────────

// PingCycle runs one presence iteration: every device's missed count goes
// up, devices past the threshold go offline once, the map is broadcast and
// a fresh probe is published.
func (t *Tracker) PingCycle(ctx context.Context) error {
	threshold := t.intSetting(settings.KeyMaxMissedPings, DefaultMaxMissedPings)
	now := t.now()

	t.mu.Lock()
	var dropped []*Device
	for _, d := range t.devices {
		d.MissedPings++
		if d.MissedPings > threshold && d.Status == StatusOnline {
			d.Status = StatusOffline
			dev := *d
			dropped = append(dropped, &dev)
		}
	}
	tracked := len(t.devices) > 0
	snap := t.snapshotLocked()
	t.mu.Unlock()

	for _, d := range dropped {
		t.logger.Info("device offline, no response", "device", Key(d.ID, d.Location), "threshold", threshold)
		t.recordEvent(ctx, d.ID, d.Location, EventDisconnected,
			fmt.Sprintf("no response after %d attempts", threshold), now)
		t.writePresence(d.ID, d.Location, false, 0, now)
	}
	if tracked {
		t.hub.Broadcast(events.DevicesUpdate, snap)
	}

	if err := t.pub.Publish(mqtt.Topics{}.PingAll(), mqtt.PingPayload(now), 0, false); err != nil {
		return fmt.Errorf("publishing ping: %w", err)
	}
	return nil
}

// RunPingLoop runs the presence cycle until ctx is cancelled or the broker
// reports disconnected. Cancellation and connection are checked at the top
// of each iteration.
func (t *Tracker) RunPingLoop(ctx context.Context) {
	t.logger.Info("presence loop started")
	defer t.logger.Info("presence loop stopped")

	if !sleepContext(ctx, t.startDelay) {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if !t.pub.IsConnected() {
			t.logger.Warn("presence loop: broker not connected, stopping")
			return
		}

		if err := t.PingCycle(ctx); err != nil {
			t.logger.Warn("presence cycle failed", "error", err)
		}

		interval := t.intSetting(settings.KeyRefreshInterval, DefaultRefreshInterval)
		if !sleepContext(ctx, time.Duration(interval)*time.Second) {
			return
		}
	}
}

// PingAll marks every device offline and asks the whole fleet to report
// back: a PING probe and a STATUS command. The map is broadcast again a
// few seconds later once replies have had time to arrive. The rebroadcast
// outlives ctx and is dropped only if the broker disconnects or the map is
// reset for another server in the meantime.
func (t *Tracker) PingAll(_ context.Context) error {
	if !t.pub.IsConnected() {
		return ErrNotConnected
	}

	t.MarkAllOffline()

	topics := mqtt.Topics{}
	if err := t.pub.Publish(topics.PingAll(), mqtt.PingPayload(t.now()), 0, false); err != nil {
		return fmt.Errorf("publishing ping: %w", err)
	}
	if err := t.pub.Publish(topics.CommandAll(), mqtt.CommandPayload(mqtt.CmdStatus), 0, false); err != nil {
		return fmt.Errorf("publishing status request: %w", err)
	}

	server := t.Server()
	time.AfterFunc(t.rebroadcastDelay, func() {
		if !t.pub.IsConnected() || t.Server() != server {
			return
		}
		t.hub.Broadcast(events.DevicesUpdate, t.Snapshot())
	})
	return nil
}

// SendCommand publishes {"cmd":X} to one device. X is one of STATUS,
// GET_CONFIG or REBOOT, case-insensitive.
func (t *Tracker) SendCommand(deviceID, location, cmd string) error {
	if err := ValidateIdentity(deviceID, location); err != nil {
		return err
	}
	c, err := NormaliseCommand(cmd)
	if err != nil {
		return err
	}
	if !t.pub.IsConnected() {
		return ErrNotConnected
	}

	if err := t.pub.Publish(mqtt.Topics{}.Command(deviceID, location), mqtt.CommandPayload(c), 0, false); err != nil {
		return fmt.Errorf("publishing %s command: %w", c, err)
	}
	t.logger.Info("device command sent", "device", Key(deviceID, location), "cmd", c)
	return nil
}

// ─── Helpers ───────────────────────────────────────────────────────────────

// ensureLocked returns the device for the key, creating an unknown-state
// record if needed. Caller holds t.mu.
func (t *Tracker) ensureLocked(deviceID, location string) *Device {
	key := Key(deviceID, location)
	d, ok := t.devices[key]
	if !ok {
		name := deviceID
		if display, known := t.registered[key]; known {
			name = display
		}
		d = &Device{ID: deviceID, Name: name, Location: location}
		t.devices[key] = d
	}
	return d
}

func (t *Tracker) snapshotLocked() map[string]Device {
	snap := make(map[string]Device, len(t.devices))
	for key, d := range t.devices {
		snap[key] = *d
	}
	return snap
}

func (t *Tracker) recordEvent(ctx context.Context, deviceID, location string, kind EventType, details string, ts time.Time) {
	if t.events == nil {
		return
	}
	err := t.events.AddEvent(ctx, Event{
		DeviceID:  deviceID,
		Location:  location,
		Type:      kind,
		Details:   details,
		Timestamp: ts,
	})
	if err != nil {
		t.logger.Error("recording device event failed", "device", Key(deviceID, location), "event", kind, "error", err)
	}
}

func (t *Tracker) writePresence(deviceID, location string, online bool, latency float64, ts time.Time) {
	if t.sink != nil {
		t.sink.WritePresence(deviceID, location, online, latency, ts)
	}
}

func (t *Tracker) checkAlerts(deviceID, location string, reading map[string]any) {
	if t.alerts != nil {
		t.alerts.Check(deviceID, location, reading)
	}
}

func (t *Tracker) intSetting(key string, def int) int {
	if t.settings == nil {
		return def
	}
	if v := t.settings.Int(key, def); v > 0 {
		return v
	}
	return def
}

// markLive applies the liveness transition.
func markLive(d *Device, now time.Time) {
	d.Status = StatusOnline
	d.MissedPings = 0
	d.LastSeen = &now
}

func roundLatency(ms float64) float64 {
	return math.Round(ms*100) / 100
}

func latencyValue(lat *float64) float64 {
	if lat == nil {
		return -1
	}
	return *lat
}

func latencyDetail(lat *float64) string {
	if lat == nil || *lat < 0 {
		return "Latency: unknown"
	}
	return fmt.Sprintf("Latency: %.2f ms", *lat)
}

// sleepContext waits for d or until ctx is done; it reports whether the
// full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ─── Report Field Coercion ─────────────────────────────────────────────────

func stringOr(report map[string]any, key, def string) string {
	switch v := report[key].(type) {
	case string:
		if v == "" {
			return def
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}

func numberOr(report map[string]any, key string, def float64) float64 {
	if v := numberPtr(report, key); v != nil {
		return *v
	}
	return def
}

func numberPtr(report map[string]any, key string) *float64 {
	var f float64
	switch v := report[key].(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
